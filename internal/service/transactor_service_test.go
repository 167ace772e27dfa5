package service

import (
	"context"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"virtual-ledger/internal/account"
	"virtual-ledger/internal/domain"
	"virtual-ledger/internal/errors"
	"virtual-ledger/internal/reminder"
	"virtual-ledger/internal/repository"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// faultyDirectory wraps a directory and makes chosen operations fail.
type faultyDirectory struct {
	domain.AccountDirectory

	mu            sync.Mutex
	failDeposit   map[string]bool
	failSetRate   map[string]bool
	failDelete    map[string]bool
	depositCounts map[string]int
}

func newFaultyDirectory(inner domain.AccountDirectory) *faultyDirectory {
	return &faultyDirectory{
		AccountDirectory: inner,
		failDeposit:      map[string]bool{},
		failSetRate:      map[string]bool{},
		failDelete:       map[string]bool{},
		depositCounts:    map[string]int{},
	}
}

func (d *faultyDirectory) Account(id string) domain.Account {
	return &faultyAccount{Account: d.AccountDirectory.Account(id), dir: d}
}

type faultyAccount struct {
	domain.Account
	dir *faultyDirectory
}

func (a *faultyAccount) Deposit(ctx context.Context, amount decimal.Decimal) (decimal.Decimal, error) {
	a.dir.mu.Lock()
	a.dir.depositCounts[a.ID()]++
	fail := a.dir.failDeposit[a.ID()]
	a.dir.mu.Unlock()
	if fail {
		return decimal.Zero, errors.ErrUnknown.WithDetails("deposit unavailable")
	}
	return a.Account.Deposit(ctx, amount)
}

func (a *faultyAccount) SetInterestRate(ctx context.Context, rate decimal.Decimal) error {
	a.dir.mu.Lock()
	fail := a.dir.failSetRate[a.ID()]
	a.dir.mu.Unlock()
	if fail {
		return errors.ErrUnknown.WithDetails("rate unavailable")
	}
	return a.Account.SetInterestRate(ctx, rate)
}

func (a *faultyAccount) Delete(ctx context.Context) (bool, error) {
	a.dir.mu.Lock()
	fail := a.dir.failDelete[a.ID()]
	a.dir.mu.Unlock()
	if fail {
		return false, errors.ErrUnknown.WithDetails("delete unavailable")
	}
	return a.Account.Delete(ctx)
}

type TransactorSuite struct {
	suite.Suite
	enforceActive bool

	ctx      context.Context
	store    *repository.Store
	accounts *faultyDirectory
	recorder *tracetest.SpanRecorder
	svc      *TransactorService
	ids      []string
}

func (s *TransactorSuite) SetupTest() {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.ctx = context.Background()
	s.store = repository.NewMemoryStore()

	reminders := reminder.NewService(s.store.Reminders(), logger)
	dir := account.NewDirectory(account.Options{
		EnforceActive:   s.enforceActive,
		InterestDueTime: time.Hour,
		InterestPeriod:  time.Hour,
	}, s.store.State(), reminders, logger)
	reminders.SetDispatcher(dir)
	s.accounts = newFaultyDirectory(dir)

	s.recorder = tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(s.recorder))
	s.T().Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	// predictable ids let tests inject faults before the account exists
	s.ids = nil
	next := 0
	s.svc = NewTransactorService(s.accounts, s.enforceActive, logger,
		WithTracerProvider(tp),
		WithIDGenerator(func() string {
			next++
			id := "acc-" + strconv.Itoa(next)
			s.ids = append(s.ids, id)
			return id
		}))
}

func (s *TransactorSuite) create(balance string) string {
	id, err := s.svc.CreateAccount(s.ctx, dec(balance))
	s.Require().NoError(err)
	return id
}

func (s *TransactorSuite) balance(id string) decimal.Decimal {
	b, err := s.svc.GetAccountBalance(s.ctx, id)
	s.Require().NoError(err)
	return b
}

func (s *TransactorSuite) assertBalance(id, want string) {
	got := s.balance(id)
	s.True(got.Equal(dec(want)), "account %s balance %s, want %s", id, got, want)
}

func (s *TransactorSuite) lastTransferOutcome() string {
	spans := s.recorder.Ended()
	for i := len(spans) - 1; i >= 0; i-- {
		if spans[i].Name() != "transactor.Transfer" {
			continue
		}
		for _, attr := range spans[i].Attributes() {
			if attr.Key == "transfer.outcome" {
				return attr.Value.AsString()
			}
		}
	}
	return ""
}

func (s *TransactorSuite) TestCreateAccountThenBalance() {
	id := s.create("100")
	s.assertBalance(id, "100")

	rate, err := s.accounts.Account(id).GetInterestRate(s.ctx)
	s.Require().NoError(err)
	s.True(rate.Equal(dec("0.05")))

	exists, err := s.svc.CheckAccountExists(s.ctx, id)
	s.Require().NoError(err)
	s.True(exists)
}

func (s *TransactorSuite) TestCreateAccountRejectsNegativeBalance() {
	_, err := s.svc.CreateAccount(s.ctx, dec("-5"))
	s.ErrorIs(err, errors.ErrNegativeAmount)

	// the half-created account was cleaned up
	id := s.ids[0]
	if s.enforceActive {
		exists, err := s.svc.CheckAccountExists(s.ctx, id)
		s.Require().NoError(err)
		s.False(exists)
	}
	_, found, err := s.store.State().Get(s.ctx, id, domain.AccountStateName)
	s.Require().NoError(err)
	s.False(found)
}

func (s *TransactorSuite) TestCreateAccountSurfacesOriginalErrorWhenCleanupFails() {
	s.accounts.failSetRate["acc-1"] = true
	s.accounts.failDelete["acc-1"] = true

	_, err := s.svc.CreateAccount(s.ctx, dec("100"))
	s.Require().Error(err)
	s.Contains(err.Error(), "rate unavailable")
	s.NotContains(err.Error(), "delete unavailable")
}

func (s *TransactorSuite) TestTransfer() {
	a := s.create("100")
	b := s.create("100")

	s.True(s.svc.Transfer(s.ctx, a, b, dec("60")))
	s.Equal(OutcomeCompleted, s.lastTransferOutcome())
	s.assertBalance(a, "40")
	s.assertBalance(b, "160")

	// repeating fails the withdraw leg and changes nothing
	s.False(s.svc.Transfer(s.ctx, a, b, dec("60")))
	s.Equal(OutcomeWithdrawFailed, s.lastTransferOutcome())
	s.assertBalance(a, "40")
	s.assertBalance(b, "160")
}

func (s *TransactorSuite) TestTransferRejectsNegativeAmount() {
	a := s.create("100")
	b := s.create("100")

	s.False(s.svc.Transfer(s.ctx, a, b, dec("-10")))
	s.assertBalance(a, "100")
	s.assertBalance(b, "100")
}

func (s *TransactorSuite) TestTransferRollsBackFailedDeposit() {
	a := s.create("100")
	b := s.create("100")
	s.accounts.failDeposit[b] = true

	s.False(s.svc.Transfer(s.ctx, a, b, dec("30")))
	s.Equal(OutcomeRolledBack, s.lastTransferOutcome())
	s.assertBalance(a, "100")
	s.assertBalance(b, "100")
}

// The compensating deposit is not retried. When it fails the withdrawn
// amount is lost from both accounts and Transfer still only reports false.
func (s *TransactorSuite) TestTransferLeavesFundsStuckWhenRollbackFails() {
	a := s.create("100")
	b := s.create("100")
	s.accounts.failDeposit[a] = true
	s.accounts.failDeposit[b] = true
	before := s.accounts.depositCounts[a]

	s.False(s.svc.Transfer(s.ctx, a, b, dec("30")))
	s.Equal(OutcomeStuck, s.lastTransferOutcome())
	s.Equal(before+1, s.accounts.depositCounts[a], "compensation is attempted exactly once")

	s.assertBalance(a, "70")
	s.assertBalance(b, "100")
}

func (s *TransactorSuite) TestDeleteAccount() {
	id := s.create("100")

	existed, err := s.svc.DeleteAccount(s.ctx, id)
	s.Require().NoError(err)
	s.True(existed)

	if s.enforceActive {
		_, err := s.svc.GetAccountBalance(s.ctx, id)
		s.ErrorIs(err, errors.ErrInactiveAccount)

		existed, err = s.svc.DeleteAccount(s.ctx, id)
		s.Require().NoError(err)
		s.False(existed)
	} else {
		s.assertBalance(id, "0")

		existed, err = s.svc.DeleteAccount(s.ctx, id)
		s.Require().NoError(err)
		s.True(existed, "without the flag a second delete still reports true")
	}
}

func (s *TransactorSuite) TestUnknownAccount() {
	if s.enforceActive {
		_, err := s.svc.GetAccountBalance(s.ctx, "nonexistent")
		s.ErrorIs(err, errors.ErrInactiveAccount)

		exists, err := s.svc.CheckAccountExists(s.ctx, "nonexistent")
		s.Require().NoError(err)
		s.False(exists)
	} else {
		s.assertBalance("nonexistent", "0")

		exists, err := s.svc.CheckAccountExists(s.ctx, "nonexistent")
		s.Require().NoError(err)
		s.True(exists)
	}
}

// A mistyped destination silently opens a new account when the active flag
// is not enforced.
func (s *TransactorSuite) TestTransferToUnknownAccount() {
	a := s.create("100")

	ok := s.svc.Transfer(s.ctx, a, "nonexistent", dec("10"))
	if s.enforceActive {
		s.False(ok)
		s.Equal(OutcomeRolledBack, s.lastTransferOutcome())
		s.assertBalance(a, "100")
	} else {
		s.True(ok)
		s.assertBalance(a, "90")
		s.assertBalance("nonexistent", "10")
	}
}

func (s *TransactorSuite) TestConcurrentOppositeTransfersConserveFunds() {
	a := s.create("1000")
	b := s.create("1000")

	const n = 200
	var wg sync.WaitGroup
	wg.Add(2 * n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			s.svc.Transfer(s.ctx, a, b, dec("7"))
		}()
		go func() {
			defer wg.Done()
			s.svc.Transfer(s.ctx, b, a, dec("5"))
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(30 * time.Second):
		s.FailNow("opposite-direction transfers deadlocked")
	}

	balA := s.balance(a)
	balB := s.balance(b)
	s.False(balA.IsNegative())
	s.False(balB.IsNegative())
	s.True(balA.Add(balB).Equal(dec("2000")), "total %s", balA.Add(balB))
}

func TestTransactorWithActiveFlag(t *testing.T) {
	suite.Run(t, &TransactorSuite{enforceActive: true})
}

func TestTransactorWithImplicitActivation(t *testing.T) {
	suite.Run(t, &TransactorSuite{enforceActive: false})
}

func TestCreateAccountUsesRandomIDs(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := repository.NewMemoryStore()
	reminders := reminder.NewService(store.Reminders(), logger)
	dir := account.NewDirectory(account.Options{InterestDueTime: time.Hour, InterestPeriod: time.Hour},
		store.State(), reminders, logger)
	svc := NewTransactorService(dir, false, logger)

	a, err := svc.CreateAccount(context.Background(), dec("1"))
	require.NoError(t, err)
	b, err := svc.CreateAccount(context.Background(), dec("1"))
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	assert.Len(t, a, 36)
}

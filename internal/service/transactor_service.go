package service

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"virtual-ledger/internal/domain"
)

const tracerName = "virtual-ledger/service"

// TransactorService coordinates account entities. It holds no mutable state
// and is safe for concurrent use.
type TransactorService struct {
	accounts      domain.AccountDirectory
	enforceActive bool
	logger        *slog.Logger
	tracer        trace.Tracer
	newID         func() string
}

type Option func(*TransactorService)

// WithTracerProvider overrides the global tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *TransactorService) {
		s.tracer = tp.Tracer(tracerName)
	}
}

// WithIDGenerator overrides random account id generation.
func WithIDGenerator(fn func() string) Option {
	return func(s *TransactorService) {
		s.newID = fn
	}
}

func NewTransactorService(accounts domain.AccountDirectory, enforceActive bool, logger *slog.Logger, opts ...Option) *TransactorService {
	s := &TransactorService{
		accounts:      accounts,
		enforceActive: enforceActive,
		logger:        logger,
		tracer:        otel.Tracer(tracerName),
		newID:         uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateAccount opens an account holding initialBalance at the default
// interest rate. Ids are random and not checked for collisions. If any step
// fails the account is deleted on a best-effort basis and the original error
// is returned.
func (s *TransactorService) CreateAccount(ctx context.Context, initialBalance decimal.Decimal) (string, error) {
	accountID := s.newID()
	ctx, span := s.tracer.Start(ctx, "transactor.CreateAccount",
		trace.WithAttributes(attribute.String("account.id", accountID)))
	defer span.End()

	s.logger.Info("Creating account", "account_id", accountID, "initial_balance", initialBalance)

	if err := s.setupAccount(ctx, s.accounts.Account(accountID), initialBalance); err != nil {
		s.logger.Warn("Account creation failed; cleaning up", "account_id", accountID, "error", err)
		if _, cleanupErr := s.DeleteAccount(ctx, accountID); cleanupErr != nil {
			s.logger.Debug("Cleanup after failed creation failed", "account_id", accountID, "error", cleanupErr)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	s.logger.Info("Account created successfully", "account_id", accountID)
	return accountID, nil
}

func (s *TransactorService) setupAccount(ctx context.Context, account domain.Account, initialBalance decimal.Decimal) error {
	if s.enforceActive {
		if err := account.Activate(ctx); err != nil {
			return err
		}
	}
	if _, err := account.Deposit(ctx, initialBalance); err != nil {
		return err
	}
	return account.SetInterestRate(ctx, domain.DefaultInterestRate)
}

// DeleteAccount soft-deletes an account. Without the active flag it always
// reports true, whether or not anything existed.
func (s *TransactorService) DeleteAccount(ctx context.Context, accountID string) (bool, error) {
	ctx, span := s.tracer.Start(ctx, "transactor.DeleteAccount",
		trace.WithAttributes(attribute.String("account.id", accountID)))
	defer span.End()

	existed, err := s.accounts.Account(accountID).Delete(ctx)
	if err != nil {
		s.logger.Error("Failed to delete account", "account_id", accountID, "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, err
	}

	s.logger.Info("Account deleted", "account_id", accountID, "existed", existed)
	return existed, nil
}

// GetAccountBalance returns the balance of accountID. Without the active
// flag an id that was never created reads as zero.
func (s *TransactorService) GetAccountBalance(ctx context.Context, accountID string) (decimal.Decimal, error) {
	ctx, span := s.tracer.Start(ctx, "transactor.GetAccountBalance",
		trace.WithAttributes(attribute.String("account.id", accountID)))
	defer span.End()

	balance, err := s.accounts.Account(accountID).GetBalance(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return decimal.Zero, err
	}
	return balance, nil
}

// CheckAccountExists reports the account's active flag. Without the flag
// every id exists.
func (s *TransactorService) CheckAccountExists(ctx context.Context, accountID string) (bool, error) {
	ctx, span := s.tracer.Start(ctx, "transactor.CheckAccountExists",
		trace.WithAttributes(attribute.String("account.id", accountID)))
	defer span.End()

	return s.accounts.Account(accountID).IsActive(ctx)
}

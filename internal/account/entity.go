// Package account implements the account entity: a single-writer state
// machine over one persisted AccountState record, plus the directory that
// routes calls and reminder deliveries to it through the entity host.
package account

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"virtual-ledger/internal/domain"
	"virtual-ledger/internal/errors"
	"virtual-ledger/internal/reminder"
)

// Options configure every account entity in a directory.
type Options struct {
	// EnforceActive requires Activate before balance operations and makes
	// Delete and IsActive report the real flag. When false any id is
	// implicitly active once touched.
	EnforceActive bool
	// InterestDueTime and InterestPeriod time the interest reminder.
	InterestDueTime time.Duration
	InterestPeriod  time.Duration
}

// Registry is the part of the reminder service an entity uses.
type Registry interface {
	RegisterOrUpdate(ctx context.Context, entityID string, kind reminder.Kind, dueTime, period time.Duration) error
	Get(ctx context.Context, entityID string, kind reminder.Kind) (*domain.Reminder, error)
	Unregister(ctx context.Context, entityID string, kind reminder.Kind) error
}

// Entity owns one account's state. It is not safe for concurrent use; the
// host serializes every call.
type Entity struct {
	id        string
	opts      Options
	store     domain.StateStore
	reminders Registry
	logger    *slog.Logger

	state domain.AccountState
}

func newEntity(id string, opts Options, store domain.StateStore, reminders Registry, logger *slog.Logger) *Entity {
	return &Entity{
		id:        id,
		opts:      opts,
		store:     store,
		reminders: reminders,
		logger:    logger.With("account_id", id),
	}
}

// OnActivate loads persisted state and registers the interest reminder.
func (e *Entity) OnActivate(ctx context.Context) error {
	e.logger.Info("Account activated")

	record, found, err := e.store.Get(ctx, e.id, domain.AccountStateName)
	if err != nil {
		return errors.Wrap(err, "failed to load account state")
	}
	e.state = domain.AccountState{}
	if found {
		if err := json.Unmarshal(record, &e.state); err != nil {
			return errors.NewAppError(errors.Unknown, "failed to decode account state").WithDetails(err.Error())
		}
	}

	if err := e.reminders.RegisterOrUpdate(ctx, e.id, reminder.ComputeInterest, e.opts.InterestDueTime, e.opts.InterestPeriod); err != nil {
		return errors.Wrap(err, "failed to register interest reminder")
	}
	return nil
}

// OnDeactivate unregisters the interest reminder. Failures are swallowed.
func (e *Entity) OnDeactivate(ctx context.Context) {
	if _, err := e.reminders.Get(ctx, e.id, reminder.ComputeInterest); err != nil {
		if !stderrors.Is(err, domain.ErrReminderNotFound) {
			e.logger.Debug("Reminder lookup failed on deactivation", "error", err)
		}
		return
	}
	if err := e.reminders.Unregister(ctx, e.id, reminder.ComputeInterest); err != nil {
		e.logger.Debug("Reminder unregistration failed on deactivation", "error", err)
	}
}

// ReceiveReminder dispatches a fired reminder to its handler.
func (e *Entity) ReceiveReminder(ctx context.Context, kind reminder.Kind) error {
	e.logger.Info("Processing reminder", "reminder", kind)

	switch kind {
	case reminder.ComputeInterest:
		return e.computeInterest(ctx)
	default:
		return errors.NewAppErrorf(errors.Unknown, "unknown reminder: %s", kind)
	}
}

func (e *Entity) computeInterest(ctx context.Context) error {
	if e.opts.EnforceActive && !e.state.Active {
		return nil
	}
	grown := e.state.Balance.Mul(decimal.NewFromInt(1).Add(e.state.InterestRate))
	// a zero balance or rate earns nothing; writing would recreate a cleared record
	if grown.Equal(e.state.Balance) {
		return nil
	}
	return e.mutate(ctx, func(s *domain.AccountState) {
		s.Balance = grown
	})
}

func (e *Entity) Activate(ctx context.Context) error {
	if !e.opts.EnforceActive {
		return nil
	}
	return e.mutate(ctx, func(s *domain.AccountState) {
		s.Active = true
	})
}

func (e *Entity) IsActive() bool {
	if !e.opts.EnforceActive {
		return true
	}
	return e.state.Active
}

func (e *Entity) GetBalance() (decimal.Decimal, error) {
	if err := e.checkActive(); err != nil {
		return decimal.Zero, err
	}
	return e.state.Balance, nil
}

func (e *Entity) Withdraw(ctx context.Context, amount decimal.Decimal) (decimal.Decimal, error) {
	if amount.IsNegative() {
		return decimal.Zero, errors.ErrNegativeAmount
	}
	if err := e.checkActive(); err != nil {
		return decimal.Zero, err
	}
	if amount.GreaterThan(e.state.Balance) {
		return decimal.Zero, errors.NewAppErrorf(errors.InsufficientFunds,
			"insufficient balance (%s) for withdrawal (%s)", e.state.Balance, amount)
	}

	err := e.mutate(ctx, func(s *domain.AccountState) {
		s.Balance = s.Balance.Sub(amount)
	})
	if err != nil {
		return decimal.Zero, err
	}
	return e.state.Balance, nil
}

func (e *Entity) Deposit(ctx context.Context, amount decimal.Decimal) (decimal.Decimal, error) {
	if amount.IsNegative() {
		return decimal.Zero, errors.ErrNegativeAmount
	}
	if err := e.checkActive(); err != nil {
		return decimal.Zero, err
	}

	err := e.mutate(ctx, func(s *domain.AccountState) {
		s.Balance = s.Balance.Add(amount)
	})
	if err != nil {
		return decimal.Zero, err
	}
	return e.state.Balance, nil
}

func (e *Entity) GetInterestRate() (decimal.Decimal, error) {
	if err := e.checkActive(); err != nil {
		return decimal.Zero, err
	}
	return e.state.InterestRate, nil
}

func (e *Entity) SetInterestRate(ctx context.Context, rate decimal.Decimal) error {
	if rate.IsNegative() {
		return errors.ErrNegativeRate
	}
	if err := e.checkActive(); err != nil {
		return err
	}
	return e.mutate(ctx, func(s *domain.AccountState) {
		s.InterestRate = rate
	})
}

// Delete clears the persisted record and reports whether the account was
// active beforehand. The next call against the id starts from a zero record.
func (e *Entity) Delete(ctx context.Context) (bool, error) {
	existed := e.IsActive()

	if err := e.store.Clear(ctx, e.id, domain.AccountStateName); err != nil {
		return false, errors.Wrap(err, "failed to clear account state")
	}
	e.state = domain.AccountState{}
	return existed, nil
}

func (e *Entity) checkActive() error {
	if e.opts.EnforceActive && !e.state.Active {
		return errors.ErrInactiveAccount
	}
	return nil
}

// mutate applies fn and persists the result. The in-memory state only
// changes once the store has acknowledged the write.
func (e *Entity) mutate(ctx context.Context, fn func(*domain.AccountState)) error {
	next := e.state
	fn(&next)

	if !e.opts.EnforceActive {
		next.Active = false
	}
	record, err := json.Marshal(next)
	if err != nil {
		return errors.NewAppError(errors.Unknown, "failed to encode account state").WithDetails(err.Error())
	}
	if err := e.store.Set(ctx, e.id, domain.AccountStateName, record); err != nil {
		return errors.Wrap(err, "failed to persist account state")
	}

	e.state = next
	return nil
}

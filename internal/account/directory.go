package account

import (
	"context"
	"log/slog"

	"github.com/shopspring/decimal"

	"virtual-ledger/internal/actor"
	"virtual-ledger/internal/domain"
	"virtual-ledger/internal/reminder"
)

// Directory hands out references to account entities hosted in one process.
type Directory struct {
	host *actor.Host[*Entity]
}

var (
	_ domain.AccountDirectory = (*Directory)(nil)
	_ reminder.Dispatcher     = (*Directory)(nil)
)

func NewDirectory(opts Options, store domain.StateStore, reminders Registry, logger *slog.Logger, hostOpts ...actor.Option) *Directory {
	factory := func(id string) *Entity {
		return newEntity(id, opts, store, reminders, logger)
	}
	return &Directory{host: actor.NewHost(factory, logger, hostOpts...)}
}

// Host exposes the underlying activation table for lifecycle management.
func (d *Directory) Host() *actor.Host[*Entity] {
	return d.host
}

func (d *Directory) Account(id string) domain.Account {
	return &ref{id: id, host: d.host}
}

// ReceiveReminder delivers a fired reminder through the same per-entity
// lock as ordinary calls.
func (d *Directory) ReceiveReminder(ctx context.Context, entityID string, kind reminder.Kind) error {
	return d.host.Invoke(ctx, entityID, func(e *Entity) error {
		return e.ReceiveReminder(ctx, kind)
	})
}

// ref is a location-transparent handle; holding one costs nothing until a
// method is called.
type ref struct {
	id   string
	host *actor.Host[*Entity]
}

func (r *ref) ID() string { return r.id }

func (r *ref) Activate(ctx context.Context) error {
	return r.host.Invoke(ctx, r.id, func(e *Entity) error {
		return e.Activate(ctx)
	})
}

func (r *ref) IsActive(ctx context.Context) (bool, error) {
	var active bool
	err := r.host.Invoke(ctx, r.id, func(e *Entity) error {
		active = e.IsActive()
		return nil
	})
	return active, err
}

func (r *ref) GetBalance(ctx context.Context) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := r.host.Invoke(ctx, r.id, func(e *Entity) (err error) {
		balance, err = e.GetBalance()
		return err
	})
	return balance, err
}

func (r *ref) Withdraw(ctx context.Context, amount decimal.Decimal) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := r.host.Invoke(ctx, r.id, func(e *Entity) (err error) {
		balance, err = e.Withdraw(ctx, amount)
		return err
	})
	return balance, err
}

func (r *ref) Deposit(ctx context.Context, amount decimal.Decimal) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := r.host.Invoke(ctx, r.id, func(e *Entity) (err error) {
		balance, err = e.Deposit(ctx, amount)
		return err
	})
	return balance, err
}

func (r *ref) GetInterestRate(ctx context.Context) (decimal.Decimal, error) {
	var rate decimal.Decimal
	err := r.host.Invoke(ctx, r.id, func(e *Entity) (err error) {
		rate, err = e.GetInterestRate()
		return err
	})
	return rate, err
}

func (r *ref) SetInterestRate(ctx context.Context, rate decimal.Decimal) error {
	return r.host.Invoke(ctx, r.id, func(e *Entity) error {
		return e.SetInterestRate(ctx, rate)
	})
}

func (r *ref) Delete(ctx context.Context) (bool, error) {
	var existed bool
	err := r.host.Invoke(ctx, r.id, func(e *Entity) (err error) {
		existed, err = e.Delete(ctx)
		return err
	})
	return existed, err
}

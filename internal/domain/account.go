package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// AccountStateName is the record name account state is persisted under.
const AccountStateName = "AccountState"

// DefaultInterestRate is applied by the transactor when an account is created.
var DefaultInterestRate = decimal.RequireFromString("0.05")

// AccountState is the persisted record of a single account. Active is only
// meaningful when the active-flag check is enforced.
type AccountState struct {
	Active       bool            `json:"active,omitempty"`
	Balance      decimal.Decimal `json:"balance"`
	InterestRate decimal.Decimal `json:"interest_rate"`
}

// Account is a reference to one account entity. Every call is serialized
// with every other call against the same account id.
type Account interface {
	ID() string
	Activate(ctx context.Context) error
	IsActive(ctx context.Context) (bool, error)
	GetBalance(ctx context.Context) (decimal.Decimal, error)
	Withdraw(ctx context.Context, amount decimal.Decimal) (decimal.Decimal, error)
	Deposit(ctx context.Context, amount decimal.Decimal) (decimal.Decimal, error)
	GetInterestRate(ctx context.Context) (decimal.Decimal, error)
	SetInterestRate(ctx context.Context, rate decimal.Decimal) error
	Delete(ctx context.Context) (bool, error)
}

// AccountDirectory resolves account references by id. Resolving never
// allocates state; the entity springs into existence on first call.
type AccountDirectory interface {
	Account(id string) Account
}

package service

import (
	"context"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Transfer outcomes recorded on the span.
const (
	OutcomeCompleted      = "completed"
	OutcomeWithdrawFailed = "withdraw_failed"
	OutcomeRolledBack     = "rolled_back"
	OutcomeStuck          = "compensation_failed"
)

// Transfer moves amount from fromID to toID in two legs: withdraw, then
// deposit. If the deposit fails the withdrawn amount is deposited back into
// fromID. Failures are reported as false, never as an error.
//
// The compensating deposit is attempted once. If it fails too, the amount
// has left fromID without reaching toID; this is logged and reported as
// false like any other failure.
//
// No lock spans both accounts, so opposite-direction transfers cannot
// deadlock.
func (s *TransactorService) Transfer(ctx context.Context, fromID, toID string, amount decimal.Decimal) bool {
	ctx, span := s.tracer.Start(ctx, "transactor.Transfer", trace.WithAttributes(
		attribute.String("transfer.from", fromID),
		attribute.String("transfer.to", toID),
		attribute.String("transfer.amount", amount.String()),
	))
	defer span.End()

	from := s.accounts.Account(fromID)
	to := s.accounts.Account(toID)

	if _, err := from.Withdraw(ctx, amount); err != nil {
		s.logger.Warn("Transfer failed withdrawing funds",
			"from_account_id", fromID,
			"to_account_id", toID,
			"amount", amount,
			"error", err)
		s.finish(span, OutcomeWithdrawFailed, err)
		return false
	}

	if _, err := to.Deposit(ctx, amount); err != nil {
		if _, compErr := from.Deposit(ctx, amount); compErr != nil {
			s.logger.Error("Transfer failed depositing funds and rollback failed; funds are stuck",
				"from_account_id", fromID,
				"to_account_id", toID,
				"amount", amount,
				"error", err,
				"rollback_error", compErr)
			s.finish(span, OutcomeStuck, compErr)
			return false
		}

		s.logger.Warn("Transfer failed depositing funds; rolling back",
			"from_account_id", fromID,
			"to_account_id", toID,
			"amount", amount,
			"error", err)
		s.finish(span, OutcomeRolledBack, err)
		return false
	}

	s.logger.Info("Transfer successful",
		"from_account_id", fromID,
		"to_account_id", toID,
		"amount", amount)
	s.finish(span, OutcomeCompleted, nil)
	return true
}

func (s *TransactorService) finish(span trace.Span, outcome string, err error) {
	span.SetAttributes(attribute.String("transfer.outcome", outcome))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
	}
}

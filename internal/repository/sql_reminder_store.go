package repository

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"virtual-ledger/internal/domain"
	"virtual-ledger/internal/errors"
)

type sqlReminderStore struct {
	db      SQLExecutor
	dialect Dialect
	logger  *slog.Logger
}

func NewSQLReminderStore(db SQLExecutor, dialect Dialect, logger *slog.Logger) domain.ReminderStore {
	return &sqlReminderStore{
		db:      db,
		dialect: dialect,
		logger:  logger,
	}
}

func (r *sqlReminderStore) Upsert(ctx context.Context, rem domain.Reminder) error {
	query := r.dialect.rebind(`
		INSERT INTO reminders (entity_id, name, due_time_ms, period_ms, next_fire_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (entity_id, name)
		DO UPDATE SET due_time_ms = EXCLUDED.due_time_ms,
			period_ms = EXCLUDED.period_ms,
			next_fire_at = EXCLUDED.next_fire_at
	`)

	_, err := r.db.ExecContext(ctx, query,
		rem.EntityID,
		rem.Name,
		rem.DueTime.Milliseconds(),
		rem.Period.Milliseconds(),
		rem.NextFireAt.UnixMilli(),
	)
	if err != nil {
		r.logger.Error("Failed to upsert reminder", "entity_id", rem.EntityID, "reminder", rem.Name, "error", err)
		return errors.NewAppError(errors.Unknown, "failed to upsert reminder").WithDetails(err.Error())
	}
	return nil
}

func (r *sqlReminderStore) Get(ctx context.Context, entityID, name string) (*domain.Reminder, error) {
	query := r.dialect.rebind(`
		SELECT entity_id, name, due_time_ms, period_ms, next_fire_at
		FROM reminders WHERE entity_id = $1 AND name = $2
	`)

	rem, err := scanReminder(r.db.QueryRowContext(ctx, query, entityID, name))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrReminderNotFound
		}
		r.logger.Error("Failed to get reminder", "entity_id", entityID, "reminder", name, "error", err)
		return nil, errors.NewAppError(errors.Unknown, "failed to get reminder").WithDetails(err.Error())
	}
	return rem, nil
}

func (r *sqlReminderStore) Delete(ctx context.Context, entityID, name string) error {
	query := r.dialect.rebind(`DELETE FROM reminders WHERE entity_id = $1 AND name = $2`)

	result, err := r.db.ExecContext(ctx, query, entityID, name)
	if err != nil {
		r.logger.Error("Failed to delete reminder", "entity_id", entityID, "reminder", name, "error", err)
		return errors.NewAppError(errors.Unknown, "failed to delete reminder").WithDetails(err.Error())
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return errors.NewAppError(errors.Unknown, "failed to get rows affected").WithDetails(err.Error())
	}
	if rowsAffected == 0 {
		return domain.ErrReminderNotFound
	}
	return nil
}

func (r *sqlReminderStore) ListDue(ctx context.Context, now time.Time) ([]domain.Reminder, error) {
	query := r.dialect.rebind(`
		SELECT entity_id, name, due_time_ms, period_ms, next_fire_at
		FROM reminders WHERE next_fire_at <= $1
		ORDER BY next_fire_at
	`)

	rows, err := r.db.QueryContext(ctx, query, now.UnixMilli())
	if err != nil {
		r.logger.Error("Failed to list due reminders", "error", err)
		return nil, errors.NewAppError(errors.Unknown, "failed to list due reminders").WithDetails(err.Error())
	}
	defer rows.Close()

	var due []domain.Reminder
	for rows.Next() {
		rem, err := scanReminder(rows)
		if err != nil {
			return nil, errors.NewAppError(errors.Unknown, "failed to scan reminder").WithDetails(err.Error())
		}
		due = append(due, *rem)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewAppError(errors.Unknown, "failed to iterate reminders").WithDetails(err.Error())
	}
	return due, nil
}

func (r *sqlReminderStore) Reschedule(ctx context.Context, entityID, name string, next time.Time) error {
	query := r.dialect.rebind(`UPDATE reminders SET next_fire_at = $1 WHERE entity_id = $2 AND name = $3`)

	result, err := r.db.ExecContext(ctx, query, next.UnixMilli(), entityID, name)
	if err != nil {
		r.logger.Error("Failed to reschedule reminder", "entity_id", entityID, "reminder", name, "error", err)
		return errors.NewAppError(errors.Unknown, "failed to reschedule reminder").WithDetails(err.Error())
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return errors.NewAppError(errors.Unknown, "failed to get rows affected").WithDetails(err.Error())
	}
	if rowsAffected == 0 {
		return domain.ErrReminderNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanReminder(row rowScanner) (*domain.Reminder, error) {
	var rem domain.Reminder
	var dueMs, periodMs, nextMs int64

	if err := row.Scan(&rem.EntityID, &rem.Name, &dueMs, &periodMs, &nextMs); err != nil {
		return nil, err
	}

	rem.DueTime = time.Duration(dueMs) * time.Millisecond
	rem.Period = time.Duration(periodMs) * time.Millisecond
	rem.NextFireAt = time.UnixMilli(nextMs).UTC()
	return &rem, nil
}

package repository

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"virtual-ledger/internal/domain"
	"virtual-ledger/internal/errors"
)

type sqlStateStore struct {
	db      SQLExecutor
	dialect Dialect
	logger  *slog.Logger
}

func NewSQLStateStore(db SQLExecutor, dialect Dialect, logger *slog.Logger) domain.StateStore {
	return &sqlStateStore{
		db:      db,
		dialect: dialect,
		logger:  logger,
	}
}

func (r *sqlStateStore) Get(ctx context.Context, entityID, recordName string) ([]byte, bool, error) {
	query := r.dialect.rebind(`
		SELECT record FROM entity_state
		WHERE entity_id = $1 AND record_name = $2
	`)

	var record string
	err := r.db.QueryRowContext(ctx, query, entityID, recordName).Scan(&record)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		r.logger.Error("Failed to get entity state", "entity_id", entityID, "record", recordName, "error", err)
		return nil, false, errors.NewAppError(errors.Unknown, "failed to get entity state").WithDetails(err.Error())
	}

	return []byte(record), true, nil
}

func (r *sqlStateStore) Set(ctx context.Context, entityID, recordName string, record []byte) error {
	query := r.dialect.rebind(`
		INSERT INTO entity_state (entity_id, record_name, record, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (entity_id, record_name)
		DO UPDATE SET record = EXCLUDED.record, updated_at = EXCLUDED.updated_at
	`)

	_, err := r.db.ExecContext(ctx, query, entityID, recordName, string(record), time.Now().UnixMilli())
	if err != nil {
		r.logger.Error("Failed to set entity state", "entity_id", entityID, "record", recordName, "error", err)
		return errors.NewAppError(errors.Unknown, "failed to set entity state").WithDetails(err.Error())
	}

	r.logger.Debug("Entity state written", "entity_id", entityID, "record", recordName)
	return nil
}

func (r *sqlStateStore) Clear(ctx context.Context, entityID, recordName string) error {
	query := r.dialect.rebind(`DELETE FROM entity_state WHERE entity_id = $1 AND record_name = $2`)

	if _, err := r.db.ExecContext(ctx, query, entityID, recordName); err != nil {
		r.logger.Error("Failed to clear entity state", "entity_id", entityID, "record", recordName, "error", err)
		return errors.NewAppError(errors.Unknown, "failed to clear entity state").WithDetails(err.Error())
	}

	r.logger.Debug("Entity state cleared", "entity_id", entityID, "record", recordName)
	return nil
}

func (r *sqlStateStore) Ping(ctx context.Context) error {
	var one int
	return r.db.QueryRowContext(ctx, `SELECT 1`).Scan(&one)
}

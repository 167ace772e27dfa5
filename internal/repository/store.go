package repository

import (
	"database/sql"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"

	"virtual-ledger/internal/domain"
)

// Store bundles the state and reminder persistence of one backend so both
// share a connection and are closed together.
type Store struct {
	state     domain.StateStore
	reminders domain.ReminderStore
	close     func() error
}

// NewMemoryStore creates a Store that lives only as long as the process.
func NewMemoryStore() *Store {
	return &Store{
		state:     NewMemoryStateStore(),
		reminders: NewMemoryReminderStore(),
		close:     func() error { return nil },
	}
}

// NewSQLStore creates a Store over an already-migrated database handle.
func NewSQLStore(db *sql.DB, dialect Dialect, logger *slog.Logger) *Store {
	return &Store{
		state:     NewSQLStateStore(db, dialect, logger),
		reminders: NewSQLReminderStore(db, dialect, logger),
		close:     db.Close,
	}
}

// NewRedisStore creates a Store over a connected redis client.
func NewRedisStore(client *goredis.Client, logger *slog.Logger) *Store {
	return &Store{
		state:     NewRedisStateStore(client, logger),
		reminders: NewRedisReminderStore(client, logger),
		close:     client.Close,
	}
}

// State returns the entity state store
func (s *Store) State() domain.StateStore {
	return s.state
}

// Reminders returns the reminder registration store
func (s *Store) Reminders() domain.ReminderStore {
	return s.reminders
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	return s.close()
}

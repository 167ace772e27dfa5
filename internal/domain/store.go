package domain

import (
	"context"
	"time"
)

// StateStore is durable per-entity key-value persistence. Set and Clear must
// be visible to the next Get for the same key before they return.
type StateStore interface {
	// Get returns the stored record, or found=false when nothing is stored.
	Get(ctx context.Context, entityID, recordName string) (record []byte, found bool, err error)
	Set(ctx context.Context, entityID, recordName string, record []byte) error
	Clear(ctx context.Context, entityID, recordName string) error
	Ping(ctx context.Context) error
}

// Reminder is a durable periodic callback registered against an entity.
type Reminder struct {
	EntityID   string
	Name       string
	DueTime    time.Duration
	Period     time.Duration
	NextFireAt time.Time
}

// ReminderStore persists reminder registrations independently of any
// in-memory entity.
type ReminderStore interface {
	Upsert(ctx context.Context, r Reminder) error
	// Get returns ErrReminderNotFound when no registration exists.
	Get(ctx context.Context, entityID, name string) (*Reminder, error)
	// Delete returns ErrReminderNotFound when no registration exists.
	Delete(ctx context.Context, entityID, name string) error
	ListDue(ctx context.Context, now time.Time) ([]Reminder, error)
	Reschedule(ctx context.Context, entityID, name string, next time.Time) error
}

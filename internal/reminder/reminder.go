// Package reminder implements durable periodic callbacks registered against
// entities. Registrations live in a domain.ReminderStore, so they outlive
// the in-memory entity that registered them.
package reminder

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"virtual-ledger/internal/domain"
)

// Kind names a reminder. Each kind maps to one callback on the entity.
type Kind string

const (
	ComputeInterest Kind = "ComputeInterestReminder"
)

// Dispatcher delivers a due reminder to its entity. Implementations must
// route the call through the entity's single-writer execution.
type Dispatcher interface {
	ReceiveReminder(ctx context.Context, entityID string, kind Kind) error
}

// Service registers reminders and fires them when due.
type Service struct {
	store      domain.ReminderStore
	dispatcher Dispatcher
	logger     *slog.Logger
	now        func() time.Time
}

func NewService(store domain.ReminderStore, logger *slog.Logger) *Service {
	return &Service{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// SetDispatcher wires the delivery target. It is separate from NewService
// because entities need the Service before the dispatcher exists.
func (s *Service) SetDispatcher(d Dispatcher) {
	s.dispatcher = d
}

// SetClock overrides the time source, for tests.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// RegisterOrUpdate registers kind for entityID. Registering again with the
// same due time and period keeps the pending fire time; different timing
// replaces it.
func (s *Service) RegisterOrUpdate(ctx context.Context, entityID string, kind Kind, dueTime, period time.Duration) error {
	if period <= 0 {
		return fmt.Errorf("reminder period must be positive, got %s", period)
	}

	existing, err := s.store.Get(ctx, entityID, string(kind))
	switch {
	case err == nil:
		if existing.DueTime == dueTime && existing.Period == period {
			return nil
		}
	case !stderrors.Is(err, domain.ErrReminderNotFound):
		return err
	}

	return s.store.Upsert(ctx, domain.Reminder{
		EntityID:   entityID,
		Name:       string(kind),
		DueTime:    dueTime,
		Period:     period,
		NextFireAt: s.now().Add(dueTime),
	})
}

// Get looks up a registration. It returns domain.ErrReminderNotFound when
// nothing is registered.
func (s *Service) Get(ctx context.Context, entityID string, kind Kind) (*domain.Reminder, error) {
	return s.store.Get(ctx, entityID, string(kind))
}

// Unregister removes a registration. It returns domain.ErrReminderNotFound
// when nothing is registered.
func (s *Service) Unregister(ctx context.Context, entityID string, kind Kind) error {
	return s.store.Delete(ctx, entityID, string(kind))
}

// Tick fires every reminder that is due and reschedules it. It returns the
// number of reminders delivered successfully.
func (s *Service) Tick(ctx context.Context) (int, error) {
	now := s.now()
	due, err := s.store.ListDue(ctx, now)
	if err != nil {
		return 0, err
	}

	delivered := 0
	for _, r := range due {
		// Reschedule first: a reminder unregistered by the delivery itself
		// (e.g. on deactivation) must stay gone.
		next := nextFire(r.NextFireAt, r.Period, now)
		if err := s.store.Reschedule(ctx, r.EntityID, r.Name, next); err != nil {
			if !stderrors.Is(err, domain.ErrReminderNotFound) {
				s.logger.Error("Failed to reschedule reminder", "entity_id", r.EntityID, "reminder", r.Name, "error", err)
			}
			continue
		}

		if s.dispatcher == nil {
			continue
		}
		if err := s.dispatcher.ReceiveReminder(ctx, r.EntityID, Kind(r.Name)); err != nil {
			s.logger.Warn("Reminder delivery failed", "entity_id", r.EntityID, "reminder", r.Name, "error", err)
			continue
		}
		delivered++
	}
	return delivered, nil
}

// nextFire skips periods that were missed entirely, so a reminder that was
// not polled for a while fires once rather than catching up every tick.
func nextFire(prev time.Time, period time.Duration, now time.Time) time.Time {
	next := prev.Add(period)
	if next.After(now) {
		return next
	}
	missed := now.Sub(prev) / period
	return prev.Add((missed + 1) * period)
}

// Run polls for due reminders every interval until ctx is done.
func (s *Service) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Tick(ctx); err != nil {
				s.logger.Error("Reminder poll failed", "error", err)
			}
		}
	}
}

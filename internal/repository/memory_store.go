package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"virtual-ledger/internal/domain"
)

type stateKey struct {
	entityID string
	name     string
}

// MemoryStateStore keeps records in process memory. Writes are visible to
// the next Get as soon as Set returns; nothing survives a restart.
type MemoryStateStore struct {
	mu      sync.RWMutex
	records map[stateKey][]byte
}

func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{records: make(map[stateKey][]byte)}
}

func (s *MemoryStateStore) Get(_ context.Context, entityID, recordName string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[stateKey{entityID, recordName}]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(rec))
	copy(out, rec)
	return out, true, nil
}

func (s *MemoryStateStore) Set(_ context.Context, entityID, recordName string, record []byte) error {
	cp := make([]byte, len(record))
	copy(cp, record)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[stateKey{entityID, recordName}] = cp
	return nil
}

func (s *MemoryStateStore) Clear(_ context.Context, entityID, recordName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, stateKey{entityID, recordName})
	return nil
}

func (s *MemoryStateStore) Ping(context.Context) error { return nil }

// MemoryReminderStore keeps reminder registrations in process memory.
type MemoryReminderStore struct {
	mu        sync.Mutex
	reminders map[stateKey]domain.Reminder
}

func NewMemoryReminderStore() *MemoryReminderStore {
	return &MemoryReminderStore{reminders: make(map[stateKey]domain.Reminder)}
}

func (s *MemoryReminderStore) Upsert(_ context.Context, r domain.Reminder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reminders[stateKey{r.EntityID, r.Name}] = r
	return nil
}

func (s *MemoryReminderStore) Get(_ context.Context, entityID, name string) (*domain.Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reminders[stateKey{entityID, name}]
	if !ok {
		return nil, domain.ErrReminderNotFound
	}
	return &r, nil
}

func (s *MemoryReminderStore) Delete(_ context.Context, entityID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := stateKey{entityID, name}
	if _, ok := s.reminders[key]; !ok {
		return domain.ErrReminderNotFound
	}
	delete(s.reminders, key)
	return nil
}

func (s *MemoryReminderStore) ListDue(_ context.Context, now time.Time) ([]domain.Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []domain.Reminder
	for _, r := range s.reminders {
		if !r.NextFireAt.After(now) {
			due = append(due, r)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].NextFireAt.Before(due[j].NextFireAt)
	})
	return due, nil
}

func (s *MemoryReminderStore) Reschedule(_ context.Context, entityID, name string, next time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := stateKey{entityID, name}
	r, ok := s.reminders[key]
	if !ok {
		return domain.ErrReminderNotFound
	}
	r.NextFireAt = next
	s.reminders[key] = r
	return nil
}

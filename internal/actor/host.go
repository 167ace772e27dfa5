// Package actor hosts virtual entities: addressable units of state that are
// activated on first reference, execute one call at a time, and are
// deactivated after a period of inactivity.
package actor

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Entity is implemented by anything the Host can activate.
type Entity interface {
	// OnActivate runs once, under the entity lock, before the first call.
	OnActivate(ctx context.Context) error
	// OnDeactivate runs when the activation is discarded. It must not fail.
	OnDeactivate(ctx context.Context)
}

// Factory builds a fresh, not yet activated entity for id.
type Factory[T Entity] func(id string) T

type activation[T Entity] struct {
	mu       sync.Mutex
	entity   T
	ready    bool
	inflight int
	lastUsed time.Time

	// retired is closed once OnDeactivate has returned.
	retired chan struct{}
}

// Host owns the activation table for one entity type. Calls against the
// same id are mutually exclusive; calls against different ids never share a
// lock.
type Host[T Entity] struct {
	factory     Factory[T]
	idleTimeout time.Duration
	logger      *slog.Logger
	now         func() time.Time

	mu          sync.Mutex
	activations map[string]*activation[T]
	// retiring holds activations removed from the table whose
	// OnDeactivate is still running.
	retiring map[string]*activation[T]
}

type Option func(*options)

type options struct {
	idleTimeout time.Duration
	now         func() time.Time
}

// WithIdleTimeout sets how long an activation may sit unused before Sweep
// deactivates it. Zero disables idle deactivation.
func WithIdleTimeout(d time.Duration) Option {
	return func(o *options) { o.idleTimeout = d }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func NewHost[T Entity](factory Factory[T], logger *slog.Logger, opts ...Option) *Host[T] {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return &Host[T]{
		factory:     factory,
		idleTimeout: o.idleTimeout,
		logger:      logger,
		now:         o.now,
		activations: make(map[string]*activation[T]),
		retiring:    make(map[string]*activation[T]),
	}
}

// Invoke runs fn against the entity for id with exclusive access, activating
// the entity first if needed.
func (h *Host[T]) Invoke(ctx context.Context, id string, fn func(T) error) error {
	act := h.acquire(id)
	defer h.release(act)

	act.mu.Lock()
	defer act.mu.Unlock()

	if !act.ready {
		if err := act.entity.OnActivate(ctx); err != nil {
			h.logger.Warn("Entity activation failed", "entity_id", id, "error", err)
			// A fresh entity is built on the next call.
			act.entity = h.factory(id)
			return err
		}
		act.ready = true
	}

	return fn(act.entity)
}

// acquire pins the activation for id. A new activation of an id waits for
// the previous one to finish deactivating.
func (h *Host[T]) acquire(id string) *activation[T] {
	for {
		h.mu.Lock()
		if old, ok := h.retiring[id]; ok {
			h.mu.Unlock()
			<-old.retired
			continue
		}

		act, ok := h.activations[id]
		if !ok {
			act = &activation[T]{entity: h.factory(id)}
			h.activations[id] = act
		}
		act.inflight++
		h.mu.Unlock()
		return act
	}
}

func (h *Host[T]) release(act *activation[T]) {
	h.mu.Lock()
	defer h.mu.Unlock()
	act.inflight--
	act.lastUsed = h.now()
}

// Len reports the number of live activations.
func (h *Host[T]) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.activations)
}

// Sweep deactivates every activation that has been idle longer than the
// idle timeout and has no caller waiting on it. It returns how many were
// deactivated.
func (h *Host[T]) Sweep(ctx context.Context) int {
	if h.idleTimeout <= 0 {
		return 0
	}
	cutoff := h.now().Add(-h.idleTimeout)

	h.mu.Lock()
	idle := make(map[string]*activation[T])
	for id, act := range h.activations {
		if act.inflight > 0 || act.lastUsed.After(cutoff) {
			continue
		}
		h.retire(id, act)
		idle[id] = act
	}
	h.mu.Unlock()

	h.deactivateAll(ctx, idle)
	return len(idle)
}

// Deactivate discards the activation for id if it exists and is idle.
func (h *Host[T]) Deactivate(ctx context.Context, id string) bool {
	h.mu.Lock()
	act, ok := h.activations[id]
	if !ok || act.inflight > 0 {
		h.mu.Unlock()
		return false
	}
	h.retire(id, act)
	h.mu.Unlock()

	h.deactivate(ctx, id, act)
	return true
}

// retire moves act from the table to the retiring set. h.mu must be held.
func (h *Host[T]) retire(id string, act *activation[T]) {
	delete(h.activations, id)
	act.retired = make(chan struct{})
	h.retiring[id] = act
}

func (h *Host[T]) deactivateAll(ctx context.Context, acts map[string]*activation[T]) {
	for id, act := range acts {
		h.deactivate(ctx, id, act)
	}
}

// deactivate runs OnDeactivate under the activation's own lock, then lets
// waiting callers of the same id build a new activation.
func (h *Host[T]) deactivate(ctx context.Context, id string, act *activation[T]) {
	act.mu.Lock()
	if act.ready {
		act.entity.OnDeactivate(ctx)
		h.logger.Debug("Entity deactivated", "entity_id", id)
	}
	act.mu.Unlock()

	h.mu.Lock()
	if h.retiring[id] == act {
		delete(h.retiring, id)
	}
	h.mu.Unlock()
	close(act.retired)
}

// Run sweeps idle activations every interval until ctx is done.
func (h *Host[T]) Run(ctx context.Context, interval time.Duration) {
	if h.idleTimeout <= 0 || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := h.Sweep(ctx); n > 0 {
				h.logger.Debug("Swept idle entities", "count", n)
			}
		}
	}
}

// Close deactivates every idle activation.
func (h *Host[T]) Close(ctx context.Context) {
	h.mu.Lock()
	idle := make(map[string]*activation[T])
	for id, act := range h.activations {
		if act.inflight > 0 {
			continue
		}
		h.retire(id, act)
		idle[id] = act
	}
	h.mu.Unlock()

	h.deactivateAll(ctx, idle)
}

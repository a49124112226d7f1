// Package idempotency makes retried client requests safe by caching the
// terminal result of every accepted idempotency key.
//
// Concurrent submissions with the same key serialize: one caller becomes
// the leader and executes the full processing path, the rest wait for and
// return its result.
package idempotency

import (
	"context"
	"sync"
	"time"

	"github.com/go-petr/bank-ledger/internal/domain"
	"github.com/rs/zerolog"
)

type slot struct {
	done      chan struct{}
	result    domain.TransactionResult
	terminal  bool
	expiresAt time.Time
}

// Tracker maps idempotency keys to in-flight slots and terminal results.
type Tracker struct {
	mu        sync.Mutex
	slots     map[string]*slot
	retention time.Duration
}

// New returns a Tracker that keeps terminal results for the given retention
// window. Retention is a policy knob, not a correctness requirement.
func New(retention time.Duration) *Tracker {
	return &Tracker{
		slots:     make(map[string]*slot),
		retention: retention,
	}
}

// Acquire resolves the caller's role for the key.
//
// A recorded terminal result is returned with found=true. If another caller
// is currently processing the key, Acquire waits for its outcome. Otherwise
// the caller becomes the leader (found=false) and must finish with exactly
// one Complete or Abort call for the key.
func (t *Tracker) Acquire(ctx context.Context, key string) (domain.TransactionResult, bool, error) {
	for {
		t.mu.Lock()

		s, ok := t.slots[key]
		if !ok {
			t.slots[key] = &slot{done: make(chan struct{})}
			t.mu.Unlock()

			return domain.TransactionResult{}, false, nil
		}

		if s.terminal {
			res := s.result
			t.mu.Unlock()

			return res, true, nil
		}

		t.mu.Unlock()

		select {
		case <-s.done:
			// The leader either completed or aborted. Re-check the slot:
			// after an abort the key is free to contend for again.
		case <-ctx.Done():
			return domain.TransactionResult{}, false, ctx.Err()
		}
	}
}

// Complete records the terminal result for the key and wakes all waiters.
func (t *Tracker) Complete(key string, result domain.TransactionResult) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.slots[key]
	if !ok {
		return
	}

	s.result = result
	s.terminal = true
	s.expiresAt = time.Now().Add(t.retention)
	close(s.done)
}

// Abort releases the key without a terminal result so a retry with the same
// key re-attempts the full operation.
func (t *Tracker) Abort(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.slots[key]
	if !ok || s.terminal {
		return
	}

	delete(t.slots, key)
	close(s.done)
}

// Sweep evicts terminal results that expired before now.
func (t *Tracker) Sweep(now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	evicted := 0

	for key, s := range t.slots {
		if s.terminal && s.expiresAt.Before(now) {
			delete(t.slots, key)
			evicted++
		}
	}

	return evicted
}

// StartJanitor sweeps expired results every interval until ctx is done.
func (t *Tracker) StartJanitor(ctx context.Context, interval time.Duration) {
	l := zerolog.Ctx(ctx)

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case now := <-ticker.C:
				if n := t.Sweep(now); n > 0 {
					l.Debug().Int("evicted", n).Msg("idempotency sweep")
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

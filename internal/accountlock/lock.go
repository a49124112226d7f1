// Package accountlock serializes concurrent operations on the same account.
//
// Each account has one ordering token. Tokens are always acquired in
// ascending account id order and released in reverse, so concurrent
// multi-account transactions cannot form a circular wait.
package accountlock

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/go-petr/bank-ledger/internal/domain"
)

// Controller hands out per-account ordering tokens.
type Controller struct {
	mu      sync.Mutex
	tokens  map[int64]chan struct{}
	timeout time.Duration
}

// New returns a Controller with the given acquisition timeout.
func New(timeout time.Duration) *Controller {
	return &Controller{
		tokens:  make(map[int64]chan struct{}),
		timeout: timeout,
	}
}

func (c *Controller) token(id int64) chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()

	t, ok := c.tokens[id]
	if !ok {
		t = make(chan struct{}, 1)
		c.tokens[id] = t
	}

	return t
}

// Acquire takes the ordering tokens for all given accounts and returns a
// release func. The id set is deduplicated and acquired in ascending order.
// If any token cannot be taken within the controller's timeout, the tokens
// already held are given back and domain.ErrLockTimeout is returned.
//
// The caller must not already hold any of the requested tokens.
func (c *Controller) Acquire(ctx context.Context, ids []int64) (func(), error) {
	sorted := dedupeSorted(ids)

	held := make([]chan struct{}, 0, len(sorted))
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			<-held[i]
		}
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	for _, id := range sorted {
		t := c.token(id)

		select {
		case t <- struct{}{}:
			held = append(held, t)
		case <-timer.C:
			release()
			return nil, domain.ErrLockTimeout
		case <-ctx.Done():
			release()
			return nil, ctx.Err()
		}
	}

	return release, nil
}

func dedupeSorted(ids []int64) []int64 {
	sorted := make([]int64, len(ids))
	copy(sorted, ids)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	out := sorted[:0]

	for i, id := range sorted {
		if i == 0 || id != out[len(out)-1] {
			out = append(out, id)
		}
	}

	return out
}

// Package coord runs remote operations so that at most one operation per
// key is live at a time. Starting a new operation for a key cancels the
// previous one, and only the live operation may publish its result.
package coord

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"blog-mirror/diag"
	"blog-mirror/logging"
	"blog-mirror/metrics"
)

// ErrCanceled is returned to the caller of an operation that was
// superseded by a newer operation for the same key, or canceled with
// Cancel. It is never shown to users.
var ErrCanceled = errors.New("superseded by a newer request")

// IsCanceled reports whether err means the operation was superseded or
// its context was canceled.
func IsCanceled(err error) bool {
	return errors.Is(err, ErrCanceled) || errors.Is(err, context.Canceled)
}

type pending struct {
	id     uint64
	cancel context.CancelFunc
}

// Coordinator owns the registry of live operations.
type Coordinator struct {
	mu      sync.Mutex
	pending map[string]*pending
	nextID  uint64
	tracker *diag.Tracker
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithTracker records every live operation in t.
func WithTracker(t *diag.Tracker) Option {
	return func(c *Coordinator) {
		c.tracker = t
	}
}

// New creates an empty Coordinator.
func New(opts ...Option) *Coordinator {
	c := &Coordinator{
		pending: make(map[string]*pending),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// register cancels and evicts any live operation for key and installs a
// new one whose context derives from ctx.
func (c *Coordinator) register(ctx context.Context, key string) (context.Context, *pending) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.pending[key]; ok {
		old.cancel()
		delete(c.pending, key)
		logging.L().Debug("superseding in-flight request", logging.Key(key))
	}

	c.nextID++
	wctx, cancel := context.WithCancel(ctx)
	p := &pending{id: c.nextID, cancel: cancel}
	c.pending[key] = p
	metrics.SetCoordInFlight(len(c.pending))
	return wctx, p
}

// finish deregisters p if it is still the live operation for key and runs
// commit while holding the registry lock, so no newer operation can be
// registered between the currency check and the commit.
func (c *Coordinator) finish(key string, p *pending, commit func()) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	defer p.cancel()

	cur, ok := c.pending[key]
	if !ok || cur != p {
		return false
	}
	delete(c.pending, key)
	metrics.SetCoordInFlight(len(c.pending))
	if commit != nil {
		commit()
	}
	return true
}

// Run executes work as the live operation for key. work receives a
// context that is canceled when a newer operation for key starts.
//
// commit, if non-nil, is called with work's result only when the
// operation is still live on completion; it must not call back into the
// Coordinator. A superseded operation returns ErrCanceled and its result
// is dropped.
func Run[T any](ctx context.Context, c *Coordinator, key string, work func(ctx context.Context) (T, error), commit func(T, error)) (T, error) {
	var zero T
	wctx, p := c.register(ctx, key)
	op := diag.Track(c.tracker, "coord", key, "")
	defer op.Done()

	v, err := work(wctx)

	live := c.finish(key, p, func() {
		if commit != nil {
			commit(v, err)
		}
	})
	if !live {
		metrics.RecordCoordRun("superseded")
		logging.L().Debug("dropping result of superseded request", logging.Key(key))
		return zero, fmt.Errorf("%s: %w", key, ErrCanceled)
	}
	if err != nil {
		if IsCanceled(err) {
			metrics.RecordCoordRun("canceled")
		} else {
			metrics.RecordCoordRun("failed")
		}
		return zero, err
	}
	metrics.RecordCoordRun("committed")
	return v, nil
}

// Cancel cancels the live operation for key, if any. Its result will be
// dropped.
func (c *Coordinator) Cancel(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.pending[key]; ok {
		p.cancel()
		delete(c.pending, key)
		metrics.SetCoordInFlight(len(c.pending))
	}
}

// CancelAll cancels every live operation.
func (c *Coordinator) CancelAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, p := range c.pending {
		p.cancel()
		delete(c.pending, key)
	}
	metrics.SetCoordInFlight(0)
}

// InFlight returns the keys with a live operation, sorted.
func (c *Coordinator) InFlight() []string {
	c.mu.Lock()
	keys := make([]string, 0, len(c.pending))
	for k := range c.pending {
		keys = append(keys, k)
	}
	c.mu.Unlock()
	sort.Strings(keys)
	return keys
}

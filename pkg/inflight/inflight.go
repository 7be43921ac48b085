// Package inflight deduplicates concurrent get-or-create callers for the
// same logical record within one process. A completed call lingers for a
// short grace window before being forgotten: the remote store indexes new
// documents with an observable delay, and a fresh query inside that window
// would miss the just-created record and mint a duplicate.
package inflight

import (
	"context"
	"sync"
	"time"

	"pagestore/pkg/models"
	"pagestore/pkg/telemetry"
)

type call struct {
	done chan struct{}
	rec  models.Record
	err  error
	// withFactory records whether the leader could create the record.
	// A failed read-only call must not answer a caller that can.
	withFactory bool
	timer       *time.Timer
}

// Coordinator serializes record fetches per key. It only guarantees dedup
// within one process; cross-process races are settled by the remote store's
// create-vs-already-exists semantics.
type Coordinator struct {
	mu      sync.Mutex
	pending map[string]*call
	grace   time.Duration
}

// New creates a coordinator. grace <= 0 selects the 5s default.
func New(grace time.Duration) *Coordinator {
	if grace <= 0 {
		grace = 5 * time.Second
	}
	return &Coordinator{pending: make(map[string]*call), grace: grace}
}

// Do runs fn for key unless a call for the same key is already pending or
// inside its grace window, in which case the caller attaches to that call's
// result instead. Registration happens before fn is invoked; that ordering
// closes the race between "check" and "create". Failures are shared with
// attached callers exactly like successes and are never retried here, with
// one exception: a failure produced by a read-only leader (withFactory
// false) does not bind a caller that carries a factory, since that caller
// could have created the missing record. Such a caller drops the dead entry
// and runs its own call.
func (c *Coordinator) Do(ctx context.Context, key string, withFactory bool, fn func() (models.Record, error)) (models.Record, error) {
	for {
		c.mu.Lock()
		if cl, ok := c.pending[key]; ok {
			c.mu.Unlock()
			telemetry.ObserveInflightShared()
			select {
			case <-cl.done:
				if cl.err != nil && withFactory && !cl.withFactory {
					c.drop(key, cl)
					continue
				}
				return cl.rec, cl.err
			case <-ctx.Done():
				// abandoning interest does not cancel the leader; its result
				// still lands in the cache for future callers
				return models.Record{}, ctx.Err()
			}
		}
		cl := &call{done: make(chan struct{}), withFactory: withFactory}
		c.pending[key] = cl
		c.mu.Unlock()

		cl.rec, cl.err = fn()
		close(cl.done)

		c.mu.Lock()
		if c.pending[key] == cl {
			cl.timer = time.AfterFunc(c.grace, func() { c.expire(key, cl) })
		}
		c.mu.Unlock()
		return cl.rec, cl.err
	}
}

// drop removes a completed call so a more capable caller can take over the
// key. Concurrent droppers race benignly; only one removal happens.
func (c *Coordinator) drop(key string, cl *call) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending[key] != cl {
		return
	}
	if cl.timer != nil {
		cl.timer.Stop()
	}
	delete(c.pending, key)
}

// Forget drops a completed call for key ahead of its grace deadline. Called
// after a mutation so the next reader is not handed a pre-write result. A
// call still in flight is left alone.
func (c *Coordinator) Forget(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cl, ok := c.pending[key]
	if !ok || cl.timer == nil {
		return
	}
	cl.timer.Stop()
	delete(c.pending, key)
}

// Pending reports whether a call for key is currently registered. Used by
// tests and diagnostics.
func (c *Coordinator) Pending(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.pending[key]
	return ok
}

func (c *Coordinator) expire(key string, cl *call) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending[key] == cl {
		delete(c.pending, key)
	}
}

// Package pending implements the completion registry described in
// spec.md §4.C: the table of in-flight calls keyed by request id,
// oneshot delivery with an optional bound timer, and broadcast
// cancellation.
//
// Grounded on original_source/src/client/recv.rs and
// src/client/user_event.rs (the completeq_rs CompleteQ the Rust client
// correlates responses against), reworked from a channel-of-events queue
// into a Go map-of-slots guarded by a mutex, in the style of the
// teacher's Client.pending map in client.go.
package pending

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/hawkton/duplexrpc/wheel"
)

// ErrTimeout is the sentinel delivered to a call whose bound timer fires
// before a response arrives. The client wraps this in a Code InternalError
// Error before handing it to the caller (spec.md §4.E, §8 scenario 4).
var ErrTimeout = errors.New("timeout")

var errTimeout = ErrTimeout

// A Result is the outcome delivered to a pending call: either a decoded
// value or an error. Exactly one is meaningful at a time.
type Result struct {
	Value json.RawMessage
	Err   error
}

// A Registry is the correlation table for one client session. The zero
// value is not usable; construct with New.
type Registry struct {
	mu      sync.Mutex
	seq     uint64
	pending map[uint64]*slot
}

type slot struct {
	done chan struct{} // closed exactly once, on first completion
	once sync.Once

	result Result
	timer  *wheel.Timer
}

// New constructs an empty Registry. The id sequence starts at 1 so that a
// zero id can never be mistaken for a live pending call.
func New() *Registry {
	return &Registry{pending: make(map[uint64]*slot), seq: 0}
}

// A Call is the consumer's handle to one pending entry.
type Call struct {
	ID uint64

	r *Registry
	s *slot
}

// Register allocates a fresh id and installs a Waiting slot for it.
func (r *Registry) Register() *Call {
	return r.register(nil)
}

// RegisterWithTimer allocates a fresh id bound to t: if t fires before the
// call is otherwise completed, the call fails with a Code InternalError
// "timeout" result (wired by the caller; see RegisterWithTimer's caller in
// duplexrpc.Client).
func (r *Registry) RegisterWithTimer(t *wheel.Timer) *Call {
	return r.register(t)
}

func (r *Registry) register(t *wheel.Timer) *Call {
	r.mu.Lock()
	r.seq++
	id := r.seq
	s := &slot{done: make(chan struct{}), timer: t}
	r.pending[id] = s
	r.mu.Unlock()
	return &Call{ID: id, r: r, s: s}
}

// CompleteOne delivers res to the pending call for id, if any. At most one
// delivery per id ever succeeds; later calls (including a racing timeout)
// are silent no-ops. If the slot was not found (already completed,
// cancelled, or never registered), CompleteOne returns false.
func (r *Registry) CompleteOne(id uint64, res Result) bool {
	r.mu.Lock()
	s, ok := r.pending[id]
	if ok {
		delete(r.pending, id)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}

	delivered := false
	s.once.Do(func() {
		s.result = res
		close(s.done)
		delivered = true
	})
	return delivered
}

// CancelAll transitions every still-Waiting slot to a cancelled state,
// delivering the given error to each of their consumers, and empties the
// table. It is idempotent: calling it again when the table is already
// empty does nothing.
func (r *Registry) CancelAll(err error) {
	r.mu.Lock()
	slots := make([]*slot, 0, len(r.pending))
	for id, s := range r.pending {
		slots = append(slots, s)
		delete(r.pending, id)
	}
	r.mu.Unlock()

	for _, s := range slots {
		s.once.Do(func() {
			s.result = Result{Err: err}
			close(s.done)
		})
	}
}

// Wait blocks until c completes, ctx ends, or c's bound timer fires,
// whichever comes first, and returns the delivered result. After Wait
// returns once, subsequent calls return the same result immediately: the
// id has been finalized and cannot be completed again.
func (c *Call) Wait(ctx context.Context) (json.RawMessage, error) {
	if c.s.timer != nil {
		select {
		case <-c.s.done:
		case <-c.s.timer.C:
			c.r.CompleteOne(c.ID, Result{Err: errTimeout})
			<-c.s.done
		case <-ctx.Done():
			c.r.CompleteOne(c.ID, Result{Err: ctx.Err()})
			<-c.s.done
		}
	} else {
		select {
		case <-c.s.done:
		case <-ctx.Done():
			c.r.CompleteOne(c.ID, Result{Err: ctx.Err()})
			<-c.s.done
		}
	}
	if c.s.timer != nil {
		c.s.timer.Stop()
	}
	return c.s.result.Value, c.s.result.Err
}

// Abandon releases c's bookkeeping without delivering to any consumer. Any
// later CompleteOne for c.ID is a no-op; this is used when a caller gives
// up on a pending call before it settles (spec.md §5).
func (c *Call) Abandon() {
	c.r.mu.Lock()
	delete(c.r.pending, c.ID)
	c.r.mu.Unlock()
	if c.s.timer != nil {
		c.s.timer.Stop()
	}
}

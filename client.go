// Copyright (C) 2017 Michael J. Fromberger. All Rights Reserved.

package duplexrpc

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/hawkton/duplexrpc/channel"
	"github.com/hawkton/duplexrpc/pending"
	"github.com/hawkton/duplexrpc/wheel"
)

// errClientStopped is recorded as the client's terminal error when Close is
// called explicitly, rather than the channel failing on its own.
var errClientStopped = errors.New("the client has been stopped")

// outMsg is one entry in the client's send queue: the already-encoded wire
// bytes, plus the id to fail (if any) should the send itself fail. Carrying
// id alongside the bytes avoids the re-parse of the outbound frame that
// spec.md §9's Design Notes flag as an alternative to recovering the id
// from the bytes after a send failure.
type outMsg struct {
	id    *uint64
	bytes []byte
}

// A Client is a JSON-RPC 2.0 client bound to one transport (spec.md §4.E).
// A *Client is safe for concurrent use by multiple goroutines; each Call is
// independent and ordering between callers is undefined.
type Client struct {
	tag string
	log func(string, ...any)

	ch channel.Channel

	reg          *pending.Registry
	wheel        *wheel.Scheduler
	ownWheel     bool
	defaultTimer time.Duration

	outq chan outMsg

	mu     sync.Mutex
	err    error
	closed bool

	wg sync.WaitGroup
}

// NewClient returns a new Client that communicates with a peer over ch. A
// nil *ClientOptions provides sensible defaults. tag identifies the client
// in its own log lines; an empty tag is replaced by a generated one.
//
// The client's send loop and receive loop (spec.md §5's "two cooperative
// tasks... spawned via the transport's spawn hook") are launched through
// opts.Spawner, defaulting to channel.GoSpawner; a caller embedding the
// client in a runtime with its own task scheduler can supply a Spawner
// that launches onto that scheduler instead of a bare goroutine.
func NewClient(tag string, ch channel.Channel, opts *ClientOptions) *Client {
	w := opts.wheelOrNil()
	own := w == nil
	if own {
		w = wheel.NewScheduler(opts.wheelSlots(), opts.wheelResolution())
	}

	c := &Client{
		tag:          newTag(tag),
		log:          opts.logFunc(),
		ch:           ch,
		reg:          pending.New(),
		wheel:        w,
		ownWheel:     own,
		defaultTimer: opts.defaultTimeout(),
		outq:         make(chan outMsg, opts.queueCapacity()),
	}

	spawn := opts.spawner()
	c.wg.Add(2)
	spawn.Spawn(func() { defer c.wg.Done(); c.sendLoop() })
	spawn.Spawn(func() { defer c.wg.Done(); c.recvLoop() })
	return c
}

func (o *ClientOptions) wheelOrNil() *wheel.Scheduler {
	if o == nil {
		return nil
	}
	return o.Wheel
}

// sendLoop pulls queued frames and writes them to the transport. On a sink
// failure it fails the pending call (if the frame was not a notification)
// and then terminates (spec.md §4.E).
func (c *Client) sendLoop() error {
	for m := range c.outq {
		if err := c.ch.Send(m.bytes); err != nil {
			c.log("%s: send failed: %v", c.tag, err)
			if m.id != nil {
				c.reg.CompleteOne(*m.id, pending.Result{Err: Errorf(InternalError, "send failed: %v", err)})
			}
			c.stop(err)
			return err
		}
	}
	return nil
}

// recvLoop pulls frames from the transport and routes them to the
// completion registry. A decode failure is treated as a corrupt peer
// stream: it cancels every pending call and ends the session.
func (c *Client) recvLoop() error {
	for {
		bits, err := c.ch.Recv()
		if err != nil {
			c.log("%s: recv ended: %v", c.tag, err)
			c.stop(err)
			return err
		}
		resp, derr := DecodeResponse(bits)
		if derr != nil {
			c.log("%s: decode error, dropping connection: %v", c.tag, derr)
			c.stop(derr)
			return derr
		}
		var res pending.Result
		if resp.Error != nil {
			res.Err = resp.Error
		} else {
			res.Value = resp.Result
		}
		if !c.reg.CompleteOne(resp.ID, res) {
			c.log("%s: discarding response for unknown id %d", c.tag, resp.ID)
		}
	}
}

// stop records err as the client's terminal state, cancels every pending
// call, and closes the send queue. The first caller to observe c.closed ==
// false performs the work; later callers are no-ops.
func (c *Client) stop(err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.err = err
	c.mu.Unlock()

	c.ch.Close()
	close(c.outq)
	c.reg.CancelAll(Errorf(InternalError, "channel broken"))
	if c.ownWheel {
		c.wheel.Close()
	}
}

func (c *Client) enqueue(id *uint64, bytes []byte) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errClientStopped
	}
	c.mu.Unlock()

	// The queue may close underneath us if stop() runs concurrently;
	// recover from the resulting panic as the same stopped error.
	var sendErr error
	func() {
		defer func() {
			if recover() != nil {
				sendErr = errClientStopped
			}
		}()
		c.outq <- outMsg{id: id, bytes: bytes}
	}()
	return sendErr
}

// marshalParams validates and encodes params for a request. nil params are
// encoded as absent.
func marshalParams(params any) (json.RawMessage, error) {
	if params == nil {
		return nil, nil
	}
	bits, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(bits), nil
}

// Call issues method with params and blocks until a response arrives, ctx
// ends, or the client's DefaultTimeout (if any) elapses. A successful call
// returns the decoded result bytes; errors from the peer are *Error values.
func (c *Client) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if c.defaultTimer > 0 {
		return c.CallWithTimer(ctx, method, params, c.defaultTimer)
	}
	call, err := c.send(method, params, nil)
	if err != nil {
		return nil, err
	}
	return call.Wait(ctx)
}

// CallResult is Call followed by json.Unmarshal of the result into result.
func (c *Client) CallResult(ctx context.Context, method string, params, result any) error {
	bits, err := c.Call(ctx, method, params)
	if err != nil {
		return err
	}
	if result == nil {
		return nil
	}
	return json.Unmarshal(bits, result)
}

// CallWithTimer is like Call, but binds the pending call to a timer that
// fails it with an InternalError "timeout" if it fires first (spec.md
// §4.E, §8 scenario 4).
func (c *Client) CallWithTimer(ctx context.Context, method string, params any, timeout time.Duration) (json.RawMessage, error) {
	t := c.wheel.Register(timeout)
	call, err := c.send(method, params, t)
	if err != nil {
		return nil, err
	}
	res, err := call.Wait(ctx)
	if errors.Is(err, pending.ErrTimeout) {
		return nil, Errorf(InternalError, "timeout")
	}
	return res, err
}

// Notification encodes method/params with no id and returns once the bytes
// are accepted by the send queue, not once they are written to the peer
// (spec.md §4.E).
func (c *Client) Notification(ctx context.Context, method string, params any) error {
	p, err := marshalParams(params)
	if err != nil {
		return err
	}
	bits, err := EncodeRequest(&Request{Method: method, Params: p})
	if err != nil {
		return err
	}
	return c.enqueue(nil, bits)
}

// A PendingCall is the awaitable handle returned by Send.
type PendingCall struct{ call *pending.Call }

// Wait blocks until the call completes or ctx ends.
func (p *PendingCall) Wait(ctx context.Context) (json.RawMessage, error) {
	return p.call.Wait(ctx)
}

// Send is the low-level, pipelined variant of Call: it enqueues the
// request and returns a handle the caller can Wait on later, without
// blocking for the response here.
func (c *Client) Send(method string, params any) (*PendingCall, error) {
	return c.send(method, params, nil)
}

func (c *Client) send(method string, params any, t *wheel.Timer) (*PendingCall, error) {
	p, err := marshalParams(params)
	if err != nil {
		return nil, err
	}

	var call *pending.Call
	if t != nil {
		call = c.reg.RegisterWithTimer(t)
	} else {
		call = c.reg.Register()
	}
	id := call.ID
	bits, err := EncodeRequest(&Request{ID: &id, Method: method, Params: p})
	if err != nil {
		call.Abandon()
		return nil, err
	}
	if err := c.enqueue(&id, bits); err != nil {
		call.Abandon()
		return nil, err
	}
	return &PendingCall{call: call}, nil
}

// Close shuts the client down, cancelling any in-flight calls. It is safe
// to call Close more than once or from concurrent goroutines.
func (c *Client) Close() error {
	c.stop(errClientStopped)
	c.wg.Wait()

	c.mu.Lock()
	defer c.mu.Unlock()
	if isUninteresting(c.err) {
		return nil
	}
	return c.err
}

func isUninteresting(err error) bool {
	return err == nil || err == io.EOF || err == errClientStopped
}

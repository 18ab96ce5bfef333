// Copyright (C) 2017 Michael J. Fromberger. All Rights Reserved.

package duplexrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"

	"github.com/hawkton/duplexrpc/channel"
)

// A SyncHandler answers one inbound request or notification. It runs on
// the server's receive loop: while it is running, no other request on the
// same session is dispatched (spec.md §4.F).
type SyncHandler func(ctx context.Context, req *Request) (any, error)

// An AsyncHandler has the same signature and dispatch behaviour as a
// SyncHandler: the server awaits it inline on the single receive loop, one
// call at a time, exactly like a synchronous one. The distinction exists
// only to name methods whose Rust original performs internal async I/O
// (see original_source/src/server/handler.rs) — it is not a concurrency
// knob. Per spec.md §4.F, concurrency across peers comes from running one
// Accept loop per connection, never from interleaving handlers within one;
// HandleAsync must not spawn a goroutine per call.
type AsyncHandler = SyncHandler

// A SyncHandlerFactory produces a fresh SyncHandler for each invocation of
// the method it is registered under. Storing factories rather than bare
// handlers lets a method keep per-call state (a cursor, an accumulator)
// without that state leaking between concurrent or successive calls;
// grounded on original_source/src/server/handler.rs's HandlerCloner, which
// the Rust session clones fresh off its registry for every dispatch.
type SyncHandlerFactory func() SyncHandler

// An AsyncHandlerFactory is the async counterpart of SyncHandlerFactory.
type AsyncHandlerFactory func() AsyncHandler

// errServerBusy is returned by Accept if the Server is already serving a
// channel; a Server represents exactly one session at a time.
var errServerBusy = errors.New("duplexrpc: server is already serving a channel")

// errPushDisabled explains a Push call made without ServerOptions.AllowPush.
var errPushDisabled = errors.New("duplexrpc: push is not enabled (see ServerOptions.AllowPush)")

// errNoSession explains a Push call made before Accept or after the
// session has ended.
var errNoSession = errors.New("duplexrpc: no active session")

type methodEntry struct {
	async        bool
	syncFactory  SyncHandlerFactory
	asyncFactory AsyncHandlerFactory
}

func (e *methodEntry) handler() SyncHandler {
	if e.async {
		return e.asyncFactory()
	}
	return e.syncFactory()
}

// A Server dispatches inbound JSON-RPC requests and notifications to
// registered methods (spec.md §4.F). A Server accepts at most one channel
// at a time; call Accept again after a session ends to serve another.
type Server struct {
	tag    string
	log    func(string, ...any)
	rpcLog RPCLogger

	allowPush bool

	mu       sync.Mutex
	handlers map[string]*methodEntry
	ch       channel.Channel
	sendMu   sync.Mutex
}

// NewServer returns a new Server with no methods registered. A nil
// *ServerOptions provides sensible defaults. tag identifies the server in
// its own log lines; an empty tag is replaced by a generated one.
func NewServer(tag string, opts *ServerOptions) *Server {
	return &Server{
		tag:       newTag(tag),
		log:       opts.logFunc(),
		rpcLog:    opts.rpcLog(),
		allowPush: opts.allowPush(),
		handlers:  make(map[string]*methodEntry),
	}
}

// Handle registers f as the handler factory for method. Registrations are
// serialized by the server's lock, so Handle may also be called while
// Accept is serving; a request is dispatched to whichever factory is
// registered for its method when that request is looked up.
func (s *Server) Handle(method string, f SyncHandlerFactory) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[method] = &methodEntry{syncFactory: f}
}

// HandleAsync registers f as the async handler factory for method.
func (s *Server) HandleAsync(method string, f AsyncHandlerFactory) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[method] = &methodEntry{async: true, asyncFactory: f}
}

func (s *Server) lookup(method string) *methodEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handlers[method]
}

// Accept serves ch until it is closed or a transport error ends the
// session, then closes ch and returns the error that ended it (nil on a
// clean close). A malformed inbound frame is logged and dropped; it does
// not end the session (spec.md §4.F).
func (s *Server) Accept(ch channel.Channel) error {
	s.mu.Lock()
	if s.ch != nil {
		s.mu.Unlock()
		return errServerBusy
	}
	s.ch = ch
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.ch = nil
		s.mu.Unlock()
		ch.Close()
	}()

	for {
		bits, err := ch.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		} else if err != nil {
			return err
		}
		req, derr := DecodeRequest(bits)
		if derr != nil {
			s.log("%s: dropping malformed request: %v", s.tag, derr)
			continue
		}
		s.rpcLog.LogRequest(req)

		entry := s.lookup(req.Method)
		if entry == nil {
			if !req.IsNotification() {
				s.reply(*req.ID, nil, Errorf(MethodNotFound, "no such method %q", req.Method))
			}
			continue
		}

		// Both branches are awaited inline: the session serializes its
		// responses, and concurrency across peers comes from running one
		// Accept per connection, not from interleaving handlers within one
		// (spec.md §4.F).
		s.dispatch(entry, req)
	}
}

// dispatch runs entry's handler for req and, unless req is a notification,
// sends the reply. A notification's result is always discarded, even on
// failure: the caller receiving no response for a notification is
// indistinguishable from success (spec.md §4.A).
func (s *Server) dispatch(entry *methodEntry, req *Request) {
	ctx := contextWithServer(context.Background(), s)
	ctx = contextWithRequest(ctx, req)

	result, err := s.invoke(entry.handler(), ctx, req)
	if req.IsNotification() {
		if err != nil {
			s.log("%s: notification %q failed: %v", s.tag, req.Method, err)
		}
		return
	}
	s.reply(*req.ID, result, asWireError(err))
}

// invoke calls h, unwrapping a one-element array of positional params into
// its sole element first (original_source/src/server/handler.rs's
// to_handler performs the same unwrap inline before invoking the callee).
// A panic inside h is recovered and reported as an InternalError, so one
// bad handler cannot take down the whole session.
func (s *Server) invoke(h SyncHandler, ctx context.Context, req *Request) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = Errorf(InternalError, "handler panic: %v", r)
		}
	}()
	unwrapped := *req
	unwrapped.Params = unwrapSingleton(req.Params)
	return h(ctx, &unwrapped)
}

// unwrapSingleton rewrites a one-element JSON array into its sole element.
// Any other shape, or a malformed array, is returned unchanged and left
// for the handler's own decoding to reject.
func unwrapSingleton(params json.RawMessage) json.RawMessage {
	trimmed := bytes.TrimSpace(params)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return params
	}
	var arr []json.RawMessage
	if err := json.Unmarshal(trimmed, &arr); err != nil || len(arr) != 1 {
		return params
	}
	return arr[0]
}

func asWireError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Errorf(ErrorCode(err), "%s", err.Error())
}

func (s *Server) reply(id uint64, result any, errv *Error) {
	var bits []byte
	var err error
	if errv != nil {
		bits, err = EncodeResponseErr(id, errv)
		s.rpcLog.LogResponse(nil, errv)
	} else {
		enc, merr := json.Marshal(result)
		if merr != nil {
			errv = Errorf(InternalError, "marshal result: %v", merr)
			bits, err = EncodeResponseErr(id, errv)
			s.rpcLog.LogResponse(nil, errv)
		} else {
			bits, err = EncodeResponseOK(id, enc)
			s.rpcLog.LogResponse(enc, nil)
		}
	}
	if err != nil {
		s.log("%s: encoding response: %v", s.tag, err)
		return
	}

	s.mu.Lock()
	ch := s.ch
	s.mu.Unlock()
	if ch == nil {
		return
	}
	s.sendMu.Lock()
	sendErr := ch.Send(bits)
	s.sendMu.Unlock()
	if sendErr != nil {
		s.log("%s: sending response: %v", s.tag, sendErr)
	}
}

// Push sends method/params to the connected peer as a server-initiated
// notification. It requires ServerOptions.AllowPush and an active session
// (SPEC_FULL.md §11, grounded on original_source/src/server.rs's
// server-initiated notify and the teacher's Notify/Callback methods).
func (s *Server) Push(method string, params any) error {
	s.mu.Lock()
	ch := s.ch
	allow := s.allowPush
	s.mu.Unlock()
	if !allow {
		return errPushDisabled
	}
	if ch == nil {
		return errNoSession
	}

	p, err := marshalParams(params)
	if err != nil {
		return err
	}
	bits, err := EncodeRequest(&Request{Method: method, Params: p})
	if err != nil {
		return err
	}

	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	return ch.Send(bits)
}

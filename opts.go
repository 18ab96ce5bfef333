// Copyright (C) 2017 Michael J. Fromberger. All Rights Reserved.

package duplexrpc

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/hawkton/duplexrpc/channel"
	"github.com/hawkton/duplexrpc/wheel"
)

// A Logger records text logs from a Client or Server. A nil Logger
// discards its input.
type Logger func(text string)

// Printf writes a formatted message to lg. If lg == nil, the message is
// discarded.
func (lg Logger) Printf(msg string, args ...any) {
	if lg != nil {
		lg(fmt.Sprintf(msg, args...))
	}
}

// StdLogger adapts a *log.Logger to a Logger. If logger == nil, the
// returned function writes to the default logger.
func StdLogger(logger *log.Logger) Logger {
	if logger == nil {
		return func(text string) { log.Output(2, text) }
	}
	return func(text string) { logger.Output(2, text) }
}

// An RPCLogger receives synchronous callbacks from a Server recording the
// receipt of requests and the delivery of responses.
type RPCLogger interface {
	LogRequest(req *Request)
	LogResponse(resp json.RawMessage, err *Error)
}

type nullRPCLogger struct{}

func (nullRPCLogger) LogRequest(*Request)                    {}
func (nullRPCLogger) LogResponse(json.RawMessage, *Error) {}

// defaultQueueCapacity is the bound on a Client's internal send queue
// (spec.md §4.E, §5).
const defaultQueueCapacity = 100

// defaultWheelSlots and defaultWheelResolution size the private timer wheel
// a Client spins up when one is not supplied (spec.md §4.B).
const defaultWheelSlots = 3600

const defaultWheelResolution = time.Second

// ClientOptions control the behaviour of a Client created by NewClient. A
// nil *ClientOptions provides sensible defaults.
type ClientOptions struct {
	// If not nil, send debug text logs here.
	Logger Logger

	// Bounds the client's internal send queue. A value less than 1 uses
	// defaultQueueCapacity.
	QueueCapacity int

	// DefaultTimeout, if positive, is applied to every Call that does not
	// specify its own timeout via CallWithTimer. The source this module is
	// grounded on never times out calls placed with its plain Call method;
	// spec.md §9 Open Questions flags that as a likely surprise for
	// callers and recommends a configurable default instead of silently
	// inheriting "forever". The zero value preserves the original
	// behaviour (no default timeout).
	DefaultTimeout time.Duration

	// Wheel is the timer scheduler used for CallWithTimer and
	// DefaultTimeout. If nil, the client starts a private one sized by
	// WheelSlots/WheelResolution and closes it when the client closes.
	Wheel *wheel.Scheduler

	WheelSlots      int
	WheelResolution time.Duration

	// Spawner launches the client's send loop and receive loop (spec.md
	// §5). If nil, channel.GoSpawner is used, which launches each loop in
	// a plain goroutine.
	Spawner channel.Spawner
}

func (c *ClientOptions) logFunc() func(string, ...any) {
	if c == nil || c.Logger == nil {
		return func(string, ...any) {}
	}
	return c.Logger.Printf
}

func (c *ClientOptions) queueCapacity() int {
	if c == nil || c.QueueCapacity < 1 {
		return defaultQueueCapacity
	}
	return c.QueueCapacity
}

func (c *ClientOptions) defaultTimeout() time.Duration {
	if c == nil {
		return 0
	}
	return c.DefaultTimeout
}

func (c *ClientOptions) wheelSlots() int {
	if c == nil || c.WheelSlots <= 0 {
		return defaultWheelSlots
	}
	return c.WheelSlots
}

func (c *ClientOptions) wheelResolution() time.Duration {
	if c == nil || c.WheelResolution <= 0 {
		return defaultWheelResolution
	}
	return c.WheelResolution
}

func (c *ClientOptions) spawner() channel.Spawner {
	if c == nil || c.Spawner == nil {
		return channel.GoSpawner{}
	}
	return c.Spawner
}

// ServerOptions control the behaviour of a Server created by NewServer. A
// nil *ServerOptions provides sensible defaults.
type ServerOptions struct {
	// If not nil, send debug text logs here.
	Logger Logger

	// If not nil, the methods of this value are called to log each
	// request received and each response or error returned.
	RPCLog RPCLogger

	// AllowPush enables the server's non-standard Push method (see
	// SPEC_FULL.md §11). It is off by default.
	AllowPush bool
}

func (s *ServerOptions) logFunc() func(string, ...any) {
	if s == nil || s.Logger == nil {
		return func(string, ...any) {}
	}
	return s.Logger.Printf
}

func (s *ServerOptions) rpcLog() RPCLogger {
	if s == nil || s.RPCLog == nil {
		return nullRPCLogger{}
	}
	return s.RPCLog
}

func (s *ServerOptions) allowPush() bool { return s != nil && s.AllowPush }

// newTag returns tag if non-empty, or a fresh random session tag.
// Exercises google/uuid for the identity the teacher instead leaves to the
// caller to supply as a bare string (SPEC_FULL.md §3).
func newTag(tag string) string {
	if tag != "" {
		return tag
	}
	return uuid.NewString()
}

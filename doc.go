/*
Package duplexrpc implements a bidirectional JSON-RPC 2.0 runtime for an
already-connected transport: a wire codec, a timer-bounded completion
registry for outbound calls, and a method dispatcher for inbound calls. It
does not open sockets or negotiate connections; pair it with a
channel.Channel obtained however your transport likes (an in-memory pipe,
a framed TCP stream, a WebSocket) and it runs the protocol over that.

# Clients

A Client sends calls and notifications to a peer and correlates replies
by id:

	ch := channel.JSON(conn, conn)
	cli := duplexrpc.NewClient("", ch, nil)
	defer cli.Close()

	result, err := cli.Call(ctx, "Math.Add", []int{1, 2, 3})

Call blocks until a reply arrives, ctx ends, or (via CallWithTimer or
ClientOptions.DefaultTimeout) a bound timer fires first. Notification
sends a request with no id and never waits for a reply, because the
protocol promises none.

# Servers

A Server dispatches inbound requests to handlers registered by method
name. A handler is not a bare function but a factory that produces one:

	srv := duplexrpc.NewServer("", nil)
	srv.Handle("Math.Add", handler.New(func(ctx context.Context, vs []int) (int, error) {
	    sum := 0
	    for _, v := range vs {
	        sum += v
	    }
	    return sum, nil
	}))
	err := srv.Accept(ch)

HandleAsync registers a handler in the async style. It is dispatched
exactly like one registered with Handle: inline on the session's receive
loop, one request at a time; concurrency comes from serving each
connection with its own Accept. A notification's result (and any error) is always discarded: the caller
receiving no reply is indistinguishable from success, by design.

# Channels

The channel subpackage supplies the Channel interface and several framing
disciplines (newline-delimited text, raw JSON values, an in-memory pipe
for tests). A transport need only implement Send/Recv/Close over its own
byte stream.

# Package handler

The handler subpackage adapts ordinary Go functions into the
SyncHandlerFactory/AsyncHandlerFactory shapes Handle and HandleAsync
expect, using reflection to marshal and unmarshal parameters.
*/
package duplexrpc

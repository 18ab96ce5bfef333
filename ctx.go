// Copyright (C) 2017 Michael J. Fromberger. All Rights Reserved.

package duplexrpc

import "context"

type serverKey struct{}
type requestKey struct{}

// ServerFromContext returns the Server value stored in ctx by the server
// that is dispatching the current handler, if any.
func ServerFromContext(ctx context.Context) *Server {
	if s, ok := ctx.Value(serverKey{}).(*Server); ok {
		return s
	}
	return nil
}

// RequestFromContext returns the inbound Request whose handler is running
// in ctx, if any. This lets a handler recover its own method name or
// params without the caller having threaded them through explicitly
// (SPEC_FULL.md §11, grounded on the teacher's InboundRequest helper).
func RequestFromContext(ctx context.Context) *Request {
	if req, ok := ctx.Value(requestKey{}).(*Request); ok {
		return req
	}
	return nil
}

func contextWithServer(ctx context.Context, s *Server) context.Context {
	return context.WithValue(ctx, serverKey{}, s)
}

func contextWithRequest(ctx context.Context, req *Request) context.Context {
	return context.WithValue(ctx, requestKey{}, req)
}

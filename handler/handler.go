// Copyright (C) 2017 Michael J. Fromberger. All Rights Reserved.

// Package handler adapts ordinary Go functions into
// duplexrpc.SyncHandlerFactory and duplexrpc.AsyncHandlerFactory values,
// so that a method can be registered on a Server as a plain function
// instead of hand-writing the (context.Context, *duplexrpc.Request)
// signature and its JSON plumbing.
package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"sort"

	"github.com/hawkton/duplexrpc"
)

// Func is a convenience alias for duplexrpc.SyncHandler.
type Func = duplexrpc.SyncHandler

// A Map is a trivial collection of named functions, each adaptable with
// New, that can be registered onto a Server in one call.
type Map map[string]any

// Register adapts every entry of m with New and installs it as a
// synchronous method handler on s.
func (m Map) Register(s *duplexrpc.Server) {
	for name, fn := range m {
		s.Handle(name, New(fn))
	}
}

// RegisterAsync is like Register, but installs every entry as an async
// method handler via NewAsync.
func (m Map) RegisterAsync(s *duplexrpc.Server) {
	for name, fn := range m {
		s.HandleAsync(name, NewAsync(fn))
	}
}

// Names reports the sorted method names in m.
func (m Map) Names() []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// A ServiceMap combines multiple Maps into one, permitting a server to
// export multiple services under different names, each registered as
// Service.Method.
type ServiceMap map[string]Map

// Register installs every method of every service in m onto s, named
// Service.Method.
func (m ServiceMap) Register(s *duplexrpc.Server) {
	for svc, methods := range m {
		for name, fn := range methods {
			s.Handle(svc+"."+name, New(fn))
		}
	}
}

// Names reports the composed names of all the methods in m, each having
// the form Service.Method.
func (m ServiceMap) Names() []string {
	var all []string
	for svc, methods := range m {
		for _, name := range methods.Names() {
			all = append(all, svc+"."+name)
		}
	}
	sort.Strings(all)
	return all
}

// A Factory builds the value to adapt for a single dispatch. Unlike a bare
// function, a Factory runs again on every call to the duplexrpc
// *HandlerFactory it backs, so the value it returns can close over state
// private to that one invocation — a request-scoped accumulator, a cursor
// into a paged result set, anything that must not leak between concurrent
// or successive calls to the same method.
//
// This mirrors the factory-per-dispatch model duplexrpc.Server itself uses
// for method registration (grounded on
// original_source/src/server/handler.rs's HandlerCloner): New/NewAsync
// below are the degenerate, stateless case of a Factory, where every
// dispatch can safely reuse the same wrapped handler because the adapted
// function captures nothing.
type Factory func() any

// NewFactory adapts mk into a duplexrpc.SyncHandlerFactory. Each dispatch
// calls mk, checks the resulting value, and wraps it fresh, so state
// captured inside mk's return value belongs to exactly one call.
//
// NewFactory panics if a value produced by mk is ever rejected by Check;
// since mk typically returns closures of one fixed shape, such a failure
// would recur on every call, so there is no useful way to recover from it
// at dispatch time.
func NewFactory(mk Factory) duplexrpc.SyncHandlerFactory {
	return func() duplexrpc.SyncHandler {
		fi, err := Check(mk())
		if err != nil {
			panic(err)
		}
		return fi.Wrap()
	}
}

// NewAsyncFactory is NewFactory, but returns a duplexrpc.AsyncHandlerFactory
// for registration with Server.HandleAsync.
func NewAsyncFactory(mk Factory) duplexrpc.AsyncHandlerFactory {
	return func() duplexrpc.AsyncHandler {
		fi, err := Check(mk())
		if err != nil {
			panic(err)
		}
		return fi.Wrap()
	}
}

// New adapts a single stateless function to a duplexrpc.SyncHandlerFactory.
// It is NewFactory specialized to the common case where fn captures no
// per-call state, so the checked and wrapped handler can be built once and
// reused by every factory invocation instead of being rebuilt per dispatch.
//
// New is intended for use during program initialization, and will panic if
// the type of fn does not have one of the forms Check accepts. Programs
// that need to check for possible errors should call handler.Check
// directly, and use the Wrap method of the resulting FuncInfo to obtain
// the handler.
func New(fn any) duplexrpc.SyncHandlerFactory {
	fi, err := Check(fn)
	if err != nil {
		panic(err)
	}
	h := fi.Wrap()
	return func() duplexrpc.SyncHandler { return h }
}

// NewAsync is New, but returns a duplexrpc.AsyncHandlerFactory for
// registration with Server.HandleAsync.
func NewAsync(fn any) duplexrpc.AsyncHandlerFactory {
	fi, err := Check(fn)
	if err != nil {
		panic(err)
	}
	h := fi.Wrap()
	return func() duplexrpc.AsyncHandler { return h }
}

var (
	ctxType = reflect.TypeOf((*context.Context)(nil)).Elem() // type context.Context
	errType = reflect.TypeOf((*error)(nil)).Elem()           // type error
	reqType = reflect.TypeOf((*duplexrpc.Request)(nil))      // type *duplexrpc.Request

	strictType = reflect.TypeOf((*interface{ DisallowUnknownFields() })(nil)).Elem()

	errNoParameters = &duplexrpc.Error{Code: duplexrpc.InvalidParams, Message: "no parameters accepted"}
)

// FuncInfo captures type signature information from a valid handler function.
type FuncInfo struct {
	Type         reflect.Type // the complete function type
	Argument     reflect.Type // the non-context argument type, or nil
	Result       reflect.Type // the non-error result type, or nil
	ReportsError bool         // true if the function reports an error

	strictFields bool     // enforce strict field checking
	posNames     []string // positional field names

	fn any // the original function value
}

// SetStrict sets the flag on fi that determines whether the wrapper it
// generates will enforce strict field checking. If set true, the wrapper
// will report an error when unmarshaling an object into a struct if the
// object contains fields unknown by the struct. Strict field checking has
// no effect for non-struct arguments.
func (fi *FuncInfo) SetStrict(strict bool) *FuncInfo { fi.strictFields = strict; return fi }

// Wrap adapts the function represented by fi to a duplexrpc.SyncHandler.
// The wrapped function can obtain the *duplexrpc.Request value from its
// context argument using the duplexrpc.RequestFromContext helper.
//
// This method panics if fi == nil or if it does not represent a valid
// function type. A FuncInfo returned by a successful call to Check is
// always valid.
func (fi *FuncInfo) Wrap() duplexrpc.SyncHandler {
	if fi == nil || fi.fn == nil {
		panic("handler: invalid FuncInfo value")
	}

	// A function already shaped as a SyncHandler needs no adaptation at all.
	if f, ok := fi.fn.(duplexrpc.SyncHandler); ok {
		return f
	}

	bind := fi.bindArgs()
	call := reflect.ValueOf(fi.fn).Call

	return func(ctx context.Context, req *duplexrpc.Request) (any, error) {
		args, err := bind(reflect.ValueOf(ctx), req)
		if err != nil {
			return nil, err
		}
		return fi.decodeResult(call(args))
	}
}

// bindArgs returns a function that builds the reflect.Call argument list
// for one invocation from the inbound request, hoisting everything that
// does not depend on the request itself (the argument wrapper, whether the
// callee wants a pointer) out of the returned closure.
func (fi *FuncInfo) bindArgs() func(ctx reflect.Value, req *duplexrpc.Request) ([]reflect.Value, error) {
	switch arg := fi.Argument; {
	case arg == nil:
		return func(ctx reflect.Value, req *duplexrpc.Request) ([]reflect.Value, error) {
			if req.HasParams() {
				return nil, errNoParameters
			}
			return []reflect.Value{ctx}, nil
		}

	case arg == reqType:
		return func(ctx reflect.Value, req *duplexrpc.Request) ([]reflect.Value, error) {
			return []reflect.Value{ctx, reflect.ValueOf(req)}, nil
		}

	default:
		wrap := fi.argWrapper()
		ptr := arg.Kind() == reflect.Ptr
		storage := arg
		if ptr {
			storage = arg.Elem()
		}
		return func(ctx reflect.Value, req *duplexrpc.Request) ([]reflect.Value, error) {
			in := reflect.New(storage) // always a pointer, so unmarshal can address it
			if err := req.UnmarshalParams(wrap(in)); err != nil {
				return nil, duplexrpcError(duplexrpc.InvalidParams, err)
			}
			if ptr {
				return []reflect.Value{ctx, in}, nil
			}
			return []reflect.Value{ctx, in.Elem()}, nil
		}
	}
}

// decodeResult turns the reflect.Value results of a call into the (any,
// error) pair a duplexrpc.SyncHandler returns.
func (fi *FuncInfo) decodeResult(vals []reflect.Value) (any, error) {
	if fi.ReportsError {
		if err, _ := vals[len(vals)-1].Interface().(error); err != nil {
			return nil, err
		}
	}
	if fi.Result == nil {
		return nil, nil
	}
	return vals[0].Interface(), nil
}

// Check checks whether fn can serve as a duplexrpc.SyncHandler. The
// concrete value of fn must be a function with one of the following type
// signature schemes, for JSON-marshalable types X and Y:
//
//	func(context.Context) error
//	func(context.Context) Y
//	func(context.Context) (Y, error)
//	func(context.Context, X) error
//	func(context.Context, X) Y
//	func(context.Context, X) (Y, error)
//	func(context.Context, *duplexrpc.Request) error
//	func(context.Context, *duplexrpc.Request) Y
//	func(context.Context, *duplexrpc.Request) (Y, error)
//	func(context.Context, *duplexrpc.Request) (any, error)
//
// If fn does not have one of these forms, Check reports an error.
//
// If the type of X is a struct or a pointer to a struct, the generated
// wrapper accepts JSON parameters as either an object or an array. Array
// parameters are mapped to the fields of X in the order of field
// declaration, save that unexported fields are skipped. If a field has a
// `json:"-"` tag, it is also skipped. Anonymous fields are skipped unless
// they are tagged.
func Check(fn any) (*FuncInfo, error) {
	if fn == nil {
		return nil, errors.New("nil function")
	}

	info := &FuncInfo{Type: reflect.TypeOf(fn), fn: fn}
	if info.Type.Kind() != reflect.Func {
		return nil, errors.New("not a function")
	}

	if np := info.Type.NumIn(); np == 0 || np > 2 {
		return nil, errors.New("wrong number of parameters")
	} else if info.Type.In(0) != ctxType {
		return nil, errors.New("first parameter is not context.Context")
	} else if info.Type.IsVariadic() {
		return nil, errors.New("variadic functions are not supported")
	} else if np == 2 {
		info.Argument = info.Type.In(1)
	}

	if ok, names := structFieldNames(info.Argument); ok {
		info.posNames = names
	}

	no := info.Type.NumOut()
	if no < 1 || no > 2 {
		return nil, errors.New("wrong number of results")
	} else if no == 2 && info.Type.Out(1) != errType {
		return nil, errors.New("result is not of type error")
	}
	info.ReportsError = info.Type.Out(no-1) == errType
	if no == 2 || !info.ReportsError {
		info.Result = info.Type.Out(0)
	}
	return info, nil
}

// arrayStub is a wrapper for an arbitrary value that handles translation of
// JSON arrays into a corresponding object format.
type arrayStub struct {
	v        any
	posNames []string
}

// translate translates the raw JSON data into the correct format for
// unmarshaling into s.v.
//
// If s.posNames is set and data encodes an array, the array is rewritten
// to an equivalent object with field names assigned by the positional
// names. Otherwise, data is returned as-is without error.
func (s *arrayStub) translate(data []byte) ([]byte, error) {
	if firstByte(data) != '[' {
		return data, nil // not an array
	}

	var arr []json.RawMessage
	if err := json.Unmarshal(data, &arr); err != nil {
		return nil, err
	} else if len(arr) != len(s.posNames) {
		return nil, duplexrpc.Errorf(duplexrpc.InvalidParams, "got %d parameters, want %d",
			len(arr), len(s.posNames))
	}

	obj := make(map[string]json.RawMessage, len(s.posNames))
	for i, name := range s.posNames {
		obj[name] = arr[i]
	}
	return json.Marshal(obj)
}

func (s *arrayStub) UnmarshalJSON(data []byte) error {
	actual, err := s.translate(data)
	if err != nil {
		return err
	}
	return json.Unmarshal(actual, s.v)
}

// strictStub is a wrapper for an arbitrary value that enforces strict
// field checking when unmarshaling from JSON.
type strictStub struct{ v any }

func (s *strictStub) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(s.v)
}

func (fi *FuncInfo) argWrapper() func(reflect.Value) any {
	strict := fi.strictFields && fi.Argument != nil && !fi.Argument.Implements(strictType)
	names := fi.posNames // capture so the wrapper does not pin fi
	array := len(names) != 0
	switch {
	case strict && array:
		return func(v reflect.Value) any {
			return &arrayStub{v: &strictStub{v: v.Interface()}, posNames: names}
		}
	case strict:
		return func(v reflect.Value) any {
			return &strictStub{v: v.Interface()}
		}
	case array:
		return func(v reflect.Value) any {
			return &arrayStub{v: v.Interface(), posNames: names}
		}
	default:
		return reflect.Value.Interface
	}
}

func duplexrpcError(code duplexrpc.Code, err error) error {
	var derr *duplexrpc.Error
	if errors.As(err, &derr) {
		return derr
	}
	return duplexrpc.Errorf(code, "invalid parameters: %v", err)
}

func firstByte(data []byte) byte {
	for _, b := range data {
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		default:
			return b
		}
	}
	return 0
}

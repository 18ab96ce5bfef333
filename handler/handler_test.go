// Copyright (C) 2017 Michael J. Fromberger. All Rights Reserved.

package handler_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/hawkton/duplexrpc"
	"github.com/hawkton/duplexrpc/handler"
)

func y1(context.Context) (int, error) { return 0, nil }

func y2(_ context.Context, vs []int) (int, error) { return len(vs), nil }

func y3(context.Context) error { return errors.New("blah") }

type argStruct struct {
	A string `json:"alpha"`
	B int    `json:"bravo"`
}

func mustRequest(t *testing.T, params string) *duplexrpc.Request {
	t.Helper()
	id := uint64(1)
	return &duplexrpc.Request{ID: &id, Method: "x", Params: json.RawMessage(params)}
}

// Verify that the Check function correctly handles the various type
// signatures it's advertised to support, and not others.
func TestCheck(t *testing.T) {
	tests := []struct {
		v   any
		bad bool
	}{
		{v: nil, bad: true},              // nil value
		{v: "not a function", bad: true}, // not a function

		{v: func(context.Context) error { return nil }},
		{v: func(context.Context, *duplexrpc.Request) (any, error) { return nil, nil }},
		{v: func(context.Context) (int, error) { return 0, nil }},
		{v: func(context.Context, []int) error { return nil }},
		{v: func(context.Context, []bool) (float64, error) { return 0, nil }},
		{v: func(context.Context, *argStruct) int { return 0 }},
		{v: func(context.Context, *duplexrpc.Request) error { return nil }},
		{v: func(context.Context, *duplexrpc.Request) float64 { return 0 }},
		{v: func(context.Context) bool { return true }},
		{v: func(context.Context, int) bool { return true }},

		{v: func() error { return nil }, bad: true},
		{v: func(a, b, c int) bool { return false }, bad: true},
		{v: func(byte) {}, bad: true},
		{v: func(byte) (int, bool, error) { return 0, true, nil }, bad: true},
		{v: func(string) error { return nil }, bad: true},
		{v: func(a, b string) error { return nil }, bad: true},
		{v: func(context.Context) (int, bool) { return 1, true }, bad: true},
	}
	for _, test := range tests {
		got, err := handler.Check(test.v)
		if !test.bad && err != nil {
			t.Errorf("Check(%T): unexpected error: %v", test.v, err)
		} else if test.bad && err == nil {
			t.Errorf("Check(%T): got %+v, want error", test.v, got)
		}
	}
}

// Verify that the Positional function correctly handles its cases.
func TestPositional(t *testing.T) {
	tests := []struct {
		v   any
		n   []string
		bad bool
	}{
		{v: nil, bad: true},
		{v: "not a function", bad: true},

		{v: func(context.Context) error { return nil }},
		{v: func(context.Context) int { return 1 }},
		{v: func(context.Context, bool) bool { return false }, n: []string{"isTrue"}},
		{v: func(context.Context, int, int) int { return 0 }, n: []string{"a", "b"}},
		{v: func(context.Context, string, int, []float64) int { return 0 }, n: []string{"a", "b", "c"}},

		{v: func() error { return nil }, bad: true},
		{v: func(int) int { return 0 }, bad: true},
		{v: func(context.Context, string) error { return nil }, n: nil, bad: true},
		{v: func(context.Context, string, string, string) error { return nil }, n: []string{"x", "y"}, bad: true},
		{v: func(context.Context, string, ...float64) int { return 0 },
			n: []string{"goHome", "youAreDrunk"}, bad: true},
	}
	for _, test := range tests {
		got, err := handler.Positional(test.v, test.n...)
		if !test.bad && err != nil {
			t.Errorf("Positional(%T, %q): unexpected error: %v", test.v, test.n, err)
		} else if test.bad && err == nil {
			t.Errorf("Positional(%T, %q): got %+v, want error", test.v, test.n, got)
		}
	}
}

// Verify that positional arguments are decoded properly, from either an
// array or an object.
func TestPositional_decode(t *testing.T) {
	fi, err := handler.Positional(func(ctx context.Context, a, b int) int {
		return a + b
	}, "first", "second")
	if err != nil {
		t.Fatalf("Positional: unexpected error: %v", err)
	}
	call := fi.Wrap()
	tests := []struct {
		params string
		want   int
		bad    bool
	}{
		{`{"first":5,"second":3}`, 8, false},
		{`[5,3]`, 8, false},
		{`{"first":5}`, 5, false},
		{`{}`, 0, false},
		{``, 0, false},

		{`["wrong", "type"]`, 0, true},
		{`{"unknown":"field"}`, 0, true},
		{`[1]`, 0, true},     // too few
		{`[1,2,3]`, 0, true}, // too many
	}
	for _, test := range tests {
		req := mustRequest(t, test.params)
		got, err := call(context.Background(), req)
		if !test.bad {
			if err != nil {
				t.Errorf("Call %#q: unexpected error: %v", test.params, err)
			} else if z := got.(int); z != test.want {
				t.Errorf("Call %#q: got %d, want %d", test.params, z, test.want)
			}
		} else if err == nil {
			t.Errorf("Call %#q: got %v, want error", test.params, got)
		}
	}
}

// Verify that the Check function correctly handles struct names and that
// both object and array encodings of a struct argument are accepted.
func TestCheck_structArg(t *testing.T) {
	type args struct {
		A    string `json:"apple"`
		B    int    `json:"-"`
		C    bool   `json:",omitempty"`
		D    byte
		Evil int `json:"eee"`
	}

	const inputObj = `{"apple":"1","c":true,"d":25,"eee":666}`
	const inputArray = `["1", true, 25, 666]`
	fail := errors.New("fail")

	tests := []struct {
		name string
		v    any
		want any
		err  error
	}{
		{name: "non-pointer returns string",
			v: func(_ context.Context, x args) string { return x.A }, want: "1"},
		{name: "pointer returns bool",
			v: func(_ context.Context, x *args) bool { return x.C }, want: true},
		{name: "non-pointer returns int",
			v: func(_ context.Context, x args) int { return x.Evil }, want: 666},
		{name: "non-pointer reports error",
			v: func(context.Context, args) (int, error) { return 0, fail }, err: fail},
		{name: "pointer reports error",
			v: func(context.Context, *args) error { return fail }, err: fail},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			fi, err := handler.Check(test.v)
			if err != nil {
				t.Fatalf("Check failed for %T: %v", test.v, err)
			}
			fn := fi.Wrap()

			for _, sub := range []struct {
				name   string
				params string
			}{
				{"Object", inputObj},
				{"Array", inputArray},
			} {
				t.Run(sub.name, func(t *testing.T) {
					rsp, err := fn(context.Background(), mustRequest(t, sub.params))
					if err != test.err {
						t.Errorf("Got error %v, want %v", err, test.err)
					}
					if rsp != test.want {
						t.Errorf("Got value %v, want %v", rsp, test.want)
					}
				})
			}
		})
	}
}

func TestFuncInfo_SetStrict(t *testing.T) {
	type arg struct {
		A, B string
	}
	fi, err := handler.Check(func(ctx context.Context, arg *arg) error { return nil })
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	fn := fi.SetStrict(true).Wrap()

	req := mustRequest(t, `{"A": "foo", "Z": 25}`)
	rsp, err := fn(context.Background(), req)
	if got := duplexrpc.ErrorCode(err); got != duplexrpc.InvalidParams {
		t.Errorf("Handler returned (%+v, %v), want InvalidParams", rsp, err)
	}
}

// Verify that the handling of pointer-typed arguments does not incorrectly
// introduce another pointer indirection.
func TestNew_pointerRegression(t *testing.T) {
	var got argStruct
	fn := handler.New(func(_ context.Context, arg *argStruct) error {
		got = *arg
		return nil
	})()
	req := mustRequest(t, `{"alpha": "xyzzy", "bravo": 23}`)
	if _, err := fn(context.Background(), req); err != nil {
		t.Errorf("Handler failed: %v", err)
	}
	want := argStruct{A: "xyzzy", B: 23}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Wrong argStruct value: (-want, +got)\n%s", diff)
	}
}

// Verify that NewFactory builds a fresh handler per dispatch, so per-call
// state captured by the constructor does not leak between invocations.
func TestNewFactory_perCallState(t *testing.T) {
	factory := handler.NewFactory(func() any {
		calls := 0
		return func(_ context.Context) (int, error) {
			calls++
			return calls, nil
		}
	})

	for i := 0; i < 3; i++ {
		fn := factory()
		for want := 1; want <= 2; want++ {
			got, err := fn(context.Background(), mustRequest(t, ""))
			if err != nil {
				t.Fatalf("dispatch %d: unexpected error: %v", i, err)
			}
			if got != want {
				t.Errorf("dispatch %d call %d: got %v, want %d", i, want, got, want)
			}
		}
	}
}

// Verify that NewPosFactory, like NewFactory, builds independent state per
// dispatch for a positional handler.
func TestNewPosFactory_perCallState(t *testing.T) {
	factory := handler.NewPosFactory(func() any {
		total := 0
		return func(_ context.Context, n int) int {
			total += n
			return total
		}
	}, "n")

	fn := factory()
	if got, err := fn(context.Background(), mustRequest(t, `[2]`)); err != nil || got != 2 {
		t.Fatalf("first call: got (%v, %v), want (2, nil)", got, err)
	}
	if got, err := fn(context.Background(), mustRequest(t, `[3]`)); err != nil || got != 5 {
		t.Fatalf("second call on same handler: got (%v, %v), want (5, nil)", got, err)
	}

	fresh := factory()
	if got, err := fresh(context.Background(), mustRequest(t, `[9]`)); err != nil || got != 9 {
		t.Fatalf("call on fresh handler: got (%v, %v), want (9, nil)", got, err)
	}
}

// Verify that a ServiceMap assembles qualified method names correctly.
func TestServiceMap_Names(t *testing.T) {
	m := handler.ServiceMap{"Test": handler.Map{
		"Y1": y1,
		"Y2": y2,
		"Y3": y3,
	}}
	got, want := m.Names(), []string{"Test.Y1", "Test.Y2", "Test.Y3"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Wrong method names: (-want, +got)\n%s", diff)
	}
}

// Verify that a ServiceMap registers every method onto a Server under its
// qualified name.
func TestServiceMap_Register(t *testing.T) {
	m := handler.ServiceMap{"Test": handler.Map{"Y1": y1}}
	srv := duplexrpc.NewServer("", nil)
	m.Register(srv)

	// There is no exported way to list a Server's registered methods, so
	// this only verifies Register does not panic when wiring a ServiceMap
	// onto a live Server. End-to-end dispatch is covered in the root
	// package's client/server tests.
	_ = fmt.Sprintf("%v", srv)
}

package duplexrpc

import (
	"context"
	"errors"
	"testing"
)

func TestIsServerErrorRange(t *testing.T) {
	tests := []struct {
		code Code
		want bool
	}{
		{ServerErrorLow, true},
		{ServerErrorHigh, true},
		{-32050, true},
		{ServerErrorLow - 1, false},
		{ServerErrorHigh + 1, false},
		{InvalidParams, false},
	}
	for _, test := range tests {
		if got := IsServerError(test.code); got != test.want {
			t.Errorf("IsServerError(%d) = %v, want %v", test.code, got, test.want)
		}
	}
}

func TestCodeErrRoundTrip(t *testing.T) {
	err := InvalidParams.Err()
	if ErrorCode(err) != InvalidParams {
		t.Errorf("ErrorCode(InvalidParams.Err()) = %v, want InvalidParams", ErrorCode(err))
	}
	if !errors.Is(err, InvalidParams.Err()) {
		t.Error("errors.Is should match two errors carrying the same code")
	}
}

func TestErrorCodeClassifiesContextErrors(t *testing.T) {
	if got := ErrorCode(context.Canceled); got != Cancelled {
		t.Errorf("ErrorCode(context.Canceled) = %v, want Cancelled", got)
	}
	if got := ErrorCode(context.DeadlineExceeded); got != DeadlineExceeded {
		t.Errorf("ErrorCode(context.DeadlineExceeded) = %v, want DeadlineExceeded", got)
	}
	if got := ErrorCode(errors.New("boom")); got != InternalError {
		t.Errorf("ErrorCode(plain error) = %v, want InternalError", got)
	}
}

func TestErrorSatisfiesErrCoder(t *testing.T) {
	e := Errorf(MethodNotFound, "no such method %q", "X.Y")
	if got := ErrorCode(e); got != MethodNotFound {
		t.Errorf("ErrorCode(*Error) = %v, want MethodNotFound", got)
	}
}

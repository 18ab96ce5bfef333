// Copyright (C) 2017 Michael J. Fromberger. All Rights Reserved.

package duplexrpc

import (
	"encoding/json"
	"fmt"
)

// Version is the required value of the "jsonrpc" field on every Request and
// Response. It is a zero-content marker: it carries no information beyond
// its own presence, and decoding fails unless the wire value is exactly
// this string (spec.md §3).
const Version = "2.0"

// version marshals to the literal Version string and rejects any other
// value on unmarshal.
type version struct{}

func (version) MarshalJSON() ([]byte, error) { return json.Marshal(Version) }

func (*version) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil || s != Version {
		return fmt.Errorf("duplexrpc: jsonrpc version must be %q", Version)
	}
	return nil
}

// A Request is a single JSON-RPC 2.0 request or notification object.
//
// A nil ID marks a notification: notifications never produce a Response and
// are never rendered with an explicit "id" field, not even null.
type Request struct {
	ID     *uint64         `json:"-"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// IsNotification reports whether r carries no id.
func (r *Request) IsNotification() bool { return r.ID == nil }

// HasParams reports whether r carries a non-empty params value.
func (r *Request) HasParams() bool { return len(r.Params) != 0 }

// UnmarshalParams decodes r's params into v. If r has no params, v is left
// unmodified and no error is reported.
func (r *Request) UnmarshalParams(v any) error {
	if !r.HasParams() {
		return nil
	}
	return json.Unmarshal(r.Params, v)
}

// wireRequest is the transmission shape of Request; it renders id only when
// present, and never as an explicit null.
type wireRequest struct {
	V      version         `json:"jsonrpc"`
	ID     *uint64         `json:"id,omitempty"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// EncodeRequest renders r as a UTF-8 JSON-RPC 2.0 request object. Encoding a
// well-formed Request never fails.
func EncodeRequest(r *Request) ([]byte, error) {
	return json.Marshal(wireRequest{ID: r.ID, Method: r.Method, Params: r.Params})
}

// DecodeRequest parses data as a JSON-RPC 2.0 request or notification.
// Malformed JSON yields a *Error with code ParseError; a well-formed object
// that violates a structural invariant (missing/mismatched jsonrpc, missing
// method) yields a *Error with code InvalidRequest.
func DecodeRequest(data []byte) (*Request, error) {
	var dec struct {
		V      json.RawMessage `json:"jsonrpc"`
		ID     *uint64         `json:"id"`
		Method string          `json:"method"`
		Params json.RawMessage `json:"params"`
	}
	if err := json.Unmarshal(data, &dec); err != nil {
		return nil, &Error{Code: ParseError, Message: err.Error()}
	}
	var v version
	if err := v.UnmarshalJSON(dec.V); err != nil {
		return nil, &Error{Code: InvalidRequest, Message: err.Error()}
	}
	if dec.Method == "" {
		return nil, &Error{Code: InvalidRequest, Message: "missing method"}
	}
	return &Request{ID: dec.ID, Method: dec.Method, Params: dec.Params}, nil
}

// A Response is a single JSON-RPC 2.0 response object. Exactly one of Result
// and Error is populated on a valid response.
type Response struct {
	ID     uint64          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *Error          `json:"error,omitempty"`
}

// wireResponse controls the exactly-one-of-result-or-error wire shape.
type wireResponse struct {
	V      version         `json:"jsonrpc"`
	ID     uint64          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *Error          `json:"error,omitempty"`
}

// EncodeResponseOK renders a success reply for id carrying result.
func EncodeResponseOK(id uint64, result json.RawMessage) ([]byte, error) {
	return json.Marshal(wireResponse{ID: id, Result: result})
}

// EncodeResponseErr renders a failure reply for id carrying cause.
func EncodeResponseErr(id uint64, cause *Error) ([]byte, error) {
	return json.Marshal(wireResponse{ID: id, Error: cause})
}

// DecodeResponse parses data as a JSON-RPC 2.0 response object. As with
// DecodeRequest, malformed JSON and version mismatches report *Error values
// with ParseError/InvalidRequest codes. If both result and error are absent,
// the decoded response is treated as a successful reply carrying a JSON
// null result, matching spec.md §4.A.
func DecodeResponse(data []byte) (*Response, error) {
	var dec struct {
		V      json.RawMessage `json:"jsonrpc"`
		ID     uint64          `json:"id"`
		Result json.RawMessage `json:"result"`
		Error  *Error          `json:"error"`
	}
	if err := json.Unmarshal(data, &dec); err != nil {
		return nil, &Error{Code: ParseError, Message: err.Error()}
	}
	var v version
	if err := v.UnmarshalJSON(dec.V); err != nil {
		return nil, &Error{Code: InvalidRequest, Message: err.Error()}
	}
	if dec.Result == nil && dec.Error == nil {
		dec.Result = json.RawMessage("null")
	}
	return &Response{ID: dec.ID, Result: dec.Result, Error: dec.Error}, nil
}

// An Error reports a JSON-RPC failure. It satisfies the standard error
// interface and the ErrCoder interface declared in code.go.
type Error struct {
	Code    Code            `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil error>"
	}
	return fmt.Sprintf("[%d] %s", e.Code, e.Message)
}

// ErrCode satisfies the ErrCoder interface.
func (e *Error) ErrCode() Code { return e.Code }

// WithData attaches data (marshaled to JSON) to a copy of e and returns it.
func (e *Error) WithData(data any) *Error {
	cp := *e
	if bits, err := json.Marshal(data); err == nil {
		cp.Data = bits
	}
	return &cp
}

// Errorf constructs an *Error with the given code and a formatted message.
func Errorf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Package rpc defines the JSON-RPC 2.0 wire types exchanged with clients
// and upstream backends, and the error-kind-to-code mapping from spec §6.
//
// No pack-grounded standalone JSON-RPC codec library was found in the
// retrieved examples (go-ethereum's own wire types, e.g. jsonrpcMessage in
// its rpc package, are unexported), so these structs are hand-rolled
// against encoding/json. See DESIGN.md for the stdlib justification.
package rpc

import (
	"encoding/json"
	"fmt"
)

// ID is a JSON-RPC request identifier: a string, a number, or null.
type ID struct {
	raw json.RawMessage
}

// NewID wraps a string or numeric identifier.
func NewID(v any) ID {
	b, err := json.Marshal(v)
	if err != nil {
		return ID{}
	}
	return ID{raw: b}
}

// MarshalJSON implements json.Marshaler.
func (id ID) MarshalJSON() ([]byte, error) {
	if id.raw == nil {
		return []byte("null"), nil
	}
	return id.raw, nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (id *ID) UnmarshalJSON(b []byte) error {
	id.raw = append(json.RawMessage(nil), b...)
	return nil
}

func (id ID) String() string {
	if id.raw == nil {
		return "null"
	}
	return string(id.raw)
}

// Request is a decoded JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      ID              `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is a decoded JSON-RPC 2.0 response: either Result or Error is set.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      ID              `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *WireError      `json:"error,omitempty"`
}

// WireError is the JSON-RPC error object.
type WireError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *WireError) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// Notification is an `eth_subscription` push to a client.
type Notification struct {
	JSONRPC string               `json:"jsonrpc"`
	Method  string               `json:"method"`
	Params  NotificationEnvelope `json:"params"`
}

// NotificationEnvelope carries the subscription id and the event payload.
type NotificationEnvelope struct {
	Subscription string `json:"subscription"`
	Result       any    `json:"result"`
}

// NewNotification builds an eth_subscription notification.
func NewNotification(subID string, result any) Notification {
	return Notification{
		JSONRPC: "2.0",
		Method:  "eth_subscription",
		Params: NotificationEnvelope{
			Subscription: subID,
			Result:       result,
		},
	}
}

// NewResult builds a successful response for the given request id.
func NewResult(id ID, result any) (*Response, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	return &Response{JSONRPC: "2.0", ID: id, Result: raw}, nil
}

// NewErrorResponse builds an error response for the given request id.
func NewErrorResponse(id ID, code int, msg string, data any) *Response {
	return &Response{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &WireError{Code: code, Message: msg, Data: data},
	}
}

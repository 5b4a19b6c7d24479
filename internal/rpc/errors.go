package rpc

import (
	"errors"
	"time"

	pkgerrors "github.com/pkg/errors"
)

// Error kinds surfaced by the routing core, per spec §7.
var (
	ErrBadRequest         = errors.New("bad request")
	ErrMethodBlocked      = errors.New("method not supported")
	ErrNotImplemented     = errors.New("not implemented")
	ErrNoBackendsAvailable = errors.New("no backends available")
	ErrRequestTimeout     = errors.New("request timeout")
	ErrUnknownBlock       = errors.New("unknown block")
	ErrInternal           = errors.New("internal error")
)

// BackendError wraps a transport-level failure from an upstream backend,
// distinct from a provider JSON-RPC error (which is forwarded verbatim).
type BackendError struct {
	Backend string
	Err     error
}

func (e *BackendError) Error() string {
	return pkgerrors.Wrapf(e.Err, "backend %q", e.Backend).Error()
}

func (e *BackendError) Unwrap() error { return e.Err }

// NewBackendError wraps an upstream transport error with the backend id.
func NewBackendError(backend string, err error) *BackendError {
	return &BackendError{Backend: backend, Err: pkgerrors.WithStack(err)}
}

// RateLimited signals a quota exhaustion, optionally with a retry-after hint.
type RateLimited struct {
	RetryAfter time.Duration
}

func (e *RateLimited) Error() string { return "rate limited" }

// Error codes per spec §6.
const (
	CodeUnknownBlock      = -32000
	CodeMethodNotFound    = -32601
	CodeBadParams         = -32602
	CodeInternal          = -32603
	CodeRateLimited       = -32005
)

// ToWireError maps an internal error to the JSON-RPC error object clients see.
func ToWireError(err error) *WireError {
	if err == nil {
		return nil
	}

	var be *BackendError
	var rl *RateLimited
	switch {
	case errors.As(err, &rl):
		data := map[string]any{}
		if rl.RetryAfter > 0 {
			data["retryAfterMs"] = rl.RetryAfter.Milliseconds()
		}
		return &WireError{Code: CodeRateLimited, Message: "rate limited", Data: data}
	case errors.Is(err, ErrMethodBlocked):
		return &WireError{Code: CodeMethodNotFound, Message: "unsupported"}
	case errors.Is(err, ErrNotImplemented):
		return &WireError{Code: CodeMethodNotFound, Message: "not implemented"}
	case errors.Is(err, ErrBadRequest):
		return &WireError{Code: CodeBadParams, Message: err.Error()}
	case errors.Is(err, ErrUnknownBlock):
		return &WireError{Code: CodeUnknownBlock, Message: err.Error()}
	case errors.Is(err, ErrNoBackendsAvailable), errors.Is(err, ErrRequestTimeout):
		return &WireError{Code: CodeInternal, Message: err.Error()}
	case errors.As(err, &be):
		return &WireError{Code: CodeInternal, Message: be.Error()}
	default:
		return &WireError{Code: CodeInternal, Message: "internal error"}
	}
}

package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Kind classifies a request-pipeline failure. Each failure site raises its
// kind deliberately instead of callers reconstructing the category from the
// error text.
type Kind int

const (
	KindGeneric Kind = iota
	KindIdentityMissing
	KindEntitlementUnknown
	KindMisconfigured
	KindTimeout
	KindConnection
	KindAuth
	KindRateLimited
	KindServer
	KindEmptyResponse
	KindNoFallback
	KindFallbackExhausted
)

func (k Kind) String() string {
	switch k {
	case KindIdentityMissing:
		return "identity_missing"
	case KindEntitlementUnknown:
		return "entitlement_unknown"
	case KindMisconfigured:
		return "provider_misconfigured"
	case KindTimeout:
		return "timeout"
	case KindConnection:
		return "connection_error"
	case KindAuth:
		return "authentication_error"
	case KindRateLimited:
		return "rate_limited"
	case KindServer:
		return "server_error"
	case KindEmptyResponse:
		return "empty_response"
	case KindNoFallback:
		return "no_fallback"
	case KindFallbackExhausted:
		return "fallback_exhausted"
	default:
		return "generic"
	}
}

// Error is a tagged pipeline error.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return "llm error"
	}
	if e.Msg != "" && e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	if e.Msg != "" {
		return e.Msg
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return "llm error (" + e.Kind.String() + ")"
}

func (e *Error) Unwrap() error { return e.Err }

func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func WrapError(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf extracts the category of err, defaulting to KindGeneric.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindGeneric
}

// ClassifyHTTPStatus maps a provider HTTP status to an error kind.
func ClassifyHTTPStatus(status int) Kind {
	switch {
	case status == 401 || status == 403:
		return KindAuth
	case status == 429:
		return KindRateLimited
	case status >= 500:
		return KindServer
	default:
		return KindGeneric
	}
}

// ClassifyTransportError tags context and network failures raised while
// talking to a provider.
func ClassifyTransportError(err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return WrapError(KindTimeout, "request timed out", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return WrapError(KindTimeout, "request timed out", err)
		}
		return WrapError(KindConnection, "connection failed", err)
	}
	return WrapError(KindConnection, "connection failed", err)
}

package gateway

import (
	"fmt"

	"github.com/jrsteele09/go-auth-gateway/internal/errors"
)

// ErrorKind classifies a failed gateway operation.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	// KindNetwork: no response was received (dial failure, timeout, reset).
	KindNetwork
	// KindAuth: a 401 that could not be resolved by a token refresh.
	KindAuth
	// KindBusiness: a non-2xx response with a structured error body.
	KindBusiness
	// KindTokenFormat: a token that is not JWT-shaped was offered where one was required.
	KindTokenFormat
)

func (k ErrorKind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindAuth:
		return "auth"
	case KindBusiness:
		return "business"
	case KindTokenFormat:
		return "token_format"
	default:
		return "unknown"
	}
}

// Error is the error surfaced to callers of the gateway and the API client.
type Error struct {
	Kind    ErrorKind
	Status  int    // HTTP status, zero when no response was received
	Message string // Human-readable, safe to show to a user
	Err     error  // Underlying cause
}

func NewError(kind ErrorKind, status int, message string, err error) *Error {
	return &Error{Kind: kind, Status: status, Message: message, Err: err}
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s error", e.Kind)
	if e.Status != 0 {
		msg = fmt.Sprintf("%s (%d)", msg, e.Status)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) ErrorKind {
	var gwErr *Error
	if errors.As(err, &gwErr) {
		return gwErr.Kind
	}
	return KindUnknown
}

// IsAuthFailure reports whether err ended the session.
func IsAuthFailure(err error) bool {
	kind := KindOf(err)
	return kind == KindAuth || kind == KindTokenFormat
}

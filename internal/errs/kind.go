package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error so callers can switch on it exhaustively instead
// of probing for optional fields.
type Kind int

const (
	KindUnknown Kind = iota
	KindVault
	KindUnauthorized
	KindHTTP
	KindNetwork
	KindDecode
	KindValidation
	KindNotFound
	KindConflict
	KindRateLimited
)

func (k Kind) String() string {
	switch k {
	case KindVault:
		return "vault"
	case KindUnauthorized:
		return "unauthorized"
	case KindHTTP:
		return "http"
	case KindNetwork:
		return "network"
	case KindDecode:
		return "decode"
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindRateLimited:
		return "rate_limited"
	default:
		return "unknown"
	}
}

// Error is a classified error. Status carries the HTTP status when the error
// originates from a response, zero otherwise.
type Error struct {
	Kind    Kind
	Op      string
	Status  int
	Message string
	Err     error
}

// E builds an *Error of the given kind wrapping err.
func E(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Status != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.Status)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrUnauthorized) and friends match typed errors of
// the corresponding kind.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.Kind == KindUnauthorized
	case ErrNotFound:
		return e.Kind == KindNotFound
	case ErrRateLimited:
		return e.Kind == KindRateLimited
	case ErrAlreadyExists:
		return e.Kind == KindConflict
	case ErrValidation:
		return e.Kind == KindValidation
	}
	return false
}

// KindOf returns the kind of the first *Error in err's chain, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// StatusOf returns the HTTP status recorded in err's chain, or zero.
func StatusOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Status
	}
	return 0
}

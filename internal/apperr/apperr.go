// Package apperr classifies orchestration failures so the boundary can map
// them to client or server errors without inspecting causes.
package apperr

import (
	"encoding/json"
	"errors"
	"fmt"
)

type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindDuplicate
	KindInvalidState
	KindNotFound
	KindUpstream
	KindPersistence
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation_failure"
	case KindDuplicate:
		return "duplicate_request"
	case KindInvalidState:
		return "invalid_state"
	case KindNotFound:
		return "not_found"
	case KindUpstream:
		return "upstream_failure"
	case KindPersistence:
		return "persistence_failure"
	default:
		return "internal"
	}
}

// Client reports whether the failure is the caller's mistake.
func (k Kind) Client() bool {
	switch k {
	case KindValidation, KindDuplicate, KindInvalidState, KindNotFound:
		return true
	}
	return false
}

type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error

	// Replay holds the stored response of the original request for
	// duplicate rejections, when it could be read back.
	Replay json.RawMessage
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg}
}

func Wrap(kind Kind, op, msg string, err error) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Message returns the client-safe message for err.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Kind.Client() {
		return e.Msg
	}
	return "an unexpected error occurred"
}

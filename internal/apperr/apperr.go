// Package apperr defines the error taxonomy shared by the ingestion pipeline.
// Every component returns *Error values (possibly wrapped) so callers can
// classify a failure with KindOf or errors.Is against the kind sentinels.
package apperr

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a pipeline failure.
type Kind string

const (
	KindInternal            Kind = "internal"
	KindMalformedInput      Kind = "malformed_input"
	KindValidation          Kind = "validation"
	KindUpstreamUnavailable Kind = "upstream_unavailable"
	KindUpstreamTimeout     Kind = "upstream_timeout"
	KindUpstreamRejected    Kind = "upstream_rejected"
	KindConflict            Kind = "conflict"
	KindNotFound            Kind = "not_found"
	KindCanceled            Kind = "canceled"
)

// Sentinels for errors.Is. An *Error matches the sentinel of its kind.
var (
	ErrInternal            = errors.New("internal error")
	ErrMalformedInput      = errors.New("malformed input")
	ErrValidation          = errors.New("validation error")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrUpstreamTimeout     = errors.New("upstream timeout")
	ErrUpstreamRejected    = errors.New("upstream rejected")
	ErrConflict            = errors.New("conflict")
	ErrNotFound            = errors.New("not found")
	ErrCanceled            = errors.New("canceled")
)

var sentinels = map[Kind]error{
	KindInternal:            ErrInternal,
	KindMalformedInput:      ErrMalformedInput,
	KindValidation:          ErrValidation,
	KindUpstreamUnavailable: ErrUpstreamUnavailable,
	KindUpstreamTimeout:     ErrUpstreamTimeout,
	KindUpstreamRejected:    ErrUpstreamRejected,
	KindConflict:            ErrConflict,
	KindNotFound:            ErrNotFound,
	KindCanceled:            ErrCanceled,
}

// Error is a classified pipeline error.
type Error struct {
	Kind Kind
	Op   string // component operation, e.g. "extractor.Extract"
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel for this error's kind.
func (e *Error) Is(target error) bool {
	return sentinels[e.Kind] == target
}

// New creates a classified error.
func New(kind Kind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg}
}

// Newf creates a classified error with a formatted message.
func Newf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies err. A nil err yields nil.
func Wrap(kind Kind, op string, err error, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Msg: msg, Err: err}
}

// FromContext converts an error from the caller's context into a Canceled
// error. Deadline expiry of that context is reported as Canceled too.
func FromContext(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindCanceled, Op: op, Msg: "operation canceled", Err: err}
}

// KindOf returns the kind of the first *Error in err's chain. Bare context
// errors are reported as Canceled; anything else is Internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindCanceled
	}
	return KindInternal
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Retryable reports whether the operation may succeed if repeated.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindUpstreamUnavailable, KindUpstreamTimeout:
		return true
	}
	return false
}

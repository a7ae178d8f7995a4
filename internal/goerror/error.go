package goerror

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrNotFound indicates that the requested record could not be found.
var ErrNotFound = errors.New("record not found")

// Kind classifies errors into the buckets callers react to.
type Kind int

const (
	// KindInternal represents an unclassified failure.
	KindInternal Kind = iota
	// KindValidation represents malformed input (bad date, empty name, ...).
	KindValidation
	// KindInvalidFormat represents an undecodable request body.
	KindInvalidFormat
	// KindNotFound represents a reference to a non-existent record.
	KindNotFound
	// KindStoreIO represents an unavailable persistence layer.
	KindStoreIO
	// KindSink represents a failed notification delivery.
	KindSink
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindInvalidFormat:
		return "invalid_format"
	case KindNotFound:
		return "not_found"
	case KindStoreIO:
		return "store_io"
	case KindSink:
		return "sink"
	default:
		return "internal"
	}
}

// Error is a structured error used across the application.
//
// It can wrap an underlying error while also carrying a user-facing message,
// a kind, and per-field validation messages.
type Error struct {
	err    error
	msg    string
	kind   Kind
	fields map[string]string
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.msg != "" && e.err != nil:
		return e.msg + ": " + e.err.Error()
	case e.msg != "":
		return e.msg
	case e.err != nil:
		return e.err.Error()
	default:
		return e.kind.String() + " error"
	}
}

// Msg returns the user-facing message, if set.
func (e *Error) Msg() string {
	return e.msg
}

// Kind returns the error kind.
func (e *Error) Kind() Kind {
	return e.kind
}

// Fields returns validation errors (field to message map), if any.
func (e *Error) Fields() map[string]string {
	return e.fields
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.err
}

// Is lets errors.Is(err, ErrNotFound) match not-found errors built by NewNotFound.
func (e *Error) Is(target error) bool {
	return target == ErrNotFound && e.kind == KindNotFound
}

// StatusCode maps the kind to an HTTP status code.
func (e *Error) StatusCode() int {
	switch e.kind {
	case KindValidation:
		return http.StatusUnprocessableEntity
	case KindInvalidFormat:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindSink:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// fieldError is satisfied by validator.ValidationError without importing it.
type fieldError interface {
	Values() map[string]string
}

// NewValidation creates a validation error. When err carries per-field
// messages they are exposed through Fields; kv adds extra field/message pairs.
func NewValidation(err error, kv ...string) error {
	e := &Error{msg: "validation error", kind: KindValidation, err: err}

	var fe fieldError
	if errors.As(err, &fe) {
		e.fields = make(map[string]string, len(fe.Values()))
		for k, v := range fe.Values() {
			e.fields[k] = v
		}
	}

	if len(kv) > 0 && e.fields == nil {
		e.fields = make(map[string]string, len(kv)/2)
	}
	for i := 0; i+1 < len(kv); i += 2 {
		e.fields[kv[i]] = kv[i+1]
	}

	return e
}

// NewInvalidFormat creates an error for an undecodable payload.
func NewInvalidFormat(err error) error {
	return &Error{msg: "invalid request body", kind: KindInvalidFormat, err: err}
}

// NewNotFound creates a not-found error for the given record type and id.
func NewNotFound(what, id string) error {
	return &Error{msg: fmt.Sprintf("%s %q not found", what, id), kind: KindNotFound}
}

// NewStoreIO wraps a persistence failure.
func NewStoreIO(err error) error {
	return &Error{msg: "store unavailable", kind: KindStoreIO, err: err}
}

// NewSink wraps a notification delivery failure.
func NewSink(err error) error {
	return &Error{msg: "notification delivery failed", kind: KindSink, err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.kind
	}
	return KindInternal
}

func IsValidation(err error) bool { return KindOf(err) == KindValidation }
func IsNotFound(err error) bool   { return KindOf(err) == KindNotFound }
func IsStoreIO(err error) bool    { return KindOf(err) == KindStoreIO }
func IsSink(err error) bool       { return KindOf(err) == KindSink }

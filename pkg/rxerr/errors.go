// Package rxerr defines the error taxonomy shared by the prescription
// exchange core. Every failure surfaced across a package boundary is one of
// the kinds below so that callers can decide between rejecting, erroring out,
// and retrying without string matching.
package rxerr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a failure.
type Kind string

const (
	// KindFormat marks malformed or missing required wire-format fields.
	// Non-retryable; the gateway surfaces it as REJECTED.
	KindFormat Kind = "format_error"
	// KindValidation marks a semantic rule violation such as an empty
	// medication list. Non-retryable.
	KindValidation Kind = "validation_error"
	// KindPersistence marks a storage collaborator failure. Surfaced as a
	// gateway ERROR, never retried by this core.
	KindPersistence Kind = "persistence_error"
	// KindAuth marks an OAuth token acquisition or refresh failure.
	// Retryable by the sync scheduler.
	KindAuth Kind = "auth_error"
	// KindTransport marks a network or timeout failure talking to an EHR or
	// pharmacy endpoint. Retryable by the sync scheduler.
	KindTransport Kind = "transport_error"
	// KindNotFound marks a lookup miss, e.g. an unknown transaction ID.
	// Surfaced directly, never retried.
	KindNotFound Kind = "not_found"
)

// FieldError pairs a field name with a human-readable problem description.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"error"`
}

func (f FieldError) String() string {
	return f.Field + ": " + f.Message
}

// Error is the structured error value used throughout the core.
type Error struct {
	Kind    Kind
	Message string
	Fields  []FieldError
	Cause   error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	b.WriteString(": ")
	b.WriteString(e.Message)
	if len(e.Fields) > 0 {
		parts := make([]string, len(e.Fields))
		for i, f := range e.Fields {
			parts[i] = f.String()
		}
		b.WriteString(" [")
		b.WriteString(strings.Join(parts, "; "))
		b.WriteString("]")
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports kind equality so errors.Is(err, &Error{Kind: KindAuth}) and the
// exported sentinel helpers work across wrapping.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New constructs an error of the given kind.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Newf constructs an error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a cause to an error of the given kind.
func Wrap(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Cause: cause}
}

// WithFields attaches an itemized field error list.
func WithFields(kind Kind, msg string, fields []FieldError) *Error {
	return &Error{Kind: kind, Message: msg, Fields: fields}
}

// KindOf extracts the kind of err, or "" when err is not a taxonomy error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// FieldsOf extracts the itemized field errors of err, if any.
func FieldsOf(err error) []FieldError {
	var e *Error
	if errors.As(err, &e) {
		return e.Fields
	}
	return nil
}

// Retryable reports whether the sync scheduler may retry after err. Only
// auth and transport failures qualify.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindAuth, KindTransport:
		return true
	}
	return false
}

// IsNotFound reports whether err is a lookup miss.
func IsNotFound(err error) bool { return KindOf(err) == KindNotFound }

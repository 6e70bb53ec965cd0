// Package source provides the error taxonomy shared by log-source adapters.
package source

import (
	"errors"
	"fmt"
)

// Kind distinguishes retryable from definitive failures.
type Kind string

const (
	Transient Kind = "transient" // timeout, 5xx, network - eligible for retry
	Permanent Kind = "permanent" // bad request, missing log group - not retried
)

// Error is a log-source fetch failure. Partial results are never returned
// alongside one: a fetch either yields the full record set or an Error.
type Error struct {
	Kind Kind
	Op   string // operation that failed, e.g. "query page"
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("log source %s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError builds a source error.
func NewError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// IsTransient reports whether err is a transient source error.
func IsTransient(err error) bool {
	var se *Error
	return errors.As(err, &se) && se.Kind == Transient
}

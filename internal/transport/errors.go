package transport

import (
	"errors"
	"fmt"
)

// ConnectionError reports that the transport could not establish or keep a
// channel. Always retried with backoff by the subscription manager; surfaced
// to consumers only as a degraded status, never fatal.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection error during %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// NewConnectionError wraps err as a ConnectionError.
func NewConnectionError(op string, err error) *ConnectionError {
	return &ConnectionError{Op: op, Err: err}
}

// FetchError reports a failed snapshot or profile lookup. Retried with
// backoff; previously materialized state is kept visible.
type FetchError struct {
	Op  string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch error during %s: %v", e.Op, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// NewFetchError wraps err as a FetchError.
func NewFetchError(op string, err error) *FetchError {
	return &FetchError{Op: op, Err: err}
}

// SendFailure reports a rejected message insert. The optimistic entry is
// marked failed and kept visible for a manual retry; never silently dropped.
type SendFailure struct {
	LocalID string
	Err     error
}

func (e *SendFailure) Error() string {
	return fmt.Sprintf("send %s failed: %v", e.LocalID, e.Err)
}

func (e *SendFailure) Unwrap() error { return e.Err }

// IsConnection reports whether err is a ConnectionError.
func IsConnection(err error) bool {
	var ce *ConnectionError
	return errors.As(err, &ce)
}

// IsFetch reports whether err is a FetchError.
func IsFetch(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe)
}

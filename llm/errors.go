package llm

import (
	"errors"
)

// Error classification for oracle calls. Transient errors (network,
// timeouts, rate limits) are retried by the worker's republish policy;
// malformed errors never are.

// TransientError marks a failure that may succeed on a later attempt.
type TransientError struct {
	err error
}

func (e *TransientError) Error() string { return e.err.Error() }

func (e *TransientError) Unwrap() error { return e.err }

// NewTransientError wraps an error as transient (retryable).
func NewTransientError(err error) error {
	return &TransientError{err: err}
}

// MalformedError marks a payload the oracle or the caller got structurally
// wrong. Retrying cannot help.
type MalformedError struct {
	err error
}

func (e *MalformedError) Error() string { return e.err.Error() }

func (e *MalformedError) Unwrap() error { return e.err }

// NewMalformedError wraps an error as malformed (non-retryable).
func NewMalformedError(err error) error {
	return &MalformedError{err: err}
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	var t *TransientError
	return errors.As(err, &t)
}

// IsMalformed reports whether err is a permanent payload problem.
func IsMalformed(err error) bool {
	var m *MalformedError
	return errors.As(err, &m)
}

package utils

import "errors"

// ErrNonRetryable indicates a failure that must not be retried,
// e.g. the extraction engine returned data violating the schema
type ErrNonRetryable struct {
	err error
}

// NewErrNonRetryable creates new error
func NewErrNonRetryable(err error) error {
	return &ErrNonRetryable{err: err}
}

func (e *ErrNonRetryable) Error() string {
	return "non retryable error: " + e.err.Error()
}

func (e *ErrNonRetryable) Unwrap() error {
	return e.err
}

// IsNonRetryable tests if any error in the chain is non retryable
func IsNonRetryable(err error) bool {
	var e *ErrNonRetryable
	return errors.As(err, &e)
}

// ErrTerminalState indicates an operation on a review item
// that is already confirmed or discarded
type ErrTerminalState struct {
	Status string
}

// NewErrTerminalState creates new error
func NewErrTerminalState(status string) error {
	return &ErrTerminalState{Status: status}
}

func (e *ErrTerminalState) Error() string {
	return "already in terminal state: " + e.Status
}

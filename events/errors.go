package events

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/speedrun-hq/fundgraph/accountid"
)

var (
	// ErrSplitsMismatch means the derived receivers do not hash to the on-chain commitment.
	// It is transient: a later event usually brings the two back in line.
	ErrSplitsMismatch = errors.New("splits hash mismatch")

	ErrEntityKindConflict = errors.New("entity kind conflict")
	ErrDuplicateCreation  = errors.New("duplicate creation event")
	ErrNoHandler          = errors.New("no handler registered for event")
)

// InvariantError is a violated protocol invariant. Processing must not continue
// silently; the job is returned to the queue and the fault logged at error level.
type InvariantError struct {
	Err error
}

func (e *InvariantError) Error() string { return "invariant violated: " + e.Err.Error() }
func (e *InvariantError) Unwrap() error { return e.Err }

func invariant(err error) error {
	if err == nil {
		return nil
	}
	return &InvariantError{Err: err}
}

// ValidationError rejects user-supplied data, such as a metadata document.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return "validation failed: " + e.Reason }

func validationf(format string, args ...interface{}) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// malformedError is a payload that can never be processed.
type malformedError struct {
	err error
}

func (e *malformedError) Error() string { return "malformed event: " + e.err.Error() }
func (e *malformedError) Unwrap() error { return e.err }

func malformed(err error) error {
	if err == nil {
		return nil
	}
	return &malformedError{err: err}
}

// Status is the tagged result of executing one event.
type Status string

const (
	StatusOK       Status = "ok"
	StatusRejected Status = "rejected"
	StatusRetry    Status = "retry"
	StatusFailed   Status = "failed"
	StatusFatal    Status = "fatal"
)

func classify(err error) Status {
	var (
		invErr *InvariantError
		valErr *ValidationError
		malErr *malformedError
	)

	switch {
	case err == nil:
		return StatusOK
	case errors.As(err, &valErr):
		return StatusRejected
	case errors.As(err, &invErr),
		errors.Is(err, accountid.ErrUnknownDriver),
		errors.Is(err, accountid.ErrDriverMismatch):
		return StatusFatal
	case errors.As(err, &malErr), errors.Is(err, ErrNoHandler):
		return StatusFailed
	default:
		return StatusRetry
	}
}

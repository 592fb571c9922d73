package model

import (
	"errors"
	"fmt"

	"simfleet/pkg/constants"
)

var (
	// ErrNotFound is returned when a referenced worker or record is absent.
	ErrNotFound = errors.New("worker not found")

	// ErrConcurrencyConflict is returned when an optimistic version check fails.
	// Callers retry through retry.OnConflict, never by re-writing stale data.
	ErrConcurrencyConflict = errors.New("concurrency conflict: stored version changed")

	// ErrOperationInProgress is returned when a license operation is started
	// while another one is still in flight on the same worker.
	ErrOperationInProgress = errors.New("license operation already in progress")

	// ErrNoOperationInProgress is returned when completing or failing a license
	// operation that was never started.
	ErrNoOperationInProgress = errors.New("no license operation in progress")

	// ErrAlreadyProvisioned is returned when AssignInstance is called on a
	// worker that already has a different cloud instance.
	ErrAlreadyProvisioned = errors.New("worker already has a cloud instance")

	// ErrIntegrationFailure wraps cloud provider / sim app API failures.
	ErrIntegrationFailure = errors.New("integration failure")

	// ErrTimeout is returned when a polling loop exceeds its max attempts.
	ErrTimeout = errors.New("operation timed out")
)

// InvalidStateTransitionError reports a status change that is not in the
// legal transition table. It is rejected, never silently coerced.
type InvalidStateTransitionError struct {
	From constants.WorkerStatus
	To   constants.WorkerStatus
}

func (e *InvalidStateTransitionError) Error() string {
	return fmt.Sprintf("invalid state transition: %s -> %s", e.From, e.To)
}

// IsInvalidStateTransition reports whether err is an InvalidStateTransitionError.
func IsInvalidStateTransition(err error) bool {
	var tr *InvalidStateTransitionError
	return errors.As(err, &tr)
}

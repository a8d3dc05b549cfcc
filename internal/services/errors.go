package services

import (
	"errors"
	"fmt"
)

var (
	// ErrSyncStepFailed matches every *SyncStepError via errors.Is.
	ErrSyncStepFailed = errors.New("sync step failed")

	// ErrUnknownSource is returned for feed identifiers other than A and B.
	ErrUnknownSource = errors.New("unknown sync source")

	// ErrUnknownScenario is returned by the generator for unsupported scenarios.
	ErrUnknownScenario = errors.New("unknown incident scenario")

	// ErrProcedureMissing means a stored procedure is not installed.
	ErrProcedureMissing = errors.New("stored procedure not installed")

	// ErrAlreadyIgnored is returned when an incident is already on the ignore list.
	ErrAlreadyIgnored = errors.New("incident already ignored")

	// ErrNotIgnored is returned when an incident is not on the ignore list.
	ErrNotIgnored = errors.New("incident not ignored")

	// ErrElementNotFound is returned for unknown network element keys.
	ErrElementNotFound = errors.New("network element not found")
)

// SyncStepError reports which step of a sync run failed.
type SyncStepError struct {
	Step SyncState
	Err  error
}

func (e *SyncStepError) Error() string {
	return fmt.Sprintf("sync step %s failed: %v", e.Step, e.Err)
}

// Unwrap exposes both ErrSyncStepFailed and the underlying cause.
func (e *SyncStepError) Unwrap() []error {
	return []error{ErrSyncStepFailed, e.Err}
}

func stepError(step SyncState, err error) error {
	var se *SyncStepError
	if errors.As(err, &se) {
		return err
	}
	return &SyncStepError{Step: step, Err: err}
}

package backup

import (
	"errors"
	"fmt"
	"strings"
)

// ErrOperationInFlight is returned when another backup or restore already
// holds the store lock and lock_wait is disabled.
var ErrOperationInFlight = errors.New("another backup or restore is in flight")

// ErrNotFound is returned when the named artifact does not exist in the store.
var ErrNotFound = errors.New("backup artifact not found")

// ErrInvalidName is returned for caller-supplied names that do not match the
// artifact naming convention.
var ErrInvalidName = errors.New("invalid backup name")

// VerificationError means an artifact failed an integrity or compatibility
// check. It is fatal to a restore and never silently ignored.
type VerificationError struct {
	Reason string
	Err    error
}

func (e *VerificationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("verification failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("verification failed: %s", e.Reason)
}

func (e *VerificationError) Unwrap() error { return e.Err }

// RestoreError is a restore step that failed after the safety backup was
// taken. The safety backup path is carried so an operator can hand-recover.
type RestoreError struct {
	Step             string
	SafetyBackupPath string
	Err              error
}

func (e *RestoreError) Error() string {
	return fmt.Sprintf("restore failed at %s (safety backup: %s): %v",
		e.Step, e.SafetyBackupPath, e.Err)
}

func (e *RestoreError) Unwrap() error { return e.Err }

// RetentionError collects per-file cleanup failures. Best-effort: it never
// fails the enclosing backup and is surfaced as a warning.
type RetentionError struct {
	Failures []string
}

func (e *RetentionError) Error() string {
	return fmt.Sprintf("retention cleanup incomplete: %s", strings.Join(e.Failures, "; "))
}

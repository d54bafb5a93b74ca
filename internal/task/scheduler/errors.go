package scheduler

import "errors"

// Sentinel errors returned by the Scheduler's APIs: ErrNotFound,
// ErrShutdownInProgress and ErrAlreadyTerminal. A cancellation is not
// reported as a Go error; the task finishes as failed with error_type
// "cancelled". BodyError and Overflow are carried inline (on the Task
// Record's error_* fields, and on eventbus.Subscription respectively), and
// BadRequest is recurring.ErrBadRequest in the recurring package.
var (
	// ErrNotFound is returned by Cancel for an unknown task_id.
	ErrNotFound = errors.New("scheduler: not found")

	// ErrShutdownInProgress is returned by Submit once Stop has been
	// called; it is a local signal, never fatal to the caller.
	ErrShutdownInProgress = errors.New("scheduler: shutdown in progress")

	// ErrAlreadyTerminal is returned by Cancel when the task has already
	// reached done or failed.
	ErrAlreadyTerminal = errors.New("scheduler: task already terminal")
)

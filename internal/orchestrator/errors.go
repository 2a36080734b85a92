package orchestrator

import "fmt"

// The error taxonomy separates failures that happen before a session
// exists (returned synchronously, never persisted) from failures after
// (absorbed into the session's failed state). The API layer maps each
// type to its HTTP status.

// ValidationError reports bad caller input. No session is created.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// NotFoundError reports an unknown job ID.
type NotFoundError struct {
	Message string
}

func (e *NotFoundError) Error() string { return e.Message }

// AdmissionError reports a denied admission decision. No session is
// created. Reason distinguishes an unknown principal from a known but
// depleted account; CurrentBalance is attached only for the latter.
type AdmissionError struct {
	Reason         string
	CurrentBalance *float64
}

func (e *AdmissionError) Error() string {
	return fmt.Sprintf("admission denied: %s", e.Reason)
}

// DispatchError reports that the external process failed to start. No
// session is created.
type DispatchError struct {
	Stage string
	Err   error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("failed to dispatch %s: %v", e.Stage, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }

// StorageError reports a failed store operation. Op names what was being
// read or written, so an admission-time account read is distinguishable
// from a session write. When session persistence fails after dispatch
// succeeded, the external process is orphaned from the caller's
// perspective; see the package documentation.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("failed to %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

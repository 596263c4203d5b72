package watch

import (
	"errors"
	"fmt"
)

var (
	// ErrUnreachable is returned by bridge calls when no companion link is attached.
	ErrUnreachable = errors.New("watch: companion unreachable")
	// ErrClosed is returned by bridge calls after Close.
	ErrClosed = errors.New("watch: bridge closed")
)

// ValidationError reports a malformed inbound payload. Frames that fail
// validation are dropped by the dispatcher and never reach a handler.
type ValidationError struct {
	Type   MessageType
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s frame: %s: %s", e.Type, e.Field, e.Reason)
}

// PersistenceError wraps a failure of the phone-side store to record a
// finished workout. No acknowledgement is sent when this occurs.
type PersistenceError struct {
	WorkoutID string
	Err       error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persisting finished workout %s: %v", e.WorkoutID, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// QueryError wraps a failed QuerySource call. The resolver logs it and
// resolves to "no workout".
type QueryError struct {
	Op  string
	Err error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("query %s: %v", e.Op, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

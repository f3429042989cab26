package session

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionActive rejects StartSession while any session exists.
	// User-facing, not an internal fault.
	ErrSessionActive = errors.New("a session is already active")

	// ErrSessionBusy rejects StopSession while a start or stop pass is
	// already in flight.
	ErrSessionBusy = errors.New("session manager is busy")
)

// StartError is the single aggregated failure surfaced by StartSession.
// By the time a caller sees it, rollback has completed and the manager is
// back in Idle.
type StartError struct {
	Module string
	Phase  string
	Err    error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("session start failed: module %q, phase %s: %v", e.Module, e.Phase, e.Err)
}

func (e *StartError) Unwrap() error { return e.Err }

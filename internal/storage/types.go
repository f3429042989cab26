package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free JSONL backend
//   - "sqlite": SQLite database file (optional build tag)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// SessionEvent records one session lifecycle transition.
// Keep it compact and schema-stable.
type SessionEvent struct {
	At        time.Time `json:"at"`
	Type      string    `json:"type"` // "started" | "start_failed" | "stopped"
	SessionID string    `json:"session_id,omitempty"`
	Preset    string    `json:"preset,omitempty"`
	Trigger   string    `json:"trigger,omitempty"` // "manual" | "schedule:<name>"
	Module    string    `json:"module,omitempty"`  // offending module on failure
	Error     string    `json:"error,omitempty"`
	TookMS    int64     `json:"took_ms,omitempty"`
}

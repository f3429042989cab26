package module

import (
	"context"
	"fmt"
)

// Module is the capability contract every session module implements.
//
// Lifecycle within one session: Init -> ValidateSettings -> OnSessionStart ->
// OnSessionEnd -> Close. The orchestrator owns the instance and guarantees
// Close is called exactly once on every code path, success or failure.
// An instance is used for at most one session and then discarded.
type Module interface {
	// Settings enumerates the module's declared settings. The returned
	// pointers stay valid for the instance lifetime; callers mutate values
	// through Setting.Set.
	Settings() []*Setting

	// Actions enumerates user-invokable operations exposed by the module.
	Actions() []Action

	Init(ctx context.Context) error
	ValidateSettings(ctx context.Context) ValidationResult
	OnSessionStart(ctx context.Context) error
	OnSessionEnd(ctx context.Context) error
	Close() error
}

// Factory creates a fresh, isolated instance of a module. The scope is owned
// by the caller; everything the factory allocates should be registered on it
// so Scope.Close tears it down.
type Factory func(scope *Scope) (Module, error)

// Action is a named operation a module exposes outside the session lifecycle
// (e.g. "restart process", "send test request").
type Action struct {
	Name        string
	Description string
	Run         func(ctx context.Context) error
}

// ValidationLevel classifies a settings-validation outcome.
type ValidationLevel int

const (
	ValidationOK ValidationLevel = iota
	ValidationWarning
	ValidationError
)

func (l ValidationLevel) String() string {
	switch l {
	case ValidationOK:
		return "ok"
	case ValidationWarning:
		return "warning"
	case ValidationError:
		return "error"
	default:
		return fmt.Sprintf("level(%d)", int(l))
	}
}

// ValidationResult is the outcome of Module.ValidateSettings.
// Only ValidationError blocks a session start.
type ValidationResult struct {
	Level   ValidationLevel
	Message string
}

func OK() ValidationResult { return ValidationResult{Level: ValidationOK} }

func Warningf(format string, args ...any) ValidationResult {
	return ValidationResult{Level: ValidationWarning, Message: fmt.Sprintf(format, args...)}
}

func Errorf(format string, args ...any) ValidationResult {
	return ValidationResult{Level: ValidationError, Message: fmt.Sprintf(format, args...)}
}

// ApplySettings copies configured string values onto the instance's declared
// settings by key. Keys the instance does not declare are ignored; declared
// settings without a configured value keep their defaults.
func ApplySettings(m Module, values map[string]string) {
	if m == nil || len(values) == 0 {
		return
	}
	for _, s := range m.Settings() {
		if s == nil {
			continue
		}
		if v, ok := values[s.Key]; ok {
			s.Set(v)
		}
	}
}

// SettingsMap snapshots the instance's current setting values keyed by
// setting key. Used to hand settings to interpreted entry hooks and to read
// values back for persistence.
func SettingsMap(m Module) map[string]string {
	if m == nil {
		return nil
	}
	decl := m.Settings()
	out := make(map[string]string, len(decl))
	for _, s := range decl {
		if s == nil {
			continue
		}
		out[s.Key] = s.Get()
	}
	return out
}

package config

import (
	"fmt"
	"time"
)

type Config struct {
	Logging LoggingConfig `json:"logging"`

	// Modules controls discovery.
	Modules ModulesConfig `json:"modules"`

	// Session bounds lifecycle hook calls. All durations are Go duration
	// strings (e.g. "500ms", "10s", "1m").
	Session SessionConfig `json:"session,omitempty"`

	Presets   PresetsConfig   `json:"presets"`
	Schedules SchedulesConfig `json:"schedules"`

	Notifier *NotifierConfig `json:"notifier,omitempty"`
	Storage  *StorageConfig  `json:"storage,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type ModulesConfig struct {
	// SearchPaths are scanned in order; on duplicate module IDs the later
	// path wins.
	SearchPaths   []string `json:"search_paths"`
	AllowSymlinks bool     `json:"allow_symlinks,omitempty"`
	// SecretsDir is the root for per-module secret storage.
	SecretsDir string `json:"secrets_dir,omitempty"`
}

type SessionConfig struct {
	InitTimeout     string `json:"init_timeout,omitempty"`
	ValidateTimeout string `json:"validate_timeout,omitempty"`
	StartTimeout    string `json:"start_timeout,omitempty"`
	StopTimeout     string `json:"stop_timeout,omitempty"`
}

type PresetsConfig struct {
	Dir string `json:"dir"`
}

type SchedulesConfig struct {
	// Path is the single collection file.
	Path string `json:"path"`
	// Tick is a Go duration string. Defaults to 30s.
	Tick string `json:"tick,omitempty"`
}

// NotifierConfig controls the async notification pipeline. A nil section
// means enabled with defaults and the log sink only.
type NotifierConfig struct {
	Enabled    bool   `json:"enabled"`
	QueueSize  int    `json:"queue_size,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
	// WebhookURL, when set, adds an HTTP sink receiving each notice as JSON.
	WebhookURL string `json:"webhook_url,omitempty"`
}

// StorageConfig controls the optional audit persistence layer.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./sessiond_events" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// SessionTimeouts resolves the session duration strings. Zero values mean
// "use the manager's default".
func (c *Config) SessionTimeouts() (init, validate, start, stop time.Duration, err error) {
	if init, err = ParseDurationField("session.init_timeout", c.Session.InitTimeout); err != nil {
		return
	}
	if validate, err = ParseDurationField("session.validate_timeout", c.Session.ValidateTimeout); err != nil {
		return
	}
	if start, err = ParseDurationField("session.start_timeout", c.Session.StartTimeout); err != nil {
		return
	}
	stop, err = ParseDurationField("session.stop_timeout", c.Session.StopTimeout)
	return
}

// Validate catches structural problems before a config is committed.
func (c *Config) Validate() error {
	if len(c.Modules.SearchPaths) == 0 {
		return fmt.Errorf("modules.search_paths must list at least one directory")
	}
	if c.Presets.Dir == "" {
		return fmt.Errorf("presets.dir is required")
	}
	if c.Schedules.Path == "" {
		return fmt.Errorf("schedules.path is required")
	}
	if _, _, _, _, err := c.SessionTimeouts(); err != nil {
		return err
	}
	if _, err := ParseDurationField("schedules.tick", c.Schedules.Tick); err != nil {
		return err
	}
	if c.Storage != nil {
		if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
			return err
		}
	}
	return nil
}

// Package preset defines named, ordered module collections and their store.
//
// The position of a module in a preset is load-bearing: it is the startup
// order and the mandatory reverse teardown order.
package preset

import (
	"github.com/google/uuid"
)

// SchemaVersion is the current preset document schema.
const SchemaVersion = 1

// ModuleConfig references a discovered module plus the setting values to
// apply to the instance at session start. It is input to a start, not a
// long-lived entity.
type ModuleConfig struct {
	ModuleID uuid.UUID         `yaml:"module_id"`
	Settings map[string]string `yaml:"settings,omitempty"`
}

type Preset struct {
	ID            uuid.UUID      `yaml:"id"`
	Name          string         `yaml:"name"`
	SchemaVersion int            `yaml:"schema_version"`
	Modules       []ModuleConfig `yaml:"modules"`
}

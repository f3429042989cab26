package loader

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.yaml.in/yaml/v3"
)

// ManifestName is the per-package manifest file the loader looks for.
const ManifestName = "module.yaml"

// MaxManifestSize is the manifest size ceiling. Oversized manifests are
// rejected before parsing to keep a hostile package from exhausting memory.
const MaxManifestSize = 10 * 1024

// Manifest is the structured document describing one module package.
type Manifest struct {
	ID          string   `yaml:"id"`
	Name        string   `yaml:"name"`
	Version     string   `yaml:"version"`
	Author      string   `yaml:"author"`
	Description string   `yaml:"description"`
	Category    string   `yaml:"category"`
	Platforms   []string `yaml:"platforms"`
	Entry       string   `yaml:"entry"`
}

var errEmptyManifest = errors.New("manifest is empty")

// parseManifest decodes and validates the required manifest fields.
// It returns the parsed module identifier separately so callers never work
// with an unvalidated ID string.
func parseManifest(b []byte) (Manifest, uuid.UUID, error) {
	if len(strings.TrimSpace(string(b))) == 0 {
		return Manifest{}, uuid.Nil, errEmptyManifest
	}
	var m Manifest
	if err := yaml.Unmarshal(b, &m); err != nil {
		return Manifest{}, uuid.Nil, fmt.Errorf("parse: %w", err)
	}
	if m.ID == "" && m.Name == "" && m.Entry == "" && m.Version == "" && len(m.Platforms) == 0 {
		// Parsed fine but carried nothing (e.g. "null" or a bare comment).
		return Manifest{}, uuid.Nil, errEmptyManifest
	}

	id, err := uuid.Parse(strings.TrimSpace(m.ID))
	if err != nil {
		return Manifest{}, uuid.Nil, fmt.Errorf("invalid id %q: %w", m.ID, err)
	}
	if strings.TrimSpace(m.Name) == "" {
		return Manifest{}, uuid.Nil, errors.New("name is required")
	}
	if strings.TrimSpace(m.Entry) == "" {
		return Manifest{}, uuid.Nil, errors.New("entry is required")
	}
	if len(m.Platforms) == 0 {
		return Manifest{}, uuid.Nil, errors.New("platforms list is required")
	}
	return m, id, nil
}

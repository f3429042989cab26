package preset

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.yaml.in/yaml/v3"

	logx "sessiond/pkg/logx"
)

var ErrNotFound = errors.New("preset not found")

// Store persists presets as one YAML document per preset under a directory.
// Writes go through a temp file + rename so a crash never leaves a torn
// document behind.
type Store struct {
	mu  sync.Mutex
	dir string
	log logx.Logger
}

func NewStore(dir string, log logx.Logger) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("preset dir is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Store{dir: dir, log: log}, nil
}

func (s *Store) path(id uuid.UUID) string {
	return filepath.Join(s.dir, id.String()+".yaml")
}

func (s *Store) List() ([]Preset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	var out []Preset
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".yaml" {
			continue
		}
		p, err := s.readFile(filepath.Join(s.dir, e.Name()))
		if err != nil {
			s.log.Warn("preset file skipped", logx.String("file", e.Name()), logx.Err(err))
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) Get(id uuid.UUID) (Preset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.readFile(s.path(id))
	if os.IsNotExist(err) {
		return Preset{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return p, err
}

// Save inserts or replaces a preset. A zero ID is assigned a fresh one.
func (s *Store) Save(p Preset) (Preset, error) {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.SchemaVersion == 0 {
		p.SchemaVersion = SchemaVersion
	}
	if strings.TrimSpace(p.Name) == "" {
		return Preset{}, errors.New("preset name is required")
	}

	b, err := yaml.Marshal(p)
	if err != nil {
		return Preset{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	final := s.path(p.ID)
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return Preset{}, err
	}
	if err := os.Rename(tmp, final); err != nil {
		return Preset{}, err
	}
	return p, nil
}

func (s *Store) Delete(id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path(id))
	if os.IsNotExist(err) {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return err
}

func (s *Store) readFile(path string) (Preset, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Preset{}, err
	}
	var p Preset
	if err := yaml.Unmarshal(b, &p); err != nil {
		return Preset{}, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	if p.ID == uuid.Nil {
		return Preset{}, fmt.Errorf("%s: missing preset id", filepath.Base(path))
	}
	return p, nil
}

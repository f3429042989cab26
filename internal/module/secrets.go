package module

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

var ErrNoSecret = errors.New("secret not found")

// SecretStore is a per-module file-backed secret handle. Each module gets its
// own subdirectory, so secrets never cross module boundaries even when two
// instances are live at once.
type SecretStore struct {
	mu  sync.Mutex
	dir string
}

func openSecretStore(root, moduleID string) (*SecretStore, error) {
	dir := filepath.Join(root, moduleID)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	return &SecretStore{dir: dir}, nil
}

func (s *SecretStore) path(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" || strings.ContainsAny(key, "/\\") || key == "." || key == ".." {
		return "", errors.New("invalid secret key")
	}
	return filepath.Join(s.dir, key), nil
}

func (s *SecretStore) Get(key string) (string, error) {
	p, err := s.path(key)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := os.ReadFile(p)
	if os.IsNotExist(err) {
		return "", ErrNoSecret
	}
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (s *SecretStore) Set(key, value string) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return os.WriteFile(p, []byte(value), 0o600)
}

func (s *SecretStore) Delete(key string) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	err = os.Remove(p)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "sessiond/pkg/logx"
)

// fileStore is a dependency-free persistence backend: an append-only JSON
// Lines file. Reads scan the file and keep the tail, which is fine for the
// audit volumes a single host produces.
type fileStore struct {
	log logx.Logger

	mu   sync.Mutex
	f    *os.File
	path string
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	return &fileStore{log: log, f: f, path: path}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

func (s *fileStore) AppendSessionEvent(ctx context.Context, e SessionEvent) error {
	_ = ctx
	if e.At.IsZero() {
		e.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return errors.New("event file closed")
	}
	return json.NewEncoder(s.f).Encode(e)
}

func (s *fileStore) RecentSessionEvents(ctx context.Context, limit int) ([]SessionEvent, error) {
	_ = ctx
	if limit <= 0 {
		limit = 50
	}

	s.mu.Lock()
	path := s.path
	s.mu.Unlock()

	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	// Ring over the last `limit` decoded lines; memory stays bounded no
	// matter how large the file has grown.
	ring := make([]SessionEvent, limit)
	n := 0
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e SessionEvent
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			// Torn tail line after a crash; skip it.
			continue
		}
		ring[n%limit] = e
		n++
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	if n <= limit {
		return append([]SessionEvent(nil), ring[:n]...), nil
	}
	out := make([]SessionEvent, 0, limit)
	out = append(out, ring[n%limit:]...)
	out = append(out, ring[:n%limit]...)
	return out, nil
}

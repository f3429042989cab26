package module

import (
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	logx "sessiond/pkg/logx"
)

// Scope is the per-instance isolation boundary created at instantiation and
// torn down at disposal. Two concurrently live instances never share mutable
// state through their scopes: each gets its own logger, its own HTTP client
// (own transport, own connection pool) and its own secrets handle.
//
// Close releases everything resolved through the scope and is idempotent.
type Scope struct {
	desc Descriptor
	log  logx.Logger

	httpOnce sync.Once
	http     *http.Client

	secOnce sync.Once
	secrets *SecretStore
	secRoot string

	mu      sync.Mutex
	closers []func() error
	closed  bool
}

func NewScope(desc Descriptor, log logx.Logger, secretsRoot string) *Scope {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Scope{
		desc:    desc,
		log:     log.With(logx.String("module", desc.Name)),
		secRoot: secretsRoot,
	}
}

// Descriptor returns the descriptor this scope was created for, so factories
// can resolve module context without global state.
func (s *Scope) Descriptor() Descriptor { return s.desc }

func (s *Scope) Log() logx.Logger { return s.log }

// HTTPClient returns the scope-owned HTTP client, built lazily with its own
// transport so connection state never leaks between instances.
func (s *Scope) HTTPClient() *http.Client {
	s.httpOnce.Do(func() {
		tr := &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:        8,
			IdleConnTimeout:     60 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		}
		s.http = &http.Client{Transport: tr, Timeout: 30 * time.Second}
		s.OnClose(func() error {
			tr.CloseIdleConnections()
			return nil
		})
	})
	return s.http
}

// Secrets returns the scope-owned secret store rooted at the module's own
// subdirectory. Returns an error if the scope has no secrets root configured.
func (s *Scope) Secrets() (*SecretStore, error) {
	if s.secRoot == "" {
		return nil, errors.New("scope has no secrets root")
	}
	var err error
	s.secOnce.Do(func() {
		s.secrets, err = openSecretStore(s.secRoot, s.desc.ID.String())
	})
	if err != nil {
		return nil, err
	}
	if s.secrets == nil {
		return nil, errors.New("secret store unavailable")
	}
	return s.secrets, nil
}

// OnClose registers a teardown function. Closers run in reverse registration
// order when the scope is closed.
func (s *Scope) OnClose(fn func() error) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		// Scope already torn down; run immediately so nothing leaks.
		_ = fn()
		return
	}
	s.closers = append(s.closers, fn)
	s.mu.Unlock()
}

// Close tears down everything resolved through the scope. Idempotent; the
// first error is returned but all closers still run.
func (s *Scope) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	closers := s.closers
	s.closers = nil
	s.mu.Unlock()

	var first error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Package registry holds the discovered module descriptors and creates
// isolated instances on demand.
package registry

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"sessiond/internal/module"
	logx "sessiond/pkg/logx"
)

var ErrUnknownModule = errors.New("module not registered")

// Registry is safe for concurrent reads; instantiations are independent and
// never block each other. The descriptor set is replaced wholesale on rescan.
type Registry struct {
	mu     sync.RWMutex
	descs  []module.Descriptor
	byID   map[uuid.UUID]int
	log    logx.Logger
	secret string
}

func New(log logx.Logger, secretsRoot string) *Registry {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Registry{
		log:    log,
		secret: secretsRoot,
		byID:   map[uuid.UUID]int{},
	}
}

// Replace swaps the full descriptor set (initial load and rescans).
func (r *Registry) Replace(descs []module.Descriptor) {
	cp := append([]module.Descriptor(nil), descs...)
	byID := make(map[uuid.UUID]int, len(cp))
	for i, d := range cp {
		byID[d.ID] = i
	}
	r.mu.Lock()
	r.descs = cp
	r.byID = byID
	r.mu.Unlock()
	r.log.Info("registry updated", logx.Int("modules", len(cp)))
}

// All returns a snapshot of every registered descriptor.
func (r *Registry) All() []module.Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]module.Descriptor(nil), r.descs...)
}

func (r *Registry) Get(id uuid.UUID) (module.Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.byID[id]
	if !ok {
		return module.Descriptor{}, false
	}
	return r.descs[i], true
}

// CreateInstance builds a fresh isolation scope for the module, resolves the
// entry factory through it and returns both. The caller becomes the sole
// owner of instance and scope and must close both; closing the scope tears
// down everything resolved within it.
func (r *Registry) CreateInstance(id uuid.UUID) (module.Module, *module.Scope, error) {
	desc, ok := r.Get(id)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnknownModule, id)
	}
	if desc.Factory == nil {
		return nil, nil, fmt.Errorf("module %s has no factory", desc.Name)
	}

	scope := module.NewScope(desc, r.log, r.secret)
	inst, err := invokeFactory(desc.Factory, scope)
	if err != nil {
		_ = scope.Close()
		return nil, nil, fmt.Errorf("instantiate %s: %w", desc.Name, err)
	}
	if inst == nil {
		_ = scope.Close()
		return nil, nil, fmt.Errorf("instantiate %s: factory returned nil", desc.Name)
	}
	return inst, scope, nil
}

// invokeFactory turns a factory panic into an error. Interpreted entries
// reach their hooks through reflection, which panics on signature mismatches
// the discovery probe does not screen.
func invokeFactory(f module.Factory, scope *module.Scope) (inst module.Module, err error) {
	defer func() {
		if r := recover(); r != nil {
			inst, err = nil, fmt.Errorf("factory panicked: %v", r)
		}
	}()
	return f(scope)
}

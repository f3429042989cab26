package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"sessiond/internal/module"
	logx "sessiond/pkg/logx"
)

type countedModule struct {
	serial int
}

func (m *countedModule) Settings() []*module.Setting { return nil }
func (m *countedModule) Actions() []module.Action    { return nil }
func (m *countedModule) Init(context.Context) error  { return nil }
func (m *countedModule) ValidateSettings(context.Context) module.ValidationResult {
	return module.OK()
}
func (m *countedModule) OnSessionStart(context.Context) error { return nil }
func (m *countedModule) OnSessionEnd(context.Context) error   { return nil }
func (m *countedModule) Close() error                         { return nil }

func descWith(name string, f module.Factory) module.Descriptor {
	return module.Descriptor{ID: uuid.New(), Name: name, Factory: f}
}

func TestCreateInstanceIsolation(t *testing.T) {
	t.Parallel()

	serial := 0
	d := descWith("counted", func(scope *module.Scope) (module.Module, error) {
		serial++
		return &countedModule{serial: serial}, nil
	})

	r := New(logx.Logger{}, "")
	r.Replace([]module.Descriptor{d})

	m1, s1, err := r.CreateInstance(d.ID)
	if err != nil {
		t.Fatalf("first instance: %v", err)
	}
	m2, s2, err := r.CreateInstance(d.ID)
	if err != nil {
		t.Fatalf("second instance: %v", err)
	}
	if m1 == m2 {
		t.Fatal("overlapping instantiations returned the same instance")
	}
	if s1 == s2 {
		t.Fatal("overlapping instantiations shared a scope")
	}
	if m1.(*countedModule).serial == m2.(*countedModule).serial {
		t.Fatal("factory was not invoked per instantiation")
	}
	_ = s1.Close()
	_ = s2.Close()
}

func TestCreateInstanceUnknownID(t *testing.T) {
	t.Parallel()

	r := New(logx.Logger{}, "")
	_, _, err := r.CreateInstance(uuid.New())
	if !errors.Is(err, ErrUnknownModule) {
		t.Fatalf("err = %v, want ErrUnknownModule", err)
	}
}

func TestCreateInstanceFactoryFailureClosesScope(t *testing.T) {
	t.Parallel()

	closed := false
	d := descWith("broken", func(scope *module.Scope) (module.Module, error) {
		scope.OnClose(func() error { closed = true; return nil })
		return nil, errors.New("cannot build")
	})

	r := New(logx.Logger{}, "")
	r.Replace([]module.Descriptor{d})

	if _, _, err := r.CreateInstance(d.ID); err == nil {
		t.Fatal("expected factory failure")
	}
	if !closed {
		t.Fatal("scope not closed after factory failure")
	}
}

func TestCreateInstancePanickingFactory(t *testing.T) {
	t.Parallel()

	closed := false
	d := descWith("bomb", func(scope *module.Scope) (module.Module, error) {
		scope.OnClose(func() error { closed = true; return nil })
		panic("factory exploded")
	})

	r := New(logx.Logger{}, "")
	r.Replace([]module.Descriptor{d})

	_, _, err := r.CreateInstance(d.ID)
	if err == nil {
		t.Fatal("panicking factory produced an instance")
	}
	if !closed {
		t.Fatal("scope not closed after factory panic")
	}

	// The registry stays usable afterwards.
	if _, ok := r.Get(d.ID); !ok {
		t.Fatal("descriptor lost after factory panic")
	}
}

func TestReplaceSwapsDescriptorSet(t *testing.T) {
	t.Parallel()

	old := descWith("old", nil)
	r := New(logx.Logger{}, "")
	r.Replace([]module.Descriptor{old})

	fresh := descWith("fresh", nil)
	r.Replace([]module.Descriptor{fresh})

	if _, ok := r.Get(old.ID); ok {
		t.Fatal("stale descriptor survived Replace")
	}
	if _, ok := r.Get(fresh.ID); !ok {
		t.Fatal("new descriptor missing after Replace")
	}
	if all := r.All(); len(all) != 1 || all[0].Name != "fresh" {
		t.Fatalf("All() = %+v, want only fresh", all)
	}
}

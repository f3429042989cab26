package interp

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"sessiond/internal/module"
	logx "sessiond/pkg/logx"
)

func writeEntry(t *testing.T, src string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "entry.go")
	if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func newEntryInstance(t *testing.T, path string) module.Module {
	t.Helper()
	desc := module.Descriptor{Name: "entry", EntryPath: path}
	scope := module.NewScope(desc, logx.Logger{}, "")
	t.Cleanup(func() { _ = scope.Close() })
	inst, err := Factory(path)(scope)
	if err != nil {
		t.Fatalf("Factory: %v", err)
	}
	t.Cleanup(func() { _ = inst.Close() })
	return inst
}

const minimalEntry = `package main

import "context"

func OnSessionStart(ctx context.Context, settings map[string]string) error { return nil }
`

func TestProbeAcceptsMinimalEntry(t *testing.T) {
	t.Parallel()

	if err := Probe(writeEntry(t, minimalEntry)); err != nil {
		t.Fatalf("Probe: %v", err)
	}
}

func TestProbeRejectsMissingStartHook(t *testing.T) {
	t.Parallel()

	src := `package main

import "context"

func OnSessionEnd(ctx context.Context, settings map[string]string) error { return nil }
`
	err := Probe(writeEntry(t, src))
	if err == nil {
		t.Fatal("entry without OnSessionStart accepted")
	}
	if !strings.Contains(err.Error(), "OnSessionStart") {
		t.Fatalf("err = %v, want it to name the missing hook", err)
	}
}

func TestProbeRejectsBrokenSource(t *testing.T) {
	t.Parallel()

	if err := Probe(writeEntry(t, "package main\n\nfunc {{{\n")); err == nil {
		t.Fatal("unparsable entry accepted")
	}
}

func TestSettingsComeFromDeclaredDefaults(t *testing.T) {
	t.Parallel()

	src := `package main

import (
	"context"
	"fmt"
)

func SettingDefaults() map[string]string {
	return map[string]string{"target": "nobody", "retries": "3"}
}

func OnSessionStart(ctx context.Context, settings map[string]string) error {
	return fmt.Errorf("target=%s retries=%s", settings["target"], settings["retries"])
}
`
	inst := newEntryInstance(t, writeEntry(t, src))

	settings := inst.Settings()
	if len(settings) != 2 {
		t.Fatalf("settings = %v, want retries and target", settings)
	}
	// Keys are sorted for a stable declaration order.
	if settings[0].Key != "retries" || settings[1].Key != "target" {
		t.Fatalf("setting order = %s, %s", settings[0].Key, settings[1].Key)
	}

	module.ApplySettings(inst, map[string]string{"target": "everyone"})
	err := inst.OnSessionStart(context.Background())
	if err == nil || err.Error() != "target=everyone retries=3" {
		t.Fatalf("hook saw %v, want applied value plus default", err)
	}
}

func TestEachInstanceGetsAFreshInterpreter(t *testing.T) {
	t.Parallel()

	src := `package main

import (
	"context"
	"fmt"
)

var calls int

func OnSessionStart(ctx context.Context, settings map[string]string) error {
	calls++
	return fmt.Errorf("calls=%d", calls)
}
`
	path := writeEntry(t, src)
	first := newEntryInstance(t, path)
	second := newEntryInstance(t, path)

	for _, inst := range []module.Module{first, second} {
		err := inst.OnSessionStart(context.Background())
		if err == nil || err.Error() != "calls=1" {
			t.Fatalf("hook saw %v; interpreted state leaked between instances", err)
		}
	}
}

func TestValidateHookMapsToValidationError(t *testing.T) {
	t.Parallel()

	src := `package main

import (
	"context"
	"errors"
)

func Validate(settings map[string]string) error {
	if settings["mode"] == "bad" {
		return errors.New("mode is bad")
	}
	return nil
}

func SettingDefaults() map[string]string { return map[string]string{"mode": "ok"} }

func OnSessionStart(ctx context.Context, settings map[string]string) error { return nil }
`
	inst := newEntryInstance(t, writeEntry(t, src))

	if r := inst.ValidateSettings(context.Background()); r.Level != module.ValidationOK {
		t.Fatalf("default settings rejected: %+v", r)
	}
	module.ApplySettings(inst, map[string]string{"mode": "bad"})
	r := inst.ValidateSettings(context.Background())
	if r.Level != module.ValidationError || !strings.Contains(r.Message, "mode is bad") {
		t.Fatalf("validation = %+v, want error with hook message", r)
	}
}

func TestActionsDispatchThroughRunAction(t *testing.T) {
	t.Parallel()

	src := `package main

import (
	"context"
	"fmt"
)

func Actions() []string { return []string{"ping", "reset"} }

func RunAction(ctx context.Context, name string, settings map[string]string) error {
	return fmt.Errorf("ran %s", name)
}

func OnSessionStart(ctx context.Context, settings map[string]string) error { return nil }
`
	inst := newEntryInstance(t, writeEntry(t, src))

	actions := inst.Actions()
	if len(actions) != 2 || actions[0].Name != "ping" || actions[1].Name != "reset" {
		t.Fatalf("actions = %+v", actions)
	}
	err := actions[1].Run(context.Background())
	if err == nil || err.Error() != "ran reset" {
		t.Fatalf("action run = %v, want the entry's RunAction result", err)
	}
}

func TestOptionalHooksAreOptional(t *testing.T) {
	t.Parallel()

	inst := newEntryInstance(t, writeEntry(t, minimalEntry))

	if err := inst.Init(context.Background()); err != nil {
		t.Fatalf("Init without hook = %v", err)
	}
	if r := inst.ValidateSettings(context.Background()); r.Level != module.ValidationOK {
		t.Fatalf("ValidateSettings without hook = %+v", r)
	}
	if err := inst.OnSessionEnd(context.Background()); err != nil {
		t.Fatalf("OnSessionEnd without hook = %v", err)
	}
	if len(inst.Settings()) != 0 || len(inst.Actions()) != 0 {
		t.Fatal("hookless entry declared settings or actions")
	}
}

// Package interp adapts yaegi-interpreted Go entry files to the module
// capability contract.
//
// An entry file is plain Go evaluated at instantiation time with stdlib
// symbols available. Recognized top-level functions:
//
//	func OnSessionStart(ctx context.Context, settings map[string]string) error  // required
//	func OnSessionEnd(ctx context.Context, settings map[string]string) error    // optional
//	func Init(ctx context.Context) error                                        // optional
//	func SettingDefaults() map[string]string                                    // optional
//	func Validate(settings map[string]string) error                             // optional
//	func Actions() []string                                                     // optional, with
//	func RunAction(ctx context.Context, name string, settings map[string]string) error
//
// Each instantiation evaluates the file in a fresh interpreter, so two
// concurrent instances share no interpreted state.
package interp

import (
	"context"
	"fmt"
	"reflect"
	"sort"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"sessiond/internal/module"
)

const hookSessionStart = "OnSessionStart"

// Probe evaluates the entry file once and verifies it defines a callable
// session-start hook. Used by the loader to reject broken entries at
// discovery time without keeping the interpreter around.
func Probe(path string) error {
	p, err := load(path)
	if err != nil {
		return err
	}
	if _, ok := p.fns[hookSessionStart]; !ok {
		return fmt.Errorf("entry %s: missing required %s hook", path, hookSessionStart)
	}
	return nil
}

// Factory returns a module factory that re-evaluates the entry file in a
// fresh interpreter per instantiation.
func Factory(path string) module.Factory {
	return func(scope *module.Scope) (module.Module, error) {
		p, err := load(path)
		if err != nil {
			return nil, err
		}
		if _, ok := p.fns[hookSessionStart]; !ok {
			return nil, fmt.Errorf("entry %s: missing required %s hook", path, hookSessionStart)
		}
		m := &interpModule{path: path, fns: p.fns}
		m.settings = buildSettings(p.fns)
		m.actions = buildActions(m)
		return m, nil
	}
}

type program struct {
	fns map[string]reflect.Value
}

var hookNames = []string{
	hookSessionStart, "OnSessionEnd", "Init", "SettingDefaults", "Validate", "Actions", "RunAction",
}

func load(path string) (*program, error) {
	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		return nil, fmt.Errorf("entry %s: stdlib symbols: %w", path, err)
	}
	if _, err := i.EvalPath(path); err != nil {
		return nil, fmt.Errorf("entry %s: interpret: %w", path, err)
	}
	fns := make(map[string]reflect.Value, len(hookNames))
	for _, name := range hookNames {
		v, err := i.Eval(name)
		if err != nil || !v.IsValid() || v.Kind() != reflect.Func {
			continue
		}
		fns[name] = v
	}
	return &program{fns: fns}, nil
}

func buildSettings(fns map[string]reflect.Value) []*module.Setting {
	fn, ok := fns["SettingDefaults"]
	if !ok {
		return nil
	}
	out := call(fn)
	if len(out) == 0 {
		return nil
	}
	defaults, ok := out[0].Interface().(map[string]string)
	if !ok || len(defaults) == 0 {
		return nil
	}
	keys := make([]string, 0, len(defaults))
	for k := range defaults {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	settings := make([]*module.Setting, 0, len(keys))
	for _, k := range keys {
		settings = append(settings, module.NewSetting(k, k, defaults[k]))
	}
	return settings
}

func buildActions(m *interpModule) []module.Action {
	listFn, ok := m.fns["Actions"]
	if !ok {
		return nil
	}
	runFn, ok := m.fns["RunAction"]
	if !ok {
		return nil
	}
	out := call(listFn)
	if len(out) == 0 {
		return nil
	}
	names, ok := out[0].Interface().([]string)
	if !ok {
		return nil
	}
	actions := make([]module.Action, 0, len(names))
	for _, name := range names {
		name := name
		actions = append(actions, module.Action{
			Name: name,
			Run: func(ctx context.Context) error {
				return asErr(call(runFn, ctx, name, module.SettingsMap(m)))
			},
		})
	}
	return actions
}

type interpModule struct {
	path     string
	fns      map[string]reflect.Value
	settings []*module.Setting
	actions  []module.Action
}

func (m *interpModule) Settings() []*module.Setting { return m.settings }
func (m *interpModule) Actions() []module.Action    { return m.actions }

func (m *interpModule) Init(ctx context.Context) error {
	fn, ok := m.fns["Init"]
	if !ok {
		return nil
	}
	return asErr(call(fn, ctx))
}

func (m *interpModule) ValidateSettings(ctx context.Context) module.ValidationResult {
	_ = ctx
	fn, ok := m.fns["Validate"]
	if !ok {
		return module.OK()
	}
	if err := asErr(call(fn, module.SettingsMap(m))); err != nil {
		return module.Errorf("%v", err)
	}
	return module.OK()
}

func (m *interpModule) OnSessionStart(ctx context.Context) error {
	return asErr(call(m.fns[hookSessionStart], ctx, module.SettingsMap(m)))
}

func (m *interpModule) OnSessionEnd(ctx context.Context) error {
	fn, ok := m.fns["OnSessionEnd"]
	if !ok {
		return nil
	}
	return asErr(call(fn, ctx, module.SettingsMap(m)))
}

func (m *interpModule) Close() error {
	// The interpreter holds no external resources beyond what hooks opened;
	// dropping the reference is enough.
	m.fns = nil
	return nil
}

// call invokes an interpreted function with best-effort argument matching:
// surplus declared parameters are not supported, but a hook declaring fewer
// parameters than provided is called with the prefix it asks for.
func call(fn reflect.Value, args ...any) []reflect.Value {
	if !fn.IsValid() || fn.Kind() != reflect.Func {
		return nil
	}
	n := fn.Type().NumIn()
	if n > len(args) {
		n = len(args)
	}
	in := make([]reflect.Value, 0, n)
	for i := 0; i < n; i++ {
		if args[i] == nil {
			in = append(in, reflect.Zero(fn.Type().In(i)))
			continue
		}
		in = append(in, reflect.ValueOf(args[i]))
	}
	return fn.Call(in)
}

func asErr(out []reflect.Value) error {
	for _, v := range out {
		if !v.IsValid() {
			continue
		}
		if err, ok := v.Interface().(error); ok && err != nil {
			return err
		}
	}
	return nil
}

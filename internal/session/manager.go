// Package session orchestrates module lifecycles: all-or-nothing start with
// reverse-order rollback, best-effort stop, and a single-active-session
// invariant.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"sessiond/internal/eventbus"
	"sessiond/internal/module"
	"sessiond/internal/notifier"
	"sessiond/internal/preset"
	"sessiond/internal/storage"
	logx "sessiond/pkg/logx"
)

// Timeouts bound each lifecycle hook call. A timed-out hook is treated like a
// failed one; the hook itself keeps running until it observes cancellation.
type Timeouts struct {
	Init     time.Duration
	Validate time.Duration
	Start    time.Duration
	Stop     time.Duration
}

func (t Timeouts) withDefaults() Timeouts {
	if t.Init <= 0 {
		t.Init = 30 * time.Second
	}
	if t.Validate <= 0 {
		t.Validate = 15 * time.Second
	}
	if t.Start <= 0 {
		t.Start = 60 * time.Second
	}
	if t.Stop <= 0 {
		t.Stop = 30 * time.Second
	}
	return t
}

// Instances is the slice of the registry the manager needs.
type Instances interface {
	Get(id uuid.UUID) (module.Descriptor, bool)
	CreateInstance(id uuid.UUID) (module.Module, *module.Scope, error)
}

// Notices is the fire-and-forget notification collaborator.
type Notices interface {
	Notify(n notifier.Notice)
}

type Deps struct {
	Registry Instances
	Log      logx.Logger
	Bus      eventbus.Bus
	Notices  Notices
	Store    storage.Store
	Timeouts Timeouts
}

// ActiveSession is the published snapshot of the running session.
type ActiveSession struct {
	ID         uuid.UUID
	PresetID   uuid.UUID
	PresetName string
	Trigger    string
	StartedAt  time.Time
	Modules    []string
}

// member is one instantiated preset entry plus its rollback bookkeeping.
type member struct {
	id      uuid.UUID
	name    string
	inst    module.Module
	scope   *module.Scope
	started bool
}

type Manager struct {
	deps Deps
	log  logx.Logger

	mu      sync.Mutex
	state   State
	active  *ActiveSession
	members []*member
}

func New(deps Deps) *Manager {
	if deps.Log.IsZero() {
		deps.Log = logx.Nop()
	}
	deps.Timeouts = deps.Timeouts.withDefaults()
	return &Manager{
		deps: deps,
		log:  deps.Log.With(logx.String("comp", "session")),
	}
}

// Status reports the current state and, when Running, a copy of the active
// session.
func (m *Manager) Status() (State, *ActiveSession) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return m.state, nil
	}
	cp := *m.active
	cp.Modules = append([]string(nil), m.active.Modules...)
	return m.state, &cp
}

// StartSession runs the full start pass for the preset: instantiate and
// configure every module in order, initialize all, validate all, then fire
// start hooks. Any failure tears down everything already built (start hooks
// already completed get a reverse-order stop hook) and returns a single
// *StartError with the manager back in Idle. Trigger is recorded verbatim in
// the audit trail ("manual" or "schedule:<name>").
func (m *Manager) StartSession(ctx context.Context, p preset.Preset, trigger string) (*ActiveSession, error) {
	m.mu.Lock()
	if m.state != StateIdle {
		m.mu.Unlock()
		return nil, ErrSessionActive
	}
	m.state = StateValidating
	m.mu.Unlock()

	sessionID := uuid.New()
	began := time.Now()
	log := m.log.With(
		logx.String("session", sessionID.String()),
		logx.String("preset", p.Name),
	)
	log.Info("session start requested",
		logx.Int("modules", len(p.Modules)),
		logx.String("trigger", trigger))

	members, err := m.buildMembers(p)
	if err == nil {
		err = m.initPhase(ctx, log, members)
	}
	if err == nil {
		err = m.validatePhase(ctx, log, members)
	}
	if err != nil {
		m.abortStart(ctx, log, sessionID, p, trigger, members, err, began)
		return nil, err
	}

	m.mu.Lock()
	m.state = StateStarting
	m.mu.Unlock()

	if err := m.startPhase(ctx, log, members); err != nil {
		m.abortStart(ctx, log, sessionID, p, trigger, members, err, began)
		return nil, err
	}

	names := make([]string, len(members))
	for i, mem := range members {
		names[i] = mem.name
	}
	active := &ActiveSession{
		ID:         sessionID,
		PresetID:   p.ID,
		PresetName: p.Name,
		Trigger:    trigger,
		StartedAt:  time.Now(),
		Modules:    names,
	}

	m.mu.Lock()
	m.active = active
	m.members = members
	m.state = StateRunning
	m.mu.Unlock()

	log.Info("session running", logx.Duration("took", time.Since(began)))
	m.publish("session.started", active.ID.String())
	m.notify(notifier.LevelInfo, "Session started",
		fmt.Sprintf("Preset %q is running with %d module(s).", p.Name, len(members)))
	m.record(ctx, storage.SessionEvent{
		Type:      "started",
		SessionID: sessionID.String(),
		Preset:    p.Name,
		Trigger:   trigger,
		TookMS:    time.Since(began).Milliseconds(),
	})

	cp := *active
	cp.Modules = append([]string(nil), active.Modules...)
	return &cp, nil
}

// StopSession ends the running session: every module's session-end hook is
// invoked in reverse start order, failures are logged per module and never
// halt the pass. A no-op when Idle; rejected while a start or stop is in
// flight.
func (m *Manager) StopSession(ctx context.Context) error {
	m.mu.Lock()
	switch m.state {
	case StateIdle:
		m.mu.Unlock()
		return nil
	case StateRunning:
		// proceed
	default:
		st := m.state
		m.mu.Unlock()
		return fmt.Errorf("%w (%s)", ErrSessionBusy, st)
	}
	m.state = StateStopping
	members := m.members
	active := m.active
	m.mu.Unlock()

	log := m.log.With(logx.String("session", active.ID.String()))
	log.Info("stopping session", logx.Int("modules", len(members)))
	began := time.Now()

	m.stopMembers(ctx, log, members, "stop")
	m.disposeMembers(log, members)

	m.mu.Lock()
	m.active = nil
	m.members = nil
	m.state = StateIdle
	m.mu.Unlock()

	log.Info("session stopped", logx.Duration("took", time.Since(began)))
	m.publish("session.stopped", active.ID.String())
	m.notify(notifier.LevelInfo, "Session stopped",
		fmt.Sprintf("Preset %q has been stopped.", active.PresetName))
	m.record(ctx, storage.SessionEvent{
		Type:      "stopped",
		SessionID: active.ID.String(),
		Preset:    active.PresetName,
		Trigger:   active.Trigger,
		TookMS:    time.Since(began).Milliseconds(),
	})
	return nil
}

// Close stops any active session before the manager goes away.
func (m *Manager) Close(ctx context.Context) error {
	return m.StopSession(ctx)
}

// buildMembers resolves, instantiates and configures every preset entry in
// order. On any failure the members built so far are returned alongside the
// error so the caller can dispose them.
func (m *Manager) buildMembers(p preset.Preset) ([]*member, error) {
	members := make([]*member, 0, len(p.Modules))
	for _, mc := range p.Modules {
		desc, ok := m.deps.Registry.Get(mc.ModuleID)
		if !ok {
			return members, &StartError{
				Module: mc.ModuleID.String(),
				Phase:  "resolve",
				Err:    fmt.Errorf("module not found: %s", mc.ModuleID),
			}
		}
		inst, scope, err := safeCreate(m.deps.Registry, mc.ModuleID)
		if err != nil {
			return members, &StartError{Module: desc.Name, Phase: "instantiate", Err: err}
		}
		module.ApplySettings(inst, mc.Settings)
		members = append(members, &member{
			id:    desc.ID,
			name:  desc.Name,
			inst:  inst,
			scope: scope,
		})
	}
	return members, nil
}

func (m *Manager) initPhase(ctx context.Context, log logx.Logger, members []*member) error {
	for _, mem := range members {
		err := m.callHook(ctx, log, m.deps.Timeouts.Init, "init", mem.name, mem.inst.Init)
		if err != nil {
			return &StartError{Module: mem.name, Phase: "init", Err: err}
		}
	}
	return nil
}

func (m *Manager) validatePhase(ctx context.Context, log logx.Logger, members []*member) error {
	for _, mem := range members {
		var vr module.ValidationResult
		err := m.callHook(ctx, log, m.deps.Timeouts.Validate, "validate", mem.name,
			func(c context.Context) error {
				vr = mem.inst.ValidateSettings(c)
				return nil
			})
		if err != nil {
			return &StartError{Module: mem.name, Phase: "validate", Err: err}
		}
		switch vr.Level {
		case module.ValidationWarning:
			log.Warn("settings validation warning",
				logx.String("module", mem.name), logx.String("msg", vr.Message))
		case module.ValidationError:
			return &StartError{
				Module: mem.name,
				Phase:  "validate",
				Err:    fmt.Errorf("settings invalid: %s", vr.Message),
			}
		}
	}
	return nil
}

func (m *Manager) startPhase(ctx context.Context, log logx.Logger, members []*member) error {
	for _, mem := range members {
		err := m.callHook(ctx, log, m.deps.Timeouts.Start, "start", mem.name, mem.inst.OnSessionStart)
		if err != nil {
			return &StartError{Module: mem.name, Phase: "start", Err: err}
		}
		mem.started = true
	}
	return nil
}

// abortStart is the single failure path out of StartSession: reverse-order
// stop hooks for the members whose start hook completed, disposal of every
// instance and scope, then back to Idle before the error surfaces.
func (m *Manager) abortStart(ctx context.Context, log logx.Logger, sessionID uuid.UUID, p preset.Preset, trigger string, members []*member, cause error, began time.Time) {
	m.mu.Lock()
	m.state = StateRollingBack
	m.mu.Unlock()

	var started []*member
	for _, mem := range members {
		if mem.started {
			started = append(started, mem)
		}
	}
	if len(started) > 0 {
		log.Warn("rolling back started modules", logx.Int("count", len(started)))
		m.stopMembers(ctx, log, started, "rollback")
	}
	m.disposeMembers(log, members)

	m.mu.Lock()
	m.state = StateIdle
	m.mu.Unlock()

	log.Error("session start failed", logx.Err(cause))
	m.publish("session.start_failed", cause.Error())
	m.notify(notifier.LevelError, "Session start failed", cause.Error())

	ev := storage.SessionEvent{
		Type:      "start_failed",
		SessionID: sessionID.String(),
		Preset:    p.Name,
		Trigger:   trigger,
		Error:     cause.Error(),
		TookMS:    time.Since(began).Milliseconds(),
	}
	var se *StartError
	if errors.As(cause, &se) {
		ev.Module = se.Module
	}
	m.record(ctx, ev)
}

// stopMembers calls OnSessionEnd in reverse order. Best-effort: a failing or
// panicking hook is logged and the pass continues.
func (m *Manager) stopMembers(ctx context.Context, log logx.Logger, members []*member, phase string) {
	for i := len(members) - 1; i >= 0; i-- {
		mem := members[i]
		err := m.callHook(ctx, log, m.deps.Timeouts.Stop, phase, mem.name, mem.inst.OnSessionEnd)
		if err != nil {
			log.Warn("session-end hook failed",
				logx.String("module", mem.name),
				logx.String("phase", phase),
				logx.Err(err))
		}
	}
}

// disposeMembers closes instances and scopes in reverse creation order.
func (m *Manager) disposeMembers(log logx.Logger, members []*member) {
	for i := len(members) - 1; i >= 0; i-- {
		mem := members[i]
		if err := safeClose(mem.inst.Close); err != nil {
			log.Warn("module close failed", logx.String("module", mem.name), logx.Err(err))
		}
		if err := safeClose(mem.scope.Close); err != nil {
			log.Warn("scope close failed", logx.String("module", mem.name), logx.Err(err))
		}
	}
}

// callHook invokes one lifecycle hook bounded by timeout. The hook receives a
// context that is cancelled at the deadline; if it does not return in time we
// stop waiting and treat the call as failed. The hook goroutine is left to
// finish on its own and its late outcome is logged.
func (m *Manager) callHook(ctx context.Context, log logx.Logger, timeout time.Duration, hook, modName string, fn func(context.Context) error) error {
	hctx, cancel := context.WithTimeout(ctx, timeout)

	done := make(chan error, 1)
	go func() {
		done <- safeCall(hctx, fn)
	}()

	select {
	case err := <-done:
		cancel()
		return err
	case <-hctx.Done():
		cancel()
		go func() {
			err := <-done
			log.Warn("hook finished after deadline",
				logx.String("module", modName),
				logx.String("hook", hook),
				logx.Err(err))
		}()
		return fmt.Errorf("%s hook did not finish within %s: %w", hook, timeout, hctx.Err())
	}
}

// safeCreate converts an instantiation panic into an error so the start pass
// always reaches abortStart and the manager returns to Idle.
func safeCreate(reg Instances, id uuid.UUID) (inst module.Module, scope *module.Scope, err error) {
	defer func() {
		if r := recover(); r != nil {
			inst, scope, err = nil, nil, fmt.Errorf("instantiation panicked: %v", r)
		}
	}()
	return reg.CreateInstance(id)
}

func safeCall(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("hook panicked: %v", r)
		}
	}()
	return fn(ctx)
}

func safeClose(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("close panicked: %v", r)
		}
	}()
	return fn()
}

func (m *Manager) publish(typ, data string) {
	if m.deps.Bus != nil {
		m.deps.Bus.Publish(eventbus.Event{Type: typ, Data: data})
	}
}

func (m *Manager) notify(level notifier.Level, title, body string) {
	if m.deps.Notices != nil {
		m.deps.Notices.Notify(notifier.Notice{Level: level, Title: title, Body: body})
	}
}

func (m *Manager) record(ctx context.Context, ev storage.SessionEvent) {
	if m.deps.Store == nil {
		return
	}
	cctx, cancel := context.WithTimeout(withoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := m.deps.Store.AppendSessionEvent(cctx, ev); err != nil {
		m.log.Warn("audit write failed", logx.Err(err))
	}
}

// withoutCancel keeps audit writes alive through caller cancellation.
func withoutCancel(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return context.WithoutCancel(ctx)
}

package schedule

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"sessiond/internal/eventbus"
	"sessiond/internal/notifier"
	"sessiond/internal/preset"
	rtsup "sessiond/internal/runtime/supervisor"
	"sessiond/internal/session"
	logx "sessiond/pkg/logx"
)

var ErrNotFound = errors.New("schedule not found")

const defaultTick = 30 * time.Second

// SessionStarter is the slice of the session manager the loop drives.
type SessionStarter interface {
	StartSession(ctx context.Context, p preset.Preset, trigger string) (*session.ActiveSession, error)
}

// PresetSource resolves a schedule's preset reference at fire time.
type PresetSource interface {
	Get(id uuid.UUID) (preset.Preset, error)
}

type Deps struct {
	Path    string // the single collection file
	Tick    time.Duration
	Log     logx.Logger
	Bus     eventbus.Bus
	Notices session.Notices
	Starter SessionStarter
	Presets PresetSource
}

// scheduleFile is the on-disk shape of the whole collection.
type scheduleFile struct {
	Version   int        `json:"version"`
	Schedules []Schedule `json:"schedules"`
}

// Manager owns the schedule collection. All mutations go through it and are
// flushed to disk in full before the call returns.
type Manager struct {
	deps Deps
	log  logx.Logger

	mu        sync.Mutex
	loaded    bool
	schedules map[uuid.UUID]Schedule
	sup       *rtsup.Supervisor
}

func New(deps Deps) (*Manager, error) {
	if strings.TrimSpace(deps.Path) == "" {
		return nil, errors.New("schedule file path is required")
	}
	if deps.Tick <= 0 {
		deps.Tick = defaultTick
	}
	if deps.Log.IsZero() {
		deps.Log = logx.Nop()
	}
	return &Manager{
		deps:      deps,
		log:       deps.Log.With(logx.String("comp", "schedule")),
		schedules: map[uuid.UUID]Schedule{},
	}, nil
}

// List returns all schedules sorted by name.
func (m *Manager) List() ([]Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.ensureLoadedLocked(); err != nil {
		return nil, err
	}
	out := make([]Schedule, 0, len(m.schedules))
	for _, s := range m.schedules {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Manager) Get(id uuid.UUID) (Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.ensureLoadedLocked(); err != nil {
		return Schedule{}, err
	}
	s, ok := m.schedules[id]
	if !ok {
		return Schedule{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s, nil
}

// Save inserts or replaces a schedule and rewrites the collection file.
// A zero ID is assigned a fresh one.
func (m *Manager) Save(s Schedule) (Schedule, error) {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	if err := s.Validate(); err != nil {
		return Schedule{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.ensureLoadedLocked(); err != nil {
		return Schedule{}, err
	}
	m.schedules[s.ID] = s
	if err := m.persistLocked(); err != nil {
		return Schedule{}, err
	}
	return s, nil
}

func (m *Manager) Delete(id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.ensureLoadedLocked(); err != nil {
		return err
	}
	if _, ok := m.schedules[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(m.schedules, id)
	return m.persistLocked()
}

// SetEnabled flips a schedule's enabled flag and persists the collection.
func (m *Manager) SetEnabled(id uuid.UUID, enabled bool) (Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.ensureLoadedLocked(); err != nil {
		return Schedule{}, err
	}
	s, ok := m.schedules[id]
	if !ok {
		return Schedule{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if s.Enabled == enabled {
		return s, nil
	}
	s.Enabled = enabled
	m.schedules[id] = s
	if err := m.persistLocked(); err != nil {
		return Schedule{}, err
	}
	return s, nil
}

// Start loads the collection and launches the trigger loop. Idempotent.
func (m *Manager) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	m.mu.Lock()
	if m.sup != nil {
		m.mu.Unlock()
		return nil
	}
	if err := m.ensureLoadedLocked(); err != nil {
		m.mu.Unlock()
		return err
	}
	m.sup = rtsup.New(ctx,
		rtsup.WithLogger(m.log),
		rtsup.WithCancelOnError(false),
	)
	sup := m.sup
	n := len(m.schedules)
	m.mu.Unlock()

	m.log.Info("schedule loop starting",
		logx.Int("schedules", n),
		logx.Duration("tick", m.deps.Tick))
	sup.Go0("schedule.loop", m.loop)
	return nil
}

// Stop halts the trigger loop. Persisted state is untouched.
func (m *Manager) Stop() {
	m.mu.Lock()
	sup := m.sup
	m.sup = nil
	m.mu.Unlock()
	if sup == nil {
		return
	}
	sup.Cancel()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = sup.Wait(ctx)
}

func (m *Manager) Close() error {
	m.Stop()
	return nil
}

func (m *Manager) loop(ctx context.Context) {
	t := time.NewTicker(m.deps.Tick)
	defer t.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			m.checkDue(ctx, last, now)
			last = now
		}
	}
}

// checkDue fires every enabled schedule whose next run, computed from the
// previous tick, has arrived by now. One schedule's failure never blocks the
// others in the same tick.
func (m *Manager) checkDue(ctx context.Context, since, now time.Time) {
	m.mu.Lock()
	snapshot := make([]Schedule, 0, len(m.schedules))
	for _, s := range m.schedules {
		snapshot = append(snapshot, s)
	}
	m.mu.Unlock()
	sort.Slice(snapshot, func(i, j int) bool { return snapshot[i].Name < snapshot[j].Name })

	for _, s := range snapshot {
		next, ok := NextRun(s, since)
		if !ok || next.After(now) {
			continue
		}
		m.fire(ctx, s)
	}
}

// fire runs one due schedule. A one-shot schedule is disabled and persisted
// before the start attempt so a slow or repeated tick can never double-fire
// it.
func (m *Manager) fire(ctx context.Context, s Schedule) {
	log := m.log.With(logx.String("schedule", s.Name))

	if s.Kind == KindOnce {
		if !m.disarmOnce(s.ID) {
			return
		}
	}

	p, err := m.deps.Presets.Get(s.PresetID)
	if err != nil {
		log.Error("schedule preset unavailable", logx.Err(err))
		m.reportFailure(s, fmt.Errorf("preset %s: %w", s.PresetID, err))
		return
	}

	log.Info("schedule due, starting session", logx.String("preset", p.Name))
	if _, err := m.deps.Starter.StartSession(ctx, p, "schedule:"+s.Name); err != nil {
		log.Error("scheduled start failed", logx.Err(err))
		m.reportFailure(s, err)
		return
	}
	if m.deps.Bus != nil {
		m.deps.Bus.Publish(eventbus.Event{Type: "schedule.fired", Data: s.Name})
	}
}

// disarmOnce atomically disables a one-shot schedule. Returns false when the
// schedule was already disabled or deleted, meaning another pass claimed it.
func (m *Manager) disarmOnce(id uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.schedules[id]
	if !ok || !s.Enabled {
		return false
	}
	s.Enabled = false
	m.schedules[id] = s
	if err := m.persistLocked(); err != nil {
		m.log.Error("persisting disabled one-shot failed", logx.Err(err))
	}
	return true
}

func (m *Manager) reportFailure(s Schedule, err error) {
	if m.deps.Bus != nil {
		m.deps.Bus.Publish(eventbus.Event{Type: "schedule.start_failed", Data: s.Name})
	}
	if m.deps.Notices != nil {
		m.deps.Notices.Notify(notifier.Notice{
			Level: notifier.LevelError,
			Title: "Schedule failed to start",
			Body:  fmt.Sprintf("Schedule %q: %v", s.Name, err),
		})
	}
}

func (m *Manager) ensureLoadedLocked() error {
	if m.loaded {
		return nil
	}
	b, err := os.ReadFile(m.deps.Path)
	if os.IsNotExist(err) {
		m.loaded = true
		return nil
	}
	if err != nil {
		return err
	}
	var f scheduleFile
	if err := json.Unmarshal(b, &f); err != nil {
		return fmt.Errorf("parse %s: %w", m.deps.Path, err)
	}
	for _, s := range f.Schedules {
		if s.ID == uuid.Nil {
			m.log.Warn("schedule without id skipped", logx.String("name", s.Name))
			continue
		}
		m.schedules[s.ID] = s
	}
	m.loaded = true
	return nil
}

// persistLocked rewrites the whole collection file via temp file + rename.
func (m *Manager) persistLocked() error {
	f := scheduleFile{Version: 1, Schedules: make([]Schedule, 0, len(m.schedules))}
	for _, s := range m.schedules {
		f.Schedules = append(f.Schedules, s)
	}
	sort.Slice(f.Schedules, func(i, j int) bool {
		return f.Schedules[i].ID.String() < f.Schedules[j].ID.String()
	})

	b, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(m.deps.Path), 0o755); err != nil {
		return err
	}
	tmp := m.deps.Path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, m.deps.Path)
}

// Package proclaunch is a builtin module that runs an external process for
// the lifetime of a session.
package proclaunch

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"time"

	"sessiond/internal/module"
	logx "sessiond/pkg/logx"
)

const Name = "proclaunch"

type mod struct {
	log logx.Logger

	command   *module.Setting
	args      *module.Setting
	workdir   *module.Setting
	stopGrace *module.Setting

	mu   sync.Mutex
	cmd  *exec.Cmd
	done chan error
}

// New is the builtin factory registered under "builtin:proclaunch".
func New(scope *module.Scope) (module.Module, error) {
	return &mod{
		log:       scope.Log(),
		command:   module.NewSetting("command", "Command", "").WithDescription("Executable to launch at session start"),
		args:      module.NewSetting("args", "Arguments", "").WithDescription("Space-separated argument list"),
		workdir:   module.NewSetting("workdir", "Working directory", ""),
		stopGrace: module.NewSetting("stop_grace", "Stop grace period", "5s").WithDescription("Time to wait after SIGTERM before killing"),
	}, nil
}

func (m *mod) Settings() []*module.Setting {
	return []*module.Setting{m.command, m.args, m.workdir, m.stopGrace}
}

func (m *mod) Actions() []module.Action {
	return []module.Action{
		{
			Name:        "restart",
			Description: "Restart the launched process",
			Run: func(ctx context.Context) error {
				if err := m.OnSessionEnd(ctx); err != nil {
					return err
				}
				return m.OnSessionStart(ctx)
			},
		},
	}
}

func (m *mod) Init(ctx context.Context) error { return nil }

func (m *mod) ValidateSettings(ctx context.Context) module.ValidationResult {
	cmd := strings.TrimSpace(m.command.Get())
	if cmd == "" {
		return module.Errorf("command is required")
	}
	if _, err := time.ParseDuration(m.stopGrace.Get()); err != nil {
		return module.Errorf("stop_grace: %v", err)
	}
	if _, err := exec.LookPath(cmd); err != nil {
		return module.Warningf("command %q not found in PATH", cmd)
	}
	return module.OK()
}

func (m *mod) OnSessionStart(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cmd != nil {
		return fmt.Errorf("process already running (pid %d)", m.cmd.Process.Pid)
	}

	name := strings.TrimSpace(m.command.Get())
	var args []string
	if a := strings.TrimSpace(m.args.Get()); a != "" {
		args = strings.Fields(a)
	}

	// Deliberately not CommandContext: the process outlives the start hook.
	cmd := exec.Command(name, args...)
	if wd := strings.TrimSpace(m.workdir.Get()); wd != "" {
		cmd.Dir = wd
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("launch %s: %w", name, err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	m.cmd = cmd
	m.done = done
	m.log.Info("process launched", logx.String("command", name), logx.Int("pid", cmd.Process.Pid))
	return nil
}

func (m *mod) OnSessionEnd(ctx context.Context) error {
	m.mu.Lock()
	cmd := m.cmd
	done := m.done
	m.cmd = nil
	m.done = nil
	m.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return nil
	}

	grace, err := time.ParseDuration(m.stopGrace.Get())
	if err != nil || grace <= 0 {
		grace = 5 * time.Second
	}

	if runtime.GOOS == "windows" {
		_ = cmd.Process.Kill()
	} else if err := cmd.Process.Signal(terminateSignal); err != nil {
		_ = cmd.Process.Kill()
	}

	select {
	case werr := <-done:
		m.logExit(werr)
		return nil
	case <-time.After(grace):
	case <-ctx.Done():
	}

	m.log.Warn("process did not exit in time; killing", logx.Int("pid", cmd.Process.Pid))
	_ = cmd.Process.Kill()
	select {
	case werr := <-done:
		m.logExit(werr)
	case <-time.After(2 * time.Second):
	}
	return nil
}

func (m *mod) logExit(err error) {
	if err != nil {
		m.log.Info("process exited", logx.Err(err))
		return
	}
	m.log.Info("process exited cleanly")
}

func (m *mod) Close() error {
	// A surviving process at disposal time means the end hook never ran
	// (start-phase failure path); reap it here.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return m.OnSessionEnd(ctx)
}

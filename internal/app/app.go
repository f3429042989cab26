// Package app wires the daemon together: config, logging, storage, module
// discovery, the session state machine, schedules and notifications.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"sessiond/internal/config"
	"sessiond/internal/eventbus"
	"sessiond/internal/module"
	"sessiond/internal/module/loader"
	"sessiond/internal/module/registry"
	"sessiond/internal/notifier"
	"sessiond/internal/preset"
	rtsup "sessiond/internal/runtime/supervisor"
	"sessiond/internal/schedule"
	"sessiond/internal/session"
	"sessiond/internal/storage"
	logx "sessiond/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store    storage.Store
	builtins map[string]module.Factory
	reg      *registry.Registry
	presets  *preset.Store
	notif    *notifier.Service
	sess     *session.Manager
	sched    *schedule.Manager
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	// Storage (optional)
	var store storage.Store
	if cfg.Storage != nil {
		busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
		if err != nil {
			return nil, err
		}
		st, err := storage.Open(storage.Config{
			Driver:      cfg.Storage.Driver,
			Path:        cfg.Storage.Path,
			BusyTimeout: busy,
		}, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		if st != nil {
			store = st
			log.Info("storage enabled", logx.String("driver", cfg.Storage.Driver))
		}
	}

	reg := registry.New(log.With(logx.String("comp", "registry")), cfg.Modules.SecretsDir)

	presets, err := preset.NewStore(cfg.Presets.Dir, log.With(logx.String("comp", "presets")))
	if err != nil {
		return nil, err
	}

	notif := buildNotifier(cfg, log, bus)

	initT, validateT, startT, stopT, err := cfg.SessionTimeouts()
	if err != nil {
		return nil, err
	}
	sess := session.New(session.Deps{
		Registry: reg,
		Log:      log,
		Bus:      bus,
		Notices:  notif,
		Store:    store,
		Timeouts: session.Timeouts{
			Init:     initT,
			Validate: validateT,
			Start:    startT,
			Stop:     stopT,
		},
	})

	tick, err := config.ParseDurationField("schedules.tick", cfg.Schedules.Tick)
	if err != nil {
		return nil, err
	}
	sched, err := schedule.New(schedule.Deps{
		Path:    cfg.Schedules.Path,
		Tick:    tick,
		Log:     log,
		Bus:     bus,
		Notices: notif,
		Starter: sess,
		Presets: presets,
	})
	if err != nil {
		return nil, err
	}

	return &App{
		cfgPath:  cfgPath,
		cfgm:     cfgm,
		log:      log,
		logs:     logSvc,
		bus:      bus,
		store:    store,
		builtins: map[string]module.Factory{},
		reg:      reg,
		presets:  presets,
		notif:    notif,
		sess:     sess,
		sched:    sched,
	}, nil
}

func buildNotifier(cfg *config.Config, log logx.Logger, bus eventbus.Bus) *notifier.Service {
	ncfg := notifier.Config{}
	enabled := true
	webhookURL := ""
	if cfg.Notifier != nil {
		enabled = cfg.Notifier.Enabled
		ncfg.QueueSize = cfg.Notifier.QueueSize
		ncfg.RatePerSec = cfg.Notifier.RatePerSec
		webhookURL = cfg.Notifier.WebhookURL
	}
	if !enabled {
		return nil
	}
	sinks := []notifier.Sink{notifier.LogSink{Log: log.With(logx.String("comp", "notice"))}}
	if webhookURL != "" {
		sinks = append(sinks, notifier.WebhookSink{URL: webhookURL})
	}
	return notifier.New(ncfg, log, bus, sinks...)
}

// RegisterBuiltin adds a compiled-in module factory, resolvable from
// manifests via a "builtin:<name>" entry. Must be called before Start.
func (a *App) RegisterBuiltin(name string, f module.Factory) {
	a.builtins[name] = f
}

func (a *App) Sessions() *session.Manager   { return a.sess }
func (a *App) Schedules() *schedule.Manager { return a.sched }
func (a *App) Registry() *registry.Registry { return a.reg }
func (a *App) Presets() *preset.Store       { return a.presets }

// Rescan walks the configured search paths and replaces the registry's
// descriptor set. Discovery failures skip the module, never the scan.
func (a *App) Rescan(ctx context.Context) error {
	cfg := a.cfgm.Get()
	if cfg == nil {
		return fmt.Errorf("no config loaded")
	}
	l := loader.New(a.log.With(logx.String("comp", "loader")), loader.Options{
		Builtins:      a.builtins,
		AllowSymlinks: cfg.Modules.AllowSymlinks,
	})
	a.reg.Replace(l.LoadDescriptors(ctx, cfg.Modules.SearchPaths))
	return nil
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	if err := a.Rescan(a.sup.Context()); err != nil {
		return err
	}

	if a.notif != nil {
		a.notif.Start(a.sup.Context())
	}
	if err := a.sched.Start(a.sup.Context()); err != nil {
		return err
	}

	// Hot reload: recommit logging and re-discover modules on config change.
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(c context.Context, cfg *config.Config) error {
		return cfg.Validate()
	})
	updates := a.cfgm.Subscribe(4)
	a.sup.Go0("config.watch", func(c context.Context) {
		_ = a.cfgm.Watch(c)
	})
	a.sup.Go0("config.apply", func(c context.Context) {
		a.applyLoop(c, updates)
	})

	if sent, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Warn("sd_notify failed", logx.Err(err))
	} else if sent {
		a.log.Debug("sd_notify: ready")
	}
	a.log.Info("daemon started", logx.Int("modules", len(a.reg.All())))
	return nil
}

func (a *App) applyLoop(ctx context.Context, updates chan *config.Config) {
	defer a.cfgm.Unsubscribe(updates)
	var prev *config.Config
	prev = a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-updates:
			if !ok {
				return
			}
			changed, attrs := config.SummarizeConfigChange(prev, cfg)
			if len(changed) > 0 {
				a.log.Info("config changed", append(attrs, logx.Any("sections", changed))...)
			}
			for _, section := range changed {
				switch section {
				case "logging":
					a.logs.Apply(logx.Config{
						Level:   cfg.Logging.Level,
						Console: cfg.Logging.Console,
						File: logx.FileConfig{
							Enabled: cfg.Logging.File.Enabled,
							Path:    cfg.Logging.File.Path,
						},
					})
				case "modules":
					if err := a.Rescan(ctx); err != nil {
						a.log.Warn("module rescan failed", logx.Err(err))
					}
				}
			}
			prev = cfg
		}
	}
}

// Stop tears the daemon down in dependency order: schedules first so nothing
// new fires, then the active session, then notifications and storage.
func (a *App) Stop(ctx context.Context) error {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	a.sched.Stop()

	if err := a.sess.Close(ctx); err != nil {
		a.log.Warn("session shutdown", logx.Err(err))
	}

	if a.notif != nil {
		nctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		a.notif.Stop(nctx)
		cancel()
	}

	if a.sup != nil {
		a.sup.Cancel()
		wctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		_ = a.sup.Wait(wctx)
		cancel()
	}

	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("storage close", logx.Err(err))
		}
	}

	a.log.Info("daemon stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

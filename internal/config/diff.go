package config

import (
	"reflect"
	"sort"
	"strings"

	logx "sessiond/pkg/logx"
)

// SummarizeConfigChange returns a compact list of changed sections plus safe
// structured attrs for logging (never secret material like webhook URLs).
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Modules, newCfg.Modules) {
		changed = append(changed, "modules")
		attrs = append(attrs,
			logx.Int("modules.search_paths", len(newCfg.Modules.SearchPaths)),
			logx.Bool("modules.allow_symlinks", newCfg.Modules.AllowSymlinks),
		)
	}

	if oldCfg.Session != newCfg.Session {
		changed = append(changed, "session")
		attrs = append(attrs,
			logx.String("session.init_timeout", strings.TrimSpace(newCfg.Session.InitTimeout)),
			logx.String("session.start_timeout", strings.TrimSpace(newCfg.Session.StartTimeout)),
			logx.String("session.stop_timeout", strings.TrimSpace(newCfg.Session.StopTimeout)),
		)
	}

	if oldCfg.Presets != newCfg.Presets {
		changed = append(changed, "presets")
		attrs = append(attrs, logx.String("presets.dir", newCfg.Presets.Dir))
	}

	if oldCfg.Schedules != newCfg.Schedules {
		changed = append(changed, "schedules")
		attrs = append(attrs,
			logx.String("schedules.path", newCfg.Schedules.Path),
			logx.String("schedules.tick", strings.TrimSpace(newCfg.Schedules.Tick)),
		)
	}

	// Notifier section may be omitted; nil means enabled with defaults.
	defN := &NotifierConfig{Enabled: true, QueueSize: 256, RatePerSec: 5}
	oldN, newN := oldCfg.Notifier, newCfg.Notifier
	if oldN == nil {
		oldN = defN
	}
	if newN == nil {
		newN = defN
	}
	if *oldN != *newN {
		changed = append(changed, "notifier")
		attrs = append(attrs,
			logx.Bool("notifier.enabled", newN.Enabled),
			logx.Int("notifier.queue_size", newN.QueueSize),
			logx.Int("notifier.rate_per_sec", newN.RatePerSec),
			logx.Bool("notifier.webhook_set", strings.TrimSpace(newN.WebhookURL) != ""),
		)
	}

	// Storage: nil means disabled.
	var oDriver, nDriver string
	var oPathSet, nPathSet bool
	if oldCfg.Storage != nil {
		oDriver = strings.TrimSpace(oldCfg.Storage.Driver)
		oPathSet = strings.TrimSpace(oldCfg.Storage.Path) != ""
	}
	if newCfg.Storage != nil {
		nDriver = strings.TrimSpace(newCfg.Storage.Driver)
		nPathSet = strings.TrimSpace(newCfg.Storage.Path) != ""
	}
	if oDriver != nDriver || oPathSet != nPathSet {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", nDriver),
			logx.Bool("storage.path_set", nPathSet),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

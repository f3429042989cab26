// Package loader discovers module packages under configured search paths.
//
// Discovery is deliberately forgiving: a broken candidate is logged and
// skipped, never fatal to the pass. Only cancellation stops a pass early,
// and it is observed at least once per candidate directory.
package loader

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/google/uuid"

	"sessiond/internal/module"
	"sessiond/internal/module/interp"
	logx "sessiond/pkg/logx"
)

const builtinPrefix = "builtin:"

type Options struct {
	// Builtins maps builtin entry names (the part after "builtin:") to
	// compiled-in factories registered at startup.
	Builtins map[string]module.Factory

	// AllowSymlinks permits symlinked candidate directories. Off in release
	// deployments; local development may turn it on.
	AllowSymlinks bool

	// Platform overrides the platform tag matched against manifests.
	// Empty means runtime.GOOS.
	Platform string
}

type Loader struct {
	log      logx.Logger
	builtins map[string]module.Factory
	allowSym bool
	platform string
}

func New(log logx.Logger, opts Options) *Loader {
	if log.IsZero() {
		log = logx.Nop()
	}
	platform := strings.TrimSpace(opts.Platform)
	if platform == "" {
		platform = runtime.GOOS
	}
	return &Loader{
		log:      log,
		builtins: opts.Builtins,
		allowSym: opts.AllowSymlinks,
		platform: platform,
	}
}

// LoadDescriptors scans every search path and returns the descriptors of all
// valid module packages. It never fails as a whole: bad candidates are
// skipped, missing search paths are ignored. On cancellation it returns what
// it has collected so far.
//
// Duplicate module IDs resolve last-discovered-wins with a conflict warning.
func (l *Loader) LoadDescriptors(ctx context.Context, searchPaths []string) []module.Descriptor {
	var out []module.Descriptor
	index := map[uuid.UUID]int{}

	for _, sp := range searchPaths {
		entries, err := os.ReadDir(sp)
		if err != nil {
			// Missing or unreadable search paths are not an error.
			l.log.Debug("search path skipped", logx.String("path", sp), logx.Err(err))
			continue
		}
		for _, e := range entries {
			if ctx.Err() != nil {
				l.log.Warn("discovery cancelled", logx.Int("loaded", len(out)))
				return out
			}
			dir := filepath.Join(sp, e.Name())
			desc, ok := l.loadOne(dir, e)
			if !ok {
				continue
			}
			if prev, dup := index[desc.ID]; dup {
				l.log.Warn("duplicate module id; last discovered wins",
					logx.String("id", desc.ID.String()),
					logx.String("kept", desc.Dir),
					logx.String("replaced", out[prev].Dir),
				)
				out[prev] = desc
				continue
			}
			index[desc.ID] = len(out)
			out = append(out, desc)
		}
	}

	l.log.Info("module discovery finished", logx.Int("modules", len(out)))
	return out
}

func (l *Loader) loadOne(dir string, e os.DirEntry) (module.Descriptor, bool) {
	isSym := e.Type()&os.ModeSymlink != 0
	if !e.IsDir() && !isSym {
		return module.Descriptor{}, false
	}
	if isSym {
		if !l.allowSym {
			l.log.Warn("symlinked module directory rejected", logx.String("dir", dir))
			return module.Descriptor{}, false
		}
		fi, err := os.Stat(dir)
		if err != nil || !fi.IsDir() {
			return module.Descriptor{}, false
		}
	}

	manifestPath := filepath.Join(dir, ManifestName)
	fi, err := os.Stat(manifestPath)
	if err != nil {
		// Not a module package; stay quiet.
		l.log.Trace("no manifest", logx.String("dir", dir))
		return module.Descriptor{}, false
	}
	if fi.Size() > MaxManifestSize {
		l.log.Warn("manifest exceeds size ceiling",
			logx.String("dir", dir),
			logx.Int64("size", fi.Size()),
			logx.Int64("max", MaxManifestSize),
		)
		return module.Descriptor{}, false
	}

	b, err := os.ReadFile(manifestPath)
	if err != nil {
		l.log.Warn("manifest unreadable", logx.String("dir", dir), logx.Err(err))
		return module.Descriptor{}, false
	}
	m, id, err := parseManifest(b)
	if err != nil {
		l.log.Warn("manifest rejected", logx.String("dir", dir), logx.Err(err))
		return module.Descriptor{}, false
	}

	desc := module.Descriptor{
		ID:          id,
		Name:        strings.TrimSpace(m.Name),
		Version:     strings.TrimSpace(m.Version),
		Author:      strings.TrimSpace(m.Author),
		Description: strings.TrimSpace(m.Description),
		Category:    strings.TrimSpace(m.Category),
		Platforms:   m.Platforms,
		Dir:         dir,
		Entry:       strings.TrimSpace(m.Entry),
	}
	if !desc.SupportsPlatform(l.platform) {
		l.log.Debug("module does not support platform",
			logx.String("module", desc.Name),
			logx.String("platform", l.platform),
		)
		return module.Descriptor{}, false
	}

	if !l.resolveEntry(&desc) {
		return module.Descriptor{}, false
	}

	l.log.Debug("module discovered",
		logx.String("module", desc.Name),
		logx.String("id", desc.ID.String()),
		logx.String("entry", desc.Entry),
	)
	return desc, true
}

// resolveEntry binds the manifest's entry reference to a factory: either a
// compiled-in builtin or an interpreted entry file relative to the manifest.
func (l *Loader) resolveEntry(desc *module.Descriptor) bool {
	if name, ok := strings.CutPrefix(desc.Entry, builtinPrefix); ok {
		f, ok := l.builtins[name]
		if !ok {
			l.log.Warn("unknown builtin entry",
				logx.String("module", desc.Name),
				logx.String("entry", desc.Entry),
			)
			return false
		}
		desc.Factory = f
		return true
	}

	path := filepath.Join(desc.Dir, desc.Entry)
	fi, err := os.Stat(path)
	if err != nil || fi.IsDir() {
		l.log.Warn("entry file missing",
			logx.String("module", desc.Name),
			logx.String("path", path),
		)
		return false
	}
	if err := interp.Probe(path); err != nil {
		l.log.Warn("entry file rejected",
			logx.String("module", desc.Name),
			logx.Err(err),
		)
		return false
	}
	desc.EntryPath = path
	desc.Factory = interp.Factory(path)
	return true
}

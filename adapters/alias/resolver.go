// Package alias provides the file-backed alias resolver with atomic reload.
package alias

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"

	domain "github.com/bracketai/usagegate/domain/alias"
	"github.com/bracketai/usagegate/ports"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Resolver maps client IDs to display names from a YAML file of the form
//
//	key-acme-1: Acme Corp
//	key-globex: Globex
//
// The loaded map is an atomically swapped snapshot: readers never see a
// partially updated map and never block on reloads. A failed reload keeps
// the previous map in effect.
type Resolver struct {
	path     string
	logger   zerolog.Logger
	snapshot atomic.Pointer[domain.Map]
	watcher  *fsnotify.Watcher
	onReload func(err error) // optional observer for metrics
	stopCh   chan struct{}
}

// New creates a resolver and performs the initial load. Startup fails if
// the file cannot be loaded: running without aliases is a configuration
// decision, not a silent degradation.
func New(path string, logger zerolog.Logger) (*Resolver, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}

	r := &Resolver{
		path:   absPath,
		logger: logger.With().Str("component", "alias").Logger(),
		stopCh: make(chan struct{}),
	}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// OnReload registers a callback invoked after every reload attempt with its
// outcome.
func (r *Resolver) OnReload(fn func(err error)) {
	r.onReload = fn
}

// Resolve returns the display name for clientID, or the raw ID when
// unmapped. Lock-free: reads go against the committed snapshot.
func (r *Resolver) Resolve(clientID string) string {
	snap := r.snapshot.Load()
	if snap == nil {
		return clientID
	}
	return (*snap).Resolve(clientID)
}

// Reload re-reads the alias file and swaps the snapshot atomically.
// On failure the previously loaded map stays in effect and a
// *alias.ConfigError describes the problem.
func (r *Resolver) Reload() error {
	m, err := load(r.path)
	if r.onReload != nil {
		defer func() { r.onReload(err) }()
	}
	if err != nil {
		r.logger.Error().Err(err).Msg("alias reload failed, keeping previous map")
		return err
	}

	r.snapshot.Store(&m)
	r.logger.Info().Int("aliases", len(m)).Msg("alias map loaded")
	return nil
}

func load(path string) (domain.Map, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &domain.ConfigError{Reason: domain.ReasonUnreadable, Path: path, Err: err}
	}

	var m domain.Map
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, &domain.ConfigError{Reason: domain.ReasonMalformed, Path: path, Err: err}
	}
	if m == nil {
		m = domain.Map{}
	}
	return m, nil
}

// WatchFile starts watching the alias file for changes. The directory is
// watched rather than the file so atomic editor saves are caught.
func (r *Resolver) WatchFile() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	r.watcher = watcher

	if err := watcher.Add(filepath.Dir(r.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch directory: %w", err)
	}

	go r.watchLoop()

	r.logger.Info().Str("path", r.path).Msg("watching alias file for changes")
	return nil
}

// WatchSignals starts listening for SIGHUP to trigger reload on demand.
func (r *Resolver) WatchSignals() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP)

	go func() {
		for {
			select {
			case <-sigCh:
				r.logger.Info().Msg("received SIGHUP, reloading alias map")
				r.Reload()
			case <-r.stopCh:
				signal.Stop(sigCh)
				return
			}
		}
	}()
}

// Stop stops watching for file changes and signals.
func (r *Resolver) Stop() {
	close(r.stopCh)
	if r.watcher != nil {
		r.watcher.Close()
	}
}

func (r *Resolver) watchLoop() {
	filename := filepath.Base(r.path)

	for {
		select {
		case event, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filename {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				r.logger.Debug().Str("event", event.Op.String()).Msg("alias file changed")
				r.Reload()
			}

		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			r.logger.Error().Err(err).Msg("alias file watcher error")

		case <-r.stopCh:
			return
		}
	}
}

// Static is the resolver used when no alias file is configured: every
// client ID is its own display name.
type Static struct{}

// NewStatic creates a resolver with no backing file.
func NewStatic() Static { return Static{} }

// Resolve returns clientID unchanged.
func (Static) Resolve(clientID string) string { return clientID }

// Reload is a no-op; there is nothing to load.
func (Static) Reload() error { return nil }

// Ensure interface compliance.
var (
	_ ports.AliasResolver = (*Resolver)(nil)
	_ ports.AliasResolver = Static{}
)

package permissions

import (
	"fmt"
	"os"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// document is the on-disk YAML shape a Watcher reloads. It is
// intentionally a plain serializable mirror of Permissions' fields
// rather than Permissions itself, since Permissions has no exported
// fields to unmarshal into (by design — see Builder).
type document struct {
	AllowedHTTPHosts []string `yaml:"allowed_http_hosts"`
	HTTPEnabled      bool     `yaml:"http_enabled"`
	MaxHTTPRequests  uint32   `yaml:"max_http_requests"`
	LoggingEnabled   bool     `yaml:"logging_enabled"`
}

func (d document) build() Permissions {
	b := NewBuilder().WithLogging(d.LoggingEnabled).WithHTTP(d.HTTPEnabled, d.MaxHTTPRequests)
	for _, h := range d.AllowedHTTPHosts {
		b.AllowHost(h)
	}
	return b.Build()
}

// Watcher hot-reloads a YAML allow-list document into a fresh
// Permissions snapshot whenever the file changes, swapping the whole
// value behind an atomic pointer rather than mutating a live
// Permissions in place (§9: "no runtime mutation of a live
// Permissions"). A reload that fails to parse is rejected and the
// current snapshot is kept — fail-closed, mirroring
// LivePolicy/ReloadFromFile in the SSRF policy this package is
// grounded on.
type Watcher struct {
	path    string
	current atomic.Pointer[Permissions]
	logger  *zap.Logger
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// WatchFile loads path once synchronously, then starts a background
// fsnotify watch that reloads on every write. The returned Watcher's
// Current method is safe to call concurrently with reloads.
func WatchFile(path string, logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &Watcher{path: path, logger: logger, done: make(chan struct{})}
	if err := w.reload(); err != nil {
		return nil, err
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}
	if err := fw.Add(path); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watching %s: %w", path, err)
	}
	w.watcher = fw
	go w.loop()
	return w, nil
}

// Current returns the live Permissions snapshot.
func (w *Watcher) Current() Permissions {
	return *w.current.Load()
}

// Close stops the background watch. Safe to call once.
func (w *Watcher) Close() error {
	close(w.done)
	if w.watcher != nil {
		return w.watcher.Close()
	}
	return nil
}

func (w *Watcher) loop() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := w.reload(); err != nil {
				w.logger.Warn("permissions reload rejected, keeping prior snapshot",
					zap.String("path", w.path), zap.Error(err))
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("permissions watch error", zap.Error(err))
		}
	}
}

func (w *Watcher) reload() error {
	data, err := os.ReadFile(w.path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", w.path, err)
	}
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parsing %s: %w", w.path, err)
	}
	built := doc.build()
	w.current.Store(&built)
	w.logger.Info("permissions reloaded", zap.String("path", w.path), zap.Int("allowed_hosts", len(doc.AllowedHTTPHosts)))
	return nil
}

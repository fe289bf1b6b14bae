// Package configwatch hot-reloads internal/config.Configuration, adapted
// from papapumpkin-quasar/internal/nebula's fsnotify Watcher: a debounced
// event loop that coalesces rapid successive writes (editors often write a
// file twice) before acting, with watch errors treated as non-fatal.
package configwatch

import (
	"log/slog"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/swarmguard/wavecoord/internal/config"
)

const debounce = 200 * time.Millisecond

// Watcher watches a single configuration file and emits successfully
// validated reloads on Updates. A reload that fails config.Validate is
// logged and dropped; the previously loaded Configuration keeps running.
type Watcher struct {
	path   string
	Updates <-chan config.Configuration

	updates  chan config.Configuration
	done     chan struct{}
	stopOnce sync.Once
	watcher  *fsnotify.Watcher
	logger   *slog.Logger
}

// New creates a Watcher for path; watching begins when Start is given the
// directory containing path (fsnotify watches directories, not bare files, to
// survive editors that replace the file via rename-into-place).
func New(path string, logger *slog.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if logger == nil {
		logger = slog.Default()
	}

	ch := make(chan config.Configuration, 1)
	w := &Watcher{
		path:    path,
		Updates: ch,
		updates: ch,
		done:    make(chan struct{}),
		watcher: fw,
		logger:  logger,
	}
	return w, nil
}

// Start begins watching. It watches the parent directory of path rather than
// path itself so atomic rename-based writes are observed.
func (w *Watcher) Start(dir string) error {
	if err := w.watcher.Add(dir); err != nil {
		return err
	}
	go w.loop()
	return nil
}

// Stop closes the underlying fsnotify watcher and the Updates channel. Safe
// to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		w.watcher.Close()
		<-w.done
		close(w.updates)
	})
}

func (w *Watcher) loop() {
	defer close(w.done)

	var pendingSince time.Time
	ticker := time.NewTicker(debounce)
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Name != w.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				pendingSince = time.Now()
			}

		case <-ticker.C:
			if pendingSince.IsZero() || time.Since(pendingSince) < debounce {
				continue
			}
			pendingSince = time.Time{}
			w.reload()

		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			// Watch errors are non-fatal; the previous config keeps running.
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := config.Load(w.path)
	if err != nil {
		w.logger.Warn("config reload rejected", "path", w.path, "error", err)
		return
	}

	select {
	case w.updates <- cfg:
	default:
		// Drop the stale pending reload in favor of the newest one.
		select {
		case <-w.updates:
		default:
		}
		w.updates <- cfg
	}
	w.logger.Info("config reloaded", "path", w.path)
}

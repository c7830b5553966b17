package config

import (
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// DefaultWatchInterval is how often a [Watcher] polls its file.
const DefaultWatchInterval = 5 * time.Second

// Watcher keeps the control plane's settings in sync with the file on disk.
//
// The file is polled. A change is detected by modification time and size,
// then confirmed by content hash, so touching a file without editing it is
// not a reload. Each reload re-reads the environment and must pass
// [Validate]; an invalid edit is logged and the last good config stays in
// effect.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(old, new *Config)
	lookup   func(string) (string, bool)
	logger   *slog.Logger

	// checkMu serialises checks, including their onChange call. state is
	// only touched under it.
	checkMu sync.Mutex
	state   fileState

	mu      sync.Mutex
	current *Config

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// fileState identifies one version of the settings file.
type fileState struct {
	mtime time.Time
	size  int64
	hash  [sha256.Size]byte
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. Non-positive values keep
// [DefaultWatchInterval].
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithLookupEnv sets the environment lookup applied on every reload.
// The default is [os.LookupEnv].
func WithLookupEnv(lookup func(string) (string, bool)) WatcherOption {
	return func(w *Watcher) {
		w.lookup = lookup
	}
}

// WithWatcherLogger sets the logger for reload events. The default is
// [slog.Default].
func WithWatcherLogger(l *slog.Logger) WatcherOption {
	return func(w *Watcher) {
		w.logger = l
	}
}

// NewWatcher loads the settings at path and starts polling them. onChange,
// if non-nil, runs on the polling goroutine (or the [Watcher.Reload] caller)
// after every successful reload, never concurrently with itself.
func NewWatcher(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: DefaultWatchInterval,
		onChange: onChange,
		lookup:   os.LookupEnv,
		stop:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.logger == nil {
		w.logger = slog.Default()
	}
	w.logger = w.logger.With("path", path)

	cfg, st, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watch %q: %w", path, err)
	}
	w.current, w.state = cfg, st

	w.wg.Add(1)
	go w.poll()
	return w, nil
}

// Current returns the most recently loaded valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Reload checks the file now, regardless of its modification time. It
// reports whether a new config was applied.
func (w *Watcher) Reload() bool {
	return w.check(true)
}

// Stop ends polling and waits for an in-flight check to finish. It is safe
// to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
	w.wg.Wait()
}

func (w *Watcher) poll() {
	defer w.wg.Done()
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			w.check(false)
		}
	}
}

func (w *Watcher) check(force bool) bool {
	w.checkMu.Lock()
	defer w.checkMu.Unlock()

	if !force {
		info, err := os.Stat(w.path)
		if err != nil {
			w.logger.Warn("settings file unavailable", "err", err)
			return false
		}
		if info.ModTime().Equal(w.state.mtime) && info.Size() == w.state.size {
			return false
		}
	}

	cfg, st, err := w.read()
	if err != nil {
		w.logger.Warn("settings reload rejected, keeping previous settings", "err", err)
		return false
	}
	if st.hash == w.state.hash {
		w.state = st
		return false
	}

	w.state = st
	w.mu.Lock()
	old := w.current
	w.current = cfg
	w.mu.Unlock()

	w.logger.Info("settings reloaded")
	if w.onChange != nil {
		w.onChange(old, cfg)
	}
	return true
}

// read parses and validates the file and returns it with its state.
func (w *Watcher) read() (*Config, fileState, error) {
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, fileState{}, err
	}
	info, err := os.Stat(w.path)
	if err != nil {
		return nil, fileState{}, err
	}
	cfg, err := parse(data, w.lookup)
	if err != nil {
		return nil, fileState{}, err
	}
	return cfg, fileState{mtime: info.ModTime(), size: info.Size(), hash: sha256.Sum256(data)}, nil
}

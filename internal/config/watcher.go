package config

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// DefaultWatchInterval is how often a [Watcher] polls the config file.
const DefaultWatchInterval = 5 * time.Second

// fileState identifies one version of the config file. The mtime is a cheap
// pre-check, the hash decides whether the content really changed.
type fileState struct {
	mtime time.Time
	hash  [sha256.Size]byte
}

// Watcher reloads a config file while the bot runs. Every poll that finds new
// content which parses and validates becomes the current config and is handed
// to the reload callback together with its [ConfigDiff]. Invalid edits are
// reported through the reject callback and otherwise ignored.
type Watcher struct {
	path     string
	interval time.Duration
	onReload func(next *Config, d ConfigDiff)
	onReject func(err error)

	mu      sync.Mutex
	current *Config
	state   fileState
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. Non-positive values are ignored.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithRejectHandler is called with the load error of every edit that is not
// applied. Defaults to a warning log line.
func WithRejectHandler(fn func(err error)) WatcherOption {
	return func(w *Watcher) {
		if fn != nil {
			w.onReject = fn
		}
	}
}

// NewWatcher loads path and returns a Watcher primed with it. Polling starts
// with [Watcher.Watch]. onReload may be nil.
func NewWatcher(path string, onReload func(next *Config, d ConfigDiff), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: DefaultWatchInterval,
		onReload: onReload,
	}
	w.onReject = func(err error) {
		slog.Warn("config: reload rejected, keeping previous config", "path", w.path, "err", err)
	}
	for _, opt := range opts {
		opt(w)
	}

	cfg, state, err := readState(path)
	if err != nil {
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}
	w.current = cfg
	w.state = state
	return w, nil
}

// Current returns the most recently applied config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Watch polls the file until ctx is done and returns ctx.Err().
func (w *Watcher) Watch(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.poll()
		}
	}
}

func (w *Watcher) poll() {
	info, err := os.Stat(w.path)
	if err != nil {
		w.onReject(err)
		return
	}

	w.mu.Lock()
	unchanged := info.ModTime().Equal(w.state.mtime)
	w.mu.Unlock()
	if unchanged {
		return
	}

	cfg, state, err := readState(w.path)

	w.mu.Lock()
	if err != nil {
		// Remember the mtime so a broken file is reported once per edit.
		w.state.mtime = info.ModTime()
		w.mu.Unlock()
		w.onReject(err)
		return
	}
	if state.hash == w.state.hash {
		w.state = state
		w.mu.Unlock()
		return
	}
	prev := w.current
	w.current = cfg
	w.state = state
	w.mu.Unlock()

	d := Diff(prev, cfg)
	slog.Info("config: reloaded", "path", w.path, "changed", d.Changed())
	if w.onReload != nil {
		w.onReload(cfg, d)
	}
}

// readState parses and validates path and returns it with its file state.
func readState(path string) (*Config, fileState, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fileState{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fileState{}, err
	}
	cfg, err := loadBytes(data)
	if err != nil {
		return nil, fileState{}, err
	}
	return cfg, fileState{mtime: info.ModTime(), hash: sha256.Sum256(data)}, nil
}

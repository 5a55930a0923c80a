package config_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/murmur/internal/config"
)

const watcherValidYAML = `
server:
  log_level: info
discord:
  token: test-token
providers:
  stt:
    name: whisper
  llm:
    name: openai
  tts:
    name: coqui
`

const watcherUpdatedYAML = `
server:
  log_level: debug
discord:
  token: test-token
providers:
  stt:
    name: whisper
  llm:
    name: openai
  tts:
    name: coqui
assistant:
  wake_phrases: [mistral, jarvis]
`

const watcherInvalidYAML = `
server:
  log_level: bananas
`

// writeFile writes content and pushes the mtime forward by bump so that
// successive writes are distinguishable on coarse-grained filesystems.
func writeFile(t *testing.T, path, content string, bump time.Duration) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %q: %v", path, err)
	}
	if bump > 0 {
		mtime := time.Now().Add(bump)
		if err := os.Chtimes(path, mtime, mtime); err != nil {
			t.Fatalf("chtimes %q: %v", path, err)
		}
	}
}

// startWatch runs w until the test ends.
func startWatch(t *testing.T, w *config.Watcher) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Watch(ctx) }()
	t.Cleanup(func() {
		cancel()
		if err := <-done; !errors.Is(err, context.Canceled) {
			t.Errorf("Watch returned %v, want context.Canceled", err)
		}
	})
}

type reloadRecorder struct {
	mu      sync.Mutex
	configs []*config.Config
	diffs   []config.ConfigDiff
	rejects []error
	fired   chan struct{}
}

func newReloadRecorder() *reloadRecorder {
	return &reloadRecorder{fired: make(chan struct{}, 16)}
}

func (r *reloadRecorder) reload(next *config.Config, d config.ConfigDiff) {
	r.mu.Lock()
	r.configs = append(r.configs, next)
	r.diffs = append(r.diffs, d)
	r.mu.Unlock()
	r.fired <- struct{}{}
}

func (r *reloadRecorder) reject(err error) {
	r.mu.Lock()
	r.rejects = append(r.rejects, err)
	r.mu.Unlock()
	r.fired <- struct{}{}
}

func (r *reloadRecorder) wait(t *testing.T) {
	t.Helper()
	select {
	case <-r.fired:
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not react within 2s")
	}
}

func (r *reloadRecorder) counts() (reloads, rejects int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.configs), len(r.rejects)
}

func newWatcher(t *testing.T, content string) (*config.Watcher, *reloadRecorder, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, content, 0)
	rec := newReloadRecorder()
	w, err := config.NewWatcher(path, rec.reload,
		config.WithInterval(20*time.Millisecond),
		config.WithRejectHandler(rec.reject),
	)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	return w, rec, path
}

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()
	w, _, _ := newWatcher(t, watcherValidYAML)

	cfg := w.Current()
	if cfg == nil {
		t.Fatal("Current() is nil after NewWatcher")
	}
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("log_level = %q, want %q", cfg.Server.LogLevel, config.LogInfo)
	}
}

func TestWatcher_InitialLoadFails(t *testing.T) {
	t.Parallel()
	if _, err := config.NewWatcher(filepath.Join(t.TempDir(), "missing.yaml"), nil); err == nil {
		t.Fatal("expected error for a missing file")
	}
}

func TestWatcher_ReloadPassesDiff(t *testing.T) {
	t.Parallel()
	w, rec, path := newWatcher(t, watcherValidYAML)
	startWatch(t, w)

	writeFile(t, path, watcherUpdatedYAML, time.Second)
	rec.wait(t)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.configs) != 1 {
		t.Fatalf("reloads = %d, want 1", len(rec.configs))
	}
	d := rec.diffs[0]
	if !d.LogLevelChanged || d.NewLogLevel != config.LogDebug {
		t.Errorf("log level diff = %v/%q, want true/debug", d.LogLevelChanged, d.NewLogLevel)
	}
	if !d.WakePhrasesChanged {
		t.Error("expected wake phrase change in diff")
	}
	if got := w.Current().Server.LogLevel; got != config.LogDebug {
		t.Errorf("Current() log_level = %q, want debug", got)
	}
}

func TestWatcher_InvalidEditRejected(t *testing.T) {
	t.Parallel()
	w, rec, path := newWatcher(t, watcherValidYAML)
	startWatch(t, w)

	writeFile(t, path, watcherInvalidYAML, time.Second)
	rec.wait(t)

	// Further polls must not report the same broken edit again.
	time.Sleep(100 * time.Millisecond)
	reloads, rejects := rec.counts()
	if reloads != 0 || rejects != 1 {
		t.Errorf("reloads = %d, rejects = %d, want 0 and 1", reloads, rejects)
	}
	if got := w.Current().Server.LogLevel; got != config.LogInfo {
		t.Errorf("Current() log_level = %q, want the previous info", got)
	}

	// Fixing the file is picked up.
	writeFile(t, path, watcherUpdatedYAML, 2*time.Second)
	rec.wait(t)
	if reloads, _ := rec.counts(); reloads != 1 {
		t.Errorf("reloads after fix = %d, want 1", reloads)
	}
}

func TestWatcher_TouchWithoutContentChange(t *testing.T) {
	t.Parallel()
	w, rec, path := newWatcher(t, watcherValidYAML)
	startWatch(t, w)

	mtime := time.Now().Add(time.Second)
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatalf("touch: %v", err)
	}
	time.Sleep(150 * time.Millisecond)

	if reloads, rejects := rec.counts(); reloads != 0 || rejects != 0 {
		t.Errorf("touch fired %d reloads and %d rejects, want none", reloads, rejects)
	}
}

func TestWatcher_WatchStopsOnCancel(t *testing.T) {
	t.Parallel()
	w, _, _ := newWatcher(t, watcherValidYAML)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := w.Watch(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Watch = %v, want context.Canceled", err)
	}
}

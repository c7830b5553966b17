package config_test

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/talkinghead/internal/config"
)

const watcherValidYAML = `
server:
  log_level: info
controlplane:
  max_bots_per_room: 1
providers:
  llm:
    name: openai
  tts:
    name: cartesia
`

const watcherUpdatedYAML = `
server:
  log_level: debug
controlplane:
  max_bots_per_room: 3
providers:
  llm:
    name: openai
  tts:
    name: cartesia
`

const watcherInvalidYAML = `
server:
  log_level: bananas
`

func noEnv(string) (string, bool) { return "", false }

// changeLog collects onChange calls from the polling goroutine.
type changeLog struct {
	mu      sync.Mutex
	updates []*config.Config
	signal  chan struct{}
}

func newChangeLog() *changeLog {
	return &changeLog{signal: make(chan struct{}, 8)}
}

func (c *changeLog) onChange(_, updated *config.Config) {
	c.mu.Lock()
	c.updates = append(c.updates, updated)
	c.mu.Unlock()
	c.signal <- struct{}{}
}

func (c *changeLog) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.updates)
}

// rewrite replaces the file and pushes its mtime forward so a coarse
// filesystem clock cannot hide the edit from the poller.
func rewrite(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %q: %v", path, err)
	}
	later := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(path, later, later); err != nil {
		t.Fatalf("chtimes %q: %v", path, err)
	}
}

// startWatcher writes content to a temp settings file and watches it.
func startWatcher(t *testing.T, content string, interval time.Duration, onChange func(old, new *config.Config)) (*config.Watcher, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "talkinghead.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %q: %v", path, err)
	}
	w, err := config.NewWatcher(path, onChange, config.WithInterval(interval), config.WithLookupEnv(noEnv))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	t.Cleanup(w.Stop)
	return w, path
}

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()
	w, _ := startWatcher(t, watcherValidYAML, time.Hour, nil)

	cfg := w.Current()
	if cfg == nil {
		t.Fatal("Current() = nil after initial load")
	}
	if cfg.Server.LogLevel != config.LogInfo || cfg.ControlPlane.MaxBotsPerRoom != 1 {
		t.Errorf("Current() = %+v", cfg)
	}
}

func TestWatcher_InitialLoadFails(t *testing.T) {
	t.Parallel()
	if _, err := config.NewWatcher(filepath.Join(t.TempDir(), "missing.yaml"), nil); err == nil {
		t.Fatal("expected error for a missing file")
	}
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte(watcherInvalidYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := config.NewWatcher(path, nil, config.WithLookupEnv(noEnv)); err == nil {
		t.Fatal("expected error for an invalid initial file")
	}
}

func TestWatcher_PollPicksUpEdit(t *testing.T) {
	t.Parallel()
	log := newChangeLog()
	var first *config.Config
	w, path := startWatcher(t, watcherValidYAML, 20*time.Millisecond, func(old, updated *config.Config) {
		if first == nil {
			first = old
		}
		log.onChange(old, updated)
	})

	rewrite(t, path, watcherUpdatedYAML)
	select {
	case <-log.signal:
	case <-time.After(2 * time.Second):
		t.Fatal("edit not picked up by the poller")
	}

	d := config.Diff(first, w.Current())
	if !d.MaxBotsPerRoomChanged || d.NewMaxBotsPerRoom != 3 {
		t.Errorf("Diff = %+v, want max_bots_per_room 1 -> 3", d)
	}
	if !d.LogLevelChanged {
		t.Error("Diff did not report the log level change")
	}
}

func TestWatcher_AppliesEnvOnLoad(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "talkinghead.yaml")
	if err := os.WriteFile(path, []byte(watcherValidYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	env := func(key string) (string, bool) {
		if key == "DAILY_API_KEY" {
			return "daily-secret", true
		}
		return "", false
	}
	w, err := config.NewWatcher(path, nil, config.WithInterval(time.Hour), config.WithLookupEnv(env))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	if got := w.Current().Rooms.APIKey; got != "daily-secret" {
		t.Errorf("rooms.api_key = %q, want env value", got)
	}
}

func TestWatcher_Reload(t *testing.T) {
	t.Parallel()
	log := newChangeLog()
	w, path := startWatcher(t, watcherValidYAML, time.Hour, log.onChange)

	steps := []struct {
		name        string
		content     string // empty: leave the file alone
		wantApplied bool
		wantMaxBots int
	}{
		{name: "unchanged", wantApplied: false, wantMaxBots: 1},
		{name: "touched only", content: watcherValidYAML, wantApplied: false, wantMaxBots: 1},
		{name: "edited", content: watcherUpdatedYAML, wantApplied: true, wantMaxBots: 3},
		{name: "invalid", content: watcherInvalidYAML, wantApplied: false, wantMaxBots: 3},
	}
	applied := 0
	for _, s := range steps {
		if s.content != "" {
			rewrite(t, path, s.content)
		}
		if got := w.Reload(); got != s.wantApplied {
			t.Errorf("%s: Reload() = %v, want %v", s.name, got, s.wantApplied)
		}
		if s.wantApplied {
			applied++
		}
		if got := w.Current().ControlPlane.MaxBotsPerRoom; got != s.wantMaxBots {
			t.Errorf("%s: max_bots_per_room = %d, want %d", s.name, got, s.wantMaxBots)
		}
		if got := log.count(); got != applied {
			t.Errorf("%s: onChange calls = %d, want %d", s.name, got, applied)
		}
	}
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	t.Parallel()
	w, _ := startWatcher(t, watcherValidYAML, 20*time.Millisecond, nil)
	w.Stop()
	w.Stop()
}

package config_test

import (
	"slices"
	"testing"

	"github.com/MrWong99/talkinghead/internal/config"
)

func baseConfig() *config.Config {
	cfg := &config.Config{}
	cfg.ApplyDefaults()
	return cfg
}

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	d := config.Diff(baseConfig(), baseConfig())
	if d.Changed() {
		t.Errorf("expected no changes, got %+v", d)
	}
}

func TestDiff_HotReloadable(t *testing.T) {
	t.Parallel()
	old, updated := baseConfig(), baseConfig()
	updated.Server.LogLevel = config.LogDebug
	updated.ControlPlane.MaxBotsPerRoom = 5

	d := config.Diff(old, updated)
	if !d.LogLevelChanged || d.NewLogLevel != config.LogDebug {
		t.Errorf("log level diff = %+v", d)
	}
	if !d.MaxBotsPerRoomChanged || d.NewMaxBotsPerRoom != 5 {
		t.Errorf("max bots diff = %+v", d)
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("RestartRequired = %v, want none", d.RestartRequired)
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	t.Parallel()
	old, updated := baseConfig(), baseConfig()
	updated.Server.Port = 9090
	updated.Rooms.APIKey = "rotated"

	d := config.Diff(old, updated)
	if !d.Changed() {
		t.Fatal("expected changes")
	}
	if d.LogLevelChanged || d.MaxBotsPerRoomChanged {
		t.Errorf("unexpected hot-reload change: %+v", d)
	}
	for _, want := range []string{"server.port", "rooms"} {
		if !slices.Contains(d.RestartRequired, want) {
			t.Errorf("RestartRequired = %v, missing %q", d.RestartRequired, want)
		}
	}
}

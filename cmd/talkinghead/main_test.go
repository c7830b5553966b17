package main

import (
	"log/slog"
	"testing"

	"github.com/MrWong99/talkinghead/internal/config"
	"github.com/MrWong99/talkinghead/internal/controlplane"
	roommock "github.com/MrWong99/talkinghead/internal/room/mock"
	supmock "github.com/MrWong99/talkinghead/internal/supervisor/mock"
)

func TestSlogLevel(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   config.LogLevel
		want slog.Level
	}{
		{config.LogDebug, slog.LevelDebug},
		{config.LogInfo, slog.LevelInfo},
		{config.LogWarn, slog.LevelWarn},
		{config.LogError, slog.LevelError},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := slogLevel(tt.in); got != tt.want {
			t.Errorf("slogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestApplyReload_LogLevel(t *testing.T) {
	t.Parallel()
	var level slog.LevelVar
	svc := controlplane.NewService(&roommock.Provisioner{}, &supmock.Spawner{})

	applyReload(config.ConfigDiff{LogLevelChanged: true, NewLogLevel: config.LogDebug}, &level, svc)
	if level.Level() != slog.LevelDebug {
		t.Errorf("level = %v, want debug", level.Level())
	}

	applyReload(config.ConfigDiff{}, &level, svc)
	if level.Level() != slog.LevelDebug {
		t.Errorf("empty diff changed level to %v", level.Level())
	}
}

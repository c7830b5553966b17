// Package config provides the configuration schema, loader, hot-reload
// watcher and provider registry shared by the talkinghead control plane and
// its bot workers.
//
// Values come from three layers, later layers winning:
//
//  1. built-in defaults ([Config.ApplyDefaults]),
//  2. an optional YAML settings file,
//  3. environment variables, optionally seeded from a .env file
//     ([LoadEnv], [Config.ApplyEnv]).
package config

import (
	"net"
	"strconv"
	"time"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	ControlPlane ControlPlaneConfig `yaml:"controlplane"`
	Rooms        RoomsConfig        `yaml:"rooms"`
	Providers    ProvidersConfig    `yaml:"providers"`
	Pipeline     PipelineConfig     `yaml:"pipeline"`
	Transport    TransportConfig    `yaml:"transport"`
}

// ServerConfig holds network and logging settings of the control plane.
type ServerConfig struct {
	// Host is the interface to bind (HOST). Default: 0.0.0.0.
	Host string `yaml:"host"`

	// Port is the TCP port (FAST_API_PORT). Default: 8080.
	Port int `yaml:"port"`

	// LogLevel controls verbosity for both binaries.
	LogLevel LogLevel `yaml:"log_level"`

	// Metrics exposes the Prometheus scrape endpoint at /metrics.
	Metrics *bool `yaml:"metrics"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// MetricsEnabled reports whether /metrics is served. Default: true.
func (s ServerConfig) MetricsEnabled() bool {
	return s.Metrics == nil || *s.Metrics
}

// ControlPlaneConfig configures session admission and worker supervision.
type ControlPlaneConfig struct {
	// MaxBotsPerRoom caps live workers per room. Default: 1. Hot-reloadable.
	MaxBotsPerRoom int `yaml:"max_bots_per_room"`

	// WorkerCommand is the bot worker binary. Default: talkinghead-bot.
	WorkerCommand string `yaml:"worker_command"`

	// WorkerArgs are passed to the worker before the session flags.
	WorkerArgs []string `yaml:"worker_args"`

	// WorkerEnv holds extra KEY=VALUE pairs for the worker environment.
	WorkerEnv []string `yaml:"worker_env"`

	// ShutdownTimeout bounds graceful shutdown. Default: 15s.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// RoomsConfig configures the Daily REST client.
type RoomsConfig struct {
	// APIURL is the REST endpoint (DAILY_API_URL).
	APIURL string `yaml:"api_url"`

	// APIKey authenticates REST calls (DAILY_API_KEY).
	APIKey string `yaml:"api_key"`

	// MaxRetries bounds retries of transient REST failures. Default: 2.
	MaxRetries *int `yaml:"max_retries"`
}

// ProvidersConfig selects the provider implementation for each worker
// concern. Each entry names a factory registered in the [Registry]. Fallback
// entries are optional and are tried when the primary is failing.
type ProvidersConfig struct {
	LLM         ProviderEntry `yaml:"llm"`
	LLMFallback ProviderEntry `yaml:"llm_fallback"`
	TTS         ProviderEntry `yaml:"tts"`
	TTSFallback ProviderEntry `yaml:"tts_fallback"`
	VAD         ProviderEntry `yaml:"vad"`
}

// ProviderEntry is the configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "openai", "cartesia").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "gpt-4o", "sonic-2").
	Model string `yaml:"model"`

	// Options holds provider-specific values not covered above.
	Options map[string]any `yaml:"options"`
}

// PipelineConfig tunes the worker's frame pipeline.
type PipelineConfig struct {
	// AllowInterruptions enables barge-in. Default: true.
	AllowInterruptions *bool `yaml:"allow_interruptions"`

	// MaxRetries bounds retries of recoverable provider failures. Default: 2.
	MaxRetries *int `yaml:"max_retries"`

	// RetryBaseDelay is the first retry backoff. Default: 200ms.
	RetryBaseDelay time.Duration `yaml:"retry_base_delay"`

	// Temperature is the LLM sampling temperature. Zero uses the provider default.
	Temperature float64 `yaml:"temperature"`

	// MaxTokens caps reply length. Zero uses the provider default.
	MaxTokens int `yaml:"max_tokens"`

	// ContextMaxTokens bounds the conversation history. Default: 32000.
	ContextMaxTokens int `yaml:"context_max_tokens"`

	// AvatarDir holds robot01.png ... robotNN.png. Default: assets.
	AvatarDir string `yaml:"avatar_dir"`

	// SpriteCount is the number of sprite files. Default: 25.
	SpriteCount int `yaml:"sprite_count"`
}

// InterruptionsAllowed reports whether barge-in is enabled.
func (p PipelineConfig) InterruptionsAllowed() bool {
	return p.AllowInterruptions == nil || *p.AllowInterruptions
}

// TransportConfig configures how the worker joins its room.
type TransportConfig struct {
	// BotName is the participant name shown in the room. Default: Voice Agent.
	BotName string `yaml:"bot_name"`

	// CameraWidth and CameraHeight size the avatar video. Default: 1024x576.
	CameraWidth  int `yaml:"camera_width"`
	CameraHeight int `yaml:"camera_height"`

	// Codec is the audio wire codec, "pcm" or "opus". Default: pcm.
	Codec string `yaml:"codec"`

	// InputSampleRate is the rate of audio received from the room. Default: 16000.
	InputSampleRate int `yaml:"input_sample_rate"`
}

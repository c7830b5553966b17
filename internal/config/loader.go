package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"slices"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Defaults.
const (
	DefaultHost             = "0.0.0.0"
	DefaultPort             = 8080
	DefaultMaxBotsPerRoom   = 1
	DefaultWorkerCommand    = "talkinghead-bot"
	DefaultShutdownTimeout  = 15 * time.Second
	DefaultRoomsAPIURL      = "https://api.daily.co/v1"
	DefaultMaxRetries       = 2
	DefaultRetryBaseDelay   = 200 * time.Millisecond
	DefaultContextMaxTokens = 32000
	DefaultAvatarDir        = "assets"
	DefaultSpriteCount      = 25
	DefaultBotName          = "Voice Agent"
	DefaultCameraWidth      = 1024
	DefaultCameraHeight     = 576
	DefaultCodec            = "pcm"
	DefaultInputSampleRate  = 16000
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm": {"openai", "anthropic", "gemini", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"tts": {"cartesia", "elevenlabs"},
	"vad": {"energy", "none"},
}

// envKeys maps provider names onto the environment variable holding their
// API key.
var envKeys = map[string]string{
	"openai":     "OPENAI_API_KEY",
	"cartesia":   "CARTESIA_API_KEY",
	"elevenlabs": "ELEVENLABS_API_KEY",
}

// LoadEnv loads KEY=VALUE files into the process environment, overriding
// variables that are already set. Without arguments it loads ".env" if that
// file exists.
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		if _, err := os.Stat(".env"); errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		files = []string{".env"}
	}
	if err := godotenv.Overload(files...); err != nil {
		return fmt.Errorf("config: load env: %w", err)
	}
	return nil
}

// Load builds a [Config] from defaults, the YAML file at path and the process
// environment, and validates it. An empty path skips the file.
func Load(path string) (*Config, error) {
	var data []byte
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: open %q: %w", path, err)
		}
		data = b
	}
	cfg, err := parse(data, os.LookupEnv)
	if err != nil {
		if path != "" {
			return nil, fmt.Errorf("config: parse %q: %w", path, err)
		}
		return nil, err
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. The environment is not consulted.
func LoadFromReader(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	return parse(data, nil)
}

// parse decodes data, overlays the environment when lookup is non-nil,
// applies defaults and validates.
func parse(data []byte, lookup func(string) (string, bool)) (*Config, error) {
	cfg := &Config{}
	if len(bytes.TrimSpace(data)) > 0 {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil {
			return nil, fmt.Errorf("config: decode yaml: %w", err)
		}
	}
	if lookup != nil {
		if err := cfg.ApplyEnv(lookup); err != nil {
			return nil, err
		}
	}
	cfg.ApplyDefaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overlays environment variables onto c:
//
//	HOST, FAST_API_PORT            server.host, server.port
//	DAILY_API_KEY, DAILY_API_URL   rooms.api_key, rooms.api_url
//	OPENAI_API_KEY                 api_key of every "openai" provider
//	CARTESIA_API_KEY               api_key of every "cartesia" provider
//	ELEVENLABS_API_KEY             api_key of every "elevenlabs" provider
//
// Empty variables are ignored.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		return v, ok && v != ""
	}
	if v, ok := get("HOST"); ok {
		c.Server.Host = v
	}
	if v, ok := get("FAST_API_PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: FAST_API_PORT %q is not a number", v)
		}
		c.Server.Port = port
	}
	if v, ok := get("DAILY_API_KEY"); ok {
		c.Rooms.APIKey = v
	}
	if v, ok := get("DAILY_API_URL"); ok {
		c.Rooms.APIURL = v
	}
	for _, e := range []*ProviderEntry{&c.Providers.LLM, &c.Providers.LLMFallback, &c.Providers.TTS, &c.Providers.TTSFallback} {
		name := e.Name
		if e == &c.Providers.LLM && name == "" {
			name = "openai"
		}
		if e == &c.Providers.TTS && name == "" {
			name = "cartesia"
		}
		if key, ok := envKeys[name]; ok {
			if v, ok := get(key); ok {
				e.APIKey = v
			}
		}
	}
	return nil
}

// ApplyDefaults fills every unset field with its default.
func (c *Config) ApplyDefaults() {
	setDefault(&c.Server.Host, DefaultHost)
	setDefault(&c.Server.Port, DefaultPort)
	setDefault(&c.Server.LogLevel, LogInfo)

	setDefault(&c.ControlPlane.MaxBotsPerRoom, DefaultMaxBotsPerRoom)
	setDefault(&c.ControlPlane.WorkerCommand, DefaultWorkerCommand)
	setDefault(&c.ControlPlane.ShutdownTimeout, DefaultShutdownTimeout)

	setDefault(&c.Rooms.APIURL, DefaultRoomsAPIURL)
	if c.Rooms.MaxRetries == nil {
		n := DefaultMaxRetries
		c.Rooms.MaxRetries = &n
	}

	setDefault(&c.Providers.LLM.Name, "openai")
	if c.Providers.LLM.Name == "openai" {
		setDefault(&c.Providers.LLM.Model, "gpt-4o")
	}
	setDefault(&c.Providers.TTS.Name, "cartesia")
	setDefault(&c.Providers.VAD.Name, "energy")

	if c.Pipeline.MaxRetries == nil {
		n := DefaultMaxRetries
		c.Pipeline.MaxRetries = &n
	}
	setDefault(&c.Pipeline.RetryBaseDelay, DefaultRetryBaseDelay)
	setDefault(&c.Pipeline.ContextMaxTokens, DefaultContextMaxTokens)
	setDefault(&c.Pipeline.AvatarDir, DefaultAvatarDir)
	setDefault(&c.Pipeline.SpriteCount, DefaultSpriteCount)

	setDefault(&c.Transport.BotName, DefaultBotName)
	setDefault(&c.Transport.CameraWidth, DefaultCameraWidth)
	setDefault(&c.Transport.CameraHeight, DefaultCameraHeight)
	setDefault(&c.Transport.Codec, DefaultCodec)
	setDefault(&c.Transport.InputSampleRate, DefaultInputSampleRate)
}

func setDefault[T comparable](v *T, def T) {
	var zero T
	if *v == zero {
		*v = def
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d is out of range [0, 65535]", cfg.Server.Port))
	}

	if cfg.ControlPlane.MaxBotsPerRoom < 0 {
		errs = append(errs, fmt.Errorf("controlplane.max_bots_per_room must not be negative, got %d", cfg.ControlPlane.MaxBotsPerRoom))
	}
	if cfg.ControlPlane.ShutdownTimeout < 0 {
		errs = append(errs, fmt.Errorf("controlplane.shutdown_timeout must not be negative, got %s", cfg.ControlPlane.ShutdownTimeout))
	}
	if cfg.Rooms.MaxRetries != nil && *cfg.Rooms.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("rooms.max_retries must not be negative, got %d", *cfg.Rooms.MaxRetries))
	}

	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("llm", cfg.Providers.LLMFallback.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	validateProviderName("tts", cfg.Providers.TTSFallback.Name)
	validateProviderName("vad", cfg.Providers.VAD.Name)
	if cfg.Providers.LLMFallback.Name != "" && cfg.Providers.LLMFallback.Model == "" {
		errs = append(errs, errors.New("providers.llm_fallback.model is required when a fallback is configured"))
	}

	p := cfg.Pipeline
	if p.MaxRetries != nil && *p.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("pipeline.max_retries must not be negative, got %d", *p.MaxRetries))
	}
	if p.Temperature < 0 || p.Temperature > 2 {
		errs = append(errs, fmt.Errorf("pipeline.temperature %.2f is out of range [0, 2]", p.Temperature))
	}
	if p.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("pipeline.max_tokens must not be negative, got %d", p.MaxTokens))
	}
	if p.SpriteCount < 0 {
		errs = append(errs, fmt.Errorf("pipeline.sprite_count must not be negative, got %d", p.SpriteCount))
	}

	tr := cfg.Transport
	if tr.Codec != "" && tr.Codec != "pcm" && tr.Codec != "opus" {
		errs = append(errs, fmt.Errorf("transport.codec %q is invalid; valid values: pcm, opus", tr.Codec))
	}
	if tr.CameraWidth < 0 || tr.CameraHeight < 0 {
		errs = append(errs, fmt.Errorf("transport camera size %dx%d must not be negative", tr.CameraWidth, tr.CameraHeight))
	}
	if tr.InputSampleRate < 0 {
		errs = append(errs, fmt.Errorf("transport.input_sample_rate must not be negative, got %d", tr.InputSampleRate))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	if slices.Contains(ValidProviderNames[kind], name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", ValidProviderNames[kind],
	)
}

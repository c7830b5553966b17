package bot

import (
	"errors"
	"fmt"
	"log/slog"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/talkinghead/internal/config"
	"github.com/MrWong99/talkinghead/internal/resilience"
	"github.com/MrWong99/talkinghead/pkg/provider/llm"
	"github.com/MrWong99/talkinghead/pkg/provider/llm/anyllm"
	"github.com/MrWong99/talkinghead/pkg/provider/llm/openai"
	"github.com/MrWong99/talkinghead/pkg/provider/tts"
	"github.com/MrWong99/talkinghead/pkg/provider/tts/cartesia"
	"github.com/MrWong99/talkinghead/pkg/provider/tts/elevenlabs"
	"github.com/MrWong99/talkinghead/pkg/provider/vad"
	"github.com/MrWong99/talkinghead/pkg/provider/vad/energy"
)

// VADDisabled is the VAD provider name that turns voice activity detection
// off.
const VADDisabled = "none"

// Providers holds the provider instances a session uses.
type Providers struct {
	LLM llm.Provider
	TTS tts.Provider
	VAD vad.Engine // nil when disabled
}

// ── Registration ──────────────────────────────────────────────────────────────

// RegisterBuiltinProviders wires every provider implementation shipped with
// talkinghead into reg.
func RegisterBuiltinProviders(reg *config.Registry) {
	// ── LLM ───────────────────────────────────────────────────────────────────
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []openai.Option
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, openai.WithOrganization(org))
		}
		return openai.New(entry.APIKey, entry.Model, opts...)
	})

	// Every other vendor goes through any-llm-go with an optional API key and
	// base URL.
	for _, name := range anyllm.Backends {
		if name == "openai" {
			continue
		}
		reg.RegisterLLM(name, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(name, entry.Model, opts...)
		})
	}

	// ── TTS ───────────────────────────────────────────────────────────────────
	reg.RegisterTTS("cartesia", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []cartesia.Option
		if entry.Model != "" {
			opts = append(opts, cartesia.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, cartesia.WithEndpoint(entry.BaseURL))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, cartesia.WithLanguage(lang))
		}
		if rate := optInt(entry.Options, "sample_rate"); rate > 0 {
			opts = append(opts, cartesia.WithSampleRate(rate))
		}
		return cartesia.New(entry.APIKey, opts...)
	})

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, elevenlabs.WithEndpoint(entry.BaseURL))
		}
		if format := optString(entry.Options, "output_format"); format != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(format))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})

	// ── VAD ───────────────────────────────────────────────────────────────────
	reg.RegisterVAD("energy", func(entry config.ProviderEntry) (vad.Engine, error) {
		var opts []energy.Option
		if gain := optFloat(entry.Options, "gain"); gain > 0 {
			opts = append(opts, energy.WithGain(gain))
		}
		return energy.New(opts...), nil
	})
}

// ── Construction ──────────────────────────────────────────────────────────────

// BuildProviders instantiates the providers named in cfg. A configured
// fallback wraps its primary in a circuit-breaking fallback group.
func BuildProviders(cfg *config.Config, reg *config.Registry) (*Providers, error) {
	ps := &Providers{}
	fallback := resilience.FallbackConfig{}

	primaryLLM, err := reg.CreateLLM(cfg.Providers.LLM)
	if err != nil {
		return nil, fmt.Errorf("create llm provider %q: %w", cfg.Providers.LLM.Name, err)
	}
	ps.LLM = primaryLLM
	slog.Info("provider created", "kind", "llm", "name", cfg.Providers.LLM.Name, "model", cfg.Providers.LLM.Model)

	if entry := cfg.Providers.LLMFallback; entry.Name != "" {
		fb, err := reg.CreateLLM(entry)
		if err != nil {
			return nil, fmt.Errorf("create llm fallback %q: %w", entry.Name, err)
		}
		group := resilience.NewLLMFallback(primaryLLM, cfg.Providers.LLM.Name, fallback)
		group.AddFallback(entry.Name, fb)
		ps.LLM = group
		slog.Info("provider created", "kind", "llm_fallback", "name", entry.Name, "model", entry.Model)
	}

	primaryTTS, err := reg.CreateTTS(cfg.Providers.TTS)
	if err != nil {
		return nil, fmt.Errorf("create tts provider %q: %w", cfg.Providers.TTS.Name, err)
	}
	ps.TTS = primaryTTS
	slog.Info("provider created", "kind", "tts", "name", cfg.Providers.TTS.Name)

	if entry := cfg.Providers.TTSFallback; entry.Name != "" {
		fb, err := reg.CreateTTS(entry)
		if err != nil {
			return nil, fmt.Errorf("create tts fallback %q: %w", entry.Name, err)
		}
		voiceID := optString(entry.Options, "voice_id")
		if voiceID == "" {
			return nil, errors.New("tts fallback requires options.voice_id")
		}
		group := resilience.NewTTSFallback(primaryTTS, cfg.Providers.TTS.Name, fallback)
		group.AddFallback(entry.Name, fb, voiceID)
		ps.TTS = group
		slog.Info("provider created", "kind", "tts_fallback", "name", entry.Name)
	}

	if name := cfg.Providers.VAD.Name; name != "" && name != VADDisabled {
		engine, err := reg.CreateVAD(cfg.Providers.VAD)
		if err != nil {
			return nil, fmt.Errorf("create vad provider %q: %w", name, err)
		}
		ps.VAD = engine
		slog.Info("provider created", "kind", "vad", "name", name)
	}

	return ps, nil
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// optInt extracts an integer value from a provider Options map. YAML decodes
// whole numbers as int.
func optInt(opts map[string]any, key string) int {
	switch v := opts[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}

// optFloat extracts a float value from a provider Options map.
func optFloat(opts map[string]any, key string) float64 {
	switch v := opts[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return 0
}

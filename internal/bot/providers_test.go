package bot

import (
	"errors"
	"testing"

	"github.com/MrWong99/talkinghead/internal/config"
	"github.com/MrWong99/talkinghead/internal/resilience"
	"github.com/MrWong99/talkinghead/pkg/provider/llm"
	llmmock "github.com/MrWong99/talkinghead/pkg/provider/llm/mock"
	"github.com/MrWong99/talkinghead/pkg/provider/tts"
	"github.com/MrWong99/talkinghead/pkg/provider/tts/cartesia"
	ttsmock "github.com/MrWong99/talkinghead/pkg/provider/tts/mock"
	"github.com/MrWong99/talkinghead/pkg/provider/vad/energy"
)

func builtinRegistry() *config.Registry {
	reg := config.NewRegistry()
	RegisterBuiltinProviders(reg)
	return reg
}

func defaults() *config.Config {
	cfg := &config.Config{}
	cfg.Providers.LLM.APIKey = "sk-test"
	cfg.Providers.TTS.APIKey = "cartesia-key"
	cfg.ApplyDefaults()
	return cfg
}

func TestRegisterBuiltinProviders(t *testing.T) {
	t.Parallel()
	reg := builtinRegistry()

	if _, err := reg.CreateLLM(config.ProviderEntry{Name: "openai", APIKey: "sk-test"}); err != nil {
		t.Errorf("openai: %v", err)
	}
	if _, err := reg.CreateLLM(config.ProviderEntry{Name: "openai"}); err == nil {
		t.Error("openai without api key should fail")
	}
	if _, err := reg.CreateTTS(config.ProviderEntry{Name: "elevenlabs", APIKey: "k", Options: map[string]any{"output_format": "pcm_24000"}}); err != nil {
		t.Errorf("elevenlabs: %v", err)
	}
	if _, err := reg.CreateTTS(config.ProviderEntry{Name: "coqui"}); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("coqui err = %v, want ErrProviderNotRegistered", err)
	}
}

func TestRegisterBuiltinProviders_CartesiaOptions(t *testing.T) {
	t.Parallel()
	p, err := builtinRegistry().CreateTTS(config.ProviderEntry{
		Name:    "cartesia",
		APIKey:  "k",
		Options: map[string]any{"sample_rate": 16000, "language": "es"},
	})
	if err != nil {
		t.Fatalf("cartesia: %v", err)
	}
	if _, ok := p.(*cartesia.Provider); !ok {
		t.Fatalf("provider type = %T", p)
	}
	if p.SampleRate() != 16000 {
		t.Errorf("SampleRate = %d, want 16000", p.SampleRate())
	}
}

func TestBuildProviders_Defaults(t *testing.T) {
	t.Parallel()
	ps, err := BuildProviders(defaults(), builtinRegistry())
	if err != nil {
		t.Fatalf("BuildProviders: %v", err)
	}
	if ps.LLM == nil || ps.TTS == nil {
		t.Fatalf("providers = %+v", ps)
	}
	if _, ok := ps.TTS.(*cartesia.Provider); !ok {
		t.Errorf("tts type = %T, want cartesia", ps.TTS)
	}
	if _, ok := ps.VAD.(*energy.Engine); !ok {
		t.Errorf("vad type = %T, want energy", ps.VAD)
	}
}

func TestBuildProviders_VADDisabled(t *testing.T) {
	t.Parallel()
	cfg := defaults()
	cfg.Providers.VAD.Name = VADDisabled
	ps, err := BuildProviders(cfg, builtinRegistry())
	if err != nil {
		t.Fatalf("BuildProviders: %v", err)
	}
	if ps.VAD != nil {
		t.Errorf("vad = %T, want nil", ps.VAD)
	}
}

func TestBuildProviders_Fallbacks(t *testing.T) {
	t.Parallel()
	reg := builtinRegistry()
	reg.RegisterLLM("backup", func(config.ProviderEntry) (llm.Provider, error) { return &llmmock.Provider{}, nil })
	reg.RegisterTTS("backup", func(config.ProviderEntry) (tts.Provider, error) { return &ttsmock.Provider{}, nil })

	cfg := defaults()
	cfg.Providers.LLMFallback = config.ProviderEntry{Name: "backup", Model: "m"}
	cfg.Providers.TTSFallback = config.ProviderEntry{Name: "backup", Options: map[string]any{"voice_id": "v2"}}

	ps, err := BuildProviders(cfg, reg)
	if err != nil {
		t.Fatalf("BuildProviders: %v", err)
	}
	if _, ok := ps.LLM.(*resilience.LLMFallback); !ok {
		t.Errorf("llm type = %T, want *resilience.LLMFallback", ps.LLM)
	}
	if _, ok := ps.TTS.(*resilience.TTSFallback); !ok {
		t.Errorf("tts type = %T, want *resilience.TTSFallback", ps.TTS)
	}
}

func TestBuildProviders_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{name: "unregistered llm", mutate: func(c *config.Config) { c.Providers.LLM.Name = "nope" }},
		{name: "llm missing key", mutate: func(c *config.Config) { c.Providers.LLM.APIKey = "" }},
		{name: "tts missing key", mutate: func(c *config.Config) { c.Providers.TTS.APIKey = "" }},
		{name: "tts fallback without voice", mutate: func(c *config.Config) {
			c.Providers.TTSFallback = config.ProviderEntry{Name: "elevenlabs", APIKey: "k"}
		}},
		{name: "unregistered vad", mutate: func(c *config.Config) { c.Providers.VAD.Name = "silero" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := defaults()
			tt.mutate(cfg)
			if _, err := BuildProviders(cfg, builtinRegistry()); err == nil {
				t.Fatal("expected error, got nil")
			}
		})
	}
}

func TestOptHelpers(t *testing.T) {
	t.Parallel()
	opts := map[string]any{"s": "x", "i": 3, "f": 1.5, "wrong": true}
	if optString(opts, "s") != "x" || optString(opts, "i") != "" || optString(nil, "s") != "" {
		t.Error("optString")
	}
	if optInt(opts, "i") != 3 || optInt(opts, "f") != 1 || optInt(opts, "wrong") != 0 {
		t.Error("optInt")
	}
	if optFloat(opts, "f") != 1.5 || optFloat(opts, "i") != 3 || optFloat(opts, "s") != 0 {
		t.Error("optFloat")
	}
}

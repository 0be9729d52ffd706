package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/huddle/internal/config"
	"github.com/MrWong99/huddle/internal/observe"
	"github.com/MrWong99/huddle/internal/resilience"
	"github.com/MrWong99/huddle/pkg/provider/llm"
	"github.com/MrWong99/huddle/pkg/provider/llm/anyllm"
	oaillm "github.com/MrWong99/huddle/pkg/provider/llm/openai"
	"github.com/MrWong99/huddle/pkg/provider/stt"
	"github.com/MrWong99/huddle/pkg/provider/stt/deepgram"
	oaistt "github.com/MrWong99/huddle/pkg/provider/stt/openai"
	"github.com/MrWong99/huddle/pkg/provider/stt/whisper"
	"github.com/MrWong99/huddle/pkg/provider/tts"
	"github.com/MrWong99/huddle/pkg/provider/tts/coqui"
	"github.com/MrWong99/huddle/pkg/provider/tts/elevenlabs"
	oaitts "github.com/MrWong99/huddle/pkg/provider/tts/openai"
)

// providers holds the provider instances built from the configuration.
type providers struct {
	STT stt.Transcriber
	TTS tts.Provider
	LLM llm.Provider
}

// registerBuiltinProviders wires all built-in provider factories into reg.
// The "discord" audio platform is registered once the bot is connected.
func registerBuiltinProviders(reg *config.Registry) {
	// ── LLM ───────────────────────────────────────────────────────────────────

	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oaillm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaillm.WithBaseURL(entry.BaseURL))
		}
		if d := optDuration(entry.Options, "timeout"); d > 0 {
			opts = append(opts, oaillm.WithTimeout(d))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, oaillm.WithOrganization(org))
		}
		return oaillm.New(entry.APIKey, entry.Model, opts...)
	})

	// The other hosted vendors share one pattern: optional APIKey and BaseURL.
	for _, name := range []string{"anthropic", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"} {
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

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New("ollama", entry.Model, opts...)
	})

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("openai", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		var opts []oaistt.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaistt.WithBaseURL(entry.BaseURL))
		}
		if entry.Model != "" {
			opts = append(opts, oaistt.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, oaistt.WithLanguage(lang))
		}
		if d := optDuration(entry.Options, "timeout"); d > 0 {
			opts = append(opts, oaistt.WithTimeout(d))
		}
		return oaistt.New(entry.APIKey, opts...)
	})

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterSTT("whisper-native", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = optString(entry.Options, "model_path")
		}
		var opts []whisper.NativeOption
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithNativeLanguage(lang))
		}
		return whisper.NewNative(modelPath, opts...)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("openai", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []oaitts.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaitts.WithBaseURL(entry.BaseURL))
		}
		if entry.Model != "" {
			opts = append(opts, oaitts.WithModel(entry.Model))
		}
		if voice := optString(entry.Options, "voice"); voice != "" {
			opts = append(opts, oaitts.WithDefaultVoice(voice))
		}
		if d := optDuration(entry.Options, "timeout"); d > 0 {
			opts = append(opts, oaitts.WithTimeout(d))
		}
		return oaitts.New(entry.APIKey, opts...)
	})

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if outputFmt := optString(entry.Options, "output_format"); outputFmt != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(outputFmt))
		}
		if voice := optString(entry.Options, "voice"); voice != "" {
			opts = append(opts, elevenlabs.WithDefaultVoice(voice))
		}
		if entry.BaseURL != "" {
			opts = append(opts, elevenlabs.WithBaseURL(entry.BaseURL))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})

	reg.RegisterTTS("coqui", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []coqui.Option
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, coqui.WithLanguage(lang))
		}
		if mode := optString(entry.Options, "api_mode"); mode != "" {
			opts = append(opts, coqui.WithAPIMode(coqui.APIMode(mode)))
		}
		if voice := optString(entry.Options, "voice"); voice != "" {
			opts = append(opts, coqui.WithDefaultVoice(voice))
		}
		if d := optDuration(entry.Options, "timeout"); d > 0 {
			opts = append(opts, coqui.WithTimeout(d))
		}
		return coqui.New(entry.BaseURL, opts...)
	})

	for _, kind := range []string{"llm", "stt", "tts"} {
		slog.Debug("registered providers", "kind", kind, "names", reg.Names(kind))
	}
}

// buildProviders instantiates the providers named in cfg. Fallback lists
// wrap the primary in a resilience fallback group with one circuit breaker
// per backend.
func buildProviders(cfg *config.Config, reg *config.Registry, metrics *observe.Metrics) (*providers, error) {
	ps := &providers{}
	fb := fallbackConfig(cfg.Transcription, metrics)
	pc := cfg.Providers

	if pc.STT.Name != "" {
		primary, err := reg.CreateSTT(pc.STT)
		if err != nil {
			return nil, fmt.Errorf("create stt provider %q: %w", pc.STT.Name, err)
		}
		ps.STT = primary
		if len(pc.STTFallback) > 0 {
			group := resilience.NewSTTFallback(primary, pc.STT.Name, fb)
			for _, e := range pc.STTFallback {
				p, err := reg.CreateSTT(e)
				if err != nil {
					return nil, fmt.Errorf("create stt fallback %q: %w", e.Name, err)
				}
				group.AddFallback(e.Name, p)
			}
			ps.STT = group
			slog.Info("fallback group created", "kind", "stt", "backends", group.Names())
		}
		slog.Info("provider created", "kind", "stt", "name", pc.STT.Name)
	}

	if pc.TTS.Name != "" {
		primary, err := reg.CreateTTS(pc.TTS)
		if err != nil {
			return nil, fmt.Errorf("create tts provider %q: %w", pc.TTS.Name, err)
		}
		ps.TTS = primary
		if len(pc.TTSFallback) > 0 {
			group := resilience.NewTTSFallback(primary, pc.TTS.Name, fb)
			for _, e := range pc.TTSFallback {
				p, err := reg.CreateTTS(e)
				if err != nil {
					return nil, fmt.Errorf("create tts fallback %q: %w", e.Name, err)
				}
				group.AddFallback(e.Name, p)
			}
			ps.TTS = group
			slog.Info("fallback group created", "kind", "tts", "backends", group.Names())
		}
		slog.Info("provider created", "kind", "tts", "name", pc.TTS.Name)
	}

	if pc.LLM.Name != "" {
		primary, err := reg.CreateLLM(pc.LLM)
		if err != nil {
			return nil, fmt.Errorf("create llm provider %q: %w", pc.LLM.Name, err)
		}
		ps.LLM = primary
		if len(pc.LLMFallback) > 0 {
			group := resilience.NewLLMFallback(primary, pc.LLM.Name, fb)
			for _, e := range pc.LLMFallback {
				p, err := reg.CreateLLM(e)
				if err != nil {
					return nil, fmt.Errorf("create llm fallback %q: %w", e.Name, err)
				}
				group.AddFallback(e.Name, p)
			}
			ps.LLM = group
			slog.Info("fallback group created", "kind", "llm", "backends", group.Names())
		}
		slog.Info("provider created", "kind", "llm", "name", pc.LLM.Name, "model", pc.LLM.Model)
	}

	if ps.STT == nil {
		return nil, errors.New("providers.stt is required")
	}
	return ps, nil
}

// fallbackConfig builds the per-backend breaker of fallback groups from the
// transcription policy, reporting transitions to metrics.
func fallbackConfig(t config.TranscriptionConfig, metrics *observe.Metrics) resilience.FallbackConfig {
	return resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			MaxFailures:  t.BreakerFailures,
			ResetTimeout: t.BreakerCooldown,
			HalfOpenMax:  t.BreakerHalfOpen,
			OnStateChange: func(name string, _, to resilience.State) {
				metrics.RecordBreakerTransition(context.Background(), "fallback_"+name, to.String())
			},
		},
	}
}

// optString extracts a string value from a provider Options map.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// optDuration parses a duration string such as "15s" from a provider
// Options map. Missing or malformed values yield 0.
func optDuration(opts map[string]any, key string) time.Duration {
	d, err := time.ParseDuration(optString(opts, key))
	if err != nil {
		return 0
	}
	return d
}

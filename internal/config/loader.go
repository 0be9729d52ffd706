package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm":   {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"stt":   {"openai", "deepgram", "whisper", "whisper-native"},
	"tts":   {"openai", "elevenlabs", "coqui"},
	"audio": {"discord"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. Unknown keys are rejected.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.LogFormat != "" && !cfg.Server.LogFormat.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_format %q is invalid; valid values: text, json", cfg.Server.LogFormat))
	}

	// Providers
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	validateProviderName("audio", cfg.Providers.Audio.Name)
	for _, fb := range []struct {
		kind    string
		primary string
		entries []ProviderEntry
	}{
		{"stt", cfg.Providers.STT.Name, cfg.Providers.STTFallback},
		{"tts", cfg.Providers.TTS.Name, cfg.Providers.TTSFallback},
		{"llm", cfg.Providers.LLM.Name, cfg.Providers.LLMFallback},
	} {
		for i, e := range fb.entries {
			if e.Name == "" {
				errs = append(errs, fmt.Errorf("providers.%s_fallback[%d].name is required", fb.kind, i))
				continue
			}
			validateProviderName(fb.kind, e.Name)
		}
		if len(fb.entries) > 0 && fb.primary == "" {
			errs = append(errs, fmt.Errorf("providers.%s_fallback requires providers.%s", fb.kind, fb.kind))
		}
	}
	if cfg.Providers.TTS.Name == "" {
		slog.Warn("providers.tts is not configured; replies and relayed messages will not be spoken")
	}
	if cfg.Providers.LLM.Name == "" {
		slog.Warn("providers.llm is not configured; the assistant will ignore voice requests")
	}

	// Discord
	if cfg.Providers.Audio.Name == "discord" && cfg.Discord.Token == "" {
		slog.Warn("discord.token is empty; the bot cannot connect")
	}

	// Meeting
	m := cfg.Meeting
	for _, d := range []struct {
		name string
		v    int64
	}{
		{"meeting.fast_silence", int64(m.FastSilence)},
		{"meeting.min_partial", int64(m.MinPartial)},
		{"meeting.slow_silence", int64(m.SlowSilence)},
		{"meeting.max_snippet", int64(m.MaxSnippet)},
		{"meeting.merge_silence", int64(m.MergeSilence)},
		{"meeting.speaker_buffer", int64(m.SpeakerBuffer)},
	} {
		if d.v < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", d.name))
		}
	}
	if m.FastSilence > 0 && m.SlowSilence > 0 && m.FastSilence > m.SlowSilence {
		errs = append(errs, fmt.Errorf("meeting.fast_silence %s exceeds meeting.slow_silence %s", m.FastSilence, m.SlowSilence))
	}
	if m.MinPartial > 0 && m.MaxSnippet > 0 && m.MinPartial > m.MaxSnippet {
		errs = append(errs, fmt.Errorf("meeting.min_partial %s exceeds meeting.max_snippet %s", m.MinPartial, m.MaxSnippet))
	}

	// Transcription
	t := cfg.Transcription
	if t.LeakSimilarity < 0 || t.LeakSimilarity > 1 {
		errs = append(errs, fmt.Errorf("transcription.leak_similarity %.2f is out of range [0, 1]", t.LeakSimilarity))
	}
	if t.UploadSampleRate < 0 {
		errs = append(errs, fmt.Errorf("transcription.upload_sample_rate %d must not be negative", t.UploadSampleRate))
	}
	if t.MaxConcurrent < 0 || t.MaxWaiting < 0 {
		errs = append(errs, errors.New("transcription.max_concurrent and transcription.max_waiting must not be negative"))
	}
	if t.RetryMaxBackoff > 0 && t.RetryInitialBackoff > t.RetryMaxBackoff {
		errs = append(errs, fmt.Errorf("transcription.retry_initial_backoff %s exceeds transcription.retry_max_backoff %s", t.RetryInitialBackoff, t.RetryMaxBackoff))
	}

	// Playback
	if cfg.Playback.QueueCapacity < 0 {
		errs = append(errs, fmt.Errorf("playback.queue_capacity %d must not be negative", cfg.Playback.QueueCapacity))
	}
	for name, path := range map[string]string{
		"playback.thinking_cue": cfg.Playback.ThinkingCue,
		"playback.denied_cue":   cfg.Playback.DeniedCue,
	} {
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}

	// Gate
	for i, name := range cfg.Gate.Names {
		if name == "" {
			errs = append(errs, fmt.Errorf("gate.names[%d] must not be empty", i))
		}
	}
	if cfg.Gate.ConfirmTTL < 0 {
		errs = append(errs, fmt.Errorf("gate.confirm_ttl %s must not be negative", cfg.Gate.ConfirmTTL))
	}

	// Archive
	if cfg.Archive.Kind != "" && !cfg.Archive.Kind.IsValid() {
		errs = append(errs, fmt.Errorf("archive.kind %q is invalid; valid values: none, local, s3", cfg.Archive.Kind))
	}
	switch cfg.Archive.Kind {
	case ArchiveLocal:
		if cfg.Archive.Dir == "" {
			errs = append(errs, errors.New("archive.dir is required when archive.kind is local"))
		}
	case ArchiveS3:
		if cfg.Archive.Bucket == "" {
			errs = append(errs, errors.New("archive.bucket is required when archive.kind is s3"))
		}
	}

	// Transcripts
	if cfg.Transcripts.PostgresDSN == "" {
		slog.Debug("transcripts.postgres_dsn is empty; transcripts are kept in memory only")
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}

// Package config provides the configuration schema, loader, and provider registry
// for the huddle meeting engine.
package config

import "time"

// LogLevel controls log verbosity for the huddle server.
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

// LogFormat selects the slog handler.
type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// IsValid reports whether f is a recognised log format.
func (f LogFormat) IsValid() bool {
	return f == LogFormatText || f == LogFormatJSON
}

// ArchiveKind selects where finished recordings and transcripts go.
type ArchiveKind string

const (
	// ArchiveNone keeps recordings in the work directory.
	ArchiveNone  ArchiveKind = "none"
	ArchiveLocal ArchiveKind = "local"
	ArchiveS3    ArchiveKind = "s3"
)

// IsValid reports whether k is a recognised archive kind.
func (k ArchiveKind) IsValid() bool {
	switch k {
	case ArchiveNone, ArchiveLocal, ArchiveS3:
		return true
	}
	return false
}

// Config is the root configuration structure for huddle.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Discord       DiscordConfig       `yaml:"discord"`
	Providers     ProvidersConfig     `yaml:"providers"`
	Meeting       MeetingConfig       `yaml:"meeting"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Playback      PlaybackConfig      `yaml:"playback"`
	Gate          GateConfig          `yaml:"gate"`
	Recording     RecordingConfig     `yaml:"recording"`
	Archive       ArchiveConfig       `yaml:"archive"`
	Transcripts   TranscriptsConfig   `yaml:"transcripts"`
}

// ServerConfig holds network and logging settings for the huddle server.
type ServerConfig struct {
	// ListenAddr is the TCP address of the health and metrics endpoints
	// (e.g., ":8080"). Empty disables the HTTP server.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// LogFormat is "text" or "json".
	LogFormat LogFormat `yaml:"log_format"`
}

// DiscordConfig holds the bot credentials and the channels it acts on.
type DiscordConfig struct {
	Token   string `yaml:"token"`
	GuildID string `yaml:"guild_id"`

	// ModeratorRoleID grants the right to end meetings by voice command in
	// addition to the meeting owner.
	ModeratorRoleID string `yaml:"moderator_role_id"`

	// RelayChannelID is the text channel whose messages are read aloud
	// during an active meeting.
	RelayChannelID string `yaml:"relay_channel_id"`
}

// ProvidersConfig selects the concrete implementation for each provider slot.
type ProvidersConfig struct {
	STT ProviderEntry `yaml:"stt"`

	// STTFallback lists transcribers tried in order when STT fails.
	STTFallback []ProviderEntry `yaml:"stt_fallback"`

	TTS ProviderEntry `yaml:"tts"`

	// TTSFallback lists synthesizers tried in order when TTS fails.
	TTSFallback []ProviderEntry `yaml:"tts_fallback"`

	LLM         ProviderEntry   `yaml:"llm"`
	LLMFallback []ProviderEntry `yaml:"llm_fallback"`

	// Audio selects the voice platform. Default: "discord".
	Audio ProviderEntry `yaml:"audio"`
}

// ProviderEntry is the common configuration block for a single provider.
type ProviderEntry struct {
	// Name is the registered provider name (e.g., "openai", "whisper").
	Name string `yaml:"name"`

	// APIKey is the authentication credential for the provider's API.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint. For local
	// servers (whisper.cpp, coqui) this is the server address.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model. For whisper-native it is the path of
	// the model file.
	Model string `yaml:"model"`

	// Options holds provider-specific settings not covered by the common fields.
	Options map[string]any `yaml:"options"`
}

// MeetingConfig holds the snippet cutting thresholds.
type MeetingConfig struct {
	FastSilence  time.Duration `yaml:"fast_silence"`
	MinPartial   time.Duration `yaml:"min_partial"`
	SlowSilence  time.Duration `yaml:"slow_silence"`
	MaxSnippet   time.Duration `yaml:"max_snippet"`
	MergeSilence time.Duration `yaml:"merge_silence"`

	// SpeakerBuffer is the number of frames buffered per speaker before
	// chunks are dropped.
	SpeakerBuffer int `yaml:"speaker_buffer"`
}

// TranscriptionConfig holds the speech-to-text policy.
type TranscriptionConfig struct {
	// Glossary terms are passed to the transcriber as a prompt.
	Glossary []string `yaml:"glossary"`
	Language string   `yaml:"language"`

	// LeakSimilarity is the similarity in [0, 1] at which output is
	// treated as an echo of the glossary prompt.
	LeakSimilarity float64 `yaml:"leak_similarity"`

	// UploadSampleRate is the rate audio is resampled to before upload.
	UploadSampleRate int `yaml:"upload_sample_rate"`

	MaxConcurrent int `yaml:"max_concurrent"`
	MaxWaiting    int `yaml:"max_waiting"`

	BreakerFailures int           `yaml:"breaker_failures"`
	BreakerCooldown time.Duration `yaml:"breaker_cooldown"`
	BreakerHalfOpen int           `yaml:"breaker_half_open"`

	RetryAttempts       int           `yaml:"retry_attempts"`
	RetryInitialBackoff time.Duration `yaml:"retry_initial_backoff"`
	RetryMaxBackoff     time.Duration `yaml:"retry_max_backoff"`
	AttemptTimeout      time.Duration `yaml:"attempt_timeout"`

	// MinInterval spaces consecutive provider calls.
	MinInterval time.Duration `yaml:"min_interval"`
}

// PlaybackConfig holds the speech queue and cue settings.
type PlaybackConfig struct {
	QueueCapacity int    `yaml:"queue_capacity"`
	Voice         string `yaml:"voice"`

	// ThinkingCue is a WAV file repeated every CueInterval while a reply is
	// generated.
	ThinkingCue string        `yaml:"thinking_cue"`
	CueInterval time.Duration `yaml:"cue_interval"`

	// DeniedCue is a WAV file played when an end request is denied.
	DeniedCue string `yaml:"denied_cue"`
}

// GateConfig holds the voice gate settings.
type GateConfig struct {
	// Names are the variants the assistant answers to. The first is its
	// display name.
	Names []string `yaml:"names"`

	ConfirmTTL    time.Duration `yaml:"confirm_ttl"`
	ConfirmPrompt string        `yaml:"confirm_prompt"`
	DeniedText    string        `yaml:"denied_text"`

	// HistoryLen is the number of transcript records given to the model.
	HistoryLen int `yaml:"history_len"`
}

// RecordingConfig controls the per-speaker tracks and the mixed recording.
type RecordingConfig struct {
	WorkDir      string   `yaml:"work_dir"`
	FFmpegPath   string   `yaml:"ffmpeg_path"`
	OutputFormat string   `yaml:"output_format"`
	OutputArgs   []string `yaml:"output_args"`

	// DiscardFailedTracks removes track files when mixing fails.
	DiscardFailedTracks bool `yaml:"discard_failed_tracks"`
}

// ArchiveConfig selects the archive for finished meetings.
type ArchiveConfig struct {
	Kind ArchiveKind `yaml:"kind"`

	// Dir is the root directory of a local archive.
	Dir string `yaml:"dir"`

	Bucket   string `yaml:"bucket"`
	Prefix   string `yaml:"prefix"`
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"`
}

// TranscriptsConfig configures the transcript sink.
type TranscriptsConfig struct {
	// PostgresDSN enables the PostgreSQL sink. Empty keeps records in memory.
	PostgresDSN string `yaml:"postgres_dsn"`
}

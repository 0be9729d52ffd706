package config

import (
	"cmp"
	"time"

	"github.com/MrWong99/huddle/internal/capture"
	"github.com/MrWong99/huddle/internal/gate"
	"github.com/MrWong99/huddle/internal/meeting"
	"github.com/MrWong99/huddle/internal/playback"
	"github.com/MrWong99/huddle/internal/resilience"
	"github.com/MrWong99/huddle/internal/transcribe"
	"github.com/MrWong99/huddle/pkg/audio"
)

// Defaults applied by [ApplyDefaults] that have no package constant.
const (
	DefaultListenAddr      = ":8080"
	DefaultMaxConcurrent   = 4
	DefaultMaxWaiting      = 16
	DefaultBreakerFailures = 5
	DefaultBreakerCooldown = 30 * time.Second
	DefaultBreakerHalfOpen = 1
	DefaultRetryAttempts   = 3
	DefaultRetryInitial    = 500 * time.Millisecond
	DefaultRetryMax        = 8 * time.Second
	DefaultHistoryLen      = 12
	DefaultAssistantName   = "Huddle"
	DefaultOutputFormat    = "ogg"
)

// ApplyDefaults replaces zero values in cfg with the documented defaults.
// [Load] and [LoadFromReader] call it before [Validate].
func ApplyDefaults(cfg *Config) {
	cfg.Server.ListenAddr = cmp.Or(cfg.Server.ListenAddr, DefaultListenAddr)
	cfg.Server.LogLevel = cmp.Or(cfg.Server.LogLevel, LogInfo)
	cfg.Server.LogFormat = cmp.Or(cfg.Server.LogFormat, LogFormatText)

	cfg.Providers.Audio.Name = cmp.Or(cfg.Providers.Audio.Name, "discord")

	m := &cfg.Meeting
	m.FastSilence = cmp.Or(m.FastSilence, capture.DefaultFastSilence)
	m.MinPartial = cmp.Or(m.MinPartial, capture.DefaultMinPartial)
	m.SlowSilence = cmp.Or(m.SlowSilence, capture.DefaultSlowSilence)
	m.MaxSnippet = cmp.Or(m.MaxSnippet, capture.DefaultMaxSnippet)
	m.MergeSilence = cmp.Or(m.MergeSilence, meeting.DefaultMergeSilence)
	m.SpeakerBuffer = cmp.Or(m.SpeakerBuffer, capture.DefaultBuffer)

	t := &cfg.Transcription
	t.LeakSimilarity = cmp.Or(t.LeakSimilarity, transcribe.DefaultLeakSimilarity)
	t.UploadSampleRate = cmp.Or(t.UploadSampleRate, transcribe.DefaultUploadFormat.SampleRate)
	t.MaxConcurrent = cmp.Or(t.MaxConcurrent, DefaultMaxConcurrent)
	t.MaxWaiting = cmp.Or(t.MaxWaiting, DefaultMaxWaiting)
	t.BreakerFailures = cmp.Or(t.BreakerFailures, DefaultBreakerFailures)
	t.BreakerCooldown = cmp.Or(t.BreakerCooldown, DefaultBreakerCooldown)
	t.BreakerHalfOpen = cmp.Or(t.BreakerHalfOpen, DefaultBreakerHalfOpen)
	t.RetryAttempts = cmp.Or(t.RetryAttempts, DefaultRetryAttempts)
	t.RetryInitialBackoff = cmp.Or(t.RetryInitialBackoff, DefaultRetryInitial)
	t.RetryMaxBackoff = cmp.Or(t.RetryMaxBackoff, DefaultRetryMax)
	t.AttemptTimeout = cmp.Or(t.AttemptTimeout, transcribe.DefaultAttemptTimeout)
	t.MinInterval = cmp.Or(t.MinInterval, transcribe.DefaultMinInterval)

	p := &cfg.Playback
	p.QueueCapacity = cmp.Or(p.QueueCapacity, playback.DefaultCapacity)
	p.CueInterval = cmp.Or(p.CueInterval, playback.DefaultCueInterval)

	g := &cfg.Gate
	if len(g.Names) == 0 {
		g.Names = []string{DefaultAssistantName}
	}
	g.ConfirmTTL = cmp.Or(g.ConfirmTTL, gate.DefaultConfirmTTL)
	g.ConfirmPrompt = cmp.Or(g.ConfirmPrompt, gate.DefaultConfirmPrompt)
	g.DeniedText = cmp.Or(g.DeniedText, gate.DefaultDeniedText)
	g.HistoryLen = cmp.Or(g.HistoryLen, DefaultHistoryLen)

	cfg.Recording.OutputFormat = cmp.Or(cfg.Recording.OutputFormat, DefaultOutputFormat)

	cfg.Archive.Kind = cmp.Or(cfg.Archive.Kind, ArchiveNone)
}

// MeetingSettings maps the meeting related sections onto
// [meeting.Settings]. cfg should have passed [ApplyDefaults].
func (cfg *Config) MeetingSettings() meeting.Settings {
	m, t, p, g, r := cfg.Meeting, cfg.Transcription, cfg.Playback, cfg.Gate, cfg.Recording

	return meeting.Settings{
		Capture: capture.Config{
			FastSilence: m.FastSilence,
			MinPartial:  m.MinPartial,
			SlowSilence: m.SlowSilence,
			MaxSnippet:  m.MaxSnippet,
			Buffer:      m.SpeakerBuffer,
		},
		Transcription: transcribe.Config{
			Glossary:       t.Glossary,
			Language:       t.Language,
			UploadFormat:   audio.Format{SampleRate: t.UploadSampleRate, Channels: 1},
			LeakSimilarity: t.LeakSimilarity,
			Bulkhead: resilience.BulkheadConfig{
				MaxConcurrent: t.MaxConcurrent,
				MaxWaiting:    t.MaxWaiting,
			},
			Breaker: resilience.CircuitBreakerConfig{
				MaxFailures:  t.BreakerFailures,
				ResetTimeout: t.BreakerCooldown,
				HalfOpenMax:  t.BreakerHalfOpen,
			},
			Retry: resilience.RetryConfig{
				MaxAttempts:    t.RetryAttempts,
				InitialBackoff: t.RetryInitialBackoff,
				MaxBackoff:     t.RetryMaxBackoff,
				Jitter:         0.2,
				AttemptTimeout: t.AttemptTimeout,
			},
			MinInterval: t.MinInterval,
		},
		MergeSilence:        m.MergeSilence,
		QueueCapacity:       p.QueueCapacity,
		Voice:               p.Voice,
		ThinkingCue:         p.ThinkingCue,
		CueInterval:         p.CueInterval,
		Names:               g.Names,
		ConfirmTTL:          g.ConfirmTTL,
		ConfirmPrompt:       g.ConfirmPrompt,
		DeniedCue:           p.DeniedCue,
		DeniedText:          g.DeniedText,
		HistoryLen:          g.HistoryLen,
		WorkDir:             r.WorkDir,
		OutputExt:           r.OutputFormat,
		FFmpegPath:          r.FFmpegPath,
		OutputArgs:          r.OutputArgs,
		DiscardFailedTracks: r.DiscardFailedTracks,
	}
}

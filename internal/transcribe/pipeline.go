// Package transcribe turns closed capture snippets into transcript records.
//
// Every provider call passes through a fixed policy stack, outermost first:
//
//	bulkhead → circuit breaker → retry → limiter → stt.Transcriber
//
// The bulkhead bounds in-flight calls and their waiters, the breaker stops
// hammering a provider that keeps failing, the retry absorbs transient
// errors, and the limiter spaces attempts out to the provider's throughput.
// A snippet that cannot be transcribed becomes an unavailable record rather
// than blocking the meeting. Output that merely echoes the glossary prompt is
// discarded to empty text.
package transcribe

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/huddle/internal/capture"
	"github.com/MrWong99/huddle/internal/observe"
	"github.com/MrWong99/huddle/internal/resilience"
	"github.com/MrWong99/huddle/internal/transcript"
	"github.com/MrWong99/huddle/pkg/audio"
	"github.com/MrWong99/huddle/pkg/provider/stt"
)

// ErrUnavailable wraps every error that leaves a snippet without a
// transcription.
var ErrUnavailable = errors.New("transcribe: transcription unavailable")

// Reasons recorded on empty and unavailable records.
const (
	ReasonNoAudio          = "no_audio"
	ReasonPromptEcho       = "prompt_echo"
	ReasonBulkheadFull     = "bulkhead_full"
	ReasonBreakerOpen      = "breaker_open"
	ReasonRetriesExhausted = "retries_exhausted"
	ReasonProviderError    = "provider_error"
)

// Defaults for the zero [Config].
const (
	DefaultMinInterval    = 250 * time.Millisecond
	DefaultAttemptTimeout = 30 * time.Second
)

// DefaultUploadFormat is the PCM format snippets are converted to before
// upload.
var DefaultUploadFormat = audio.Format{SampleRate: 16000, Channels: 1}

// Config configures a [Pipeline].
type Config struct {
	// Transcriber is the provider, possibly a [resilience.STTFallback].
	// Required.
	Transcriber stt.Transcriber

	// Glossary lists names and terms that bias recognition. It is joined
	// into the request prompt and drives the leak guard.
	Glossary []string

	// Language is passed to the provider. Empty means auto-detect.
	Language string

	// UploadFormat is the format snippets are converted to before WAV
	// encoding. Default: 16 kHz mono.
	UploadFormat audio.Format

	// LeakSimilarity is the prompt-echo threshold. Default: 0.85.
	LeakSimilarity float64

	Bulkhead resilience.BulkheadConfig
	Breaker  resilience.CircuitBreakerConfig

	// Retry configures the retry policy. Retryable defaults to
	// [stt.IsTransient] and AttemptTimeout to 30s.
	Retry resilience.RetryConfig

	// MinInterval is the minimum spacing between provider attempts.
	// Default: 250ms. Negative disables the limiter.
	MinInterval time.Duration

	// Metrics is optional.
	Metrics *observe.Metrics

	Logger *slog.Logger
}

// Result is the outcome of one transcription.
type Result struct {
	Text        string
	Language    string
	Unavailable bool

	// Reason explains an empty or unavailable result.
	Reason string
}

// Pipeline transcribes snippets through the resilience stack. It is safe for
// concurrent use.
type Pipeline struct {
	stt      stt.Transcriber
	prompt   string
	language string
	format   audio.Format
	guard    *LeakGuard

	bulkhead *resilience.Bulkhead
	breaker  *resilience.CircuitBreaker
	retry    *resilience.Retry
	limiter  *resilience.Limiter

	metrics *observe.Metrics
	logger  *slog.Logger

	wg sync.WaitGroup
}

// New creates a [Pipeline] from cfg.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Transcriber == nil {
		return nil, errors.New("transcribe: transcriber is required")
	}
	if !cfg.UploadFormat.Valid() {
		cfg.UploadFormat = DefaultUploadFormat
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MinInterval == 0 {
		cfg.MinInterval = DefaultMinInterval
	}
	if cfg.Retry.Retryable == nil {
		cfg.Retry.Retryable = stt.IsTransient
	}
	if cfg.Retry.AttemptTimeout == 0 {
		cfg.Retry.AttemptTimeout = DefaultAttemptTimeout
	}
	cfg.Bulkhead.Name = cmp.Or(cfg.Bulkhead.Name, "stt")
	cfg.Retry.Name = cmp.Or(cfg.Retry.Name, "stt")
	cfg.Breaker.Name = cmp.Or(cfg.Breaker.Name, "stt")

	metrics := cfg.Metrics
	if userHook := cfg.Breaker.OnStateChange; metrics != nil || userHook != nil {
		cfg.Breaker.OnStateChange = func(name string, from, to resilience.State) {
			metrics.RecordBreakerTransition(context.Background(), name, to.String())
			if userHook != nil {
				userHook(name, from, to)
			}
		}
	}

	prompt := strings.Join(cfg.Glossary, ", ")
	return &Pipeline{
		stt:      cfg.Transcriber,
		prompt:   prompt,
		language: cfg.Language,
		format:   cfg.UploadFormat,
		guard:    NewLeakGuard(prompt, cfg.LeakSimilarity),
		bulkhead: resilience.NewBulkhead(cfg.Bulkhead),
		breaker:  resilience.NewCircuitBreaker(cfg.Breaker),
		retry:    resilience.NewRetry(cfg.Retry),
		limiter:  resilience.NewLimiter(max(cfg.MinInterval, 0)),
		metrics:  metrics,
		logger:   cfg.Logger,
	}, nil
}

// Breaker exposes the circuit breaker for health reporting.
func (p *Pipeline) Breaker() *resilience.CircuitBreaker { return p.breaker }

// Prompt returns the glossary prompt sent with every request.
func (p *Pipeline) Prompt() string { return p.prompt }

// Transcribe runs pcm through the policy stack. When the snippet cannot be
// transcribed it returns a Result with Unavailable set and an error wrapping
// [ErrUnavailable]. A prompt echo is not an error: it yields an empty Text
// with Reason [ReasonPromptEcho].
func (p *Pipeline) Transcribe(ctx context.Context, pcm []byte, f audio.Format) (Result, error) {
	if len(pcm) == 0 {
		return Result{Reason: ReasonNoAudio}, nil
	}
	up, err := audio.ConvertPCMQuality(pcm, f, p.format)
	if err != nil {
		p.logger.Warn("transcribe: band-limited resampling failed, using linear", "err", err)
		up = audio.ConvertPCM(pcm, f, p.format)
	}
	wav, err := audio.EncodeWAV(up, p.format)
	if err != nil {
		return Result{Unavailable: true, Reason: ReasonProviderError},
			fmt.Errorf("%w: encode: %w", ErrUnavailable, err)
	}
	req := stt.Request{Audio: wav, Prompt: p.prompt, Language: p.language}

	var res stt.Result
	err = p.bulkhead.Execute(ctx, func(ctx context.Context) error {
		return p.breaker.Execute(func() error {
			return p.retry.Do(ctx, func(ctx context.Context) error {
				if err := p.limiter.Wait(ctx); err != nil {
					return err
				}
				r, err := p.stt.Transcribe(ctx, req)
				if err != nil {
					return err
				}
				res = r
				return nil
			})
		})
	})
	if err != nil {
		reason := classify(err)
		if reason == ReasonBulkheadFull {
			p.metrics.RecordBulkheadRejection(ctx, "stt")
		}
		return Result{Unavailable: true, Reason: reason}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	text := strings.TrimSpace(res.Text)
	if p.guard.IsEcho(text) {
		return Result{Language: res.Language, Reason: ReasonPromptEcho}, nil
	}
	return Result{Text: text, Language: res.Language}, nil
}

func classify(err error) string {
	switch {
	case errors.Is(err, resilience.ErrBulkheadFull):
		return ReasonBulkheadFull
	case errors.Is(err, resilience.ErrCircuitOpen):
		return ReasonBreakerOpen
	case errors.Is(err, resilience.ErrRetriesExhausted):
		return ReasonRetriesExhausted
	default:
		return ReasonProviderError
	}
}

// Process transcribes a closed snippet and returns its record. The call is
// detached from ctx cancellation so that a meeting ending mid-call lets the
// provider finish; deadlines come from the retry policy.
func (p *Pipeline) Process(ctx context.Context, s capture.Snippet) transcript.Record {
	ctx, span := observe.StartSpan(context.WithoutCancel(ctx), "transcribe.snippet",
		trace.WithAttributes(
			attribute.String("speaker_id", s.SpeakerID),
			attribute.Int64("seq", int64(s.Seq)),
			attribute.Int64("duration_ms", s.DurationMs()),
		))
	start := time.Now()

	rec := transcript.Record{
		SpeakerID:   s.SpeakerID,
		StartedAtMs: s.StartedAt,
		DurationMs:  s.DurationMs(),
		Source:      transcript.SourceVoice,
	}
	res, err := p.Transcribe(ctx, s.PCM(), s.Format)
	rec.Text = res.Text
	rec.Unavailable = res.Unavailable
	rec.Reason = res.Reason

	outcome := observe.OutcomeOK
	switch {
	case err != nil:
		outcome = observe.OutcomeUnavailable
		p.logger.Warn("transcribe: snippet unavailable",
			"speaker_id", s.SpeakerID, "seq", s.Seq, "reason", res.Reason, "err", err)
	case res.Reason == ReasonPromptEcho:
		outcome = observe.OutcomeLeak
		p.logger.Info("transcribe: discarded prompt echo", "speaker_id", s.SpeakerID, "seq", s.Seq)
	case res.Text == "":
		outcome = observe.OutcomeEmpty
	}
	p.metrics.RecordTranscription(ctx, outcome, res.Reason, time.Since(start).Seconds())
	span.SetAttributes(attribute.String("outcome", outcome))
	observe.EndSpan(span, err)
	return rec
}

// Go processes s on a new goroutine and passes the record to done. Use
// [Pipeline.Wait] to wait for every call started with Go.
func (p *Pipeline) Go(ctx context.Context, s capture.Snippet, done func(capture.Snippet, transcript.Record)) {
	p.wg.Go(func() {
		done(s, p.Process(ctx, s))
	})
}

// Wait blocks until every snippet started with [Pipeline.Go] has finished or
// failed.
func (p *Pipeline) Wait() { p.wg.Wait() }

package resilience

import (
	"context"

	"github.com/MrWong99/huddle/pkg/audio"
	"github.com/MrWong99/huddle/pkg/provider/llm"
	"github.com/MrWong99/huddle/pkg/provider/stt"
	"github.com/MrWong99/huddle/pkg/provider/tts"
)

var (
	_ stt.Transcriber = (*STTFallback)(nil)
	_ tts.Provider    = (*TTSFallback)(nil)
	_ llm.Provider    = (*LLMFallback)(nil)
)

// STTFallback is a [stt.Transcriber] that fails over between transcription
// backends. Every backend gets the same audio, prompt and language.
type STTFallback struct {
	*FallbackGroup[stt.Transcriber]
}

// NewSTTFallback returns an [STTFallback] with primary as the first backend.
func NewSTTFallback(primary stt.Transcriber, name string, cfg FallbackConfig) *STTFallback {
	return &STTFallback{NewFallbackGroup(primary, name, cfg)}
}

func (f *STTFallback) Transcribe(ctx context.Context, req stt.Request) (stt.Result, error) {
	res, _, err := Call(ctx, f.FallbackGroup, func(ctx context.Context, t stt.Transcriber) (stt.Result, error) {
		return t.Transcribe(ctx, req)
	})
	return res, err
}

// TTSFallback is a [tts.Provider] that fails over between speech backends.
// Failover covers stream setup only: once a backend has returned a stream,
// an early end of that stream is not retried elsewhere, because part of the
// answer may already have been played.
type TTSFallback struct {
	*FallbackGroup[tts.Provider]
}

// NewTTSFallback returns a [TTSFallback] with primary as the first backend.
func NewTTSFallback(primary tts.Provider, name string, cfg FallbackConfig) *TTSFallback {
	return &TTSFallback{NewFallbackGroup(primary, name, cfg)}
}

type stream struct {
	ch     <-chan []byte
	format audio.Format
}

func (f *TTSFallback) Synthesize(ctx context.Context, text, voice string) (<-chan []byte, audio.Format, error) {
	s, _, err := Call(ctx, f.FallbackGroup, func(ctx context.Context, p tts.Provider) (stream, error) {
		ch, format, err := p.Synthesize(ctx, text, voice)
		return stream{ch: ch, format: format}, err
	})
	if err != nil {
		return nil, audio.Format{}, err
	}
	return s.ch, s.format, nil
}

// LLMFallback is an [llm.Provider] that fails over between model backends
// for both trigger classification and answers.
type LLMFallback struct {
	*FallbackGroup[llm.Provider]
}

// NewLLMFallback returns an [LLMFallback] with primary as the first backend.
func NewLLMFallback(primary llm.Provider, name string, cfg FallbackConfig) *LLMFallback {
	return &LLMFallback{NewFallbackGroup(primary, name, cfg)}
}

func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	resp, _, err := Call(ctx, f.FallbackGroup, func(ctx context.Context, p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
	return resp, err
}

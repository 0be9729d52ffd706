// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis service (e.g., ElevenLabs or the
// OpenAI speech endpoint) and returns raw 16-bit PCM as it becomes available,
// together with the format of that PCM. The playback queue converts the audio
// to the sink's format before playing it.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"

	"github.com/MrWong99/huddle/pkg/audio"
)

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize renders text with the given voice and returns a channel of
	// raw PCM chunks in the returned format.
	//
	// The channel is closed when synthesis is complete or ctx is cancelled.
	// The caller must drain it to avoid blocking the provider's goroutines.
	//
	// An empty voice selects the provider's default voice. Returns a non-nil
	// error only if synthesis cannot be started; mid-stream failures close
	// the channel early.
	Synthesize(ctx context.Context, text, voice string) (<-chan []byte, audio.Format, error)
}

// Collect drains a synthesis channel into a single buffer. It returns early
// with ctx.Err() if ctx is cancelled, releasing the producer via
// [audio.Drain].
func Collect(ctx context.Context, ch <-chan []byte) ([]byte, error) {
	var out []byte
	for {
		select {
		case chunk, ok := <-ch:
			if !ok {
				return out, ctx.Err()
			}
			out = append(out, chunk...)
		case <-ctx.Done():
			go audio.Drain(ch)
			return nil, ctx.Err()
		}
	}
}

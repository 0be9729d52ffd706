// Package mock provides a test double for the tts.Provider interface.
//
// Example:
//
//	p := &mock.Provider{Chunks: [][]byte{[]byte("audio1"), []byte("audio2")}}
//	ch, f, _ := p.Synthesize(ctx, "hello", "alloy")
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/huddle/pkg/audio"
	"github.com/MrWong99/huddle/pkg/provider/tts"
)

var _ tts.Provider = (*Provider)(nil)

// SynthesizeCall records a single invocation of Synthesize.
type SynthesizeCall struct {
	Text  string
	Voice string
}

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// Chunks is the sequence of PCM slices emitted for every call. When nil,
	// a single chunk holding the UTF-8 bytes of the text (padded to an even
	// length) is emitted so tests can tell items apart.
	Chunks [][]byte

	// Format is returned with each stream. Defaults to 16 kHz mono.
	Format audio.Format

	// Err, if non-nil, is returned from Synthesize instead of a stream.
	Err error

	// Calls records every Synthesize invocation.
	Calls []SynthesizeCall
}

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, text, voice string) (<-chan []byte, audio.Format, error) {
	p.mu.Lock()
	p.Calls = append(p.Calls, SynthesizeCall{Text: text, Voice: voice})
	chunks, f, err := p.Chunks, p.Format, p.Err
	p.mu.Unlock()

	if err != nil {
		return nil, audio.Format{}, err
	}
	if !f.Valid() {
		f = audio.Format{SampleRate: 16000, Channels: 1}
	}
	if chunks == nil {
		b := []byte(text)
		if len(b)%2 == 1 {
			b = append(b, 0)
		}
		chunks = [][]byte{b}
	}

	ch := make(chan []byte, len(chunks))
	go func() {
		defer close(ch)
		for _, c := range chunks {
			select {
			case ch <- c:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, f, nil
}

// Texts returns the text of every call in order. Thread-safe.
func (p *Provider) Texts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.Calls))
	for i, c := range p.Calls {
		out[i] = c.Text
	}
	return out
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = nil
}

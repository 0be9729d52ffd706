// Package coqui provides a TTS provider backed by a locally running Coqui
// server. It implements the tts.Provider interface.
//
// Two API modes are supported:
//
//   - APIModeStandard (default): targets the standard Coqui TTS server
//     (ghcr.io/coqui-ai/tts-cpu). Synthesis is performed via GET /api/tts with
//     URL query parameters.
//
//   - APIModeXTTS: targets the Coqui XTTS v2 API server. Synthesis is performed
//     via POST /tts_to_audio/ with a JSON body naming a speaker.
//
// Both servers answer one WAV file per request, so Synthesize splits the text
// into sentences and requests them concurrently with a small lookahead. The
// first sentence is synthesised before Synthesize returns, which fixes the
// output format; later sentences are converted to it if the server answers
// differently.
//
// Typical usage:
//
//	p, err := coqui.New("http://localhost:5002",
//	    coqui.WithLanguage("en"),
//	    coqui.WithTimeout(15*time.Second),
//	)
//	pcm, format, err := p.Synthesize(ctx, "The meeting has ended.", "")
package coqui

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode"

	"github.com/MrWong99/huddle/pkg/audio"
	"github.com/MrWong99/huddle/pkg/provider/tts"
)

var _ tts.Provider = (*Provider)(nil)

const (
	defaultLanguage = "en"
	defaultTimeout  = 30 * time.Second
	ttsEndpoint     = "/tts_to_audio/"
	apiTTSEndpoint  = "/api/tts"

	// sentenceLookahead bounds the synthesis requests in flight beyond the
	// sentence currently being emitted.
	sentenceLookahead = 3

	// audioChanBuf is the buffer depth of the returned audio channel.
	audioChanBuf = 64

	// pcmChunkSize is the size of each PCM chunk emitted on the audio channel.
	pcmChunkSize = 4096
)

// APIMode selects which Coqui server API the provider will target.
type APIMode string

const (
	// APIModeXTTS targets the Coqui XTTS v2 API server (/tts_to_audio/).
	// A voice (speaker) is required.
	APIModeXTTS APIMode = "xtts"

	// APIModeStandard targets the standard Coqui TTS server (/api/tts).
	// This is the default mode.
	APIModeStandard APIMode = "standard"
)

// Option is a functional option for configuring a Coqui Provider.
type Option func(*Provider)

// WithLanguage sets the language code sent to the TTS server (e.g., "en",
// "de", "fr"). Defaults to "en" if not set.
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithTimeout sets the per-request HTTP timeout for calls to the TTS server.
// Defaults to 30 s if not set.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) { p.httpClient.Timeout = d }
}

// WithAPIMode sets the server API mode.
func WithAPIMode(mode APIMode) Option {
	return func(p *Provider) { p.apiMode = mode }
}

// WithDefaultVoice sets the speaker used when Synthesize is called without one.
func WithDefaultVoice(voice string) Option {
	return func(p *Provider) { p.voice = voice }
}

// Provider implements tts.Provider backed by a Coqui TTS server.
// It is safe for concurrent use.
type Provider struct {
	serverURL  string
	language   string
	voice      string
	httpClient *http.Client
	apiMode    APIMode
}

// New creates a Provider that targets the TTS server at serverURL
// (e.g., "http://localhost:5002"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("coqui: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:  strings.TrimRight(serverURL, "/"),
		language:   defaultLanguage,
		apiMode:    APIModeStandard,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	switch p.apiMode {
	case APIModeStandard, APIModeXTTS:
	default:
		return nil, fmt.Errorf("coqui: unknown api mode %q", p.apiMode)
	}
	return p, nil
}

// ttsRequest is the JSON body sent to POST /tts_to_audio/ (XTTS mode).
type ttsRequest struct {
	Text       string `json:"text"`
	SpeakerWav string `json:"speaker_wav"`
	Language   string `json:"language"`
}

// sentenceAudio is the synthesised audio of one sentence.
type sentenceAudio struct {
	pcm    []byte
	format audio.Format
	err    error
}

// Synthesize implements tts.Provider. An error for the first sentence is
// returned directly; a failure on a later sentence ends the stream early.
func (p *Provider) Synthesize(ctx context.Context, text, voice string) (<-chan []byte, audio.Format, error) {
	sentences := splitSentences(text)
	if len(sentences) == 0 {
		return nil, audio.Format{}, errors.New("coqui: empty text")
	}
	voice = cmp.Or(voice, p.voice)
	if voice == "" && p.apiMode == APIModeXTTS {
		return nil, audio.Format{}, errors.New("coqui: a voice is required in XTTS mode")
	}

	first := p.synthesize(ctx, sentences[0], voice)
	if first.err != nil {
		return nil, audio.Format{}, first.err
	}
	format := first.format

	ch := make(chan []byte, audioChanBuf)
	go func() {
		defer close(ch)
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		if !emit(ctx, ch, first.pcm) {
			return
		}

		// Each pending sentence gets a result channel; draining them in
		// order keeps the audio in sentence order.
		pending := make(chan chan sentenceAudio, sentenceLookahead)
		go func() {
			defer close(pending)
			for _, s := range sentences[1:] {
				res := make(chan sentenceAudio, 1)
				select {
				case pending <- res:
				case <-ctx.Done():
					return
				}
				go func() { res <- p.synthesize(ctx, s, voice) }()
			}
		}()

		for res := range pending {
			var a sentenceAudio
			select {
			case a = <-res:
			case <-ctx.Done():
				return
			}
			if a.err != nil {
				return
			}
			if a.format != format {
				a.pcm = audio.ConvertPCM(a.pcm, a.format, format)
			}
			if !emit(ctx, ch, a.pcm) {
				return
			}
		}
	}()
	return ch, format, nil
}

// emit sends pcm in fixed-size chunks. It returns false if ctx ended first.
func emit(ctx context.Context, ch chan<- []byte, pcm []byte) bool {
	for len(pcm) > 0 {
		end := min(pcmChunkSize, len(pcm))
		select {
		case ch <- pcm[:end]:
		case <-ctx.Done():
			return false
		}
		pcm = pcm[end:]
	}
	return true
}

// synthesize requests one sentence in the configured API mode.
func (p *Provider) synthesize(ctx context.Context, sentence, voice string) sentenceAudio {
	req, err := p.newRequest(ctx, sentence, voice)
	if err != nil {
		return sentenceAudio{err: err}
	}
	req.Header.Set("Accept", "audio/wav")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return sentenceAudio{err: fmt.Errorf("coqui: %s %s: %w", req.Method, req.URL.Path, err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return sentenceAudio{err: fmt.Errorf("coqui: %s %s returned status %d", req.Method, req.URL.Path, resp.StatusCode)}
	}
	wav, err := io.ReadAll(resp.Body)
	if err != nil {
		return sentenceAudio{err: fmt.Errorf("coqui: read WAV response: %w", err)}
	}
	pcm, format, err := audio.DecodeWAV(wav)
	if err != nil {
		return sentenceAudio{err: fmt.Errorf("coqui: %w", err)}
	}
	return sentenceAudio{pcm: pcm, format: format}
}

func (p *Provider) newRequest(ctx context.Context, sentence, voice string) (*http.Request, error) {
	if p.apiMode == APIModeXTTS {
		data, err := json.Marshal(ttsRequest{Text: sentence, SpeakerWav: voice, Language: p.language})
		if err != nil {
			return nil, fmt.Errorf("coqui: marshal tts request: %w", err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+ttsEndpoint, bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("coqui: create tts request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	}

	params := url.Values{}
	params.Set("text", sentence)
	if voice != "" {
		params.Set("speaker_id", voice)
	}
	if p.language != "" {
		params.Set("language_id", p.language)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.serverURL+apiTTSEndpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("coqui: create tts request: %w", err)
	}
	return req, nil
}

// splitSentences cuts text at sentence boundaries and drops empty pieces.
func splitSentences(text string) []string {
	var out []string
	for {
		idx := findSentenceBoundary(text)
		if idx < 0 {
			break
		}
		if s := strings.TrimSpace(text[:idx+1]); s != "" {
			out = append(out, s)
		}
		text = text[idx+1:]
	}
	if s := strings.TrimSpace(text); s != "" {
		out = append(out, s)
	}
	return out
}

// findSentenceBoundary returns the index of the first sentence-ending character
// ('.', '!', '?') that is either at the end of s or immediately followed by
// whitespace. Returns -1 if no sentence boundary is found.
//
// Abbreviations like "Dr.Smith" or decimals like "3.14" are not boundaries.
func findSentenceBoundary(s string) int {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '.' || c == '!' || c == '?' {
			if i+1 >= len(s) || unicode.IsSpace(rune(s[i+1])) {
				return i
			}
		}
	}
	return -1
}

package coqui

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/huddle/pkg/audio"
	"github.com/MrWong99/huddle/pkg/provider/tts"
)

var mono16k = audio.Format{SampleRate: 16000, Channels: 1}

// testWAV returns a WAV file of n samples, each byte set to fill.
func testWAV(t *testing.T, n int, fill byte, f audio.Format) []byte {
	t.Helper()
	wav, err := audio.EncodeWAV(bytes.Repeat([]byte{fill}, n*2*f.Channels), f)
	if err != nil {
		t.Fatalf("EncodeWAV: %v", err)
	}
	return wav
}

// mustNew is a test helper that calls New and fails the test on error.
func mustNew(t *testing.T, serverURL string, opts ...Option) *Provider {
	t.Helper()
	p, err := New(serverURL, opts...)
	if err != nil {
		t.Fatalf("New(%q): unexpected error: %v", serverURL, err)
	}
	return p
}

func collect(t *testing.T, ch <-chan []byte) []byte {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	pcm, err := tts.Collect(ctx, ch)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return pcm
}

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("defaults", func(t *testing.T) {
		t.Parallel()
		p := mustNew(t, "http://localhost:5002/")
		if p.serverURL != "http://localhost:5002" {
			t.Errorf("serverURL = %q, want trailing slash stripped", p.serverURL)
		}
		if p.language != defaultLanguage || p.apiMode != APIModeStandard {
			t.Errorf("language/mode = %q/%q, want %q/%q", p.language, p.apiMode, defaultLanguage, APIModeStandard)
		}
		if p.httpClient.Timeout != defaultTimeout {
			t.Errorf("timeout = %v, want %v", p.httpClient.Timeout, defaultTimeout)
		}
	})

	t.Run("options", func(t *testing.T) {
		t.Parallel()
		p := mustNew(t, "http://localhost:8002",
			WithLanguage("de"), WithTimeout(5*time.Second), WithAPIMode(APIModeXTTS), WithDefaultVoice("Ana"))
		if p.language != "de" || p.httpClient.Timeout != 5*time.Second || p.apiMode != APIModeXTTS || p.voice != "Ana" {
			t.Errorf("provider = %+v, want options applied", p)
		}
	})

	t.Run("empty URL", func(t *testing.T) {
		t.Parallel()
		if _, err := New(""); err == nil {
			t.Error("New(\"\") error = nil, want error")
		}
	})

	t.Run("unknown mode", func(t *testing.T) {
		t.Parallel()
		if _, err := New("http://x", WithAPIMode("fancy")); err == nil {
			t.Error("New with unknown mode error = nil, want error")
		}
	})
}

func TestSynthesize_Standard(t *testing.T) {
	t.Parallel()

	wavs := map[string][]byte{
		"Hello there.": testWAV(t, 3000, 0x11, mono16k),
		"How are you?": testWAV(t, 3000, 0x22, mono16k),
		"Bye":          testWAV(t, 3000, 0x33, mono16k),
	}
	var (
		mu    sync.Mutex
		texts []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != apiTTSEndpoint {
			http.NotFound(w, r)
			return
		}
		q := r.URL.Query()
		if q.Get("speaker_id") != "p225" || q.Get("language_id") != "en" {
			http.Error(w, "bad params", http.StatusBadRequest)
			return
		}
		text := q.Get("text")
		mu.Lock()
		texts = append(texts, text)
		mu.Unlock()
		// The second sentence is slowest; output must stay in order.
		if text == "How are you?" {
			time.Sleep(50 * time.Millisecond)
		}
		w.Header().Set("Content-Type", "audio/wav")
		_, _ = w.Write(wavs[text])
	}))
	defer srv.Close()

	p := mustNew(t, srv.URL)
	ch, format, err := p.Synthesize(context.Background(), "Hello there. How are you? Bye", "p225")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if format != mono16k {
		t.Errorf("format = %v, want %v", format, mono16k)
	}

	pcm := collect(t, ch)
	want := slices.Concat(
		bytes.Repeat([]byte{0x11}, 6000),
		bytes.Repeat([]byte{0x22}, 6000),
		bytes.Repeat([]byte{0x33}, 6000),
	)
	if !bytes.Equal(pcm, want) {
		t.Errorf("pcm = %d bytes, want %d bytes of three sentences in order", len(pcm), len(want))
	}

	mu.Lock()
	defer mu.Unlock()
	slices.Sort(texts)
	if !slices.Equal(texts, []string{"Bye", "Hello there.", "How are you?"}) {
		t.Errorf("requested sentences = %v", texts)
	}
}

func TestSynthesize_XTTS(t *testing.T) {
	t.Parallel()

	wav := testWAV(t, 100, 0x42, audio.Format{SampleRate: 24000, Channels: 1})
	var (
		mu   sync.Mutex
		reqs []ttsRequest
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != ttsEndpoint {
			http.NotFound(w, r)
			return
		}
		var req ttsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		mu.Lock()
		reqs = append(reqs, req)
		mu.Unlock()
		_, _ = w.Write(wav)
	}))
	defer srv.Close()

	p := mustNew(t, srv.URL, WithAPIMode(APIModeXTTS), WithDefaultVoice("Ana Florence"), WithLanguage("de"))
	ch, format, err := p.Synthesize(context.Background(), "Hallo zusammen.", "")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if format.SampleRate != 24000 {
		t.Errorf("sample rate = %d, want 24000", format.SampleRate)
	}
	if pcm := collect(t, ch); len(pcm) != 200 {
		t.Errorf("pcm = %d bytes, want 200", len(pcm))
	}

	mu.Lock()
	defer mu.Unlock()
	if len(reqs) != 1 {
		t.Fatalf("requests = %d, want 1", len(reqs))
	}
	want := ttsRequest{Text: "Hallo zusammen.", SpeakerWav: "Ana Florence", Language: "de"}
	if reqs[0] != want {
		t.Errorf("request = %+v, want %+v", reqs[0], want)
	}
}

func TestSynthesize_ConvertsLaterSentences(t *testing.T) {
	t.Parallel()
	first := testWAV(t, 1600, 0x01, mono16k)
	later := testWAV(t, 3200, 0x01, audio.Format{SampleRate: 32000, Channels: 1})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("text") == "One." {
			_, _ = w.Write(first)
			return
		}
		_, _ = w.Write(later)
	}))
	defer srv.Close()

	p := mustNew(t, srv.URL)
	ch, format, err := p.Synthesize(context.Background(), "One. Two.", "")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if format != mono16k {
		t.Errorf("format = %v, want the first sentence's %v", format, mono16k)
	}
	// 0.1 s per sentence at 16 kHz mono is 3200 bytes.
	if pcm := collect(t, ch); len(pcm) != 6400 {
		t.Errorf("pcm = %d bytes, want 6400", len(pcm))
	}
}

func TestSynthesize_Errors(t *testing.T) {
	t.Parallel()
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "internal error", http.StatusInternalServerError)
	}))
	t.Cleanup(failing.Close)
	garbage := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not a wav"))
	}))
	t.Cleanup(garbage.Close)

	tests := []struct {
		name string
		url  string
		opts []Option
		text string
		want string
	}{
		{name: "empty text", url: failing.URL, text: "  ", want: "empty text"},
		{name: "xtts without voice", url: failing.URL, opts: []Option{WithAPIMode(APIModeXTTS)}, text: "Hi.", want: "voice is required"},
		{name: "server error", url: failing.URL, text: "Hi.", want: "status 500"},
		{name: "invalid wav", url: garbage.URL, text: "Hi.", want: "decode wav"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := mustNew(t, tt.url, tt.opts...)
			_, _, err := p.Synthesize(context.Background(), tt.text, "")
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Synthesize error = %v, want it to contain %q", err, tt.want)
			}
		})
	}
}

func TestSynthesize_LaterFailureEndsStream(t *testing.T) {
	t.Parallel()
	wav := testWAV(t, 50, 0x07, mono16k)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("text") == "Broken." {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		_, _ = w.Write(wav)
	}))
	defer srv.Close()

	p := mustNew(t, srv.URL)
	ch, _, err := p.Synthesize(context.Background(), "Fine. Broken. Never.", "")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if pcm := collect(t, ch); len(pcm) != 100 {
		t.Errorf("pcm = %d bytes, want only the first sentence (100)", len(pcm))
	}
}

func TestSynthesize_ContextCancellation(t *testing.T) {
	t.Parallel()
	wav := testWAV(t, 50, 0x01, mono16k)
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("text") != "First." {
			select {
			case <-release:
			case <-r.Context().Done():
				return
			}
		}
		_, _ = w.Write(wav)
	}))
	defer srv.Close()
	defer close(release)

	p := mustNew(t, srv.URL)
	ctx, cancel := context.WithCancel(context.Background())
	ch, _, err := p.Synthesize(ctx, "First. Second. Third.", "")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	<-ch
	cancel()

	done := make(chan struct{})
	go func() {
		audio.Drain(ch)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Error("audio channel did not close within 2 s after context cancellation")
	}
}

func TestSplitSentences(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want []string
	}{
		{"Hello world.", []string{"Hello world."}},
		{"One. Two! Three?", []string{"One.", "Two!", "Three?"}},
		{"No terminator", []string{"No terminator"}},
		{"Pi is 3.14 exactly. Yes", []string{"Pi is 3.14 exactly.", "Yes"}},
		{"Wait...  what?", []string{"Wait...", "what?"}},
		{"   ", nil},
	}
	for _, tt := range tests {
		if got := splitSentences(tt.in); !slices.Equal(got, tt.want) {
			t.Errorf("splitSentences(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFindSentenceBoundary(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want int
	}{
		{"Hello.", 5},
		{"Hello. World", 5},
		{"Dr.Smith", -1},
		{"3.14", -1},
		{"Really?!", 7},
		{"", -1},
	}
	for _, tt := range tests {
		if got := findSentenceBoundary(tt.in); got != tt.want {
			t.Errorf("findSentenceBoundary(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

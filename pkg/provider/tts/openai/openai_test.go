package openai_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MrWong99/huddle/pkg/audio"
	"github.com/MrWong99/huddle/pkg/provider/tts"
	"github.com/MrWong99/huddle/pkg/provider/tts/openai"
)

func TestSynthesize(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/speech" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write([]byte{1, 0, 2, 0, 3})
	}))
	defer srv.Close()

	p, err := openai.New("sk-test", openai.WithBaseURL(srv.URL), openai.WithDefaultVoice("nova"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ch, f, err := p.Synthesize(context.Background(), "hello", "")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if f != (audio.Format{SampleRate: 24000, Channels: 1}) {
		t.Errorf("format = %v, want 24000Hz mono", f)
	}
	pcm, err := tts.Collect(context.Background(), ch)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	// The trailing odd byte is never emitted.
	if len(pcm) != 4 {
		t.Errorf("len(pcm) = %d, want 4", len(pcm))
	}
	if body["voice"] != "nova" {
		t.Errorf("voice = %v, want nova", body["voice"])
	}
	if body["response_format"] != "pcm" {
		t.Errorf("response_format = %v, want pcm", body["response_format"])
	}
	if body["input"] != "hello" {
		t.Errorf("input = %v, want hello", body["input"])
	}
}

func TestSynthesize_EmptyText(t *testing.T) {
	p, _ := openai.New("sk-test", openai.WithBaseURL("http://127.0.0.1:1"))
	if _, _, err := p.Synthesize(context.Background(), "   ", ""); err == nil {
		t.Fatal("expected error for empty text")
	}
}

func TestSynthesize_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":{"message":"bad voice"}}`)
	}))
	defer srv.Close()

	p, _ := openai.New("sk-test", openai.WithBaseURL(srv.URL))
	if _, _, err := p.Synthesize(context.Background(), "hi", "unknown"); err == nil {
		t.Fatal("expected error for 400 response")
	}
}

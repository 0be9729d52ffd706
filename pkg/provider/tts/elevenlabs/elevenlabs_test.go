package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/huddle/pkg/audio"
	"github.com/MrWong99/huddle/pkg/provider/tts"
	"github.com/coder/websocket"
)

func TestParseOutputFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    audio.Format
		wantErr bool
	}{
		{"pcm_16000", audio.Format{SampleRate: 16000, Channels: 1}, false},
		{"pcm_24000", audio.Format{SampleRate: 24000, Channels: 1}, false},
		{"mp3_44100_128", audio.Format{}, true},
		{"pcm_", audio.Format{}, true},
		{"pcm_-1", audio.Format{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseOutputFormat(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseOutputFormat(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("parseOutputFormat(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestStreamURL(t *testing.T) {
	p, err := New("key", WithModel("m1"), WithOutputFormat("pcm_16000"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got := p.streamURL("voice/1")
	want := "wss://api.elevenlabs.io/v1/text-to-speech/voice%2F1/stream-input?model_id=m1&output_format=pcm_16000"
	if got != want {
		t.Errorf("streamURL = %q, want %q", got, want)
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Error("expected error for empty api key")
	}
	if _, err := New("key", WithOutputFormat("ulaw_8000")); err == nil {
		t.Error("expected error for non-pcm output format")
	}
}

func TestSynthesize_NoVoice(t *testing.T) {
	p, _ := New("key")
	if _, _, err := p.Synthesize(context.Background(), "hi", ""); err == nil {
		t.Fatal("expected error without voice")
	}
}

func TestSynthesize_StreamsAudio(t *testing.T) {
	var mu sync.Mutex
	var received []map[string]any
	var path string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		path = r.URL.Path
		mu.Unlock()
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()
		ctx := r.Context()
		for range 3 {
			_, msg, err := conn.Read(ctx)
			if err != nil {
				return
			}
			var m map[string]any
			_ = json.Unmarshal(msg, &m)
			mu.Lock()
			received = append(received, m)
			mu.Unlock()
		}
		for _, chunk := range [][]byte{{1, 2}, {3, 4}} {
			b, _ := json.Marshal(audioResponse{Audio: base64.StdEncoding.EncodeToString(chunk)})
			_ = conn.Write(ctx, websocket.MessageText, b)
		}
		b, _ := json.Marshal(audioResponse{IsFinal: true})
		_ = conn.Write(ctx, websocket.MessageText, b)
		conn.Close(websocket.StatusNormalClosure, "")
	}))
	defer srv.Close()

	p, err := New("secret",
		WithBaseURL("ws"+strings.TrimPrefix(srv.URL, "http")),
		WithDefaultVoice("v-default"),
		WithOutputFormat("pcm_16000"),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ch, f, err := p.Synthesize(ctx, "Meeting ends now.", "")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if f != (audio.Format{SampleRate: 16000, Channels: 1}) {
		t.Errorf("format = %v, want 16000Hz mono", f)
	}
	pcm, err := tts.Collect(ctx, ch)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if string(pcm) != string([]byte{1, 2, 3, 4}) {
		t.Errorf("pcm = %v, want [1 2 3 4]", pcm)
	}

	mu.Lock()
	defer mu.Unlock()
	if path != "/v1/text-to-speech/v-default/stream-input" {
		t.Errorf("path = %q", path)
	}
	if len(received) != 3 {
		t.Fatalf("messages = %d, want 3", len(received))
	}
	if received[0]["xi_api_key"] != "secret" {
		t.Errorf("first message missing api key: %v", received[0])
	}
	if received[1]["text"] != "Meeting ends now. " {
		t.Errorf("text message = %v", received[1])
	}
	if received[2]["text"] != "" {
		t.Errorf("end-of-input message = %v", received[2])
	}
}

package deepgram

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"slices"
	"testing"

	"github.com/MrWong99/huddle/pkg/provider/stt"
)

func TestBuildURL_Defaults(t *testing.T) {
	p, err := New("test-key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	rawURL, err := p.buildURL(stt.Request{})
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}
	u, _ := url.Parse(rawURL)
	q := u.Query()

	assertEqual(t, "model", "nova-3", q.Get("model"))
	assertEqual(t, "language", "en", q.Get("language"))
	assertEqual(t, "punctuate", "true", q.Get("punctuate"))
	if q.Has("keyterm") {
		t.Errorf("keyterm set without prompt: %v", q["keyterm"])
	}
}

func TestBuildURL_PromptBecomesKeyterms(t *testing.T) {
	p, _ := New("key", WithModel("base"), WithLanguage("de-DE"))
	rawURL, err := p.buildURL(stt.Request{Prompt: "Huddle, Grafana;\nKubernetes, Huddle,  "})
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}
	u, _ := url.Parse(rawURL)
	q := u.Query()

	assertEqual(t, "model", "base", q.Get("model"))
	assertEqual(t, "language", "de-DE", q.Get("language"))
	want := []string{"Huddle", "Grafana", "Kubernetes"}
	if got := q["keyterm"]; !slices.Equal(got, want) {
		t.Errorf("keyterm = %v, want %v", got, want)
	}
}

func TestTranscribe(t *testing.T) {
	var gotAuth, gotType string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		_, _ = io.WriteString(w, `{"results":{"channels":[{"detected_language":"en","alternatives":[{"transcript":" ship it ","confidence":0.9}]}]}}`)
	}))
	defer srv.Close()

	p, _ := New("secret", WithEndpoint(srv.URL))
	res, err := p.Transcribe(context.Background(), stt.Request{Audio: []byte("wav")})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	assertEqual(t, "text", "ship it", res.Text)
	assertEqual(t, "language", "en", res.Language)
	assertEqual(t, "authorization", "Token secret", gotAuth)
	assertEqual(t, "content type", "audio/wav", gotType)
	assertEqual(t, "body", "wav", string(gotBody))
}

func TestTranscribe_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	p, _ := New("secret", WithEndpoint(srv.URL))
	_, err := p.Transcribe(context.Background(), stt.Request{Audio: []byte("wav")})
	var httpErr *stt.HTTPError
	if !errors.As(err, &httpErr) || httpErr.StatusCode != http.StatusBadGateway {
		t.Fatalf("err = %v, want HTTPError 502", err)
	}
	if !stt.IsTransient(err) {
		t.Error("502 should be transient")
	}
}

func TestNew_EmptyKey(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty api key")
	}
}

func assertEqual(t *testing.T, field, want, got string) {
	t.Helper()
	if got != want {
		t.Errorf("%s = %q, want %q", field, got, want)
	}
}

// Package stt defines the Transcriber interface for Speech-to-Text backends.
//
// A Transcriber takes one finished audio snippet (a WAV file) and returns its
// text. Requests optionally carry a glossary prompt that biases recognition
// towards domain vocabulary, and a language hint.
//
// Implementations must be safe for concurrent use; the transcription pipeline
// calls them from several goroutines at once.
package stt

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Request is one batch transcription job.
type Request struct {
	// Audio is a complete RIFF/WAVE file, 16-bit PCM.
	Audio []byte

	// Prompt is an optional glossary of names and terms. Providers that
	// support an initial prompt pass it through; others may ignore it or map
	// it onto keyword hints.
	Prompt string

	// Language is an ISO-639-1 code such as "en". Empty means auto-detect.
	Language string
}

// Result is the outcome of a successful transcription.
type Result struct {
	Text string

	// Language is the detected or requested language, if the provider reports it.
	Language string
}

// Transcriber is the abstraction over any batch STT backend.
type Transcriber interface {
	// Transcribe converts req.Audio to text. An empty Result.Text with a nil
	// error means the audio contained no recognisable speech.
	Transcribe(ctx context.Context, req Request) (Result, error)
}

// HTTPError is returned by HTTP-based providers for non-2xx responses.
type HTTPError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: server returned HTTP %d", e.Provider, e.StatusCode)
	}
	return fmt.Sprintf("%s: server returned HTTP %d: %s", e.Provider, e.StatusCode, e.Body)
}

// Temporary reports whether retrying the same request may succeed: request
// timeouts, rate limiting and server-side errors.
func (e *HTTPError) Temporary() bool {
	switch {
	case e.StatusCode == http.StatusRequestTimeout, e.StatusCode == http.StatusTooManyRequests:
		return true
	case e.StatusCode >= 500:
		return true
	}
	return false
}

// IsTransient classifies err for retry policies. Per-attempt deadlines,
// network errors and temporary HTTP errors are transient; cancellation and
// client errors are not.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var temp interface{ Temporary() bool }
	if errors.As(err, &temp) {
		return temp.Temporary()
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return false
}

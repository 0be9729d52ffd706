// Package mock provides test doubles for the stt package interfaces.
//
// Transcriber returns scripted results in order, or computes them with
// TranscribeFunc, and records every request so tests can assert on prompts
// and call counts.
//
// Example:
//
//	tr := &mock.Transcriber{Results: []mock.Response{{Text: "hello"}, {Err: errBoom}}}
//	res, err := tr.Transcribe(ctx, stt.Request{Audio: wav})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/huddle/pkg/provider/stt"
)

var _ stt.Transcriber = (*Transcriber)(nil)

// Response is one scripted outcome.
type Response struct {
	Text string
	Err  error
}

// Transcriber is a mock implementation of stt.Transcriber.
type Transcriber struct {
	mu sync.Mutex

	// Results are returned in order. Once exhausted, the last entry repeats.
	// With no entries, an empty Result is returned.
	Results []Response

	// TranscribeFunc, if set, takes precedence over Results.
	TranscribeFunc func(ctx context.Context, req stt.Request) (stt.Result, error)

	// Calls records every request in order.
	Calls []stt.Request
}

// Transcribe implements stt.Transcriber.
func (m *Transcriber) Transcribe(ctx context.Context, req stt.Request) (stt.Result, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, req)
	n := len(m.Calls)
	fn := m.TranscribeFunc
	var r Response
	if len(m.Results) > 0 {
		r = m.Results[min(n, len(m.Results))-1]
	}
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	if err := ctx.Err(); err != nil {
		return stt.Result{}, err
	}
	if r.Err != nil {
		return stt.Result{}, r.Err
	}
	return stt.Result{Text: r.Text, Language: req.Language}, nil
}

// CallCount returns the number of Transcribe calls. Thread-safe.
func (m *Transcriber) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// Reset clears all recorded calls. Thread-safe.
func (m *Transcriber) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = nil
}

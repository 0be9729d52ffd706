// Package mock provides in-memory mock implementations of the [audio.Platform],
// [audio.Connection], and [audio.Sink] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values.
//
// Typical usage:
//
//	in := make(chan audio.AudioFrame, 16)
//	sink := &mock.Sink{}
//	conn := &mock.Connection{
//	    InputStreamsResult: map[string]<-chan audio.AudioFrame{"user-1": in},
//	    SinkResult:         sink,
//	}
//	platform := &mock.Platform{ConnectResult: conn}
//	got, err := platform.Connect(ctx, "channel-42")
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/huddle/pkg/audio"
)

// ─── Connection ───────────────────────────────────────────────────────────────

// Connection is a mock implementation of [audio.Connection].
// Set the exported Result fields before use; inspect the Call* fields after.
type Connection struct {
	mu sync.Mutex

	// InputStreamsResult is returned by [Connection.InputStreams].
	// Defaults to an empty (non-nil) map if left nil.
	InputStreamsResult map[string]<-chan audio.AudioFrame

	// SinkResult is returned by [Connection.Sink]. A fresh [Sink] is created
	// on first use if left nil.
	SinkResult audio.Sink

	// DisconnectError is returned by [Connection.Disconnect].
	DisconnectError error

	// CallCountInputStreams records how many times InputStreams was called.
	CallCountInputStreams int

	// CallCountDisconnect records how many times Disconnect was called.
	CallCountDisconnect int

	// RecordedCallbacks holds the callbacks registered via OnParticipantChange,
	// in order of registration.
	RecordedCallbacks []func(audio.Event)
}

// InputStreams implements [audio.Connection]. Returns a copy of InputStreamsResult.
func (c *Connection) InputStreams() map[string]<-chan audio.AudioFrame {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountInputStreams++
	out := make(map[string]<-chan audio.AudioFrame, len(c.InputStreamsResult))
	for k, v := range c.InputStreamsResult {
		out[k] = v
	}
	return out
}

// SetInputStream installs or replaces the stream for speakerID.
func (c *Connection) SetInputStream(speakerID string, ch <-chan audio.AudioFrame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.InputStreamsResult == nil {
		c.InputStreamsResult = make(map[string]<-chan audio.AudioFrame)
	}
	c.InputStreamsResult[speakerID] = ch
}

// Sink implements [audio.Connection].
func (c *Connection) Sink() audio.Sink {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.SinkResult == nil {
		c.SinkResult = &Sink{}
	}
	return c.SinkResult
}

// OnParticipantChange implements [audio.Connection].
// The callback is appended to RecordedCallbacks. To simulate events in tests,
// call [Connection.EmitEvent].
func (c *Connection) OnParticipantChange(cb func(audio.Event)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.RecordedCallbacks = append(c.RecordedCallbacks, cb)
}

// Disconnect implements [audio.Connection]. Returns DisconnectError.
func (c *Connection) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountDisconnect++
	return c.DisconnectError
}

// EmitEvent calls all registered participant-change callbacks with the given event.
func (c *Connection) EmitEvent(ev audio.Event) {
	c.mu.Lock()
	cbs := make([]func(audio.Event), len(c.RecordedCallbacks))
	copy(cbs, c.RecordedCallbacks)
	c.mu.Unlock()
	for _, cb := range cbs {
		cb(ev)
	}
}

// ─── Sink ─────────────────────────────────────────────────────────────────────

// Sink is a mock implementation of [audio.Sink]. Play optionally blocks for
// PlayDelay or until Release is called, and tracks the peak number of
// concurrent Play calls.
type Sink struct {
	mu sync.Mutex

	// FormatResult is returned by Format. Defaults to 48 kHz stereo.
	FormatResult audio.Format

	// PlayDelay makes each Play call take this long.
	PlayDelay time.Duration

	// PlayError is returned by Play after any delay.
	PlayError error

	// Gate, when non-nil, makes Play block until a value is received or the
	// channel is closed.
	Gate chan struct{}

	// Played holds the PCM of every completed Play call.
	Played [][]byte

	// CallCountStop records how many times Stop was called.
	CallCountStop int

	active        int
	maxConcurrent int
	stop          chan struct{}
}

// Format implements [audio.Sink].
func (s *Sink) Format() audio.Format {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FormatResult.Valid() {
		return s.FormatResult
	}
	return audio.Format{SampleRate: 48000, Channels: 2}
}

// Play implements [audio.Sink].
func (s *Sink) Play(ctx context.Context, pcm []byte) error {
	s.mu.Lock()
	s.active++
	if s.active > s.maxConcurrent {
		s.maxConcurrent = s.active
	}
	if s.stop == nil {
		s.stop = make(chan struct{})
	}
	stop, gate, delay, perr := s.stop, s.Gate, s.PlayDelay, s.PlayError
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.active--
		s.mu.Unlock()
	}()

	if gate != nil {
		select {
		case <-gate:
		case <-stop:
			return audio.ErrSinkStopped
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if delay > 0 {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-stop:
			return audio.ErrSinkStopped
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if perr != nil {
		return perr
	}

	s.mu.Lock()
	s.Played = append(s.Played, append([]byte(nil), pcm...))
	s.mu.Unlock()
	return nil
}

// Stop implements [audio.Sink].
func (s *Sink) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountStop++
	if s.stop != nil {
		close(s.stop)
	}
	s.stop = make(chan struct{})
}

// Plays returns a snapshot of every completed Play payload.
func (s *Sink) Plays() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.Played...)
}

// MaxConcurrent returns the highest number of simultaneous Play calls seen.
func (s *Sink) MaxConcurrent() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxConcurrent
}

// ─── Platform ─────────────────────────────────────────────────────────────────

// ConnectCall records the arguments of a single [Platform.Connect] invocation.
type ConnectCall struct {
	// ChannelID is the channelID argument passed to Connect.
	ChannelID string
}

// Platform is a mock implementation of [audio.Platform].
type Platform struct {
	mu sync.Mutex

	// ConnectResult is the [audio.Connection] returned by Connect.
	ConnectResult audio.Connection

	// ConnectError is the error returned by Connect.
	ConnectError error

	// ConnectCalls records all Connect invocations.
	ConnectCalls []ConnectCall
}

// Connect implements [audio.Platform]. Records the call and returns ConnectResult / ConnectError.
func (p *Platform) Connect(_ context.Context, channelID string) (audio.Connection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ConnectCalls = append(p.ConnectCalls, ConnectCall{ChannelID: channelID})
	return p.ConnectResult, p.ConnectError
}

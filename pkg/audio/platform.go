// Package audio holds the voice transport contract of a meeting and the PCM
// helpers shared by capture, playback and the speech providers.
//
// A [Platform] joins a voice channel and yields a [Connection]. The
// connection delivers decoded audio per speaker, reports participants
// joining and leaving, and plays PCM through its [Sink]. Adapters such as
// pkg/audio/discord implement the contract; the meeting engine only reacts
// to it.
package audio

import (
	"context"
	"errors"
)

// ErrSinkStopped is returned by [Sink.Play] when [Sink.Stop] cut playback
// short.
var ErrSinkStopped = errors.New("audio: playback stopped")

// EventType tells joins from leaves.
type EventType int

const (
	EventJoin EventType = iota
	EventLeave
)

func (e EventType) String() string {
	switch e {
	case EventJoin:
		return "JOIN"
	case EventLeave:
		return "LEAVE"
	}
	return "UNKNOWN"
}

// Event is a participant joining or leaving the channel.
type Event struct {
	Type     EventType
	UserID   string
	Username string
}

// Sink plays PCM into the channel. One Play runs at a time.
type Sink interface {
	// Format is the PCM layout Play accepts.
	Format() Format

	// Play blocks until pcm has been sent and the transport is idle, ctx is
	// done, or Stop is called. Stop makes it return [ErrSinkStopped].
	Play(ctx context.Context, pcm []byte) error

	// Stop drops whatever Play has not sent yet. Without a Play it does
	// nothing.
	Stop()
}

// Connection is a joined voice channel. It is safe for concurrent use and
// closes every channel it handed out once disconnected.
type Connection interface {
	// InputStreams snapshots the decoded audio channel of each current
	// speaker, keyed by speaker ID. A stream closing while its speaker stays
	// means the transport hiccuped; call InputStreams again to pick up the
	// replacement.
	InputStreams() map[string]<-chan AudioFrame

	Sink() Sink

	// OnParticipantChange sets the single join/leave callback, replacing any
	// earlier one. It runs on the connection's goroutine and must not block.
	OnParticipantChange(cb func(Event))

	// Disconnect leaves the channel. Later calls return nil.
	Disconnect() error
}

// Platform joins voice channels.
type Platform interface {
	// Connect joins channelID. ctx bounds the join only, not the lifetime
	// of the returned connection.
	Connect(ctx context.Context, channelID string) (Connection, error)
}

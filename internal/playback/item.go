package playback

import (
	"github.com/MrWong99/huddle/internal/transcript"
	"github.com/MrWong99/huddle/pkg/audio"
)

// Origin identifies who asked for an item to be spoken.
type Origin int

const (
	// OriginChatRelay is a chat message read aloud into the voice channel.
	OriginChatRelay Origin = iota

	// OriginResponder is a reply from the live voice gate.
	OriginResponder

	// OriginBot is a system prompt or cue, e.g. a confirmation question or
	// the thinking cue.
	OriginBot
)

// String returns the snake_case name of the origin.
func (o Origin) String() string {
	switch o {
	case OriginChatRelay:
		return "chat_relay"
	case OriginResponder:
		return "live_responder"
	case OriginBot:
		return "bot"
	default:
		return "unknown"
	}
}

// Source maps the origin onto the transcript source its played audio is
// recorded under.
func (o Origin) Source() transcript.Source {
	if o == OriginBot {
		return transcript.SourceBot
	}
	return transcript.SourceTTS
}

// Priority decides what happens when the queue is full.
type Priority int

const (
	// PriorityNormal items are rejected with [ErrQueueFull] at capacity.
	PriorityNormal Priority = iota

	// PriorityHigh items flush the queue at capacity and are then accepted.
	PriorityHigh
)

// Item is one unit of playback: synthesized text or a cue file.
type Item struct {
	// ID is assigned by [Queue.Enqueue] when empty.
	ID string

	// Text is synthesized with the TTS provider. Ignored when Cue is set.
	Text string

	// Cue is the path of a WAV file played instead of synthesized speech.
	Cue string

	// Voice selects the TTS voice. Empty uses the queue's default voice.
	Voice string

	// SpeakerID is the speaker the item answers, if any.
	SpeakerID string

	Origin   Origin
	Priority Priority

	// BeforePlay, if set, runs on the drain goroutine right before the item
	// is rendered.
	BeforePlay func()

	// MessageID correlates the item with an external chat message.
	MessageID string
}

// Played describes an item whose audio reached the sink in full.
type Played struct {
	Item Item

	// StartedAtMs is the meeting clock when playback began.
	StartedAtMs int64

	// PCM is the audio as handed to the sink, in Format.
	PCM    []byte
	Format audio.Format
}

// DurationMs returns the length of the played audio.
func (p Played) DurationMs() int64 {
	return int64(p.Format.DurationMs(len(p.PCM)))
}

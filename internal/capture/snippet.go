// Package capture turns per-speaker audio frames into closed, time-aligned
// snippets.
//
// Every speaker gets a bounded channel and one consumer goroutine that owns
// the speaker's open snippet, so no lock is shared across speakers. A
// snippet closes on a short pause once it is long enough to be worth
// transcribing early, on a longer definitive silence, when it reaches the
// maximum duration, or when it is flushed at teardown or speaker leave.
package capture

import (
	"fmt"

	"github.com/MrWong99/huddle/pkg/audio"
)

// CloseReason explains why a snippet was closed.
type CloseReason int

const (
	// ReasonPause is a short pause after enough speech for a partial
	// transcription.
	ReasonPause CloseReason = iota

	// ReasonSilence is a definitive end of speech.
	ReasonSilence

	// ReasonMaxDuration caps buffer growth during long monologues.
	ReasonMaxDuration

	// ReasonFlush closes the snippet at teardown or when the speaker leaves.
	ReasonFlush
)

// String returns the snake_case name of the reason.
func (r CloseReason) String() string {
	switch r {
	case ReasonPause:
		return "pause"
	case ReasonSilence:
		return "silence"
	case ReasonMaxDuration:
		return "max_duration"
	case ReasonFlush:
		return "flush"
	default:
		return fmt.Sprintf("reason(%d)", int(r))
	}
}

// Chunk is one piece of raw PCM as it arrived from the transport.
type Chunk struct {
	// AtMs is the arrival time in milliseconds since the meeting clock origin.
	AtMs int64
	Data []byte
}

// Snippet is a contiguous, timestamped buffer of one speaker's audio.
type Snippet struct {
	SpeakerID string

	// StartedAt is the arrival time of the first chunk, in milliseconds since
	// the meeting clock origin.
	StartedAt int64

	// EndedAt is the end of the last chunk's audio, in milliseconds since the
	// meeting clock origin. Set when the snippet is closed.
	EndedAt int64

	// Chunks are in arrival order.
	Chunks []Chunk

	// Format is the PCM format of every chunk.
	Format audio.Format

	Closed bool
	Reason CloseReason

	// Seq numbers the closed snippets of one speaker, starting at 1.
	Seq uint64

	// cursor is the end of the synchronized audio so far, in fractional ms.
	cursor float64
}

// append adds c and advances the cursor the way [SynchronizeSpeakerAudio]
// lays the audio out.
func (s *Snippet) append(c Chunk) {
	if len(s.Chunks) == 0 {
		s.cursor = float64(s.StartedAt)
	}
	s.cursor = s.projectedEnd(c)
	s.Chunks = append(s.Chunks, c)
}

// projectedEnd returns the cursor after appending c.
func (s *Snippet) projectedEnd(c Chunk) float64 {
	cur := s.cursor
	if len(s.Chunks) == 0 {
		cur = float64(s.StartedAt)
	}
	return max(cur, float64(c.AtMs)) + s.Format.DurationMs(len(c.Data))
}

// Bytes returns the total number of PCM bytes in s.
func (s *Snippet) Bytes() int {
	n := 0
	for _, c := range s.Chunks {
		n += len(c.Data)
	}
	return n
}

// DurationMs returns EndedAt - StartedAt for a closed snippet, or the span
// covered so far for an open one.
func (s *Snippet) DurationMs() int64 {
	return s.endMs() - s.StartedAt
}

// PCM returns the snippet's audio with gaps between chunks filled with
// silence. See [SynchronizeSpeakerAudio].
func (s *Snippet) PCM() []byte {
	return SynchronizeSpeakerAudio(s.StartedAt, s.Chunks, s.Format)
}

// Header returns a copy of s without its audio, for timelines.
func (s *Snippet) Header() Snippet {
	h := *s
	h.Chunks = nil
	return h
}

func (s *Snippet) endMs() int64 {
	if s.Closed {
		return s.EndedAt
	}
	if len(s.Chunks) == 0 {
		return s.StartedAt
	}
	return int64(s.cursor)
}

// Package transcript holds the finalized, immutable records a meeting
// produces: transcribed speech from participants and the speech the bot
// played itself.
//
// Records reach consumers through a per-meeting [Log]. Records of one speaker
// are committed in the order that speaker's snippets were captured, even
// though their transcriptions run concurrently; the [Sequencer] enforces this.
package transcript

import "fmt"

// UnavailableText is what [Record.DisplayText] renders for a snippet whose
// transcription could not be obtained.
const UnavailableText = "[transcription unavailable]"

// Source tags where a record's audio came from.
type Source int

const (
	// SourceVoice is speech from a meeting participant.
	SourceVoice Source = iota

	// SourceTTS is synthesized speech played on behalf of a chat relay or the
	// live responder.
	SourceTTS

	// SourceBot is audio the bot played on its own behalf (cues, prompts).
	SourceBot
)

// String returns the lower-case name of the source.
func (s Source) String() string {
	switch s {
	case SourceVoice:
		return "voice"
	case SourceTTS:
		return "tts"
	case SourceBot:
		return "bot"
	default:
		return fmt.Sprintf("source(%d)", int(s))
	}
}

// ParseSource is the inverse of [Source.String].
func ParseSource(s string) (Source, error) {
	switch s {
	case "voice":
		return SourceVoice, nil
	case "tts":
		return SourceTTS, nil
	case "bot":
		return SourceBot, nil
	default:
		return 0, fmt.Errorf("transcript: unknown source %q", s)
	}
}

// Record is one finalized transcript line. Records are values and never
// change after creation.
type Record struct {
	// SpeakerID is the platform speaker ID. Bot records use the bot's ID.
	SpeakerID string

	// SpeakerName is the display name at the time of capture, if known.
	SpeakerName string

	// StartedAtMs is the start of the audio in milliseconds since the meeting
	// clock origin.
	StartedAtMs int64

	// DurationMs is the length of the audio the record covers.
	DurationMs int64

	// Text is the validated transcription or the text that was spoken. Empty
	// for discarded prompt echoes and for unavailable records.
	Text string

	// Source tags the origin of the audio.
	Source Source

	// MessageID optionally correlates the record with an external chat
	// message, e.g. the relayed message that was read aloud.
	MessageID string

	// Unavailable marks a snippet whose transcription failed permanently.
	Unavailable bool

	// Reason is a short machine-readable explanation for Unavailable or empty
	// records ("breaker_open", "retries_exhausted", "prompt_echo", ...).
	Reason string
}

// DisplayText returns the text consumers should show for r. Unavailable
// records render as [UnavailableText].
func (r Record) DisplayText() string {
	if r.Unavailable {
		return UnavailableText
	}
	return r.Text
}

// EndMs returns StartedAtMs + DurationMs.
func (r Record) EndMs() int64 { return r.StartedAtMs + r.DurationMs }

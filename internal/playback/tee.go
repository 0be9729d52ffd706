package playback

import (
	"github.com/MrWong99/huddle/internal/recording"
	"github.com/MrWong99/huddle/internal/transcript"
)

var _ Tee = Recorder{}

// Recorder is the [Tee] a meeting uses: played audio is appended to the bot
// track of the recording and logged as a transcript record.
type Recorder struct {
	// Tracks receives the played PCM. Optional.
	Tracks *recording.TrackSet

	// Log receives one record per played text item. Cues are not logged.
	// Optional.
	Log *transcript.Log

	// BotID is the speaker ID records are logged under.
	BotID string
}

// RecordPlayback implements [Tee].
func (r Recorder) RecordPlayback(p Played) {
	if r.Tracks != nil {
		r.Tracks.AppendBot(p.StartedAtMs, p.PCM, p.Format)
	}
	if r.Log != nil && p.Item.Text != "" {
		r.Log.Append(transcript.Record{
			SpeakerID:   r.BotID,
			StartedAtMs: p.StartedAtMs,
			DurationMs:  p.DurationMs(),
			Text:        p.Item.Text,
			Source:      p.Item.Origin.Source(),
			MessageID:   p.Item.MessageID,
		})
	}
}

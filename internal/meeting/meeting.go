// Package meeting wires the per-meeting components together and owns their
// lifecycle.
//
// Audio flows transport → [capture.Capturer] → {[recording.TrackSet],
// [transcribe.Pipeline] → [transcript.Sequencer] → [transcript.Log] →
// [gate.Machine]} → [playback.Queue] → sink, and played audio is teed back
// into the tracks and the log. A [Manager] starts and ends meetings; a
// [Meeting] is the explicit context object handed to collaborators such as
// the chat relay.
package meeting

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/huddle/internal/capture"
	"github.com/MrWong99/huddle/internal/gate"
	"github.com/MrWong99/huddle/internal/observe"
	"github.com/MrWong99/huddle/internal/playback"
	"github.com/MrWong99/huddle/internal/recording"
	"github.com/MrWong99/huddle/internal/transcribe"
	"github.com/MrWong99/huddle/internal/transcript"
	"github.com/MrWong99/huddle/pkg/audio"
)

// Meeting is one running meeting. Its identity fields are immutable; all
// methods are safe for concurrent use.
type Meeting struct {
	ID        string
	GuildID   string
	ChannelID string
	OwnerID   string

	// StartedAt is the wall-clock time of the meeting clock origin.
	StartedAt time.Time

	settings Settings

	conn     audio.Connection
	capture  *capture.Capturer
	tracks   *recording.TrackSet
	queue    *playback.Queue
	thinking *playback.CueLoop
	gate     *gate.Machine
	log      *transcript.Log
	pipeline *transcribe.Pipeline
	seq      *transcript.Sequencer

	// attachCtx scopes the stream readers, gateCtx the gate and its
	// replies. Both are cancelled at the start of teardown.
	attachCtx  context.Context
	stopAttach context.CancelFunc
	gateCtx    context.Context
	stopGate   context.CancelFunc
	bg         sync.WaitGroup

	metrics *observe.Metrics
	logger  *slog.Logger

	mu       sync.Mutex
	streams  map[string]<-chan audio.AudioFrame
	names    map[string]string
	snippets []capture.Snippet
	ending   bool
}

// Elapsed returns the meeting clock: milliseconds since StartedAt.
func (m *Meeting) Elapsed() int64 {
	return time.Since(m.StartedAt).Milliseconds()
}

// Log returns the meeting transcript.
func (m *Meeting) Log() *transcript.Log { return m.log }

// Gate returns the voice gate.
func (m *Meeting) Gate() *gate.Machine { return m.gate }

// QueueSize returns the number of playback items waiting.
func (m *Meeting) QueueSize() int { return m.queue.Size() }

// Relay reads a chat message aloud. The message ID is carried into the
// transcript record written once playback completes.
func (m *Meeting) Relay(authorID, text, messageID string) error {
	if err := m.queue.Enqueue(playback.Item{
		Text:      text,
		SpeakerID: authorID,
		Origin:    playback.OriginChatRelay,
		MessageID: messageID,
	}); err != nil {
		return fmt.Errorf("meeting: relay: %w", err)
	}
	return nil
}

// Say speaks text as the bot itself.
func (m *Meeting) Say(text string, priority playback.Priority) error {
	if err := m.queue.Enqueue(playback.Item{
		Text:     text,
		Origin:   playback.OriginBot,
		Priority: priority,
	}); err != nil {
		return fmt.Errorf("meeting: say: %w", err)
	}
	return nil
}

// Speakers returns the IDs of the participants currently attached.
func (m *Meeting) Speakers() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.streams))
	for id := range m.streams {
		out = append(out, id)
	}
	return out
}

// attach starts capturing ch for speakerID unless that exact stream is
// already attached.
func (m *Meeting) attach(speakerID string, ch <-chan audio.AudioFrame) {
	m.mu.Lock()
	if m.ending || ch == nil {
		m.mu.Unlock()
		return
	}
	prev, known := m.streams[speakerID]
	if known && prev == ch {
		m.mu.Unlock()
		return
	}
	m.streams[speakerID] = ch
	m.mu.Unlock()

	if !known {
		m.metrics.AddActiveSpeakers(context.Background(), 1)
	}
	m.logger.Info("speaker attached", "speaker_id", speakerID)
	m.capture.Attach(m.attachCtx, speakerID, ch)
}

// resubscribe hands the capturer a fresh stream after a transport glitch.
// The stream that just closed is never handed out again.
func (m *Meeting) resubscribe(speakerID string) (<-chan audio.AudioFrame, bool) {
	ch, ok := m.conn.InputStreams()[speakerID]
	if !ok || ch == nil {
		return nil, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ending {
		return nil, false
	}
	if prev, known := m.streams[speakerID]; !known || prev == ch {
		return nil, false
	}
	m.streams[speakerID] = ch
	return ch, true
}

// onParticipant subscribes joining speakers and removes leaving ones from
// capture after flushing their open snippet.
func (m *Meeting) onParticipant(ev audio.Event) {
	switch ev.Type {
	case audio.EventJoin:
		if ev.Username != "" {
			m.mu.Lock()
			m.names[ev.UserID] = ev.Username
			m.mu.Unlock()
		}
		if ch, ok := m.conn.InputStreams()[ev.UserID]; ok {
			m.attach(ev.UserID, ch)
		}
	case audio.EventLeave:
		m.mu.Lock()
		_, known := m.streams[ev.UserID]
		delete(m.streams, ev.UserID)
		m.mu.Unlock()
		if known {
			m.metrics.AddActiveSpeakers(context.Background(), -1)
		}
		m.logger.Info("speaker left", "speaker_id", ev.UserID)
		m.capture.Remove(ev.UserID)
	}
}

// onSnippet receives every closed snippet from the capturer. The snippet is
// written to its track and transcribed concurrently; the sequencer restores
// per-speaker order.
func (m *Meeting) onSnippet(s capture.Snippet) {
	m.tracks.Append(s)

	m.mu.Lock()
	m.snippets = append(m.snippets, s.Header())
	m.mu.Unlock()

	m.pipeline.Go(m.gateCtx, s, m.onTranscribed)
}

func (m *Meeting) onTranscribed(s capture.Snippet, rec transcript.Record) {
	if rec.Text == "" && !rec.Unavailable {
		m.logger.Debug("snippet produced no text",
			"speaker_id", s.SpeakerID, "seq", s.Seq, "reason", rec.Reason)
		m.seq.Commit(s.SpeakerID, s.Seq, nil)
		return
	}
	m.mu.Lock()
	rec.SpeakerName = m.names[s.SpeakerID]
	m.mu.Unlock()
	m.seq.Commit(s.SpeakerID, s.Seq, &rec)
}

// snippetHeaders returns the closed snippets seen so far, without audio.
func (m *Meeting) snippetHeaders() []capture.Snippet {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]capture.Snippet(nil), m.snippets...)
}

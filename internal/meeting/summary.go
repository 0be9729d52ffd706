package meeting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/MrWong99/huddle/internal/capture"
	"github.com/MrWong99/huddle/internal/transcript"
)

// Summary describes an ended meeting.
type Summary struct {
	MeetingID string
	GuildID   string
	ChannelID string
	OwnerID   string
	Reason    string
	StartedAt time.Time
	EndedAt   time.Time

	// Records is the finalized transcript ordered by start time.
	Records []transcript.Record

	// Segments is the cross-speaker timeline of everything captured.
	Segments []capture.Segment

	// RecordingPath is the local mixed recording; empty when nothing was
	// recorded or building failed.
	RecordingPath string
	RecordingMs   int64

	// RecordingURI and TranscriptURI are the archive locations, if archived.
	RecordingURI  string
	TranscriptURI string

	// DroppedChunks counts audio chunks lost to full capture buffers.
	DroppedChunks int64
}

// Duration returns the wall-clock length of the meeting.
func (s *Summary) Duration() time.Duration { return s.EndedAt.Sub(s.StartedAt) }

// Transcript renders the records as "[mm:ss] speaker: text" lines.
func (s *Summary) Transcript() string {
	var sb strings.Builder
	for _, r := range s.Records {
		at := time.Duration(r.StartedAtMs) * time.Millisecond
		name := r.SpeakerName
		if name == "" {
			name = r.SpeakerID
		}
		fmt.Fprintf(&sb, "[%02d:%02d] %s: %s\n",
			int(at.Minutes()), int(at.Seconds())%60, name, r.DisplayText())
	}
	return sb.String()
}

// archivedRecord is the JSON form of a transcript record.
type archivedRecord struct {
	SpeakerID   string `json:"speaker_id"`
	SpeakerName string `json:"speaker_name,omitempty"`
	StartedAtMs int64  `json:"started_at_ms"`
	DurationMs  int64  `json:"duration_ms"`
	Text        string `json:"text"`
	Source      string `json:"source"`
	MessageID   string `json:"message_id,omitempty"`
	Unavailable bool   `json:"unavailable,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

type archivedTranscript struct {
	MeetingID string           `json:"meeting_id"`
	GuildID   string           `json:"guild_id"`
	ChannelID string           `json:"channel_id"`
	OwnerID   string           `json:"owner_id"`
	StartedAt time.Time        `json:"started_at"`
	EndedAt   time.Time        `json:"ended_at"`
	Reason    string           `json:"reason"`
	Records   []archivedRecord `json:"records"`
}

// archiveKey returns "YYYY/MM/DD/<meeting id>/<name>".
func archiveKey(s *Summary, name string) string {
	return path.Join(s.StartedAt.UTC().Format("2006/01/02"), s.MeetingID, name)
}

// archive uploads the transcript and, if built, the recording. The local
// recording is removed once uploaded.
func (mg *Manager) archive(ctx context.Context, s *Summary) error {
	var errs []error

	doc := archivedTranscript{
		MeetingID: s.MeetingID,
		GuildID:   s.GuildID,
		ChannelID: s.ChannelID,
		OwnerID:   s.OwnerID,
		StartedAt: s.StartedAt,
		EndedAt:   s.EndedAt,
		Reason:    s.Reason,
		Records:   make([]archivedRecord, 0, len(s.Records)),
	}
	for _, r := range s.Records {
		doc.Records = append(doc.Records, archivedRecord{
			SpeakerID:   r.SpeakerID,
			SpeakerName: r.SpeakerName,
			StartedAtMs: r.StartedAtMs,
			DurationMs:  r.DurationMs,
			Text:        r.Text,
			Source:      r.Source.String(),
			MessageID:   r.MessageID,
			Unavailable: r.Unavailable,
			Reason:      r.Reason,
		})
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("meeting: encode transcript: %w", err)
	}
	uri, err := mg.cfg.Archive.Put(ctx, archiveKey(s, "transcript.json"), bytes.NewReader(data))
	if err != nil {
		errs = append(errs, fmt.Errorf("meeting: archive transcript: %w", err))
	} else {
		s.TranscriptURI = uri
	}

	if s.RecordingPath != "" {
		if err := mg.archiveRecording(ctx, s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (mg *Manager) archiveRecording(ctx context.Context, s *Summary) error {
	f, err := os.Open(s.RecordingPath)
	if err != nil {
		return fmt.Errorf("meeting: archive recording: %w", err)
	}
	uri, err := mg.cfg.Archive.Put(ctx, archiveKey(s, filepath.Base(s.RecordingPath)), f)
	_ = f.Close()
	if err != nil {
		return fmt.Errorf("meeting: archive recording: %w", err)
	}
	s.RecordingURI = uri
	if err := os.Remove(s.RecordingPath); err != nil {
		mg.logger.Warn("remove archived recording", "path", s.RecordingPath, "err", err)
	} else {
		s.RecordingPath = ""
	}
	return nil
}

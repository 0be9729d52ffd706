// Package recording assembles a meeting's mixed recording.
//
// A [TrackSet] keeps one raw PCM temp file per speaker, plus one for the
// bot's own playback, each padded with silence so that byte position maps
// to meeting time. At teardown a [Builder] overlays the tracks at their
// offsets with an external ffmpeg process.
package recording

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/huddle/internal/capture"
	"github.com/MrWong99/huddle/internal/transcript"
	"github.com/MrWong99/huddle/pkg/audio"
)

// BotTrackID is the speaker ID of the track holding the bot's playback.
const BotTrackID = "bot"

// TrackFile describes one finished track.
type TrackFile struct {
	Path      string
	SpeakerID string
	Source    transcript.Source

	// OffsetMs is where the track starts on the meeting clock.
	OffsetMs int64

	// DurationMs is the length of the PCM in the file.
	DurationMs int64

	Bytes int64
}

// SpeakerTrack is the open temp file of one speaker.
type SpeakerTrack struct {
	SpeakerID string
	Source    transcript.Source
	OffsetMs  int64

	mu           sync.Mutex
	file         *os.File
	bytesWritten int64
	failed       bool
}

// lastWrittenEndMs returns the meeting time at which the written audio ends.
func (t *SpeakerTrack) lastWrittenEndMs(f audio.Format) float64 {
	return float64(t.OffsetMs) + f.DurationMs(int(t.bytesWritten))
}

// TrackSet holds the tracks of one meeting. It is safe for concurrent use;
// writes to one track are serialized, writes to different tracks are not.
type TrackSet struct {
	dir    string
	format audio.Format
	logger *slog.Logger

	mu       sync.Mutex
	tracks   map[string]*SpeakerTrack
	closed   bool
	inFlight sync.WaitGroup
}

// NewTrackSet creates dir if needed and returns an empty set storing PCM in
// format f. A nil logger selects slog.Default().
func NewTrackSet(dir string, f audio.Format, logger *slog.Logger) (*TrackSet, error) {
	if !f.Valid() {
		return nil, fmt.Errorf("recording: invalid track format %v", f)
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("recording: create work dir: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TrackSet{
		dir:    dir,
		format: f,
		logger: logger,
		tracks: make(map[string]*SpeakerTrack),
	}, nil
}

// Format returns the PCM format of every track.
func (ts *TrackSet) Format() audio.Format { return ts.format }

// Append writes a closed snippet to its speaker's track, padding the gap
// since the previous write with silence.
func (ts *TrackSet) Append(s capture.Snippet) {
	pcm := s.PCM()
	if s.Format.Valid() && s.Format != ts.format {
		pcm = audio.ConvertPCM(pcm, s.Format, ts.format)
	}
	ts.write(s.SpeakerID, transcript.SourceVoice, s.StartedAt, pcm)
}

// AppendBot writes audio the bot played at atMs to the bot track.
func (ts *TrackSet) AppendBot(atMs int64, pcm []byte, f audio.Format) {
	if f.Valid() && f != ts.format {
		pcm = audio.ConvertPCM(pcm, f, ts.format)
	}
	ts.write(BotTrackID, transcript.SourceBot, atMs, pcm)
}

func (ts *TrackSet) write(speakerID string, src transcript.Source, atMs int64, pcm []byte) {
	if len(pcm) == 0 {
		return
	}
	t := ts.acquire(speakerID, src, atMs)
	if t == nil {
		return
	}
	defer ts.inFlight.Done()

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.failed {
		return
	}

	if err := ts.writeLocked(t, atMs, pcm); err != nil {
		t.failed = true
		ts.logger.Error("track write failed, skipping track",
			"speaker_id", speakerID,
			"err", err,
		)
		_ = t.file.Close()
		_ = os.Remove(t.file.Name())
	}
}

func (ts *TrackSet) writeLocked(t *SpeakerTrack, atMs int64, pcm []byte) error {
	if t.file == nil {
		f, err := os.CreateTemp(ts.dir, "track-"+sanitize(t.SpeakerID)+"-*.pcm")
		if err != nil {
			return fmt.Errorf("recording: create track: %w", err)
		}
		t.file = f
	}
	if pad := ts.format.SilenceBytes(float64(atMs) - t.lastWrittenEndMs(ts.format)); pad > 0 {
		n, err := t.file.Write(make([]byte, pad))
		t.bytesWritten += int64(n)
		if err != nil {
			return fmt.Errorf("recording: pad track: %w", err)
		}
	}
	n, err := t.file.Write(pcm)
	t.bytesWritten += int64(n)
	if err != nil {
		return fmt.Errorf("recording: write track: %w", err)
	}
	return nil
}

// acquire returns the speaker's track, creating it on first use, and
// registers an in-flight write. It returns nil once the set is closed.
func (ts *TrackSet) acquire(speakerID string, src transcript.Source, atMs int64) *SpeakerTrack {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if ts.closed {
		return nil
	}
	t, ok := ts.tracks[speakerID]
	if !ok {
		t = &SpeakerTrack{SpeakerID: speakerID, Source: src, OffsetMs: atMs}
		ts.tracks[speakerID] = t
	}
	ts.inFlight.Add(1)
	return t
}

// Close waits for in-flight writes, syncs and closes every track file and
// returns the tracks that were written successfully. Failed tracks are
// omitted. Close is idempotent; later calls return nil.
func (ts *TrackSet) Close() ([]TrackFile, error) {
	ts.mu.Lock()
	if ts.closed {
		ts.mu.Unlock()
		return nil, nil
	}
	ts.closed = true
	tracks := make([]*SpeakerTrack, 0, len(ts.tracks))
	for _, t := range ts.tracks {
		tracks = append(tracks, t)
	}
	ts.mu.Unlock()

	ts.inFlight.Wait()

	files := make([]TrackFile, len(tracks))
	var g errgroup.Group
	g.SetLimit(4)
	for i, t := range tracks {
		g.Go(func() error {
			t.mu.Lock()
			defer t.mu.Unlock()
			if t.failed || t.file == nil {
				return nil
			}
			syncErr := t.file.Sync()
			closeErr := t.file.Close()
			if err := firstErr(syncErr, closeErr); err != nil {
				t.failed = true
				ts.logger.Error("closing track failed, skipping track",
					"speaker_id", t.SpeakerID,
					"err", err,
				)
				return nil
			}
			files[i] = TrackFile{
				Path:       t.file.Name(),
				SpeakerID:  t.SpeakerID,
				Source:     t.Source,
				OffsetMs:   t.OffsetMs,
				DurationMs: int64(ts.format.DurationMs(int(t.bytesWritten))),
				Bytes:      t.bytesWritten,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("recording: close tracks: %w", err)
	}

	out := files[:0]
	for _, f := range files {
		if f.Path != "" {
			out = append(out, f)
		}
	}
	return out, nil
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// sanitize keeps speaker IDs safe for use in file names.
func sanitize(id string) string {
	id = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, id)
	if id == "" {
		return "unknown"
	}
	return filepath.Base(id)
}

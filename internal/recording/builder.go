package recording

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/MrWong99/huddle/pkg/audio"
)

// ErrNoAudio is returned by [Builder.Build] when no track holds any audio.
var ErrNoAudio = errors.New("recording: no audio to combine")

// Result describes a built recording.
type Result struct {
	Path string

	// DurationMs is the end of the latest track on the meeting clock.
	DurationMs int64

	// Tracks lists the speaker IDs mixed into the recording.
	Tracks []string
}

// runFunc executes the transcoder. It returns combined output for error
// reporting.
type runFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

// Builder mixes track files into one recording with ffmpeg.
type Builder struct {
	ffmpegPath string
	format     audio.Format
	outArgs    []string
	logger     *slog.Logger
	run        runFunc
}

// BuilderOption is a functional option for [NewBuilder].
type BuilderOption func(*Builder)

// WithFFmpegPath sets the transcoder binary. Default: "ffmpeg" from PATH.
func WithFFmpegPath(path string) BuilderOption {
	return func(b *Builder) { b.ffmpegPath = path }
}

// WithOutputArgs sets encoder arguments placed before the output path,
// e.g. {"-c:a", "libopus", "-b:a", "64k"}. Default: none, ffmpeg picks the
// codec from the output extension.
func WithOutputArgs(args ...string) BuilderOption {
	return func(b *Builder) { b.outArgs = args }
}

// WithBuilderLogger sets the logger. Default: slog.Default().
func WithBuilderLogger(l *slog.Logger) BuilderOption {
	return func(b *Builder) { b.logger = l }
}

// NewBuilder returns a Builder for raw s16le tracks in format f.
func NewBuilder(f audio.Format, opts ...BuilderOption) *Builder {
	b := &Builder{
		ffmpegPath: "ffmpeg",
		format:     f,
		logger:     slog.Default(),
		run:        runCommand,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Build overlays tracks at their offsets into outPath. Tracks without audio
// are dropped; with none left it returns [ErrNoAudio]. On success the track
// files are deleted; on failure they are left in place for inspection.
func (b *Builder) Build(ctx context.Context, tracks []TrackFile, outPath string) (Result, error) {
	var usable []TrackFile
	for _, t := range tracks {
		if t.Bytes > 0 {
			usable = append(usable, t)
		}
	}
	if len(usable) == 0 {
		return Result{}, ErrNoAudio
	}

	args := b.args(usable, outPath)
	b.logger.Info("building mixed recording",
		"tracks", len(usable),
		"out", outPath,
	)
	if out, err := b.run(ctx, b.ffmpegPath, args...); err != nil {
		return Result{}, fmt.Errorf("recording: ffmpeg: %w: %s", err, strings.TrimSpace(string(out)))
	}

	res := Result{Path: outPath}
	for _, t := range usable {
		res.Tracks = append(res.Tracks, t.SpeakerID)
		res.DurationMs = max(res.DurationMs, t.OffsetMs+t.DurationMs)
	}
	for _, t := range tracks {
		if err := os.Remove(t.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			b.logger.Warn("remove track file", "path", t.Path, "err", err)
		}
	}
	return res, nil
}

// args builds the ffmpeg command line: one raw input per track, an adelay
// per input to restore its offset, and an amix without normalisation so
// that overlapping speakers keep their level.
func (b *Builder) args(tracks []TrackFile, outPath string) []string {
	rate := strconv.Itoa(b.format.SampleRate)
	channels := strconv.Itoa(b.format.Channels)

	args := []string{"-hide_banner", "-loglevel", "error", "-y"}
	for _, t := range tracks {
		args = append(args, "-f", "s16le", "-ar", rate, "-ac", channels, "-i", t.Path)
	}

	var graph strings.Builder
	for i, t := range tracks {
		fmt.Fprintf(&graph, "[%d:a]adelay=delays=%d:all=1[a%d];", i, max(t.OffsetMs, 0), i)
	}
	for i := range tracks {
		fmt.Fprintf(&graph, "[a%d]", i)
	}
	fmt.Fprintf(&graph, "amix=inputs=%d:normalize=0:dropout_transition=0[out]", len(tracks))

	args = append(args, "-filter_complex", graph.String(), "-map", "[out]")
	args = append(args, b.outArgs...)
	return append(args, outPath)
}

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	return out.Bytes(), err
}

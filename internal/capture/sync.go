package capture

import (
	"cmp"
	"slices"

	"github.com/MrWong99/huddle/pkg/audio"
)

// SynchronizeSpeakerAudio concatenates one speaker's chronological chunks,
// starting at originMs. Every positive gap between the end of the audio so
// far and the next chunk's arrival is filled with
// floor(gapMs/1000*sampleRate) * channels * bytesPerSample zero bytes. The
// chunk data is copied unchanged, so with no gaps the result is identical to
// plain concatenation.
func SynchronizeSpeakerAudio(originMs int64, chunks []Chunk, f audio.Format) []byte {
	total := 0
	for _, c := range chunks {
		total += len(c.Data)
	}
	out := make([]byte, 0, total)

	cursor := float64(originMs)
	for _, c := range chunks {
		if gap := float64(c.AtMs) - cursor; gap > 0 {
			out = append(out, make([]byte, f.SilenceBytes(gap))...)
			cursor = float64(c.AtMs)
		}
		out = append(out, c.Data...)
		cursor += f.DurationMs(len(c.Data))
	}
	return out
}

// Segment is one entry of the cross-speaker timeline.
type Segment struct {
	SpeakerID string
	StartMs   int64
	EndMs     int64

	// Seqs lists the snippets coalesced into this segment.
	Seqs []uint64
}

// DurationMs returns EndMs - StartMs.
func (s Segment) DurationMs() int64 { return s.EndMs - s.StartMs }

// MergeSnippetsAcrossSpeakers builds a chronological timeline from closed
// snippets of any number of speakers.
//
// Snippets of one speaker separated by less than silenceMs are coalesced
// into one segment unless the merged segment would exceed maxLenMs. A
// segment never overlaps an earlier segment of the same speaker, and never
// exceeds maxLenMs; longer snippets are split. Zero-length snippets are
// dropped. The result is ordered by start time.
func MergeSnippetsAcrossSpeakers(snippets []Snippet, silenceMs, maxLenMs int64) []Segment {
	sorted := make([]Snippet, 0, len(snippets))
	for _, s := range snippets {
		if s.EndedAt > s.StartedAt {
			sorted = append(sorted, s)
		}
	}
	slices.SortStableFunc(sorted, func(a, b Snippet) int {
		return cmp.Or(
			cmp.Compare(a.StartedAt, b.StartedAt),
			cmp.Compare(a.SpeakerID, b.SpeakerID),
			cmp.Compare(a.Seq, b.Seq),
		)
	})

	var out []Segment
	last := make(map[string]int) // speaker -> index into out
	for _, s := range sorted {
		start, end := s.StartedAt, s.EndedAt

		if i, ok := last[s.SpeakerID]; ok {
			prev := &out[i]
			if start < prev.EndMs {
				start = prev.EndMs
			}
			if start >= end {
				prev.Seqs = append(prev.Seqs, s.Seq)
				continue
			}
			if start-prev.EndMs < silenceMs && (maxLenMs <= 0 || end-prev.StartMs <= maxLenMs) {
				prev.EndMs = end
				prev.Seqs = append(prev.Seqs, s.Seq)
				continue
			}
		}

		for start < end {
			segEnd := end
			if maxLenMs > 0 && segEnd-start > maxLenMs {
				segEnd = start + maxLenMs
			}
			out = append(out, Segment{
				SpeakerID: s.SpeakerID,
				StartMs:   start,
				EndMs:     segEnd,
				Seqs:      []uint64{s.Seq},
			})
			last[s.SpeakerID] = len(out) - 1
			start = segEnd
		}
	}

	slices.SortStableFunc(out, func(a, b Segment) int {
		return cmp.Compare(a.StartMs, b.StartMs)
	})
	return out
}

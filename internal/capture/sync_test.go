package capture

import (
	"bytes"
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/MrWong99/huddle/pkg/audio"
)

var stereo48k = audio.Format{SampleRate: 48000, Channels: 2}

// pcm returns n bytes of non-zero filler so silence is distinguishable.
func pcm(n int, fill byte) []byte {
	return bytes.Repeat([]byte{fill}, n)
}

func TestSynchronizeSpeakerAudio_LengthFormula(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		format audio.Format
		origin int64
		chunks []Chunk
		gaps   []float64 // expected gap before each chunk, in ms
	}{
		{
			name:   "contiguous 20ms frames",
			format: stereo48k,
			origin: 0,
			chunks: []Chunk{{0, pcm(3840, 1)}, {20, pcm(3840, 1)}, {40, pcm(3840, 1)}},
			gaps:   []float64{0, 0, 0},
		},
		{
			name:   "leading and mid gaps",
			format: stereo48k,
			origin: 1000,
			chunks: []Chunk{{1250, pcm(3840, 1)}, {1500, pcm(1920, 1)}, {1513, pcm(3840, 1)}},
			gaps:   []float64{250, 230, 3},
		},
		{
			name:   "mono 16k odd gap",
			format: audio.Format{SampleRate: 16000, Channels: 1},
			origin: 0,
			chunks: []Chunk{{7, pcm(640, 2)}, {100, pcm(640, 2)}},
			gaps:   []float64{7, 73},
		},
		{
			name:   "44.1k fractional samples",
			format: audio.Format{SampleRate: 44100, Channels: 2},
			origin: 0,
			chunks: []Chunk{{0, pcm(4, 3)}, {1, pcm(4, 3)}},
			gaps:   []float64{0, 1 - 1000.0/44100},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			want := 0
			for i, c := range tc.chunks {
				want += len(c.Data) + tc.format.SilenceBytes(tc.gaps[i])
			}
			got := SynchronizeSpeakerAudio(tc.origin, tc.chunks, tc.format)
			if len(got) != want {
				t.Errorf("len = %d, want %d", len(got), want)
			}
		})
	}
}

func TestSynchronizeSpeakerAudio_SilenceBytesAreExact(t *testing.T) {
	t.Parallel()

	// One 10ms chunk at t=0 and one at t=1010: a 1000ms gap.
	a := pcm(1920, 7)
	b := pcm(1920, 9)
	got := SynchronizeSpeakerAudio(0, []Chunk{{0, a}, {1010, b}}, stereo48k)

	wantSilence := (1000 * 48000 / 1000) * 2 * 2
	if len(got) != len(a)+wantSilence+len(b) {
		t.Fatalf("len = %d, want %d", len(got), len(a)+wantSilence+len(b))
	}
	if !bytes.Equal(got[:len(a)], a) {
		t.Error("first chunk altered")
	}
	if !bytes.Equal(got[len(a):len(a)+wantSilence], make([]byte, wantSilence)) {
		t.Error("gap is not zero-filled")
	}
	if !bytes.Equal(got[len(a)+wantSilence:], b) {
		t.Error("second chunk altered")
	}
}

func TestSynchronizeSpeakerAudio_ZeroGapIsConcatenation(t *testing.T) {
	t.Parallel()

	r := rand.New(rand.NewPCG(1, 2))
	var chunks []Chunk
	var naive []byte
	at := int64(500)
	for range 50 {
		data := make([]byte, 3840)
		for i := range data {
			data[i] = byte(r.IntN(256))
		}
		chunks = append(chunks, Chunk{AtMs: at, Data: data})
		naive = append(naive, data...)
		at += 20
	}

	got := SynchronizeSpeakerAudio(500, chunks, stereo48k)
	if !bytes.Equal(got, naive) {
		t.Errorf("zero-gap output differs from naive concatenation (len %d vs %d)", len(got), len(naive))
	}
}

func TestSynchronizeSpeakerAudio_LateOriginAndOverlap(t *testing.T) {
	t.Parallel()

	// Chunks that arrive early relative to the cursor never insert silence.
	chunks := []Chunk{{100, pcm(3840, 1)}, {105, pcm(3840, 1)}}
	got := SynchronizeSpeakerAudio(200, chunks, stereo48k)
	if len(got) != 7680 {
		t.Errorf("len = %d, want 7680", len(got))
	}
}

func snip(speaker string, seq uint64, start, end int64) Snippet {
	return Snippet{SpeakerID: speaker, Seq: seq, StartedAt: start, EndedAt: end, Closed: true}
}

func TestMergeSnippetsAcrossSpeakers_CoalescesShortPauses(t *testing.T) {
	t.Parallel()

	got := MergeSnippetsAcrossSpeakers([]Snippet{
		snip("a", 1, 0, 2000),
		snip("a", 2, 2500, 4000), // 500ms pause: merged
		snip("a", 3, 6000, 7000), // 2s pause: new segment
		snip("b", 1, 2100, 3000), // other speaker never merges with a
	}, 1000, 25000)

	want := []Segment{
		{SpeakerID: "a", StartMs: 0, EndMs: 4000, Seqs: []uint64{1, 2}},
		{SpeakerID: "b", StartMs: 2100, EndMs: 3000, Seqs: []uint64{1}},
		{SpeakerID: "a", StartMs: 6000, EndMs: 7000, Seqs: []uint64{3}},
	}
	assertSegments(t, got, want)
}

func TestMergeSnippetsAcrossSpeakers_RespectsMaxLen(t *testing.T) {
	t.Parallel()

	got := MergeSnippetsAcrossSpeakers([]Snippet{
		snip("a", 1, 0, 8000),
		snip("a", 2, 8200, 12000), // merge would reach 12s > 10s
	}, 1000, 10000)

	want := []Segment{
		{SpeakerID: "a", StartMs: 0, EndMs: 8000, Seqs: []uint64{1}},
		{SpeakerID: "a", StartMs: 8200, EndMs: 12000, Seqs: []uint64{2}},
	}
	assertSegments(t, got, want)
}

func TestMergeSnippetsAcrossSpeakers_SplitsOversizedSnippet(t *testing.T) {
	t.Parallel()

	got := MergeSnippetsAcrossSpeakers([]Snippet{snip("a", 1, 0, 25000)}, 1000, 10000)
	want := []Segment{
		{SpeakerID: "a", StartMs: 0, EndMs: 10000, Seqs: []uint64{1}},
		{SpeakerID: "a", StartMs: 10000, EndMs: 20000, Seqs: []uint64{1}},
		{SpeakerID: "a", StartMs: 20000, EndMs: 25000, Seqs: []uint64{1}},
	}
	assertSegments(t, got, want)
}

func TestMergeSnippetsAcrossSpeakers_DropsZeroLengthAndClampsOverlap(t *testing.T) {
	t.Parallel()

	got := MergeSnippetsAcrossSpeakers([]Snippet{
		snip("a", 1, 0, 3000),
		snip("a", 2, 4000, 4000), // zero length
		snip("a", 3, 2500, 6000), // overlaps seq 1
	}, 0, 25000)

	if len(got) != 2 {
		t.Fatalf("segments = %+v, want 2", got)
	}
	if got[0].EndMs > got[1].StartMs {
		t.Errorf("segments overlap: %+v", got)
	}
	if got[1].StartMs != 3000 || got[1].EndMs != 6000 {
		t.Errorf("clamped segment = %+v, want [3000, 6000)", got[1])
	}
}

// TestMergeSnippetsAcrossSpeakers_ThreeSpeakerMeeting simulates three
// speakers talking with overlapping and gapped timing over 60 seconds.
func TestMergeSnippetsAcrossSpeakers_ThreeSpeakerMeeting(t *testing.T) {
	t.Parallel()

	const (
		silenceMs = 1000
		maxLenMs  = 10000
	)
	r := rand.New(rand.NewPCG(42, 7))

	var snippets []Snippet
	owner := map[string]string{} // speaker/seq -> speaker
	for _, speaker := range []string{"alice", "bob", "carol"} {
		var (
			at  = int64(r.IntN(2000))
			seq uint64
		)
		for at < 60000 {
			length := int64(300 + r.IntN(9000))
			end := min(at+length, 60000)
			seq++
			snippets = append(snippets, snip(speaker, seq, at, end))
			owner[segKey(speaker, seq)] = speaker
			at = end + int64(r.IntN(3000)) // gaps shorter and longer than silenceMs
		}
	}
	// Shuffle to prove input order does not matter.
	r.Shuffle(len(snippets), func(i, j int) { snippets[i], snippets[j] = snippets[j], snippets[i] })

	segments := MergeSnippetsAcrossSpeakers(snippets, silenceMs, maxLenMs)
	if len(segments) == 0 {
		t.Fatal("no segments")
	}

	lastEnd := map[string]int64{}
	for i, seg := range segments {
		if i > 0 && seg.StartMs < segments[i-1].StartMs {
			t.Errorf("segment %d starts at %d before previous %d", i, seg.StartMs, segments[i-1].StartMs)
		}
		if seg.DurationMs() <= 0 || seg.DurationMs() > maxLenMs {
			t.Errorf("segment %d duration = %d, want (0, %d]", i, seg.DurationMs(), maxLenMs)
		}
		if seg.StartMs < lastEnd[seg.SpeakerID] {
			t.Errorf("segment %d of %s overlaps its previous segment", i, seg.SpeakerID)
		}
		lastEnd[seg.SpeakerID] = seg.EndMs
		for _, seq := range seg.Seqs {
			if owner[segKey(seg.SpeakerID, seq)] != seg.SpeakerID {
				t.Errorf("segment %d of %s contains foreign snippet %d", i, seg.SpeakerID, seq)
			}
		}
	}

	// Every snippet is accounted for exactly once per speaker.
	seen := map[string]bool{}
	for _, seg := range segments {
		for _, seq := range seg.Seqs {
			seen[segKey(seg.SpeakerID, seq)] = true
		}
	}
	for key := range owner {
		if !seen[key] {
			t.Errorf("snippet %s missing from timeline", key)
		}
	}
}

func segKey(speaker string, seq uint64) string {
	return fmt.Sprintf("%s/%d", speaker, seq)
}

func assertSegments(t *testing.T, got, want []Segment) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("segments = %+v, want %+v", got, want)
	}
	for i := range want {
		g, w := got[i], want[i]
		if g.SpeakerID != w.SpeakerID || g.StartMs != w.StartMs || g.EndMs != w.EndMs {
			t.Errorf("segment[%d] = %s [%d,%d), want %s [%d,%d)",
				i, g.SpeakerID, g.StartMs, g.EndMs, w.SpeakerID, w.StartMs, w.EndMs)
		}
		if len(g.Seqs) != len(w.Seqs) {
			t.Errorf("segment[%d].Seqs = %v, want %v", i, g.Seqs, w.Seqs)
			continue
		}
		for j := range w.Seqs {
			if g.Seqs[j] != w.Seqs[j] {
				t.Errorf("segment[%d].Seqs = %v, want %v", i, g.Seqs, w.Seqs)
				break
			}
		}
	}
}

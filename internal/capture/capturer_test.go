package capture

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/huddle/pkg/audio"
)

const frame20ms = 3840 // 20ms of 48kHz stereo s16le

func newTestCapturer(t *testing.T, cfg Config) (*Capturer, <-chan Snippet) {
	t.Helper()
	out := make(chan Snippet, 64)
	cfg.OnClosed = func(s Snippet) { out <- s }
	c := New(cfg)
	t.Cleanup(c.Close)
	return c, out
}

func recv(t *testing.T, ch <-chan Snippet) Snippet {
	t.Helper()
	select {
	case s := <-ch:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("no snippet closed")
		return Snippet{}
	}
}

func TestCapturer_SlowSilenceCloses(t *testing.T) {
	t.Parallel()

	c, out := newTestCapturer(t, Config{
		FastSilence: 20 * time.Millisecond,
		MinPartial:  time.Hour,
		SlowSilence: 60 * time.Millisecond,
	})

	for i := range 3 {
		c.OnAudioChunk("alice", pcm(frame20ms, 1), int64(100+i*20))
	}

	s := recv(t, out)
	if s.Reason != ReasonSilence {
		t.Errorf("Reason = %v, want silence", s.Reason)
	}
	if s.SpeakerID != "alice" || s.Seq != 1 || !s.Closed {
		t.Errorf("snippet = %s seq %d closed %v, want alice seq 1 closed", s.SpeakerID, s.Seq, s.Closed)
	}
	if s.StartedAt != 100 || s.EndedAt != 160 {
		t.Errorf("span = [%d, %d), want [100, 160)", s.StartedAt, s.EndedAt)
	}
	if s.Bytes() != 3*frame20ms {
		t.Errorf("Bytes() = %d, want %d", s.Bytes(), 3*frame20ms)
	}
}

func TestCapturer_FastSilenceClosesLongSnippet(t *testing.T) {
	t.Parallel()

	c, out := newTestCapturer(t, Config{
		FastSilence: 20 * time.Millisecond,
		MinPartial:  40 * time.Millisecond,
		SlowSilence: time.Hour,
	})

	for i := range 3 {
		c.OnAudioChunk("alice", pcm(frame20ms, 1), int64(i*20))
	}

	s := recv(t, out)
	if s.Reason != ReasonPause {
		t.Errorf("Reason = %v, want pause", s.Reason)
	}
}

func TestCapturer_ShortSnippetWaitsForSlowSilence(t *testing.T) {
	t.Parallel()

	c, out := newTestCapturer(t, Config{
		FastSilence: 10 * time.Millisecond,
		MinPartial:  time.Second,
		SlowSilence: 150 * time.Millisecond,
	})

	start := time.Now()
	c.OnAudioChunk("alice", pcm(frame20ms, 1), 0)
	s := recv(t, out)
	if s.Reason != ReasonSilence {
		t.Errorf("Reason = %v, want silence", s.Reason)
	}
	if elapsed := time.Since(start); elapsed < 140*time.Millisecond {
		t.Errorf("closed after %v, want >= slow silence", elapsed)
	}
}

func TestCapturer_MaxDurationCaps(t *testing.T) {
	t.Parallel()

	c, out := newTestCapturer(t, Config{
		FastSilence: time.Hour,
		MinPartial:  time.Hour,
		SlowSilence: time.Hour,
		MaxSnippet:  50 * time.Millisecond,
	})

	for i := range 4 {
		c.OnAudioChunk("alice", pcm(frame20ms, 1), int64(i*20))
	}

	first := recv(t, out)
	if first.Reason != ReasonMaxDuration {
		t.Errorf("Reason = %v, want max_duration", first.Reason)
	}
	if first.DurationMs() > 50 {
		t.Errorf("DurationMs() = %d, want <= 50", first.DurationMs())
	}

	c.Flush("alice")
	second := recv(t, out)
	if second.Reason != ReasonFlush || second.Seq != 2 {
		t.Errorf("second = %v seq %d, want flush seq 2", second.Reason, second.Seq)
	}
	if second.StartedAt < first.EndedAt {
		t.Errorf("second starts at %d before first ends at %d", second.StartedAt, first.EndedAt)
	}
	if got := first.Bytes() + second.Bytes(); got != 4*frame20ms {
		t.Errorf("total bytes = %d, want %d", got, 4*frame20ms)
	}
}

func TestCapturer_FlushIncludesQueuedChunks(t *testing.T) {
	t.Parallel()

	c, out := newTestCapturer(t, Config{FastSilence: time.Hour, SlowSilence: time.Hour})

	for i := range 10 {
		c.OnAudioChunk("bob", pcm(frame20ms, 1), int64(i*20))
	}
	c.Flush("bob")

	s := recv(t, out)
	if s.Reason != ReasonFlush {
		t.Errorf("Reason = %v, want flush", s.Reason)
	}
	if s.Bytes() != 10*frame20ms {
		t.Errorf("Bytes() = %d, want %d", s.Bytes(), 10*frame20ms)
	}

	// Flushing with nothing open emits nothing.
	c.Flush("bob")
	c.Flush("nobody")
	select {
	case s := <-out:
		t.Errorf("unexpected snippet %+v", s.Header())
	case <-time.After(20 * time.Millisecond):
	}
}

func TestCapturer_SpeakersAreIndependent(t *testing.T) {
	t.Parallel()

	c, out := newTestCapturer(t, Config{FastSilence: time.Hour, SlowSilence: time.Hour})

	c.OnAudioChunk("alice", pcm(frame20ms, 1), 0)
	c.OnAudioChunk("bob", pcm(frame20ms, 2), 5)
	c.Close()

	got := map[string]Snippet{}
	for range 2 {
		s := recv(t, out)
		got[s.SpeakerID] = s
	}
	for _, id := range []string{"alice", "bob"} {
		s, ok := got[id]
		if !ok {
			t.Fatalf("no snippet for %s", id)
		}
		if s.Seq != 1 || s.Reason != ReasonFlush {
			t.Errorf("%s: seq %d reason %v, want seq 1 flush", id, s.Seq, s.Reason)
		}
	}

	// Input after Close is ignored.
	c.OnAudioChunk("alice", pcm(frame20ms, 1), 100)
	select {
	case s := <-out:
		t.Errorf("snippet after Close: %+v", s.Header())
	case <-time.After(20 * time.Millisecond):
	}
}

func TestCapturer_RemoveKeepsSeqIncreasing(t *testing.T) {
	t.Parallel()

	c, out := newTestCapturer(t, Config{FastSilence: time.Hour, SlowSilence: time.Hour})

	c.OnAudioChunk("alice", pcm(frame20ms, 1), 0)
	c.Flush("alice")
	c.OnAudioChunk("alice", pcm(frame20ms, 1), 100)
	c.Remove("alice")
	c.OnAudioChunk("alice", pcm(frame20ms, 1), 110)
	c.Flush("alice")

	var seqs []uint64
	var prevEnd int64
	for i := range 3 {
		s := recv(t, out)
		seqs = append(seqs, s.Seq)
		if s.Seq != uint64(i+1) {
			t.Errorf("seqs = %v, want [1 2 3]", seqs)
		}
		if s.StartedAt < prevEnd {
			t.Errorf("snippet %d starts at %d before previous end %d", s.Seq, s.StartedAt, prevEnd)
		}
		prevEnd = s.EndedAt
	}

	// Removing an unknown speaker is a no-op.
	c.Remove("nobody")
}

func TestCapturer_DropsWhenFull(t *testing.T) {
	t.Parallel()

	gate := make(chan struct{})
	var once sync.Once
	var drops int
	var mu sync.Mutex
	c := New(Config{
		FastSilence: time.Hour,
		SlowSilence: time.Hour,
		MaxSnippet:  20 * time.Millisecond,
		Buffer:      1,
		OnClosed:    func(Snippet) { once.Do(func() { <-gate }) },
		OnDrop: func(string) {
			mu.Lock()
			drops++
			mu.Unlock()
		},
	})
	defer c.Close()

	// Second chunk trips max duration; the consumer then blocks in OnClosed.
	c.OnAudioChunk("alice", pcm(frame20ms, 1), 0)
	c.OnAudioChunk("alice", pcm(frame20ms, 1), 20)

	deadline := time.Now().Add(time.Second)
	for c.Dropped() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("no chunk was dropped")
		}
		c.OnAudioChunk("alice", pcm(frame20ms, 1), 40)
	}
	close(gate)

	mu.Lock()
	defer mu.Unlock()
	if int64(drops) != c.Dropped() {
		t.Errorf("OnDrop calls = %d, Dropped() = %d", drops, c.Dropped())
	}
}

func TestCapturer_AttachConvertsAndResubscribes(t *testing.T) {
	t.Parallel()

	first := make(chan audio.AudioFrame, 4)
	second := make(chan audio.AudioFrame, 4)

	var (
		mu    sync.Mutex
		calls int
	)
	c, out := newTestCapturer(t, Config{
		FastSilence: time.Hour,
		SlowSilence: time.Hour,
		Now:         func() int64 { return 0 },
		Resubscribe: func(id string) (<-chan audio.AudioFrame, bool) {
			mu.Lock()
			defer mu.Unlock()
			calls++
			return second, id == "alice"
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Attach(ctx, "alice", first)

	// 10ms of 24kHz mono is 480 bytes; converted to 48kHz stereo it is 1920.
	first <- audio.AudioFrame{Data: make([]byte, 480), SampleRate: 24000, Channels: 1}
	close(first)
	second <- audio.AudioFrame{Data: make([]byte, 1920), SampleRate: 48000, Channels: 2}

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := calls
		mu.Unlock()
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("Resubscribe never called")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// Give the second reader time to deliver its frame, then flush.
	time.Sleep(50 * time.Millisecond)
	c.Flush("alice")
	s := recv(t, out)
	if s.Bytes() != 1920+1920 {
		t.Errorf("Bytes() = %d, want %d", s.Bytes(), 3840)
	}
}

func TestSnippet_PCMAndHeader(t *testing.T) {
	t.Parallel()

	s := &Snippet{SpeakerID: "a", StartedAt: 0, Format: stereo48k}
	s.append(Chunk{AtMs: 0, Data: pcm(frame20ms, 1)})
	s.append(Chunk{AtMs: 100, Data: pcm(frame20ms, 1)})

	if got := s.DurationMs(); got != 120 {
		t.Errorf("DurationMs() = %d, want 120", got)
	}
	if got, want := len(s.PCM()), 2*frame20ms+stereo48k.SilenceBytes(80); got != want {
		t.Errorf("len(PCM()) = %d, want %d", got, want)
	}
	if h := s.Header(); h.Chunks != nil || h.SpeakerID != "a" {
		t.Errorf("Header() = %+v, want chunk-free copy", h)
	}
}

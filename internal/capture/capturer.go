package capture

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/huddle/pkg/audio"
)

// Defaults applied by [New] to zero-value [Config] fields.
const (
	DefaultFastSilence = 600 * time.Millisecond
	DefaultMinPartial  = 3 * time.Second
	DefaultSlowSilence = 1500 * time.Millisecond
	DefaultMaxSnippet  = 25 * time.Second
	DefaultBuffer      = 256
)

// Config configures a [Capturer].
type Config struct {
	// Format is the PCM format snippets are stored in. Frames in another
	// format are converted on arrival. Default: 48 kHz stereo.
	Format audio.Format

	// FastSilence closes a snippet of at least MinPartial with [ReasonPause].
	FastSilence time.Duration
	MinPartial  time.Duration

	// SlowSilence closes any snippet with [ReasonSilence].
	SlowSilence time.Duration

	// MaxSnippet caps the duration of a snippet.
	MaxSnippet time.Duration

	// Buffer is the capacity of each speaker's chunk channel. Chunks arriving
	// at a full channel are dropped.
	Buffer int

	// Now returns milliseconds since the meeting clock origin. It stamps
	// frames read by [Capturer.Attach].
	Now func() int64

	// OnClosed receives every closed, non-empty snippet. It is called from
	// the speaker's consumer goroutine and should hand off slow work.
	OnClosed func(Snippet)

	// OnDrop is called for every chunk dropped at a full channel.
	OnDrop func(speakerID string)

	// Resubscribe returns a fresh stream for a speaker whose stream closed
	// unexpectedly. ok is false when the speaker is gone.
	Resubscribe func(speakerID string) (ch <-chan audio.AudioFrame, ok bool)

	Logger *slog.Logger
}

// item travels through a speaker's channel. Exactly one of chunk or flush is
// meaningful.
type item struct {
	chunk Chunk
	flush chan struct{}
}

// speaker is the capture state of one participant.
type speaker struct {
	id string

	// sendMu guards ch against send-after-close.
	sendMu sync.RWMutex
	closed bool
	ch     chan item

	done chan struct{}
}

// speakerClock is the part of a speaker's state that outlives
// [Capturer.Remove]: snippet seqs and spans keep increasing.
type speakerClock struct {
	seq     uint64
	lastEnd int64 // end of the previous closed snippet
}

// Capturer cuts per-speaker audio into snippets. It is safe for concurrent
// use; each speaker's snippet is mutated only by that speaker's goroutine.
type Capturer struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	speakers map[string]*speaker
	clocks   map[string]*speakerClock
	closed   bool

	dropped atomic.Int64
	wg      sync.WaitGroup
}

// New returns a Capturer. Zero-value config fields are replaced with
// defaults.
func New(cfg Config) *Capturer {
	if !cfg.Format.Valid() {
		cfg.Format = audio.Format{SampleRate: 48000, Channels: 2}
	}
	if cfg.FastSilence <= 0 {
		cfg.FastSilence = DefaultFastSilence
	}
	if cfg.MinPartial <= 0 {
		cfg.MinPartial = DefaultMinPartial
	}
	if cfg.SlowSilence <= 0 {
		cfg.SlowSilence = DefaultSlowSilence
	}
	if cfg.SlowSilence < cfg.FastSilence {
		cfg.SlowSilence = cfg.FastSilence
	}
	if cfg.MaxSnippet <= 0 {
		cfg.MaxSnippet = DefaultMaxSnippet
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = DefaultBuffer
	}
	if cfg.Now == nil {
		origin := time.Now()
		cfg.Now = func() int64 { return time.Since(origin).Milliseconds() }
	}
	if cfg.OnClosed == nil {
		cfg.OnClosed = func(Snippet) {}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Capturer{
		cfg:      cfg,
		logger:   cfg.Logger,
		speakers: make(map[string]*speaker),
		clocks:   make(map[string]*speakerClock),
	}
}

// Format returns the PCM format of produced snippets.
func (c *Capturer) Format() audio.Format { return c.cfg.Format }

// Dropped returns the number of chunks dropped at full speaker channels.
func (c *Capturer) Dropped() int64 { return c.dropped.Load() }

// OnAudioChunk appends data to the speaker's open snippet, opening one if
// needed. data must be in [Capturer.Format]. It never blocks: when the
// speaker's channel is full the chunk is dropped and counted.
func (c *Capturer) OnAudioChunk(speakerID string, data []byte, arrivalMs int64) {
	if len(data) == 0 {
		return
	}
	sp := c.speaker(speakerID)
	if sp == nil {
		return
	}

	sp.sendMu.RLock()
	defer sp.sendMu.RUnlock()
	if sp.closed {
		return
	}
	select {
	case sp.ch <- item{chunk: Chunk{AtMs: arrivalMs, Data: data}}:
	default:
		c.dropped.Add(1)
		if c.cfg.OnDrop != nil {
			c.cfg.OnDrop(speakerID)
		}
	}
}

// Attach starts reading frames from ch for speakerID, stamping each with
// Config.Now. When ch closes while the capturer is still running, the
// speaker is resubscribed via [Capturer.Resubscribe].
func (c *Capturer) Attach(ctx context.Context, speakerID string, ch <-chan audio.AudioFrame) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case frame, ok := <-ch:
				if !ok {
					if ctx.Err() == nil && !c.isClosed() {
						go c.Resubscribe(ctx, speakerID)
					}
					return
				}
				c.OnAudioChunk(speakerID, c.convert(frame), c.cfg.Now())
			}
		}
	}()
}

// Resubscribe asks Config.Resubscribe for a fresh stream for speakerID and
// attaches it. Only that speaker is affected. It retries a few times with a
// short backoff and gives up when the speaker is gone.
func (c *Capturer) Resubscribe(ctx context.Context, speakerID string) bool {
	if c.cfg.Resubscribe == nil {
		return false
	}
	backoff := 100 * time.Millisecond
	for attempt := 1; attempt <= 3; attempt++ {
		if ch, ok := c.cfg.Resubscribe(speakerID); ok && ch != nil {
			c.logger.Info("capture resubscribed", "speaker_id", speakerID, "attempt", attempt)
			c.Attach(ctx, speakerID, ch)
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	c.logger.Warn("capture resubscribe gave up", "speaker_id", speakerID)
	return false
}

// Flush closes the speaker's open snippet with [ReasonFlush], including every
// chunk already queued, and waits until OnClosed has run for it.
func (c *Capturer) Flush(speakerID string) {
	c.mu.Lock()
	sp := c.speakers[speakerID]
	c.mu.Unlock()
	if sp == nil {
		return
	}

	done := make(chan struct{})
	sp.sendMu.RLock()
	if sp.closed {
		sp.sendMu.RUnlock()
		return
	}
	sp.ch <- item{flush: done}
	sp.sendMu.RUnlock()
	<-done
}

// Remove flushes the speaker and stops its goroutine. A later chunk from the
// same speaker starts a new consumer whose snippets continue the speaker's
// seq numbering.
func (c *Capturer) Remove(speakerID string) {
	c.mu.Lock()
	sp := c.speakers[speakerID]
	delete(c.speakers, speakerID)
	c.mu.Unlock()
	if sp != nil {
		c.stopSpeaker(sp)
	}
}

// Close flushes every speaker, stops all goroutines and ignores further
// input. It is safe to call more than once.
func (c *Capturer) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	speakers := c.speakers
	c.speakers = make(map[string]*speaker)
	c.mu.Unlock()

	var wg sync.WaitGroup
	for _, sp := range speakers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.stopSpeaker(sp)
		}()
	}
	wg.Wait()
}

// Wait blocks until every goroutine started by Attach has returned.
func (c *Capturer) Wait() { c.wg.Wait() }

func (c *Capturer) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Capturer) speaker(id string) *speaker {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	if sp, ok := c.speakers[id]; ok {
		return sp
	}
	sp := &speaker{
		id:   id,
		ch:   make(chan item, c.cfg.Buffer),
		done: make(chan struct{}),
	}
	c.speakers[id] = sp
	go c.consume(sp)
	return sp
}

// lastEnd returns the end of the speaker's latest closed snippet.
func (c *Capturer) lastEnd(id string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ck, ok := c.clocks[id]; ok {
		return ck.lastEnd
	}
	return 0
}

// nextSeq records a snippet of id ending at end and returns its seq.
func (c *Capturer) nextSeq(id string, end int64) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	ck, ok := c.clocks[id]
	if !ok {
		ck = &speakerClock{}
		c.clocks[id] = ck
	}
	ck.seq++
	ck.lastEnd = max(ck.lastEnd, end)
	return ck.seq
}

// stopSpeaker closes the speaker's channel; the consumer flushes on close.
func (c *Capturer) stopSpeaker(sp *speaker) {
	sp.sendMu.Lock()
	if !sp.closed {
		sp.closed = true
		close(sp.ch)
	}
	sp.sendMu.Unlock()
	<-sp.done
}

func (c *Capturer) convert(frame audio.AudioFrame) []byte {
	from := frame.Format()
	if !from.Valid() || from == c.cfg.Format {
		return frame.Data
	}
	return audio.ConvertPCM(frame.Data, from, c.cfg.Format)
}

// consume owns sp's open snippet for the lifetime of the speaker.
func (c *Capturer) consume(sp *speaker) {
	defer close(sp.done)

	var (
		open   *Snippet
		paused bool // fast silence already elapsed since the last chunk
	)
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	maxMs := float64(c.cfg.MaxSnippet.Milliseconds())
	minPartialMs := c.cfg.MinPartial.Milliseconds()

	closeOpen := func(reason CloseReason) {
		timer.Stop()
		if open == nil {
			return
		}
		s := open
		open = nil
		if s.Bytes() == 0 {
			return
		}
		s.Closed = true
		s.Reason = reason
		s.EndedAt = int64(s.cursor)
		s.Seq = c.nextSeq(sp.id, s.EndedAt)
		c.logger.Debug("snippet closed",
			"speaker_id", sp.id,
			"reason", reason.String(),
			"snippet_ms", s.EndedAt-s.StartedAt,
			"seq", s.Seq,
		)
		c.cfg.OnClosed(*s)
	}

	for {
		select {
		case it, ok := <-sp.ch:
			if !ok {
				closeOpen(ReasonFlush)
				return
			}
			if it.flush != nil {
				closeOpen(ReasonFlush)
				close(it.flush)
				continue
			}

			chunk := it.chunk
			if open != nil && open.projectedEnd(chunk)-float64(open.StartedAt) > maxMs {
				closeOpen(ReasonMaxDuration)
			}
			if open == nil {
				// Snippets of one speaker never overlap, even when the
				// transport delivers a burst.
				open = &Snippet{SpeakerID: sp.id, StartedAt: max(chunk.AtMs, c.lastEnd(sp.id)), Format: c.cfg.Format}
			}
			open.append(chunk)

			paused = false
			timer.Reset(c.cfg.FastSilence)

		case <-timer.C:
			if open == nil {
				continue
			}
			if !paused {
				paused = true
				if open.DurationMs() >= minPartialMs {
					closeOpen(ReasonPause)
					continue
				}
				if rest := c.cfg.SlowSilence - c.cfg.FastSilence; rest > 0 {
					timer.Reset(rest)
					continue
				}
			}
			closeOpen(ReasonSilence)
		}
	}
}

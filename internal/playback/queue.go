// Package playback serializes synthesized speech and cues onto a meeting's
// voice sink.
//
// A [Queue] holds items in FIFO order and plays them one at a time on a
// single drain goroutine, which exists only while there is work: the queue
// is Idle when nothing is queued or playing and Draining otherwise. Concurrent
// Enqueue calls from the chat relay, the voice gate and the cue loop only
// append; the first one to find the queue idle starts the drain goroutine.
//
// Every item that plays to completion is handed to a [Tee] so the meeting can
// add it to the mixed recording and the transcript.
package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/huddle/internal/observe"
	"github.com/MrWong99/huddle/pkg/audio"
	"github.com/MrWong99/huddle/pkg/provider/tts"
)

var (
	// ErrQueueFull is returned by [Queue.Enqueue] for a normal-priority item
	// when the queue is at capacity.
	ErrQueueFull = errors.New("playback: queue full")

	// ErrClosed is returned by [Queue.Enqueue] after [Queue.Close].
	ErrClosed = errors.New("playback: queue closed")
)

// DefaultCapacity is the number of items a queue holds, excluding the one
// playing.
const DefaultCapacity = 8

// Tee receives every item that played in full.
type Tee interface {
	RecordPlayback(p Played)
}

// TeeFunc adapts a function to [Tee].
type TeeFunc func(Played)

// RecordPlayback calls f(p).
func (f TeeFunc) RecordPlayback(p Played) { f(p) }

// Option configures a [Queue] during construction.
type Option func(*Queue)

// WithCapacity sets the queue capacity. Values below 1 are ignored.
func WithCapacity(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.capacity = n
		}
	}
}

// WithVoice sets the voice used for items without one.
func WithVoice(voice string) Option {
	return func(q *Queue) { q.voice = voice }
}

// WithTee sets the receiver of played items.
func WithTee(t Tee) Option {
	return func(q *Queue) { q.tee = t }
}

// WithClock sets the meeting clock used to timestamp played items, in
// milliseconds since the meeting origin.
func WithClock(now func() int64) Option {
	return func(q *Queue) { q.now = now }
}

// WithMetrics records queue depth, drops and playback latency.
func WithMetrics(m *observe.Metrics, meetingID string) Option {
	return func(q *Queue) {
		q.metrics = m
		q.meetingID = meetingID
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) { q.logger = l }
}

// Queue is the per-meeting speech queue. All exported methods are safe for
// concurrent use.
type Queue struct {
	sink  audio.Sink
	synth tts.Provider

	capacity  int
	voice     string
	tee       Tee
	now       func() int64
	metrics   *observe.Metrics
	meetingID string
	logger    *slog.Logger

	ctx  context.Context
	stop context.CancelFunc

	mu       sync.Mutex
	items    []Item
	draining bool
	cancel   context.CancelFunc // cancels the playing item, nil when none
	closed   bool
	wg       sync.WaitGroup

	cueMu sync.Mutex
	cues  map[string]cue
}

type cue struct {
	pcm    []byte
	format audio.Format
}

// New creates a [Queue] that plays onto sink. synth may be nil when only
// cues are played.
func New(sink audio.Sink, synth tts.Provider, opts ...Option) *Queue {
	start := time.Now()
	q := &Queue{
		sink:     sink,
		synth:    synth,
		capacity: DefaultCapacity,
		now:      func() int64 { return time.Since(start).Milliseconds() },
		logger:   slog.Default(),
		cues:     make(map[string]cue),
	}
	for _, o := range opts {
		o(q)
	}
	q.ctx, q.stop = context.WithCancel(context.Background())
	return q
}

// Enqueue appends item and starts the drain goroutine if the queue is idle.
//
// At capacity a [PriorityHigh] item flushes every queued item and is then
// accepted; a [PriorityNormal] item is rejected with [ErrQueueFull] and the
// queue is left unchanged. The item playing is never affected.
func (q *Queue) Enqueue(item Item) error {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	if len(q.items) >= q.capacity {
		if item.Priority != PriorityHigh {
			q.metrics.RecordTTSDrop(q.ctx, "full", 1)
			return fmt.Errorf("%w (capacity %d)", ErrQueueFull, q.capacity)
		}
		q.metrics.RecordTTSDrop(q.ctx, "flushed", len(q.items))
		q.logger.Info("playback: high priority item flushed queue",
			"item_id", item.ID, "dropped", len(q.items))
		q.items = nil
	}
	q.items = append(q.items, item)
	q.startLocked()
	return nil
}

// PlayCueIfIdle enqueues the cue at path only when nothing is queued or
// playing. It reports whether the cue was enqueued.
func (q *Queue) PlayCueIfIdle(path string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed || q.draining {
		return false
	}
	q.items = append(q.items, Item{ID: uuid.NewString(), Cue: path, Origin: OriginBot})
	q.startLocked()
	return true
}

// startLocked starts the drain goroutine unless one is running.
func (q *Queue) startLocked() {
	q.metrics.RecordQueueDepth(q.ctx, q.meetingID, len(q.items))
	if q.draining {
		return
	}
	q.draining = true
	q.wg.Go(q.drain)
}

// Size returns the number of queued items, excluding the one playing.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Idle reports whether nothing is queued or playing.
func (q *Queue) Idle() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return !q.draining
}

// StopAndClear drops every queued item and cuts the playing one short. The
// sink is stopped only when an item is playing, and before any later Enqueue
// can start a new one.
func (q *Queue) StopAndClear() {
	q.mu.Lock()
	dropped := len(q.items)
	q.items = nil
	if q.cancel != nil {
		q.cancel()
		q.sink.Stop()
	}
	q.mu.Unlock()

	q.metrics.RecordTTSDrop(q.ctx, "flushed", dropped)
	q.metrics.RecordQueueDepth(q.ctx, q.meetingID, 0)
}

// Close flushes the queue, stops playback and waits for the drain goroutine
// to exit. Later Enqueue calls return [ErrClosed]. Close is idempotent.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		q.wg.Wait()
		return
	}
	q.closed = true
	dropped := len(q.items)
	q.items = nil
	q.mu.Unlock()

	q.stop()
	q.sink.Stop()
	q.wg.Wait()
	q.metrics.RecordTTSDrop(context.Background(), "closed", dropped)
}

// drain plays items until the queue is empty.
func (q *Queue) drain() {
	for {
		q.mu.Lock()
		if q.closed || len(q.items) == 0 {
			q.draining = false
			q.mu.Unlock()
			return
		}
		item := q.items[0]
		q.items = q.items[1:]
		ctx, cancel := context.WithCancel(q.ctx)
		q.cancel = cancel
		depth := len(q.items)
		q.mu.Unlock()

		q.metrics.RecordQueueDepth(ctx, q.meetingID, depth)
		q.play(ctx, item)

		q.mu.Lock()
		q.cancel = nil
		q.mu.Unlock()
		cancel()
	}
}

// play renders and plays one item. Errors are logged; the drain continues.
func (q *Queue) play(ctx context.Context, item Item) {
	log := q.logger.With("item_id", item.ID, "origin", item.Origin.String())
	if item.BeforePlay != nil {
		item.BeforePlay()
	}

	pcm, f, err := q.render(ctx, item)
	if err != nil {
		if ctx.Err() == nil {
			log.Warn("playback: render failed", "err", err)
		}
		return
	}
	if len(pcm) == 0 {
		log.Debug("playback: nothing to play")
		return
	}

	sf := q.sink.Format()
	out := audio.ConvertPCM(pcm, f, sf)
	startedAt := q.now()
	start := time.Now()
	if err := q.sink.Play(ctx, out); err != nil {
		if errors.Is(err, audio.ErrSinkStopped) || ctx.Err() != nil {
			log.Debug("playback: interrupted")
		} else {
			log.Warn("playback: sink failed", "err", err)
		}
		return
	}
	q.metrics.RecordPlayback(ctx, item.Origin.String(), time.Since(start).Seconds())

	if q.tee != nil {
		q.tee.RecordPlayback(Played{Item: item, StartedAtMs: startedAt, PCM: out, Format: sf})
	}
}

// render returns the item's audio: the cached cue or synthesized speech.
func (q *Queue) render(ctx context.Context, item Item) ([]byte, audio.Format, error) {
	if item.Cue != "" {
		c, err := q.loadCue(item.Cue)
		return c.pcm, c.format, err
	}
	if q.synth == nil {
		return nil, audio.Format{}, errors.New("playback: no tts provider configured")
	}
	voice := item.Voice
	if voice == "" {
		voice = q.voice
	}

	start := time.Now()
	ch, f, err := q.synth.Synthesize(ctx, item.Text, voice)
	if err != nil {
		return nil, audio.Format{}, fmt.Errorf("playback: synthesize: %w", err)
	}
	pcm, err := tts.Collect(ctx, ch)
	if err != nil {
		return nil, audio.Format{}, fmt.Errorf("playback: synthesize: %w", err)
	}
	q.metrics.RecordTTS(ctx, time.Since(start).Seconds())
	return pcm, f, nil
}

// loadCue reads and decodes a cue WAV once and serves it from memory after.
func (q *Queue) loadCue(path string) (cue, error) {
	q.cueMu.Lock()
	defer q.cueMu.Unlock()
	if c, ok := q.cues[path]; ok {
		return c, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cue{}, fmt.Errorf("playback: load cue: %w", err)
	}
	pcm, f, err := audio.DecodeWAV(data)
	if err != nil {
		return cue{}, fmt.Errorf("playback: load cue %s: %w", path, err)
	}
	c := cue{pcm: pcm, format: f}
	q.cues[path] = c
	return c, nil
}

package discord

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/huddle/pkg/audio"
	"github.com/bwmarrin/discordgo"
)

var _ audio.Sink = (*Sink)(nil)

// Sink encodes 48 kHz stereo PCM into 20 ms Opus frames and hands them to the
// voice connection's send queue. discordgo paces the queue itself; Play
// returns once the queue has drained.
type Sink struct {
	send  chan<- []byte
	queue func() int
	done  <-chan struct{}

	speaking func(bool) error

	encMu sync.Mutex
	enc   *opusEncoder

	mu   sync.Mutex
	stop chan struct{}
}

func newSink(vc *discordgo.VoiceConnection, done <-chan struct{}) (*Sink, error) {
	enc, err := newOpusEncoder()
	if err != nil {
		return nil, err
	}
	return &Sink{
		send:     vc.OpusSend,
		queue:    func() int { return len(vc.OpusSend) },
		done:     done,
		speaking: vc.Speaking,
		enc:      enc,
		stop:     make(chan struct{}),
	}, nil
}

// Format reports 48 kHz stereo.
func (s *Sink) Format() audio.Format {
	return opusFormat
}

// Play encodes pcm frame by frame and blocks until every frame has left the
// send queue. The final partial frame is padded with silence.
func (s *Sink) Play(ctx context.Context, pcm []byte) error {
	if len(pcm) == 0 {
		return nil
	}
	s.mu.Lock()
	stop := s.stop
	s.mu.Unlock()

	s.setSpeaking(true)
	defer s.setSpeaking(false)

	s.encMu.Lock()
	defer s.encMu.Unlock()

	for off := 0; off < len(pcm); off += opusFrameBytes {
		pkt, err := s.enc.encode(pcm[off:min(off+opusFrameBytes, len(pcm))])
		if err != nil {
			return fmt.Errorf("discord: play: %w", err)
		}
		select {
		case s.send <- pkt:
		case <-stop:
			return audio.ErrSinkStopped
		case <-s.done:
			return audio.ErrSinkStopped
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return s.waitIdle(ctx, stop)
}

// waitIdle polls the send queue until it is empty, then waits one more frame
// so the last packet has gone out.
func (s *Sink) waitIdle(ctx context.Context, stop <-chan struct{}) error {
	tick := time.NewTicker(opusFrameSizeMs * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case <-stop:
			return audio.ErrSinkStopped
		case <-s.done:
			return audio.ErrSinkStopped
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
			if s.queue() == 0 {
				return nil
			}
		}
	}
}

// Stop interrupts the current Play call. Frames already queued in discordgo
// still go out; nothing new is queued.
func (s *Sink) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	close(s.stop)
	s.stop = make(chan struct{})
}

func (s *Sink) setSpeaking(b bool) {
	if s.speaking == nil {
		return
	}
	if err := s.speaking(b); err != nil {
		slog.Warn("discord: speaking notification error", "speaking", b, "error", err)
	}
}

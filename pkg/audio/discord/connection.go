package discord

import (
	"log/slog"
	"strconv"
	"sync"

	"github.com/MrWong99/huddle/pkg/audio"
	"github.com/bwmarrin/discordgo"
)

var _ audio.Connection = (*Connection)(nil)

const inputChannelBuffer = 64

// Connection wraps a discordgo.VoiceConnection and adapts it to the
// [audio.Connection] interface. Incoming Opus packets are decoded per SSRC and
// delivered on streams keyed by Discord user ID once the SSRC has been bound
// to a user by a speaking update. Until then the SSRC itself is the key.
//
// Connection is safe for concurrent use.
type Connection struct {
	vc      *discordgo.VoiceConnection
	session *discordgo.Session
	guildID string

	inputsMu sync.RWMutex
	inputs   map[string]chan audio.AudioFrame // keyed by speaker ID
	ssrcUser map[uint32]string                // SSRC -> user ID

	sink *Sink

	changeCb func(audio.Event)
	changeMu sync.Mutex

	done      chan struct{}
	closeOnce sync.Once

	removeHandler func()

	// disconnectVC is called during Disconnect to tear down the voice connection.
	// Defaults to vc.Disconnect; overridden in tests.
	disconnectVC func() error
}

// newConnection initialises a Connection for an already-joined voice channel
// and starts the receive loop.
func newConnection(vc *discordgo.VoiceConnection, session *discordgo.Session, guildID string) (*Connection, error) {
	c := &Connection{
		vc:           vc,
		session:      session,
		guildID:      guildID,
		inputs:       make(map[string]chan audio.AudioFrame),
		ssrcUser:     make(map[uint32]string),
		done:         make(chan struct{}),
		disconnectVC: vc.Disconnect,
	}
	sink, err := newSink(vc, c.done)
	if err != nil {
		return nil, err
	}
	c.sink = sink

	c.removeHandler = session.AddHandler(c.handleVoiceStateUpdate)
	vc.AddHandler(c.handleSpeakingUpdate)

	go c.recvLoop()
	return c, nil
}

// InputStreams returns a snapshot of the current per-speaker audio channels.
func (c *Connection) InputStreams() map[string]<-chan audio.AudioFrame {
	c.inputsMu.RLock()
	defer c.inputsMu.RUnlock()
	snap := make(map[string]<-chan audio.AudioFrame, len(c.inputs))
	for id, ch := range c.inputs {
		snap[id] = ch
	}
	return snap
}

// Sink returns the playback sink bound to this voice connection.
func (c *Connection) Sink() audio.Sink {
	return c.sink
}

// OnParticipantChange registers cb as the callback for participant join/leave events.
// Only one callback may be registered; subsequent calls replace the previous one.
func (c *Connection) OnParticipantChange(cb func(audio.Event)) {
	c.changeMu.Lock()
	defer c.changeMu.Unlock()
	c.changeCb = cb
}

// Disconnect cleanly tears down the voice connection and stops all background
// goroutines. It is safe to call more than once; subsequent calls return nil.
func (c *Connection) Disconnect() error {
	var err error
	c.closeOnce.Do(func() {
		c.sink.Stop()
		close(c.done)

		if c.removeHandler != nil {
			c.removeHandler()
		}
		if c.disconnectVC != nil {
			err = c.disconnectVC()
		}

		c.inputsMu.Lock()
		for id, ch := range c.inputs {
			close(ch)
			delete(c.inputs, id)
		}
		c.inputsMu.Unlock()
	})
	return err
}

// recvLoop reads Opus packets from the voice connection, decodes them per
// SSRC and delivers AudioFrames on the speaker's input channel. A full
// channel drops the frame rather than blocking the transport.
func (c *Connection) recvLoop() {
	decoders := newDecoderSet()

	for {
		select {
		case <-c.done:
			return
		case pkt, ok := <-c.vc.OpusRecv:
			if !ok {
				return
			}
			if pkt == nil {
				continue
			}

			ch, speakerID, created := c.inputFor(pkt.SSRC)
			if ch == nil {
				return
			}
			if created {
				// A reopened stream starts with fresh decoder state.
				decoders.reset(pkt.SSRC)
				c.emitEvent(audio.Event{Type: audio.EventJoin, UserID: speakerID})
			}

			frame, err := decoders.decode(pkt)
			if err != nil {
				slog.Warn("discord: dropping voice packet", "speaker_id", speakerID, "error", err)
				continue
			}
			c.deliver(speakerID, ch, frame)
		}
	}
}

// deliver sends frame on ch unless the stream was closed or replaced since
// inputFor returned it. A full channel drops the frame.
func (c *Connection) deliver(speakerID string, ch chan audio.AudioFrame, frame audio.AudioFrame) {
	c.inputsMu.RLock()
	defer c.inputsMu.RUnlock()
	if c.inputs[speakerID] != ch {
		return
	}
	select {
	case ch <- frame:
	default:
	}
}

// inputFor returns the input channel for ssrc, creating it on first use.
// Returns nil after Disconnect.
func (c *Connection) inputFor(ssrc uint32) (chan audio.AudioFrame, string, bool) {
	c.inputsMu.Lock()
	defer c.inputsMu.Unlock()
	select {
	case <-c.done:
		return nil, "", false
	default:
	}

	speakerID, ok := c.ssrcUser[ssrc]
	if !ok {
		speakerID = strconv.FormatUint(uint64(ssrc), 10)
	}
	ch, exists := c.inputs[speakerID]
	if !exists {
		ch = make(chan audio.AudioFrame, inputChannelBuffer)
		c.inputs[speakerID] = ch
	}
	return ch, speakerID, !exists
}

// handleSpeakingUpdate binds an SSRC to the Discord user that owns it. A
// stream opened under the bare SSRC before the binding is closed and reported
// as a leave; the next packet opens the stream under the user ID.
func (c *Connection) handleSpeakingUpdate(_ *discordgo.VoiceConnection, vs *discordgo.VoiceSpeakingUpdate) {
	if vs == nil || vs.UserID == "" {
		return
	}
	ssrc := uint32(vs.SSRC)
	placeholder := strconv.FormatUint(uint64(ssrc), 10)

	c.inputsMu.Lock()
	c.ssrcUser[ssrc] = vs.UserID
	ch, orphaned := c.inputs[placeholder]
	orphaned = orphaned && placeholder != vs.UserID
	if orphaned {
		close(ch)
		delete(c.inputs, placeholder)
	}
	c.inputsMu.Unlock()

	if orphaned {
		c.emitEvent(audio.Event{Type: audio.EventLeave, UserID: placeholder})
	}
}

// dropInput closes and forgets the input stream of speakerID. A later packet
// from the same user opens a fresh stream.
func (c *Connection) dropInput(speakerID string) {
	c.inputsMu.Lock()
	defer c.inputsMu.Unlock()
	if ch, ok := c.inputs[speakerID]; ok {
		close(ch)
		delete(c.inputs, speakerID)
	}
}

// handleVoiceStateUpdate processes Discord VoiceStateUpdate events to detect
// participant joins and leaves for the voice channel this connection is on.
func (c *Connection) handleVoiceStateUpdate(_ *discordgo.Session, vsu *discordgo.VoiceStateUpdate) {
	if vsu.GuildID != c.guildID {
		return
	}
	channelID := c.vc.ChannelID

	username := ""
	if vsu.Member != nil && vsu.Member.User != nil {
		username = vsu.Member.User.Username
	}

	if vsu.BeforeUpdate != nil && vsu.BeforeUpdate.ChannelID == channelID && vsu.ChannelID != channelID {
		c.emitEvent(audio.Event{Type: audio.EventLeave, UserID: vsu.UserID, Username: username})
		c.dropInput(vsu.UserID)
		return
	}

	if vsu.ChannelID == channelID && (vsu.BeforeUpdate == nil || vsu.BeforeUpdate.ChannelID != channelID) {
		c.emitEvent(audio.Event{Type: audio.EventJoin, UserID: vsu.UserID, Username: username})
	}
}

// emitEvent invokes the registered participant change callback on its own goroutine.
func (c *Connection) emitEvent(ev audio.Event) {
	c.changeMu.Lock()
	cb := c.changeCb
	c.changeMu.Unlock()
	if cb != nil {
		go cb(ev)
	}
}

// SpeakerForSSRC returns the user ID bound to ssrc, or the SSRC in decimal
// when no speaking update has been seen for it yet.
func (c *Connection) SpeakerForSSRC(ssrc uint32) string {
	c.inputsMu.RLock()
	defer c.inputsMu.RUnlock()
	if userID, ok := c.ssrcUser[ssrc]; ok {
		return userID
	}
	return strconv.FormatUint(uint64(ssrc), 10)
}

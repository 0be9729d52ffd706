// Package discord implements [audio.Platform] on Discord voice channels using
// bwmarrin/discordgo. Incoming Opus is decoded per speaker into 48 kHz stereo
// [audio.AudioFrame] streams keyed by Discord user ID; the [Sink] encodes the
// meeting's cues and spoken answers back into Opus.
//
// The *discordgo.Session is owned by the bot; a Platform only joins and
// leaves voice channels of one guild.
package discord

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/huddle/pkg/audio"
)

var _ audio.Platform = (*Platform)(nil)

// Platform is safe for concurrent use.
type Platform struct {
	session *discordgo.Session
	guildID string

	// join performs the blocking voice join. Replaced in tests.
	join func(guildID, channelID string) (*discordgo.VoiceConnection, error)
}

// New returns a Platform joining voice channels of guildID through session.
func New(session *discordgo.Session, guildID string) *Platform {
	return &Platform{
		session: session,
		guildID: guildID,
		join: func(guildID, channelID string) (*discordgo.VoiceConnection, error) {
			// Undeafened to hear speakers, unmuted to play cues and answers.
			return session.ChannelVoiceJoin(guildID, channelID, false, false)
		},
	}
}

type joinResult struct {
	vc  *discordgo.VoiceConnection
	err error
}

// Connect joins channelID. discordgo's join does not take a context, so a
// cancelled ctx abandons the wait and disconnects the join once it lands.
// The returned connection lives until [Connection.Disconnect].
func (p *Platform) Connect(ctx context.Context, channelID string) (audio.Connection, error) {
	if channelID == "" {
		return nil, errors.New("discord: voice channel id is required")
	}

	res := make(chan joinResult, 1)
	go func() {
		vc, err := p.join(p.guildID, channelID)
		res <- joinResult{vc: vc, err: err}
	}()

	var r joinResult
	select {
	case r = <-res:
	case <-ctx.Done():
		go func() {
			if late := <-res; late.err == nil && late.vc != nil {
				_ = late.vc.Disconnect()
			}
		}()
		return nil, fmt.Errorf("discord: join voice channel %q: %w", channelID, ctx.Err())
	}
	if r.err != nil {
		return nil, fmt.Errorf("discord: join voice channel %q: %w", channelID, r.err)
	}

	conn, err := newConnection(r.vc, p.session, p.guildID)
	if err != nil {
		_ = r.vc.Disconnect()
		return nil, fmt.Errorf("discord: create connection: %w", err)
	}
	return conn, nil
}

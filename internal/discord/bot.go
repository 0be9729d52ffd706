// Package discord provides the Discord host adapter for Huddle. It owns the
// discordgo.Session lifecycle, routes slash command interactions to
// registered handlers, relays chat messages into meetings and resolves
// moderator permissions.
package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/huddle/pkg/audio"
	discordaudio "github.com/MrWong99/huddle/pkg/audio/discord"
)

// ErrNotReady is returned by [Bot.Ready] while the gateway session is not
// connected.
var ErrNotReady = errors.New("discord: gateway not ready")

// Config holds Discord bot configuration.
type Config struct {
	// Token is the bot token without the "Bot " prefix.
	Token string

	// GuildID is the guild the bot serves.
	GuildID string

	// ModeratorRoleID identifies members allowed to end any meeting.
	// Empty means only meeting owners may end meetings.
	ModeratorRoleID string

	// RelayChannelID is the text channel whose messages are read aloud
	// during a meeting. Empty disables the chat relay.
	RelayChannelID string
}

// Bot owns the gateway session of one guild.
type Bot struct {
	mu         sync.RWMutex
	session    *discordgo.Session
	platform   *discordaudio.Platform
	router     *CommandRouter
	moderators *Moderators
	cfg        Config
	commands   []*discordgo.ApplicationCommand
	closeOnce  sync.Once
}

// New opens a gateway session for cfg.GuildID. Slash commands are
// registered later by [Bot.Run], after handlers have been added to the
// router.
func New(_ context.Context, cfg Config) (*Bot, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("discord: create session: %w", err)
	}

	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildVoiceStates |
		discordgo.IntentsGuilds |
		discordgo.IntentsMessageContent

	b := &Bot{
		session:    session,
		platform:   discordaudio.New(session, cfg.GuildID),
		router:     NewCommandRouter(),
		moderators: NewModerators(session, cfg.GuildID, cfg.ModeratorRoleID),
		cfg:        cfg,
	}

	session.AddHandler(func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		b.router.Handle(s, i)
	})
	// discordgo reconnects by itself; meetings keep their voice connections.
	session.AddHandler(func(*discordgo.Session, *discordgo.Disconnect) {
		slog.Warn("discord: gateway disconnected")
	})
	session.AddHandler(func(*discordgo.Session, *discordgo.Resumed) {
		slog.Info("discord: gateway resumed")
	})

	if err := session.Open(); err != nil {
		return nil, fmt.Errorf("discord: open session: %w", err)
	}
	return b, nil
}

// Platform returns the audio.Platform for voice channel connections.
func (b *Bot) Platform() audio.Platform {
	return b.platform
}

// GuildID returns the target guild ID.
func (b *Bot) GuildID() string {
	return b.cfg.GuildID
}

// RelayChannelID returns the configured relay channel, possibly empty.
func (b *Bot) RelayChannelID() string {
	return b.cfg.RelayChannelID
}

// API returns the REST surface of the underlying session.
func (b *Bot) API() API {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.session
}

// Router returns the command router for registering handlers.
func (b *Bot) Router() *CommandRouter {
	return b.router
}

// Moderators returns the moderator role checker.
func (b *Bot) Moderators() *Moderators {
	return b.moderators
}

// VoiceChannel returns the voice channel userID is connected to in guildID,
// as tracked by the gateway state cache.
func (b *Bot) VoiceChannel(guildID, userID string) (string, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	vs, err := b.session.State.VoiceState(guildID, userID)
	if err != nil || vs == nil || vs.ChannelID == "" {
		return "", false
	}
	return vs.ChannelID, true
}

// OnMessage registers relay to receive every message created in the guild.
func (b *Bot) OnMessage(relay *ChatRelay) {
	b.session.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		relay.Handle(m)
	})
}

// Ready reports whether the gateway session is connected. It is used as a
// readiness check.
func (b *Bot) Ready(context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.session.DataReady {
		return ErrNotReady
	}
	return nil
}

// Run registers the router's slash commands for the guild and blocks until
// ctx is done.
func (b *Bot) Run(ctx context.Context) error {
	if err := b.registerCommands(); err != nil {
		return err
	}
	<-ctx.Done()
	return ctx.Err()
}

func (b *Bot) registerCommands() error {
	cmds := b.router.ApplicationCommands()
	if len(cmds) == 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	registered, err := b.session.ApplicationCommandBulkOverwrite(b.session.State.User.ID, b.cfg.GuildID, cmds)
	if err != nil {
		return fmt.Errorf("discord: register commands: %w", err)
	}
	b.commands = registered
	slog.Info("discord: commands registered", "guild_id", b.cfg.GuildID, "count", len(registered))
	return nil
}

// unregisterCommands removes what registerCommands created. Must be called
// with b.mu held.
func (b *Bot) unregisterCommands() {
	for _, cmd := range b.commands {
		if err := b.session.ApplicationCommandDelete(b.session.State.User.ID, b.cfg.GuildID, cmd.ID); err != nil {
			slog.Warn("discord: failed to delete command", "name", cmd.Name, "err", err)
		}
	}
	b.commands = nil
}

// Close unregisters the slash commands and disconnects from the gateway.
func (b *Bot) Close() error {
	var closeErr error
	b.closeOnce.Do(func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.unregisterCommands()
		if err := b.session.Close(); err != nil {
			closeErr = fmt.Errorf("discord: close session: %w", err)
		}
		slog.Info("discord: bot closed")
	})
	return closeErr
}

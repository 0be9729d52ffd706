package discord

import (
	"cmp"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"
)

// DefaultRelayMaxLen is the longest chat message read aloud, in runes.
// Longer messages are cut.
const DefaultRelayMaxLen = 400

// relayFailedEmoji marks chat messages that could not be queued.
const relayFailedEmoji = "⚠️"

// Relayer reads a chat message aloud. *meeting.Meeting implements it.
type Relayer interface {
	Relay(authorID, text, messageID string) error
}

// RelayConfig configures a [ChatRelay].
type RelayConfig struct {
	API API

	// GuildID is used for messages that arrive without a guild.
	GuildID string

	// ChannelID is the relayed text channel. Empty disables the relay.
	ChannelID string

	// Lookup returns the meeting running in a guild.
	Lookup func(guildID string) (Relayer, bool)

	MaxLen int
	Logger *slog.Logger
}

// ChatRelay forwards messages posted in the relay channel to the meeting
// running in the same guild.
type ChatRelay struct {
	cfg RelayConfig
	log *slog.Logger
}

// NewChatRelay creates a ChatRelay.
func NewChatRelay(cfg RelayConfig) *ChatRelay {
	cfg.MaxLen = cmp.Or(cfg.MaxLen, DefaultRelayMaxLen)
	log := cmp.Or(cfg.Logger, slog.Default())
	return &ChatRelay{cfg: cfg, log: log.With("component", "chat_relay")}
}

// Handle relays one created message. Messages from bots, from other
// channels, or without text are ignored, as are messages sent while no
// meeting runs. A warning reaction is added when the meeting refuses the
// message.
func (r *ChatRelay) Handle(m *discordgo.MessageCreate) {
	if m == nil || m.Message == nil || r.cfg.ChannelID == "" || m.ChannelID != r.cfg.ChannelID {
		return
	}
	if m.Author == nil || m.Author.Bot {
		return
	}
	text := relayText(m.Message, r.cfg.MaxLen)
	if text == "" {
		return
	}
	guildID := cmp.Or(m.GuildID, r.cfg.GuildID)
	target, ok := r.cfg.Lookup(guildID)
	if !ok {
		return
	}

	log := r.log.With("message_id", m.ID, "author_id", m.Author.ID)
	if err := target.Relay(m.Author.ID, text, m.ID); err != nil {
		log.Warn("relay chat message", "err", err)
		if err := r.cfg.API.MessageReactionAdd(m.ChannelID, m.ID, relayFailedEmoji); err != nil {
			log.Debug("add relay failure reaction", "err", err)
		}
		return
	}
	log.Debug("chat message relayed", "runes", utf8.RuneCountInString(text))
}

// relayText returns the speakable content of msg: mentions resolved to
// names, whitespace trimmed and cut to maxLen runes.
func relayText(msg *discordgo.Message, maxLen int) string {
	text := strings.TrimSpace(msg.ContentWithMentionsReplaced())
	if utf8.RuneCountInString(text) <= maxLen {
		return text
	}
	runes := []rune(text)
	return strings.TrimSpace(string(runes[:maxLen]))
}

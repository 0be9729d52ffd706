// Package mock provides test doubles for Discord interaction testing.
package mock

import (
	"fmt"
	"io"
	"sync"

	"github.com/bwmarrin/discordgo"
)

// SentMessage is a channel message recorded by [Session].
type SentMessage struct {
	ChannelID string
	Send      *discordgo.MessageSend

	// Files holds the attachment contents read at send time, by name.
	Files map[string]string
}

// EditedEmbed is an embed edit recorded by [Session].
type EditedEmbed struct {
	ChannelID string
	MessageID string
	Embed     *discordgo.MessageEmbed
}

// Reaction is a reaction recorded by [Session].
type Reaction struct {
	ChannelID string
	MessageID string
	Emoji     string
}

// Session records Discord REST calls for test assertions. It is safe for
// concurrent use.
type Session struct {
	mu sync.Mutex

	// Responses records all InteractionRespond calls.
	Responses []*discordgo.InteractionResponse

	// FollowUps records all FollowupMessageCreate calls.
	FollowUps []*discordgo.WebhookParams

	// Sent records ChannelMessageSendComplex and ChannelMessageSendEmbed calls.
	Sent []SentMessage

	// Edits records ChannelMessageEditEmbed calls.
	Edits []EditedEmbed

	// Reactions records MessageReactionAdd calls.
	Reactions []Reaction

	// Members is consulted by GuildMember, keyed by user ID.
	Members map[string]*discordgo.Member

	// Err is returned by every call when non-nil, allowing error injection.
	Err error

	nextID int
}

// InteractionRespond records the response and returns the configured error.
func (m *Session) InteractionRespond(_ *discordgo.Interaction, resp *discordgo.InteractionResponse, _ ...discordgo.RequestOption) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Responses = append(m.Responses, resp)
	return m.Err
}

// FollowupMessageCreate records the follow-up and returns a stub message.
func (m *Session) FollowupMessageCreate(_ *discordgo.Interaction, _ bool, params *discordgo.WebhookParams, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FollowUps = append(m.FollowUps, params)
	if m.Err != nil {
		return nil, m.Err
	}
	return &discordgo.Message{ID: "mock-followup"}, nil
}

// ChannelMessageSendComplex records the message, draining attached files.
func (m *Session) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	files := make(map[string]string, len(data.Files))
	for _, f := range data.Files {
		b, err := io.ReadAll(f.Reader)
		if err != nil {
			return nil, err
		}
		files[f.Name] = string(b)
	}
	return m.send(SentMessage{ChannelID: channelID, Send: data, Files: files})
}

// ChannelMessageSendEmbed records the embed as a sent message.
func (m *Session) ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	return m.send(SentMessage{ChannelID: channelID, Send: &discordgo.MessageSend{Embeds: []*discordgo.MessageEmbed{embed}}})
}

func (m *Session) send(msg SentMessage) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	m.Sent = append(m.Sent, msg)
	m.nextID++
	return &discordgo.Message{ID: fmt.Sprintf("mock-message-%d", m.nextID), ChannelID: msg.ChannelID}, nil
}

// ChannelMessageEditEmbed records the edit.
func (m *Session) ChannelMessageEditEmbed(channelID, messageID string, embed *discordgo.MessageEmbed, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	m.Edits = append(m.Edits, EditedEmbed{ChannelID: channelID, MessageID: messageID, Embed: embed})
	return &discordgo.Message{ID: messageID, ChannelID: channelID}, nil
}

// MessageReactionAdd records the reaction.
func (m *Session) MessageReactionAdd(channelID, messageID, emojiID string, _ ...discordgo.RequestOption) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Reactions = append(m.Reactions, Reaction{ChannelID: channelID, MessageID: messageID, Emoji: emojiID})
	return m.Err
}

// GuildMember returns the configured member or an error for unknown users.
func (m *Session) GuildMember(_, userID string, _ ...discordgo.RequestOption) (*discordgo.Member, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	member, ok := m.Members[userID]
	if !ok {
		return nil, fmt.Errorf("mock: unknown member %q", userID)
	}
	return member, nil
}

// LastResponse returns the most recently recorded response, or nil.
func (m *Session) LastResponse() *discordgo.InteractionResponse {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Responses) == 0 {
		return nil
	}
	return m.Responses[len(m.Responses)-1]
}

// LastFollowUp returns the most recently recorded follow-up, or nil.
func (m *Session) LastFollowUp() *discordgo.WebhookParams {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.FollowUps) == 0 {
		return nil
	}
	return m.FollowUps[len(m.FollowUps)-1]
}

// Snapshot returns copies of the sent messages and embed edits.
func (m *Session) Snapshot() ([]SentMessage, []EditedEmbed) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SentMessage(nil), m.Sent...), append([]EditedEmbed(nil), m.Edits...)
}

// Reset clears all recorded calls and errors.
func (m *Session) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Responses = nil
	m.FollowUps = nil
	m.Sent = nil
	m.Edits = nil
	m.Reactions = nil
	m.Err = nil
}

package discord

import (
	"errors"
	"strings"
	"testing"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/huddle/internal/discord/mock"
)

type relayCall struct{ author, text, messageID string }

type fakeRelayer struct {
	calls []relayCall
	err   error
}

func (f *fakeRelayer) Relay(authorID, text, messageID string) error {
	f.calls = append(f.calls, relayCall{authorID, text, messageID})
	return f.err
}

func newTestRelay(api API, target *fakeRelayer, maxLen int) *ChatRelay {
	return NewChatRelay(RelayConfig{
		API:       api,
		GuildID:   "guild-1",
		ChannelID: "relay-1",
		MaxLen:    maxLen,
		Lookup: func(guildID string) (Relayer, bool) {
			if guildID != "guild-1" || target == nil {
				return nil, false
			}
			return target, true
		},
	})
}

func message(channelID, content string, author *discordgo.User) *discordgo.MessageCreate {
	return &discordgo.MessageCreate{Message: &discordgo.Message{
		ID:        "msg-1",
		ChannelID: channelID,
		GuildID:   "guild-1",
		Content:   content,
		Author:    author,
	}}
}

func TestChatRelay_Handle(t *testing.T) {
	t.Parallel()
	alice := &discordgo.User{ID: "u1", Username: "alice"}
	bot := &discordgo.User{ID: "b1", Username: "huddle", Bot: true}

	tests := []struct {
		name     string
		msg      *discordgo.MessageCreate
		wantText string // empty means nothing relayed
	}{
		{name: "plain message", msg: message("relay-1", "  can you hear me?  ", alice), wantText: "can you hear me?"},
		{name: "other channel", msg: message("general", "hi", alice)},
		{name: "bot author", msg: message("relay-1", "hi", bot)},
		{name: "no author", msg: message("relay-1", "hi", nil)},
		{name: "whitespace only", msg: message("relay-1", " \n\t ", alice)},
		{name: "nil message", msg: &discordgo.MessageCreate{}},
		{
			name: "mentions replaced",
			msg: func() *discordgo.MessageCreate {
				m := message("relay-1", "ping <@u2>", alice)
				m.Mentions = []*discordgo.User{{ID: "u2", Username: "bob"}}
				return m
			}(),
			wantText: "ping @bob",
		},
		{
			name: "guild falls back to configured",
			msg: func() *discordgo.MessageCreate {
				m := message("relay-1", "hi", alice)
				m.GuildID = ""
				return m
			}(),
			wantText: "hi",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			target := &fakeRelayer{}
			newTestRelay(&mock.Session{}, target, 0).Handle(tt.msg)

			if tt.wantText == "" {
				if len(target.calls) != 0 {
					t.Errorf("relayed %v, want nothing", target.calls)
				}
				return
			}
			if len(target.calls) != 1 {
				t.Fatalf("relay calls = %d, want 1", len(target.calls))
			}
			want := relayCall{author: "u1", text: tt.wantText, messageID: "msg-1"}
			if target.calls[0] != want {
				t.Errorf("relay call = %+v, want %+v", target.calls[0], want)
			}
		})
	}
}

func TestChatRelay_NoMeeting(t *testing.T) {
	t.Parallel()
	api := &mock.Session{}
	newTestRelay(api, nil, 0).Handle(message("relay-1", "anyone?", &discordgo.User{ID: "u1"}))
	if len(api.Reactions) != 0 {
		t.Errorf("reactions = %v, want none without a meeting", api.Reactions)
	}
}

func TestChatRelay_Disabled(t *testing.T) {
	t.Parallel()
	target := &fakeRelayer{}
	r := NewChatRelay(RelayConfig{
		API:    &mock.Session{},
		Lookup: func(string) (Relayer, bool) { return target, true },
	})
	r.Handle(message("", "hi", &discordgo.User{ID: "u1"}))
	if len(target.calls) != 0 {
		t.Errorf("relayed %v with no relay channel configured", target.calls)
	}
}

func TestChatRelay_RefusedMessageGetsReaction(t *testing.T) {
	t.Parallel()
	api := &mock.Session{}
	target := &fakeRelayer{err: errors.New("playback: queue full")}
	newTestRelay(api, target, 0).Handle(message("relay-1", "hello", &discordgo.User{ID: "u1"}))

	if len(api.Reactions) != 1 {
		t.Fatalf("reactions = %d, want 1", len(api.Reactions))
	}
	want := mock.Reaction{ChannelID: "relay-1", MessageID: "msg-1", Emoji: relayFailedEmoji}
	if api.Reactions[0] != want {
		t.Errorf("reaction = %+v, want %+v", api.Reactions[0], want)
	}
}

func TestChatRelay_Truncates(t *testing.T) {
	t.Parallel()
	target := &fakeRelayer{}
	long := strings.Repeat("ä", 30)
	newTestRelay(&mock.Session{}, target, 10).Handle(message("relay-1", long, &discordgo.User{ID: "u1"}))

	if len(target.calls) != 1 {
		t.Fatalf("relay calls = %d, want 1", len(target.calls))
	}
	if got := target.calls[0].text; got != strings.Repeat("ä", 10) {
		t.Errorf("text = %q, want 10 runes", got)
	}
}

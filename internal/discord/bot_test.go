package discord

import (
	"context"
	"errors"
	"testing"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/huddle/internal/discord/mock"
)

func memberInteraction(userID string, roles ...string) *discordgo.InteractionCreate {
	return &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{
			Member: &discordgo.Member{User: &discordgo.User{ID: userID}, Roles: roles},
		},
	}
}

func commandInteraction(name, sub string) *discordgo.InteractionCreate {
	data := discordgo.ApplicationCommandInteractionData{Name: name}
	if sub != "" {
		data.Options = []*discordgo.ApplicationCommandInteractionDataOption{
			{Name: sub, Type: discordgo.ApplicationCommandOptionSubCommand},
		}
	}
	return &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{Type: discordgo.InteractionApplicationCommand, Data: data},
	}
}

func TestModerators_IsModerator(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		roleID string
		inter  *discordgo.InteractionCreate
		want   bool
	}{
		{
			name:   "user with moderator role",
			roleID: "role-123",
			inter:  memberInteraction("u1", "role-456", "role-123", "role-789"),
			want:   true,
		},
		{
			name:   "user without moderator role",
			roleID: "role-123",
			inter:  memberInteraction("u1", "role-456", "role-789"),
			want:   false,
		},
		{
			name:   "empty role ID makes nobody a moderator",
			roleID: "",
			inter:  memberInteraction("u1", "role-456"),
			want:   false,
		},
		{
			name:   "nil Member returns false",
			roleID: "role-123",
			inter:  &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{}},
			want:   false,
		},
		{
			name:   "user with empty roles",
			roleID: "role-123",
			inter:  memberInteraction("u1"),
			want:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m := NewModerators(&mock.Session{}, "guild-1", tt.roleID)
			if got := m.IsModerator(tt.inter); got != tt.want {
				t.Errorf("IsModerator() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestModerators_CanEndMeeting(t *testing.T) {
	t.Parallel()

	api := &mock.Session{Members: map[string]*discordgo.Member{
		"mod":  {Roles: []string{"role-mod"}},
		"user": {Roles: []string{"role-other"}},
	}}

	tests := []struct {
		name    string
		roleID  string
		speaker string
		want    bool
	}{
		{name: "moderator", roleID: "role-mod", speaker: "mod", want: true},
		{name: "regular member", roleID: "role-mod", speaker: "user", want: false},
		{name: "unknown member", roleID: "role-mod", speaker: "ghost", want: false},
		{name: "no moderator role configured", roleID: "", speaker: "mod", want: false},
		{name: "empty speaker", roleID: "role-mod", speaker: "", want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m := NewModerators(api, "guild-1", tt.roleID)
			if got := m.CanEndMeeting(context.Background(), tt.speaker); got != tt.want {
				t.Errorf("CanEndMeeting(%q) = %v, want %v", tt.speaker, got, tt.want)
			}
		})
	}
}

func TestModerators_LookupErrorDenies(t *testing.T) {
	t.Parallel()
	api := &mock.Session{
		Members: map[string]*discordgo.Member{"mod": {Roles: []string{"role-mod"}}},
		Err:     errors.New("rate limited"),
	}
	if NewModerators(api, "guild-1", "role-mod").CanEndMeeting(context.Background(), "mod") {
		t.Error("CanEndMeeting = true on lookup error, want false")
	}
}

func TestModerators_NilIsSafe(t *testing.T) {
	t.Parallel()
	var m *Moderators
	if m.IsModerator(memberInteraction("u1", "x")) || m.CanEndMeeting(context.Background(), "u1") {
		t.Error("nil Moderators authorized a user")
	}
}

func TestCommandRouter_ApplicationCommands(t *testing.T) {
	t.Parallel()

	r := NewCommandRouter()
	r.RegisterCommand("zeta", &discordgo.ApplicationCommand{Name: "zeta"}, func(API, *discordgo.InteractionCreate) {})
	r.RegisterCommand("meeting", &discordgo.ApplicationCommand{Name: "meeting"}, func(API, *discordgo.InteractionCreate) {})

	cmds := r.ApplicationCommands()
	if len(cmds) != 2 {
		t.Fatalf("len(ApplicationCommands()) = %d, want 2", len(cmds))
	}
	if cmds[0].Name != "meeting" || cmds[1].Name != "zeta" {
		t.Errorf("ApplicationCommands() = [%s %s], want [meeting zeta]", cmds[0].Name, cmds[1].Name)
	}
}

func TestCommandRouter_ApplicationCommands_Dedup(t *testing.T) {
	t.Parallel()

	r := NewCommandRouter()
	cmd := &discordgo.ApplicationCommand{Name: "meeting"}
	r.RegisterCommand("meeting/start", cmd, func(API, *discordgo.InteractionCreate) {})
	r.RegisterCommand("meeting/end", cmd, func(API, *discordgo.InteractionCreate) {})
	r.RegisterHandler("meeting/status", func(API, *discordgo.InteractionCreate) {})

	if cmds := r.ApplicationCommands(); len(cmds) != 1 {
		t.Fatalf("len(ApplicationCommands()) = %d, want 1", len(cmds))
	}
}

func TestCommandRouter_Handle(t *testing.T) {
	t.Parallel()

	r := NewCommandRouter()
	var got []string
	r.RegisterCommand("meeting", &discordgo.ApplicationCommand{Name: "meeting"}, func(API, *discordgo.InteractionCreate) {
		got = append(got, "meeting")
	})
	r.RegisterHandler("meeting/start", func(API, *discordgo.InteractionCreate) {
		got = append(got, "meeting/start")
	})

	api := &mock.Session{}
	r.Handle(api, commandInteraction("meeting", "start"))
	r.Handle(api, commandInteraction("meeting", ""))

	if len(got) != 2 || got[0] != "meeting/start" || got[1] != "meeting" {
		t.Errorf("dispatched = %v, want [meeting/start meeting]", got)
	}
	if len(api.Responses) != 0 {
		t.Errorf("responses = %d, want 0", len(api.Responses))
	}
}

func TestCommandRouter_RecoversPanickingHandler(t *testing.T) {
	t.Parallel()

	r := NewCommandRouter()
	r.RegisterHandler("meeting/end", func(API, *discordgo.InteractionCreate) { panic("nil meeting") })
	ran := false
	r.RegisterHandler("meeting/status", func(API, *discordgo.InteractionCreate) { ran = true })

	api := &mock.Session{}
	r.Handle(api, commandInteraction("meeting", "end"))
	r.Handle(api, commandInteraction("meeting", "status"))
	if !ran {
		t.Error("router stopped dispatching after a handler panic")
	}
}

func TestCommandRouter_HandleUnknown(t *testing.T) {
	t.Parallel()

	r := NewCommandRouter()
	api := &mock.Session{}
	r.Handle(api, commandInteraction("nope", ""))

	resp := api.LastResponse()
	if resp == nil {
		t.Fatal("no response for unknown command")
	}
	if resp.Data.Content != "Unknown command." || resp.Data.Flags != discordgo.MessageFlagsEphemeral {
		t.Errorf("response = %q (flags %d), want ephemeral %q", resp.Data.Content, resp.Data.Flags, "Unknown command.")
	}
}

func TestCommandRouter_IgnoresOtherInteractionTypes(t *testing.T) {
	t.Parallel()

	r := NewCommandRouter()
	api := &mock.Session{}
	r.Handle(api, &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{Type: discordgo.InteractionMessageComponent}})
	if len(api.Responses) != 0 {
		t.Errorf("responses = %d, want 0", len(api.Responses))
	}
}

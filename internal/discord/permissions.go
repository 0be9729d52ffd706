package discord

import (
	"context"
	"log/slog"
	"slices"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/huddle/internal/gate"
)

// Moderators checks whether a Discord member carries the moderator role.
// It serves both slash commands, where the member comes with the
// interaction, and the voice gate, where only the speaker ID is known.
type Moderators struct {
	api     API
	guildID string
	roleID  string
}

var _ gate.Authorizer = (*Moderators)(nil)

// NewModerators creates a Moderators for roleID in guildID. An empty
// roleID makes nobody a moderator.
func NewModerators(api API, guildID, roleID string) *Moderators {
	return &Moderators{api: api, guildID: guildID, roleID: roleID}
}

// IsModerator checks whether the interaction author has the moderator role.
// Returns false if the interaction has no Member (e.g., DM channel interactions).
func (m *Moderators) IsModerator(i *discordgo.InteractionCreate) bool {
	if m == nil || m.roleID == "" || i.Member == nil {
		return false
	}
	return slices.Contains(i.Member.Roles, m.roleID)
}

// CanEndMeeting looks the speaker up in the guild and reports whether they
// carry the moderator role. Lookup failures deny.
func (m *Moderators) CanEndMeeting(_ context.Context, speakerID string) bool {
	if m == nil || m.roleID == "" || speakerID == "" {
		return false
	}
	member, err := m.api.GuildMember(m.guildID, speakerID)
	if err != nil {
		slog.Warn("discord: moderator lookup failed", "user_id", speakerID, "err", err)
		return false
	}
	return slices.Contains(member.Roles, m.roleID)
}

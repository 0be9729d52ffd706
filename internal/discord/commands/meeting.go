// Package commands implements Discord slash command handlers for Huddle.
package commands

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/huddle/internal/discord"
	"github.com/MrWong99/huddle/internal/gate"
	"github.com/MrWong99/huddle/internal/meeting"
)

const (
	// defaultStartTimeout bounds joining the voice channel.
	defaultStartTimeout = 30 * time.Second

	// defaultEndTimeout bounds teardown, which builds and archives the
	// recording.
	defaultEndTimeout = 2 * time.Minute
)

// Meetings is the part of [meeting.Manager] the commands drive.
type Meetings interface {
	Start(ctx context.Context, req meeting.StartRequest) (*meeting.Meeting, error)
	End(ctx context.Context, id, reason string) (*meeting.Summary, error)
	ByGuild(guildID string) (*meeting.Meeting, bool)
}

var _ Meetings = (*meeting.Manager)(nil)

// Config holds the dependencies for /meeting slash commands.
type Config struct {
	// API posts status embeds and summaries.
	API      discord.API
	Meetings Meetings

	// Moderators may end any meeting. Nil means only owners can.
	Moderators *discord.Moderators

	// VoiceChannel resolves the voice channel a member is connected to.
	VoiceChannel func(guildID, userID string) (string, bool)

	// GuildID is used for interactions that arrive without a guild.
	GuildID string

	// SummaryChannelID receives the live status embed and the summary.
	// Empty uses the channel /meeting start was run from.
	SummaryChannelID string

	StatusInterval time.Duration
	StartTimeout   time.Duration
	EndTimeout     time.Duration
	Logger         *slog.Logger
}

// statusPost is the live status embed of one meeting.
type statusPost struct {
	channelID string
	dashboard *discord.Dashboard
}

// MeetingCommands holds the dependencies for /meeting slash commands and
// posts meeting summaries when meetings end.
type MeetingCommands struct {
	cfg    Config
	log    *slog.Logger
	status func(*meeting.Meeting) discord.MeetingStatus

	mu    sync.Mutex
	posts map[string]*statusPost // meeting ID → status embed
}

// NewMeetingCommands creates a MeetingCommands.
func NewMeetingCommands(cfg Config) *MeetingCommands {
	cfg.StartTimeout = cmp.Or(cfg.StartTimeout, defaultStartTimeout)
	cfg.EndTimeout = cmp.Or(cfg.EndTimeout, defaultEndTimeout)
	log := cmp.Or(cfg.Logger, slog.Default())
	return &MeetingCommands{
		cfg:    cfg,
		log:    log.With("component", "meeting_commands"),
		status: statusOf,
		posts:  make(map[string]*statusPost),
	}
}

// Register registers the /meeting command group with the router.
func (mc *MeetingCommands) Register(router *discord.CommandRouter) {
	router.RegisterCommand("meeting", mc.Definition(), func(api discord.API, i *discordgo.InteractionCreate) {
		discord.RespondEphemeral(api, i, "Please use a subcommand: `/meeting start`, `/meeting end` or `/meeting status`.")
	})
	router.RegisterHandler("meeting/start", mc.handleStart)
	router.RegisterHandler("meeting/end", mc.handleEnd)
	router.RegisterHandler("meeting/status", mc.handleStatus)
}

// Definition returns the ApplicationCommand definition for Discord.
func (mc *MeetingCommands) Definition() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:        "meeting",
		Description: "Record and transcribe a voice meeting",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "start",
				Description: "Start a meeting in your current voice channel",
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "end",
				Description: "End the running meeting and post its transcript",
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "status",
				Description: "Show the state of the running meeting",
			},
		},
	}
}

// handleStart handles /meeting start. Anyone connected to a voice channel
// may start a meeting and becomes its owner.
func (mc *MeetingCommands) handleStart(api discord.API, i *discordgo.InteractionCreate) {
	guildID := cmp.Or(i.GuildID, mc.cfg.GuildID)
	userID := interactionUserID(i)
	if userID == "" {
		discord.RespondEphemeral(api, i, "Could not tell who ran the command.")
		return
	}

	if m, ok := mc.cfg.Meetings.ByGuild(guildID); ok {
		discord.RespondEphemeral(api, i, fmt.Sprintf("A meeting is already running in <#%s> (ID: `%s`).", m.ChannelID, m.ID))
		return
	}

	channelID, ok := mc.cfg.VoiceChannel(guildID, userID)
	if !ok {
		discord.RespondEphemeral(api, i, "You must be in a voice channel to start a meeting.")
		return
	}

	// Joining the voice channel may take a moment.
	discord.DeferReply(api, i)

	ctx, cancel := context.WithTimeout(context.Background(), mc.cfg.StartTimeout)
	defer cancel()

	req := meeting.StartRequest{GuildID: guildID, ChannelID: channelID, OwnerID: userID}
	if mc.cfg.Moderators != nil {
		req.Moderators = mc.cfg.Moderators
	}
	m, err := mc.cfg.Meetings.Start(ctx, req)
	switch {
	case errors.Is(err, meeting.ErrAlreadyActive):
		discord.FollowUp(api, i, "A meeting is already running in this server.")
		return
	case err != nil:
		mc.log.Warn("start meeting", "guild_id", guildID, "channel_id", channelID, "err", err)
		discord.FollowUp(api, i, fmt.Sprintf("Failed to start the meeting: %v", err))
		return
	}

	mc.track(m, cmp.Or(mc.cfg.SummaryChannelID, i.ChannelID))
	discord.FollowUp(api, i, fmt.Sprintf(
		"Meeting started!\n**Meeting ID:** `%s`\n**Channel:** <#%s>\nUse `/meeting end` or ask me out loud to end it.",
		m.ID, m.ChannelID,
	))
}

// handleEnd handles /meeting end. Only the owner or a moderator may end
// the meeting.
func (mc *MeetingCommands) handleEnd(api discord.API, i *discordgo.InteractionCreate) {
	guildID := cmp.Or(i.GuildID, mc.cfg.GuildID)
	m, ok := mc.cfg.Meetings.ByGuild(guildID)
	if !ok {
		discord.RespondEphemeral(api, i, "No meeting is running.")
		return
	}

	userID := interactionUserID(i)
	if userID == "" || (userID != m.OwnerID && !mc.cfg.Moderators.IsModerator(i)) {
		discord.RespondEphemeral(api, i, "Only the meeting owner or a moderator can end the meeting.")
		return
	}

	summaryChannel := mc.summaryChannel(m.ID)
	discord.DeferReply(api, i)

	ctx, cancel := context.WithTimeout(context.Background(), mc.cfg.EndTimeout)
	defer cancel()

	sum, err := mc.cfg.Meetings.End(ctx, m.ID, "ended by /meeting end from "+userID)
	if errors.Is(err, meeting.ErrNotFound) {
		discord.FollowUp(api, i, "The meeting has already ended.")
		return
	}
	if sum == nil {
		discord.FollowUp(api, i, fmt.Sprintf("Failed to end the meeting: %v", err))
		return
	}

	msg := fmt.Sprintf("Meeting `%s` ended.\n**Duration:** %s", sum.MeetingID, sum.Duration().Truncate(time.Second))
	if summaryChannel != "" {
		msg += fmt.Sprintf("\nThe summary is posted in <#%s>.", summaryChannel)
	}
	if err != nil {
		msg += fmt.Sprintf("\nSome steps failed: %v", err)
	}
	discord.FollowUp(api, i, msg)
}

// handleStatus handles /meeting status.
func (mc *MeetingCommands) handleStatus(api discord.API, i *discordgo.InteractionCreate) {
	m, ok := mc.cfg.Meetings.ByGuild(cmp.Or(i.GuildID, mc.cfg.GuildID))
	if !ok {
		discord.RespondEphemeral(api, i, "No meeting is running.")
		return
	}
	discord.RespondEmbed(api, i, discord.StatusEmbed(mc.status(m), time.Now()))
}

// Ended posts the summary of an ended meeting. It is installed as the
// meeting manager's end hook, so it also runs for meetings ended by voice
// or by shutdown.
func (mc *MeetingCommands) Ended(sum *meeting.Summary) {
	mc.mu.Lock()
	p := mc.posts[sum.MeetingID]
	delete(mc.posts, sum.MeetingID)
	mc.mu.Unlock()

	var err error
	switch {
	case p != nil:
		p.dashboard.Stop(sum)
		err = discord.PostTranscript(mc.cfg.API, p.channelID, sum)
	case mc.cfg.SummaryChannelID != "":
		err = discord.PostSummary(mc.cfg.API, mc.cfg.SummaryChannelID, sum)
	}
	if err != nil {
		mc.log.Warn("post meeting summary", "meeting_id", sum.MeetingID, "err", err)
	}
}

// track starts the live status embed of m in channelID.
func (mc *MeetingCommands) track(m *meeting.Meeting, channelID string) {
	if channelID == "" {
		return
	}
	d := discord.NewDashboard(discord.DashboardConfig{
		API:       mc.cfg.API,
		ChannelID: channelID,
		Interval:  mc.cfg.StatusInterval,
		Status:    func() discord.MeetingStatus { return mc.status(m) },
	})

	mc.mu.Lock()
	mc.posts[m.ID] = &statusPost{channelID: channelID, dashboard: d}
	mc.mu.Unlock()
	d.Start(context.Background())
}

func (mc *MeetingCommands) summaryChannel(meetingID string) string {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	if p, ok := mc.posts[meetingID]; ok {
		return p.channelID
	}
	return mc.cfg.SummaryChannelID
}

// statusOf snapshots a running meeting.
func statusOf(m *meeting.Meeting) discord.MeetingStatus {
	return discord.MeetingStatus{
		MeetingID:            m.ID,
		VoiceChannelID:       m.ChannelID,
		OwnerID:              m.OwnerID,
		StartedAt:            m.StartedAt,
		Speakers:             len(m.Speakers()),
		Records:              m.Log().Len(),
		Queued:               m.QueueSize(),
		AwaitingConfirmation: m.Gate().State() == gate.StateAwaitingConfirmation,
	}
}

// interactionUserID extracts the user ID from an interaction, handling
// both guild (Member) and DM (User) contexts.
func interactionUserID(i *discordgo.InteractionCreate) string {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User.ID
	}
	if i.User != nil {
		return i.User.ID
	}
	return ""
}

package discord

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/huddle/internal/meeting"
)

// MeetingStatus is a point-in-time view of a running meeting.
type MeetingStatus struct {
	MeetingID      string
	VoiceChannelID string
	OwnerID        string
	StartedAt      time.Time
	Speakers       int
	Records        int
	Queued         int

	// AwaitingConfirmation is set while an end request waits for a yes/no.
	AwaitingConfirmation bool
}

// embedColorGreen is the embed sidebar color for a running meeting.
const embedColorGreen = 0x2ECC71

// embedColorRed is the embed sidebar color when a meeting has ended.
const embedColorRed = 0xE74C3C

// defaultInterval is the default dashboard update interval.
const defaultInterval = 15 * time.Second

// Dashboard renders and periodically updates a Discord embed showing the
// state of one meeting. The embed is created on Start and edited in place
// every update interval; Stop replaces it with the meeting summary.
//
// Thread-safe for concurrent use.
type Dashboard struct {
	mu        sync.Mutex
	api       API
	channelID string
	messageID string // embed message; created on first update
	stopped   bool
	interval  time.Duration
	status    func() MeetingStatus
	done      chan struct{}
	stopOnce  sync.Once
}

// DashboardConfig holds dependencies for creating a Dashboard.
type DashboardConfig struct {
	API       API
	ChannelID string
	Interval  time.Duration // Default: 15 seconds
	Status    func() MeetingStatus
}

// NewDashboard creates a Dashboard.
func NewDashboard(cfg DashboardConfig) *Dashboard {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Dashboard{
		api:       cfg.API,
		channelID: cfg.ChannelID,
		interval:  interval,
		status:    cfg.Status,
		done:      make(chan struct{}),
	}
}

// Start begins the periodic update loop in a background goroutine.
func (d *Dashboard) Start(ctx context.Context) {
	go d.loop(ctx)
}

// Stop halts the update loop and turns the embed into the ended summary.
func (d *Dashboard) Stop(sum *meeting.Summary) {
	d.stopOnce.Do(func() {
		close(d.done)

		d.mu.Lock()
		defer d.mu.Unlock()
		d.stopped = true
		if d.messageID == "" || sum == nil {
			return
		}
		if _, err := d.api.ChannelMessageEditEmbed(d.channelID, d.messageID, SummaryEmbed(sum)); err != nil {
			slog.Warn("dashboard: failed to post final embed", "message_id", d.messageID, "err", err)
		}
	})
}

// loop runs the periodic embed update until Stop is called or ctx is cancelled.
func (d *Dashboard) loop(ctx context.Context) {
	d.update()

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-d.done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.update()
		}
	}
}

// update builds the embed from current status and creates or edits the message.
func (d *Dashboard) update() {
	embed := StatusEmbed(d.status(), time.Now())

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}

	if d.messageID == "" {
		msg, err := d.api.ChannelMessageSendEmbed(d.channelID, embed)
		if err != nil {
			slog.Warn("dashboard: failed to create embed message", "channel", d.channelID, "err", err)
			return
		}
		d.messageID = msg.ID
		slog.Debug("dashboard: created embed message", "message_id", msg.ID, "channel", d.channelID)
		return
	}
	if _, err := d.api.ChannelMessageEditEmbed(d.channelID, d.messageID, embed); err != nil {
		slog.Warn("dashboard: failed to edit embed message", "message_id", d.messageID, "err", err)
	}
}

// StatusEmbed creates the live embed of a running meeting as of now.
func StatusEmbed(st MeetingStatus, now time.Time) *discordgo.MessageEmbed {
	gateState := "listening"
	if st.AwaitingConfirmation {
		gateState = "awaiting confirmation"
	}
	return &discordgo.MessageEmbed{
		Title: "Meeting in progress",
		Color: embedColorGreen,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Meeting ID", Value: fmt.Sprintf("`%s`", st.MeetingID), Inline: true},
			{Name: "Channel", Value: fmt.Sprintf("<#%s>", st.VoiceChannelID), Inline: true},
			{Name: "Owner", Value: fmt.Sprintf("<@%s>", st.OwnerID), Inline: true},
			{Name: "Duration", Value: formatDuration(now.Sub(st.StartedAt)), Inline: true},
			{Name: "Speakers", Value: fmt.Sprintf("%d", st.Speakers), Inline: true},
			{Name: "Transcript lines", Value: fmt.Sprintf("%d", st.Records), Inline: true},
			{Name: "Queued speech", Value: fmt.Sprintf("%d", st.Queued), Inline: true},
			{Name: "Gate", Value: gateState, Inline: true},
		},
		Footer:    &discordgo.MessageEmbedFooter{Text: "Live meeting"},
		Timestamp: now.UTC().Format(time.RFC3339),
	}
}

// SummaryEmbed creates the embed describing an ended meeting.
func SummaryEmbed(sum *meeting.Summary) *discordgo.MessageEmbed {
	unavailable := 0
	for _, r := range sum.Records {
		if r.Unavailable {
			unavailable++
		}
	}
	lines := fmt.Sprintf("%d", len(sum.Records))
	if unavailable > 0 {
		lines = fmt.Sprintf("%d (%d unavailable)", len(sum.Records), unavailable)
	}

	fields := []*discordgo.MessageEmbedField{
		{Name: "Meeting ID", Value: fmt.Sprintf("`%s`", sum.MeetingID), Inline: true},
		{Name: "Duration", Value: formatDuration(sum.Duration()), Inline: true},
		{Name: "Transcript lines", Value: lines, Inline: true},
	}
	if sum.RecordingMs > 0 {
		fields = append(fields, &discordgo.MessageEmbedField{
			Name: "Recording", Value: formatDuration(time.Duration(sum.RecordingMs) * time.Millisecond), Inline: true,
		})
	}
	if sum.DroppedChunks > 0 {
		fields = append(fields, &discordgo.MessageEmbedField{
			Name: "Dropped audio", Value: fmt.Sprintf("%d chunks", sum.DroppedChunks), Inline: true,
		})
	}
	if archived := archiveLines(sum); archived != "" {
		fields = append(fields, &discordgo.MessageEmbedField{Name: "Archive", Value: archived})
	}

	return &discordgo.MessageEmbed{
		Title:       "Meeting ended",
		Description: sum.Reason,
		Color:       embedColorRed,
		Fields:      fields,
		Footer:      &discordgo.MessageEmbedFooter{Text: "Meeting ended"},
		Timestamp:   sum.EndedAt.UTC().Format(time.RFC3339),
	}
}

func archiveLines(sum *meeting.Summary) string {
	var lines []string
	if sum.TranscriptURI != "" {
		lines = append(lines, "Transcript: `"+sum.TranscriptURI+"`")
	}
	if sum.RecordingURI != "" {
		lines = append(lines, "Recording: `"+sum.RecordingURI+"`")
	}
	return strings.Join(lines, "\n")
}

// PostSummary sends the summary embed to channelID with the rendered
// transcript attached as a text file.
func PostSummary(api API, channelID string, sum *meeting.Summary) error {
	msg := &discordgo.MessageSend{
		Embeds: []*discordgo.MessageEmbed{SummaryEmbed(sum)},
		Files:  transcriptFiles(sum),
	}
	if _, err := api.ChannelMessageSendComplex(channelID, msg); err != nil {
		return fmt.Errorf("discord: post summary: %w", err)
	}
	return nil
}

// PostTranscript sends only the rendered transcript file. Meetings without
// records post nothing.
func PostTranscript(api API, channelID string, sum *meeting.Summary) error {
	files := transcriptFiles(sum)
	if len(files) == 0 {
		return nil
	}
	msg := &discordgo.MessageSend{
		Content: fmt.Sprintf("Transcript of meeting `%s`", sum.MeetingID),
		Files:   files,
	}
	if _, err := api.ChannelMessageSendComplex(channelID, msg); err != nil {
		return fmt.Errorf("discord: post transcript: %w", err)
	}
	return nil
}

func transcriptFiles(sum *meeting.Summary) []*discordgo.File {
	text := sum.Transcript()
	if text == "" {
		return nil
	}
	return []*discordgo.File{{
		Name:        "transcript-" + sum.MeetingID + ".txt",
		ContentType: "text/plain; charset=utf-8",
		Reader:      strings.NewReader(text),
	}}
}

// formatDuration formats a duration as "Xh Ym Zs".
func formatDuration(d time.Duration) string {
	d = max(d, 0).Truncate(time.Second)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60

	if h > 0 {
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}

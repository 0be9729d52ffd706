package discord

import (
	"log/slog"

	"github.com/bwmarrin/discordgo"
)

// Every reply of the bot is visible only to the member who ran the command;
// meeting output goes to channels instead.

func respond(api API, i *discordgo.InteractionCreate, typ discordgo.InteractionResponseType, data discordgo.InteractionResponseData, kind string) {
	data.Flags |= discordgo.MessageFlagsEphemeral
	err := api.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{Type: typ, Data: &data})
	if err != nil {
		slog.Warn("discord: interaction response failed", "kind", kind, "command", commandName(i), "err", err)
	}
}

// RespondEphemeral answers an interaction with text.
func RespondEphemeral(api API, i *discordgo.InteractionCreate, content string) {
	respond(api, i, discordgo.InteractionResponseChannelMessageWithSource,
		discordgo.InteractionResponseData{Content: content}, "text")
}

// RespondEmbed answers an interaction with a single embed.
func RespondEmbed(api API, i *discordgo.InteractionCreate, embed *discordgo.MessageEmbed) {
	respond(api, i, discordgo.InteractionResponseChannelMessageWithSource,
		discordgo.InteractionResponseData{Embeds: []*discordgo.MessageEmbed{embed}}, "embed")
}

// DeferReply acknowledges an interaction whose answer follows through
// [FollowUp]. Discord drops interactions not acknowledged within three
// seconds, so slow commands defer before doing work.
func DeferReply(api API, i *discordgo.InteractionCreate) {
	respond(api, i, discordgo.InteractionResponseDeferredChannelMessageWithSource,
		discordgo.InteractionResponseData{}, "defer")
}

// FollowUp sends the answer to a deferred interaction.
func FollowUp(api API, i *discordgo.InteractionCreate, content string) {
	_, err := api.FollowupMessageCreate(i.Interaction, true, &discordgo.WebhookParams{
		Content: content,
		Flags:   discordgo.MessageFlagsEphemeral,
	})
	if err != nil {
		slog.Warn("discord: interaction response failed", "kind", "follow-up", "command", commandName(i), "err", err)
	}
}

// commandName returns the slash command name of i, or "" for other
// interaction types.
func commandName(i *discordgo.InteractionCreate) string {
	if i.Interaction == nil {
		return ""
	}
	d, _ := i.Data.(discordgo.ApplicationCommandInteractionData)
	return d.Name
}

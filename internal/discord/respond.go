package discord

import (
	"log/slog"

	"github.com/bwmarrin/discordgo"
)

// Responder is the part of [discordgo.Session] used to answer interactions.
// Handlers receive it instead of the session so they can be tested without a
// gateway connection.
type Responder interface {
	InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error
	FollowupMessageCreate(interaction *discordgo.Interaction, wait bool, data *discordgo.WebhookParams, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

var _ Responder = (*discordgo.Session)(nil)

// Respond sends a public text response to an interaction.
func Respond(r Responder, i *discordgo.InteractionCreate, content string) {
	respond(r, i, content, 0)
}

// RespondEphemeral sends a text response only the caller can see.
func RespondEphemeral(r Responder, i *discordgo.InteractionCreate, content string) {
	respond(r, i, content, discordgo.MessageFlagsEphemeral)
}

func respond(r Responder, i *discordgo.InteractionCreate, content string, flags discordgo.MessageFlags) {
	err := r.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   flags,
		},
	})
	if err != nil {
		slog.Warn("discord: failed to send response", "err", err)
	}
}

// DeferReply acknowledges a long-running command. The answer must then be
// sent with [FollowUp].
func DeferReply(r Responder, i *discordgo.InteractionCreate) {
	err := r.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
	})
	if err != nil {
		slog.Warn("discord: failed to defer reply", "err", err)
	}
}

// FollowUp sends a public follow-up message after a deferred response.
func FollowUp(r Responder, i *discordgo.InteractionCreate, content string) {
	followUp(r, i, content, 0)
}

// FollowUpEphemeral sends a follow-up only the caller can see. Errors are
// reported this way.
func FollowUpEphemeral(r Responder, i *discordgo.InteractionCreate, content string) {
	followUp(r, i, content, discordgo.MessageFlagsEphemeral)
}

// FollowUpChunks sends each chunk as its own public follow-up, in order.
func FollowUpChunks(r Responder, i *discordgo.InteractionCreate, chunks []string) {
	for _, c := range chunks {
		followUp(r, i, c, 0)
	}
}

func followUp(r Responder, i *discordgo.InteractionCreate, content string, flags discordgo.MessageFlags) {
	_, err := r.FollowupMessageCreate(i.Interaction, true, &discordgo.WebhookParams{
		Content: content,
		Flags:   flags,
	})
	if err != nil {
		slog.Warn("discord: failed to send follow-up", "err", err)
	}
}

// Package mock holds Discord test doubles: a recording interaction
// responder, a voice state table and interaction builders.
package mock

import (
	"sync"

	"github.com/bwmarrin/discordgo"
)

// InteractionResponder implements discord.Responder and keeps everything it
// was asked to send. It is safe for concurrent use.
type InteractionResponder struct {
	// Err, when set, fails every call after recording it.
	Err error

	mu sync.Mutex
	// Responses and FollowUps hold the calls per kind, Messages the text of
	// both in the order it was sent.
	Responses []*discordgo.InteractionResponse
	FollowUps []*discordgo.WebhookParams
	texts     []string
}

// InteractionRespond implements discord.Responder.
func (m *InteractionResponder) InteractionRespond(_ *discordgo.Interaction, resp *discordgo.InteractionResponse, _ ...discordgo.RequestOption) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Responses = append(m.Responses, resp)
	if resp.Data != nil && resp.Data.Content != "" {
		m.texts = append(m.texts, resp.Data.Content)
	}
	return m.Err
}

// FollowupMessageCreate implements discord.Responder.
func (m *InteractionResponder) FollowupMessageCreate(_ *discordgo.Interaction, _ bool, params *discordgo.WebhookParams, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FollowUps = append(m.FollowUps, params)
	m.texts = append(m.texts, params.Content)
	if m.Err != nil {
		return nil, m.Err
	}
	return &discordgo.Message{ID: "followup", Content: params.Content}, nil
}

// LastResponse returns the latest initial response, or nil.
func (m *InteractionResponder) LastResponse() *discordgo.InteractionResponse {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Responses) == 0 {
		return nil
	}
	return m.Responses[len(m.Responses)-1]
}

// Messages returns every text sent so far. A deferred acknowledgement has no
// text and does not appear.
func (m *InteractionResponder) Messages() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.texts...)
}

// Deferred reports whether the interaction was acknowledged for a later
// follow-up.
func (m *InteractionResponder) Deferred() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.Responses {
		if r.Type == discordgo.InteractionResponseDeferredChannelMessageWithSource {
			return true
		}
	}
	return false
}

// VoiceStates maps "guild/user" to a voice channel ID. It implements the
// voice state lookup of the command handlers.
type VoiceStates map[string]string

// Set puts userID into channelID of guildID. An empty channelID means the
// user left voice.
func (v VoiceStates) Set(guildID, userID, channelID string) {
	v[guildID+"/"+userID] = channelID
}

// UserVoiceChannel implements the lookup.
func (v VoiceStates) UserVoiceChannel(guildID, userID string) (string, bool) {
	ch := v[guildID+"/"+userID]
	return ch, ch != ""
}

// Command builds the slash command interaction userID sends in guildID.
func Command(name, guildID, userID string, opts ...*discordgo.ApplicationCommandInteractionDataOption) *discordgo.InteractionCreate {
	return &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{
			Type:    discordgo.InteractionApplicationCommand,
			GuildID: guildID,
			Member:  &discordgo.Member{User: &discordgo.User{ID: userID}},
			Data:    discordgo.ApplicationCommandInteractionData{Name: name, Options: opts},
		},
	}
}

// StringOption builds a string argument for [Command].
func StringOption(name, value string) *discordgo.ApplicationCommandInteractionDataOption {
	return &discordgo.ApplicationCommandInteractionDataOption{
		Name:  name,
		Type:  discordgo.ApplicationCommandOptionString,
		Value: value,
	}
}

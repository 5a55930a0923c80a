package commands

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/murmur/internal/discord"
	"github.com/MrWong99/murmur/internal/voice"
)

// joinTimeout bounds the voice handshake.
const joinTimeout = 30 * time.Second

const joinHint = "Tapez `/aide` pour voir la liste de mes fonctionnalités !"

// VoiceCommands serves /join and /leave.
type VoiceCommands struct {
	voice  *voice.Manager
	states VoiceStates
}

// NewVoiceCommands creates a VoiceCommands.
func NewVoiceCommands(mgr *voice.Manager, states VoiceStates) *VoiceCommands {
	return &VoiceCommands{voice: mgr, states: states}
}

// Register registers /join and /leave with the router.
func (vc *VoiceCommands) Register(router *discord.CommandRouter) {
	router.RegisterCommand("join", &discordgo.ApplicationCommand{
		Name:        "join",
		Description: "Je te rejoins dans ton salon vocal",
	}, vc.handleJoin)
	router.RegisterCommand("leave", &discordgo.ApplicationCommand{
		Name:        "leave",
		Description: "Je quitte le salon vocal",
	}, vc.handleLeave)
}

func (vc *VoiceCommands) handleJoin(ctx context.Context, r discord.Responder, i *discordgo.InteractionCreate) {
	channelID, ok := vc.states.UserVoiceChannel(i.GuildID, discord.InteractionUserID(i))
	if !ok {
		discord.RespondEphemeral(r, i, "Tu dois être dans un salon vocal.")
		return
	}

	// Connecting may take a few seconds.
	discord.DeferReply(r, i)

	ctx, cancel := context.WithTimeout(ctx, joinTimeout)
	defer cancel()

	res, err := vc.voice.Join(ctx, i.GuildID, channelID)
	if err != nil {
		slog.Warn("discord: join failed", "guild_id", i.GuildID, "channel_id", channelID, "err", err)
		verb := "connexion"
		if res == voice.Moved {
			verb = "déplacement"
		}
		discord.FollowUpEphemeral(r, i, fmt.Sprintf("⚠️ Erreur %s: %v", verb, err))
		return
	}

	var msg string
	switch res {
	case voice.AlreadyThere:
		msg = fmt.Sprintf("Je suis déjà dans %s.", channelMention(channelID))
	case voice.Moved:
		msg = fmt.Sprintf("🔊 Déplacé vers %s.", channelMention(channelID))
	default:
		msg = fmt.Sprintf("🔊 Connecté à %s.", channelMention(channelID))
	}
	discord.FollowUp(r, i, msg)
	discord.FollowUp(r, i, joinHint)
}

func (vc *VoiceCommands) handleLeave(ctx context.Context, r discord.Responder, i *discordgo.InteractionCreate) {
	left, err := vc.voice.Leave(ctx, i.GuildID)
	if !left {
		discord.Respond(r, i, "Pas en vocal.")
		return
	}
	if err != nil {
		slog.Warn("discord: leave failed", "guild_id", i.GuildID, "err", err)
	}
	discord.Respond(r, i, "👋 Déconnecté.")
}

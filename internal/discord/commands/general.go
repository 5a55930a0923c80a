// Package commands implements the slash command handlers of murmur.
//
// Handlers are grouped by concern. Each group has a Register method that
// adds its definitions and handlers to a [discord.CommandRouter].
package commands

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/murmur/internal/discord"
)

// VoiceStates tells which voice channel a guild member is in.
// [*discord.Bot] implements it from the gateway state cache.
type VoiceStates interface {
	UserVoiceChannel(guildID, userID string) (string, bool)
}

const helpText = `Salut ! Voici la liste de mes super pouvoirs :
--- Général ---
/hello         : Juste pour un petit coucou !
/join          : Je te rejoins dans ton salon vocal.
/leave         : Je quitte le salon vocal.
/aide          : Affiche cette liste d'aide.

--- 🗣️ Vocal & IA 🧠 ---
/ecoute        : J'enregistre ta voix (durée fixe), la nettoie (VAD),
la transcris, puis tu peux interroger Mistral.
(Dis "Mistral..." ou "Ok Bot..." au début de ta phrase orale).
/mistral <...> : Pose une question directement à Mistral.
/askweb <...>  : Question à Mistral avec recherche web préalable.
/clean         : Efface ton historique de conversation avec Mistral.

--- 🎵 Musique ---
/playlocal <f> : Joue un fichier WAV du dossier audio_cache.
/next          : Passe au morceau suivant.
/stop          : Arrête la musique et vide la file d'attente.
/queue         : Affiche la file d'attente.`

// GeneralCommands serves /hello and /aide.
type GeneralCommands struct{}

// Register registers /hello and /aide with the router.
func (gc GeneralCommands) Register(router *discord.CommandRouter) {
	router.RegisterCommand("hello", &discordgo.ApplicationCommand{
		Name:        "hello",
		Description: "Juste pour un petit coucou !",
	}, gc.handleHello)
	router.RegisterCommand("aide", &discordgo.ApplicationCommand{
		Name:        "aide",
		Description: "Affiche la liste de mes fonctionnalités",
	}, gc.handleHelp)
}

func (GeneralCommands) handleHello(_ context.Context, r discord.Responder, i *discordgo.InteractionCreate) {
	discord.Respond(r, i, fmt.Sprintf("Salut %s ! 👋", mention(discord.InteractionUserID(i))))
}

func (GeneralCommands) handleHelp(_ context.Context, r discord.Responder, i *discordgo.InteractionCreate) {
	discord.Respond(r, i, helpText)
}

func mention(userID string) string {
	return "<@" + userID + ">"
}

func channelMention(channelID string) string {
	return "<#" + channelID + ">"
}

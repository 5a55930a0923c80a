package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/murmur/internal/assistant"
	"github.com/MrWong99/murmur/internal/discord"
	"github.com/MrWong99/murmur/internal/voice"
	"github.com/MrWong99/murmur/pkg/provider/llm"
	"github.com/MrWong99/murmur/pkg/provider/tts"
)

// DefaultChunkSize keeps every message under Discord's 2000 character limit.
const DefaultChunkSize = 1950

// answerTimeout bounds one question to the language model.
const answerTimeout = 3 * time.Minute

const voiceHint = "(Astuce: `/join` pour que je te donne la réponse vocalement !)"

// AssistantOption configures [AssistantCommands].
type AssistantOption func(*AssistantCommands)

// WithChunkSize sets the maximum runes per message. Default: [DefaultChunkSize].
func WithChunkSize(n int) AssistantOption {
	return func(ac *AssistantCommands) {
		if n > 0 {
			ac.chunkSize = n
		}
	}
}

// AssistantCommands serves /mistral, /askweb and /clean. Answers are posted in
// the channel and, when the bot is in voice, spoken as well.
type AssistantCommands struct {
	assistant *assistant.Assistant
	voice     *voice.Manager
	chunkSize int
}

// NewAssistantCommands creates an AssistantCommands.
func NewAssistantCommands(a *assistant.Assistant, mgr *voice.Manager, opts ...AssistantOption) *AssistantCommands {
	ac := &AssistantCommands{assistant: a, voice: mgr, chunkSize: DefaultChunkSize}
	for _, o := range opts {
		o(ac)
	}
	return ac
}

// Register registers /mistral, /askweb and /clean with the router.
func (ac *AssistantCommands) Register(router *discord.CommandRouter) {
	question := func(desc string) []*discordgo.ApplicationCommandOption {
		return []*discordgo.ApplicationCommandOption{{
			Type:        discordgo.ApplicationCommandOptionString,
			Name:        "question",
			Description: desc,
			Required:    true,
		}}
	}
	router.RegisterCommand("mistral", &discordgo.ApplicationCommand{
		Name:        "mistral",
		Description: "Pose une question directement à Mistral",
		Options:     question("Ta question"),
	}, ac.handleMistral)
	router.RegisterCommand("askweb", &discordgo.ApplicationCommand{
		Name:        "askweb",
		Description: "Question à Mistral avec recherche web préalable",
		Options:     question("Ta question pour le web et Mistral"),
	}, ac.handleAskWeb)
	router.RegisterCommand("clean", &discordgo.ApplicationCommand{
		Name:        "clean",
		Description: "Efface ton historique de conversation avec Mistral",
	}, ac.handleClean)
}

func (ac *AssistantCommands) handleMistral(ctx context.Context, r discord.Responder, i *discordgo.InteractionCreate) {
	q := discord.StringOption(i, "question")
	if q == "" {
		discord.RespondEphemeral(r, i, "Quelle est ta question pour Mistral ? Utilisation : `/mistral <ta question>`")
		return
	}
	discord.DeferReply(r, i)
	ac.ask(ctx, r, i, q)
}

func (ac *AssistantCommands) handleAskWeb(ctx context.Context, r discord.Responder, i *discordgo.InteractionCreate) {
	q := discord.StringOption(i, "question")
	if q == "" {
		discord.RespondEphemeral(r, i, "Quelle question veux-tu poser au web et à Mistral ? `/askweb <ta question>`")
		return
	}
	discord.DeferReply(r, i)
	ac.askWeb(ctx, r, i, q)
}

func (ac *AssistantCommands) handleClean(ctx context.Context, r discord.Responder, i *discordgo.InteractionCreate) {
	cleared, err := ac.assistant.Clear(ctx, discord.InteractionUserID(i))
	switch {
	case err != nil:
		slog.Warn("discord: clear history failed", "err", err)
		discord.RespondEphemeral(r, i, fmt.Sprintf("⚠️ Erreur: %v", err))
	case cleared:
		discord.Respond(r, i, "🧹 L'historique de votre conversation avec Mistral a été effacé.")
	default:
		discord.Respond(r, i, "🗑️ Aucun historique de conversation à effacer pour vous.")
	}
}

// ask answers q with the caller's history. The interaction must already be
// acknowledged.
func (ac *AssistantCommands) ask(ctx context.Context, r discord.Responder, i *discordgo.InteractionCreate, q string) {
	ctx, cancel := context.WithTimeout(ctx, answerTimeout)
	defer cancel()

	answer, err := ac.assistant.Ask(ctx, discord.InteractionUserID(i), q)
	if err != nil {
		slog.Warn("discord: mistral failed", "err", err)
		discord.FollowUpEphemeral(r, i, llmFailure("⚠️ Une erreur majeure s'est produite avec Mistral", err))
		return
	}
	if !ac.deliver(ctx, r, i, answer) {
		discord.FollowUp(r, i, voiceHint)
	}
}

// askWeb answers q from a web search. The interaction must already be
// acknowledged.
func (ac *AssistantCommands) askWeb(ctx context.Context, r discord.Responder, i *discordgo.InteractionCreate, q string) {
	ctx, cancel := context.WithTimeout(ctx, answerTimeout)
	defer cancel()

	discord.FollowUp(r, i, fmt.Sprintf("🔎 Recherche d'informations web pour répondre à : `%s`...", q))
	answer, err := ac.assistant.AskWeb(ctx, q)
	if err != nil {
		slog.Warn("discord: askweb failed", "err", err)
		discord.FollowUpEphemeral(r, i, llmFailure("⚠️ Erreur majeure avec /askweb", err))
		return
	}
	ac.deliver(ctx, r, i, answer)
}

// deliver posts answer in chunks and speaks it if the bot is in voice in the
// interaction's guild. It reports whether the answer was queued for speech.
func (ac *AssistantCommands) deliver(ctx context.Context, r discord.Responder, i *discordgo.InteractionCreate, answer string) bool {
	discord.FollowUpChunks(r, i, assistant.Chunk(answer, ac.chunkSize))
	if !ac.voice.Connected(i.GuildID) {
		return false
	}

	err := ac.voice.Speak(ctx, i.GuildID, assistant.CleanForSpeech(answer))
	switch {
	case err == nil, errors.Is(err, tts.ErrEmptyText):
		// An answer made only of links has nothing left to speak.
		return true
	case errors.Is(err, voice.ErrNotConnected):
		return false
	default:
		slog.Warn("discord: speak answer failed", "guild_id", i.GuildID, "err", err)
		discord.FollowUpEphemeral(r, i, fmt.Sprintf("⚠️ Erreur synthèse vocale: %v", err))
		return true
	}
}

// llmFailure words a failed answer for the user. Known failure kinds of the
// model server get their own message, anything else is prefixed verbatim.
func llmFailure(prefix string, err error) string {
	var status *llm.StatusError
	switch {
	case errors.Is(err, llm.ErrUnavailable):
		return "⚠️ Erreur de connexion à LM Studio. Vérifiez qu'il est bien lancé."
	case errors.As(err, &status):
		return fmt.Sprintf("⚠️ Erreur API LM Studio (Status: %d) - %s", status.Code, status.Body)
	case errors.Is(err, llm.ErrEmptyResponse):
		return "⚠️ Erreur : Réponse API LM Studio (structure incorrecte)."
	}
	return fmt.Sprintf("%s: %v", prefix, err)
}

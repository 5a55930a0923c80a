package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/murmur/internal/assistant"
	"github.com/MrWong99/murmur/internal/discord"
	"github.com/MrWong99/murmur/internal/listen"
	"github.com/MrWong99/murmur/internal/segment"
	"github.com/MrWong99/murmur/internal/voice"
)

// ListenCommands serves /ecoute: record the caller, transcribe what they said
// and, if they started with a wake phrase, hand the rest to the assistant.
type ListenCommands struct {
	pipeline *listen.Pipeline
	voice    *voice.Manager
	states   VoiceStates
	wake     atomic.Pointer[assistant.WakeDetector]
	answers  *AssistantCommands
}

// NewListenCommands creates a ListenCommands. answers handles questions
// chained from a wake phrase.
func NewListenCommands(p *listen.Pipeline, mgr *voice.Manager, states VoiceStates, wake *assistant.WakeDetector, answers *AssistantCommands) *ListenCommands {
	lc := &ListenCommands{pipeline: p, voice: mgr, states: states, answers: answers}
	lc.wake.Store(wake)
	return lc
}

// SetWakeDetector replaces the detector used for /ecoute transcriptions.
// Recordings already in flight keep the detector they started with.
func (lc *ListenCommands) SetWakeDetector(d *assistant.WakeDetector) {
	lc.wake.Store(d)
}

// Register registers /ecoute with the router.
func (lc *ListenCommands) Register(router *discord.CommandRouter) {
	router.RegisterCommand("ecoute", &discordgo.ApplicationCommand{
		Name:        "ecoute",
		Description: "J'enregistre ta voix, la nettoie (VAD) et la transcris",
	}, lc.handleEcoute)
}

func (lc *ListenCommands) handleEcoute(ctx context.Context, r discord.Responder, i *discordgo.InteractionCreate) {
	userID := discord.InteractionUserID(i)
	conn, ok := lc.voice.Connection(i.GuildID)
	if !ok {
		discord.RespondEphemeral(r, i, "Pas en vocal. `/join`.")
		return
	}
	if ch, ok := lc.states.UserVoiceChannel(i.GuildID, userID); !ok || ch != conn.ChannelID() {
		discord.RespondEphemeral(r, i, "Tu dois être avec moi.")
		return
	}

	discord.DeferReply(r, i)

	res, err := lc.pipeline.Run(ctx, conn, userID, func(ev listen.Event) {
		lc.progress(r, i, userID, ev)
	})
	switch {
	case errors.Is(err, listen.ErrNoAudio):
		discord.FollowUp(r, i, "❌ Aucun son capté.")
		return
	case errors.Is(err, listen.ErrBusy):
		discord.FollowUpEphemeral(r, i, "Je t'écoute déjà !")
		return
	case ctx.Err() != nil:
		slog.Info("discord: /ecoute interrupted by shutdown", "user_id", userID)
		return
	case err != nil:
		slog.Warn("discord: /ecoute failed", "user_id", userID, "err", err)
		discord.FollowUpEphemeral(r, i, fmt.Sprintf("⚠️ Erreur transcription: %v", err))
		return
	}

	if res.Text == "" {
		discord.FollowUp(r, i, fmt.Sprintf("Je n'ai rien compris %s, %s. 🤔", res.Label(), mention(userID)))
		return
	}
	discord.FollowUp(r, i, fmt.Sprintf("%s a dit %s: \"_%s_\"", mention(userID), res.Label(), res.Text))

	lc.chain(ctx, r, i, lc.wake.Load(), res.Text)
}

func (lc *ListenCommands) progress(r discord.Responder, i *discordgo.InteractionCreate, userID string, ev listen.Event) {
	switch ev.Step {
	case listen.StepListening:
		secs := strconv.FormatFloat(ev.Duration.Seconds(), 'f', -1, 64)
		discord.FollowUp(r, i, fmt.Sprintf("🎙️ J'écoute %s pendant %ss...", mention(userID), secs))
	case listen.StepAnalyzing:
		discord.FollowUp(r, i, "🎤 Enreg. terminé. Analyse VAD de l'audio...")
	case listen.StepTrimmed:
		discord.FollowUp(r, i, "Analyse VAD terminée. Transcription du son nettoyé.")
	case listen.StepRawFallback:
		if ev.Err == nil {
			discord.FollowUp(r, i, "Analyse VAD n'a pas extrait de segment clair, transcription de l'audio brut.")
			return
		}
		msg := "⚠️ Analyse VAD impossible: %v. Transcription de l'audio brut."
		if errors.Is(ev.Err, segment.ErrPrecondition) {
			msg = "⚠️ Enregistrement incompatible avec l'analyse VAD: %v. Transcription de l'audio brut."
		}
		discord.FollowUpEphemeral(r, i, fmt.Sprintf(msg, ev.Err))
	}
}

// chain forwards a transcription that starts with a wake phrase to the
// assistant, through a web search if the question asks for one.
func (lc *ListenCommands) chain(ctx context.Context, r discord.Responder, i *discordgo.InteractionCreate, wake *assistant.WakeDetector, text string) {
	if wake == nil || lc.answers == nil {
		return
	}
	q, woke := wake.Detect(text)
	if !woke {
		return
	}
	if q == "" {
		discord.FollowUp(r, i, "Mot d'activation entendu, mais pas de question.")
		return
	}
	if assistant.IsWebQuery(q) {
		discord.FollowUp(r, i, fmt.Sprintf("💡 `/ecoute` -> AskWeb: `%s`", q))
		lc.answers.askWeb(ctx, r, i, q)
		return
	}
	discord.FollowUp(r, i, fmt.Sprintf("💡 `/ecoute` -> Mistral: `%s`", q))
	lc.answers.ask(ctx, r, i, q)
}

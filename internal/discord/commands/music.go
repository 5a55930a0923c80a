package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/murmur/internal/discord"
	"github.com/MrWong99/murmur/internal/voice"
	"github.com/MrWong99/murmur/pkg/audio/mixer"
)

// spokenAnswer labels untitled clips in /queue.
const spokenAnswer = "réponse vocale"

// MusicCommands serves /playlocal, /next, /stop and /queue. Tracks are WAVE
// files from dir and share the voice queue with spoken answers.
type MusicCommands struct {
	voice *voice.Manager
	dir   string
}

// NewMusicCommands creates a MusicCommands playing files from dir.
func NewMusicCommands(mgr *voice.Manager, dir string) *MusicCommands {
	return &MusicCommands{voice: mgr, dir: dir}
}

// Register registers the music commands with the router.
func (mc *MusicCommands) Register(router *discord.CommandRouter) {
	router.RegisterCommand("playlocal", &discordgo.ApplicationCommand{
		Name:        "playlocal",
		Description: "Joue un fichier WAV du dossier audio",
		Options: []*discordgo.ApplicationCommandOption{{
			Type:        discordgo.ApplicationCommandOptionString,
			Name:        "fichier",
			Description: "Nom du fichier, par exemple musique.wav",
			Required:    true,
		}},
	}, mc.handlePlayLocal)
	router.RegisterCommand("next", &discordgo.ApplicationCommand{
		Name:        "next",
		Description: "Passe au morceau suivant",
	}, mc.handleNext)
	router.RegisterCommand("stop", &discordgo.ApplicationCommand{
		Name:        "stop",
		Description: "Arrête la lecture et vide la file d'attente",
	}, mc.handleStop)
	router.RegisterCommand("queue", &discordgo.ApplicationCommand{
		Name:        "queue",
		Description: "Affiche la file d'attente",
	}, mc.handleQueue)
}

func (mc *MusicCommands) handlePlayLocal(ctx context.Context, r discord.Responder, i *discordgo.InteractionCreate) {
	name := strings.TrimSpace(discord.StringOption(i, "fichier"))
	if name == "" {
		discord.RespondEphemeral(r, i, "Quel fichier local veux-tu jouer ? (doit être dans le dossier audio_cache)")
		return
	}
	if !mc.voice.Connected(i.GuildID) {
		discord.RespondEphemeral(r, i, "Pas en vocal. `/join` d'abord.")
		return
	}
	// Only plain names below dir are accepted.
	path := filepath.Join(mc.dir, name)
	if info, err := os.Stat(path); !filepath.IsLocal(name) || err != nil || info.IsDir() {
		discord.RespondEphemeral(r, i, fmt.Sprintf("Fichier `%s` introuvable dans `%s`.", name, mc.dir))
		return
	}

	// Large files take a moment to decode.
	discord.DeferReply(r, i)

	started, err := mc.voice.PlayFile(ctx, i.GuildID, path, name)
	switch {
	case errors.Is(err, mixer.ErrFull):
		discord.FollowUpEphemeral(r, i, "📭 La file d'attente est pleine, réessaie plus tard.")
		return
	case errors.Is(err, voice.ErrNotConnected):
		discord.FollowUpEphemeral(r, i, "Pas en vocal. `/join` d'abord.")
		return
	case err != nil:
		slog.Warn("discord: playlocal failed", "guild_id", i.GuildID, "file", name, "err", err)
		discord.FollowUpEphemeral(r, i, fmt.Sprintf("⚠️ Erreur de lecture pour `%s`: %v", name, err))
		return
	}

	discord.FollowUp(r, i, fmt.Sprintf("✅ Ajouté à la file (Local): `%s`", name))
	if started {
		discord.FollowUp(r, i, fmt.Sprintf("🎶 En lecture : `%s`", name))
	}
}

func (mc *MusicCommands) handleNext(_ context.Context, r discord.Responder, i *discordgo.InteractionCreate) {
	skipped, err := mc.voice.Skip(i.GuildID)
	if err != nil {
		discord.RespondEphemeral(r, i, "Pas en vocal.")
		return
	}
	if !skipped {
		discord.Respond(r, i, "🤔 La file d'attente est vide, rien à passer.")
		return
	}
	discord.Respond(r, i, "⏭️ Passage au morceau suivant...")
}

func (mc *MusicCommands) handleStop(_ context.Context, r discord.Responder, i *discordgo.InteractionCreate) {
	n, err := mc.voice.Stop(i.GuildID)
	if err != nil || n == 0 {
		discord.Respond(r, i, "Je ne suis pas en train de jouer de musique.")
		return
	}
	discord.Respond(r, i, "⏹️ Lecture stoppée et file d'attente vidée.")
}

func (mc *MusicCommands) handleQueue(_ context.Context, r discord.Responder, i *discordgo.InteractionCreate) {
	entries, err := mc.voice.Playlist(i.GuildID)
	if err != nil || len(entries) == 0 {
		discord.Respond(r, i, "🌀 La file d'attente est vide.")
		return
	}
	discord.Respond(r, i, formatQueue(entries))
}

func formatQueue(entries []mixer.Entry) string {
	var b strings.Builder
	b.WriteString("📄 **File d'attente actuelle**:\n")
	for n, e := range entries {
		title := e.Title
		if title == "" {
			title = spokenAnswer
		}
		marker := ""
		if e.Playing {
			marker = "▶️ "
		}
		fmt.Fprintf(&b, "`%d.` %s%s (%s)\n", n+1, marker, title, clock(e.Duration))
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// clock formats d as m:ss.
func clock(d time.Duration) string {
	s := int(d.Round(time.Second) / time.Second)
	return fmt.Sprintf("%d:%02d", s/60, s%60)
}

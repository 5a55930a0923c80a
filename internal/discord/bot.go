// Package discord is murmur's gateway layer: it owns the discordgo session,
// publishes the slash commands and hands interactions to a [CommandRouter].
package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/murmur/pkg/audio"
	discordaudio "github.com/MrWong99/murmur/pkg/audio/discord"
)

// ErrNotReady is returned by [Bot.Ready] until the gateway sent READY.
var ErrNotReady = errors.New("discord: session not ready")

// intents covers slash commands in guilds and the voice states /join needs.
const intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMessages | discordgo.IntentsGuildVoiceStates

// Config holds Discord bot configuration.
type Config struct {
	// Token is the bot token without the "Bot " prefix.
	Token string

	// GuildID scopes slash commands to one guild. Empty registers them
	// globally, which Discord propagates more slowly.
	GuildID string
}

// Bot is one gateway connection.
type Bot struct {
	session  *discordgo.Session
	platform *discordaudio.Platform
	router   *CommandRouter
	guildID  string

	// handlerCtx ends when the bot closes; interaction handlers inherit it.
	handlerCtx  context.Context
	stopHandler context.CancelFunc
	removers    []func()

	ready     chan struct{}
	readyOnce sync.Once
	appID     string // written once before ready is closed

	mu        sync.Mutex
	published []*discordgo.ApplicationCommand
	closeOnce sync.Once
}

// New opens the gateway connection. Commands are published by [Bot.Run].
func New(_ context.Context, cfg Config, opts ...RouterOption) (*Bot, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("discord: create session: %w", err)
	}
	session.Identify.Intents = intents

	handlerCtx, stop := context.WithCancel(context.Background())
	b := &Bot{
		session:     session,
		platform:    discordaudio.New(session),
		router:      NewCommandRouter(opts...),
		guildID:     cfg.GuildID,
		handlerCtx:  handlerCtx,
		stopHandler: stop,
		ready:       make(chan struct{}),
	}

	// Handlers must be in place before Open or the READY event is missed.
	// discordgo runs each one on its own goroutine, so a long /ecoute does
	// not hold up other commands.
	b.removers = append(b.removers,
		session.AddHandler(b.onReady),
		session.AddHandler(func(s *discordgo.Session, i *discordgo.InteractionCreate) {
			b.router.Handle(b.handlerCtx, s, i)
		}),
	)

	if err := session.Open(); err != nil {
		b.removeHandlers()
		stop()
		return nil, fmt.Errorf("discord: open session: %w", err)
	}
	return b, nil
}

func (b *Bot) onReady(_ *discordgo.Session, r *discordgo.Ready) {
	b.readyOnce.Do(func() {
		b.appID = r.User.ID
		slog.Info("discord connected", "user", r.User.Username, "id", r.User.ID, "guilds", len(r.Guilds))
		close(b.ready)
	})
}

// Platform returns the voice side of the session.
func (b *Bot) Platform() audio.Platform { return b.platform }

// GuildID returns the guild commands are published in, "" for global.
func (b *Bot) GuildID() string { return b.guildID }

// Router returns the router interactions are dispatched to.
func (b *Bot) Router() *CommandRouter { return b.router }

// UserVoiceChannel looks userID up in the gateway's voice state cache.
func (b *Bot) UserVoiceChannel(guildID, userID string) (string, bool) {
	vs, err := b.session.State.VoiceState(guildID, userID)
	if err != nil || vs == nil || vs.ChannelID == "" {
		return "", false
	}
	return vs.ChannelID, true
}

// Ready implements the readiness probe.
func (b *Bot) Ready(context.Context) error {
	select {
	case <-b.ready:
		return nil
	default:
		return ErrNotReady
	}
}

// Run waits for READY, publishes the router's commands and then blocks until
// ctx is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	select {
	case <-b.ready:
	case <-ctx.Done():
		return ctx.Err()
	}

	if cmds := b.router.ApplicationCommands(); len(cmds) > 0 {
		published, err := b.session.ApplicationCommandBulkOverwrite(b.appID, b.guildID, cmds, discordgo.WithContext(ctx))
		if err != nil {
			return fmt.Errorf("discord: publish commands: %w", err)
		}
		b.mu.Lock()
		b.published = published
		b.mu.Unlock()
		slog.Info("discord commands published", "count", len(published), "guild_id", b.guildID)
	}

	<-ctx.Done()
	return ctx.Err()
}

// Close stops running handlers, withdraws the published commands and closes
// the gateway connection. Calls after the first return nil.
func (b *Bot) Close() error {
	var err error
	b.closeOnce.Do(func() {
		b.stopHandler()
		b.removeHandlers()

		b.mu.Lock()
		published := b.published
		b.published = nil
		b.mu.Unlock()
		for _, cmd := range published {
			if derr := b.session.ApplicationCommandDelete(b.appID, b.guildID, cmd.ID); derr != nil {
				slog.Warn("discord: withdraw command", "name", cmd.Name, "err", derr)
			}
		}

		if cerr := b.session.Close(); cerr != nil {
			err = fmt.Errorf("discord: close session: %w", cerr)
		}
		slog.Info("discord bot closed")
	})
	return err
}

func (b *Bot) removeHandlers() {
	for _, remove := range b.removers {
		remove()
	}
	b.removers = nil
}

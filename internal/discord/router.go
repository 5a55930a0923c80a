package discord

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/bwmarrin/discordgo"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/murmur/internal/observe"
)

// HandlerFunc answers one slash command. ctx ends when the bot shuts down.
type HandlerFunc func(ctx context.Context, r Responder, i *discordgo.InteractionCreate)

// Replies the router sends on its own.
const (
	msgUnknownCommand = "Commande inconnue."
	msgHandlerCrashed = "Une erreur interne est survenue."
)

type route struct {
	def     *discordgo.ApplicationCommand // nil for subcommand handlers
	handler HandlerFunc
}

// RouterOption configures a [CommandRouter].
type RouterOption func(*CommandRouter)

// WithRouterMetrics counts dispatched commands on m.
func WithRouterMetrics(m *observe.Metrics) RouterOption {
	return func(r *CommandRouter) { r.metrics = m }
}

// CommandRouter maps slash command keys to handlers. A key is the command
// name, or "command/subcommand" for a subcommand.
type CommandRouter struct {
	metrics *observe.Metrics

	mu     sync.RWMutex
	routes map[string]route
	keys   []string // registration order
}

// NewCommandRouter creates an empty router.
func NewCommandRouter(opts ...RouterOption) *CommandRouter {
	r := &CommandRouter{routes: make(map[string]route)}
	for _, o := range opts {
		o(r)
	}
	return r
}

// RegisterCommand routes key to handler. cmd is the definition published to
// Discord; subcommands share their parent's definition. Registering a key
// twice replaces the handler but keeps its position.
func (r *CommandRouter) RegisterCommand(key string, cmd *discordgo.ApplicationCommand, handler HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.routes[key]; !ok {
		r.keys = append(r.keys, key)
	}
	r.routes[key] = route{def: cmd, handler: handler}
}

// RegisterHandler routes key without publishing a definition, for
// subcommands whose parent is registered elsewhere.
func (r *CommandRouter) RegisterHandler(key string, handler HandlerFunc) {
	r.RegisterCommand(key, nil, handler)
}

// ApplicationCommands returns the definitions to publish, each top-level
// command once, in registration order.
func (r *CommandRouter) ApplicationCommands() []*discordgo.ApplicationCommand {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var defs []*discordgo.ApplicationCommand
	published := make(map[string]struct{})
	for _, key := range r.keys {
		def := r.routes[key].def
		if def == nil {
			continue
		}
		if _, dup := published[def.Name]; dup {
			continue
		}
		published[def.Name] = struct{}{}
		defs = append(defs, def)
	}
	return defs
}

// Handle runs the handler for a slash command inside a span. Unknown commands
// get an ephemeral notice; other interaction types are dropped. A panicking
// handler is logged and the user is told something went wrong.
func (r *CommandRouter) Handle(ctx context.Context, resp Responder, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		slog.Debug("discord: ignoring interaction", "type", i.Type.String())
		return
	}
	key := interactionKey(i.ApplicationCommandData())

	r.mu.RLock()
	rt, ok := r.routes[key]
	r.mu.RUnlock()
	if !ok {
		slog.Warn("discord: unknown command", "key", key)
		RespondEphemeral(resp, i, msgUnknownCommand)
		return
	}

	ctx, span := observe.StartSpan(ctx, "discord.command "+key, trace.WithAttributes(
		attribute.String("discord.command", key),
		attribute.String("discord.guild_id", i.GuildID),
		attribute.String("discord.user_id", InteractionUserID(i)),
	))
	defer span.End()
	if r.metrics != nil {
		r.metrics.RecordCommand(ctx, key)
	}

	defer func() {
		if v := recover(); v != nil {
			span.SetStatus(codes.Error, "handler panic")
			observe.Logger(ctx).Error("discord: command handler panicked",
				"key", key, "panic", fmt.Sprint(v), "stack", string(debug.Stack()))
			replyCrashed(resp, i)
		}
	}()
	rt.handler(ctx, resp, i)
}

// replyCrashed tells the user about a crash whether or not the handler had
// already acknowledged the interaction.
func replyCrashed(resp Responder, i *discordgo.InteractionCreate) {
	err := resp.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Content: msgHandlerCrashed, Flags: discordgo.MessageFlagsEphemeral},
	})
	if err != nil {
		FollowUpEphemeral(resp, i, msgHandlerCrashed)
	}
}

func interactionKey(data discordgo.ApplicationCommandInteractionData) string {
	if len(data.Options) > 0 && data.Options[0].Type == discordgo.ApplicationCommandOptionSubCommand {
		return data.Name + "/" + data.Options[0].Name
	}
	return data.Name
}

// InteractionUserID returns who sent i, in a guild or a DM, or "".
func InteractionUserID(i *discordgo.InteractionCreate) string {
	switch {
	case i.Member != nil && i.Member.User != nil:
		return i.Member.User.ID
	case i.User != nil:
		return i.User.ID
	}
	return ""
}

// StringOption returns the string argument called name, or "".
func StringOption(i *discordgo.InteractionCreate, name string) string {
	for _, o := range i.ApplicationCommandData().Options {
		if o.Name == name && o.Type == discordgo.ApplicationCommandOptionString {
			return o.StringValue()
		}
	}
	return ""
}

package discord_test

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/bwmarrin/discordgo"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/murmur/internal/discord"
	"github.com/MrWong99/murmur/internal/discord/mock"
	"github.com/MrWong99/murmur/internal/observe"
)

func noop(context.Context, discord.Responder, *discordgo.InteractionCreate) {}

func TestCommandRouter_ApplicationCommands(t *testing.T) {
	t.Parallel()

	r := discord.NewCommandRouter()
	for _, name := range []string{"join", "leave", "aide"} {
		r.RegisterCommand(name, &discordgo.ApplicationCommand{Name: name}, noop)
	}

	var got []string
	for _, c := range r.ApplicationCommands() {
		got = append(got, c.Name)
	}
	if want := []string{"join", "leave", "aide"}; !slices.Equal(got, want) {
		t.Errorf("ApplicationCommands = %v, want %v", got, want)
	}
}

func TestCommandRouter_ApplicationCommands_Dedup(t *testing.T) {
	t.Parallel()

	r := discord.NewCommandRouter()

	cmd := &discordgo.ApplicationCommand{Name: "voice"}
	r.RegisterCommand("voice/on", cmd, noop)
	r.RegisterCommand("voice/off", cmd, noop)

	if cmds := r.ApplicationCommands(); len(cmds) != 1 {
		t.Fatalf("expected 1 deduplicated command, got %d", len(cmds))
	}
}

func TestCommandRouter_RegisterHandler(t *testing.T) {
	t.Parallel()

	r := discord.NewCommandRouter()
	called := false
	r.RegisterHandler("test", func(context.Context, discord.Responder, *discordgo.InteractionCreate) {
		called = true
	})

	// Handler without command definition should not appear in ApplicationCommands.
	if cmds := r.ApplicationCommands(); len(cmds) != 0 {
		t.Errorf("expected 0 commands, got %d", len(cmds))
	}

	r.Handle(context.Background(), &mock.InteractionResponder{}, mock.Command("test", "g", "u"))
	if !called {
		t.Error("handler was not called")
	}
}

func TestCommandRouter_Handle(t *testing.T) {
	t.Parallel()

	var got []string
	handler := func(key string) discord.HandlerFunc {
		return func(context.Context, discord.Responder, *discordgo.InteractionCreate) {
			got = append(got, key)
		}
	}

	r := discord.NewCommandRouter()
	r.RegisterCommand("hello", &discordgo.ApplicationCommand{Name: "hello"}, handler("hello"))
	r.RegisterHandler("voice/on", handler("voice/on"))

	ctx := context.Background()
	resp := &mock.InteractionResponder{}

	r.Handle(ctx, resp, mock.Command("hello", "g", "u"))
	r.Handle(ctx, resp, mock.Command("voice", "g", "u", &discordgo.ApplicationCommandInteractionDataOption{
		Name: "on",
		Type: discordgo.ApplicationCommandOptionSubCommand,
	}))
	if want := []string{"hello", "voice/on"}; !slices.Equal(got, want) {
		t.Errorf("dispatched = %v, want %v", got, want)
	}
	if len(resp.Responses) != 0 {
		t.Errorf("router must not respond for known commands, got %d responses", len(resp.Responses))
	}
}

func TestCommandRouter_UnknownCommand(t *testing.T) {
	t.Parallel()

	r := discord.NewCommandRouter()
	resp := &mock.InteractionResponder{}
	r.Handle(context.Background(), resp, mock.Command("nope", "g", "u"))

	last := resp.LastResponse()
	if last == nil || last.Data.Content != "Commande inconnue." {
		t.Fatalf("response = %+v", last)
	}
	if last.Data.Flags != discordgo.MessageFlagsEphemeral {
		t.Error("unknown command reply should be ephemeral")
	}
}

func TestCommandRouter_IgnoresOtherInteractions(t *testing.T) {
	t.Parallel()

	r := discord.NewCommandRouter()
	resp := &mock.InteractionResponder{}
	i := &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{Type: discordgo.InteractionMessageComponent}}
	r.Handle(context.Background(), resp, i)

	if len(resp.Responses) != 0 {
		t.Errorf("expected no response, got %d", len(resp.Responses))
	}
}

func TestCommandRouter_RecoversPanic(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		deferred  bool
		wantReply func(*mock.InteractionResponder) bool
	}{
		{
			name:     "before acknowledging",
			deferred: false,
			wantReply: func(m *mock.InteractionResponder) bool {
				last := m.LastResponse()
				return last != nil && last.Data != nil && last.Data.Flags == discordgo.MessageFlagsEphemeral
			},
		},
		{
			name:     "after deferring",
			deferred: true,
			wantReply: func(m *mock.InteractionResponder) bool {
				return len(m.FollowUps) == 1 && m.FollowUps[0].Flags == discordgo.MessageFlagsEphemeral
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := discord.NewCommandRouter()
			r.RegisterCommand("boom", &discordgo.ApplicationCommand{Name: "boom"}, func(_ context.Context, resp discord.Responder, i *discordgo.InteractionCreate) {
				if tt.deferred {
					discord.DeferReply(resp, i)
				}
				panic("nil map")
			})
			resp := &acknowledgeOnce{}
			r.Handle(context.Background(), resp, mock.Command("boom", "g", "u"))

			if !tt.wantReply(&resp.InteractionResponder) {
				t.Errorf("no crash notice: responses %d, follow-ups %d", len(resp.Responses), len(resp.FollowUps))
			}
			if msgs := resp.Messages(); len(msgs) == 0 || msgs[len(msgs)-1] != "Une erreur interne est survenue." {
				t.Errorf("messages = %v", msgs)
			}
		})
	}
}

// acknowledgeOnce fails a second initial response like Discord does.
type acknowledgeOnce struct {
	mock.InteractionResponder
	acked bool
}

func (a *acknowledgeOnce) InteractionRespond(i *discordgo.Interaction, resp *discordgo.InteractionResponse, opts ...discordgo.RequestOption) error {
	if a.acked {
		return errors.New("interaction has already been acknowledged")
	}
	a.acked = true
	return a.InteractionResponder.InteractionRespond(i, resp, opts...)
}

func TestCommandRouter_Metrics(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	reader := sdkmetric.NewManualReader()
	m, err := observe.NewMetrics(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	if err != nil {
		t.Fatal(err)
	}

	r := discord.NewCommandRouter(discord.WithRouterMetrics(m))
	r.RegisterCommand("hello", &discordgo.ApplicationCommand{Name: "hello"}, noop)
	resp := &mock.InteractionResponder{}
	r.Handle(ctx, resp, mock.Command("hello", "g", "u"))
	r.Handle(ctx, resp, mock.Command("hello", "g", "u"))
	r.Handle(ctx, resp, mock.Command("unknown", "g", "u"))

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatal(err)
	}
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			if met.Name != "murmur.commands" {
				continue
			}
			for _, dp := range met.Data.(metricdata.Sum[int64]).DataPoints {
				total += dp.Value
			}
		}
	}
	if total != 2 {
		t.Errorf("murmur.commands = %d, want 2", total)
	}
}

func TestInteractionUserID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		inter *discordgo.InteractionCreate
		want  string
	}{
		{
			name:  "guild member",
			inter: mock.Command("hello", "g", "member-1"),
			want:  "member-1",
		},
		{
			name: "direct message",
			inter: &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{
				User: &discordgo.User{ID: "dm-user"},
			}},
			want: "dm-user",
		},
		{
			name:  "nobody",
			inter: &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{}},
			want:  "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := discord.InteractionUserID(tt.inter); got != tt.want {
				t.Errorf("InteractionUserID() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestStringOption(t *testing.T) {
	t.Parallel()

	i := mock.Command("mistral", "g", "u", mock.StringOption("question", "Quelle heure est-il ?"))
	if got := discord.StringOption(i, "question"); got != "Quelle heure est-il ?" {
		t.Errorf("StringOption = %q", got)
	}
	if got := discord.StringOption(i, "missing"); got != "" {
		t.Errorf("missing option = %q, want empty", got)
	}
}

func TestRespondHelpers(t *testing.T) {
	t.Parallel()

	resp := &mock.InteractionResponder{}
	i := mock.Command("hello", "g", "u")

	discord.DeferReply(resp, i)
	discord.FollowUp(resp, i, "public")
	discord.FollowUpEphemeral(resp, i, "secret")
	discord.FollowUpChunks(resp, i, []string{"a", "b"})

	if !resp.Deferred() {
		t.Error("expected a deferred acknowledgement")
	}
	if resp.Responses[0].Data != nil && resp.Responses[0].Data.Flags&discordgo.MessageFlagsEphemeral != 0 {
		t.Error("deferred reply must be public")
	}
	if want := []string{"public", "secret", "a", "b"}; !slices.Equal(resp.Messages(), want) {
		t.Errorf("messages = %v, want %v", resp.Messages(), want)
	}
	if resp.FollowUps[1].Flags != discordgo.MessageFlagsEphemeral || resp.FollowUps[0].Flags != 0 {
		t.Error("only FollowUpEphemeral should set the ephemeral flag")
	}
}

func TestRespond_ErrorIsLoggedNotReturned(t *testing.T) {
	t.Parallel()

	resp := &mock.InteractionResponder{Err: errors.New("unknown interaction")}
	i := mock.Command("hello", "g", "u")

	// Neither call may panic when Discord rejects the answer.
	discord.Respond(resp, i, "hi")
	discord.RespondEphemeral(resp, i, "hi")
	discord.FollowUp(resp, i, "hi")

	if len(resp.Responses) != 2 || len(resp.FollowUps) != 1 {
		t.Errorf("calls = %d/%d, want 2/1", len(resp.Responses), len(resp.FollowUps))
	}
}

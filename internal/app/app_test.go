package app_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"slices"
	"sync/atomic"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/murmur/internal/app"
	"github.com/MrWong99/murmur/internal/config"
	"github.com/MrWong99/murmur/internal/discord"
	discordmock "github.com/MrWong99/murmur/internal/discord/mock"
	"github.com/MrWong99/murmur/internal/observe"
	searchmock "github.com/MrWong99/murmur/internal/search/mock"
	"github.com/MrWong99/murmur/pkg/audio"
	audiomock "github.com/MrWong99/murmur/pkg/audio/mock"
	"github.com/MrWong99/murmur/pkg/memory"
	"github.com/MrWong99/murmur/pkg/provider/llm"
	llmmock "github.com/MrWong99/murmur/pkg/provider/llm/mock"
	sttmock "github.com/MrWong99/murmur/pkg/provider/stt/mock"
	ttsmock "github.com/MrWong99/murmur/pkg/provider/tts/mock"
	vadmock "github.com/MrWong99/murmur/pkg/provider/vad/mock"
)

// fakeBot satisfies app.Bot without a gateway session.
type fakeBot struct {
	platform audiomock.Platform
	router   *discord.CommandRouter
	states   discordmock.VoiceStates
	readyErr error
	runErr   error
	closes   atomic.Int32
}

func newFakeBot() *fakeBot {
	return &fakeBot{router: discord.NewCommandRouter(), states: discordmock.VoiceStates{}}
}

func (b *fakeBot) Platform() audio.Platform       { return &b.platform }
func (b *fakeBot) Router() *discord.CommandRouter { return b.router }
func (b *fakeBot) Ready(context.Context) error    { return b.readyErr }

func (b *fakeBot) UserVoiceChannel(guildID, userID string) (string, bool) {
	return b.states.UserVoiceChannel(guildID, userID)
}

func (b *fakeBot) Close() error {
	b.closes.Add(1)
	return nil
}

func (b *fakeBot) Run(ctx context.Context) error {
	if b.runErr != nil {
		return b.runErr
	}
	<-ctx.Done()
	return ctx.Err()
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{
		Server:  config.ServerConfig{ListenAddr: "127.0.0.1:0"},
		Discord: config.DiscordConfig{Token: "t", BotName: "murmur"},
		Providers: config.ProvidersConfig{
			STT: config.ProviderEntry{Name: "whisper"},
			LLM: config.ProviderEntry{Name: "lmstudio"},
			TTS: config.ProviderEntry{Name: "coqui", Options: map[string]any{"voice": "fr-1"}},
		},
	}
	cfg.ApplyDefaults()
	cfg.Voice.DownloadPath = filepath.Join(t.TempDir(), "audio_cache")
	if err := cfg.Validate(); err != nil {
		t.Fatalf("test config invalid: %v", err)
	}
	return cfg
}

type fixture struct {
	app *app.App
	bot *fakeBot
	llm *llmmock.Provider
	cfg *config.Config
}

func newFixture(t *testing.T, opts ...app.Option) *fixture {
	t.Helper()
	f := &fixture{
		bot: newFakeBot(),
		llm: &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "Bonjour."}},
		cfg: testConfig(t),
	}
	providers := &app.Providers{
		VAD: &vadmock.Classifier{},
		STT: &sttmock.Provider{},
		LLM: f.llm,
		TTS: &ttsmock.Provider{},
	}
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatal(err)
	}
	base := []app.Option{
		app.WithHistoryStore(memory.NewInMemoryStore()),
		app.WithSearcher(&searchmock.Searcher{}),
		app.WithMetrics(m),
	}
	a, err := app.New(context.Background(), f.cfg, providers, f.bot, append(base, opts...)...)
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })
	f.app = a
	return f
}

func TestNew_RegistersCommands(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	var names []string
	for _, cmd := range f.bot.router.ApplicationCommands() {
		names = append(names, cmd.Name)
	}
	for _, want := range []string{"hello", "aide", "join", "leave", "mistral", "askweb", "clean", "ecoute", "playlocal", "next", "stop", "queue"} {
		if !slices.Contains(names, want) {
			t.Errorf("command %q not registered, got %v", want, names)
		}
	}
}

func TestNew_CreatesDownloadPath(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	info, err := os.Stat(f.cfg.Voice.DownloadPath)
	if err != nil {
		t.Fatalf("download path not created: %v", err)
	}
	if !info.IsDir() {
		t.Error("download path is not a directory")
	}
	if f.app.Segmenter() == nil {
		t.Error("Segmenter() = nil")
	}
}

func TestNew_RequiresProviders(t *testing.T) {
	t.Parallel()
	_, err := app.New(context.Background(), testConfig(t), &app.Providers{LLM: &llmmock.Provider{}}, newFakeBot())
	if err == nil {
		t.Fatal("expected error for missing providers")
	}
}

func TestHandler_Endpoints(t *testing.T) {
	t.Parallel()
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("# metrics\n"))
	})
	f := newFixture(t, app.WithMetricsHandler(metrics))

	tests := []struct {
		path     string
		notReady bool
		want     int
	}{
		{"/healthz", false, http.StatusOK},
		{"/readyz", false, http.StatusOK},
		{"/metrics", false, http.StatusOK},
		{"/readyz", true, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		if tt.notReady {
			f.bot.readyErr = discord.ErrNotReady
		}
		rec := httptest.NewRecorder()
		f.app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
		if rec.Code != tt.want {
			t.Errorf("GET %s (notReady=%v): status %d, want %d", tt.path, tt.notReady, rec.Code, tt.want)
		}
	}
}

func TestApplyConfig_ParamsReachTheLLM(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	next := testConfig(t)
	next.Voice.DownloadPath = f.cfg.Voice.DownloadPath
	next.Assistant.MaxTokens = 77
	next.Assistant.Temperature = 0.2

	d := f.app.ApplyConfig(next)
	if !d.ParamsChanged {
		t.Fatalf("ParamsChanged = false, diff %+v", d)
	}

	resp := &discordmock.InteractionResponder{}
	f.bot.router.Handle(context.Background(), resp, discordmock.Command("mistral", "g1", "u1", discordmock.StringOption("question", "quelle heure ?")))

	req, ok := f.llm.LastRequest()
	if !ok {
		t.Fatal("LLM was not called")
	}
	if req.MaxTokens != 77 || req.Temperature != 0.2 {
		t.Errorf("request params = %d/%.1f, want 77/0.2", req.MaxTokens, req.Temperature)
	}

	if d := f.app.ApplyConfig(next); d.Changed() {
		t.Errorf("second ApplyConfig should see no change, got %+v", d)
	}
}

func TestApplyConfig_WakePhrases(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	next := testConfig(t)
	next.Assistant.WakePhrases = []string{"jarvis"}
	if d := f.app.ApplyConfig(next); !d.WakePhrasesChanged {
		t.Errorf("WakePhrasesChanged = false, diff %+v", d)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.app.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() after cancel = %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRun_BotFailureStopsServer(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.bot.runErr = errors.New("register commands: 401")

	done := make(chan error, 1)
	go func() { done <- f.app.Run(context.Background()) }()

	select {
	case err := <-done:
		if err == nil || err.Error() != "register commands: 401" {
			t.Errorf("Run() = %v, want the bot error", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after bot failure")
	}
}

func TestShutdown_Idempotent(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	if err := f.app.Shutdown(context.Background()); err != nil {
		t.Fatalf("first Shutdown: %v", err)
	}
	if err := f.app.Shutdown(context.Background()); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
	if got := f.bot.closes.Load(); got != 1 {
		t.Errorf("bot closed %d times, want 1", got)
	}
}

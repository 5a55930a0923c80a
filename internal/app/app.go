// Package app wires the murmur subsystems into a running bot.
//
// The App struct owns the full lifecycle: New builds every subsystem from the
// config and registers the slash commands, Run serves Discord and the
// observability endpoints until the context ends, and Shutdown tears
// everything down in order.
//
// For testing, inject doubles via functional options (WithHistoryStore,
// WithSearcher, and so on). When an option is not provided, New creates the
// real implementation from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/murmur/internal/assistant"
	"github.com/MrWong99/murmur/internal/config"
	"github.com/MrWong99/murmur/internal/conversation"
	"github.com/MrWong99/murmur/internal/discord"
	"github.com/MrWong99/murmur/internal/discord/commands"
	"github.com/MrWong99/murmur/internal/health"
	"github.com/MrWong99/murmur/internal/listen"
	"github.com/MrWong99/murmur/internal/observe"
	"github.com/MrWong99/murmur/internal/search"
	"github.com/MrWong99/murmur/internal/segment"
	"github.com/MrWong99/murmur/internal/voice"
	"github.com/MrWong99/murmur/pkg/audio"
	"github.com/MrWong99/murmur/pkg/memory"
	"github.com/MrWong99/murmur/pkg/memory/postgres"
	"github.com/MrWong99/murmur/pkg/provider/llm"
	"github.com/MrWong99/murmur/pkg/provider/stt"
	"github.com/MrWong99/murmur/pkg/provider/tts"
	"github.com/MrWong99/murmur/pkg/provider/vad"
)

const (
	defaultLanguage = "fr"
	searchName      = "duckduckgo"
	drainTimeout    = 5 * time.Second
)

// Providers holds one interface value per provider slot. Populated by main.go
// via the config registry, usually wrapped in resilience fallback groups.
type Providers struct {
	VAD vad.Classifier
	STT stt.Provider
	LLM llm.Provider
	TTS tts.Provider
}

// Bot is the Discord side of the app. *discord.Bot satisfies it.
type Bot interface {
	Platform() audio.Platform
	Router() *discord.CommandRouter
	UserVoiceChannel(guildID, userID string) (string, bool)
	Ready(ctx context.Context) error
	Run(ctx context.Context) error
	Close() error
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers
	bot       Bot
	metrics   *observe.Metrics

	history        memory.HistoryStore
	searcher       search.Searcher
	metricsHandler http.Handler
	version        string

	conv      *conversation.Manager
	assistant *assistant.Assistant
	voice     *voice.Manager
	segmenter *segment.Segmenter
	pipeline  *listen.Pipeline
	listen    *commands.ListenCommands
	checkers  []health.Checker
	handler   http.Handler

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithHistoryStore injects a history store instead of creating one from
// memory.postgres_dsn.
func WithHistoryStore(s memory.HistoryStore) Option {
	return func(a *App) { a.history = s }
}

// WithSearcher injects a web searcher instead of DuckDuckGo.
func WithSearcher(s search.Searcher) Option {
	return func(a *App) { a.searcher = s }
}

// WithMetrics sets the instruments every subsystem records into. Defaults to
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler sets the handler served on /metrics, typically
// [observe.Telemetry.Handler]. Defaults to the global Prometheus registry.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// WithVersion sets the build version reported on /healthz.
func WithVersion(v string) Option {
	return func(a *App) { a.version = v }
}

// New creates an App by wiring all subsystems together and registering the
// slash commands on bot's router. Commands are pushed to Discord by Run.
func New(ctx context.Context, cfg *config.Config, providers *Providers, bot Bot, opts ...Option) (*App, error) {
	if providers == nil || providers.VAD == nil || providers.STT == nil || providers.LLM == nil || providers.TTS == nil {
		return nil, errors.New("app: vad, stt, llm and tts providers are required")
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
		bot:       bot,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.metricsHandler == nil {
		a.metricsHandler = promhttp.Handler()
	}

	if err := a.initMemory(ctx); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init memory: %w", err)
	}
	if err := a.initAssistant(); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init assistant: %w", err)
	}
	if err := a.initListen(); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init listen: %w", err)
	}
	a.registerCommands()
	a.initHTTP()

	slog.Info("app initialised",
		"vad", cfg.Providers.VAD.Name,
		"stt", cfg.Providers.STT.Name,
		"llm", cfg.Providers.LLM.Name,
		"tts", cfg.Providers.TTS.Name,
		"postgres", cfg.Memory.PostgresDSN != "",
	)
	return a, nil
}

// initMemory sets up the PostgreSQL history store, or keeps histories in
// process when no DSN is configured. The postgres store is guarded so an
// outage degrades answers to context-free ones instead of failing them.
func (a *App) initMemory(ctx context.Context) error {
	if a.history != nil {
		return nil
	}
	dsn := a.cfg.Memory.PostgresDSN
	if dsn == "" {
		a.history = memory.NewInMemoryStore()
		return nil
	}

	store, err := postgres.NewStore(ctx, dsn)
	if err != nil {
		return err
	}
	a.history = memory.NewGuard(store)
	a.checkers = append(a.checkers, health.Ping("postgres", store))
	a.closers = append(a.closers, func() error {
		store.Close()
		return nil
	})
	return nil
}

func (a *App) initAssistant() error {
	conv, err := conversation.NewManager(a.history, a.providers.LLM, a.cfg.Assistant.MaxHistoryTokens)
	if err != nil {
		return err
	}
	a.conv = conv

	if a.searcher == nil {
		a.searcher = search.NewDuckDuckGo(search.WithRegion(a.cfg.Assistant.SearchRegion))
	}
	a.assistant, err = assistant.New(a.providers.LLM, conv, a.searcher, assistantParams(a.cfg.Assistant),
		assistant.WithMetrics(a.metrics, a.cfg.Providers.LLM.Name, searchName),
	)
	return err
}

func (a *App) initListen() error {
	v := a.cfg.Voice
	if err := os.MkdirAll(v.DownloadPath, 0o755); err != nil {
		return fmt.Errorf("create download path: %w", err)
	}
	a.checkers = append(a.checkers, health.DirWritable("download_path", v.DownloadPath))

	voiceOpts := []voice.Option{voice.WithMetrics(a.metrics, a.cfg.Providers.TTS.Name)}
	if id := optString(a.cfg.Providers.TTS.Options, "voice", ""); id != "" {
		voiceOpts = append(voiceOpts, voice.WithVoice(tts.VoiceProfile{ID: id, Provider: a.cfg.Providers.TTS.Name}))
	}
	a.voice = voice.NewManager(a.bot.Platform(), a.providers.TTS, voiceOpts...)
	a.closers = append(a.closers, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
		defer cancel()
		if err := a.voice.Drain(ctx); err != nil {
			slog.Warn("voice: queued audio cut short", "err", err)
		}
		return a.voice.Close(ctx)
	})

	seg, err := segment.New(segment.Config{
		SampleRate:        v.SampleRate,
		FrameDurationMs:   v.FrameDurationMs,
		PaddingDurationMs: v.PaddingDurationMs,
		VoicedRatio:       v.VoicedRatio,
	}, a.providers.VAD, segment.WithMetrics(a.metrics))
	if err != nil {
		return err
	}
	a.segmenter = seg

	rec := listen.NewRecorder(v.DownloadPath, listen.WithRecorderMetrics(a.metrics))
	a.pipeline = listen.NewPipeline(rec, seg, a.providers.STT,
		listen.WithDuration(time.Duration(v.RecordingSeconds*float64(time.Second))),
		listen.WithLanguage(optString(a.cfg.Providers.STT.Options, "language", defaultLanguage)),
		listen.WithMetrics(a.metrics, a.cfg.Providers.STT.Name),
	)
	return nil
}

func (a *App) registerCommands() {
	router := a.bot.Router()
	commands.GeneralCommands{}.Register(router)
	commands.NewVoiceCommands(a.voice, a.bot).Register(router)

	answers := commands.NewAssistantCommands(a.assistant, a.voice, commands.WithChunkSize(a.cfg.Assistant.MessageChunkSize))
	answers.Register(router)

	a.listen = commands.NewListenCommands(a.pipeline, a.voice, a.bot, wakeDetector(a.cfg), answers)
	a.listen.Register(router)

	commands.NewMusicCommands(a.voice, a.cfg.Voice.DownloadPath).Register(router)
}

// initHTTP builds the observability mux: /healthz, /readyz and /metrics.
func (a *App) initHTTP() {
	checkers := append([]health.Checker{health.Ready("discord", a.bot)}, a.checkers...)
	mux := http.NewServeMux()
	health.New(checkers, health.WithVersion(a.version)).Register(mux)
	mux.Handle("GET /metrics", a.metricsHandler)
	a.handler = observe.Middleware(a.metrics)(mux)
}

// Handler returns the observability HTTP handler served by Run.
func (a *App) Handler() http.Handler { return a.handler }

// Segmenter returns the speech segmenter used by /ecoute.
func (a *App) Segmenter() *segment.Segmenter { return a.segmenter }

// Run registers the slash commands, serves the observability endpoints on
// server.listen_addr and blocks until ctx is cancelled or either side fails.
// A cancelled ctx is not reported as an error.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.bot.Run(gctx)
	})
	g.Go(func() error {
		slog.Info("observability server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: serve http: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	slog.Info("app running", "addr", srv.Addr)
	err := g.Wait()
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return nil
	}
	return err
}

// ApplyConfig applies the hot-reloadable parts of next. Other fields take
// effect on restart only. The log level is left to the caller.
func (a *App) ApplyConfig(next *config.Config) config.ConfigDiff {
	d := config.Diff(a.cfg, next)
	if d.ParamsChanged {
		p := assistantParams(next.Assistant)
		a.assistant.SetParams(p)
		slog.Info("assistant params reloaded",
			"max_tokens", p.MaxTokens, "temperature", p.Temperature, "top_p", p.TopP, "web_results", p.WebResults)
	}
	if d.HistoryBudgetChanged {
		a.conv.SetBudget(next.Assistant.MaxHistoryTokens)
		slog.Info("history budget reloaded", "max_history_tokens", next.Assistant.MaxHistoryTokens)
	}
	if d.WakePhrasesChanged {
		a.listen.SetWakeDetector(wakeDetector(next))
		slog.Info("wake phrases reloaded", "phrases", next.Assistant.WakePhrases, "bot_name", next.Discord.BotName)
	}
	a.cfg = next
	return d
}

// Shutdown tears down all subsystems in init order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		// Leave Discord first so no new interactions arrive.
		if err := a.bot.Close(); err != nil {
			slog.Warn("discord close error", "err", err)
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// closeAll runs the closers registered so far after a failed New.
func (a *App) closeAll() {
	for _, closer := range a.closers {
		if err := closer(); err != nil {
			slog.Warn("closer error", "err", err)
		}
	}
}

func assistantParams(c config.AssistantConfig) assistant.Params {
	return assistant.Params{
		MaxTokens:   c.MaxTokens,
		Temperature: c.Temperature,
		TopP:        c.TopP,
		WebResults:  c.WebResults,
	}
}

func wakeDetector(cfg *config.Config) *assistant.WakeDetector {
	return assistant.NewWakeDetector(cfg.Assistant.WakePhrases, cfg.Discord.BotName)
}

// optString reads a string from a provider's free-form options.
func optString(opts map[string]any, key, def string) string {
	if s, ok := opts[key].(string); ok && s != "" {
		return s
	}
	return def
}

// Command murmur runs the French Discord voice assistant.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/MrWong99/murmur/internal/app"
	"github.com/MrWong99/murmur/internal/config"
	"github.com/MrWong99/murmur/internal/discord"
	"github.com/MrWong99/murmur/internal/observe"
	"github.com/MrWong99/murmur/internal/resilience"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "murmur: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "murmur: %v\n", err)
		}
		return 1
	}

	var level slog.LevelVar
	level.Set(slogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(observe.NewTraceHandler(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &level}))))

	slog.Info("murmur starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	telemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "murmur",
		ServiceVersion: version,
		Registry:       registry,
	})
	if err != nil {
		slog.Error("failed to init telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	reg := config.NewRegistry()
	registerBuiltinProviders(reg)
	slog.Debug("providers registered", "names", reg.Names())

	providers, closers, err := buildProviders(cfg, reg, metrics)
	defer func() {
		for _, c := range closers {
			if err := c(); err != nil {
				slog.Warn("provider close error", "err", err)
			}
		}
	}()
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	bot, err := discord.New(ctx, discord.Config{
		Token:   cfg.Discord.Token,
		GuildID: cfg.Discord.GuildID,
	}, discord.WithRouterMetrics(metrics))
	if err != nil {
		slog.Error("failed to create Discord bot", "err", err)
		return 1
	}
	slog.Info("discord bot connected", "guild_id", cfg.Discord.GuildID)

	application, err := app.New(ctx, cfg, providers, bot,
		app.WithMetrics(metrics),
		app.WithMetricsHandler(telemetry.Handler()),
		app.WithVersion(version),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		_ = bot.Close()
		return 1
	}

	watcher, err := config.NewWatcher(*configPath, func(next *config.Config, d config.ConfigDiff) {
		if d.LogLevelChanged {
			level.Set(slogLevel(d.NewLogLevel))
		}
		application.ApplyConfig(next)
	})
	if err != nil {
		slog.Warn("config hot reload disabled", "err", err)
	} else {
		go func() { _ = watcher.Watch(ctx) }()
	}

	slog.Info("murmur ready, press Ctrl+C to shut down")

	code := 0
	if err := application.Run(ctx); err != nil {
		slog.Error("run error", "err", err)
		code = 1
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("stopping")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("au revoir")
	return code
}

// buildProviders instantiates the providers named in cfg and wraps STT, LLM
// and TTS in fallback groups. The returned closers release native resources
// and must run even when err is non-nil.
func buildProviders(cfg *config.Config, reg *config.Registry, metrics *observe.Metrics) (*app.Providers, []func() error, error) {
	var closers []func() error
	track := func(v any) {
		if c, ok := v.(interface{ Close() error }); ok {
			closers = append(closers, c.Close)
		}
	}

	vadp, err := reg.CreateVAD(cfg.Providers.VAD, cfg.Voice)
	if err != nil {
		return nil, closers, fmt.Errorf("create vad provider %q: %w", cfg.Providers.VAD.Name, err)
	}
	track(vadp)
	slog.Info("provider created", "kind", "vad", "name", cfg.Providers.VAD.Name)

	fbCfg := resilience.FallbackConfig{Breaker: resilience.BreakerConfig{
		OnStateChange: func(name string, _, to resilience.State) {
			metrics.RecordBreakerTransition(context.Background(), name, to.String())
		},
	}}

	sttp, err := reg.CreateSTT(cfg.Providers.STT)
	if err != nil {
		return nil, closers, fmt.Errorf("create stt provider %q: %w", cfg.Providers.STT.Name, err)
	}
	track(sttp)
	sttGroup := resilience.NewSTTFallback(sttp, cfg.Providers.STT.Name, fbCfg)
	for _, entry := range cfg.Providers.STTFallbacks {
		p, err := reg.CreateSTT(entry)
		if err != nil {
			return nil, closers, fmt.Errorf("create stt fallback %q: %w", entry.Name, err)
		}
		track(p)
		sttGroup.AddFallback(entry.Name, p)
	}
	slog.Info("provider created", "kind", "stt", "chain", sttGroup.Names())

	llmp, err := reg.CreateLLM(cfg.Providers.LLM)
	if err != nil {
		return nil, closers, fmt.Errorf("create llm provider %q: %w", cfg.Providers.LLM.Name, err)
	}
	llmGroup := resilience.NewLLMFallback(llmp, cfg.Providers.LLM.Name, fbCfg)
	for _, entry := range cfg.Providers.LLMFallbacks {
		p, err := reg.CreateLLM(entry)
		if err != nil {
			return nil, closers, fmt.Errorf("create llm fallback %q: %w", entry.Name, err)
		}
		llmGroup.AddFallback(entry.Name, p)
	}
	slog.Info("provider created", "kind", "llm", "chain", llmGroup.Names())

	ttsp, err := reg.CreateTTS(cfg.Providers.TTS)
	if err != nil {
		return nil, closers, fmt.Errorf("create tts provider %q: %w", cfg.Providers.TTS.Name, err)
	}
	ttsGroup := resilience.NewTTSFallback(ttsp, cfg.Providers.TTS.Name, fbCfg)
	for _, entry := range cfg.Providers.TTSFallbacks {
		p, err := reg.CreateTTS(entry)
		if err != nil {
			return nil, closers, fmt.Errorf("create tts fallback %q: %w", entry.Name, err)
		}
		ttsGroup.AddFallback(entry.Name, p)
	}
	slog.Info("provider created", "kind", "tts", "chain", ttsGroup.Names())

	return &app.Providers{VAD: vadp, STT: sttGroup, LLM: llmGroup, TTS: ttsGroup}, closers, nil
}

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

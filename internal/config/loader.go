package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/murmur/pkg/provider/vad"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Config.Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"vad": {"energy", "silero"},
	"stt": {"whisper", "whisper-native"},
	"llm": {"openai", "lmstudio", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"tts": {"coqui"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied.
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. Unknown keys are rejected.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadBytes is LoadFromReader over an in-memory file.
func loadBytes(data []byte) (*Config, error) {
	return LoadFromReader(bytes.NewReader(data))
}

// Validate checks that c contains a coherent set of values. Call it after
// [Config.ApplyDefaults].
// It returns a joined error listing all validation failures found.
func (c *Config) Validate() error {
	var errs []error

	// Server
	if c.Server.LogLevel != "" && !c.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", c.Server.LogLevel))
	}

	// Discord
	if c.Discord.Token == "" {
		errs = append(errs, errors.New("discord.token is required"))
	}
	if c.Discord.GuildID == "" {
		slog.Warn("discord.guild_id is empty; slash commands are registered globally and may take a while to appear")
	}

	// Voice
	v := c.Voice
	if err := vad.CheckFormat(v.SampleRate, v.FrameDurationMs); err != nil {
		errs = append(errs, fmt.Errorf("voice: %w", err))
	}
	if v.FrameDurationMs > 0 && v.PaddingDurationMs < v.FrameDurationMs {
		errs = append(errs, fmt.Errorf("voice.padding_duration_ms %d is shorter than one %d ms frame", v.PaddingDurationMs, v.FrameDurationMs))
	}
	if v.VoicedRatio <= 0 || v.VoicedRatio > 1 {
		errs = append(errs, fmt.Errorf("voice.voiced_ratio %.2f is out of range (0, 1]", v.VoicedRatio))
	}
	if level := v.AggressivenessLevel(); level < 0 || level > 3 {
		errs = append(errs, fmt.Errorf("voice.aggressiveness %d is out of range [0, 3]", level))
	}
	if v.RecordingSeconds <= 0 {
		errs = append(errs, fmt.Errorf("voice.recording_seconds %.1f must be positive", v.RecordingSeconds))
	}
	if strings.TrimSpace(v.DownloadPath) == "" {
		errs = append(errs, errors.New("voice.download_path is required"))
	}

	// Providers
	if c.Providers.STT.Name == "" {
		errs = append(errs, errors.New("providers.stt is required for /ecoute"))
	}
	if c.Providers.LLM.Name == "" {
		errs = append(errs, errors.New("providers.llm is required"))
	}
	if c.Providers.TTS.Name == "" {
		errs = append(errs, errors.New("providers.tts is required for spoken answers"))
	}
	validateProviderName("vad", c.Providers.VAD.Name)
	validateProviderName("stt", c.Providers.STT.Name)
	validateProviderName("llm", c.Providers.LLM.Name)
	validateProviderName("tts", c.Providers.TTS.Name)
	errs = append(errs, validateFallbacks("llm", c.Providers.LLMFallbacks)...)
	errs = append(errs, validateFallbacks("stt", c.Providers.STTFallbacks)...)
	errs = append(errs, validateFallbacks("tts", c.Providers.TTSFallbacks)...)

	// Assistant
	a := c.Assistant
	if a.MaxHistoryTokens <= 0 {
		errs = append(errs, fmt.Errorf("assistant.max_history_tokens %d must be positive", a.MaxHistoryTokens))
	}
	if a.MaxTokens <= 0 {
		errs = append(errs, fmt.Errorf("assistant.max_tokens %d must be positive", a.MaxTokens))
	}
	if a.Temperature < 0 || a.Temperature > 2 {
		errs = append(errs, fmt.Errorf("assistant.temperature %.2f is out of range [0, 2]", a.Temperature))
	}
	if a.TopP <= 0 || a.TopP > 1 {
		errs = append(errs, fmt.Errorf("assistant.top_p %.2f is out of range (0, 1]", a.TopP))
	}
	if a.MessageChunkSize <= 0 || a.MessageChunkSize > 2000 {
		errs = append(errs, fmt.Errorf("assistant.message_chunk_size %d is out of range [1, 2000]", a.MessageChunkSize))
	}
	if a.WebResults <= 0 {
		errs = append(errs, fmt.Errorf("assistant.web_results %d must be positive", a.WebResults))
	}
	for i, p := range a.WakePhrases {
		if strings.TrimSpace(p) == "" {
			errs = append(errs, fmt.Errorf("assistant.wake_phrases[%d] is empty", i))
		}
	}

	// Memory
	if c.Memory.PostgresDSN == "" {
		slog.Debug("memory.postgres_dsn is empty; conversation histories are kept in memory")
	}

	return errors.Join(errs...)
}

func validateFallbacks(kind string, entries []ProviderEntry) []error {
	var errs []error
	for i, fb := range entries {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.%s_fallbacks[%d].name is required", kind, i))
			continue
		}
		validateProviderName(kind, fb.Name)
	}
	return errs
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}

package main

import (
	"cmp"
	"log/slog"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/murmur/internal/config"
	"github.com/MrWong99/murmur/pkg/provider/llm"
	"github.com/MrWong99/murmur/pkg/provider/llm/anyllm"
	"github.com/MrWong99/murmur/pkg/provider/llm/openai"
	"github.com/MrWong99/murmur/pkg/provider/stt"
	"github.com/MrWong99/murmur/pkg/provider/stt/whisper"
	"github.com/MrWong99/murmur/pkg/provider/tts"
	"github.com/MrWong99/murmur/pkg/provider/tts/coqui"
	"github.com/MrWong99/murmur/pkg/provider/vad"
	"github.com/MrWong99/murmur/pkg/provider/vad/energy"
	"github.com/MrWong99/murmur/pkg/provider/vad/silero"
)

// lmStudioURL is where LM Studio serves its OpenAI-compatible API by default.
const lmStudioURL = "http://localhost:1234/v1"

// registerBuiltinProviders wires all built-in provider factories into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// ── VAD ───────────────────────────────────────────────────────────────────

	reg.RegisterVAD("energy", func(entry config.ProviderEntry, voice config.VoiceConfig) (vad.Classifier, error) {
		var opts []energy.Option
		if th, ok := optFloat(entry.Options, "threshold"); ok {
			opts = append(opts, energy.WithThreshold(th))
		}
		return energy.New(vad.Config{Aggressiveness: voice.AggressivenessLevel()}, opts...)
	})
	reg.RegisterVAD("silero", func(entry config.ProviderEntry, voice config.VoiceConfig) (vad.Classifier, error) {
		var opts []silero.Option
		if th, ok := optFloat(entry.Options, "threshold"); ok {
			opts = append(opts, silero.WithThreshold(th))
		}
		modelPath := cmp.Or(entry.Model, optString(entry.Options, "model_path"))
		return silero.New(modelPath, vad.Config{Aggressiveness: voice.AggressivenessLevel()}, opts...)
	})

	// ── LLM ───────────────────────────────────────────────────────────────────

	// openai and lmstudio speak the OpenAI chat API through openai-go.
	openAIFactory := func(defaultURL string) func(config.ProviderEntry) (llm.Provider, error) {
		return func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []openai.Option
			if url := cmp.Or(entry.BaseURL, defaultURL); url != "" {
				opts = append(opts, openai.WithBaseURL(url))
			}
			if org := optString(entry.Options, "organization"); org != "" {
				opts = append(opts, openai.WithOrganization(org))
			}
			if d, ok := optDuration(entry.Options, "timeout"); ok {
				opts = append(opts, openai.WithTimeout(d))
			}
			return openai.New(entry.APIKey, entry.Model, opts...)
		}
	}
	reg.RegisterLLM("openai", openAIFactory(""))
	reg.RegisterLLM("lmstudio", openAIFactory(lmStudioURL))

	// Every other backend goes through any-llm-go. ollama and the llama.cpp
	// servers need only a base URL.
	for _, providerName := range anyllm.Backends() {
		if providerName == "openai" {
			continue
		}
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		if prompt := optString(entry.Options, "prompt"); prompt != "" {
			opts = append(opts, whisper.WithPrompt(prompt))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterSTT("whisper-native", func(entry config.ProviderEntry) (stt.Provider, error) {
		modelPath := cmp.Or(entry.Model, optString(entry.Options, "model_path"))
		var opts []whisper.NativeOption
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithNativeLanguage(lang))
		}
		if n, ok := optFloat(entry.Options, "threads"); ok {
			opts = append(opts, whisper.WithNativeThreads(int(n)))
		}
		if n, ok := optFloat(entry.Options, "parallel"); ok {
			opts = append(opts, whisper.WithNativeParallel(int(n)))
		}
		return whisper.NewNative(modelPath, opts...)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("coqui", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []coqui.Option
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, coqui.WithLanguage(lang))
		}
		if mode := optString(entry.Options, "api_mode"); mode != "" {
			opts = append(opts, coqui.WithAPIMode(coqui.APIMode(mode)))
		}
		if d, ok := optDuration(entry.Options, "timeout"); ok {
			opts = append(opts, coqui.WithTimeout(d))
		}
		return coqui.New(entry.BaseURL, opts...)
	})

	for kind, names := range config.ValidProviderNames {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// optFloat accepts any YAML number.
func optFloat(opts map[string]any, key string) (float64, bool) {
	switch v := opts[key].(type) {
	case int:
		return float64(v), true
	case float64:
		return v, true
	}
	return 0, false
}

// optDuration accepts a Go duration string ("45s") or a number of seconds.
func optDuration(opts map[string]any, key string) (time.Duration, bool) {
	if s := optString(opts, key); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil {
			slog.Warn("ignoring invalid duration option", "key", key, "value", s, "err", err)
			return 0, false
		}
		return d, true
	}
	if secs, ok := optFloat(opts, key); ok {
		return time.Duration(secs * float64(time.Second)), true
	}
	return 0, false
}

package config_test

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/MrWong99/murmur/internal/config"
)

func TestValidate_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		extra string
		want  string
	}{
		{
			name:  "log level",
			extra: "server:\n  log_level: bananas\n",
			want:  "server.log_level",
		},
		{
			name:  "unsupported sample rate",
			extra: "voice:\n  sample_rate: 44100\n",
			want:  "voice:",
		},
		{
			name:  "unsupported frame duration",
			extra: "voice:\n  frame_duration_ms: 25\n",
			want:  "voice:",
		},
		{
			name:  "padding shorter than a frame",
			extra: "voice:\n  padding_duration_ms: 10\n",
			want:  "voice.padding_duration_ms",
		},
		{
			name:  "voiced ratio above one",
			extra: "voice:\n  voiced_ratio: 1.5\n",
			want:  "voice.voiced_ratio",
		},
		{
			name:  "aggressiveness out of range",
			extra: "voice:\n  aggressiveness: 4\n",
			want:  "voice.aggressiveness",
		},
		{
			name:  "negative recording",
			extra: "voice:\n  recording_seconds: -1\n",
			want:  "voice.recording_seconds",
		},
		{
			name:  "top_p above one",
			extra: "assistant:\n  top_p: 1.2\n",
			want:  "assistant.top_p",
		},
		{
			name:  "chunk above discord limit",
			extra: "assistant:\n  message_chunk_size: 2500\n",
			want:  "assistant.message_chunk_size",
		},
		{
			name:  "blank wake phrase",
			extra: "assistant:\n  wake_phrases: [mistral, \"  \"]\n",
			want:  "assistant.wake_phrases[1]",
		},
		{
			name:  "negative web results",
			extra: "assistant:\n  web_results: -2\n",
			want:  "assistant.web_results",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(minimalYAML + tt.extra))
			if err == nil {
				t.Fatalf("expected error mentioning %q, got nil", tt.want)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error should mention %q, got: %v", tt.want, err)
			}
		})
	}
}

func TestValidate_FallbackNameRequired(t *testing.T) {
	t.Parallel()
	yaml := minimalYAML + `  llm_fallbacks:
    - model: mistral
  stt_fallbacks:
    - name: whisper-native
    - base_url: http://localhost
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for unnamed fallbacks, got nil")
	}
	for _, want := range []string{"providers.llm_fallbacks[0].name", "providers.stt_fallbacks[1].name"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error should mention %s, got: %v", want, err)
		}
	}
	if strings.Contains(err.Error(), "stt_fallbacks[0]") {
		t.Errorf("named fallback reported as invalid: %v", err)
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: bananas
voice:
  voiced_ratio: 2
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected errors, got nil")
	}
	for _, want := range []string{"server.log_level", "voice.voiced_ratio", "discord.token"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("joined error should mention %s, got: %v", want, err)
		}
	}
}

func TestValidate_UnknownProviderIsOnlyAWarning(t *testing.T) {
	t.Parallel()
	yaml := strings.Replace(minimalYAML, "name: coqui", "name: piper", 1)
	if _, err := config.LoadFromReader(strings.NewReader(yaml)); err != nil {
		t.Fatalf("unknown provider names must not fail validation: %v", err)
	}
}

func TestValidProviderNames(t *testing.T) {
	t.Parallel()
	tests := []struct {
		kind string
		name string
	}{
		{"vad", "energy"},
		{"vad", "silero"},
		{"stt", "whisper"},
		{"stt", "whisper-native"},
		{"llm", "lmstudio"},
		{"llm", "mistral"},
		{"llm", "ollama"},
		{"tts", "coqui"},
	}
	for _, tt := range tests {
		if !slices.Contains(config.ValidProviderNames[tt.kind], tt.name) {
			t.Errorf("ValidProviderNames[%q] should contain %q", tt.kind, tt.name)
		}
	}
}

func TestLoad_File(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(minimalYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Discord.Token != "bot-token" {
		t.Errorf("token: got %q", cfg.Discord.Token)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()
	_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
	if !strings.Contains(err.Error(), "config: open") {
		t.Errorf("error should be wrapped with the open step, got: %v", err)
	}
}

func TestLoad_ExampleConfig(t *testing.T) {
	t.Parallel()
	cfg, err := config.Load(filepath.Join("..", "..", "configs", "example.yaml"))
	if err != nil {
		t.Fatalf("example config must stay loadable: %v", err)
	}
	if cfg.Providers.LLM.Name != "lmstudio" || len(cfg.Providers.LLMFallbacks) != 1 {
		t.Errorf("llm chain: got %q + %d fallbacks", cfg.Providers.LLM.Name, len(cfg.Providers.LLMFallbacks))
	}
	if cfg.Assistant.SearchRegion != "fr-fr" {
		t.Errorf("search_region: got %q", cfg.Assistant.SearchRegion)
	}
}

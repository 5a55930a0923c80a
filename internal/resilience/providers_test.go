package resilience

import (
	"context"
	"errors"
	"io/fs"
	"slices"
	"testing"

	"github.com/MrWong99/murmur/pkg/audio/wav"
	"github.com/MrWong99/murmur/pkg/provider/llm"
	llmmock "github.com/MrWong99/murmur/pkg/provider/llm/mock"
	"github.com/MrWong99/murmur/pkg/provider/stt"
	sttmock "github.com/MrWong99/murmur/pkg/provider/stt/mock"
	"github.com/MrWong99/murmur/pkg/provider/tts"
	ttsmock "github.com/MrWong99/murmur/pkg/provider/tts/mock"
)

func TestLLMFallback_Complete(t *testing.T) {
	t.Parallel()
	primary := &llmmock.Provider{CompleteErr: errors.New("connection refused")}
	secondary := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "bonjour du secours"}}

	fb := NewLLMFallback(primary, "lmstudio", FallbackConfig{})
	fb.AddFallback("ollama", secondary)

	req := llm.CompletionRequest{
		Messages:  []llm.Message{{Role: llm.RoleUser, Content: "Quelle heure est-il ?"}},
		MaxTokens: 1024,
	}
	resp, err := fb.Complete(context.Background(), req)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != "bonjour du secours" {
		t.Errorf("content = %q, want the fallback answer", resp.Content)
	}
	got, ok := secondary.LastRequest()
	if !ok || got.MaxTokens != 1024 || len(got.Messages) != 1 {
		t.Errorf("fallback received %+v, want the original request", got)
	}
}

func TestLLMFallback_CountTokensUsesPrimary(t *testing.T) {
	t.Parallel()
	primary := &llmmock.Provider{CountTokensFn: func([]llm.Message) (int, error) { return 42, nil }}
	secondaryCalls := 0
	secondary := &llmmock.Provider{CountTokensFn: func([]llm.Message) (int, error) { secondaryCalls++; return 7, nil }}

	fb := NewLLMFallback(primary, "lmstudio", FallbackConfig{})
	fb.AddFallback("ollama", secondary)

	n, err := fb.CountTokens([]llm.Message{{Role: llm.RoleUser, Content: "test"}})
	if err != nil || n != 42 {
		t.Fatalf("CountTokens = %d, %v; want 42", n, err)
	}
	if secondaryCalls != 0 {
		t.Error("the fallback counter must not be used")
	}
}

func TestLLMFallback_PrimaryRecovers(t *testing.T) {
	t.Parallel()
	down := errors.New("connection refused")
	primary := &llmmock.Provider{
		Script:           []llmmock.Reply{{Err: down}, {Err: down}},
		CompleteResponse: &llm.CompletionResponse{Content: "lmstudio"},
	}
	secondary := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "ollama"}}

	fb := NewLLMFallback(primary, "lmstudio", FallbackConfig{Breaker: BreakerConfig{Threshold: 5}})
	fb.AddFallback("ollama", secondary)

	req := llm.CompletionRequest{Messages: []llm.Message{{Role: llm.RoleUser, Content: "x"}}}
	var got []string
	for range 3 {
		resp, err := fb.Complete(context.Background(), req)
		if err != nil {
			t.Fatalf("Complete: %v", err)
		}
		got = append(got, resp.Content)
	}
	if want := []string{"ollama", "ollama", "lmstudio"}; !slices.Equal(got, want) {
		t.Errorf("answers = %v, want %v", got, want)
	}
	if primary.CallCount() != 3 {
		t.Errorf("primary calls = %d, want 3 while its breaker stays closed", primary.CallCount())
	}
}

func TestSTTFallback_Transcribe(t *testing.T) {
	t.Parallel()
	primary := &sttmock.Provider{Err: errors.New("whisper server: 503")}
	secondary := &sttmock.Provider{Result: stt.Transcript{Text: "bonjour"}}

	fb := NewSTTFallback(primary, "whisper", FallbackConfig{})
	fb.AddFallback("whisper-native", secondary)

	got, err := fb.Transcribe(context.Background(), stt.Request{Path: "clip.wav", Language: "fr"})
	if err != nil || got.Text != "bonjour" {
		t.Fatalf("Transcribe = %q, %v", got.Text, err)
	}
	call, _ := secondary.LastCall()
	if call.Req.Language != "fr" {
		t.Errorf("language = %q, want fr", call.Req.Language)
	}
}

func TestSTTFallback_MissingFileIsNotABackendFailure(t *testing.T) {
	t.Parallel()
	primary := &sttmock.Provider{Err: &fs.PathError{Op: "open", Path: "gone.wav", Err: fs.ErrNotExist}}
	secondary := &sttmock.Provider{Result: stt.Transcript{Text: "jamais"}}

	fb := NewSTTFallback(primary, "whisper", FallbackConfig{Breaker: BreakerConfig{Threshold: 1}})
	fb.AddFallback("whisper-native", secondary)

	for range 3 {
		if _, err := fb.Transcribe(context.Background(), stt.Request{Path: "gone.wav"}); !errors.Is(err, fs.ErrNotExist) {
			t.Fatalf("err = %v, want fs.ErrNotExist", err)
		}
	}
	if secondary.CallCount() != 0 {
		t.Error("fallback must not be tried for a missing file")
	}
	if primary.CallCount() != 3 {
		t.Errorf("primary called %d times, want 3: its breaker must stay closed", primary.CallCount())
	}
}

func TestTTSFallback_Synthesize(t *testing.T) {
	t.Parallel()
	voice := wav.Waveform{SampleRate: 16000, SampleWidth: 2, Channels: 1, Data: make([]byte, 640)}

	tests := []struct {
		name      string
		primary   *ttsmock.Provider
		wantErr   error
		wantFalls int
	}{
		{name: "failover", primary: &ttsmock.Provider{Err: errors.New("coqui: 500")}, wantFalls: 1},
		{name: "empty text returned as is", primary: &ttsmock.Provider{Err: tts.ErrEmptyText}, wantErr: tts.ErrEmptyText},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			secondary := &ttsmock.Provider{Result: voice}
			fb := NewTTSFallback(tt.primary, "coqui", FallbackConfig{})
			fb.AddFallback("coqui-backup", secondary)

			w, err := fb.Synthesize(context.Background(), "Il est midi.", tts.VoiceProfile{ID: "fr-1"})
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) || errors.Is(err, ErrAllFailed) {
					t.Fatalf("err = %v, want bare %v", err, tt.wantErr)
				}
			} else if err != nil || w.SampleRate != 16000 {
				t.Fatalf("Synthesize = %d Hz, %v", w.SampleRate, err)
			}
			if got := len(secondary.Texts()); got != tt.wantFalls {
				t.Errorf("fallback synthesized %d times, want %d", got, tt.wantFalls)
			}
		})
	}
}

func TestTTSFallback_ListVoices(t *testing.T) {
	t.Parallel()
	primary := &ttsmock.Provider{ListVoicesErr: errors.New("list failed")}
	secondary := &ttsmock.Provider{Voices: []tts.VoiceProfile{{ID: "fr-1", Name: "Claude"}}}

	fb := NewTTSFallback(primary, "coqui", FallbackConfig{})
	fb.AddFallback("coqui-backup", secondary)

	voices, err := fb.ListVoices(context.Background())
	if err != nil || len(voices) != 1 || voices[0].ID != "fr-1" {
		t.Fatalf("ListVoices = %+v, %v", voices, err)
	}
}

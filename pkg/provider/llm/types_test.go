package llm_test

import (
	"testing"

	"github.com/MrWong99/murmur/pkg/provider/llm"
)

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		text string
		want int
	}{
		{"", 0},
		{"a", 1},
		{"abcd", 1},
		{"abcde", 2},
		{"éèàù", 1}, // runes, not bytes
	}
	for _, tt := range tests {
		if got := llm.EstimateTokens(tt.text); got != tt.want {
			t.Errorf("EstimateTokens(%q) = %d, want %d", tt.text, got, tt.want)
		}
	}
}

func TestEstimateMessages(t *testing.T) {
	msgs := []llm.Message{
		{Role: llm.RoleUser, Content: "abcdefgh"},
		{Role: llm.RoleAssistant, Content: ""},
	}
	if got := llm.EstimateMessages(msgs); got != 2+4+0+4 {
		t.Errorf("EstimateMessages = %d, want 10", got)
	}
}

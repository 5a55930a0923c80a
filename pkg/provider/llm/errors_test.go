package llm_test

import (
	"strings"
	"testing"

	"github.com/MrWong99/murmur/pkg/provider/llm"
)

func TestNewStatusError(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		body     string
		wantBody int
		wantMsg  string
	}{
		{name: "empty", body: "", wantBody: 0, wantMsg: "llm: status 503"},
		{name: "short", body: "model not loaded", wantBody: 16, wantMsg: "llm: status 503: model not loaded"},
		{name: "truncated", body: strings.Repeat("x", 500), wantBody: 200},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := llm.NewStatusError(503, tt.body)
			if len(err.Body) != tt.wantBody {
				t.Errorf("body length = %d, want %d", len(err.Body), tt.wantBody)
			}
			if tt.wantMsg != "" && err.Error() != tt.wantMsg {
				t.Errorf("Error() = %q, want %q", err.Error(), tt.wantMsg)
			}
		})
	}
}

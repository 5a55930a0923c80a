// Package coqui provides a TTS provider backed by a local Coqui TTS server.
// It implements the tts.Provider interface.
//
// Two API modes are supported:
//
//   - APIModeStandard (default): the standard Coqui TTS server
//     (ghcr.io/coqui-ai/tts-cpu). Synthesis is GET /api/tts with URL query
//     parameters; the voice catalogue comes from GET /details.
//
//   - APIModeXTTS: the Coqui XTTS v2 API server. Synthesis is POST
//     /tts_to_audio/ with a JSON body; the voice catalogue comes from
//     GET /studio_speakers.
//
// Long answers are split into sentences that are synthesised concurrently
// (bounded by a small lookahead) and concatenated in order.
//
// Typical usage:
//
//	p, _ := coqui.New("http://localhost:5002", coqui.WithLanguage("fr"))
//	w, err := p.Synthesize(ctx, "Bonjour à tous.", tts.VoiceProfile{})
package coqui

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"
	"unicode"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/murmur/pkg/audio/wav"
	"github.com/MrWong99/murmur/pkg/provider/tts"
)

var _ tts.Provider = (*Provider)(nil)

const (
	defaultLanguage        = "fr"
	defaultTimeout         = 30 * time.Second
	ttsEndpoint            = "/tts_to_audio/"
	studioSpeakersEndpoint = "/studio_speakers"
	apiTTSEndpoint         = "/api/tts"
	detailsEndpoint        = "/details"

	// sentenceLookahead bounds the synthesis requests in flight at once.
	sentenceLookahead = 4
)

// APIMode selects which Coqui server API the provider will target.
type APIMode string

const (
	// APIModeXTTS targets the Coqui XTTS v2 API server (/tts_to_audio/).
	APIModeXTTS APIMode = "xtts"

	// APIModeStandard targets the standard Coqui TTS server (/api/tts).
	APIModeStandard APIMode = "standard"
)

// Option is a functional option for configuring a Coqui Provider.
type Option func(*Provider)

// WithLanguage sets the language code sent to the TTS server. Defaults to "fr".
func WithLanguage(lang string) Option {
	return func(p *Provider) {
		p.language = lang
	}
}

// WithTimeout sets the per-request HTTP timeout. Defaults to 30 s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.httpClient.Timeout = d
	}
}

// WithAPIMode sets the server API mode.
func WithAPIMode(mode APIMode) Option {
	return func(p *Provider) {
		p.apiMode = mode
	}
}

// WithHTTPClient replaces the HTTP client. The timeout option no longer
// applies once this is set.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// Provider implements tts.Provider backed by a Coqui TTS server. It is safe
// for concurrent use.
type Provider struct {
	serverURL  string
	language   string
	httpClient *http.Client
	apiMode    APIMode
}

// New creates a Provider that targets the TTS server at serverURL
// (e.g., "http://localhost:5002").
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("coqui: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:  strings.TrimRight(serverURL, "/"),
		language:   defaultLanguage,
		apiMode:    APIModeStandard,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	if p.apiMode != APIModeStandard && p.apiMode != APIModeXTTS {
		return nil, fmt.Errorf("coqui: unknown API mode %q", p.apiMode)
	}
	return p, nil
}

// ttsRequest is the JSON body sent to POST /tts_to_audio/ (XTTS mode).
type ttsRequest struct {
	Text       string `json:"text"`
	SpeakerWav string `json:"speaker_wav"`
	Language   string `json:"language"`
}

// studioSpeakersResponse is the map[name]any returned by GET /studio_speakers.
// Only the keys are used.
type studioSpeakersResponse map[string]json.RawMessage

// detailsResponse is the JSON body returned by GET /details (standard mode).
// Speakers is nil for single-speaker models.
type detailsResponse struct {
	ModelName string   `json:"model_name"`
	Language  string   `json:"language"`
	Speakers  []string `json:"speakers"`
}

// Synthesize splits text into sentences, synthesises each one and joins the
// results into a single waveform.
func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.VoiceProfile) (wav.Waveform, error) {
	// XTTS always needs a reference speaker; standard single-speaker models
	// work without one.
	if voice.ID == "" && p.apiMode == APIModeXTTS {
		return wav.Waveform{}, errors.New("coqui: voice.ID must not be empty (required for XTTS mode)")
	}
	sentences := splitSentences(text)
	if len(sentences) == 0 {
		return wav.Waveform{}, tts.ErrEmptyText
	}

	parts := make([]wav.Waveform, len(sentences))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(sentenceLookahead)
	for i, sentence := range sentences {
		g.Go(func() error {
			w, err := p.synthesize(gctx, sentence, voice)
			if err != nil {
				return err
			}
			parts[i] = w
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return wav.Waveform{}, err
	}
	return join(parts)
}

// join concatenates waveforms that share one layout.
func join(parts []wav.Waveform) (wav.Waveform, error) {
	out := parts[0]
	out.Data = bytes.Clone(out.Data)
	for _, w := range parts[1:] {
		if w.SampleRate != out.SampleRate || w.SampleWidth != out.SampleWidth || w.Channels != out.Channels {
			return wav.Waveform{}, fmt.Errorf("coqui: server changed audio format mid-answer (%d Hz/%d ch, then %d Hz/%d ch)",
				out.SampleRate, out.Channels, w.SampleRate, w.Channels)
		}
		out.Data = append(out.Data, w.Data...)
	}
	if out.SampleWidth != 2 {
		return wav.Waveform{}, fmt.Errorf("coqui: unsupported sample width %d", out.SampleWidth)
	}
	return out, nil
}

// synthesize renders one sentence in the configured API mode.
func (p *Provider) synthesize(ctx context.Context, sentence string, voice tts.VoiceProfile) (wav.Waveform, error) {
	var (
		req      *http.Request
		err      error
		endpoint string
	)
	if p.apiMode == APIModeStandard {
		endpoint = apiTTSEndpoint
		params := url.Values{}
		params.Set("text", sentence)
		if voice.ID != "" {
			params.Set("speaker_id", voice.ID)
		}
		if p.language != "" {
			params.Set("language_id", p.language)
		}
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, p.serverURL+endpoint+"?"+params.Encode(), nil)
	} else {
		endpoint = ttsEndpoint
		var data []byte
		data, err = json.Marshal(ttsRequest{Text: sentence, SpeakerWav: voice.ID, Language: p.language})
		if err != nil {
			return wav.Waveform{}, fmt.Errorf("coqui: marshal tts request: %w", err)
		}
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+endpoint, bytes.NewReader(data))
		if req != nil {
			req.Header.Set("Content-Type", "application/json")
		}
	}
	if err != nil {
		return wav.Waveform{}, fmt.Errorf("coqui: create tts request: %w", err)
	}
	req.Header.Set("Accept", "audio/wav")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return wav.Waveform{}, fmt.Errorf("coqui: %s %s: %w", req.Method, endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return wav.Waveform{}, fmt.Errorf("coqui: %s %s returned status %d", req.Method, endpoint, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return wav.Waveform{}, fmt.Errorf("coqui: read WAV response: %w", err)
	}
	w, err := wav.Decode(bytes.NewReader(body))
	if err != nil {
		return wav.Waveform{}, fmt.Errorf("coqui: decode WAV response: %w", err)
	}
	return w, nil
}

// ListVoices returns the server's voice catalogue sorted by name.
//
// XTTS servers list their studio speakers. Standard servers list one profile
// per speaker of a multi-speaker model, or a single profile named after the
// model otherwise.
func (p *Provider) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	if p.apiMode == APIModeXTTS {
		var raw studioSpeakersResponse
		if err := p.getJSON(ctx, studioSpeakersEndpoint, &raw); err != nil {
			return nil, err
		}
		names := slices.Sorted(maps.Keys(raw))
		return profiles(names, map[string]string{"type": "studio"}), nil
	}

	var details detailsResponse
	if err := p.getJSON(ctx, detailsEndpoint, &details); err != nil {
		return nil, err
	}
	if len(details.Speakers) > 0 {
		speakers := slices.Clone(details.Speakers)
		slices.Sort(speakers)
		return profiles(speakers, map[string]string{"type": "speaker", "model_name": details.ModelName}), nil
	}
	name := cmp.Or(details.ModelName, "default")
	return profiles([]string{name}, map[string]string{"type": "single-speaker", "model_name": name}), nil
}

func profiles(names []string, meta map[string]string) []tts.VoiceProfile {
	out := make([]tts.VoiceProfile, 0, len(names))
	for _, n := range names {
		out = append(out, tts.VoiceProfile{ID: n, Name: n, Provider: "coqui", Metadata: maps.Clone(meta)})
	}
	return out
}

func (p *Provider) getJSON(ctx context.Context, endpoint string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.serverURL+endpoint, nil)
	if err != nil {
		return fmt.Errorf("coqui: create list-voices request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("coqui: GET %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("coqui: GET %s returned status %d", endpoint, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("coqui: decode %s: %w", endpoint, err)
	}
	return nil
}

// splitSentences cuts text at sentence boundaries and drops empty pieces.
func splitSentences(text string) []string {
	var out []string
	rest := text
	for {
		idx := findSentenceBoundary(rest)
		if idx < 0 {
			break
		}
		if s := strings.TrimSpace(rest[:idx+1]); s != "" {
			out = append(out, s)
		}
		rest = rest[idx+1:]
	}
	if s := strings.TrimSpace(rest); s != "" {
		out = append(out, s)
	}
	return out
}

// findSentenceBoundary returns the index of the first '.', '!' or '?' that is
// at the end of s or followed by whitespace, or -1. "3.14" and "Dr.X" are not
// boundaries.
func findSentenceBoundary(s string) int {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '.' || c == '!' || c == '?' {
			if i+1 >= len(s) || unicode.IsSpace(rune(s[i+1])) {
				return i
			}
		}
	}
	return -1
}

// Package whisper transcribes recordings with whisper.cpp, either through a
// whisper-server over HTTP ([Provider]) or in-process through the CGO
// bindings ([NativeProvider]). Recordings are resampled to the 16 kHz mono
// whisper expects, so Discord captures can be passed as they are.
//
//	p, err := whisper.New("http://localhost:8080", whisper.WithLanguage("fr"))
//	t, err := p.Transcribe(ctx, stt.Request{Path: "vad_trimmed_x.wav"})
package whisper

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/MrWong99/murmur/pkg/audio/wav"
	"github.com/MrWong99/murmur/pkg/provider/stt"
)

const (
	defaultLanguage = "fr"
	defaultTimeout  = 60 * time.Second
)

var _ stt.Provider = (*Provider)(nil)

// Option configures a [Provider].
type Option func(*Provider)

// WithModel names the model the server should use, e.g. "small". Unset, the
// server keeps the model it was started with.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithLanguage sets the language used when a request names none. Default "fr".
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithPrompt primes the decoder with text, e.g. names it should spell right.
func WithPrompt(prompt string) Option {
	return func(p *Provider) { p.prompt = prompt }
}

// WithHTTPClient replaces the HTTP client. The default times out after 60 s.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// Provider uploads recordings to a whisper.cpp server.
type Provider struct {
	endpoint   string
	model      string
	language   string
	prompt     string
	httpClient *http.Client
}

// New returns a Provider for the server at serverURL, e.g.
// "http://localhost:8080".
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	p := &Provider{
		endpoint:   strings.TrimRight(serverURL, "/") + "/inference",
		language:   defaultLanguage,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Transcribe converts req.Path to 16 kHz mono and uploads it.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (stt.Transcript, error) {
	w, dur, err := loadForWhisper(req.Path)
	if err != nil {
		return stt.Transcript{}, err
	}
	if len(w.Data) == 0 {
		return stt.Transcript{}, stt.ErrNoAudio
	}
	lang := cmp.Or(req.Language, p.language)

	upload, err := spoolWave(w)
	if err != nil {
		return stt.Transcript{}, err
	}
	defer func() {
		upload.Close()
		os.Remove(upload.Name())
	}()

	text, err := p.infer(ctx, upload, lang)
	if err != nil {
		return stt.Transcript{}, err
	}
	return stt.Transcript{Text: text, Language: lang, AudioDuration: dur}, nil
}

// infer streams wave as multipart/form-data to the server and returns the
// trimmed text.
func (p *Provider) infer(ctx context.Context, wave io.Reader, lang string) (string, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(p.writeForm(mw, wave, lang))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, pr)
	if err != nil {
		pr.CloseWithError(err)
		return "", fmt.Errorf("whisper: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("whisper: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("whisper: server returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	var result struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("whisper: parse JSON response: %w", err)
	}
	return strings.TrimSpace(result.Text), nil
}

// writeForm writes the audio part and the non-empty fields, then closes mw.
func (p *Provider) writeForm(mw *multipart.Writer, wave io.Reader, lang string) error {
	part, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, wave); err != nil {
		return fmt.Errorf("whisper: upload audio: %w", err)
	}
	fields := [][2]string{
		{"language", lang},
		{"model", p.model},
		{"prompt", p.prompt},
		{"response_format", "json"},
	}
	for _, f := range fields {
		if f[1] == "" {
			continue
		}
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return err
		}
	}
	return mw.Close()
}

// spoolWave encodes w into a temporary file positioned at its start. The
// WAVE encoder seeks back to patch the header, so it cannot write to the
// request directly. The caller removes the file.
func spoolWave(w wav.Waveform) (*os.File, error) {
	f, err := os.CreateTemp("", "murmur-whisper-*.wav")
	if err != nil {
		return nil, fmt.Errorf("whisper: create temp file: %w", err)
	}
	err = wav.Encode(f, w)
	if err == nil {
		_, err = f.Seek(0, io.SeekStart)
	}
	if err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, fmt.Errorf("whisper: spool upload: %w", err)
	}
	return f, nil
}

// Package assistant answers questions with the language model, optionally
// grounded on a web search, and recognises spoken wake phrases.
//
// [Assistant.Ask] keeps a per-user conversation through a
// [conversation.Manager]; [Assistant.AskWeb] is stateless and builds a single
// prompt around the top search results. The text helpers prepare answers for
// Discord (message-sized chunks) and for speech synthesis.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/murmur/internal/conversation"
	"github.com/MrWong99/murmur/internal/observe"
	"github.com/MrWong99/murmur/internal/search"
	"github.com/MrWong99/murmur/pkg/provider/llm"
)

var (
	// ErrEmptyQuestion is returned when the question is blank.
	ErrEmptyQuestion = errors.New("assistant: empty question")

	// ErrEmptyAnswer is returned when the model produced no text.
	ErrEmptyAnswer = errors.New("assistant: model returned an empty answer")
)

const (
	// webContextLimit caps the search context placed in the prompt, in runes.
	webContextLimit = 3000

	// snippetLimit caps each search snippet, in runes.
	snippetLimit = 300

	noWebResults = "Aucune information web pertinente n'a été trouvée pour cette question."
)

// Params are the sampling settings sent with every completion. They can be
// changed at runtime with [Assistant.SetParams].
type Params struct {
	MaxTokens   int
	Temperature float64
	TopP        float64

	// WebResults is the number of search hits fed to AskWeb.
	WebResults int
}

// DefaultParams mirror the settings the bot was tuned with on a local
// Mistral 7B instruct model.
func DefaultParams() Params {
	return Params{MaxTokens: 1024, Temperature: 0.6, TopP: 0.9, WebResults: 3}
}

// Option configures an [Assistant].
type Option func(*Assistant)

// WithClock overrides the time source used for the dated prompts.
func WithClock(now func() time.Time) Option {
	return func(a *Assistant) { a.now = now }
}

// WithMetrics records LLM and search calls on m. llmName and searchName
// label the provider attribute.
func WithMetrics(m *observe.Metrics, llmName, searchName string) Option {
	return func(a *Assistant) {
		a.metrics = m
		a.llmName = llmName
		a.searchName = searchName
	}
}

// Assistant is safe for concurrent use.
type Assistant struct {
	llm      llm.Provider
	conv     *conversation.Manager
	searcher search.Searcher
	now      func() time.Time

	metrics    *observe.Metrics
	llmName    string
	searchName string

	mu     sync.RWMutex
	params Params
}

// New creates an Assistant. searcher may be nil, in which case AskWeb
// answers without web context.
func New(provider llm.Provider, conv *conversation.Manager, searcher search.Searcher, params Params, opts ...Option) (*Assistant, error) {
	if provider == nil {
		return nil, errors.New("assistant: llm provider must not be nil")
	}
	if conv == nil {
		return nil, errors.New("assistant: conversation manager must not be nil")
	}
	a := &Assistant{
		llm:      provider,
		conv:     conv,
		searcher: searcher,
		now:      time.Now,
		params:   params,
	}
	for _, o := range opts {
		o(a)
	}
	return a, nil
}

// Params returns the current sampling settings.
func (a *Assistant) Params() Params {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.params
}

// SetParams replaces the sampling settings for subsequent questions.
func (a *Assistant) SetParams(p Params) {
	a.mu.Lock()
	a.params = p
	a.mu.Unlock()
}

// Ask answers question in the context of userID's conversation. On success
// the question and answer are added to the history; on failure the history
// is left as it was.
func (a *Assistant) Ask(ctx context.Context, userID, question string) (string, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return "", ErrEmptyQuestion
	}
	ctx, span := observe.StartSpan(ctx, "assistant.Ask")
	defer span.End()

	prompt := fmt.Sprintf("Date actuelle: %s. Question de l'utilisateur: %s",
		a.now().Format("02 January 2006, 15:04"), question)

	return a.conv.Exchange(ctx, userID, prompt, func(ctx context.Context, messages []llm.Message) (string, error) {
		return a.complete(ctx, messages)
	})
}

// AskWeb searches the web for question and asks the model to answer strictly
// from the results. It does not read or change any conversation history.
func (a *Assistant) AskWeb(ctx context.Context, question string) (string, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return "", ErrEmptyQuestion
	}
	ctx, span := observe.StartSpan(ctx, "assistant.AskWeb")
	defer span.End()

	webContext := a.webContext(ctx, question)
	prompt := "En te basant STRICTEMENT sur les informations suivantes extraites du web, réponds à la question de l'utilisateur. " +
		"Si les informations ne permettent pas de répondre, indique-le clairement.\n\n" +
		"Date actuelle: " + a.now().Format("02 January 2006") + "\n" +
		"--- Début des informations web ---\n" + webContext + "\n--- Fin des informations web ---\n\n" +
		"Question de l'utilisateur : " + question + "\n\nRéponse :"

	return a.complete(ctx, []llm.Message{{Role: llm.RoleUser, Content: prompt}})
}

// Clear forgets userID's conversation and reports whether there was one.
func (a *Assistant) Clear(ctx context.Context, userID string) (bool, error) {
	return a.conv.Clear(ctx, userID)
}

// webContext renders the top search hits. Search failures degrade to the
// "nothing found" text rather than failing the question.
func (a *Assistant) webContext(ctx context.Context, question string) string {
	var b strings.Builder
	b.WriteString("Informations trouvées sur le web :\n")

	var results []search.Result
	if a.searcher != nil {
		start := time.Now()
		var err error
		results, err = a.searcher.Search(ctx, question+" récent", a.Params().WebResults)
		if a.metrics != nil {
			recErr := err
			if errors.Is(err, search.ErrNoResults) {
				recErr = nil
			}
			a.metrics.RecordProviderCall(ctx, a.searchName, "search", time.Since(start), recErr)
		}
		if err != nil && !errors.Is(err, search.ErrNoResults) {
			observe.Logger(ctx).Warn("web search failed", "err", err)
		}
	}

	if len(results) == 0 {
		b.WriteString(noWebResults)
	}
	for i, r := range results {
		fmt.Fprintf(&b, "Source %d: %s - %s...\n", i+1, r.Title, truncateRunes(r.Snippet, snippetLimit))
	}
	return truncateRunes(b.String(), webContextLimit)
}

func (a *Assistant) complete(ctx context.Context, messages []llm.Message) (string, error) {
	p := a.Params()
	start := time.Now()
	resp, err := a.llm.Complete(ctx, llm.CompletionRequest{
		Messages:    messages,
		MaxTokens:   p.MaxTokens,
		Temperature: p.Temperature,
		TopP:        p.TopP,
	})
	if a.metrics != nil {
		a.metrics.RecordProviderCall(ctx, a.llmName, "llm", time.Since(start), err)
	}
	if err != nil {
		return "", fmt.Errorf("assistant: completion: %w", err)
	}
	answer := ""
	if resp != nil {
		answer = strings.TrimSpace(resp.Content)
	}
	if answer == "" {
		return "", ErrEmptyAnswer
	}
	slog.Debug("assistant answered", "chars", len(answer), "messages", len(messages))
	return answer, nil
}

// Package conversation owns the per-user chat histories sent to the language
// model.
//
// A [Manager] loads a user's history from a [memory.HistoryStore], appends the
// new question, trims the oldest turns until the estimated token count fits
// the budget and hands the result to the caller. Only when the caller reports
// a successful answer are the trimmed history, the question and the answer
// written back. A failed exchange leaves the stored history untouched.
//
// Exchanges for the same user are serialised; different users proceed in
// parallel.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MrWong99/murmur/pkg/memory"
	"github.com/MrWong99/murmur/pkg/provider/llm"
)

// DefaultTokenBudget is the history budget used when none is configured.
const DefaultTokenBudget = 1800

// TokenCounter estimates the prompt size of a message list. [llm.Provider]
// satisfies it.
type TokenCounter interface {
	CountTokens(messages []llm.Message) (int, error)
}

// AnswerFunc produces the assistant's reply for the trimmed history. A
// non-nil error aborts the exchange without touching the stored history.
type AnswerFunc func(ctx context.Context, messages []llm.Message) (string, error)

// Manager is safe for concurrent use.
type Manager struct {
	store   memory.HistoryStore
	counter TokenCounter
	now     func() time.Time

	mu     sync.Mutex
	budget int
	users  map[string]*sync.Mutex
}

// Option configures a [Manager].
type Option func(*Manager)

// WithClock overrides the time source used to stamp stored turns.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager returns a Manager. A non-positive budget selects
// [DefaultTokenBudget].
func NewManager(store memory.HistoryStore, counter TokenCounter, budget int, opts ...Option) (*Manager, error) {
	if store == nil {
		return nil, errors.New("conversation: store must not be nil")
	}
	if counter == nil {
		return nil, errors.New("conversation: token counter must not be nil")
	}
	if budget <= 0 {
		budget = DefaultTokenBudget
	}
	m := &Manager{
		store:   store,
		counter: counter,
		now:     time.Now,
		budget:  budget,
		users:   make(map[string]*sync.Mutex),
	}
	for _, o := range opts {
		o(m)
	}
	return m, nil
}

// SetBudget changes the token budget for subsequent exchanges.
func (m *Manager) SetBudget(budget int) {
	if budget <= 0 {
		budget = DefaultTokenBudget
	}
	m.mu.Lock()
	m.budget = budget
	m.mu.Unlock()
}

// Budget returns the current token budget.
func (m *Manager) Budget() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.budget
}

// Exchange runs one question/answer round for userID. question is the user
// message exactly as it should be sent to the model.
func (m *Manager) Exchange(ctx context.Context, userID, question string, answer AnswerFunc) (string, error) {
	unlock := m.lockUser(userID)
	defer unlock()

	turns, err := m.store.Load(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("conversation: load history: %w", err)
	}

	messages := make([]llm.Message, 0, len(turns)+1)
	for _, t := range turns {
		messages = append(messages, llm.Message{Role: t.Role, Content: t.Content})
	}
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: question})

	messages, err = m.trim(messages)
	if err != nil {
		return "", err
	}
	// Trimming only drops from the front, so the kept stored turns are the
	// tail of turns.
	kept := turns[len(turns)-(len(messages)-1):]

	reply, err := answer(ctx, messages)
	if err != nil {
		return "", err
	}

	now := m.now()
	updated := make([]memory.Turn, 0, len(kept)+2)
	updated = append(updated, kept...)
	updated = append(updated,
		memory.Turn{Role: llm.RoleUser, Content: question, CreatedAt: now},
		memory.Turn{Role: llm.RoleAssistant, Content: reply, CreatedAt: now},
	)
	if err := m.store.Replace(ctx, userID, updated); err != nil {
		return reply, fmt.Errorf("conversation: save history: %w", err)
	}
	return reply, nil
}

// Clear deletes userID's history and reports whether there was one.
func (m *Manager) Clear(ctx context.Context, userID string) (bool, error) {
	unlock := m.lockUser(userID)
	defer unlock()
	existed, err := m.store.Clear(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("conversation: clear history: %w", err)
	}
	return existed, nil
}

// History returns userID's stored history as model messages.
func (m *Manager) History(ctx context.Context, userID string) ([]llm.Message, error) {
	turns, err := m.store.Load(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("conversation: load history: %w", err)
	}
	out := make([]llm.Message, len(turns))
	for i, t := range turns {
		out[i] = llm.Message{Role: t.Role, Content: t.Content}
	}
	return out, nil
}

// trim drops messages from the front until the estimate fits the budget. The
// newest message is always kept, even when it alone exceeds the budget.
func (m *Manager) trim(messages []llm.Message) ([]llm.Message, error) {
	budget := m.Budget()
	for len(messages) > 1 {
		n, err := m.counter.CountTokens(messages)
		if err != nil {
			return nil, fmt.Errorf("conversation: count tokens: %w", err)
		}
		if n <= budget {
			break
		}
		messages = messages[1:]
	}
	return messages, nil
}

func (m *Manager) lockUser(userID string) func() {
	m.mu.Lock()
	l, ok := m.users[userID]
	if !ok {
		l = &sync.Mutex{}
		m.users[userID] = l
	}
	m.mu.Unlock()
	l.Lock()
	return l.Unlock
}

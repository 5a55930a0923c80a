// Package openai talks to OpenAI-compatible chat completion servers. The bot
// uses it for LM Studio's local server, which needs no API key.
package openai

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/MrWong99/murmur/pkg/provider/llm"
)

// localAPIKey is sent to servers that ignore authentication; the SDK refuses
// to build requests without a key.
const localAPIKey = "lm-studio"

var _ llm.Provider = (*Provider)(nil)

// Provider is one model on one server.
type Provider struct {
	client oai.Client
	model  string
}

type settings struct {
	local   bool // a base URL was given
	timeout time.Duration
	client  *http.Client
	request []option.RequestOption
}

// Option configures [New].
type Option func(*settings)

// WithBaseURL points the client at another server, e.g.
// "http://127.0.0.1:1234/v1" for LM Studio.
func WithBaseURL(url string) Option {
	return func(s *settings) {
		s.local = true
		s.request = append(s.request, option.WithBaseURL(url))
	}
}

// WithOrganization sends an OpenAI organization ID.
func WithOrganization(org string) Option {
	return func(s *settings) { s.request = append(s.request, option.WithOrganization(org)) }
}

// WithHeader adds a header to every request, e.g. for a proxy in front of
// the server.
func WithHeader(key, value string) Option {
	return func(s *settings) { s.request = append(s.request, option.WithHeader(key, value)) }
}

// WithTimeout bounds each HTTP request. Ignored with [WithHTTPClient].
func WithTimeout(d time.Duration) Option {
	return func(s *settings) { s.timeout = d }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(s *settings) { s.client = hc }
}

// New returns a Provider for model. apiKey may only be empty together with
// [WithBaseURL].
func New(apiKey string, model string, opts ...Option) (*Provider, error) {
	if model == "" {
		return nil, errors.New("openai: model must not be empty")
	}
	var s settings
	for _, o := range opts {
		o(&s)
	}
	if apiKey == "" && !s.local {
		return nil, errors.New("openai: apiKey must not be empty without a base URL")
	}

	// Retries belong to the fallback chain, not the SDK.
	request := []option.RequestOption{
		option.WithAPIKey(cmp.Or(apiKey, localAPIKey)),
		option.WithMaxRetries(0),
	}
	switch {
	case s.client != nil:
		request = append(request, option.WithHTTPClient(s.client))
	case s.timeout > 0:
		request = append(request, option.WithHTTPClient(&http.Client{Timeout: s.timeout}))
	}
	request = append(request, s.request...)

	return &Provider{client: oai.NewClient(request...), model: model}, nil
}

// Complete implements [llm.Provider]. Failures wrap [llm.ErrUnavailable],
// [llm.ErrEmptyResponse] or an [*llm.StatusError] where they apply.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, fmt.Errorf("openai: build params: %w", err)
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai: chat completion: %w", classify(err))
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai: %w: no choices", llm.ErrEmptyResponse)
	}

	choice := resp.Choices[0]
	return &llm.CompletionResponse{
		Content:      strings.TrimSpace(choice.Message.Content),
		FinishReason: choice.FinishReason,
		Usage: llm.Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}, nil
}

// classify maps SDK and transport errors onto the llm error kinds.
func classify(err error) error {
	var apiErr *oai.Error
	if errors.As(err, &apiErr) {
		body := apiErr.Message
		if body == "" {
			body = apiErr.RawJSON()
		}
		return errors.Join(llm.NewStatusError(apiErr.StatusCode, body), err)
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return fmt.Errorf("%w: %w", llm.ErrUnavailable, err)
	}
	return err
}

// CountTokens implements [llm.Provider] with the shared estimate.
func (p *Provider) CountTokens(messages []llm.Message) (int, error) {
	return llm.EstimateMessages(messages), nil
}

func (p *Provider) buildParams(req llm.CompletionRequest) (oai.ChatCompletionNewParams, error) {
	if len(req.Messages) == 0 {
		return oai.ChatCompletionNewParams{}, errors.New("no messages")
	}

	messages := make([]oai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		messages = append(messages, oai.SystemMessage(req.SystemPrompt))
	}
	for _, m := range req.Messages {
		msg, err := convertMessage(m)
		if err != nil {
			return oai.ChatCompletionNewParams{}, err
		}
		messages = append(messages, msg)
	}

	params := oai.ChatCompletionNewParams{Model: shared.ChatModel(p.model), Messages: messages}
	if req.Temperature != 0 {
		params.Temperature = param.NewOpt(req.Temperature)
	}
	if req.TopP != 0 {
		params.TopP = param.NewOpt(req.TopP)
	}
	if req.MaxTokens > 0 {
		// Local servers understand max_tokens, not max_completion_tokens.
		params.MaxTokens = param.NewOpt(int64(req.MaxTokens))
	}
	return params, nil
}

func convertMessage(m llm.Message) (oai.ChatCompletionMessageParamUnion, error) {
	switch m.Role {
	case llm.RoleSystem:
		return oai.SystemMessage(m.Content), nil
	case llm.RoleUser:
		return oai.UserMessage(m.Content), nil
	case llm.RoleAssistant:
		return oai.AssistantMessage(m.Content), nil
	}
	return oai.ChatCompletionMessageParamUnion{}, fmt.Errorf("openai: unknown message role %q", m.Role)
}

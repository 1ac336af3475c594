package model

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

type OpenAIOption func(*openAIOptions)

type openAIOptions struct {
	baseURL    string
	httpClient *http.Client
}

// OpenAIProvider talks to any chat-completions compatible API through go-openai.
type OpenAIProvider struct {
	name       string
	apiKey     string
	client     *openai.Client
	jsonFormat bool
}

func NewOpenAIProvider(apiKey string, opts ...OpenAIOption) *OpenAIProvider {
	return newChatCompletionsProvider("openai", apiKey, "", true, opts...)
}

func newChatCompletionsProvider(name, apiKey, defaultBaseURL string, jsonFormat bool, opts ...OpenAIOption) *OpenAIProvider {
	options := openAIOptions{
		baseURL: defaultBaseURL,
		httpClient: &http.Client{
			Timeout: 90 * time.Second,
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	key := strings.TrimSpace(apiKey)
	cfg := openai.DefaultConfig(key)
	if options.baseURL != "" {
		cfg.BaseURL = options.baseURL
	}
	cfg.HTTPClient = options.httpClient

	return &OpenAIProvider{
		name:       name,
		apiKey:     key,
		client:     openai.NewClientWithConfig(cfg),
		jsonFormat: jsonFormat,
	}
}

// WithOpenAIBaseURL points the client at a different API root, e.g. a test server.
func WithOpenAIBaseURL(baseURL string) OpenAIOption {
	return func(o *openAIOptions) {
		if trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/"); trimmed != "" {
			o.baseURL = trimmed
		}
	}
}

func WithOpenAIHTTPClient(client *http.Client) OpenAIOption {
	return func(o *openAIOptions) {
		if client != nil {
			o.httpClient = client
		}
	}
}

var _ Provider = (*OpenAIProvider)(nil)

func (p *OpenAIProvider) Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
	if p.apiKey == "" {
		return CompletionResponse{}, fmt.Errorf("%s api key is required", p.name)
	}
	if err := req.validate(); err != nil {
		return CompletionResponse{}, err
	}

	payload := openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    buildChatMessages(req),
		MaxTokens:   req.MaxTokens,
		Temperature: float32(req.Temperature),
	}
	if p.jsonFormat && req.ResponseFormat == ResponseFormatJSON {
		payload.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := p.client.CreateChatCompletion(ctx, payload)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return CompletionResponse{}, fmt.Errorf("%s request: %w", p.name, ctxErr)
		}
		return CompletionResponse{}, fmt.Errorf("%w: %s: %v", ErrProvider, p.name, err)
	}
	if len(resp.Choices) == 0 {
		return CompletionResponse{}, fmt.Errorf("%w: %s response has no choices", ErrProvider, p.name)
	}

	choice := resp.Choices[0]
	return CompletionResponse{
		Content: strings.TrimSpace(choice.Message.Content),
		Usage: Usage{
			InputTokens:  int64(resp.Usage.PromptTokens),
			OutputTokens: int64(resp.Usage.CompletionTokens),
		},
		Model:      resp.Model,
		StopReason: string(choice.FinishReason),
	}, nil
}

func buildChatMessages(req CompletionRequest) []openai.ChatCompletionMessage {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		})
	}
	for _, msg := range req.Messages {
		role := openai.ChatMessageRoleUser
		switch msg.Role {
		case RoleAssistant:
			role = openai.ChatMessageRoleAssistant
		case RoleSystem:
			role = openai.ChatMessageRoleSystem
		}
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    role,
			Content: msg.Content,
		})
	}
	return messages
}

// IsProviderError reports whether err originated upstream.
func IsProviderError(err error) bool {
	return errors.Is(err, ErrProvider)
}

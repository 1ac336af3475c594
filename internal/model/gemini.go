package model

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genai"
)

type GeminiOption func(*genai.ClientConfig)

// WithGeminiBaseURL overrides the Gemini API root.
func WithGeminiBaseURL(baseURL string) GeminiOption {
	return func(cfg *genai.ClientConfig) {
		if trimmed := strings.TrimSpace(baseURL); trimmed != "" {
			cfg.HTTPOptions.BaseURL = trimmed
		}
	}
}

func WithGeminiHTTPClient(client *http.Client) GeminiOption {
	return func(cfg *genai.ClientConfig) {
		if client != nil {
			cfg.HTTPClient = client
		}
	}
}

type GeminiProvider struct {
	client *genai.Client
}

func NewGeminiProvider(ctx context.Context, apiKey string, opts ...GeminiOption) (*GeminiProvider, error) {
	key := strings.TrimSpace(apiKey)
	if key == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	cfg := &genai.ClientConfig{
		APIKey:  key,
		Backend: genai.BackendGeminiAPI,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(cfg)
		}
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &GeminiProvider{client: client}, nil
}

var _ Provider = (*GeminiProvider)(nil)

func (p *GeminiProvider) Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
	if err := req.validate(); err != nil {
		return CompletionResponse{}, err
	}

	temperature := float32(req.Temperature)
	config := &genai.GenerateContentConfig{
		Temperature: &temperature,
	}
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.SystemPrompt != "" {
		config.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
	}
	if req.ResponseFormat == ResponseFormatJSON {
		config.ResponseMIMEType = "application/json"
	}

	contents := make([]*genai.Content, 0, len(req.Messages))
	for _, msg := range req.Messages {
		role := genai.Role(genai.RoleUser)
		if msg.Role == RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(msg.Content, role))
	}
	if len(contents) == 0 {
		// generateContent needs at least one turn
		contents = append(contents, genai.NewContentFromText(req.SystemPrompt, genai.RoleUser))
		config.SystemInstruction = nil
	}

	result, err := p.client.Models.GenerateContent(ctx, req.Model, contents, config)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return CompletionResponse{}, fmt.Errorf("gemini request: %w", ctxErr)
		}
		return CompletionResponse{}, fmt.Errorf("%w: gemini: %v", ErrProvider, err)
	}
	if len(result.Candidates) == 0 {
		return CompletionResponse{}, fmt.Errorf("%w: gemini response has no candidates", ErrProvider)
	}

	out := CompletionResponse{
		Content:    strings.TrimSpace(result.Text()),
		Model:      req.Model,
		StopReason: string(result.Candidates[0].FinishReason),
	}
	if result.ModelVersion != "" {
		out.Model = result.ModelVersion
	}
	if usage := result.UsageMetadata; usage != nil {
		out.Usage = Usage{
			InputTokens:  int64(usage.PromptTokenCount),
			OutputTokens: int64(usage.CandidatesTokenCount),
		}
	}
	return out, nil
}

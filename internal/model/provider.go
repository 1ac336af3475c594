package model

import (
	"context"
	"errors"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

type ResponseFormat string

const (
	ResponseFormatText ResponseFormat = "text"
	ResponseFormatJSON ResponseFormat = "json_object"
)

// ErrProvider marks failures that came from the upstream model API rather
// than from request construction.
var ErrProvider = errors.New("model provider error")

type Provider interface {
	Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error)
}

type CompletionRequest struct {
	Model          string
	SystemPrompt   string
	Messages       []Message
	MaxTokens      int
	Temperature    float64
	ResponseFormat ResponseFormat
}

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

type CompletionResponse struct {
	Content    string
	Usage      Usage
	Model      string
	StopReason string
}

type Usage struct {
	InputTokens  int64
	OutputTokens int64
}

func (r CompletionRequest) validate() error {
	if r.Model == "" {
		return errors.New("model is required")
	}
	if r.MaxTokens < 0 {
		return errors.New("max tokens must not be negative")
	}
	if len(r.Messages) == 0 && r.SystemPrompt == "" {
		return errors.New("at least one message is required")
	}
	return nil
}

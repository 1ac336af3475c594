package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"healthintel.local/gateway/internal/model"
)

type Mode string

const (
	ModeSearch          Mode = "search"
	ModeQuestion        Mode = "question"
	ModeAutocomplete    Mode = "autocomplete"
	ModeInsights        Mode = "insights"
	ModeRecommendations Mode = "recommendations"
)

var (
	ErrQueryRequired = errors.New("query is required")
	ErrInvalidMode   = errors.New("invalid mode")
)

type Context struct {
	FacilityType      string         `json:"facilityType,omitempty"`
	Category          string         `json:"category,omitempty"`
	CurrentFilters    map[string]any `json:"currentFilters,omitempty"`
	CurrentResults    int            `json:"currentResults,omitempty"`
	UserSearchHistory []string       `json:"userSearchHistory,omitempty"`
}

type Request struct {
	Query   string  `json:"query"`
	Mode    Mode    `json:"mode"`
	Context Context `json:"context"`
}

// Validate defaults the mode to search and rejects unusable requests.
func (r *Request) Validate() error {
	if strings.TrimSpace(r.Query) == "" {
		return ErrQueryRequired
	}
	if r.Mode == "" {
		r.Mode = ModeSearch
	}
	if _, ok := modeSettings[r.Mode]; !ok {
		return fmt.Errorf("%w %q", ErrInvalidMode, r.Mode)
	}
	return nil
}

type Service struct {
	provider model.Provider
	model    string
	logger   *zap.Logger
	now      func() time.Time
}

func NewService(provider model.Provider, modelName string, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if strings.TrimSpace(modelName) == "" {
		modelName = model.DefaultPerplexityModel
	}
	return &Service{
		provider: provider,
		model:    modelName,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Search answers a smart-search request. Provider and parse failures are
// answered with the mode's canned response and fallback=true; only invalid
// requests return an error.
func (s *Service) Search(ctx context.Context, req Request) (map[string]any, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	parsed, err := s.complete(ctx, req)
	if err != nil {
		s.logger.Warn("smart search fell back",
			zap.String("mode", string(req.Mode)),
			zap.Error(err),
		)
		out := fallbackResponse(req.Mode, req.Context)
		out["success"] = true
		out["fallback"] = true
		out["timestamp"] = s.timestamp()
		return out, nil
	}

	parsed["success"] = true
	parsed["mode"] = string(req.Mode)
	parsed["timestamp"] = s.timestamp()
	return parsed, nil
}

func (s *Service) complete(ctx context.Context, req Request) (map[string]any, error) {
	if s.provider == nil {
		return nil, errors.New("no search provider configured")
	}
	settings := modeSettings[req.Mode]
	resp, err := s.provider.Complete(ctx, model.CompletionRequest{
		Model:        s.model,
		SystemPrompt: settings.prompt(req.Query, req.Context),
		Messages:     []model.Message{{Role: model.RoleUser, Content: req.Query}},
		Temperature:  settings.temperature,
		MaxTokens:    settings.maxTokens,
	})
	if err != nil {
		return nil, err
	}

	parsed := map[string]any{}
	if err := model.DecodeJSON(resp.Content, &parsed); err != nil {
		return nil, fmt.Errorf("parse search response: %w", err)
	}
	return parsed, nil
}

func (s *Service) timestamp() string {
	return s.now().Format("2006-01-02T15:04:05.000Z07:00")
}

func filtersJSON(c Context) string {
	if len(c.CurrentFilters) == 0 {
		return "{}"
	}
	return mustJSON(c.CurrentFilters, "{}")
}

func mustJSON(v any, fallback string) string {
	encoded, err := json.Marshal(v)
	if err != nil {
		return fallback
	}
	return string(encoded)
}

func orDefault(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}

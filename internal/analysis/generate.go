package analysis

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"healthintel.local/gateway/internal/model"
	"healthintel.local/gateway/internal/session"
)

const (
	groundingTemperature = 0.2
	analysisTemperature  = 0.3
	analysisMaxTokens    = 2000
	profileTemperature   = 0.2
	profileFollowUpTemp  = 0.7
	profileFollowUpMax   = 200
	profileHistory       = 3
)

// Analyze runs a one-shot analysis. It does not change the session's stage
// or stored result.
func (s *Service) Analyze(ctx context.Context, sessionID string, req AnalyzeRequest) (Reply, error) {
	sess, err := s.ensure(ctx, sessionID)
	if err != nil {
		return Reply{}, err
	}
	s.logger.Info("full analysis requested",
		zap.String("session_id", sessionID),
		zap.Int("uploaded_files", req.UploadedFiles),
		zap.Int("selected_articles", req.SelectedArticles),
	)

	analysisType, _ := sess.Inputs["analysisType"].(string)
	result, err := s.generateAnalysis(ctx, analysisType, requestContext(req), req.Profile)
	if err != nil {
		return Reply{}, err
	}
	return Reply{Response: FormatAnalysis(result), AnalysisResults: &result}, nil
}

func (s *Service) generateAnalysis(ctx context.Context, analysisType, details string, profile *session.Profile) (session.Analysis, error) {
	webData := s.ground(ctx, analysisType)

	role := ""
	if profile != nil {
		role = strings.TrimSpace(profile.Role)
	}
	resp, err := s.extractor.Complete(ctx, model.CompletionRequest{
		Model:          s.cfg.AnalysisModel,
		SystemPrompt:   analysisPrompt(details, webData, role),
		Messages:       []model.Message{{Role: model.RoleUser, Content: analysisRequest}},
		Temperature:    analysisTemperature,
		MaxTokens:      analysisMaxTokens,
		ResponseFormat: model.ResponseFormatJSON,
	})
	if err != nil {
		return session.Analysis{}, fmt.Errorf("%w: %w", ErrAnalysis, err)
	}

	var result session.Analysis
	if strings.TrimSpace(resp.Content) != "" {
		if err := model.DecodeJSON(resp.Content, &result); err != nil {
			return session.Analysis{}, fmt.Errorf("%w: %w", ErrAnalysis, err)
		}
	}
	if strings.TrimSpace(result.UserRole) == "" {
		result.UserRole = orDefault(role, "Professional")
	}
	result.Timestamp = s.now().Format("2006-01-02T15:04:05.000Z07:00")
	result.Sources = append([]string(nil), analysisSources...)
	return result, nil
}

// ground fetches web context from the grounding provider. Failures are not
// fatal; the prompt falls back to general knowledge.
func (s *Service) ground(ctx context.Context, analysisType string) string {
	if s.grounder == nil {
		return ""
	}
	resp, err := s.grounder.Complete(ctx, model.CompletionRequest{
		Model:       s.cfg.GroundingModel,
		Messages:    []model.Message{{Role: model.RoleUser, Content: groundingQuery(analysisType)}},
		Temperature: groundingTemperature,
	})
	if err != nil {
		s.logger.Warn("web grounding failed", zap.Error(err))
		return ""
	}
	return resp.Content
}

// Profile extracts the user's profile from the latest message and a few
// prior client-side turns. A complete profile is stored on the session.
func (s *Service) Profile(ctx context.Context, sessionID, userMessage string, history []session.Message) (Reply, error) {
	if _, err := s.ensure(ctx, sessionID); err != nil {
		return Reply{}, err
	}
	if len(history) > profileHistory {
		history = history[len(history)-profileHistory:]
	}

	profile, complete, err := s.extractProfile(ctx, history, userMessage)
	if err != nil {
		if ctx.Err() != nil {
			return Reply{}, err
		}
		s.logger.Warn("profile extraction failed", zap.String("session_id", sessionID), zap.Error(err))
	}

	if complete {
		if _, err := s.store.Update(ctx, sessionID, func(cur *session.Session) error {
			stored := profile
			cur.Profile = &stored
			return nil
		}); err != nil {
			return Reply{}, fmt.Errorf("store profile: %w", err)
		}
		done := true
		return Reply{ProfileComplete: &done, Profile: &profile}, nil
	}

	response := profileFallback
	resp, err := s.extractor.Complete(ctx, model.CompletionRequest{
		Model:        s.cfg.ExtractionModel,
		SystemPrompt: profileFollowUpPrompt(userMessage),
		Messages:     []model.Message{{Role: model.RoleUser, Content: userMessage}},
		Temperature:  profileFollowUpTemp,
		MaxTokens:    profileFollowUpMax,
	})
	switch {
	case err != nil && ctx.Err() != nil:
		return Reply{}, err
	case err != nil:
		s.logger.Warn("profile follow-up failed", zap.String("session_id", sessionID), zap.Error(err))
	case strings.TrimSpace(resp.Content) != "":
		response = resp.Content
	}
	done := false
	return Reply{ProfileComplete: &done, Response: response}, nil
}

func (s *Service) extractProfile(ctx context.Context, history []session.Message, userMessage string) (session.Profile, bool, error) {
	resp, err := s.extractor.Complete(ctx, model.CompletionRequest{
		Model:          s.cfg.ExtractionModel,
		SystemPrompt:   profileExtractionPrompt(history, userMessage),
		Messages:       []model.Message{{Role: model.RoleUser, Content: userMessage}},
		Temperature:    profileTemperature,
		ResponseFormat: model.ResponseFormatJSON,
	})
	if err != nil {
		return session.Profile{}, false, fmt.Errorf("%w: %w", ErrExtraction, err)
	}

	fields := map[string]any{}
	if strings.TrimSpace(resp.Content) != "" {
		if err := model.DecodeJSON(resp.Content, &fields); err != nil {
			return session.Profile{}, false, fmt.Errorf("%w: %w", ErrExtraction, err)
		}
	}
	complete, _ := fields["profileComplete"].(bool)
	return session.Profile{
		Role:     profileField(fields["role"]),
		Industry: profileField(fields["industry"]),
		Goals:    profileField(fields["goals"]),
		Region:   profileField(fields["region"]),
	}, complete, nil
}

func profileField(v any) string {
	if v == nil {
		return ""
	}
	text := inputText(v)
	if text == "Not specified" {
		return ""
	}
	return text
}

package analysis

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"healthintel.local/gateway/internal/events"
	"healthintel.local/gateway/internal/model"
	"healthintel.local/gateway/internal/session"
)

const (
	extractionTemperature = 0.2
	followUpTemperature   = 0.7
	followUpMaxTokens     = 300
	answerTemperature     = 0.5
	answerMaxTokens       = 800
	answerHistory         = 6
)

// Chat advances the conversation by one user turn. If the session expires
// while the turn is in flight, the turn is replayed once against a fresh
// session.
func (s *Service) Chat(ctx context.Context, sessionID, userMessage string) (Reply, error) {
	reply, err := s.chat(ctx, sessionID, userMessage)
	if errors.Is(err, session.ErrNotFound) && ctx.Err() == nil {
		s.logger.Info("session removed during chat, starting over", zap.String("session_id", sessionID))
		reply, err = s.chat(ctx, sessionID, userMessage)
	}
	return reply, err
}

func (s *Service) chat(ctx context.Context, sessionID, userMessage string) (Reply, error) {
	sess, err := s.ensure(ctx, sessionID)
	if err != nil {
		return Reply{}, err
	}
	userTurn := session.Message{Role: session.RoleUser, Content: userMessage}

	if sess.Stage == session.StageCollecting {
		return s.collectRequirements(ctx, sess, userTurn)
	}

	// The background task may finish at any moment, so the branch is taken
	// against the stored state inside the update.
	var (
		reply    Reply
		restart  bool
		answer   bool
		snapshot session.Session
	)
	snapshot, err = s.store.Update(ctx, sessionID, func(cur *session.Session) error {
		reply, restart, answer = Reply{}, false, false
		cur.Append(s.cfg.HistoryLimit, userTurn)

		switch cur.Stage {
		case session.StageAnalyzing:
			if cur.AnalysisError != "" {
				restart = true
				cur.AnalysisError = ""
				cur.Append(s.cfg.HistoryLimit, session.Message{Role: session.RoleAssistant, Content: analysisFailedMessage})
				reply = Reply{Response: analysisFailedMessage, Stage: session.StageAnalyzing, Analyzing: true}
				return nil
			}
			reply = Reply{Response: inProgressMessage, Stage: session.StageAnalyzing, Analyzing: true}
		case session.StageComplete:
			if !cur.ResultDelivered {
				formatted := FormatAnalysis(*cur.Result)
				cur.ResultDelivered = true
				cur.Append(s.cfg.HistoryLimit, session.Message{Role: session.RoleAssistant, Content: formatted})
				result := cur.Result.Clone()
				reply = Reply{Response: formatted, Stage: session.StageComplete, AnalysisResults: &result}
				return nil
			}
			answer = true
		default:
			return fmt.Errorf("unexpected stage %q", cur.Stage)
		}
		return nil
	})
	if err != nil {
		return Reply{}, fmt.Errorf("chat: %w", err)
	}

	if restart {
		s.logger.Info("restarting failed analysis", zap.String("session_id", sessionID))
		s.startAnalysis(snapshot)
	}
	if answer {
		return s.answerFollowUp(ctx, snapshot)
	}
	return reply, nil
}

func (s *Service) collectRequirements(ctx context.Context, sess session.Session, userTurn session.Message) (Reply, error) {
	working := sess.Clone()
	working.Append(s.cfg.HistoryLimit, userTurn)

	fields, err := s.extractRequirements(ctx, working, userTurn.Content)
	if err != nil {
		if ctx.Err() != nil {
			return Reply{}, err
		}
		s.logger.Warn("requirement extraction failed",
			zap.String("session_id", sess.ID),
			zap.Error(err),
		)
		fields = map[string]any{}
	}
	complete, _ := fields["isComplete"].(bool)
	working.MergeInputs(fields)

	if complete {
		confirmation := confirmationMessage(working.Inputs)
		updated, err := s.store.Update(ctx, sess.ID, func(cur *session.Session) error {
			if cur.Stage != session.StageCollecting {
				return fmt.Errorf("%w: session left %s", session.ErrConflict, session.StageCollecting)
			}
			cur.Append(s.cfg.HistoryLimit, userTurn)
			cur.MergeInputs(fields)
			cur.Stage = session.StageAnalyzing
			cur.AnalysisError = ""
			cur.Append(s.cfg.HistoryLimit, session.Message{Role: session.RoleAssistant, Content: confirmation})
			return nil
		})
		if err != nil {
			return Reply{}, fmt.Errorf("record requirements: %w", err)
		}
		s.startAnalysis(updated)
		return Reply{Response: confirmation, Stage: session.StageAnalyzing, Analyzing: true}, nil
	}

	followUp := s.requirementsFollowUp(ctx, working)
	if ctx.Err() != nil {
		return Reply{}, ctx.Err()
	}
	_, err = s.store.Update(ctx, sess.ID, func(cur *session.Session) error {
		cur.Append(s.cfg.HistoryLimit, userTurn)
		cur.MergeInputs(fields)
		cur.Append(s.cfg.HistoryLimit, session.Message{Role: session.RoleAssistant, Content: followUp})
		return nil
	})
	if err != nil {
		return Reply{}, fmt.Errorf("record follow-up: %w", err)
	}
	return Reply{Response: followUp, Stage: session.StageCollecting}, nil
}

// extractRequirements asks the model for structured requirements. Any failure
// is reported as ErrExtraction.
func (s *Service) extractRequirements(ctx context.Context, working session.Session, userMessage string) (map[string]any, error) {
	resp, err := s.extractor.Complete(ctx, model.CompletionRequest{
		Model:          s.cfg.ExtractionModel,
		SystemPrompt:   requirementsExtractionPrompt(working.Recent(5)),
		Messages:       []model.Message{{Role: model.RoleUser, Content: userMessage}},
		Temperature:    extractionTemperature,
		ResponseFormat: model.ResponseFormatJSON,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExtraction, err)
	}
	fields := map[string]any{}
	if strings.TrimSpace(resp.Content) == "" {
		return fields, nil
	}
	if err := model.DecodeJSON(resp.Content, &fields); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExtraction, err)
	}
	return fields, nil
}

func (s *Service) requirementsFollowUp(ctx context.Context, working session.Session) string {
	resp, err := s.extractor.Complete(ctx, model.CompletionRequest{
		Model:        s.cfg.ExtractionModel,
		SystemPrompt: requirementsFollowUpPrompt(working.Inputs),
		Messages:     toModelMessages(working.Recent(4)),
		Temperature:  followUpTemperature,
		MaxTokens:    followUpMaxTokens,
	})
	if err != nil {
		s.logger.Warn("follow-up question failed", zap.String("session_id", working.ID), zap.Error(err))
		return followUpFallback
	}
	if strings.TrimSpace(resp.Content) == "" {
		return followUpFallback
	}
	return resp.Content
}

// answerFollowUp answers a question about a result that was already shown.
// snapshot already holds the user's question.
func (s *Service) answerFollowUp(ctx context.Context, snapshot session.Session) (Reply, error) {
	answer := answerFallback
	resp, err := s.extractor.Complete(ctx, model.CompletionRequest{
		Model:        s.cfg.ExtractionModel,
		SystemPrompt: followUpAnswerPrompt(snapshot.Result),
		Messages:     toModelMessages(snapshot.Recent(answerHistory)),
		Temperature:  answerTemperature,
		MaxTokens:    answerMaxTokens,
	})
	switch {
	case err != nil && ctx.Err() != nil:
		return Reply{}, err
	case err != nil:
		s.logger.Warn("follow-up answer failed", zap.String("session_id", snapshot.ID), zap.Error(err))
	case strings.TrimSpace(resp.Content) != "":
		answer = resp.Content
	}

	updated, err := s.store.Update(ctx, snapshot.ID, func(cur *session.Session) error {
		cur.Append(s.cfg.HistoryLimit, session.Message{Role: session.RoleAssistant, Content: answer})
		return nil
	})
	if err != nil {
		return Reply{}, fmt.Errorf("record answer: %w", err)
	}
	result := updated.Result.Clone()
	return Reply{Response: answer, Stage: session.StageComplete, AnalysisResults: &result}, nil
}

func (s *Service) startAnalysis(sess session.Session) {
	s.emit(context.Background(), events.TypeAnalysisStarted, sess.ID, map[string]any{
		"analysisType": inputText(sess.Inputs["analysisType"]),
	})
	s.tasks.start(sess.ID, s.cfg.AnalysisTimeout, func(ctx context.Context) {
		s.runAnalysis(ctx, sess)
	})
}

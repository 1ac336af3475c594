package analysis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"healthintel.local/gateway/internal/events"
	"healthintel.local/gateway/internal/model"
	"healthintel.local/gateway/internal/session"
)

var (
	ErrSessionIDRequired = errors.New("session id is required")
	// ErrExtraction marks a model reply that could not be turned into
	// structured fields.
	ErrExtraction = errors.New("extraction failed")
	ErrAnalysis   = errors.New("analysis generation failed")
)

const (
	DefaultExtractionModel = "gpt-4o-mini"
	DefaultAnalysisModel   = "gpt-4o"
	DefaultHistoryLimit    = 50
	DefaultAnalysisTimeout = 2 * time.Minute
)

type Config struct {
	ExtractionModel string
	AnalysisModel   string
	GroundingModel  string
	HistoryLimit    int
	AnalysisTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.ExtractionModel) == "" {
		c.ExtractionModel = DefaultExtractionModel
	}
	if strings.TrimSpace(c.AnalysisModel) == "" {
		c.AnalysisModel = DefaultAnalysisModel
	}
	if strings.TrimSpace(c.GroundingModel) == "" {
		c.GroundingModel = model.DefaultPerplexityModel
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = DefaultHistoryLimit
	}
	if c.AnalysisTimeout <= 0 {
		c.AnalysisTimeout = DefaultAnalysisTimeout
	}
	return c
}

type Deps struct {
	Store     session.Store
	Extractor model.Provider
	// Grounder supplies web context for analyses. Optional.
	Grounder model.Provider
	Events   events.Sink
	Logger   *zap.Logger
}

// Service drives the analysis conversation for every session. Callers must
// not run two operations for the same session concurrently; background
// analysis writes go through the store and are guarded by the session epoch.
type Service struct {
	store     session.Store
	extractor model.Provider
	grounder  model.Provider
	events    events.Sink
	logger    *zap.Logger
	cfg       Config
	tasks     *taskTracker
	now       func() time.Time
}

func NewService(deps Deps, cfg Config) (*Service, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if deps.Extractor == nil {
		return nil, fmt.Errorf("extraction provider is required")
	}
	if deps.Events == nil {
		deps.Events = events.Discard{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Service{
		store:     deps.Store,
		extractor: deps.Extractor,
		grounder:  deps.Grounder,
		events:    deps.Events,
		logger:    deps.Logger,
		cfg:       cfg.withDefaults(),
		tasks:     newTaskTracker(),
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

// Start appends the analysis-type menu and returns it with the form fields.
func (s *Service) Start(ctx context.Context, sessionID string) (Reply, error) {
	reply, err := s.start(ctx, sessionID)
	if errors.Is(err, session.ErrNotFound) && ctx.Err() == nil {
		reply, err = s.start(ctx, sessionID)
	}
	return reply, err
}

func (s *Service) start(ctx context.Context, sessionID string) (Reply, error) {
	if _, err := s.ensure(ctx, sessionID); err != nil {
		return Reply{}, err
	}
	sess, err := s.store.Update(ctx, sessionID, func(sess *session.Session) error {
		sess.Append(s.cfg.HistoryLimit, session.Message{Role: session.RoleAssistant, Content: startMessage})
		return nil
	})
	if err != nil {
		return Reply{}, fmt.Errorf("start session: %w", err)
	}
	return Reply{
		Response:   startMessage,
		Stage:      sess.Stage,
		FormFields: startFormFields(),
	}, nil
}

// Reset cancels any running analysis and deletes the session.
func (s *Service) Reset(ctx context.Context, sessionID string) (Reply, error) {
	if strings.TrimSpace(sessionID) == "" {
		return Reply{}, ErrSessionIDRequired
	}
	s.tasks.cancel(sessionID)
	if err := s.store.Delete(ctx, sessionID); err != nil {
		return Reply{}, fmt.Errorf("reset session: %w", err)
	}
	s.emit(ctx, events.TypeSessionReset, sessionID, nil)
	return Reply{Message: "Session reset"}, nil
}

// Expire is called after the sweeper removed an idle session.
func (s *Service) Expire(ctx context.Context, sessionID string) {
	s.tasks.cancel(sessionID)
	s.emit(ctx, events.TypeSessionExpired, sessionID, nil)
}

func (s *Service) ActiveSessions(ctx context.Context) (int, error) {
	return s.store.Count(ctx)
}

// Wait blocks until every background analysis has finished.
func (s *Service) Wait() {
	s.tasks.wait()
}

// Close cancels running analyses and waits for them to exit.
func (s *Service) Close() {
	s.tasks.cancelAll()
	s.tasks.wait()
}

func (s *Service) ensure(ctx context.Context, sessionID string) (session.Session, error) {
	if strings.TrimSpace(sessionID) == "" {
		return session.Session{}, ErrSessionIDRequired
	}
	sess, created, err := s.store.Ensure(ctx, sessionID)
	if err != nil {
		return session.Session{}, fmt.Errorf("load session: %w", err)
	}
	if created {
		s.logger.Debug("session created", zap.String("session_id", sessionID))
		s.emit(ctx, events.TypeSessionCreated, sessionID, nil)
	}
	return sess, nil
}

func (s *Service) emit(ctx context.Context, eventType events.Type, sessionID string, payload map[string]any) {
	s.events.Dispatch(ctx, events.New(eventType, sessionID, payload))
}

func toModelMessages(msgs []session.Message) []model.Message {
	out := make([]model.Message, 0, len(msgs))
	for _, m := range msgs {
		role := model.RoleUser
		if m.Role == session.RoleAssistant {
			role = model.RoleAssistant
		}
		out = append(out, model.Message{Role: role, Content: m.Content})
	}
	return out
}

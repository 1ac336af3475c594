package analysis

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"healthintel.local/gateway/internal/events"
	"healthintel.local/gateway/internal/ids"
	"healthintel.local/gateway/internal/session"
)

const resultWriteTimeout = 10 * time.Second

var errStaleTask = errors.New("analysis task is stale")

// taskTracker owns the background analysis goroutines, at most one per
// session.
type taskTracker struct {
	mu    sync.Mutex
	tasks map[string]*task
	wg    sync.WaitGroup
}

type task struct {
	id     string
	cancel context.CancelFunc
}

func newTaskTracker() *taskTracker {
	return &taskTracker{tasks: make(map[string]*task)}
}

func (t *taskTracker) start(sessionID string, timeout time.Duration, run func(context.Context)) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	entry := &task{id: ids.New(), cancel: cancel}

	t.mu.Lock()
	if prev, ok := t.tasks[sessionID]; ok {
		prev.cancel()
	}
	t.tasks[sessionID] = entry
	t.wg.Add(1)
	t.mu.Unlock()

	go func() {
		defer t.wg.Done()
		defer t.finish(sessionID, entry)
		run(ctx)
	}()
}

func (t *taskTracker) finish(sessionID string, entry *task) {
	entry.cancel()
	t.mu.Lock()
	defer t.mu.Unlock()
	if current, ok := t.tasks[sessionID]; ok && current.id == entry.id {
		delete(t.tasks, sessionID)
	}
}

func (t *taskTracker) cancel(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if entry, ok := t.tasks[sessionID]; ok {
		entry.cancel()
		delete(t.tasks, sessionID)
	}
}

func (t *taskTracker) cancelAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, entry := range t.tasks {
		entry.cancel()
		delete(t.tasks, id)
	}
}

func (t *taskTracker) running(sessionID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.tasks[sessionID]
	return ok
}

func (t *taskTracker) wait() {
	t.wg.Wait()
}

// runAnalysis generates the analysis for sess and stores it if the session
// is still the one that started the task.
func (s *Service) runAnalysis(ctx context.Context, sess session.Session) {
	logger := s.logger.With(zap.String("session_id", sess.ID), zap.String("epoch", sess.Epoch))
	started := s.now()

	analysisType, _ := sess.Inputs["analysisType"].(string)
	result, genErr := s.generateAnalysis(ctx, analysisType, sessionContext(sess.Inputs, sess.Profile), sess.Profile)
	if ctx.Err() != nil && errors.Is(ctx.Err(), context.Canceled) {
		logger.Info("analysis cancelled")
		s.emit(context.Background(), events.TypeAnalysisDiscarded, sess.ID, map[string]any{"reason": "cancelled"})
		return
	}

	writeCtx, cancel := context.WithTimeout(context.Background(), resultWriteTimeout)
	defer cancel()
	_, err := s.store.Update(writeCtx, sess.ID, func(cur *session.Session) error {
		if cur.Epoch != sess.Epoch || cur.Stage != session.StageAnalyzing {
			return errStaleTask
		}
		if genErr != nil {
			cur.AnalysisError = genErr.Error()
			return nil
		}
		stored := result.Clone()
		cur.Stage = session.StageComplete
		cur.Result = &stored
		cur.ResultDelivered = false
		cur.AnalysisError = ""
		return nil
	})

	switch {
	case errors.Is(err, errStaleTask), errors.Is(err, session.ErrNotFound):
		logger.Info("analysis result discarded", zap.Error(err))
		s.emit(writeCtx, events.TypeAnalysisDiscarded, sess.ID, map[string]any{"reason": "session changed"})
	case err != nil:
		logger.Error("store analysis result", zap.Error(err))
		s.emit(writeCtx, events.TypeAnalysisFailed, sess.ID, map[string]any{"error": err.Error()})
	case genErr != nil:
		logger.Warn("analysis failed", zap.Error(genErr))
		s.emit(writeCtx, events.TypeAnalysisFailed, sess.ID, map[string]any{"error": genErr.Error()})
	default:
		logger.Info("analysis completed", zap.Duration("elapsed", s.now().Sub(started)))
		s.emit(writeCtx, events.TypeAnalysisCompleted, sess.ID, map[string]any{
			"dataQuality":     result.DataQuality,
			"confidenceScore": result.ConfidenceScore.String(),
		})
	}
}

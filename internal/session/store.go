package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"healthintel.local/gateway/internal/ids"
)

var (
	ErrNotFound          = errors.New("session not found")
	ErrClosed            = errors.New("session store is closed")
	ErrConflict          = errors.New("session was modified concurrently")
	ErrInvalidTransition = errors.New("invalid session transition")
)

// UpdateFunc mutates a working copy of a session. Returning an error discards
// the change.
type UpdateFunc func(*Session) error

type Store interface {
	Get(ctx context.Context, id string) (Session, error)
	// Ensure returns the session, creating it when absent. created reports
	// whether this call created it.
	Ensure(ctx context.Context, id string) (sess Session, created bool, err error)
	Update(ctx context.Context, id string, fn UpdateFunc) (Session, error)
	Delete(ctx context.Context, id string) error
	Count(ctx context.Context) (int, error)
	// DeleteIdleBefore removes sessions not updated since cutoff and returns
	// their ids.
	DeleteIdleBefore(ctx context.Context, cutoff time.Time) ([]string, error)
	Close() error
}

func newSession(id string, now time.Time) Session {
	return Session{
		ID:        id,
		Stage:     StageCollecting,
		Inputs:    map[string]any{},
		History:   []Message{},
		Epoch:     ids.New(),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// applyUpdate runs fn against a copy of current and checks the result keeps
// the session invariants.
func applyUpdate(current Session, fn UpdateFunc, now time.Time) (Session, error) {
	next := current.Clone()
	if err := fn(&next); err != nil {
		return Session{}, err
	}
	next.ID = current.ID
	next.Epoch = current.Epoch
	next.CreatedAt = current.CreatedAt
	if err := validateTransition(current, next); err != nil {
		return Session{}, err
	}
	next.Revision = current.Revision + 1
	next.UpdatedAt = now
	return next, nil
}

func validateTransition(prev, next Session) error {
	if !next.Stage.Valid() {
		return fmt.Errorf("%w: unknown stage %q", ErrInvalidTransition, next.Stage)
	}
	if next.Stage.rank() < prev.Stage.rank() {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, prev.Stage, next.Stage)
	}
	if (next.Result != nil) != (next.Stage == StageComplete) {
		return fmt.Errorf("%w: result must be set exactly when stage is %s", ErrInvalidTransition, StageComplete)
	}
	return nil
}

func validateSessionID(id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("session id is required")
	}
	return nil
}

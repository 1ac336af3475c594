package session

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// ExpireFunc is told about every session the sweeper removed.
type ExpireFunc func(ctx context.Context, id string)

// Sweeper periodically deletes sessions that have been idle longer than ttl.
type Sweeper struct {
	store    Store
	logger   *zap.Logger
	ttl      time.Duration
	interval time.Duration
	onExpire ExpireFunc
	now      func() time.Time
}

func NewSweeper(store Store, logger *zap.Logger, ttl, interval time.Duration, onExpire ExpireFunc) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{
		store:    store,
		logger:   logger,
		ttl:      ttl,
		interval: interval,
		onExpire: onExpire,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Run sweeps until ctx is cancelled. A non-positive ttl disables expiry.
func (s *Sweeper) Run(ctx context.Context) error {
	if s.ttl <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				s.logger.Warn("session sweep failed", zap.Error(err))
			}
		}
	}
}

// Sweep runs a single expiry pass and returns the removed session ids.
func (s *Sweeper) Sweep(ctx context.Context) ([]string, error) {
	if s.ttl <= 0 {
		return nil, nil
	}
	cutoff := s.now().Add(-s.ttl)
	expired, err := s.store.DeleteIdleBefore(ctx, cutoff)
	if err != nil {
		return nil, err
	}
	for _, id := range expired {
		s.logger.Info("session expired", zap.String("session_id", id))
		if s.onExpire != nil {
			s.onExpire(ctx, id)
		}
	}
	return expired, nil
}

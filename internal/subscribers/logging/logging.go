package logging

import (
	"context"

	"go.uber.org/zap"

	"healthintel.local/gateway/internal/events"
)

type Subscriber struct {
	logger *zap.Logger
}

func New(logger *zap.Logger) *Subscriber {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Subscriber{logger: logger.Named("events")}
}

func (s *Subscriber) Name() string {
	return "logging"
}

func (s *Subscriber) Handle(_ context.Context, event events.Event) error {
	fields := []zap.Field{
		zap.String("event_id", event.ID),
		zap.String("event_type", string(event.Type)),
		zap.String("session_id", event.SessionID),
		zap.Time("occurred_at", event.OccurredAt),
	}
	if len(event.Payload) > 0 {
		fields = append(fields, zap.Any("payload", event.Payload))
	}
	s.logger.Info("lifecycle event", fields...)
	return nil
}

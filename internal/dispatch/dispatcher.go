package dispatch

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"healthintel.local/gateway/internal/events"
	"healthintel.local/gateway/internal/subscribers"
)

type Dispatcher struct {
	logger       *zap.Logger
	subscribers  []subscribers.Subscriber
	retryCount   int
	retryBackoff time.Duration

	wg sync.WaitGroup
}

var _ events.Sink = (*Dispatcher)(nil)

func New(logger *zap.Logger, subs []subscribers.Subscriber) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		logger:       logger,
		subscribers:  subs,
		retryCount:   3,
		retryBackoff: 150 * time.Millisecond,
	}
}

// Dispatch fans the event out to every subscriber without blocking. Delivery
// outlives the caller's context so request cancellation does not drop events.
func (d *Dispatcher) Dispatch(ctx context.Context, event events.Event) {
	ctx = context.WithoutCancel(ctx)
	for _, sub := range d.subscribers {
		s := sub
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.dispatchOne(ctx, s, event)
		}()
	}
}

// Wait blocks until in-flight deliveries finish or ctx ends.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) dispatchOne(ctx context.Context, sub subscribers.Subscriber, event events.Event) {
	for attempt := 1; attempt <= d.retryCount; attempt++ {
		err := sub.Handle(ctx, event)
		if err == nil {
			return
		}

		d.logger.Warn("subscriber delivery failed",
			zap.String("subscriber", sub.Name()),
			zap.String("event_id", event.ID),
			zap.String("event_type", string(event.Type)),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if attempt == d.retryCount {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(d.retryBackoff):
		}
	}
}

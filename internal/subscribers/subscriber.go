package subscribers

import (
	"context"

	"healthintel.local/gateway/internal/events"
)

type Subscriber interface {
	Name() string
	Handle(context.Context, events.Event) error
}

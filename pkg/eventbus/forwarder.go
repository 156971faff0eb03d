package eventbus

import (
	"context"
	"log/slog"

	"github.com/dukex/playbook/pkg/events"
)

// Forwarder publishes every event read from source, keyed by execution id.
type Forwarder struct {
	source    <-chan events.Event
	publisher EventPublisher
	logger    *slog.Logger
}

func NewForwarder(source <-chan events.Event, publisher EventPublisher, logger *slog.Logger) *Forwarder {
	return &Forwarder{
		source:    source,
		publisher: publisher,
		logger:    logger.With("module", "event_forwarder"),
	}
}

// Run blocks until ctx is done or source is closed. Publish failures are logged and dropped.
func (f *Forwarder) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-f.source:
			if !ok {
				return
			}

			if err := f.publisher.Publish(ctx, event.GetExecutionID(), event); err != nil {
				f.logger.ErrorContext(ctx, "failed to publish event",
					"event_type", event.GetType(),
					"execution_id", event.GetExecutionID(),
					"error", err)
			}
		}
	}
}

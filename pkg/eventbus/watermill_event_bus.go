package eventbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/dukex/playbook/pkg/events"
	json "github.com/goccy/go-json"
	"github.com/oklog/ulid/v2"
)

var ErrUnknownEventType = errors.New("unknown event type")

// WatermillEventBus publishes events as JSON messages on events.Topic. The message key
// metadata holds the execution id so partitioned transports keep per-execution order.
type WatermillEventBus struct {
	publisher  message.Publisher
	subscriber message.Subscriber
	logger     *slog.Logger

	mu       sync.RWMutex
	handlers map[events.EventType][]EventHandler
}

func NewWatermillEventBus(pub message.Publisher, sub message.Subscriber, logger *slog.Logger) *WatermillEventBus {
	return &WatermillEventBus{
		publisher:  pub,
		subscriber: sub,
		logger:     logger.With("module", "event_bus"),
		handlers:   make(map[events.EventType][]EventHandler),
	}
}

func (eb *WatermillEventBus) GenerateID() string {
	return ulid.Make().String()
}

func (eb *WatermillEventBus) Publish(ctx context.Context, key string, event events.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", event.GetType(), err)
	}

	msg := message.NewMessage(eb.GenerateID(), payload)
	msg.SetContext(ctx)
	msg.Metadata.Set(events.EventMetadataKey, key)
	msg.Metadata.Set(events.EventTypeMetadataKey, string(event.GetType()))
	msg.Metadata.Set(events.ExecutionIDMetadataKey, event.GetExecutionID())

	return eb.publisher.Publish(events.Topic, msg)
}

// Subscribe starts delivering messages to the registered handlers until ctx is done.
func (eb *WatermillEventBus) Subscribe(ctx context.Context) error {
	messages, err := eb.subscriber.Subscribe(ctx, events.Topic)
	if err != nil {
		return err
	}

	go func() {
		for msg := range messages {
			if err := eb.dispatch(ctx, msg); err != nil {
				eb.logger.WarnContext(ctx, "event handling failed",
					"message_id", msg.UUID,
					"event_type", msg.Metadata.Get(events.EventTypeMetadataKey),
					"execution_id", msg.Metadata.Get(events.ExecutionIDMetadataKey),
					"error", err)
				msg.Nack()

				continue
			}

			msg.Ack()
		}
	}()

	return nil
}

// dispatch decodes the message and runs every matching handler. Messages nobody
// handles are acknowledged without decoding.
func (eb *WatermillEventBus) dispatch(ctx context.Context, msg *message.Message) error {
	eventType := events.EventType(msg.Metadata.Get(events.EventTypeMetadataKey))

	eb.mu.RLock()
	handlers := append(append([]EventHandler(nil), eb.handlers[eventType]...), eb.handlers[AnyEvent]...)
	eb.mu.RUnlock()

	if len(handlers) == 0 {
		return nil
	}

	event, known := events.New(eventType)
	if !known {
		return fmt.Errorf("%w: %q", ErrUnknownEventType, eventType)
	}

	if err := json.Unmarshal(msg.Payload, event); err != nil {
		return fmt.Errorf("unmarshal %s event: %w", eventType, err)
	}

	var errs []error

	for _, handler := range handlers {
		if err := handler(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// Handle adds a handler for eventType, or for every type with AnyEvent.
func (eb *WatermillEventBus) Handle(eventType events.EventType, handler EventHandler) error {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.handlers[eventType] = append(eb.handlers[eventType], handler)

	return nil
}

func (eb *WatermillEventBus) Close() error {
	return errors.Join(eb.publisher.Close(), eb.subscriber.Close())
}

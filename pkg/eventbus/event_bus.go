// Package eventbus carries playbook events to other processes.
package eventbus

import (
	"context"

	"github.com/dukex/playbook/pkg/events"
)

// AnyEvent registers a handler for every event type.
const AnyEvent events.EventType = "*"

type EventPublisher interface {
	Publish(ctx context.Context, key string, event events.Event) error
}

type EventSubscriber interface {
	Handle(eventType events.EventType, handler EventHandler) error
	Subscribe(ctx context.Context) error
}

type EventHandler func(ctx context.Context, event events.Event) error

type EventBus interface {
	EventPublisher
	EventSubscriber
	Close() error
	GenerateID() string
}

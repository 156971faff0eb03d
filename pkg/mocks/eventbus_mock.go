package mocks

import (
	"context"

	"github.com/dukex/playbook/pkg/eventbus"
	"github.com/dukex/playbook/pkg/events"
	"github.com/stretchr/testify/mock"
)

var _ eventbus.EventBus = (*MockEventBus)(nil)

// MockEventBus records published playbook events. Expectations on Publish are
// matched by execution id key and event value.
type MockEventBus struct {
	mock.Mock
}

func (m *MockEventBus) Publish(ctx context.Context, key string, event events.Event) error {
	args := m.Called(ctx, key, event)

	return args.Error(0)
}

func (m *MockEventBus) Handle(eventType events.EventType, handler eventbus.EventHandler) error {
	return m.Called(eventType, handler).Error(0)
}

func (m *MockEventBus) Subscribe(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockEventBus) Close() error {
	return m.Called().Error(0)
}

func (m *MockEventBus) GenerateID() string {
	return m.Called().String(0)
}

// PublishedTypes lists the type of every event passed to Publish, in call order.
func (m *MockEventBus) PublishedTypes() []events.EventType {
	var types []events.EventType

	for _, call := range m.Calls {
		if call.Method != "Publish" {
			continue
		}

		if event, ok := call.Arguments.Get(2).(events.Event); ok {
			types = append(types, event.GetType())
		}
	}

	return types
}

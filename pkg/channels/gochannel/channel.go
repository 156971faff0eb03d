// Package gochannel provides the in-process pub/sub used when no broker is configured.
package gochannel

import (
	"errors"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// DefaultBuffer is how many messages each subscriber may have queued.
const DefaultBuffer = 1000

var ErrInvalidBuffer = errors.New("gochannel buffer must not be negative")

// Option adjusts the GoChannel configuration.
type Option func(*gochannel.Config)

func WithBuffer(size int64) Option {
	return func(c *gochannel.Config) {
		c.OutputChannelBuffer = size
	}
}

// WithAckedDelivery makes Publish wait until every subscriber acked and replays earlier
// messages to late subscribers.
func WithAckedDelivery() Option {
	return func(c *gochannel.Config) {
		c.Persistent = true
		c.BlockPublishUntilSubscriberAck = true
	}
}

// CreateChannel returns one GoChannel acting as both publisher and subscriber. Events
// published on it never leave the process.
func CreateChannel(logger watermill.LoggerAdapter, opts ...Option) (*gochannel.GoChannel, *gochannel.GoChannel, error) {
	config := gochannel.Config{OutputChannelBuffer: DefaultBuffer}

	for _, opt := range opts {
		opt(&config)
	}

	if config.OutputChannelBuffer < 0 {
		return nil, nil, fmt.Errorf("%w: %d", ErrInvalidBuffer, config.OutputChannelBuffer)
	}

	pubSub := gochannel.NewGoChannel(config, logger)

	return pubSub, pubSub, nil
}

package domain

import "context"

// MessageBus routes observed messages from platform feeds to the scheduler
// and delivers executed actions back to the platforms.
type MessageBus interface {
	Publish(msg Message)
	Subscribe() <-chan Message
	SendOutbound(msg Outbound)
	OnOutbound(platform Platform, handler func(Outbound))
	Close()
}

// Feed is a platform observer: it watches one platform and publishes every
// observed message onto the bus. Start blocks until the context is cancelled.
type Feed interface {
	Name() string
	Start(ctx context.Context, bus MessageBus) error
	Stop() error
}

package pubsub

import "context"

type noop struct{}

// NewNoop returns a publisher that drops all events. Used when no MQTT
// broker is configured so callers never need a nil check.
func NewNoop() PubSub {
	return noop{}
}

func (noop) Publish(context.Context, string, any) error         { return nil }
func (noop) Subscribe(context.Context, string, Handler) error   { return nil }
func (noop) Unsubscribe(context.Context, string) error          { return nil }
func (noop) Disconnect(context.Context) error                   { return nil }

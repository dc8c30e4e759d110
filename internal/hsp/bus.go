package hsp

import "context"

// Delivery is one message taken off the bus.
type Delivery struct {
	Topic string
	Body  []byte
}

// Bus is the transport under the HSP connector. Implementations must support
// AMQP topic-exchange wildcard patterns ("*" one segment, "#" trailing rest)
// in Subscribe.
//
// Publish never blocks on slow subscribers; a subscriber that falls behind
// loses messages rather than stalling the sender. Agents that need durable
// delivery set QoSParameters.DurableDelivery and use the AMQP bus.
type Bus interface {
	// Publish sends body to every subscription whose pattern matches topic.
	Publish(ctx context.Context, topic string, body []byte) error

	// Subscribe registers a pattern and returns the delivery channel.
	// The channel is closed when the bus shuts down.
	Subscribe(pattern string) (<-chan Delivery, error)

	// Close shuts the bus down and closes all subscription channels.
	Close() error
}

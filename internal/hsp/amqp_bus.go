package hsp

import (
	"context"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"angela/internal/logging"
)

const (
	// hspExchange is the topic exchange all HSP traffic flows through.
	hspExchange = "hsp.topic"

	amqpRetryDelay      = 5 * time.Second
	amqpMaxConnectRetry = 5
)

func connectToBroker(url string) (*amqp.Connection, error) {
	var conn *amqp.Connection
	var err error
	for i := 0; i < amqpMaxConnectRetry; i++ {
		conn, err = amqp.Dial(url)
		if err == nil {
			logging.Bus("Connected to AMQP broker")
			return conn, nil
		}
		logging.Get(logging.CategoryBus).Warn(
			"Failed to connect to broker (attempt %d/%d): %v", i+1, amqpMaxConnectRetry, err)
		time.Sleep(amqpRetryDelay)
	}
	return nil, fmt.Errorf("failed to connect to broker after %d attempts: %w", amqpMaxConnectRetry, err)
}

// AMQPBus is a Bus backed by a RabbitMQ topic exchange. Each subscription
// gets its own exclusive queue bound with the subscription pattern, so the
// broker does the wildcard matching.
type AMQPBus struct {
	url string

	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
	subs    []*amqpSubscription
	closed  bool

	destructor sync.Once
}

type amqpSubscription struct {
	pattern string
	out     chan Delivery
	cancel  chan struct{}
}

// NewAMQPBus connects to the broker and declares the HSP exchange.
func NewAMQPBus(url string) (*AMQPBus, error) {
	b := &AMQPBus{url: url}
	if err := b.connect(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *AMQPBus) connect() error {
	conn, err := connectToBroker(b.url)
	if err != nil {
		return err
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}

	if err := channel.ExchangeDeclare(hspExchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return fmt.Errorf("failed to declare exchange %s: %w", hspExchange, err)
	}

	b.mu.Lock()
	b.conn = conn
	b.channel = channel
	b.mu.Unlock()

	go b.handleReconnect(conn, channel)

	logging.Bus("AMQP channel opened, exchange %q declared", hspExchange)
	return nil
}

func (b *AMQPBus) handleReconnect(conn *amqp.Connection, channel *amqp.Channel) {
	notifyClose := make(chan *amqp.Error)
	channel.NotifyClose(notifyClose)

	err, ok := <-notifyClose
	if !ok { // graceful close
		return
	}

	logging.Get(logging.CategoryBus).Warn("AMQP connection lost, reconnecting: %v", err)

	for {
		b.mu.Lock()
		closed := b.closed
		b.mu.Unlock()
		if closed {
			return
		}
		if b.connect() == nil {
			// Re-establish consumers for every live subscription.
			b.mu.Lock()
			subs := append([]*amqpSubscription(nil), b.subs...)
			b.mu.Unlock()
			for _, sub := range subs {
				if cerr := b.startConsumer(sub); cerr != nil {
					logging.Get(logging.CategoryBus).Error(
						"Failed to restore subscription %q: %v", sub.pattern, cerr)
				}
			}
			logging.Bus("Reconnected to AMQP broker, %d subscriptions restored", len(subs))
			return
		}
		time.Sleep(amqpRetryDelay * 2)
	}
}

// Publish sends body to the HSP exchange with the topic as routing key.
func (b *AMQPBus) Publish(ctx context.Context, topic string, body []byte) error {
	b.mu.Lock()
	channel := b.channel
	closed := b.closed
	b.mu.Unlock()

	if closed || channel == nil || channel.IsClosed() {
		return fmt.Errorf("amqp bus connection is closed")
	}

	err := channel.PublishWithContext(ctx,
		hspExchange,
		topic, // routing key
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
		})
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}

// Subscribe binds an exclusive queue to the exchange with the given pattern.
func (b *AMQPBus) Subscribe(pattern string) (<-chan Delivery, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, fmt.Errorf("amqp bus is closed")
	}
	sub := &amqpSubscription{
		pattern: pattern,
		out:     make(chan Delivery, memoryBusBuffer),
		cancel:  make(chan struct{}),
	}
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	if err := b.startConsumer(sub); err != nil {
		return nil, err
	}
	return sub.out, nil
}

func (b *AMQPBus) startConsumer(sub *amqpSubscription) error {
	b.mu.Lock()
	channel := b.channel
	b.mu.Unlock()
	if channel == nil {
		return fmt.Errorf("no amqp channel")
	}

	// Broker-named exclusive auto-delete queue per subscription.
	queue, err := channel.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return fmt.Errorf("failed to declare queue for %q: %w", sub.pattern, err)
	}
	if err := channel.QueueBind(queue.Name, sub.pattern, hspExchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind %q: %w", sub.pattern, err)
	}

	msgs, err := channel.Consume(queue.Name, "", true, true, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to consume %q: %w", sub.pattern, err)
	}

	go func() {
		for {
			select {
			case d, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case sub.out <- Delivery{Topic: d.RoutingKey, Body: d.Body}:
				default:
					logging.Get(logging.CategoryBus).Warn(
						"Dropping message on %s: subscriber %q buffer full", d.RoutingKey, sub.pattern)
				}
			case <-sub.cancel:
				return
			}
		}
	}()

	logging.BusDebug("AMQP subscription bound: %s -> %s", sub.pattern, queue.Name)
	return nil
}

// Close tears down the connection and closes all subscription channels.
func (b *AMQPBus) Close() error {
	var err error
	b.destructor.Do(func() {
		b.mu.Lock()
		b.closed = true
		subs := b.subs
		b.subs = nil
		conn := b.conn
		b.mu.Unlock()

		for _, sub := range subs {
			close(sub.cancel)
			close(sub.out)
		}
		if conn != nil {
			err = conn.Close()
		}
	})
	return err
}

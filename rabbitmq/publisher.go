package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/streadway/amqp"
)

const dialTimeout = 30 * time.Second

// Publisher sends session events as persistent JSON messages to a topic
// exchange. Every event type gets its own routing key under a common base so
// consumers can bind to "<base>.region.*" and the like. A dropped connection
// is redialled on the next publish.
type Publisher struct {
	url      string
	exchange string
	baseKey  string

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

// NewPublisher dials the broker and declares the exchange, so a bad URL or
// exchange fails at startup rather than on the first event.
func NewPublisher(amqpURL, exchange, baseKey string) (*Publisher, error) {
	p := &Publisher{url: amqpURL, exchange: exchange, baseKey: baseKey}

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ensureLocked(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

// PublishEvent sends message under the routing key of eventType.
func (p *Publisher) PublishEvent(ctx context.Context, eventType string, message interface{}) error {
	body, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", eventType, err)
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Type:         eventType,
		Body:         body,
	}
	key := eventKey(p.baseKey, eventType)

	p.mu.Lock()
	defer p.mu.Unlock()

	// One redial per event: a second failure is reported to the caller.
	for attempt := 0; ; attempt++ {
		if err := p.ensureLocked(ctx); err != nil {
			return err
		}
		err := p.ch.Publish(p.exchange, key, false, false, msg)
		if err == nil {
			return nil
		}
		if !connectionLost(err) || attempt > 0 {
			return fmt.Errorf("failed to publish %s to %s: %w", key, p.exchange, err)
		}
		log.Warnf("Lost connection to RabbitMQ while publishing %s, redialling", key)
		p.dropLocked()
	}
}

// Close shuts the channel and the connection down.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dropLocked()
}

// ensureLocked dials and declares the exchange unless a live channel exists.
func (p *Publisher) ensureLocked(ctx context.Context) error {
	if p.conn != nil && !p.conn.IsClosed() && p.ch != nil {
		return nil
	}
	p.dropLocked()

	conn, err := amqp.Dial(p.url)
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err == nil {
		err = ch.ExchangeDeclare(p.exchange, "topic", true, false, false, false, nil)
	}
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to set up exchange %s: %w", p.exchange, err)
	}

	p.conn, p.ch = conn, ch
	log.Infof("Connected to RabbitMQ exchange %s", p.exchange)
	return nil
}

// dropLocked closes whatever is open and returns the first close error.
func (p *Publisher) dropLocked() error {
	var first error
	if p.ch != nil {
		first = p.ch.Close()
		p.ch = nil
	}
	if p.conn != nil {
		if err := p.conn.Close(); err != nil && first == nil {
			first = err
		}
		p.conn = nil
	}
	if first != nil && !connectionLost(first) {
		log.Warnf("Failed to close RabbitMQ connection: %v", first)
		return first
	}
	return nil
}

// eventKey builds "<base>.<event type>", or just the event type without a
// base.
func eventKey(base, eventType string) string {
	base = strings.TrimSuffix(base, ".")
	if base == "" {
		return eventType
	}
	return base + "." + eventType
}

// connectionLost reports errors a redial can fix.
func connectionLost(err error) bool {
	if errors.Is(err, amqp.ErrClosed) {
		return true
	}
	var amqpErr *amqp.Error
	if errors.As(err, &amqpErr) && amqpErr.Code == amqp.ChannelError {
		return true
	}
	return strings.Contains(err.Error(), "channel/connection is not open")
}

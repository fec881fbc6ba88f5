// Package amqp publishes and consumes JSON events over RabbitMQ. Every
// topic is a routing key on one durable topic exchange; each subscriber
// group gets its own durable queue per topic.
package amqp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange is the topic exchange all events are published to.
const Exchange = "cabshare.events"

// Client holds one lazily (re)opened publishing connection.
type Client struct {
	url    string
	logger *slog.Logger

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

// NewClient returns a client for url. No connection is opened until the
// first Publish or Subscribe.
func NewClient(url string, logger *slog.Logger) *Client {
	return &Client{url: url, logger: logger.With("component", "amqp")}
}

func declare(ch *amqp.Channel) error {
	return ch.ExchangeDeclare(Exchange, amqp.ExchangeTopic, true, false, false, false, nil)
}

// channel returns the publishing channel, reconnecting if it was closed.
func (c *Client) channel() (*amqp.Channel, error) {
	if c.ch != nil && !c.ch.IsClosed() {
		return c.ch, nil
	}
	if c.conn == nil || c.conn.IsClosed() {
		conn, err := amqp.Dial(c.url)
		if err != nil {
			return nil, fmt.Errorf("amqp dial: %w", err)
		}
		c.conn = conn
	}
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	if err := declare(ch); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("amqp exchange declare: %w", err)
	}
	c.ch = ch
	return ch, nil
}

// Publish sends a persistent JSON message with routing key topic.
func (c *Client) Publish(ctx context.Context, topic, key string, value any) error {
	body, err := json.Marshal(value)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	ch, err := c.channel()
	if err != nil {
		return err
	}
	return ch.PublishWithContext(ctx, Exchange, topic, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    key,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
}

// Subscribe consumes topic on queue "<group>.<topic>" in a background
// goroutine, reconnecting with exponential backoff until ctx is done.
// Handler errors reject the message without requeue.
func (c *Client) Subscribe(ctx context.Context, topic, group string, handler func([]byte) error) {
	queue := group + "." + topic
	go func() {
		backoff := time.Second
		for ctx.Err() == nil {
			conn, err := amqp.Dial(c.url)
			if err != nil {
				c.logger.Warn("dial failed", "queue", queue, "error", err, "retry_in", backoff)
				select {
				case <-ctx.Done():
					return
				case <-time.After(backoff):
				}
				if backoff < 30*time.Second {
					backoff *= 2
				}
				continue
			}
			backoff = time.Second

			err = c.consume(ctx, conn, topic, queue, handler)
			_ = conn.Close()
			if ctx.Err() != nil {
				return
			}
			c.logger.Warn("consume loop ended, reconnecting", "queue", queue, "error", err)
			time.Sleep(2 * time.Second)
		}
	}()
}

func (c *Client) consume(ctx context.Context, conn *amqp.Connection, topic, queue string, handler func([]byte) error) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		c.logger.Warn("set QoS failed", "error", err)
	}
	if err := declare(ch); err != nil {
		return fmt.Errorf("exchange declare: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	if err := ch.QueueBind(queue, topic, Exchange, false, nil); err != nil {
		return fmt.Errorf("queue bind: %w", err)
	}
	msgs, err := ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			if err := handler(d.Body); err != nil {
				c.logger.Error("handler error", "queue", queue, "error", err)
				_ = d.Nack(false, false)
				continue
			}
			_ = d.Ack(false)
		}
	}
}

// Close closes the publishing connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

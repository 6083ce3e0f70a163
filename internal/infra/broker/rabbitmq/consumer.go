package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"

	"staybook/internal/infra/broker"
)

type PayloadHandler interface {
	HandlePayload(ctx context.Context, payload []byte) error
}

type ConsumerConfig struct {
	URL      string
	Exchange string
	Queue    string
	Bindings []string
	Prefetch int
	Tag      string
}

// Consumer reads a durable queue bound to the event exchange. Malformed
// messages go to the queue's dead-letter exchange; failures are requeued.
type Consumer struct {
	cfg     ConsumerConfig
	conn    *amqp.Connection
	ch      *amqp.Channel
	handler PayloadHandler
	logger  *slog.Logger
}

func NewConsumer(cfg ConsumerConfig, handler PayloadHandler, logger *slog.Logger) (*Consumer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	c := &Consumer{cfg: cfg, conn: conn, ch: ch, handler: handler, logger: logger}
	if err := c.declare(); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

func (c *Consumer) declare() error {
	dlx := c.cfg.Exchange + ".dlx"
	if err := c.ch.ExchangeDeclare(c.cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}
	if err := c.ch.ExchangeDeclare(dlx, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare dlx: %w", err)
	}
	if _, err := c.ch.QueueDeclare(c.cfg.Queue+".dlq", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare dlq: %w", err)
	}
	if err := c.ch.QueueBind(c.cfg.Queue+".dlq", "#", dlx, false, nil); err != nil {
		return fmt.Errorf("bind dlq: %w", err)
	}
	q, err := c.ch.QueueDeclare(c.cfg.Queue, true, false, false, false, amqp.Table{"x-dead-letter-exchange": dlx})
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}
	bindings := c.cfg.Bindings
	if len(bindings) == 0 {
		bindings = []string{"#"}
	}
	for _, rk := range bindings {
		if err := c.ch.QueueBind(q.Name, rk, c.cfg.Exchange, false, nil); err != nil {
			return fmt.Errorf("bind %s: %w", rk, err)
		}
	}
	prefetch := c.cfg.Prefetch
	if prefetch <= 0 {
		prefetch = 16
	}
	return c.ch.Qos(prefetch, 0, false)
}

func (c *Consumer) Run(ctx context.Context) error {
	msgs, err := c.ch.ConsumeWithContext(ctx, c.cfg.Queue, c.cfg.Tag, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return nil
			}
			c.handle(ctx, d)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, d amqp.Delivery) {
	err := c.handler.HandlePayload(ctx, d.Body)
	switch {
	case err == nil:
		_ = d.Ack(false)
	case errors.Is(err, broker.ErrMalformedEvent):
		c.logger.Warn("dead-lettering malformed event", "routing_key", d.RoutingKey, "error", err)
		_ = d.Nack(false, false)
	default:
		c.logger.Error("event handling failed, requeueing", "routing_key", d.RoutingKey, "error", err)
		_ = d.Nack(false, true)
	}
}

func (c *Consumer) Close() error {
	if c.ch != nil {
		_ = c.ch.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/LLL3993/Music-Microservices/internal/processor"
	"github.com/LLL3993/Music-Microservices/pkg/infra"
)

// DeliveryHandler applies one message body received under routingKey
type DeliveryHandler interface {
	Handle(ctx context.Context, routingKey string, body []byte) (processor.Outcome, error)
}

// RabbitMQConsumer manages the connection and message flow from the broker
type RabbitMQConsumer struct {
	url          string
	bindings     map[string]string
	handler      DeliveryHandler
	logger       *slog.Logger
	prefetch     int
	requeueDelay time.Duration
	backoff      *infra.Backoff
}

// NewRabbitMQConsumer consumes every queue in bindings (queue -> routing key)
func NewRabbitMQConsumer(url string, bindings map[string]string, handler DeliveryHandler, prefetch int, requeueDelay time.Duration, logger *slog.Logger) *RabbitMQConsumer {
	return &RabbitMQConsumer{
		url:          url,
		bindings:     bindings,
		handler:      handler,
		logger:       logger,
		prefetch:     prefetch,
		requeueDelay: requeueDelay,
		backoff:      infra.NewBackoff(time.Second, 60*time.Second, 2.0),
	}
}

// Run keeps a consuming session alive until ctx is cancelled, reconnecting with backoff
func (c *RabbitMQConsumer) Run(ctx context.Context) error {
	for {
		err := c.listen(ctx)
		if ctx.Err() != nil {
			c.logger.Info("👋 Consumer stopped")
			return nil
		}

		c.logger.Error("Consumer session lost, reconnecting", "error", err)
		if err := c.backoff.Wait(ctx); err != nil {
			return nil
		}
	}
}

// listen runs one session: connect, declare topology, consume until the session or ctx ends
func (c *RabbitMQConsumer) listen(ctx context.Context) error {
	conn, err := amqp.Dial(c.url)
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open a channel: %w", err)
	}
	defer ch.Close()

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	deliveries, err := declareAndConsume(ch, c.bindings)
	if err != nil {
		return err
	}
	for queue, key := range c.bindings {
		c.logger.Info("Consumer is online and waiting for messages", "queue", queue, "routing_key", key)
	}

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errs := make(chan error, len(deliveries))

	for queue, msgs := range deliveries {
		wg.Add(1)
		go func(queue string, msgs <-chan amqp.Delivery) {
			defer wg.Done()
			if err := c.consume(sessionCtx, msgs); err != nil {
				errs <- fmt.Errorf("queue %s: %w", queue, err)
				cancel()
			}
		}(queue, msgs)
	}

	c.backoff.Reset()
	wg.Wait()

	select {
	case err := <-errs:
		return err
	default:
		return ctx.Err()
	}
}

// consumeChannel is the subset of *amqp.Channel needed to start consuming
type consumeChannel interface {
	topologyChannel
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
}

// declareAndConsume declares and registers every queue before any delivery is handled,
// so a failure on one binding never leaves a handler running on a channel about to close.
func declareAndConsume(ch consumeChannel, bindings map[string]string) (map[string]<-chan amqp.Delivery, error) {
	if err := DeclareExchange(ch); err != nil {
		return nil, err
	}

	deliveries := make(map[string]<-chan amqp.Delivery, len(bindings))
	for queue, key := range bindings {
		if err := DeclareQueue(ch, queue, key); err != nil {
			return nil, err
		}
		msgs, err := ch.Consume(queue, "", false, false, false, false, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to register consumer on %s: %w", queue, err)
		}
		deliveries[queue] = msgs
	}
	return deliveries, nil
}

func (c *RabbitMQConsumer) consume(ctx context.Context, msgs <-chan amqp.Delivery) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				return fmt.Errorf("message channel closed")
			}
			c.handleDelivery(ctx, d)
		}
	}
}

// handleDelivery acks applied, duplicate and skipped messages, drops fatal ones
// and requeues transient failures after a delay
func (c *RabbitMQConsumer) handleDelivery(ctx context.Context, d amqp.Delivery) {
	l := c.logger.With("message_id", d.MessageId, "routing_key", d.RoutingKey)

	outcome, err := c.handler.Handle(ctx, d.RoutingKey, d.Body)
	if err != nil {
		if errors.Is(err, processor.ErrFatal) {
			l.Error("Dropping unprocessable message", "error", err)
			if nackErr := d.Nack(false, false); nackErr != nil {
				l.Error("Failed to Nack message", "error", nackErr)
			}
			return
		}

		l.Error("Processing failed, requeueing", "error", err, "delay", c.requeueDelay)
		select {
		case <-time.After(c.requeueDelay):
		case <-ctx.Done():
		}
		if nackErr := d.Nack(false, true); nackErr != nil {
			l.Error("Failed to Nack message", "error", nackErr)
		}
		return
	}

	if err := d.Ack(false); err != nil {
		l.Error("Failed to Ack message", "outcome", outcome, "error", err)
	}
}

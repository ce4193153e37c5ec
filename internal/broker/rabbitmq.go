package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/LLL3993/Music-Microservices/internal/models"
	"github.com/LLL3993/Music-Microservices/pkg/metrics"
)

// ErrNacked is returned when the broker refuses to take responsibility for a message
var ErrNacked = errors.New("RabbitMQ NACK received: message not persisted")

// RabbitMQClient is one confirm-mode connection to the broker
type RabbitMQClient struct {
	conn           *amqp.Connection
	channel        *amqp.Channel
	logger         *slog.Logger
	confirmTimeout time.Duration
	connClosed     chan *amqp.Error
	chanClosed     chan *amqp.Error
	closeOnce      sync.Once
	healthy        atomic.Bool
	ctx            context.Context
	cancel         context.CancelFunc
}

// NewRabbitMQClient dials the broker, declares the topology and enables Publisher Confirms
func NewRabbitMQClient(url string, confirmTimeout time.Duration, l *slog.Logger) (*RabbitMQClient, error) {
	c, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := c.Channel()
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to open RabbitMQ channel: %w", err)
	}

	if err := prepareChannel(ch); err != nil {
		ch.Close()
		c.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	client := &RabbitMQClient{
		conn:           c,
		channel:        ch,
		logger:         l,
		confirmTimeout: confirmTimeout,
		connClosed:     make(chan *amqp.Error, 1),
		chanClosed:     make(chan *amqp.Error, 1),
		ctx:            ctx,
		cancel:         cancel,
	}

	client.healthy.Store(true)
	metrics.HealthStatus.Set(1)

	client.conn.NotifyClose(client.connClosed)
	client.channel.NotifyClose(client.chanClosed)

	go func() {
		select {
		case err := <-client.connClosed:
			client.healthy.Store(false)
			metrics.HealthStatus.Set(0)
			l.Warn("RabbitMQ connection closed", "error", err)
		case err := <-client.chanClosed:
			client.healthy.Store(false)
			metrics.HealthStatus.Set(0)
			l.Warn("RabbitMQ channel closed", "error", err)
		case <-client.ctx.Done():
			return
		}
	}()
	l.Info("Successfully connected to RabbitMQ and monitors established")
	return client, nil
}

// confirmChannel is the subset of *amqp.Channel a publishing session is set up with
type confirmChannel interface {
	topologyChannel
	Confirm(noWait bool) error
}

// prepareChannel declares the exchange together with every consumer queue, then enables confirms.
// Queues must exist before the first publish: the direct exchange drops unroutable messages
// and the broker still confirms them.
func prepareChannel(ch confirmChannel) error {
	if err := DeclareTopology(ch); err != nil {
		return err
	}
	if err := ch.Confirm(false); err != nil {
		return fmt.Errorf("failed to activate Publisher Confirms: %w", err)
	}
	return nil
}

// Publish sends the event to its exchange and routing key and blocks until the broker confirms it
func (r *RabbitMQClient) Publish(ctx context.Context, evt models.OutboxEvent) error {
	if !r.IsHealthy() {
		return fmt.Errorf("broker connection is closed")
	}

	deferred, err := r.channel.PublishWithDeferredConfirmWithContext(
		ctx,
		evt.ExchangeName,
		evt.RoutingKey,
		false,
		false,
		buildPublishing(evt),
	)
	if err != nil {
		return fmt.Errorf("publish call failed: %w", err)
	}

	timer := time.NewTimer(r.confirmTimeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-deferred.Done():
		if !deferred.Acked() {
			return ErrNacked
		}
		return nil
	case <-timer.C:
		return fmt.Errorf("publisher confirm timeout after %s", r.confirmTimeout)
	}
}

func buildPublishing(evt models.OutboxEvent) amqp.Publishing {
	return amqp.Publishing{
		Headers: amqp.Table{
			"correlation_id": evt.ID,
		},
		MessageId:    evt.ID,
		Type:         evt.RoutingKey,
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    evt.CreatedAt,
		Body:         evt.Payload,
	}
}

// Close gracefully shuts down the RabbitMQ resources
func (r *RabbitMQClient) Close() error {
	r.closeOnce.Do(func() {
		r.logger.Info("Terminating RabbitMQ client")
		r.healthy.Store(false)
		r.cancel()
		if r.channel != nil {
			r.channel.Close()
		}
		if r.conn != nil {
			r.conn.Close()
		}
	})
	return nil
}

// IsHealthy returns true if the connection and channel are active
func (r *RabbitMQClient) IsHealthy() bool {
	return r.healthy.Load()
}

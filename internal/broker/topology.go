package broker

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/LLL3993/Music-Microservices/internal/models"
)

// topologyChannel is the subset of *amqp.Channel needed to declare exchanges and queues
type topologyChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
}

// DeclareExchange declares the durable direct exchange every service publishes to
func DeclareExchange(ch topologyChannel) error {
	if err := ch.ExchangeDeclare(
		models.ExchangeMusicEvents,
		amqp.ExchangeDirect,
		true,
		false,
		false,
		false,
		nil,
	); err != nil {
		return fmt.Errorf("failed to declare exchange %s: %w", models.ExchangeMusicEvents, err)
	}
	return nil
}

// DeclareQueue declares a durable queue and binds it to the exchange with routingKey
func DeclareQueue(ch topologyChannel, queue, routingKey string) error {
	q, err := ch.QueueDeclare(queue, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", queue, err)
	}
	if err := ch.QueueBind(q.Name, routingKey, models.ExchangeMusicEvents, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue %s to %s: %w", queue, routingKey, err)
	}
	return nil
}

// DeclareTopology declares the exchange plus every consumer queue and binding
func DeclareTopology(ch topologyChannel) error {
	if err := DeclareExchange(ch); err != nil {
		return err
	}
	for queue, key := range models.QueueBindings {
		if err := DeclareQueue(ch, queue, key); err != nil {
			return err
		}
	}
	return nil
}

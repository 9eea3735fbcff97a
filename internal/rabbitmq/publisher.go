package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/agent-marketplace/internal/models"
)

// Channel часть amqp.Channel, нужная для публикации.
type Channel interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// PublishMessage публикует сообщение в RabbitMQ в формате JSON.
func PublishMessage(ch Channel, exchange string, routingkey string, message any) error {
	const op = "rabbitmq.PublishMessage"
	body, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	err = ch.Publish(
		exchange,
		routingkey,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
		},
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// ReconcilePublisher публикует задачи сверки счетов в очередь биллинга.
type ReconcilePublisher struct {
	ch Channel
}

// NewReconcilePublisher создаёт издателя задач сверки.
func NewReconcilePublisher(ch Channel) *ReconcilePublisher {
	return &ReconcilePublisher{ch: ch}
}

// PublishReconcile ставит задачу сверки в очередь.
func (p *ReconcilePublisher) PublishReconcile(ctx context.Context, task models.ReconcileTask) error {
	const op = "rabbitmq.PublishReconcile"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}
	if err := PublishMessage(p.ch, BillingExchange, ReconcileRoutingKey, task); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

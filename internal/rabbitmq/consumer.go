package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/agent-marketplace/internal/lib/sl"
)

// ConsumerMessage запускает потребителя очереди queueName. Сообщения обрабатываются
// параллельно, не более workers одновременно. При ошибке обработчика сообщение
// возвращается в очередь один раз; повторная ошибка отбрасывает его.
func ConsumerMessage(ctx context.Context, log *slog.Logger, ch *amqp.Channel, queueName string, workers int, handler func(context.Context, []byte) error) error {
	const op = "rabbitmq.ConsumerMessage"
	delivery, err := ch.Consume(
		queueName,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if workers < 1 {
		workers = 1
	}
	log = log.With(sl.Op(op), slog.String("queue", queueName))

	sem := make(chan struct{}, workers)
	go func() {
		for {
			select {
			case d, ok := <-delivery:
				if !ok {
					log.Info("delivery channel closed")
					return
				}
				sem <- struct{}{}
				go func(d amqp.Delivery) {
					defer func() { <-sem }()
					handleDelivery(ctx, log, d, handler)
				}(d)
			case <-ctx.Done():
				return
			}
		}
	}()
	return nil
}

// Acknowledger часть amqp.Delivery, отвечающая за подтверждение.
type Acknowledger interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

func handleDelivery(ctx context.Context, log *slog.Logger, d amqp.Delivery, handler func(context.Context, []byte) error) {
	settle(log, &d, d.Redelivered, handler(ctx, d.Body))
}

func settle(log *slog.Logger, ack Acknowledger, redelivered bool, handlerErr error) {
	if handlerErr != nil {
		requeue := !redelivered
		log.Error("failed to handle message", sl.Err(handlerErr), slog.Bool("requeue", requeue))
		if err := ack.Nack(false, requeue); err != nil {
			log.Error("failed to nack message", sl.Err(err))
		}
		return
	}
	if err := ack.Ack(false); err != nil {
		log.Error("failed to ack message", sl.Err(err))
	}
}

package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/streadway/amqp"

	"github.com/ahmetcoskunkizilkaya/swift-boilerplate-backend/internal/entitlement"
	"github.com/ahmetcoskunkizilkaya/swift-boilerplate-backend/internal/lib/sl"
)

// AMQP is a durable stream on a RabbitMQ queue. Finish acks the message;
// anything unacked when a subscription ends is requeued by the broker.
// Release nacks it: a requeued message comes back once, and a message that
// fails again or is released without requeue goes to the dead-letter queue.
type AMQP struct {
	conn       *amqp.Connection
	queue      string
	deadLetter string
	prefetch   int
	log        *slog.Logger
}

// DeadLetterQueue names the queue that collects updates released from queue.
func DeadLetterQueue(queue string) string {
	return queue + ".dead"
}

func NewAMQP(conn *amqp.Connection, queue string, log *slog.Logger) (*AMQP, error) {
	const op = "stream.NewAMQP"

	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer ch.Close()

	dead := DeadLetterQueue(queue)
	if _, err := ch.QueueDeclare(dead, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("%s: failed to declare queue %s: %w", op, dead, err)
	}
	args := amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": dead,
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, args); err != nil {
		return nil, fmt.Errorf("%s: failed to declare queue %s: %w", op, queue, err)
	}
	return &AMQP{conn: conn, queue: queue, deadLetter: dead, prefetch: 10, log: log}, nil
}

func (a *AMQP) Publish(ctx context.Context, u entitlement.Update) error {
	const op = "stream.AMQP.Publish"

	body, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	ch, err := a.conn.Channel()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer ch.Close()

	err = ch.Publish("", a.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		MessageId:    u.ID,
		Body:         body,
		DeliveryMode: amqp.Persistent,
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (a *AMQP) Subscribe(ctx context.Context) (<-chan entitlement.Update, error) {
	const op = "stream.AMQP.Subscribe"

	ch, err := a.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := ch.Qos(a.prefetch, 0, false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("%s: failed to set QoS: %w", op, err)
	}

	deliveries, err := ch.Consume(a.queue, "", false, false, false, false, nil)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	out := make(chan entitlement.Update)
	go func() {
		defer close(out)
		defer ch.Close()

		for {
			select {
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				u, err := decodeDelivery(d.Body)
				if err != nil {
					a.log.Error("dead-lettering malformed transaction message", sl.Err(err))
					if err := d.Reject(false); err != nil {
						a.log.Error("failed to reject message", sl.Err(err))
					}
					continue
				}
				tag, redelivered := d.DeliveryTag, d.Redelivered
				u = u.WithFinisher(func(context.Context) error {
					return ch.Ack(tag, false)
				}).WithReleaser(func(_ context.Context, requeue bool) error {
					return ch.Nack(tag, false, requeue && !redelivered)
				})

				select {
				case out <- u:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func decodeDelivery(body []byte) (entitlement.Update, error) {
	var u entitlement.Update
	if err := json.Unmarshal(body, &u); err != nil {
		return entitlement.Update{}, fmt.Errorf("decode update: %w", err)
	}
	if u.ID == "" {
		return entitlement.Update{}, fmt.Errorf("decode update: missing id")
	}
	return u, nil
}

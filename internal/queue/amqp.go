package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/streadway/amqp"
)

// AMQPQueue publishes persistent messages with publisher confirms and
// consumes them with manual acks. One queue is declared per topic.
type AMQPQueue struct {
	conn   *amqp.Connection
	logger zerolog.Logger

	mu       sync.Mutex
	pub      *amqp.Channel
	confirms chan amqp.Confirmation
	lastTag  uint64
	declared map[string]bool
}

func DialAMQP(url string, logger zerolog.Logger) (*AMQPQueue, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	pub, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}
	if err := pub.Confirm(false); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to enable publisher confirms: %w", err)
	}

	return &AMQPQueue{
		conn:     conn,
		logger:   logger,
		pub:      pub,
		confirms: pub.NotifyPublish(make(chan amqp.Confirmation, 1)),
		declared: map[string]bool{},
	}, nil
}

func declare(ch *amqp.Channel, topic string) error {
	_, err := ch.QueueDeclare(
		topic, // name
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	return err
}

// Publish blocks until the broker confirms the message.
func (q *AMQPQueue) Publish(ctx context.Context, topic string, payload []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.declared[topic] {
		if err := declare(q.pub, topic); err != nil {
			return fmt.Errorf("failed to declare queue %s: %w", topic, err)
		}
		q.declared[topic] = true
	}

	err := q.pub.Publish(
		"",
		topic,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
			Body:         payload,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	q.lastTag++

	c, err := awaitConfirm(ctx, q.confirms, q.lastTag)
	if err != nil {
		return err
	}
	if !c.Ack {
		return fmt.Errorf("broker nacked message %d on %s", c.DeliveryTag, topic)
	}
	return nil
}

// awaitConfirm waits for the confirmation of tag. Confirmations of earlier
// publishes whose callers gave up on ctx are discarded.
func awaitConfirm(ctx context.Context, confirms <-chan amqp.Confirmation, tag uint64) (amqp.Confirmation, error) {
	for {
		select {
		case c, ok := <-confirms:
			if !ok {
				return c, errors.New("publish channel closed before confirm")
			}
			if c.DeliveryTag < tag {
				continue
			}
			return c, nil
		case <-ctx.Done():
			return amqp.Confirmation{}, ctx.Err()
		}
	}
}

// Subscribe consumes topic on a dedicated channel. A failed delivery is
// requeued once; a failed redelivery is dropped.
func (q *AMQPQueue) Subscribe(topic string, handler Handler) error {
	ch, err := q.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open a channel: %w", err)
	}
	if err := ch.Qos(1, 0, false); err != nil {
		return fmt.Errorf("failed to set qos: %w", err)
	}
	if err := declare(ch, topic); err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", topic, err)
	}

	msgs, err := ch.Consume(
		topic,
		"",
		false, // autoAck = false for reliability
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	go func() {
		for d := range msgs {
			q.handleDelivery(d, handler)
		}
		q.logger.Warn().Str("topic", topic).Msg("consumer channel closed")
	}()
	return nil
}

type acknowledger interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

func (q *AMQPQueue) handleDelivery(d amqp.Delivery, handler Handler) {
	settle(q.logger, d, d.Redelivered, handler(context.Background(), d.Body))
}

func settle(logger zerolog.Logger, d acknowledger, redelivered bool, err error) {
	if err == nil {
		_ = d.Ack(false)
		return
	}
	if !redelivered {
		logger.Warn().Err(err).Msg("job failed, requeueing")
		_ = d.Nack(false, true)
		return
	}
	logger.Error().Err(err).Msg("job failed after redelivery, dropping")
	_ = d.Nack(false, false)
}

func (q *AMQPQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.pub != nil {
		_ = q.pub.Close()
	}
	return q.conn.Close()
}

package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DispatchTopic carries model.DispatchJob payloads.
const DispatchTopic = "campaign_dispatch"

type Handler func(ctx context.Context, payload []byte) error

// Queue interface
type Queue interface {
	// Publish returns once the payload has been accepted by the queue.
	Publish(ctx context.Context, topic string, payload []byte) error
	Subscribe(topic string, handler Handler) error
}

// InMemoryQueue delivers to in-process subscribers with retry. It is used
// when no broker is configured.
type InMemoryQueue struct {
	mu         sync.Mutex
	handlers   map[string][]Handler
	wg         sync.WaitGroup
	logger     zerolog.Logger
	MaxRetries int
	Backoff    time.Duration
}

// NewInMemoryQueue creates a new queue
func NewInMemoryQueue(logger zerolog.Logger) *InMemoryQueue {
	return &InMemoryQueue{
		handlers:   make(map[string][]Handler),
		logger:     logger,
		MaxRetries: 3,
		Backoff:    500 * time.Millisecond,
	}
}

// JobPayload wraps a message payload with retry info
type JobPayload struct {
	Topic      string
	Payload    []byte
	RetryCount int
	MaxRetries int
}

// Publish sends a message to all subscribers
func (q *InMemoryQueue) Publish(ctx context.Context, topic string, payload []byte) error {
	q.mu.Lock()
	handlers := q.handlers[topic]
	q.mu.Unlock()

	if len(handlers) == 0 {
		return fmt.Errorf("no subscribers for topic %s", topic)
	}

	for _, handler := range handlers {
		job := JobPayload{
			Topic:      topic,
			Payload:    payload,
			MaxRetries: q.MaxRetries,
		}
		q.wg.Add(1)
		go q.processJob(context.WithoutCancel(ctx), handler, job)
	}

	return nil
}

// processJob handles retries and errors
func (q *InMemoryQueue) processJob(ctx context.Context, handler Handler, job JobPayload) {
	defer q.wg.Done()

	for {
		err := handler(ctx, job.Payload)
		if err == nil {
			q.logger.Debug().Str("topic", job.Topic).Msg("job processed")
			return // ACK
		}

		job.RetryCount++
		if job.RetryCount > job.MaxRetries {
			q.logger.Error().Err(err).Str("topic", job.Topic).Int("attempts", job.RetryCount).Msg("job permanently failed")
			return // No requeue
		}
		q.logger.Warn().Err(err).Str("topic", job.Topic).Int("attempt", job.RetryCount).Int("max_retries", job.MaxRetries).Msg("job failed, retrying")

		// Linear backoff before retry
		time.Sleep(time.Duration(job.RetryCount) * q.Backoff)
	}
}

// Subscribe adds a handler for a topic
func (q *InMemoryQueue) Subscribe(topic string, handler Handler) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.handlers[topic] = append(q.handlers[topic], handler)
	return nil
}

// Wait blocks until every published job has finished.
func (q *InMemoryQueue) Wait() {
	q.wg.Wait()
}

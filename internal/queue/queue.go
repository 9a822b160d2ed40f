package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Handler processes one message body. Returning an error asks for a retry,
// unless the error is marked Permanent.
type Handler func(ctx context.Context, body []byte) error

// Queue interface
type Queue interface {
	Publish(ctx context.Context, topic string, payload any) error
	Subscribe(topic string, handler Handler) error
	Close() error
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

const DefaultMaxRetries = 3

// InMemoryQueue delivers in-process with retry and linear backoff. Messages
// are JSON encoded on publish so handlers see the same bytes a broker would
// hand them.
type InMemoryQueue struct {
	MaxRetries int
	Backoff    time.Duration
	Log        zerolog.Logger

	mu       sync.Mutex
	handlers map[string][]Handler
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewInMemoryQueue creates a new queue
func NewInMemoryQueue(log zerolog.Logger) *InMemoryQueue {
	ctx, cancel := context.WithCancel(context.Background())
	return &InMemoryQueue{
		MaxRetries: DefaultMaxRetries,
		Backoff:    500 * time.Millisecond,
		Log:        log,
		handlers:   make(map[string][]Handler),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Publish sends a message to all subscribers
func (q *InMemoryQueue) Publish(ctx context.Context, topic string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", topic, err)
	}

	// The closed check and wg.Add share q.mu with Close, so Wait never races
	// a late Add.
	q.mu.Lock()
	handlers := q.handlers[topic]
	if len(handlers) == 0 {
		q.mu.Unlock()
		return fmt.Errorf("no subscribers for topic %s", topic)
	}
	if q.ctx.Err() != nil {
		q.mu.Unlock()
		return fmt.Errorf("queue closed")
	}
	q.wg.Add(len(handlers))
	q.mu.Unlock()

	for _, handler := range handlers {
		go func() {
			defer q.wg.Done()
			q.processJob(topic, handler, body)
		}()
	}
	return nil
}

// processJob handles retries and errors
func (q *InMemoryQueue) processJob(topic string, handler Handler, body []byte) {
	log := q.Log.With().Str("topic", topic).Logger()
	for attempt := 0; ; attempt++ {
		err := handler(q.ctx, body)
		if err == nil {
			return // ACK
		}
		if IsPermanent(err) {
			log.Error().Err(err).Msg("job rejected, not retrying")
			return
		}
		if attempt >= q.MaxRetries {
			log.Error().Err(err).Int("attempts", attempt+1).Msg("job permanently failed")
			return
		}
		log.Warn().Err(err).Int("attempt", attempt+1).Int("max_retries", q.MaxRetries).Msg("job failed, retrying")

		t := time.NewTimer(time.Duration(attempt+1) * q.Backoff)
		select {
		case <-q.ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

// Subscribe adds a handler for a topic
func (q *InMemoryQueue) Subscribe(topic string, handler Handler) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.handlers[topic] = append(q.handlers[topic], handler)
	return nil
}

// Close cancels in-flight handlers and waits for them to return.
func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	q.cancel()
	q.mu.Unlock()
	q.wg.Wait()
	return nil
}

var _ Queue = (*InMemoryQueue)(nil)

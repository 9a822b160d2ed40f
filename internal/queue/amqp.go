package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/streadway/amqp"
)

const retryHeader = "x-retry-count"

// AMQPQueue maps each topic onto a durable RabbitMQ queue of the same name.
// Deliveries are acked manually; a failed one is republished with an
// incremented x-retry-count until MaxRetries, then dropped.
type AMQPQueue struct {
	MaxRetries int
	Log        zerolog.Logger

	conn *amqp.Connection
	ch   *amqp.Channel

	mu       sync.Mutex
	declared map[string]bool
	publish  func(topic string, msg amqp.Publishing) error

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// DialAMQP connects and opens the channel used for both publishing and
// consuming.
func DialAMQP(url string, log zerolog.Logger) (*AMQPQueue, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	q := newAMQPQueue(log)
	q.conn = conn
	q.ch = ch
	q.publish = func(topic string, msg amqp.Publishing) error {
		return ch.Publish("", topic, false, false, msg)
	}
	return q, nil
}

func newAMQPQueue(log zerolog.Logger) *AMQPQueue {
	ctx, cancel := context.WithCancel(context.Background())
	return &AMQPQueue{
		MaxRetries: DefaultMaxRetries,
		Log:        log,
		declared:   map[string]bool{},
		ctx:        ctx,
		cancel:     cancel,
	}
}

// declare must be called with mu held.
func (q *AMQPQueue) declare(topic string) error {
	if q.declared[topic] || q.ch == nil {
		return nil
	}
	_, err := q.ch.QueueDeclare(
		topic, // name
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("declare queue %s: %w", topic, err)
	}
	q.declared[topic] = true
	return nil
}

func (q *AMQPQueue) Publish(ctx context.Context, topic string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", topic, err)
	}
	return q.send(topic, body, 0)
}

func (q *AMQPQueue) send(topic string, body []byte, retries int32) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.declare(topic); err != nil {
		return err
	}
	return q.publish(topic, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Headers:      amqp.Table{retryHeader: retries},
		Body:         body,
	})
}

// Subscribe starts one consumer goroutine for topic with a prefetch of one,
// so a slow handler never holds more than a single delivery.
func (q *AMQPQueue) Subscribe(topic string, handler Handler) error {
	q.mu.Lock()
	if err := q.declare(topic); err != nil {
		q.mu.Unlock()
		return err
	}
	q.mu.Unlock()

	if err := q.ch.Qos(1, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}
	msgs, err := q.ch.Consume(
		topic,
		"",
		false, // autoAck = false for reliability
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("register consumer: %w", err)
	}

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		for d := range msgs {
			q.handle(topic, d, handler)
		}
	}()
	return nil
}

func (q *AMQPQueue) handle(topic string, d amqp.Delivery, handler Handler) {
	log := q.Log.With().Str("topic", topic).Logger()

	err := handler(q.ctx, d.Body)
	switch {
	case err == nil:
	case IsPermanent(err):
		log.Error().Err(err).Msg("job rejected, not retrying")
	default:
		retries := retryCount(d.Headers)
		if retries < q.MaxRetries {
			log.Warn().Err(err).Int("attempt", retries+1).Msg("job failed, requeueing")
			if perr := q.send(topic, d.Body, int32(retries+1)); perr != nil {
				log.Error().Err(perr).Msg("requeue failed, returning delivery to broker")
				if nerr := d.Nack(false, true); nerr != nil {
					log.Error().Err(nerr).Msg("nack failed")
				}
				return
			}
		} else {
			log.Error().Err(err).Int("attempts", retries+1).Msg("job permanently failed")
		}
	}

	if aerr := d.Ack(false); aerr != nil {
		log.Error().Err(aerr).Msg("ack failed")
	}
}

// retryCount reads the header whatever integer width the broker hands back.
func retryCount(h amqp.Table) int {
	switch v := h[retryHeader].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	case int16:
		return int(v)
	case int8:
		return int(v)
	}
	return 0
}

// Close stops consumers and releases the connection.
func (q *AMQPQueue) Close() error {
	q.cancel()
	var err error
	if q.ch != nil {
		err = q.ch.Close()
	}
	q.wg.Wait()
	if q.conn != nil {
		if cerr := q.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

var _ Queue = (*AMQPQueue)(nil)

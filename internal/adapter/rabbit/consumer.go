// Package rabbit consumes file-ingestion requests from a durable RabbitMQ
// queue and feeds them to the pipeline.
package rabbit

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/couchcryptid/forecast-inserter/internal/domain"
	"github.com/couchcryptid/forecast-inserter/internal/observability"
	"github.com/couchcryptid/forecast-inserter/internal/pipeline"
)

const (
	initialBackoff = time.Second
	maxBackoff     = 30 * time.Second
)

// Ingester runs the full download-parse-store flow for one file URL.
type Ingester interface {
	Ingest(ctx context.Context, url string) (domain.Outcome, error)
}

// message is the queue payload: the URL of the file to ingest.
type message struct {
	File string `json:"file"`
}

// connection and channel mirror the slice of the amqp API the consumer uses,
// so tests can substitute fakes.
type connection interface {
	Channel() (channel, error)
	Close() error
}

type channel interface {
	Qos(prefetchCount, prefetchSize int, global bool) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Close() error
}

type amqpConnection struct {
	*amqp.Connection
}

func (c *amqpConnection) Channel() (channel, error) {
	ch, err := c.Connection.Channel()
	if err != nil {
		return nil, err
	}
	return ch, nil
}

func amqpDial(url string) (connection, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	return &amqpConnection{Connection: conn}, nil
}

// Consumer subscribes to the queue and processes deliveries one at a time per
// prefetch slot. Every delivery is acknowledged exactly once, success or not:
// a file that cannot be processed is logged and dropped, never redelivered.
type Consumer struct {
	url      string
	queue    string
	prefetch int
	ingester Ingester
	logger   *slog.Logger
	metrics  *observability.Metrics

	dial  func(url string) (connection, error)
	sleep func(ctx context.Context, d time.Duration) bool
}

// NewConsumer creates a consumer for the named durable queue.
func NewConsumer(url, queue string, prefetch int, ingester Ingester, logger *slog.Logger, metrics *observability.Metrics) *Consumer {
	return &Consumer{
		url:      url,
		queue:    queue,
		prefetch: prefetch,
		ingester: ingester,
		logger:   logger,
		metrics:  metrics,
		dial:     amqpDial,
		sleep:    sleepWithContext,
	}
}

// Run connects and consumes until the context is cancelled, reconnecting
// with exponential backoff after broker failures. The backoff starts at one
// second, doubles per failed attempt, caps at thirty seconds, and resets
// after each successful subscription.
func (c *Consumer) Run(ctx context.Context) error {
	backoff := initialBackoff

	for {
		if ctx.Err() != nil {
			return nil
		}

		err := c.session(ctx, &backoff)
		c.metrics.ConsumerConnected.Set(0)
		if ctx.Err() != nil {
			c.logger.Info("consumer stopping", "reason", ctx.Err())
			return nil
		}
		if err != nil {
			c.logger.Error("consumer session ended", "error", err, "retry_in", backoff)
		}

		if !c.sleep(ctx, backoff) {
			return nil
		}
		backoff = nextBackoff(backoff, maxBackoff)
	}
}

// session holds one connection for as long as the broker sustains it.
func (c *Consumer) session(ctx context.Context, backoff *time.Duration) error {
	conn, err := c.dial(c.url)
	if err != nil {
		return err
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return err
	}

	q, err := ch.QueueDeclare(c.queue, true, false, false, false, nil)
	if err != nil {
		return err
	}

	deliveries, err := ch.Consume(q.Name, "", false, false, false, false, nil)
	if err != nil {
		return err
	}

	c.metrics.ConsumerConnected.Set(1)
	*backoff = initialBackoff
	c.logger.Info("consumer subscribed", "queue", q.Name, "prefetch", c.prefetch)

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("delivery channel closed by broker")
			}
			c.handleDelivery(ctx, d)
		}
	}
}

// handleDelivery processes one message and always acknowledges it. Failures
// are attributed to a stage for metrics; a panic in processing is contained
// so one poison message cannot take the consumer down.
func (c *Consumer) handleDelivery(ctx context.Context, d amqp.Delivery) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("panic while processing message", "panic", r, "body", truncate(d.Body))
			c.metrics.MessageFailures.WithLabelValues("message").Inc()
			c.ack(d)
		}
	}()

	c.metrics.MessagesConsumed.Inc()

	var msg message
	if err := json.Unmarshal(d.Body, &msg); err != nil || strings.TrimSpace(msg.File) == "" {
		c.logger.Warn("discarding malformed message", "body", truncate(d.Body), "error", err)
		c.metrics.MessageFailures.WithLabelValues("message").Inc()
		c.ack(d)
		return
	}

	outcome, err := c.ingester.Ingest(ctx, msg.File)
	if err != nil {
		stage := "message"
		var stageErr *pipeline.StageError
		if errors.As(err, &stageErr) {
			stage = stageErr.Stage
		}
		c.logger.Error("message processing failed", "file", msg.File, "stage", stage, "error", err)
		c.metrics.MessageFailures.WithLabelValues(stage).Inc()
	} else {
		c.logger.Info("message processed",
			"file_name", outcome.FileName,
			"inserted_rows", outcome.InsertedRows)
	}

	c.ack(d)
}

func (c *Consumer) ack(d amqp.Delivery) {
	if err := d.Ack(false); err != nil {
		c.logger.Warn("ack failed", "error", err)
	}
}

func truncate(body []byte) string {
	const limit = 256
	if len(body) > limit {
		return string(body[:limit]) + "..."
	}
	return string(body)
}

func nextBackoff(current, ceiling time.Duration) time.Duration {
	next := current * 2
	if next > ceiling {
		return ceiling
	}
	return next
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

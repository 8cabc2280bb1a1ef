package consumer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"leadflow/internal/platform/retry"
)

// Message is the transport-agnostic view of one bus record handed to
// handlers. Handlers never see kgo types.
type Message struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Value     []byte
	Timestamp time.Time
}

// Handler processes one message. Returning nil commits the offset; returning
// an error keeps the offset uncommitted and the consumer retries the record
// with backoff, blocking that partition. Handlers that route a bad payload
// to the dead-letter sink must return nil so the record commits.
type Handler interface {
	Handle(ctx context.Context, msg *Message) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, msg *Message) error

func (f HandlerFunc) Handle(ctx context.Context, msg *Message) error {
	return f(ctx, msg)
}

// Config describes one consumer group membership.
type Config struct {
	Brokers []string
	Group   string
	Topics  []string
}

// Consumer wraps a franz-go group consumer with manual, per-record offset
// commits: a record's offset is committed only after its handler returns
// nil, so an in-flight operation is never abandoned by shutdown and
// redelivery on restart gives at-least-once semantics.
type Consumer struct {
	client  *kgo.Client
	handler Handler
	logger  *slog.Logger
	tracer  trace.Tracer
	backoff retry.Policy
}

// New creates a consumer in the given group. Auto-commit is disabled; Run
// owns the commit points.
func New(cfg Config, handler Handler, logger *slog.Logger) (*Consumer, error) {
	if handler == nil {
		return nil, fmt.Errorf("consumer handler is required")
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumerGroup(cfg.Group),
		kgo.ConsumeTopics(cfg.Topics...),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
		kgo.DisableAutoCommit(),
		kgo.FetchMaxWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}

	return &Consumer{
		client:  client,
		handler: handler,
		logger:  logger,
		tracer:  otel.Tracer("leadflow/platform/kafka"),
		backoff: retry.Policy{MaxAttempts: 0, BaseDelay: time.Second, MaxDelay: time.Minute},
	}, nil
}

// Run polls until ctx is canceled. A failing record is retried in place with
// backoff rather than skipped: committing a later offset would implicitly
// commit the failed one.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		for _, fetchErr := range fetches.Errors() {
			c.logger.Error("kafka fetch error",
				"topic", fetchErr.Topic,
				"partition", fetchErr.Partition,
				"error", fetchErr.Err,
			)
		}

		var records []*kgo.Record
		fetches.EachRecord(func(r *kgo.Record) {
			records = append(records, r)
		})

		for _, record := range records {
			if err := c.process(ctx, record); err != nil {
				// Only context cancellation escapes process; leave the
				// offset uncommitted for redelivery after restart.
				return err
			}
			if err := c.client.CommitRecords(ctx, record); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				c.logger.Error("commit offset failed",
					"topic", record.Topic,
					"partition", record.Partition,
					"offset", record.Offset,
					"error", err,
				)
			}
		}
	}
}

func (c *Consumer) process(ctx context.Context, record *kgo.Record) error {
	msg := &Message{
		Topic:     record.Topic,
		Partition: record.Partition,
		Offset:    record.Offset,
		Key:       record.Key,
		Value:     record.Value,
		Timestamp: record.Timestamp,
	}

	return retry.Do(ctx, c.backoff, func(ctx context.Context) error {
		spanCtx, span := c.tracer.Start(ctx, "consume "+msg.Topic,
			trace.WithAttributes(
				attribute.String("messaging.kafka.topic", msg.Topic),
				attribute.Int64("messaging.kafka.offset", msg.Offset),
				attribute.Int("messaging.kafka.partition", int(msg.Partition)),
			),
		)
		defer span.End()

		err := c.handler.Handle(spanCtx, msg)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			c.logger.Warn("handler failed, will retry",
				"topic", msg.Topic,
				"partition", msg.Partition,
				"offset", msg.Offset,
				"key", string(msg.Key),
				"error", err,
			)
		}
		return err
	})
}

// Close leaves the group and releases the client.
func (c *Consumer) Close() {
	c.client.Close()
}

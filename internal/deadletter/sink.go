// Package deadletter routes unprocessable messages to a side topic so the
// main pipeline never blocks on a malformed payload and nothing is silently
// dropped.
package deadletter

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"

	"leadflow/internal/platform/kafka/consumer"
	"leadflow/internal/platform/kafka/producer"
)

// Suffix appended to the source topic to form its dead-letter topic.
const Suffix = ".dlq"

// Sink publishes dead letters, preserving the original key and value and
// recording the failure reason in a header.
type Sink struct {
	producer *producer.Producer
	logger   *slog.Logger
}

func New(p *producer.Producer, logger *slog.Logger) *Sink {
	return &Sink{producer: p, logger: logger}
}

// Send publishes msg to its topic's dead-letter topic. Callers return nil
// to their consumer afterwards so the source offset commits; if the
// dead-letter produce itself fails, the error propagates and the source
// record is retried instead of lost.
func (s *Sink) Send(ctx context.Context, msg *consumer.Message, cause error) error {
	record := &kgo.Record{
		Topic: msg.Topic + Suffix,
		Key:   msg.Key,
		Value: msg.Value,
		Headers: []kgo.RecordHeader{
			{Key: "dead-letter-reason", Value: []byte(cause.Error())},
			{Key: "source-topic", Value: []byte(msg.Topic)},
		},
	}
	if err := s.producer.Produce(ctx, record); err != nil {
		return fmt.Errorf("dead-letter %s: %w", msg.Topic, err)
	}

	s.logger.Warn("message dead-lettered",
		"topic", msg.Topic,
		"partition", msg.Partition,
		"offset", msg.Offset,
		"key", string(msg.Key),
		"reason", cause.Error(),
	)
	return nil
}

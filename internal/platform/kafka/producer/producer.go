package producer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"
)

// Config describes producer connectivity.
type Config struct {
	Brokers []string
}

// Producer wraps a franz-go producer. Produces are synchronous: workers only
// commit their consumer offsets after downstream records are acknowledged.
type Producer struct {
	client *kgo.Client
	logger *slog.Logger
}

func New(cfg Config, logger *slog.Logger) (*Producer, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return &Producer{client: client, logger: logger}, nil
}

// ProduceJSON marshals v and produces it keyed by key. The key is the
// partition key, so all events for one lead stay ordered.
func (p *Producer) ProduceJSON(ctx context.Context, topic, key string, v any) error {
	value, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", topic, err)
	}
	return p.Produce(ctx, &kgo.Record{Topic: topic, Key: []byte(key), Value: value})
}

// Produce sends a raw record and waits for broker acknowledgement.
func (p *Producer) Produce(ctx context.Context, record *kgo.Record) error {
	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce to %s: %w", record.Topic, err)
	}
	return nil
}

// Close flushes and releases the client.
func (p *Producer) Close() {
	p.client.Close()
}

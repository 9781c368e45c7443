// Package kafka wraps franz-go with the narrow producer/consumer surface the
// pipeline needs: durable synchronous produce and manual offset commits so
// delivery stays at-least-once.
package kafka

import (
	"context"
	"errors"
	"fmt"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
)

// Message is one consumed record. The embedded record is kept private so
// commits can reference exact offsets without leaking kgo types upward.
type Message struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Value     []byte

	rec *kgo.Record
}

// Producer publishes records with acks from all in-sync replicas. Produce
// returns only after the broker has acknowledged the write, which is what
// lets intake promise durability before responding to the producer.
type Producer struct {
	client *kgo.Client
}

// NewProducer connects a producer to the given brokers.
func NewProducer(brokers []string) (*Producer, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return &Producer{client: client}, nil
}

// Produce synchronously writes one record keyed by key.
func (p *Producer) Produce(ctx context.Context, topic string, key, value []byte) error {
	record := &kgo.Record{Topic: topic, Key: key, Value: value}
	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce to %s: %w", topic, err)
	}
	return nil
}

// Close flushes and releases the producer.
func (p *Producer) Close() {
	p.client.Close()
}

// Consumer reads from a consumer group with auto-commit disabled. Callers
// must Commit processed messages; uncommitted messages are redelivered after
// a rebalance or restart.
type Consumer struct {
	client *kgo.Client
}

// NewConsumer joins the consumer group for the given topics.
func NewConsumer(brokers []string, group string, topics ...string) (*Consumer, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ConsumerGroup(group),
		kgo.ConsumeTopics(topics...),
		kgo.DisableAutoCommit(),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka consumer: %w", err)
	}
	return &Consumer{client: client}, nil
}

// Poll blocks until records arrive or ctx is done.
func (c *Consumer) Poll(ctx context.Context) ([]*Message, error) {
	fetches := c.client.PollFetches(ctx)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if errs := fetches.Errors(); len(errs) > 0 {
		return nil, fmt.Errorf("poll %s: %w", errs[0].Topic, errs[0].Err)
	}

	var msgs []*Message
	fetches.EachRecord(func(rec *kgo.Record) {
		msgs = append(msgs, &Message{
			Topic:     rec.Topic,
			Partition: rec.Partition,
			Offset:    rec.Offset,
			Key:       rec.Key,
			Value:     rec.Value,
			rec:       rec,
		})
	})
	return msgs, nil
}

// Commit commits the given messages' offsets. Committing a message marks
// everything before it on the same partition consumed too, so callers
// sharing a partition across workers must only pass messages below which
// no record is still in flight.
func (c *Consumer) Commit(ctx context.Context, msgs ...*Message) error {
	recs := make([]*kgo.Record, 0, len(msgs))
	for _, msg := range msgs {
		if msg.rec != nil {
			recs = append(recs, msg.rec)
		}
	}
	if len(recs) == 0 {
		return nil
	}
	if err := c.client.CommitRecords(ctx, recs...); err != nil {
		return fmt.Errorf("commit offsets: %w", err)
	}
	return nil
}

// Close leaves the group and releases the consumer.
func (c *Consumer) Close() {
	c.client.Close()
}

// EnsureTopics creates the given topics if they do not exist yet. Existing
// topics are not an error.
func EnsureTopics(ctx context.Context, brokers []string, partitions int32, topics ...string) error {
	client, err := kgo.NewClient(kgo.SeedBrokers(brokers...))
	if err != nil {
		return fmt.Errorf("create admin client: %w", err)
	}
	defer client.Close()

	adm := kadm.NewClient(client)
	resp, err := adm.CreateTopics(ctx, partitions, 1, nil, topics...)
	if err != nil {
		return fmt.Errorf("create topics: %w", err)
	}
	for _, topic := range resp.Sorted() {
		if topic.Err != nil && !errors.Is(topic.Err, kerr.TopicAlreadyExists) {
			return fmt.Errorf("create topic %s: %w", topic.Topic, topic.Err)
		}
	}
	return nil
}

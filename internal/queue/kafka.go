package queue

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"vigil/internal/event"
	"vigil/internal/platform/kafka"
	dErrors "vigil/pkg/domain-errors"
)

// KafkaProducer publishes events to the events topic, keyed by event id so
// redeliveries of the same event stay on one partition.
type KafkaProducer struct {
	producer *kafka.Producer
	topic    string
}

func NewKafkaProducer(producer *kafka.Producer, topic string) *KafkaProducer {
	return &KafkaProducer{producer: producer, topic: topic}
}

func (p *KafkaProducer) Enqueue(ctx context.Context, e event.AuditEvent) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "marshal event")
	}
	if err := p.producer.Produce(ctx, p.topic, []byte(e.ID.String()), payload); err != nil {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "enqueue event")
	}
	return nil
}

// KafkaConsumer adapts the franz-go wrapper to the Consumer interface.
// One consumer feeds several workers, so Ack routes through a per-partition
// offset tracker and only the contiguous low watermark is committed; an ack
// for a later offset never commits past an earlier record still in flight.
// Nack leaves the offset unacked, which holds the watermark and redelivers
// the event after a restart or rebalance.
type KafkaConsumer struct {
	consumer *kafka.Consumer
	logger   *slog.Logger
	tracker  *offsetTracker

	mu      sync.Mutex
	pending []*kafka.Message
}

func NewKafkaConsumer(consumer *kafka.Consumer, logger *slog.Logger) *KafkaConsumer {
	return &KafkaConsumer{consumer: consumer, logger: logger, tracker: newOffsetTracker()}
}

func (c *KafkaConsumer) Dequeue(ctx context.Context) (*Delivery, error) {
	for {
		msg, err := c.next(ctx)
		if err != nil {
			return nil, err
		}

		var e event.AuditEvent
		if err := json.Unmarshal(msg.Value, &e); err != nil {
			// Malformed messages must not block the partition: ack and move on.
			c.logger.ErrorContext(ctx, "malformed event on queue, skipping",
				"topic", msg.Topic,
				"key", string(msg.Key),
				"error", err,
			)
			if err := c.commitAcked(ctx, msg); err != nil {
				return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "commit malformed message")
			}
			continue
		}

		return &Delivery{
			Event: e,
			ack: func(ctx context.Context) error {
				return c.commitAcked(ctx, msg)
			},
			nack: func(context.Context) error {
				// Leaving the offset unacked is the redelivery mechanism.
				return nil
			},
		}, nil
	}
}

// commitAcked records the ack and commits the partition's new low
// watermark if it advanced. No commit happens while an earlier record on
// the partition is still in flight.
func (c *KafkaConsumer) commitAcked(ctx context.Context, msg *kafka.Message) error {
	ready := c.tracker.ack(msg)
	if ready == nil {
		return nil
	}
	return c.consumer.Commit(ctx, ready)
}

func (c *KafkaConsumer) next(ctx context.Context) (*kafka.Message, error) {
	c.mu.Lock()
	if len(c.pending) > 0 {
		msg := c.pending[0]
		c.pending = c.pending[1:]
		c.mu.Unlock()
		return msg, nil
	}
	c.mu.Unlock()

	for {
		msgs, err := c.consumer.Poll(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "poll queue")
		}
		if len(msgs) == 0 {
			continue
		}

		for _, msg := range msgs {
			c.tracker.track(msg)
		}
		c.mu.Lock()
		c.pending = append(c.pending, msgs[1:]...)
		c.mu.Unlock()
		return msgs[0], nil
	}
}

func (c *KafkaConsumer) Close() {
	c.consumer.Close()
}

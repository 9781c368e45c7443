package alert

import (
	"context"
	"encoding/json"
	"sync"

	"vigil/internal/event"
	"vigil/internal/platform/kafka"
	dErrors "vigil/pkg/domain-errors"
)

// Publisher delivers alerts to the dashboard channel.
type Publisher interface {
	Publish(ctx context.Context, a event.Alert) error
}

// KafkaPublisher writes alerts to the alerts topic, keyed by event id so
// per-event ordering holds for dashboard consumers.
type KafkaPublisher struct {
	producer *kafka.Producer
	topic    string
}

func NewKafkaPublisher(producer *kafka.Producer, topic string) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, topic: topic}
}

func (p *KafkaPublisher) Publish(ctx context.Context, a event.Alert) error {
	value, err := json.Marshal(a)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "marshal alert")
	}
	if err := p.producer.Produce(ctx, p.topic, []byte(a.EventID.String()), value); err != nil {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "publish alert")
	}
	return nil
}

// MemoryPublisher collects published alerts for tests.
type MemoryPublisher struct {
	mu       sync.Mutex
	alerts   []event.Alert
	failWith error
}

func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{}
}

// FailWith makes all subsequent publishes return err; nil restores
// normal behavior.
func (p *MemoryPublisher) FailWith(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failWith = err
}

func (p *MemoryPublisher) Publish(_ context.Context, a event.Alert) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failWith != nil {
		return p.failWith
	}
	p.alerts = append(p.alerts, a)
	return nil
}

// Published returns a copy of everything published so far.
func (p *MemoryPublisher) Published() []event.Alert {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]event.Alert(nil), p.alerts...)
}

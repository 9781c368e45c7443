package queue

import (
	"sync"

	"vigil/internal/platform/kafka"
)

type partitionKey struct {
	topic     string
	partition int32
}

// offsetTracker serializes commits for partitions shared by concurrent
// workers. Committing an offset marks every earlier offset on the
// partition consumed, so a record acked out of delivery order must wait
// until all records before it are acked too. Only the contiguous low
// watermark is ever handed back for commit.
type offsetTracker struct {
	mu          sync.Mutex
	outstanding map[partitionKey][]*kafka.Message
	acked       map[partitionKey]map[int64]struct{}
}

func newOffsetTracker() *offsetTracker {
	return &offsetTracker{
		outstanding: make(map[partitionKey][]*kafka.Message),
		acked:       make(map[partitionKey]map[int64]struct{}),
	}
}

// track registers a delivered message. Messages on one partition must be
// tracked in delivery order, which is the order Poll returns them.
func (t *offsetTracker) track(msg *kafka.Message) {
	key := partitionKey{topic: msg.Topic, partition: msg.Partition}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.outstanding[key] = append(t.outstanding[key], msg)
}

// ack marks msg processed and returns the newest message on its partition
// that is now safe to commit, or nil while an earlier message is still in
// flight. A nacked message is never acked, so it holds the watermark and
// everything from it onward is redelivered after a restart.
func (t *offsetTracker) ack(msg *kafka.Message) *kafka.Message {
	key := partitionKey{topic: msg.Topic, partition: msg.Partition}
	t.mu.Lock()
	defer t.mu.Unlock()

	acked := t.acked[key]
	if acked == nil {
		acked = make(map[int64]struct{})
		t.acked[key] = acked
	}
	acked[msg.Offset] = struct{}{}

	var ready *kafka.Message
	pending := t.outstanding[key]
	for len(pending) > 0 {
		head := pending[0]
		if _, ok := acked[head.Offset]; !ok {
			break
		}
		delete(acked, head.Offset)
		ready = head
		pending = pending[1:]
	}

	if len(pending) == 0 {
		delete(t.outstanding, key)
		delete(t.acked, key)
	} else {
		t.outstanding[key] = pending
	}
	return ready
}

package alert

import (
	"context"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	id "vigil/pkg/domain"
	dErrors "vigil/pkg/domain-errors"
)

// Deduper decides whether an event id has already alerted inside the
// dedup window. Claim is atomic: of N concurrent callers for the same
// id, exactly one gets true.
type Deduper interface {
	Claim(ctx context.Context, eventID id.EventID, window time.Duration) (bool, error)
}

// RedisDeduper claims ids with SET NX and a TTL equal to the window, so
// dedup state survives restarts and is shared across replicas.
type RedisDeduper struct {
	client goredis.Cmdable
}

// NewRedisDeduper wraps a redis client.
func NewRedisDeduper(client goredis.Cmdable) *RedisDeduper {
	return &RedisDeduper{client: client}
}

func dedupKey(eventID id.EventID) string {
	return "vigil:alert:dedup:" + eventID.String()
}

func (d *RedisDeduper) Claim(ctx context.Context, eventID id.EventID, window time.Duration) (bool, error) {
	claimed, err := d.client.SetNX(ctx, dedupKey(eventID), 1, window).Result()
	if err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeUnavailable, "alert dedup claim")
	}
	return claimed, nil
}

// MemoryDeduper is the in-process fallback used when Redis is not
// configured, and the unit-test double. Dedup state is lost on restart.
type MemoryDeduper struct {
	mu   sync.Mutex
	seen map[id.EventID]time.Time
	now  func() time.Time
}

func NewMemoryDeduper() *MemoryDeduper {
	return &MemoryDeduper{
		seen: make(map[id.EventID]time.Time),
		now:  time.Now,
	}
}

// SetClock overrides the clock. Tests use it to step past the window.
func (d *MemoryDeduper) SetClock(now func() time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.now = now
}

func (d *MemoryDeduper) Claim(_ context.Context, eventID id.EventID, window time.Duration) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if until, ok := d.seen[eventID]; ok && now.Before(until) {
		return false, nil
	}
	d.seen[eventID] = now.Add(window)
	return true, nil
}

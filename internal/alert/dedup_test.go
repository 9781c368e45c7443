package alert

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "vigil/pkg/domain"
)

func TestMemoryDeduper_Claim(t *testing.T) {
	ctx := context.Background()
	window := 15 * time.Minute

	t.Run("first claim wins, second is suppressed", func(t *testing.T) {
		d := NewMemoryDeduper()
		eventID := id.NewEventID()

		first, err := d.Claim(ctx, eventID, window)
		require.NoError(t, err)
		assert.True(t, first)

		second, err := d.Claim(ctx, eventID, window)
		require.NoError(t, err)
		assert.False(t, second)
	})

	t.Run("different ids claim independently", func(t *testing.T) {
		d := NewMemoryDeduper()

		a, err := d.Claim(ctx, id.NewEventID(), window)
		require.NoError(t, err)
		b, err := d.Claim(ctx, id.NewEventID(), window)
		require.NoError(t, err)
		assert.True(t, a)
		assert.True(t, b)
	})

	t.Run("claim succeeds again after the window", func(t *testing.T) {
		d := NewMemoryDeduper()
		eventID := id.NewEventID()

		base := time.Now()
		d.SetClock(func() time.Time { return base })
		claimed, err := d.Claim(ctx, eventID, window)
		require.NoError(t, err)
		require.True(t, claimed)

		d.SetClock(func() time.Time { return base.Add(window - time.Second) })
		claimed, err = d.Claim(ctx, eventID, window)
		require.NoError(t, err)
		assert.False(t, claimed)

		d.SetClock(func() time.Time { return base.Add(window + time.Second) })
		claimed, err = d.Claim(ctx, eventID, window)
		require.NoError(t, err)
		assert.True(t, claimed)
	})

	t.Run("exactly one of N concurrent claims wins", func(t *testing.T) {
		d := NewMemoryDeduper()
		eventID := id.NewEventID()

		var wg sync.WaitGroup
		var mu sync.Mutex
		wins := 0
		for i := 0; i < 32; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				claimed, err := d.Claim(ctx, eventID, window)
				assert.NoError(t, err)
				if claimed {
					mu.Lock()
					wins++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, wins)
	})
}

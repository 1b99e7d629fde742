package messaging

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/learning-progress/internal/domain/leaderboard"
	"github.com/alem-hub/learning-progress/internal/domain/shared"
	"github.com/alem-hub/learning-progress/pkg/logger"
)

func pointsEvent() shared.Event {
	return shared.NewPointsAwardedEvent("u1", "tx1", 10, "lesson_completed", 10, time.Now())
}

func TestInMemoryEventBus_SyncDelivery(t *testing.T) {
	bus := NewInMemoryEventBus(Config{Async: false})
	defer bus.Close()

	var typed, all []shared.EventType
	require.NoError(t, bus.Subscribe(shared.EventPointsAwarded, func(e shared.Event) error {
		typed = append(typed, e.EventType())
		return nil
	}))
	require.NoError(t, bus.SubscribeAll(func(e shared.Event) error {
		all = append(all, e.EventType())
		return errors.New("ignored")
	}))

	require.NoError(t, bus.Publish(pointsEvent()))
	require.NoError(t, bus.Publish(shared.NewLevelUpEvent("u1", 1, 2, "Apprentice", time.Now())))

	assert.Equal(t, []shared.EventType{shared.EventPointsAwarded}, typed)
	assert.Len(t, all, 2)
	assert.EqualValues(t, 2, bus.Stats().Failed.Load())
}

func TestInMemoryEventBus_PanicIsContained(t *testing.T) {
	bus := NewInMemoryEventBus(Config{Async: false, Logger: logger.Nop()})
	defer bus.Close()

	require.NoError(t, bus.SubscribeAll(func(shared.Event) error { panic("boom") }))
	assert.NoError(t, bus.Publish(pointsEvent()))
	assert.EqualValues(t, 1, bus.Stats().Failed.Load())
}

func TestInMemoryEventBus_AsyncCloseWaits(t *testing.T) {
	bus := NewInMemoryEventBus(Config{Async: true, Workers: 2})

	var handled atomic.Int32
	require.NoError(t, bus.Subscribe(shared.EventPointsAwarded, func(shared.Event) error {
		time.Sleep(10 * time.Millisecond)
		handled.Add(1)
		return nil
	}))
	for i := 0; i < 5; i++ {
		require.NoError(t, bus.Publish(pointsEvent()))
	}
	require.NoError(t, bus.Close())
	assert.EqualValues(t, 5, handled.Load())

	assert.ErrorIs(t, bus.Publish(pointsEvent()), ErrEventBusClosed)
	assert.ErrorIs(t, bus.Subscribe(shared.EventLevelUp, func(shared.Event) error { return nil }), ErrEventBusClosed)
}

type countingCache struct {
	mu          sync.Mutex
	invalidated int
}

func (c *countingCache) Get(context.Context, leaderboard.Period, time.Time) ([]leaderboard.Standing, bool, error) {
	return nil, false, nil
}

func (c *countingCache) Generation(context.Context) (int64, error) {
	return 0, nil
}

func (c *countingCache) Set(context.Context, leaderboard.Period, time.Time, []leaderboard.Standing, time.Duration, int64) (bool, error) {
	return true, nil
}

func (c *countingCache) Invalidate(context.Context) error {
	c.mu.Lock()
	c.invalidated++
	c.mu.Unlock()
	return nil
}

func TestSubscribeLeaderboardInvalidation(t *testing.T) {
	bus := NewInMemoryEventBus(Config{Async: false})
	defer bus.Close()

	cache := &countingCache{}
	require.NoError(t, SubscribeLeaderboardInvalidation(bus, cache))
	require.NoError(t, SubscribeAudit(bus, logger.Nop()))

	require.NoError(t, bus.Publish(pointsEvent()))
	require.NoError(t, bus.Publish(shared.NewLevelUpEvent("u1", 1, 2, "Apprentice", time.Now())))
	assert.Equal(t, 1, cache.invalidated)
}

// ABOUTME: Tests for the database-side change consumer
// ABOUTME: Verifies envelope application and resilience to bad payloads

package relay

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetmesh/scheddb/pkg/schedule"
)

func startConsumer(t *testing.T, bus *Bus, db *schedule.Database, opts ...ConsumerOption) *Consumer {
	t.Helper()
	consumer := NewConsumer(bus, db, zerolog.Nop(), opts...)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go consumer.Run(ctx)

	select {
	case <-consumer.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("consumer never became ready")
	}
	return consumer
}

func registerTestParticipant(t *testing.T, db *schedule.Database) schedule.ParticipantID {
	t.Helper()
	reg, err := db.RegisterParticipant(schedule.ParticipantDescription{Name: "robot"})
	require.NoError(t, err)
	return reg.ID
}

func TestConsumerAppliesChanges(t *testing.T) {
	bus, _ := setupTestBus(t)
	db := schedule.NewDatabase()
	id := registerTestParticipant(t, db)

	var mu sync.Mutex
	var modes []string
	startConsumer(t, bus, db, WithChangeObserver(func(mode string) {
		mu.Lock()
		modes = append(modes, mode)
		mu.Unlock()
	}))

	ctx := context.Background()
	now := time.Now()
	require.NoError(t, bus.PublishChange(ctx, schedule.MakePut(id, schedule.Itinerary{
		{Map: "L1", Begin: now, End: now.Add(5 * time.Minute)},
	}), 0))
	require.NoError(t, bus.PublishChange(ctx, schedule.MakePost(id, schedule.Route{
		Map: "L2", Begin: now, End: now.Add(5 * time.Minute),
	}), 1))

	assert.Eventually(t, func() bool {
		itinerary, err := db.GetItinerary(id)
		return err == nil && len(itinerary) == 2
	}, 2*time.Second, 10*time.Millisecond, "changes never reached the database")

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(modes) == 2
	}, 2*time.Second, 10*time.Millisecond)
	mu.Lock()
	assert.Equal(t, []string{"put", "post"}, modes)
	mu.Unlock()
}

func TestConsumerSurvivesBadPayloads(t *testing.T) {
	bus, mr := setupTestBus(t)
	db := schedule.NewDatabase()
	id := registerTestParticipant(t, db)

	var rejections atomic.Int64
	startConsumer(t, bus, db, WithRejectionObserver(func() {
		rejections.Add(1)
	}))

	// Garbage and a rejected change (unknown participant) must not kill the
	// consumer.
	mr.Publish(bus.ChangesChannel(), "not json")
	ctx := context.Background()
	require.NoError(t, bus.PublishChange(ctx, schedule.MakeErase(999), 0))

	now := time.Now()
	require.NoError(t, bus.PublishChange(ctx, schedule.MakePut(id, schedule.Itinerary{
		{Map: "L1", Begin: now, End: now.Add(time.Minute)},
	}), 0))

	assert.Eventually(t, func() bool {
		itinerary, err := db.GetItinerary(id)
		return err == nil && len(itinerary) == 1
	}, 2*time.Second, 10*time.Millisecond, "consumer stopped after a bad payload")

	assert.Eventually(t, func() bool {
		return rejections.Load() == 2
	}, 2*time.Second, 10*time.Millisecond, "rejections never observed")
}

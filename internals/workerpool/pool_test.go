package workerpool

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sfu-core/engine/internals/config"
)

func testPoolConfig(size int) config.WorkerPoolConfig {
	return config.WorkerPoolConfig{Size: size}
}

func testCodecs() []config.MediaCodec {
	return []config.MediaCodec{
		{Kind: "audio", MimeType: "audio/opus", ClockRate: 48000, Channels: 2},
		{Kind: "video", MimeType: "video/VP8", ClockRate: 90000},
	}
}

type fakeRoomCounts struct {
	workerIndex      int
	participantCount int
}

func (f fakeRoomCounts) WorkerIndex() int      { return f.workerIndex }
func (f fakeRoomCounts) ParticipantCount() int { return f.participantCount }

func TestStartPool_CreatesConfiguredSlotCount(t *testing.T) {
	pool, err := StartPool(testPoolConfig(3), testCodecs(), zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 3, pool.Size())
}

func TestStartPool_ZeroSizeDefaultsToOne(t *testing.T) {
	pool, err := StartPool(testPoolConfig(0), testCodecs(), zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 1, pool.Size())
}

func TestPool_PickLeastLoaded_PrefersFewestParticipants(t *testing.T) {
	pool, err := StartPool(testPoolConfig(3), testCodecs(), zap.NewNop())
	require.NoError(t, err)

	rooms := []RoomCounts{
		fakeRoomCounts{workerIndex: 0, participantCount: 5},
		fakeRoomCounts{workerIndex: 1, participantCount: 1},
		fakeRoomCounts{workerIndex: 2, participantCount: 3},
	}

	slot, err := pool.PickLeastLoaded(rooms)
	require.NoError(t, err)
	assert.Equal(t, 1, slot.Index)
}

func TestPool_PickLeastLoaded_TiesBreakOnLowestIndex(t *testing.T) {
	pool, err := StartPool(testPoolConfig(3), testCodecs(), zap.NewNop())
	require.NoError(t, err)

	slot, err := pool.PickLeastLoaded(nil)
	require.NoError(t, err)
	assert.Equal(t, 0, slot.Index)
}

func TestPool_RefreshCounters_ZeroesEmptySlots(t *testing.T) {
	pool, err := StartPool(testPoolConfig(2), testCodecs(), zap.NewNop())
	require.NoError(t, err)

	pool.RefreshCounters([]RoomCounts{
		fakeRoomCounts{workerIndex: 0, participantCount: 4},
	})

	stats := pool.Stats()
	var slot0, slot1 SlotStats
	for _, s := range stats {
		if s.Index == 0 {
			slot0 = s
		}
		if s.Index == 1 {
			slot1 = s
		}
	}
	assert.Equal(t, 4, slot0.ParticipantCount)
	assert.Equal(t, 1, slot0.RoomCount)
	assert.Equal(t, 0, slot1.ParticipantCount)
	assert.Equal(t, 0, slot1.RoomCount)
}

func TestPool_Slot_LooksUpByIndex(t *testing.T) {
	pool, err := StartPool(testPoolConfig(2), testCodecs(), zap.NewNop())
	require.NoError(t, err)

	slot, ok := pool.Slot(1)
	require.True(t, ok)
	assert.Equal(t, 1, slot.Index)

	_, ok = pool.Slot(99)
	assert.False(t, ok)
}

func TestPool_CreateRouter_ReturnsFnResult(t *testing.T) {
	pool, err := StartPool(testPoolConfig(1), testCodecs(), zap.NewNop())
	require.NoError(t, err)

	result, err := pool.CreateRouter(context.Background(), func() (any, error) {
		return "router-handle", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "router-handle", result)
}

func TestPool_CreateRouter_WrapsFnError(t *testing.T) {
	pool, err := StartPool(testPoolConfig(1), testCodecs(), zap.NewNop())
	require.NoError(t, err)

	boom := errors.New("init failed")
	_, err = pool.CreateRouter(context.Background(), func() (any, error) {
		return nil, boom
	})
	require.Error(t, err)
	assert.ErrorContains(t, err, "init failed")
}

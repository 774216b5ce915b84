package room

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sfu-core/engine/internals/config"
	"github.com/sfu-core/engine/internals/errs"
	"github.com/sfu-core/engine/internals/participant"
	"github.com/sfu-core/engine/internals/workerpool"
)

func testRoom(t *testing.T) *Room {
	t.Helper()
	pool, err := workerpool.StartPool(config.WorkerPoolConfig{Size: 1}, testMediaCodecs(), zap.NewNop())
	require.NoError(t, err)
	slot, ok := pool.Slot(0)
	require.True(t, ok)

	r, err := newRoom("session-1", slot, pool, testMediaCodecs(), config.TransportConfig{}, testGatewayConfig(), nil, zap.NewNop())
	require.NoError(t, err)
	return r
}

func TestRoom_AddClient_RejectsDuplicateUserID(t *testing.T) {
	r := testRoom(t)
	defer r.Close()

	require.NoError(t, r.AddClient("user-1", fakeSocket{}, "desktop", "producer"))
	err := r.AddClient("user-1", fakeSocket{}, "desktop", "producer")
	assert.ErrorIs(t, err, errs.ErrDuplicateParticipant)
}

func TestRoom_JoinRoom_RequiresPriorAddClient(t *testing.T) {
	r := testRoom(t)
	defer r.Close()

	_, err := r.JoinRoom("ghost", participant.RTPCapabilities{}, participant.ProducerCapabilities{})
	assert.ErrorIs(t, err, errs.ErrParticipantNotFound)
}

func TestRoom_JoinRoom_RejectsDoubleJoin(t *testing.T) {
	r := testRoom(t)
	defer r.Close()

	require.NoError(t, r.AddClient("user-1", fakeSocket{}, "desktop", "producer"))
	_, err := r.JoinRoom("user-1", participant.RTPCapabilities{}, participant.ProducerCapabilities{})
	require.NoError(t, err)

	_, err = r.JoinRoom("user-1", participant.RTPCapabilities{}, participant.ProducerCapabilities{})
	assert.ErrorIs(t, err, errs.ErrAlreadyJoined)
}

func TestRoom_JoinRoom_ReturnsExistingJoinedPeers(t *testing.T) {
	r := testRoom(t)
	defer r.Close()

	require.NoError(t, r.AddClient("user-1", fakeSocket{}, "desktop", "producer"))
	_, err := r.JoinRoom("user-1", participant.RTPCapabilities{}, participant.ProducerCapabilities{})
	require.NoError(t, err)

	require.NoError(t, r.AddClient("user-2", fakeSocket{}, "mobile", "producer"))
	result, err := r.JoinRoom("user-2", participant.RTPCapabilities{}, participant.ProducerCapabilities{})
	require.NoError(t, err)

	require.Len(t, result.PeersInfo, 1)
	assert.Equal(t, "user-1", result.PeersInfo[0].ID)
}

func TestRoom_RemoveClient_ClosesRoomWhenEmpty(t *testing.T) {
	r := testRoom(t)

	require.NoError(t, r.AddClient("user-1", fakeSocket{}, "desktop", "producer"))
	assert.Equal(t, 1, r.ParticipantCount())

	r.RemoveClient("user-1")
	assert.Equal(t, 0, r.ParticipantCount())

	// Close is idempotent; a second call after the implicit close-on-empty
	// must not panic or double-fire callbacks.
	assert.NotPanics(t, r.Close)
}

func TestRoom_RemoveClient_UnknownUserIsNoop(t *testing.T) {
	r := testRoom(t)
	defer r.Close()

	assert.NotPanics(t, func() { r.RemoveClient("ghost") })
}

func TestRoom_WorkerIndexAndParticipantCountSatisfyRoomCounts(t *testing.T) {
	r := testRoom(t)
	defer r.Close()

	require.NoError(t, r.AddClient("user-1", fakeSocket{}, "desktop", "producer"))

	var rc workerpool.RoomCounts = r
	assert.Equal(t, 0, rc.WorkerIndex())
	assert.Equal(t, 1, rc.ParticipantCount())
}

func TestRoom_Stats_GroupsByDevice(t *testing.T) {
	r := testRoom(t)
	defer r.Close()

	require.NoError(t, r.AddClient("user-1", fakeSocket{}, "desktop", "producer"))
	require.NoError(t, r.AddClient("user-2", fakeSocket{}, "desktop", "producer"))
	require.NoError(t, r.AddClient("user-3", fakeSocket{}, "mobile", "producer"))

	stats := r.Stats()
	assert.Equal(t, "session-1", stats.ID)
	assert.Len(t, stats.Clients, 3)
	assert.Equal(t, 2, stats.GroupByDevice["desktop"])
	assert.Equal(t, 1, stats.GroupByDevice["mobile"])
}

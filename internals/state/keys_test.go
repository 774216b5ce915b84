package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSessionKey(t *testing.T) {
	assert.Equal(t, "session:abc123", SessionKey("abc123"))
}

func TestRoomMetaKey(t *testing.T) {
	assert.Equal(t, "room:room-1:meta", RoomMetaKey("room-1"))
}

func TestRoomPeersKey(t *testing.T) {
	assert.Equal(t, "room:room-1:peers", RoomPeersKey("room-1"))
}

func TestPeerTracksKey(t *testing.T) {
	assert.Equal(t, "peer:peer-1:tracks", PeerTracksKey("peer-1"))
}

func TestRoomWorkerKey(t *testing.T) {
	assert.Equal(t, "room:session-9:worker", RoomWorkerKey("session-9"))
}

func TestKeys_DistinctNamespaces(t *testing.T) {
	assert.NotEqual(t, RoomMetaKey("x"), RoomWorkerKey("x"))
	assert.NotEqual(t, RoomPeersKey("x"), RoomWorkerKey("x"))
}

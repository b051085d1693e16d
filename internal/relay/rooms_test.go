package relay_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/IreinStark/marketgo/internal/relay"
)

func TestRoomsJoinLeave(t *testing.T) {
	r := relay.NewRooms()

	r.Join("c1", "u1")
	r.Join("c1", "u2")
	r.Join("c2", "u1")

	assert.True(t, r.Contains("c1", "u1"))
	assert.True(t, r.Contains("c1", "u2"))
	assert.True(t, r.Contains("c2", "u1"))
	assert.False(t, r.Contains("c1", "u3"))
	assert.Equal(t, 2, r.Count())

	r.Leave("c1", "u1")
	assert.False(t, r.Contains("c1", "u1"))
	assert.True(t, r.Contains("c1", "u2"))
	// the other room is untouched
	assert.True(t, r.Contains("c2", "u1"))
}

func TestRoomsJoinIdempotent(t *testing.T) {
	r := relay.NewRooms()

	r.Join("c1", "u1")
	r.Join("c1", "u1")

	assert.ElementsMatch(t, []string{"u1"}, r.Members("c1"))

	r.Leave("c1", "u1")
	assert.False(t, r.Contains("c1", "u1"))
}

func TestRoomsEmptyRoomRemoved(t *testing.T) {
	r := relay.NewRooms()

	r.Join("c1", "u1")
	assert.Equal(t, 1, r.Count())

	r.Leave("c1", "u1")
	assert.Equal(t, 0, r.Count())
	assert.Empty(t, r.Members("c1"))

	// leaving a room that does not exist must not panic
	r.Leave("c1", "u1")
	r.Leave("nope", "u9")
}

func TestRoomsMembersSnapshot(t *testing.T) {
	r := relay.NewRooms()

	r.Join("c1", "u1")
	r.Join("c1", "u2")

	members := r.Members("c1")
	assert.ElementsMatch(t, []string{"u1", "u2"}, members)

	// mutating the snapshot must not affect the tracker
	members[0] = "changed"
	assert.True(t, r.Contains("c1", "u1"))
}

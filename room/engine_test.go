package room_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/discretlib/discret-go/room"
)

func TestEngineAllowedUsesRoomAndCaches(t *testing.T) {
	e, err := room.NewEngine(3, 50*time.Millisecond)
	require.NoError(t, err)

	r := room.NewRoom("room-1", alice, 0)
	e.Put(r)

	ok, err := e.Allowed(alice, "room-1", "chat.Message", room.ActionWrite, 0)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = e.Allowed(bob, "room-1", "chat.Message", room.ActionWrite, 0)
	require.NoError(t, err)
	require.False(t, ok)

	_, err = e.Allowed(alice, "no-such-room", "chat.Message", room.ActionRead, 0)
	require.Error(t, err)
}

func TestEngineBlacklistsAfterRepeatedFaults(t *testing.T) {
	e, err := room.NewEngine(2, 50*time.Millisecond)
	require.NoError(t, err)
	r := room.NewRoom("room-1", alice, 0)
	e.Put(r)

	require.False(t, e.Blacklisted(bob))
	e.RecordFault(bob)
	require.False(t, e.Blacklisted(bob))
	e.RecordFault(bob)
	require.True(t, e.Blacklisted(bob))

	ok, err := e.Allowed(bob, "room-1", "chat.Message", room.ActionRead, 0)
	require.NoError(t, err)
	require.False(t, ok, "blacklisted peer is denied regardless of rights")

	time.Sleep(80 * time.Millisecond)
	require.False(t, e.Blacklisted(bob), "cooldown expires")
}

func TestEngineAddEpochInvalidatesCache(t *testing.T) {
	e, err := room.NewEngine(0, time.Minute)
	require.NoError(t, err)
	r := room.NewRoom("room-1", alice, 0)
	e.Put(r)

	ok, err := e.Allowed(bob, "room-1", "chat.Message", room.ActionWrite, 50)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, e.AddEpoch("room-1", alice, room.Epoch{
		StartMDate: 10,
		Members: map[string]room.Member{
			alice: {PeerKey: alice, Role: room.RoleAdmin, Read: room.Rights{AllEntities: true}, Write: room.Rights{AllEntities: true}},
			bob:   {PeerKey: bob, Role: room.RoleUser, Write: room.Rights{Entities: map[string]bool{"chat.Message": true}}},
		},
	}))

	ok, err = e.Allowed(bob, "room-1", "chat.Message", room.ActionWrite, 50)
	require.NoError(t, err)
	require.True(t, ok, "cache must not serve the stale pre-epoch answer")
}

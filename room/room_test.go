package room_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/discretlib/discret-go/room"
)

const (
	alice = "aa"
	bob   = "bb"
)

func TestCreatorIsAdminFromT0(t *testing.T) {
	r := room.NewRoom("room-1", alice, 100)
	require.True(t, r.Allowed(alice, "chat.Message", room.ActionWrite, 100))
	require.True(t, r.Allowed(alice, "chat.Message", room.ActionAdmin, 1000))
	require.False(t, r.Allowed(bob, "chat.Message", room.ActionRead, 100))
}

func TestPrivateRoomRestrictsToOwner(t *testing.T) {
	r := room.NewPrivateRoom("priv-1", alice, 0)
	require.True(t, r.Allowed(alice, "chat.Message", room.ActionWrite, 0))
	require.False(t, r.Allowed(bob, "chat.Message", room.ActionRead, 0))
}

func TestRevocationHonorsHistory(t *testing.T) {
	r := room.NewRoom("room-1", alice, 100)
	require.NoError(t, r.AddEpoch(alice, room.Epoch{
		StartMDate: 200,
		Members: map[string]room.Member{
			alice: {PeerKey: alice, Role: room.RoleAdmin, Read: room.Rights{AllEntities: true}, Write: room.Rights{AllEntities: true}},
			bob:   {PeerKey: bob, Role: room.RoleUser, Write: room.Rights{Entities: map[string]bool{"chat.Message": true}}},
		},
	}))
	require.True(t, r.Allowed(bob, "chat.Message", room.ActionWrite, 250))
	require.False(t, r.Allowed(bob, "chat.Message", room.ActionWrite, 150))

	require.NoError(t, r.AddEpoch(alice, room.Epoch{
		StartMDate: 300,
		Members: map[string]room.Member{
			alice: {PeerKey: alice, Role: room.RoleAdmin, Read: room.Rights{AllEntities: true}, Write: room.Rights{AllEntities: true}},
		},
	}))
	require.False(t, r.Allowed(bob, "chat.Message", room.ActionWrite, 350))
	require.True(t, r.Allowed(bob, "chat.Message", room.ActionWrite, 250), "bob's prior-epoch writes remain valid history")
}

func TestConflictingEpochBrokenByKeyOrder(t *testing.T) {
	r := room.NewRoom("room-1", alice, 100)
	require.NoError(t, r.AddEpoch(alice, room.Epoch{
		StartMDate: 200,
		Members: map[string]room.Member{
			alice: {PeerKey: alice, Role: room.RoleAdmin, Read: room.Rights{AllEntities: true}, Write: room.Rights{AllEntities: true}},
			bob:   {PeerKey: bob, Role: room.RoleAdmin, Read: room.Rights{AllEntities: true}, Write: room.Rights{AllEntities: true}},
		},
	}))

	err := r.AddEpoch(bob, room.Epoch{
		StartMDate: 300,
		Members: map[string]room.Member{
			bob: {PeerKey: bob, Role: room.RoleAdmin, Read: room.Rights{AllEntities: true}, Write: room.Rights{AllEntities: true}},
		},
	})
	require.NoError(t, err)

	err = r.AddEpoch(alice, room.Epoch{
		StartMDate: 300,
		Members: map[string]room.Member{
			alice: {PeerKey: alice, Role: room.RoleAdmin, Read: room.Rights{AllEntities: true}, Write: room.Rights{AllEntities: true}},
		},
	})
	var conflict *room.ErrConflictingEpoch
	require.ErrorAs(t, err, &conflict)
	require.Equal(t, alice, conflict.WinnerKey, "alice's key sorts first lexicographically")
}

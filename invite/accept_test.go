package invite

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/discretlib/discret-go/peer"
	"github.com/discretlib/discret-go/room"
)

func TestAcceptAuthorsMembershipRow(t *testing.T) {
	issuerPub, issuerPriv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	inviteePub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	inviteeKey := hex.EncodeToString(inviteePub)

	rooms, err := room.NewEngine(0, time.Minute)
	require.NoError(t, err)
	issuerKey := hex.EncodeToString(issuerPub)
	rooms.Put(room.NewRoom("room-1", issuerKey, 0))

	tok := Token{
		RoomID: "room-1",
		Role:   room.RoleUser,
		Issuer: issuerKey,
		Expiry: NewExpiry(time.UnixMilli(0), time.Hour),
	}
	text, err := Generate(issuerPriv, tok)
	require.NoError(t, err)

	deps := AcceptDeps{Rooms: rooms}
	_, err = Accept(context.Background(), deps, text, inviteeKey, peer.Endpoint{}, 1000)
	require.NoError(t, err)

	r, ok := rooms.Get("room-1")
	require.True(t, ok)
	require.True(t, r.Allowed(inviteeKey, "chat.Message", room.ActionRead, 1000))
}

func TestAcceptRejectsInvalidToken(t *testing.T) {
	rooms, err := room.NewEngine(0, time.Minute)
	require.NoError(t, err)
	deps := AcceptDeps{Rooms: rooms}
	_, err = Accept(context.Background(), deps, "not-a-real-token", "deadbeef", peer.Endpoint{}, 0)
	require.Error(t, err)
}

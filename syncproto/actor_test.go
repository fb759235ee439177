package syncproto_test

import (
	"context"
	"crypto/ed25519"
	"database/sql"
	"encoding/hex"
	"testing"
	"time"

	"github.com/Arceliar/phony"
	"github.com/stretchr/testify/require"

	"github.com/discretlib/discret-go/rowmodel"
	"github.com/discretlib/discret-go/setup/sqlutil"
	"github.com/discretlib/discret-go/syncproto"
)

func TestRoomActorTriggerRunsARound(t *testing.T) {
	const roomID = "room-1"
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	authorKey := hex.EncodeToString(pub)

	a := newSide(t, roomID, authorKey)
	b := newSide(t, roomID, authorKey)

	entity, ok := a.reg.Resolve("chat.Message", a.reg.CurrentVersion())
	require.True(t, ok)
	require.NoError(t, a.store.EnsureEntityTable(context.Background(), entity))
	bEntity, ok := b.reg.Resolve("chat.Message", b.reg.CurrentVersion())
	require.True(t, ok)
	require.NoError(t, b.store.EnsureEntityTable(context.Background(), bEntity))

	row := &rowmodel.Row{
		ID: "msg-1", RoomID: roomID, MDate: 100, Author: pub,
		SchemaVersion: a.reg.CurrentVersion(), Entity: "chat.Message",
		Fields: map[string]rowmodel.FieldValue{"content": {Str: "hi"}},
	}
	require.NoError(t, a.signer.Sign(priv, row))
	require.NoError(t, sqlutil.WithTransaction(a.store.DB, func(tx *sql.Tx) error {
		return a.store.UpsertRow(context.Background(), tx, entity, row)
	}))

	tA, tB := newTransportPair()
	roundA := syncproto.NewRound(roomID, "peer-b", a.reg, a.store, a.signer, a.rooms, nil, sqlutil.NewWriter(), syncproto.NewCreditWindow(100), a.reg.CurrentVersion(), tA)
	roundB := syncproto.NewRound(roomID, "peer-a", b.reg, b.store, b.signer, b.rooms, nil, sqlutil.NewWriter(), syncproto.NewCreditWindow(100), b.reg.CurrentVersion(), tB)

	actorA := syncproto.NewRoomActor(roundA, time.Hour)
	actorB := syncproto.NewRoomActor(roundB, time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	actorA.Trigger(ctx)
	actorB.Trigger(ctx)
	phony.Block(actorA)
	phony.Block(actorB)

	got, err := b.store.RowByID(context.Background(), bEntity, roomID, "msg-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "hi", got.Fields["content"].Str)
}

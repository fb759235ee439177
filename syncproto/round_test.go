package syncproto_test

import (
	"context"
	"crypto/ed25519"
	"database/sql"
	"encoding/hex"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/discretlib/discret-go/room"
	"github.com/discretlib/discret-go/roomserver/storage"
	"github.com/discretlib/discret-go/roomserver/storage/sqlite3"
	"github.com/discretlib/discret-go/rowmodel"
	"github.com/discretlib/discret-go/schema"
	"github.com/discretlib/discret-go/setup/sqlutil"
	"github.com/discretlib/discret-go/syncproto"
)

// chanTransport is a paired in-memory syncproto.Transport for tests: it
// never crosses the real wire codec (StreamTransport, covered by
// codec_test.go) — here only the round's logic is under test.
type chanTransport struct {
	send chan syncproto.Frame
	recv chan syncproto.Frame
}

func newTransportPair() (*chanTransport, *chanTransport) {
	a := make(chan syncproto.Frame, 256)
	b := make(chan syncproto.Frame, 256)
	return &chanTransport{send: a, recv: b}, &chanTransport{send: b, recv: a}
}

func (t *chanTransport) Send(ctx context.Context, f syncproto.Frame) error {
	select {
	case t.send <- f:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *chanTransport) Recv(ctx context.Context) (syncproto.Frame, error) {
	select {
	case f := <-t.recv:
		return f, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *chanTransport) Close() error { return nil }

type side struct {
	reg    *schema.Registry
	store  *storage.Store
	signer *rowmodel.Signer
	rooms  *room.Engine
}

func newSide(t *testing.T, roomID, creatorKey string) side {
	t.Helper()
	reg := schema.New()
	_, err := reg.Update(`chat.Message { content: String }`)
	require.NoError(t, err)
	store, err := sqlite3.Open(":memory:")
	require.NoError(t, err)
	rooms, err := room.NewEngine(0, time.Minute)
	require.NoError(t, err)
	rooms.Put(room.NewRoom(roomID, creatorKey, 0))
	return side{reg: reg, store: store, signer: rowmodel.NewSigner(reg), rooms: rooms}
}

func TestRoundConvergesOneRowFromAToB(t *testing.T) {
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
		Fields: map[string]rowmodel.FieldValue{"content": {Str: "hello"}},
	}
	require.NoError(t, a.signer.Sign(priv, row))
	require.NoError(t, sqlutil.WithTransaction(a.store.DB, func(tx *sql.Tx) error {
		return a.store.UpsertRow(context.Background(), tx, entity, row)
	}))

	tA, tB := newTransportPair()
	roundA := syncproto.NewRound(roomID, "peer-b", a.reg, a.store, a.signer, a.rooms, nil, sqlutil.NewWriter(), syncproto.NewCreditWindow(100), a.reg.CurrentVersion(), tA)
	roundB := syncproto.NewRound(roomID, "peer-a", b.reg, b.store, b.signer, b.rooms, nil, sqlutil.NewWriter(), syncproto.NewCreditWindow(100), b.reg.CurrentVersion(), tB)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	var errA, errB error
	wg.Add(2)
	go func() { defer wg.Done(); errA = roundA.Run(ctx) }()
	go func() { defer wg.Done(); errB = roundB.Run(ctx) }()
	wg.Wait()

	require.NoError(t, errA)
	require.NoError(t, errB)

	got, err := b.store.RowByID(context.Background(), bEntity, roomID, "msg-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "hello", got.Fields["content"].Str)
}

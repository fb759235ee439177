package peer

import (
	"context"
	"crypto/ed25519"
	"database/sql"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/discretlib/discret-go/eventbus"
	"github.com/discretlib/discret-go/room"
	"github.com/discretlib/discret-go/roomserver/storage"
	"github.com/discretlib/discret-go/roomserver/storage/sqlite3"
	"github.com/discretlib/discret-go/rowmodel"
	"github.com/discretlib/discret-go/schema"
	"github.com/discretlib/discret-go/setup/sqlutil"
)

type side struct {
	reg    *schema.Registry
	store  *storage.Store
	signer *rowmodel.Signer
	rooms  *room.Engine
	bus    *eventbus.Bus
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
	bus, err := eventbus.New(filepath.Join(os.TempDir(), "discret-peer-test-"+t.Name()))
	require.NoError(t, err)
	t.Cleanup(bus.Close)
	return side{reg: reg, store: store, signer: rowmodel.NewSigner(reg), rooms: rooms, bus: bus}
}

// bufConn is a buffered in-memory io.ReadWriteCloser pair: unlike
// net.Pipe, writes don't rendezvous synchronously with a matching read,
// which matters here since a session's handshake sends two frames
// before reading any — exactly what a real socket's send buffer (but
// not net.Pipe) tolerates without blocking.
type bufConn struct {
	r       <-chan []byte
	w       chan<- []byte
	readBuf []byte
}

func newBufPipe() (io.ReadWriteCloser, io.ReadWriteCloser) {
	ab := make(chan []byte, 64)
	ba := make(chan []byte, 64)
	return &bufConn{r: ba, w: ab}, &bufConn{r: ab, w: ba}
}

func (c *bufConn) Read(p []byte) (int, error) {
	for len(c.readBuf) == 0 {
		b, ok := <-c.r
		if !ok {
			return 0, io.EOF
		}
		c.readBuf = b
	}
	n := copy(p, c.readBuf)
	c.readBuf = c.readBuf[n:]
	return n, nil
}

func (c *bufConn) Write(p []byte) (int, error) {
	b := append([]byte(nil), p...)
	c.w <- b
	return len(p), nil
}

func (c *bufConn) Close() error {
	close(c.w)
	return nil
}

func TestManagerAdmitSyncsSharedRoom(t *testing.T) {
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

	connA, connB := newBufPipe()

	keyA, _, _ := ed25519.GenerateKey(nil)
	keyB, _, _ := ed25519.GenerateKey(nil)
	mgrA := NewManager(Config{
		LocalKey: keyA, Registry: a.reg, Store: a.store, Signer: a.signer, Rooms: a.rooms, Bus: a.bus,
		Writer: sqlutil.NewWriter(), CreditPerRoom: 100, LivenessInterval: time.Hour,
	})
	mgrB := NewManager(Config{
		LocalKey: keyB, Registry: b.reg, Store: b.store, Signer: b.signer, Rooms: b.rooms, Bus: b.bus,
		Writer: sqlutil.NewWriter(), CreditPerRoom: 100, LivenessInterval: time.Hour,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	go mgrA.admit(ctx, "peer-b", connA, true, []string{roomID})
	go mgrB.admit(ctx, "peer-a", connB, false, []string{roomID})

	require.Eventually(t, func() bool {
		got, err := b.store.RowByID(context.Background(), bEntity, roomID, "msg-1")
		return err == nil && got != nil
	}, 3*time.Second, 20*time.Millisecond)
}

func TestIsCanonicalDial(t *testing.T) {
	require.True(t, isCanonicalDial("aa", "bb", true))
	require.False(t, isCanonicalDial("bb", "aa", true))
	require.True(t, isCanonicalDial("bb", "aa", false))
	require.False(t, isCanonicalDial("aa", "bb", false))
}

package internal_test

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/discretlib/discret-go/eventbus"
	"github.com/discretlib/discret-go/ql/mutation"
	"github.com/discretlib/discret-go/room"
	"github.com/discretlib/discret-go/roomserver/internal"
	"github.com/discretlib/discret-go/roomserver/storage/sqlite3"
	"github.com/discretlib/discret-go/schema"
)

func newExecutor(t *testing.T) (*internal.Executor, *schema.Registry, schema.Version, ed25519.PrivateKey, *room.Engine) {
	t.Helper()
	reg := schema.New()
	v, err := reg.Update(`chat.Message { content: String }`)
	require.NoError(t, err)

	store, err := sqlite3.Open(":memory:")
	require.NoError(t, err)

	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	peerKey := hex.EncodeToString(pub)

	rooms, err := room.NewEngine(0, time.Minute)
	require.NoError(t, err)
	rooms.Put(room.NewRoom("room-1", peerKey, 0))

	bus, err := eventbus.New(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(bus.Close)

	return internal.NewExecutor(reg, store, rooms, bus), reg, v, priv, rooms
}

func TestMutateWritesAuthorizedRow(t *testing.T) {
	x, _, v, priv, _ := newExecutor(t)

	f, err := mutation.Parse(`mutate { chat.Message { content: $content room_id: $room } }`)
	require.NoError(t, err)

	ids, err := x.Mutate(context.Background(), f, map[string]interface{}{
		"content": "hello",
		"room":    "room-1",
	}, priv, v, 100)
	require.NoError(t, err)
	require.Len(t, ids, 1)
	require.NotEmpty(t, ids["chat.Message"])
}

func TestMutateRejectsUnauthorizedWriter(t *testing.T) {
	x, _, v, _, _ := newExecutor(t)

	_, other, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	f, err := mutation.Parse(`mutate { chat.Message { content: $content room_id: $room } }`)
	require.NoError(t, err)

	_, err = x.Mutate(context.Background(), f, map[string]interface{}{
		"content": "hello",
		"room":    "room-1",
	}, other, v, 100)
	require.Error(t, err)
}

func TestMutateWritesNestedBlockBeforeParent(t *testing.T) {
	x, reg, _, priv, rooms := newExecutor(t)
	v, err := reg.Update(`chat.Message { content: String room_ref: String nullable } chat.Thread { title: String head: chat.Message }`)
	require.NoError(t, err)
	_ = rooms

	f, err := mutation.Parse(`
mutate {
  chat.Thread {
    title: $title
    room_id: $room
    head: chat.Message {
      content: $content
      room_id: $room
    }
  }
}
`)
	require.NoError(t, err)

	ids, err := x.Mutate(context.Background(), f, map[string]interface{}{
		"title":   "intro",
		"content": "hi",
		"room":    "room-1",
	}, priv, v, 200)
	require.NoError(t, err)
	require.NotEmpty(t, ids["chat.Thread"])
}

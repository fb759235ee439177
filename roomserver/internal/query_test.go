package internal_test

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/discretlib/discret-go/eventbus"
	"github.com/discretlib/discret-go/planner"
	"github.com/discretlib/discret-go/ql/mutation"
	"github.com/discretlib/discret-go/ql/query"
	"github.com/discretlib/discret-go/room"
	"github.com/discretlib/discret-go/roomserver/internal"
	"github.com/discretlib/discret-go/roomserver/storage/sqlite3"
	"github.com/discretlib/discret-go/schema"
)

func TestQueryReturnsWrittenRows(t *testing.T) {
	reg := schema.New()
	v, err := reg.Update(`chat.Message { content: String }`)
	require.NoError(t, err)

	store, err := sqlite3.Open(":memory:")
	require.NoError(t, err)

	_, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	rooms, err := room.NewEngine(0, time.Minute)
	require.NoError(t, err)
	pub := priv.Public().(ed25519.PublicKey)
	peerKey := hex.EncodeToString(pub)
	rooms.Put(room.NewRoom("room-1", peerKey, 0))

	bus, err := eventbus.New(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(bus.Close)

	x := internal.NewExecutor(reg, store, rooms, bus)
	mf, err := mutation.Parse(`mutate { chat.Message { content: $content room_id: $room } }`)
	require.NoError(t, err)
	_, err = x.Mutate(context.Background(), mf, map[string]interface{}{"content": "hi", "room": "room-1"}, priv, v, 100)
	require.NoError(t, err)

	q := internal.NewQuerier(reg, store)
	qf, err := query.Parse(`query { chat.Message { id content } }`)
	require.NoError(t, err)

	result, err := q.Query(context.Background(), qf, nil, planner.RoomScope{ExplicitRoomID: "room-1"})
	require.NoError(t, err)

	msgs, ok := result["chat.Message"].([]interface{})
	require.True(t, ok)
	require.Len(t, msgs, 1)
	row := msgs[0].(map[string]interface{})
	require.Equal(t, "hi", row["content"])
}

func TestQueryCountAggregate(t *testing.T) {
	reg := schema.New()
	v, err := reg.Update(`chat.Message { content: String }`)
	require.NoError(t, err)
	store, err := sqlite3.Open(":memory:")
	require.NoError(t, err)
	_, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	rooms, err := room.NewEngine(0, time.Minute)
	require.NoError(t, err)
	pub := priv.Public().(ed25519.PublicKey)
	peerKey := hex.EncodeToString(pub)
	rooms.Put(room.NewRoom("room-1", peerKey, 0))
	bus, err := eventbus.New(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(bus.Close)

	x := internal.NewExecutor(reg, store, rooms, bus)
	mf, err := mutation.Parse(`mutate { chat.Message { content: $content room_id: $room } }`)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err = x.Mutate(context.Background(), mf, map[string]interface{}{"content": "hi", "room": "room-1"}, priv, v, int64(100+i))
		require.NoError(t, err)
	}

	q := internal.NewQuerier(reg, store)
	qf, err := query.Parse(`query { chat.Message { total: count(id) } }`)
	require.NoError(t, err)

	result, err := q.Query(context.Background(), qf, nil, planner.RoomScope{ExplicitRoomID: "room-1"})
	require.NoError(t, err)
	agg := result["chat.Message"].(map[string]interface{})
	require.Equal(t, int64(3), agg["total"])
}

package internal_test

import (
	"context"
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/discretlib/discret-go/planner"
	"github.com/discretlib/discret-go/ql/deletion"
	"github.com/discretlib/discret-go/ql/mutation"
)

func TestDeleteTombstonesRow(t *testing.T) {
	x, _, v, priv, _ := newExecutor(t)

	mf, err := mutation.Parse(`mutate { chat.Message { content: $content room_id: $room } }`)
	require.NoError(t, err)
	ids, err := x.Mutate(context.Background(), mf, map[string]interface{}{
		"content": "hello",
		"room":    "room-1",
	}, priv, v, 100)
	require.NoError(t, err)

	df, err := deletion.Parse(`delete { chat.Message($id) }`)
	require.NoError(t, err)
	err = x.Delete(context.Background(), df, map[string]interface{}{
		"id": ids["chat.Message"],
	}, priv, v, 200, planner.RoomScope{AllowedRooms: []string{"room-1"}})
	require.NoError(t, err)
}

func TestDeleteRejectsUnauthorizedWriter(t *testing.T) {
	x, _, v, priv, _ := newExecutor(t)

	mf, err := mutation.Parse(`mutate { chat.Message { content: $content room_id: $room } }`)
	require.NoError(t, err)
	ids, err := x.Mutate(context.Background(), mf, map[string]interface{}{
		"content": "hello",
		"room":    "room-1",
	}, priv, v, 100)
	require.NoError(t, err)

	_, other, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	df, err := deletion.Parse(`delete { chat.Message($id) }`)
	require.NoError(t, err)
	err = x.Delete(context.Background(), df, map[string]interface{}{
		"id": ids["chat.Message"],
	}, other, v, 200, planner.RoomScope{AllowedRooms: []string{"room-1"}})
	require.Error(t, err)
}

func TestDeleteRemovesArrayReferenceWithoutTombstoning(t *testing.T) {
	x, reg, _, priv, _ := newExecutor(t)
	v, err := reg.Update(`chat.Message { content: String } chat.Thread { title: String members: [chat.Message] }`)
	require.NoError(t, err)

	mf, err := mutation.Parse(`
mutate {
  chat.Thread {
    title: $title
    room_id: $room
    members: [
      chat.Message { id: $m1 content: $c1 room_id: $room }
      chat.Message { id: $m2 content: $c2 room_id: $room }
    ]
  }
}
`)
	require.NoError(t, err)
	ids, err := x.Mutate(context.Background(), mf, map[string]interface{}{
		"title": "intro",
		"m1":    "msg-1",
		"c1":    "hi",
		"m2":    "msg-2",
		"c2":    "there",
		"room":  "room-1",
	}, priv, v, 100)
	require.NoError(t, err)
	require.NotEmpty(t, ids["chat.Thread"])

	df, err := deletion.Parse(`
delete {
  chat.Thread($id) {
    members [$member]
  }
}
`)
	require.NoError(t, err)
	err = x.Delete(context.Background(), df, map[string]interface{}{
		"id":     ids["chat.Thread"],
		"member": "msg-1",
	}, priv, v, 200, planner.RoomScope{AllowedRooms: []string{"room-1"}})
	require.NoError(t, err)
}

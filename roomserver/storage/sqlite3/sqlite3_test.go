package sqlite3_test

import (
	"context"
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/discretlib/discret-go/roomserver/storage"
	"github.com/discretlib/discret-go/roomserver/storage/sqlite3"
	"github.com/discretlib/discret-go/rowmodel"
	"github.com/discretlib/discret-go/schema"
)

func TestEnsureTableAndRowRoundTrip(t *testing.T) {
	store, err := sqlite3.Open(":memory:")
	require.NoError(t, err)

	reg := schema.New()
	v, err := reg.Update(`chat.Message { content: String room: String }`)
	require.NoError(t, err)
	entity, ok := reg.Resolve("chat.Message", v)
	require.True(t, ok)

	ctx := context.Background()
	require.NoError(t, store.EnsureEntityTable(ctx, entity))

	pub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	row := &rowmodel.Row{
		ID: "row-1", RoomID: "room-1", MDate: 100, Author: pub, Signature: []byte("sig"),
		SchemaVersion: v, Entity: "chat.Message",
		Fields: map[string]rowmodel.FieldValue{
			"content": {Str: "hi"},
			"room":    {Str: "room-1"},
		},
	}

	tx, err := store.DB.Begin()
	require.NoError(t, err)
	require.NoError(t, store.UpsertRow(ctx, tx, entity, row))
	require.NoError(t, tx.Commit())

	got, err := store.QueryRows(ctx, entity, "SELECT * FROM "+storage.TableName("chat.Message")+" WHERE id = ?", []interface{}{"row-1"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "hi", got[0].Fields["content"].Str)
	require.Equal(t, "room-1", got[0].RoomID)
}

package rowmodel_test

import (
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/discretlib/discret-go/rowmodel"
	"github.com/discretlib/discret-go/schema"
)

func newTestRegistry(t *testing.T) (*schema.Registry, schema.Version) {
	t.Helper()
	r := schema.New()
	v, err := r.Update(`chat.Message { content: String room: String }`)
	require.NoError(t, err)
	return r, v
}

func TestSignThenVerifySucceeds(t *testing.T) {
	reg, v := newTestRegistry(t)
	signer := rowmodel.NewSigner(reg)
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	row := &rowmodel.Row{
		ID: "row-1", RoomID: "room-1", MDate: 100, Author: pub,
		SchemaVersion: v, Entity: "chat.Message",
		Fields: map[string]rowmodel.FieldValue{
			"content": {Str: "hi"},
			"room":    {Str: "room-1"},
		},
	}
	require.NoError(t, signer.Sign(priv, row))
	require.NoError(t, signer.Verify(row))
}

func TestVerifyRejectsTamperedField(t *testing.T) {
	reg, v := newTestRegistry(t)
	signer := rowmodel.NewSigner(reg)
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	row := &rowmodel.Row{
		ID: "row-1", RoomID: "room-1", MDate: 100, Author: pub,
		SchemaVersion: v, Entity: "chat.Message",
		Fields: map[string]rowmodel.FieldValue{
			"content": {Str: "hi"},
			"room":    {Str: "room-1"},
		},
	}
	require.NoError(t, signer.Sign(priv, row))

	row.Fields["content"] = rowmodel.FieldValue{Str: "tampered"}
	require.Error(t, signer.Verify(row))
}

func TestSignRejectsMissingRequiredField(t *testing.T) {
	reg, v := newTestRegistry(t)
	signer := rowmodel.NewSigner(reg)
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	row := &rowmodel.Row{
		ID: "row-1", RoomID: "room-1", MDate: 100, Author: pub,
		SchemaVersion: v, Entity: "chat.Message",
		Fields: map[string]rowmodel.FieldValue{
			"room": {Str: "room-1"},
		},
	}
	err = signer.Sign(priv, row)
	require.Error(t, err)
}

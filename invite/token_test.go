package invite

import (
	"crypto/ed25519"
	"encoding/hex"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/discretlib/discret-go/errs"
	"github.com/discretlib/discret-go/room"
)

func TestGenerateVerifyRoundTrip(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	issued := time.UnixMilli(1_700_000_000_000)
	tok := Token{
		RoomID: "room-1",
		Role:   room.RoleUser,
		Issuer: hex.EncodeToString(pub),
		Expiry: NewExpiry(issued, time.Hour),
		Nonce:  "abc123",
	}
	text, err := Generate(priv, tok)
	require.NoError(t, err)
	require.NotEmpty(t, text)

	got, err := Verify(text, issued.Add(time.Minute).UnixMilli())
	require.NoError(t, err)
	require.Equal(t, tok, got)
}

func TestVerifyRejectsExpired(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	issued := time.UnixMilli(1_700_000_000_000)
	tok := Token{RoomID: "room-1", Role: room.RoleUser, Issuer: hex.EncodeToString(pub), Expiry: NewExpiry(issued, time.Minute)}
	text, err := Generate(priv, tok)
	require.NoError(t, err)

	_, err = Verify(text, issued.Add(time.Hour).UnixMilli())
	require.Error(t, err)
	require.Equal(t, errs.Unauthorized, errs.KindOf(err))
}

func TestVerifyRejectsTamperedPayload(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	tok := Token{RoomID: "room-1", Role: room.RoleAdmin, Issuer: hex.EncodeToString(pub), Expiry: NewExpiry(time.UnixMilli(0), 24*time.Hour)}
	text, err := Generate(priv, tok)
	require.NoError(t, err)

	otherPub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	forged := Token{RoomID: "room-1", Role: room.RoleAdmin, Issuer: hex.EncodeToString(otherPub), Expiry: tok.Expiry}
	forgedText, err := Generate(priv, forged) // signed with the wrong key pairing vs claimed issuer
	require.NoError(t, err)
	require.NotEqual(t, text, forgedText)

	_, err = Verify(forgedText, 0)
	require.Error(t, err)
	require.Equal(t, errs.InvalidSignature, errs.KindOf(err))
}

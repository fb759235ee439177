// Package invite implements the invitation flow: an admin issues a
// signed, opaque token naming a Room, role, issuer and expiry;
// the acceptor verifies it, authors its own membership row, and kicks
// off a first sync round against the issuer through the peer session
// manager.
package invite

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/discretlib/discret-go/errs"
	"github.com/discretlib/discret-go/room"
)

// domainTag mirrors rowmodel.CanonicalEncode's own domain-separation
// convention (rowmodel/canonical.go), scoped to this distinct protocol
// so an invitation token's signature can never be replayed as a row
// signature or vice versa.
const domainTag = "discret-invite-v1"

// Token is the generator-side struct an admin signs: a room, role,
// issuer and expiry, plus a nonce.
type Token struct {
	RoomID string
	Role   room.Role
	Issuer string // hex-encoded ed25519 public key of the issuing admin
	Expiry int64  // unix millis
	Nonce  string
}

// Generate signs t with priv and returns the opaque token text for
// out-of-band transport (QR code, shared link, pasted string).
func Generate(priv ed25519.PrivateKey, t Token) (string, error) {
	enc := canonicalEncode(t)
	sig := ed25519.Sign(priv, enc)
	payload := append(enc, sig...)
	return base64.RawURLEncoding.EncodeToString(payload), nil
}

// Verify decodes and checks an opaque token's signature and expiry,
// returning the Token it carries. now is passed in explicitly so
// callers control the clock.
func Verify(tokenText string, now int64) (Token, error) {
	payload, err := base64.RawURLEncoding.DecodeString(tokenText)
	if err != nil {
		return Token{}, errs.WithKind(fmt.Errorf("decode token: %w", err), errs.Parse)
	}
	if len(payload) < ed25519.SignatureSize {
		return Token{}, errs.WithKind(fmt.Errorf("token too short"), errs.Parse)
	}
	enc := payload[:len(payload)-ed25519.SignatureSize]
	sig := payload[len(payload)-ed25519.SignatureSize:]

	t, err := decodeCanonical(enc)
	if err != nil {
		return Token{}, errs.WithKind(err, errs.Parse)
	}
	issuerPub, err := decodeHexKey(t.Issuer)
	if err != nil {
		return Token{}, errs.WithKind(err, errs.Parse)
	}
	if !ed25519.Verify(issuerPub, enc, sig) {
		return Token{}, errs.WithKind(fmt.Errorf("invitation signature does not verify"), errs.InvalidSignature)
	}
	if now > t.Expiry {
		return Token{}, errs.WithKind(fmt.Errorf("invitation expired at %d", t.Expiry), errs.Unauthorized)
	}
	return t, nil
}

// canonicalEncode lays Token out the same deterministic way
// rowmodel.CanonicalEncode lays a Row out: a domain tag, then each
// field length-prefixed in a fixed order.
func canonicalEncode(t Token) []byte {
	var buf []byte
	buf = appendLenPrefixed(buf, []byte(domainTag))
	buf = appendLenPrefixed(buf, []byte(t.RoomID))
	buf = appendUint64(buf, uint64(t.Role))
	buf = appendLenPrefixed(buf, []byte(t.Issuer))
	buf = appendInt64(buf, t.Expiry)
	buf = appendLenPrefixed(buf, []byte(t.Nonce))
	return buf
}

func decodeCanonical(buf []byte) (Token, error) {
	var t Token
	tag, buf, err := readLenPrefixed(buf)
	if err != nil {
		return t, err
	}
	if string(tag) != domainTag {
		return t, fmt.Errorf("unexpected domain tag %q", tag)
	}
	roomID, buf, err := readLenPrefixed(buf)
	if err != nil {
		return t, err
	}
	role, buf, err := readUint64(buf)
	if err != nil {
		return t, err
	}
	issuer, buf, err := readLenPrefixed(buf)
	if err != nil {
		return t, err
	}
	expiry, buf, err := readInt64(buf)
	if err != nil {
		return t, err
	}
	nonce, _, err := readLenPrefixed(buf)
	if err != nil {
		return t, err
	}
	t.RoomID = string(roomID)
	t.Role = room.Role(role)
	t.Issuer = string(issuer)
	t.Expiry = expiry
	t.Nonce = string(nonce)
	return t, nil
}

func appendLenPrefixed(buf []byte, b []byte) []byte {
	buf = appendUint64(buf, uint64(len(b)))
	return append(buf, b...)
}

func appendUint64(buf []byte, v uint64) []byte {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendInt64(buf []byte, v int64) []byte { return appendUint64(buf, uint64(v)) }

func readUint64(buf []byte) (uint64, []byte, error) {
	if len(buf) < 8 {
		return 0, nil, fmt.Errorf("truncated token")
	}
	return binary.BigEndian.Uint64(buf[:8]), buf[8:], nil
}

func readInt64(buf []byte) (int64, []byte, error) {
	v, rest, err := readUint64(buf)
	return int64(v), rest, err
}

func readLenPrefixed(buf []byte) ([]byte, []byte, error) {
	n, buf, err := readUint64(buf)
	if err != nil {
		return nil, nil, err
	}
	if uint64(len(buf)) < n {
		return nil, nil, fmt.Errorf("truncated token field")
	}
	return buf[:n], buf[n:], nil
}

func decodeHexKey(s string) (ed25519.PublicKey, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode issuer key: %w", err)
	}
	if len(b) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("malformed issuer key")
	}
	return ed25519.PublicKey(b), nil
}

// NewExpiry is a small convenience for callers constructing a Token.
func NewExpiry(issuedAt time.Time, ttl time.Duration) int64 {
	return issuedAt.Add(ttl).UnixMilli()
}

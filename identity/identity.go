// Package identity derives a peer's long-lived signing and key-exchange
// key pairs from a pass-phrase, following the scrypt-tuning approach of
// internal/passwordreset's token hasher but sized for a one-time,
// long-lived derivation rather than a per-request check.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/scrypt"
)

// Scrypt cost parameters for identity derivation. Tuned heavier than the
// password-reset token hasher because this runs once at startup, not per
// HTTP request.
const (
	scryptN      = 1 << 18
	scryptR      = 8
	scryptP      = 1
	seedLen      = 64 // 32 bytes signing seed || 32 bytes exchange seed
	saltFileName = "salt"
	saltLen      = 16
)

// Identity is a peer's derived long-lived key material.
type Identity struct {
	SigningPublic  ed25519.PublicKey
	SigningPrivate ed25519.PrivateKey
	ExchangePublic [32]byte
	ExchangePrivate [32]byte
}

// PublicKeyHex is the stable, stringly identity used for logging, cache
// keys and ACL comparisons: a peer's public signing key is its stable
// identity.
func (id *Identity) PublicKeyHex() string {
	return hex.EncodeToString(id.SigningPublic)
}

// Derive produces an Identity from a pass-phrase and an install-scoped
// salt via scrypt, splitting the derived bytes into independent signing
// and key-exchange seeds so compromise of one key type does not trivially
// expose the other.
func Derive(passphrase string, salt []byte) (*Identity, error) {
	seed, err := scrypt.Key([]byte(passphrase), salt, scryptN, scryptR, scryptP, seedLen)
	if err != nil {
		return nil, fmt.Errorf("derive identity seed: %w", err)
	}
	signSeed := seed[:ed25519.SeedSize]
	exchSeed := seed[ed25519.SeedSize:seedLen]

	priv := ed25519.NewKeyFromSeed(signSeed)
	pub := priv.Public().(ed25519.PublicKey)

	var exPriv [32]byte
	copy(exPriv[:], exchSeed)
	// clamp per RFC 7748 so the scalar is a valid X25519 private key.
	exPriv[0] &= 248
	exPriv[31] &= 127
	exPriv[31] |= 64

	var exPub [32]byte
	pubBytes, err := curve25519.X25519(exPriv[:], curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("derive exchange public key: %w", err)
	}
	copy(exPub[:], pubBytes)

	return &Identity{
		SigningPublic:   pub,
		SigningPrivate:  priv,
		ExchangePublic:  exPub,
		ExchangePrivate: exPriv,
	}, nil
}

// LoadOrCreateSalt reads dataDir/salt, generating and persisting a
// per-install salt on first run.
func LoadOrCreateSalt(dataDir string) ([]byte, error) {
	path := filepath.Join(dataDir, saltFileName)
	if b, err := os.ReadFile(path); err == nil && len(b) == saltLen {
		return b, nil
	}
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate install salt: %w", err)
	}
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	if err := os.WriteFile(path, salt, 0o600); err != nil {
		return nil, fmt.Errorf("persist install salt: %w", err)
	}
	return salt, nil
}

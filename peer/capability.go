// Package peer implements the peer session manager: per-peer handshake,
// Room-set intersection, and a dedicated syncproto.RoomActor per shared
// Room, all multiplexed over one physical transport stream.
//
// The core depends only on a small capability interface
// ({open-stream, accept-stream, peer-pubkey}), never on a concrete
// transport — transport/wsstream, transport/tor and transport/i2p each
// implement Capability over their own rendezvous mechanism.
package peer

import (
	"context"
	"crypto/ed25519"
	"io"
)

// Endpoint names a reachable peer address for one transport scheme, as
// produced by the discovery package (LAN beacon, yggdrasil rendezvous,
// or a stored address book entry).
type Endpoint struct {
	Scheme  string // "ws", "tor", "i2p"
	Address string
}

// Stream is one established byte stream to a peer. It must already be
// encrypted and authenticated by the time a Capability returns it; the
// Manager only pins the returned public key against the Room's member
// list, it does not itself perform any cryptographic handshake.
type Stream io.ReadWriteCloser

// Capability is the transport-agnostic interface the Manager depends
// on. A transport adapter's own certificate/rendezvous handshake is
// expected to bind the returned public key to the stream before
// AcceptStream/OpenStream return: the certificate binds the peer's
// signing public key, self-signed and verified by pinning the key
// rather than validating a CA chain.
type Capability interface {
	// OpenStream actively connects to ep, returning the resulting
	// Stream and the remote peer's verified signing public key.
	OpenStream(ctx context.Context, ep Endpoint) (Stream, ed25519.PublicKey, error)
	// AcceptStream blocks until an inbound peer connects, returning the
	// Stream and the remote peer's verified signing public key.
	AcceptStream(ctx context.Context) (Stream, ed25519.PublicKey, error)
	// Scheme names the transport this Capability implements ("ws",
	// "tor", "i2p"), used for logging and metrics labels and as the
	// scheme of endpoints found by LAN discovery.
	Scheme() string
}

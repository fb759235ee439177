// Package tor implements the peer.Capability transport over a Tor
// onion service: AcceptStream listens on an onion address created via
// eyedeekay/onramp, OpenStream dials out through cretz/bine's
// tor.Dialer.
package tor

import (
	"context"
	"crypto/ed25519"
	"crypto/tls"
	"fmt"
	"net"

	"github.com/cretz/bine/tor"
	"github.com/eyedeekay/onramp"

	"github.com/discretlib/discret-go/peer"
)

// Transport is a peer.Capability backed by one onion service identity.
// The onion service's own key is distinct from the node's ed25519
// signing key; OpenStream and AcceptStream pin the peer's signing
// public key from the certificate presented over the TLS connection
// layered on the onion stream (extractPinnedKey).
type Transport struct {
	onion    *onramp.Onion
	listener net.Listener
	dialer   *tor.Dialer
	localKey ed25519.PublicKey
}

// New starts (or reuses, via onramp's persistent key store under
// serviceName) a Tor onion service and a Tor client dialer. localKey is
// this node's signing public key; the Transport stores it and does not
// otherwise use it.
func New(ctx context.Context, serviceName string, localKey ed25519.PublicKey) (*Transport, error) {
	onion, err := onramp.NewOnion(serviceName)
	if err != nil {
		return nil, fmt.Errorf("create onion service %s: %w", serviceName, err)
	}
	listener, err := onion.ListenTLS()
	if err != nil {
		onion.Close() // nolint: errcheck
		return nil, fmt.Errorf("listen onion TLS: %w", err)
	}
	t, err := tor.Start(ctx, nil)
	if err != nil {
		listener.Close() // nolint: errcheck
		onion.Close()     // nolint: errcheck
		return nil, fmt.Errorf("start tor client: %w", err)
	}
	dialer, err := t.Dialer(ctx, nil)
	if err != nil {
		listener.Close() // nolint: errcheck
		onion.Close()     // nolint: errcheck
		return nil, fmt.Errorf("create tor dialer: %w", err)
	}
	return &Transport{onion: onion, listener: listener, dialer: dialer, localKey: localKey}, nil
}

func (t *Transport) Scheme() string { return "tor" }

// OpenStream dials ep.Address (a .onion host:port) over the Tor
// SOCKS circuit, then exchanges a TLS ClientHello so the peer's
// certificate can be inspected for its pinned signing key.
func (t *Transport) OpenStream(ctx context.Context, ep peer.Endpoint) (peer.Stream, ed25519.PublicKey, error) {
	conn, err := t.dialer.DialContext(ctx, "tcp", ep.Address)
	if err != nil {
		return nil, nil, fmt.Errorf("dial %s over tor: %w", ep.Address, err)
	}
	tlsConn := tls.Client(conn, &tls.Config{InsecureSkipVerify: true}) // nolint: gosec -- pinning is by signing key, not CA chain
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		conn.Close() // nolint: errcheck
		return nil, nil, fmt.Errorf("tls handshake with %s: %w", ep.Address, err)
	}
	peerKey, err := extractPinnedKey(tlsConn)
	if err != nil {
		tlsConn.Close() // nolint: errcheck
		return nil, nil, err
	}
	return tlsConn, peerKey, nil
}

// AcceptStream blocks for the next inbound onion-service connection.
func (t *Transport) AcceptStream(ctx context.Context) (peer.Stream, ed25519.PublicKey, error) {
	conn, err := t.listener.Accept()
	if err != nil {
		return nil, nil, fmt.Errorf("accept onion connection: %w", err)
	}
	tlsConn, ok := conn.(*tls.Conn)
	if !ok {
		conn.Close() // nolint: errcheck
		return nil, nil, fmt.Errorf("onion listener returned non-TLS connection %T", conn)
	}
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		tlsConn.Close() // nolint: errcheck
		return nil, nil, fmt.Errorf("tls handshake: %w", err)
	}
	peerKey, err := extractPinnedKey(tlsConn)
	if err != nil {
		tlsConn.Close() // nolint: errcheck
		return nil, nil, err
	}
	return tlsConn, peerKey, nil
}

func (t *Transport) Close() error {
	if t.listener != nil {
		_ = t.listener.Close()
	}
	if t.onion != nil {
		_ = t.onion.Close()
	}
	return nil
}

// extractPinnedKey derives the remote's asserted signing public key
// from its self-signed TLS certificate's raw public key bytes: the
// certificate binds the peer's signing public key, verified by pinning
// the key rather than through a certificate authority.
func extractPinnedKey(conn *tls.Conn) (ed25519.PublicKey, error) {
	state := conn.ConnectionState()
	if len(state.PeerCertificates) == 0 {
		return nil, fmt.Errorf("no peer certificate presented")
	}
	pub, ok := state.PeerCertificates[0].PublicKey.(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("peer certificate key is not ed25519")
	}
	return pub, nil
}

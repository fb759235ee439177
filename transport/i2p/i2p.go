// Package i2p implements the peer.Capability transport over I2P: a
// garlic service created through eyedeekay/onramp for AcceptStream,
// and eyedeekay/goSam's SAM client for OpenStream. There is no Tor
// fallback for non-.i2p addresses — the peer session manager only ever
// hands this Capability a .i2p Endpoint, having chosen i2p specifically
// over tor or wsstream.
package i2p

import (
	"context"
	"crypto/ed25519"
	"crypto/tls"
	"fmt"
	"net"

	"github.com/eyedeekay/goSam"
	"github.com/eyedeekay/onramp"

	"github.com/discretlib/discret-go/peer"
)

// Transport is a peer.Capability backed by one I2P garlic service
// identity plus a SAM bridge client for outbound dials.
type Transport struct {
	garlic   *onramp.Garlic
	listener net.Listener
	sam      *goSam.Client
	localKey ed25519.PublicKey
}

// New creates (or reuses, via onramp's persistent key store under
// serviceName) an I2P garlic service reachable through the local SAM
// bridge at samAddr.
func New(serviceName, samAddr string, localKey ed25519.PublicKey) (*Transport, error) {
	garlic, err := onramp.NewGarlic(serviceName, samAddr, onramp.OPT_HUGE)
	if err != nil {
		return nil, fmt.Errorf("create garlic service %s: %w", serviceName, err)
	}
	listener, err := garlic.ListenTLS()
	if err != nil {
		garlic.Close() // nolint: errcheck
		return nil, fmt.Errorf("listen garlic TLS: %w", err)
	}
	sam, err := goSam.NewClient(samAddr)
	if err != nil {
		listener.Close() // nolint: errcheck
		garlic.Close()   // nolint: errcheck
		return nil, fmt.Errorf("connect to SAM bridge %s: %w", samAddr, err)
	}
	return &Transport{garlic: garlic, listener: listener, sam: sam, localKey: localKey}, nil
}

func (t *Transport) Scheme() string { return "i2p" }

// OpenStream dials ep.Address (a .i2p destination) over the SAM bridge,
// then a TLS handshake so the peer's certificate can be inspected for
// its pinned signing key.
func (t *Transport) OpenStream(ctx context.Context, ep peer.Endpoint) (peer.Stream, ed25519.PublicKey, error) {
	conn, err := t.sam.DialContext(ctx, "tcp", ep.Address)
	if err != nil {
		return nil, nil, fmt.Errorf("dial %s over i2p: %w", ep.Address, err)
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

// AcceptStream blocks for the next inbound garlic-service connection.
func (t *Transport) AcceptStream(ctx context.Context) (peer.Stream, ed25519.PublicKey, error) {
	conn, err := t.listener.Accept()
	if err != nil {
		return nil, nil, fmt.Errorf("accept garlic connection: %w", err)
	}
	tlsConn, ok := conn.(*tls.Conn)
	if !ok {
		conn.Close() // nolint: errcheck
		return nil, nil, fmt.Errorf("garlic listener returned non-TLS connection %T", conn)
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
	if t.garlic != nil {
		_ = t.garlic.Close()
	}
	return nil
}

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

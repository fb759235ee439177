package discovery

import (
	"context"
	"crypto/ed25519"
	"crypto/tls"
	"fmt"
	"net"

	yggcore "github.com/yggdrasil-network/yggdrasil-go/src/core"
	"github.com/yggdrasil-network/yggquic"

	"github.com/discretlib/discret-go/peer"
)

// Rendezvous is a peer.Capability carried over a Yggdrasil overlay
// session, used when a peer has no direct LAN route or known transport
// endpoint — the overlay's own routing gets the stream there.
type Rendezvous struct {
	core      *yggcore.Core
	tlsConfig *tls.Config
	listener  net.Listener
	localKey  ed25519.PublicKey
}

// NewRendezvous joins the Yggdrasil overlay under priv's key and
// prepares to accept/dial QUIC streams over it via yggquic. peers are
// optional known overlay peer addresses to seed connectivity, mirroring
// yggdrasil-go's own static-peer bootstrap convention.
func NewRendezvous(priv ed25519.PrivateKey, tlsConfig *tls.Config, peers []string) (*Rendezvous, error) {
	logger := gologmeShim()
	c, err := yggcore.New(priv, logger)
	if err != nil {
		return nil, fmt.Errorf("start yggdrasil core: %w", err)
	}
	for _, p := range peers {
		if err := c.AddPeer(p, ""); err != nil {
			logger.Printf("discovery: could not add static overlay peer %s: %v", p, err)
		}
	}
	ln, err := yggquic.Listen(c, tlsConfig)
	if err != nil {
		return nil, fmt.Errorf("listen over yggdrasil overlay: %w", err)
	}
	return &Rendezvous{core: c, tlsConfig: tlsConfig, listener: ln, localKey: ed25519.PublicKey(priv.Public().(ed25519.PublicKey))}, nil
}

func (r *Rendezvous) Scheme() string { return "ygg" }

// OpenStream dials ep.Address (an overlay public key address, per
// yggdrasil-go's own addressing scheme) over the Yggdrasil overlay.
func (r *Rendezvous) OpenStream(ctx context.Context, ep peer.Endpoint) (peer.Stream, ed25519.PublicKey, error) {
	conn, err := yggquic.Dial(ctx, r.core, ep.Address, r.tlsConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("dial %s over yggdrasil: %w", ep.Address, err)
	}
	tlsConn, ok := conn.(*tls.Conn)
	if !ok {
		return conn, nil, nil
	}
	pub, err := extractPinnedKey(tlsConn)
	if err != nil {
		conn.Close() // nolint: errcheck
		return nil, nil, err
	}
	return conn, pub, nil
}

// AcceptStream blocks for the next inbound overlay connection.
func (r *Rendezvous) AcceptStream(ctx context.Context) (peer.Stream, ed25519.PublicKey, error) {
	conn, err := r.listener.Accept()
	if err != nil {
		return nil, nil, fmt.Errorf("accept overlay connection: %w", err)
	}
	tlsConn, ok := conn.(*tls.Conn)
	if !ok {
		return conn, nil, nil
	}
	pub, err := extractPinnedKey(tlsConn)
	if err != nil {
		conn.Close() // nolint: errcheck
		return nil, nil, err
	}
	return conn, pub, nil
}

func (r *Rendezvous) Close() error {
	if r.listener != nil {
		_ = r.listener.Close()
	}
	return r.core.Close()
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

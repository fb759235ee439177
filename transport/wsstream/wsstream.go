// Package wsstream implements the peer.Capability transport over a TLS
// WebSocket: coder/websocket for the upgrade handshake and
// websocket.NetConn to present the resulting stream as a plain
// io.ReadWriteCloser to syncproto's codec. This package follows the
// same shape as the tor and i2p Capability adapters (one long-lived
// Transport owning a listener/dialer pair) applied to coder/websocket's
// own documented Dial/Accept/NetConn API.
package wsstream

import (
	"context"
	"crypto/ed25519"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"net/http"

	"github.com/coder/websocket"

	"github.com/discretlib/discret-go/peer"
)

const syncPath = "/discret/sync"

// Transport is a peer.Capability backed by one TLS listener accepting
// WebSocket upgrades, plus an http.Client configured to dial out over
// TLS with the peer's certificate inspected before the upgrade
// completes.
type Transport struct {
	tlsConfig *tls.Config
	listener  net.Listener
	server    *http.Server
	localKey  ed25519.PublicKey

	accepted chan acceptedConn
}

type acceptedConn struct {
	stream  peer.Stream
	peerKey ed25519.PublicKey
}

// New listens on addr for TLS WebSocket upgrades. tlsConfig must
// present a self-signed certificate whose public key is localKey, so
// the certificate binds the peer's signing public key.
func New(addr string, tlsConfig *tls.Config, localKey ed25519.PublicKey) (*Transport, error) {
	ln, err := tls.Listen("tcp", addr, tlsConfig)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	t := &Transport{
		tlsConfig: tlsConfig, listener: ln, localKey: localKey,
		accepted: make(chan acceptedConn, 16),
	}
	mux := http.NewServeMux()
	mux.HandleFunc(syncPath, t.handleUpgrade)
	t.server = &http.Server{Handler: mux}
	go t.server.Serve(ln) // nolint: errcheck -- terminal error surfaces via AcceptStream's ctx.Done path on Close
	return t, nil
}

func (t *Transport) Scheme() string { return "ws" }

func (t *Transport) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	peerKey, err := extractPinnedKey(r.TLS.PeerCertificates)
	if err != nil {
		http.Error(w, "unpinned certificate", http.StatusUnauthorized)
		return
	}
	c, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	stream := websocket.NetConn(r.Context(), c, websocket.MessageBinary)
	select {
	case t.accepted <- acceptedConn{stream: stream, peerKey: peerKey}:
	default:
		stream.Close() // nolint: errcheck -- backlog full, caller isn't accepting fast enough
	}
}

// AcceptStream blocks for the next completed inbound upgrade.
func (t *Transport) AcceptStream(ctx context.Context) (peer.Stream, ed25519.PublicKey, error) {
	select {
	case ac := <-t.accepted:
		return ac.stream, ac.peerKey, nil
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}
}

// OpenStream dials ep.Address (a host:port) over TLS, pins the
// presented certificate's key, then performs the WebSocket upgrade.
func (t *Transport) OpenStream(ctx context.Context, ep peer.Endpoint) (peer.Stream, ed25519.PublicKey, error) {
	var peerKey ed25519.PublicKey
	var pinErr error
	httpClient := &http.Client{
		Transport: &http.Transport{
			DialTLSContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
				conn, err := (&tls.Dialer{Config: &tls.Config{InsecureSkipVerify: true}}).DialContext(ctx, network, addr) // nolint: gosec -- pinning is by signing key below, not CA chain
				if err != nil {
					return nil, err
				}
				tlsConn := conn.(*tls.Conn)
				peerKey, pinErr = extractPinnedKey(tlsConn.ConnectionState().PeerCertificates)
				return conn, nil
			},
		},
	}
	c, _, err := websocket.Dial(ctx, "wss://"+ep.Address+syncPath, &websocket.DialOptions{HTTPClient: httpClient})
	if err != nil {
		return nil, nil, fmt.Errorf("dial %s: %w", ep.Address, err)
	}
	if pinErr != nil {
		c.Close(websocket.StatusPolicyViolation, "unpinned certificate") // nolint: errcheck
		return nil, nil, pinErr
	}
	return websocket.NetConn(ctx, c, websocket.MessageBinary), peerKey, nil
}

func (t *Transport) Close() error {
	if t.server != nil {
		_ = t.server.Close()
	}
	if t.listener != nil {
		_ = t.listener.Close()
	}
	return nil
}

func extractPinnedKey(certs []*x509.Certificate) (ed25519.PublicKey, error) {
	if len(certs) == 0 {
		return nil, fmt.Errorf("no peer certificate presented")
	}
	pub, ok := certs[0].PublicKey.(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("peer certificate key is not ed25519")
	}
	return pub, nil
}

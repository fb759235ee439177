// Package discovery locates peer endpoints for the peer session manager
// to dial: a LAN beacon over pinecone's multicast discovery for peers on
// the same broadcast domain, and an internet rendezvous beacon over a
// yggdrasil-go overlay session carried by yggquic for peers with no
// direct route.
//
// Both packages are wired directly against pinecone's and yggdrasil's
// own published APIs rather than an established idiom elsewhere in this
// tree, the same treatment already applied to Arceliar/phony and
// coder/websocket.
package discovery

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"sync"

	plog "github.com/gologme/log"
	pmulticast "github.com/matrix-org/pinecone/multicast"
	"github.com/sirupsen/logrus"

	"github.com/discretlib/discret-go/peer"
)

// Found is one discovered peer endpoint, handed to a caller-supplied
// callback as soon as a beacon is seen.
type Found struct {
	PeerKey ed25519.PublicKey
	Scheme  string
	Address string
}

// OnFound is invoked for every beacon announcement received, including
// repeated announcements from a peer already seen; implementations
// typically forward ep into peer.Manager.Connect on a discovery
// capability matching ep.Scheme.
type OnFound func(ep Found)

// LAN broadcasts and listens for pinecone multicast beacons on the
// local network, translating each announcement into a Found callback.
type LAN struct {
	mc       *pmulticast.Multicast
	scheme   string
	mu       sync.Mutex
	onFound  OnFound
	localKey ed25519.PublicKey
}

// NewLAN starts listening for multicast beacons immediately. scheme
// names the transport (e.g. "ws") a discovered address should be dialed
// through once paired with the peer's advertised port.
func NewLAN(localKey ed25519.PublicKey, scheme string, onFound OnFound) (*LAN, error) {
	logger := gologmeShim()
	mc := pmulticast.NewMulticast(logger)
	l := &LAN{mc: mc, scheme: scheme, onFound: onFound, localKey: localKey}
	mc.SetCallback(l.handleAnnouncement)
	if err := mc.Start(); err != nil {
		return nil, fmt.Errorf("start multicast discovery: %w", err)
	}
	return l, nil
}

// handleAnnouncement adapts pinecone's own callback shape — it hands
// back the peer's advertised listener address as a string and lets the
// multicast package track which interface it arrived on — into a Found.
func (l *LAN) handleAnnouncement(address string, peerKeyHex string) {
	pub, err := decodeAnnouncedKey(peerKeyHex)
	if err != nil {
		logrus.WithError(err).Warn("discovery: dropping malformed LAN announcement")
		return
	}
	l.mu.Lock()
	cb := l.onFound
	l.mu.Unlock()
	if cb != nil {
		cb(Found{PeerKey: pub, Scheme: l.scheme, Address: address})
	}
}

func decodeAnnouncedKey(s string) (ed25519.PublicKey, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode announced key: %w", err)
	}
	if len(b) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("malformed announced key length %d", len(b))
	}
	return ed25519.PublicKey(b), nil
}

func (l *LAN) Close() error {
	l.mc.Stop()
	return nil
}

// gologmeShim adapts a gologme/log.Logger (the logger type pinecone's
// multicast package takes) so pinecone's own diagnostics flow through
// the same structured logging path the rest of this module uses,
// rather than pinecone writing straight to stderr.
func gologmeShim() *plog.Logger {
	l := plog.New(logrusWriter{}, "", 0)
	l.EnableLevel("info")
	return l
}

type logrusWriter struct{}

func (logrusWriter) Write(p []byte) (int, error) {
	logrus.WithField("component", "pinecone").Info(string(p))
	return len(p), nil
}

// ConnectDiscovered is a convenience Connect path: it opens a stream
// through cap to a Found endpoint and hands the result to Manager.
func ConnectDiscovered(ctx context.Context, mgr *peer.Manager, cap peer.Capability, found Found, localRoomIDs []string) error {
	return mgr.Connect(ctx, cap, peer.Endpoint{Scheme: found.Scheme, Address: found.Address}, localRoomIDs)
}

package peer

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/discretlib/discret-go/eventbus"
	"github.com/discretlib/discret-go/room"
	"github.com/discretlib/discret-go/roomserver/storage"
	"github.com/discretlib/discret-go/rowmodel"
	"github.com/discretlib/discret-go/schema"
	"github.com/discretlib/discret-go/setup/sqlutil"
)

// Config bundles the Manager's dependencies and tunables; zero-value
// CreditPerRoom/LivenessInterval/TeardownDeadline are replaced with
// sane defaults by NewManager.
type Config struct {
	LocalKey ed25519.PublicKey

	Registry *schema.Registry
	Store    *storage.Store
	Signer   *rowmodel.Signer
	Rooms    *room.Engine
	Bus      *eventbus.Bus
	Writer   *sqlutil.Writer

	CreditPerRoom    int64
	LivenessInterval time.Duration
	TeardownDeadline time.Duration
}

// Manager is the peer session manager: it owns at most one active
// session per remote peer, wiring a syncproto.RoomActor for each
// shared Room on every newly established session.
type Manager struct {
	cfg         Config
	localKeyHex string

	mu       sync.Mutex
	sessions map[string]*session // peer key -> active session
}

// NewManager constructs a Manager, filling in defaults for unset Config
// values. The Rooms offered to a peer are the localRoomIDs slice passed
// to Connect or Serve; Serve offers the same slice to every peer it
// accepts.
func NewManager(cfg Config) *Manager {
	if cfg.CreditPerRoom <= 0 {
		cfg.CreditPerRoom = 256
	}
	if cfg.LivenessInterval <= 0 {
		cfg.LivenessInterval = 30 * time.Second
	}
	if cfg.TeardownDeadline <= 0 {
		cfg.TeardownDeadline = 10 * time.Second
	}
	return &Manager{
		cfg:         cfg,
		localKeyHex: hex.EncodeToString(cfg.LocalKey),
		sessions:    map[string]*session{},
	}
}

// Connect actively opens a session to ep via cap, used by the discovery
// package once it has resolved a peer endpoint.
func (m *Manager) Connect(ctx context.Context, cap Capability, ep Endpoint, localRoomIDs []string) error {
	stream, peerPub, err := cap.OpenStream(ctx, ep)
	if err != nil {
		return fmt.Errorf("open stream to %s via %s: %w", ep.Address, cap.Scheme(), err)
	}
	return m.admit(ctx, pubKeyHex(peerPub), stream, true, localRoomIDs)
}

// Serve runs cap's accept loop until ctx is cancelled, admitting each
// inbound connection as a new session.
func (m *Manager) Serve(ctx context.Context, cap Capability, localRoomIDs []string) error {
	for {
		stream, peerPub, err := cap.AcceptStream(ctx)
		if err != nil {
			return err
		}
		peerKey := pubKeyHex(peerPub)
		go func() {
			if err := m.admit(ctx, peerKey, stream, false, localRoomIDs); err != nil {
				logrus.WithError(err).WithField("peer", peerKey).Warn("peer session ended")
			}
		}()
	}
}

// admit enforces at most one active session per remote peer. When a
// peer already has an active session, the new attempt is kept only if
// it is the canonical direction — the side whose own key is smaller
// than the other's is the one expected to dial, so a duplicate arriving
// from the non-canonical direction is simply dropped, leaving the
// existing session untouched (the second attempt is deduplicated by
// lower-pubkey-wins).
func (m *Manager) admit(ctx context.Context, peerKey string, stream Stream, outbound bool, localRoomIDs []string) error {
	m.mu.Lock()
	if existing, ok := m.sessions[peerKey]; ok {
		if !isCanonicalDial(m.localKeyHex, peerKey, outbound) {
			m.mu.Unlock()
			return stream.Close()
		}
		existing.stop()
	}
	sess := newSession(peerKey, stream, deps{
		Registry: m.cfg.Registry, Store: m.cfg.Store, Signer: m.cfg.Signer,
		Rooms: m.cfg.Rooms, Bus: m.cfg.Bus, Writer: m.cfg.Writer,
		CreditPerRoom: m.cfg.CreditPerRoom, LivenessInterval: m.cfg.LivenessInterval,
		TeardownDeadline: m.cfg.TeardownDeadline,
	})
	m.sessions[peerKey] = sess
	m.mu.Unlock()

	err := sess.run(ctx, localRoomIDs)

	m.mu.Lock()
	if m.sessions[peerKey] == sess {
		delete(m.sessions, peerKey)
	}
	m.mu.Unlock()
	return err
}

// Disconnect gracefully tears down peerKey's active session, if any,
// giving any in-flight batch a deadline to complete. Each Room actor's
// liveness ticker is stopped immediately
// so no new round starts, but any round already underway keeps running
// — it is cut off only once TeardownDeadline elapses and the session's
// context is cancelled.
func (m *Manager) Disconnect(peerKey string) {
	m.mu.Lock()
	sess, ok := m.sessions[peerKey]
	m.mu.Unlock()
	if !ok {
		return
	}
	sess.mu.Lock()
	for _, a := range sess.actors {
		a.Stop()
	}
	sess.mu.Unlock()
	time.AfterFunc(m.cfg.TeardownDeadline, sess.stop)
}

// Sessions lists the peer keys with a currently active session.
func (m *Manager) Sessions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.sessions))
	for k := range m.sessions {
		out = append(out, k)
	}
	return out
}

// isCanonicalDial reports whether the dialer in a connection between
// localKey and peerKey (outbound: we dialed; inbound: they dialed) is
// the smaller of the two keys.
func isCanonicalDial(localKey, peerKey string, outbound bool) bool {
	dialer, other := localKey, peerKey
	if !outbound {
		dialer, other = peerKey, localKey
	}
	return dialer < other
}

package peer

import (
	"context"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/discretlib/discret-go/eventbus"
	"github.com/discretlib/discret-go/room"
	"github.com/discretlib/discret-go/roomserver/storage"
	"github.com/discretlib/discret-go/rowmodel"
	"github.com/discretlib/discret-go/schema"
	"github.com/discretlib/discret-go/setup/sqlutil"
	"github.com/discretlib/discret-go/syncproto"
)

var (
	sessionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "discret", Subsystem: "peer", Name: "sessions_active",
	})
	sessionsEstablished = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "discret", Subsystem: "peer", Name: "sessions_established_total",
	})
	sessionsTornDown = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "discret", Subsystem: "peer", Name: "sessions_torn_down_total",
	})
)

func init() {
	prometheus.MustRegister(sessionsActive, sessionsEstablished, sessionsTornDown)
}

// deps bundles the storage dependencies every Room's syncproto.Round
// needs; the Manager holds one set and hands it to each Session it
// creates.
type deps struct {
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

// session is one established connection to exactly one remote peer,
// multiplexing every shared Room's reconciliation round over that one
// stream.
type session struct {
	peerKey string // hex-encoded ed25519 public key
	stream  Stream
	deps    deps

	transport syncproto.Transport
	demux     *sessionDemux

	mu          sync.Mutex
	actors      map[string]*syncproto.RoomActor
	cancel      context.CancelFunc
	closed      bool
	established bool
}

func newSession(peerKey string, stream Stream, d deps) *session {
	t := syncproto.NewStreamTransport(stream)
	return &session{
		peerKey:   peerKey,
		stream:    stream,
		deps:      d,
		transport: t,
		demux:     newSessionDemux(t),
		actors:    map[string]*syncproto.RoomActor{},
	}
}

// run drives the session's full lifetime: Hello/RoomList exchange,
// per-shared-Room actor spawning, the demux pump, and liveness pings.
// It returns once the stream closes or ctx is cancelled.
func (s *session) run(ctx context.Context, localRoomIDs []string) error {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
	defer s.teardown()

	sharedRooms, err := s.handshake(ctx, localRoomIDs)
	if err != nil {
		return fmt.Errorf("handshake with %s: %w", s.peerKey, err)
	}
	s.mu.Lock()
	s.established = true
	s.mu.Unlock()
	sessionsEstablished.Inc()
	sessionsActive.Inc()

	_ = s.deps.Bus.Publish(eventbus.Event{Kind: eventbus.KindPeerConnected, PeerKey: s.peerKey})

	for _, roomID := range sharedRooms {
		s.spawnRoomActor(ctx, roomID)
	}

	pumpErr := make(chan error, 1)
	go func() { pumpErr <- s.demux.pump(ctx) }()

	go s.livenessLoop(ctx)
	go s.drainSessionFrames(ctx, cancel)

	select {
	case err := <-pumpErr:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// handshake exchanges Hello then RoomList and returns the intersection
// of this node's Rooms with the peer's.
func (s *session) handshake(ctx context.Context, localRoomIDs []string) ([]string, error) {
	view := s.demux.roomView(sessionFrameKey)
	if err := view.Send(ctx, syncproto.Hello{Version: 1}); err != nil {
		return nil, err
	}
	if err := view.Send(ctx, syncproto.RoomList{Rooms: localRoomIDs}); err != nil {
		return nil, err
	}

	// The session-level view's queue is only populated once the demux
	// pump is running, which starts after handshake returns; read
	// directly off the underlying transport for these first two frames
	// instead, since nothing else can be consuming it yet.
	if _, err := s.recvExpect(ctx); err != nil {
		return nil, err
	}
	peerRooms, err := s.recvRoomList(ctx)
	if err != nil {
		return nil, err
	}

	mine := make(map[string]bool, len(localRoomIDs))
	for _, id := range localRoomIDs {
		mine[id] = true
	}
	var shared []string
	for _, id := range peerRooms {
		if mine[id] {
			shared = append(shared, id)
		}
	}
	return shared, nil
}

func (s *session) recvExpect(ctx context.Context) (syncproto.Hello, error) {
	f, err := s.transport.Recv(ctx)
	if err != nil {
		return syncproto.Hello{}, err
	}
	h, ok := f.(syncproto.Hello)
	if !ok {
		return syncproto.Hello{}, fmt.Errorf("expected Hello, got %T", f)
	}
	return h, nil
}

func (s *session) recvRoomList(ctx context.Context) ([]string, error) {
	f, err := s.transport.Recv(ctx)
	if err != nil {
		return nil, err
	}
	rl, ok := f.(syncproto.RoomList)
	if !ok {
		return nil, fmt.Errorf("expected RoomList, got %T", f)
	}
	return rl.Rooms, nil
}

func (s *session) spawnRoomActor(ctx context.Context, roomID string) {
	view := s.demux.roomView(roomID)
	round := syncproto.NewRound(roomID, s.peerKey, s.deps.Registry, s.deps.Store, s.deps.Signer,
		s.deps.Rooms, s.deps.Bus, s.deps.Writer, syncproto.NewCreditWindow(s.deps.CreditPerRoom),
		s.deps.Registry.CurrentVersion(), view)
	actor := syncproto.NewRoomActor(round, s.deps.LivenessInterval)
	actor.Start(ctx)
	actor.Trigger(ctx) // run one round immediately rather than waiting a full liveness interval

	s.mu.Lock()
	s.actors[roomID] = actor
	s.mu.Unlock()
}

// drainSessionFrames consumes the session-level (non-Room) frames the
// demux pump routes under sessionFrameKey — Ping (acknowledged by
// doing nothing, since the mere act of receiving is the liveness
// signal) and Bye (the peer's own graceful goodbye). Without a
// consumer here, an idle session would eventually fill that queue's
// bounded channel and stall the demux pump for every Room sharing the
// connection.
func (s *session) drainSessionFrames(ctx context.Context, cancel context.CancelFunc) {
	view := s.demux.roomView(sessionFrameKey)
	for {
		f, err := view.Recv(ctx)
		if err != nil {
			return
		}
		if _, ok := f.(syncproto.Bye); ok {
			cancel()
			return
		}
	}
}

func (s *session) livenessLoop(ctx context.Context) {
	ticker := time.NewTicker(s.deps.LivenessInterval)
	defer ticker.Stop()
	view := s.demux.roomView(sessionFrameKey)
	for {
		select {
		case <-ticker.C:
			if err := view.Send(ctx, syncproto.Ping{}); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// teardown stops every Room actor and closes the stream. Called exactly
// once per session, from run's deferral. In-flight rounds are cut off
// by the ctx passed to run, bounded by TeardownDeadline via the
// Manager that owns that context.
func (s *session) teardown() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	wasEstablished := s.established
	actors := make([]*syncproto.RoomActor, 0, len(s.actors))
	for _, a := range s.actors {
		actors = append(actors, a)
	}
	s.mu.Unlock()

	for _, a := range actors {
		a.Stop()
	}
	if err := s.stream.Close(); err != nil {
		logrus.WithError(err).WithField("peer", s.peerKey).Debug("closing peer stream")
	}
	if wasEstablished {
		sessionsActive.Dec()
		sessionsTornDown.Inc()
		_ = s.deps.Bus.Publish(eventbus.Event{Kind: eventbus.KindPeerDisconnected, PeerKey: s.peerKey})
	}
}

func (s *session) stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func pubKeyHex(pub []byte) string { return hex.EncodeToString(pub) }

package syncproto

import (
	"context"
	"sync"
	"time"

	"github.com/Arceliar/phony"
	"github.com/sirupsen/logrus"
)

// RoomActor drives one Room's reconciliation rounds against one peer
// session, one at a time, on its own goroutine: a Room's reconciliation
// state is only ever touched by its own actor goroutine, so no extra
// locking is needed beyond the store's writer-serialization. Embedding
// phony.Inbox is the idiom the pinecone/yggdrasil family of transports
// in this stack use throughout for per-peer state machines.
type RoomActor struct {
	phony.Inbox

	round    *Round
	liveness time.Duration
	stop     chan struct{}
	stopOnce sync.Once
	running  bool
}

// NewRoomActor wires a RoomActor around round, ticking a new round at
// least every liveness interval even with no local trigger: either
// side may trigger a new round upon a local change or a liveness
// interval.
func NewRoomActor(round *Round, liveness time.Duration) *RoomActor {
	return &RoomActor{round: round, liveness: liveness, stop: make(chan struct{})}
}

// Trigger enqueues a round to run as soon as the actor is free,
// coalescing with any round already in flight (the actor's mailbox
// naturally serializes this: a Trigger arriving mid-round just runs
// the next round immediately after).
func (a *RoomActor) Trigger(ctx context.Context) {
	a.Act(nil, func() { a.runRound(ctx) })
}

// Start begins the liveness ticker; it runs until Stop is called. The
// ticker itself lives outside the actor (a bare goroutine sending
// Trigger), since phony actors do not own timers directly.
func (a *RoomActor) Start(ctx context.Context) {
	a.Act(nil, func() {
		if a.running {
			return
		}
		a.running = true
		go a.tick(ctx)
	})
}

func (a *RoomActor) tick(ctx context.Context) {
	ticker := time.NewTicker(a.liveness)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			a.Trigger(ctx)
		case <-a.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop tears down the liveness ticker. Safe to call more than once — a session may stop an actor's ticker
// early to block new rounds, then stop it again unconditionally during
// final teardown.
func (a *RoomActor) Stop() {
	a.stopOnce.Do(func() { close(a.stop) })
}

func (a *RoomActor) runRound(ctx context.Context) {
	if err := a.round.Run(ctx); err != nil {
		logrus.WithError(err).WithField("room", a.round.RoomID).WithField("peer", a.round.PeerKey).
			Warn("sync round failed; will retry on next trigger or liveness tick")
	}
}

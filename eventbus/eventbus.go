// Package eventbus broadcasts local and remote-originated data-change
// events to subscribers with bounded per-subscriber buffering, backed
// by an embedded NATS JetStream server so the same mechanism that
// notifies in-process subscribers can be extended to cross-process
// consumers the host application spawns.
package eventbus

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
)

// Kind identifies what changed: a data row, room membership, a peer
// connection, or sync progress.
type Kind string

const (
	KindDataChanged     Kind = "DataChanged"
	KindRoomChanged     Kind = "RoomChanged"
	KindPeerConnected   Kind = "PeerConnected"
	KindPeerDisconnected Kind = "PeerDisconnected"
	KindSyncProgress    Kind = "SyncProgress"
	kindLagged          Kind = "Lagged"
)

// Event is the broadcast payload. Only the fields relevant to Kind are
// populated.
type Event struct {
	Kind Kind

	Room   string // DataChanged, RoomChanged
	Entity string // DataChanged
	Origin string // DataChanged: "local" or "remote"

	PeerKey string // PeerConnected, PeerDisconnected

	RoomsInProgress int // SyncProgress
	RoomsTotal      int // SyncProgress

	Lagged int // kindLagged: number of events dropped
}

var subscribersGauge = prometheus.NewGauge(prometheus.GaugeOpts{
	Namespace: "discret", Subsystem: "eventbus", Name: "subscribers",
})
var laggedTotal = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "discret", Subsystem: "eventbus", Name: "lagged_total",
})

func init() {
	prometheus.MustRegister(subscribersGauge, laggedTotal)
}

const subject = "discret.events"

// Bus embeds a NATS server (in-process, no network listener) and
// JetStream context, and fans each publish out to bounded in-process
// subscriber channels. A slow subscriber loses its oldest buffered
// events rather than blocking the publisher.
type Bus struct {
	ns *server.Server
	nc *nats.Conn

	mu   sync.Mutex
	subs map[*Subscription]struct{}
}

// Subscription is one bounded-capacity subscriber channel.
type Subscription struct {
	bus *Bus
	ch  chan Event

	mu      sync.Mutex
	dropped int
}

// New starts an embedded, non-listening NATS server (JetStream
// enabled) and connects an in-process client to it — the same pattern
// dendrite's demo binary uses to avoid a network-bound broker process
// for a single-node deployment.
func New(storeDir string) (*Bus, error) {
	opts := &server.Options{
		DontListen: true,
		JetStream:  true,
		StoreDir:   storeDir,
	}
	ns, err := server.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("start embedded nats: %w", err)
	}
	ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		return nil, fmt.Errorf("embedded nats not ready")
	}

	nc, err := nats.Connect("", nats.InProcessServer(ns))
	if err != nil {
		ns.Shutdown()
		return nil, fmt.Errorf("connect embedded nats: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		ns.Shutdown()
		return nil, fmt.Errorf("jetstream context: %w", err)
	}
	if _, err := js.AddStream(&nats.StreamConfig{Name: "DISCRET_EVENTS", Subjects: []string{subject}}); err != nil {
		nc.Close()
		ns.Shutdown()
		return nil, fmt.Errorf("add stream: %w", err)
	}

	b := &Bus{ns: ns, nc: nc, subs: map[*Subscription]struct{}{}}
	if _, err := nc.Subscribe(subject, b.dispatch); err != nil {
		nc.Close()
		ns.Shutdown()
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	return b, nil
}

// Close tears down the embedded NATS connection and server.
func (b *Bus) Close() {
	b.nc.Close()
	b.ns.Shutdown()
}

// Publish broadcasts ev to every current subscriber.
func (b *Bus) Publish(ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return b.nc.Publish(subject, data)
}

func (b *Bus) dispatch(msg *nats.Msg) {
	var ev Event
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		log.WithError(err).Warn("eventbus: dropping malformed event")
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subs {
		sub.deliver(ev)
	}
}

// Subscribe returns a Subscription with the given channel capacity.
func (b *Bus) Subscribe(capacity int) *Subscription {
	sub := &Subscription{bus: b, ch: make(chan Event, capacity)}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()
	subscribersGauge.Inc()
	return sub
}

// Unsubscribe stops delivery to sub and closes its channel.
func (sub *Subscription) Unsubscribe() {
	sub.bus.mu.Lock()
	delete(sub.bus.subs, sub)
	sub.bus.mu.Unlock()
	subscribersGauge.Dec()
	close(sub.ch)
}

// Events returns the channel to range over; a kindLagged event on it
// reports how many events were dropped since the last delivery.
func (sub *Subscription) Events() <-chan Event { return sub.ch }

func (sub *Subscription) deliver(ev Event) {
	sub.flushLagged()
	select {
	case sub.ch <- ev:
		return
	default:
	}
	// Channel full: drop the oldest buffered event to make room rather
	// than blocking the publisher, and count the drop for the next
	// Lagged(n) notification.
	select {
	case <-sub.ch:
	default:
	}
	select {
	case sub.ch <- ev:
	default:
	}
	sub.mu.Lock()
	sub.dropped++
	sub.mu.Unlock()
	laggedTotal.Inc()
	sub.flushLagged()
}

func (sub *Subscription) flushLagged() {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if sub.dropped == 0 {
		return
	}
	select {
	case sub.ch <- Event{Kind: kindLagged, Lagged: sub.dropped}:
		sub.dropped = 0
	default:
	}
}

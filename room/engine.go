package room

import (
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"
	gocache "github.com/patrickmn/go-cache"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/discretlib/discret-go/errs"
)

var (
	rightsCacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "discret", Subsystem: "room", Name: "rights_cache_hits_total",
	})
	rightsCacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "discret", Subsystem: "room", Name: "rights_cache_misses_total",
	})
	peersBlacklisted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "discret", Subsystem: "room", Name: "peers_blacklisted_total",
	})
)

func init() {
	prometheus.MustRegister(rightsCacheHits, rightsCacheMisses, peersBlacklisted)
}

// Engine owns every Room known to this node plus the caches that make
// allowed() cheap on the ingress hot path.
type Engine struct {
	mu    sync.RWMutex
	rooms map[string]*Room

	// rights caches the outcome of Allowed() keyed by
	// peer/room/entity/epoch/action so a burst of incoming rows for the
	// same Room doesn't re-walk the epoch history per row. Put and
	// AddEpoch clear the whole cache, for every Room.
	rights *ristretto.Cache

	// faults holds the per-peer ingress-fault counter and the resulting
	// blacklist-cooldown deadline: a peer that repeatedly sends rows
	// failing signature or authorization checks is cooled down.
	faults *gocache.Cache

	faultThreshold int
	cooldown       time.Duration
}

type rightsKey struct {
	peer, roomID, entity string
	epochStart           int64
	action               Action
}

// NewEngine constructs an Engine. faultThreshold is the number of
// ingress faults within cooldown's sliding window that blacklists a
// peer; a zero faultThreshold disables blacklisting.
func NewEngine(faultThreshold int, cooldown time.Duration) (*Engine, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e6,
		MaxCost:     1 << 20,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("allocate rights cache: %w", err)
	}
	return &Engine{
		rooms:          make(map[string]*Room),
		rights:         cache,
		faults:         gocache.New(cooldown, cooldown*2),
		faultThreshold: faultThreshold,
		cooldown:       cooldown,
	}, nil
}

func (e *Engine) Put(r *Room) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rooms[r.ID] = r
	e.rights.Clear()
}

// RoomIDs returns every Room this node currently knows about — used by
// the peer session manager to compute the intersection of Rooms shared
// with a newly connected peer.
func (e *Engine) RoomIDs() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]string, 0, len(e.rooms))
	for id := range e.rooms {
		out = append(out, id)
	}
	return out
}

func (e *Engine) Get(roomID string) (*Room, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	r, ok := e.rooms[roomID]
	return r, ok
}

// AddEpoch advances roomID's authorization state and clears the whole
// rights cache: stale rights would otherwise survive a membership or
// role change.
func (e *Engine) AddEpoch(roomID, authorKey string, epoch Epoch) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.rooms[roomID]
	if !ok {
		return errs.WithKind(fmt.Errorf("unknown room %s", roomID), errs.NotFound)
	}
	if err := r.AddEpoch(authorKey, epoch); err != nil {
		return err
	}
	e.rights.Clear()
	return nil
}

// MembersAt returns roomID's membership snapshot at logical time t.
func (e *Engine) MembersAt(roomID string, t int64) (map[string]Member, error) {
	e.mu.RLock()
	r, ok := e.rooms[roomID]
	e.mu.RUnlock()
	if !ok {
		return nil, errs.WithKind(fmt.Errorf("unknown room %s", roomID), errs.NotFound)
	}
	return r.MembersAt(t), nil
}

// Allowed is the cached form of Room.Allowed, blacklist-gated: a peer
// currently in cooldown is denied every action regardless of rights.
func (e *Engine) Allowed(peerKey, roomID, entity string, action Action, t int64) (bool, error) {
	if e.Blacklisted(peerKey) {
		return false, nil
	}
	e.mu.RLock()
	r, ok := e.rooms[roomID]
	e.mu.RUnlock()
	if !ok {
		return false, errs.WithKind(fmt.Errorf("unknown room %s", roomID), errs.NotFound)
	}

	epoch, hasEpoch := r.epochAt(t)
	key := rightsKey{peer: peerKey, roomID: roomID, entity: entity, action: action}
	if hasEpoch {
		key.epochStart = epoch.StartMDate
	}
	if v, found := e.rights.Get(key); found {
		rightsCacheHits.Inc()
		return v.(bool), nil
	}
	rightsCacheMisses.Inc()
	result := r.Allowed(peerKey, entity, action, t)
	e.rights.SetWithTTL(key, result, 1, 10*time.Minute)
	return result, nil
}

// RecordFault increments peerKey's ingress-fault counter for a row
// that failed signature verification or authorization, and blacklists
// the peer once faultThreshold is reached within the cooldown window.
func (e *Engine) RecordFault(peerKey string) {
	if e.faultThreshold <= 0 {
		return
	}
	count := 1
	if v, found := e.faults.Get(faultCounterKey(peerKey)); found {
		count = v.(int) + 1
	}
	e.faults.Set(faultCounterKey(peerKey), count, gocache.DefaultExpiration)
	if count >= e.faultThreshold {
		e.faults.Set(blacklistKey(peerKey), true, e.cooldown)
		peersBlacklisted.Inc()
	}
}

// Blacklisted reports whether peerKey is currently cooling down.
func (e *Engine) Blacklisted(peerKey string) bool {
	_, found := e.faults.Get(blacklistKey(peerKey))
	return found
}

func faultCounterKey(peerKey string) string { return "faults:" + peerKey }
func blacklistKey(peerKey string) string    { return "blacklist:" + peerKey }

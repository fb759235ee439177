// Package room implements the Room & Authorization Engine: evaluating
// allowed(peer, room, entity, action, t) against a Room's epoch-indexed
// membership, and the private-Room special case.
package room

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/discretlib/discret-go/errs"
)

// Role is a member's role within one authorization epoch.
type Role int

const (
	RoleUser Role = iota
	RoleAdmin
)

// Action is one of the three gated operations.
type Action int

const (
	ActionRead Action = iota
	ActionWrite
	ActionAdmin
)

// Rights is the set of entities a member may read/write in an epoch.
// AllEntities grants every entity; otherwise only entities mapped to
// true in Entities are allowed, so a nil map grants none. NewRoom gives
// the creator AllEntities, and Allowed passes admins regardless of
// their Rights.
type Rights struct {
	AllEntities bool
	Entities    map[string]bool
}

func (r Rights) allows(entity string) bool {
	if r.AllEntities {
		return true
	}
	return r.Entities[entity]
}

// Member is one Room member's role and rights within a single epoch.
type Member struct {
	PeerKey string // hex-encoded ed25519 public key
	Role    Role
	Read    Rights
	Write   Rights
}

// Epoch is a time interval (by author-asserted mdate) during which a
// Room's membership and rights are fixed.
type Epoch struct {
	StartMDate int64
	Members    map[string]Member // peer key -> Member
	AuthoredBy string            // admin peer key that authored this epoch-advance
}

// Room is the in-memory authorization view of one Room's epoch history
// (the Room itself is also replicated as signed rows in the reserved
// system namespace; that storage/projection mapping lives in
// roomserver, this package is the pure evaluation engine).
type Room struct {
	ID      string
	Creator string
	Private bool   // true for a peer's distinguished private Room
	Owner   string // set only when Private

	epochs []Epoch // kept sorted by StartMDate ascending
}

// NewRoom creates a Room whose creator is an admin in its initial
// epoch, from t0 onward.
func NewRoom(id, creator string, t0 int64) *Room {
	return &Room{
		ID:      id,
		Creator: creator,
		epochs: []Epoch{{
			StartMDate: t0,
			AuthoredBy: creator,
			Members: map[string]Member{
				creator: {PeerKey: creator, Role: RoleAdmin, Read: Rights{AllEntities: true}, Write: Rights{AllEntities: true}},
			},
		}},
	}
}

// NewPrivateRoom creates the distinguished private Room for a single
// local peer.
func NewPrivateRoom(id, owner string, t0 int64) *Room {
	r := NewRoom(id, owner, t0)
	r.Private = true
	r.Owner = owner
	return r
}

// epochAt returns the epoch covering logical time t: the last epoch
// whose StartMDate <= t.
func (r *Room) epochAt(t int64) (Epoch, bool) {
	idx := -1
	for i, e := range r.epochs {
		if e.StartMDate <= t {
			idx = i
		} else {
			break
		}
	}
	if idx < 0 {
		return Epoch{}, false
	}
	return r.epochs[idx], true
}

// Allowed evaluates allowed(peer, room, entity, action, t).
func (r *Room) Allowed(peerKey string, entity string, action Action, t int64) bool {
	if r.Private {
		return peerKey == r.Owner
	}
	epoch, ok := r.epochAt(t)
	if !ok {
		return false
	}
	member, ok := epoch.Members[peerKey]
	if !ok {
		return false
	}
	switch action {
	case ActionAdmin:
		return member.Role == RoleAdmin
	case ActionRead:
		return member.Role == RoleAdmin || member.Read.allows(entity)
	case ActionWrite:
		return member.Role == RoleAdmin || member.Write.allows(entity)
	default:
		return false
	}
}

// MembersAt returns the membership snapshot effective at logical time t,
// the same view Allowed consults — used by callers (e.g. invitation
// acceptance) that need to copy an epoch's membership forward rather
// than replace it wholesale when authoring the next epoch.
func (r *Room) MembersAt(t int64) map[string]Member {
	epoch, ok := r.epochAt(t)
	if !ok {
		return nil
	}
	out := make(map[string]Member, len(epoch.Members))
	for k, v := range epoch.Members {
		out[k] = v
	}
	return out
}

// ErrConflictingEpoch is returned by AddEpoch when two admins author
// epoch-advancing rows at the same mdate.
type ErrConflictingEpoch struct {
	WinnerKey, LoserKey string
}

func (e *ErrConflictingEpoch) Error() string {
	return "conflicting epoch advance at equal mdate; " + e.LoserKey + " ignored in favor of " + e.WinnerKey
}

// AddEpoch appends a new authorization epoch, authored by authorKey at
// StartMDate e.StartMDate. Only an admin effective immediately before
// e.StartMDate may author an epoch advance. If an epoch already exists
// at the same StartMDate from a different author, the conflict is
// broken by author public-key byte order: the lexicographically
// smaller key wins and the later one is ignored. AddEpoch returns
// *ErrConflictingEpoch in that case rather than silently dropping
// data, so a caller can author an explicit reconciliation epoch once
// the two sides' sync converges.
func (r *Room) AddEpoch(authorKey string, e Epoch) error {
	priorView, _ := r.epochAt(e.StartMDate - 1)
	if m, ok := priorView.Members[authorKey]; !r.Private && (!ok || m.Role != RoleAdmin) {
		if len(r.epochs) > 0 || authorKey != r.Creator {
			return errs.WithKind(fmt.Errorf("%s is not an admin before mdate %d", authorKey, e.StartMDate), errs.Unauthorized)
		}
	}

	for i, existing := range r.epochs {
		if existing.StartMDate == e.StartMDate {
			winner, loser := pickByKeyOrder(existing.AuthoredBy, authorKey)
			if winner == authorKey {
				e.AuthoredBy = authorKey
				r.epochs[i] = e
				sortEpochs(r.epochs)
			}
			return &ErrConflictingEpoch{WinnerKey: winner, LoserKey: loser}
		}
	}

	e.AuthoredBy = authorKey
	r.epochs = append(r.epochs, e)
	sortEpochs(r.epochs)
	return nil
}

func pickByKeyOrder(a, b string) (winner, loser string) {
	ab, _ := hex.DecodeString(a)
	bb, _ := hex.DecodeString(b)
	if bytes.Compare(ab, bb) <= 0 {
		return a, b
	}
	return b, a
}

func sortEpochs(epochs []Epoch) {
	sort.SliceStable(epochs, func(i, j int) bool { return epochs[i].StartMDate < epochs[j].StartMDate })
}

// EpochDigest returns a short order-sensitive digest of the Room's
// epoch history, compared during sync's epoch-alignment step to decide
// whether the reserved system namespace needs its own reconciliation
// round before entity rows are exchanged.
func (r *Room) EpochDigest() uint64 {
	var h uint64 = 1469598103934665603 // FNV-1a offset basis
	const prime64 = 1099511628211
	mix := func(s string) {
		for i := 0; i < len(s); i++ {
			h ^= uint64(s[i])
			h *= prime64
		}
	}
	for _, e := range r.epochs {
		mix(e.AuthoredBy)
		keys := make([]string, 0, len(e.Members))
		for k := range e.Members {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			mix(k)
		}
	}
	return h
}

package invite

import (
	"context"
	"fmt"
	"time"

	"github.com/discretlib/discret-go/peer"
	"github.com/discretlib/discret-go/room"
)

// AcceptDeps are the collaborators Accept needs: the Room authorization
// engine to author the new membership epoch into, and the peer session
// manager used to contact the issuer so a first sync round can run.
type AcceptDeps struct {
	Rooms   *room.Engine
	Peers   *peer.Manager
	Cap     peer.Capability // transport used to reach the issuer
	Retries int             // bounded retry count for the first-sync dial, default 3
	Backoff time.Duration   // base delay between retries, default 2s
}

// Accept verifies tokenText, authors a membership row admitting
// inviteeKey to the named Room at the token's role, and then attempts a
// bounded number of dials against the issuer so the new member's first
// sync round runs as soon as possible — until it lands, other peers
// reject the new member's writes.
func Accept(ctx context.Context, deps AcceptDeps, tokenText, inviteeKey string, issuerEndpoint peer.Endpoint, now int64) (Token, error) {
	t, err := Verify(tokenText, now)
	if err != nil {
		return Token{}, err
	}

	members, err := deps.Rooms.MembersAt(t.RoomID, now)
	if err != nil {
		return Token{}, err
	}
	if members == nil {
		members = make(map[string]room.Member, 1)
	}
	members[inviteeKey] = newMember(inviteeKey, t.Role)

	epoch := room.Epoch{StartMDate: now, Members: members}
	if err := deps.Rooms.AddEpoch(t.RoomID, t.Issuer, epoch); err != nil {
		return Token{}, fmt.Errorf("author membership row for %s: %w", inviteeKey, err)
	}

	if deps.Peers != nil && deps.Cap != nil {
		go retryFirstSync(ctx, deps, t.RoomID, issuerEndpoint)
	}
	return t, nil
}

// newMember grants an invited admin full read/write like any other
// admin. An invited regular member gets full read by default — the
// token only carries a Role, not per-entity Rights — with no write
// rights until an admin grants specific entities in a later epoch.
func newMember(peerKey string, role room.Role) room.Member {
	if role == room.RoleAdmin {
		return room.Member{PeerKey: peerKey, Role: role, Read: room.Rights{AllEntities: true}, Write: room.Rights{AllEntities: true}}
	}
	return room.Member{PeerKey: peerKey, Role: role, Read: room.Rights{AllEntities: true}}
}

// retryFirstSync dials the issuer up to deps.Retries times with a
// linear backoff, stopping at the first successful connection — the
// session manager's own RoomActor then drives the Room's reconciliation
// round once the session is admitted.
func retryFirstSync(ctx context.Context, deps AcceptDeps, roomID string, ep peer.Endpoint) {
	retries := deps.Retries
	if retries <= 0 {
		retries = 3
	}
	backoff := deps.Backoff
	if backoff <= 0 {
		backoff = 2 * time.Second
	}
	for attempt := 0; attempt < retries; attempt++ {
		if err := deps.Peers.Connect(ctx, deps.Cap, ep, []string{roomID}); err == nil {
			return
		}
		select {
		case <-time.After(backoff * time.Duration(attempt+1)):
		case <-ctx.Done():
			return
		}
	}
}

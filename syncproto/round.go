package syncproto

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"

	"github.com/discretlib/discret-go/eventbus"
	"github.com/discretlib/discret-go/room"
	"github.com/discretlib/discret-go/roomserver/storage"
	"github.com/discretlib/discret-go/rowmodel"
	"github.com/discretlib/discret-go/schema"
	"github.com/discretlib/discret-go/setup/sqlutil"
)

// Round drives one reconciliation round for one Room against one
// remote peer. A Round is not safe for concurrent use; the peer
// session manager runs it on a dedicated per-Room actor (package peer).
type Round struct {
	RoomID   string
	PeerKey  string // hex-encoded remote peer signing key, for fault attribution
	Registry *schema.Registry
	Store    *storage.Store
	Signer   *rowmodel.Signer
	Rooms    *room.Engine
	Bus      *eventbus.Bus
	Writer   *sqlutil.Writer
	Credit   *CreditWindow
	Version  schema.Version

	transport Transport
	staged    []*rowmodel.Row
}

// NewRound wires a Round from its dependencies.
func NewRound(roomID, peerKey string, reg *schema.Registry, store *storage.Store, signer *rowmodel.Signer, rooms *room.Engine, bus *eventbus.Bus, writer *sqlutil.Writer, credit *CreditWindow, version schema.Version, t Transport) *Round {
	return &Round{
		RoomID: roomID, PeerKey: peerKey, Registry: reg, Store: store, Signer: signer,
		Rooms: rooms, Bus: bus, Writer: writer, Credit: credit, Version: version, transport: t,
	}
}

// Run executes one full round to Idle. It
// returns once both directions' transfer phases have completed; the
// caller (the per-Room actor) decides when to call Run again, on a
// local change event or the liveness interval.
func (rd *Round) Run(ctx context.Context) error {
	if err := rd.sendCursors(ctx); err != nil {
		return fmt.Errorf("send cursors: %w", err)
	}
	peerCursors, err := rd.recvCursors(ctx)
	if err != nil {
		return fmt.Errorf("recv cursors: %w", err)
	}

	if err := rd.sendEpochDigest(ctx); err != nil {
		return fmt.Errorf("send epoch digest: %w", err)
	}
	if _, err := rd.recvEpochDigest(ctx); err != nil {
		return fmt.Errorf("recv epoch digest: %w", err)
	}
	// The peer's epoch digest is received and not compared. Epoch
	// advances are not represented as rowmodel rows in this tree
	// (room.Engine holds them purely in-memory, provisioned by direct
	// AddEpoch calls), so no round runs over authorization rows and a
	// digest mismatch is neither synced nor reported; entity rows
	// proceed either way.

	if err := rd.sendAdvertise(ctx, peerCursors); err != nil {
		return fmt.Errorf("send advertise: %w", err)
	}

	if err := rd.driveLoop(ctx); err != nil {
		return err
	}
	syncRoundsTotal.Inc()
	rd.publish(eventbus.KindSyncProgress, "")
	return nil
}

func (rd *Round) publish(kind eventbus.Kind, entity string) {
	if rd.Bus == nil {
		return
	}
	_ = rd.Bus.Publish(eventbus.Event{Kind: kind, Room: rd.RoomID, Entity: entity, PeerKey: rd.PeerKey})
}

// sendCursors sends this side's highest (mdate, id) per known author,
// across every declared entity.
func (rd *Round) sendCursors(ctx context.Context) error {
	highest := map[string]AuthorCursor{}
	for _, entity := range rd.Registry.Entities() {
		authors, err := rd.Store.ListAuthors(ctx, entity, rd.RoomID)
		if err != nil {
			return err
		}
		for _, author := range authors {
			rows, err := rd.Store.RowsSince(ctx, entity, rd.RoomID, author, -1)
			if err != nil {
				return err
			}
			for _, r := range rows {
				cur := highest[author]
				if r.MDate > cur.MDate {
					highest[author] = AuthorCursor{Author: author, MDate: r.MDate, RowID: r.ID}
				}
			}
		}
	}
	cursors := make([]AuthorCursor, 0, len(highest))
	for _, c := range highest {
		cursors = append(cursors, c)
	}
	return rd.transport.Send(ctx, CursorSet{RoomID: rd.RoomID, Cursors: cursors})
}

func (rd *Round) recvCursors(ctx context.Context) (map[string]int64, error) {
	f, err := rd.transport.Recv(ctx)
	if err != nil {
		return nil, err
	}
	cs, ok := f.(CursorSet)
	if !ok {
		return nil, fmt.Errorf("expected CursorSet, got %T", f)
	}
	out := make(map[string]int64, len(cs.Cursors))
	for _, c := range cs.Cursors {
		out[c.Author] = c.MDate
		if err := rd.Store.SavePeerCursor(ctx, rd.PeerKey, rd.RoomID, c.Author, c.MDate, c.RowID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (rd *Round) sendEpochDigest(ctx context.Context) error {
	r, ok := rd.Rooms.Get(rd.RoomID)
	if !ok {
		return fmt.Errorf("unknown room %s", rd.RoomID)
	}
	return rd.transport.Send(ctx, EpochDigestFrame{RoomID: rd.RoomID, Digest: r.EpochDigest()})
}

func (rd *Round) recvEpochDigest(ctx context.Context) (uint64, error) {
	f, err := rd.transport.Recv(ctx)
	if err != nil {
		return 0, err
	}
	ed, ok := f.(EpochDigestFrame)
	if !ok {
		return 0, fmt.Errorf("expected EpochDigestFrame, got %T", f)
	}
	return ed.Digest, nil
}

// sendAdvertise streams every row this side holds per author with
// mdate greater than the peer's cursor for that author, one Advertise
// frame per (author, entity), followed by AdvertiseEnd.
func (rd *Round) sendAdvertise(ctx context.Context, peerCursors map[string]int64) error {
	for _, entity := range rd.Registry.Entities() {
		authors, err := rd.Store.ListAuthors(ctx, entity, rd.RoomID)
		if err != nil {
			return err
		}
		for _, author := range authors {
			since := peerCursors[author]
			rows, err := rd.Store.RowsSince(ctx, entity, rd.RoomID, author, since)
			if err != nil {
				return err
			}
			if len(rows) == 0 {
				continue
			}
			entries := make([]AdvertiseEntry, len(rows))
			for i, r := range rows {
				entries[i] = AdvertiseEntry{ID: r.ID, MDate: r.MDate, Digest: rowDigest(r)}
			}
			if err := rd.transport.Send(ctx, Advertise{RoomID: rd.RoomID, Author: author, Entity: entity.Name, Entries: entries}); err != nil {
				return err
			}
		}
	}
	return rd.transport.Send(ctx, AdvertiseEnd{RoomID: rd.RoomID})
}

// driveLoop is the symmetric read loop handling the peer's Advertise,
// Request, RowFrame and BatchEnd frames until both directions' transfer
// phases are complete.
func (rd *Round) driveLoop(ctx context.Context) error {
	theirAdvertised := map[string][]AdvertiseEntry{}
	requestSent := false
	requestSatisfied := false
	doneSent := false
	theirDone := false
	var requestedCount int64
	outstanding := 0

	markDone := func(ctx context.Context) error {
		requestSatisfied = true
		if !doneSent {
			doneSent = true
			return rd.transport.Send(ctx, RoundDone{RoomID: rd.RoomID})
		}
		return nil
	}

	for {
		if requestSatisfied && doneSent && theirDone {
			return rd.commitStaged(ctx)
		}
		f, err := rd.transport.Recv(ctx)
		if err != nil {
			return err
		}
		switch v := f.(type) {
		case Advertise:
			theirAdvertised[v.Entity] = append(theirAdvertised[v.Entity], v.Entries...)
		case AdvertiseEnd:
			missing, err := rd.computeMissing(ctx, theirAdvertised)
			if err != nil {
				return err
			}
			if len(missing) == 0 {
				if err := markDone(ctx); err != nil {
					return err
				}
				continue
			}
			for entity, ids := range missing {
				// Bounded credit window: a request this round never exceeds the
				// currently available credit. Ids dropped here are
				// simply re-advertised in a later round, since this
				// side's cursor for their author hasn't advanced past
				// them.
				if budget := rd.Credit.Available(); int64(len(ids)) > budget {
					ids = ids[:budget]
				}
				if len(ids) == 0 {
					continue
				}
				rd.Credit.TryAcquire(int64(len(ids)))
				requestedCount += int64(len(ids))
				requestSent = true
				outstanding++
				if err := rd.transport.Send(ctx, Request{RoomID: rd.RoomID, Entity: entity, IDs: ids}); err != nil {
					return err
				}
			}
			if !requestSent {
				// Every missing id was clamped away by the credit
				// window; nothing actually went out this round.
				if err := markDone(ctx); err != nil {
					return err
				}
			}
		case Request:
			if err := rd.serveRequest(ctx, v); err != nil {
				return err
			}
		case RowFrame:
			rd.stageRow(ctx, v)
		case BatchEnd:
			if outstanding > 0 {
				outstanding--
				if outstanding == 0 {
					rd.Credit.Release(requestedCount)
					if err := markDone(ctx); err != nil {
						return err
					}
				}
			}
		case RoundDone:
			theirDone = true
		case Ping:
		case Bye:
			return nil
		default:
			return fmt.Errorf("unexpected frame %T in transfer phase", f)
		}
	}
}

// computeMissing compares the peer's advertised rows against what this
// side already holds, returning the ids it should Request per entity:
// either a missing id or a divergent digest.
func (rd *Round) computeMissing(ctx context.Context, theirAdvertised map[string][]AdvertiseEntry) (map[string][]string, error) {
	out := map[string][]string{}
	for entityName, entries := range theirAdvertised {
		entity, ok := rd.Registry.Resolve(entityName, rd.Version)
		if !ok {
			continue
		}
		var ids []string
		for _, e := range entries {
			existing, err := rd.Store.RowByID(ctx, entity, rd.RoomID, e.ID)
			if err != nil {
				return nil, err
			}
			if existing == nil || rowDigest(existing) != e.Digest {
				ids = append(ids, e.ID)
			}
		}
		if len(ids) > 0 {
			out[entityName] = ids
		}
	}
	return out, nil
}

// serveRequest answers a peer's Request by streaming the rows it asked
// for, then a BatchEnd to release its credit window.
func (rd *Round) serveRequest(ctx context.Context, req Request) error {
	entity, ok := rd.Registry.Resolve(req.Entity, rd.Version)
	if !ok {
		return rd.transport.Send(ctx, BatchEnd{RoomID: rd.RoomID})
	}
	for _, id := range req.IDs {
		r, err := rd.Store.RowByID(ctx, entity, rd.RoomID, id)
		if err != nil {
			return err
		}
		if r == nil {
			continue
		}
		enc, err := EncodeRow(r)
		if err != nil {
			return err
		}
		if err := rd.transport.Send(ctx, RowFrame{RoomID: rd.RoomID, Entity: req.Entity, Signed: enc}); err != nil {
			return err
		}
		syncRowsSent.Inc()
	}
	return rd.transport.Send(ctx, BatchEnd{RoomID: rd.RoomID})
}

// stageRow verifies and stages one transferred row. A failed signature
// or authorization check skips the row and counts a fault against the
// peer without tearing down the stream.
func (rd *Round) stageRow(ctx context.Context, v RowFrame) {
	r, err := DecodeRow(v.Signed)
	if err != nil {
		syncFaultsTotal.WithLabelValues(rd.PeerKey).Inc()
		rd.Rooms.RecordFault(rd.PeerKey)
		return
	}
	if err := rd.Signer.Verify(r); err != nil {
		syncFaultsTotal.WithLabelValues(rd.PeerKey).Inc()
		rd.Rooms.RecordFault(rd.PeerKey)
		return
	}
	authorKey := hex.EncodeToString(r.Author)
	allowed, err := rd.Rooms.Allowed(authorKey, r.RoomID, r.Entity, room.ActionWrite, r.MDate)
	if err != nil || !allowed {
		syncFaultsTotal.WithLabelValues(rd.PeerKey).Inc()
		rd.Rooms.RecordFault(rd.PeerKey)
		return
	}
	rd.staged = append(rd.staged, r)
}

// commitStaged applies every staged row inside one write transaction,
// applying the last-writer-wins conflict policy against whatever is
// currently stored, and emits DataChanged events with origin=remote
// for whatever actually commits.
func (rd *Round) commitStaged(ctx context.Context) error {
	if len(rd.staged) == 0 {
		return nil
	}
	byEntity := map[string]*schema.EntityDecl{}
	for _, r := range rd.staged {
		if _, ok := byEntity[r.Entity]; !ok {
			entity, ok := rd.Registry.Resolve(r.Entity, r.SchemaVersion)
			if !ok {
				continue
			}
			byEntity[r.Entity] = entity
			if err := rd.Store.EnsureEntityTable(ctx, entity); err != nil {
				return err
			}
		}
	}

	var changes []rowmodel.ChangeRecord
	err := rd.Writer.Do(rd.Store.DB, func(tx *sql.Tx) error {
		changes = nil
		for _, r := range rd.staged {
			entity, ok := byEntity[r.Entity]
			if !ok {
				continue
			}
			existing, err := rd.Store.RowByIDTx(ctx, tx, entity, r.RoomID, r.ID)
			if err != nil {
				return err
			}
			if !shouldCommit(r, existing) {
				continue
			}
			if err := rd.Store.UpsertRow(ctx, tx, entity, r); err != nil {
				return err
			}
			changes = append(changes, rowmodel.ChangeRecord{Room: r.RoomID, Entity: r.Entity, RowID: r.ID, Origin: rowmodel.OriginRemote})
		}
		return nil
	})
	if err != nil {
		return err
	}
	rd.staged = nil
	for _, c := range changes {
		syncRowsCommitted.Inc()
		rd.publish(eventbus.KindDataChanged, c.Entity)
	}
	return nil
}

// shouldCommit applies the round's conflict policy: last-writer-wins by
// (mdate, author pubkey bytewise — the smaller key wins a tie, for
// consistency with room.Room.AddEpoch's equal-mdate tie-break), with a
// tombstone dominating any later non-tombstone update unconditionally.
func shouldCommit(incoming, existing *rowmodel.Row) bool {
	if existing == nil {
		return true
	}
	if existing.Deleted && !incoming.Deleted {
		return false
	}
	if incoming.MDate != existing.MDate {
		return incoming.MDate > existing.MDate
	}
	return bytes.Compare(incoming.Author, existing.Author) < 0
}

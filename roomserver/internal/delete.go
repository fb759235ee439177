package internal

import (
	"context"
	"crypto/ed25519"
	"database/sql"
	"encoding/hex"
	"fmt"

	"github.com/discretlib/discret-go/errs"
	"github.com/discretlib/discret-go/eventbus"
	"github.com/discretlib/discret-go/planner"
	"github.com/discretlib/discret-go/ql/deletion"
	"github.com/discretlib/discret-go/room"
	"github.com/discretlib/discret-go/rowmodel"
	"github.com/discretlib/discret-go/schema"
)

// Delete executes file's entity-delete blocks inside a single
// transaction, signed by priv: a block with no array_field removals
// tombstones the row it resolves (Deleted = true, re-signed, retaining
// id, room_id, author, mdate, signature, and a deleted marker); a block
// with removals instead drops the named references from the row's
// array-valued fields without tombstoning it. scope bounds the rooms
// searched for each block's id the same way Query bounds projection —
// a caller only ever deletes rows in rooms it already knows the id
// belongs to.
func (x *Executor) Delete(ctx context.Context, file *deletion.File, vars map[string]interface{}, priv ed25519.PrivateKey, version schema.Version, now int64, scope planner.RoomScope) error {
	author := priv.Public().(ed25519.PublicKey)
	authorKey := hex.EncodeToString(author)

	if err := x.ensureDeleteTables(ctx, file.Blocks, version); err != nil {
		return err
	}

	var changes []rowmodel.ChangeRecord
	err := x.Writer.Do(x.Store.DB, func(tx *sql.Tx) error {
		changes = nil
		for _, blk := range file.Blocks {
			blkChanges, err := x.deleteBlock(ctx, tx, blk, vars, priv, authorKey, version, now, scope)
			if err != nil {
				return err
			}
			changes = append(changes, blkChanges...)
		}
		return nil
	})
	if err != nil {
		if errs.KindOf(err) == errs.Unauthorized || errs.KindOf(err) == errs.InvalidSignature {
			x.Rooms.RecordFault(authorKey)
		}
		return err
	}

	for _, c := range changes {
		_ = x.Bus.Publish(eventbus.Event{Kind: eventbus.KindDataChanged, Room: c.Room, Entity: c.Entity, Origin: "local"})
	}
	return nil
}

func (x *Executor) deleteBlock(ctx context.Context, tx *sql.Tx, blk *deletion.EntityDelete, vars map[string]interface{}, priv ed25519.PrivateKey, authorKey string, version schema.Version, now int64, scope planner.RoomScope) ([]rowmodel.ChangeRecord, error) {
	entity, ok := x.Registry.Resolve(blk.Entity, version)
	if !ok {
		return nil, errs.WithKind(fmt.Errorf("unknown entity %s", blk.Entity), errs.SchemaViolation)
	}

	idVal, ok := vars[blk.IDVar]
	if !ok {
		return nil, errs.WithKind(fmt.Errorf("unbound variable $%s", blk.IDVar), errs.Parse)
	}
	id, err := asString(idVal)
	if err != nil {
		return nil, err
	}

	row, roomID, err := x.findRowForDelete(ctx, tx, entity, id, scope)
	if err != nil {
		return nil, err
	}

	allowed, err := x.Rooms.Allowed(authorKey, roomID, entity.Name, room.ActionWrite, now)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, errs.WithKind(fmt.Errorf("%s not authorized to delete %s in room %s", authorKey, entity.Name, roomID), errs.Unauthorized)
	}

	if len(blk.Removals) == 0 {
		row.Deleted = true
		if x.FullText != nil {
			if err := x.FullText.DeleteRow(entity.Name, row.ID); err != nil {
				return nil, err
			}
		}
	} else {
		for _, removal := range blk.Removals {
			fd, ok := entity.Field(removal.Field)
			if !ok {
				return nil, errs.WithKind(fmt.Errorf("unknown field %s on %s", removal.Field, entity.Name), errs.SchemaViolation)
			}
			if !fd.Type.IsArray() {
				return nil, errs.WithKind(fmt.Errorf("field %s is not an array reference", removal.Field), errs.SchemaViolation)
			}
			drop := make(map[string]bool, len(removal.Values))
			for _, v := range removal.Values {
				s, err := resolveString(v, vars)
				if err != nil {
					return nil, err
				}
				drop[s] = true
			}
			fv := row.Fields[removal.Field]
			kept := fv.RefArray[:0:0]
			for _, ref := range fv.RefArray {
				if !drop[ref] {
					kept = append(kept, ref)
				}
			}
			fv.RefArray = kept
			row.Fields[removal.Field] = fv
		}
	}

	row.MDate = now
	if err := x.Signer.Sign(priv, row); err != nil {
		return nil, err
	}
	if err := x.Store.UpsertRow(ctx, tx, entity, row); err != nil {
		return nil, err
	}

	return []rowmodel.ChangeRecord{{Room: roomID, Entity: entity.Name, RowID: row.ID, Origin: rowmodel.OriginLocal}}, nil
}

// findRowForDelete locates id's row among the rooms scope allows,
// since a deletion block names only the id, not its room.
func (x *Executor) findRowForDelete(ctx context.Context, tx *sql.Tx, entity *schema.EntityDecl, id string, scope planner.RoomScope) (*rowmodel.Row, string, error) {
	for _, roomID := range scope.AllowedRooms {
		row, err := x.Store.RowByIDTx(ctx, tx, entity, roomID, id)
		if err != nil {
			return nil, "", err
		}
		if row != nil {
			return row, roomID, nil
		}
	}
	return nil, "", errs.WithKind(fmt.Errorf("%s: no row %s in scope", entity.Name, id), errs.NotFound)
}

// ensureDeleteTables provisions the table for every entity a deletion
// document touches before the write transaction opens, mirroring
// Executor.ensureTables for mutation documents.
func (x *Executor) ensureDeleteTables(ctx context.Context, blocks []*deletion.EntityDelete, version schema.Version) error {
	seen := map[string]bool{}
	for _, blk := range blocks {
		if seen[blk.Entity] {
			continue
		}
		seen[blk.Entity] = true
		entity, ok := x.Registry.Resolve(blk.Entity, version)
		if !ok {
			return errs.WithKind(fmt.Errorf("unknown entity %s", blk.Entity), errs.SchemaViolation)
		}
		if err := x.Store.EnsureEntityTable(ctx, entity); err != nil {
			return err
		}
	}
	return nil
}

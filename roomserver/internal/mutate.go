// Package internal ties the schema registry, row signer, Room
// authorization engine, storage layer and event bus together into the
// two operations a host application drives: executing a mutation and
// executing a query.
package internal

import (
	"context"
	"crypto/ed25519"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/discretlib/discret-go/errs"
	"github.com/discretlib/discret-go/eventbus"
	"github.com/discretlib/discret-go/ql/ast"
	"github.com/discretlib/discret-go/ql/mutation"
	"github.com/discretlib/discret-go/room"
	"github.com/discretlib/discret-go/roomserver/storage"
	"github.com/discretlib/discret-go/rowmodel"
	"github.com/discretlib/discret-go/schema"
	"github.com/discretlib/discret-go/setup/sqlutil"
)

// fieldID, fieldRoomID and fieldMDate name the row-model columns a
// mutation block may assign directly instead of through a declared
// schema field: the id/room_id/mdate columns shared by every entity
// table.
const (
	fieldID     = "id"
	fieldRoomID = "room_id"
	fieldMDate  = "mdate"
)

// Executor runs mutation documents to completion: single transaction,
// nested-write ordering, authorization, signing, and change-record
// publication.
type Executor struct {
	Registry *schema.Registry
	Store    *storage.Store
	Signer   *rowmodel.Signer
	Rooms    *room.Engine
	Bus      *eventbus.Bus
	Writer   *sqlutil.Writer

	// FullText is nil unless the host wires a fulltext.Index, in which
	// case every written row is reflected into it so search(...)
	// queries see it immediately.
	FullText FullTextIndexer
}

// FullTextIndexer is the write-side counterpart of Querier's
// FullTextSearcher: it keeps a full-text index in step with the rows
// the mutation and deletion executors write, without this package
// depending on roomserver/fulltext's bleve types directly.
type FullTextIndexer interface {
	IndexRow(entity, rowID string, fields map[string]string) error
	DeleteRow(entity, rowID string) error
}

// NewExecutor wires an Executor from its dependencies.
func NewExecutor(reg *schema.Registry, store *storage.Store, rooms *room.Engine, bus *eventbus.Bus) *Executor {
	return &Executor{
		Registry: reg,
		Store:    store,
		Signer:   rowmodel.NewSigner(reg),
		Rooms:    rooms,
		Bus:      bus,
		Writer:   sqlutil.NewWriter(),
	}
}

// Mutate executes file's entity blocks inside a single transaction,
// signed by priv, against schema version, and returns each top-level
// block's alias mapped to the row id it was assigned. On any failure
// the whole transaction rolls back and the error reports the first
// offending row and the reason.
func (x *Executor) Mutate(ctx context.Context, file *mutation.File, vars map[string]interface{}, priv ed25519.PrivateKey, version schema.Version, now int64) (map[string]string, error) {
	author := priv.Public().(ed25519.PublicKey)
	authorKey := hex.EncodeToString(author)

	// Provision every entity table the mutation touches before opening
	// the write transaction: EnsureEntityTable issues DDL against the
	// shared *sql.DB connection pool directly, which would deadlock
	// against an in-flight transaction on a single-connection pool, the
	// SQLite single-writer constraint this store runs under.
	if err := x.ensureTables(ctx, file.Blocks, version); err != nil {
		return nil, err
	}

	results := map[string]string{}
	var changes []rowmodel.ChangeRecord

	err := x.Writer.Do(x.Store.DB, func(tx *sql.Tx) error {
		results = map[string]string{}
		changes = nil
		for _, blk := range file.Blocks {
			id, blkChanges, err := x.writeBlock(ctx, tx, blk, vars, priv, authorKey, version, now, "")
			if err != nil {
				return err
			}
			alias := blk.Alias
			if alias == "" {
				alias = blk.Entity
			}
			results[alias] = id
			changes = append(changes, blkChanges...)
		}
		return nil
	})
	if err != nil {
		if errs.KindOf(err) == errs.Unauthorized || errs.KindOf(err) == errs.InvalidSignature {
			x.Rooms.RecordFault(authorKey)
		}
		return nil, err
	}

	for _, c := range changes {
		_ = x.Bus.Publish(eventbus.Event{Kind: eventbus.KindDataChanged, Room: c.Room, Entity: c.Entity, Origin: "local"})
	}
	return results, nil
}

// writeBlock writes blk and its nested blocks (children first, so
// their ids exist before the parent references them), returning the
// written row's id and the change records for it and its descendants.
// inheritedRoom is the enclosing block's room_id, used when blk doesn't
// declare its own.
func (x *Executor) writeBlock(ctx context.Context, tx *sql.Tx, blk *mutation.EntityBlock, vars map[string]interface{}, priv ed25519.PrivateKey, authorKey string, version schema.Version, now int64, inheritedRoom string) (string, []rowmodel.ChangeRecord, error) {
	entity, ok := x.Registry.Resolve(blk.Entity, version)
	if !ok {
		return "", nil, errs.WithKind(fmt.Errorf("unknown entity %s", blk.Entity), errs.SchemaViolation)
	}

	id := uuid.NewString()
	roomID := inheritedRoom
	mdate := now
	fields := map[string]rowmodel.FieldValue{}
	var changes []rowmodel.ChangeRecord

	for _, assign := range blk.Fields {
		switch assign.Field {
		case fieldID:
			v, err := resolveString(assign.Value.Scalar, vars)
			if err != nil {
				return "", nil, err
			}
			id = v
		case fieldRoomID:
			v, err := resolveString(assign.Value.Scalar, vars)
			if err != nil {
				return "", nil, err
			}
			roomID = v
		case fieldMDate:
			v, err := resolveInt(assign.Value.Scalar, vars)
			if err != nil {
				return "", nil, err
			}
			mdate = v
		default:
			fd, ok := entity.Field(assign.Field)
			if !ok {
				return "", nil, errs.WithKind(fmt.Errorf("unknown field %s on %s", assign.Field, entity.Name), errs.SchemaViolation)
			}
			fv, childChanges, err := x.writeFieldValue(ctx, tx, fd, assign.Value, vars, priv, authorKey, version, now, roomID)
			if err != nil {
				return "", nil, err
			}
			fields[assign.Field] = fv
			changes = append(changes, childChanges...)
		}
	}

	if roomID == "" {
		return "", nil, errs.WithKind(fmt.Errorf("%s: no room_id assigned", blk.Entity), errs.SchemaViolation)
	}

	allowed, err := x.Rooms.Allowed(authorKey, roomID, entity.Name, room.ActionWrite, mdate)
	if err != nil {
		return "", nil, err
	}
	if !allowed {
		return "", nil, errs.WithKind(fmt.Errorf("%s not authorized to write %s in room %s", authorKey, entity.Name, roomID), errs.Unauthorized)
	}

	row := &rowmodel.Row{
		ID:            id,
		RoomID:        roomID,
		MDate:         mdate,
		Author:        priv.Public().(ed25519.PublicKey),
		SchemaVersion: version,
		Entity:        entity.Name,
		Fields:        fields,
	}
	if err := x.Signer.Sign(priv, row); err != nil {
		return "", nil, err
	}
	if err := x.Store.UpsertRow(ctx, tx, entity, row); err != nil {
		return "", nil, err
	}
	if x.FullText != nil {
		if err := x.FullText.IndexRow(entity.Name, id, stringFields(fields)); err != nil {
			return "", nil, err
		}
	}

	changes = append(changes, rowmodel.ChangeRecord{Room: roomID, Entity: entity.Name, RowID: id, Origin: rowmodel.OriginLocal})
	return id, changes, nil
}

// stringFields collects fields' string-scalar values, the subset a
// bleve document is built from: search(...) indexes textual content,
// not references or numbers.
func stringFields(fields map[string]rowmodel.FieldValue) map[string]string {
	out := make(map[string]string, len(fields))
	for name, fv := range fields {
		if !fv.Null && fv.Str != "" {
			out[name] = fv.Str
		}
	}
	return out
}

// ensureTables provisions the table for every entity referenced
// anywhere in blocks, including nested blocks, before any write
// transaction opens.
func (x *Executor) ensureTables(ctx context.Context, blocks []*mutation.EntityBlock, version schema.Version) error {
	seen := map[string]bool{}
	var walk func(blocks []*mutation.EntityBlock) error
	walk = func(blocks []*mutation.EntityBlock) error {
		for _, blk := range blocks {
			if !seen[blk.Entity] {
				seen[blk.Entity] = true
				entity, ok := x.Registry.Resolve(blk.Entity, version)
				if !ok {
					return errs.WithKind(fmt.Errorf("unknown entity %s", blk.Entity), errs.SchemaViolation)
				}
				if err := x.Store.EnsureEntityTable(ctx, entity); err != nil {
					return err
				}
			}
			for _, assign := range blk.Fields {
				switch assign.Value.Kind {
				case mutation.ValNested:
					if err := walk([]*mutation.EntityBlock{assign.Value.Nested}); err != nil {
						return err
					}
				case mutation.ValArray:
					if err := walk(assign.Value.Array); err != nil {
						return err
					}
				}
			}
		}
		return nil
	}
	return walk(blocks)
}

func (x *Executor) writeFieldValue(ctx context.Context, tx *sql.Tx, fd schema.FieldDecl, v mutation.FieldValue, vars map[string]interface{}, priv ed25519.PrivateKey, authorKey string, version schema.Version, now int64, roomID string) (rowmodel.FieldValue, []rowmodel.ChangeRecord, error) {
	switch v.Kind {
	case mutation.ValScalar:
		fv, err := scalarFieldValue(fd, v.Scalar, vars)
		return fv, nil, err
	case mutation.ValNested:
		if !fd.Type.IsReference() {
			return rowmodel.FieldValue{}, nil, errs.WithKind(fmt.Errorf("field %s is not a reference", fd.Name), errs.SchemaViolation)
		}
		childID, changes, err := x.writeBlock(ctx, tx, v.Nested, vars, priv, authorKey, version, now, roomID)
		if err != nil {
			return rowmodel.FieldValue{}, nil, err
		}
		return rowmodel.FieldValue{Ref: childID}, changes, nil
	case mutation.ValArray:
		if !fd.Type.IsArray() {
			return rowmodel.FieldValue{}, nil, errs.WithKind(fmt.Errorf("field %s is not an array reference", fd.Name), errs.SchemaViolation)
		}
		var ids []string
		var changes []rowmodel.ChangeRecord
		for _, blk := range v.Array {
			childID, childChanges, err := x.writeBlock(ctx, tx, blk, vars, priv, authorKey, version, now, roomID)
			if err != nil {
				return rowmodel.FieldValue{}, nil, err
			}
			ids = append(ids, childID)
			changes = append(changes, childChanges...)
		}
		return rowmodel.FieldValue{RefArray: ids}, changes, nil
	default:
		return rowmodel.FieldValue{}, nil, errs.WithKind(fmt.Errorf("field %s: unhandled value kind", fd.Name), errs.Internal)
	}
}

func scalarFieldValue(fd schema.FieldDecl, v ast.Value, vars map[string]interface{}) (rowmodel.FieldValue, error) {
	resolved, err := resolveValue(v, vars)
	if err != nil {
		return rowmodel.FieldValue{}, err
	}
	if resolved == nil {
		if !fd.Type.Nullable {
			return rowmodel.FieldValue{}, errs.WithKind(fmt.Errorf("field %s is not nullable", fd.Name), errs.SchemaViolation)
		}
		return rowmodel.FieldValue{Null: true}, nil
	}
	switch fd.Type.Scalar {
	case ast.Integer:
		n, err := asInt64(resolved)
		return rowmodel.FieldValue{Int: n}, err
	case ast.Float:
		f, err := asFloat64(resolved)
		return rowmodel.FieldValue{Float: f}, err
	case ast.Boolean:
		b, err := asBool(resolved)
		return rowmodel.FieldValue{Bool: b}, err
	case ast.Base64:
		s, err := asString(resolved)
		return rowmodel.FieldValue{Bytes: []byte(s)}, err
	case ast.Json:
		s, err := asString(resolved)
		return rowmodel.FieldValue{JSON: s}, err
	default:
		s, err := asString(resolved)
		return rowmodel.FieldValue{Str: s}, err
	}
}

func resolveValue(v ast.Value, vars map[string]interface{}) (interface{}, error) {
	if v.IsVariable() {
		val, ok := vars[v.VarName]
		if !ok {
			return nil, errs.WithKind(fmt.Errorf("unbound variable $%s", v.VarName), errs.Parse)
		}
		return val, nil
	}
	if v.Lit == nil {
		return nil, errs.WithKind(fmt.Errorf("empty value"), errs.Internal)
	}
	switch v.Lit.Kind {
	case ast.LitString:
		return v.Lit.Str, nil
	case ast.LitNumber:
		return v.Lit.Num, nil
	case ast.LitBool:
		return v.Lit.Bool, nil
	case ast.LitNull:
		return nil, nil
	default:
		return nil, errs.WithKind(fmt.Errorf("unsupported literal kind"), errs.Internal)
	}
}

func resolveString(v ast.Value, vars map[string]interface{}) (string, error) {
	resolved, err := resolveValue(v, vars)
	if err != nil {
		return "", err
	}
	return asString(resolved)
}

func resolveInt(v ast.Value, vars map[string]interface{}) (int64, error) {
	resolved, err := resolveValue(v, vars)
	if err != nil {
		return 0, err
	}
	return asInt64(resolved)
}

func asString(v interface{}) (string, error) {
	switch s := v.(type) {
	case string:
		return s, nil
	default:
		return "", errs.WithKind(fmt.Errorf("expected a string, got %T", v), errs.Parse)
	}
}

func asInt64(v interface{}) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case float64:
		return int64(n), nil
	default:
		return 0, errs.WithKind(fmt.Errorf("expected a number, got %T", v), errs.Parse)
	}
}

func asFloat64(v interface{}) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case int64:
		return float64(n), nil
	case int:
		return float64(n), nil
	default:
		return 0, errs.WithKind(fmt.Errorf("expected a number, got %T", v), errs.Parse)
	}
}

func asBool(v interface{}) (bool, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	default:
		return false, errs.WithKind(fmt.Errorf("expected a bool, got %T", v), errs.Parse)
	}
}

// Now returns the current time in the author-asserted mdate unit
// (milliseconds since epoch).
func Now() int64 { return time.Now().UnixMilli() }

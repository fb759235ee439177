// Package storage provisions the embedded relational store's schema —
// declaring a new entity provisions a table with the row-model columns
// plus the declared fields — and the reserved system tables for Rooms,
// membership, invitations, peer cursors, and schema history. The
// driver-specific sqlite3/postgres packages embed *storage.Store and
// add their own connection opening.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/discretlib/discret-go/ql/ast"
	"github.com/discretlib/discret-go/ql/datamodel"
	"github.com/discretlib/discret-go/schema"
)

// Store is the driver-agnostic half of the storage layer: schema DDL,
// reserved system tables, and the generic row CRUD every entity table
// shares. sqlite3/postgres packages supply the *sql.DB and dialect
// quirks (placeholder style, autoincrement primary key) via Dialect.
type Store struct {
	DB      *sql.DB
	Dialect Dialect
}

// Dialect isolates the handful of places sqlite3 and postgres differ:
// positional-parameter spelling and the autoincrement primary-key
// column type.
type Dialect interface {
	Placeholder(pos int) string
	AutoIncrementPK() string
}

const systemTablesDDL = `
CREATE TABLE IF NOT EXISTS discret_rooms (
	room_id TEXT PRIMARY KEY,
	creator TEXT NOT NULL,
	is_private INTEGER NOT NULL DEFAULT 0,
	owner TEXT
);

CREATE TABLE IF NOT EXISTS discret_room_epochs (
	room_id TEXT NOT NULL REFERENCES discret_rooms(room_id),
	start_mdate BIGINT NOT NULL,
	authored_by TEXT NOT NULL,
	members_json TEXT NOT NULL,
	PRIMARY KEY (room_id, start_mdate)
);

CREATE TABLE IF NOT EXISTS discret_invitations (
	token_id TEXT PRIMARY KEY,
	room_id TEXT NOT NULL,
	role INTEGER NOT NULL,
	issuer TEXT NOT NULL,
	invitee_commitment TEXT NOT NULL,
	expiry BIGINT NOT NULL,
	nonce TEXT NOT NULL,
	signature BLOB NOT NULL,
	accepted INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS discret_peer_cursors (
	peer_key TEXT NOT NULL,
	room_id TEXT NOT NULL,
	author TEXT NOT NULL,
	mdate BIGINT NOT NULL,
	row_id TEXT NOT NULL,
	PRIMARY KEY (peer_key, room_id, author)
);

CREATE TABLE IF NOT EXISTS discret_schema_history (
	version INTEGER PRIMARY KEY,
	dsl TEXT NOT NULL,
	applied_at BIGINT NOT NULL
);
`

// Open runs the reserved system table DDL. Entity tables are
// provisioned lazily via EnsureEntityTable as the schema registry
// accepts new declarations.
func Open(db *sql.DB, dialect Dialect) (*Store, error) {
	if _, err := db.Exec(systemTablesDDL); err != nil {
		return nil, fmt.Errorf("provision system tables: %w", err)
	}
	return &Store{DB: db, Dialect: dialect}, nil
}

// EnsureEntityTable creates the table backing entity if it does not
// exist yet, with the row-model columns plus one column per declared
// field, and one composite index per declared `index(...)` clause. An
// existing table is not altered: fields added by a later schema version
// get no column here.
func (s *Store) EnsureEntityTable(ctx context.Context, entity *schema.EntityDecl) error {
	table := TableName(entity.Name)
	var sb strings.Builder
	fmt.Fprintf(&sb, "CREATE TABLE IF NOT EXISTS %s (\n", table)
	sb.WriteString("\tid TEXT PRIMARY KEY,\n")
	sb.WriteString("\troom_id TEXT NOT NULL,\n")
	sb.WriteString("\tmdate BIGINT NOT NULL,\n")
	sb.WriteString("\tauthor BLOB NOT NULL,\n")
	sb.WriteString("\tsignature BLOB NOT NULL,\n")
	sb.WriteString("\tschema_version INTEGER NOT NULL,\n")
	sb.WriteString("\tdeleted INTEGER NOT NULL DEFAULT 0")
	for _, f := range entity.Fields {
		sb.WriteString(",\n\t")
		sb.WriteString(columnDDL(f))
	}
	sb.WriteString("\n);\n")
	fmt.Fprintf(&sb, "CREATE INDEX IF NOT EXISTS %s_room_idx ON %s(room_id, mdate, id);\n", table, table)

	for i, idx := range entity.Indices {
		fmt.Fprintf(&sb, "CREATE INDEX IF NOT EXISTS %s_idx_%d ON %s(%s);\n", table, i, table, strings.Join(idx.Columns, ", "))
	}

	if _, err := s.DB.ExecContext(ctx, sb.String()); err != nil {
		return fmt.Errorf("provision table %s: %w", table, err)
	}
	return nil
}

func columnDDL(f schema.FieldDecl) string {
	return f.Name + " " + sqlType(f.Type)
}

// sqlType picks the storage column type for a declared field:
// JSON-typed fields are stored as opaque strings and queried via the
// JSON selector grammar; references and array-of-reference fields
// likewise store their referent id(s) as text.
func sqlType(ft datamodel.FieldType) string {
	switch {
	case ft.IsReference():
		return "TEXT"
	case ft.IsArray():
		return "TEXT" // JSON-encoded array of referent ids
	default:
		return scalarColumnType(ft.Scalar)
	}
}

func scalarColumnType(scalar ast.ScalarType) string {
	switch scalar {
	case ast.Integer:
		return "BIGINT"
	case ast.Float:
		return "DOUBLE PRECISION"
	case ast.Boolean:
		return "INTEGER"
	case ast.Base64:
		return "BLOB"
	default: // String, Json
		return "TEXT"
	}
}

// TableName is the storage-layer table name for a declared entity.
func TableName(entity string) string {
	return "entity_" + strings.ReplaceAll(entity, ".", "_")
}

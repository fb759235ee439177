// Package rowmodel implements the signed row: canonical encoding,
// ed25519 signing and ingress verification, and the change records the
// mutation executor and sync protocol emit to the event bus.
package rowmodel

import (
	"crypto/ed25519"

	"github.com/discretlib/discret-go/schema"
)

// FieldValue is a row's value for one declared field: exactly one of the
// accessors below is meaningful, selected by the field's declared type
// in the schema: one of six scalar kinds, or a single or array entity
// reference. Null is true for an explicit SQL NULL.
type FieldValue struct {
	Null     bool
	Int      int64
	Float    float64
	Bool     bool
	Str      string
	Bytes    []byte   // Base64 scalar: decoded raw bytes
	JSON     string   // Json scalar: JSON text, minimized by MinimizeJSON when canonically encoded
	Ref      string   // single entity reference: referent row id
	RefArray []string // array-of-reference: referent row ids
}

// Row is one instance of a declared entity.
type Row struct {
	ID            string
	RoomID        string
	MDate         int64 // author-asserted modification time, milliseconds
	Author        ed25519.PublicKey
	Signature     []byte
	SchemaVersion schema.Version
	Entity        string
	Fields        map[string]FieldValue
	Deleted       bool // true for a tombstone
}

// Key is the (room_id, id) pair that is globally unique.
type Key struct {
	RoomID string
	ID     string
}

func (r *Row) Key() Key { return Key{RoomID: r.RoomID, ID: r.ID} }

// Less implements the paging total order (mdate, id).
func (r *Row) Less(other *Row) bool {
	if r.MDate != other.MDate {
		return r.MDate < other.MDate
	}
	return r.ID < other.ID
}

// Origin distinguishes a locally authored row/change from one that
// arrived via sync.
type Origin int

const (
	OriginLocal Origin = iota
	OriginRemote
)

// ChangeRecord is emitted to the event bus for every committed write,
// local or remote.
type ChangeRecord struct {
	Room   string
	Entity string
	RowID  string
	Origin Origin
}

package syncproto

import (
	"crypto/ed25519"
	"encoding/json"
	"hash/fnv"

	"github.com/discretlib/discret-go/rowmodel"
	"github.com/discretlib/discret-go/schema"
)

// wireFieldValue is rowmodel.FieldValue's transit shape, kept separate
// from the domain type rather than adding json tags to it directly.
type wireFieldValue struct {
	Null     bool     `json:"null,omitempty"`
	Int      int64    `json:"int,omitempty"`
	Float    float64  `json:"float,omitempty"`
	Bool     bool     `json:"bool,omitempty"`
	Str      string   `json:"str,omitempty"`
	Bytes    []byte   `json:"bytes,omitempty"`
	JSON     string   `json:"json,omitempty"`
	Ref      string   `json:"ref,omitempty"`
	RefArray []string `json:"ref_array,omitempty"`
}

type wireRow struct {
	ID            string                    `json:"id"`
	RoomID        string                    `json:"room_id"`
	MDate         int64                     `json:"mdate"`
	Author        []byte                    `json:"author"`
	Signature     []byte                    `json:"signature"`
	SchemaVersion schema.Version            `json:"schema_version"`
	Entity        string                    `json:"entity"`
	Fields        map[string]wireFieldValue `json:"fields"`
	Deleted       bool                      `json:"deleted"`
}

// EncodeRow serializes r for the Transfer step's RowFrame.Signed
// payload.
func EncodeRow(r *rowmodel.Row) ([]byte, error) {
	w := wireRow{
		ID: r.ID, RoomID: r.RoomID, MDate: r.MDate,
		Author: []byte(r.Author), Signature: r.Signature,
		SchemaVersion: r.SchemaVersion, Entity: r.Entity, Deleted: r.Deleted,
		Fields: make(map[string]wireFieldValue, len(r.Fields)),
	}
	for name, fv := range r.Fields {
		w.Fields[name] = wireFieldValue{
			Null: fv.Null, Int: fv.Int, Float: fv.Float, Bool: fv.Bool,
			Str: fv.Str, Bytes: fv.Bytes, JSON: fv.JSON,
			Ref: fv.Ref, RefArray: fv.RefArray,
		}
	}
	return json.Marshal(w)
}

// DecodeRow is EncodeRow's inverse; the receiver still must run it
// through rowmodel.Signer.Verify before trusting it.
func DecodeRow(b []byte) (*rowmodel.Row, error) {
	var w wireRow
	if err := json.Unmarshal(b, &w); err != nil {
		return nil, err
	}
	r := &rowmodel.Row{
		ID: w.ID, RoomID: w.RoomID, MDate: w.MDate,
		Author: ed25519.PublicKey(w.Author), Signature: w.Signature,
		SchemaVersion: w.SchemaVersion, Entity: w.Entity, Deleted: w.Deleted,
		Fields: make(map[string]rowmodel.FieldValue, len(w.Fields)),
	}
	for name, fv := range w.Fields {
		r.Fields[name] = rowmodel.FieldValue{
			Null: fv.Null, Int: fv.Int, Float: fv.Float, Bool: fv.Bool,
			Str: fv.Str, Bytes: fv.Bytes, JSON: fv.JSON,
			Ref: fv.Ref, RefArray: fv.RefArray,
		}
	}
	return r, nil
}

// rowDigest is the short signature-derived digest an Advertise entry
// carries so the receiver can detect divergence on an id it already
// holds without transferring the full row.
func rowDigest(r *rowmodel.Row) uint64 {
	h := fnv.New64a()
	h.Write(r.Signature)
	return h.Sum64()
}

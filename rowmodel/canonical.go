package rowmodel

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/discretlib/discret-go/ql/ast"
	"github.com/discretlib/discret-go/schema"
)

// domainTag prefixes every canonical encoding, followed by the schema
// version, so a signature can never be replayed across unrelated
// protocols/applications that happen to share a key.
const domainTag = "discret-row-v1"

const (
	tagNull byte = iota
	tagInt
	tagFloat
	tagBool
	tagString
	tagBytes
	tagJSON
	tagRef
	tagRefArray
)

// CanonicalEncode produces the deterministic byte layout that is signed
// and verified: domain tag, schema version, entity name, id, room_id,
// mdate, author, then each declared field in schema order.
func CanonicalEncode(entity *schema.EntityDecl, r *Row) ([]byte, error) {
	var buf []byte
	buf = appendLenPrefixed(buf, []byte(domainTag))
	buf = appendUint64(buf, uint64(r.SchemaVersion))
	buf = appendLenPrefixed(buf, []byte(r.Entity))
	buf = appendLenPrefixed(buf, []byte(r.ID))
	buf = appendLenPrefixed(buf, []byte(r.RoomID))
	buf = appendInt64(buf, r.MDate)
	buf = appendLenPrefixed(buf, r.Author)
	buf = append(buf, boolByte(r.Deleted))

	for _, fd := range entity.Fields {
		v, ok := r.Fields[fd.Name]
		if !ok {
			v = FieldValue{Null: true}
		}
		encoded, err := encodeField(fd, v)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", fd.Name, err)
		}
		buf = append(buf, encoded...)
	}
	return buf, nil
}

func encodeField(fd schema.FieldDecl, v FieldValue) ([]byte, error) {
	if v.Null {
		if !fd.Type.Nullable && fd.Type.Default == nil {
			return nil, fmt.Errorf("non-nullable field is null")
		}
		return []byte{tagNull}, nil
	}
	switch {
	case fd.Type.IsScalar():
		return encodeScalar(fd.Type.Scalar, v)
	case fd.Type.IsReference():
		buf := []byte{tagRef}
		buf = appendLenPrefixed(buf, []byte(v.Ref))
		return buf, nil
	case fd.Type.IsArray():
		buf := []byte{tagRefArray}
		buf = appendUint64(buf, uint64(len(v.RefArray)))
		ids := append([]string(nil), v.RefArray...)
		sort.Strings(ids) // order in an array-of-reference is not semantically ordered for signing purposes
		for _, id := range ids {
			buf = appendLenPrefixed(buf, []byte(id))
		}
		return buf, nil
	default:
		return nil, fmt.Errorf("field has no declared type")
	}
}

func encodeScalar(scalar ast.ScalarType, v FieldValue) ([]byte, error) {
	switch scalar {
	case ast.Integer:
		buf := []byte{tagInt}
		return appendInt64(buf, v.Int), nil
	case ast.Float:
		buf := []byte{tagFloat}
		return appendUint64(buf, math.Float64bits(v.Float)), nil
	case ast.Boolean:
		return []byte{tagBool, boolByte(v.Bool)}, nil
	case ast.String:
		buf := []byte{tagString}
		return appendLenPrefixed(buf, []byte(v.Str)), nil
	case ast.Base64:
		buf := []byte{tagBytes}
		return appendLenPrefixed(buf, v.Bytes), nil
	case ast.Json:
		minimized, err := MinimizeJSON(v.JSON)
		if err != nil {
			return nil, err
		}
		buf := []byte{tagJSON}
		return appendLenPrefixed(buf, []byte(minimized)), nil
	default:
		return nil, fmt.Errorf("unknown scalar type %s", scalar)
	}
}

// MinimizeJSON canonicalizes a Json-scalar value to a stable textual
// form so two semantically-equal documents encode identically: the
// value is decoded and re-encoded with encoding/json, which drops
// insignificant whitespace and writes object keys in sorted order.
// Numbers keep their original text.
func MinimizeJSON(raw string) (string, error) {
	if raw == "" {
		return "null", nil
	}
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return "", fmt.Errorf("minimize json: %w", err)
	}
	out, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("minimize json: %w", err)
	}
	return string(out), nil
}

func appendLenPrefixed(buf []byte, b []byte) []byte {
	buf = appendUint64(buf, uint64(len(b)))
	return append(buf, b...)
}

func appendUint64(buf []byte, v uint64) []byte {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendInt64(buf []byte, v int64) []byte {
	return appendUint64(buf, uint64(v))
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

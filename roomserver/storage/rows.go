package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/discretlib/discret-go/ql/ast"
	"github.com/discretlib/discret-go/rowmodel"
	"github.com/discretlib/discret-go/schema"
)

// UpsertRow writes r into entity's table inside txn, replacing any
// existing row with the same id. Both mutation commits and sync's
// staged-row commits share this path.
func (s *Store) UpsertRow(ctx context.Context, txn *sql.Tx, entity *schema.EntityDecl, r *rowmodel.Row) error {
	table := TableName(entity.Name)
	cols := []string{"id", "room_id", "mdate", "author", "signature", "schema_version", "deleted"}
	vals := []interface{}{r.ID, r.RoomID, r.MDate, []byte(r.Author), r.Signature, int64(r.SchemaVersion), boolInt(r.Deleted)}

	for _, f := range entity.Fields {
		v, err := columnValue(f, r.Fields[f.Name])
		if err != nil {
			return fmt.Errorf("field %s: %w", f.Name, err)
		}
		cols = append(cols, f.Name)
		vals = append(vals, v)
	}

	// Delete-then-insert rather than a dialect-specific upsert keyword
	// (SQLite's "INSERT OR REPLACE" has no Postgres equivalent without
	// an ON CONFLICT clause naming every column) keeps one code path for
	// both drivers.
	if _, err := txn.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = %s", table, s.Dialect.Placeholder(1)), r.ID); err != nil {
		return fmt.Errorf("replace %s: %w", table, err)
	}

	placeholders := ""
	for i := range cols {
		if i > 0 {
			placeholders += ", "
		}
		placeholders += s.Dialect.Placeholder(i + 1)
	}
	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, joinComma(cols), placeholders)
	_, err := txn.ExecContext(ctx, stmt, vals...)
	return err
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func joinComma(cols []string) string {
	out := cols[0]
	for _, c := range cols[1:] {
		out += ", " + c
	}
	return out
}

func columnValue(f schema.FieldDecl, v rowmodel.FieldValue) (interface{}, error) {
	if v.Null {
		return nil, nil
	}
	switch {
	case f.Type.IsReference():
		return v.Ref, nil
	case f.Type.IsArray():
		b, err := json.Marshal(v.RefArray)
		if err != nil {
			return nil, err
		}
		return string(b), nil
	default:
		switch f.Type.Scalar {
		case ast.Integer:
			return v.Int, nil
		case ast.Float:
			return v.Float, nil
		case ast.Boolean:
			return boolInt(v.Bool), nil
		case ast.Base64:
			return v.Bytes, nil
		case ast.Json:
			return v.JSON, nil
		default:
			return v.Str, nil
		}
	}
}

// QueryRows runs a planner-lowered SQL statement and scans each result
// row back into a rowmodel.Row, for the executor's projection pass.
func (s *Store) QueryRows(ctx context.Context, entity *schema.EntityDecl, sqlText string, args []interface{}) ([]*rowmodel.Row, error) {
	rows, err := s.DB.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", entity.Name, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []*rowmodel.Row
	for rows.Next() {
		scanned := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range scanned {
			ptrs[i] = &scanned[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		r, err := scanRow(entity, cols, scanned)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanRow(entity *schema.EntityDecl, cols []string, vals []interface{}) (*rowmodel.Row, error) {
	byName := make(map[string]interface{}, len(cols))
	for i, c := range cols {
		byName[c] = vals[i]
	}

	r := &rowmodel.Row{Entity: entity.Name, Fields: map[string]rowmodel.FieldValue{}}
	if v, ok := byName["id"].(string); ok {
		r.ID = v
	}
	if v, ok := byName["room_id"].(string); ok {
		r.RoomID = v
	}
	r.MDate = toInt64(byName["mdate"])
	if v, ok := byName["author"].([]byte); ok {
		r.Author = append([]byte(nil), v...)
	}
	if v, ok := byName["signature"].([]byte); ok {
		r.Signature = append([]byte(nil), v...)
	}
	r.SchemaVersion = schema.Version(toInt64(byName["schema_version"]))
	r.Deleted = toInt64(byName["deleted"]) != 0

	for _, f := range entity.Fields {
		raw, present := byName[f.Name]
		if !present || raw == nil {
			r.Fields[f.Name] = rowmodel.FieldValue{Null: true}
			continue
		}
		fv, err := fieldValueFromColumn(f, raw)
		if err != nil {
			return nil, err
		}
		r.Fields[f.Name] = fv
	}
	return r, nil
}

func fieldValueFromColumn(f schema.FieldDecl, raw interface{}) (rowmodel.FieldValue, error) {
	switch {
	case f.Type.IsReference():
		return rowmodel.FieldValue{Ref: toString(raw)}, nil
	case f.Type.IsArray():
		var ids []string
		if err := json.Unmarshal([]byte(toString(raw)), &ids); err != nil {
			return rowmodel.FieldValue{}, err
		}
		return rowmodel.FieldValue{RefArray: ids}, nil
	default:
		switch f.Type.Scalar {
		case ast.Integer:
			return rowmodel.FieldValue{Int: toInt64(raw)}, nil
		case ast.Float:
			return rowmodel.FieldValue{Float: toFloat64(raw)}, nil
		case ast.Boolean:
			return rowmodel.FieldValue{Bool: toInt64(raw) != 0}, nil
		case ast.Base64:
			if b, ok := raw.([]byte); ok {
				return rowmodel.FieldValue{Bytes: b}, nil
			}
			return rowmodel.FieldValue{}, nil
		case ast.Json:
			return rowmodel.FieldValue{JSON: toString(raw)}, nil
		default:
			return rowmodel.FieldValue{Str: toString(raw)}, nil
		}
	}
}

func toInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}

func toFloat64(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	default:
		return 0
	}
}

func toString(v interface{}) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	default:
		return ""
	}
}

package planner

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/discretlib/discret-go/errs"
	"github.com/discretlib/discret-go/ql/ast"
	"github.com/discretlib/discret-go/ql/query"
	"github.com/discretlib/discret-go/schema"
)

// Lower resolves one query.EntitySubQuery against reg at version and
// produces its EntityPlan, recursing into nested sub-queries. vars
// resolves `$name` references; scope supplies the Room restriction for
// top-level entities (nested sub-queries inherit their parent row's
// room_id via the join/second-pass key instead).
func Lower(reg *schema.Registry, version schema.Version, sub *query.EntitySubQuery, vars map[string]interface{}, scope RoomScope) (*EntityPlan, error) {
	entity, ok := reg.Resolve(sub.Entity, version)
	if !ok {
		return nil, errs.WithKind(fmt.Errorf("unknown entity %s", sub.Entity), errs.SchemaViolation)
	}

	alias := sub.Alias
	if alias == "" {
		alias = sub.Entity
	}
	plan := &EntityPlan{Entity: sub.Entity, Alias: alias, Table: tableName(sub.Entity)}

	orderKeys, err := resolveOrderBy(sub.Params)
	if err != nil {
		return nil, err
	}
	plan.OrderKeys = orderKeys

	var where []string
	var args []interface{}

	switch {
	case scope.SkipRoomFilter:
		// nested sub-query: room scoping is implied by the parent row's
		// reference and applied by the executor via WithIDFilter.
	case scope.ExplicitRoomID != "":
		where = append(where, "room_id = ?")
		args = append(args, scope.ExplicitRoomID)
	case len(scope.AllowedRooms) > 0:
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(scope.AllowedRooms)), ",")
		where = append(where, "room_id IN ("+placeholders+")")
		for _, r := range scope.AllowedRooms {
			args = append(args, r)
		}
	default:
		return nil, errs.WithKind(fmt.Errorf("no room scope available for %s", sub.Entity), errs.Unauthorized)
	}
	where = append(where, "deleted = 0")

	for _, f := range sub.Params.Filters {
		clause, fargs, err := lowerFilter(entity, f, vars)
		if err != nil {
			return nil, err
		}
		where = append(where, clause)
		args = append(args, fargs...)
	}

	if sub.Params.Search != nil {
		plan.RequiresFullText = true
		plan.FullTextTerm = *sub.Params.Search
	}

	if len(sub.Params.Before) > 0 && len(sub.Params.After) > 0 {
		return nil, errs.WithKind(fmt.Errorf("%s: before and after are mutually exclusive", sub.Entity), errs.Parse)
	}
	if cursor := sub.Params.Before; len(cursor) > 0 {
		clause, cargs, err := cursorPredicate(orderKeys, cursor, vars, true)
		if err != nil {
			return nil, err
		}
		where = append(where, clause)
		args = append(args, cargs...)
	}
	if cursor := sub.Params.After; len(cursor) > 0 {
		clause, cargs, err := cursorPredicate(orderKeys, cursor, vars, false)
		if err != nil {
			return nil, err
		}
		where = append(where, clause)
		args = append(args, cargs...)
	}

	projections, nestedDeferred, err := lowerProjections(reg, version, sub, vars)
	if err != nil {
		return nil, err
	}
	plan.Projections = projections
	plan.NestedDeferred = nestedDeferred

	var sb strings.Builder
	sb.WriteString("SELECT * FROM ")
	sb.WriteString(plan.Table)
	sb.WriteString(" WHERE ")
	sb.WriteString(strings.Join(where, " AND "))
	if len(orderKeys) > 0 {
		sb.WriteString(" ORDER BY ")
		parts := make([]string, len(orderKeys))
		for i, k := range orderKeys {
			dir := "ASC"
			if k.Desc {
				dir = "DESC"
			}
			parts[i] = k.Column + " " + dir
		}
		sb.WriteString(strings.Join(parts, ", "))
	}
	if sub.Params.First != nil {
		n, err := resolveInt(*sub.Params.First, vars)
		if err != nil {
			return nil, err
		}
		sb.WriteString(fmt.Sprintf(" LIMIT %d", n))
	}
	if sub.Params.Skip != nil {
		n, err := resolveInt(*sub.Params.Skip, vars)
		if err != nil {
			return nil, err
		}
		sb.WriteString(fmt.Sprintf(" OFFSET %d", n))
	}

	plan.SQL = sb.String()
	plan.Args = args
	return plan, nil
}

// resolveOrderBy handles the order_by/first interaction: order_by
// defaults to (mdate asc, id asc) when entirely unspecified, but a bare
// `first` without an explicit order_by is rejected since paging over
// an unstated order is nondeterministic.
func resolveOrderBy(p query.Params) ([]OrderKey, error) {
	if len(p.OrderBy) == 0 {
		if p.First != nil {
			return nil, errs.WithKind(fmt.Errorf("first requires an explicit order_by"), errs.Parse)
		}
		return []OrderKey{{Column: "mdate"}, {Column: "id"}}, nil
	}
	keys := make([]OrderKey, len(p.OrderBy))
	for i, k := range p.OrderBy {
		keys[i] = OrderKey{Column: columnName(k.Field), Desc: k.Desc}
	}
	return keys, nil
}

func lowerFilter(entity *schema.EntityDecl, f query.Filter, vars map[string]interface{}) (string, []interface{}, error) {
	rhs, err := resolveValue(f.RHS, vars)
	if err != nil {
		return "", nil, err
	}
	if f.JSONPath != "" {
		return fmt.Sprintf("json_extract(%s, '%s') %s ?", columnName(f.Field), sqliteJSONPath(f.JSONPath), f.Op), []interface{}{rhs}, nil
	}
	if _, ok := entity.Field(f.Field); !ok && f.Field != "room_id" && f.Field != "id" && f.Field != "author" && f.Field != "mdate" {
		return "", nil, errs.WithKind(fmt.Errorf("unknown field %s on %s", f.Field, entity.Name), errs.SchemaViolation)
	}
	return fmt.Sprintf("%s %s ?", columnName(f.Field), f.Op), []interface{}{rhs}, nil
}

// cursorPredicate builds the full composite-order `before`/`after`
// comparison, interpreted against the entire composite order rather
// than just the first key, as a chain of "greater on this key, or
// equal on all prior keys and greater on the next" OR-clauses — the
// idiomatic SQLite expansion of a tuple comparison, which SQLite's
// row-value syntax does not support across all target versions.
func cursorPredicate(order []OrderKey, cursor []ast.Value, vars map[string]interface{}, before bool) (string, []interface{}, error) {
	if len(cursor) != len(order) {
		return "", nil, errs.WithKind(fmt.Errorf("cursor has %d values, order_by has %d keys", len(cursor), len(order)), errs.Parse)
	}
	values := make([]interface{}, len(cursor))
	for i, v := range cursor {
		resolved, err := resolveValue(v, vars)
		if err != nil {
			return "", nil, err
		}
		values[i] = resolved
	}

	var clauses []string
	var args []interface{}
	for i := range order {
		var parts []string
		for j := 0; j < i; j++ {
			parts = append(parts, order[j].Column+" = ?")
			args = append(args, values[j])
		}
		op := strictOp(order[i].Desc, before)
		parts = append(parts, order[i].Column+" "+op+" ?")
		args = append(args, values[i])
		clauses = append(clauses, "("+strings.Join(parts, " AND ")+")")
	}
	return "(" + strings.Join(clauses, " OR ") + ")", args, nil
}

func strictOp(keyDesc, before bool) string {
	wantLess := before != keyDesc // before wants smaller values unless the key itself sorts descending
	if wantLess {
		return "<"
	}
	return ">"
}

func lowerProjections(reg *schema.Registry, version schema.Version, sub *query.EntitySubQuery, vars map[string]interface{}) ([]*Projection, []*Projection, error) {
	nullable := make(map[string]bool, len(sub.Params.NullableOK))
	for _, f := range sub.Params.NullableOK {
		nullable[f] = true
	}

	var projections []*Projection
	var deferred []*Projection
	hasAgg, hasPlain := false, false

	for _, f := range sub.Fields {
		switch f.Kind {
		case query.ProjAggregate:
			hasAgg = true
			projections = append(projections, &Projection{Alias: aliasOrColumn(f), Kind: ProjAggregate, Column: columnName(f.Column), Agg: f.Agg})
		case query.ProjJSON:
			path := f.JSONPath
			if f.ArrayIndex != nil {
				path = fmt.Sprintf("$[%d]", *f.ArrayIndex)
			}
			projections = append(projections, &Projection{Alias: aliasOrColumn(f), Kind: ProjJSON, Column: columnName(f.Column), JSONPath: sqliteJSONPath(path), Nullable: nullable[f.Alias]})
		case query.ProjNested:
			childPlan, err := Lower(reg, version, f.Nested, vars, RoomScope{SkipRoomFilter: true})
			if err != nil {
				return nil, nil, err
			}
			proj := &Projection{Alias: aliasOrColumn(f), Kind: ProjNested, Nested: childPlan}
			projections = append(projections, proj)
			if hasChildPaging(f.Nested.Params) {
				deferred = append(deferred, proj)
			}
		case query.ProjPlain:
			hasPlain = true
			projections = append(projections, &Projection{Alias: aliasOrColumn(f), Kind: ProjPlain, Column: columnName(f.Column), Nullable: nullable[f.Alias]})
		}
	}

	if hasAgg && hasPlain {
		return nil, nil, errs.WithKind(fmt.Errorf("%s: aggregate and non-aggregate projections cannot be mixed at the same level", sub.Entity), errs.SchemaViolation)
	}
	return projections, deferred, nil
}

func hasChildPaging(p query.Params) bool {
	return p.First != nil || p.Skip != nil || len(p.Before) > 0 || len(p.After) > 0
}

func aliasOrColumn(f *query.ProjField) string {
	if f.Alias != "" {
		return f.Alias
	}
	if f.Nested != nil {
		return f.Nested.Entity
	}
	return f.Column
}

func resolveValue(v ast.Value, vars map[string]interface{}) (interface{}, error) {
	if v.IsVariable() {
		val, ok := vars[v.VarName]
		if !ok {
			return nil, errs.WithKind(fmt.Errorf("unbound variable $%s", v.VarName), errs.Parse)
		}
		return val, nil
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

func resolveInt(v ast.Value, vars map[string]interface{}) (int64, error) {
	resolved, err := resolveValue(v, vars)
	if err != nil {
		return 0, err
	}
	switch n := resolved.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case float64:
		return int64(n), nil
	case string:
		parsed, err := strconv.ParseInt(n, 10, 64)
		if err != nil {
			return 0, errs.WithKind(fmt.Errorf("not an integer: %q", n), errs.Parse)
		}
		return parsed, nil
	default:
		return 0, errs.WithKind(fmt.Errorf("not an integer"), errs.Parse)
	}
}

// columnName maps a declared field name to its storage column; id,
// room_id, mdate and author are the row-model columns shared by every
// entity table.
func columnName(field string) string {
	return field
}

func tableName(entity string) string {
	return "entity_" + strings.ReplaceAll(entity, ".", "_")
}

// sqliteJSONPath normalizes the grammar's `$.a.b[2]` selector form to
// SQLite's json_extract path syntax, which is identical except that a
// bare root without a leading `$` is also accepted by the grammar for
// the `->N` array-index shorthand.
func sqliteJSONPath(path string) string {
	if strings.HasPrefix(path, "$") {
		return path
	}
	return "$" + path
}

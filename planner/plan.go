// Package planner lowers a parsed query AST (ql/query) against the
// schema registry into parameterized SQL plus a projection tree the
// result assembler walks to nest rows back into entity hierarchies.
package planner

import (
	"strings"

	"github.com/discretlib/discret-go/ql/ast"
)

// OrderKey is one column of a composite ORDER BY; paging order is
// always the full composite key, never just the first one.
type OrderKey struct {
	Column string
	Desc   bool
}

// ProjKind selects how a Projection's value is produced.
type ProjKind int

const (
	ProjPlain ProjKind = iota
	ProjJSON
	ProjAggregate
	ProjNested
)

// Projection is one named output column/subtree of an EntityPlan,
// keyed by the alias the result document will carry: query results are
// returned as a JSON document whose top-level keys are the
// user-assigned aliases.
type Projection struct {
	Alias    string
	Kind     ProjKind
	Column   string // underlying SQL column, for Plain/JSON/Aggregate
	JSONPath string // sqlite json_extract path, for Kind == ProjJSON
	Agg      ast.AggFunc
	Nested   *EntityPlan // for Kind == ProjNested
	Nullable bool        // listed in this subquery's nullable(...)
}

// RoomScope narrows an EntityPlan to the Rooms the caller may see.
// Every top-level entity query is implicitly restricted to
// room_id = ? where ? is either a bound variable or the caller's
// effective set of Rooms. Exactly one of ExplicitRoomID or
// AllowedRooms is populated.
type RoomScope struct {
	ExplicitRoomID string
	AllowedRooms   []string

	// SkipRoomFilter is set when lowering a nested sub-query: its rows
	// are reached through the parent's reference column, which already
	// names a specific row id, so no room_id restriction is added here —
	// the executor binds the id/id-list filter at execution time via
	// WithIDFilter instead.
	SkipRoomFilter bool
}

// EntityPlan is the lowered form of one query.EntitySubQuery: a
// parameterized SQL statement against the entity's table plus the
// projection tree needed to reassemble results.
type EntityPlan struct {
	Entity string
	Alias  string // result-document key; defaults to Entity
	Table  string

	SQL  string
	Args []interface{}

	OrderKeys   []OrderKey
	Projections []*Projection

	// RequiresFullText is true when this subquery used search(...);
	// the executor must run it against the entity's bleve index first
	// and substitute the resulting row ids via WithFullTextIDs before
	// running SQL.
	RequiresFullText bool
	FullTextTerm     ast.Value

	// NestedDeferred lists projections whose Kind == ProjNested and
	// whose child subquery carries its own paging (first/skip/before/
	// after) — the planner executes these as a second pass keyed by
	// parent id rather than a single correlated join, chosen based on
	// whether the child subquery carries its own paging.
	NestedDeferred []*Projection
}

// WithFullTextIDs finalizes a full-text-gated plan once the bleve
// index lookup for FullTextTerm has produced the matching row ids.
func (p *EntityPlan) WithFullTextIDs(ids []string) (string, []interface{}) {
	if !p.RequiresFullText {
		return p.SQL, p.Args
	}
	return p.withIDClause(ids)
}

// WithIDFilter binds a nested EntityPlan (lowered with
// RoomScope.SkipRoomFilter) to the specific referent id(s) the parent
// row(s) named, for correlated / second-pass execution.
func (p *EntityPlan) WithIDFilter(ids []string) (string, []interface{}) {
	return p.withIDClause(ids)
}

// withIDClause splices an "AND id IN (...)" clause into p.SQL ahead of
// any ORDER BY/LIMIT/OFFSET suffix rather than appending it at the very
// end, which would otherwise follow those clauses and produce invalid
// SQL.
func (p *EntityPlan) withIDClause(ids []string) (string, []interface{}) {
	args := append([]interface{}{}, p.Args...)
	if len(ids) == 0 {
		return spliceClause(p.SQL, " AND 1=0"), args
	}
	placeholders := make([]byte, 0, len(ids)*2)
	for i, id := range ids {
		if i > 0 {
			placeholders = append(placeholders, ',', '?')
		} else {
			placeholders = append(placeholders, '?')
		}
		args = append(args, id)
	}
	return spliceClause(p.SQL, " AND id IN ("+string(placeholders)+")"), args
}

func spliceClause(sql, clause string) string {
	for _, marker := range []string{" ORDER BY", " LIMIT", " OFFSET"} {
		if idx := strings.Index(sql, marker); idx >= 0 {
			return sql[:idx] + clause + sql[idx:]
		}
	}
	return sql + clause
}

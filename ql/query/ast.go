// Package query implements the query/subscription DSL's AST and
// parser: entity sub-queries with search/order_by/paging/filter
// parameters, and a projection list of nested sub-queries, JSON
// projections, aggregates, and plain field references.
package query

import "github.com/discretlib/discret-go/ql/ast"

// Operation distinguishes `query` from `subscription`: both share the
// same grammar. Host.Query executes either kind once and returns its
// result; a subscription is not re-executed when data changes.
type Operation string

const (
	OpQuery        Operation = "query"
	OpSubscription Operation = "subscription"
)

// File is a parsed `query { ... }` or `subscription { ... }` document.
type File struct {
	Operation Operation
	Entities  []*EntitySubQuery
}

// CompareOp is one of the filter comparison operators.
type CompareOp string

const (
	OpEq  CompareOp = "="
	OpNeq CompareOp = "!="
	OpLt  CompareOp = "<"
	OpLte CompareOp = "<="
	OpGt  CompareOp = ">"
	OpGte CompareOp = ">="
)

// OrderKey is one `field asc|desc` entry of order_by(...).
type OrderKey struct {
	Field string
	Desc  bool
	Pos   ast.Pos
}

// Filter is a `field <op> value` or `col->$.path <op> value` comparison.
type Filter struct {
	Field    string
	JSONPath string // set when the LHS is a JSON selector rather than a plain field
	Op       CompareOp
	RHS      ast.Value
	Pos      ast.Pos
}

// Params is the full parenthesized parameter list of an entity
// sub-query.
type Params struct {
	Search     *ast.Value
	OrderBy    []OrderKey
	First      *ast.Value
	Skip       *ast.Value
	Before     []ast.Value
	After      []ast.Value
	NullableOK []string
	Filters    []Filter
}

// ProjKind tags which alternative of the field-projection grammar a
// ProjField holds.
type ProjKind int

const (
	ProjNested ProjKind = iota
	ProjJSON
	ProjAggregate
	ProjPlain
)

// AggFunc is one of the supported aggregate functions.
type AggFunc string

const (
	AggAvg   AggFunc = "avg"
	AggCount AggFunc = "count"
	AggSum   AggFunc = "sum"
	AggMin   AggFunc = "min"
	AggMax   AggFunc = "max"
)

// ProjField is one entry of an entity sub-query's `{ ... }` field list.
type ProjField struct {
	Alias string
	Kind  ProjKind

	Nested *EntitySubQuery // ProjNested

	Column     string  // ProjJSON, ProjAggregate, ProjPlain
	JSONPath   string  // ProjJSON: "$.a.b" form; empty when ArrayIndex is set
	ArrayIndex *int    // ProjJSON: "->3" form
	Agg        AggFunc // ProjAggregate

	Pos ast.Pos
}

// EntitySubQuery is one top-level or nested entity query.
type EntitySubQuery struct {
	Entity string
	Alias  string
	Params Params
	Fields []*ProjField
	Pos    ast.Pos
}

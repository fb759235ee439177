// Package mutation implements the mutation DSL's AST and parser: a
// `mutate` block of entity blocks, each a set of field:value pairs
// where a value is a variable, a literal, a nested entity reference,
// or an array of nested entity references.
package mutation

import "github.com/discretlib/discret-go/ql/ast"

// File is a parsed `mutate { ... }` document.
type File struct {
	Blocks []*EntityBlock
}

// FieldValueKind tags which alternative of the value grammar a
// FieldValue holds.
type FieldValueKind int

const (
	ValScalar FieldValueKind = iota // literal or $variable
	ValNested                      // { ... } nested entity reference
	ValArray                       // [ {...}, {...} ] array of nested entities
)

// FieldValue is the RHS of one `field: value` pair.
type FieldValue struct {
	Kind   FieldValueKind
	Scalar ast.Value     // set when Kind == ValScalar
	Nested *EntityBlock  // set when Kind == ValNested
	Array  []*EntityBlock // set when Kind == ValArray
	Pos    ast.Pos
}

// FieldAssign is one `field: value` pair inside an entity block.
type FieldAssign struct {
	Field string
	Value FieldValue
	Pos   ast.Pos
}

// EntityBlock is one `Entity { field: value, ... }` block. Alias is the
// binding name used to label this write in execution results.
type EntityBlock struct {
	Entity string
	Alias  string
	Fields []*FieldAssign
	Pos    ast.Pos
}

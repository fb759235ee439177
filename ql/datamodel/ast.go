// Package datamodel implements the data-model DSL's AST and parser:
// namespaced entity declarations, scalar/reference/array fields,
// indices and feature flags.
package datamodel

import "github.com/discretlib/discret-go/ql/ast"

// File is the root of a parsed data-model document: a flat list of
// entity declarations, each carrying its own namespaced name
// (e.g. "chat.Message").
type File struct {
	Entities []*Entity
}

// Flag is one entry of an entity declaration's parenthesized flag list,
// a bare name or `name: value`, e.g. `full_text: false` in
// `chat.Message (full_text: false) { ... }`.
type Flag struct {
	Name string
	Args []ast.Value
	Pos  ast.Pos
}

// FieldType is exactly one of: a scalar, a single entity reference, or
// an array-of-entity reference.
type FieldType struct {
	Scalar    ast.ScalarType // "" unless this is a scalar field
	EntityRef string         // set for a single `entity` reference
	ArrayOf   string         // set for a `[entity]` array reference
	Nullable  bool
	Default   *ast.Literal // nil unless a literal default was declared
}

func (t FieldType) IsScalar() bool    { return t.Scalar != "" }
func (t FieldType) IsReference() bool { return t.EntityRef != "" }
func (t FieldType) IsArray() bool     { return t.ArrayOf != "" }

// Field is one `name: T` entry of an entity block.
type Field struct {
	Name       string
	Deprecated bool
	Type       FieldType
	Pos        ast.Pos
}

// Index is an `index(col1, col2, ...)` entry.
type Index struct {
	Columns []string
	Pos     ast.Pos
}

// Entity is one namespaced entity declaration.
type Entity struct {
	Name       string // namespaced, e.g. "chat.Message"
	Deprecated bool
	Flags      []Flag
	Fields     []*Field
	Indices    []*Index
	Pos        ast.Pos
}

// Package deletion implements the deletion DSL's AST and parser: a
// `delete` block of entity blocks, each naming the entity and the
// id-bound variable to delete, with optional array_field removals that
// drop specific references from an array-valued field without
// deleting the row.
package deletion

import "github.com/discretlib/discret-go/ql/ast"

// File is a parsed `delete { ... }` document.
type File struct {
	Blocks []*EntityDelete
}

// ArrayRemoval is one `array_field [$v, $v, ...]` entry.
type ArrayRemoval struct {
	Field  string
	Values []ast.Value
	Pos    ast.Pos
}

// EntityDelete is one `Entity($id) { ... }` block: delete the row bound
// to $id, or — if Removals is non-empty — only remove those references
// from the named array fields.
type EntityDelete struct {
	Entity   string
	IDVar    string
	Removals []*ArrayRemoval
	Pos      ast.Pos
}

// Package ast holds the AST node types shared across all four discret
// grammars: positions, literal/variable values, and scalar type names.
package ast

import "github.com/discretlib/discret-go/ql/token"

// Pos re-exports token.Pos so callers of the four parser packages don't
// need to import ql/token directly.
type Pos = token.Pos

// ScalarType is one of the six scalar kinds a field may declare.
type ScalarType string

const (
	Integer ScalarType = "Integer"
	Float   ScalarType = "Float"
	Boolean ScalarType = "Boolean"
	String  ScalarType = "String"
	Base64  ScalarType = "Base64"
	Json    ScalarType = "Json"
)

// LiteralKind tags a Literal's Go-level representation.
type LiteralKind int

const (
	LitString LiteralKind = iota
	LitNumber
	LitBool
	LitNull
)

// Literal is a constant value appearing in any of the four DSLs.
type Literal struct {
	Kind LiteralKind
	Str  string
	Num  float64
	Bool bool
	Pos  Pos
}

// Value is either a Literal or a bound $variable reference. Exactly one
// of Lit/VarName is set.
type Value struct {
	Lit     *Literal
	VarName string // empty when this Value is a Literal
	Pos     Pos
}

func (v Value) IsVariable() bool { return v.Lit == nil }

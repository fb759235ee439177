package ql

import (
	"fmt"

	"github.com/discretlib/discret-go/ql/ast"
	"github.com/discretlib/discret-go/ql/token"
)

// ParseValue parses the common value production shared by all four
// grammars: a $variable or a string/number/boolean/null literal.
func ParseValue(c *Cursor) (ast.Value, error) {
	pos := c.Cur().Pos
	switch c.Cur().Kind {
	case token.Variable:
		name := c.Cur().Lit
		return ast.Value{VarName: name, Pos: pos}, c.Advance()
	case token.String:
		lit := c.Cur().Lit
		if err := c.Advance(); err != nil {
			return ast.Value{}, err
		}
		return ast.Value{Lit: &ast.Literal{Kind: ast.LitString, Str: lit, Pos: pos}, Pos: pos}, nil
	case token.Number:
		lit := c.Cur().Lit
		if err := c.Advance(); err != nil {
			return ast.Value{}, err
		}
		num, err := ParseFloat(lit)
		if err != nil {
			return ast.Value{}, fmt.Errorf("%s: %w", pos, err)
		}
		return ast.Value{Lit: &ast.Literal{Kind: ast.LitNumber, Num: num, Pos: pos}, Pos: pos}, nil
	case token.True, token.False:
		b := c.Cur().Kind == token.True
		if err := c.Advance(); err != nil {
			return ast.Value{}, err
		}
		return ast.Value{Lit: &ast.Literal{Kind: ast.LitBool, Bool: b, Pos: pos}, Pos: pos}, nil
	case token.Null:
		if err := c.Advance(); err != nil {
			return ast.Value{}, err
		}
		return ast.Value{Lit: &ast.Literal{Kind: ast.LitNull, Pos: pos}, Pos: pos}, nil
	default:
		return ast.Value{}, c.ErrUnexpected("value")
	}
}

// ParseFloat parses the decimal literal produced by the lexer's Number
// token (already validated to contain only digits, an optional leading
// '-' and an optional single '.').
func ParseFloat(s string) (float64, error) {
	var neg bool
	if len(s) > 0 && s[0] == '-' {
		neg = true
		s = s[1:]
	}
	var whole, frac float64
	var fracDiv float64 = 1
	seenDot := false
	for _, r := range s {
		if r == '.' {
			seenDot = true
			continue
		}
		d := float64(r - '0')
		if d < 0 || d > 9 {
			return 0, fmt.Errorf("invalid number %q", s)
		}
		if seenDot {
			fracDiv *= 10
			frac = frac*10 + d
		} else {
			whole = whole*10 + d
		}
	}
	v := whole + frac/fracDiv
	if neg {
		v = -v
	}
	return v, nil
}

// Package ql ties together the lexer and the four grammar-specific
// parsers with a shared token cursor, so each grammar's parser only has
// to describe its own productions.
package ql

import (
	"fmt"

	"github.com/discretlib/discret-go/ql/lexer"
	"github.com/discretlib/discret-go/ql/token"
)

// Cursor buffers one token of lookahead over a Lexer, the minimum needed
// by all four grammars' recursive-descent parsers.
type Cursor struct {
	lex  *lexer.Lexer
	cur  token.Token
	peek token.Token
	err  error
}

// NewCursor positions a Cursor at the first token of src.
func NewCursor(src string) (*Cursor, error) {
	c := &Cursor{lex: lexer.New(src)}
	var err error
	if c.cur, err = c.lex.Next(); err != nil {
		return nil, err
	}
	if c.peek, err = c.lex.Next(); err != nil {
		return nil, err
	}
	return c, nil
}

// Cur is the current token.
func (c *Cursor) Cur() token.Token { return c.cur }

// Peek is the token following Cur.
func (c *Cursor) Peek() token.Token { return c.peek }

// Advance consumes Cur and shifts Peek into its place.
func (c *Cursor) Advance() error {
	c.cur = c.peek
	var err error
	if c.peek, err = c.lex.Next(); err != nil {
		return err
	}
	return nil
}

// Expect asserts Cur.Kind == k, advances past it, and returns its
// literal; otherwise returns a located error.
func (c *Cursor) Expect(k token.Kind) (token.Token, error) {
	if c.cur.Kind != k {
		return token.Token{}, fmt.Errorf("%s: expected %s, got %s %q", c.cur.Pos, k, c.cur.Kind, c.cur.Lit)
	}
	t := c.cur
	return t, c.Advance()
}

// At reports whether Cur is of kind k.
func (c *Cursor) At(k token.Kind) bool { return c.cur.Kind == k }

// ErrUnexpected builds a location-bearing "unexpected token" error for
// the current token, used by every grammar's parser at the point a
// production fails to match.
func (c *Cursor) ErrUnexpected(context string) error {
	return fmt.Errorf("%s: unexpected %s %q in %s", c.cur.Pos, c.cur.Kind, c.cur.Lit, context)
}

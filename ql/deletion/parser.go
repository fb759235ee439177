package deletion

import (
	"fmt"

	"github.com/discretlib/discret-go/errs"
	"github.com/discretlib/discret-go/ql"
	"github.com/discretlib/discret-go/ql/token"
)

// Parse parses a `delete { ... }` document.
func Parse(src string) (*File, error) {
	c, err := ql.NewCursor(src)
	if err != nil {
		return nil, errs.WithKind(err, errs.Parse)
	}
	kw, err := c.Expect(token.Ident)
	if err != nil {
		return nil, errs.WithKind(err, errs.Parse)
	}
	if kw.Lit != "delete" {
		return nil, errs.At(fmt.Errorf("%s: expected 'delete', got %q", kw.Pos, kw.Lit), errs.Parse, errs.Location{Line: kw.Pos.Line, Col: kw.Pos.Col})
	}
	if _, err := c.Expect(token.LBrace); err != nil {
		return nil, errs.WithKind(err, errs.Parse)
	}
	f := &File{}
	for !c.At(token.RBrace) {
		blk, err := parseEntityDelete(c)
		if err != nil {
			return nil, errs.WithKind(err, errs.Parse)
		}
		f.Blocks = append(f.Blocks, blk)
	}
	if _, err := c.Expect(token.RBrace); err != nil {
		return nil, errs.WithKind(err, errs.Parse)
	}
	return f, nil
}

func parseEntityDelete(c *ql.Cursor) (*EntityDelete, error) {
	blk := &EntityDelete{Pos: c.Cur().Pos}
	name, err := c.Expect(token.Ident)
	if err != nil {
		return nil, err
	}
	blk.Entity = name.Lit

	if _, err := c.Expect(token.LParen); err != nil {
		return nil, err
	}
	idVar, err := c.Expect(token.Variable)
	if err != nil {
		return nil, err
	}
	blk.IDVar = idVar.Lit
	if _, err := c.Expect(token.RParen); err != nil {
		return nil, err
	}

	if c.At(token.LBrace) {
		if err := c.Advance(); err != nil {
			return nil, err
		}
		seen := map[string]bool{}
		for !c.At(token.RBrace) {
			removal, err := parseArrayRemoval(c)
			if err != nil {
				return nil, err
			}
			if seen[removal.Field] {
				return nil, fmt.Errorf("%s: duplicate array_field %q", removal.Pos, removal.Field)
			}
			seen[removal.Field] = true
			blk.Removals = append(blk.Removals, removal)
		}
		if _, err := c.Expect(token.RBrace); err != nil {
			return nil, err
		}
	}
	return blk, nil
}

func parseArrayRemoval(c *ql.Cursor) (*ArrayRemoval, error) {
	field, err := c.Expect(token.Ident)
	if err != nil {
		return nil, err
	}
	r := &ArrayRemoval{Field: field.Lit, Pos: field.Pos}
	if _, err := c.Expect(token.LBracket); err != nil {
		return nil, err
	}
	for !c.At(token.RBracket) {
		v, err := ql.ParseValue(c)
		if err != nil {
			return nil, err
		}
		r.Values = append(r.Values, v)
		if c.At(token.Comma) {
			if err := c.Advance(); err != nil {
				return nil, err
			}
			continue
		}
		break
	}
	_, err = c.Expect(token.RBracket)
	return r, err
}

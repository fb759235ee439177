package mutation

import (
	"fmt"

	"github.com/discretlib/discret-go/errs"
	"github.com/discretlib/discret-go/ql"
	"github.com/discretlib/discret-go/ql/token"
)

// Parse parses a `mutate { ... }` document.
func Parse(src string) (*File, error) {
	c, err := ql.NewCursor(src)
	if err != nil {
		return nil, errs.WithKind(err, errs.Parse)
	}
	kw, err := c.Expect(token.Ident)
	if err != nil {
		return nil, errs.WithKind(err, errs.Parse)
	}
	if kw.Lit != "mutate" {
		return nil, errs.At(c.ErrUnexpected("mutation document"), errs.Parse, errs.Location{Line: kw.Pos.Line, Col: kw.Pos.Col})
	}
	if _, err := c.Expect(token.LBrace); err != nil {
		return nil, errs.WithKind(err, errs.Parse)
	}
	f := &File{}
	for !c.At(token.RBrace) {
		blk, err := parseEntityBlock(c)
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

func parseEntityBlock(c *ql.Cursor) (*EntityBlock, error) {
	blk := &EntityBlock{Pos: c.Cur().Pos}
	name, err := c.Expect(token.Ident)
	if err != nil {
		return nil, err
	}
	blk.Entity = name.Lit
	blk.Alias = name.Lit

	if c.At(token.Colon) {
		// `alias: Entity { ... }` form, mirroring the query grammar's
		// aliasing so mutation results can be addressed by name.
		if err := c.Advance(); err != nil {
			return nil, err
		}
		entName, err := c.Expect(token.Ident)
		if err != nil {
			return nil, err
		}
		blk.Alias = blk.Entity
		blk.Entity = entName.Lit
	}

	if _, err := c.Expect(token.LBrace); err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	for !c.At(token.RBrace) {
		fa, err := parseFieldAssign(c)
		if err != nil {
			return nil, err
		}
		if seen[fa.Field] {
			return nil, errs.At(fmt.Errorf("%s: duplicate field %q", fa.Pos, fa.Field), errs.Parse, errs.Location{Line: fa.Pos.Line, Col: fa.Pos.Col})
		}
		seen[fa.Field] = true
		blk.Fields = append(blk.Fields, fa)
	}
	if _, err := c.Expect(token.RBrace); err != nil {
		return nil, err
	}
	return blk, nil
}

func parseFieldAssign(c *ql.Cursor) (*FieldAssign, error) {
	pos := c.Cur().Pos
	name, err := c.Expect(token.Ident)
	if err != nil {
		return nil, err
	}
	if _, err := c.Expect(token.Colon); err != nil {
		return nil, err
	}
	val, err := parseFieldValue(c)
	if err != nil {
		return nil, err
	}
	return &FieldAssign{Field: name.Lit, Value: val, Pos: pos}, nil
}

func parseFieldValue(c *ql.Cursor) (FieldValue, error) {
	pos := c.Cur().Pos
	switch {
	case c.At(token.Ident):
		// A bare identifier can only start a nested entity reference
		// (`field: EntityName { ... }`): every scalar value is a literal
		// or a $variable, never a plain identifier.
		nested, err := parseEntityBlock(c)
		if err != nil {
			return FieldValue{}, err
		}
		return FieldValue{Kind: ValNested, Nested: nested, Pos: pos}, nil
	case c.At(token.LBracket):
		if err := c.Advance(); err != nil {
			return FieldValue{}, err
		}
		var arr []*EntityBlock
		for !c.At(token.RBracket) {
			nested, err := parseEntityBlock(c)
			if err != nil {
				return FieldValue{}, err
			}
			arr = append(arr, nested)
			if c.At(token.Comma) {
				if err := c.Advance(); err != nil {
					return FieldValue{}, err
				}
				continue
			}
			break
		}
		if _, err := c.Expect(token.RBracket); err != nil {
			return FieldValue{}, err
		}
		return FieldValue{Kind: ValArray, Array: arr, Pos: pos}, nil
	default:
		v, err := ql.ParseValue(c)
		if err != nil {
			return FieldValue{}, err
		}
		return FieldValue{Kind: ValScalar, Scalar: v, Pos: pos}, nil
	}
}


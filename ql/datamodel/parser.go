package datamodel

import (
	"fmt"

	"github.com/discretlib/discret-go/ql"
	"github.com/discretlib/discret-go/ql/ast"
	"github.com/discretlib/discret-go/ql/token"
	"github.com/discretlib/discret-go/errs"
)

var scalarNames = map[string]ast.ScalarType{
	"Integer": ast.Integer,
	"Float":   ast.Float,
	"Boolean": ast.Boolean,
	"String":  ast.String,
	"Base64":  ast.Base64,
	"Json":    ast.Json,
}

// Parse parses a full data-model document.
func Parse(src string) (*File, error) {
	c, err := ql.NewCursor(src)
	if err != nil {
		return nil, errs.WithKind(err, errs.Parse)
	}
	f := &File{}
	for !c.At(token.EOF) {
		e, err := parseEntity(c)
		if err != nil {
			return nil, errs.WithKind(err, errs.Parse)
		}
		f.Entities = append(f.Entities, e)
	}
	return f, nil
}

func parseEntity(c *ql.Cursor) (*Entity, error) {
	e := &Entity{Pos: c.Cur().Pos}
	if c.At(token.At) {
		if err := c.Advance(); err != nil {
			return nil, err
		}
		name, err := c.Expect(token.Ident)
		if err != nil {
			return nil, err
		}
		if name.Lit != "deprecated" {
			return nil, fmt.Errorf("%s: unknown marker @%s", name.Pos, name.Lit)
		}
		e.Deprecated = true
	}

	name, err := c.Expect(token.Ident)
	if err != nil {
		return nil, err
	}
	e.Name = name.Lit

	if c.At(token.LParen) {
		if e.Flags, err = parseFlags(c); err != nil {
			return nil, err
		}
	}

	if _, err := c.Expect(token.LBrace); err != nil {
		return nil, err
	}
	for !c.At(token.RBrace) {
		if c.At(token.Ident) && c.Cur().Lit == "index" {
			idx, err := parseIndex(c)
			if err != nil {
				return nil, err
			}
			e.Indices = append(e.Indices, idx)
			continue
		}
		field, err := parseField(c)
		if err != nil {
			return nil, err
		}
		e.Fields = append(e.Fields, field)
	}
	if _, err := c.Expect(token.RBrace); err != nil {
		return nil, err
	}
	return e, nil
}

func parseFlags(c *ql.Cursor) ([]Flag, error) {
	if _, err := c.Expect(token.LParen); err != nil {
		return nil, err
	}
	var flags []Flag
	for !c.At(token.RParen) {
		name, err := c.Expect(token.Ident)
		if err != nil {
			return nil, err
		}
		flag := Flag{Name: name.Lit, Pos: name.Pos}
		if c.At(token.Colon) {
			if err := c.Advance(); err != nil {
				return nil, err
			}
			v, err := parseValue(c)
			if err != nil {
				return nil, err
			}
			flag.Args = append(flag.Args, v)
		}
		flags = append(flags, flag)
		if c.At(token.Comma) {
			if err := c.Advance(); err != nil {
				return nil, err
			}
			continue
		}
		break
	}
	_, err := c.Expect(token.RParen)
	return flags, err
}

func parseIndex(c *ql.Cursor) (*Index, error) {
	pos := c.Cur().Pos
	if err := c.Advance(); err != nil { // consume "index"
		return nil, err
	}
	if _, err := c.Expect(token.LParen); err != nil {
		return nil, err
	}
	idx := &Index{Pos: pos}
	for {
		col, err := c.Expect(token.Ident)
		if err != nil {
			return nil, err
		}
		idx.Columns = append(idx.Columns, col.Lit)
		if c.At(token.Comma) {
			if err := c.Advance(); err != nil {
				return nil, err
			}
			continue
		}
		break
	}
	_, err := c.Expect(token.RParen)
	return idx, err
}

func parseField(c *ql.Cursor) (*Field, error) {
	f := &Field{Pos: c.Cur().Pos}
	if c.At(token.At) {
		if err := c.Advance(); err != nil {
			return nil, err
		}
		marker, err := c.Expect(token.Ident)
		if err != nil {
			return nil, err
		}
		if marker.Lit != "deprecated" {
			return nil, fmt.Errorf("%s: unknown field marker @%s", marker.Pos, marker.Lit)
		}
		f.Deprecated = true
	}

	name, err := c.Expect(token.Ident)
	if err != nil {
		return nil, err
	}
	f.Name = name.Lit
	if _, err := c.Expect(token.Colon); err != nil {
		return nil, err
	}

	ft, err := parseFieldType(c)
	if err != nil {
		return nil, err
	}
	f.Type = ft
	return f, nil
}

func parseFieldType(c *ql.Cursor) (FieldType, error) {
	var ft FieldType

	if c.At(token.LBracket) {
		if err := c.Advance(); err != nil {
			return ft, err
		}
		ref, err := c.Expect(token.Ident)
		if err != nil {
			return ft, err
		}
		if _, err := c.Expect(token.RBracket); err != nil {
			return ft, err
		}
		ft.ArrayOf = ref.Lit
		return ft, nil
	}

	name, err := c.Expect(token.Ident)
	if err != nil {
		return ft, err
	}
	if sc, ok := scalarNames[name.Lit]; ok {
		ft.Scalar = sc
	} else {
		ft.EntityRef = name.Lit
		return ft, parseTrailingModifiers(c, &ft)
	}
	return ft, parseTrailingModifiers(c, &ft)
}

func parseTrailingModifiers(c *ql.Cursor, ft *FieldType) error {
	for {
		if c.At(token.Ident) && c.Cur().Lit == "nullable" {
			ft.Nullable = true
			if err := c.Advance(); err != nil {
				return err
			}
			continue
		}
		if c.At(token.Ident) && c.Cur().Lit == "default" {
			if err := c.Advance(); err != nil {
				return err
			}
			v, err := parseValue(c)
			if err != nil {
				return err
			}
			if v.Lit == nil {
				return fmt.Errorf("%s: default must be a literal, not a variable", v.Pos)
			}
			ft.Default = v.Lit
			continue
		}
		break
	}
	return nil
}

func parseValue(c *ql.Cursor) (ast.Value, error) { return ql.ParseValue(c) }

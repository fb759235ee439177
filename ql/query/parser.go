package query

import (
	"fmt"

	"github.com/discretlib/discret-go/errs"
	"github.com/discretlib/discret-go/ql"
	"github.com/discretlib/discret-go/ql/ast"
	"github.com/discretlib/discret-go/ql/token"
)

var aggFuncs = map[string]AggFunc{
	"avg": AggAvg, "count": AggCount, "sum": AggSum, "min": AggMin, "max": AggMax,
}

// Parse parses a `query { ... }` or `subscription { ... }` document.
func Parse(src string) (*File, error) {
	c, err := ql.NewCursor(src)
	if err != nil {
		return nil, errs.WithKind(err, errs.Parse)
	}
	kw, err := c.Expect(token.Ident)
	if err != nil {
		return nil, errs.WithKind(err, errs.Parse)
	}
	var op Operation
	switch kw.Lit {
	case "query":
		op = OpQuery
	case "subscription":
		op = OpSubscription
	default:
		return nil, errs.At(fmt.Errorf("%s: expected 'query' or 'subscription', got %q", kw.Pos, kw.Lit), errs.Parse, errs.Location{Line: kw.Pos.Line, Col: kw.Pos.Col})
	}
	f := &File{Operation: op}
	if _, err := c.Expect(token.LBrace); err != nil {
		return nil, errs.WithKind(err, errs.Parse)
	}
	for !c.At(token.RBrace) {
		sq, err := parseEntitySubQuery(c)
		if err != nil {
			return nil, errs.WithKind(err, errs.Parse)
		}
		f.Entities = append(f.Entities, sq)
	}
	if _, err := c.Expect(token.RBrace); err != nil {
		return nil, errs.WithKind(err, errs.Parse)
	}
	return f, nil
}

func parseEntitySubQuery(c *ql.Cursor) (*EntitySubQuery, error) {
	sq := &EntitySubQuery{Pos: c.Cur().Pos}
	name, err := c.Expect(token.Ident)
	if err != nil {
		return nil, err
	}
	sq.Entity = name.Lit
	sq.Alias = name.Lit

	if c.At(token.Colon) {
		if err := c.Advance(); err != nil {
			return nil, err
		}
		entName, err := c.Expect(token.Ident)
		if err != nil {
			return nil, err
		}
		sq.Alias = sq.Entity
		sq.Entity = entName.Lit
	}

	if c.At(token.LParen) {
		params, err := parseParams(c)
		if err != nil {
			return nil, err
		}
		sq.Params = params
	}

	if _, err := c.Expect(token.LBrace); err != nil {
		return nil, err
	}
	for !c.At(token.RBrace) {
		pf, err := parseProjField(c)
		if err != nil {
			return nil, err
		}
		sq.Fields = append(sq.Fields, pf)
	}
	if _, err := c.Expect(token.RBrace); err != nil {
		return nil, err
	}
	return sq, nil
}

func parseParams(c *ql.Cursor) (Params, error) {
	var p Params
	if _, err := c.Expect(token.LParen); err != nil {
		return p, err
	}
	for !c.At(token.RParen) {
		if err := parseOneParam(c, &p); err != nil {
			return p, err
		}
		if c.At(token.Comma) {
			if err := c.Advance(); err != nil {
				return p, err
			}
			continue
		}
		break
	}
	_, err := c.Expect(token.RParen)
	return p, err
}

func parseOneParam(c *ql.Cursor, p *Params) error {
	pos := c.Cur().Pos
	if c.At(token.Ident) {
		switch c.Cur().Lit {
		case "search":
			if err := c.Advance(); err != nil {
				return err
			}
			if _, err := c.Expect(token.LParen); err != nil {
				return err
			}
			v, err := ql.ParseValue(c)
			if err != nil {
				return err
			}
			p.Search = &v
			_, err = c.Expect(token.RParen)
			return err

		case "order_by":
			if err := c.Advance(); err != nil {
				return err
			}
			if _, err := c.Expect(token.LParen); err != nil {
				return err
			}
			for !c.At(token.RParen) {
				field, err := c.Expect(token.Ident)
				if err != nil {
					return err
				}
				key := OrderKey{Field: field.Lit, Pos: field.Pos}
				if c.At(token.Ident) && (c.Cur().Lit == "asc" || c.Cur().Lit == "desc") {
					key.Desc = c.Cur().Lit == "desc"
					if err := c.Advance(); err != nil {
						return err
					}
				}
				p.OrderBy = append(p.OrderBy, key)
				if c.At(token.Comma) {
					if err := c.Advance(); err != nil {
						return err
					}
					continue
				}
				break
			}
			_, err := c.Expect(token.RParen)
			return err

		case "first":
			if err := c.Advance(); err != nil {
				return err
			}
			v, err := ql.ParseValue(c)
			if err != nil {
				return err
			}
			p.First = &v
			return nil

		case "skip":
			if err := c.Advance(); err != nil {
				return err
			}
			v, err := ql.ParseValue(c)
			if err != nil {
				return err
			}
			p.Skip = &v
			return nil

		case "before":
			vals, err := parseValueList(c)
			if err != nil {
				return err
			}
			p.Before = vals
			return nil

		case "after":
			vals, err := parseValueList(c)
			if err != nil {
				return err
			}
			p.After = vals
			return nil

		case "nullable":
			if err := c.Advance(); err != nil {
				return err
			}
			if _, err := c.Expect(token.LParen); err != nil {
				return err
			}
			for !c.At(token.RParen) {
				field, err := c.Expect(token.Ident)
				if err != nil {
					return err
				}
				p.NullableOK = append(p.NullableOK, field.Lit)
				if c.At(token.Comma) {
					if err := c.Advance(); err != nil {
						return err
					}
					continue
				}
				break
			}
			_, err := c.Expect(token.RParen)
			return err
		}
	}

	// Otherwise: a filter comparison, `field <op> value` or
	// `col->$.path <op> value`.
	filter, err := parseFilter(c, pos)
	if err != nil {
		return err
	}
	p.Filters = append(p.Filters, filter)
	return nil
}

func parseValueList(c *ql.Cursor) ([]ast.Value, error) {
	if err := c.Advance(); err != nil { // consume "before"/"after"
		return nil, err
	}
	if _, err := c.Expect(token.LParen); err != nil {
		return nil, err
	}
	var vals []ast.Value
	for !c.At(token.RParen) {
		v, err := ql.ParseValue(c)
		if err != nil {
			return nil, err
		}
		vals = append(vals, v)
		if c.At(token.Comma) {
			if err := c.Advance(); err != nil {
				return nil, err
			}
			continue
		}
		break
	}
	_, err := c.Expect(token.RParen)
	return vals, err
}

func parseFilter(c *ql.Cursor, pos ast.Pos) (Filter, error) {
	field, err := c.Expect(token.Ident)
	if err != nil {
		return Filter{}, err
	}
	filter := Filter{Field: field.Lit, Pos: pos}

	if c.At(token.Arrow) {
		jsonPath, err := parseJSONSelector(c)
		if err != nil {
			return Filter{}, err
		}
		filter.JSONPath = jsonPath
	}

	op, err := parseCompareOp(c)
	if err != nil {
		return Filter{}, err
	}
	filter.Op = op

	rhs, err := ql.ParseValue(c)
	if err != nil {
		return Filter{}, err
	}
	filter.RHS = rhs
	return filter, nil
}

func parseCompareOp(c *ql.Cursor) (CompareOp, error) {
	t := c.Cur()
	var op CompareOp
	switch t.Kind {
	case token.Eq:
		op = OpEq
	case token.Neq:
		op = OpNeq
	case token.Lt:
		op = OpLt
	case token.Lte:
		op = OpLte
	case token.Gt:
		op = OpGt
	case token.Gte:
		op = OpGte
	default:
		return "", c.ErrUnexpected("comparison operator")
	}
	return op, c.Advance()
}

// parseJSONSelector parses a `->N` array index or `->$.a.b[2]` path
// selector following a field name, returning it as a single opaque
// string that the planner later lowers to the underlying store's
// JSON-path operators.
func parseJSONSelector(c *ql.Cursor) (string, error) {
	if err := c.Advance(); err != nil { // consume "->"
		return "", err
	}
	if c.At(token.Number) {
		n := c.Cur().Lit
		return n, c.Advance()
	}
	// `$.a.b[2]` form: reassemble from the lexer's bare Dollar token
	// (the JSON root) followed by Dot/Ident and bracketed Number tokens.
	var path string
	if c.At(token.Dollar) {
		path = "$"
		if err := c.Advance(); err != nil {
			return "", err
		}
	} else {
		return "", c.ErrUnexpected("JSON selector")
	}
	for c.At(token.Dot) || c.At(token.LBracket) {
		if c.At(token.Dot) {
			if err := c.Advance(); err != nil {
				return "", err
			}
			seg, err := c.Expect(token.Ident)
			if err != nil {
				return "", err
			}
			path += "." + seg.Lit
			continue
		}
		if err := c.Advance(); err != nil {
			return "", err
		}
		idx, err := c.Expect(token.Number)
		if err != nil {
			return "", err
		}
		if _, err := c.Expect(token.RBracket); err != nil {
			return "", err
		}
		path += "[" + idx.Lit + "]"
	}
	return path, nil
}

func parseProjField(c *ql.Cursor) (*ProjField, error) {
	pos := c.Cur().Pos
	name, err := c.Expect(token.Ident)
	if err != nil {
		return nil, err
	}

	alias := ""
	fieldName := name.Lit
	if c.At(token.Colon) {
		if err := c.Advance(); err != nil {
			return nil, err
		}
		alias = fieldName
		aggOrName, err := c.Expect(token.Ident)
		if err != nil {
			return nil, err
		}
		fieldName = aggOrName.Lit
	}

	if agg, ok := aggFuncs[fieldName]; ok && c.At(token.LParen) {
		if err := c.Advance(); err != nil {
			return nil, err
		}
		col, err := c.Expect(token.Ident)
		if err != nil {
			return nil, err
		}
		if _, err := c.Expect(token.RParen); err != nil {
			return nil, err
		}
		if alias == "" {
			alias = fieldName
		}
		return &ProjField{Alias: alias, Kind: ProjAggregate, Column: col.Lit, Agg: agg, Pos: pos}, nil
	}

	if c.At(token.Arrow) {
		jsonPath, err := parseJSONSelector(c)
		if err != nil {
			return nil, err
		}
		if alias == "" {
			alias = fieldName
		}
		pf := &ProjField{Alias: alias, Kind: ProjJSON, Column: fieldName, Pos: pos}
		if n, ok := asArrayIndex(jsonPath); ok {
			pf.ArrayIndex = &n
		} else {
			pf.JSONPath = jsonPath
		}
		return pf, nil
	}

	if c.At(token.LParen) || c.At(token.LBrace) {
		// Nested sub-query: re-synthesize an EntitySubQuery using the
		// name/alias already consumed.
		sq := &EntitySubQuery{Entity: fieldName, Alias: fieldName, Pos: pos}
		if alias != "" {
			sq.Alias = alias
		}
		if c.At(token.LParen) {
			params, err := parseParams(c)
			if err != nil {
				return nil, err
			}
			sq.Params = params
		}
		if _, err := c.Expect(token.LBrace); err != nil {
			return nil, err
		}
		for !c.At(token.RBrace) {
			child, err := parseProjField(c)
			if err != nil {
				return nil, err
			}
			sq.Fields = append(sq.Fields, child)
		}
		if _, err := c.Expect(token.RBrace); err != nil {
			return nil, err
		}
		return &ProjField{Alias: sq.Alias, Kind: ProjNested, Nested: sq, Pos: pos}, nil
	}

	if alias == "" {
		alias = fieldName
	}
	return &ProjField{Alias: alias, Kind: ProjPlain, Column: fieldName, Pos: pos}, nil
}

func asArrayIndex(path string) (int, bool) {
	if path == "" {
		return 0, false
	}
	n := 0
	for _, r := range path {
		if r < '0' || r > '9' {
			return 0, false
		}
		n = n*10 + int(r-'0')
	}
	return n, true
}

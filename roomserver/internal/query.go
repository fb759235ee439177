package internal

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/discretlib/discret-go/errs"
	"github.com/discretlib/discret-go/planner"
	"github.com/discretlib/discret-go/ql/ast"
	"github.com/discretlib/discret-go/ql/query"
	"github.com/discretlib/discret-go/roomserver/storage"
	"github.com/discretlib/discret-go/rowmodel"
	"github.com/discretlib/discret-go/schema"
)

// FullTextSearcher resolves a search(...) term against an entity's
// index, returning the matching row ids. The bleve-backed
// implementation lives in roomserver/fulltext; this interface lets the
// executor stay storage-agnostic.
type FullTextSearcher interface {
	Search(entity string, term interface{}) ([]string, error)
}

// Querier lowers and executes query/subscription documents against the
// storage layer, reassembling the planner's projection tree into its
// output JSON-document shape.
type Querier struct {
	Registry *schema.Registry
	Store    *storage.Store
	Search   FullTextSearcher // nil disables search(...) support
}

// NewQuerier wires a Querier from its dependencies.
func NewQuerier(reg *schema.Registry, store *storage.Store) *Querier {
	return &Querier{Registry: reg, Store: store}
}

// Query executes every top-level entity sub-query in file under scope,
// returning a map from each sub-query's alias to its result (an array
// of objects, or — for an aggregate-only projection list — a single
// object).
func (q *Querier) Query(ctx context.Context, file *query.File, vars map[string]interface{}, scope planner.RoomScope) (map[string]interface{}, error) {
	version := q.Registry.CurrentVersion()
	result := map[string]interface{}{}
	for _, sub := range file.Entities {
		val, err := q.runSubQuery(ctx, sub, vars, version, scope)
		if err != nil {
			return nil, err
		}
		alias := sub.Alias
		if alias == "" {
			alias = sub.Entity
		}
		result[alias] = val
	}
	return result, nil
}

func (q *Querier) runSubQuery(ctx context.Context, sub *query.EntitySubQuery, vars map[string]interface{}, version schema.Version, scope planner.RoomScope) (interface{}, error) {
	plan, err := planner.Lower(q.Registry, version, sub, vars, scope)
	if err != nil {
		return nil, err
	}
	rows, entity, err := q.fetch(ctx, plan, version)
	if err != nil {
		return nil, err
	}

	hasAgg := false
	for _, p := range plan.Projections {
		if p.Kind == planner.ProjAggregate {
			hasAgg = true
		}
	}
	if hasAgg {
		return aggregateRows(plan, rows, entity)
	}

	objs := make([]map[string]interface{}, len(rows))
	for i, r := range rows {
		objs[i] = map[string]interface{}{}
	}
	for _, p := range plan.Projections {
		switch p.Kind {
		case planner.ProjPlain:
			for i, r := range rows {
				objs[i][p.Alias] = plainValue(r, p.Column, entity)
			}
		case planner.ProjJSON:
			for i, r := range rows {
				objs[i][p.Alias] = jsonValue(r, p.Column, p.JSONPath)
			}
		case planner.ProjNested:
			if err := q.assembleNested(ctx, plan, version, rows, objs, p); err != nil {
				return nil, err
			}
		}
	}

	out := make([]interface{}, len(objs))
	for i, o := range objs {
		out[i] = o
	}
	return out, nil
}

func (q *Querier) fetch(ctx context.Context, plan *planner.EntityPlan, version schema.Version) ([]*rowmodel.Row, *schema.EntityDecl, error) {
	entity, ok := q.Registry.Resolve(plan.Entity, version)
	if !ok {
		return nil, nil, errs.WithKind(fmt.Errorf("unknown entity %s", plan.Entity), errs.SchemaViolation)
	}

	sqlText, args := plan.SQL, plan.Args
	if plan.RequiresFullText {
		if q.Search == nil {
			return nil, nil, errs.WithKind(fmt.Errorf("%s: search() requires a full-text index", plan.Entity), errs.Internal)
		}
		term, err := resolveValue(plan.FullTextTerm, nil)
		if err != nil {
			return nil, nil, err
		}
		ids, err := q.Search.Search(plan.Entity, term)
		if err != nil {
			return nil, nil, err
		}
		sqlText, args = plan.WithFullTextIDs(ids)
	}
	rows, err := q.Store.QueryRows(ctx, entity, sqlText, args)
	return rows, entity, err
}

// assembleNested resolves one ProjNested projection for every parent
// row by finding the unique parent field declared as a reference (or
// array-of-reference) to the nested entity, fetching every referenced
// child row in one batched query, and distributing results back per
// parent, a correlated traversal. A child sub-query that
// carries its own paging is instead re-run once per parent, since
// LIMIT/OFFSET must apply within each parent's children individually.
func (q *Querier) assembleNested(ctx context.Context, parentPlan *planner.EntityPlan, version schema.Version, parentRows []*rowmodel.Row, objs []map[string]interface{}, p *planner.Projection) error {
	parentDecl, ok := q.Registry.Resolve(parentPlan.Entity, version)
	if !ok {
		return errs.WithKind(fmt.Errorf("unknown entity %s", parentPlan.Entity), errs.SchemaViolation)
	}
	refField, ok := findRefField(parentDecl, p.Nested.Entity)
	if !ok {
		return errs.WithKind(fmt.Errorf("%s has no field referencing %s", parentPlan.Entity, p.Nested.Entity), errs.SchemaViolation)
	}

	childEntity, ok := q.Registry.Resolve(p.Nested.Entity, version)
	if !ok {
		return errs.WithKind(fmt.Errorf("unknown entity %s", p.Nested.Entity), errs.SchemaViolation)
	}

	if isDeferred(parentPlan, p) {
		for i, r := range parentRows {
			ids := referencedIDs(r, refField)
			sqlText, args := p.Nested.WithIDFilter(ids)
			childRows, err := q.Store.QueryRows(ctx, childEntity, sqlText, args)
			if err != nil {
				return err
			}
			val, err := assembleChildValue(childRows, p.Nested, childEntity, refField.Type.IsReference())
			if err != nil {
				return err
			}
			objs[i][p.Alias] = val
		}
		return nil
	}

	allIDs := map[string]bool{}
	for _, r := range parentRows {
		for _, id := range referencedIDs(r, refField) {
			allIDs[id] = true
		}
	}
	ids := make([]string, 0, len(allIDs))
	for id := range allIDs {
		ids = append(ids, id)
	}
	sqlText, args := p.Nested.WithIDFilter(ids)
	childRows, err := q.Store.QueryRows(ctx, childEntity, sqlText, args)
	if err != nil {
		return err
	}
	byID := map[string]*rowmodel.Row{}
	for _, cr := range childRows {
		byID[cr.ID] = cr
	}

	for i, r := range parentRows {
		var matched []*rowmodel.Row
		for _, id := range referencedIDs(r, refField) {
			if cr, ok := byID[id]; ok {
				matched = append(matched, cr)
			}
		}
		val, err := assembleChildValue(matched, p.Nested, childEntity, refField.Type.IsReference())
		if err != nil {
			return err
		}
		objs[i][p.Alias] = val
	}
	return nil
}

// isDeferred reports whether p was lowered with its own paging and
// must therefore be re-queried once per parent row rather than in one
// batched query (planner.Lower populates EntityPlan.NestedDeferred for
// exactly these projections).
func isDeferred(parentPlan *planner.EntityPlan, p *planner.Projection) bool {
	for _, d := range parentPlan.NestedDeferred {
		if d == p {
			return true
		}
	}
	return false
}

func assembleChildValue(rows []*rowmodel.Row, plan *planner.EntityPlan, entity *schema.EntityDecl, single bool) (interface{}, error) {
	objs := make([]map[string]interface{}, len(rows))
	for i := range rows {
		objs[i] = map[string]interface{}{}
	}
	for _, cp := range plan.Projections {
		switch cp.Kind {
		case planner.ProjPlain:
			for i, r := range rows {
				objs[i][cp.Alias] = plainValue(r, cp.Column, entity)
			}
		case planner.ProjJSON:
			for i, r := range rows {
				objs[i][cp.Alias] = jsonValue(r, cp.Column, cp.JSONPath)
			}
		case planner.ProjNested:
			return nil, errs.WithKind(fmt.Errorf("%s: doubly-nested projections are not supported", plan.Entity), errs.Internal)
		}
	}
	if single {
		if len(objs) == 0 {
			return nil, nil
		}
		return objs[0], nil
	}
	out := make([]interface{}, len(objs))
	for i, o := range objs {
		out[i] = o
	}
	return out, nil
}

func findRefField(entity *schema.EntityDecl, childEntity string) (schema.FieldDecl, bool) {
	for _, f := range entity.Fields {
		if f.Type.EntityRef == childEntity || f.Type.ArrayOf == childEntity {
			return f, true
		}
	}
	return schema.FieldDecl{}, false
}

func referencedIDs(r *rowmodel.Row, fd schema.FieldDecl) []string {
	fv, ok := r.Fields[fd.Name]
	if !ok || fv.Null {
		return nil
	}
	if fd.Type.IsReference() {
		if fv.Ref == "" {
			return nil
		}
		return []string{fv.Ref}
	}
	return fv.RefArray
}

func aggregateRows(plan *planner.EntityPlan, rows []*rowmodel.Row, entity *schema.EntityDecl) (interface{}, error) {
	out := map[string]interface{}{}
	for _, p := range plan.Projections {
		switch p.Agg {
		case query.AggCount:
			out[p.Alias] = int64(len(rows))
		case query.AggSum, query.AggAvg, query.AggMin, query.AggMax:
			fd, _ := entity.Field(p.Column)
			vals := make([]float64, 0, len(rows))
			for _, r := range rows {
				fv, ok := r.Fields[p.Column]
				if !ok || fv.Null {
					continue
				}
				vals = append(vals, numericValue(fv, fd))
			}
			out[p.Alias] = reduce(p.Agg, vals)
		}
	}
	return out, nil
}

func reduce(fn query.AggFunc, vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	switch fn {
	case query.AggSum:
		var s float64
		for _, v := range vals {
			s += v
		}
		return s
	case query.AggAvg:
		var s float64
		for _, v := range vals {
			s += v
		}
		return s / float64(len(vals))
	case query.AggMin:
		m := vals[0]
		for _, v := range vals[1:] {
			if v < m {
				m = v
			}
		}
		return m
	case query.AggMax:
		m := vals[0]
		for _, v := range vals[1:] {
			if v > m {
				m = v
			}
		}
		return m
	default:
		return 0
	}
}

// numericValue picks the FieldValue variant fd's declared scalar type
// says is meaningful, rather than guessing from which field is
// non-zero (a legitimate 0 would otherwise be mistaken for "not set").
func numericValue(fv rowmodel.FieldValue, fd schema.FieldDecl) float64 {
	if fd.Type.Scalar == ast.Float {
		return fv.Float
	}
	return float64(fv.Int)
}

// plainValue reads column's value from r according to its declared
// type in entity, falling back to the reserved row-model columns.
func plainValue(r *rowmodel.Row, column string, entity *schema.EntityDecl) interface{} {
	switch column {
	case "id":
		return r.ID
	case "room_id":
		return r.RoomID
	case "mdate":
		return r.MDate
	case "author":
		return hex.EncodeToString(r.Author)
	}
	fv, ok := r.Fields[column]
	if !ok || fv.Null {
		return nil
	}
	fd, ok := entity.Field(column)
	if !ok {
		return nil
	}
	switch {
	case fd.Type.IsReference():
		return fv.Ref
	case fd.Type.IsArray():
		return fv.RefArray
	default:
		switch fd.Type.Scalar {
		case ast.Integer:
			return fv.Int
		case ast.Float:
			return fv.Float
		case ast.Boolean:
			return fv.Bool
		case ast.Base64:
			return fv.Bytes
		case ast.Json:
			return fv.JSON
		default:
			return fv.Str
		}
	}
}

// jsonValue parses the column's stored JSON text and navigates path
// (a "$.a.b" or "$[N]" form matching the planner's json_extract lowering).
func jsonValue(r *rowmodel.Row, column, path string) interface{} {
	fv, ok := r.Fields[column]
	if !ok || fv.Null || fv.JSON == "" {
		return nil
	}
	var doc interface{}
	if err := json.Unmarshal([]byte(fv.JSON), &doc); err != nil {
		return nil
	}
	return navigateJSONPath(doc, path)
}

func navigateJSONPath(doc interface{}, path string) interface{} {
	segs, err := splitJSONPath(path)
	if err != nil {
		return nil
	}
	cur := doc
	for _, s := range segs {
		switch node := cur.(type) {
		case map[string]interface{}:
			cur = node[s.key]
		case []interface{}:
			if s.index < 0 || s.index >= len(node) {
				return nil
			}
			cur = node[s.index]
		default:
			return nil
		}
	}
	return cur
}

type jsonPathSeg struct {
	key   string
	index int
}

// splitJSONPath parses the sqlite json_extract path spellings the
// planner produces: "$.a.b", "$[2]", and combinations like "$.a[2].b".
func splitJSONPath(path string) ([]jsonPathSeg, error) {
	s := strings.TrimPrefix(path, "$")
	var segs []jsonPathSeg
	for len(s) > 0 {
		switch s[0] {
		case '.':
			s = s[1:]
			i := 0
			for i < len(s) && s[i] != '.' && s[i] != '[' {
				i++
			}
			segs = append(segs, jsonPathSeg{key: s[:i], index: -1})
			s = s[i:]
		case '[':
			end := strings.IndexByte(s, ']')
			if end < 0 {
				return nil, fmt.Errorf("malformed json path %q", path)
			}
			n, err := strconvAtoi(s[1:end])
			if err != nil {
				return nil, err
			}
			segs = append(segs, jsonPathSeg{index: n})
			s = s[end+1:]
		default:
			return nil, fmt.Errorf("malformed json path %q", path)
		}
	}
	return segs, nil
}

func strconvAtoi(s string) (int, error) {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("not a number: %q", s)
		}
		n = n*10 + int(r-'0')
	}
	return n, nil
}

// Package schema holds the evolving data-model as declared through the
// data-model DSL: an append-only history of schema versions, each an
// immutable snapshot of entity declarations, with the evolution rules
// enforced on every update.
package schema

import (
	"fmt"
	"sync"

	"github.com/opentracing/opentracing-go"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/discretlib/discret-go/errs"
	"github.com/discretlib/discret-go/ql/ast"
	"github.com/discretlib/discret-go/ql/datamodel"
)

// Version is a monotonically increasing schema version: each accepted
// Update allocates a new schema version monotonically.
type Version int

// FieldDecl is one field of an EntityDecl, keeping the parsed AST type
// plus evolution bookkeeping.
type FieldDecl struct {
	Name       string
	Deprecated bool
	Type       datamodel.FieldType
}

// EntityDecl is the registry's resolved view of one namespaced entity at
// a point in its evolution.
type EntityDecl struct {
	Name       string
	Deprecated bool
	Flags      map[string]datamodel.Flag
	Fields     []FieldDecl
	fieldIndex map[string]int
	Indices    []datamodel.Index
}

// Field looks up a field declaration by name.
func (e *EntityDecl) Field(name string) (FieldDecl, bool) {
	i, ok := e.fieldIndex[name]
	if !ok {
		return FieldDecl{}, false
	}
	return e.Fields[i], true
}

func (e *EntityDecl) clone() *EntityDecl {
	c := &EntityDecl{
		Name:       e.Name,
		Deprecated: e.Deprecated,
		Flags:      make(map[string]datamodel.Flag, len(e.Flags)),
		Fields:     append([]FieldDecl(nil), e.Fields...),
		fieldIndex: make(map[string]int, len(e.fieldIndex)),
		Indices:    append([]datamodel.Index(nil), e.Indices...),
	}
	for k, v := range e.Flags {
		c.Flags[k] = v
	}
	for k, v := range e.fieldIndex {
		c.fieldIndex[k] = v
	}
	return c
}

var currentVersionGauge = prometheus.NewGauge(prometheus.GaugeOpts{
	Namespace: "discret",
	Subsystem: "schema",
	Name:      "current_version",
	Help:      "The most recently accepted schema version.",
})

func init() {
	prometheus.MustRegister(currentVersionGauge)
}

// Registry is the read-mostly schema state, behind an RWMutex: reads
// are far more frequent than the occasional schema update.
type Registry struct {
	mu      sync.RWMutex
	version Version
	current map[string]*EntityDecl
	history map[Version]map[string]*EntityDecl
	tracer  opentracing.Tracer
}

// New creates an empty Registry at version 0.
func New() *Registry {
	return &Registry{
		current: map[string]*EntityDecl{},
		history: map[Version]map[string]*EntityDecl{0: {}},
		tracer:  opentracing.GlobalTracer(),
	}
}

// CurrentVersion returns the most recently accepted version.
func (r *Registry) CurrentVersion() Version {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.version
}

// Resolve looks up an entity's declaration as it existed at the given
// schema version.
func (r *Registry) Resolve(name string, version Version) (*EntityDecl, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snap, ok := r.history[version]
	if !ok {
		return nil, false
	}
	e, ok := snap[name]
	return e, ok
}

// Entities returns every entity declared at the current schema version,
// in no particular order — used by callers that must walk every known
// entity rather than resolve one by name, e.g. the sync protocol's
// advertise step.
func (r *Registry) Entities() []*EntityDecl {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*EntityDecl, 0, len(r.current))
	for _, e := range r.current {
		out = append(out, e)
	}
	return out
}

// Update parses DSL text and applies it to the current schema, rejecting
// the whole update if any entity violates the evolution rules. On
// success it allocates and returns the new Version.
func (r *Registry) Update(dsl string) (Version, error) {
	span := r.tracer.StartSpan("schema.Update")
	defer span.Finish()

	file, err := datamodel.Parse(dsl)
	if err != nil {
		return 0, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	next := map[string]*EntityDecl{}
	for k, v := range r.current {
		next[k] = v
	}

	for _, e := range file.Entities {
		prior, existed := r.current[e.Name]
		updated, err := applyEntity(prior, e)
		if err != nil {
			return 0, errs.WithKind(fmt.Errorf("entity %s: %w", e.Name, err), errs.SchemaViolation)
		}
		_ = existed
		next[e.Name] = updated
	}

	r.version++
	r.current = next
	r.history[r.version] = next
	currentVersionGauge.Set(float64(r.version))
	return r.version, nil
}

// applyEntity merges a newly-parsed entity declaration onto its prior
// declaration (nil if the entity is new), enforcing the evolution rules:
// adds are allowed; removals/renames/type changes/nullability
// narrowing/flag tightening are rejected.
func applyEntity(prior *EntityDecl, parsed *datamodel.Entity) (*EntityDecl, error) {
	if prior == nil {
		decl := &EntityDecl{
			Name:       parsed.Name,
			Deprecated: parsed.Deprecated,
			Flags:      map[string]datamodel.Flag{},
			fieldIndex: map[string]int{},
		}
		for _, f := range parsed.Fields {
			decl.fieldIndex[f.Name] = len(decl.Fields)
			decl.Fields = append(decl.Fields, FieldDecl{Name: f.Name, Deprecated: f.Deprecated, Type: f.Type})
		}
		for _, fl := range parsed.Flags {
			decl.Flags[fl.Name] = fl
		}
		decl.Indices = append(decl.Indices, parsed.Indices...)
		return decl, nil
	}

	next := prior.clone()
	next.Deprecated = next.Deprecated || parsed.Deprecated

	seen := map[string]bool{}
	for _, f := range parsed.Fields {
		seen[f.Name] = true
		if i, existed := next.fieldIndex[f.Name]; existed {
			old := next.Fields[i]
			if err := checkFieldEvolution(old.Type, f.Type); err != nil {
				return nil, fmt.Errorf("field %s: %w", f.Name, err)
			}
			next.Fields[i] = FieldDecl{
				Name:       f.Name,
				Deprecated: old.Deprecated || f.Deprecated,
				Type:       f.Type,
			}
		} else {
			next.fieldIndex[f.Name] = len(next.Fields)
			next.Fields = append(next.Fields, FieldDecl{Name: f.Name, Deprecated: f.Deprecated, Type: f.Type})
		}
	}
	for _, old := range prior.Fields {
		if !seen[old.Name] && !old.Deprecated {
			// A field silently absent from a re-declaration is neither
			// a removal (rejected) nor present: the DSL always lists a
			// complete entity body, so treat it as an implicit removal.
			return nil, fmt.Errorf("field %s: cannot be removed, mark @deprecated instead", old.Name)
		}
	}

	for _, fl := range parsed.Flags {
		name := fl.Name
		if old, existed := next.Flags[name]; existed {
			if err := checkFlagEvolution(old, fl); err != nil {
				return nil, fmt.Errorf("flag %s: %w", name, err)
			}
		}
		next.Flags[name] = fl
	}

	next.Indices = append(next.Indices, parsed.Indices...)
	return next, nil
}

func checkFieldEvolution(oldType, newType datamodel.FieldType) error {
	if oldType.Scalar != "" && newType.Scalar != "" && oldType.Scalar != newType.Scalar {
		return fmt.Errorf("scalar type change %s -> %s is rejected", oldType.Scalar, newType.Scalar)
	}
	if oldType.EntityRef != "" && newType.EntityRef != "" && oldType.EntityRef != newType.EntityRef {
		return fmt.Errorf("reference type change %s -> %s is rejected", oldType.EntityRef, newType.EntityRef)
	}
	if oldType.ArrayOf != "" && newType.ArrayOf != "" && oldType.ArrayOf != newType.ArrayOf {
		return fmt.Errorf("array reference type change %s -> %s is rejected", oldType.ArrayOf, newType.ArrayOf)
	}
	if oldType.Nullable && !newType.Nullable {
		return fmt.Errorf("narrowing nullable true -> false is rejected")
	}
	return nil
}

// checkFlagEvolution enforces that feature flags may be relaxed but not
// tightened; a boolean flag argument may only go false->true.
func checkFlagEvolution(old, new datamodel.Flag) error {
	if len(old.Args) == 0 || len(new.Args) == 0 {
		return nil
	}
	oldLit, newLit := old.Args[0].Lit, new.Args[0].Lit
	if oldLit == nil || newLit == nil || oldLit.Kind != newLit.Kind {
		return nil
	}
	if oldLit.Kind == ast.LitBool && oldLit.Bool && !newLit.Bool {
		return fmt.Errorf("tightening flag %s true -> false is rejected", new.Name)
	}
	return nil
}

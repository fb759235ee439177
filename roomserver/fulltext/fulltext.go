// Package fulltext implements the planner's search(...) term resolution
// with one in-memory bleve index per full-text-enabled entity,
// maintained alongside the SQL table by the mutation and deletion
// executors.
//
// This package's call shape follows blevesearch/bleve's documented API
// directly rather than an established idiom elsewhere in this tree, the
// same treatment already applied to the discovery package's
// pinecone/yggdrasil adapters; check the pinned bleve/v2 version in
// go.mod before relying on it.
package fulltext

import (
	"fmt"
	"sync"

	"github.com/blevesearch/bleve/v2"

	"github.com/discretlib/discret-go/ql/ast"
	"github.com/discretlib/discret-go/schema"
)

const flagName = "full_text"

// Enabled reports whether entity should be indexed: an explicit
// `full_text: false` flag disables it, a bare `full_text` (or
// `full_text: true`) enables it, and otherwise the config-level
// default applies.
func Enabled(entity *schema.EntityDecl, defaultOn bool) bool {
	flag, ok := entity.Flags[flagName]
	if !ok {
		return defaultOn
	}
	if len(flag.Args) == 0 {
		return true
	}
	if lit := flag.Args[0].Lit; lit != nil && lit.Kind == ast.LitBool {
		return lit.Bool
	}
	return true
}

// Index owns one in-memory bleve index per indexed entity.
type Index struct {
	mu      sync.RWMutex
	byName  map[string]bleve.Index
	deflt   bool
	reg     *schema.Registry
}

// New constructs an Index. defaultOn is config's full_text_index_default.
func New(reg *schema.Registry, defaultOn bool) *Index {
	return &Index{byName: map[string]bleve.Index{}, deflt: defaultOn, reg: reg}
}

func (ix *Index) indexFor(entity string) (bleve.Index, error) {
	ix.mu.RLock()
	idx, ok := ix.byName[entity]
	ix.mu.RUnlock()
	if ok {
		return idx, nil
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	if idx, ok := ix.byName[entity]; ok {
		return idx, nil
	}
	idx, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("create full-text index for %s: %w", entity, err)
	}
	ix.byName[entity] = idx
	return idx, nil
}

// IndexRow adds or replaces rowID's document in entity's index, built
// from every string field writeFieldValue assigned it — called by the
// mutation executor's writeBlock right after the row's upsert, inside
// the write transaction and before it commits.
func (ix *Index) IndexRow(entity, rowID string, fields map[string]string) error {
	version, ok := ix.reg.Resolve(entity, ix.reg.CurrentVersion())
	if !ok || !Enabled(version, ix.deflt) {
		return nil
	}
	idx, err := ix.indexFor(entity)
	if err != nil {
		return err
	}
	return idx.Index(rowID, fields)
}

// DeleteRow removes rowID from entity's index — called by the deletion
// executor's tombstone path so search(...) no longer surfaces it.
func (ix *Index) DeleteRow(entity, rowID string) error {
	ix.mu.RLock()
	idx, ok := ix.byName[entity]
	ix.mu.RUnlock()
	if !ok {
		return nil
	}
	return idx.Delete(rowID)
}

// Search implements internal.FullTextSearcher: term is matched against
// every indexed field of entity's documents, returning matching row ids
// in bleve's relevance-ranked order.
func (ix *Index) Search(entity string, term interface{}) ([]string, error) {
	ix.mu.RLock()
	idx, ok := ix.byName[entity]
	ix.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	text, ok := term.(string)
	if !ok {
		return nil, fmt.Errorf("search(%s): term must be a string", entity)
	}
	query := bleve.NewMatchQuery(text)
	req := bleve.NewSearchRequest(query)
	res, err := idx.Search(req)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", entity, err)
	}
	ids := make([]string, len(res.Hits))
	for i, hit := range res.Hits {
		ids[i] = hit.ID
	}
	return ids, nil
}

// Close releases every per-entity index's resources.
func (ix *Index) Close() error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	var firstErr error
	for _, idx := range ix.byName {
		if err := idx.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

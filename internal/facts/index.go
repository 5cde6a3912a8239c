package facts

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/factgate/factgate/internal/model"
)

// SearchScope restricts which derived index a search consults
type SearchScope string

const (
	ScopeAlias   SearchScope = "alias"
	ScopePattern SearchScope = "pattern"
	ScopeFamily  SearchScope = "family"
)

// Snapshot is an immutable view of one family's fact index. All derived
// maps are built together before the snapshot becomes visible, so readers
// observe either the fully-old or fully-new index, never a mix.
type Snapshot struct {
	Family  model.Family
	Version string // SHA-256 of the raw source definition

	records   []*model.FactRecord // Insertion order, for tie-breaking
	byID      map[string]*model.FactRecord
	byAlias   map[string][]*model.FactRecord // Lowercased alias -> records
	byPattern map[string]*model.FactRecord   // Pattern signature -> owning record
	order     map[string]int                 // id -> insertion position
}

// newSnapshot builds all lookup structures from normalized records.
// Every record reachable from a derived index is present in byID.
func newSnapshot(family model.Family, version string, records []*model.FactRecord) (*Snapshot, error) {
	s := &Snapshot{
		Family:    family,
		Version:   version,
		records:   records,
		byID:      make(map[string]*model.FactRecord, len(records)),
		byAlias:   make(map[string][]*model.FactRecord),
		byPattern: make(map[string]*model.FactRecord),
		order:     make(map[string]int, len(records)),
	}

	for i, rec := range records {
		if _, dup := s.byID[rec.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate fact id %q", model.ErrSourceCorrupt, rec.ID)
		}
		s.byID[rec.ID] = rec
		s.order[rec.ID] = i

		for _, alias := range rec.Aliases {
			key := strings.ToLower(alias)
			s.byAlias[key] = append(s.byAlias[key], rec)
		}
		// The display name is searchable like an alias
		if rec.DisplayName != "" {
			key := strings.ToLower(rec.DisplayName)
			s.byAlias[key] = append(s.byAlias[key], rec)
		}

		for _, p := range rec.RawPatterns {
			s.byPattern[patternSignature(p)] = rec
		}
	}

	return s, nil
}

// patternSignature identifies a compiled pattern within the index
func patternSignature(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// Lookup returns the record for an id, or ErrNotFound
func (s *Snapshot) Lookup(id string) (*model.FactRecord, error) {
	rec, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: fact %q", model.ErrNotFound, id)
	}
	return rec, nil
}

// Records returns all records in insertion order
func (s *Snapshot) Records() []*model.FactRecord {
	return s.records
}

// Len returns the number of records in the snapshot
func (s *Snapshot) Len() int {
	return len(s.records)
}

// Search finds records matching the query within the given scope.
// Ties break exact-match-first, then shortest display name, then
// insertion order.
func (s *Snapshot) Search(query string, scope SearchScope) []*model.FactRecord {
	q := strings.ToLower(strings.TrimSpace(query))

	type ranked struct {
		rec   *model.FactRecord
		exact bool
	}
	var hits []ranked
	seen := make(map[string]bool)

	add := func(rec *model.FactRecord, exact bool) {
		if seen[rec.ID] {
			return
		}
		seen[rec.ID] = true
		hits = append(hits, ranked{rec: rec, exact: exact})
	}

	switch scope {
	case ScopeAlias:
		for _, rec := range s.byAlias[q] {
			add(rec, true)
		}
		for alias, recs := range s.byAlias {
			if alias != q && strings.Contains(alias, q) {
				for _, rec := range recs {
					add(rec, false)
				}
			}
		}

	case ScopePattern:
		if rec, ok := s.byPattern[patternSignature(query)]; ok {
			add(rec, true)
		}
		for _, rec := range s.records {
			for _, re := range rec.Patterns {
				if re.MatchString(query) {
					add(rec, false)
					break
				}
			}
		}

	case ScopeFamily:
		if model.Family(q) == s.Family || q == "" {
			for _, rec := range s.records {
				add(rec, false)
			}
		}
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].exact != hits[j].exact {
			return hits[i].exact
		}
		li, lj := len(hits[i].rec.DisplayName), len(hits[j].rec.DisplayName)
		if li != lj {
			return li < lj
		}
		return s.order[hits[i].rec.ID] < s.order[hits[j].rec.ID]
	})

	out := make([]*model.FactRecord, len(hits))
	for i, h := range hits {
		out[i] = h.rec
	}
	return out
}

// Index holds the current snapshot per family. Readers take a snapshot
// handle and never block each other; Reload rebuilds on a private copy
// and publishes with a single atomic pointer swap.
type Index struct {
	loader *Loader

	mu       sync.Mutex // Guards the families map shape, not snapshot reads
	families map[model.Family]*atomic.Pointer[Snapshot]
}

// NewIndex creates an index backed by the given loader
func NewIndex(loader *Loader) *Index {
	return &Index{
		loader:   loader,
		families: make(map[model.Family]*atomic.Pointer[Snapshot]),
	}
}

// Snapshot returns the current snapshot for a family, loading it on
// first access.
func (ix *Index) Snapshot(family model.Family) (*Snapshot, error) {
	ix.mu.Lock()
	ptr, ok := ix.families[family]
	if !ok {
		ptr = &atomic.Pointer[Snapshot]{}
		ix.families[family] = ptr
	}
	ix.mu.Unlock()

	if snap := ptr.Load(); snap != nil {
		return snap, nil
	}
	return ix.reload(family, ptr)
}

// Reload rebuilds a family's snapshot from source and swaps it in
// atomically. Concurrent readers keep the old snapshot until the swap.
func (ix *Index) Reload(family model.Family) (*Snapshot, error) {
	ix.mu.Lock()
	ptr, ok := ix.families[family]
	if !ok {
		ptr = &atomic.Pointer[Snapshot]{}
		ix.families[family] = ptr
	}
	ix.mu.Unlock()

	return ix.reload(family, ptr)
}

func (ix *Index) reload(family model.Family, ptr *atomic.Pointer[Snapshot]) (*Snapshot, error) {
	snap, err := ix.loader.Load(family)
	if err != nil {
		return nil, err
	}
	ptr.Store(snap)
	return snap, nil
}

package facts

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"

	"github.com/factgate/factgate/internal/model"
)

// shapeAdapter normalizes one raw fact-definition shape into canonical
// FactRecords. Fact sources have accumulated several layouts over time;
// each adapter owns exactly one of them, selected by top-level keys, so
// no call site ever branches on shape.
type shapeAdapter interface {
	// Name returns the adapter name
	Name() string

	// CanHandle checks if this adapter recognizes the document's top-level keys
	CanHandle(top map[string]json.RawMessage) bool

	// Normalize produces canonical records from the raw document
	Normalize(top map[string]json.RawMessage, family model.Family) ([]*model.FactRecord, error)
}

// adapterRegistry holds the known shape adapters in selection order
var adapterRegistry = []shapeAdapter{
	&catalogAdapter{},
	&featureMapAdapter{},
	&legacyListAdapter{},
}

// selectAdapter finds the adapter for a raw fact source, or fails when no
// shape matches. An unrecognized shape is a corrupt source, not a fallback.
func selectAdapter(top map[string]json.RawMessage) (shapeAdapter, error) {
	for _, a := range adapterRegistry {
		if a.CanHandle(top) {
			return a, nil
		}
	}
	return nil, fmt.Errorf("%w: unrecognized fact source shape", model.ErrSourceCorrupt)
}

// compilePatterns compiles raw pattern strings, failing the whole load on
// any invalid expression. Loading is all-or-nothing.
func compilePatterns(raw []string) ([]*regexp.Regexp, error) {
	patterns := make([]*regexp.Regexp, 0, len(raw))
	for _, p := range raw {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("compile pattern %q: %w", p, err)
		}
		patterns = append(patterns, re)
	}
	return patterns, nil
}

// catalogAdapter handles the current canonical shape:
//
//	{"facts": [{"id": ..., "display_name": ..., "aliases": [...], ...}]}
type catalogAdapter struct{}

func (a *catalogAdapter) Name() string { return "catalog" }

func (a *catalogAdapter) CanHandle(top map[string]json.RawMessage) bool {
	_, ok := top["facts"]
	return ok
}

func (a *catalogAdapter) Normalize(top map[string]json.RawMessage, family model.Family) ([]*model.FactRecord, error) {
	var entries []struct {
		ID           string            `json:"id"`
		DisplayName  string            `json:"display_name"`
		Aliases      []string          `json:"aliases"`
		Patterns     []string          `json:"patterns"`
		Dependencies []string          `json:"dependencies"`
		Metadata     map[string]string `json:"metadata"`
	}
	if err := json.Unmarshal(top["facts"], &entries); err != nil {
		return nil, fmt.Errorf("parse facts array: %w", err)
	}

	records := make([]*model.FactRecord, 0, len(entries))
	for _, e := range entries {
		if e.ID == "" {
			return nil, fmt.Errorf("fact record missing id")
		}
		patterns, err := compilePatterns(e.Patterns)
		if err != nil {
			return nil, err
		}
		records = append(records, &model.FactRecord{
			ID:           e.ID,
			DisplayName:  e.DisplayName,
			Aliases:      e.Aliases,
			Patterns:     patterns,
			RawPatterns:  e.Patterns,
			Family:       family,
			Dependencies: e.Dependencies,
			Metadata:     e.Metadata,
		})
	}
	return records, nil
}

// featureMapAdapter handles the feature-registry shape exported by the
// product catalog service:
//
//	{"features": {"auto-save": {"name": ..., "aka": [...], "match": [...], "requires": [...]}}}
//
// Map iteration order is not stable, so records are sorted by id to keep
// index insertion order deterministic across loads.
type featureMapAdapter struct{}

func (a *featureMapAdapter) Name() string { return "feature-map" }

func (a *featureMapAdapter) CanHandle(top map[string]json.RawMessage) bool {
	_, ok := top["features"]
	return ok
}

func (a *featureMapAdapter) Normalize(top map[string]json.RawMessage, family model.Family) ([]*model.FactRecord, error) {
	var entries map[string]struct {
		Name     string            `json:"name"`
		Aka      []string          `json:"aka"`
		Match    []string          `json:"match"`
		Requires []string          `json:"requires"`
		Meta     map[string]string `json:"meta"`
	}
	if err := json.Unmarshal(top["features"], &entries); err != nil {
		return nil, fmt.Errorf("parse features map: %w", err)
	}

	ids := make([]string, 0, len(entries))
	for id := range entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	records := make([]*model.FactRecord, 0, len(entries))
	for _, id := range ids {
		e := entries[id]
		patterns, err := compilePatterns(e.Match)
		if err != nil {
			return nil, err
		}
		records = append(records, &model.FactRecord{
			ID:           id,
			DisplayName:  e.Name,
			Aliases:      e.Aka,
			Patterns:     patterns,
			RawPatterns:  e.Match,
			Family:       family,
			Dependencies: e.Requires,
			Metadata:     e.Meta,
		})
	}
	return records, nil
}

// legacyListAdapter handles the pre-catalog export shape still present in
// older family definitions:
//
//	{"entries": [{"key": ..., "label": ..., "terms": [...], "regex": ..., "needs": [...]}]}
type legacyListAdapter struct{}

func (a *legacyListAdapter) Name() string { return "legacy-list" }

func (a *legacyListAdapter) CanHandle(top map[string]json.RawMessage) bool {
	_, ok := top["entries"]
	return ok
}

func (a *legacyListAdapter) Normalize(top map[string]json.RawMessage, family model.Family) ([]*model.FactRecord, error) {
	var entries []struct {
		Key   string   `json:"key"`
		Label string   `json:"label"`
		Terms []string `json:"terms"`
		Regex string   `json:"regex"`
		Needs []string `json:"needs"`
	}
	if err := json.Unmarshal(top["entries"], &entries); err != nil {
		return nil, fmt.Errorf("parse entries array: %w", err)
	}

	records := make([]*model.FactRecord, 0, len(entries))
	for _, e := range entries {
		if e.Key == "" {
			return nil, fmt.Errorf("legacy entry missing key")
		}
		var raw []string
		if e.Regex != "" {
			raw = []string{e.Regex}
		}
		patterns, err := compilePatterns(raw)
		if err != nil {
			return nil, err
		}
		records = append(records, &model.FactRecord{
			ID:           e.Key,
			DisplayName:  e.Label,
			Aliases:      e.Terms,
			Patterns:     patterns,
			RawPatterns:  raw,
			Family:       family,
			Dependencies: e.Needs,
		})
	}
	return records, nil
}

package model

import "regexp"

// Family partitions the fact universe (e.g., a product line)
type Family string

const (
	FamilyCore       Family = "core"       // Platform core capabilities
	FamilyDesktop    Family = "desktop"    // Desktop client features
	FamilyMobile     Family = "mobile"     // Mobile client features
	FamilyEnterprise Family = "enterprise" // Enterprise/admin features
)

// FactRecord is a known detectable entity with aliases and match patterns.
// Records are immutable once loaded; a reload replaces the whole index,
// never a single record in place.
type FactRecord struct {
	ID           string            `json:"id"`                     // Unique identifier
	DisplayName  string            `json:"display_name"`           // Canonical human-readable name
	Aliases      []string          `json:"aliases,omitempty"`      // Alternate spellings/names
	Patterns     []*regexp.Regexp  `json:"-"`                      // Compiled detection patterns
	RawPatterns  []string          `json:"patterns,omitempty"`     // Pattern sources (kept for hashing)
	Family       Family            `json:"family"`                 // Grouping tag
	Dependencies []string          `json:"dependencies,omitempty"` // IDs that must co-occur
	Metadata     map[string]string `json:"metadata,omitempty"`     // Opaque key/value pairs
}

// HasAlias reports whether the record carries the given alias (exact,
// case-insensitive matching is the caller's concern).
func (f *FactRecord) HasAlias(alias string) bool {
	for _, a := range f.Aliases {
		if a == alias {
			return true
		}
	}
	return false
}

// CombinationRule constrains which facts may or must co-occur in one
// document. It is a pure function of the detected id set.
type CombinationRule struct {
	Name         string   `json:"name" yaml:"name"`                                   // Rule identifier for reporting
	RequiredIDs  []string `json:"required_ids,omitempty" yaml:"required_ids"`         // All must co-occur
	ForbiddenIDs []string `json:"forbidden_ids,omitempty" yaml:"forbidden_ids"`       // None may co-occur
	Message      string   `json:"message" yaml:"message"`                             // Explanation on violation
}

// Violated checks the rule against the set of detected fact ids.
// A required-set rule only fires when at least one required id is present:
// a document mentioning neither AutoSave nor CloudSync does not violate
// "AutoSave requires CloudSync".
func (r *CombinationRule) Violated(detected map[string]bool) bool {
	if len(r.RequiredIDs) > 0 {
		anyPresent := false
		allPresent := true
		for _, id := range r.RequiredIDs {
			if detected[id] {
				anyPresent = true
			} else {
				allPresent = false
			}
		}
		if anyPresent && !allPresent {
			return true
		}
	}

	if len(r.ForbiddenIDs) > 1 {
		present := 0
		for _, id := range r.ForbiddenIDs {
			if detected[id] {
				present++
			}
		}
		if present > 1 {
			return true
		}
	}

	return false
}

package facts

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/factgate/factgate/internal/cache"
	"github.com/factgate/factgate/internal/model"
)

// staticSource serves fact definitions from memory
type staticSource map[model.Family][]byte

func (s staticSource) LoadFactSource(family model.Family) ([]byte, error) {
	raw, ok := s[family]
	if !ok {
		return nil, fmt.Errorf("%w: %s", model.ErrSourceMissing, family)
	}
	return raw, nil
}

func TestLoader_Load_CatalogShape(t *testing.T) {
	source := staticSource{model.FamilyCore: []byte(`{
		"facts": [
			{"id": "auto-save", "display_name": "AutoSave", "aliases": ["autosave"], "dependencies": ["cloud-sync"]},
			{"id": "cloud-sync", "display_name": "CloudSync", "patterns": ["(?i)cloud\\s+sync"]}
		]
	}`)}

	snap, err := NewLoader(source, nil).Load(model.FamilyCore)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if snap.Len() != 2 {
		t.Fatalf("Len = %d, want 2", snap.Len())
	}
	rec, err := snap.Lookup("auto-save")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if rec.DisplayName != "AutoSave" {
		t.Errorf("DisplayName = %q, want AutoSave", rec.DisplayName)
	}
	if rec.Family != model.FamilyCore {
		t.Errorf("Family = %q, want core", rec.Family)
	}
	if len(rec.Dependencies) != 1 || rec.Dependencies[0] != "cloud-sync" {
		t.Errorf("Dependencies = %v, want [cloud-sync]", rec.Dependencies)
	}

	cs, _ := snap.Lookup("cloud-sync")
	if len(cs.Patterns) != 1 {
		t.Fatalf("patterns = %d, want 1 compiled", len(cs.Patterns))
	}
	if !cs.Patterns[0].MatchString("Cloud  Sync") {
		t.Error("compiled pattern should match")
	}
}

func TestLoader_Load_FeatureMapShape(t *testing.T) {
	source := staticSource{model.FamilyDesktop: []byte(`{
		"features": {
			"dark-mode": {"name": "DarkMode", "aka": ["dark mode"]},
			"auto-save": {"name": "AutoSave", "requires": ["cloud-sync"]}
		}
	}`)}

	snap, err := NewLoader(source, nil).Load(model.FamilyDesktop)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if snap.Len() != 2 {
		t.Fatalf("Len = %d, want 2", snap.Len())
	}

	// Map shape normalizes to sorted insertion order
	records := snap.Records()
	if records[0].ID != "auto-save" || records[1].ID != "dark-mode" {
		t.Errorf("order = [%s, %s], want sorted by id", records[0].ID, records[1].ID)
	}
}

func TestLoader_Load_LegacyListShape(t *testing.T) {
	source := staticSource{model.FamilyMobile: []byte(`{
		"entries": [
			{"key": "push", "label": "Push Notifications", "terms": ["push"], "regex": "(?i)push\\s+notif"}
		]
	}`)}

	snap, err := NewLoader(source, nil).Load(model.FamilyMobile)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	rec, err := snap.Lookup("push")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if rec.DisplayName != "Push Notifications" {
		t.Errorf("DisplayName = %q", rec.DisplayName)
	}
	if len(rec.Patterns) != 1 {
		t.Errorf("patterns = %d, want 1", len(rec.Patterns))
	}
}

func TestLoader_Load_YAMLSource(t *testing.T) {
	source := staticSource{model.FamilyCore: []byte(`
facts:
  - id: auto-save
    display_name: AutoSave
    aliases: [autosave]
`)}

	snap, err := NewLoader(source, nil).Load(model.FamilyCore)
	if err != nil {
		t.Fatalf("Load YAML: %v", err)
	}
	if snap.Len() != 1 {
		t.Errorf("Len = %d, want 1", snap.Len())
	}
}

func TestLoader_Load_Errors(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr error
	}{
		{"unknown shape", `{"mystery": []}`, model.ErrSourceCorrupt},
		{"invalid json", `{"facts": [`, model.ErrSourceCorrupt},
		{"missing id", `{"facts": [{"display_name": "X"}]}`, model.ErrSourceCorrupt},
		{"bad pattern", `{"facts": [{"id": "x", "patterns": ["["]}]}`, model.ErrSourceCorrupt},
		{"duplicate id", `{"facts": [{"id": "x"}, {"id": "x"}]}`, model.ErrSourceCorrupt},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			source := staticSource{model.FamilyCore: []byte(tt.raw)}
			_, err := NewLoader(source, nil).Load(model.FamilyCore)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoader_Load_SourceMissing(t *testing.T) {
	_, err := NewLoader(staticSource{}, nil).Load(model.FamilyCore)
	if !errors.Is(err, model.ErrSourceMissing) {
		t.Errorf("err = %v, want ErrSourceMissing", err)
	}
}

func TestLoader_Load_CachesRawSource(t *testing.T) {
	c := cache.NewMemoryCache(8, time.Minute)
	source := staticSource{model.FamilyCore: []byte(`{"facts": [{"id": "x"}]}`)}
	loader := NewLoader(source, c)

	if _, err := loader.Load(model.FamilyCore); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Len() == 0 {
		t.Error("raw source should be cached after load")
	}

	// Second load works even if the source disappears
	delete(source, model.FamilyCore)
	if _, err := loader.Load(model.FamilyCore); err != nil {
		t.Errorf("cached load failed: %v", err)
	}
}

func TestVersionHash_Stable(t *testing.T) {
	a := VersionHash([]byte("content"))
	b := VersionHash([]byte("content"))
	c := VersionHash([]byte("different"))

	if a != b {
		t.Error("identical content produced different hashes")
	}
	if a == c {
		t.Error("different content produced the same hash")
	}
	if len(a) != 64 {
		t.Errorf("hash length = %d, want 64 hex chars", len(a))
	}
}

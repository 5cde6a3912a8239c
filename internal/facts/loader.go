package facts

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/factgate/factgate/internal/cache"
	"github.com/factgate/factgate/internal/model"
)

// SourceReader supplies raw fact definitions. The filesystem store
// implements it for local runs; deployments back it with their own
// persistence.
type SourceReader interface {
	// LoadFactSource returns the raw definition bytes for a family,
	// or model.ErrSourceMissing when none exists.
	LoadFactSource(family model.Family) ([]byte, error)
}

// Loader turns raw fact sources into index snapshots. Loading is
// all-or-nothing: any parse or compile failure fails the whole load
// with ErrSourceCorrupt and no partial index is ever returned.
type Loader struct {
	source SourceReader
	cache  cache.Cache // Optional; memoizes raw source bytes
}

// NewLoader creates a loader over the given source. cache may be nil.
func NewLoader(source SourceReader, c cache.Cache) *Loader {
	return &Loader{source: source, cache: c}
}

// Load reads, normalizes, and indexes one family's definitions.
func (l *Loader) Load(family model.Family) (*Snapshot, error) {
	raw, err := l.readSource(family)
	if err != nil {
		return nil, err
	}

	version := VersionHash(raw)

	top, err := decodeTopLevel(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrSourceCorrupt, err)
	}

	adapter, err := selectAdapter(top)
	if err != nil {
		return nil, err
	}

	records, err := adapter.Normalize(top, family)
	if err != nil {
		return nil, fmt.Errorf("%w: %s adapter: %v", model.ErrSourceCorrupt, adapter.Name(), err)
	}

	return newSnapshot(family, version, records)
}

// readSource fetches raw bytes, going through the cache when present
func (l *Loader) readSource(family model.Family) ([]byte, error) {
	key := cache.Key("facts", string(family))

	if l.cache != nil {
		if raw, ok := l.cache.Get(key); ok {
			return raw, nil
		}
	}

	raw, err := l.source.LoadFactSource(family)
	if err != nil {
		return nil, err
	}

	if l.cache != nil {
		// Default TTL; eviction is the cache's policy, not ours
		_ = l.cache.Set(key, raw, 0)
	}
	return raw, nil
}

// VersionHash returns the content hash used to version an index so
// callers can detect staleness without reparsing.
func VersionHash(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// decodeTopLevel parses the raw source into top-level JSON fragments.
// YAML sources are converted through an intermediate structure first so
// the shape adapters only ever see JSON.
func decodeTopLevel(raw []byte) (map[string]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty source")
	}

	if trimmed[0] == '{' {
		var top map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &top); err != nil {
			return nil, fmt.Errorf("parse JSON: %w", err)
		}
		return top, nil
	}

	// YAML path: decode generically, then re-encode as JSON
	var doc map[string]interface{}
	if err := yaml.Unmarshal(trimmed, &doc); err != nil {
		return nil, fmt.Errorf("parse YAML: %w", err)
	}
	jsonBytes, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("convert YAML: %w", err)
	}
	var top map[string]json.RawMessage
	if err := json.Unmarshal(jsonBytes, &top); err != nil {
		return nil, fmt.Errorf("parse converted YAML: %w", err)
	}
	return top, nil
}

package rules

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"gopkg.in/yaml.v3"

	"github.com/factgate/factgate/internal/model"
)

// Loader reads combination rule sets from per-family YAML files.
// Parsed sets are cached with a TTL so hot paths do not reparse on
// every run; edits show up after the TTL without a restart.
type Loader struct {
	dir   string
	cache *gocache.Cache
}

// NewLoader creates a rule loader over dir
func NewLoader(dir string, cacheTTL time.Duration) *Loader {
	if cacheTTL <= 0 {
		cacheTTL = 10 * time.Minute
	}
	return &Loader{
		dir:   dir,
		cache: gocache.New(cacheTTL, cacheTTL),
	}
}

// ruleFile is the on-disk shape: a single top-level rules list
type ruleFile struct {
	Rules []model.CombinationRule `yaml:"rules"`
}

// Load returns the rule set for a family. A missing rule file is not
// an error: families without rules simply have none.
func (l *Loader) Load(family model.Family) ([]model.CombinationRule, error) {
	key := string(family)
	if cached, found := l.cache.Get(key); found {
		return cached.([]model.CombinationRule), nil
	}

	path := filepath.Join(l.dir, fmt.Sprintf("%s.rules.yaml", family))
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			l.cache.Set(key, []model.CombinationRule(nil), gocache.DefaultExpiration)
			return nil, nil
		}
		return nil, fmt.Errorf("read rules for %s: %w", family, err)
	}

	var f ruleFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse rules for %s: %w", family, err)
	}

	seen := make(map[string]bool, len(f.Rules))
	for _, r := range f.Rules {
		if r.Name == "" {
			return nil, fmt.Errorf("rules for %s: rule without a name", family)
		}
		if seen[r.Name] {
			return nil, fmt.Errorf("rules for %s: duplicate rule %q", family, r.Name)
		}
		seen[r.Name] = true
	}

	l.cache.Set(key, f.Rules, gocache.DefaultExpiration)
	return f.Rules, nil
}

// Invalidate drops a family's cached rule set
func (l *Loader) Invalidate(family model.Family) {
	l.cache.Delete(string(family))
}

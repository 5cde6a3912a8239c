package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/factgate/factgate/internal/model"
)

// FSStore is the filesystem persistence used for local runs. Fact
// sources live under factsDir as <family>.json or <family>.yaml;
// results and recommendations are written under dataDir, one JSON file
// per idempotency key, so a retried write is a no-op.
type FSStore struct {
	factsDir string
	dataDir  string
}

// NewFSStore creates a store over the given directories
func NewFSStore(factsDir, dataDir string) *FSStore {
	return &FSStore{factsDir: factsDir, dataDir: dataDir}
}

// LoadFactSource reads a family's definition file, trying the known
// extensions in a fixed order.
func (s *FSStore) LoadFactSource(family model.Family) ([]byte, error) {
	for _, ext := range []string{".json", ".yaml", ".yml"} {
		path := filepath.Join(s.factsDir, string(family)+ext)
		raw, err := os.ReadFile(path)
		if err == nil {
			return raw, nil
		}
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read fact source %s: %w", path, err)
		}
	}
	return nil, fmt.Errorf("%w: no definition for family %q in %s", model.ErrSourceMissing, family, s.factsDir)
}

// StoreValidationResult persists a run report idempotently
func (s *FSStore) StoreValidationResult(ctx context.Context, report *model.RunReport, idempotencyKey string) (string, error) {
	return s.writeOnce(ctx, "results", idempotencyKey, report)
}

// StoreRecommendation persists one recommendation idempotently
func (s *FSStore) StoreRecommendation(ctx context.Context, rec model.Recommendation, idempotencyKey string) (string, error) {
	return s.writeOnce(ctx, "recommendations", idempotencyKey, rec)
}

// writeOnce writes value under a key-derived filename unless that file
// already exists. The derived id doubles as the stored row's identity,
// which is what makes retries safe.
func (s *FSStore) writeOnce(ctx context.Context, kind, idempotencyKey string, value interface{}) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if idempotencyKey == "" {
		return "", fmt.Errorf("idempotency key is required")
	}

	id := keyID(idempotencyKey)
	dir := filepath.Join(s.dataDir, kind)
	path := filepath.Join(dir, id+".json")

	if _, err := os.Stat(path); err == nil {
		return id, nil // Already persisted by an earlier attempt
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create %s dir: %w", kind, err)
	}

	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal %s: %w", kind, err)
	}

	// Write via temp file + rename so a crash never leaves a torn row
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return "", fmt.Errorf("write %s: %w", kind, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("commit %s: %w", kind, err)
	}

	return id, nil
}

func keyID(idempotencyKey string) string {
	sum := sha256.Sum256([]byte(idempotencyKey))
	return hex.EncodeToString(sum[:16])
}

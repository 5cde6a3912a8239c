package store

import (
	"context"

	"github.com/factgate/factgate/internal/model"
)

// Persistence is the contract toward the storage collaborator. All
// writes are idempotent under retry: calling again with the same
// idempotency key persists nothing new and returns the original id.
type Persistence interface {
	// StoreValidationResult persists a finished run report
	StoreValidationResult(ctx context.Context, report *model.RunReport, idempotencyKey string) (string, error)

	// StoreRecommendation persists one scored recommendation
	StoreRecommendation(ctx context.Context, rec model.Recommendation, idempotencyKey string) (string, error)

	// LoadFactSource returns raw fact definitions for a family, or
	// model.ErrSourceMissing when the family has none.
	LoadFactSource(family model.Family) ([]byte, error)
}

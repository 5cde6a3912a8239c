package engine

import (
	"context"

	"github.com/factgate/factgate/internal/facts"
	"github.com/factgate/factgate/internal/model"
)

// StageContext carries the document and the shared state stages build
// up during a run. Parallel tiers only read it; the sequential tier 3
// chain also writes Candidates, which is safe because those stages
// never overlap in time.
type StageContext struct {
	Doc        model.Document
	Snapshot   *facts.Snapshot
	Rules      []model.CombinationRule
	Candidates []model.MatchCandidate
}

// Stage is one validation step. Run returns a result even on failure;
// the error return is reserved for run-fatal conditions.
type Stage interface {
	ID() string
	Run(ctx context.Context, sc *StageContext) *model.StageResult
}

package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/factgate/factgate/internal/facts"
	"github.com/factgate/factgate/internal/llm"
	"github.com/factgate/factgate/internal/match"
	"github.com/factgate/factgate/internal/model"
	"github.com/factgate/factgate/internal/rules"
	"github.com/factgate/factgate/internal/score"
	"github.com/factgate/factgate/internal/store"
)

// reviewThreshold marks detections weak enough to need a human look
const reviewThreshold = 0.7

// Engine orchestrates document runs through the tiered plan. Tier 1
// and 2 stages run concurrently behind per-tier barriers; tier 3 runs
// its dependency chain sequentially. Runs are isolated: one failing
// run never affects another.
type Engine struct {
	cfg         *model.Config
	index       *facts.Index
	matcher     *match.Matcher
	rules       *rules.Loader
	scorer      *score.Scorer
	semantic    *llm.Validator
	persistence store.Persistence
	checkpoints CheckpointLog
	policy      RetryPolicy
	logger      *slog.Logger
	overrides   map[string]Stage

	sem chan struct{} // Caps concurrently executing runs

	mu   sync.RWMutex
	runs map[string]*run
}

// Options are the engine's collaborators. Index and Matcher are
// required; the rest default sensibly when nil.
type Options struct {
	Index       *facts.Index
	Matcher     *match.Matcher
	Rules       *rules.Loader
	Semantic    *llm.Validator
	Persistence store.Persistence
	Checkpoints CheckpointLog
	Logger      *slog.Logger
	Stages      map[string]Stage // Per-id overrides of the built-in stages
}

// New assembles an engine from config and collaborators
func New(cfg *model.Config, opts Options) *Engine {
	if cfg == nil {
		cfg = model.DefaultConfig()
	}
	maxRuns := cfg.Engine.MaxConcurrentRuns
	if maxRuns <= 0 {
		maxRuns = 1
	}
	checkpoints := opts.Checkpoints
	if checkpoints == nil {
		checkpoints = NewMemoryCheckpointLog()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	policy := RetryPolicy{
		MaxAttempts: cfg.Engine.MaxRetries,
		BaseDelay:   cfg.Engine.RetryBaseDelay,
		Multiplier:  2.0,
		MaxDelay:    cfg.Engine.RetryMaxDelay,
	}
	if policy.MaxAttempts <= 0 {
		policy = DefaultRetryPolicy()
	}

	return &Engine{
		cfg:         cfg,
		index:       opts.Index,
		matcher:     opts.Matcher,
		rules:       opts.Rules,
		scorer:      score.NewScorer(),
		semantic:    opts.Semantic,
		persistence: opts.Persistence,
		checkpoints: checkpoints,
		policy:      policy,
		logger:      logger,
		overrides:   opts.Stages,
		sem:         make(chan struct{}, maxRuns),
		runs:        make(map[string]*run),
	}
}

// run is the engine's private per-run state
type run struct {
	id     string
	doc    model.Document
	stages []string // Requested stage filter, empty means all
	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.Mutex
	state     model.RunState
	completed []string
	issues    []model.ValidationIssue
	report    *model.RunReport
}

func (r *run) setState(s model.RunState) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

// record folds a stage result into the run's observable progress
func (r *run) record(res *model.StageResult) {
	r.mu.Lock()
	if res.Outcome == model.StageSucceeded {
		r.completed = append(r.completed, res.StageID)
	}
	r.issues = append(r.issues, res.Issues...)
	r.mu.Unlock()
}

// Status is a point-in-time view of a run
type Status struct {
	RunID           string                  `json:"run_id"`
	State           model.RunState          `json:"state"`
	CompletedStages []string                `json:"completed_stages"`
	Issues          []model.ValidationIssue `json:"issues,omitempty"` // Findings so far
}

// SubmitDocument registers a run and schedules it. The returned run id
// is immediately queryable; execution starts once a slot frees up.
func (e *Engine) SubmitDocument(doc model.Document, stages ...string) (string, error) {
	return e.submit(uuid.NewString(), doc, stages)
}

// Resume schedules a run under an existing run id. Stages already
// checkpointed as succeeded for the same input are replayed from the
// log instead of re-executing.
func (e *Engine) Resume(runID string, doc model.Document, stages ...string) (string, error) {
	if runID == "" {
		return "", fmt.Errorf("resume requires a run id")
	}
	return e.submit(runID, doc, stages)
}

func (e *Engine) submit(runID string, doc model.Document, stages []string) (string, error) {
	if doc.Family == "" {
		return "", fmt.Errorf("%w: document declares no family", model.ErrPermanentRejected)
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &run{
		id:     runID,
		doc:    doc,
		stages: stages,
		cancel: cancel,
		done:   make(chan struct{}),
		state:  model.RunPending,
	}

	e.mu.Lock()
	if _, exists := e.runs[runID]; exists {
		e.mu.Unlock()
		cancel()
		return "", fmt.Errorf("run %s already registered", runID)
	}
	e.runs[runID] = r
	e.mu.Unlock()

	go func() {
		defer close(r.done)
		defer cancel()

		select {
		case e.sem <- struct{}{}:
			defer func() { <-e.sem }()
		case <-ctx.Done():
			e.finish(r, e.cancelledReport(r, time.Now()))
			return
		}

		e.execute(ctx, r)
	}()

	return runID, nil
}

// Run processes a document synchronously: submit, then wait
func (e *Engine) Run(ctx context.Context, doc model.Document, stages ...string) (*model.RunReport, error) {
	runID, err := e.SubmitDocument(doc, stages...)
	if err != nil {
		return nil, err
	}
	return e.Wait(ctx, runID)
}

// Wait blocks until the run finishes and returns its report
func (e *Engine) Wait(ctx context.Context, runID string) (*model.RunReport, error) {
	r, err := e.lookup(runID)
	if err != nil {
		return nil, err
	}
	select {
	case <-r.done:
		return e.GetRunReport(runID)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// GetRunStatus returns the current lifecycle state of a run
func (e *Engine) GetRunStatus(runID string) (*Status, error) {
	r, err := e.lookup(runID)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	completed := make([]string, len(r.completed))
	copy(completed, r.completed)
	issues := make([]model.ValidationIssue, len(r.issues))
	copy(issues, r.issues)
	return &Status{RunID: r.id, State: r.state, CompletedStages: completed, Issues: issues}, nil
}

// GetRunReport returns the final report of a finished run
func (e *Engine) GetRunReport(runID string) (*model.RunReport, error) {
	r, err := e.lookup(runID)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.report == nil {
		return nil, fmt.Errorf("run %s has not finished", runID)
	}
	return r.report, nil
}

// CancelRun requests cooperative cancellation. In-flight stages finish;
// the run stops at the next tier boundary.
func (e *Engine) CancelRun(runID string) error {
	r, err := e.lookup(runID)
	if err != nil {
		return err
	}
	r.cancel()
	return nil
}

func (e *Engine) lookup(runID string) (*run, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	r, ok := e.runs[runID]
	if !ok {
		return nil, fmt.Errorf("%w: run %s", model.ErrNotFound, runID)
	}
	return r, nil
}

// execute drives one run through the plan and records the report
func (e *Engine) execute(ctx context.Context, r *run) {
	started := time.Now()
	r.setState(model.RunRunning)
	e.logger.Info("run started", "run_id", r.id, "document", r.doc.Name, "family", r.doc.Family)

	plan := DefaultPlan().Filter(r.stages)

	snap, err := e.index.Snapshot(r.doc.Family)
	if err != nil {
		e.finish(r, e.fatalReport(r, started, fmt.Errorf("load fact index: %w", err)))
		return
	}

	var ruleSet []model.CombinationRule
	if e.rules != nil {
		ruleSet, err = e.rules.Load(r.doc.Family)
		if err != nil {
			e.finish(r, e.fatalReport(r, started, fmt.Errorf("load combination rules: %w", err)))
			return
		}
	}

	sc := &StageContext{
		Doc:      r.doc,
		Snapshot: snap,
		Rules:    ruleSet,
	}
	inputHash := runInputHash(r.doc, snap.Version)
	replay := e.replayLog(r.id, inputHash)
	registry := e.stageRegistry()

	var results []*model.StageResult
	cancelled := false

	for _, tier := range plan.Tiers {
		if ctx.Err() != nil {
			cancelled = true
			break
		}

		if tier.Sequential {
			results = append(results, e.runSequentialTier(ctx, r, tier, registry, sc, replay, inputHash)...)
		} else {
			results = append(results, e.runParallelTier(ctx, r, tier, registry, sc, replay, inputHash)...)
		}
	}

	if cancelled || ctx.Err() != nil {
		// Keep whatever finished; the report marks the run cancelled
		report := e.assembleReport(r, snap.Version, results, started)
		report.Status = model.StatusCancelled
		report.Err = model.ErrRunCancelled.Error()
		e.finish(r, report)
		return
	}

	report := e.assembleReport(r, snap.Version, results, started)
	e.persist(report)
	e.finish(r, report)
}

// runParallelTier executes a tier's stages concurrently and returns
// their results in plan order. A failing stage degrades the run; it
// never cancels its siblings.
func (e *Engine) runParallelTier(ctx context.Context, r *run, tier Tier, registry map[string]Stage, sc *StageContext, replay map[string]*model.StageResult, inputHash string) []*model.StageResult {
	results := make([]*model.StageResult, len(tier.Stages))

	var g errgroup.Group
	for i, stageID := range tier.Stages {
		i, stageID := i, stageID
		g.Go(func() error {
			results[i] = e.runStage(ctx, r, tier, registry[stageID], sc, replay, inputHash)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// runSequentialTier executes a dependency chain. A stage whose
// predecessor did not succeed is skipped with a dependency-unmet
// finding; the optional semantic stage may also end unavailable, which
// still blocks nothing after it because it is last in the chain.
func (e *Engine) runSequentialTier(ctx context.Context, r *run, tier Tier, registry map[string]Stage, sc *StageContext, replay map[string]*model.StageResult, inputHash string) []*model.StageResult {
	var results []*model.StageResult
	prevOK := true
	prevID := ""

	for _, stageID := range tier.Stages {
		// A cancelled run stops here; successors are simply not run,
		// they did not fail a dependency.
		if ctx.Err() != nil {
			break
		}
		if !prevOK {
			res := &model.StageResult{
				StageID: stageID,
				Tier:    tier.Number,
				Outcome: model.StageSkipped,
				Issues: []model.ValidationIssue{{
					Level:    model.LevelWarning,
					Category: model.CategoryDependencyUnmet,
					Message:  fmt.Sprintf("stage %q did not succeed, %q skipped", prevID, stageID),
					Source:   stageID,
				}},
				Err: model.ErrDependencyUnmet.Error(),
			}
			results = append(results, res)
			r.record(res)
			e.checkpoint(r, tier, res, inputHash)
			prevID = stageID
			continue
		}

		res := e.runStage(ctx, r, tier, registry[stageID], sc, replay, inputHash)
		results = append(results, res)
		prevOK = res.Outcome == model.StageSucceeded ||
			(stageID == StageSemanticValidation) // Last in chain, nothing depends on it
		if res.Outcome == model.StageSkipped && stageID == StageSemanticValidation && res.Err == "" {
			prevOK = true // Disabled semantic validation is not a failure
		}
		prevID = stageID
	}

	return results
}

// runStage replays a checkpointed result when possible, otherwise
// executes the stage and checkpoints its outcome.
func (e *Engine) runStage(ctx context.Context, r *run, tier Tier, st Stage, sc *StageContext, replay map[string]*model.StageResult, inputHash string) *model.StageResult {
	if st == nil {
		return &model.StageResult{Tier: tier.Number, Outcome: model.StageSkipped}
	}

	if cached, ok := replay[st.ID()]; ok {
		e.logger.Debug("stage replayed from checkpoint", "run_id", r.id, "stage", st.ID())
		if st.ID() == StageFuzzyDetection {
			sc.Candidates = cached.Candidates
		}
		r.record(cached)
		return cached
	}

	res := st.Run(ctx, sc)
	r.record(res)
	e.logger.Info("stage finished",
		"run_id", r.id, "stage", st.ID(), "outcome", string(res.Outcome),
		"issues", len(res.Issues), "duration", res.Duration)

	e.checkpoint(r, tier, res, inputHash)
	return res
}

func (e *Engine) checkpoint(r *run, tier Tier, res *model.StageResult, inputHash string) {
	cp := model.Checkpoint{
		RunID:     r.id,
		Tier:      tier.Number,
		StageID:   res.StageID,
		InputHash: inputHash,
		Outcome:   res.Outcome,
		Result:    res,
		Timestamp: time.Now().UTC(),
	}
	if err := e.checkpoints.Append(cp); err != nil {
		e.logger.Warn("checkpoint append failed", "run_id", r.id, "stage", res.StageID, "error", err)
	}
}

func (e *Engine) replayLog(runID, inputHash string) map[string]*model.StageResult {
	log, err := e.checkpoints.List(runID)
	if err != nil {
		e.logger.Warn("checkpoint log unreadable, running from scratch", "run_id", runID, "error", err)
		return nil
	}
	return replayable(log, inputHash)
}

// stageRegistry builds the stage set for one run
func (e *Engine) stageRegistry() map[string]Stage {
	reg := map[string]Stage{
		StageStructure: structureStage{},
		StageEncoding:  encodingStage{},
		StageMetadata:  metadataStage{},
		StageLinks:     linksStage{},
		StageFuzzyDetection: detectionStage{
			matcher: e.matcher,
		},
		StageFactValidation: factValidationStage{
			reviewThreshold: reviewThreshold,
		},
		StageSemanticValidation: semanticStage{
			validator:    e.semantic,
			policy:       e.policy,
			stageTimeout: e.cfg.Engine.StageTimeout,
		},
	}
	for id, st := range e.overrides {
		reg[id] = st
	}
	return reg
}

// assembleReport merges stage results in plan order: tier 1 findings
// before tier 2 before tier 3, stages in plan order within a tier.
func (e *Engine) assembleReport(r *run, indexVersion string, results []*model.StageResult, started time.Time) *model.RunReport {
	report := &model.RunReport{
		RunID:        r.id,
		Document:     r.doc.Name,
		Family:       r.doc.Family,
		IndexVersion: indexVersion,
		StartedAt:    started,
		FinishedAt:   time.Now(),
		Issues:       []model.ValidationIssue{},
	}

	degraded := false
	for _, res := range results {
		if res == nil {
			continue
		}
		report.Stages = append(report.Stages, *res)
		report.Issues = append(report.Issues, res.Issues...)
		report.Candidates = append(report.Candidates, res.Candidates...)
		for _, rec := range res.Recommendations {
			scored := rec
			s := e.scorer.Score(scored)
			scored.Score = &s
			report.Recommendations = append(report.Recommendations, scored)
		}
		if res.Outcome == model.StageFailed || res.Outcome == model.StageUnavailable {
			degraded = true
		}
	}

	if degraded || len(report.Issues) > 0 {
		report.Status = model.StatusCompletedWithIssues
	} else {
		report.Status = model.StatusCompleted
	}
	return report
}

func (e *Engine) fatalReport(r *run, started time.Time, err error) *model.RunReport {
	e.logger.Error("run failed", "run_id", r.id, "error", err)
	return &model.RunReport{
		RunID:      r.id,
		Document:   r.doc.Name,
		Family:     r.doc.Family,
		Status:     model.StatusFailed,
		Issues:     []model.ValidationIssue{},
		StartedAt:  started,
		FinishedAt: time.Now(),
		Err:        err.Error(),
	}
}

func (e *Engine) cancelledReport(r *run, started time.Time) *model.RunReport {
	return &model.RunReport{
		RunID:      r.id,
		Document:   r.doc.Name,
		Family:     r.doc.Family,
		Status:     model.StatusCancelled,
		Issues:     []model.ValidationIssue{},
		StartedAt:  started,
		FinishedAt: time.Now(),
		Err:        model.ErrRunCancelled.Error(),
	}
}

// persist writes the report and its recommendations through the
// persistence layer with idempotent keys, retrying transient failures.
// Persistence trouble degrades observability, not the run itself.
func (e *Engine) persist(report *model.RunReport) {
	if e.persistence == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	_, err := callWithRetry(ctx, e.policy, func(ctx context.Context) (string, error) {
		return e.persistence.StoreValidationResult(ctx, report, report.RunID+":report")
	})
	if err != nil {
		e.logger.Warn("report persistence failed", "run_id", report.RunID, "error", err)
	}

	for i, rec := range report.Recommendations {
		rec := rec
		key := fmt.Sprintf("%s:rec:%d", report.RunID, i)
		_, err := callWithRetry(ctx, e.policy, func(ctx context.Context) (string, error) {
			return e.persistence.StoreRecommendation(ctx, rec, key)
		})
		if err != nil {
			e.logger.Warn("recommendation persistence failed", "run_id", report.RunID, "key", key, "error", err)
		}
	}
}

// finish records the terminal report and state
func (e *Engine) finish(r *run, report *model.RunReport) {
	r.mu.Lock()
	r.report = report
	switch report.Status {
	case model.StatusFailed:
		r.state = model.RunFailed
	case model.StatusCancelled:
		r.state = model.RunCancelled
	default:
		r.state = model.RunCompleted
	}
	r.mu.Unlock()

	e.logger.Info("run finished", "run_id", r.id, "status", string(report.Status),
		"issues", len(report.Issues), "recommendations", len(report.Recommendations))
}

// runInputHash identifies what a run validated: the document and the
// index version it was validated against. Checkpoints from other
// inputs never replay.
func runInputHash(doc model.Document, indexVersion string) string {
	h := sha256.New()
	h.Write([]byte(doc.Content))
	h.Write([]byte{0})
	h.Write([]byte(doc.ContentType))
	h.Write([]byte{0})
	h.Write([]byte(doc.Family))
	h.Write([]byte{0})
	h.Write([]byte(indexVersion))
	return hex.EncodeToString(h.Sum(nil))
}

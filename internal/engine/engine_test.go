package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/factgate/factgate/internal/facts"
	"github.com/factgate/factgate/internal/llm"
	"github.com/factgate/factgate/internal/match"
	"github.com/factgate/factgate/internal/model"
)

const engineTestCatalog = `{
  "facts": [
    {
      "id": "auto-save",
      "display_name": "AutoSave",
      "aliases": ["auto-save", "autosave"],
      "dependencies": ["cloud-sync"]
    },
    {
      "id": "cloud-sync",
      "display_name": "CloudSync",
      "aliases": ["cloud sync"]
    }
  ]
}`

// memStore backs both the fact source and the persistence layer in tests
type memStore struct {
	mu      sync.Mutex
	sources map[model.Family][]byte
	reports map[string]*model.RunReport
	recs    map[string]model.Recommendation
}

func newMemStore() *memStore {
	return &memStore{
		sources: map[model.Family][]byte{model.FamilyCore: []byte(engineTestCatalog)},
		reports: make(map[string]*model.RunReport),
		recs:    make(map[string]model.Recommendation),
	}
}

func (s *memStore) LoadFactSource(family model.Family) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, ok := s.sources[family]
	if !ok {
		return nil, fmt.Errorf("%w: %s", model.ErrSourceMissing, family)
	}
	return raw, nil
}

func (s *memStore) StoreValidationResult(ctx context.Context, report *model.RunReport, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports[key] = report
	return key, nil
}

func (s *memStore) StoreRecommendation(ctx context.Context, rec model.Recommendation, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs[key] = rec
	return key, nil
}

func (s *memStore) reportCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.reports)
}

func (s *memStore) recCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.recs)
}

// transientProvider always fails with a retryable error
type transientProvider struct {
	mu    sync.Mutex
	calls int
}

func (p *transientProvider) Name() string { return "stub" }

func (p *transientProvider) IsAvailable(ctx context.Context) bool { return true }

func (p *transientProvider) ValidateSemantics(ctx context.Context, req llm.ValidateRequest) (*llm.ValidateResponse, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	return nil, fmt.Errorf("%w: provider down", model.ErrTransientUnavailable)
}

func (p *transientProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testEngine(t *testing.T, st *memStore, extra func(*Options)) *Engine {
	t.Helper()
	index := facts.NewIndex(facts.NewLoader(st, nil))
	matcher := match.NewMatcher(model.MatchConfig{SimilarityThreshold: 0.85, ContextWindow: 8}, nil)

	opts := Options{
		Index:       index,
		Matcher:     matcher,
		Persistence: st,
		Logger:      discardLogger(),
	}
	if extra != nil {
		extra(&opts)
	}
	return New(model.DefaultConfig(), opts)
}

func waitReport(t *testing.T, e *Engine, runID string) *model.RunReport {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	report, err := e.Wait(ctx, runID)
	if err != nil {
		t.Fatalf("Wait(%s): %v", runID, err)
	}
	return report
}

func TestEngine_CleanDocumentCompletes(t *testing.T) {
	st := newMemStore()
	e := testEngine(t, st, nil)

	doc := model.Document{
		Name:    "clean.md",
		Content: "The quick brown fox jumps over the lazy dog.\n",
		Family:  model.FamilyCore,
	}
	report, err := e.Run(context.Background(), doc)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if report.Status != model.StatusCompleted {
		t.Errorf("status = %s, want completed; issues: %+v", report.Status, report.Issues)
	}
	if len(report.Issues) != 0 {
		t.Errorf("issues = %d, want 0: %+v", len(report.Issues), report.Issues)
	}
	if len(report.Stages) != 7 {
		t.Errorf("stages = %d, want 7", len(report.Stages))
	}
	if report.IndexVersion == "" {
		t.Error("report missing index version")
	}
	if report.HasBlockingIssues() {
		t.Error("clean run reports blocking issues")
	}
}

func TestEngine_UnmetDependencyProducesRecommendation(t *testing.T) {
	st := newMemStore()
	e := testEngine(t, st, nil)

	doc := model.Document{
		Name:    "partial.md",
		Content: "AutoSave keeps your work safe.\n",
		Family:  model.FamilyCore,
	}
	report, err := e.Run(context.Background(), doc)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if report.Status != model.StatusCompletedWithIssues {
		t.Fatalf("status = %s, want completed_with_issues", report.Status)
	}
	if !report.HasBlockingIssues() {
		t.Error("dependency violation should be blocking")
	}
	if countCategory(report.Issues, model.CategoryDependencyUnmet) != 1 {
		t.Errorf("dependency-unmet issues = %d, want 1: %+v",
			countCategory(report.Issues, model.CategoryDependencyUnmet), report.Issues)
	}

	if len(report.Recommendations) != 1 {
		t.Fatalf("recommendations = %d, want 1", len(report.Recommendations))
	}
	rec := report.Recommendations[0]
	if rec.Type != model.RecContentAdd {
		t.Errorf("recommendation type = %s, want %s", rec.Type, model.RecContentAdd)
	}
	if rec.Score == nil {
		t.Fatal("recommendation was not scored")
	}
	if rec.Score.Value <= 0 || rec.Score.Value > 1 {
		t.Errorf("score = %f, want (0, 1]", rec.Score.Value)
	}

	runID := report.RunID
	status, err := e.GetRunStatus(runID)
	if err != nil {
		t.Fatalf("GetRunStatus: %v", err)
	}
	if len(status.Issues) == 0 {
		t.Error("status carries no issues after a run with findings")
	}

	// Report and the single recommendation were persisted
	if st.reportCount() != 1 {
		t.Errorf("persisted reports = %d, want 1", st.reportCount())
	}
	if st.recCount() != 1 {
		t.Errorf("persisted recommendations = %d, want 1", st.recCount())
	}
}

func TestEngine_IssuesOrderedByTier(t *testing.T) {
	st := newMemStore()
	e := testEngine(t, st, nil)

	doc := model.Document{
		Name:    "ordered.md",
		Content: "hello  \nsee [docs](http://example.com)\n",
		Family:  model.FamilyCore,
	}
	report, err := e.Run(context.Background(), doc)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(report.Issues) != 2 {
		t.Fatalf("issues = %d, want 2: %+v", len(report.Issues), report.Issues)
	}
	if report.Issues[0].Category != model.CategoryStructure {
		t.Errorf("first issue category = %s, want %s (tier 1 first)",
			report.Issues[0].Category, model.CategoryStructure)
	}
	if report.Issues[1].Category != model.CategoryLinks {
		t.Errorf("second issue category = %s, want %s",
			report.Issues[1].Category, model.CategoryLinks)
	}
}

func TestEngine_StageFilter(t *testing.T) {
	st := newMemStore()
	e := testEngine(t, st, nil)

	doc := model.Document{
		Name:    "filtered.md",
		Content: "AutoSave keeps your work safe.\n",
		Family:  model.FamilyCore,
	}
	report, err := e.Run(context.Background(), doc, StageStructure)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(report.Stages) != 1 {
		t.Fatalf("stages = %d, want 1", len(report.Stages))
	}
	if report.Stages[0].StageID != StageStructure {
		t.Errorf("stage = %s, want %s", report.Stages[0].StageID, StageStructure)
	}
	if len(report.Candidates) != 0 {
		t.Errorf("candidates = %d, want 0 without the detection stage", len(report.Candidates))
	}
}

func TestEngine_SemanticUnavailableDegradesRun(t *testing.T) {
	stubSleep(t)
	st := newMemStore()
	provider := &transientProvider{}

	e := testEngine(t, st, func(o *Options) {
		o.Semantic = llm.NewValidator(provider, 1000)
	})

	doc := model.Document{
		Name:    "clean.md",
		Content: "The quick brown fox jumps over the lazy dog.\n",
		Family:  model.FamilyCore,
	}
	report, err := e.Run(context.Background(), doc)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if report.Status != model.StatusCompletedWithIssues {
		t.Errorf("status = %s, want completed_with_issues", report.Status)
	}

	var semantic *model.StageResult
	for i := range report.Stages {
		if report.Stages[i].StageID == StageSemanticValidation {
			semantic = &report.Stages[i]
		}
	}
	if semantic == nil {
		t.Fatal("semantic stage missing from report")
	}
	if semantic.Outcome != model.StageUnavailable {
		t.Errorf("semantic outcome = %s, want unavailable", semantic.Outcome)
	}

	if countCategory(report.Issues, model.CategoryStageFailure) != 1 {
		t.Errorf("stage-failure issues = %d, want exactly 1",
			countCategory(report.Issues, model.CategoryStageFailure))
	}
	if countCategory(report.Issues, model.CategorySemantic) != 0 {
		t.Error("degraded semantic stage must not leak partial findings")
	}
	if report.HasBlockingIssues() {
		t.Error("semantic degradation should not block")
	}

	if got := provider.callCount(); got != model.DefaultConfig().Engine.MaxRetries {
		t.Errorf("provider calls = %d, want %d", got, model.DefaultConfig().Engine.MaxRetries)
	}
}

func TestEngine_ResumeReplaysCheckpoints(t *testing.T) {
	st := newMemStore()
	log := NewMemoryCheckpointLog()

	eng1 := testEngine(t, st, func(o *Options) { o.Checkpoints = log })

	doc := model.Document{
		Name:    "partial.md",
		Content: "AutoSave keeps your work safe.\n",
		Family:  model.FamilyCore,
	}
	runID, err := eng1.Resume("run-fixed", doc)
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	first := waitReport(t, eng1, runID)

	cps, _ := log.List("run-fixed")
	if len(cps) != 7 {
		t.Fatalf("checkpoints after first run = %d, want 7", len(cps))
	}

	// A second engine sharing the log replays every succeeded stage.
	// Only the semantic stage re-runs; disabled, it was never
	// checkpointed as succeeded.
	eng2 := testEngine(t, st, func(o *Options) { o.Checkpoints = log })
	if _, err := eng2.Resume("run-fixed", doc); err != nil {
		t.Fatalf("Resume on second engine: %v", err)
	}
	second := waitReport(t, eng2, "run-fixed")

	cps, _ = log.List("run-fixed")
	if len(cps) != 8 {
		t.Errorf("checkpoints after resume = %d, want 8", len(cps))
	}

	if second.Status != first.Status {
		t.Errorf("resumed status = %s, first run = %s", second.Status, first.Status)
	}
	if len(second.Issues) != len(first.Issues) {
		t.Errorf("resumed issues = %d, first run = %d", len(second.Issues), len(first.Issues))
	}
	if len(second.Candidates) != len(first.Candidates) {
		t.Errorf("resumed candidates = %d, first run = %d", len(second.Candidates), len(first.Candidates))
	}
}

func TestEngine_UnknownRun(t *testing.T) {
	e := testEngine(t, newMemStore(), nil)

	if _, err := e.GetRunStatus("nope"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("GetRunStatus err = %v, want ErrNotFound", err)
	}
	if err := e.CancelRun("nope"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("CancelRun err = %v, want ErrNotFound", err)
	}
}

func TestEngine_RejectsDocumentWithoutFamily(t *testing.T) {
	e := testEngine(t, newMemStore(), nil)

	_, err := e.SubmitDocument(model.Document{Content: "text\n"})
	if !errors.Is(err, model.ErrPermanentRejected) {
		t.Errorf("err = %v, want ErrPermanentRejected", err)
	}
}

func TestEngine_MissingFactSourceFailsRun(t *testing.T) {
	e := testEngine(t, newMemStore(), nil)

	doc := model.Document{Content: "text\n", Family: model.FamilyEnterprise}
	runID, err := e.SubmitDocument(doc)
	if err != nil {
		t.Fatalf("SubmitDocument: %v", err)
	}
	report := waitReport(t, e, runID)

	if report.Status != model.StatusFailed {
		t.Errorf("status = %s, want failed", report.Status)
	}
	if report.Err == "" {
		t.Error("failed report carries no error")
	}

	status, err := e.GetRunStatus(runID)
	if err != nil {
		t.Fatalf("GetRunStatus: %v", err)
	}
	if status.State != model.RunFailed {
		t.Errorf("state = %s, want failed", status.State)
	}
}

// failingStage always reports stage failure
type failingStage struct {
	id   string
	tier int
}

func (s failingStage) ID() string { return s.id }

func (s failingStage) Run(ctx context.Context, sc *StageContext) *model.StageResult {
	return &model.StageResult{StageID: s.id, Tier: s.tier, Outcome: model.StageFailed, Err: "synthetic failure"}
}

// blockingStage signals that it started, then parks until the run is
// cancelled.
type blockingStage struct {
	id      string
	tier    int
	started chan struct{}
}

func (s *blockingStage) ID() string { return s.id }

func (s *blockingStage) Run(ctx context.Context, sc *StageContext) *model.StageResult {
	close(s.started)
	<-ctx.Done()
	return &model.StageResult{StageID: s.id, Tier: s.tier, Outcome: model.StageSkipped, Err: ctx.Err().Error()}
}

func TestEngine_ParallelStageFailureDegradesRun(t *testing.T) {
	st := newMemStore()
	e := testEngine(t, st, func(o *Options) {
		o.Stages = map[string]Stage{
			StageStructure: failingStage{id: StageStructure, tier: 1},
		}
	})

	doc := model.Document{
		Name:    "clean.md",
		Content: "The quick brown fox jumps over the lazy dog.\n",
		Family:  model.FamilyCore,
	}
	report, err := e.Run(context.Background(), doc)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if report.Status != model.StatusCompletedWithIssues {
		t.Errorf("status = %s, want completed_with_issues", report.Status)
	}

	outcomes := make(map[string]model.StageOutcome)
	for _, res := range report.Stages {
		outcomes[res.StageID] = res.Outcome
	}
	if outcomes[StageStructure] != model.StageFailed {
		t.Errorf("structure outcome = %s, want failed", outcomes[StageStructure])
	}
	if outcomes[StageEncoding] != model.StageSucceeded {
		t.Error("a failing sibling must not take the rest of the tier down")
	}
	if outcomes[StageMetadata] != model.StageSucceeded || outcomes[StageLinks] != model.StageSucceeded {
		t.Error("tier 2 should still run after a tier 1 failure")
	}
	if len(report.Stages) != 7 {
		t.Errorf("stages = %d, want 7", len(report.Stages))
	}
}

func TestEngine_CancelRun(t *testing.T) {
	st := newMemStore()
	blocking := &blockingStage{id: StageStructure, tier: 1, started: make(chan struct{})}
	e := testEngine(t, st, func(o *Options) {
		o.Stages = map[string]Stage{StageStructure: blocking}
	})

	doc := model.Document{
		Name:    "clean.md",
		Content: "The quick brown fox jumps over the lazy dog.\n",
		Family:  model.FamilyCore,
	}
	runID, err := e.SubmitDocument(doc)
	if err != nil {
		t.Fatalf("SubmitDocument: %v", err)
	}

	<-blocking.started
	if err := e.CancelRun(runID); err != nil {
		t.Fatalf("CancelRun: %v", err)
	}

	report := waitReport(t, e, runID)
	if report.Status != model.StatusCancelled {
		t.Errorf("status = %s, want cancelled", report.Status)
	}
	if report.Err != model.ErrRunCancelled.Error() {
		t.Errorf("report error = %q", report.Err)
	}

	status, err := e.GetRunStatus(runID)
	if err != nil {
		t.Fatalf("GetRunStatus: %v", err)
	}
	if status.State != model.RunCancelled {
		t.Errorf("state = %s, want cancelled", status.State)
	}
}

func TestEngine_CancelDuringSequentialTier(t *testing.T) {
	st := newMemStore()
	blocking := &blockingStage{id: StageFuzzyDetection, tier: 3, started: make(chan struct{})}
	e := testEngine(t, st, func(o *Options) {
		o.Stages = map[string]Stage{StageFuzzyDetection: blocking}
	})

	doc := model.Document{
		Name:    "clean.md",
		Content: "The quick brown fox jumps over the lazy dog.\n",
		Family:  model.FamilyCore,
	}
	runID, err := e.SubmitDocument(doc)
	if err != nil {
		t.Fatalf("SubmitDocument: %v", err)
	}

	<-blocking.started
	if err := e.CancelRun(runID); err != nil {
		t.Fatalf("CancelRun: %v", err)
	}

	report := waitReport(t, e, runID)
	if report.Status != model.StatusCancelled {
		t.Errorf("status = %s, want cancelled", report.Status)
	}
	// Stages after the cancellation point simply did not run; the
	// report must not blame them for an unmet dependency.
	if n := countCategory(report.Issues, model.CategoryDependencyUnmet); n != 0 {
		t.Errorf("dependency-unmet issues = %d, want 0 in a cancelled report: %+v", n, report.Issues)
	}
	for _, res := range report.Stages {
		if res.StageID == StageFactValidation || res.StageID == StageSemanticValidation {
			t.Errorf("stage %s recorded after cancellation", res.StageID)
		}
	}
}

func TestEngine_RunsAreIsolated(t *testing.T) {
	st := newMemStore()
	e := testEngine(t, st, nil)

	bad := model.Document{Content: "text\n", Family: model.FamilyEnterprise}
	good := model.Document{
		Name:    "clean.md",
		Content: "The quick brown fox jumps over the lazy dog.\n",
		Family:  model.FamilyCore,
	}

	badID, err := e.SubmitDocument(bad)
	if err != nil {
		t.Fatalf("submit bad: %v", err)
	}
	goodID, err := e.SubmitDocument(good)
	if err != nil {
		t.Fatalf("submit good: %v", err)
	}

	if r := waitReport(t, e, badID); r.Status != model.StatusFailed {
		t.Errorf("bad run status = %s, want failed", r.Status)
	}
	if r := waitReport(t, e, goodID); r.Status != model.StatusCompleted {
		t.Errorf("good run status = %s, want completed", r.Status)
	}
}

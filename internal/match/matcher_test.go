package match

import (
	"fmt"
	"reflect"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/factgate/factgate/internal/cache"
	"github.com/factgate/factgate/internal/facts"
	"github.com/factgate/factgate/internal/model"
)

// staticSource serves fact definitions from memory for tests
type staticSource map[model.Family][]byte

func (s staticSource) LoadFactSource(family model.Family) ([]byte, error) {
	raw, ok := s[family]
	if !ok {
		return nil, fmt.Errorf("%w: %s", model.ErrSourceMissing, family)
	}
	return raw, nil
}

const testCatalog = `{
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
    },
    {
      "id": "dark-mode",
      "display_name": "DarkMode",
      "aliases": ["dark mode"],
      "patterns": ["(?i)night\\s+theme"]
    }
  ]
}`

func testSnapshot(t *testing.T) *facts.Snapshot {
	t.Helper()
	source := staticSource{model.FamilyCore: []byte(testCatalog)}
	snap, err := facts.NewLoader(source, nil).Load(model.FamilyCore)
	if err != nil {
		t.Fatalf("load test catalog: %v", err)
	}
	return snap
}

func testMatcher(c cache.Cache) *Matcher {
	return NewMatcher(model.MatchConfig{SimilarityThreshold: 0.85, ContextWindow: 8}, c)
}

func findCandidate(candidates []model.MatchCandidate, factID string) *model.MatchCandidate {
	for i := range candidates {
		if candidates[i].FactID == factID {
			return &candidates[i]
		}
	}
	return nil
}

func TestMatcher_Detect_ExactAlias(t *testing.T) {
	snap := testSnapshot(t)
	m := testMatcher(nil)

	doc := model.Document{Content: "AutoSave keeps your work safe.", Family: model.FamilyCore}
	result, err := m.Detect(doc, snap, nil)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}

	cand := findCandidate(result.Candidates, "auto-save")
	if cand == nil {
		t.Fatal("expected auto-save candidate")
	}
	if cand.StartOffset != 0 || cand.EndOffset != 8 {
		t.Errorf("offsets = [%d,%d), want [0,8)", cand.StartOffset, cand.EndOffset)
	}
	if cand.Similarity != 1.0 {
		t.Errorf("exact match similarity = %f, want 1.0", cand.Similarity)
	}
	if cand.MatchedText != "AutoSave" {
		t.Errorf("matched text = %q, want AutoSave", cand.MatchedText)
	}
}

func TestMatcher_Detect_FoldShrinkingRunes(t *testing.T) {
	snap := testSnapshot(t)
	m := testMatcher(nil)

	// U+0130 folds from two bytes to one, so offsets in the folded text
	// drift left of the original. The candidate span must still slice
	// the original text cleanly.
	content := "İİİİ autosave backs up edits"
	doc := model.Document{Content: content, Family: model.FamilyCore}
	result, err := m.Detect(doc, snap, nil)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}

	cand := findCandidate(result.Candidates, "auto-save")
	if cand == nil {
		t.Fatal("expected auto-save candidate")
	}
	if cand.MatchedText != "autosave" {
		t.Errorf("matched text = %q, want autosave", cand.MatchedText)
	}
	if !utf8.ValidString(cand.MatchedText) {
		t.Errorf("matched text is not valid UTF-8: %q", cand.MatchedText)
	}
	if got := content[cand.StartOffset:cand.EndOffset]; got != "autosave" {
		t.Errorf("span [%d,%d) = %q, want autosave", cand.StartOffset, cand.EndOffset, got)
	}
}

func TestMatcher_Detect_FoldGrowingRunes(t *testing.T) {
	snap := testSnapshot(t)
	m := testMatcher(nil)

	// U+023A folds from two bytes to three, so the folded text is longer
	// than the original and unmapped offsets would run past its end.
	content := "Ⱥ Ⱥ Ⱥ autosave"
	doc := model.Document{Content: content, Family: model.FamilyCore}
	result, err := m.Detect(doc, snap, nil)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}

	cand := findCandidate(result.Candidates, "auto-save")
	if cand == nil {
		t.Fatal("expected auto-save candidate")
	}
	if cand.MatchedText != "autosave" {
		t.Errorf("matched text = %q, want autosave", cand.MatchedText)
	}
	if cand.EndOffset != len(content) {
		t.Errorf("end offset = %d, want %d", cand.EndOffset, len(content))
	}
}

func TestMatcher_Detect_WordBoundary(t *testing.T) {
	snap := testSnapshot(t)
	m := testMatcher(nil)

	// "autosaved" embeds the alias but is not a word-bounded mention
	doc := model.Document{Content: "Work is autosaved periodically.", Family: model.FamilyCore}
	result, err := m.Detect(doc, snap, nil)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}

	for _, c := range result.Candidates {
		if c.Similarity == 1.0 && c.FactID == "auto-save" {
			t.Errorf("embedded substring produced exact match: %+v", c)
		}
	}
}

func TestMatcher_Detect_Pattern(t *testing.T) {
	snap := testSnapshot(t)
	m := testMatcher(nil)

	doc := model.Document{Content: "Switch to the Night  Theme at dusk.", Family: model.FamilyCore}
	result, err := m.Detect(doc, snap, nil)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}

	if findCandidate(result.Candidates, "dark-mode") == nil {
		t.Error("expected dark-mode candidate from pattern match")
	}
}

func TestMatcher_Detect_FuzzyTypo(t *testing.T) {
	snap := testSnapshot(t)
	m := testMatcher(nil)

	// Transposed characters should still clear the 0.85 threshold
	doc := model.Document{Content: "Enable autosaev before editing.", Family: model.FamilyCore}
	result, err := m.Detect(doc, snap, nil)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}

	cand := findCandidate(result.Candidates, "auto-save")
	if cand == nil {
		t.Fatal("expected fuzzy auto-save candidate for typo")
	}
	if cand.Similarity >= 1.0 || cand.Similarity < 0.85 {
		t.Errorf("fuzzy similarity = %f, want [0.85, 1.0)", cand.Similarity)
	}
	if cand.MatchedText != "autosaev" {
		t.Errorf("matched text = %q, want autosaev", cand.MatchedText)
	}
}

func TestMatcher_Detect_ContextScore(t *testing.T) {
	snap := testSnapshot(t)
	m := testMatcher(nil)

	with := model.Document{Content: "AutoSave works with cloud sync enabled.", Family: model.FamilyCore}
	without := model.Document{Content: "AutoSave is mentioned here alone today.", Family: model.FamilyCore}

	resWith, err := m.Detect(with, snap, nil)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	resWithout, err := m.Detect(without, snap, nil)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}

	cw := findCandidate(resWith.Candidates, "auto-save")
	co := findCandidate(resWithout.Candidates, "auto-save")
	if cw == nil || co == nil {
		t.Fatal("expected auto-save candidates in both documents")
	}
	if cw.ContextScore <= co.ContextScore {
		t.Errorf("dependency vocabulary nearby should raise context score: with=%f without=%f",
			cw.ContextScore, co.ContextScore)
	}
	if cw.CombinedConfidence <= co.CombinedConfidence {
		t.Errorf("combined confidence should follow context: with=%f without=%f",
			cw.CombinedConfidence, co.CombinedConfidence)
	}
}

func TestMatcher_Detect_Deterministic(t *testing.T) {
	snap := testSnapshot(t)
	m := testMatcher(nil)

	doc := model.Document{
		Content: "AutoSave and cloud sync, plus the dark mode and a night theme mention.",
		Family:  model.FamilyCore,
	}

	first, err := m.Detect(doc, snap, nil)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	second, err := m.Detect(doc, snap, nil)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}

	if !reflect.DeepEqual(first, second) {
		t.Error("identical inputs produced different results")
	}

	for i := 1; i < len(first.Candidates); i++ {
		if first.Candidates[i].StartOffset < first.Candidates[i-1].StartOffset {
			t.Errorf("candidates not ordered by offset at %d", i)
		}
	}
}

func TestMatcher_Detect_RequiredRuleViolation(t *testing.T) {
	snap := testSnapshot(t)
	m := testMatcher(nil)

	rules := []model.CombinationRule{{
		Name:        "autosave-needs-cloudsync",
		RequiredIDs: []string{"auto-save", "cloud-sync"},
		Message:     "AutoSave requires CloudSync",
	}}

	// Only AutoSave mentioned: violation
	doc := model.Document{Content: "AutoSave is great.", Family: model.FamilyCore}
	result, err := m.Detect(doc, snap, rules)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(result.Issues) != 1 {
		t.Fatalf("issues = %d, want 1", len(result.Issues))
	}
	if result.Issues[0].Category != model.CategoryDependencyUnmet {
		t.Errorf("category = %s, want %s", result.Issues[0].Category, model.CategoryDependencyUnmet)
	}

	// Neither mentioned: no violation
	quiet := model.Document{Content: "Nothing relevant here today.", Family: model.FamilyCore}
	result, err = m.Detect(quiet, snap, rules)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(result.Issues) != 0 {
		t.Errorf("issues = %d, want 0 when no required id is present", len(result.Issues))
	}
}

func TestMatcher_Detect_ForbiddenRuleViolation(t *testing.T) {
	snap := testSnapshot(t)
	m := testMatcher(nil)

	rules := []model.CombinationRule{{
		Name:         "no-dark-with-autosave",
		ForbiddenIDs: []string{"auto-save", "dark-mode"},
		Message:      "these features are documented separately",
	}}

	doc := model.Document{Content: "AutoSave pairs badly with dark mode.", Family: model.FamilyCore}
	result, err := m.Detect(doc, snap, rules)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(result.Issues) != 1 {
		t.Fatalf("issues = %d, want 1", len(result.Issues))
	}
	if result.Issues[0].Category != model.CategoryCombination {
		t.Errorf("category = %s, want %s", result.Issues[0].Category, model.CategoryCombination)
	}
}

func TestMatcher_Detect_HTML(t *testing.T) {
	snap := testSnapshot(t)
	m := testMatcher(nil)

	doc := model.Document{
		Content:     "<html><body><p>AutoSave rocks</p><script>var autosave = 1;</script></body></html>",
		ContentType: "text/html",
		Family:      model.FamilyCore,
	}
	result, err := m.Detect(doc, snap, nil)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}

	if findCandidate(result.Candidates, "auto-save") == nil {
		t.Error("expected auto-save candidate from HTML text")
	}
	// Script content is stripped; only the paragraph mention survives
	count := 0
	for _, c := range result.Candidates {
		if c.FactID == "auto-save" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("auto-save candidates = %d, want 1 (script content must be ignored)", count)
	}
}

func TestMatcher_Detect_Memoized(t *testing.T) {
	snap := testSnapshot(t)
	memo := cache.NewMemoryCache(16, time.Minute)
	m := testMatcher(memo)

	doc := model.Document{Content: "AutoSave and cloud sync.", Family: model.FamilyCore}

	first, err := m.Detect(doc, snap, nil)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if memo.Len() == 0 {
		t.Fatal("expected detection result in the memo cache")
	}

	second, err := m.Detect(doc, snap, nil)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Error("memoized result differs from the original")
	}
}

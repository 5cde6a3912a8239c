package match

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/factgate/factgate/internal/cache"
	"github.com/factgate/factgate/internal/facts"
	"github.com/factgate/factgate/internal/model"
)

// Weighting of similarity vs context in the combined confidence
const (
	similarityWeight = 0.7
	contextWeight    = 0.3
)

// minFuzzyTokenLen keeps single- and two-letter tokens out of the fuzzy
// pass; edit distance on them is all noise.
const minFuzzyTokenLen = 3

// Matcher finds fact mentions in document text using exact and
// approximate matching. Detection is deterministic: identical document,
// index version, and rules produce byte-for-byte identical results.
type Matcher struct {
	threshold float64
	window    int
	cache     cache.Cache // Optional; memoizes results by (content, index version)
}

// NewMatcher creates a matcher. c may be nil to disable memoization.
func NewMatcher(cfg model.MatchConfig, c cache.Cache) *Matcher {
	threshold := cfg.SimilarityThreshold
	if threshold <= 0 {
		threshold = 0.85
	}
	window := cfg.ContextWindow
	if window <= 0 {
		window = 8
	}
	return &Matcher{threshold: threshold, window: window, cache: c}
}

// Result is one detection run's output: candidates plus any structural
// issues from combination rule violations.
type Result struct {
	Candidates []model.MatchCandidate  `json:"candidates"`
	Issues     []model.ValidationIssue `json:"issues"`
}

// Detect scans a document against the index snapshot and checks
// combination rules over everything it found.
func (m *Matcher) Detect(doc model.Document, snap *facts.Snapshot, rules []model.CombinationRule) (*Result, error) {
	key := m.memoKey(doc, snap, rules)
	if m.cache != nil {
		if raw, ok := m.cache.Get(key); ok {
			var cached Result
			if err := json.Unmarshal(raw, &cached); err == nil {
				return &cached, nil
			}
		}
	}

	text := doc.Content
	if strings.Contains(doc.ContentType, "html") {
		extracted, err := ExtractText(doc.Content)
		if err != nil {
			return nil, fmt.Errorf("%w: parse HTML document: %v", model.ErrPermanentRejected, err)
		}
		text = extracted
	}

	candidates := m.scanExact(text, snap)
	spans := coveredSpans(candidates)
	tokens := Tokenize(text)
	candidates = append(candidates, m.scanFuzzy(text, tokens, spans, snap)...)

	for i := range candidates {
		candidates[i].ContextScore = m.contextScore(tokens, candidates[i], snap)
		candidates[i].CombinedConfidence = clamp01(
			similarityWeight*candidates[i].Similarity + contextWeight*candidates[i].ContextScore)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].StartOffset != candidates[j].StartOffset {
			return candidates[i].StartOffset < candidates[j].StartOffset
		}
		if candidates[i].CombinedConfidence != candidates[j].CombinedConfidence {
			return candidates[i].CombinedConfidence > candidates[j].CombinedConfidence
		}
		return candidates[i].FactID < candidates[j].FactID
	})

	result := &Result{
		Candidates: candidates,
		Issues:     checkRules(candidates, rules),
	}

	if m.cache != nil {
		if raw, err := json.Marshal(result); err == nil {
			_ = m.cache.Set(key, raw, 0)
		}
	}
	return result, nil
}

// lowerWithOffsets folds text to lower case rune by rune and records,
// for every byte of the folded string, the byte offset of the rune it
// came from in the original. Folding can change a rune's encoded
// length, so folded offsets cannot index the original text directly.
// The final entry maps one past the end, so a match ending at the fold
// boundary maps back to len(text).
func lowerWithOffsets(text string) (string, []int) {
	var b strings.Builder
	b.Grow(len(text))
	offsets := make([]int, 0, len(text)+1)

	for i, r := range text {
		lr := unicode.ToLower(r)
		for j := 0; j < utf8.RuneLen(lr); j++ {
			offsets = append(offsets, i)
		}
		b.WriteRune(lr)
	}
	offsets = append(offsets, len(text))
	return b.String(), offsets
}

// scanExact finds exact substring hits for every alias, display name,
// and compiled pattern. Exact hits get similarity 1.0. Matching runs
// over the folded text; offsets are mapped back before they touch the
// original.
func (m *Matcher) scanExact(text string, snap *facts.Snapshot) []model.MatchCandidate {
	lower, offsets := lowerWithOffsets(text)
	var out []model.MatchCandidate
	seen := make(map[string]bool) // factID:start-end dedupe

	add := func(factID string, start, end int, sim float64) {
		k := fmt.Sprintf("%s:%d-%d", factID, start, end)
		if seen[k] {
			return
		}
		seen[k] = true
		out = append(out, model.MatchCandidate{
			FactID:      factID,
			MatchedText: text[start:end],
			StartOffset: start,
			EndOffset:   end,
			Similarity:  sim,
		})
	}

	for _, rec := range snap.Records() {
		for _, term := range searchTerms(rec) {
			needle := strings.ToLower(term)
			for from := 0; ; {
				pos := strings.Index(lower[from:], needle)
				if pos < 0 {
					break
				}
				start := from + pos
				end := start + len(needle)
				if wordBounded(lower, start, end) {
					add(rec.ID, offsets[start], offsets[end], 1.0)
				}
				from = start + 1
			}
		}

		for _, re := range rec.Patterns {
			for _, loc := range re.FindAllStringIndex(text, -1) {
				add(rec.ID, loc[0], loc[1], 1.0)
			}
		}
	}

	return out
}

// scanFuzzy scores tokens that no exact hit covered. Each token takes
// the best of normalized edit distance and Jaro-Winkler against every
// alias; candidates below the threshold are discarded.
func (m *Matcher) scanFuzzy(text string, tokens []Token, covered []span, snap *facts.Snapshot) []model.MatchCandidate {
	var out []model.MatchCandidate

	for _, tok := range tokens {
		if len(tok.Text) < minFuzzyTokenLen || overlapsAny(covered, tok.Start, tok.End) {
			continue
		}
		word := strings.ToLower(tok.Text)

		for _, rec := range snap.Records() {
			best := 0.0
			for _, term := range searchTerms(rec) {
				alias := strings.ToLower(term)
				if alias == word {
					continue // Exact equality was the exact pass's job
				}
				sim := LevenshteinSimilarity(word, alias)
				if jw := JaroWinkler(word, alias); jw > sim {
					sim = jw
				}
				if sim > best {
					best = sim
				}
			}
			if best >= m.threshold {
				out = append(out, model.MatchCandidate{
					FactID:      rec.ID,
					MatchedText: text[tok.Start:tok.End],
					StartOffset: tok.Start,
					EndOffset:   tok.End,
					Similarity:  best,
				})
			}
		}
	}

	return out
}

// contextScore counts related vocabulary inside a fixed token window
// around the match. Each distinct hit adds 0.5, saturating at 1.0.
func (m *Matcher) contextScore(tokens []Token, cand model.MatchCandidate, snap *facts.Snapshot) float64 {
	rec, err := snap.Lookup(cand.FactID)
	if err != nil {
		return 0
	}

	related := relatedVocabulary(rec, snap)
	if len(related) == 0 {
		return 0
	}

	// Locate the token range the candidate covers
	first, last := -1, -1
	for i, tok := range tokens {
		if tok.End <= cand.StartOffset {
			continue
		}
		if tok.Start >= cand.EndOffset {
			break
		}
		if first < 0 {
			first = i
		}
		last = i
	}
	if first < 0 {
		return 0
	}

	lo := first - m.window
	if lo < 0 {
		lo = 0
	}
	hi := last + m.window
	if hi > len(tokens)-1 {
		hi = len(tokens) - 1
	}

	hits := 0
	counted := make(map[string]bool)
	for i := lo; i <= hi; i++ {
		if i >= first && i <= last {
			continue // The match itself is not its own context
		}
		word := strings.ToLower(tokens[i].Text)
		if related[word] && !counted[word] {
			counted[word] = true
			hits++
		}
	}

	return clamp01(0.5 * float64(hits))
}

// relatedVocabulary collects single words from the record's own terms
// and from the terms of every dependency.
func relatedVocabulary(rec *model.FactRecord, snap *facts.Snapshot) map[string]bool {
	vocab := make(map[string]bool)
	addTerms := func(r *model.FactRecord) {
		for _, term := range searchTerms(r) {
			for _, word := range strings.Fields(strings.ToLower(term)) {
				if len(word) >= minFuzzyTokenLen {
					vocab[word] = true
				}
			}
		}
	}
	addTerms(rec)
	for _, depID := range rec.Dependencies {
		if dep, err := snap.Lookup(depID); err == nil {
			addTerms(dep)
		}
	}
	return vocab
}

// checkRules validates combination rules against the detected id set.
// Violations are structural issues, not candidates: a missing required
// co-occurrence is a dependency-unmet issue, a forbidden co-occurrence
// a combination-rule issue.
func checkRules(candidates []model.MatchCandidate, rules []model.CombinationRule) []model.ValidationIssue {
	detected := make(map[string]bool)
	for _, c := range candidates {
		detected[c.FactID] = true
	}

	var issues []model.ValidationIssue
	for _, rule := range rules {
		if !rule.Violated(detected) {
			continue
		}

		category := model.CategoryCombination
		if len(rule.RequiredIDs) > 0 {
			missing := false
			for _, id := range rule.RequiredIDs {
				if !detected[id] {
					missing = true
					break
				}
			}
			if missing {
				category = model.CategoryDependencyUnmet
			}
		}

		issues = append(issues, model.ValidationIssue{
			Level:    model.LevelError,
			Category: category,
			Message:  fmt.Sprintf("rule %q violated: %s", rule.Name, rule.Message),
			Source:   "fuzzy-detection",
		})
	}
	return issues
}

// searchTerms returns the record's matchable names: display name first,
// then aliases.
func searchTerms(rec *model.FactRecord) []string {
	terms := make([]string, 0, len(rec.Aliases)+1)
	if rec.DisplayName != "" {
		terms = append(terms, rec.DisplayName)
	}
	terms = append(terms, rec.Aliases...)
	return terms
}

// wordBounded rejects matches embedded inside larger words
func wordBounded(lower string, start, end int) bool {
	if start > 0 && isWordRune(rune(lower[start-1])) {
		return false
	}
	if end < len(lower) && isWordRune(rune(lower[end])) {
		return false
	}
	return true
}

type span struct{ start, end int }

func coveredSpans(candidates []model.MatchCandidate) []span {
	spans := make([]span, len(candidates))
	for i, c := range candidates {
		spans[i] = span{start: c.StartOffset, end: c.EndOffset}
	}
	return spans
}

func overlapsAny(spans []span, start, end int) bool {
	for _, s := range spans {
		if start < s.end && end > s.start {
			return true
		}
	}
	return false
}

func (m *Matcher) memoKey(doc model.Document, snap *facts.Snapshot, rules []model.CombinationRule) string {
	h := sha256.New()
	h.Write([]byte(doc.Content))
	h.Write([]byte(doc.ContentType))
	for _, r := range rules {
		fmt.Fprintf(h, "%s|%v|%v;", r.Name, r.RequiredIDs, r.ForbiddenIDs)
	}
	return cache.Key("detect", snap.Version, hex.EncodeToString(h.Sum(nil)),
		fmt.Sprintf("t=%.2f w=%d", m.threshold, m.window))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

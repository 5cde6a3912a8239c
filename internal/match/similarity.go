package match

// Similarity scoring for approximate mention matching. Two paths:
// normalized edit distance for general typos, Jaro-Winkler for
// transpositions and shared-prefix names. Both are symmetric and
// return 1.0 for identical inputs.

// Levenshtein computes the edit distance between two strings using
// single-row dynamic programming. Operations are insert, delete, and
// substitute, each costing 1.
//
//	Levenshtein("kitten", "sitting") // 3
//	Levenshtein("", "abc")           // 3
//	Levenshtein("abc", "abc")        // 0
func Levenshtein(a, b string) int {
	ra := []rune(a)
	rb := []rune(b)

	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)

	for j := 0; j <= len(rb); j++ {
		prev[j] = j
	}

	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = minOf3(
				prev[j]+1,      // deletion
				curr[j-1]+1,    // insertion
				prev[j-1]+cost, // substitution
			)
		}
		prev, curr = curr, prev
	}

	return prev[len(rb)]
}

// LevenshteinSimilarity normalizes edit distance into [0,1]:
// 1 - distance/max(len(a), len(b)). Two empty strings are identical.
func LevenshteinSimilarity(a, b string) float64 {
	la := len([]rune(a))
	lb := len([]rune(b))
	if la == 0 && lb == 0 {
		return 1.0
	}
	maxLen := la
	if lb > maxLen {
		maxLen = lb
	}
	return 1.0 - float64(Levenshtein(a, b))/float64(maxLen)
}

// JaroWinkler computes Jaro similarity with the Winkler common-prefix
// boost (scaling 0.1, prefix capped at 4 characters).
func JaroWinkler(a, b string) float64 {
	j := jaro(a, b)
	if j == 0 {
		return 0
	}

	prefix := 0
	ra := []rune(a)
	rb := []rune(b)
	for prefix < len(ra) && prefix < len(rb) && prefix < 4 {
		if ra[prefix] != rb[prefix] {
			break
		}
		prefix++
	}

	return j + float64(prefix)*0.1*(1.0-j)
}

// jaro computes the base Jaro similarity
func jaro(a, b string) float64 {
	ra := []rune(a)
	rb := []rune(b)

	if len(ra) == 0 && len(rb) == 0 {
		return 1.0
	}
	if len(ra) == 0 || len(rb) == 0 {
		return 0.0
	}

	matchWindow := maxOf2(len(ra), len(rb))/2 - 1
	if matchWindow < 0 {
		matchWindow = 0
	}

	aMatched := make([]bool, len(ra))
	bMatched := make([]bool, len(rb))

	matches := 0
	for i := range ra {
		lo := i - matchWindow
		if lo < 0 {
			lo = 0
		}
		hi := i + matchWindow + 1
		if hi > len(rb) {
			hi = len(rb)
		}
		for j := lo; j < hi; j++ {
			if bMatched[j] || ra[i] != rb[j] {
				continue
			}
			aMatched[i] = true
			bMatched[j] = true
			matches++
			break
		}
	}

	if matches == 0 {
		return 0.0
	}

	// Count transpositions among matched characters
	transpositions := 0
	k := 0
	for i := range ra {
		if !aMatched[i] {
			continue
		}
		for !bMatched[k] {
			k++
		}
		if ra[i] != rb[k] {
			transpositions++
		}
		k++
	}

	m := float64(matches)
	t := float64(transpositions) / 2.0
	return (m/float64(len(ra)) + m/float64(len(rb)) + (m-t)/m) / 3.0
}

func minOf3(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}

func maxOf2(a, b int) int {
	if a > b {
		return a
	}
	return b
}

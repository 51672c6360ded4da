package tools

import "strings"

// fuzzyMatch returns true if query fuzzy matches any word of target.
// The allowed edit distance grows with the query length, from 1 up to 3.
func fuzzyMatch(query, target string) bool {
	if query == "" {
		return true
	}

	queryLower := strings.ToLower(query)
	targetLower := strings.ToLower(target)

	// Exact substring match (fast path)
	if strings.Contains(targetLower, queryLower) {
		return true
	}

	maxDistance := min(max(len([]rune(queryLower))/3, 1), 3)

	// Compare against the whole target and each word split by space, underscore or dash
	words := strings.FieldsFunc(targetLower, func(r rune) bool {
		return r == ' ' || r == '_' || r == '-'
	})
	words = append(words, targetLower)

	for _, word := range words {
		if editDistance(queryLower, word) <= maxDistance {
			return true
		}
	}

	return false
}

// editDistance returns the optimal string alignment distance between s1 and s2:
// single-rune insertions, deletions, substitutions and adjacent transpositions
// each count as one edit.
func editDistance(s1, s2 string) int {
	a, b := []rune(s1), []rune(s2)

	prevPrev := make([]int, len(b)+1)
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
			if i > 1 && j > 1 && a[i-1] == b[j-2] && a[i-2] == b[j-1] {
				curr[j] = min(curr[j], prevPrev[j-2]+1)
			}
		}
		prevPrev, prev, curr = prev, curr, prevPrev
	}

	return prev[len(b)]
}

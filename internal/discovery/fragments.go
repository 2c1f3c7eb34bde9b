package discovery

import (
	"sort"
	"strings"
)

// actionVerbs is the fixed vocabulary used to anchor goal-pattern fragments.
// A fragment always starts at one of these verbs.
var actionVerbs = map[string]struct{}{
	"analyze":   {},
	"generate":  {},
	"transform": {},
	"monitor":   {},
	"process":   {},
	"convert":   {},
	"fetch":     {},
	"collect":   {},
	"validate":  {},
	"scan":      {},
	"report":    {},
	"summarize": {},
	"extract":   {},
	"filter":    {},
	"merge":     {},
	"export":    {},
}

// maxFragmentTokens bounds how many tokens after the verb join a fragment.
const maxFragmentTokens = 3

// deriveFragments produces the goal-pattern fragments for a description and
// tag set. Longer fragments receive a higher relevance weight, capped at 1.0.
// The result is deterministic: sorted by text, one entry per fragment.
func deriveFragments(description string, tags []string) []Fragment {
	seen := make(map[string]float64)

	collect := func(text string) {
		tokens := tokenize(text)
		for i, token := range tokens {
			if _, ok := actionVerbs[token]; !ok {
				continue
			}
			end := i + maxFragmentTokens
			if end > len(tokens) {
				end = len(tokens)
			}
			for j := i + 1; j <= end; j++ {
				fragment := strings.Join(tokens[i:j], " ")
				weight := fragmentWeight(fragment)
				if weight > seen[fragment] {
					seen[fragment] = weight
				}
			}
		}
	}

	collect(description)
	for _, tag := range tags {
		collect(tag)
	}

	fragments := make([]Fragment, 0, len(seen))
	for text, weight := range seen {
		fragments = append(fragments, Fragment{Text: text, Relevance: weight})
	}
	sort.Slice(fragments, func(i, j int) bool { return fragments[i].Text < fragments[j].Text })
	return fragments
}

// fragmentWeight scores specificity: each extra token adds weight, longer
// phrases add a little more, and the result never exceeds 1.0.
func fragmentWeight(fragment string) float64 {
	tokens := strings.Fields(fragment)
	weight := 0.4 + 0.2*float64(len(tokens)-1) + float64(len(fragment))/100.0
	if weight > 1.0 {
		weight = 1.0
	}
	return weight
}

// tokenize lowercases the text and splits it on anything that is not a letter
// or digit, so "Analyze-Performance!" and "analyze performance" index alike.
func tokenize(text string) []string {
	lowered := strings.ToLower(text)
	return strings.FieldsFunc(lowered, func(r rune) bool {
		switch {
		case r >= 'a' && r <= 'z':
			return false
		case r >= '0' && r <= '9':
			return false
		default:
			return true
		}
	})
}

// normalizeGoal prepares caller-supplied goal text for matching.
func normalizeGoal(goal string) string {
	return strings.Join(tokenize(goal), " ")
}

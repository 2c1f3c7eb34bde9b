package chain

import (
	"context"
	"sort"

	"Plugweave/pkg/plugin"
)

// Suggestion is an advisory chain proposal. Suggestions are never executed
// automatically; the caller decides whether to build one for real.
type Suggestion struct {
	Category   string   `json:"category"`
	Identities []string `json:"identities"`
	Score      float64  `json:"score"`
}

// Suggest groups the discovery results for the input by plugin category and
// trial-builds a chain per group of at least two plugins. The score is a
// linear proxy on group size, not a learned ranking.
func (b *Builder) Suggest(ctx context.Context, userInput string, available []string) []Suggestion {
	if userInput == "" {
		return nil
	}
	set := b.availableSet(available)
	admitted := b.admittedCandidates(ctx, BuildRequest{Goal: userInput}, set)

	groups := make(map[string][]nodeInput)
	for _, in := range admitted.admitted {
		category := string(in.descriptor.Category)
		if category == "" {
			category = string(plugin.CategoryUtility)
		}
		groups[category] = append(groups[category], in)
	}

	var suggestions []Suggestion
	for category, group := range groups {
		if len(group) < 2 {
			continue
		}
		nodes := buildNodes(group)
		if len(nodes) < 2 {
			continue
		}
		identities := make([]string, 0, len(nodes))
		for _, n := range nodes {
			identities = append(identities, n.Identity)
		}
		suggestions = append(suggestions, Suggestion{
			Category:   category,
			Identities: identities,
			Score:      float64(len(group)) * 0.1,
		})
	}

	sort.Slice(suggestions, func(i, j int) bool {
		if suggestions[i].Score != suggestions[j].Score {
			return suggestions[i].Score > suggestions[j].Score
		}
		return suggestions[i].Category < suggestions[j].Category
	})
	return suggestions
}

package collect

import (
	"context"
	"sort"

	"github.com/minseok-oh/surgewatch/internal/store"
)

// CategoryBalanced spreads the budget evenly across categories so one loud
// category cannot starve the rest of the catalog of re-samples.
type CategoryBalanced struct {
	store store.Store
}

// NewCategoryBalanced creates the category-balanced strategy.
func NewCategoryBalanced(st store.Store) *CategoryBalanced {
	return &CategoryBalanced{store: st}
}

func (s *CategoryBalanced) Name() string { return StrategyCategoryBalanced }

// Select groups candidates by category and takes them round-robin, each
// category ordered by recency. Unclassified content competes as its own
// group.
func (s *CategoryBalanced) Select(ctx context.Context, budget int, filters store.CandidateFilters) ([]string, error) {
	if budget <= 0 {
		return nil, nil
	}

	candidates, err := s.store.QueryCandidates(ctx, filters, budget*overfetchFactor)
	if err != nil {
		return nil, err
	}

	byCategory := make(map[string][]store.Content)
	for _, c := range candidates {
		byCategory[c.Category] = append(byCategory[c.Category], c)
	}

	categories := make([]string, 0, len(byCategory))
	for cat := range byCategory {
		categories = append(categories, cat)
	}
	sort.Strings(categories)

	var out []string
	for round := 0; len(out) < budget; round++ {
		took := false
		for _, cat := range categories {
			group := byCategory[cat]
			if round >= len(group) {
				continue
			}
			out = append(out, group[round].ID)
			took = true
			if len(out) >= budget {
				break
			}
		}
		if !took {
			break
		}
	}
	return out, nil
}

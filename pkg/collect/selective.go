package collect

import (
	"context"
	"sort"

	"github.com/minseok-oh/surgewatch/internal/store"
	"github.com/minseok-oh/surgewatch/pkg/metrics"
)

// overfetchFactor controls how many tracked candidates are pulled from the
// store before ranking cuts them down to the budget.
const overfetchFactor = 3

// Selective biases sampling toward already-promising and freshly-published
// content: previously high-scoring items are re-sampled first, then recent
// arrivals. When a platform lister is available, a slice of the budget is
// reserved for discovery of items the store has never seen.
type Selective struct {
	store  store.Store
	lister metrics.Lister
}

// NewSelective creates the selective strategy. lister may be nil.
func NewSelective(st store.Store, lister metrics.Lister) *Selective {
	return &Selective{store: st, lister: lister}
}

func (s *Selective) Name() string { return StrategySelective }

// Select returns at most budget identifiers: discovery seeds first (new
// items get sampled at least once), then tracked candidates ranked by prior
// composite score descending, recency, id.
func (s *Selective) Select(ctx context.Context, budget int, filters store.CandidateFilters) ([]string, error) {
	if budget <= 0 {
		return nil, nil
	}

	seen := make(map[string]bool)
	var out []string

	// Up to a third of the budget goes to platform discovery; a discovery
	// failure degrades to store-only selection. Budgets too small to carve
	// a discovery slice out of skip the call entirely so tracked
	// candidates keep the whole budget.
	if seedBudget := budget / 3; s.lister != nil && seedBudget > 0 {
		discovered, err := s.lister.MostPopular(ctx, seedBudget)
		if err == nil {
			for _, id := range discovered {
				if !seen[id] {
					seen[id] = true
					out = append(out, id)
				}
			}
		}
	}

	candidates, err := s.store.QueryCandidates(ctx, filters, budget*overfetchFactor)
	if err != nil {
		return nil, err
	}

	ranked := make([]rankedCandidate, 0, len(candidates))
	for _, c := range candidates {
		rc := rankedCandidate{content: c}
		if score, err := s.store.LatestScore(ctx, c.ID); err == nil && score != nil {
			rc.prior = score.Composite
		}
		ranked = append(ranked, rc)
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].prior != ranked[j].prior {
			return ranked[i].prior > ranked[j].prior
		}
		if !ranked[i].content.PublishedAt.Equal(ranked[j].content.PublishedAt) {
			return ranked[i].content.PublishedAt.After(ranked[j].content.PublishedAt)
		}
		return ranked[i].content.ID < ranked[j].content.ID
	})

	for _, rc := range ranked {
		if len(out) >= budget {
			break
		}
		if !seen[rc.content.ID] {
			seen[rc.content.ID] = true
			out = append(out, rc.content.ID)
		}
	}

	if len(out) > budget {
		out = out[:budget]
	}
	return out, nil
}

type rankedCandidate struct {
	content store.Content
	prior   float64
}

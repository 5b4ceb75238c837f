// Package collect decides which content identifiers a scheduler samples in
// one cycle, under an explicit budget and explicit filters.
package collect

import (
	"context"
	"fmt"

	"github.com/minseok-oh/surgewatch/internal/store"
	"github.com/minseok-oh/surgewatch/pkg/metrics"
)

// Strategy selects up to budget candidate content identifiers for one
// cycle. The returned order is deterministic for a given store state so a
// tight budget always cuts at the same priority boundary. Zero candidates
// is valid, not an error.
type Strategy interface {
	Name() string
	Select(ctx context.Context, budget int, filters store.CandidateFilters) ([]string, error)
}

const (
	StrategySelective        = "selective"
	StrategyCategoryBalanced = "category_balanced"
)

// New builds a strategy by name. lister may be nil; only the selective
// strategy uses it, for platform-side discovery of fresh candidates.
func New(name string, st store.Store, lister metrics.Lister) (Strategy, error) {
	switch name {
	case StrategySelective, "":
		return NewSelective(st, lister), nil
	case StrategyCategoryBalanced:
		return NewCategoryBalanced(st), nil
	default:
		return nil, fmt.Errorf("collect: unknown strategy %q", name)
	}
}

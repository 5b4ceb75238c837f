// Package trend turns a content item's snapshot history into a composite,
// weighted trend score and a surge classification.
package trend

import (
	"time"

	"github.com/minseok-oh/surgewatch/internal/store"
)

// Baseline holds the per-hour reference rates growth is normalized
// against. Zero fields fall back to the analyzer's configured defaults.
type Baseline struct {
	ViewsPerHour    float64
	LikesPerHour    float64
	CommentsPerHour float64
}

// Config holds the scoring weights and normalization parameters. Weights
// are assumed valid here; they are checked once at configuration load.
type Config struct {
	ViewWeight     float64
	LikeWeight     float64
	CommentWeight  float64
	VelocityWeight float64
	MinTrendScore  float64

	// BaselineViewsPerHour is the global fallback reference when no
	// category baseline is supplied. Like/comment baselines derive from it
	// at the platform's typical engagement ratios when unset.
	BaselineViewsPerHour    float64
	BaselineLikesPerHour    float64
	BaselineCommentsPerHour float64

	// ComponentCap bounds each normalized component so one outlier signal
	// cannot dominate the composite.
	ComponentCap float64
}

// Typical like/view and comment/view engagement ratios for short-form
// video, used to derive like/comment baselines from the view baseline.
const (
	defaultLikeRatio    = 0.03
	defaultCommentRatio = 0.005
)

// Analyzer computes trend scores. Stateless; safe for concurrent use.
type Analyzer struct {
	cfg Config
}

// New creates an analyzer. Unset normalization parameters get defaults.
func New(cfg Config) *Analyzer {
	if cfg.BaselineViewsPerHour <= 0 {
		cfg.BaselineViewsPerHour = 500
	}
	if cfg.BaselineLikesPerHour <= 0 {
		cfg.BaselineLikesPerHour = cfg.BaselineViewsPerHour * defaultLikeRatio
	}
	if cfg.BaselineCommentsPerHour <= 0 {
		cfg.BaselineCommentsPerHour = cfg.BaselineViewsPerHour * defaultCommentRatio
	}
	if cfg.ComponentCap <= 0 {
		cfg.ComponentCap = 10
	}
	return &Analyzer{cfg: cfg}
}

// Score evaluates one content item from its snapshot history. Only
// snapshots within the trailing windowHours of the latest snapshot count;
// fewer than two in-window snapshots (or zero elapsed time) yields a zero,
// non-surging score rather than an error.
func (a *Analyzer) Score(contentID string, history []store.Snapshot, windowHours int, baseline Baseline) store.TrendScore {
	score := store.TrendScore{
		ContentID:  contentID,
		ComputedAt: time.Now().UTC(),
	}

	window := restrictWindow(history, windowHours)
	if len(window) < 2 {
		return score
	}

	first, last := window[0], window[len(window)-1]
	elapsed := last.CapturedAt.Sub(first.CapturedAt).Hours()
	if elapsed <= 0 {
		return score
	}

	viewBase := baseline.ViewsPerHour
	if viewBase <= 0 {
		viewBase = a.cfg.BaselineViewsPerHour
	}
	likeBase := baseline.LikesPerHour
	if likeBase <= 0 {
		likeBase = a.cfg.BaselineLikesPerHour
	}
	commentBase := baseline.CommentsPerHour
	if commentBase <= 0 {
		commentBase = a.cfg.BaselineCommentsPerHour
	}

	score.ViewGrowth = a.normalizedRate(last.ViewCount-first.ViewCount, elapsed, viewBase)
	score.LikeGrowth = a.normalizedRate(last.LikeCount-first.LikeCount, elapsed, likeBase)
	score.CommentGrowth = a.normalizedRate(last.CommentCount-first.CommentCount, elapsed, commentBase)
	score.Velocity = a.velocity(window)

	score.Composite = a.cfg.ViewWeight*score.ViewGrowth +
		a.cfg.LikeWeight*score.LikeGrowth +
		a.cfg.CommentWeight*score.CommentGrowth +
		a.cfg.VelocityWeight*score.Velocity
	score.Surging = score.Composite >= a.cfg.MinTrendScore

	return score
}

// restrictWindow keeps the snapshots inside the trailing window behind the
// latest snapshot. History arrives ordered by capturedAt ascending.
func restrictWindow(history []store.Snapshot, windowHours int) []store.Snapshot {
	if len(history) == 0 {
		return nil
	}
	cutoff := history[len(history)-1].CapturedAt.Add(-time.Duration(windowHours) * time.Hour)
	for i, s := range history {
		if !s.CapturedAt.Before(cutoff) {
			return history[i:]
		}
	}
	return nil
}

// normalizedRate turns an absolute counter delta into a baseline-relative
// hourly growth rate, clamped to [0, cap]. Platform-side corrections can
// make counters decrease; negative deltas clamp to zero rather than
// producing negative growth.
func (a *Analyzer) normalizedRate(delta int64, elapsedHours, baseline float64) float64 {
	if delta <= 0 || baseline <= 0 {
		return 0
	}
	rate := float64(delta) / elapsedHours
	return clamp(rate/baseline, a.cfg.ComponentCap)
}

// velocity measures acceleration: how much faster the most recent
// sub-interval grew compared to the whole-window average rate. Flat growth
// scores zero; only speeding up counts.
func (a *Analyzer) velocity(window []store.Snapshot) float64 {
	if len(window) < 3 {
		return 0
	}

	first, prev, last := window[0], window[len(window)-2], window[len(window)-1]

	windowHours := last.CapturedAt.Sub(first.CapturedAt).Hours()
	recentHours := last.CapturedAt.Sub(prev.CapturedAt).Hours()
	if windowHours <= 0 || recentHours <= 0 {
		return 0
	}

	windowDelta := last.ViewCount - first.ViewCount
	recentDelta := last.ViewCount - prev.ViewCount
	if windowDelta <= 0 || recentDelta <= 0 {
		return 0
	}

	avgRate := float64(windowDelta) / windowHours
	recentRate := float64(recentDelta) / recentHours
	if avgRate <= 0 {
		return 0
	}

	return clamp(recentRate/avgRate-1, a.cfg.ComponentCap)
}

func clamp(v, limit float64) float64 {
	if v < 0 {
		return 0
	}
	if v > limit {
		return limit
	}
	return v
}

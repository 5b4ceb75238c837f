// Package metrics defines the contract for fetching current engagement
// counters from an external content platform.
package metrics

import (
	"context"
	"errors"
	"time"
)

// Metrics is a point-in-time engagement reading for one content item.
type Metrics struct {
	ContentID    string
	ChannelID    string
	Title        string
	Category     string
	Tags         []string
	ViewCount    int64
	LikeCount    int64
	CommentCount int64
	PublishedAt  time.Time
	DurationSecs int
}

// ErrNotFound means the platform does not know the content identifier.
// Permanent for the requesting cycle; not retried.
var ErrNotFound = errors.New("metrics: content not found")

// ErrSourceUnavailable means the platform could not be reached or answered
// with a transient failure. Retried with bounded backoff within a cycle.
var ErrSourceUnavailable = errors.New("metrics: source unavailable")

// Source supplies current engagement counters for a content identifier.
// Implementations are fallible, rate-limited and latency-variable; callers
// own retry policy.
type Source interface {
	Name() string
	Fetch(ctx context.Context, contentID string) (*Metrics, error)
}

// Lister optionally exposes platform-side discovery of currently popular
// content, used by collection strategies to seed fresh candidates.
type Lister interface {
	MostPopular(ctx context.Context, limit int) ([]string, error)
}

package trend

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/minseok-oh/surgewatch/internal/store"
)

func testConfig() Config {
	return Config{
		ViewWeight:           0.4,
		LikeWeight:           0.3,
		CommentWeight:        0.2,
		VelocityWeight:       0.1,
		MinTrendScore:        0.6,
		BaselineViewsPerHour: 500,
		ComponentCap:         10,
	}
}

func snapshotsAt(base time.Time, views ...int64) []store.Snapshot {
	snaps := make([]store.Snapshot, len(views))
	for i, v := range views {
		snaps[i] = store.Snapshot{
			ContentID:  "youtube:x",
			CapturedAt: base.Add(time.Duration(i) * time.Hour),
			ViewCount:  v,
		}
	}
	return snaps
}

func TestInsufficientHistoryScoresZero(t *testing.T) {
	a := New(testConfig())
	base := time.Now().UTC().Add(-4 * time.Hour)

	cases := map[string][]store.Snapshot{
		"empty":    nil,
		"single":   snapshotsAt(base, 1000),
		"same moment": {
			{ContentID: "youtube:x", CapturedAt: base, ViewCount: 100},
			{ContentID: "youtube:x", CapturedAt: base, ViewCount: 200},
		},
	}

	for name, history := range cases {
		t.Run(name, func(t *testing.T) {
			sc := a.Score("youtube:x", history, 8, Baseline{})
			assert.Zero(t, sc.Composite)
			assert.False(t, sc.Surging)
		})
	}
}

func TestViewGrowthNormalizedAgainstBaseline(t *testing.T) {
	a := New(testConfig())
	base := time.Now().UTC().Add(-2 * time.Hour)

	// 2000 views over 2 hours = 1000/h against a 500/h baseline.
	history := snapshotsAt(base, 1000, 2000, 3000)

	sc := a.Score("youtube:x", history, 8, Baseline{})
	assert.InDelta(t, 2.0, sc.ViewGrowth, 1e-9)
}

func TestCategoryBaselineOverridesDefault(t *testing.T) {
	a := New(testConfig())
	base := time.Now().UTC().Add(-2 * time.Hour)
	history := snapshotsAt(base, 1000, 2000, 3000)

	sc := a.Score("youtube:x", history, 8, Baseline{ViewsPerHour: 2000})
	assert.InDelta(t, 0.5, sc.ViewGrowth, 1e-9)
}

func TestVelocityRewardsAcceleration(t *testing.T) {
	a := New(testConfig())
	base := time.Now().UTC().Add(-3 * time.Hour)

	// Whole-window rate 1000/h; final hour 2400/h.
	accelerating := snapshotsAt(base, 0, 300, 600, 3000)
	sc := a.Score("youtube:x", accelerating, 8, Baseline{})
	assert.InDelta(t, 1.4, sc.Velocity, 1e-9)

	// Perfectly flat growth has zero acceleration.
	flat := snapshotsAt(base, 0, 1000, 2000, 3000)
	sc = a.Score("youtube:x", flat, 8, Baseline{})
	assert.Zero(t, sc.Velocity)
}

func TestDecreasingCountersClampToZero(t *testing.T) {
	a := New(testConfig())
	base := time.Now().UTC().Add(-2 * time.Hour)

	history := snapshotsAt(base, 5000, 4500, 4000)
	sc := a.Score("youtube:x", history, 8, Baseline{})

	assert.Zero(t, sc.ViewGrowth)
	assert.Zero(t, sc.Velocity)
	assert.False(t, sc.Surging)
}

func TestComponentCapBoundsOutliers(t *testing.T) {
	a := New(testConfig())
	base := time.Now().UTC().Add(-time.Hour)

	// 1,000,000 views/h against 500/h would be 2000 uncapped.
	history := snapshotsAt(base, 0, 1_000_000)
	sc := a.Score("youtube:x", history, 8, Baseline{})
	assert.InDelta(t, 10, sc.ViewGrowth, 1e-9)
}

func TestCompositeWeightingAndSurgeThreshold(t *testing.T) {
	a := New(testConfig())
	base := time.Now().UTC().Add(-2 * time.Hour)

	history := []store.Snapshot{
		{ContentID: "youtube:x", CapturedAt: base, ViewCount: 0, LikeCount: 0, CommentCount: 0},
		{ContentID: "youtube:x", CapturedAt: base.Add(2 * time.Hour), ViewCount: 2000, LikeCount: 60, CommentCount: 5},
	}

	sc := a.Score("youtube:x", history, 8, Baseline{})

	// views: 1000/h / 500 = 2; likes: 30/h / 15 = 2; comments: 2.5/h / 2.5 = 1.
	// velocity needs >= 3 snapshots, so 0.
	want := 0.4*2 + 0.3*2 + 0.2*1 + 0.1*0
	assert.InDelta(t, want, sc.Composite, 1e-9)
	assert.True(t, sc.Surging)
}

func TestWindowExcludesStaleSnapshots(t *testing.T) {
	a := New(testConfig())
	now := time.Now().UTC()

	history := []store.Snapshot{
		// Two days old; a huge jump that must not count.
		{ContentID: "youtube:x", CapturedAt: now.Add(-48 * time.Hour), ViewCount: 0},
		{ContentID: "youtube:x", CapturedAt: now.Add(-2 * time.Hour), ViewCount: 100_000},
		{ContentID: "youtube:x", CapturedAt: now, ViewCount: 100_000},
	}

	sc := a.Score("youtube:x", history, 8, Baseline{})
	assert.Zero(t, sc.ViewGrowth, "growth measured inside the window only")
}

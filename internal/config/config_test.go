package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := Default()
	require.NotEmpty(t, cfg.Schedulers)

	for _, sc := range cfg.Schedulers {
		assert.NoError(t, sc.Validate(), "scheduler %s", sc.Name)
	}
}

func TestWeightsMustSumToOne(t *testing.T) {
	sc := DefaultScheduler("bad-weights")
	sc.ViewWeight = 0.4
	sc.LikeWeight = 0.3
	sc.CommentWeight = 0.2
	sc.VelocityWeight = 0.0 // sums to 0.9

	err := sc.Validate()
	require.Error(t, err)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "bad-weights", verr.Scheduler)
}

func TestWeightsToleranceAccepted(t *testing.T) {
	sc := DefaultScheduler("close-enough")
	sc.ViewWeight = 0.4
	sc.LikeWeight = 0.3
	sc.CommentWeight = 0.2
	sc.VelocityWeight = 0.105 // sums to 1.005, inside tolerance

	assert.NoError(t, sc.Validate())
}

func TestNegativeThresholdsRejected(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*SchedulerConfig)
	}{
		{"interval", func(sc *SchedulerConfig) { sc.IntervalMinutes = 0 }},
		{"budget", func(sc *SchedulerConfig) { sc.MaxItemsPerCycle = 0 }},
		{"min views", func(sc *SchedulerConfig) { sc.MinViewCount = -1 }},
		{"window", func(sc *SchedulerConfig) { sc.AnalysisWindowHours = 0 }},
		{"score", func(sc *SchedulerConfig) { sc.MinTrendScore = -0.1 }},
		{"concurrency", func(sc *SchedulerConfig) { sc.FetchConcurrency = 0 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sc := DefaultScheduler("s")
			tc.mutate(&sc)
			assert.Error(t, sc.Validate())
		})
	}
}

func TestLoadFillsDefaultsAndOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := `
database:
  path: /tmp/test.db
schedulers:
  - name: custom
    interval_minutes: 5
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Len(t, cfg.Schedulers, 1)
	sc := cfg.Schedulers[0]
	assert.Equal(t, "custom", sc.Name)
	assert.Equal(t, 5*time.Minute, sc.Interval())
	// Unset fields take scheduler defaults.
	assert.Equal(t, 50, sc.MaxItemsPerCycle)
	assert.InDelta(t, 0.4, sc.ViewWeight, 1e-9)
	// Omitted count thresholds stay zero: zero means no filter, and YAML
	// cannot tell an omitted count from an explicit zero.
	assert.Zero(t, sc.MinViewCount)
	assert.Zero(t, sc.MinLikeCount)
	assert.Equal(t, "/tmp/test.db", cfg.Database.Path)
}

func TestLoadRejectsInvalidScheduler(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := `
schedulers:
  - name: broken
    view_weight: 0.9
    like_weight: 0.9
    comment_weight: 0.9
    velocity_weight: 0.9
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SURGEWATCH_DB_PATH", "/var/lib/surge.db")
	t.Setenv("YOUTUBE_API_KEY", "test-key")
	t.Setenv("SLACK_WEBHOOK_URL", "https://hooks.slack.test/x")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/surge.db", cfg.Database.Path)
	assert.Equal(t, "test-key", cfg.YouTube.APIKey)
	assert.Equal(t, "https://hooks.slack.test/x", cfg.Alerts.Slack.WebhookURL)
	assert.True(t, cfg.Alerts.Slack.Enabled)
}

func TestDisabledFlag(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := `
schedulers:
  - name: parked
    disabled: true
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.Schedulers, 1)
	assert.True(t, cfg.Schedulers[0].Disabled)
}

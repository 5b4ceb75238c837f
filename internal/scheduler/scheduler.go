// Package scheduler drives the recurring trend-detection cycles: candidate
// selection, metric sampling, scoring, aggregation, and event emission.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/minseok-oh/surgewatch/internal/config"
	"github.com/minseok-oh/surgewatch/internal/store"
	"github.com/minseok-oh/surgewatch/pkg/collect"
	"github.com/minseok-oh/surgewatch/pkg/event"
	"github.com/minseok-oh/surgewatch/pkg/metrics"
	"github.com/minseok-oh/surgewatch/pkg/trend"
)

// State is the scheduler lifecycle state.
type State string

const (
	StateIdle     State = "idle"
	StateRunning  State = "running"
	StateStopping State = "stopping"
	StateDisabled State = "disabled"
)

var (
	// ErrBusy means a cycle is already in flight; the caller's trigger is
	// skipped, not queued.
	ErrBusy = errors.New("scheduler: cycle already running")

	// ErrDisabled means the scheduler was disabled and must be explicitly
	// re-enabled before it can start.
	ErrDisabled = errors.New("scheduler: disabled")
)

// minInterval is the floor on the cycle cadence; anything shorter would
// risk permanently overlapping ticks.
const minInterval = time.Minute

// topTagLimit is how many tags a category aggregate keeps.
const topTagLimit = 5

// Status is a point-in-time status summary for one scheduler.
type Status struct {
	Name     string            `json:"name"`
	State    State             `json:"state"`
	Strategy string            `json:"strategy"`
	Interval string            `json:"interval"`
	LastRun  *event.RunSummary `json:"last_run,omitempty"`
	NextRun  *time.Time        `json:"next_run,omitempty"`
}

// Scheduler owns one recurring trend-detection job. One cycle: select
// candidates under budget, fetch metrics, append snapshots, score, persist,
// aggregate per category, emit events. Single-flight by construction.
type Scheduler struct {
	cfg      config.SchedulerConfig
	store    store.Store
	source   metrics.Source
	strategy collect.Strategy
	analyzer *trend.Analyzer
	bus      *event.Bus
	log      *logrus.Logger

	// cycleMu is the single-flight lock around one cycle body. TryLock
	// losers skip the tick instead of queueing.
	cycleMu sync.Mutex

	mu       sync.Mutex // guards everything below
	state    State
	stopCh   chan struct{}
	doneCh   chan struct{}
	lastRun  *event.RunSummary
	nextRun  time.Time
	interval time.Duration
}

// New constructs a scheduler from validated configuration. Invalid
// configuration is fatal here and prevents Start.
func New(
	cfg config.SchedulerConfig,
	st store.Store,
	src metrics.Source,
	strategy collect.Strategy,
	bus *event.Bus,
	log *logrus.Logger,
) (*Scheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logrus.New()
	}

	interval := cfg.Interval()
	if interval < minInterval {
		interval = minInterval
	}

	state := StateIdle
	if cfg.Disabled {
		state = StateDisabled
	}

	analyzer := trend.New(trend.Config{
		ViewWeight:           cfg.ViewWeight,
		LikeWeight:           cfg.LikeWeight,
		CommentWeight:        cfg.CommentWeight,
		VelocityWeight:       cfg.VelocityWeight,
		MinTrendScore:        cfg.MinTrendScore,
		BaselineViewsPerHour: cfg.BaselineViewsPerHr,
		ComponentCap:         cfg.ComponentCap,
	})

	return &Scheduler{
		cfg:      cfg,
		store:    st,
		source:   src,
		strategy: strategy,
		analyzer: analyzer,
		bus:      bus,
		log:      log,
		state:    state,
		interval: interval,
	}, nil
}

// Name returns the scheduler's registry name.
func (s *Scheduler) Name() string { return s.cfg.Name }

// Start transitions Idle to Running and launches the recurring loop. The
// first cycle runs immediately. Calling Start while Running is a reported
// no-op; starting a Disabled scheduler is an error.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case StateDisabled:
		s.mu.Unlock()
		return fmt.Errorf("%s: %w", s.cfg.Name, ErrDisabled)
	case StateRunning, StateStopping:
		s.mu.Unlock()
		s.log.WithField("scheduler", s.cfg.Name).Warn("start ignored: already running")
		return nil
	}

	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.setStateLocked(StateRunning)
	stopCh, doneCh := s.stopCh, s.doneCh
	s.mu.Unlock()

	go s.loop(ctx, stopCh, doneCh)
	return nil
}

// Stop requests graceful termination: an in-flight cycle finishes, no new
// cycle starts. Idempotent; status reads Stopping until cleanup completes.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.state != StateRunning {
		s.mu.Unlock()
		return
	}
	s.setStateLocked(StateStopping)
	close(s.stopCh)
	s.mu.Unlock()
}

// Done returns a channel closed when the current run loop has fully
// terminated. Nil when the scheduler never started.
func (s *Scheduler) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doneCh
}

// Disable stops the scheduler (if running) and parks it in the terminal
// Disabled state until Enable.
func (s *Scheduler) Disable() {
	s.Stop()
	if done := s.Done(); done != nil {
		<-done
	}
	s.mu.Lock()
	s.setStateLocked(StateDisabled)
	s.mu.Unlock()
}

// Enable returns a Disabled scheduler to Idle.
func (s *Scheduler) Enable() {
	s.mu.Lock()
	if s.state == StateDisabled {
		s.setStateLocked(StateIdle)
	}
	s.mu.Unlock()
}

// RunOnce executes exactly one cycle synchronously, independent of the
// recurring timer. Returns ErrBusy instead of overlapping an in-flight
// cycle.
func (s *Scheduler) RunOnce(ctx context.Context) (*event.RunSummary, error) {
	if !s.cycleMu.TryLock() {
		return nil, fmt.Errorf("%s: %w", s.cfg.Name, ErrBusy)
	}
	defer s.cycleMu.Unlock()
	return s.cycle(ctx), nil
}

// Status reports current state, the last run outcome and the next
// scheduled time.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		Name:     s.cfg.Name,
		State:    s.state,
		Strategy: s.strategy.Name(),
		Interval: s.interval.String(),
		LastRun:  s.lastRun,
	}
	if s.state == StateRunning && !s.nextRun.IsZero() {
		next := s.nextRun
		st.NextRun = &next
	}
	return st
}

// setStateLocked updates state and broadcasts the transition. Callers hold
// s.mu.
func (s *Scheduler) setStateLocked(next State) {
	if s.state == next {
		return
	}
	s.state = next
	if s.bus != nil {
		s.bus.Publish(event.Event{
			Kind:      event.KindStateChanged,
			Scheduler: s.cfg.Name,
			State:     string(next),
		})
	}
	s.log.WithFields(logrus.Fields{
		"scheduler": s.cfg.Name,
		"state":     next,
	}).Info("scheduler state changed")
}

// loop is the recurring task: run a cycle, then wait for the timer or the
// stop signal, whichever fires first.
func (s *Scheduler) loop(ctx context.Context, stopCh, doneCh chan struct{}) {
	defer func() {
		s.mu.Lock()
		s.nextRun = time.Time{}
		s.setStateLocked(StateIdle)
		s.mu.Unlock()
		close(doneCh)
	}()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.tick(ctx)

		s.mu.Lock()
		s.nextRun = time.Now().UTC().Add(s.interval)
		s.mu.Unlock()

		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// tick runs one scheduled cycle, skipping if another trigger holds the
// single-flight lock.
func (s *Scheduler) tick(ctx context.Context) {
	if !s.cycleMu.TryLock() {
		s.log.WithField("scheduler", s.cfg.Name).Info("cycle skipped: previous still running")
		if s.bus != nil {
			s.bus.Publish(event.Event{
				Kind:      event.KindCycleSkipped,
				Scheduler: s.cfg.Name,
				Reason:    "cycle in flight",
			})
		}
		return
	}
	defer s.cycleMu.Unlock()

	s.cycle(ctx)
}

// scoredItem is one successfully processed candidate, kept for the
// aggregation step.
type scoredItem struct {
	content *store.Content
	score   store.TrendScore
}

// cycle executes one full select-fetch-snapshot-score-aggregate pass.
// Callers hold cycleMu. Per-item failures are isolated and counted; they
// never abort the remaining items.
func (s *Scheduler) cycle(ctx context.Context) *event.RunSummary {
	run := &event.RunSummary{
		RunID:     uuid.NewString(),
		StartedAt: time.Now().UTC(),
	}
	log := s.log.WithFields(logrus.Fields{
		"scheduler": s.cfg.Name,
		"run_id":    run.RunID,
	})

	if s.bus != nil {
		s.bus.Publish(event.Event{Kind: event.KindCycleStarted, Scheduler: s.cfg.Name})
	}

	filters := store.CandidateFilters{
		MinViewCount: s.cfg.MinViewCount,
		MinLikeCount: s.cfg.MinLikeCount,
		MaxAgeHours:  s.cfg.MaxAgeHours,
	}

	ids, err := s.strategy.Select(ctx, s.cfg.MaxItemsPerCycle, filters)
	if err != nil {
		log.WithError(err).Error("candidate selection failed")
		run.Outcome = "failed"
		s.finishRun(run)
		return run
	}
	if len(ids) > s.cfg.MaxItemsPerCycle {
		ids = ids[:s.cfg.MaxItemsPerCycle]
	}
	run.Attempted = len(ids)

	var (
		itemsMu sync.Mutex
		items   []scoredItem
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.FetchConcurrency)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			item, err := s.processItem(gctx, id)
			itemsMu.Lock()
			defer itemsMu.Unlock()
			if err != nil {
				run.Failed++
				log.WithError(err).WithField("content_id", id).Warn("item failed")
				if s.bus != nil {
					s.bus.Publish(event.Event{
						Kind:      event.KindItemFailed,
						Scheduler: s.cfg.Name,
						ContentID: id,
						Reason:    err.Error(),
					})
				}
				return nil // failures are isolated, never abort the group
			}
			run.Succeeded++
			items = append(items, *item)
			return nil
		})
	}
	g.Wait()

	aggregates := s.aggregate(ctx, run, items)

	run.EndedAt = time.Now().UTC()
	run.Categories = len(aggregates)
	switch {
	case run.Attempted == 0:
		run.Outcome = "completed"
	case run.Succeeded == 0:
		run.Outcome = "failed"
	case run.Failed > 0:
		run.Outcome = "partial"
	default:
		run.Outcome = "completed"
	}

	log.WithFields(logrus.Fields{
		"attempted": run.Attempted,
		"succeeded": run.Succeeded,
		"failed":    run.Failed,
		"surging":   run.Surging,
		"outcome":   run.Outcome,
		"elapsed":   run.EndedAt.Sub(run.StartedAt).String(),
	}).Info("cycle completed")

	s.finishRun(run)
	return run
}

// finishRun records the run and publishes the completion event.
func (s *Scheduler) finishRun(run *event.RunSummary) {
	if run.EndedAt.IsZero() {
		run.EndedAt = time.Now().UTC()
	}
	s.mu.Lock()
	s.lastRun = run
	s.mu.Unlock()

	if s.bus != nil {
		s.bus.Publish(event.Event{
			Kind:      event.KindCycleCompleted,
			Scheduler: s.cfg.Name,
			Run:       run,
		})
	}
}

// processItem samples one candidate: fetch current metrics (with bounded
// backoff on transient source failures), upsert the content row, append a
// snapshot, score the in-window history, persist the score. Snapshot order
// per content is preserved because each item is handled by exactly one
// goroutine per cycle.
func (s *Scheduler) processItem(ctx context.Context, id string) (*scoredItem, error) {
	m, err := s.fetchWithRetry(ctx, id)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	content := &store.Content{
		ID:           m.ContentID,
		Platform:     s.source.Name(),
		ChannelID:    m.ChannelID,
		Title:        m.Title,
		Category:     m.Category,
		Tags:         m.Tags,
		DurationSecs: m.DurationSecs,
		ViewCount:    m.ViewCount,
		LikeCount:    m.LikeCount,
		CommentCount: m.CommentCount,
		PublishedAt:  m.PublishedAt,
		CrawledAt:    now,
	}
	if err := s.store.UpsertContent(ctx, content); err != nil {
		return nil, fmt.Errorf("upsert: %w", err)
	}

	snap := &store.Snapshot{
		ContentID:    content.ID,
		CapturedAt:   now,
		ViewCount:    m.ViewCount,
		LikeCount:    m.LikeCount,
		CommentCount: m.CommentCount,
	}
	if err := s.store.AppendSnapshot(ctx, snap); err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}

	since := now.Add(-s.cfg.AnalysisWindow())
	history, err := s.store.SnapshotsSince(ctx, content.ID, since)
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}

	score := s.analyzer.Score(content.ID, history, s.cfg.AnalysisWindowHours, s.baseline(ctx, content.Category))
	if err := s.store.PersistScore(ctx, &score); err != nil {
		return nil, fmt.Errorf("persist score: %w", err)
	}

	return &scoredItem{content: content, score: score}, nil
}

// fetchWithRetry retries transient source failures with exponential
// backoff, bounded by the configured retry count. NotFound is permanent.
func (s *Scheduler) fetchWithRetry(ctx context.Context, id string) (*metrics.Metrics, error) {
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(s.cfg.RetryCount)),
		ctx,
	)

	var m *metrics.Metrics
	op := func() error {
		var err error
		m, err = s.source.Fetch(ctx, id)
		if errors.Is(err, metrics.ErrNotFound) {
			return backoff.Permanent(err)
		}
		return err
	}
	if err := backoff.Retry(op, policy); err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	return m, nil
}

// baseline looks up the category's recent average hourly views; a missing
// or empty baseline falls back to the analyzer's configured default.
func (s *Scheduler) baseline(ctx context.Context, category string) trend.Baseline {
	if category == "" {
		return trend.Baseline{}
	}
	since := time.Now().UTC().Add(-7 * 24 * time.Hour)
	avg, err := s.store.AverageHourlyViews(ctx, category, since)
	if err != nil || avg <= 0 {
		return trend.Baseline{}
	}
	return trend.Baseline{
		ViewsPerHour:    avg,
		LikesPerHour:    avg * 0.03,
		CommentsPerHour: avg * 0.005,
	}
}

// aggregate rebuilds per-category summaries from the items touched this
// cycle. Aggregates are replaced wholesale, not merged.
func (s *Scheduler) aggregate(ctx context.Context, run *event.RunSummary, items []scoredItem) []store.CategoryAggregate {
	type bucket struct {
		surge   int
		sample  int
		tagFreq map[string]int
	}
	buckets := make(map[string]*bucket)

	for _, it := range items {
		if it.score.Surging {
			run.Surging++
		}
		cat := it.content.Category
		if cat == "" {
			continue
		}
		b := buckets[cat]
		if b == nil {
			b = &bucket{tagFreq: make(map[string]int)}
			buckets[cat] = b
		}
		b.sample++
		if it.score.Surging {
			b.surge++
			for _, tag := range it.content.Tags {
				b.tagFreq[tag]++
			}
		}
	}

	windowEnd := time.Now().UTC()
	windowStart := windowEnd.Add(-s.cfg.AnalysisWindow())

	aggregates := make([]store.CategoryAggregate, 0, len(buckets))
	for cat, b := range buckets {
		agg := store.CategoryAggregate{
			Category:    cat,
			WindowStart: windowStart,
			WindowEnd:   windowEnd,
			TopTags:     topTags(b.tagFreq, topTagLimit),
			SurgeCount:  b.surge,
			SampleCount: b.sample,
		}
		if err := s.store.PersistAggregate(ctx, &agg); err != nil {
			s.log.WithError(err).WithFields(logrus.Fields{
				"scheduler": s.cfg.Name,
				"category":  cat,
			}).Error("persist aggregate failed")
			continue
		}
		aggregates = append(aggregates, agg)
	}
	return aggregates
}

// topTags returns the n most frequent tags, ordered by frequency then
// lexicographically for a stable result.
func topTags(freq map[string]int, n int) []store.TagCount {
	tags := make([]store.TagCount, 0, len(freq))
	for tag, count := range freq {
		tags = append(tags, store.TagCount{Tag: tag, Count: count})
	}
	sort.Slice(tags, func(i, j int) bool {
		if tags[i].Count != tags[j].Count {
			return tags[i].Count > tags[j].Count
		}
		return tags[i].Tag < tags[j].Tag
	})
	if len(tags) > n {
		tags = tags[:n]
	}
	return tags
}

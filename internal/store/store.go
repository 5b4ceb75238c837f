package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// shortFormMaxSeconds is the duration cutoff below which content counts
// as short-form.
const shortFormMaxSeconds = 60

// Content is a tracked video. Created on first sighting, updated on every
// re-sample; never deleted by this package.
type Content struct {
	ID           string    `db:"id" json:"id"` // platform-scoped, e.g. "youtube:dQw4w9WgXcQ"
	Platform     string    `db:"platform" json:"platform"`
	ChannelID    string    `db:"channel_id" json:"channel_id"`
	Title        string    `db:"title" json:"title"`
	Category     string    `db:"category" json:"category,omitempty"` // empty until classified
	Tags         []string  `json:"tags" db:"-"`
	TagsJSON     string    `json:"-" db:"tags"`
	DurationSecs int       `db:"duration_seconds" json:"duration_seconds"`
	IsShort      bool      `db:"is_short" json:"is_short"` // derived: duration <= 60s
	ViewCount    int64     `db:"view_count" json:"view_count"`
	LikeCount    int64     `db:"like_count" json:"like_count"`
	CommentCount int64     `db:"comment_count" json:"comment_count"`
	PublishedAt  time.Time `db:"published_at" json:"published_at"`
	CrawledAt    time.Time `db:"crawled_at" json:"crawled_at"`
}

// ShortForm reports whether a duration qualifies as short-form content.
func ShortForm(durationSeconds int) bool {
	return durationSeconds > 0 && durationSeconds <= shortFormMaxSeconds
}

// Snapshot is one point-in-time engagement sample. Append-only; capturedAt
// is strictly increasing within one content's sequence.
type Snapshot struct {
	ID           int64     `db:"id" json:"id"`
	ContentID    string    `db:"content_id" json:"content_id"`
	CapturedAt   time.Time `db:"captured_at" json:"captured_at"`
	ViewCount    int64     `db:"view_count" json:"view_count"`
	LikeCount    int64     `db:"like_count" json:"like_count"`
	CommentCount int64     `db:"comment_count" json:"comment_count"`
}

// TrendScore is the latest composite trend evaluation for one content item.
// Recomputed each cycle; the newest row supersedes older ones.
type TrendScore struct {
	ContentID     string    `db:"content_id" json:"content_id"`
	ComputedAt    time.Time `db:"computed_at" json:"computed_at"`
	ViewGrowth    float64   `db:"view_growth" json:"view_growth"`
	LikeGrowth    float64   `db:"like_growth" json:"like_growth"`
	CommentGrowth float64   `db:"comment_growth" json:"comment_growth"`
	Velocity      float64   `db:"velocity" json:"velocity"`
	Composite     float64   `db:"composite" json:"composite"`
	Surging       bool      `db:"surging" json:"surging"`
}

// TagCount is one tag with its occurrence count inside an aggregate.
type TagCount struct {
	Tag   string `json:"tag"`
	Count int    `json:"count"`
}

// CategoryAggregate summarizes one category over a cycle's analysis window.
// Rebuilt from scratch each cycle, not incrementally updated.
type CategoryAggregate struct {
	Category    string     `db:"category" json:"category"`
	WindowStart time.Time  `db:"window_start" json:"window_start"`
	WindowEnd   time.Time  `db:"window_end" json:"window_end"`
	TopTags     []TagCount `json:"top_tags" db:"-"`
	TopTagsJSON string     `json:"-" db:"top_tags"`
	SurgeCount  int        `db:"surge_count" json:"surge_count"`
	SampleCount int        `db:"sample_count" json:"sample_count"`
}

// CandidateFilters narrows candidate selection. Explicit parameters, never
// hidden global state.
type CandidateFilters struct {
	MinViewCount int64
	MinLikeCount int64
	MaxAgeHours  int
	ShortsOnly   bool
}

// ScoreListOpts controls trend score listing.
type ScoreListOpts struct {
	SurgingOnly  bool
	MinComposite float64
	Limit        int
}

// StorageError wraps a storage failure with a retryable hint.
type StorageError struct {
	Op        string
	Retryable bool
	Err       error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// IsRetryable reports whether err is a storage failure worth retrying.
func IsRetryable(err error) bool {
	var se *StorageError
	return errors.As(err, &se) && se.Retryable
}

// Store is the persistence contract used by the schedulers and the
// monitoring API.
type Store interface {
	UpsertContent(ctx context.Context, c *Content) error
	GetContent(ctx context.Context, id string) (*Content, error)
	QueryCandidates(ctx context.Context, f CandidateFilters, limit int) ([]Content, error)

	AppendSnapshot(ctx context.Context, s *Snapshot) error
	SnapshotsSince(ctx context.Context, contentID string, since time.Time) ([]Snapshot, error)

	PersistScore(ctx context.Context, sc *TrendScore) error
	LatestScore(ctx context.Context, contentID string) (*TrendScore, error)
	ListScores(ctx context.Context, opts ScoreListOpts) ([]TrendScore, error)

	PersistAggregate(ctx context.Context, a *CategoryAggregate) error
	ListAggregates(ctx context.Context, limit int) ([]CategoryAggregate, error)

	// AverageHourlyViews returns the mean views-per-hour across recent
	// content in a category, used as the scoring baseline. Zero means no
	// data.
	AverageHourlyViews(ctx context.Context, category string, since time.Time) (float64, error)

	Close() error
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sqlx.DB
}

// New opens a SQLite database and runs migrations.
func New(path string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// wrapErr classifies a sqlite failure. Lock contention is the only
// retryable case for a single-process embedded database.
func wrapErr(op string, err error) error {
	msg := err.Error()
	retryable := strings.Contains(msg, "locked") || strings.Contains(msg, "busy")
	return &StorageError{Op: op, Retryable: retryable, Err: err}
}

func (s *SQLiteStore) UpsertContent(ctx context.Context, c *Content) error {
	tagsJSON, _ := json.Marshal(c.Tags)
	c.IsShort = ShortForm(c.DurationSecs)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO contents (id, platform, channel_id, title, category, tags, duration_seconds, is_short, view_count, like_count, comment_count, published_at, crawled_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			category = CASE WHEN excluded.category <> '' THEN excluded.category ELSE contents.category END,
			tags = excluded.tags,
			duration_seconds = excluded.duration_seconds,
			is_short = excluded.is_short,
			view_count = excluded.view_count,
			like_count = excluded.like_count,
			comment_count = excluded.comment_count,
			crawled_at = excluded.crawled_at
	`, c.ID, c.Platform, c.ChannelID, c.Title, c.Category, string(tagsJSON),
		c.DurationSecs, c.IsShort, c.ViewCount, c.LikeCount, c.CommentCount,
		c.PublishedAt, c.CrawledAt)
	if err != nil {
		return wrapErr(fmt.Sprintf("upsert content %s", c.ID), err)
	}
	return nil
}

func (s *SQLiteStore) GetContent(ctx context.Context, id string) (*Content, error) {
	var c Content
	err := s.db.GetContext(ctx, &c, "SELECT * FROM contents WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &StorageError{Op: fmt.Sprintf("get content %s", id), Retryable: false, Err: err}
	}
	if err != nil {
		return nil, wrapErr(fmt.Sprintf("get content %s", id), err)
	}
	json.Unmarshal([]byte(c.TagsJSON), &c.Tags)
	return &c, nil
}

func (s *SQLiteStore) QueryCandidates(ctx context.Context, f CandidateFilters, limit int) ([]Content, error) {
	query := `
		SELECT c.* FROM contents c
		LEFT JOIN trend_scores ts ON ts.content_id = c.id
		WHERE c.view_count >= ? AND c.like_count >= ?`
	args := []any{f.MinViewCount, f.MinLikeCount}

	if f.MaxAgeHours > 0 {
		query += " AND c.published_at >= ?"
		args = append(args, time.Now().UTC().Add(-time.Duration(f.MaxAgeHours)*time.Hour))
	}
	if f.ShortsOnly {
		query += " AND c.is_short = 1"
	}

	// Deterministic ranking: recency first, prior composite as tiebreak,
	// id as the final total order.
	query += " ORDER BY c.published_at DESC, COALESCE(ts.composite, 0) DESC, c.id ASC"

	if limit <= 0 {
		limit = 100
	}
	query += " LIMIT ?"
	args = append(args, limit)

	var contents []Content
	if err := s.db.SelectContext(ctx, &contents, query, args...); err != nil {
		return nil, wrapErr("query candidates", err)
	}
	for i := range contents {
		json.Unmarshal([]byte(contents[i].TagsJSON), &contents[i].Tags)
	}
	return contents, nil
}

func (s *SQLiteStore) AppendSnapshot(ctx context.Context, snap *Snapshot) error {
	if snap.CapturedAt.IsZero() {
		snap.CapturedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO metric_snapshots (content_id, captured_at, view_count, like_count, comment_count)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(content_id, captured_at) DO UPDATE SET
			view_count = excluded.view_count,
			like_count = excluded.like_count,
			comment_count = excluded.comment_count
	`, snap.ContentID, snap.CapturedAt, snap.ViewCount, snap.LikeCount, snap.CommentCount)
	if err != nil {
		return wrapErr(fmt.Sprintf("append snapshot %s", snap.ContentID), err)
	}
	snap.ID, _ = res.LastInsertId()
	return nil
}

func (s *SQLiteStore) SnapshotsSince(ctx context.Context, contentID string, since time.Time) ([]Snapshot, error) {
	var snaps []Snapshot
	err := s.db.SelectContext(ctx, &snaps,
		"SELECT * FROM metric_snapshots WHERE content_id = ? AND captured_at >= ? ORDER BY captured_at",
		contentID, since)
	if err != nil {
		return nil, wrapErr(fmt.Sprintf("snapshots since %s", contentID), err)
	}
	return snaps, nil
}

func (s *SQLiteStore) PersistScore(ctx context.Context, sc *TrendScore) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trend_scores (content_id, computed_at, view_growth, like_growth, comment_growth, velocity, composite, surging)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(content_id) DO UPDATE SET
			computed_at = excluded.computed_at,
			view_growth = excluded.view_growth,
			like_growth = excluded.like_growth,
			comment_growth = excluded.comment_growth,
			velocity = excluded.velocity,
			composite = excluded.composite,
			surging = excluded.surging
	`, sc.ContentID, sc.ComputedAt, sc.ViewGrowth, sc.LikeGrowth,
		sc.CommentGrowth, sc.Velocity, sc.Composite, sc.Surging)
	if err != nil {
		return wrapErr(fmt.Sprintf("persist score %s", sc.ContentID), err)
	}
	return nil
}

func (s *SQLiteStore) LatestScore(ctx context.Context, contentID string) (*TrendScore, error) {
	var sc TrendScore
	err := s.db.GetContext(ctx, &sc,
		"SELECT * FROM trend_scores WHERE content_id = ?", contentID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapErr(fmt.Sprintf("latest score %s", contentID), err)
	}
	return &sc, nil
}

func (s *SQLiteStore) ListScores(ctx context.Context, opts ScoreListOpts) ([]TrendScore, error) {
	query := "SELECT * FROM trend_scores WHERE composite >= ?"
	args := []any{opts.MinComposite}

	if opts.SurgingOnly {
		query += " AND surging = 1"
	}
	query += " ORDER BY composite DESC"

	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	query += " LIMIT ?"
	args = append(args, limit)

	var scores []TrendScore
	if err := s.db.SelectContext(ctx, &scores, query, args...); err != nil {
		return nil, wrapErr("list scores", err)
	}
	return scores, nil
}

func (s *SQLiteStore) PersistAggregate(ctx context.Context, a *CategoryAggregate) error {
	tagsJSON, _ := json.Marshal(a.TopTags)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO category_aggregates (category, window_start, window_end, top_tags, surge_count, sample_count)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(category) DO UPDATE SET
			window_start = excluded.window_start,
			window_end = excluded.window_end,
			top_tags = excluded.top_tags,
			surge_count = excluded.surge_count,
			sample_count = excluded.sample_count
	`, a.Category, a.WindowStart, a.WindowEnd, string(tagsJSON), a.SurgeCount, a.SampleCount)
	if err != nil {
		return wrapErr(fmt.Sprintf("persist aggregate %s", a.Category), err)
	}
	return nil
}

func (s *SQLiteStore) ListAggregates(ctx context.Context, limit int) ([]CategoryAggregate, error) {
	if limit <= 0 {
		limit = 50
	}
	var aggs []CategoryAggregate
	err := s.db.SelectContext(ctx, &aggs,
		"SELECT * FROM category_aggregates ORDER BY surge_count DESC, category LIMIT ?", limit)
	if err != nil {
		return nil, wrapErr("list aggregates", err)
	}
	for i := range aggs {
		json.Unmarshal([]byte(aggs[i].TopTagsJSON), &aggs[i].TopTags)
	}
	return aggs, nil
}

func (s *SQLiteStore) AverageHourlyViews(ctx context.Context, category string, since time.Time) (float64, error) {
	query := `
		SELECT COALESCE(AVG(CAST(view_count AS REAL) / MAX((julianday('now') - julianday(published_at)) * 24, 0.1)), 0)
		FROM contents
		WHERE published_at >= ? AND view_count > 0`
	args := []any{since}
	if category != "" {
		query += " AND category = ?"
		args = append(args, category)
	}

	var avg float64
	if err := s.db.GetContext(ctx, &avg, query, args...); err != nil {
		return 0, wrapErr("average hourly views", err)
	}
	return avg, nil
}

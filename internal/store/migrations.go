package store

const schema = `
CREATE TABLE IF NOT EXISTS contents (
    id               TEXT PRIMARY KEY,
    platform         TEXT NOT NULL,
    channel_id       TEXT NOT NULL DEFAULT '',
    title            TEXT NOT NULL DEFAULT '',
    category         TEXT NOT NULL DEFAULT '',
    tags             TEXT NOT NULL DEFAULT '[]',
    duration_seconds INTEGER NOT NULL DEFAULT 0,
    is_short         BOOLEAN NOT NULL DEFAULT 0,
    view_count       INTEGER NOT NULL DEFAULT 0,
    like_count       INTEGER NOT NULL DEFAULT 0,
    comment_count    INTEGER NOT NULL DEFAULT 0,
    published_at     DATETIME NOT NULL,
    crawled_at       DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_contents_published ON contents(published_at);
CREATE INDEX IF NOT EXISTS idx_contents_category ON contents(category);
CREATE INDEX IF NOT EXISTS idx_contents_views ON contents(view_count);

CREATE TABLE IF NOT EXISTS metric_snapshots (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    content_id    TEXT NOT NULL REFERENCES contents(id),
    captured_at   DATETIME NOT NULL,
    view_count    INTEGER NOT NULL,
    like_count    INTEGER NOT NULL,
    comment_count INTEGER NOT NULL,
    UNIQUE(content_id, captured_at)
);

CREATE INDEX IF NOT EXISTS idx_snapshots_content ON metric_snapshots(content_id);
CREATE INDEX IF NOT EXISTS idx_snapshots_captured ON metric_snapshots(captured_at);

CREATE TABLE IF NOT EXISTS trend_scores (
    content_id     TEXT PRIMARY KEY REFERENCES contents(id),
    computed_at    DATETIME NOT NULL,
    view_growth    REAL NOT NULL DEFAULT 0,
    like_growth    REAL NOT NULL DEFAULT 0,
    comment_growth REAL NOT NULL DEFAULT 0,
    velocity       REAL NOT NULL DEFAULT 0,
    composite      REAL NOT NULL DEFAULT 0,
    surging        BOOLEAN NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_scores_composite ON trend_scores(composite);

CREATE TABLE IF NOT EXISTS category_aggregates (
    category     TEXT PRIMARY KEY,
    window_start DATETIME NOT NULL,
    window_end   DATETIME NOT NULL,
    top_tags     TEXT NOT NULL DEFAULT '[]',
    surge_count  INTEGER NOT NULL DEFAULT 0,
    sample_count INTEGER NOT NULL DEFAULT 0
);
`

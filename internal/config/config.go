package config

import (
	"fmt"
	"math"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	Database   DatabaseConfig    `yaml:"database"`
	Server     ServerConfig      `yaml:"server"`
	Logging    LoggingConfig     `yaml:"logging"`
	YouTube    YouTubeConfig     `yaml:"youtube"`
	Alerts     AlertsConfig      `yaml:"alerts"`
	Schedulers []SchedulerConfig `yaml:"schedulers"`
}

// DatabaseConfig configures SQLite storage.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// ServerConfig configures the monitoring HTTP server.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig configures structured logging output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "text"
}

// YouTubeConfig configures the YouTube Data API metric source.
type YouTubeConfig struct {
	APIKey string `yaml:"api_key"`
	Region string `yaml:"region"`
}

// AlertsConfig configures surge alert destinations.
type AlertsConfig struct {
	Slack   SlackConfig   `yaml:"slack"`
	Discord DiscordConfig `yaml:"discord"`
	Webhook WebhookConfig `yaml:"webhook"`
}

// SlackConfig for Slack webhook alerts.
type SlackConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url"`
}

// DiscordConfig for Discord webhook alerts.
type DiscordConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url"`
}

// WebhookConfig for generic webhook alerts.
type WebhookConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Secret  string `yaml:"secret"`
}

// SchedulerConfig configures one named trend scheduler. Loaded once at
// scheduler construction; not hot-reloaded.
type SchedulerConfig struct {
	Name                string  `yaml:"name"`
	Disabled            bool    `yaml:"disabled"`
	Strategy            string  `yaml:"strategy"` // "selective" or "category_balanced"
	IntervalMinutes     int     `yaml:"interval_minutes"`
	MaxItemsPerCycle    int     `yaml:"max_items_per_cycle"`
	MinViewCount        int64   `yaml:"min_view_count"`
	MinLikeCount        int64   `yaml:"min_like_count"`
	MaxAgeHours         int     `yaml:"max_age_hours"`
	AnalysisWindowHours int     `yaml:"analysis_window_hours"`
	MinTrendScore       float64 `yaml:"min_trend_score"`
	ViewWeight          float64 `yaml:"view_weight"`
	LikeWeight          float64 `yaml:"like_weight"`
	CommentWeight       float64 `yaml:"comment_weight"`
	VelocityWeight      float64 `yaml:"velocity_weight"`
	FetchConcurrency    int     `yaml:"fetch_concurrency"`
	RetryCount          int     `yaml:"retry_count"`
	BaselineViewsPerHr  float64 `yaml:"baseline_views_per_hour"`
	ComponentCap        float64 `yaml:"component_cap"`
}

// weightTolerance is the allowed deviation when checking that scoring
// weights sum to 1.0.
const weightTolerance = 0.01

// ValidationError reports an invalid scheduler configuration field.
// A scheduler cannot be constructed from a config that fails validation.
type ValidationError struct {
	Scheduler string
	Field     string
	Reason    string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: scheduler %q: %s: %s", e.Scheduler, e.Field, e.Reason)
}

// Interval returns the cycle cadence as a duration.
func (c SchedulerConfig) Interval() time.Duration {
	return time.Duration(c.IntervalMinutes) * time.Minute
}

// AnalysisWindow returns the trend lookback as a duration.
func (c SchedulerConfig) AnalysisWindow() time.Duration {
	return time.Duration(c.AnalysisWindowHours) * time.Hour
}

// Validate checks the scheduler config. Weights must sum to 1.0 and all
// thresholds must be sane; failures are fatal at construction time.
func (c SchedulerConfig) Validate() error {
	if c.Name == "" {
		return &ValidationError{Scheduler: c.Name, Field: "name", Reason: "required"}
	}
	if c.IntervalMinutes <= 0 {
		return &ValidationError{Scheduler: c.Name, Field: "interval_minutes", Reason: "must be positive"}
	}
	if c.MaxItemsPerCycle <= 0 {
		return &ValidationError{Scheduler: c.Name, Field: "max_items_per_cycle", Reason: "must be positive"}
	}
	if c.MinViewCount < 0 {
		return &ValidationError{Scheduler: c.Name, Field: "min_view_count", Reason: "cannot be negative"}
	}
	if c.MinLikeCount < 0 {
		return &ValidationError{Scheduler: c.Name, Field: "min_like_count", Reason: "cannot be negative"}
	}
	if c.MaxAgeHours <= 0 {
		return &ValidationError{Scheduler: c.Name, Field: "max_age_hours", Reason: "must be positive"}
	}
	if c.AnalysisWindowHours <= 0 {
		return &ValidationError{Scheduler: c.Name, Field: "analysis_window_hours", Reason: "must be positive"}
	}
	if c.MinTrendScore < 0 {
		return &ValidationError{Scheduler: c.Name, Field: "min_trend_score", Reason: "cannot be negative"}
	}
	if c.RetryCount < 0 {
		return &ValidationError{Scheduler: c.Name, Field: "retry_count", Reason: "cannot be negative"}
	}
	if c.FetchConcurrency <= 0 {
		return &ValidationError{Scheduler: c.Name, Field: "fetch_concurrency", Reason: "must be positive"}
	}
	for _, w := range []float64{c.ViewWeight, c.LikeWeight, c.CommentWeight, c.VelocityWeight} {
		if w < 0 {
			return &ValidationError{Scheduler: c.Name, Field: "weights", Reason: "cannot be negative"}
		}
	}
	sum := c.ViewWeight + c.LikeWeight + c.CommentWeight + c.VelocityWeight
	if math.Abs(sum-1.0) > weightTolerance {
		return &ValidationError{
			Scheduler: c.Name,
			Field:     "weights",
			Reason:    fmt.Sprintf("must sum to 1.0, got %.3f", sum),
		}
	}
	return nil
}

// DefaultScheduler returns a scheduler config with production defaults.
func DefaultScheduler(name string) SchedulerConfig {
	return SchedulerConfig{
		Name:                name,
		Strategy:            "selective",
		IntervalMinutes:     30,
		MaxItemsPerCycle:    50,
		MinViewCount:        1000,
		MinLikeCount:        10,
		MaxAgeHours:         24,
		AnalysisWindowHours: 8,
		MinTrendScore:       0.6,
		ViewWeight:          0.4,
		LikeWeight:          0.3,
		CommentWeight:       0.2,
		VelocityWeight:      0.1,
		FetchConcurrency:    4,
		RetryCount:          3,
		BaselineViewsPerHr:  500,
		ComponentCap:        10,
	}
}

// Default returns a Config with sensible defaults: one selective
// collection+analysis scheduler and one category-balanced scheduler
// sharing the same store and event bus.
func Default() *Config {
	aggregation := DefaultScheduler("category-aggregation")
	aggregation.Strategy = "category_balanced"
	aggregation.IntervalMinutes = 60

	return &Config{
		Database: DatabaseConfig{Path: "./surgewatch.db"},
		Server:   ServerConfig{Port: 8080},
		Logging:  LoggingConfig{Level: "info", Format: "json"},
		YouTube:  YouTubeConfig{Region: "KR"},
		Schedulers: []SchedulerConfig{
			DefaultScheduler("shorts-trend"),
			aggregation,
		},
	}
}

// Load reads configuration from a YAML file and applies env var overrides.
// Missing scheduler fields are filled from defaults before validation.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		// A file that declares its own schedulers replaces the defaults.
		cfg.Schedulers = nil
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
		if len(cfg.Schedulers) == 0 {
			cfg.Schedulers = Default().Schedulers
		}
		for i := range cfg.Schedulers {
			fillSchedulerDefaults(&cfg.Schedulers[i])
		}
	}

	applyEnvOverrides(cfg)

	for _, sc := range cfg.Schedulers {
		if err := sc.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// fillSchedulerDefaults backfills unset fields from DefaultScheduler.
// MinViewCount and MinLikeCount are deliberately left alone: zero means
// "no filter", and YAML cannot distinguish an omitted count from an
// explicit zero. The 1000/10 defaults apply only to the built-in
// schedulers from Default().
func fillSchedulerDefaults(sc *SchedulerConfig) {
	def := DefaultScheduler(sc.Name)
	if sc.Strategy == "" {
		sc.Strategy = def.Strategy
	}
	if sc.IntervalMinutes == 0 {
		sc.IntervalMinutes = def.IntervalMinutes
	}
	if sc.MaxItemsPerCycle == 0 {
		sc.MaxItemsPerCycle = def.MaxItemsPerCycle
	}
	if sc.MaxAgeHours == 0 {
		sc.MaxAgeHours = def.MaxAgeHours
	}
	if sc.AnalysisWindowHours == 0 {
		sc.AnalysisWindowHours = def.AnalysisWindowHours
	}
	if sc.MinTrendScore == 0 {
		sc.MinTrendScore = def.MinTrendScore
	}
	if sc.ViewWeight == 0 && sc.LikeWeight == 0 && sc.CommentWeight == 0 && sc.VelocityWeight == 0 {
		sc.ViewWeight = def.ViewWeight
		sc.LikeWeight = def.LikeWeight
		sc.CommentWeight = def.CommentWeight
		sc.VelocityWeight = def.VelocityWeight
	}
	if sc.FetchConcurrency == 0 {
		sc.FetchConcurrency = def.FetchConcurrency
	}
	if sc.RetryCount == 0 {
		sc.RetryCount = def.RetryCount
	}
	if sc.BaselineViewsPerHr == 0 {
		sc.BaselineViewsPerHr = def.BaselineViewsPerHr
	}
	if sc.ComponentCap == 0 {
		sc.ComponentCap = def.ComponentCap
	}
}

// applyEnvOverrides overrides config values with environment variables.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SURGEWATCH_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("YOUTUBE_API_KEY"); v != "" {
		cfg.YouTube.APIKey = v
	}
	if v := os.Getenv("SLACK_WEBHOOK_URL"); v != "" {
		cfg.Alerts.Slack.WebhookURL = v
		cfg.Alerts.Slack.Enabled = true
	}
	if v := os.Getenv("DISCORD_WEBHOOK_URL"); v != "" {
		cfg.Alerts.Discord.WebhookURL = v
		cfg.Alerts.Discord.Enabled = true
	}
	if v := os.Getenv("SURGEWATCH_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

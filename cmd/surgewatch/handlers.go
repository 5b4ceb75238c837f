package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/minseok-oh/surgewatch/internal/config"
	"github.com/minseok-oh/surgewatch/internal/scheduler"
	"github.com/minseok-oh/surgewatch/internal/store"
	"github.com/minseok-oh/surgewatch/pkg/alert"
	"github.com/minseok-oh/surgewatch/pkg/metrics"
	"github.com/minseok-oh/surgewatch/pkg/server"
)

func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			path = "config.yaml"
		}
	}
	return config.Load(path)
}

func newLogger(cfg config.LoggingConfig) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stderr)

	if cfg.Format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
	return log
}

func buildManager(cfg *config.Config, db store.Store, log *logrus.Logger) (*scheduler.Manager, error) {
	src := metrics.NewYouTube(cfg.YouTube.APIKey, cfg.YouTube.Region)
	mgr := scheduler.NewManager(db, src, src, nil, log)

	for _, sc := range cfg.Schedulers {
		if _, err := mgr.Register(sc); err != nil {
			return nil, fmt.Errorf("register %q: %w", sc.Name, err)
		}
	}
	return mgr, nil
}

func buildAlertManager(cfg *config.Config) *alert.Manager {
	var notifiers []alert.Notifier

	if cfg.Alerts.Slack.Enabled && cfg.Alerts.Slack.WebhookURL != "" {
		notifiers = append(notifiers, alert.NewSlack(cfg.Alerts.Slack.WebhookURL))
	}
	if cfg.Alerts.Discord.Enabled && cfg.Alerts.Discord.WebhookURL != "" {
		notifiers = append(notifiers, alert.NewDiscord(cfg.Alerts.Discord.WebhookURL))
	}
	if cfg.Alerts.Webhook.Enabled && cfg.Alerts.Webhook.URL != "" {
		notifiers = append(notifiers, alert.NewWebhook(cfg.Alerts.Webhook.URL, cfg.Alerts.Webhook.Secret))
	}

	return alert.NewManager(notifiers)
}

func runDaemon(port int) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := newLogger(cfg.Logging)

	if port == 0 {
		port = cfg.Server.Port
	}

	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	mgr, err := buildManager(cfg, db, log)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	alertMgr := buildAlertManager(cfg)
	if alertMgr.HasNotifiers() {
		watcher := alert.NewWatcher(alertMgr, db, log)
		go watcher.Watch(ctx, mgr.Bus().Subscribe())
	}

	if err := mgr.StartAll(ctx); err != nil {
		return fmt.Errorf("start schedulers: %w", err)
	}

	srv := server.New(db, mgr, port, log)
	go func() {
		<-ctx.Done()
		log.Info("shutting down")
		mgr.Shutdown()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	return srv.ListenAndServe()
}

func runServe(port int) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := newLogger(cfg.Logging)

	if port == 0 {
		port = cfg.Server.Port
	}

	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	mgr, err := buildManager(cfg, db, log)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	srv := server.New(db, mgr, port, log)
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	return srv.ListenAndServe()
}

func runCycle(name string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := newLogger(cfg.Logging)

	if name == "" {
		if len(cfg.Schedulers) == 0 {
			return fmt.Errorf("no schedulers configured")
		}
		name = cfg.Schedulers[0].Name
	}

	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	mgr, err := buildManager(cfg, db, log)
	if err != nil {
		return err
	}
	defer mgr.Shutdown()

	run, err := mgr.RunOnce(context.Background(), name)
	if err != nil {
		return fmt.Errorf("run cycle: %w", err)
	}

	fmt.Fprintf(os.Stderr, "cycle %s: %d attempted, %d succeeded, %d failed, %d surging (%s)\n",
		run.RunID, run.Attempted, run.Succeeded, run.Failed, run.Surging, run.Outcome)
	return nil
}

func runScores(jsonOutput, surging bool, minScore float64, limit int) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	scores, err := db.ListScores(context.Background(), store.ScoreListOpts{
		SurgingOnly:  surging,
		MinComposite: minScore,
		Limit:        limit,
	})
	if err != nil {
		return fmt.Errorf("list scores: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(scores)
	}

	if len(scores) == 0 {
		fmt.Println("no scores found (try running a cycle first: surgewatch cycle)")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "COMPOSITE\tVIEWS\tVELOCITY\tSURGING\tCONTENT\tCOMPUTED")
	for _, sc := range scores {
		fmt.Fprintf(w, "%.2f\t%.2f\t%.2f\t%v\t%s\t%s\n",
			sc.Composite, sc.ViewGrowth, sc.Velocity, sc.Surging,
			sc.ContentID, sc.ComputedAt.Format(time.RFC3339))
	}
	return w.Flush()
}

func runCategories(jsonOutput bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	aggs, err := db.ListAggregates(context.Background(), 50)
	if err != nil {
		return fmt.Errorf("list aggregates: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(aggs)
	}

	if len(aggs) == 0 {
		fmt.Println("no aggregates found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CATEGORY\tSURGING\tSAMPLED\tTOP TAGS\tWINDOW END")
	for _, a := range aggs {
		tags := ""
		for i, t := range a.TopTags {
			if i > 0 {
				tags += ","
			}
			tags += t.Tag
		}
		fmt.Fprintf(w, "%s\t%d\t%d\t%s\t%s\n",
			a.Category, a.SurgeCount, a.SampleCount, tags,
			a.WindowEnd.Format(time.RFC3339))
	}
	return w.Flush()
}

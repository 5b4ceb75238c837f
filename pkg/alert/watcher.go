package alert

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/minseok-oh/surgewatch/internal/store"
	"github.com/minseok-oh/surgewatch/pkg/event"
)

// surgeItemLimit caps how many surging items one notification lists.
const surgeItemLimit = 10

// Watcher bridges the scheduler event bus to the alert manager: when a
// cycle completes with surging content, it builds and broadcasts one
// notification.
type Watcher struct {
	manager *Manager
	store   store.Store
	log     *logrus.Logger
}

// NewWatcher creates a watcher over the given manager and store.
func NewWatcher(m *Manager, st store.Store, log *logrus.Logger) *Watcher {
	if log == nil {
		log = logrus.New()
	}
	return &Watcher{manager: m, store: st, log: log}
}

// Watch consumes the subscription until its channel closes or ctx is
// cancelled. Run it in its own goroutine.
func (w *Watcher) Watch(ctx context.Context, sub *event.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			if ev.Kind != event.KindCycleCompleted || ev.Run == nil || ev.Run.Surging == 0 {
				continue
			}
			if !w.manager.HasNotifiers() {
				continue
			}
			if err := w.notify(ctx, ev); err != nil {
				w.log.WithError(err).WithField("scheduler", ev.Scheduler).Warn("surge alert failed")
			}
		}
	}
}

func (w *Watcher) notify(ctx context.Context, ev event.Event) error {
	scores, err := w.store.ListScores(ctx, store.ScoreListOpts{
		SurgingOnly: true,
		Limit:       surgeItemLimit,
	})
	if err != nil {
		return fmt.Errorf("list surging scores: %w", err)
	}

	items := make([]SurgeItem, 0, len(scores))
	for _, sc := range scores {
		item := SurgeItem{
			ContentID: sc.ContentID,
			Composite: sc.Composite,
			URL:       watchURL(sc.ContentID),
		}
		if c, err := w.store.GetContent(ctx, sc.ContentID); err == nil {
			item.Title = c.Title
			item.Category = c.Category
		}
		items = append(items, item)
	}

	n := &Notification{
		Scheduler: ev.Scheduler,
		RunID:     ev.Run.RunID,
		Title:     fmt.Sprintf("%d surging items detected", ev.Run.Surging),
		Body: fmt.Sprintf("Cycle sampled %d items (%d succeeded) across %d categories.",
			ev.Run.Attempted, ev.Run.Succeeded, ev.Run.Categories),
		Surging: ev.Run.Surging,
		Items:   items,
	}
	return w.manager.Broadcast(ctx, n)
}

// watchURL maps a platform-scoped content id to a public watch link.
func watchURL(contentID string) string {
	const prefix = "youtube:"
	if len(contentID) > len(prefix) && contentID[:len(prefix)] == prefix {
		return "https://www.youtube.com/watch?v=" + contentID[len(prefix):]
	}
	return ""
}

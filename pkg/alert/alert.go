// Package alert delivers surge notifications to Slack, Discord, and
// generic webhook destinations.
package alert

import (
	"context"
	"errors"
	"fmt"
)

// SurgeItem is one surging content entry included in a notification.
type SurgeItem struct {
	ContentID string  `json:"content_id"`
	Title     string  `json:"title"`
	Category  string  `json:"category"`
	Composite float64 `json:"composite"`
	URL       string  `json:"url"`
}

// Notification is the data sent to alert destinations.
type Notification struct {
	Scheduler string      `json:"scheduler"`
	RunID     string      `json:"run_id"`
	Title     string      `json:"title"`
	Body      string      `json:"body"`
	Surging   int         `json:"surging"`
	Items     []SurgeItem `json:"items"`
}

// Notifier delivers alerts to a specific destination.
type Notifier interface {
	Name() string
	Send(ctx context.Context, n *Notification) error
}

// Manager broadcasts notifications to all registered notifiers.
type Manager struct {
	notifiers []Notifier
}

// NewManager creates a new alert manager.
func NewManager(notifiers []Notifier) *Manager {
	return &Manager{notifiers: notifiers}
}

// HasNotifiers returns true if at least one notifier is configured.
func (m *Manager) HasNotifiers() bool {
	return len(m.notifiers) > 0
}

// Broadcast sends a notification to all registered notifiers. One failing
// destination does not block the others.
func (m *Manager) Broadcast(ctx context.Context, n *Notification) error {
	var errs []error
	for _, notifier := range m.notifiers {
		if err := notifier.Send(ctx, n); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", notifier.Name(), err))
		}
	}
	return errors.Join(errs...)
}

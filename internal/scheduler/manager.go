package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/minseok-oh/surgewatch/internal/config"
	"github.com/minseok-oh/surgewatch/internal/store"
	"github.com/minseok-oh/surgewatch/pkg/collect"
	"github.com/minseok-oh/surgewatch/pkg/event"
	"github.com/minseok-oh/surgewatch/pkg/metrics"
)

// ErrNotFound means no scheduler is registered under the requested name.
var ErrNotFound = errors.New("scheduler: not found")

// Manager is the registry of named schedulers. All schedulers share one
// event bus, one store, and one metrics source.
type Manager struct {
	bus    *event.Bus
	store  store.Store
	source metrics.Source
	lister metrics.Lister
	log    *logrus.Logger

	mu         sync.RWMutex
	schedulers map[string]*Scheduler
}

// NewManager creates an empty registry. lister may be nil when the metrics
// source cannot enumerate popular content.
func NewManager(st store.Store, src metrics.Source, lister metrics.Lister, bus *event.Bus, log *logrus.Logger) *Manager {
	if log == nil {
		log = logrus.New()
	}
	if bus == nil {
		bus = event.NewBus(event.DefaultBuffer)
	}
	return &Manager{
		bus:        bus,
		store:      st,
		source:     src,
		lister:     lister,
		log:        log,
		schedulers: make(map[string]*Scheduler),
	}
}

// Bus exposes the shared event bus for subscribers (logging, alerting,
// server-sent status).
func (m *Manager) Bus() *event.Bus { return m.bus }

// Register builds a scheduler from its configuration and adds it under its
// name. Duplicate names and invalid configurations are rejected.
func (m *Manager) Register(cfg config.SchedulerConfig) (*Scheduler, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("scheduler: name required")
	}

	strategy, err := collect.New(cfg.Strategy, m.store, m.lister)
	if err != nil {
		return nil, err
	}

	s, err := New(cfg, m.store, m.source, strategy, m.bus, m.log)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.schedulers[cfg.Name]; dup {
		return nil, fmt.Errorf("scheduler: %q already registered", cfg.Name)
	}
	m.schedulers[cfg.Name] = s
	m.log.WithFields(logrus.Fields{
		"scheduler": cfg.Name,
		"strategy":  strategy.Name(),
		"interval":  cfg.Interval().String(),
	}).Info("scheduler registered")
	return s, nil
}

// Get returns the named scheduler or ErrNotFound.
func (m *Manager) Get(name string) (*Scheduler, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.schedulers[name]
	if !ok {
		return nil, fmt.Errorf("%q: %w", name, ErrNotFound)
	}
	return s, nil
}

// Start launches the named scheduler's recurring loop.
func (m *Manager) Start(ctx context.Context, name string) error {
	s, err := m.Get(name)
	if err != nil {
		return err
	}
	return s.Start(ctx)
}

// Stop requests graceful termination of the named scheduler.
func (m *Manager) Stop(name string) error {
	s, err := m.Get(name)
	if err != nil {
		return err
	}
	s.Stop()
	return nil
}

// RunOnce triggers a single immediate cycle on the named scheduler.
func (m *Manager) RunOnce(ctx context.Context, name string) (*event.RunSummary, error) {
	s, err := m.Get(name)
	if err != nil {
		return nil, err
	}
	return s.RunOnce(ctx)
}

// StatusOf reports the named scheduler's status.
func (m *Manager) StatusOf(name string) (Status, error) {
	s, err := m.Get(name)
	if err != nil {
		return Status{}, err
	}
	return s.Status(), nil
}

// List returns every registered scheduler's status, ordered by name.
func (m *Manager) List() []Status {
	m.mu.RLock()
	names := make([]string, 0, len(m.schedulers))
	for name := range m.schedulers {
		names = append(names, name)
	}
	m.mu.RUnlock()
	sort.Strings(names)

	out := make([]Status, 0, len(names))
	for _, name := range names {
		if s, err := m.Get(name); err == nil {
			out = append(out, s.Status())
		}
	}
	return out
}

// StartAll starts every enabled scheduler. Disabled ones stay parked;
// that is not an error at startup.
func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.RLock()
	schedulers := make([]*Scheduler, 0, len(m.schedulers))
	for _, s := range m.schedulers {
		schedulers = append(schedulers, s)
	}
	m.mu.RUnlock()

	for _, s := range schedulers {
		if err := s.Start(ctx); err != nil {
			if errors.Is(err, ErrDisabled) {
				m.log.WithField("scheduler", s.Name()).Info("scheduler disabled, not started")
				continue
			}
			return err
		}
	}
	return nil
}

// Shutdown stops every scheduler and waits for in-flight cycles to finish,
// then closes the shared event bus.
func (m *Manager) Shutdown() {
	m.mu.RLock()
	schedulers := make([]*Scheduler, 0, len(m.schedulers))
	for _, s := range m.schedulers {
		schedulers = append(schedulers, s)
	}
	m.mu.RUnlock()

	for _, s := range schedulers {
		s.Stop()
	}
	for _, s := range schedulers {
		if done := s.Done(); done != nil {
			<-done
		}
	}
	m.bus.Close()
	m.log.Info("scheduler manager shut down")
}

package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minseok-oh/surgewatch/pkg/event"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	return NewManager(newTestStore(t), newFakeSource(), nil, event.NewBus(32), quietLogger())
}

func TestManagerRegisterAndGet(t *testing.T) {
	m := newTestManager(t)

	s, err := m.Register(testSchedulerConfig("alpha"))
	require.NoError(t, err)
	assert.Equal(t, "alpha", s.Name())

	got, err := m.Get("alpha")
	require.NoError(t, err)
	assert.Same(t, s, got)
}

func TestManagerRejectsDuplicateName(t *testing.T) {
	m := newTestManager(t)

	_, err := m.Register(testSchedulerConfig("dup"))
	require.NoError(t, err)

	_, err = m.Register(testSchedulerConfig("dup"))
	assert.Error(t, err)
}

func TestManagerRejectsInvalidConfig(t *testing.T) {
	m := newTestManager(t)

	cfg := testSchedulerConfig("")
	_, err := m.Register(cfg)
	assert.Error(t, err, "empty name")

	cfg = testSchedulerConfig("bad-strategy")
	cfg.Strategy = "bogus"
	_, err = m.Register(cfg)
	assert.Error(t, err)
}

func TestManagerUnknownNameIsNotFound(t *testing.T) {
	m := newTestManager(t)

	_, err := m.Get("ghost")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, m.Start(context.Background(), "ghost"), ErrNotFound)
	assert.ErrorIs(t, m.Stop("ghost"), ErrNotFound)

	_, err = m.RunOnce(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = m.StatusOf("ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestManagerListOrderedByName(t *testing.T) {
	m := newTestManager(t)

	for _, name := range []string{"zeta", "alpha", "mid"} {
		_, err := m.Register(testSchedulerConfig(name))
		require.NoError(t, err)
	}

	statuses := m.List()
	require.Len(t, statuses, 3)
	assert.Equal(t, "alpha", statuses[0].Name)
	assert.Equal(t, "mid", statuses[1].Name)
	assert.Equal(t, "zeta", statuses[2].Name)
}

func TestManagerStartAllSkipsDisabled(t *testing.T) {
	m := newTestManager(t)

	_, err := m.Register(testSchedulerConfig("active"))
	require.NoError(t, err)

	parked := testSchedulerConfig("parked")
	parked.Disabled = true
	_, err = m.Register(parked)
	require.NoError(t, err)

	require.NoError(t, m.StartAll(context.Background()))

	active, err := m.StatusOf("active")
	require.NoError(t, err)
	assert.Equal(t, StateRunning, active.State)

	disabled, err := m.StatusOf("parked")
	require.NoError(t, err)
	assert.Equal(t, StateDisabled, disabled.State)

	m.Shutdown()
}

func TestManagerShutdownStopsAndClosesBus(t *testing.T) {
	m := newTestManager(t)
	sub := m.Bus().Subscribe()

	_, err := m.Register(testSchedulerConfig("worker"))
	require.NoError(t, err)
	require.NoError(t, m.StartAll(context.Background()))

	done := make(chan struct{})
	go func() {
		m.Shutdown()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("shutdown did not finish")
	}

	status, err := m.StatusOf("worker")
	require.NoError(t, err)
	assert.Equal(t, StateIdle, status.State)

	// Bus subscriptions drain and close after shutdown.
	for {
		if _, open := <-sub.C; !open {
			break
		}
	}
}

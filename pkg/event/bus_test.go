package event

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishReachesAllSubscribers(t *testing.T) {
	bus := NewBus(8)
	defer bus.Close()

	a := bus.Subscribe()
	b := bus.Subscribe()
	assert.Equal(t, 2, bus.SubscriberCount())

	bus.Publish(Event{Kind: KindCycleStarted, Scheduler: "s1"})

	for _, sub := range []*Subscription{a, b} {
		select {
		case ev := <-sub.C:
			assert.Equal(t, KindCycleStarted, ev.Kind)
			assert.Equal(t, "s1", ev.Scheduler)
			assert.False(t, ev.At.IsZero(), "publish stamps the event time")
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive event")
		}
	}
}

func TestPublishPreservesOrderPerSubscriber(t *testing.T) {
	bus := NewBus(16)
	defer bus.Close()

	sub := bus.Subscribe()
	kinds := []Kind{KindCycleStarted, KindItemFailed, KindCycleCompleted}
	for _, k := range kinds {
		bus.Publish(Event{Kind: k, Scheduler: "s1"})
	}

	for _, want := range kinds {
		ev := <-sub.C
		assert.Equal(t, want, ev.Kind)
	}
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	bus := NewBus(2)
	defer bus.Close()

	sub := bus.Subscribe()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10; i++ {
			bus.Publish(Event{Kind: KindCycleStarted})
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a stalled subscriber")
	}

	assert.Equal(t, int64(8), sub.Dropped())
	assert.Len(t, sub.C, 2, "buffer holds the first events")
}

func TestCloseUnsubscribes(t *testing.T) {
	bus := NewBus(4)

	sub := bus.Subscribe()
	sub.Close()
	assert.Equal(t, 0, bus.SubscriberCount())

	// Publishing after unsubscribe must not panic or deliver.
	bus.Publish(Event{Kind: KindCycleStarted})

	_, open := <-sub.C
	assert.False(t, open, "channel closed after unsubscribe")

	sub.Close() // idempotent
}

func TestConcurrentSubscriptionAndBusClose(t *testing.T) {
	for i := 0; i < 10; i++ {
		bus := NewBus(4)
		sub := bus.Subscribe()

		// Park both close paths on the bus lock so they race the moment it
		// is released, whichever order the scheduler picks.
		bus.mu.Lock()
		done := make(chan struct{}, 2)
		go func() {
			bus.Close()
			done <- struct{}{}
		}()
		go func() {
			sub.Close()
			done <- struct{}{}
		}()
		time.Sleep(time.Millisecond)
		bus.mu.Unlock()

		for j := 0; j < 2; j++ {
			select {
			case <-done:
			case <-time.After(2 * time.Second):
				t.Fatal("Bus.Close and Subscription.Close blocked each other")
			}
		}

		_, open := <-sub.C
		assert.False(t, open)
		assert.Equal(t, 0, bus.SubscriberCount())
	}
}

func TestBusCloseClosesAllChannels(t *testing.T) {
	bus := NewBus(4)
	a := bus.Subscribe()
	b := bus.Subscribe()

	bus.Close()
	require.Equal(t, 0, bus.SubscriberCount())

	_, open := <-a.C
	assert.False(t, open)
	_, open = <-b.C
	assert.False(t, open)

	// Subscriber-side Close after bus Close stays safe.
	a.Close()
}

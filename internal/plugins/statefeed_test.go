package plugins

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStateFeedPublishDeliversToAllSubscribers(t *testing.T) {
	feed := newStateFeed()
	events1, unsub1 := feed.Subscribe()
	events2, unsub2 := feed.Subscribe()
	defer unsub1()
	defer unsub2()

	feed.publish(StateEvent{PluginName: "a", State: StateLoaded})

	select {
	case ev := <-events1:
		assert.Equal(t, "a", ev.PluginName)
	case <-time.After(time.Second):
		t.Fatal("subscriber 1 never received event")
	}
	select {
	case ev := <-events2:
		assert.Equal(t, "a", ev.PluginName)
	case <-time.After(time.Second):
		t.Fatal("subscriber 2 never received event")
	}
}

func TestStateFeedUnsubscribeClosesChannel(t *testing.T) {
	feed := newStateFeed()
	events, unsubscribe := feed.Subscribe()
	unsubscribe()
	unsubscribe() // idempotent

	_, ok := <-events
	assert.False(t, ok, "channel should be closed after unsubscribe")
}

func TestStateFeedDropsSlowSubscriberWithoutBlocking(t *testing.T) {
	feed := newStateFeed()
	events, unsubscribe := feed.Subscribe()
	defer unsubscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			feed.publish(StateEvent{PluginName: "a", State: StateLoaded})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}

	// Drain whatever made it through before the subscriber was dropped.
	for {
		select {
		case _, ok := <-events:
			if !ok {
				return
			}
		case <-time.After(100 * time.Millisecond):
			return
		}
	}
}

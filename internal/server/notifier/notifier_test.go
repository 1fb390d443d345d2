package notifier

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotifier_SubscribeUnsubscribe(t *testing.T) {
	n := New()
	ch := n.Subscribe()
	require.NotNil(t, ch)
	assert.Equal(t, 1, n.Len())

	n.Unsubscribe(ch)
	assert.Equal(t, 0, n.Len())
	_, open := <-ch
	assert.False(t, open)

	// second unsubscribe is a no-op
	n.Unsubscribe(ch)
}

func TestNotifier_BroadcastKeepsLatest(t *testing.T) {
	n := New()
	ch := n.Subscribe()
	defer n.Unsubscribe(ch)

	n.Broadcast(Event{Grammars: 1, Trigger: "a"})
	n.Broadcast(Event{Grammars: 2, Trigger: "b"})

	select {
	case ev := <-ch:
		assert.Equal(t, 2, ev.Grammars)
		assert.Equal(t, "b", ev.Trigger)
	case <-time.After(time.Second):
		t.Fatal("no event received")
	}
}

func TestNotifier_ConcurrentBroadcast(t *testing.T) {
	n := New()
	subs := make([]chan Event, 5)
	for i := range subs {
		subs[i] = n.Subscribe()
	}

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n.Broadcast(Event{Grammars: i})
		}()
	}
	wg.Wait()

	for _, ch := range subs {
		select {
		case <-ch:
		default:
			t.Fatal("subscriber missed every event")
		}
		n.Unsubscribe(ch)
	}
}

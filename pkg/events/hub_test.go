package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(sub *Subscriber) []Event {
	var out []Event
	for {
		select {
		case evt := <-sub.C:
			out = append(out, evt)
		default:
			return out
		}
	}
}

func TestPublishAssignsMonotonicIDs(t *testing.T) {
	hub := NewHub(10, 10)

	id1 := hub.Publish(EventTypeLogAppended, map[string]string{"id": "a"}, "2026-01-01T00:00:00.000Z")
	id2 := hub.Publish(EventTypeLogPatched, map[string]string{"id": "a"}, "2026-01-01T00:00:01.000Z")
	id3 := hub.Publish(EventTypeLogDeleted, nil, "")

	assert.Equal(t, int64(1), id1)
	assert.Equal(t, int64(2), id2)
	assert.Equal(t, int64(3), id3)
}

func TestSubscriberReceivesLiveEvents(t *testing.T) {
	hub := NewHub(10, 10)
	sub := hub.Subscribe(0)
	defer hub.Unsubscribe(sub)

	hub.Publish(EventTypeTopicUpserted, map[string]string{"id": "t1"}, "2026-01-01T00:00:00.000Z")

	events := drain(sub)
	require.Len(t, events, 1)
	assert.Equal(t, EventTypeTopicUpserted, events[0].Type)
	assert.Equal(t, int64(1), events[0].EventID)
	assert.Equal(t, "2026-01-01T00:00:00.000Z", events[0].EventTS)
}

func TestReplayReturnsEventsAfterCursor(t *testing.T) {
	hub := NewHub(10, 10)
	for i := 0; i < 5; i++ {
		hub.Publish(EventTypeLogAppended, i, "")
	}

	events, reset := hub.Replay(2)
	require.False(t, reset)
	require.Len(t, events, 3)
	assert.Equal(t, int64(3), events[0].EventID)
	assert.Equal(t, int64(5), events[2].EventID)
}

func TestReplayCurrentCursorIsEmpty(t *testing.T) {
	hub := NewHub(10, 10)
	hub.Publish(EventTypeLogAppended, nil, "")

	events, reset := hub.Replay(1)
	assert.False(t, reset)
	assert.Empty(t, events)
}

func TestReplayStaleCursorSignalsReset(t *testing.T) {
	hub := NewHub(5, 5)
	// Ring retains ids 11..15 after 15 publishes.
	for i := 0; i < 15; i++ {
		hub.Publish(EventTypeLogAppended, i, "")
	}

	events, reset := hub.Replay(2)
	assert.True(t, reset)
	assert.Empty(t, events)

	// Cursor exactly at oldest-1 is still servable.
	events, reset = hub.Replay(10)
	require.False(t, reset)
	assert.Len(t, events, 5)
}

func TestSubscribeWithStaleCursorQueuesStreamReset(t *testing.T) {
	hub := NewHub(5, 5)
	for i := 0; i < 15; i++ {
		hub.Publish(EventTypeLogAppended, i, "")
	}

	sub := hub.Subscribe(2)
	defer hub.Unsubscribe(sub)

	events := drain(sub)
	require.Len(t, events, 1)
	assert.Equal(t, EventTypeStreamReset, events[0].Type)
	assert.Zero(t, events[0].EventID)
}

func TestSubscriberQueueHeadDrop(t *testing.T) {
	hub := NewHub(10, 3)
	sub := hub.Subscribe(0)
	defer hub.Unsubscribe(sub)

	for i := 0; i < 6; i++ {
		hub.Publish(EventTypeLogAppended, i, "")
	}

	// Queue of 3: oldest events were dropped, newest survive.
	events := drain(sub)
	require.Len(t, events, 3)
	assert.Equal(t, int64(4), events[0].EventID)
	assert.Equal(t, int64(6), events[2].EventID)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	hub := NewHub(10, 10)
	sub := hub.Subscribe(0)

	hub.Unsubscribe(sub)
	hub.Unsubscribe(sub) // safe to repeat

	_, open := <-sub.C
	assert.False(t, open)

	// Publishing after unsubscribe must not panic.
	hub.Publish(EventTypeLogAppended, nil, "")
}

func TestStats(t *testing.T) {
	hub := NewHub(10, 10)
	sub := hub.Subscribe(0)
	defer hub.Unsubscribe(sub)

	hub.Publish(EventTypeLogAppended, nil, "")

	stats := hub.Stats()
	assert.Equal(t, int64(2), stats.NextEventID)
	assert.Equal(t, 1, stats.BufferedCount)
	assert.Equal(t, 1, stats.Subscribers)
}

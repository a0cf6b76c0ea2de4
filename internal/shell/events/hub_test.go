package events

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHub_PublishAndSubscribe(t *testing.T) {
	h := NewHub(0, nil)

	var mu sync.Mutex
	var got []Event
	unsub := h.Subscribe(func(e Event) {
		mu.Lock()
		got = append(got, e)
		mu.Unlock()
	})

	h.Publish(Event{Type: TypeSession, SessionID: "s1", Status: "running"})
	h.Publish(Event{Type: TypeSession, SessionID: "s1", Status: "succeeded"})

	mu.Lock()
	require.Len(t, got, 2)
	assert.Equal(t, "running", got[0].Status)
	assert.False(t, got[0].Time.IsZero())
	mu.Unlock()

	unsub()
	h.Publish(Event{Type: TypeSession, SessionID: "s1", Status: "idle"})
	mu.Lock()
	assert.Len(t, got, 2, "unsubscribed listener must not receive events")
	mu.Unlock()
}

func TestHub_PanickingListenerIsDropped(t *testing.T) {
	h := NewHub(0, nil)

	h.Subscribe(func(Event) { panic("listener bug") })

	var mu sync.Mutex
	delivered := 0
	h.Subscribe(func(Event) {
		mu.Lock()
		delivered++
		mu.Unlock()
	})

	require.NotPanics(t, func() {
		h.Publish(Event{Type: TypeBatchProgress, Done: 1, Total: 3})
	})
	mu.Lock()
	assert.Equal(t, 1, delivered, "healthy listener still receives the event")
	mu.Unlock()
}

func TestHub_TailIsBounded(t *testing.T) {
	h := NewHub(3, nil)

	for i := 0; i < 10; i++ {
		h.Publish(Event{Type: TypeBatchProgress, Done: i, Total: 10})
	}

	tail := h.Tail()
	require.Len(t, tail, 3)
	assert.Equal(t, 7, tail[0].Done)
	assert.Equal(t, 9, tail[2].Done)
}

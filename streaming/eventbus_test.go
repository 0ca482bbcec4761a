package streaming

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(t *testing.T, ch <-chan WireMessage, n int) []WireMessage {
	t.Helper()
	out := make([]WireMessage, 0, n)
	for i := 0; i < n; i++ {
		select {
		case msg := <-ch:
			out = append(out, msg)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for message %d/%d", i+1, n)
		}
	}
	return out
}

func TestEventBus_SubscribeReplaysBufferedMessages(t *testing.T) {
	bus := NewEventBus("sess-1")
	bus.Publish(WireMessage{Type: TypeEgress, Payload: "first"})
	bus.Publish(WireMessage{Type: TypeEgress, Payload: "second"})

	ch, unsubscribe := bus.Subscribe(0)
	defer unsubscribe()

	msgs := drain(t, ch, 2)
	assert.Equal(t, "first", msgs[0].Payload)
	assert.Equal(t, "second", msgs[1].Payload)
	assert.Equal(t, "sess-1", msgs[0].SessionID)
}

func TestEventBus_SubscribeFromCursorSkipsOlderMessages(t *testing.T) {
	bus := NewEventBus("sess-2")
	bus.Publish(WireMessage{Type: TypeEgress, Payload: "a"})
	second := bus.Publish(WireMessage{Type: TypeEgress, Payload: "b"})
	bus.Publish(WireMessage{Type: TypeEgress, Payload: "c"})

	ch, unsubscribe := bus.Subscribe(second.Cursor())
	defer unsubscribe()

	msgs := drain(t, ch, 2)
	assert.Equal(t, "b", msgs[0].Payload)
	assert.Equal(t, "c", msgs[1].Payload)
}

func TestEventBus_LiveMessagesReachExistingSubscribers(t *testing.T) {
	bus := NewEventBus("sess-3")
	ch, unsubscribe := bus.Subscribe(0)
	defer unsubscribe()

	bus.Publish(WireMessage{Type: TypeEgress, Payload: "live"})

	msgs := drain(t, ch, 1)
	assert.Equal(t, "live", msgs[0].Payload)
}

func TestEventBus_UnsubscribeClosesChannel(t *testing.T) {
	bus := NewEventBus("sess-4")
	ch, unsubscribe := bus.Subscribe(0)
	unsubscribe()

	_, open := <-ch
	assert.False(t, open)
}

func TestEventBus_CloseClosesAllSubscribers(t *testing.T) {
	bus := NewEventBus("sess-5")
	ch1, _ := bus.Subscribe(0)
	ch2, _ := bus.Subscribe(0)

	bus.Close()

	_, open1 := <-ch1
	_, open2 := <-ch2
	require.False(t, open1)
	require.False(t, open2)
}

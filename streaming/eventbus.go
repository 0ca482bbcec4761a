package streaming

import (
	"sync"
)

// MessageType distinguishes the three per-session channels (spec §4.5
// "Channels (per session): <session>.ingress, <session>.egress,
// <session>.alerts").
type MessageType string

const (
	TypeIngress MessageType = "ingress"
	TypeEgress  MessageType = "egress"
	TypeAlert   MessageType = "alert"
)

// WireMessage is the record shape published on the event bus (spec §6
// "Streaming wire messages": "{session_id, channel, type: ingress|egress|
// alert, payload, timestamp_ms, source, state_version}").
type WireMessage struct {
	SessionID    string      `json:"session_id"`
	Channel      string      `json:"channel"`
	Type         MessageType `json:"type"`
	Payload      interface{} `json:"payload"`
	TimestampMs  int64       `json:"timestamp_ms"`
	Source       string      `json:"source"`
	StateVersion uint64      `json:"state_version"`

	// ExecutorInstanceID is set on egress messages belonging to a refresh
	// (spec §6 "Egress for a streaming response carries an
	// executor_instance_id that must match the current refresh.").
	ExecutorInstanceID string `json:"executor_instance_id,omitempty"`

	cursor uint64
}

// Cursor returns the message's position in the bus's replay log.
func (m WireMessage) Cursor() uint64 { return m.cursor }

const replayBufferSize = 1000

// EventBus is a channel-based pub/sub with replay from a cursor (spec §4.5
// "EventBus -- channel-based pub/sub with replay from a cursor"), scoped to
// one session's three channels. Grounded on the teacher's channel-fan-out
// idiom in ui/session_redis.go's per-session subscriber map, generalized
// here to an in-process ring buffer rather than a Redis stream since the
// Streaming Runtime's bus is process-local per spec §4.5.
type EventBus struct {
	mu          sync.Mutex
	sessionID   string
	buffer      []WireMessage
	nextCursor  uint64
	subscribers map[int]chan WireMessage
	nextSubID   int
	closed      bool
}

// NewEventBus creates a bus for one session.
func NewEventBus(sessionID string) *EventBus {
	return &EventBus{
		sessionID:   sessionID,
		subscribers: make(map[int]chan WireMessage),
	}
}

// Publish appends msg to the replay buffer and fans it out to all current
// subscribers. Slow subscribers never block Publish: a subscriber whose
// channel is full has that message dropped from its live feed, but it can
// still recover it via Subscribe's replay since the buffer retains it.
func (b *EventBus) Publish(msg WireMessage) WireMessage {
	b.mu.Lock()
	defer b.mu.Unlock()

	msg.SessionID = b.sessionID
	msg.cursor = b.nextCursor
	b.nextCursor++

	b.buffer = append(b.buffer, msg)
	if len(b.buffer) > replayBufferSize {
		b.buffer = b.buffer[len(b.buffer)-replayBufferSize:]
	}

	for _, ch := range b.subscribers {
		select {
		case ch <- msg:
		default:
		}
	}
	return msg
}

// Subscribe returns a channel of messages published after fromCursor
// (replayed immediately from the buffer, oldest first) followed by live
// messages as they are published, and an unsubscribe function. Pass
// fromCursor 0 to replay everything still buffered.
func (b *EventBus) Subscribe(fromCursor uint64) (<-chan WireMessage, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan WireMessage, replayBufferSize)
	id := b.nextSubID
	b.nextSubID++
	b.subscribers[id] = ch

	for _, msg := range b.buffer {
		if msg.cursor >= fromCursor {
			select {
			case ch <- msg:
			default:
			}
		}
	}

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subscribers[id]; ok {
			delete(b.subscribers, id)
			close(ch)
		}
	}
	return ch, unsubscribe
}

// Close releases all subscriber channels; the bus must not be published to
// afterward.
func (b *EventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subscribers {
		delete(b.subscribers, id)
		close(ch)
	}
}

package streaming

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// SSEHandler serves one session's egress as Server-Sent Events, grounded on
// the teacher's ui/transports/sse/sse.go idiom (http.Flusher-based,
// text/event-stream headers, one event per chunk, a closing "done" event).
// Ingress ("message" form value) is submitted to the session before the
// handler starts streaming its response.
type SSEHandler struct {
	Session *Session
}

func NewSSEHandler(session *Session) *SSEHandler {
	return &SSEHandler{Session: session}
}

func (h *SSEHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	message := r.FormValue("message")
	if message == "" {
		h.sendEvent(w, flusher, "error", map[string]string{"error": "message parameter required"})
		return
	}

	events, unsubscribe := h.Session.Bus.Subscribe(0)
	defer unsubscribe()

	h.Session.SubmitIngress(WireMessage{
		Type:        TypeIngress,
		Payload:     message,
		Source:      "sse",
		TimestampMs: nowMs(),
	})

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-events:
			if !ok {
				return
			}
			if msg.Type != TypeEgress {
				continue
			}
			if err := h.sendEvent(w, flusher, "chunk", msg.Payload); err != nil {
				return
			}
			if payload, ok := msg.Payload.(map[string]interface{}); ok {
				if final, _ := payload["final"].(bool); final {
					h.sendEvent(w, flusher, "done", map[string]bool{"finished": true})
					return
				}
			}
		}
	}
}

func (h *SSEHandler) sendEvent(w http.ResponseWriter, flusher http.Flusher, eventType string, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", eventType, jsonData); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

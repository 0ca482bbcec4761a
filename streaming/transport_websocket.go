package streaming

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// wsMessage is the inbound WebSocket frame shape, grounded on the teacher's
// ui/transports/websocket/websocket.go wsMessage struct.
type wsMessage struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
	Patch   *Patch `json:"patch,omitempty"`
}

// WebSocketHandler serves one session bidirectionally: inbound frames are
// submitted as ingress, egress/alert bus messages are written out as JSON
// frames. Grounded on the teacher's WebSocketTransport (upgrader + per-
// client read/write goroutines), simplified to one connection per session
// rather than the teacher's multi-client registry since a Streaming Runtime
// session already owns exactly one conversation.
type WebSocketHandler struct {
	Session  *Session
	Upgrader websocket.Upgrader
}

func NewWebSocketHandler(session *Session) *WebSocketHandler {
	return &WebSocketHandler{
		Session: session,
		Upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.Session.Logger.Error("websocket upgrade failed", map[string]interface{}{"error": err.Error()})
		return
	}
	defer conn.Close()

	events, unsubscribe := h.Session.Bus.Subscribe(0)
	defer unsubscribe()

	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		for {
			var msg wsMessage
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			switch msg.Type {
			case "text":
				h.Session.SubmitIngress(WireMessage{
					Payload:     msg.Message,
					Source:      "websocket",
					TimestampMs: nowMs(),
				})
			case "state_patch":
				if msg.Patch != nil {
					patch := *msg.Patch
					patch.TimestampMs = nowMs()
					h.Session.SubmitIngress(WireMessage{
						Payload:     patch,
						Source:      "websocket",
						TimestampMs: patch.TimestampMs,
					})
				}
			}
		}
	}()

	for {
		select {
		case <-readerDone:
			return
		case msg, ok := <-events:
			if !ok {
				return
			}
			if msg.Type != TypeEgress && msg.Type != TypeAlert {
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		}
	}
}

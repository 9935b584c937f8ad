package broadcast

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	writeWait  = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// NewUpgrader returns an upgrader whose CheckOrigin accepts only the
// given allowlist, or every origin when the list is empty (the
// teacher's dev/staging default, with the same logged caveat).
func NewUpgrader(allowedOrigins []string, log *slog.Logger) websocket.Upgrader {
	if len(allowedOrigins) == 0 {
		log.Warn("websocket origin allowlist empty, accepting all origins")
		return upgrader
	}
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}
	u := upgrader
	u.CheckOrigin = func(r *http.Request) bool {
		return allowed[r.Header.Get("Origin")]
	}
	return u
}

// ServeWS upgrades the request to a WebSocket, registers it with the
// Hub, and runs its read/write pumps until disconnect. Server-to-
// client messages are JSON {type, data}; a client ping is echoed as
// {"type":"pong"}.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, upgrader websocket.Upgrader) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	id, send := h.Subscribe(r.RemoteAddr)
	done := make(chan struct{})

	go h.writePump(conn, send, done)
	h.readPump(conn, id, done)
}

func (h *Hub) writePump(conn *websocket.Conn, send <-chan []byte, done chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case msg, ok := <-send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func (h *Hub) readPump(conn *websocket.Conn, id string, done chan struct{}) {
	defer func() {
		close(done)
		h.Unsubscribe(id)
		conn.Close()
	}()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.log.Warn("websocket read error", "id", id, "error", err)
			}
			return
		}

		var msg struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(payload, &msg); err != nil {
			continue
		}
		if msg.Type == "ping" {
			h.mu.RLock()
			conn2, ok := h.subscribers[id]
			h.mu.RUnlock()
			if !ok {
				return
			}
			pong, _ := json.Marshal(map[string]string{"type": "pong"})
			select {
			case conn2.send <- pong:
			default:
			}
		}
	}
}

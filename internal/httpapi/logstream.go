package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Seer-Labs-Inc/device-pilot/internal/logging"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// /logs/stream is bound to loopback only; any origin is fine.
		return true
	},
}

// LogStreamHandler upgrades to a websocket and tails the process-wide
// log ring buffer: it replays up to the 100 most recent entries, then
// forwards every new entry as it is logged.
type LogStreamHandler struct {
	buffer *logging.RingBuffer
	logger *slog.Logger
}

// NewLogStreamHandler creates a handler backed by buffer.
func NewLogStreamHandler(buffer *logging.RingBuffer, logger *slog.Logger) *LogStreamHandler {
	return &LogStreamHandler{buffer: buffer, logger: logger.With("component", "log-stream")}
}

// ServeHTTP implements http.Handler.
func (h *LogStreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("failed to upgrade log stream connection", "error", err)
		return
	}
	defer conn.Close()

	for _, entry := range h.buffer.GetRecent(100) {
		if err := writeEntry(conn, entry); err != nil {
			return
		}
	}

	sub := h.buffer.Subscribe()
	defer h.buffer.Unsubscribe(sub)

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			return
		case entry := <-sub:
			if err := writeEntry(conn, entry); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func writeEntry(conn *websocket.Conn, entry logging.LogEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return nil
	}
	_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, data)
}

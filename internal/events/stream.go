package events

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	streamBuffer  = 64
	writeDeadline = 5 * time.Second
	pingInterval  = 30 * time.Second
)

// StreamHandler upgrades clients to a websocket and forwards every typed bus
// event as a JSON frame.
type StreamHandler struct {
	logger   zerolog.Logger
	bus      *Bus
	upgrader websocket.Upgrader
}

func NewStreamHandler(bus *Bus, logger zerolog.Logger) *StreamHandler {
	return &StreamHandler{
		logger: logger.With().Str("component", "event-stream").Logger(),
		bus:    bus,
		upgrader: websocket.Upgrader{
			// Local-network gateway; the HTTP layer already applies CORS
			// and auth, so cross-origin upgrades are allowed here.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ch := h.bus.Stream(streamBuffer)
	defer h.bus.Unstream(ch)

	// Drain reads so close frames and pongs are processed.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case evt := <-ch:
			conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := conn.WriteJSON(evt); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

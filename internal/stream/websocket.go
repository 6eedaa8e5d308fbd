package stream

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/star/substep/internal/metrics"
)

// maxClientMessage bounds a subscribe frame.
const maxClientMessage = 1024

// subscribeMessage changes the vessel filter of a WebSocket stream. An empty
// vessel streams every vessel.
type subscribeMessage struct {
	Type   string `json:"type"`
	Vessel string `json:"vessel"`
}

// WebSocket serves the environment stream over a WebSocket.
// GET /api/v1/stream/ws?period_ms=1000&vessel=<uuid>
func (h *Handler) WebSocket(w http.ResponseWriter, r *http.Request) {
	period, only, msg := h.parseQuery(r)
	if msg != "" {
		badRequest(w, msg)
		return
	}

	ip := h.clientIP(r)
	release, ok := h.admit(w, ip)
	if !ok {
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader has already answered
		release()
		metrics.IncStreamErrors("upgrade")
		h.logger.Debug("websocket upgrade failed", "remote_ip", ip, "error", err)
		return
	}
	defer conn.Close()
	defer h.track(r, ip, "websocket", period, release)()

	filters := make(chan *uuid.UUID, 1)
	done := make(chan struct{})
	go h.readSubscriptions(conn, filters, done)

	h.pump(r.Context(), wsSink{conn: conn}, ip, period, only, filters, done)

	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"),
		time.Now().Add(time.Second))
}

// readSubscriptions reads client frames until the connection fails, then
// closes done. Pongs extend the read deadline.
func (h *Handler) readSubscriptions(conn *websocket.Conn, filters chan *uuid.UUID, done chan<- struct{}) {
	defer close(done)

	timeout := 2*h.config.KeepaliveInterval + writeTimeout
	conn.SetReadLimit(maxClientMessage)
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(timeout))
	})

	for {
		_ = conn.SetReadDeadline(time.Now().Add(timeout))
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg subscribeMessage
		if err := json.Unmarshal(data, &msg); err != nil || msg.Type != "subscribe" {
			continue
		}
		var only *uuid.UUID
		if msg.Vessel != "" {
			id, err := uuid.Parse(msg.Vessel)
			if err != nil {
				continue
			}
			only = &id
		}
		// latest filter wins
		select {
		case <-filters:
		default:
		}
		filters <- only
	}
}

package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/cgs-mvp/cgs/go/engine/internal/streaming"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true }, // origin enforced by the proxy
}

// handleWS mirrors handleSSE over a WebSocket. Each message is the wire
// payload of one event plus its seq.
// GET /stream/ws?run_id=<id>[&types=a,b][&last_event_id=n]
func (h *StreamingHandler) handleWS(w http.ResponseWriter, r *http.Request) {
	sub, ok := h.parseSubscription(w, r)
	if !ok {
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ch := h.mgr.Subscribe(sub.runID, subscriberBuffer)
	defer h.mgr.Unsubscribe(sub.runID, ch)

	sent := sub.lastID
	// send reports whether the stream is over.
	send := func(evt streaming.Event) bool {
		if evt.Seq != 0 && evt.Seq <= sent {
			return false
		}
		sent = evt.Seq
		if sub.wants(evt) {
			if err := conn.WriteMessage(websocket.TextMessage, wsPayload(evt)); err != nil {
				return true
			}
		}
		if evt.Terminal() {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "run finished"),
				time.Now().Add(wsWriteDeadline))
			return true
		}
		return false
	}

	for _, evt := range h.backlog(r, sub) {
		if send(evt) {
			return
		}
	}

	conn.SetReadLimit(wsClientReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadDeadline))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsReadDeadline))
	})

	// reader pump: client messages are discarded, a read error ends the stream
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-closed:
			h.logger.Debug("WebSocket client disconnected", zap.String("run_id", sub.runID))
			return
		case evt, open := <-ch:
			if !open || send(evt) {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(wsWriteDeadline)); err != nil {
				return
			}
		}
	}
}

func wsPayload(evt streaming.Event) []byte {
	out := make(map[string]interface{}, len(evt.Data)+2)
	for k, v := range evt.Data {
		out[k] = v
	}
	out["type"] = evt.Type
	out["seq"] = evt.Seq
	b, _ := json.Marshal(out)
	return b
}

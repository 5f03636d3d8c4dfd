// ABOUTME: WebSocket viewer transport forwarding ControlEvents as JSON frames
// ABOUTME: A failed write drops only that viewer; the publisher is never affected

package stream

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// writeTimeout bounds a single frame write to one viewer.
	writeTimeout = 10 * time.Second

	// pingInterval keeps idle connections alive through proxies.
	pingInterval = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The dashboard is served from a different origin in development.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeWS handles GET /api/events/ws: upgrades the connection and forwards
// broadcast events as JSON text frames until either side closes.
func (a *Adapter) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	ch, subID := a.events.Subscribe(ctx)
	defer a.events.Unsubscribe(subID)
	defer conn.Close()

	a.logger.Debug("websocket viewer connected", "sub_id", subID)

	// Reader goroutine: we never expect client frames, but reading is how
	// a close from the other side is detected.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	pinger := time.NewTicker(pingInterval)
	defer pinger.Stop()

	for {
		select {
		case <-ctx.Done():
			a.logger.Debug("websocket viewer disconnected", "sub_id", subID)
			return
		case <-pinger.C:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				a.logger.Debug("websocket ping failed, dropping viewer",
					"sub_id", subID, "error", err)
				return
			}
		case event, ok := <-ch:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(event); err != nil {
				a.logger.Debug("websocket write failed, dropping viewer",
					"sub_id", subID, "error", err)
				return
			}
		}
	}
}

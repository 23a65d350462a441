package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

const (
	streamWriteTimeout = 5 * time.Second
	streamPingInterval = 30 * time.Second
)

// handleEventStream upgrades to a WebSocket and forwards learning events,
// optionally filtered to one student with ?student_id=.
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	if s.bus == nil {
		respondError(w, http.StatusServiceUnavailable, "event stream is not configured")
		return
	}
	studentID := r.URL.Query().Get("student_id")

	// The server's WriteTimeout would otherwise cut long-lived streams.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Warn("websocket accept failed", "error", err)
		return
	}
	defer conn.CloseNow()

	// Clients only listen; CloseRead handles control frames and cancels ctx
	// when the peer goes away.
	ctx := conn.CloseRead(r.Context())
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ch, err := s.bus.Subscribe(ctx)
	if err != nil {
		slog.Error("event subscribe failed", "error", err)
		conn.Close(websocket.StatusInternalError, "subscribe failed")
		return
	}

	ping := time.NewTicker(streamPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case <-ping.C:
			pctx, pcancel := context.WithTimeout(ctx, streamWriteTimeout)
			err := conn.Ping(pctx)
			pcancel()
			if err != nil {
				return
			}
		case evt, ok := <-ch:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "event stream closed")
				return
			}
			if studentID != "" && evt.StudentID != studentID {
				continue
			}
			wctx, wcancel := context.WithTimeout(ctx, streamWriteTimeout)
			err := wsjson.Write(wctx, conn, evt)
			wcancel()
			if err != nil {
				slog.Debug("event stream write failed", "error", err)
				return
			}
		}
	}
}

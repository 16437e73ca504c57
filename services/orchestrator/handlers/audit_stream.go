package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/AleutianAI/AleutianGuard/services/orchestrator/audit"
)

var auditUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 32 * 1024,
}

// auditWriteTimeout bounds one websocket write so a wedged client cannot
// pin the handler goroutine.
const auditWriteTimeout = 10 * time.Second

// HandleAuditStream serves GET /v1/audit/stream: a websocket that pushes
// each audit record as one JSON text message the moment it is recorded.
//
// The hub drops records for subscribers that fall behind, so a slow
// viewer sees gaps, never stale backpressure on the gate. The trail file
// remains the complete history.
func HandleAuditStream(hub *audit.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		if hub == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit stream not configured"})
			return
		}

		ws, err := auditUpgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			slog.Error("failed to upgrade the audit stream websocket", "error", err)
			return
		}
		defer ws.Close()
		slog.Info("Audit stream client connected", "remote", ws.RemoteAddr().String())

		records, cancel := hub.Subscribe()
		defer cancel()

		// Reader goroutine: we never expect client messages, but reading is
		// what surfaces close frames and dead connections.
		done := make(chan struct{})
		go func() {
			defer close(done)
			for {
				if _, _, err := ws.ReadMessage(); err != nil {
					return
				}
			}
		}()

		for {
			select {
			case line, ok := <-records:
				if !ok {
					// Hub shut down; tell the client we are going away.
					_ = ws.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseGoingAway, "audit hub shutdown"),
						time.Now().Add(time.Second))
					return
				}
				_ = ws.SetWriteDeadline(time.Now().Add(auditWriteTimeout))
				if err := ws.WriteMessage(websocket.TextMessage, line); err != nil {
					slog.Info("Audit stream client disconnected", "error", err.Error())
					return
				}
			case <-done:
				slog.Info("Audit stream client disconnected")
				return
			}
		}
	}
}

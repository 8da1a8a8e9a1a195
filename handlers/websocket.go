package handlers

import (
	"net/http"

	ws "invasion-viewer/websocket"

	"github.com/apex/log"
	"github.com/gin-gonic/gin"
	gorilla "github.com/gorilla/websocket"
)

var upgrader = gorilla.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// StreamSession handles GET /api/v1/sessions/:id/stream. The socket receives
// every event of the session until it closes.
func (h *Handlers) StreamSession(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warnf("Failed to upgrade connection to WebSocket: %v", err)
		return
	}

	client := ws.NewClient(h.hub, conn, sess.ID)
	if !client.Register() {
		log.Warnf("WebSocket hub stopped, dropping client of session %s", sess.ID)
		conn.Close()
		return
	}
	log.Debugf("WebSocket connection established for session %s", sess.ID)
}

package handlers

import (
	"net/http"

	"socialfeed/logging"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WSNotifications - WebSocket endpoint для уведомлений
func (h *Handler) WSNotifications(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	logger := logging.Ctx(c.Request.Context()).With().Int64(logging.FieldUserID, userID).Logger()

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	h.WS.Add(userID, conn)
	defer h.WS.Remove(userID, conn)

	_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"connected","message":"WebSocket connected"}`))

	// Входящие сообщения не обрабатываются, цикл только ловит закрытие.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug().Err(err).Msg("websocket closed")
			}
			return
		}
	}
}

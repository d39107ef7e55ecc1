package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RebuildFeed пересобирает домашнюю ленту пользователя из базы (админский эндпоинт)
func (h *Handler) RebuildFeed(c *gin.Context) {
	userID, ok := paramID(c, "user_id")
	if !ok {
		return
	}
	n, err := h.Fanout.RebuildTimeline(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Feed rebuilt", "user_id": userID, "entries": n})
}

// QueueStats возвращает статистику очереди задач (админский эндпоинт)
func (h *Handler) QueueStats(c *gin.Context) {
	stats, err := h.Queue.Stats(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

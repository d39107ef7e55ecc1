package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type MarkReadRequest struct {
	Type string `json:"type" binding:"required"`
}

// ListNotifications - уведомления одного типа (FOLLOW, LIKE, COMMENT), новые первыми
func (h *Handler) ListNotifications(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	lastID, ok := queryInt64(c, "lastId", 0)
	if !ok {
		return
	}
	size, ok := querySize(c)
	if !ok {
		return
	}
	page, err := h.Notify.List(c.Request.Context(), userID, c.Query("type"), lastID, size)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h *Handler) UnreadCount(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	counts, err := h.Notify.UnreadCounts(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, counts)
}

func (h *Handler) MarkRead(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	var req MarkReadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	n, err := h.Notify.MarkRead(c.Request.Context(), userID, req.Type)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": n})
}

package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type CommentRequest struct {
	Content string `json:"content" binding:"required"`
}

func (h *Handler) CreateComment(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	postID, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req CommentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	comment, err := h.Comments.CreateComment(c.Request.Context(), userID, postID, req.Content)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, comment)
}

func (h *Handler) ListComments(c *gin.Context) {
	postID, ok := paramID(c, "id")
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
	page, err := h.Comments.ListComments(c.Request.Context(), currentUser(c), postID, lastID, size)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h *Handler) DeleteComment(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	commentID, ok := paramID(c, "id")
	if !ok {
		return
	}
	if err := h.Comments.DeleteComment(c.Request.Context(), userID, commentID); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (h *Handler) Follow(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	targetID, ok := paramID(c, "id")
	if !ok {
		return
	}
	if err := h.Follows.Follow(c.Request.Context(), userID, targetID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "followed"})
}

func (h *Handler) Unfollow(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	targetID, ok := paramID(c, "id")
	if !ok {
		return
	}
	if err := h.Follows.Unfollow(c.Request.Context(), userID, targetID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "unfollowed"})
}

func (h *Handler) Followers(c *gin.Context) {
	h.listUsers(c, true)
}

func (h *Handler) Followings(c *gin.Context) {
	h.listUsers(c, false)
}

func (h *Handler) listUsers(c *gin.Context, followers bool) {
	userID, ok := paramID(c, "id")
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

	list := h.Follows.Followings
	if followers {
		list = h.Follows.Followers
	}
	page, err := list(c.Request.Context(), userID, lastID, size)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

// Friends - взаимные подписки пользователя
func (h *Handler) Friends(c *gin.Context) {
	userID, ok := paramID(c, "id")
	if !ok {
		return
	}
	friends, err := h.Follows.Friends(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": friends})
}

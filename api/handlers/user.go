package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// UserGet - профиль пользователя глазами текущего
func (h *Handler) UserGet(c *gin.Context) {
	userID, ok := paramID(c, "id")
	if !ok {
		return
	}
	profile, err := h.Users.Profile(c.Request.Context(), currentUser(c), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, profile)
}

// UserPosts - все посты автора, видимые текущему пользователю
func (h *Handler) UserPosts(c *gin.Context) {
	ownerID, ok := paramID(c, "id")
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
	feed, err := h.Feed.GetAllPosts(c.Request.Context(), ownerID, currentUser(c), lastID, size)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, feed)
}

// UserLiked - лента лайкнутых постов, курсор - время лайка
func (h *Handler) UserLiked(c *gin.Context) {
	ownerID, ok := paramID(c, "id")
	if !ok {
		return
	}
	cursor, ok := queryInt64(c, "cursor", 0)
	if !ok {
		return
	}
	size, ok := querySize(c)
	if !ok {
		return
	}
	feed, err := h.Feed.GetLikedPosts(c.Request.Context(), ownerID, currentUser(c), cursor, size)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, feed)
}

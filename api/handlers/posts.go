package handlers

import (
	"net/http"

	"socialfeed/services"

	"github.com/gin-gonic/gin"
)

// CreatePost создает новый пост и запускает доставку по лентам
func (h *Handler) CreatePost(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	var req services.CreatePostInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	post, err := h.Posts.CreatePost(c.Request.Context(), userID, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, post)
}

func (h *Handler) GetPost(c *gin.Context) {
	postID, ok := paramID(c, "id")
	if !ok {
		return
	}
	post, err := h.Posts.GetPost(c.Request.Context(), currentUser(c), postID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, post)
}

func (h *Handler) UpdatePost(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	postID, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req services.UpdatePostInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	post, err := h.Posts.UpdatePost(c.Request.Context(), userID, postID, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, post)
}

func (h *Handler) DeletePost(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	postID, ok := paramID(c, "id")
	if !ok {
		return
	}
	if err := h.Posts.DeletePost(c.Request.Context(), userID, postID); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GetFeed - домашняя лента, курсор в миллисекундах
func (h *Handler) GetFeed(c *gin.Context) {
	userID, ok := requireUser(c)
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

	feed, err := h.Feed.GetNewestFeed(c.Request.Context(), userID, cursor, size)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, feed)
}

// GetFollowingFeed - случайная выборка из ленты без повторов одного автора подряд
func (h *Handler) GetFollowingFeed(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	size, ok := querySize(c)
	if !ok {
		return
	}
	feed, err := h.Feed.GetFollowingPosts(c.Request.Context(), userID, size)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, feed)
}

func (h *Handler) GetFriendsFeed(c *gin.Context) {
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
	feed, err := h.Feed.GetFriendPosts(c.Request.Context(), userID, lastID, size)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, feed)
}

func (h *Handler) LikePost(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	postID, ok := paramID(c, "id")
	if !ok {
		return
	}
	if err := h.Likes.LikePost(c.Request.Context(), userID, postID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "liked"})
}

func (h *Handler) UnlikePost(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	postID, ok := paramID(c, "id")
	if !ok {
		return
	}
	if err := h.Likes.UnlikePost(c.Request.Context(), userID, postID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "unliked"})
}

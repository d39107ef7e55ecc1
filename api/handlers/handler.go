package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"socialfeed/api/middleware"
	"socialfeed/logging"
	"socialfeed/services"

	"github.com/gin-gonic/gin"
)

type QueueStats interface {
	Stats(ctx context.Context) (map[string]interface{}, error)
}

// Handler держит зависимости всех HTTP-обработчиков.
type Handler struct {
	Users    *services.UserService
	Posts    *services.PostService
	Feed     *services.FeedService
	Follows  *services.FollowService
	Likes    *services.LikeService
	Comments *services.CommentService
	Notify   *services.NotificationService
	Fanout   *services.FanoutEngine
	Queue    QueueStats
	WS       *services.WSConnManager
	Tokens   *middleware.TokenManager
}

// currentUser возвращает id из контекста, 0 если запрос анонимный.
func currentUser(c *gin.Context) int64 {
	v, ok := c.Get(logging.FieldUserID)
	if !ok {
		return 0
	}
	id, _ := v.(int64)
	return id
}

func requireUser(c *gin.Context) (int64, bool) {
	id := currentUser(c)
	if id == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return 0, false
	}
	return id, true
}

func paramID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return id, true
}

// queryInt64 возвращает def для пустого значения; мусор - ошибка 400.
func queryInt64(c *gin.Context, name string, def int64) (int64, bool) {
	raw := c.Query(name)
	if raw == "" {
		return def, true
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return v, true
}

func querySize(c *gin.Context) (int, bool) {
	v, ok := queryInt64(c, "size", 0)
	return int(v), ok
}

func statusOf(kind services.ErrorKind) int {
	switch kind {
	case services.KindNotFound:
		return http.StatusNotFound
	case services.KindConflict:
		return http.StatusConflict
	case services.KindForbidden:
		return http.StatusForbidden
	case services.KindValidation:
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// respondError пишет доменную ошибку с ее кодом; прочие ошибки логируются и скрываются.
func respondError(c *gin.Context, err error) {
	var e *services.Error
	if errors.As(err, &e) {
		c.JSON(statusOf(e.Kind), gin.H{"code": e.Code, "error": e.Message})
		return
	}
	logging.Ctx(c.Request.Context()).Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
}

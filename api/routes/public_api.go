package routes

import (
	"socialfeed/api/handlers"
	"socialfeed/api/middleware"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func PublicApi(router *gin.Engine, h *handlers.Handler, auth *middleware.Authenticator) *gin.RouterGroup {
	api := router.Group("/api/v1/")
	{
		api.POST("auth/register", h.Register)
		api.POST("auth/login", h.Login)
	}

	// Чтение чужих профилей и постов доступно анонимно, видимость считается для viewer 0.
	public := api.Group("", auth.Optional())
	{
		public.GET("user/:id", h.UserGet)
		public.GET("user/:id/posts", h.UserPosts)
		public.GET("user/:id/followers", h.Followers)
		public.GET("user/:id/following", h.Followings)
		public.GET("user/:id/friends", h.Friends)
		public.GET("user/:id/liked", h.UserLiked)
		public.GET("posts/:id", h.GetPost)
		public.GET("posts/:id/comments", h.ListComments)
	}

	private := api.Group("", auth.Required())
	{
		private.POST("follow/:id", h.Follow)
		private.DELETE("follow/:id", h.Unfollow)

		// Ленты
		private.GET("posts", h.GetFeed)
		private.GET("posts/following", h.GetFollowingFeed)
		private.GET("posts/friends", h.GetFriendsFeed)

		private.POST("posts", h.CreatePost)
		private.PUT("posts/:id", h.UpdatePost)
		private.DELETE("posts/:id", h.DeletePost)
		private.POST("posts/:id/like", h.LikePost)
		private.DELETE("posts/:id/like", h.UnlikePost)
		private.POST("posts/:id/comments", h.CreateComment)
		private.DELETE("comments/:id", h.DeleteComment)

		private.GET("notification/list", h.ListNotifications)
		private.GET("notification/unread-count", h.UnreadCount)
		private.POST("notification/mark-read", h.MarkRead)

		private.GET("ws", h.WSNotifications)

		private.POST("admin/feed/:user_id/rebuild", h.RebuildFeed)
		private.GET("admin/queue/stats", h.QueueStats)
	}
	return api
}

// Service подключает /health и /metrics вне версионного префикса.
func Service(router *gin.Engine, h *handlers.Handler, gatherer prometheus.Gatherer) {
	router.GET("/health", h.Health)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
}

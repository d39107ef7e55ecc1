package services

import (
	"socialfeed/config"
	"socialfeed/db"

	"github.com/prometheus/client_golang/prometheus"
)

// AppDeps lists what NewApp needs. Queue defaults to an in-process channel.
// Without a Publisher events go straight to notifications. Inline runs tasks
// on the caller goroutine instead of the dispatcher.
type AppDeps struct {
	DB         *db.Manager
	Timeline   TimelineStore
	Queue      TaskQueue
	Publisher  EventPublisher
	Feed       config.FeedConfig
	Workers    config.WorkersConfig
	Registerer prometheus.Registerer
	Rand       *LockedRand
	Inline     bool
}

// App - собранный граф сервисов ленты.
type App struct {
	Metrics    *Metrics
	Relations  *RelationshipIndex
	Fanout     *FanoutEngine
	Dispatcher *Dispatcher
	Tasks      Submitter
	Users      *UserService
	Posts      *PostService
	Feed       *FeedService
	Follows    *FollowService
	Likes      *LikeService
	Comments   *CommentService
	WS         *WSConnManager
	Notify     *NotificationService
	Publisher  EventPublisher
}

// NewApp wires fan-out and the notification pipeline first, then the
// dispatcher around them, then the services that submit to it.
func NewApp(d AppDeps) *App {
	if d.Registerer == nil {
		d.Registerer = prometheus.NewRegistry()
	}
	if d.Rand == nil {
		d.Rand = NewEntropyRand()
	}
	if d.Queue == nil {
		d.Queue = NewMemoryTaskQueue(d.Workers.Buffer)
	}

	a := &App{Metrics: NewMetrics(d.Registerer)}
	a.Relations = NewRelationshipIndex(d.DB)
	a.Fanout = NewFanoutEngine(d.DB, a.Relations, d.Timeline, d.Feed, a.Metrics)
	a.WS = NewWSConnManager()
	a.Notify = NewNotificationService(d.DB, a.WS, d.Feed.DefaultPageSize, d.Feed.MaxPageSize)
	a.Publisher = d.Publisher
	if a.Publisher == nil {
		a.Publisher = LocalPublisher{Handler: a.Notify}
	}

	router := &TaskRouter{Fanout: a.Fanout, Publisher: a.Publisher, Metrics: a.Metrics}
	a.Dispatcher = NewDispatcher(d.Queue, router, DispatcherConfig{
		Workers:     d.Workers.Count,
		MaxAttempts: d.Workers.MaxAttempts,
		QueueName:   d.Workers.QueueName,
	}, a.Metrics)
	a.Tasks = a.Dispatcher
	if d.Inline {
		a.Tasks = InlineSubmitter{Handler: router, MaxAttempts: d.Workers.MaxAttempts, Metrics: a.Metrics}
	}

	a.Users = NewUserService(d.DB, a.Relations)
	a.Posts = NewPostService(d.DB, a.Relations, a.Tasks)
	a.Feed = NewFeedService(d.DB, a.Relations, d.Timeline, NewSampler(d.Rand), d.Feed, a.Metrics)
	a.Follows = NewFollowService(d.DB, a.Relations, a.Tasks, d.Feed.DefaultPageSize, d.Feed.MaxPageSize)
	a.Likes = NewLikeService(d.DB, a.Posts, a.Tasks)
	a.Comments = NewCommentService(d.DB, a.Posts, a.Tasks, d.Feed.DefaultPageSize, d.Feed.MaxPageSize)
	return a
}

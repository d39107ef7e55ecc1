package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"socialfeed/logging"
)

type EventKind string

const (
	EventFollow  EventKind = "FOLLOW"
	EventLike    EventKind = "LIKE"
	EventComment EventKind = "COMMENT"
)

type FollowEvent struct {
	FollowerID  int64 `json:"follower_id"`
	FollowingID int64 `json:"following_id"`
}

type LikeEvent struct {
	UserID   int64 `json:"user_id"`
	PostID   int64 `json:"post_id"`
	AuthorID int64 `json:"author_id"`
}

type CommentEvent struct {
	CommentID int64  `json:"comment_id"`
	UserID    int64  `json:"user_id"`
	PostID    int64  `json:"post_id"`
	AuthorID  int64  `json:"author_id"`
	Content   string `json:"content"`
}

// Event - доменное событие для конвейера уведомлений. Exactly one payload
// matches Kind.
type Event struct {
	Kind       EventKind     `json:"kind"`
	OccurredAt time.Time     `json:"occurred_at"`
	Follow     *FollowEvent  `json:"follow,omitempty"`
	Like       *LikeEvent    `json:"like,omitempty"`
	Comment    *CommentEvent `json:"comment,omitempty"`
}

func (e *Event) Validate() error {
	switch e.Kind {
	case EventFollow:
		if e.Follow != nil && e.Like == nil && e.Comment == nil {
			return nil
		}
	case EventLike:
		if e.Like != nil && e.Follow == nil && e.Comment == nil {
			return nil
		}
	case EventComment:
		if e.Comment != nil && e.Follow == nil && e.Like == nil {
			return nil
		}
	default:
		return fmt.Errorf("unknown event kind %q", e.Kind)
	}
	return fmt.Errorf("event %s: payload does not match kind", e.Kind)
}

// RoutingKey is the topic routing key of the event, e.g. notification.like.
func (e *Event) RoutingKey() string {
	return "notification." + strings.ToLower(string(e.Kind))
}

type EventPublisher interface {
	Publish(ctx context.Context, event Event) error
}

type EventHandler interface {
	Handle(ctx context.Context, event Event) error
}

// LocalPublisher hands events straight to a handler in the same process. It
// is used when no broker is configured. Services reach it through a
// TaskPublishEvent task, so it runs on a dispatcher worker.
type LocalPublisher struct {
	Handler EventHandler
}

func (p LocalPublisher) Publish(ctx context.Context, event Event) error {
	return p.Handler.Handle(ctx, event)
}

// emitter hands events to the task queue without ever failing the caller.
// Publishing and its retries happen in TaskRouter.
type emitter struct {
	tasks Submitter
}

func (e emitter) emit(ctx context.Context, event Event) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}
	l := logging.Ctx(ctx)
	l.Debug().Str("event", string(event.Kind)).Msg("event queued")
	e.tasks.Submit(ctx, NewPublishTask(event))
}

package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"socialfeed/config"
	"socialfeed/db"
	"socialfeed/logging"
	"socialfeed/models"

	"github.com/cenkalti/backoff/v4"
	"gorm.io/gorm"
)

// FanoutEngine writes posts into timelines. TaskRouter hands it every
// timeline task kind. All of its reads go to the master.
type FanoutEngine struct {
	db       *db.Manager
	rel      *RelationshipIndex
	timeline TimelineStore
	conf     config.FeedConfig
	metrics  *Metrics
	// NewBackOff builds the retry policy of a single timeline append.
	NewBackOff func() backoff.BackOff
}

var _ TaskHandler = (*FanoutEngine)(nil)

func NewFanoutEngine(m *db.Manager, rel *RelationshipIndex, timeline TimelineStore, conf config.FeedConfig, metrics *Metrics) *FanoutEngine {
	return &FanoutEngine{
		db:         m,
		rel:        rel.Primary(),
		timeline:   timeline,
		conf:       conf,
		metrics:    metrics,
		NewBackOff: defaultAppendBackOff,
	}
}

func defaultAppendBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = 500 * time.Millisecond
	b.MaxElapsedTime = 2 * time.Second
	return backoff.WithMaxRetries(b, 3)
}

func (f *FanoutEngine) Handle(ctx context.Context, task *Task) error {
	switch task.Kind {
	case TaskFanoutPost:
		return f.Deliver(ctx, task.Fanout)
	case TaskWarmUp:
		return f.WarmUp(ctx, task.WarmUp.FollowerID, task.WarmUp.FollowingID)
	case TaskLikedAppend:
		return f.appendLiked(ctx, task.Liked)
	case TaskLikedRemove:
		return f.timeline.Remove(ctx, TimelineLiked, task.Liked.UserID, task.Liked.PostID)
	}
	return fmt.Errorf("unknown task kind %q", task.Kind)
}

// Audience returns the timelines a post belongs to: the author first, then
// mutual friends for FRIENDS posts or followers for FOLLOWERS and PUBLIC posts.
func (f *FanoutEngine) Audience(ctx context.Context, post *models.Post) ([]int64, error) {
	var (
		others []int64
		err    error
	)
	switch post.Visibility {
	case models.VisibilityFriends:
		others, err = f.rel.MutualFriendIDs(ctx, post.UserID)
	case models.VisibilityFollowers, models.VisibilityPublic:
		// TODO: PUBLIC posts could also reach non-followers once a
		// recommendation source exists; for now they go to followers only.
		others, err = f.rel.FollowerIDs(ctx, post.UserID)
	}
	if err != nil {
		return nil, err
	}
	audience := make([]int64, 0, len(others)+1)
	audience = append(audience, post.UserID)
	seen := map[int64]bool{post.UserID: true}
	for _, id := range others {
		if !seen[id] {
			seen[id] = true
			audience = append(audience, id)
		}
	}
	return audience, nil
}

// Deliver appends the post to every target timeline. Targets that still fail
// after retries come back in a *TargetsError.
func (f *FanoutEngine) Deliver(ctx context.Context, p *FanoutPayload) error {
	logger := logging.Ctx(ctx).With().Int64(logging.FieldPostID, p.PostID).Logger()

	var post models.Post
	if err := f.db.Write(ctx).First(&post, p.PostID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			logger.Debug().Msg("post gone before fan-out, skipping")
			return nil
		}
		return fmt.Errorf("load post %d: %w", p.PostID, err)
	}

	targets := p.Targets
	if len(targets) == 0 {
		audience, err := f.Audience(ctx, &post)
		if err != nil {
			return fmt.Errorf("audience of post %d: %w", post.ID, err)
		}
		targets = audience
	}
	f.metrics.fanoutAudience.Observe(float64(len(targets)))

	var (
		failed  []int64
		lastErr error
	)
	for _, target := range targets {
		if err := f.appendWithRetry(ctx, TimelineHome, target, post.ID, post.Score()); err != nil {
			logger.Warn().Err(err).Int64(logging.FieldTargetID, target).Msg("timeline append failed")
			failed = append(failed, target)
			lastErr = err
			continue
		}
		if err := f.timeline.Trim(ctx, TimelineHome, target, f.conf.TimelineMaxSize); err != nil {
			logger.Warn().Err(err).Int64(logging.FieldTargetID, target).Msg("timeline trim failed")
		}
	}
	if len(failed) > 0 {
		return &TargetsError{Failed: failed, Err: lastErr}
	}
	logger.Debug().Int("targets", len(targets)).Msg("post fanned out")
	return nil
}

func (f *FanoutEngine) appendWithRetry(ctx context.Context, kind TimelineKind, owner, postID, score int64) error {
	err := backoff.Retry(func() error {
		return f.timeline.Append(ctx, kind, owner, postID, score)
	}, backoff.WithContext(f.NewBackOff(), ctx))
	f.metrics.fanoutAppends.WithLabelValues(resultLabel(err)).Inc()
	return err
}

// WarmUp backfills the follower's home timeline with the newest posts of the
// followed user that the new relationship allows.
func (f *FanoutEngine) WarmUp(ctx context.Context, followerID, followingID int64) error {
	following, followedBack, err := f.rel.Relation(ctx, followerID, followingID)
	if err != nil {
		return err
	}
	if !following {
		// Unfollowed before the task ran.
		return nil
	}

	var posts []models.Post
	err = f.db.Write(ctx).
		Where("user_id = ? AND visibility IN ?", followingID, AllowedVisibilities(false, true, followedBack)).
		Order("id DESC").
		Limit(f.conf.WarmUpBatch).
		Find(&posts).Error
	if err != nil {
		return fmt.Errorf("warm-up posts of %d: %w", followingID, err)
	}
	for i := range posts {
		if err := f.appendWithRetry(ctx, TimelineHome, followerID, posts[i].ID, posts[i].Score()); err != nil {
			return fmt.Errorf("warm-up append: %w", err)
		}
	}
	if err := f.timeline.Trim(ctx, TimelineHome, followerID, f.conf.TimelineMaxSize); err != nil {
		return fmt.Errorf("warm-up trim: %w", err)
	}
	l := logging.Ctx(ctx)
	l.Debug().Int64(logging.FieldUserID, followerID).Int64(logging.FieldTargetID, followingID).
		Int("posts", len(posts)).Msg("timeline warmed up")
	return nil
}

func (f *FanoutEngine) appendLiked(ctx context.Context, p *LikedPayload) error {
	if err := f.appendWithRetry(ctx, TimelineLiked, p.UserID, p.PostID, p.Score); err != nil {
		return err
	}
	return f.timeline.Trim(ctx, TimelineLiked, p.UserID, f.conf.TimelineMaxSize)
}

// RebuildTimeline recomputes a home timeline from durable state: the user's
// own posts plus the posts of every followed user allowed by the live
// relationship, newest TimelineMaxSize kept.
func (f *FanoutEngine) RebuildTimeline(ctx context.Context, userID int64) (int, error) {
	followings, err := f.rel.FollowingIDs(ctx, userID)
	if err != nil {
		return 0, err
	}
	followedBy, err := f.rel.FollowedBySet(ctx, userID, followings)
	if err != nil {
		return 0, err
	}

	limit := f.conf.TimelineMaxSize
	collect := func(authorID int64, allowed []models.Visibility) ([]models.Post, error) {
		var posts []models.Post
		err := f.db.Write(ctx).
			Where("user_id = ? AND visibility IN ?", authorID, allowed).
			Order("id DESC").
			Limit(limit).
			Find(&posts).Error
		return posts, err
	}

	all, err := collect(userID, AllowedVisibilities(true, false, false))
	if err != nil {
		return 0, fmt.Errorf("rebuild own posts of %d: %w", userID, err)
	}
	for _, authorID := range followings {
		posts, err := collect(authorID, AllowedVisibilities(false, true, followedBy[authorID]))
		if err != nil {
			return 0, fmt.Errorf("rebuild posts of %d: %w", authorID, err)
		}
		all = append(all, posts...)
	}

	if err := f.timeline.Clear(ctx, TimelineHome, userID); err != nil {
		return 0, fmt.Errorf("clear timeline %d: %w", userID, err)
	}
	for i := range all {
		if err := f.timeline.Append(ctx, TimelineHome, userID, all[i].ID, all[i].Score()); err != nil {
			return 0, fmt.Errorf("rebuild append: %w", err)
		}
	}
	if err := f.timeline.Trim(ctx, TimelineHome, userID, limit); err != nil {
		return 0, err
	}
	return min(len(all), limit), nil
}

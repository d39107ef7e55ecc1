package services

import (
	"context"
	"errors"
	"fmt"

	"socialfeed/db"
	"socialfeed/models"

	"gorm.io/gorm"
)

type LikeService struct {
	db     *db.Manager
	posts  *PostService
	tasks  Submitter
	events emitter
}

func NewLikeService(m *db.Manager, posts *PostService, tasks Submitter) *LikeService {
	return &LikeService{db: m, posts: posts, tasks: tasks, events: emitter{tasks: tasks}}
}

// LikePost records the like and increments the counter in one transaction.
// The liked timeline is updated in the background.
func (ls *LikeService) LikePost(ctx context.Context, userID, postID int64) error {
	post, err := ls.posts.VisiblePost(ctx, userID, postID)
	if err != nil {
		return err
	}
	like := &models.Like{UserID: userID, PostID: postID, CreatedAt: ls.posts.Now()}
	err = ls.db.Write(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&models.Like{}).Where("user_id = ? AND post_id = ?", userID, postID).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return ErrAlreadyLiked
		}
		if err := tx.Create(like).Error; err != nil {
			return err
		}
		return tx.Model(&models.Post{}).Where("id = ?", postID).
			UpdateColumn("like_count", counterInc("like_count")).Error
	})
	if err != nil {
		if errors.Is(err, ErrAlreadyLiked) || errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrAlreadyLiked
		}
		return fmt.Errorf("failed to like post %d: %w", postID, err)
	}

	ls.tasks.Submit(ctx, NewLikedTask(TaskLikedAppend, userID, postID, like.Score()))
	if post.UserID != userID {
		ls.events.emit(ctx, Event{Kind: EventLike, Like: &LikeEvent{UserID: userID, PostID: postID, AuthorID: post.UserID}})
	}
	return nil
}

func (ls *LikeService) UnlikePost(ctx context.Context, userID, postID int64) error {
	if _, err := ls.posts.loadPost(ctx, postID); err != nil {
		return err
	}
	err := ls.db.Write(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("user_id = ? AND post_id = ?", userID, postID).Delete(&models.Like{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotLiked
		}
		return tx.Model(&models.Post{}).Where("id = ?", postID).
			UpdateColumn("like_count", counterDec("like_count")).Error
	})
	if err != nil {
		if errors.Is(err, ErrNotLiked) {
			return ErrNotLiked
		}
		return fmt.Errorf("failed to unlike post %d: %w", postID, err)
	}
	ls.tasks.Submit(ctx, NewLikedTask(TaskLikedRemove, userID, postID, 0))
	return nil
}

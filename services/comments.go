package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"socialfeed/db"
	"socialfeed/models"

	"gorm.io/gorm"
)

const MaxCommentContent = 1000

type CommentService struct {
	db     *db.Manager
	posts  *PostService
	events emitter
	conf   pageConf
}

func NewCommentService(m *db.Manager, posts *PostService, tasks Submitter, defaultPage, maxPage int) *CommentService {
	return &CommentService{
		db:     m,
		posts:  posts,
		events: emitter{tasks: tasks},
		conf:   pageConf{def: defaultPage, max: maxPage},
	}
}

func (cs *CommentService) CreateComment(ctx context.Context, userID, postID int64, content string) (*models.Comment, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmptyComment
	}
	if utf8.RuneCountInString(content) > MaxCommentContent {
		return nil, ErrCommentTooLong
	}
	post, err := cs.posts.VisiblePost(ctx, userID, postID)
	if err != nil {
		return nil, err
	}

	comment := &models.Comment{PostID: postID, UserID: userID, Content: content, CreatedAt: cs.posts.Now()}
	err = cs.db.Write(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(comment).Error; err != nil {
			return err
		}
		return tx.Model(&models.Post{}).Where("id = ?", postID).
			UpdateColumn("comment_count", counterInc("comment_count")).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to comment post %d: %w", postID, err)
	}

	if post.UserID != userID {
		cs.events.emit(ctx, Event{Kind: EventComment, Comment: &CommentEvent{
			CommentID: comment.ID,
			UserID:    userID,
			PostID:    postID,
			AuthorID:  post.UserID,
			Content:   content,
		}})
	}
	return comment, nil
}

type CommentPage struct {
	Comments []models.Comment `json:"comments"`
	HasMore  bool             `json:"has_more"`
	LastID   int64            `json:"last_id,omitempty"`
}

// ListComments returns comments of a visible post, newest first.
func (cs *CommentService) ListComments(ctx context.Context, viewerID, postID, lastID int64, size int) (*CommentPage, error) {
	if _, err := cs.posts.VisiblePost(ctx, viewerID, postID); err != nil {
		return nil, err
	}
	size = cs.conf.size(size)
	q := cs.db.Read(ctx).Where("post_id = ?", postID)
	if lastID > 0 {
		q = q.Where("id < ?", lastID)
	}
	var comments []models.Comment
	if err := q.Order("id DESC").Limit(size + 1).Find(&comments).Error; err != nil {
		return nil, fmt.Errorf("list comments of %d: %w", postID, err)
	}
	page := &CommentPage{Comments: comments}
	if len(comments) > size {
		page.HasMore = true
		page.Comments = comments[:size]
	}
	if page.Comments == nil {
		page.Comments = []models.Comment{}
	}
	if n := len(page.Comments); n > 0 {
		page.LastID = page.Comments[n-1].ID
	}
	return page, nil
}

// DeleteComment removes an own comment and decrements the post counter.
func (cs *CommentService) DeleteComment(ctx context.Context, userID, commentID int64) error {
	var comment models.Comment
	if err := cs.db.Write(ctx).First(&comment, commentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrCommentNotFound
		}
		return fmt.Errorf("load comment %d: %w", commentID, err)
	}
	if comment.UserID != userID {
		return ErrNotCommentOwner
	}
	err := cs.db.Write(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&comment).Error; err != nil {
			return err
		}
		return tx.Model(&models.Post{}).Where("id = ?", comment.PostID).
			UpdateColumn("comment_count", counterDec("comment_count")).Error
	})
	if err != nil {
		return fmt.Errorf("failed to delete comment %d: %w", commentID, err)
	}
	return nil
}

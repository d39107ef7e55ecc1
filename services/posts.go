package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"socialfeed/db"
	"socialfeed/logging"
	"socialfeed/models"

	"gorm.io/gorm"
)

const MaxPostContent = 5000

type CreatePostInput struct {
	Content    string   `json:"content"`
	Images     []string `json:"images"`
	Visibility string   `json:"visibility"`
}

// UpdatePostInput - nil fields are left unchanged.
type UpdatePostInput struct {
	Content    *string   `json:"content"`
	Images     *[]string `json:"images"`
	Visibility *string   `json:"visibility"`
}

type PostService struct {
	db    *db.Manager
	rel   *RelationshipIndex
	tasks Submitter
	// Now stamps new posts; the score of a timeline entry is derived from it.
	Now func() time.Time
}

func NewPostService(m *db.Manager, rel *RelationshipIndex, tasks Submitter) *PostService {
	return &PostService{db: m, rel: rel, tasks: tasks, Now: time.Now}
}

func validatePost(content string, images []string, visibility models.Visibility) error {
	if !visibility.Valid() {
		return ErrInvalidVisibility
	}
	if utf8.RuneCountInString(content) > MaxPostContent {
		return ErrPostTooLong
	}
	if len(images) > models.MaxPostImages {
		return ErrTooManyImages
	}
	if content == "" && len(images) == 0 {
		return ErrEmptyPost
	}
	return nil
}

func cleanImages(images []string) models.StringList {
	out := make(models.StringList, 0, len(images))
	for _, img := range images {
		if img = strings.TrimSpace(img); img != "" {
			out = append(out, img)
		}
	}
	return out
}

func parseVisibilityInput(s string) (models.Visibility, error) {
	if strings.TrimSpace(s) == "" {
		return models.VisibilityPublic, nil
	}
	v, err := models.ParseVisibility(s)
	if err != nil {
		return "", ErrInvalidVisibility
	}
	return v, nil
}

// CreatePost stores the post and schedules its fan-out.
func (ps *PostService) CreatePost(ctx context.Context, userID int64, in CreatePostInput) (*models.Post, error) {
	visibility, err := parseVisibilityInput(in.Visibility)
	if err != nil {
		return nil, err
	}
	content := strings.TrimSpace(in.Content)
	images := cleanImages(in.Images)
	if err := validatePost(content, images, visibility); err != nil {
		return nil, err
	}

	var n int64
	if err := ps.db.Read(ctx).Model(&models.User{}).Where("id = ?", userID).Count(&n).Error; err != nil {
		return nil, fmt.Errorf("check author %d: %w", userID, err)
	}
	if n == 0 {
		return nil, ErrUserNotFound
	}

	now := ps.Now()
	post := &models.Post{
		UserID:     userID,
		Content:    content,
		Images:     images,
		Visibility: visibility,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := ps.db.Write(ctx).Create(post).Error; err != nil {
		return nil, fmt.Errorf("failed to create post: %w", err)
	}

	l := logging.Ctx(ctx)
	l.Info().Int64(logging.FieldPostID, post.ID).Str("visibility", string(visibility)).Msg("post created")
	ps.tasks.Submit(ctx, NewFanoutTask(post.ID))
	return post, nil
}

func (ps *PostService) loadPost(ctx context.Context, postID int64) (*models.Post, error) {
	var post models.Post
	if err := ps.db.Write(ctx).First(&post, postID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPostNotFound
		}
		return nil, fmt.Errorf("load post %d: %w", postID, err)
	}
	return &post, nil
}

// VisiblePost loads a post for direct access. A post the viewer may not see is
// reported as not found.
func (ps *PostService) VisiblePost(ctx context.Context, viewerID, postID int64) (*models.Post, error) {
	post, err := ps.loadPost(ctx, postID)
	if err != nil {
		return nil, err
	}
	following, followed, err := ps.rel.Relation(ctx, viewerID, post.UserID)
	if err != nil {
		return nil, err
	}
	for _, v := range AllowedVisibilities(viewerID == post.UserID, following, followed) {
		if v == post.Visibility {
			return post, nil
		}
	}
	return nil, ErrPostNotFound
}

// GetPost returns a single post decorated for the viewer.
func (ps *PostService) GetPost(ctx context.Context, viewerID, postID int64) (*models.FeedPost, error) {
	post, err := ps.VisiblePost(ctx, viewerID, postID)
	if err != nil {
		return nil, err
	}
	following, followed, err := ps.rel.Relation(ctx, viewerID, post.UserID)
	if err != nil {
		return nil, err
	}
	liked, err := ps.rel.LikedSet(ctx, viewerID, []int64{post.ID})
	if err != nil {
		return nil, err
	}
	self := viewerID == post.UserID
	return &models.FeedPost{Post: *post, Liked: liked[post.ID], Following: self || following, Followed: self || followed}, nil
}

// UpdatePost edits an own post. Widening the visibility fans the post out
// again; narrowing leaves delivered entries to the read-time check.
func (ps *PostService) UpdatePost(ctx context.Context, userID, postID int64, in UpdatePostInput) (*models.Post, error) {
	post, err := ps.loadPost(ctx, postID)
	if err != nil {
		return nil, err
	}
	if post.UserID != userID {
		return nil, ErrNotPostOwner
	}

	old := post.Visibility
	content, images, visibility := post.Content, post.Images, post.Visibility
	if in.Content != nil {
		content = strings.TrimSpace(*in.Content)
	}
	if in.Images != nil {
		images = cleanImages(*in.Images)
	}
	if in.Visibility != nil {
		if visibility, err = parseVisibilityInput(*in.Visibility); err != nil {
			return nil, err
		}
	}
	if err := validatePost(content, images, visibility); err != nil {
		return nil, err
	}

	post.Content, post.Images, post.Visibility = content, images, visibility
	post.Edited = true
	post.UpdatedAt = ps.Now()
	err = ps.db.Write(ctx).Model(post).
		Select("content", "images", "visibility", "edited", "updated_at").
		Updates(post).Error
	if err != nil {
		return nil, fmt.Errorf("failed to update post %d: %w", postID, err)
	}

	if visibility.Widens(old) {
		l := logging.Ctx(ctx)
		l.Info().Int64(logging.FieldPostID, post.ID).Str("from", string(old)).Str("to", string(visibility)).
			Msg("visibility widened, fanning out again")
		ps.tasks.Submit(ctx, NewFanoutTask(post.ID))
	}
	return post, nil
}

// DeletePost soft-deletes an own post and removes its likes and comments.
func (ps *PostService) DeletePost(ctx context.Context, userID, postID int64) error {
	post, err := ps.loadPost(ctx, postID)
	if err != nil {
		return err
	}
	if post.UserID != userID {
		return ErrNotPostOwner
	}
	err = ps.db.Write(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("post_id = ?", postID).Delete(&models.Like{}).Error; err != nil {
			return err
		}
		if err := tx.Where("post_id = ?", postID).Delete(&models.Comment{}).Error; err != nil {
			return err
		}
		return tx.Delete(post).Error
	})
	if err != nil {
		return fmt.Errorf("failed to delete post %d: %w", postID, err)
	}
	return nil
}

package services

import (
	"context"
	"fmt"

	"socialfeed/db"
	"socialfeed/models"

	"gorm.io/gorm"
)

// RelationshipIndex answers follow-edge questions from the durable store.
type RelationshipIndex struct {
	db      *db.Manager
	primary bool
}

func NewRelationshipIndex(m *db.Manager) *RelationshipIndex {
	return &RelationshipIndex{db: m}
}

// Primary returns an index that reads from the master. Background tasks use
// it: they run right after the write that scheduled them and must not see a
// lagging replica.
func (r *RelationshipIndex) Primary() *RelationshipIndex {
	return &RelationshipIndex{db: r.db, primary: true}
}

func (r *RelationshipIndex) conn(ctx context.Context) *gorm.DB {
	if r.primary {
		return r.db.Write(ctx)
	}
	return r.db.Read(ctx)
}

// IsFollowing reports whether a follows b.
func (r *RelationshipIndex) IsFollowing(ctx context.Context, a, b int64) (bool, error) {
	if a == b {
		return false, nil
	}
	var n int64
	err := r.conn(ctx).Model(&models.Follow{}).
		Where("follower_id = ? AND following_id = ?", a, b).
		Count(&n).Error
	if err != nil {
		return false, fmt.Errorf("check follow %d->%d: %w", a, b, err)
	}
	return n > 0, nil
}

// IsFollowed reports whether b follows a.
func (r *RelationshipIndex) IsFollowed(ctx context.Context, a, b int64) (bool, error) {
	return r.IsFollowing(ctx, b, a)
}

// Relation returns both direction flags between viewer and author.
func (r *RelationshipIndex) Relation(ctx context.Context, viewerID, authorID int64) (following, followed bool, err error) {
	if viewerID == authorID {
		return false, false, nil
	}
	if following, err = r.IsFollowing(ctx, viewerID, authorID); err != nil {
		return false, false, err
	}
	if followed, err = r.IsFollowing(ctx, authorID, viewerID); err != nil {
		return false, false, err
	}
	return following, followed, nil
}

func (r *RelationshipIndex) FollowerIDs(ctx context.Context, userID int64) ([]int64, error) {
	var ids []int64
	err := r.conn(ctx).Model(&models.Follow{}).
		Where("following_id = ?", userID).
		Order("id").
		Pluck("follower_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("follower ids of %d: %w", userID, err)
	}
	return ids, nil
}

func (r *RelationshipIndex) FollowingIDs(ctx context.Context, userID int64) ([]int64, error) {
	var ids []int64
	err := r.conn(ctx).Model(&models.Follow{}).
		Where("follower_id = ?", userID).
		Order("id").
		Pluck("following_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("following ids of %d: %w", userID, err)
	}
	return ids, nil
}

// MutualFriendIDs returns users x such that userID follows x and x follows userID.
func (r *RelationshipIndex) MutualFriendIDs(ctx context.Context, userID int64) ([]int64, error) {
	var ids []int64
	err := r.conn(ctx).Table("follows f1").
		Joins("JOIN follows f2 ON f2.follower_id = f1.following_id AND f2.following_id = f1.follower_id").
		Where("f1.follower_id = ?", userID).
		Order("f1.id").
		Pluck("f1.following_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("mutual friends of %d: %w", userID, err)
	}
	return ids, nil
}

func (r *RelationshipIndex) FriendCount(ctx context.Context, userID int64) (int64, error) {
	var n int64
	err := r.conn(ctx).Table("follows f1").
		Joins("JOIN follows f2 ON f2.follower_id = f1.following_id AND f2.following_id = f1.follower_id").
		Where("f1.follower_id = ?", userID).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("friend count of %d: %w", userID, err)
	}
	return n, nil
}

// FollowingSet returns which of authorIDs the viewer follows.
func (r *RelationshipIndex) FollowingSet(ctx context.Context, viewerID int64, authorIDs []int64) (map[int64]bool, error) {
	set := make(map[int64]bool, len(authorIDs))
	if len(authorIDs) == 0 {
		return set, nil
	}
	var ids []int64
	err := r.conn(ctx).Model(&models.Follow{}).
		Where("follower_id = ? AND following_id IN ?", viewerID, authorIDs).
		Pluck("following_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("batch following for %d: %w", viewerID, err)
	}
	for _, id := range ids {
		set[id] = true
	}
	return set, nil
}

// FollowedBySet returns which of authorIDs follow the viewer.
func (r *RelationshipIndex) FollowedBySet(ctx context.Context, viewerID int64, authorIDs []int64) (map[int64]bool, error) {
	set := make(map[int64]bool, len(authorIDs))
	if len(authorIDs) == 0 {
		return set, nil
	}
	var ids []int64
	err := r.conn(ctx).Model(&models.Follow{}).
		Where("following_id = ? AND follower_id IN ?", viewerID, authorIDs).
		Pluck("follower_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("batch followed-by for %d: %w", viewerID, err)
	}
	for _, id := range ids {
		set[id] = true
	}
	return set, nil
}

// LikedSet returns which of postIDs the viewer has liked.
func (r *RelationshipIndex) LikedSet(ctx context.Context, viewerID int64, postIDs []int64) (map[int64]bool, error) {
	set := make(map[int64]bool, len(postIDs))
	if len(postIDs) == 0 {
		return set, nil
	}
	var ids []int64
	err := r.conn(ctx).Model(&models.Like{}).
		Where("user_id = ? AND post_id IN ?", viewerID, postIDs).
		Pluck("post_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("batch likes for %d: %w", viewerID, err)
	}
	for _, id := range ids {
		set[id] = true
	}
	return set, nil
}

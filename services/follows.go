package services

import (
	"context"
	"errors"
	"fmt"

	"socialfeed/db"
	"socialfeed/models"

	"gorm.io/gorm"
)

type FollowService struct {
	db     *db.Manager
	rel    *RelationshipIndex
	tasks  Submitter
	events emitter
	conf   pageConf
}

// pageConf bounds list endpoints outside the feed.
type pageConf struct {
	def, max int
}

func (c pageConf) size(n int) int {
	if n <= 0 {
		return c.def
	}
	if n > c.max {
		return c.max
	}
	return n
}

func NewFollowService(m *db.Manager, rel *RelationshipIndex, tasks Submitter, defaultPage, maxPage int) *FollowService {
	return &FollowService{
		db:     m,
		rel:    rel,
		tasks:  tasks,
		events: emitter{tasks: tasks},
		conf:   pageConf{def: defaultPage, max: maxPage},
	}
}

func counterInc(column string) interface{} {
	return gorm.Expr(column+" + ?", 1)
}

func counterDec(column string) interface{} {
	return gorm.Expr("CASE WHEN " + column + " > 0 THEN " + column + " - 1 ELSE 0 END")
}

func (fs *FollowService) userExists(ctx context.Context, userID int64) error {
	var n int64
	if err := fs.db.Read(ctx).Model(&models.User{}).Where("id = ?", userID).Count(&n).Error; err != nil {
		return fmt.Errorf("check user %d: %w", userID, err)
	}
	if n == 0 {
		return ErrUserNotFound
	}
	return nil
}

// Follow creates the edge, bumps both counters, then warms up the follower's
// timeline and emits a FOLLOW event.
func (fs *FollowService) Follow(ctx context.Context, followerID, followingID int64) error {
	if followerID == followingID {
		return ErrFollowSelf
	}
	if err := fs.userExists(ctx, followingID); err != nil {
		return err
	}
	already, err := fs.rel.IsFollowing(ctx, followerID, followingID)
	if err != nil {
		return err
	}
	if already {
		return ErrAlreadyFollowing
	}

	err = fs.db.Write(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&models.Follow{FollowerID: followerID, FollowingID: followingID}).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.User{}).Where("id = ?", followerID).
			UpdateColumn("following_count", counterInc("following_count")).Error; err != nil {
			return err
		}
		return tx.Model(&models.User{}).Where("id = ?", followingID).
			UpdateColumn("follower_count", counterInc("follower_count")).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrAlreadyFollowing
		}
		return fmt.Errorf("failed to follow %d->%d: %w", followerID, followingID, err)
	}

	fs.tasks.Submit(ctx, NewWarmUpTask(followerID, followingID))
	fs.events.emit(ctx, Event{Kind: EventFollow, Follow: &FollowEvent{FollowerID: followerID, FollowingID: followingID}})
	return nil
}

// Unfollow removes the edge. Entries already in the timeline stay and are
// hidden by the read-time check.
func (fs *FollowService) Unfollow(ctx context.Context, followerID, followingID int64) error {
	if followerID == followingID {
		return ErrFollowSelf
	}
	err := fs.db.Write(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("follower_id = ? AND following_id = ?", followerID, followingID).Delete(&models.Follow{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFollowing
		}
		if err := tx.Model(&models.User{}).Where("id = ?", followerID).
			UpdateColumn("following_count", counterDec("following_count")).Error; err != nil {
			return err
		}
		return tx.Model(&models.User{}).Where("id = ?", followingID).
			UpdateColumn("follower_count", counterDec("follower_count")).Error
	})
	if err != nil {
		if errors.Is(err, ErrNotFollowing) {
			return ErrNotFollowing
		}
		return fmt.Errorf("failed to unfollow %d->%d: %w", followerID, followingID, err)
	}
	return nil
}

// UserPage - страница пользователей. LastID is the follow edge id to pass back.
type UserPage struct {
	Users   []models.User `json:"users"`
	HasMore bool          `json:"has_more"`
	LastID  int64         `json:"last_id,omitempty"`
}

type followRow struct {
	EdgeID int64
	UserID int64
}

func (fs *FollowService) listEdges(ctx context.Context, userID int64, followers bool, lastID int64, size int) (*UserPage, error) {
	if err := fs.userExists(ctx, userID); err != nil {
		return nil, err
	}
	size = fs.conf.size(size)
	where, other := "following_id = ?", "follower_id"
	if !followers {
		where, other = "follower_id = ?", "following_id"
	}
	q := fs.db.Read(ctx).Model(&models.Follow{}).Select("id AS edge_id, " + other + " AS user_id").Where(where, userID)
	if lastID > 0 {
		q = q.Where("id < ?", lastID)
	}
	var rows []followRow
	if err := q.Order("id DESC").Limit(size + 1).Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("list follows of %d: %w", userID, err)
	}

	page := &UserPage{Users: []models.User{}}
	if len(rows) > size {
		page.HasMore = true
		rows = rows[:size]
	}
	if len(rows) == 0 {
		return page, nil
	}
	ids := make([]int64, len(rows))
	for i, r := range rows {
		ids[i] = r.UserID
	}
	users, err := fs.usersByID(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		if u, ok := users[r.UserID]; ok {
			page.Users = append(page.Users, u)
		}
	}
	page.LastID = rows[len(rows)-1].EdgeID
	return page, nil
}

func (fs *FollowService) usersByID(ctx context.Context, ids []int64) (map[int64]models.User, error) {
	var users []models.User
	if err := fs.db.Read(ctx).Where("id IN ?", ids).Find(&users).Error; err != nil {
		return nil, fmt.Errorf("load users: %w", err)
	}
	out := make(map[int64]models.User, len(users))
	for _, u := range users {
		out[u.ID] = u
	}
	return out, nil
}

func (fs *FollowService) Followers(ctx context.Context, userID, lastID int64, size int) (*UserPage, error) {
	return fs.listEdges(ctx, userID, true, lastID, size)
}

func (fs *FollowService) Followings(ctx context.Context, userID, lastID int64, size int) (*UserPage, error) {
	return fs.listEdges(ctx, userID, false, lastID, size)
}

// Friends lists every mutual follower of userID.
func (fs *FollowService) Friends(ctx context.Context, userID int64) ([]models.User, error) {
	if err := fs.userExists(ctx, userID); err != nil {
		return nil, err
	}
	ids, err := fs.rel.MutualFriendIDs(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]models.User, 0, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	users, err := fs.usersByID(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		if u, ok := users[id]; ok {
			out = append(out, u)
		}
	}
	return out, nil
}

package models

import "time"

// Follow - направленное ребро подписки: FollowerID подписан на FollowingID.
// Two opposite edges make the pair friends.
type Follow struct {
	ID          int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	FollowerID  int64     `gorm:"not null;uniqueIndex:ux_follow_pair,priority:1" json:"follower_id"`
	FollowingID int64     `gorm:"not null;uniqueIndex:ux_follow_pair,priority:2;index" json:"following_id"`
	CreatedAt   time.Time `json:"created_at"`
}

func (Follow) TableName() string {
	return "follows"
}

package models

import (
	"time"
)

type User struct {
	ID             int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Username       string    `gorm:"size:32;uniqueIndex;not null" json:"username"`
	Email          string    `gorm:"size:255;uniqueIndex;not null" json:"email"`
	Password       string    `gorm:"size:255" json:"-"`
	Nickname       string    `gorm:"size:60" json:"nickname"`
	Avatar         string    `gorm:"size:512" json:"avatar,omitempty"`
	Bio            string    `gorm:"size:255" json:"bio,omitempty"`
	FollowerCount  int64     `gorm:"not null;default:0" json:"follower_count"`
	FollowingCount int64     `gorm:"not null;default:0" json:"following_count"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (User) TableName() string {
	return "users"
}

// UserProfile - пользователь глазами конкретного зрителя.
type UserProfile struct {
	User
	PostCount   int64 `json:"post_count"`
	FriendCount int64 `json:"friend_count"`
	Following   bool  `json:"following"`
	Followed    bool  `json:"followed"`
}

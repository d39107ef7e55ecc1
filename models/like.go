package models

import "time"

type Like struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    int64     `gorm:"not null;uniqueIndex:ux_like_user_post,priority:1" json:"user_id"`
	PostID    int64     `gorm:"not null;uniqueIndex:ux_like_user_post,priority:2;index" json:"post_id"`
	CreatedAt time.Time `json:"created_at"`
}

func (Like) TableName() string {
	return "likes"
}

// Score is the liked-timeline score: like time in milliseconds.
func (l *Like) Score() int64 {
	return l.CreatedAt.UnixMilli()
}

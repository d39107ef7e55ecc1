package models

import (
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
)

// Visibility is the audience level of a post. Declaration order goes from the
// widest audience to the narrowest.
type Visibility string

const (
	VisibilityPublic    Visibility = "PUBLIC"
	VisibilityFollowers Visibility = "FOLLOWERS"
	VisibilityFriends   Visibility = "FRIENDS"
	VisibilityPrivate   Visibility = "PRIVATE"
)

// AllVisibilities lists every level, widest first.
var AllVisibilities = []Visibility{VisibilityPublic, VisibilityFollowers, VisibilityFriends, VisibilityPrivate}

// Rank is 0 for PUBLIC and grows as the audience narrows. Unknown values rank
// after PRIVATE.
func (v Visibility) Rank() int {
	for i, known := range AllVisibilities {
		if v == known {
			return i
		}
	}
	return len(AllVisibilities)
}

func (v Visibility) Valid() bool {
	return v.Rank() < len(AllVisibilities)
}

// Widens reports whether switching from old to v strictly enlarges the audience.
func (v Visibility) Widens(old Visibility) bool {
	return v.Valid() && v.Rank() < old.Rank()
}

func ParseVisibility(s string) (Visibility, error) {
	v := Visibility(strings.ToUpper(strings.TrimSpace(s)))
	if !v.Valid() {
		return "", fmt.Errorf("unknown visibility %q", s)
	}
	return v, nil
}

const MaxPostImages = 9

// Post - пост пользователя. Soft-deleted rows keep their id, which the
// timeline store may still reference.
type Post struct {
	ID           int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID       int64          `gorm:"index;not null" json:"user_id"`
	Content      string         `gorm:"type:text" json:"content"`
	Images       StringList     `gorm:"type:text" json:"images"`
	Visibility   Visibility     `gorm:"size:16;not null;index" json:"visibility"`
	LikeCount    int64          `gorm:"not null;default:0" json:"like_count"`
	CommentCount int64          `gorm:"not null;default:0" json:"comment_count"`
	Edited       bool           `gorm:"not null;default:false" json:"is_edited"`
	CreatedAt    time.Time      `gorm:"index" json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	DeletedAt    gorm.DeletedAt `gorm:"index" json:"-"`
}

func (Post) TableName() string {
	return "posts"
}

// Score is the timeline score of the post: creation time in milliseconds.
func (p *Post) Score() int64 {
	return p.CreatedAt.UnixMilli()
}

// FeedPost - пост в ленте вместе с отношением зрителя к посту и автору.
type FeedPost struct {
	Post
	Liked     bool `json:"liked"`
	Following bool `json:"following"`
	Followed  bool `json:"followed"`
}

// FeedResponse - страница ленты. NextCursor is a millisecond timestamp for
// timeline-backed feeds, LastID a post id for id-ordered feeds.
type FeedResponse struct {
	Posts      []FeedPost `json:"posts"`
	HasMore    bool       `json:"has_more"`
	NextCursor int64      `json:"next_cursor,omitempty"`
	LastID     int64      `json:"last_id,omitempty"`
}

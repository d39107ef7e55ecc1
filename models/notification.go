package models

import (
	"fmt"
	"strings"
	"time"
)

type NotificationType string

const (
	NotificationFollow  NotificationType = "FOLLOW"
	NotificationLike    NotificationType = "LIKE"
	NotificationComment NotificationType = "COMMENT"
)

func ParseNotificationType(s string) (NotificationType, error) {
	t := NotificationType(strings.ToUpper(strings.TrimSpace(s)))
	switch t {
	case NotificationFollow, NotificationLike, NotificationComment:
		return t, nil
	}
	return "", fmt.Errorf("unknown notification type %q", s)
}

type Notification struct {
	ID        int64            `gorm:"primaryKey;autoIncrement" json:"id"`
	ActorID   int64            `gorm:"not null" json:"actor_id"`
	TargetID  int64            `gorm:"not null;index:idx_notification_target,priority:1" json:"target_id"`
	Type      NotificationType `gorm:"size:16;not null;index:idx_notification_target,priority:2" json:"type"`
	PostID    *int64           `json:"post_id,omitempty"`
	Content   string           `gorm:"type:text" json:"content,omitempty"`
	Read      bool             `gorm:"not null;default:false" json:"read"`
	CreatedAt time.Time        `json:"created_at"`
}

func (Notification) TableName() string {
	return "notifications"
}

// UnreadCounts - непрочитанные уведомления по типам.
type UnreadCounts struct {
	Follow  int64 `json:"follow"`
	Like    int64 `json:"like"`
	Comment int64 `json:"comment"`
}

package services

import (
	"context"
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"socialfeed/db"
	"socialfeed/logging"
	"socialfeed/models"
)

const pushPreviewLen = 100

// NotificationService turns domain events into stored notifications and
// pushes them to the target's open connections.
type NotificationService struct {
	db   *db.Manager
	ws   *WSConnManager
	conf pageConf
}

var _ EventHandler = (*NotificationService)(nil)

func NewNotificationService(m *db.Manager, ws *WSConnManager, defaultPage, maxPage int) *NotificationService {
	return &NotificationService{db: m, ws: ws, conf: pageConf{def: defaultPage, max: maxPage}}
}

// pushMessage - формат уведомления в WebSocket.
type pushMessage struct {
	Event        string              `json:"event"`
	Notification models.Notification `json:"notification"`
}

// Handle is the single dispatch point over event kinds.
func (ns *NotificationService) Handle(ctx context.Context, event Event) error {
	if err := event.Validate(); err != nil {
		return err
	}
	n := models.Notification{CreatedAt: event.OccurredAt}
	switch event.Kind {
	case EventFollow:
		n.Type = models.NotificationFollow
		n.ActorID = event.Follow.FollowerID
		n.TargetID = event.Follow.FollowingID
	case EventLike:
		n.Type = models.NotificationLike
		n.ActorID = event.Like.UserID
		n.TargetID = event.Like.AuthorID
		postID := event.Like.PostID
		n.PostID = &postID
	case EventComment:
		n.Type = models.NotificationComment
		n.ActorID = event.Comment.UserID
		n.TargetID = event.Comment.AuthorID
		postID := event.Comment.PostID
		n.PostID = &postID
		n.Content = event.Comment.Content
	}
	if n.ActorID == n.TargetID {
		return nil
	}

	if err := ns.db.Write(ctx).Create(&n).Error; err != nil {
		return fmt.Errorf("store notification: %w", err)
	}
	ns.push(ctx, n)
	return nil
}

func (ns *NotificationService) push(ctx context.Context, n models.Notification) {
	if utf8.RuneCountInString(n.Content) > pushPreviewLen {
		n.Content = string([]rune(n.Content)[:pushPreviewLen]) + "..."
	}
	data, err := json.Marshal(pushMessage{Event: "notification", Notification: n})
	if err != nil {
		l := logging.Ctx(ctx)
		l.Error().Err(err).Msg("failed to marshal push message")
		return
	}
	ns.ws.Send(n.TargetID, data)
}

type NotificationPage struct {
	Notifications []models.Notification `json:"notifications"`
	HasMore       bool                  `json:"has_more"`
	LastID        int64                 `json:"last_id,omitempty"`
}

func (ns *NotificationService) List(ctx context.Context, userID int64, typ string, lastID int64, size int) (*NotificationPage, error) {
	t, err := models.ParseNotificationType(typ)
	if err != nil {
		return nil, ErrInvalidNotificationType
	}
	size = ns.conf.size(size)
	q := ns.db.Read(ctx).Where("target_id = ? AND type = ?", userID, t)
	if lastID > 0 {
		q = q.Where("id < ?", lastID)
	}
	var items []models.Notification
	if err := q.Order("id DESC").Limit(size + 1).Find(&items).Error; err != nil {
		return nil, fmt.Errorf("list notifications of %d: %w", userID, err)
	}
	page := &NotificationPage{Notifications: []models.Notification{}}
	if len(items) > size {
		page.HasMore = true
		items = items[:size]
	}
	page.Notifications = append(page.Notifications, items...)
	if len(items) > 0 {
		page.LastID = items[len(items)-1].ID
	}
	return page, nil
}

func (ns *NotificationService) UnreadCounts(ctx context.Context, userID int64) (*models.UnreadCounts, error) {
	var rows []struct {
		Type  models.NotificationType
		Count int64
	}
	err := ns.db.Read(ctx).Model(&models.Notification{}).
		Select("type, COUNT(*) AS count").
		Where("target_id = ? AND read = ?", userID, false).
		Group("type").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("unread counts of %d: %w", userID, err)
	}
	counts := &models.UnreadCounts{}
	for _, r := range rows {
		switch r.Type {
		case models.NotificationFollow:
			counts.Follow = r.Count
		case models.NotificationLike:
			counts.Like = r.Count
		case models.NotificationComment:
			counts.Comment = r.Count
		}
	}
	return counts, nil
}

// MarkRead marks every unread notification of the given type as read.
func (ns *NotificationService) MarkRead(ctx context.Context, userID int64, typ string) (int64, error) {
	t, err := models.ParseNotificationType(typ)
	if err != nil {
		return 0, ErrInvalidNotificationType
	}
	res := ns.db.Write(ctx).Model(&models.Notification{}).
		Where("target_id = ? AND type = ? AND read = ?", userID, t, false).
		Update("read", true)
	if res.Error != nil {
		return 0, fmt.Errorf("mark read for %d: %w", userID, res.Error)
	}
	return res.RowsAffected, nil
}

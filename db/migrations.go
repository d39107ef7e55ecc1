package db

import (
	"fmt"

	"gorm.io/gorm"
)

// Indexes that back the cursor queries of the feed: author posts by id, follow
// edges by both endpoints and comments by post.
var feedIndexes = []struct {
	name  string
	table string
	cols  string
}{
	{"idx_posts_user_id_id", "posts", "user_id, id"},
	{"idx_follows_following_id_id", "follows", "following_id, id"},
	{"idx_follows_follower_id_id", "follows", "follower_id, id"},
	{"idx_comments_post_id_id", "comments", "post_id, id"},
	{"idx_notifications_target_type_id", "notifications", "target_id, type, id"},
}

// EnsureIndexes creates the composite indexes AutoMigrate cannot express.
func EnsureIndexes(db *gorm.DB) error {
	for _, idx := range feedIndexes {
		sql := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)", idx.name, idx.table, idx.cols)
		if err := db.Exec(sql).Error; err != nil {
			return fmt.Errorf("failed to create index %s: %w", idx.name, err)
		}
	}
	return nil
}

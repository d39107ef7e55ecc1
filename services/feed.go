package services

import (
	"context"
	"fmt"
	"time"

	"socialfeed/config"
	"socialfeed/db"
	"socialfeed/logging"
	"socialfeed/models"

	"gorm.io/gorm"
)

// FeedService assembles feed pages for a viewer.
type FeedService struct {
	db       *db.Manager
	rel      *RelationshipIndex
	timeline TimelineStore
	sampler  *Sampler
	conf     config.FeedConfig
	metrics  *Metrics
}

func NewFeedService(m *db.Manager, rel *RelationshipIndex, timeline TimelineStore, sampler *Sampler, conf config.FeedConfig, metrics *Metrics) *FeedService {
	return &FeedService{db: m, rel: rel, timeline: timeline, sampler: sampler, conf: conf, metrics: metrics}
}

func (s *FeedService) pageSize(size int) int {
	if size <= 0 {
		return s.conf.DefaultPageSize
	}
	if size > s.conf.MaxPageSize {
		return s.conf.MaxPageSize
	}
	return size
}

func (s *FeedService) observe(mode string, start time.Time) {
	s.metrics.feedDuration.WithLabelValues(mode).Observe(time.Since(start).Seconds())
}

// relations - отношения зрителя к авторам и постам одной страницы.
type relations struct {
	viewerID  int64
	following map[int64]bool
	followed  map[int64]bool
	liked     map[int64]bool
}

func (s *FeedService) loadRelations(ctx context.Context, viewerID int64, posts []models.Post) (*relations, error) {
	authors := make([]int64, 0, len(posts))
	postIDs := make([]int64, 0, len(posts))
	seen := make(map[int64]bool)
	for i := range posts {
		postIDs = append(postIDs, posts[i].ID)
		if a := posts[i].UserID; !seen[a] && a != viewerID {
			seen[a] = true
			authors = append(authors, a)
		}
	}
	var (
		r   = relations{viewerID: viewerID}
		err error
	)
	if r.following, err = s.rel.FollowingSet(ctx, viewerID, authors); err != nil {
		return nil, err
	}
	if r.followed, err = s.rel.FollowedBySet(ctx, viewerID, authors); err != nil {
		return nil, err
	}
	if r.liked, err = s.rel.LikedSet(ctx, viewerID, postIDs); err != nil {
		return nil, err
	}
	return &r, nil
}

func (r *relations) visible(viewerID int64, p *models.Post) bool {
	return IsVisible(p.Visibility, p.UserID == viewerID, r.following[p.UserID], r.followed[p.UserID])
}

// decorate fills the viewer flags. Own posts count as both following and
// followed.
func (r *relations) decorate(p models.Post) models.FeedPost {
	self := p.UserID == r.viewerID
	return models.FeedPost{
		Post:      p,
		Liked:     r.liked[p.ID],
		Following: self || r.following[p.UserID],
		Followed:  self || r.followed[p.UserID],
	}
}

func (s *FeedService) loadPosts(ctx context.Context, ids []int64) (map[int64]models.Post, error) {
	out := make(map[int64]models.Post, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var posts []models.Post
	if err := s.db.Read(ctx).Where("id IN ?", ids).Find(&posts).Error; err != nil {
		return nil, fmt.Errorf("batch load posts: %w", err)
	}
	for _, p := range posts {
		out[p.ID] = p
	}
	return out, nil
}

// GetNewestFeed returns the viewer's home timeline page older than cursor
// (milliseconds, 0 for newest).
func (s *FeedService) GetNewestFeed(ctx context.Context, viewerID, cursor int64, size int) (*models.FeedResponse, error) {
	defer s.observe("home", time.Now())
	return s.timelineFeed(ctx, "home", TimelineHome, viewerID, viewerID, cursor, s.pageSize(size))
}

// GetLikedPosts returns the posts ownerID liked, newest like first, as seen by
// viewerID.
func (s *FeedService) GetLikedPosts(ctx context.Context, ownerID, viewerID, cursor int64, size int) (*models.FeedResponse, error) {
	defer s.observe("liked", time.Now())
	return s.timelineFeed(ctx, "liked", TimelineLiked, ownerID, viewerID, cursor, s.pageSize(size))
}

// timelineFeed pulls batches older than the cursor until size posts survive
// the live checks or the timeline runs out. The cursor advances over every
// examined entry, including stale ones.
func (s *FeedService) timelineFeed(ctx context.Context, mode string, kind TimelineKind, ownerID, viewerID, cursor int64, size int) (*models.FeedResponse, error) {
	if cursor <= 0 {
		cursor = NoCursor
	}
	resp := &models.FeedResponse{Posts: make([]models.FeedPost, 0, size)}
	exhausted := false

	for len(resp.Posts) < size {
		entries, err := s.timeline.RangeBefore(ctx, kind, ownerID, cursor, size)
		if err != nil {
			l := logging.Ctx(ctx)
			l.Warn().Err(err).Str("mode", mode).Int64(logging.FieldUserID, ownerID).Msg("timeline unavailable, returning partial feed")
			exhausted = true
			break
		}
		if len(entries) == 0 {
			exhausted = true
			break
		}

		ids := make([]int64, len(entries))
		for i, e := range entries {
			ids[i] = e.PostID
		}
		byID, err := s.loadPosts(ctx, ids)
		if err != nil {
			return nil, err
		}
		batch := make([]models.Post, 0, len(byID))
		for _, p := range byID {
			batch = append(batch, p)
		}
		rel, err := s.loadRelations(ctx, viewerID, batch)
		if err != nil {
			return nil, err
		}
		stillLiked := map[int64]bool(nil)
		if kind == TimelineLiked {
			if stillLiked, err = s.rel.LikedSet(ctx, ownerID, ids); err != nil {
				return nil, err
			}
		}

		for _, e := range entries {
			if len(resp.Posts) >= size {
				break
			}
			cursor = e.Score
			p, ok := byID[e.PostID]
			if !ok {
				s.metrics.staleSkipped.WithLabelValues(mode, "missing").Inc()
				continue
			}
			if stillLiked != nil && !stillLiked[p.ID] {
				s.metrics.staleSkipped.WithLabelValues(mode, "unliked").Inc()
				continue
			}
			if !rel.visible(viewerID, &p) {
				s.metrics.staleSkipped.WithLabelValues(mode, "hidden").Inc()
				continue
			}
			resp.Posts = append(resp.Posts, rel.decorate(p))
		}
		if len(entries) < size && len(resp.Posts) < size {
			exhausted = true
			break
		}
	}

	resp.HasMore = !exhausted
	if len(resp.Posts) > 0 || !exhausted {
		resp.NextCursor = cursor
	}
	return resp, nil
}

// GetFriendPosts lists posts of mutual friends by id, newest first.
func (s *FeedService) GetFriendPosts(ctx context.Context, viewerID, lastID int64, size int) (*models.FeedResponse, error) {
	defer s.observe("friends", time.Now())
	size = s.pageSize(size)

	friends, err := s.rel.MutualFriendIDs(ctx, viewerID)
	if err != nil {
		return nil, err
	}
	if len(friends) == 0 {
		return &models.FeedResponse{Posts: []models.FeedPost{}}, nil
	}
	allowed := AllowedVisibilities(false, true, true)
	q := s.db.Read(ctx).Where("user_id IN ? AND visibility IN ?", friends, allowed)
	return s.idPage(ctx, q, viewerID, lastID, size)
}

// GetAllPosts lists the posts of ownerID the viewer may see, newest first.
func (s *FeedService) GetAllPosts(ctx context.Context, ownerID, viewerID, lastID int64, size int) (*models.FeedResponse, error) {
	defer s.observe("profile", time.Now())
	size = s.pageSize(size)

	var n int64
	if err := s.db.Read(ctx).Model(&models.User{}).Where("id = ?", ownerID).Count(&n).Error; err != nil {
		return nil, fmt.Errorf("check user %d: %w", ownerID, err)
	}
	if n == 0 {
		return nil, ErrUserNotFound
	}
	following, followed, err := s.rel.Relation(ctx, viewerID, ownerID)
	if err != nil {
		return nil, err
	}
	allowed := AllowedVisibilities(viewerID == ownerID, following, followed)
	q := s.db.Read(ctx).Where("user_id = ? AND visibility IN ?", ownerID, allowed)
	return s.idPage(ctx, q, viewerID, lastID, size)
}

// idPage runs an id-descending cursor query and decorates the result.
func (s *FeedService) idPage(ctx context.Context, q *gorm.DB, viewerID, lastID int64, size int) (*models.FeedResponse, error) {
	if lastID > 0 {
		q = q.Where("id < ?", lastID)
	}
	var posts []models.Post
	if err := q.Order("id DESC").Limit(size + 1).Find(&posts).Error; err != nil {
		return nil, fmt.Errorf("query posts: %w", err)
	}
	resp := &models.FeedResponse{Posts: make([]models.FeedPost, 0, size)}
	if len(posts) > size {
		resp.HasMore = true
		posts = posts[:size]
	}
	rel, err := s.loadRelations(ctx, viewerID, posts)
	if err != nil {
		return nil, err
	}
	for _, p := range posts {
		resp.Posts = append(resp.Posts, rel.decorate(p))
	}
	if len(posts) > 0 {
		resp.LastID = posts[len(posts)-1].ID
	}
	return resp, nil
}

// GetFollowingPosts builds the discovery page: a random oversample of the
// viewer's home timeline, without the viewer's own posts, reduced so that no
// author dominates.
func (s *FeedService) GetFollowingPosts(ctx context.Context, viewerID int64, size int) (*models.FeedResponse, error) {
	defer s.observe("discovery", time.Now())
	if size <= 0 {
		size = s.conf.DiscoverySize
	}
	size = min(size, s.conf.MaxPageSize)
	resp := &models.FeedResponse{Posts: []models.FeedPost{}}

	sampled, err := s.timeline.SampleRandom(ctx, TimelineHome, viewerID, size*s.conf.Oversample)
	if err != nil {
		l := logging.Ctx(ctx)
		l.Warn().Err(err).Int64(logging.FieldUserID, viewerID).Msg("timeline unavailable, empty discovery feed")
		return resp, nil
	}
	ids := make([]int64, 0, len(sampled))
	seen := make(map[int64]bool, len(sampled))
	for _, id := range sampled {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	byID, err := s.loadPosts(ctx, ids)
	if err != nil {
		return nil, err
	}
	candidates := make([]models.Post, 0, len(byID))
	for _, id := range ids {
		if p, ok := byID[id]; ok && p.UserID != viewerID {
			candidates = append(candidates, p)
		}
	}
	rel, err := s.loadRelations(ctx, viewerID, candidates)
	if err != nil {
		return nil, err
	}
	visible := make([]models.FeedPost, 0, len(candidates))
	for i := range candidates {
		if rel.visible(viewerID, &candidates[i]) {
			visible = append(visible, rel.decorate(candidates[i]))
		}
	}
	resp.Posts = Select(s.sampler, visible, func(p models.FeedPost) int64 { return p.UserID }, SamplerParams{
		Target:              size,
		GuaranteedPerAuthor: s.conf.GuaranteedPerAuthor,
		ExtraProbability:    s.conf.ExtraProbability,
		DecayFactor:         s.conf.DecayFactor,
	})
	return resp, nil
}

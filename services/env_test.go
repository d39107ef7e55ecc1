package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"socialfeed/config"
	"socialfeed/db"
	"socialfeed/models"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

// Now advances one second per call so every post gets a distinct score.
func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

// recordingPublisher fails the first fails calls, then every call while err
// is set.
type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
	err    error
	fails  int
	calls  int
}

func (p *recordingPublisher) Publish(_ context.Context, e Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.fails > 0 {
		p.fails--
		return errTestBroker
	}
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func (p *recordingPublisher) kinds() []EventKind {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]EventKind, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Kind)
	}
	return out
}

type testEnv struct {
	ctx       context.Context
	db        *db.Manager
	conf      config.FeedConfig
	metrics   *Metrics
	timeline  *MemoryTimelineStore
	rel       *RelationshipIndex
	fanout    *FanoutEngine
	feed      *FeedService
	posts     *PostService
	follows   *FollowService
	likes     *LikeService
	comments  *CommentService
	users     *UserService
	ws        *WSConnManager
	notify    *NotificationService
	publisher *recordingPublisher
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	m, err := db.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })

	conf := config.Default().Feed
	metrics := NewMetrics(prometheus.NewRegistry())
	rnd := NewLockedRand(1)
	tl := NewMemoryTimelineStore(rnd)
	rel := NewRelationshipIndex(m)

	fan := NewFanoutEngine(m, rel, tl, conf, metrics)
	fan.NewBackOff = func() backoff.BackOff { return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 2) }
	pub := &recordingPublisher{}
	router := &TaskRouter{Fanout: fan, Publisher: pub, Metrics: metrics}
	tasks := InlineSubmitter{Handler: router, MaxAttempts: 3, Metrics: metrics}
	clock := &fakeClock{now: time.UnixMilli(1_700_000_000_000)}

	posts := NewPostService(m, rel, tasks)
	posts.Now = clock.Now
	ws := NewWSConnManager()
	return &testEnv{
		ctx:       context.Background(),
		db:        m,
		conf:      conf,
		metrics:   metrics,
		timeline:  tl,
		rel:       rel,
		fanout:    fan,
		feed:      NewFeedService(m, rel, tl, NewSampler(rnd), conf, metrics),
		posts:     posts,
		follows:   NewFollowService(m, rel, tasks, 10, 50),
		likes:     NewLikeService(m, posts, tasks),
		comments:  NewCommentService(m, posts, tasks, 10, 50),
		users:     NewUserService(m, rel),
		ws:        ws,
		notify:    NewNotificationService(m, ws, 10, 50),
		publisher: pub,
	}
}

func (e *testEnv) user(t *testing.T) *models.User {
	t.Helper()
	name := fmt.Sprintf("%s_%s", strings.ToLower(gofakeit.FirstName()), gofakeit.Numerify("######"))
	u, err := e.users.Register(e.ctx, RegisterInput{
		Username: name,
		Email:    name + "@example.com",
		Password: gofakeit.Password(true, false, true, true, false, 10),
	})
	require.NoError(t, err)
	return u
}

func (e *testEnv) post(t *testing.T, author *models.User, v models.Visibility) *models.Post {
	t.Helper()
	p, err := e.posts.CreatePost(e.ctx, author.ID, CreatePostInput{
		Content:    gofakeit.City() + " " + gofakeit.FirstName(),
		Visibility: string(v),
	})
	require.NoError(t, err)
	return p
}

func (e *testEnv) follow(t *testing.T, follower, following *models.User) {
	t.Helper()
	require.NoError(t, e.follows.Follow(e.ctx, follower.ID, following.ID))
}

func (e *testEnv) homeIDs(t *testing.T, viewer *models.User) []int64 {
	t.Helper()
	resp, err := e.feed.GetNewestFeed(e.ctx, viewer.ID, 0, e.conf.MaxPageSize)
	require.NoError(t, err)
	return feedIDs(resp)
}

func feedIDs(resp *models.FeedResponse) []int64 {
	ids := make([]int64, 0, len(resp.Posts))
	for _, p := range resp.Posts {
		ids = append(ids, p.ID)
	}
	return ids
}

func (e *testEnv) timelineIDs(t *testing.T, kind TimelineKind, owner int64) []int64 {
	t.Helper()
	entries, err := e.timeline.RangeBefore(e.ctx, kind, owner, NoCursor, 10_000)
	require.NoError(t, err)
	ids := make([]int64, 0, len(entries))
	for _, en := range entries {
		ids = append(ids, en.PostID)
	}
	return ids
}

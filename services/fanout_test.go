package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"socialfeed/config"
	"socialfeed/db"
	"socialfeed/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestAudienceByVisibility(t *testing.T) {
	e := newTestEnv(t)
	author, follower, friend := e.user(t), e.user(t), e.user(t)
	e.follow(t, follower, author)
	e.follow(t, friend, author)
	e.follow(t, author, friend)

	cases := map[models.Visibility][]int64{
		models.VisibilityPublic:    {author.ID, follower.ID, friend.ID},
		models.VisibilityFollowers: {author.ID, follower.ID, friend.ID},
		models.VisibilityFriends:   {author.ID, friend.ID},
		models.VisibilityPrivate:   {author.ID},
	}
	for v, want := range cases {
		got, err := e.fanout.Audience(e.ctx, &models.Post{UserID: author.ID, Visibility: v})
		require.NoError(t, err)
		require.Equal(t, author.ID, got[0], "author comes first")
		require.ElementsMatch(t, want, got, string(v))
	}
}

func TestCreatePostFansOutToFollowers(t *testing.T) {
	e := newTestEnv(t)
	author, follower, stranger := e.user(t), e.user(t), e.user(t)
	e.follow(t, follower, author)

	p := e.post(t, author, models.VisibilityFollowers)
	require.Contains(t, e.timelineIDs(t, TimelineHome, author.ID), p.ID)
	require.Contains(t, e.timelineIDs(t, TimelineHome, follower.ID), p.ID)
	require.Empty(t, e.timelineIDs(t, TimelineHome, stranger.ID))

	// Score is the creation time of the post.
	entries, err := e.timeline.RangeBefore(e.ctx, TimelineHome, follower.ID, NoCursor, 1)
	require.NoError(t, err)
	require.Equal(t, p.CreatedAt.UnixMilli(), entries[0].Score)
}

// flakyTimeline fails appends for chosen owners a number of times.
type flakyTimeline struct {
	TimelineStore
	mu       sync.Mutex
	failures map[int64]int
}

func (f *flakyTimeline) Append(ctx context.Context, kind TimelineKind, owner, postID, score int64) error {
	f.mu.Lock()
	if f.failures[owner] != 0 {
		if f.failures[owner] > 0 {
			f.failures[owner]--
		}
		f.mu.Unlock()
		return errors.New("connection refused")
	}
	f.mu.Unlock()
	return f.TimelineStore.Append(ctx, kind, owner, postID, score)
}

func TestDeliverRetriesTransientAppendFailures(t *testing.T) {
	e := newTestEnv(t)
	author, follower := e.user(t), e.user(t)
	e.follow(t, follower, author)
	flaky := &flakyTimeline{TimelineStore: e.timeline, failures: map[int64]int{follower.ID: 2}}
	e.fanout.timeline = flaky

	p := e.post(t, author, models.VisibilityPublic)
	require.Contains(t, e.timelineIDs(t, TimelineHome, follower.ID), p.ID)
}

func TestDeliverReportsPersistentlyFailingTargets(t *testing.T) {
	e := newTestEnv(t)
	author, ok, broken := e.user(t), e.user(t), e.user(t)
	e.follow(t, ok, author)
	e.follow(t, broken, author)
	e.fanout.timeline = &flakyTimeline{TimelineStore: e.timeline, failures: map[int64]int{broken.ID: -1}}

	var post models.Post
	require.NoError(t, e.db.Write(e.ctx).Create(&models.Post{UserID: author.ID, Content: "x", Visibility: models.VisibilityPublic}).Error)
	require.NoError(t, e.db.Read(e.ctx).Last(&post).Error)

	err := e.fanout.Deliver(e.ctx, &FanoutPayload{PostID: post.ID})
	var te *TargetsError
	require.ErrorAs(t, err, &te)
	require.Equal(t, []int64{broken.ID}, te.Failed)
	require.Contains(t, e.timelineIDs(t, TimelineHome, ok.ID), post.ID)

	next, retry := nextAttempt(NewFanoutTask(post.ID), err, 5)
	require.True(t, retry)
	require.Equal(t, []int64{broken.ID}, next.Fanout.Targets)
}

func TestDeliverSkipsDeletedPost(t *testing.T) {
	e := newTestEnv(t)
	author := e.user(t)
	require.NoError(t, e.fanout.Deliver(e.ctx, &FanoutPayload{PostID: 999}))
	require.Empty(t, e.timelineIDs(t, TimelineHome, author.ID))
}

func TestTimelineTrimmedOnFanout(t *testing.T) {
	e := newTestEnv(t)
	e.conf.TimelineMaxSize = 3
	e.fanout.conf.TimelineMaxSize = 3
	author := e.user(t)
	var last []int64
	for i := 0; i < 5; i++ {
		last = append(last, e.post(t, author, models.VisibilityPublic).ID)
	}
	require.Equal(t, []int64{last[4], last[3], last[2]}, e.timelineIDs(t, TimelineHome, author.ID))
}

func TestWarmUpRespectsRelationship(t *testing.T) {
	e := newTestEnv(t)
	a, b := e.user(t), e.user(t)
	pub := e.post(t, a, models.VisibilityPublic)
	fol := e.post(t, a, models.VisibilityFollowers)
	fri := e.post(t, a, models.VisibilityFriends)
	priv := e.post(t, a, models.VisibilityPrivate)

	e.follow(t, b, a)
	got := e.timelineIDs(t, TimelineHome, b.ID)
	require.ElementsMatch(t, []int64{pub.ID, fol.ID}, got)

	// Once a follows back, b's next warm-up would include FRIENDS posts.
	e.follow(t, a, b)
	require.NoError(t, e.timeline.Clear(e.ctx, TimelineHome, b.ID))
	require.NoError(t, e.fanout.WarmUp(e.ctx, b.ID, a.ID))
	got = e.timelineIDs(t, TimelineHome, b.ID)
	require.ElementsMatch(t, []int64{pub.ID, fol.ID, fri.ID}, got)
	require.NotContains(t, got, priv.ID)
}

func TestWarmUpBatchBounded(t *testing.T) {
	e := newTestEnv(t)
	a, b := e.user(t), e.user(t)
	var ids []int64
	for i := 0; i < e.conf.WarmUpBatch+5; i++ {
		ids = append(ids, e.post(t, a, models.VisibilityPublic).ID)
	}
	e.follow(t, b, a)
	got := e.timelineIDs(t, TimelineHome, b.ID)
	require.Len(t, got, e.conf.WarmUpBatch)
	require.Equal(t, ids[len(ids)-1], got[0])
}

func TestWarmUpAfterUnfollowIsNoop(t *testing.T) {
	e := newTestEnv(t)
	a, b := e.user(t), e.user(t)
	e.post(t, a, models.VisibilityPublic)
	require.NoError(t, e.fanout.WarmUp(e.ctx, b.ID, a.ID))
	require.Empty(t, e.timelineIDs(t, TimelineHome, b.ID))
}

func TestRebuildTimeline(t *testing.T) {
	e := newTestEnv(t)
	a, b, c := e.user(t), e.user(t), e.user(t)
	e.follow(t, b, a)
	e.follow(t, b, c)
	e.follow(t, c, b)
	own := e.post(t, b, models.VisibilityPrivate)
	aPub := e.post(t, a, models.VisibilityPublic)
	aFri := e.post(t, a, models.VisibilityFriends)
	cFri := e.post(t, c, models.VisibilityFriends)
	cPriv := e.post(t, c, models.VisibilityPrivate)

	require.NoError(t, e.timeline.Clear(e.ctx, TimelineHome, b.ID))
	n, err := e.fanout.RebuildTimeline(e.ctx, b.ID)
	require.NoError(t, err)
	require.Equal(t, 3, n)

	got := e.timelineIDs(t, TimelineHome, b.ID)
	require.Equal(t, []int64{cFri.ID, aPub.ID, own.ID}, got)
	require.NotContains(t, got, aFri.ID)
	require.NotContains(t, got, cPriv.ID)
}

func TestBackgroundTasksReadFromMaster(t *testing.T) {
	master, replica, err := db.OpenMemoryWithReplica()
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = master.Close()
		_ = replica.Close()
	})
	ctx := context.Background()
	tl := NewMemoryTimelineStore(NewLockedRand(1))
	fan := NewFanoutEngine(master, NewRelationshipIndex(master), tl, config.Default().Feed, NewMetrics(prometheus.NewRegistry()))

	author := models.User{Username: "author", Email: "author@example.com"}
	reader := models.User{Username: "reader", Email: "reader@example.com"}
	late := models.User{Username: "late", Email: "late@example.com"}
	for _, u := range []*models.User{&author, &reader, &late} {
		require.NoError(t, master.Write(ctx).Create(u).Error)
	}
	require.NoError(t, master.Write(ctx).Create(&models.Follow{FollowerID: reader.ID, FollowingID: author.ID}).Error)
	post := models.Post{UserID: author.ID, Content: "fresh", Visibility: models.VisibilityPublic, CreatedAt: time.UnixMilli(1_700_000_000_000)}
	require.NoError(t, master.Write(ctx).Create(&post).Error)

	// The replica knows nothing yet.
	var n int64
	require.NoError(t, master.Read(ctx).Model(&models.Post{}).Count(&n).Error)
	require.Zero(t, n)

	require.NoError(t, fan.Deliver(ctx, &FanoutPayload{PostID: post.ID}))
	for _, owner := range []int64{author.ID, reader.ID} {
		entries, err := tl.RangeBefore(ctx, TimelineHome, owner, NoCursor, 10)
		require.NoError(t, err)
		require.Len(t, entries, 1, "owner %d", owner)
		require.Equal(t, post.ID, entries[0].PostID)
	}

	require.NoError(t, master.Write(ctx).Create(&models.Follow{FollowerID: late.ID, FollowingID: author.ID}).Error)
	require.NoError(t, fan.WarmUp(ctx, late.ID, author.ID))
	entries, err := tl.RangeBefore(ctx, TimelineHome, late.ID, NoCursor, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, post.ID, entries[0].PostID)
}

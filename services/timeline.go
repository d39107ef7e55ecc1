package services

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"sync"

	"github.com/go-redis/redis/v8"
)

// TimelineKind selects one of the per-user sorted sets.
type TimelineKind string

const (
	TimelineHome  TimelineKind = "feed"
	TimelineLiked TimelineKind = "liked"
)

// NoCursor starts a timeline read from the newest entry.
const NoCursor int64 = math.MaxInt64

// TimelineEntry - ссылка на пост в ленте вместе с её score (мс).
type TimelineEntry struct {
	PostID int64
	Score  int64
}

// TimelineStore is a per-owner ordered set of post ids scored by time.
type TimelineStore interface {
	// Append is an idempotent upsert of postID at score.
	Append(ctx context.Context, kind TimelineKind, ownerID, postID, score int64) error
	Remove(ctx context.Context, kind TimelineKind, ownerID, postID int64) error
	// RangeBefore returns up to limit entries with score strictly below cursor,
	// newest first.
	RangeBefore(ctx context.Context, kind TimelineKind, ownerID, cursor int64, limit int) ([]TimelineEntry, error)
	// Trim keeps only the maxSize highest-scored entries.
	Trim(ctx context.Context, kind TimelineKind, ownerID int64, maxSize int) error
	// SampleRandom draws count ids uniformly with replacement.
	SampleRandom(ctx context.Context, kind TimelineKind, ownerID int64, count int) ([]int64, error)
	Clear(ctx context.Context, kind TimelineKind, ownerID int64) error
}

var (
	_ TimelineStore = (*RedisTimelineStore)(nil)
	_ TimelineStore = (*MemoryTimelineStore)(nil)
)

func timelineKey(kind TimelineKind, ownerID int64) string {
	return fmt.Sprintf("%s:%d", kind, ownerID)
}

// RedisTimelineStore keeps timelines in redis sorted sets, keys feed:<uid> and
// liked:<uid>.
type RedisTimelineStore struct {
	client redis.UniversalClient
	rnd    *LockedRand
}

func NewRedisTimelineStore(client redis.UniversalClient, rnd *LockedRand) *RedisTimelineStore {
	return &RedisTimelineStore{client: client, rnd: rnd}
}

func (s *RedisTimelineStore) Append(ctx context.Context, kind TimelineKind, ownerID, postID, score int64) error {
	err := s.client.ZAdd(ctx, timelineKey(kind, ownerID), &redis.Z{
		Score:  float64(score),
		Member: strconv.FormatInt(postID, 10),
	}).Err()
	if err != nil {
		return fmt.Errorf("zadd %s: %w", timelineKey(kind, ownerID), err)
	}
	return nil
}

func (s *RedisTimelineStore) Remove(ctx context.Context, kind TimelineKind, ownerID, postID int64) error {
	if err := s.client.ZRem(ctx, timelineKey(kind, ownerID), strconv.FormatInt(postID, 10)).Err(); err != nil {
		return fmt.Errorf("zrem %s: %w", timelineKey(kind, ownerID), err)
	}
	return nil
}

func (s *RedisTimelineStore) RangeBefore(ctx context.Context, kind TimelineKind, ownerID, cursor int64, limit int) ([]TimelineEntry, error) {
	if limit <= 0 {
		return nil, nil
	}
	maxScore := "+inf"
	if cursor != NoCursor {
		maxScore = "(" + strconv.FormatInt(cursor, 10)
	}
	zs, err := s.client.ZRevRangeByScoreWithScores(ctx, timelineKey(kind, ownerID), &redis.ZRangeBy{
		Max:   maxScore,
		Min:   "-inf",
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("zrevrangebyscore %s: %w", timelineKey(kind, ownerID), err)
	}
	entries := make([]TimelineEntry, 0, len(zs))
	for _, z := range zs {
		id, err := parseMember(z.Member)
		if err != nil {
			continue
		}
		entries = append(entries, TimelineEntry{PostID: id, Score: int64(z.Score)})
	}
	return entries, nil
}

func (s *RedisTimelineStore) Trim(ctx context.Context, kind TimelineKind, ownerID int64, maxSize int) error {
	if err := s.client.ZRemRangeByRank(ctx, timelineKey(kind, ownerID), 0, int64(-maxSize-1)).Err(); err != nil {
		return fmt.Errorf("zremrangebyrank %s: %w", timelineKey(kind, ownerID), err)
	}
	return nil
}

// SampleRandom picks random ranks and fetches each with a pipelined ZRANGE.
func (s *RedisTimelineStore) SampleRandom(ctx context.Context, kind TimelineKind, ownerID int64, count int) ([]int64, error) {
	key := timelineKey(kind, ownerID)
	size, err := s.client.ZCard(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("zcard %s: %w", key, err)
	}
	if size == 0 || count <= 0 {
		return []int64{}, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.StringSliceCmd, count)
	for i := range cmds {
		idx := s.rnd.Int63n(size)
		cmds[i] = pipe.ZRange(ctx, key, idx, idx)
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("sample %s: %w", key, err)
	}

	ids := make([]int64, 0, count)
	for _, cmd := range cmds {
		members, err := cmd.Result()
		if err != nil || len(members) == 0 {
			continue
		}
		id, err := strconv.ParseInt(members[0], 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *RedisTimelineStore) Clear(ctx context.Context, kind TimelineKind, ownerID int64) error {
	return s.client.Del(ctx, timelineKey(kind, ownerID)).Err()
}

func parseMember(m interface{}) (int64, error) {
	switch v := m.(type) {
	case string:
		return strconv.ParseInt(v, 10, 64)
	case int64:
		return v, nil
	}
	return 0, fmt.Errorf("unexpected member type %T", m)
}

// MemoryTimelineStore - реализация в памяти для тестов и локального запуска.
type MemoryTimelineStore struct {
	mu   sync.RWMutex
	sets map[string]map[int64]int64
	rnd  *LockedRand
}

func NewMemoryTimelineStore(rnd *LockedRand) *MemoryTimelineStore {
	return &MemoryTimelineStore{sets: make(map[string]map[int64]int64), rnd: rnd}
}

func (s *MemoryTimelineStore) Append(_ context.Context, kind TimelineKind, ownerID, postID, score int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := timelineKey(kind, ownerID)
	set, ok := s.sets[key]
	if !ok {
		set = make(map[int64]int64)
		s.sets[key] = set
	}
	set[postID] = score
	return nil
}

func (s *MemoryTimelineStore) Remove(_ context.Context, kind TimelineKind, ownerID, postID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sets[timelineKey(kind, ownerID)], postID)
	return nil
}

// sorted returns entries newest first. Ties on score are ordered like redis
// orders members of equal score: by the decimal id string, descending.
func (s *MemoryTimelineStore) sorted(key string) []TimelineEntry {
	set := s.sets[key]
	entries := make([]TimelineEntry, 0, len(set))
	for id, score := range set {
		entries = append(entries, TimelineEntry{PostID: id, Score: score})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		return strconv.FormatInt(entries[i].PostID, 10) > strconv.FormatInt(entries[j].PostID, 10)
	})
	return entries
}

func (s *MemoryTimelineStore) RangeBefore(_ context.Context, kind TimelineKind, ownerID, cursor int64, limit int) ([]TimelineEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []TimelineEntry
	for _, e := range s.sorted(timelineKey(kind, ownerID)) {
		if len(out) >= limit {
			break
		}
		if cursor != NoCursor && e.Score >= cursor {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *MemoryTimelineStore) Trim(_ context.Context, kind TimelineKind, ownerID int64, maxSize int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := timelineKey(kind, ownerID)
	entries := s.sorted(key)
	for i := maxSize; i < len(entries); i++ {
		delete(s.sets[key], entries[i].PostID)
	}
	return nil
}

func (s *MemoryTimelineStore) SampleRandom(_ context.Context, kind TimelineKind, ownerID int64, count int) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := s.sorted(timelineKey(kind, ownerID))
	out := make([]int64, 0, count)
	if len(entries) == 0 {
		return out, nil
	}
	for i := 0; i < count; i++ {
		out = append(out, entries[s.rnd.Intn(len(entries))].PostID)
	}
	return out, nil
}

func (s *MemoryTimelineStore) Clear(_ context.Context, kind TimelineKind, ownerID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sets, timelineKey(kind, ownerID))
	return nil
}

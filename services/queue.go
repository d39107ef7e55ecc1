package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"socialfeed/logging"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

type TaskKind string

const (
	TaskFanoutPost   TaskKind = "FANOUT_POST"
	TaskWarmUp       TaskKind = "WARM_UP"
	TaskLikedAppend  TaskKind = "LIKED_APPEND"
	TaskLikedRemove  TaskKind = "LIKED_REMOVE"
	TaskPublishEvent TaskKind = "PUBLISH_EVENT"
)

// FanoutPayload - доставка поста в ленты. Targets, when set, limits delivery
// to the listed users; it carries the leftovers of a partially failed run.
type FanoutPayload struct {
	PostID  int64   `json:"post_id"`
	Targets []int64 `json:"targets,omitempty"`
}

type WarmUpPayload struct {
	FollowerID  int64 `json:"follower_id"`
	FollowingID int64 `json:"following_id"`
}

type LikedPayload struct {
	UserID int64 `json:"user_id"`
	PostID int64 `json:"post_id"`
	Score  int64 `json:"score"`
}

// Task is a unit of background work. Exactly one payload matches Kind.
type Task struct {
	ID      string         `json:"id"`
	Kind    TaskKind       `json:"kind"`
	Attempt int            `json:"attempt"`
	Fanout  *FanoutPayload `json:"fanout,omitempty"`
	WarmUp  *WarmUpPayload `json:"warm_up,omitempty"`
	Liked   *LikedPayload  `json:"liked,omitempty"`
	Event   *Event         `json:"event,omitempty"`
}

func NewFanoutTask(postID int64) Task {
	return Task{Kind: TaskFanoutPost, Fanout: &FanoutPayload{PostID: postID}}
}

func NewWarmUpTask(followerID, followingID int64) Task {
	return Task{Kind: TaskWarmUp, WarmUp: &WarmUpPayload{FollowerID: followerID, FollowingID: followingID}}
}

func NewLikedTask(kind TaskKind, userID, postID, score int64) Task {
	return Task{Kind: kind, Liked: &LikedPayload{UserID: userID, PostID: postID, Score: score}}
}

// NewPublishTask wraps a domain event so that its delivery to the
// notification pipeline is retried like any other background work.
func NewPublishTask(event Event) Task {
	return Task{Kind: TaskPublishEvent, Event: &event}
}

func (t *Task) Validate() error {
	set := 0
	for _, p := range []bool{t.Fanout != nil, t.WarmUp != nil, t.Liked != nil, t.Event != nil} {
		if p {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("task %s: expected exactly one payload, got %d", t.ID, set)
	}
	switch t.Kind {
	case TaskFanoutPost:
		if t.Fanout == nil {
			return fmt.Errorf("task %s: missing fanout payload", t.ID)
		}
	case TaskWarmUp:
		if t.WarmUp == nil {
			return fmt.Errorf("task %s: missing warm-up payload", t.ID)
		}
	case TaskLikedAppend, TaskLikedRemove:
		if t.Liked == nil {
			return fmt.Errorf("task %s: missing liked payload", t.ID)
		}
	case TaskPublishEvent:
		if t.Event == nil {
			return fmt.Errorf("task %s: missing event payload", t.ID)
		}
		if err := t.Event.Validate(); err != nil {
			return fmt.Errorf("task %s: %w", t.ID, err)
		}
	default:
		return fmt.Errorf("task %s: unknown kind %q", t.ID, t.Kind)
	}
	return nil
}

// TargetsError reports the fan-out targets that could not be written. The
// dispatcher retries only those.
type TargetsError struct {
	Failed []int64
	Err    error
}

func (e *TargetsError) Error() string {
	return fmt.Sprintf("%d timeline targets failed: %v", len(e.Failed), e.Err)
}

func (e *TargetsError) Unwrap() error { return e.Err }

type TaskHandler interface {
	Handle(ctx context.Context, task *Task) error
}

// Submitter accepts background work from request handlers.
type Submitter interface {
	Submit(ctx context.Context, task Task)
}

type TaskQueue interface {
	Enqueue(ctx context.Context, task Task) error
	// Dequeue blocks for the next task. A nil task with nil error means a
	// poll timeout.
	Dequeue(ctx context.Context) (*Task, error)
	Len(ctx context.Context) (int64, error)
}

var (
	_ TaskQueue = (*MemoryTaskQueue)(nil)
	_ TaskQueue = (*RedisTaskQueue)(nil)
	_ Submitter = (*Dispatcher)(nil)
	_ Submitter = InlineSubmitter{}
)

var ErrQueueFull = errors.New("task queue is full")

// MemoryTaskQueue is a buffered channel queue for single-process setups.
type MemoryTaskQueue struct {
	ch chan Task
}

func NewMemoryTaskQueue(buffer int) *MemoryTaskQueue {
	return &MemoryTaskQueue{ch: make(chan Task, buffer)}
}

func (q *MemoryTaskQueue) Enqueue(ctx context.Context, task Task) error {
	select {
	case q.ch <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrQueueFull
	}
}

func (q *MemoryTaskQueue) Dequeue(ctx context.Context) (*Task, error) {
	select {
	case t := <-q.ch:
		return &t, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (q *MemoryTaskQueue) Len(context.Context) (int64, error) {
	return int64(len(q.ch)), nil
}

// RedisTaskQueue stores JSON tasks in a redis list (RPUSH / BLPOP).
type RedisTaskQueue struct {
	client      redis.UniversalClient
	name        string
	pollTimeout time.Duration
}

func NewRedisTaskQueue(client redis.UniversalClient, name string) *RedisTaskQueue {
	return &RedisTaskQueue{client: client, name: name, pollTimeout: 5 * time.Second}
}

func (q *RedisTaskQueue) Enqueue(ctx context.Context, task Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}
	if err := q.client.RPush(ctx, q.name, data).Err(); err != nil {
		return fmt.Errorf("failed to enqueue task: %w", err)
	}
	return nil
}

func (q *RedisTaskQueue) Dequeue(ctx context.Context) (*Task, error) {
	result, err := q.client.BLPop(ctx, q.pollTimeout, q.name).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	if len(result) < 2 {
		return nil, nil
	}
	var task Task
	if err := json.Unmarshal([]byte(result[1]), &task); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task: %w", err)
	}
	return &task, nil
}

func (q *RedisTaskQueue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.name).Result()
}

type DispatcherConfig struct {
	Workers     int
	MaxAttempts int
	QueueName   string
}

// Dispatcher feeds queued tasks to a handler from a fixed pool of workers and
// re-enqueues failures until MaxAttempts.
type Dispatcher struct {
	queue   TaskQueue
	handler TaskHandler
	conf    DispatcherConfig
	metrics *Metrics
	wg      sync.WaitGroup

	// mu guards stopping and every Add on fallback.
	mu       sync.Mutex
	stopping bool
	fallback sync.WaitGroup
}

func NewDispatcher(queue TaskQueue, handler TaskHandler, conf DispatcherConfig, metrics *Metrics) *Dispatcher {
	if conf.Workers <= 0 {
		conf.Workers = 1
	}
	if conf.MaxAttempts <= 0 {
		conf.MaxAttempts = 1
	}
	return &Dispatcher{queue: queue, handler: handler, conf: conf, metrics: metrics}
}

// Submit enqueues task and never fails the caller. When the queue refuses the
// task it runs on a detached goroutine instead. Once Run is shutting down
// nothing picks tasks up anymore, so they run on the caller goroutine.
func (d *Dispatcher) Submit(ctx context.Context, task Task) {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	logger := logging.Ctx(ctx).With().Str(logging.FieldTaskID, task.ID).Str(logging.FieldTaskKind, string(task.Kind)).Logger()
	bg := logging.WithLogger(context.Background(), logger)

	d.mu.Lock()
	if d.stopping {
		d.mu.Unlock()
		logger.Debug().Msg("dispatcher stopping, running task inline")
		Execute(bg, d.handler, task, d.conf.MaxAttempts, d.metrics)
		return
	}
	d.mu.Unlock()

	if err := d.queue.Enqueue(ctx, task); err != nil {
		logger.Warn().Err(err).Msg("enqueue failed, running task in background")
		d.mu.Lock()
		if d.stopping {
			d.mu.Unlock()
			Execute(bg, d.handler, task, d.conf.MaxAttempts, d.metrics)
			return
		}
		d.fallback.Add(1)
		d.mu.Unlock()
		go func() {
			defer d.fallback.Done()
			Execute(bg, d.handler, task, d.conf.MaxAttempts, d.metrics)
		}()
		return
	}
	logger.Debug().Msg("task enqueued")
}

// Run starts the workers and blocks until ctx is cancelled and every worker
// and fallback goroutine has returned.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.mu.Lock()
	d.stopping = false
	d.mu.Unlock()

	for i := 0; i < d.conf.Workers; i++ {
		d.wg.Add(1)
		go func(workerID int) {
			defer d.wg.Done()
			d.worker(ctx, workerID)
		}(i)
	}
	<-ctx.Done()
	d.wg.Wait()

	d.mu.Lock()
	d.stopping = true
	d.mu.Unlock()
	d.fallback.Wait()
	return nil
}

func (d *Dispatcher) worker(ctx context.Context, workerID int) {
	logger := logging.Ctx(ctx).With().Int("worker", workerID).Logger()
	logger.Info().Msg("feed worker started")
	defer func() { logger.Info().Msg("feed worker stopped") }()

	for {
		task, err := d.queue.Dequeue(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			logger.Warn().Err(err).Msg("dequeue failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		if task == nil {
			continue
		}
		d.process(ctx, *task)
	}
}

// process runs one attempt and puts the task back on the queue on failure.
func (d *Dispatcher) process(ctx context.Context, task Task) {
	logger := logging.Ctx(ctx).With().
		Str(logging.FieldTaskID, task.ID).
		Str(logging.FieldTaskKind, string(task.Kind)).
		Int("attempt", task.Attempt).Logger()
	tctx := logging.WithLogger(ctx, logger)

	err := runOnce(tctx, d.handler, &task)
	if err == nil {
		d.metrics.tasks.WithLabelValues(string(task.Kind), "ok").Inc()
		return
	}
	next, ok := nextAttempt(task, err, d.conf.MaxAttempts)
	if !ok {
		d.metrics.tasks.WithLabelValues(string(task.Kind), "dropped").Inc()
		logger.Error().Err(err).Msg("task exhausted retries")
		return
	}
	d.metrics.tasks.WithLabelValues(string(task.Kind), "retry").Inc()
	logger.Warn().Err(err).Msg("task failed, re-enqueueing")
	if qerr := d.queue.Enqueue(ctx, next); qerr != nil {
		logger.Error().Err(qerr).Msg("failed to re-enqueue task")
	}
}

func (d *Dispatcher) Stats(ctx context.Context) (map[string]interface{}, error) {
	n, err := d.queue.Len(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"queue_length": n,
		"worker_count": d.conf.Workers,
		"queue_name":   d.conf.QueueName,
		"max_attempts": d.conf.MaxAttempts,
	}, nil
}

func runOnce(ctx context.Context, h TaskHandler, task *Task) error {
	if err := task.Validate(); err != nil {
		return err
	}
	return h.Handle(ctx, task)
}

// nextAttempt builds the retry of a failed task. For fan-out only the failed
// targets are carried over. Malformed tasks are never retried.
func nextAttempt(task Task, err error, maxAttempts int) (Task, bool) {
	if task.Validate() != nil || task.Attempt+1 >= maxAttempts {
		return task, false
	}
	next := task
	next.Attempt++
	var te *TargetsError
	if task.Kind == TaskFanoutPost && errors.As(err, &te) {
		next.Fanout = &FanoutPayload{PostID: task.Fanout.PostID, Targets: te.Failed}
	}
	return next, true
}

// Execute runs task on the calling goroutine, retrying up to maxAttempts.
func Execute(ctx context.Context, h TaskHandler, task Task, maxAttempts int, metrics *Metrics) {
	logger := logging.Ctx(ctx)
	for {
		err := runOnce(ctx, h, &task)
		if err == nil {
			metrics.tasks.WithLabelValues(string(task.Kind), "ok").Inc()
			return
		}
		next, ok := nextAttempt(task, err, maxAttempts)
		if !ok {
			metrics.tasks.WithLabelValues(string(task.Kind), "dropped").Inc()
			logger.Error().Err(err).Str(logging.FieldTaskKind, string(task.Kind)).Msg("task exhausted retries")
			return
		}
		metrics.tasks.WithLabelValues(string(task.Kind), "retry").Inc()
		task = next
	}
}

// TaskRouter is the handler behind the dispatcher: timeline work goes to the
// fan-out engine, events go to the publisher.
type TaskRouter struct {
	Fanout    *FanoutEngine
	Publisher EventPublisher
	Metrics   *Metrics
}

var _ TaskHandler = (*TaskRouter)(nil)

func (r *TaskRouter) Handle(ctx context.Context, task *Task) error {
	if task.Kind != TaskPublishEvent {
		return r.Fanout.Handle(ctx, task)
	}
	err := r.Publisher.Publish(ctx, *task.Event)
	r.Metrics.eventsTotal.WithLabelValues(string(task.Event.Kind), resultLabel(err)).Inc()
	if err != nil {
		return fmt.Errorf("publish %s event: %w", task.Event.Kind, err)
	}
	return nil
}

// InlineSubmitter runs tasks synchronously on the caller goroutine. The seed
// tool and tests use it to get deterministic timelines.
type InlineSubmitter struct {
	Handler     TaskHandler
	MaxAttempts int
	Metrics     *Metrics
}

func (s InlineSubmitter) Submit(ctx context.Context, task Task) {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	Execute(ctx, s.Handler, task, s.MaxAttempts, s.Metrics)
}

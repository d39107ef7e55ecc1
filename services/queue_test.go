package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type recordingHandler struct {
	mu    sync.Mutex
	tasks []Task
	fail  func(Task) error
	done  chan struct{}
}

func newRecordingHandler(fail func(Task) error) *recordingHandler {
	return &recordingHandler{fail: fail, done: make(chan struct{}, 100)}
}

func (h *recordingHandler) Handle(_ context.Context, task *Task) error {
	h.mu.Lock()
	h.tasks = append(h.tasks, *task)
	h.mu.Unlock()
	defer func() { h.done <- struct{}{} }()
	if h.fail != nil {
		return h.fail(*task)
	}
	return nil
}

func (h *recordingHandler) wait(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-h.done:
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for task %d", i+1)
		}
	}
}

func (h *recordingHandler) snapshot() []Task {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Task(nil), h.tasks...)
}

func TestTaskValidate(t *testing.T) {
	ok := NewFanoutTask(1)
	require.NoError(t, ok.Validate())
	require.NoError(t, (&Task{Kind: TaskWarmUp, WarmUp: &WarmUpPayload{1, 2}}).Validate())

	bad := []Task{
		{Kind: TaskFanoutPost},
		{Kind: TaskFanoutPost, WarmUp: &WarmUpPayload{}},
		{Kind: TaskLikedAppend, Liked: &LikedPayload{}, Fanout: &FanoutPayload{}},
		{Kind: "REINDEX", Fanout: &FanoutPayload{}},
	}
	for _, task := range bad {
		require.Error(t, task.Validate(), "%+v", task)
	}
}

func TestRedisTaskQueueRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	q := NewRedisTaskQueue(client, "feed_update_queue")
	q.pollTimeout = 100 * time.Millisecond
	ctx := context.Background()

	task := NewLikedTask(TaskLikedAppend, 3, 9, 1234)
	task.ID = "t-1"
	require.NoError(t, q.Enqueue(ctx, task))
	n, err := q.Len(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	got, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, task, *got)

	got, err = q.Dequeue(ctx)
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestMemoryTaskQueueFull(t *testing.T) {
	q := NewMemoryTaskQueue(1)
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, NewFanoutTask(1)))
	require.ErrorIs(t, q.Enqueue(ctx, NewFanoutTask(2)), ErrQueueFull)
}

func TestDispatcherProcessesAndStops(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	h := newRecordingHandler(nil)
	d := NewDispatcher(NewMemoryTaskQueue(16), h, DispatcherConfig{Workers: 3, MaxAttempts: 3}, NewMetrics(prometheus.NewRegistry()))
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		_ = d.Run(ctx)
		close(stopped)
	}()

	for i := int64(1); i <= 5; i++ {
		d.Submit(ctx, NewFanoutTask(i))
	}
	h.wait(t, 5)
	cancel()
	<-stopped

	tasks := h.snapshot()
	require.Len(t, tasks, 5)
	for _, task := range tasks {
		require.NotEmpty(t, task.ID)
	}
}

func TestDispatcherRetriesOnlyFailedTargets(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	h := newRecordingHandler(func(task Task) error {
		if task.Attempt == 0 {
			return &TargetsError{Failed: []int64{7}, Err: errors.New("redis down")}
		}
		return nil
	})
	d := NewDispatcher(NewMemoryTaskQueue(16), h, DispatcherConfig{Workers: 1, MaxAttempts: 3}, NewMetrics(prometheus.NewRegistry()))
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		_ = d.Run(ctx)
		close(stopped)
	}()

	d.Submit(ctx, NewFanoutTask(11))
	h.wait(t, 2)
	cancel()
	<-stopped

	tasks := h.snapshot()
	require.Len(t, tasks, 2)
	require.Empty(t, tasks[0].Fanout.Targets)
	require.Equal(t, 1, tasks[1].Attempt)
	require.Equal(t, []int64{7}, tasks[1].Fanout.Targets)
	require.Equal(t, int64(11), tasks[1].Fanout.PostID)
}

func TestDispatcherFallsBackWhenQueueRefuses(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	h := newRecordingHandler(nil)
	d := NewDispatcher(NewMemoryTaskQueue(0), h, DispatcherConfig{Workers: 1, MaxAttempts: 1}, NewMetrics(prometheus.NewRegistry()))
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		_ = d.Run(ctx)
		close(stopped)
	}()

	d.Submit(ctx, NewWarmUpTask(1, 2))
	h.wait(t, 1)
	cancel()
	<-stopped
	require.Equal(t, TaskWarmUp, h.snapshot()[0].Kind)
}

// refusingQueue rejects every task, forcing the dispatcher fallback.
type refusingQueue struct {
	*MemoryTaskQueue
}

func (refusingQueue) Enqueue(context.Context, Task) error { return ErrQueueFull }

func TestDispatcherFallbackDuringShutdown(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	h := newRecordingHandler(nil)
	d := NewDispatcher(refusingQueue{NewMemoryTaskQueue(1)}, h, DispatcherConfig{Workers: 2, MaxAttempts: 1}, NewMetrics(prometheus.NewRegistry()))
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		_ = d.Run(ctx)
		close(stopped)
	}()

	var wg sync.WaitGroup
	for i := int64(1); i <= 20; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			d.Submit(context.Background(), NewFanoutTask(id))
		}(i)
	}
	cancel()
	wg.Wait()
	<-stopped
	require.Len(t, h.snapshot(), 20)

	// Once Run has returned the task runs before Submit returns.
	d.Submit(context.Background(), NewFanoutTask(99))
	require.Len(t, h.snapshot(), 21)
}

func TestExecuteGivesUpAfterMaxAttempts(t *testing.T) {
	h := newRecordingHandler(func(Task) error { return errors.New("always") })
	Execute(context.Background(), h, NewFanoutTask(1), 3, NewMetrics(prometheus.NewRegistry()))
	tasks := h.snapshot()
	require.Len(t, tasks, 3)
	require.Equal(t, 2, tasks[2].Attempt)
}

func TestExecuteSkipsMalformedTask(t *testing.T) {
	h := newRecordingHandler(nil)
	Execute(context.Background(), h, Task{Kind: TaskFanoutPost}, 3, NewMetrics(prometheus.NewRegistry()))
	require.Empty(t, h.snapshot())
}

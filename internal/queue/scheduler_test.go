package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/segmenta/prospect-cli/internal/config"
	"github.com/segmenta/prospect-cli/internal/model"
)

// fakeQueueStore is an in-memory queue honoring the same claim semantics
// as the real stores: only pending items can be marked processing.
type fakeQueueStore struct {
	mu    sync.Mutex
	items map[string]*model.QueueItem
}

func newFakeQueueStore() *fakeQueueStore {
	return &fakeQueueStore{items: make(map[string]*model.QueueItem)}
}

func (f *fakeQueueStore) EnqueueItem(_ context.Context, item *model.QueueItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	item.CreatedAt = time.Now().UTC()
	cp := *item
	f.items[item.ID] = &cp
	return nil
}

func (f *fakeQueueStore) PendingProjects(_ context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	seen := make(map[string]bool)
	var out []string
	for _, item := range f.items {
		if item.Status == model.QueueItemPending && !seen[item.ProjectID] {
			seen[item.ProjectID] = true
			out = append(out, item.ProjectID)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (f *fakeQueueStore) DequeuePending(_ context.Context, projectID string, limit int) ([]model.QueueItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.QueueItem
	for _, item := range f.items {
		if item.ProjectID == projectID && item.Status == model.QueueItemPending {
			out = append(out, *item)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeQueueStore) MarkItemProcessing(_ context.Context, itemID string, startedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.items[itemID]
	if !ok || item.Status != model.QueueItemPending {
		return errors.New("item not pending")
	}
	item.Status = model.QueueItemProcessing
	item.StartedAt = &startedAt
	return nil
}

func (f *fakeQueueStore) CompleteItem(_ context.Context, itemID string, result json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now().UTC()
	item := f.items[itemID]
	item.Status = model.QueueItemCompleted
	item.Result = result
	item.CompletedAt = &now
	return nil
}

func (f *fakeQueueStore) FailItem(_ context.Context, itemID string, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now().UTC()
	item := f.items[itemID]
	item.Status = model.QueueItemError
	item.ErrorMessage = message
	item.CompletedAt = &now
	return nil
}

func (f *fakeQueueStore) ClearCompleted(_ context.Context, projectID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for id, item := range f.items {
		if item.ProjectID == projectID && (item.Status == model.QueueItemCompleted || item.Status == model.QueueItemError) {
			delete(f.items, id)
			n++
		}
	}
	return n, nil
}

func (f *fakeQueueStore) RequeueStale(_ context.Context, olderThan time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, item := range f.items {
		if item.Status == model.QueueItemProcessing && item.StartedAt != nil && item.StartedAt.Before(olderThan) {
			item.Status = model.QueueItemPending
			item.StartedAt = nil
			n++
		}
	}
	return n, nil
}

func (f *fakeQueueStore) status(itemID string) model.QueueItemStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.items[itemID].Status
}

// recordingExecutor tracks execution order and concurrency.
type recordingExecutor struct {
	mu          sync.Mutex
	order       []string
	inFlight    int
	maxInFlight int
	delay       time.Duration
	failIDs     map[string]bool
}

func (r *recordingExecutor) execute(_ context.Context, item model.QueueItem) (json.RawMessage, error) {
	r.mu.Lock()
	r.order = append(r.order, item.ID)
	r.inFlight++
	if r.inFlight > r.maxInFlight {
		r.maxInFlight = r.inFlight
	}
	fail := r.failIDs[item.ID]
	r.mu.Unlock()

	if r.delay > 0 {
		time.Sleep(r.delay)
	}

	r.mu.Lock()
	r.inFlight--
	r.mu.Unlock()

	if fail {
		return nil, errors.New("execution exploded")
	}
	return json.RawMessage(`{"ok":true}`), nil
}

func testQueueConfig() config.QueueConfig {
	return config.QueueConfig{
		PollInterval:    10 * time.Second,
		ExecutionMode:   "sequential",
		MaxParallelJobs: 3,
		StaleAfter:      30 * time.Minute,
	}
}

func TestPollSequentialTakesOneItemPerPass(t *testing.T) {
	ctx := context.Background()
	st := newFakeQueueStore()
	exec := &recordingExecutor{}
	s := NewScheduler(st, exec.execute, testQueueConfig(), nil)

	low, err := s.Enqueue(ctx, "proj-1", 1, nil)
	require.NoError(t, err)
	high, err := s.Enqueue(ctx, "proj-1", 9, nil)
	require.NoError(t, err)

	s.Poll(ctx)
	s.Wait()

	// Highest priority first, one item per pass.
	require.Len(t, exec.order, 1)
	assert.Equal(t, high.ID, exec.order[0])
	assert.Equal(t, model.QueueItemCompleted, st.status(high.ID))
	assert.Equal(t, model.QueueItemPending, st.status(low.ID))

	s.Poll(ctx)
	s.Wait()
	require.Len(t, exec.order, 2)
	assert.Equal(t, low.ID, exec.order[1])
}

func TestPollParallelRunsUpToMaxParallelJobs(t *testing.T) {
	ctx := context.Background()
	st := newFakeQueueStore()
	exec := &recordingExecutor{delay: 20 * time.Millisecond}
	resolve := func(string) model.ProjectConfig {
		return model.ProjectConfig{ExecutionMode: model.ExecutionParallel, MaxParallelJobs: 3}
	}
	s := NewScheduler(st, exec.execute, testQueueConfig(), resolve)

	for i := 0; i < 5; i++ {
		_, err := s.Enqueue(ctx, "proj-1", i, nil)
		require.NoError(t, err)
	}

	s.Poll(ctx)
	s.Wait()

	assert.Len(t, exec.order, 3)
	assert.LessOrEqual(t, exec.maxInFlight, 3)
	assert.GreaterOrEqual(t, exec.maxInFlight, 2)
}

func TestPollSingleFlightPerProject(t *testing.T) {
	ctx := context.Background()
	st := newFakeQueueStore()
	exec := &recordingExecutor{delay: 50 * time.Millisecond}
	s := NewScheduler(st, exec.execute, testQueueConfig(), nil)

	for i := 0; i < 4; i++ {
		_, err := s.Enqueue(ctx, "proj-1", 0, nil)
		require.NoError(t, err)
	}

	// Overlapping polls must not start a second pass for the project.
	s.Poll(ctx)
	s.Poll(ctx)
	s.Wait()

	assert.Len(t, exec.order, 1)
}

func TestPollIsolatesProjects(t *testing.T) {
	ctx := context.Background()
	st := newFakeQueueStore()
	exec := &recordingExecutor{}
	s := NewScheduler(st, exec.execute, testQueueConfig(), nil)

	_, err := s.Enqueue(ctx, "proj-1", 0, nil)
	require.NoError(t, err)
	_, err = s.Enqueue(ctx, "proj-2", 0, nil)
	require.NoError(t, err)

	s.Poll(ctx)
	s.Wait()

	assert.Len(t, exec.order, 2)
}

func TestFailedItemRecordsError(t *testing.T) {
	ctx := context.Background()
	st := newFakeQueueStore()
	exec := &recordingExecutor{failIDs: make(map[string]bool)}
	s := NewScheduler(st, exec.execute, testQueueConfig(), nil)

	item, err := s.Enqueue(ctx, "proj-1", 0, nil)
	require.NoError(t, err)
	exec.failIDs[item.ID] = true

	s.Poll(ctx)
	s.Wait()

	assert.Equal(t, model.QueueItemError, st.status(item.ID))

	// Errored items are never re-dequeued.
	s.Poll(ctx)
	s.Wait()
	assert.Len(t, exec.order, 1)
}

func TestClearCompleted(t *testing.T) {
	ctx := context.Background()
	st := newFakeQueueStore()
	exec := &recordingExecutor{}
	s := NewScheduler(st, exec.execute, testQueueConfig(), nil)

	item, err := s.Enqueue(ctx, "proj-1", 0, nil)
	require.NoError(t, err)
	s.Poll(ctx)
	s.Wait()
	require.Equal(t, model.QueueItemCompleted, st.status(item.ID))

	n, err := s.ClearCompleted(ctx, "proj-1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = s.ClearCompleted(ctx, "proj-1")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestReapStaleRequeuesStuckItems(t *testing.T) {
	ctx := context.Background()
	st := newFakeQueueStore()
	exec := &recordingExecutor{}
	s := NewScheduler(st, exec.execute, testQueueConfig(), nil)

	item, err := s.Enqueue(ctx, "proj-1", 0, nil)
	require.NoError(t, err)

	// Simulate a worker that claimed the item and died an hour ago.
	stuck := time.Now().UTC().Add(-time.Hour)
	require.NoError(t, st.MarkItemProcessing(ctx, item.ID, stuck))

	n, err := s.ReapStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, model.QueueItemPending, st.status(item.ID))

	// Fresh claims are left alone.
	n, err = s.ReapStale(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestStartStopsOnContextCancel(t *testing.T) {
	st := newFakeQueueStore()
	exec := &recordingExecutor{}
	cfg := testQueueConfig()
	cfg.PollInterval = 5 * time.Millisecond
	s := NewScheduler(st, exec.execute, cfg, nil)

	_, err := s.Enqueue(context.Background(), "proj-1", 0, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		exec.mu.Lock()
		defer exec.mu.Unlock()
		return len(exec.order) == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}

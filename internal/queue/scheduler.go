// Package queue schedules deferred enrichment work per project, polling
// for pending items and executing them sequentially or in parallel
// according to each project's configuration.
package queue

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/segmenta/prospect-cli/internal/config"
	"github.com/segmenta/prospect-cli/internal/model"
)

// ExecuteFunc performs the work an item describes and returns its result
// payload.
type ExecuteFunc func(ctx context.Context, item model.QueueItem) (json.RawMessage, error)

// ConfigResolver returns the scheduling knobs for a project.
type ConfigResolver func(projectID string) model.ProjectConfig

// Store is the slice of the persistence layer the scheduler needs.
type Store interface {
	EnqueueItem(ctx context.Context, item *model.QueueItem) error
	PendingProjects(ctx context.Context) ([]string, error)
	DequeuePending(ctx context.Context, projectID string, limit int) ([]model.QueueItem, error)
	MarkItemProcessing(ctx context.Context, itemID string, startedAt time.Time) error
	CompleteItem(ctx context.Context, itemID string, result json.RawMessage) error
	FailItem(ctx context.Context, itemID string, message string) error
	ClearCompleted(ctx context.Context, projectID string) (int, error)
	RequeueStale(ctx context.Context, olderThan time.Time) (int, error)
}

// Scheduler polls the queue and drives item execution. At most one
// execution pass runs per project at any time, regardless of how often
// polling fires.
type Scheduler struct {
	store   Store
	execute ExecuteFunc
	cfg     config.QueueConfig
	resolve ConfigResolver
	logger  *zap.Logger

	mu     sync.Mutex
	active map[string]struct{}
	wg     sync.WaitGroup
}

// NewScheduler wires a scheduler. A nil resolver applies the global
// queue configuration to every project.
func NewScheduler(st Store, execute ExecuteFunc, cfg config.QueueConfig, resolve ConfigResolver) *Scheduler {
	if resolve == nil {
		resolve = func(string) model.ProjectConfig {
			return model.ProjectConfig{
				ExecutionMode:   model.ExecutionMode(cfg.ExecutionMode),
				MaxParallelJobs: cfg.MaxParallelJobs,
			}
		}
	}
	return &Scheduler{
		store:   st,
		execute: execute,
		cfg:     cfg,
		resolve: resolve,
		logger:  zap.L().With(zap.String("component", "queue_scheduler")),
		active:  make(map[string]struct{}),
	}
}

// Enqueue adds one unit of work for a project.
func (s *Scheduler) Enqueue(ctx context.Context, projectID string, priority int, payload json.RawMessage) (*model.QueueItem, error) {
	item := &model.QueueItem{
		ID:        uuid.NewString(),
		ProjectID: projectID,
		Status:    model.QueueItemPending,
		Priority:  priority,
		Payload:   payload,
	}
	if err := s.store.EnqueueItem(ctx, item); err != nil {
		return nil, eris.Wrap(err, "queue: enqueue")
	}
	s.logger.Info("item enqueued",
		zap.String("item_id", item.ID),
		zap.String("project_id", projectID),
		zap.Int("priority", priority))
	return item, nil
}

// Start polls until the context is cancelled, then waits for in-flight
// project passes to finish.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	s.logger.Info("scheduler started", zap.Duration("poll_interval", s.cfg.PollInterval))
	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			s.logger.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.Poll(ctx)
		}
	}
}

// Poll launches one execution pass for every project that has pending
// work and no pass already running.
func (s *Scheduler) Poll(ctx context.Context) {
	projects, err := s.store.PendingProjects(ctx)
	if err != nil {
		s.logger.Warn("poll failed", zap.Error(err))
		return
	}

	for _, projectID := range projects {
		if !s.claim(projectID) {
			continue
		}
		s.wg.Add(1)
		go func(projectID string) {
			defer s.wg.Done()
			defer s.release(projectID)
			s.runProject(ctx, projectID)
		}(projectID)
	}
}

// Wait blocks until all in-flight project passes finish. Intended for
// one-shot CLI invocations that poll once and exit.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// runProject executes one batch of pending items for a project, honoring
// its execution mode: sequential takes one item per pass, parallel takes
// up to MaxParallelJobs by priority and runs them concurrently.
func (s *Scheduler) runProject(ctx context.Context, projectID string) {
	pc := s.resolve(projectID)
	limit := 1
	if pc.ExecutionMode == model.ExecutionParallel && pc.MaxParallelJobs > 1 {
		limit = pc.MaxParallelJobs
	}

	items, err := s.store.DequeuePending(ctx, projectID, limit)
	if err != nil {
		s.logger.Warn("dequeue failed",
			zap.String("project_id", projectID), zap.Error(err))
		return
	}
	if len(items) == 0 {
		return
	}

	log := s.logger.With(zap.String("project_id", projectID))
	log.Debug("executing items",
		zap.Int("count", len(items)),
		zap.String("mode", string(pc.ExecutionMode)))

	if limit == 1 {
		for _, item := range items {
			s.runItem(ctx, item)
		}
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, item := range items {
		g.Go(func() error {
			s.runItem(gctx, item)
			return nil
		})
	}
	_ = g.Wait()
}

// runItem claims, executes, and settles one item. A claim that loses the
// race to another worker is skipped silently.
func (s *Scheduler) runItem(ctx context.Context, item model.QueueItem) {
	log := s.logger.With(zap.String("item_id", item.ID), zap.String("project_id", item.ProjectID))

	if err := s.store.MarkItemProcessing(ctx, item.ID, time.Now().UTC()); err != nil {
		log.Debug("claim lost", zap.Error(err))
		return
	}

	result, err := s.execute(ctx, item)
	if err != nil {
		log.Warn("item failed", zap.Error(err))
		if ferr := s.store.FailItem(ctx, item.ID, err.Error()); ferr != nil {
			log.Error("recording item failure failed", zap.Error(ferr))
		}
		return
	}

	if err := s.store.CompleteItem(ctx, item.ID, result); err != nil {
		log.Error("recording item completion failed", zap.Error(err))
		return
	}
	log.Info("item completed")
}

// ClearCompleted deletes a project's completed items and reports how
// many were removed.
func (s *Scheduler) ClearCompleted(ctx context.Context, projectID string) (int, error) {
	n, err := s.store.ClearCompleted(ctx, projectID)
	if err != nil {
		return 0, eris.Wrap(err, "queue: clear completed")
	}
	if n > 0 {
		s.logger.Info("completed items cleared",
			zap.String("project_id", projectID), zap.Int("count", n))
	}
	return n, nil
}

// ReapStale requeues items stuck in processing longer than the
// configured threshold, typically after a crashed worker.
func (s *Scheduler) ReapStale(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().Add(-s.cfg.StaleAfter)
	n, err := s.store.RequeueStale(ctx, cutoff)
	if err != nil {
		return 0, eris.Wrap(err, "queue: reap stale")
	}
	if n > 0 {
		s.logger.Warn("stale items requeued", zap.Int("count", n))
	}
	return n, nil
}

func (s *Scheduler) claim(projectID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.active[projectID]; busy {
		return false
	}
	s.active[projectID] = struct{}{}
	return true
}

func (s *Scheduler) release(projectID string) {
	s.mu.Lock()
	delete(s.active, projectID)
	s.mu.Unlock()
}

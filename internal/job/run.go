package job

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/segmenta/prospect-cli/internal/model"
	"github.com/segmenta/prospect-cli/internal/progress"
)

// Run executes a pending or paused job to completion, blocking until the
// job finishes, pauses, or fails. Clients are processed in batches of
// BatchSize with bounded concurrency inside each batch; progress is
// persisted at every batch boundary so a resumed run picks up exactly
// where the last one stopped.
func (m *Manager) Run(ctx context.Context, jobID string) error {
	j, err := m.store.GetJob(ctx, jobID)
	if err != nil {
		return eris.Wrap(err, "job: run")
	}
	if !j.Status.CanTransition(model.JobStatusRunning) {
		return eris.Errorf("job: cannot run job in status %s", j.Status)
	}

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	h, err := m.register(jobID, cancel)
	if err != nil {
		return err
	}
	defer m.unregister(jobID)

	now := time.Now().UTC()
	j.Status = model.JobStatusRunning
	j.PausedAt = nil
	j.ErrorMessage = ""
	if j.StartedAt == nil {
		j.StartedAt = &now
	}
	if err := m.store.UpdateJob(ctx, j); err != nil {
		return eris.Wrap(err, "job: mark running")
	}

	log := m.logger.With(zap.String("job_id", jobID), zap.String("project_id", j.ProjectID))
	log.Info("job running",
		zap.Int("total_clients", j.TotalClients),
		zap.Int("processed_clients", j.ProcessedClients))

	clients, err := m.store.ListEntities(ctx, j.ProjectID, model.RoleClient)
	if err != nil {
		ferr := m.fail(ctx, j, err.Error())
		return errors.Join(eris.Wrap(err, "job: list clients"), ferr)
	}
	if len(clients) < j.TotalClients {
		// The client set shrank since the job was created; never index
		// past what exists now.
		j.TotalClients = len(clients)
		j.TotalBatches = totalBatches(len(clients), j.BatchSize)
	}

	runStart := time.Now()
	processedAtStart := j.ProcessedClients
	lastCheckpoint := j.ProcessedClients

	for j.ProcessedClients < j.TotalClients {
		if cause := context.Cause(runCtx); cause != nil {
			if errors.Is(cause, ErrCancelled) {
				return m.fail(ctx, j, ErrCancelled.Error())
			}
			ferr := m.fail(ctx, j, cause.Error())
			return errors.Join(cause, ferr)
		}
		if h.pauseRequested() {
			return m.pauseRun(ctx, j, log)
		}

		start := j.ProcessedClients
		end := start + j.BatchSize
		if end > j.TotalClients {
			end = j.TotalClients
		}
		batch := clients[start:end]
		j.CurrentBatch = start/j.BatchSize + 1

		// The batch runs on the parent context, not the cancel-cause one:
		// cancel is observed at the boundary, after in-flight clients
		// finished cleanly.
		success, failed := m.runBatch(ctx, batch)
		j.ProcessedClients += len(batch)
		j.SuccessClients += success
		j.FailedClients += failed
		j.LastProcessedID = batch[len(batch)-1].ID
		j.ETASeconds = etaSeconds(runStart, j.ProcessedClients-processedAtStart, j.TotalClients-j.ProcessedClients)

		if stopped, err := m.adoptStoreState(ctx, j, log); stopped || err != nil {
			return err
		}

		if err := m.store.UpdateJob(ctx, j); err != nil {
			return eris.Wrap(err, "job: checkpoint")
		}
		m.publish(j, progress.EventProgress, "")

		if j.CheckpointInterval > 0 && j.ProcessedClients-lastCheckpoint >= j.CheckpointInterval {
			lastCheckpoint = j.ProcessedClients
			m.publish(j, progress.EventCheckpoint, "checkpoint")
			log.Info("checkpoint",
				zap.Int("processed_clients", j.ProcessedClients),
				zap.Int("current_batch", j.CurrentBatch))
		}
	}

	done := time.Now().UTC()
	j.Status = model.JobStatusCompleted
	j.CompletedAt = &done
	j.ETASeconds = 0
	if err := m.store.UpdateJob(ctx, j); err != nil {
		return eris.Wrap(err, "job: mark completed")
	}
	m.publish(j, progress.EventCompleted, "completed")
	log.Info("job completed",
		zap.Int("success_clients", j.SuccessClients),
		zap.Int("failed_clients", j.FailedClients),
		zap.Duration("elapsed", time.Since(runStart)))
	return nil
}

// runBatch enriches one batch with bounded concurrency and returns the
// success and failure counts. Per-client failures are logged, never
// propagated.
func (m *Manager) runBatch(ctx context.Context, batch []model.Entity) (success, failed int) {
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(len(batch))

	for i := range batch {
		client := &batch[i]
		g.Go(func() error {
			if err := m.enrich(gctx, client); err != nil {
				m.logger.Warn("client enrichment failed",
					zap.String("client", client.Name),
					zap.Error(err))
				mu.Lock()
				failed++
				mu.Unlock()
				return nil
			}
			mu.Lock()
			success++
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return success, failed
}

// adoptStoreState re-reads the persisted job at a batch boundary. A
// pause or cancel issued against the store by another manager or process
// must win over this run's next checkpoint write, not be overwritten by
// it. Returns stopped=true when the run must not continue.
func (m *Manager) adoptStoreState(ctx context.Context, j *model.Job, log *zap.Logger) (bool, error) {
	persisted, err := m.store.GetJob(ctx, j.ID)
	if err != nil {
		log.Warn("status re-read failed", zap.Error(err))
		return false, nil
	}

	switch persisted.Status {
	case model.JobStatusPaused:
		log.Info("pause observed from store", zap.Int("processed_clients", j.ProcessedClients))
		return true, m.pauseRun(ctx, j, log)
	case model.JobStatusFailed:
		j.Status = model.JobStatusFailed
		j.ErrorMessage = persisted.ErrorMessage
		j.CompletedAt = persisted.CompletedAt
		if err := m.store.UpdateJob(ctx, j); err != nil {
			return true, eris.Wrap(err, "job: mark failed")
		}
		m.publish(j, progress.EventFailed, j.ErrorMessage)
		log.Info("cancellation observed from store", zap.String("error_message", j.ErrorMessage))
		return true, nil
	default:
		return false, nil
	}
}

func (m *Manager) pauseRun(ctx context.Context, j *model.Job, log *zap.Logger) error {
	now := time.Now().UTC()
	j.Status = model.JobStatusPaused
	j.PausedAt = &now
	if err := m.store.UpdateJob(ctx, j); err != nil {
		return eris.Wrap(err, "job: mark paused")
	}
	m.publish(j, progress.EventPaused, "paused")
	log.Info("job paused", zap.Int("processed_clients", j.ProcessedClients))
	return nil
}

// etaSeconds projects time remaining from the observed per-client rate
// of this run.
func etaSeconds(start time.Time, processed, remaining int) int {
	if processed <= 0 || remaining <= 0 {
		return 0
	}
	perClient := time.Since(start).Seconds() / float64(processed)
	return int(math.Round(perClient * float64(remaining)))
}

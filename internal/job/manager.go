// Package job runs durable, pausable enrichment jobs over a project's
// client set, checkpointing progress so interrupted runs resume where
// they stopped.
package job

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/segmenta/prospect-cli/internal/config"
	"github.com/segmenta/prospect-cli/internal/model"
	"github.com/segmenta/prospect-cli/internal/progress"
	"github.com/segmenta/prospect-cli/internal/store"
)

// ErrCancelled is the cause recorded when a user cancels a job.
var ErrCancelled = eris.New("cancelled by user")

// EnrichFunc processes one client record. Failures count against the job
// but do not stop it.
type EnrichFunc func(ctx context.Context, e *model.Entity) error

// Store is the slice of the persistence layer the manager needs.
type Store interface {
	ListEntities(ctx context.Context, projectID string, role model.Role) ([]model.Entity, error)
	CountEntities(ctx context.Context, projectID string, role model.Role) (int, error)
	CreateJob(ctx context.Context, job *model.Job) error
	GetJob(ctx context.Context, jobID string) (*model.Job, error)
	UpdateJob(ctx context.Context, job *model.Job) error
	ListJobs(ctx context.Context, filter store.JobFilter) ([]model.Job, error)
}

// runHandle tracks one in-flight job run in this process.
type runHandle struct {
	mu     sync.Mutex
	paused bool
	cancel context.CancelCauseFunc
}

func (h *runHandle) requestPause() {
	h.mu.Lock()
	h.paused = true
	h.mu.Unlock()
}

func (h *runHandle) pauseRequested() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.paused
}

// Manager owns the job state machine: creating jobs, running them in
// batches, and serving pause, resume, and cancel requests. Pause and
// cancel are cooperative; a running job honors them at the next batch
// boundary.
type Manager struct {
	store       Store
	enrich      EnrichFunc
	broadcaster *progress.Broadcaster
	batch       config.BatchConfig
	logger      *zap.Logger

	mu      sync.Mutex
	running map[string]*runHandle
}

// NewManager wires a manager from its collaborators.
func NewManager(st Store, enrich EnrichFunc, b *progress.Broadcaster, batch config.BatchConfig) *Manager {
	return &Manager{
		store:       st,
		enrich:      enrich,
		broadcaster: b,
		batch:       batch,
		logger:      zap.L().With(zap.String("component", "job_manager")),
		running:     make(map[string]*runHandle),
	}
}

// Create registers a new pending job covering the project's current
// client set.
func (m *Manager) Create(ctx context.Context, projectID string) (*model.Job, error) {
	total, err := m.store.CountEntities(ctx, projectID, model.RoleClient)
	if err != nil {
		return nil, eris.Wrap(err, "job: count clients")
	}
	if total == 0 {
		return nil, eris.Errorf("job: project %s has no clients to enrich", projectID)
	}

	j := &model.Job{
		ID:                 uuid.NewString(),
		ProjectID:          projectID,
		Status:             model.JobStatusPending,
		TotalClients:       total,
		BatchSize:          m.batch.Size,
		CheckpointInterval: m.batch.CheckpointInterval,
		TotalBatches:       totalBatches(total, m.batch.Size),
	}
	if err := m.store.CreateJob(ctx, j); err != nil {
		return nil, eris.Wrap(err, "job: create")
	}

	m.logger.Info("job created",
		zap.String("job_id", j.ID),
		zap.String("project_id", projectID),
		zap.Int("total_clients", total))
	return j, nil
}

// Pause asks a job to stop at its next batch boundary. A job running in
// this process is flagged and will persist the paused state itself; a
// running job with no local handle is paused directly in the store.
func (m *Manager) Pause(ctx context.Context, jobID string) error {
	if h := m.handle(jobID); h != nil {
		h.requestPause()
		m.logger.Info("pause requested", zap.String("job_id", jobID))
		return nil
	}

	j, err := m.store.GetJob(ctx, jobID)
	if err != nil {
		return eris.Wrap(err, "job: pause")
	}
	if !j.Status.CanTransition(model.JobStatusPaused) {
		return eris.Errorf("job: cannot pause job in status %s", j.Status)
	}

	now := time.Now().UTC()
	j.Status = model.JobStatusPaused
	j.PausedAt = &now
	if err := m.store.UpdateJob(ctx, j); err != nil {
		return eris.Wrap(err, "job: pause")
	}
	m.publish(j, progress.EventPaused, "paused")
	return nil
}

// Resume continues a paused job from its last checkpoint, blocking until
// the job finishes, pauses again, or fails.
func (m *Manager) Resume(ctx context.Context, jobID string) error {
	j, err := m.store.GetJob(ctx, jobID)
	if err != nil {
		return eris.Wrap(err, "job: resume")
	}
	if j.Status != model.JobStatusPaused {
		return eris.Errorf("job: cannot resume job in status %s", j.Status)
	}
	return m.Run(ctx, jobID)
}

// Cancel terminally fails a running or paused job, recording the user's
// decision. A run in this process is interrupted at the next batch
// boundary and persists the failure itself.
func (m *Manager) Cancel(ctx context.Context, jobID string) error {
	if h := m.handle(jobID); h != nil {
		h.cancel(ErrCancelled)
		m.logger.Info("cancel requested", zap.String("job_id", jobID))
		return nil
	}

	j, err := m.store.GetJob(ctx, jobID)
	if err != nil {
		return eris.Wrap(err, "job: cancel")
	}
	if !j.Status.CanTransition(model.JobStatusFailed) {
		return eris.Errorf("job: cannot cancel job in status %s", j.Status)
	}
	return m.fail(ctx, j, ErrCancelled.Error())
}

// Progress returns the read-only projection of a job's state.
func (m *Manager) Progress(ctx context.Context, jobID string) (*model.JobProgress, error) {
	j, err := m.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, eris.Wrap(err, "job: progress")
	}
	p := j.Progress()
	return &p, nil
}

// List returns jobs matching the filter.
func (m *Manager) List(ctx context.Context, filter store.JobFilter) ([]model.Job, error) {
	jobs, err := m.store.ListJobs(ctx, filter)
	if err != nil {
		return nil, eris.Wrap(err, "job: list")
	}
	return jobs, nil
}

func (m *Manager) handle(jobID string) *runHandle {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running[jobID]
}

func (m *Manager) register(jobID string, cancel context.CancelCauseFunc) (*runHandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.running[jobID]; exists {
		return nil, eris.Errorf("job: %s is already running in this process", jobID)
	}
	h := &runHandle{cancel: cancel}
	m.running[jobID] = h
	return h, nil
}

func (m *Manager) unregister(jobID string) {
	m.mu.Lock()
	delete(m.running, jobID)
	m.mu.Unlock()
}

func (m *Manager) fail(ctx context.Context, j *model.Job, message string) error {
	now := time.Now().UTC()
	j.Status = model.JobStatusFailed
	j.ErrorMessage = message
	j.CompletedAt = &now
	if err := m.store.UpdateJob(ctx, j); err != nil {
		return eris.Wrap(err, "job: mark failed")
	}
	m.publish(j, progress.EventFailed, message)
	return nil
}

func (m *Manager) publish(j *model.Job, typ progress.EventType, message string) {
	if m.broadcaster == nil {
		return
	}
	m.broadcaster.Publish(progress.Update{
		JobID:     j.ID,
		Type:      typ,
		Progress:  j.Progress(),
		Message:   message,
		Timestamp: time.Now().UTC(),
	})
}

func totalBatches(total, batchSize int) int {
	if batchSize <= 0 {
		return 0
	}
	return (total + batchSize - 1) / batchSize
}

// Package store provides persistence for entities, markets, jobs, queue
// items, and the registry cache.
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmenta/prospect-cli/internal/model"
)

// JobFilter specifies criteria for listing jobs.
type JobFilter struct {
	ProjectID string          `json:"project_id,omitempty"`
	Status    model.JobStatus `json:"status,omitempty"`
	Limit     int             `json:"limit,omitempty"`
	Offset    int             `json:"offset,omitempty"`
}

// Store defines the persistence interface for the enrichment core.
type Store interface {
	// Entities (clients, competitors, leads)
	SaveEntity(ctx context.Context, role model.Role, e *model.Entity) error
	ListEntities(ctx context.Context, projectID string, role model.Role) ([]model.Entity, error)
	CountEntities(ctx context.Context, projectID string, role model.Role) (int, error)

	// Markets
	CreateMarket(ctx context.Context, m *model.Market) error
	ListMarkets(ctx context.Context, projectID string) ([]model.Market, error)

	// Jobs
	CreateJob(ctx context.Context, job *model.Job) error
	GetJob(ctx context.Context, jobID string) (*model.Job, error)
	UpdateJob(ctx context.Context, job *model.Job) error
	ListJobs(ctx context.Context, filter JobFilter) ([]model.Job, error)

	// Queue
	EnqueueItem(ctx context.Context, item *model.QueueItem) error
	PendingProjects(ctx context.Context) ([]string, error)
	DequeuePending(ctx context.Context, projectID string, limit int) ([]model.QueueItem, error)
	MarkItemProcessing(ctx context.Context, itemID string, startedAt time.Time) error
	CompleteItem(ctx context.Context, itemID string, result json.RawMessage) error
	FailItem(ctx context.Context, itemID string, message string) error
	ClearCompleted(ctx context.Context, projectID string) (int, error)
	RequeueStale(ctx context.Context, olderThan time.Time) (int, error)

	// Registry cache
	GetCacheEntry(ctx context.Context, cnpj string) (*model.CacheEntry, error)
	SetCacheEntry(ctx context.Context, entry *model.CacheEntry) error
	DeleteCacheEntry(ctx context.Context, cnpj string) error
	CacheStats(ctx context.Context) (*model.CacheStats, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

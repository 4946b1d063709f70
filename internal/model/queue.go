package model

import (
	"encoding/json"
	"time"
)

// QueueItemStatus represents the lifecycle of a deferred unit of work.
type QueueItemStatus string

const (
	QueueItemPending    QueueItemStatus = "pending"
	QueueItemProcessing QueueItemStatus = "processing"
	QueueItemCompleted  QueueItemStatus = "completed"
	QueueItemError      QueueItemStatus = "error"
)

// QueueItem is one unit of deferred enrichment work belonging to a project.
// Once completed or errored it is never re-dequeued; cleanup only deletes.
type QueueItem struct {
	ID           string          `json:"id"`
	ProjectID    string          `json:"project_id"`
	Status       QueueItemStatus `json:"status"`
	Priority     int             `json:"priority"`
	Payload      json.RawMessage `json:"payload"`
	Result       json.RawMessage `json:"result,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// ExecutionMode selects how a project's queue items are executed.
type ExecutionMode string

const (
	ExecutionSequential ExecutionMode = "sequential"
	ExecutionParallel   ExecutionMode = "parallel"
)

// ProjectConfig holds the per-project scheduling knobs consumed by the
// execution scheduler.
type ProjectConfig struct {
	ExecutionMode   ExecutionMode `json:"execution_mode"`
	MaxParallelJobs int           `json:"max_parallel_jobs"`
}

package model

import (
	"math"
	"time"
)

// JobStatus represents the current state of an enrichment job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusPaused    JobStatus = "paused"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// CanTransition reports whether the state machine allows moving from s to next.
func (s JobStatus) CanTransition(next JobStatus) bool {
	switch s {
	case JobStatusPending:
		return next == JobStatusRunning
	case JobStatusRunning:
		return next == JobStatusPaused || next == JobStatusCompleted || next == JobStatusFailed
	case JobStatusPaused:
		return next == JobStatusRunning || next == JobStatusFailed
	default:
		return false
	}
}

// Job is one durable enrichment run over a project's client set.
type Job struct {
	ID                 string    `json:"id"`
	ProjectID          string    `json:"project_id"`
	Status             JobStatus `json:"status"`
	TotalClients       int       `json:"total_clients"`
	ProcessedClients   int       `json:"processed_clients"`
	SuccessClients     int       `json:"success_clients"`
	FailedClients      int       `json:"failed_clients"`
	CurrentBatch       int       `json:"current_batch"`
	TotalBatches       int       `json:"total_batches"`
	BatchSize          int       `json:"batch_size"`
	CheckpointInterval int       `json:"checkpoint_interval"`
	ETASeconds         int       `json:"eta_seconds"`
	LastProcessedID    string    `json:"last_processed_id,omitempty"`
	ErrorMessage       string    `json:"error_message,omitempty"`

	StartedAt   *time.Time `json:"started_at,omitempty"`
	PausedAt    *time.Time `json:"paused_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// PercentComplete returns the job's progress as a rounded whole percentage.
func (j *Job) PercentComplete() int {
	if j.TotalClients == 0 {
		return 0
	}
	return int(math.Round(float64(j.ProcessedClients) / float64(j.TotalClients) * 100))
}

// JobProgress is the read-only projection returned by progress queries.
type JobProgress struct {
	JobID            string    `json:"job_id"`
	Status           JobStatus `json:"status"`
	TotalClients     int       `json:"total_clients"`
	ProcessedClients int       `json:"processed_clients"`
	SuccessClients   int       `json:"success_clients"`
	FailedClients    int       `json:"failed_clients"`
	CurrentBatch     int       `json:"current_batch"`
	TotalBatches     int       `json:"total_batches"`
	PercentComplete  int       `json:"percent_complete"`
	ETASeconds       int       `json:"eta_seconds"`
	ErrorMessage     string    `json:"error_message,omitempty"`
}

// Progress builds the read-only projection for the job.
func (j *Job) Progress() JobProgress {
	return JobProgress{
		JobID:            j.ID,
		Status:           j.Status,
		TotalClients:     j.TotalClients,
		ProcessedClients: j.ProcessedClients,
		SuccessClients:   j.SuccessClients,
		FailedClients:    j.FailedClients,
		CurrentBatch:     j.CurrentBatch,
		TotalBatches:     j.TotalBatches,
		PercentComplete:  j.PercentComplete(),
		ETASeconds:       j.ETASeconds,
		ErrorMessage:     j.ErrorMessage,
	}
}

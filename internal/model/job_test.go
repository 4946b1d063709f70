package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJobStatusCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from JobStatus
		to   JobStatus
		want bool
	}{
		{"pending to running", JobStatusPending, JobStatusRunning, true},
		{"pending to paused", JobStatusPending, JobStatusPaused, false},
		{"running to paused", JobStatusRunning, JobStatusPaused, true},
		{"running to completed", JobStatusRunning, JobStatusCompleted, true},
		{"running to failed", JobStatusRunning, JobStatusFailed, true},
		{"paused to running", JobStatusPaused, JobStatusRunning, true},
		{"paused to failed (cancel)", JobStatusPaused, JobStatusFailed, true},
		{"paused to completed", JobStatusPaused, JobStatusCompleted, false},
		{"completed is terminal", JobStatusCompleted, JobStatusRunning, false},
		{"failed is terminal", JobStatusFailed, JobStatusRunning, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.from.CanTransition(tc.to))
		})
	}
}

func TestJobStatusTerminal(t *testing.T) {
	assert.True(t, JobStatusCompleted.Terminal())
	assert.True(t, JobStatusFailed.Terminal())
	assert.False(t, JobStatusRunning.Terminal())
	assert.False(t, JobStatusPaused.Terminal())
	assert.False(t, JobStatusPending.Terminal())
}

func TestJobPercentComplete(t *testing.T) {
	tests := []struct {
		name      string
		processed int
		total     int
		want      int
	}{
		{"zero total", 0, 0, 0},
		{"none processed", 0, 10, 0},
		{"half", 5, 10, 50},
		{"rounds up", 1, 3, 33},
		{"rounds to nearest", 2, 3, 67},
		{"complete", 10, 10, 100},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			j := &Job{ProcessedClients: tc.processed, TotalClients: tc.total}
			assert.Equal(t, tc.want, j.PercentComplete())
		})
	}
}

func TestLabelForScore(t *testing.T) {
	assert.Equal(t, QualityExcellent, LabelForScore(100))
	assert.Equal(t, QualityExcellent, LabelForScore(80))
	assert.Equal(t, QualityGood, LabelForScore(79))
	assert.Equal(t, QualityGood, LabelForScore(60))
	assert.Equal(t, QualityRegular, LabelForScore(59))
	assert.Equal(t, QualityRegular, LabelForScore(40))
	assert.Equal(t, QualityPoor, LabelForScore(39))
	assert.Equal(t, QualityPoor, LabelForScore(0))
}

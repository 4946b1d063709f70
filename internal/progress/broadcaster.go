// Package progress provides in-memory publish/subscribe of job progress
// events for live streaming to observers. State is ephemeral: subscribers
// only see events published while they are attached.
package progress

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/segmenta/prospect-cli/internal/model"
)

// EventType classifies a progress update.
type EventType string

const (
	EventProgress   EventType = "progress"
	EventCheckpoint EventType = "checkpoint"
	EventPaused     EventType = "paused"
	EventCompleted  EventType = "completed"
	EventFailed     EventType = "failed"
)

// Update is one step-level progress event for a job.
type Update struct {
	JobID     string            `json:"job_id"`
	Type      EventType         `json:"type"`
	Progress  model.JobProgress `json:"progress"`
	Message   string            `json:"message,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// subscriberBuffer bounds each subscriber channel. Publish never blocks:
// an update to a full channel is dropped.
const subscriberBuffer = 16

// Broadcaster fans job progress updates out to live subscribers.
type Broadcaster struct {
	mu   sync.RWMutex
	subs map[string]map[int]chan Update
	next int
}

// NewBroadcaster creates an empty Broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[string]map[int]chan Update)}
}

// Subscribe registers an observer for a job's updates. The returned cancel
// function detaches the observer and closes the channel.
func (b *Broadcaster) Subscribe(jobID string) (<-chan Update, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Update, subscriberBuffer)
	id := b.next
	b.next++

	if b.subs[jobID] == nil {
		b.subs[jobID] = make(map[int]chan Update)
	}
	b.subs[jobID][id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if subs, ok := b.subs[jobID]; ok {
			if c, ok := subs[id]; ok {
				delete(subs, id)
				close(c)
			}
			if len(subs) == 0 {
				delete(b.subs, jobID)
			}
		}
	}
	return ch, cancel
}

// Publish delivers an update to all subscribers of the job. Slow consumers
// miss updates rather than stalling the publisher.
func (b *Broadcaster) Publish(update Update) {
	if update.Timestamp.IsZero() {
		update.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs[update.JobID] {
		select {
		case ch <- update:
		default:
			zap.L().Debug("progress: dropping update for slow subscriber",
				zap.String("job_id", update.JobID),
				zap.String("type", string(update.Type)),
			)
		}
	}
}

// SubscriberCount reports how many observers a job currently has.
func (b *Broadcaster) SubscriberCount(jobID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[jobID])
}

// Package progress throttles job progress writes so a chatty pipeline does
// not turn every block completion into a database update.
package progress

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	api "github.com/corestructure/remote-ocr/api/v1alpha1"
	"github.com/corestructure/remote-ocr/internal/store"
)

// JobWriter is the slice of the job store the updater needs.
type JobWriter interface {
	Update(ctx context.Context, id uuid.UUID, update store.JobUpdate) (*api.Job, error)
}

// Updater debounces progress reports for one job. A report is written through
// only when enough time has passed since the last write and the progress
// moved by at least the configured delta. Flush writes the pending report
// unconditionally and must be called before the job reaches a terminal
// status.
type Updater struct {
	jobs        JobWriter
	jobID       uuid.UUID
	minInterval time.Duration
	minDelta    float64

	mu          sync.Mutex
	lastFlushed time.Time
	lastValue   float64
	pending     float64
	pendingMsg  string
	dirty       bool
}

func NewUpdater(jobs JobWriter, jobID uuid.UUID, minInterval time.Duration, minDelta float64) *Updater {
	return &Updater{
		jobs:        jobs,
		jobID:       jobID,
		minInterval: minInterval,
		minDelta:    minDelta,
		lastValue:   -1,
	}
}

// Report records a progress value between 0 and 1. Progress never moves
// backwards; a lower value than the last write is kept only for its status
// message.
func (u *Updater) Report(ctx context.Context, value float64, message string) error {
	u.mu.Lock()

	if value < u.pending {
		value = u.pending
	}
	u.pending = value
	u.pendingMsg = message
	u.dirty = true

	tooSoon := time.Since(u.lastFlushed) < u.minInterval
	tooSmall := u.lastValue >= 0 && value-u.lastValue < u.minDelta && value < 1
	if tooSoon || tooSmall {
		u.mu.Unlock()
		return nil
	}

	return u.flushLocked(ctx)
}

// Flush writes the pending report regardless of debounce state.
func (u *Updater) Flush(ctx context.Context) error {
	u.mu.Lock()
	if !u.dirty {
		u.mu.Unlock()
		return nil
	}
	return u.flushLocked(ctx)
}

// flushLocked writes the pending state and releases the mutex.
func (u *Updater) flushLocked(ctx context.Context) error {
	value := u.pending
	message := u.pendingMsg
	u.lastFlushed = time.Now()
	u.lastValue = value
	u.dirty = false
	u.mu.Unlock()

	_, err := u.jobs.Update(ctx, u.jobID, store.JobUpdate{
		Progress:      &value,
		StatusMessage: &message,
	})
	return err
}

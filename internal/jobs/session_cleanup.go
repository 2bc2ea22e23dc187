// Package jobs contains the River background jobs of the change engine.
package jobs

import (
	"context"
	"time"

	"github.com/riverqueue/river"
	"go.uber.org/zap"

	"github.com/wobcom/netbox-sub000/internal/pkg/logger"
)

// SessionExpirer deactivates idle change sessions.
type SessionExpirer interface {
	ExpireIdle(ctx context.Context, cutoff time.Time) (int64, error)
}

// SessionCleanupArgs are the arguments of the periodic session cleanup job.
type SessionCleanupArgs struct{}

// Kind implements river.JobArgs.
func (SessionCleanupArgs) Kind() string { return "change_session_cleanup" }

// InsertOpts deduplicates overlapping cleanup runs.
func (SessionCleanupArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		UniqueOpts: river.UniqueOpts{
			ByPeriod: time.Minute,
		},
	}
}

// SessionCleanupWorker expires change sessions that are no longer in use:
// older than the session timeout with no diff activity inside the window.
type SessionCleanupWorker struct {
	river.WorkerDefaults[SessionCleanupArgs]

	sets           SessionExpirer
	sessionTimeout time.Duration
}

// NewSessionCleanupWorker creates the cleanup worker.
func NewSessionCleanupWorker(sets SessionExpirer, sessionTimeout time.Duration) *SessionCleanupWorker {
	return &SessionCleanupWorker{sets: sets, sessionTimeout: sessionTimeout}
}

// Work implements river.Worker.
func (w *SessionCleanupWorker) Work(ctx context.Context, job *river.Job[SessionCleanupArgs]) error {
	cutoff := time.Now().Add(-w.sessionTimeout)
	expired, err := w.sets.ExpireIdle(ctx, cutoff)
	if err != nil {
		return err
	}
	if expired > 0 {
		logger.Info("expired idle change sessions", zap.Int64("count", expired))
	}
	return nil
}

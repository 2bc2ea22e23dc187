package provision

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/wobcom/netbox-sub000/internal/domain"
	apperrors "github.com/wobcom/netbox-sub000/internal/pkg/errors"
	"github.com/wobcom/netbox-sub000/internal/pkg/logger"
	"github.com/wobcom/netbox-sub000/internal/pkg/worker"
)

// SetStore is the slice of the provision repository the orchestrator needs.
type SetStore interface {
	Create(ctx context.Context, ps *domain.ProvisionSet) error
	GetByID(ctx context.Context, id int64) (*domain.ProvisionSet, error)
	List(ctx context.Context) ([]*domain.ProvisionSet, error)
	Running(ctx context.Context) (*domain.ProvisionSet, error)
	SetLogFile(ctx context.Context, id int64, path string) error
	SetRunning(ctx context.Context, id int64) error
	SetStatus(ctx context.Context, id int64, status domain.ProvisionStatus) error
	FinishRun(ctx context.Context, id int64, status domain.ProvisionStatus, outputLog string) error
	AbortRunning(ctx context.Context) (int64, error)
	MarkNewerReverted(ctx context.Context, rolledBackToID int64) error
}

// ChangeSets is the change set repository slice used by the pipeline.
type ChangeSets interface {
	AttachUndeployed(ctx context.Context, provisionSetID int64) (int64, error)
	MarkImplemented(ctx context.Context, provisionSetID int64) error
	MarkRevertedAfterRollback(ctx context.Context, rolledBackTo time.Time) error
}

// Notifier publishes provision status transitions.
type Notifier interface {
	ProvisionStatus(id int64, status domain.ProvisionStatus)
}

// Submitter runs the pipeline detached from the deploy request.
type Submitter interface {
	SubmitDetached(poolName string, task worker.Task) error
}

// Config carries the pipeline settings.
type Config struct {
	LogDir        string
	DiffCommand   []string
	CommitCommand []string

	// DatabaseURL is handed to the commit phase as DATABASE_URL.
	DatabaseURL string
}

// Orchestrator drives provisioning runs through their state machine. One
// run at a time, guarded by the single-flight lock; the pipeline itself runs
// as a detached worker pool task so the deploy request returns immediately.
type Orchestrator struct {
	lock       *Lock
	provisions SetStore
	sets       ChangeSets
	workerAPI  WorkerAPI
	launcher   Launcher
	submitter  Submitter
	notifier   Notifier
	cfg        Config

	// pid is the tracked subprocess of the running pipeline, zero when no
	// subprocess is alive. Cleared before the terminal status is evaluated.
	pid atomic.Int64

	mu   sync.Mutex
	proc Process
}

// NewOrchestrator wires the deployment pipeline.
func NewOrchestrator(lock *Lock, provisions SetStore, sets ChangeSets, workerAPI WorkerAPI, launcher Launcher, submitter Submitter, notifier Notifier, cfg Config) *Orchestrator {
	return &Orchestrator{
		lock:       lock,
		provisions: provisions,
		sets:       sets,
		workerAPI:  workerAPI,
		launcher:   launcher,
		submitter:  submitter,
		notifier:   notifier,
		cfg:        cfg,
	}
}

// Deploy starts a provisioning run for all accepted sessions. Returns the
// new provision set immediately; the pipeline continues in the background.
// A run already holding the lock yields a conflict and no state is created.
func (o *Orchestrator) Deploy(ctx context.Context, username string) (*domain.ProvisionSet, error) {
	if !o.lock.TryAcquire() {
		return nil, apperrors.ErrProvisionRunningf(o.activeID(ctx))
	}

	ps := &domain.ProvisionSet{Username: &username}
	if err := o.provisions.Create(ctx, ps); err != nil {
		o.lock.Release()
		return nil, err
	}
	o.lock.Bind(ps.ID)

	logPath := filepath.Join(o.cfg.LogDir, fmt.Sprintf("provision-%d.log", ps.ID))
	if err := o.provisions.SetLogFile(ctx, ps.ID, logPath); err != nil {
		o.lock.Release()
		return nil, err
	}
	ps.LogFile = &logPath

	attached, err := o.sets.AttachUndeployed(ctx, ps.ID)
	if err != nil {
		o.lock.Release()
		return nil, err
	}
	logger.Info("provisioning started",
		zap.Int64("provision_set_id", ps.ID),
		zap.String("username", username),
		zap.Int64("change_sets", attached),
	)
	o.notify(ps.ID, domain.ProvisionNotStarted)

	if err := o.submitter.SubmitDetached("provision", func(taskCtx context.Context) {
		o.pipeline(taskCtx, ps.ID, logPath)
	}); err != nil {
		o.lock.Release()
		return nil, fmt.Errorf("submit pipeline: %w", err)
	}
	return ps, nil
}

// pipeline is the detached deployment run: worker prepare, diff subprocess,
// worker commit, commit subprocess, terminal bookkeeping. The lock is
// released only after the terminal status has been persisted.
func (o *Orchestrator) pipeline(ctx context.Context, id int64, logPath string) {
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		logger.Error("cannot open provision log",
			zap.Int64("provision_set_id", id), zap.Error(err))
		o.finish(ctx, id, domain.ProvisionFailed, logPath)
		return
	}
	defer logFile.Close()

	out, err := o.workerAPI.Prepare(ctx, id)
	if err != nil {
		var vErr *ValidationError
		if errors.As(err, &vErr) {
			fmt.Fprintln(logFile, vErr.Output)
			logger.Warn("worker rejected provision",
				zap.Int64("provision_set_id", id))
		} else {
			fmt.Fprintln(logFile, err.Error())
			logger.Error("worker prepare failed",
				zap.Int64("provision_set_id", id), zap.Error(err))
		}
		o.finish(ctx, id, domain.ProvisionFailed, logPath)
		return
	}
	fmt.Fprintln(logFile, out)

	if err := o.provisions.SetRunning(ctx, id); err != nil {
		fmt.Fprintln(logFile, err.Error())
		logger.Error("cannot mark provision running",
			zap.Int64("provision_set_id", id), zap.Error(err))
		o.finish(ctx, id, domain.ProvisionFailed, logPath)
		return
	}
	o.notify(id, domain.ProvisionRunning)

	// Phase A: the diff run. Synchronous wait, no timeout.
	status := o.runPhase(id, o.cfg.DiffCommand, nil, logFile)
	if status != domain.ProvisionFinished {
		o.workerAPI.Cleanup(ctx, id)
		o.finish(ctx, id, status, logPath)
		return
	}

	out, err = o.workerAPI.Commit(ctx, id)
	if err != nil {
		fmt.Fprintln(logFile, err.Error())
		logger.Error("worker commit failed",
			zap.Int64("provision_set_id", id), zap.Error(err))
		o.finish(ctx, id, domain.ProvisionFailed, logPath)
		return
	}
	fmt.Fprintln(logFile, out)

	// Phase B: the configuration-management run.
	env := []string{"DATABASE_URL=" + o.cfg.DatabaseURL}
	status = o.runPhase(id, o.cfg.CommitCommand, env, logFile)

	if status == domain.ProvisionFinished {
		if err := o.sets.MarkImplemented(ctx, id); err != nil {
			logger.Error("cannot mark change sets implemented",
				zap.Int64("provision_set_id", id), zap.Error(err))
		}
	}
	o.finish(ctx, id, status, logPath)
}

// runPhase launches one pipeline subprocess and waits for it. The tracked
// PID is cleared before the exit outcome is evaluated so a concurrent
// terminate never sees a stale process handle next to a settled status.
func (o *Orchestrator) runPhase(id int64, argv, extraEnv []string, logFile *os.File) domain.ProvisionStatus {
	proc, err := o.launcher.Start(argv, extraEnv, logFile)
	if err != nil {
		fmt.Fprintln(logFile, err.Error())
		logger.Error("cannot start pipeline subprocess",
			zap.Int64("provision_set_id", id),
			zap.Strings("argv", argv),
			zap.Error(err),
		)
		return domain.ProvisionFailed
	}

	o.mu.Lock()
	o.proc = proc
	o.mu.Unlock()
	o.pid.Store(int64(proc.PID()))

	waitErr := proc.Wait()

	o.pid.Store(0)
	o.mu.Lock()
	o.proc = nil
	o.mu.Unlock()

	return ExitStatus(waitErr)
}

// finish persists the terminal state, then releases the lock. The captured
// log moves from the file into the row; the file is removed.
func (o *Orchestrator) finish(ctx context.Context, id int64, status domain.ProvisionStatus, logPath string) {
	output := ""
	if data, err := os.ReadFile(logPath); err == nil {
		output = string(data)
	} else if !errors.Is(err, os.ErrNotExist) {
		logger.Warn("cannot read provision log",
			zap.Int64("provision_set_id", id), zap.Error(err))
	}

	if err := o.provisions.FinishRun(ctx, id, status, output); err != nil {
		logger.Error("cannot persist provision outcome",
			zap.Int64("provision_set_id", id),
			zap.String("status", string(status)),
			zap.Error(err),
		)
	}
	if err := os.Remove(logPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn("cannot remove provision log file",
			zap.Int64("provision_set_id", id), zap.Error(err))
	}

	o.lock.Release()
	logger.Info("provisioning stopped",
		zap.Int64("provision_set_id", id),
		zap.String("status", status.Label()),
	)
	o.notify(id, status)
}

// Terminate sends the abort signal to the running pipeline's subprocess.
// Only valid while the run is RUNNING with a live tracked process.
func (o *Orchestrator) Terminate(ctx context.Context, id int64) error {
	ps, err := o.provisions.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if ps.Status != domain.ProvisionRunning {
		return apperrors.Conflict(apperrors.CodeProvisionNotRunning,
			"provision is not running")
	}

	o.mu.Lock()
	proc := o.proc
	o.mu.Unlock()
	if proc == nil || o.lock.Holder() != id {
		return apperrors.NotFound(apperrors.CodeProcessNotFound,
			"no tracked process for this provision")
	}

	if err := proc.Signal(syscall.SIGTERM); err != nil {
		return apperrors.NotFound(apperrors.CodeProcessNotFound,
			"tracked process no longer exists")
	}
	logger.Info("provision terminate requested", zap.Int64("provision_set_id", id))
	return nil
}

// Review moves a terminal run into the manual review state.
func (o *Orchestrator) Review(ctx context.Context, id int64) (*domain.ProvisionSet, error) {
	ps, err := o.provisions.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	switch ps.Status {
	case domain.ProvisionFinished, domain.ProvisionFailed, domain.ProvisionAborted:
	default:
		return nil, apperrors.Conflict(apperrors.CodeProvisionNotDone,
			"provision has not reached a terminal state")
	}

	if err := o.provisions.SetStatus(ctx, id, domain.ProvisionReviewing); err != nil {
		return nil, err
	}
	ps.Status = domain.ProvisionReviewing
	o.notify(id, domain.ProvisionReviewing)
	return ps, nil
}

// Diff fetches the worker's rendered diff for a provision set.
func (o *Orchestrator) Diff(ctx context.Context, id int64) (string, error) {
	if _, err := o.provisions.GetByID(ctx, id); err != nil {
		return "", err
	}
	return o.workerAPI.Diff(ctx, id)
}

// Rollback asks the worker to roll the managed infrastructure back to the
// state of the given provision set, then marks every newer run and its
// sessions as reverted.
func (o *Orchestrator) Rollback(ctx context.Context, id int64) (string, error) {
	ps, err := o.provisions.GetByID(ctx, id)
	if err != nil {
		return "", err
	}

	out, err := o.workerAPI.Rollback(ctx, id)
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.CodeWorkerUnavailable,
			"rollback failed", http.StatusBadGateway)
	}

	if err := o.provisions.MarkNewerReverted(ctx, id); err != nil {
		return "", err
	}
	if err := o.sets.MarkRevertedAfterRollback(ctx, ps.CreatedAt); err != nil {
		return "", err
	}
	logger.Info("rolled back to provision", zap.Int64("provision_set_id", id))
	return out, nil
}

// AbortAllRunning force-aborts every run stuck in RUNNING and returns the
// count. Crash recovery after a restart lost the in-memory lock.
func (o *Orchestrator) AbortAllRunning(ctx context.Context) (int64, error) {
	return o.provisions.AbortRunning(ctx)
}

// Get fetches a provision set by id.
func (o *Orchestrator) Get(ctx context.Context, id int64) (*domain.ProvisionSet, error) {
	return o.provisions.GetByID(ctx, id)
}

// List returns all provision sets, newest first.
func (o *Orchestrator) List(ctx context.Context) ([]*domain.ProvisionSet, error) {
	return o.provisions.List(ctx)
}

// activeID resolves the id of the run currently holding the lock for the
// conflict response. Best-effort.
func (o *Orchestrator) activeID(ctx context.Context) int64 {
	if running, err := o.provisions.Running(ctx); err == nil && running != nil {
		return running.ID
	}
	return o.lock.Holder()
}

func (o *Orchestrator) notify(id int64, status domain.ProvisionStatus) {
	if o.notifier != nil {
		o.notifier.ProvisionStatus(id, status)
	}
}

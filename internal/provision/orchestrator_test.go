package provision

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wobcom/netbox-sub000/internal/domain"
	apperrors "github.com/wobcom/netbox-sub000/internal/pkg/errors"
	"github.com/wobcom/netbox-sub000/internal/pkg/logger"
	"github.com/wobcom/netbox-sub000/internal/pkg/worker"
)

func init() {
	// Initialize logger for tests
	_ = logger.Init("error", "json")
}

// memProvisions is an in-memory SetStore.
type memProvisions struct {
	mu   sync.Mutex
	next int64
	rows map[int64]*domain.ProvisionSet
}

func newMemProvisions() *memProvisions {
	return &memProvisions{rows: make(map[int64]*domain.ProvisionSet)}
}

func (m *memProvisions) Create(_ context.Context, ps *domain.ProvisionSet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.next++
	ps.ID = m.next
	ps.Status = domain.ProvisionNotStarted
	ps.CreatedAt = time.Now()
	cp := *ps
	m.rows[ps.ID] = &cp
	return nil
}

func (m *memProvisions) GetByID(_ context.Context, id int64) (*domain.ProvisionSet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ps, ok := m.rows[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	cp := *ps
	return &cp, nil
}

func (m *memProvisions) List(_ context.Context) ([]*domain.ProvisionSet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.ProvisionSet
	for _, ps := range m.rows {
		cp := *ps
		out = append(out, &cp)
	}
	return out, nil
}

func (m *memProvisions) Running(_ context.Context) (*domain.ProvisionSet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ps := range m.rows {
		if ps.Status == domain.ProvisionRunning {
			cp := *ps
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memProvisions) SetLogFile(_ context.Context, id int64, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ps, ok := m.rows[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	ps.LogFile = &path
	return nil
}

func (m *memProvisions) SetRunning(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for otherID, ps := range m.rows {
		if otherID != id && ps.Status == domain.ProvisionRunning {
			return apperrors.ErrConflict
		}
	}
	ps, ok := m.rows[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	ps.Status = domain.ProvisionRunning
	return nil
}

func (m *memProvisions) SetStatus(_ context.Context, id int64, status domain.ProvisionStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ps, ok := m.rows[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	ps.Status = status
	return nil
}

func (m *memProvisions) FinishRun(_ context.Context, id int64, status domain.ProvisionStatus, outputLog string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ps, ok := m.rows[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	ps.Status = status
	ps.OutputLog = &outputLog
	ps.LogFile = nil
	return nil
}

func (m *memProvisions) AbortRunning(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, ps := range m.rows {
		if ps.Status == domain.ProvisionRunning {
			ps.Status = domain.ProvisionAborted
			n++
		}
	}
	return n, nil
}

func (m *memProvisions) MarkNewerReverted(_ context.Context, rolledBackToID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, ps := range m.rows {
		if id > rolledBackToID {
			ps.Reverted = true
		}
	}
	return nil
}

func (m *memProvisions) status(id int64) domain.ProvisionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rows[id].Status
}

// fakeSets records the change set bookkeeping calls.
type fakeSets struct {
	mu          sync.Mutex
	attached    []int64
	implemented []int64
	revertedTo  []time.Time
}

func (f *fakeSets) AttachUndeployed(_ context.Context, provisionSetID int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attached = append(f.attached, provisionSetID)
	return 2, nil
}

func (f *fakeSets) MarkImplemented(_ context.Context, provisionSetID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.implemented = append(f.implemented, provisionSetID)
	return nil
}

func (f *fakeSets) MarkRevertedAfterRollback(_ context.Context, rolledBackTo time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revertedTo = append(f.revertedTo, rolledBackTo)
	return nil
}

// fakeWorker is a scriptable WorkerAPI.
type fakeWorker struct {
	mu         sync.Mutex
	prepareErr error
	commits    []int64
	cleanups   []int64
	rollbacks  []int64
	actionErr  error
}

func (f *fakeWorker) Prepare(context.Context, int64) (string, error) {
	if f.prepareErr != nil {
		return "", f.prepareErr
	}
	return "rendered configs", nil
}

func (f *fakeWorker) Diff(context.Context, int64) (string, error) {
	return "+ hostname sw1", f.actionErr
}

func (f *fakeWorker) Commit(_ context.Context, id int64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.actionErr != nil {
		return "", f.actionErr
	}
	f.commits = append(f.commits, id)
	return "committed", nil
}

func (f *fakeWorker) Rollback(_ context.Context, id int64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.actionErr != nil {
		return "", f.actionErr
	}
	f.rollbacks = append(f.rollbacks, id)
	return "rolled back", nil
}

func (f *fakeWorker) Cleanup(_ context.Context, id int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleanups = append(f.cleanups, id)
}

func (f *fakeWorker) commitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.commits)
}

// syncSubmitter runs the pipeline inline so Deploy only returns once the
// run has finished.
type syncSubmitter struct{}

func (syncSubmitter) SubmitDetached(_ string, task worker.Task) error {
	task(context.Background())
	return nil
}

// heldSubmitter swallows the pipeline so the lock stays taken.
type heldSubmitter struct{}

func (heldSubmitter) SubmitDetached(string, worker.Task) error { return nil }

// asyncSubmitter runs the pipeline in the background.
type asyncSubmitter struct {
	wg sync.WaitGroup
}

func (s *asyncSubmitter) SubmitDetached(_ string, task worker.Task) error {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		task(context.Background())
	}()
	return nil
}

// notifySpy records every status broadcast together with the lock holder and
// the persisted status observed at that moment.
type notifySpy struct {
	mu    sync.Mutex
	lock  *Lock
	repo  *memProvisions
	seen  []domain.ProvisionStatus
	holds []int64
	rows  []domain.ProvisionStatus
}

func (n *notifySpy) ProvisionStatus(id int64, status domain.ProvisionStatus) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.seen = append(n.seen, status)
	n.holds = append(n.holds, n.lock.Holder())
	n.rows = append(n.rows, n.repo.status(id))
}

func (n *notifySpy) statuses() []domain.ProvisionStatus {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]domain.ProvisionStatus(nil), n.seen...)
}

type fixture struct {
	orch   *Orchestrator
	repo   *memProvisions
	sets   *fakeSets
	worker *fakeWorker
	spy    *notifySpy
	lock   *Lock
	logDir string
}

func newFixture(t *testing.T, submitter Submitter, cfg Config) *fixture {
	t.Helper()
	lock := NewLock()
	repo := newMemProvisions()
	sets := &fakeSets{}
	w := &fakeWorker{}
	spy := &notifySpy{lock: lock, repo: repo}
	if cfg.LogDir == "" {
		cfg.LogDir = t.TempDir()
	}
	orch := NewOrchestrator(lock, repo, sets, w, ExecLauncher{}, submitter, spy, cfg)
	return &fixture{orch: orch, repo: repo, sets: sets, worker: w, spy: spy, lock: lock, logDir: cfg.LogDir}
}

func TestDeployHappyPath(t *testing.T) {
	fx := newFixture(t, syncSubmitter{}, Config{
		DiffCommand:   []string{"sh", "-c", "echo diff phase"},
		CommitCommand: []string{"sh", "-c", "echo commit phase"},
		DatabaseURL:   "postgres://test",
	})

	ps, err := fx.orch.Deploy(context.Background(), "alice")
	require.NoError(t, err)
	require.NotZero(t, ps.ID)

	require.Equal(t, []domain.ProvisionStatus{
		domain.ProvisionNotStarted,
		domain.ProvisionRunning,
		domain.ProvisionFinished,
	}, fx.spy.statuses())

	final, err := fx.repo.GetByID(context.Background(), ps.ID)
	require.NoError(t, err)
	require.Equal(t, domain.ProvisionFinished, final.Status)
	require.Nil(t, final.LogFile)
	require.NotNil(t, final.OutputLog)
	require.Contains(t, *final.OutputLog, "rendered configs")
	require.Contains(t, *final.OutputLog, "diff phase")
	require.Contains(t, *final.OutputLog, "commit phase")

	// The lock is held at every non-terminal broadcast; the terminal one
	// happens after the lock is free and the outcome is persisted.
	require.NotZero(t, fx.spy.holds[0])
	require.Equal(t, ps.ID, fx.spy.holds[1])
	require.Equal(t, int64(0), fx.spy.holds[2])
	require.Equal(t, domain.ProvisionFinished, fx.spy.rows[2])
	require.Equal(t, int64(0), fx.lock.Holder())

	require.Equal(t, []int64{ps.ID}, fx.sets.attached)
	require.Equal(t, []int64{ps.ID}, fx.sets.implemented)

	// The log file was collapsed into the row and removed.
	_, err = os.Stat(filepath.Join(fx.logDir, "provision-1.log"))
	require.True(t, errors.Is(err, os.ErrNotExist))
}

func TestDeployValidationFailure(t *testing.T) {
	fx := newFixture(t, syncSubmitter{}, Config{})
	fx.worker.prepareErr = &ValidationError{Output: "device sw1 has no platform"}

	ps, err := fx.orch.Deploy(context.Background(), "alice")
	require.NoError(t, err)

	final, err := fx.repo.GetByID(context.Background(), ps.ID)
	require.NoError(t, err)
	require.Equal(t, domain.ProvisionFailed, final.Status)
	require.Contains(t, *final.OutputLog, "device sw1 has no platform")

	// The run never became RUNNING and the commit phase never happened.
	require.NotContains(t, fx.spy.statuses(), domain.ProvisionRunning)
	require.Zero(t, fx.worker.commitCount())
	require.Empty(t, fx.sets.implemented)
	require.Equal(t, int64(0), fx.lock.Holder())
}

func TestDeployWorkerUnreachable(t *testing.T) {
	fx := newFixture(t, syncSubmitter{}, Config{})
	fx.worker.prepareErr = errors.New("connection refused")

	ps, err := fx.orch.Deploy(context.Background(), "alice")
	require.NoError(t, err)

	require.Equal(t, domain.ProvisionFailed, fx.repo.status(ps.ID))
	require.Zero(t, fx.worker.commitCount())
	require.Equal(t, int64(0), fx.lock.Holder())
}

func TestDeployDiffPhaseFailureRunsCleanup(t *testing.T) {
	fx := newFixture(t, syncSubmitter{}, Config{
		DiffCommand: []string{"sh", "-c", "echo bad render; exit 2"},
	})

	ps, err := fx.orch.Deploy(context.Background(), "alice")
	require.NoError(t, err)

	final, err := fx.repo.GetByID(context.Background(), ps.ID)
	require.NoError(t, err)
	require.Equal(t, domain.ProvisionFailed, final.Status)
	require.Contains(t, *final.OutputLog, "bad render")
	require.Equal(t, []int64{ps.ID}, fx.worker.cleanups)
	require.Zero(t, fx.worker.commitCount())
	require.Empty(t, fx.sets.implemented)
}

func TestDeployConflictsWhileRunning(t *testing.T) {
	fx := newFixture(t, heldSubmitter{}, Config{})

	first, err := fx.orch.Deploy(context.Background(), "alice")
	require.NoError(t, err)

	_, err = fx.orch.Deploy(context.Background(), "bob")
	require.Error(t, err)

	appErr, ok := apperrors.IsAppError(err)
	require.True(t, ok)
	require.Equal(t, apperrors.CodeProvisionRunning, appErr.Code)
	require.Equal(t, http.StatusConflict, appErr.HTTPStatus)
	require.Equal(t, first.ID, appErr.Params["active_provision_id"])

	// The losing deploy created nothing.
	all, err := fx.repo.List(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func TestTerminateAbortsRunningPipeline(t *testing.T) {
	sub := &asyncSubmitter{}
	fx := newFixture(t, sub, Config{
		DiffCommand:   []string{"sleep", "30"},
		CommitCommand: []string{"sh", "-c", "true"},
	})

	ps, err := fx.orch.Deploy(context.Background(), "alice")
	require.NoError(t, err)

	// Terminate fails until the run is RUNNING with a tracked subprocess.
	require.Eventually(t, func() bool {
		return fx.orch.Terminate(context.Background(), ps.ID) == nil
	}, 5*time.Second, 10*time.Millisecond)

	sub.wg.Wait()
	require.Equal(t, domain.ProvisionAborted, fx.repo.status(ps.ID))
	require.Zero(t, fx.worker.commitCount())
	require.Equal(t, int64(0), fx.lock.Holder())
}

func TestTerminateRequiresRunningState(t *testing.T) {
	fx := newFixture(t, heldSubmitter{}, Config{})

	ps, err := fx.orch.Deploy(context.Background(), "alice")
	require.NoError(t, err)

	err = fx.orch.Terminate(context.Background(), ps.ID)
	appErr, ok := apperrors.IsAppError(err)
	require.True(t, ok)
	require.Equal(t, apperrors.CodeProvisionNotRunning, appErr.Code)

	// RUNNING in the database but no tracked subprocess.
	require.NoError(t, fx.repo.SetRunning(context.Background(), ps.ID))
	err = fx.orch.Terminate(context.Background(), ps.ID)
	appErr, ok = apperrors.IsAppError(err)
	require.True(t, ok)
	require.Equal(t, apperrors.CodeProcessNotFound, appErr.Code)
}

func TestReviewRequiresTerminalState(t *testing.T) {
	fx := newFixture(t, heldSubmitter{}, Config{})
	ctx := context.Background()

	ps, err := fx.orch.Deploy(ctx, "alice")
	require.NoError(t, err)

	_, err = fx.orch.Review(ctx, ps.ID)
	appErr, ok := apperrors.IsAppError(err)
	require.True(t, ok)
	require.Equal(t, apperrors.CodeProvisionNotDone, appErr.Code)

	require.NoError(t, fx.repo.SetStatus(ctx, ps.ID, domain.ProvisionFailed))
	reviewed, err := fx.orch.Review(ctx, ps.ID)
	require.NoError(t, err)
	require.Equal(t, domain.ProvisionReviewing, reviewed.Status)
	require.Contains(t, fx.spy.statuses(), domain.ProvisionReviewing)
}

func TestRollback(t *testing.T) {
	fx := newFixture(t, heldSubmitter{}, Config{})
	ctx := context.Background()

	older, err := fx.orch.Deploy(ctx, "alice")
	require.NoError(t, err)
	fx.lock.Release()
	newer, err := fx.orch.Deploy(ctx, "alice")
	require.NoError(t, err)
	fx.lock.Release()

	out, err := fx.orch.Rollback(ctx, older.ID)
	require.NoError(t, err)
	require.Equal(t, "rolled back", out)
	require.Equal(t, []int64{older.ID}, fx.worker.rollbacks)
	require.Len(t, fx.sets.revertedTo, 1)

	got, err := fx.repo.GetByID(ctx, newer.ID)
	require.NoError(t, err)
	require.True(t, got.Reverted)
	unchanged, err := fx.repo.GetByID(ctx, older.ID)
	require.NoError(t, err)
	require.False(t, unchanged.Reverted)
}

func TestRollbackWorkerFailure(t *testing.T) {
	fx := newFixture(t, heldSubmitter{}, Config{})
	ctx := context.Background()

	ps, err := fx.orch.Deploy(ctx, "alice")
	require.NoError(t, err)
	fx.lock.Release()

	fx.worker.actionErr = errors.New("worker down")
	_, err = fx.orch.Rollback(ctx, ps.ID)
	appErr, ok := apperrors.IsAppError(err)
	require.True(t, ok)
	require.Equal(t, apperrors.CodeWorkerUnavailable, appErr.Code)
	require.Equal(t, http.StatusBadGateway, appErr.HTTPStatus)
}

func TestAbortAllRunning(t *testing.T) {
	fx := newFixture(t, heldSubmitter{}, Config{})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		u := "alice"
		require.NoError(t, fx.repo.Create(ctx, &domain.ProvisionSet{Username: &u}))
	}
	require.NoError(t, fx.repo.SetRunning(ctx, 1))
	require.NoError(t, fx.repo.FinishRun(ctx, 1, domain.ProvisionAborted, ""))
	require.NoError(t, fx.repo.SetRunning(ctx, 2))

	n, err := fx.orch.AbortAllRunning(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
	require.Equal(t, domain.ProvisionAborted, fx.repo.status(2))
	require.Equal(t, domain.ProvisionNotStarted, fx.repo.status(3))
}

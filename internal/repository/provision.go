package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wobcom/netbox-sub000/internal/domain"
	apperrors "github.com/wobcom/netbox-sub000/internal/pkg/errors"
)

// ProvisionRepo persists provisioning runs. The RUNNING single-flight
// guarantee is backed by the uq_provision_set_running partial index, so it
// holds across server processes, not just within one.
type ProvisionRepo struct {
	pool *pgxpool.Pool
}

// NewProvisionRepo creates a provision set repository.
func NewProvisionRepo(pool *pgxpool.Pool) *ProvisionRepo {
	return &ProvisionRepo{pool: pool}
}

const provisionColumns = `id, username, status, output_log, log_file, reverted, created_at, updated_at`

func scanProvisionSet(row pgx.Row) (*domain.ProvisionSet, error) {
	var ps domain.ProvisionSet
	err := row.Scan(&ps.ID, &ps.Username, &ps.Status, &ps.OutputLog, &ps.LogFile,
		&ps.Reverted, &ps.CreatedAt, &ps.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &ps, nil
}

// Create inserts a new run in NOT_STARTED and fills its id and timestamps.
func (r *ProvisionRepo) Create(ctx context.Context, ps *domain.ProvisionSet) error {
	ps.Status = domain.ProvisionNotStarted
	row := r.pool.QueryRow(ctx, `
		INSERT INTO provision_set (username, status, log_file)
		VALUES ($1, $2, $3)
		RETURNING id, created_at, updated_at`,
		ps.Username, ps.Status, ps.LogFile,
	)
	if err := row.Scan(&ps.ID, &ps.CreatedAt, &ps.UpdatedAt); err != nil {
		return fmt.Errorf("insert provision set: %w", err)
	}
	return nil
}

// GetByID fetches one run. Returns apperrors.ErrNotFound when missing.
func (r *ProvisionRepo) GetByID(ctx context.Context, id int64) (*domain.ProvisionSet, error) {
	ps, err := scanProvisionSet(r.pool.QueryRow(ctx,
		`SELECT `+provisionColumns+` FROM provision_set WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("get provision set %d: %w", id, err)
	}
	return ps, nil
}

// List returns all runs, newest first.
func (r *ProvisionRepo) List(ctx context.Context) ([]*domain.ProvisionSet, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+provisionColumns+` FROM provision_set ORDER BY id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list provision sets: %w", err)
	}
	defer rows.Close()

	var sets []*domain.ProvisionSet
	for rows.Next() {
		ps, err := scanProvisionSet(rows)
		if err != nil {
			return nil, err
		}
		sets = append(sets, ps)
	}
	return sets, rows.Err()
}

// Running returns the currently running run, or nil when none is running.
func (r *ProvisionRepo) Running(ctx context.Context) (*domain.ProvisionSet, error) {
	ps, err := scanProvisionSet(r.pool.QueryRow(ctx,
		`SELECT `+provisionColumns+` FROM provision_set WHERE status = 'RUNNING'`))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get running provision set: %w", err)
	}
	return ps, nil
}

// SetRunning moves the run into RUNNING. A unique violation on the partial
// index means another run already holds the slot; that is reported as
// apperrors.ErrConflict so callers can surface it as a deploy conflict.
func (r *ProvisionRepo) SetRunning(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE provision_set SET status = 'RUNNING', updated_at = now() WHERE id = $1`, id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return apperrors.ErrConflict
		}
		return fmt.Errorf("set provision %d running: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

// SetLogFile records the live output log path of a starting run.
func (r *ProvisionRepo) SetLogFile(ctx context.Context, id int64, path string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE provision_set SET log_file = $2, updated_at = now() WHERE id = $1`,
		id, path)
	if err != nil {
		return fmt.Errorf("set provision %d log file: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

// SetStatus persists a status transition.
func (r *ProvisionRepo) SetStatus(ctx context.Context, id int64, status domain.ProvisionStatus) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE provision_set SET status = $2, updated_at = now() WHERE id = $1`,
		id, status)
	if err != nil {
		return fmt.Errorf("set provision %d status %s: %w", id, status, err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

// FinishRun persists the terminal status together with the captured output
// and clears the live log file reference in the same statement, so readers
// never see a terminal run still pointing at a log file.
func (r *ProvisionRepo) FinishRun(ctx context.Context, id int64, status domain.ProvisionStatus, outputLog string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE provision_set
		SET status = $2, output_log = $3, log_file = NULL, updated_at = now()
		WHERE id = $1`,
		id, status, outputLog)
	if err != nil {
		return fmt.Errorf("finish provision %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

// AbortRunning marks every run stuck in RUNNING as ABORTED and returns the
// number of runs aborted. Used for crash recovery after an unclean shutdown.
func (r *ProvisionRepo) AbortRunning(ctx context.Context) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE provision_set
		SET status = 'ABORTED', updated_at = now()
		WHERE status = 'RUNNING'`)
	if err != nil {
		return 0, fmt.Errorf("abort running provisions: %w", err)
	}
	return tag.RowsAffected(), nil
}

// MarkNewerReverted flags every run newer than the rollback target.
func (r *ProvisionRepo) MarkNewerReverted(ctx context.Context, rolledBackToID int64) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE provision_set
		SET reverted = TRUE, updated_at = now()
		WHERE id > $1`,
		rolledBackToID)
	if err != nil {
		return fmt.Errorf("mark provisions after %d reverted: %w", rolledBackToID, err)
	}
	return nil
}

// Package repository contains the hand-written pgx persistence layer.
// Queries are explicit SQL; the change engine deliberately avoids a generic
// ORM so the write path can be decorated by the tracking recorder.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wobcom/netbox-sub000/internal/domain"
	apperrors "github.com/wobcom/netbox-sub000/internal/pkg/errors"
)

// ChangeSetRepo persists change sessions and their meta information.
type ChangeSetRepo struct {
	pool *pgxpool.Pool
}

// NewChangeSetRepo creates a change set repository.
func NewChangeSetRepo(pool *pgxpool.Pool) *ChangeSetRepo {
	return &ChangeSetRepo{pool: pool}
}

const changeSetColumns = `id, ticket_id, username, active, status, change_information_id,
	provision_set_id, reverted, started, updated`

func scanChangeSet(row pgx.Row) (*domain.ChangeSet, error) {
	var cs domain.ChangeSet
	err := row.Scan(&cs.ID, &cs.TicketID, &cs.Username, &cs.Active, &cs.Status,
		&cs.ChangeInformationID, &cs.ProvisionSetID, &cs.Reverted, &cs.Started, &cs.Updated)
	if err != nil {
		return nil, err
	}
	return &cs, nil
}

// Create inserts a new change set and fills its id and timestamps.
func (r *ChangeSetRepo) Create(ctx context.Context, cs *domain.ChangeSet) error {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO change_set (ticket_id, username, active, status, change_information_id, reverted)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, started, updated`,
		cs.TicketID, cs.Username, cs.Active, cs.Status, cs.ChangeInformationID, cs.Reverted,
	)
	if err := row.Scan(&cs.ID, &cs.Started, &cs.Updated); err != nil {
		return fmt.Errorf("insert change set: %w", err)
	}
	return nil
}

// Update persists mutable change set fields and bumps the updated timestamp.
func (r *ChangeSetRepo) Update(ctx context.Context, cs *domain.ChangeSet) error {
	row := r.pool.QueryRow(ctx, `
		UPDATE change_set
		SET ticket_id = $2, active = $3, status = $4, change_information_id = $5,
		    provision_set_id = $6, reverted = $7, updated = now()
		WHERE id = $1
		RETURNING updated`,
		cs.ID, cs.TicketID, cs.Active, cs.Status, cs.ChangeInformationID,
		cs.ProvisionSetID, cs.Reverted,
	)
	if err := row.Scan(&cs.Updated); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.ErrNotFound
		}
		return fmt.Errorf("update change set %d: %w", cs.ID, err)
	}
	return nil
}

// GetByID fetches one change set. Returns apperrors.ErrNotFound when missing.
func (r *ChangeSetRepo) GetByID(ctx context.Context, id int64) (*domain.ChangeSet, error) {
	cs, err := scanChangeSet(r.pool.QueryRow(ctx,
		`SELECT `+changeSetColumns+` FROM change_set WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("get change set %d: %w", id, err)
	}
	return cs, nil
}

// ActiveForUser returns the user's active change set, or nil when the user
// is not in a change.
func (r *ChangeSetRepo) ActiveForUser(ctx context.Context, username string) (*domain.ChangeSet, error) {
	cs, err := scanChangeSet(r.pool.QueryRow(ctx,
		`SELECT `+changeSetColumns+` FROM change_set WHERE username = $1 AND active`, username))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get active change set for %q: %w", username, err)
	}
	return cs, nil
}

// List returns all change sets, newest first.
func (r *ChangeSetRepo) List(ctx context.Context) ([]*domain.ChangeSet, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+changeSetColumns+` FROM change_set ORDER BY id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list change sets: %w", err)
	}
	defer rows.Close()

	var sets []*domain.ChangeSet
	for rows.Next() {
		cs, err := scanChangeSet(rows)
		if err != nil {
			return nil, err
		}
		sets = append(sets, cs)
	}
	return sets, rows.Err()
}

// ForProvisionSet returns the change sets attached to a provisioning run.
func (r *ChangeSetRepo) ForProvisionSet(ctx context.Context, provisionSetID int64) ([]*domain.ChangeSet, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+changeSetColumns+` FROM change_set WHERE provision_set_id = $1 ORDER BY id`,
		provisionSetID)
	if err != nil {
		return nil, fmt.Errorf("list change sets of provision %d: %w", provisionSetID, err)
	}
	defer rows.Close()

	var sets []*domain.ChangeSet
	for rows.Next() {
		cs, err := scanChangeSet(rows)
		if err != nil {
			return nil, err
		}
		sets = append(sets, cs)
	}
	return sets, rows.Err()
}

// AttachUndeployed attaches every session that is not yet implemented, under
// review or reverted to the given provisioning run. Returns the number of
// sessions attached. Sessions bound to an earlier failed or aborted run are
// picked up again, a retry deploy must carry them.
func (r *ChangeSetRepo) AttachUndeployed(ctx context.Context, provisionSetID int64) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE change_set
		SET provision_set_id = $1, updated = now()
		WHERE status NOT IN ('IMPLEMENTED', 'IN_REVIEW', 'REJECTED')
		  AND NOT reverted`,
		provisionSetID)
	if err != nil {
		return 0, fmt.Errorf("attach change sets to provision %d: %w", provisionSetID, err)
	}
	return tag.RowsAffected(), nil
}

// MarkImplemented promotes all sessions of a finished provisioning run.
func (r *ChangeSetRepo) MarkImplemented(ctx context.Context, provisionSetID int64) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE change_set
		SET status = 'IMPLEMENTED', updated = now()
		WHERE provision_set_id = $1`,
		provisionSetID)
	if err != nil {
		return fmt.Errorf("mark change sets of provision %d implemented: %w", provisionSetID, err)
	}
	return nil
}

// ActiveDraftUsernames returns the roster of users currently in an active
// draft session, sorted for stable broadcasts.
func (r *ChangeSetRepo) ActiveDraftUsernames(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT username FROM change_set
		WHERE active AND status = 'DRAFT' AND username IS NOT NULL
		ORDER BY username`)
	if err != nil {
		return nil, fmt.Errorf("list users in change: %w", err)
	}
	defer rows.Close()

	users := make([]string, 0)
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// ExpireIdle deactivates active sessions that started before the cutoff and
// have no diff rows newer than it. Returns the number of expired sessions.
func (r *ChangeSetRepo) ExpireIdle(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE change_set cs
		SET active = FALSE, updated = now()
		WHERE cs.active
		  AND cs.started < $1
		  AND NOT EXISTS (
			SELECT 1 FROM changed_field f
			WHERE f.change_set_id = cs.id AND f.created_at >= $1)
		  AND NOT EXISTS (
			SELECT 1 FROM changed_object o
			WHERE o.change_set_id = cs.id AND o.created_at >= $1)`,
		cutoff)
	if err != nil {
		return 0, fmt.Errorf("expire idle change sets: %w", err)
	}
	return tag.RowsAffected(), nil
}

// MarkRevertedAfterRollback flags every session made stale by rolling back
// to the given point in time: sessions of newer provisioning runs, and
// accepted sessions not yet attached to any run.
func (r *ChangeSetRepo) MarkRevertedAfterRollback(ctx context.Context, rolledBackTo time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE change_set
		SET reverted = TRUE, updated = now()
		WHERE (provision_set_id IN (SELECT id FROM provision_set WHERE created_at > $1))
		   OR (provision_set_id IS NULL AND status = 'ACCEPTED')`,
		rolledBackTo)
	if err != nil {
		return fmt.Errorf("mark change sets reverted: %w", err)
	}
	return nil
}

package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wobcom/netbox-sub000/internal/domain"
)

// DiffRepo persists field-level and object-level diffs. Diff rows are
// append-only and outlive their parent session (set-null on deletion).
type DiffRepo struct {
	pool *pgxpool.Pool
}

// NewDiffRepo creates a diff repository.
func NewDiffRepo(pool *pgxpool.Pool) *DiffRepo {
	return &DiffRepo{pool: pool}
}

// InsertField records one field-level diff.
func (r *DiffRepo) InsertField(ctx context.Context, f *domain.ChangedField) error {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO changed_field
			(change_set_id, object_kind, object_id, field, old_value, new_value, username)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at`,
		f.ChangeSetID, f.Object.Kind, f.Object.ID, f.Field, f.OldValue, f.NewValue, f.Username,
	)
	if err := row.Scan(&f.ID, &f.CreatedAt); err != nil {
		return fmt.Errorf("insert changed field %s.%s: %w", f.Object, f.Field, err)
	}
	return nil
}

// InsertObject records one whole-object creation diff.
func (r *DiffRepo) InsertObject(ctx context.Context, o *domain.ChangedObject) error {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO changed_object
			(change_set_id, object_kind, object_id, object_data, username)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`,
		o.ChangeSetID, o.Object.Kind, o.Object.ID, o.Data, o.Username,
	)
	if err := row.Scan(&o.ID, &o.CreatedAt); err != nil {
		return fmt.Errorf("insert changed object %s: %w", o.Object, err)
	}
	return nil
}

// FieldsForSet returns all field diffs of a session in insertion order.
func (r *DiffRepo) FieldsForSet(ctx context.Context, changeSetID int64) ([]*domain.ChangedField, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, change_set_id, object_kind, object_id, field, old_value, new_value, username, created_at
		FROM changed_field WHERE change_set_id = $1 ORDER BY id`,
		changeSetID)
	if err != nil {
		return nil, fmt.Errorf("list changed fields of set %d: %w", changeSetID, err)
	}
	defer rows.Close()

	var fields []*domain.ChangedField
	for rows.Next() {
		f, err := scanChangedField(rows)
		if err != nil {
			return nil, err
		}
		fields = append(fields, f)
	}
	return fields, rows.Err()
}

// ObjectsForSet returns all creation diffs of a session in insertion order.
func (r *DiffRepo) ObjectsForSet(ctx context.Context, changeSetID int64) ([]*domain.ChangedObject, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, change_set_id, object_kind, object_id, object_data, username, created_at
		FROM changed_object WHERE change_set_id = $1 ORDER BY id`,
		changeSetID)
	if err != nil {
		return nil, fmt.Errorf("list changed objects of set %d: %w", changeSetID, err)
	}
	defer rows.Close()

	var objects []*domain.ChangedObject
	for rows.Next() {
		var o domain.ChangedObject
		if err := rows.Scan(&o.ID, &o.ChangeSetID, &o.Object.Kind, &o.Object.ID,
			&o.Data, &o.Username, &o.CreatedAt); err != nil {
			return nil, err
		}
		objects = append(objects, &o)
	}
	return objects, rows.Err()
}

// NewerThan reports whether the session has any diff rows recorded at or
// after the given instant. Used by the in-use check that protects sessions
// from premature expiry.
func (r *DiffRepo) NewerThan(ctx context.Context, changeSetID int64, since time.Time) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM changed_field WHERE change_set_id = $1 AND created_at >= $2
			UNION ALL
			SELECT 1 FROM changed_object WHERE change_set_id = $1 AND created_at >= $2
		)`,
		changeSetID, since,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check recent diffs of set %d: %w", changeSetID, err)
	}
	return exists, nil
}

func scanChangedField(row pgx.Row) (*domain.ChangedField, error) {
	var f domain.ChangedField
	err := row.Scan(&f.ID, &f.ChangeSetID, &f.Object.Kind, &f.Object.ID,
		&f.Field, &f.OldValue, &f.NewValue, &f.Username, &f.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

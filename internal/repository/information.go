package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wobcom/netbox-sub000/internal/domain"
	apperrors "github.com/wobcom/netbox-sub000/internal/pkg/errors"
)

// InformationRepo persists change meta information and affected customers.
type InformationRepo struct {
	pool *pgxpool.Pool
}

// NewInformationRepo creates a change information repository.
func NewInformationRepo(pool *pgxpool.Pool) *InformationRepo {
	return &InformationRepo{pool: pool}
}

// Create inserts the change information and its affected customers in one
// transaction.
func (r *InformationRepo) Create(ctx context.Context, ci *domain.ChangeInformation) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		INSERT INTO change_information
			(is_emergency, is_extensive, affects_customer, change_implications, ignore_implications)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		ci.IsEmergency, ci.IsExtensive, ci.AffectsCustomer,
		ci.ChangeImplications, ci.IgnoreImplications,
	)
	if err := row.Scan(&ci.ID); err != nil {
		return fmt.Errorf("insert change information: %w", err)
	}

	for i := range ci.AffectedCustomers {
		c := &ci.AffectedCustomers[i]
		c.InformationID = ci.ID
		row := tx.QueryRow(ctx, `
			INSERT INTO affected_customer (information_id, name, is_business, products_affected)
			VALUES ($1, $2, $3, $4)
			RETURNING id`,
			c.InformationID, c.Name, c.IsBusiness, c.ProductsAffected,
		)
		if err := row.Scan(&c.ID); err != nil {
			return fmt.Errorf("insert affected customer %q: %w", c.Name, err)
		}
	}

	return tx.Commit(ctx)
}

// GetByID fetches change information including its affected customers.
func (r *InformationRepo) GetByID(ctx context.Context, id int64) (*domain.ChangeInformation, error) {
	var ci domain.ChangeInformation
	err := r.pool.QueryRow(ctx, `
		SELECT id, is_emergency, is_extensive, affects_customer, change_implications, ignore_implications
		FROM change_information WHERE id = $1`, id,
	).Scan(&ci.ID, &ci.IsEmergency, &ci.IsExtensive, &ci.AffectsCustomer,
		&ci.ChangeImplications, &ci.IgnoreImplications)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("get change information %d: %w", id, err)
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, information_id, name, is_business, products_affected
		FROM affected_customer WHERE information_id = $1 ORDER BY id`, id)
	if err != nil {
		return nil, fmt.Errorf("list affected customers of %d: %w", id, err)
	}
	defer rows.Close()

	for rows.Next() {
		var c domain.AffectedCustomer
		if err := rows.Scan(&c.ID, &c.InformationID, &c.Name, &c.IsBusiness, &c.ProductsAffected); err != nil {
			return nil, err
		}
		ci.AffectedCustomers = append(ci.AffectedCustomers, c)
	}
	return &ci, rows.Err()
}

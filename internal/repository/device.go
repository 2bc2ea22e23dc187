package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wobcom/netbox-sub000/internal/inventory"
	apperrors "github.com/wobcom/netbox-sub000/internal/pkg/errors"
	"github.com/wobcom/netbox-sub000/internal/record"
)

// DeviceRepo persists devices and serves as the record store for the
// "dcim.device" kind, so device writes flow through the tracking recorder.
type DeviceRepo struct {
	pool *pgxpool.Pool
}

var _ record.Store = (*DeviceRepo)(nil)

// NewDeviceRepo creates a device repository.
func NewDeviceRepo(pool *pgxpool.Pool) *DeviceRepo {
	return &DeviceRepo{pool: pool}
}

// Kind returns the record kind discriminator served by this store.
func (r *DeviceRepo) Kind() string { return inventory.KindDevice }

const deviceColumns = `id, name, serial, asset_tag, status, role, platform`

func scanDevice(row pgx.Row) (*inventory.Device, error) {
	var d inventory.Device
	err := row.Scan(&d.ID, &d.Name, &d.Serial, &d.AssetTag, &d.Status, &d.Role, &d.Platform)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// Load fetches a device by id.
func (r *DeviceRepo) Load(ctx context.Context, id int64) (record.Object, bool, error) {
	d, err := scanDevice(r.pool.QueryRow(ctx,
		`SELECT `+deviceColumns+` FROM device WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("get device %d: %w", id, err)
	}
	return d, true, nil
}

// Save inserts or updates a device. Records carrying an explicit id are
// written with that id so a replayed creation diff restores the original
// primary key.
func (r *DeviceRepo) Save(ctx context.Context, obj record.Object) error {
	d, ok := obj.(*inventory.Device)
	if !ok {
		return fmt.Errorf("device store cannot save kind %q", obj.Kind())
	}

	if d.ID == 0 {
		row := r.pool.QueryRow(ctx, `
			INSERT INTO device (name, serial, asset_tag, status, role, platform)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id`,
			d.Name, d.Serial, d.AssetTag, d.Status, d.Role, d.Platform,
		)
		if err := row.Scan(&d.ID); err != nil {
			if isUniqueViolation(err) {
				return apperrors.ErrAlreadyExists
			}
			return fmt.Errorf("insert device %q: %w", d.Name, err)
		}
		return nil
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO device (id, name, serial, asset_tag, status, role, platform)
		OVERRIDING SYSTEM VALUE
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name, serial = EXCLUDED.serial,
		    asset_tag = EXCLUDED.asset_tag, status = EXCLUDED.status,
		    role = EXCLUDED.role, platform = EXCLUDED.platform`,
		d.ID, d.Name, d.Serial, d.AssetTag, d.Status, d.Role, d.Platform,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.ErrAlreadyExists
		}
		return fmt.Errorf("save device %d: %w", d.ID, err)
	}
	return nil
}

// Delete removes a device. Missing devices are not an error.
func (r *DeviceRepo) Delete(ctx context.Context, id int64) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM device WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete device %d: %w", id, err)
	}
	return nil
}

// Decode reconstructs a device from a recorded snapshot.
func (r *DeviceRepo) Decode(data json.RawMessage) (record.Object, error) {
	var d inventory.Device
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("decode device snapshot: %w", err)
	}
	return &d, nil
}

// ListDevices returns all devices ordered by name.
func (r *DeviceRepo) ListDevices(ctx context.Context) ([]*inventory.Device, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+deviceColumns+` FROM device ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	defer rows.Close()

	var devices []*inventory.Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

// GetDeviceByName fetches a device by its unique name.
func (r *DeviceRepo) GetDeviceByName(ctx context.Context, name string) (*inventory.Device, error) {
	d, err := scanDevice(r.pool.QueryRow(ctx,
		`SELECT `+deviceColumns+` FROM device WHERE name = $1`, name))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("get device %q: %w", name, err)
	}
	return d, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

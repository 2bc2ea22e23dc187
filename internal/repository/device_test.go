package repository

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wobcom/netbox-sub000/internal/inventory"
	apperrors "github.com/wobcom/netbox-sub000/internal/pkg/errors"
	"github.com/wobcom/netbox-sub000/internal/testutil"
)

func TestDeviceSaveAndLoad(t *testing.T) {
	pool := testutil.OpenPGXPool(t, t.Name())
	repo := NewDeviceRepo(pool)
	ctx := context.Background()

	d := &inventory.Device{Name: "sw1", Serial: "S123", Status: "active", Platform: "eos"}
	require.NoError(t, repo.Save(ctx, d))
	require.NotZero(t, d.ID)

	obj, found, err := repo.Load(ctx, d.ID)
	require.NoError(t, err)
	require.True(t, found)
	got := obj.(*inventory.Device)
	require.Equal(t, "sw1", got.Name)
	require.Equal(t, "S123", got.Serial)
	require.Nil(t, got.AssetTag)

	_, found, err = repo.Load(ctx, 9999)
	require.NoError(t, err)
	require.False(t, found)

	// Saving with the id set updates in place.
	got.Status = "offline"
	require.NoError(t, repo.Save(ctx, got))
	obj, _, err = repo.Load(ctx, d.ID)
	require.NoError(t, err)
	require.Equal(t, "offline", obj.(*inventory.Device).Status)
}

func TestDeviceNameUnique(t *testing.T) {
	pool := testutil.OpenPGXPool(t, t.Name())
	repo := NewDeviceRepo(pool)
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, &inventory.Device{Name: "sw1", Status: "active"}))
	err := repo.Save(ctx, &inventory.Device{Name: "sw1", Status: "active"})
	require.ErrorIs(t, err, apperrors.ErrAlreadyExists)
}

func TestDeviceExplicitIDRestore(t *testing.T) {
	pool := testutil.OpenPGXPool(t, t.Name())
	repo := NewDeviceRepo(pool)
	ctx := context.Background()

	d := &inventory.Device{Name: "sw1", Status: "active"}
	require.NoError(t, repo.Save(ctx, d))
	snap, err := d.Snapshot()
	require.NoError(t, err)

	require.NoError(t, repo.Delete(ctx, d.ID))
	_, found, err := repo.Load(ctx, d.ID)
	require.NoError(t, err)
	require.False(t, found)

	// Replaying a creation snapshot restores the original primary key.
	obj, err := repo.Decode(json.RawMessage(snap))
	require.NoError(t, err)
	require.NoError(t, repo.Save(ctx, obj))

	_, found, err = repo.Load(ctx, d.ID)
	require.NoError(t, err)
	require.True(t, found)

	// New rows keep allocating past the restored id.
	d2 := &inventory.Device{Name: "sw2", Status: "active"}
	require.NoError(t, repo.Save(ctx, d2))
	require.Greater(t, d2.ID, d.ID)
}

func TestDeviceListAndGetByName(t *testing.T) {
	pool := testutil.OpenPGXPool(t, t.Name())
	repo := NewDeviceRepo(pool)
	ctx := context.Background()

	for _, name := range []string{"sw2", "sw1", "core1"} {
		require.NoError(t, repo.Save(ctx, &inventory.Device{Name: name, Status: "active"}))
	}

	devices, err := repo.ListDevices(ctx)
	require.NoError(t, err)
	require.Len(t, devices, 3)
	require.Equal(t, "core1", devices[0].Name)
	require.Equal(t, "sw1", devices[1].Name)
	require.Equal(t, "sw2", devices[2].Name)

	d, err := repo.GetDeviceByName(ctx, "sw1")
	require.NoError(t, err)
	require.Equal(t, "sw1", d.Name)

	_, err = repo.GetDeviceByName(ctx, "missing")
	require.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestDeviceDeleteMissingIsNoError(t *testing.T) {
	pool := testutil.OpenPGXPool(t, t.Name())
	repo := NewDeviceRepo(pool)
	require.NoError(t, repo.Delete(context.Background(), 9999))
}

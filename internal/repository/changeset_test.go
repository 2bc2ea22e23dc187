package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/wobcom/netbox-sub000/internal/domain"
	apperrors "github.com/wobcom/netbox-sub000/internal/pkg/errors"
	"github.com/wobcom/netbox-sub000/internal/pkg/logger"
	"github.com/wobcom/netbox-sub000/internal/testutil"
)

func init() {
	// Initialize logger for tests
	_ = logger.Init("error", "json")
}

func str(s string) *string { return &s }

func newDraft(t *testing.T, repo *ChangeSetRepo, username string) *domain.ChangeSet {
	t.Helper()
	ticket := uuid.New()
	cs := &domain.ChangeSet{
		TicketID: &ticket,
		Username: str(username),
		Active:   true,
		Status:   domain.ChangeDraft,
	}
	require.NoError(t, repo.Create(context.Background(), cs))
	return cs
}

func TestChangeSetCreateAndGet(t *testing.T) {
	pool := testutil.OpenPGXPool(t, t.Name())
	repo := NewChangeSetRepo(pool)
	ctx := context.Background()

	cs := newDraft(t, repo, "alice")
	require.NotZero(t, cs.ID)
	require.False(t, cs.Started.IsZero())

	got, err := repo.GetByID(ctx, cs.ID)
	require.NoError(t, err)
	require.Equal(t, "alice", got.User())
	require.Equal(t, domain.ChangeDraft, got.Status)
	require.True(t, got.Active)
	require.Equal(t, *cs.TicketID, *got.TicketID)

	_, err = repo.GetByID(ctx, 9999)
	require.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestChangeSetOneActivePerUser(t *testing.T) {
	pool := testutil.OpenPGXPool(t, t.Name())
	repo := NewChangeSetRepo(pool)
	ctx := context.Background()

	newDraft(t, repo, "alice")

	// The partial unique index rejects a second active session.
	err := repo.Create(ctx, &domain.ChangeSet{
		Username: str("alice"),
		Active:   true,
		Status:   domain.ChangeDraft,
	})
	require.Error(t, err)

	// A different user and an inactive session are fine.
	newDraft(t, repo, "bob")
	require.NoError(t, repo.Create(ctx, &domain.ChangeSet{
		Username: str("alice"),
		Active:   false,
		Status:   domain.ChangeAccepted,
	}))
}

func TestChangeSetActiveForUser(t *testing.T) {
	pool := testutil.OpenPGXPool(t, t.Name())
	repo := NewChangeSetRepo(pool)
	ctx := context.Background()

	none, err := repo.ActiveForUser(ctx, "alice")
	require.NoError(t, err)
	require.Nil(t, none)

	cs := newDraft(t, repo, "alice")
	active, err := repo.ActiveForUser(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, active)
	require.Equal(t, cs.ID, active.ID)

	cs.Active = false
	require.NoError(t, repo.Update(ctx, cs))
	none, err = repo.ActiveForUser(ctx, "alice")
	require.NoError(t, err)
	require.Nil(t, none)
}

func TestChangeSetAttachAndImplement(t *testing.T) {
	pool := testutil.OpenPGXPool(t, t.Name())
	repo := NewChangeSetRepo(pool)
	provisions := NewProvisionRepo(pool)
	ctx := context.Background()

	accepted := newDraft(t, repo, "alice")
	accepted.Active = false
	accepted.Status = domain.ChangeAccepted
	require.NoError(t, repo.Update(ctx, accepted))

	rejected := newDraft(t, repo, "bob")
	rejected.Active = false
	rejected.Status = domain.ChangeRejected
	require.NoError(t, repo.Update(ctx, rejected))

	ps := &domain.ProvisionSet{Username: str("alice")}
	require.NoError(t, provisions.Create(ctx, ps))

	n, err := repo.AttachUndeployed(ctx, ps.ID)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	attached, err := repo.ForProvisionSet(ctx, ps.ID)
	require.NoError(t, err)
	require.Len(t, attached, 1)
	require.Equal(t, accepted.ID, attached[0].ID)

	require.NoError(t, repo.MarkImplemented(ctx, ps.ID))
	got, err := repo.GetByID(ctx, accepted.ID)
	require.NoError(t, err)
	require.Equal(t, domain.ChangeImplemented, got.Status)

	// The rejected session was never attached.
	got, err = repo.GetByID(ctx, rejected.ID)
	require.NoError(t, err)
	require.Nil(t, got.ProvisionSetID)
	require.Equal(t, domain.ChangeRejected, got.Status)
}

func TestChangeSetReattachAfterFailedRun(t *testing.T) {
	pool := testutil.OpenPGXPool(t, t.Name())
	repo := NewChangeSetRepo(pool)
	provisions := NewProvisionRepo(pool)
	ctx := context.Background()

	accepted := newDraft(t, repo, "alice")
	accepted.Active = false
	accepted.Status = domain.ChangeAccepted
	require.NoError(t, repo.Update(ctx, accepted))

	failed := &domain.ProvisionSet{Username: str("alice")}
	require.NoError(t, provisions.Create(ctx, failed))
	n, err := repo.AttachUndeployed(ctx, failed.ID)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
	require.NoError(t, provisions.FinishRun(ctx, failed.ID, domain.ProvisionFailed, "phase a blew up"))

	// A retry deploy carries the session of the failed run along.
	retry := &domain.ProvisionSet{Username: str("alice")}
	require.NoError(t, provisions.Create(ctx, retry))
	n, err = repo.AttachUndeployed(ctx, retry.ID)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	got, err := repo.GetByID(ctx, accepted.ID)
	require.NoError(t, err)
	require.Equal(t, retry.ID, *got.ProvisionSetID)

	require.NoError(t, repo.MarkImplemented(ctx, retry.ID))
	got, err = repo.GetByID(ctx, accepted.ID)
	require.NoError(t, err)
	require.Equal(t, domain.ChangeImplemented, got.Status)

	// Once implemented it stays with its run.
	third := &domain.ProvisionSet{Username: str("alice")}
	require.NoError(t, provisions.Create(ctx, third))
	n, err = repo.AttachUndeployed(ctx, third.ID)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestChangeSetActiveDraftUsernames(t *testing.T) {
	pool := testutil.OpenPGXPool(t, t.Name())
	repo := NewChangeSetRepo(pool)
	ctx := context.Background()

	users, err := repo.ActiveDraftUsernames(ctx)
	require.NoError(t, err)
	require.Empty(t, users)

	newDraft(t, repo, "bob")
	newDraft(t, repo, "alice")
	ended := newDraft(t, repo, "carol")
	ended.Active = false
	require.NoError(t, repo.Update(ctx, ended))

	users, err = repo.ActiveDraftUsernames(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"alice", "bob"}, users)
}

func TestChangeSetExpireIdle(t *testing.T) {
	pool := testutil.OpenPGXPool(t, t.Name())
	repo := NewChangeSetRepo(pool)
	diffs := NewDiffRepo(pool)
	ctx := context.Background()

	idle := newDraft(t, repo, "alice")
	busy := newDraft(t, repo, "bob")
	fresh := newDraft(t, repo, "carol")

	// Backdate the first two past the cutoff.
	for _, id := range []int64{idle.ID, busy.ID} {
		_, err := pool.Exec(ctx,
			`UPDATE change_set SET started = now() - interval '2 hours' WHERE id = $1`, id)
		require.NoError(t, err)
	}

	// Recent diff activity protects the busy session.
	require.NoError(t, diffs.InsertField(ctx, &domain.ChangedField{
		ChangeSetID: &busy.ID,
		Object:      domain.ObjectRef{Kind: "dcim.device", ID: 1},
		Field:       "name",
		Username:    str("bob"),
	}))

	n, err := repo.ExpireIdle(ctx, time.Now().Add(-30*time.Minute))
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	got, err := repo.GetByID(ctx, idle.ID)
	require.NoError(t, err)
	require.False(t, got.Active)

	for _, id := range []int64{busy.ID, fresh.ID} {
		got, err = repo.GetByID(ctx, id)
		require.NoError(t, err)
		require.True(t, got.Active)
	}
}

func TestChangeSetMarkRevertedAfterRollback(t *testing.T) {
	pool := testutil.OpenPGXPool(t, t.Name())
	repo := NewChangeSetRepo(pool)
	provisions := NewProvisionRepo(pool)
	ctx := context.Background()

	older := &domain.ProvisionSet{Username: str("alice")}
	require.NoError(t, provisions.Create(ctx, older))
	newer := &domain.ProvisionSet{Username: str("alice")}
	require.NoError(t, provisions.Create(ctx, newer))
	_, err := pool.Exec(ctx,
		`UPDATE provision_set SET created_at = now() - interval '1 hour' WHERE id = $1`, older.ID)
	require.NoError(t, err)
	older, err = provisions.GetByID(ctx, older.ID)
	require.NoError(t, err)

	deployedOld := newDraft(t, repo, "alice")
	deployedOld.Active = false
	deployedOld.Status = domain.ChangeImplemented
	deployedOld.ProvisionSetID = &older.ID
	require.NoError(t, repo.Update(ctx, deployedOld))

	deployedNew := newDraft(t, repo, "bob")
	deployedNew.Active = false
	deployedNew.Status = domain.ChangeImplemented
	deployedNew.ProvisionSetID = &newer.ID
	require.NoError(t, repo.Update(ctx, deployedNew))

	pending := newDraft(t, repo, "carol")
	pending.Active = false
	pending.Status = domain.ChangeAccepted
	require.NoError(t, repo.Update(ctx, pending))

	require.NoError(t, repo.MarkRevertedAfterRollback(ctx, older.CreatedAt))

	got, err := repo.GetByID(ctx, deployedOld.ID)
	require.NoError(t, err)
	require.False(t, got.Reverted)

	got, err = repo.GetByID(ctx, deployedNew.ID)
	require.NoError(t, err)
	require.True(t, got.Reverted)

	got, err = repo.GetByID(ctx, pending.ID)
	require.NoError(t, err)
	require.True(t, got.Reverted)
}

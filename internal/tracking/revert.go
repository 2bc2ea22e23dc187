package tracking

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/wobcom/netbox-sub000/internal/domain"
	"github.com/wobcom/netbox-sub000/internal/pkg/logger"
)

// RevertField restores a recorded field diff. The revert is skipped when the
// live value no longer equals the recorded new value: an intervening change
// happened and must not be clobbered.
func (r *Recorder) RevertField(ctx context.Context, f *domain.ChangedField) error {
	return r.applyField(ctx, f, f.New(), f.Old())
}

// ApplyField replays a recorded field diff: the live value must still equal
// the recorded old value, otherwise the apply is skipped.
func (r *Recorder) ApplyField(ctx context.Context, f *domain.ChangedField) error {
	return r.applyField(ctx, f, f.Old(), f.New())
}

func (r *Recorder) applyField(ctx context.Context, f *domain.ChangedField, expect, set string) error {
	store, ok := r.registry.Lookup(f.Object.Kind)
	if !ok {
		return fmt.Errorf("kind %q is not registered for tracking", f.Object.Kind)
	}

	obj, found, err := store.Load(ctx, f.Object.ID)
	if err != nil {
		return fmt.Errorf("load %s: %w", f.Object, err)
	}
	if !found {
		logger.Debug("field revert skipped: record no longer exists",
			zap.String("object", f.Object.String()),
			zap.String("field", f.Field),
		)
		return nil
	}

	// Stored values are truncated, compare on the same footing.
	live := truncate(obj.FieldValues()[f.Field], r.maxValueLen)
	if live != expect {
		logger.Debug("field revert skipped: live value diverged",
			zap.String("object", f.Object.String()),
			zap.String("field", f.Field),
			zap.String("live", live),
			zap.String("expected", expect),
		)
		return nil
	}

	if err := obj.ApplyField(f.Field, set); err != nil {
		return fmt.Errorf("apply field %s.%s: %w", f.Object, f.Field, err)
	}
	return store.Save(ctx, obj)
}

// RevertObject deletes the record a creation diff refers to.
func (r *Recorder) RevertObject(ctx context.Context, o *domain.ChangedObject) error {
	store, ok := r.registry.Lookup(o.Object.Kind)
	if !ok {
		return fmt.Errorf("kind %q is not registered for tracking", o.Object.Kind)
	}
	return store.Delete(ctx, o.Object.ID)
}

// ApplyObject recreates the record a creation diff refers to from its
// snapshot. A no-op when a record with that id already exists.
func (r *Recorder) ApplyObject(ctx context.Context, o *domain.ChangedObject) error {
	store, ok := r.registry.Lookup(o.Object.Kind)
	if !ok {
		return fmt.Errorf("kind %q is not registered for tracking", o.Object.Kind)
	}

	_, found, err := store.Load(ctx, o.Object.ID)
	if err != nil {
		return fmt.Errorf("load %s: %w", o.Object, err)
	}
	if found {
		return nil
	}

	obj, err := store.Decode(o.Data)
	if err != nil {
		return fmt.Errorf("decode snapshot of %s: %w", o.Object, err)
	}
	return store.Save(ctx, obj)
}

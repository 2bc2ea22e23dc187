// Package tracking implements the write interception layer: a change-aware
// decorator around the record stores that captures field-level and
// object-level diffs for every write performed while the acting user has an
// active change session, and replays or reverts them on demand.
package tracking

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/wobcom/netbox-sub000/internal/domain"
	"github.com/wobcom/netbox-sub000/internal/pkg/logger"
	"github.com/wobcom/netbox-sub000/internal/record"
)

// DiffStore persists captured diffs.
type DiffStore interface {
	InsertField(ctx context.Context, f *domain.ChangedField) error
	InsertObject(ctx context.Context, o *domain.ChangedObject) error
}

// SessionSource resolves the acting user's current change session.
type SessionSource interface {
	// ActiveForUser returns the user's active change set, or nil when the
	// user is not in a change.
	ActiveForUser(ctx context.Context, username string) (*domain.ChangeSet, error)
}

// Recorder wraps the record registry with change tracking. Writes performed
// through Save while the actor is in an active session produce one
// ChangedField row per changed column, or a single ChangedObject snapshot for
// newly created records.
//
// Classification is "does a row with this id currently exist", so a create
// reusing the id of a hard-deleted row is misattributed as an update. This
// matches the source system and is documented rather than fixed.
type Recorder struct {
	registry *record.Registry
	diffs    DiffStore
	sessions SessionSource

	// maxValueLen bounds stored diff values; longer values are truncated.
	maxValueLen int
}

// NewRecorder creates a change-aware recorder. maxValueLen must be positive.
func NewRecorder(registry *record.Registry, diffs DiffStore, sessions SessionSource, maxValueLen int) *Recorder {
	if maxValueLen <= 0 {
		maxValueLen = 150
	}
	return &Recorder{
		registry:    registry,
		diffs:       diffs,
		sessions:    sessions,
		maxValueLen: maxValueLen,
	}
}

// Registry exposes the underlying record registry.
func (r *Recorder) Registry() *record.Registry {
	return r.registry
}

// Save persists obj through its registered store. If actor has an active
// change session the write is diffed against the current persisted state and
// the deltas are recorded.
func (r *Recorder) Save(ctx context.Context, actor string, obj record.Object) error {
	store, ok := r.registry.Lookup(obj.Kind())
	if !ok {
		return fmt.Errorf("kind %q is not registered for tracking", obj.Kind())
	}

	cs, err := r.sessions.ActiveForUser(ctx, actor)
	if err != nil {
		return fmt.Errorf("resolve active change for %q: %w", actor, err)
	}
	if cs == nil {
		return store.Save(ctx, obj)
	}

	var before record.Object
	found := false
	if id := obj.ObjectID(); id != 0 {
		before, found, err = store.Load(ctx, id)
		if err != nil {
			return fmt.Errorf("load before-image of %s#%d: %w", obj.Kind(), id, err)
		}
	}

	if err := store.Save(ctx, obj); err != nil {
		return err
	}

	if !found {
		return r.recordCreation(ctx, store, cs, actor, obj)
	}
	return r.recordUpdate(ctx, store, cs, actor, before, obj)
}

// recordCreation captures a whole-object snapshot. No column-level diffing:
// there is no before state.
func (r *Recorder) recordCreation(ctx context.Context, store record.Store, cs *domain.ChangeSet, actor string, obj record.Object) error {
	data, err := obj.Snapshot()
	if err != nil {
		r.restore(ctx, store, nil, obj)
		return fmt.Errorf("snapshot %s#%d: %w", obj.Kind(), obj.ObjectID(), err)
	}

	co := &domain.ChangedObject{
		ChangeSetID: &cs.ID,
		Object:      domain.ObjectRef{Kind: obj.Kind(), ID: obj.ObjectID()},
		Data:        data,
		Username:    &actor,
	}
	if err := r.diffs.InsertObject(ctx, co); err != nil {
		r.restore(ctx, store, nil, obj)
		return fmt.Errorf("record creation of %s: %w", co.Object, err)
	}
	return nil
}

// recordUpdate diffs every column and emits one ChangedField per delta.
func (r *Recorder) recordUpdate(ctx context.Context, store record.Store, cs *domain.ChangeSet, actor string, before, after record.Object) error {
	deltas := diffFields(before.FieldValues(), after.FieldValues(), r.maxValueLen)

	for _, d := range deltas {
		cf := &domain.ChangedField{
			ChangeSetID: &cs.ID,
			Object:      domain.ObjectRef{Kind: after.Kind(), ID: after.ObjectID()},
			Field:       d.name,
			OldValue:    d.old,
			NewValue:    d.new,
			Username:    &actor,
		}
		if err := r.diffs.InsertField(ctx, cf); err != nil {
			r.restore(ctx, store, before, after)
			return fmt.Errorf("record change of %s.%s: %w", cf.Object, d.name, err)
		}
	}
	return nil
}

// restore puts the record back to its pre-write state after diff persistence
// failed. Best-effort: failures here are logged, not raised.
func (r *Recorder) restore(ctx context.Context, store record.Store, before, after record.Object) {
	var err error
	if before == nil {
		err = store.Delete(ctx, after.ObjectID())
	} else {
		err = store.Save(ctx, before)
	}
	if err != nil {
		logger.Error("failed to restore record after diff persistence failure",
			zap.String("object", fmt.Sprintf("%s#%d", after.Kind(), after.ObjectID())),
			zap.Error(err),
		)
	}
}

type fieldDelta struct {
	name string
	old  *string
	new  *string
}

// diffFields compares two field maps and returns the deltas in field-name
// order. Values are truncated to maxLen before comparison and storage.
func diffFields(before, after map[string]string, maxLen int) []fieldDelta {
	names := make(map[string]struct{}, len(before)+len(after))
	for n := range before {
		names[n] = struct{}{}
	}
	for n := range after {
		names[n] = struct{}{}
	}

	var deltas []fieldDelta
	for n := range names {
		oldVal, hadOld := before[n]
		newVal, hasNew := after[n]
		oldVal = truncate(oldVal, maxLen)
		newVal = truncate(newVal, maxLen)
		if hadOld && hasNew && oldVal == newVal {
			continue
		}

		d := fieldDelta{name: n}
		if hadOld {
			v := oldVal
			d.old = &v
		}
		if hasNew {
			v := newVal
			d.new = &v
		}
		deltas = append(deltas, d)
	}

	sort.Slice(deltas, func(i, j int) bool { return deltas[i].name < deltas[j].name })
	return deltas
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}

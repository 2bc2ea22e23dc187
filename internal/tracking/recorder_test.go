package tracking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wobcom/netbox-sub000/internal/domain"
	"github.com/wobcom/netbox-sub000/internal/pkg/logger"
	"github.com/wobcom/netbox-sub000/internal/record"
)

func init() {
	// Initialize logger for tests
	_ = logger.Init("error", "json")
}

// widget is a minimal tracked record for exercising the recorder.
type widget struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color"`
}

func (w *widget) Kind() string    { return "test.widget" }
func (w *widget) ObjectID() int64 { return w.ID }

func (w *widget) FieldValues() map[string]string {
	return map[string]string{"name": w.Name, "color": w.Color}
}

func (w *widget) ApplyField(name, value string) error {
	switch name {
	case "name":
		w.Name = value
	case "color":
		w.Color = value
	default:
		return fmt.Errorf("no field %q", name)
	}
	return nil
}

func (w *widget) Snapshot() (json.RawMessage, error) { return json.Marshal(w) }

// memStore keeps widgets in memory.
type memStore struct {
	next    int64
	widgets map[int64]widget
}

func newMemStore() *memStore {
	return &memStore{widgets: make(map[int64]widget)}
}

func (s *memStore) Kind() string { return "test.widget" }

func (s *memStore) Load(_ context.Context, id int64) (record.Object, bool, error) {
	w, ok := s.widgets[id]
	if !ok {
		return nil, false, nil
	}
	cp := w
	return &cp, true, nil
}

func (s *memStore) Save(_ context.Context, obj record.Object) error {
	w := obj.(*widget)
	if w.ID == 0 {
		s.next++
		w.ID = s.next
	}
	s.widgets[w.ID] = *w
	return nil
}

func (s *memStore) Delete(_ context.Context, id int64) error {
	delete(s.widgets, id)
	return nil
}

func (s *memStore) Decode(data json.RawMessage) (record.Object, error) {
	var w widget
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, err
	}
	return &w, nil
}

// memDiffs collects diff rows, optionally failing on demand.
type memDiffs struct {
	fields  []*domain.ChangedField
	objects []*domain.ChangedObject
	fail    bool
}

func (d *memDiffs) InsertField(_ context.Context, f *domain.ChangedField) error {
	if d.fail {
		return errors.New("diff store down")
	}
	d.fields = append(d.fields, f)
	return nil
}

func (d *memDiffs) InsertObject(_ context.Context, o *domain.ChangedObject) error {
	if d.fail {
		return errors.New("diff store down")
	}
	d.objects = append(d.objects, o)
	return nil
}

// fixedSession returns the same change set for every user, or none.
type fixedSession struct {
	cs *domain.ChangeSet
}

func (s *fixedSession) ActiveForUser(context.Context, string) (*domain.ChangeSet, error) {
	return s.cs, nil
}

func setup(t *testing.T, cs *domain.ChangeSet) (*Recorder, *memStore, *memDiffs) {
	t.Helper()
	store := newMemStore()
	diffs := &memDiffs{}
	registry := record.NewRegistry()
	require.NoError(t, registry.Register(store))
	return NewRecorder(registry, diffs, &fixedSession{cs: cs}, 150), store, diffs
}

func activeSet() *domain.ChangeSet {
	u := "alice"
	return &domain.ChangeSet{ID: 7, Username: &u, Active: true, Status: domain.ChangeDraft}
}

func TestSaveOutsideChangePassesThrough(t *testing.T) {
	rec, store, diffs := setup(t, nil)

	w := &widget{Name: "sw1", Color: "blue"}
	require.NoError(t, rec.Save(context.Background(), "alice", w))

	require.Len(t, store.widgets, 1)
	require.Empty(t, diffs.fields)
	require.Empty(t, diffs.objects)
}

func TestSaveCreationRecordsSnapshot(t *testing.T) {
	rec, _, diffs := setup(t, activeSet())

	w := &widget{Name: "sw1", Color: "blue"}
	require.NoError(t, rec.Save(context.Background(), "alice", w))

	require.Empty(t, diffs.fields)
	require.Len(t, diffs.objects, 1)

	o := diffs.objects[0]
	require.Equal(t, "test.widget", o.Object.Kind)
	require.Equal(t, w.ID, o.Object.ID)
	require.Equal(t, int64(7), *o.ChangeSetID)
	require.Equal(t, "alice", *o.Username)

	var snap widget
	require.NoError(t, json.Unmarshal(o.Data, &snap))
	require.Equal(t, "sw1", snap.Name)
}

func TestSaveUpdateEmitsOneRowPerChangedColumn(t *testing.T) {
	rec, store, diffs := setup(t, activeSet())

	w := &widget{Name: "sw1", Color: "blue"}
	require.NoError(t, store.Save(context.Background(), w))

	w.Color = "red"
	require.NoError(t, rec.Save(context.Background(), "alice", w))

	require.Len(t, diffs.fields, 1)
	f := diffs.fields[0]
	require.Equal(t, "color", f.Field)
	require.Equal(t, "blue", f.Old())
	require.Equal(t, "red", f.New())

	// Unchanged save produces nothing.
	require.NoError(t, rec.Save(context.Background(), "alice", w))
	require.Len(t, diffs.fields, 1)

	// Two columns changed, two rows, sorted by field name.
	w.Name = "sw2"
	w.Color = "green"
	require.NoError(t, rec.Save(context.Background(), "alice", w))
	require.Len(t, diffs.fields, 3)
	require.Equal(t, "color", diffs.fields[1].Field)
	require.Equal(t, "name", diffs.fields[2].Field)
}

func TestSaveRestoresOnDiffFailure(t *testing.T) {
	rec, store, diffs := setup(t, activeSet())

	w := &widget{Name: "sw1", Color: "blue"}
	require.NoError(t, store.Save(context.Background(), w))

	diffs.fail = true
	w.Color = "red"
	err := rec.Save(context.Background(), "alice", w)
	require.Error(t, err)

	// The before-image was put back.
	require.Equal(t, "blue", store.widgets[w.ID].Color)
}

func TestSaveCreationDeletedOnDiffFailure(t *testing.T) {
	rec, store, diffs := setup(t, activeSet())
	diffs.fail = true

	w := &widget{Name: "sw1", Color: "blue"}
	err := rec.Save(context.Background(), "alice", w)
	require.Error(t, err)
	require.Empty(t, store.widgets)
}

func TestDiffValuesTruncated(t *testing.T) {
	store := newMemStore()
	diffs := &memDiffs{}
	registry := record.NewRegistry()
	require.NoError(t, registry.Register(store))
	rec := NewRecorder(registry, diffs, &fixedSession{cs: activeSet()}, 4)

	w := &widget{Name: "abcdefgh", Color: "blue"}
	require.NoError(t, store.Save(context.Background(), w))

	w.Name = "abcdezzzz"
	require.NoError(t, rec.Save(context.Background(), "alice", w))

	// Both sides truncated to 4 chars and equal, so no diff row.
	require.Empty(t, diffs.fields)

	w.Name = "zzzz-long-value"
	require.NoError(t, rec.Save(context.Background(), "alice", w))
	require.Len(t, diffs.fields, 1)
	require.Equal(t, "abcd", diffs.fields[0].Old())
	require.Equal(t, "zzzz", diffs.fields[0].New())
}

func TestRevertFieldGuard(t *testing.T) {
	rec, store, _ := setup(t, activeSet())

	w := &widget{Name: "sw1", Color: "red"}
	require.NoError(t, store.Save(context.Background(), w))

	oldV, newV := "blue", "red"
	f := &domain.ChangedField{
		Object:   domain.ObjectRef{Kind: "test.widget", ID: w.ID},
		Field:    "color",
		OldValue: &oldV,
		NewValue: &newV,
	}
	require.NoError(t, rec.RevertField(context.Background(), f))
	require.Equal(t, "blue", store.widgets[w.ID].Color)

	// Live value diverged: revert is skipped.
	w2 := store.widgets[w.ID]
	w2.Color = "yellow"
	store.widgets[w.ID] = w2
	require.NoError(t, rec.RevertField(context.Background(), f))
	require.Equal(t, "yellow", store.widgets[w.ID].Color)
}

func TestApplyFieldGuard(t *testing.T) {
	rec, store, _ := setup(t, activeSet())

	w := &widget{Name: "sw1", Color: "blue"}
	require.NoError(t, store.Save(context.Background(), w))

	oldV, newV := "blue", "red"
	f := &domain.ChangedField{
		Object:   domain.ObjectRef{Kind: "test.widget", ID: w.ID},
		Field:    "color",
		OldValue: &oldV,
		NewValue: &newV,
	}
	require.NoError(t, rec.ApplyField(context.Background(), f))
	require.Equal(t, "red", store.widgets[w.ID].Color)

	// Applying again is a no-op: live no longer equals old value.
	require.NoError(t, rec.ApplyField(context.Background(), f))
	require.Equal(t, "red", store.widgets[w.ID].Color)
}

func TestRevertAndApplyObject(t *testing.T) {
	rec, store, diffs := setup(t, activeSet())

	w := &widget{Name: "sw1", Color: "blue"}
	require.NoError(t, rec.Save(context.Background(), "alice", w))
	require.Len(t, diffs.objects, 1)

	o := diffs.objects[0]
	require.NoError(t, rec.RevertObject(context.Background(), o))
	require.Empty(t, store.widgets)

	require.NoError(t, rec.ApplyObject(context.Background(), o))
	require.Equal(t, "sw1", store.widgets[w.ID].Name)

	// Re-applying over an existing record is a no-op.
	require.NoError(t, rec.ApplyObject(context.Background(), o))
	require.Len(t, store.widgets, 1)
}

// Package record defines the generic "any record changed" capability the
// change engine needs over the inventory data model. Tracked record types
// expose their scalar fields as strings; a registry maps a kind discriminator
// to the store able to load, save and delete records of that kind.
package record

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Object is a tracked record. FieldValues returns the scalar fields used for
// field-by-field diffing; nested relations are deliberately excluded to avoid
// deep graphs in diff rows.
type Object interface {
	// Kind returns the type discriminator, e.g. "dcim.device".
	Kind() string

	// ObjectID returns the record's primary key. Zero means unsaved.
	ObjectID() int64

	// FieldValues returns the scalar fields as name → string value.
	FieldValues() map[string]string

	// ApplyField sets a single scalar field from its string form. Used when
	// reverting or replaying a recorded diff.
	ApplyField(name, value string) error

	// Snapshot serializes the scalar fields for whole-object diffs.
	Snapshot() (json.RawMessage, error)
}

// Store persists records of a single kind.
type Store interface {
	// Kind returns the discriminator this store serves.
	Kind() string

	// Load fetches the record with the given id. The second return value is
	// false when no such record currently exists.
	Load(ctx context.Context, id int64) (Object, bool, error)

	// Save inserts or updates the record, filling its id on insert.
	Save(ctx context.Context, obj Object) error

	// Delete removes the record. Deleting a missing record is not an error.
	Delete(ctx context.Context, id int64) error

	// Decode reconstructs a record from a Snapshot, including its id. Used
	// when replaying a whole-object creation diff.
	Decode(data json.RawMessage) (Object, error)
}

// blacklistedKinds must never be tracked: recording changes to the change
// tables themselves would recurse.
var blacklistedKinds = map[string]struct{}{
	"change.changeset":     {},
	"change.changedfield":  {},
	"change.changedobject": {},
	"change.provisionset":  {},
	"sessions.session":     {},
}

// Blacklisted reports whether the kind is excluded from change tracking.
func Blacklisted(kind string) bool {
	_, ok := blacklistedKinds[kind]
	return ok
}

// Registry resolves kind discriminators to stores.
type Registry struct {
	mu     sync.RWMutex
	stores map[string]Store
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{stores: make(map[string]Store)}
}

// Register adds a store. Blacklisted and duplicate kinds are rejected.
func (r *Registry) Register(store Store) error {
	kind := store.Kind()
	if Blacklisted(kind) {
		return fmt.Errorf("kind %q is blacklisted from change tracking", kind)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.stores[kind]; exists {
		return fmt.Errorf("kind %q is already registered", kind)
	}
	r.stores[kind] = store
	return nil
}

// Lookup returns the store for a kind.
func (r *Registry) Lookup(kind string) (Store, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.stores[kind]
	return s, ok
}

// Kinds returns all registered kinds.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.stores))
	for k := range r.stores {
		kinds = append(kinds, k)
	}
	return kinds
}

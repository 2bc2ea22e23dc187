package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// ObjectRef identifies a tracked record polymorphically: a kind discriminator
// plus a typed identifier, resolved through the record registry.
type ObjectRef struct {
	Kind string `json:"kind"`
	ID   int64  `json:"id"`
}

// String renders the reference as kind#id.
func (r ObjectRef) String() string {
	return fmt.Sprintf("%s#%d", r.Kind, r.ID)
}

// ChangedField is one field-level diff captured during an active change
// session. Rows outlive their session (set-null) for audit purposes.
type ChangedField struct {
	ID          int64
	ChangeSetID *int64
	Object      ObjectRef
	Field       string
	OldValue    *string
	NewValue    *string
	Username    *string
	CreatedAt   time.Time
}

// Old returns the recorded old value, empty if NULL.
func (f *ChangedField) Old() string {
	if f.OldValue == nil {
		return ""
	}
	return *f.OldValue
}

// New returns the recorded new value, empty if NULL.
func (f *ChangedField) New() string {
	if f.NewValue == nil {
		return ""
	}
	return *f.NewValue
}

// String describes the diff for logs and change detail views.
func (f *ChangedField) String() string {
	return fmt.Sprintf("Field %s of %s was changed from '%s' to '%s'.",
		f.Field, f.Object, f.Old(), f.New())
}

// ChangedObject is a whole-object creation diff, recorded when a save has no
// before-image (the record was newly created). Revert deletes the record.
type ChangedObject struct {
	ID          int64
	ChangeSetID *int64
	Object      ObjectRef
	Data        json.RawMessage
	Username    *string
	CreatedAt   time.Time
}

// String describes the diff for logs and change detail views.
func (o *ChangedObject) String() string {
	return fmt.Sprintf("%s was added.", o.Object)
}

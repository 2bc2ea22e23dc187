// Package session implements the change session state machine: opening and
// closing tracked work sessions, submitting them for review, rendering them
// for human consumption and replaying or reverting their recorded diffs.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/wobcom/netbox-sub000/internal/domain"
	apperrors "github.com/wobcom/netbox-sub000/internal/pkg/errors"
	"github.com/wobcom/netbox-sub000/internal/pkg/logger"
	"github.com/wobcom/netbox-sub000/internal/tracking"
)

// SetStore persists change sets.
type SetStore interface {
	Create(ctx context.Context, cs *domain.ChangeSet) error
	Update(ctx context.Context, cs *domain.ChangeSet) error
	GetByID(ctx context.Context, id int64) (*domain.ChangeSet, error)
	ActiveForUser(ctx context.Context, username string) (*domain.ChangeSet, error)
	List(ctx context.Context) ([]*domain.ChangeSet, error)
	ActiveDraftUsernames(ctx context.Context) ([]string, error)
}

// InfoStore persists change meta information.
type InfoStore interface {
	Create(ctx context.Context, ci *domain.ChangeInformation) error
	GetByID(ctx context.Context, id int64) (*domain.ChangeInformation, error)
}

// DiffSource reads the recorded diffs of a session.
type DiffSource interface {
	FieldsForSet(ctx context.Context, changeSetID int64) ([]*domain.ChangedField, error)
	ObjectsForSet(ctx context.Context, changeSetID int64) ([]*domain.ChangedObject, error)
	NewerThan(ctx context.Context, changeSetID int64, since time.Time) (bool, error)
}

// Notifier publishes the users-in-change roster.
type Notifier interface {
	UsersInChange(users []string)
}

// Service is the change session state machine.
type Service struct {
	sets     SetStore
	info     InfoStore
	diffs    DiffSource
	recorder *tracking.Recorder
	notifier Notifier

	sessionTimeout time.Duration
}

// NewService creates the change session service.
func NewService(sets SetStore, info InfoStore, diffs DiffSource, recorder *tracking.Recorder, notifier Notifier, sessionTimeout time.Duration) *Service {
	return &Service{
		sets:           sets,
		info:           info,
		diffs:          diffs,
		recorder:       recorder,
		notifier:       notifier,
		sessionTimeout: sessionTimeout,
	}
}

// Toggle opens a new draft session for the user, or closes the active one.
// The second return value reports whether a session is now open.
func (s *Service) Toggle(ctx context.Context, username string, info *domain.ChangeInformation) (*domain.ChangeSet, bool, error) {
	active, err := s.sets.ActiveForUser(ctx, username)
	if err != nil {
		return nil, false, err
	}

	if active != nil {
		active.Active = false
		if err := s.sets.Update(ctx, active); err != nil {
			return nil, false, err
		}
		logger.Info("change session closed",
			zap.Int64("change_set_id", active.ID),
			zap.String("username", username),
		)
		s.broadcastRoster(ctx)
		return active, false, nil
	}

	cs := &domain.ChangeSet{
		Username: &username,
		Active:   true,
		Status:   domain.ChangeDraft,
	}
	ticket := uuid.New()
	cs.TicketID = &ticket

	if info != nil {
		if err := s.info.Create(ctx, info); err != nil {
			return nil, false, err
		}
		cs.ChangeInformationID = &info.ID
	}

	if err := s.sets.Create(ctx, cs); err != nil {
		return nil, false, err
	}
	logger.Info("change session opened",
		zap.Int64("change_set_id", cs.ID),
		zap.String("username", username),
	)
	s.broadcastRoster(ctx)
	return cs, true, nil
}

// End closes the user's active session and accepts it for deployment.
// Returns a conflict when the user is not in a change.
func (s *Service) End(ctx context.Context, username string) (*domain.ChangeSet, error) {
	active, err := s.sets.ActiveForUser(ctx, username)
	if err != nil {
		return nil, err
	}
	if active == nil {
		return nil, apperrors.ErrChangeNotActivef()
	}

	active.Active = false
	active.Status = domain.ChangeAccepted
	if err := s.sets.Update(ctx, active); err != nil {
		return nil, err
	}
	logger.Info("change session accepted",
		zap.Int64("change_set_id", active.ID),
		zap.String("username", username),
	)
	s.broadcastRoster(ctx)
	return active, nil
}

// Reject marks a submitted session as rejected after operator review. Only
// sessions awaiting deployment can be rejected.
func (s *Service) Reject(ctx context.Context, id int64) (*domain.ChangeSet, error) {
	cs, err := s.sets.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	rejectable := (cs.Status == domain.ChangeAccepted || cs.Status == domain.ChangeInReview) &&
		cs.ProvisionSetID == nil
	if !rejectable {
		return nil, apperrors.Conflict(apperrors.CodeChangeNotInReview,
			"change set is not awaiting review")
	}

	cs.Active = false
	cs.Status = domain.ChangeRejected
	if err := s.sets.Update(ctx, cs); err != nil {
		return nil, err
	}
	logger.Info("change session rejected", zap.Int64("change_set_id", cs.ID))
	return cs, nil
}

// Get fetches a session by id.
func (s *Service) Get(ctx context.Context, id int64) (*domain.ChangeSet, error) {
	return s.sets.GetByID(ctx, id)
}

// List returns all sessions, newest first.
func (s *Service) List(ctx context.Context) ([]*domain.ChangeSet, error) {
	return s.sets.List(ctx)
}

// ActiveForUser returns the user's active session, nil when not in a change.
func (s *Service) ActiveForUser(ctx context.Context, username string) (*domain.ChangeSet, error) {
	return s.sets.ActiveForUser(ctx, username)
}

// ActiveUsernames returns the roster of users currently in a draft session.
func (s *Service) ActiveUsernames(ctx context.Context) ([]string, error) {
	return s.sets.ActiveDraftUsernames(ctx)
}

// InUse reports whether the session should be protected from expiry: it was
// started within the timeout window, or it recorded diffs within the window.
func (s *Service) InUse(ctx context.Context, cs *domain.ChangeSet) (bool, error) {
	cutoff := time.Now().Add(-s.sessionTimeout)
	if cs.Started.After(cutoff) {
		return true, nil
	}
	return s.diffs.NewerThan(ctx, cs.ID, cutoff)
}

// Summary renders the session's change information for human review.
// plain disables Markdown decoration.
func (s *Service) Summary(ctx context.Context, cs *domain.ChangeSet, plain bool) (string, error) {
	if cs.ChangeInformationID == nil {
		return "", nil
	}
	ci, err := s.info.GetByID(ctx, *cs.ChangeInformationID)
	if err != nil {
		return "", err
	}
	return ci.ExecutiveSummary(plain), nil
}

// yamlChange is one entry of the exported change document.
type yamlChange struct {
	Action string      `yaml:"action"`
	Object string      `yaml:"object"`
	Field  string      `yaml:"field,omitempty"`
	Old    string      `yaml:"old,omitempty"`
	New    string      `yaml:"new,omitempty"`
	Data   interface{} `yaml:"data,omitempty"`
}

type yamlDocument struct {
	ChangeSet int64        `yaml:"change_set"`
	TicketID  string       `yaml:"ticket_id,omitempty"`
	User      string       `yaml:"user"`
	Status    string       `yaml:"status"`
	Changes   []yamlChange `yaml:"changes"`
}

// ToYAML renders all recorded diffs of the session as a YAML document.
// Creations carry the decoded snapshot, updates are flat field entries.
func (s *Service) ToYAML(ctx context.Context, cs *domain.ChangeSet) (string, error) {
	objects, err := s.diffs.ObjectsForSet(ctx, cs.ID)
	if err != nil {
		return "", err
	}
	fields, err := s.diffs.FieldsForSet(ctx, cs.ID)
	if err != nil {
		return "", err
	}

	doc := yamlDocument{
		ChangeSet: cs.ID,
		User:      cs.User(),
		Status:    cs.Status.Label(),
		Changes:   make([]yamlChange, 0, len(objects)+len(fields)),
	}
	if cs.TicketID != nil {
		doc.TicketID = cs.TicketID.String()
	}

	for _, o := range objects {
		var data interface{}
		if err := yaml.Unmarshal(o.Data, &data); err != nil {
			return "", fmt.Errorf("decode snapshot of %s: %w", o.Object, err)
		}
		doc.Changes = append(doc.Changes, yamlChange{
			Action: "added",
			Object: o.Object.String(),
			Data:   data,
		})
	}
	for _, f := range fields {
		doc.Changes = append(doc.Changes, yamlChange{
			Action: "updated",
			Object: f.Object.String(),
			Field:  f.Field,
			Old:    f.Old(),
			New:    f.New(),
		})
	}

	out, err := yaml.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("render change set %d: %w", cs.ID, err)
	}
	return "---\n" + string(out), nil
}

// Apply replays all recorded diffs of the session: creations first, then
// field updates in recorded order.
func (s *Service) Apply(ctx context.Context, cs *domain.ChangeSet) error {
	objects, err := s.diffs.ObjectsForSet(ctx, cs.ID)
	if err != nil {
		return err
	}
	for _, o := range objects {
		if err := s.recorder.ApplyObject(ctx, o); err != nil {
			return err
		}
	}

	fields, err := s.diffs.FieldsForSet(ctx, cs.ID)
	if err != nil {
		return err
	}
	for _, f := range fields {
		if err := s.recorder.ApplyField(ctx, f); err != nil {
			return err
		}
	}
	return nil
}

// Revert rolls back all recorded diffs of the session: field updates in
// reverse order first, then created records are deleted.
func (s *Service) Revert(ctx context.Context, cs *domain.ChangeSet) error {
	fields, err := s.diffs.FieldsForSet(ctx, cs.ID)
	if err != nil {
		return err
	}
	for i := len(fields) - 1; i >= 0; i-- {
		if err := s.recorder.RevertField(ctx, fields[i]); err != nil {
			return err
		}
	}

	objects, err := s.diffs.ObjectsForSet(ctx, cs.ID)
	if err != nil {
		return err
	}
	for i := len(objects) - 1; i >= 0; i-- {
		if err := s.recorder.RevertObject(ctx, objects[i]); err != nil {
			return err
		}
	}
	return nil
}

// broadcastRoster publishes the current users-in-change roster. Failures are
// logged, a stale roster must not fail the session operation.
func (s *Service) broadcastRoster(ctx context.Context) {
	if s.notifier == nil {
		return
	}
	users, err := s.sets.ActiveDraftUsernames(ctx)
	if err != nil {
		logger.Warn("failed to load users-in-change roster", zap.Error(err))
		return
	}
	s.notifier.UsersInChange(users)
}

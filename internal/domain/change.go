// Package domain holds the entities of the change/provisioning engine:
// change sessions, their recorded diffs, and provisioning runs.
package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wobcom/netbox-sub000/internal/pkg/markdown"
)

// ChangeStatus is the lifecycle status of a change session.
type ChangeStatus string

// Change session lifecycle states.
const (
	ChangeDraft       ChangeStatus = "DRAFT"
	ChangeInReview    ChangeStatus = "IN_REVIEW"
	ChangeAccepted    ChangeStatus = "ACCEPTED"
	ChangeImplemented ChangeStatus = "IMPLEMENTED"
	ChangeRejected    ChangeStatus = "REJECTED"
)

// Label returns the human-readable display label.
func (s ChangeStatus) Label() string {
	switch s {
	case ChangeDraft:
		return "Draft"
	case ChangeInReview:
		return "Under Review"
	case ChangeAccepted:
		return "Accepted"
	case ChangeImplemented:
		return "Implemented"
	case ChangeRejected:
		return "Rejected"
	default:
		return string(s)
	}
}

// Terminal reports whether the status admits no further transitions.
func (s ChangeStatus) Terminal() bool {
	return s == ChangeImplemented || s == ChangeRejected
}

// ChangeInformation is the meta information submitted when opening a change.
type ChangeInformation struct {
	ID                 int64
	IsEmergency        bool
	IsExtensive        bool
	AffectsCustomer    bool
	ChangeImplications string
	IgnoreImplications string

	AffectedCustomers []AffectedCustomer
}

// AffectedCustomer is a customer impacted by a change.
type AffectedCustomer struct {
	ID               int64
	InformationID    int64
	Name             string
	IsBusiness       bool
	ProductsAffected string
}

// ExecutiveSummary renders the change information for human review.
// plain disables Markdown decoration.
func (ci *ChangeInformation) ExecutiveSummary(plain bool) string {
	md := markdown.Formatter{Plain: plain}
	var b strings.Builder

	if ci.IsEmergency {
		b.WriteString(md.Bold("This change is an emergency change."))
		b.WriteString("\n\n")
	}

	b.WriteString(md.H3("Implications if this change is accepted:"))
	b.WriteString("\n" + ci.ChangeImplications + "\n\n")
	b.WriteString(md.H3("Implications if this change is rejected:"))
	b.WriteString("\n" + ci.IgnoreImplications + "\n\n")

	if ci.AffectsCustomer {
		b.WriteString(md.H3("This change affects customers"))
		b.WriteString("\nThe following customers are affected:\n")
		for _, c := range ci.AffectedCustomers {
			b.WriteString("- " + c.Name)
			if c.IsBusiness {
				b.WriteString(md.Bold(" (Business Customer)"))
			}
			b.WriteString(": " + c.ProductsAffected + "\n")
		}
	}
	return b.String()
}

// ChangeSet is one unit of tracked work by one user. At most one set per
// user is active at a time; once ended it becomes an append-only record
// referenced by at most one ProvisionSet.
type ChangeSet struct {
	ID                  int64
	TicketID            *uuid.UUID
	Username            *string
	Active              bool
	Status              ChangeStatus
	ChangeInformationID *int64
	ProvisionSetID      *int64
	Reverted            bool
	Started             time.Time
	Updated             time.Time
}

// User returns the owning username, or an empty string if the user was
// deleted.
func (cs *ChangeSet) User() string {
	if cs.Username == nil {
		return ""
	}
	return *cs.Username
}

package handlers

import (
	"time"

	"github.com/wobcom/netbox-sub000/internal/domain"
	"github.com/wobcom/netbox-sub000/internal/inventory"
)

// statusDTO is the wire shape of a lifecycle status.
type statusDTO struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// changeSetDTO is the wire shape of a change session.
type changeSetDTO struct {
	ID             int64     `json:"id"`
	TicketID       *string   `json:"ticket_id"`
	User           string    `json:"user"`
	Active         bool      `json:"active"`
	Status         statusDTO `json:"status"`
	ProvisionSetID *int64    `json:"provision_set_id"`
	Reverted       bool      `json:"reverted"`
	Started        time.Time `json:"started"`
	Updated        time.Time `json:"updated"`
}

func toChangeSetDTO(cs *domain.ChangeSet) changeSetDTO {
	dto := changeSetDTO{
		ID:             cs.ID,
		User:           cs.User(),
		Active:         cs.Active,
		Status:         statusDTO{ID: string(cs.Status), Label: cs.Status.Label()},
		ProvisionSetID: cs.ProvisionSetID,
		Reverted:       cs.Reverted,
		Started:        cs.Started,
		Updated:        cs.Updated,
	}
	if cs.TicketID != nil {
		t := cs.TicketID.String()
		dto.TicketID = &t
	}
	return dto
}

func toChangeSetDTOs(sets []*domain.ChangeSet) []changeSetDTO {
	dtos := make([]changeSetDTO, 0, len(sets))
	for _, cs := range sets {
		dtos = append(dtos, toChangeSetDTO(cs))
	}
	return dtos
}

// provisionSetDTO is the wire shape of a provisioning run.
type provisionSetDTO struct {
	ID        int64     `json:"id"`
	User      string    `json:"user"`
	Status    statusDTO `json:"status"`
	OutputLog *string   `json:"output_log,omitempty"`
	Reverted  bool      `json:"reverted"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toProvisionSetDTO(ps *domain.ProvisionSet) provisionSetDTO {
	return provisionSetDTO{
		ID:        ps.ID,
		User:      ps.User(),
		Status:    statusDTO{ID: string(ps.Status), Label: ps.Status.Label()},
		OutputLog: ps.OutputLog,
		Reverted:  ps.Reverted,
		CreatedAt: ps.CreatedAt,
		UpdatedAt: ps.UpdatedAt,
	}
}

func toProvisionSetDTOs(sets []*domain.ProvisionSet) []provisionSetDTO {
	dtos := make([]provisionSetDTO, 0, len(sets))
	for _, ps := range sets {
		dtos = append(dtos, toProvisionSetDTO(ps))
	}
	return dtos
}

// deviceDTO is the wire shape of a device.
type deviceDTO struct {
	ID       int64   `json:"id"`
	Name     string  `json:"name"`
	Serial   string  `json:"serial"`
	AssetTag *string `json:"asset_tag"`
	Status   string  `json:"status"`
	Role     string  `json:"role"`
	Platform string  `json:"platform"`
}

func toDeviceDTO(d *inventory.Device) deviceDTO {
	return deviceDTO{
		ID:       d.ID,
		Name:     d.Name,
		Serial:   d.Serial,
		AssetTag: d.AssetTag,
		Status:   d.Status,
		Role:     d.Role,
		Platform: d.Platform,
	}
}

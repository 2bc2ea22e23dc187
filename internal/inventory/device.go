// Package inventory carries the minimal slice of the DCIM data model the
// change engine needs: a tracked Device record and its derived configuration
// rendering. The full inventory lives outside this service; the engine only
// requires the generic record capability over it.
package inventory

import (
	"encoding/json"
	"fmt"
)

// KindDevice is the record kind discriminator for devices.
const KindDevice = "dcim.device"

// Device is a tracked network device.
type Device struct {
	ID       int64   `json:"id"`
	Name     string  `json:"name"`
	Serial   string  `json:"serial"`
	AssetTag *string `json:"asset_tag"`
	Status   string  `json:"status"`
	Role     string  `json:"role"`
	Platform string  `json:"platform"`
}

// Kind returns the record kind discriminator.
func (d *Device) Kind() string { return KindDevice }

// ObjectID returns the primary key, zero when unsaved.
func (d *Device) ObjectID() int64 { return d.ID }

// FieldValues returns the scalar fields used for diffing. Relations are
// excluded to keep diff rows flat.
func (d *Device) FieldValues() map[string]string {
	assetTag := ""
	if d.AssetTag != nil {
		assetTag = *d.AssetTag
	}
	return map[string]string{
		"name":      d.Name,
		"serial":    d.Serial,
		"asset_tag": assetTag,
		"status":    d.Status,
		"role":      d.Role,
		"platform":  d.Platform,
	}
}

// ApplyField sets a single scalar field from its string form.
func (d *Device) ApplyField(name, value string) error {
	switch name {
	case "name":
		d.Name = value
	case "serial":
		d.Serial = value
	case "asset_tag":
		if value == "" {
			d.AssetTag = nil
		} else {
			v := value
			d.AssetTag = &v
		}
	case "status":
		d.Status = value
	case "role":
		d.Role = value
	case "platform":
		d.Platform = value
	default:
		return fmt.Errorf("device has no tracked field %q", name)
	}
	return nil
}

// Snapshot serializes the device for whole-object diffs.
func (d *Device) Snapshot() (json.RawMessage, error) {
	return json.Marshal(d)
}

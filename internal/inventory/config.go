package inventory

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// deviceConfig is the shape of the per-device derived configuration document
// consumed by the configuration-management run (host_vars).
type deviceConfig struct {
	Name     string  `yaml:"name"`
	Serial   string  `yaml:"serial"`
	AssetTag *string `yaml:"asset_tag"`
	Status   string  `yaml:"status"`
	Role     string  `yaml:"role"`
	Platform string  `yaml:"platform"`
}

// RenderConfig renders the device's derived configuration as a YAML document
// with an explicit document start marker.
func RenderConfig(d *Device) (string, error) {
	doc := map[string]deviceConfig{
		"device": {
			Name:     d.Name,
			Serial:   d.Serial,
			AssetTag: d.AssetTag,
			Status:   d.Status,
			Role:     d.Role,
			Platform: d.Platform,
		},
	}
	out, err := yaml.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("render config for device %q: %w", d.Name, err)
	}
	return "---\n" + string(out), nil
}

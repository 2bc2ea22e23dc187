package inventory

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/wobcom/netbox-sub000/internal/pkg/logger"
)

// DeviceSource lists devices for export.
type DeviceSource interface {
	ListDevices(ctx context.Context) ([]*Device, error)
	GetDeviceByName(ctx context.Context, name string) (*Device, error)
}

// Exporter dumps per-device derived configuration to the filesystem, one
// file per device. Individual failures are logged and skipped so a single
// broken device cannot block a full export.
type Exporter struct {
	devices DeviceSource
}

// NewExporter creates an exporter over the given device source.
func NewExporter(devices DeviceSource) *Exporter {
	return &Exporter{devices: devices}
}

// Export writes configuration files into dest. With names given, only those
// devices are exported; otherwise all. Returns the number of files written.
func (e *Exporter) Export(ctx context.Context, dest string, names []string) (int, error) {
	var devices []*Device
	if len(names) > 0 {
		for _, name := range names {
			dev, err := e.devices.GetDeviceByName(ctx, name)
			if err != nil {
				logger.Warn("error retrieving device, skipping",
					zap.String("device", name),
					zap.Error(err),
				)
				continue
			}
			devices = append(devices, dev)
		}
	} else {
		all, err := e.devices.ListDevices(ctx)
		if err != nil {
			return 0, fmt.Errorf("list devices: %w", err)
		}
		devices = all
	}

	written := 0
	for _, dev := range devices {
		if err := e.exportOne(dev, dest); err != nil {
			logger.Warn("error exporting device, skipping",
				zap.String("device", dev.Name),
				zap.Error(err),
			)
			continue
		}
		written++
	}
	return written, nil
}

func (e *Exporter) exportOne(dev *Device, dest string) error {
	cfg, err := RenderConfig(dev)
	if err != nil {
		return err
	}
	path := filepath.Join(dest, dev.Name+".yml")
	if err := os.WriteFile(path, []byte(cfg), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

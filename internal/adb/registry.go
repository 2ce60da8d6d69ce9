package adb

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/1003xuexue/mobile-ai-bench/internal/model"
)

// Registry caches per-device properties for the duration of one orchestration
// run. Properties are static per session, and every uncached lookup costs a
// remote property dump.
type Registry struct {
	client *Client
	logger *zap.Logger

	mu      sync.Mutex
	devices map[string]*model.Device
}

// NewRegistry creates an empty registry over the bridge client.
func NewRegistry(client *Client, logger *zap.Logger) *Registry {
	return &Registry{
		client:  client,
		logger:  logger.Named("registry"),
		devices: make(map[string]*model.Device),
	}
}

// Device returns the cached description for serial, reading it once.
func (r *Registry) Device(ctx context.Context, serial string) (*model.Device, error) {
	r.mu.Lock()
	if dev, ok := r.devices[serial]; ok {
		r.mu.Unlock()
		return dev, nil
	}
	r.mu.Unlock()

	dev, err := r.client.Describe(ctx, serial)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.devices[serial] = dev
	r.mu.Unlock()
	return dev, nil
}

// GroupBySoC maps the hardware platform identifier to the serials carrying
// it, preserving enumeration order within each group.
func (r *Registry) GroupBySoC(ctx context.Context, serials []string) (map[string][]string, error) {
	groups := make(map[string][]string)
	for _, serial := range serials {
		dev, err := r.Device(ctx, serial)
		if err != nil {
			return nil, err
		}
		groups[dev.SoC] = append(groups[dev.SoC], serial)
	}
	return groups, nil
}

// Select enumerates connected devices and returns those matching the target
// platforms. An empty target set selects every connected device.
func (r *Registry) Select(ctx context.Context, targetSoCs []string) ([]*model.Device, error) {
	serials, err := r.client.Devices(ctx)
	if err != nil {
		return nil, err
	}

	wanted := make(map[string]bool, len(targetSoCs))
	for _, soc := range targetSoCs {
		wanted[soc] = true
	}

	var devices []*model.Device
	for _, serial := range serials {
		dev, err := r.Device(ctx, serial)
		if err != nil {
			// The unit may have dropped off the bridge between the
			// enumeration and the property dump.
			r.logger.Warn("Skipping device that stopped responding",
				zap.String("serial", serial),
				zap.Error(err))
			continue
		}
		if len(targetSoCs) == 0 || wanted[dev.SoC] {
			devices = append(devices, dev)
		}
	}
	return devices, nil
}

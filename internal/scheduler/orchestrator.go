package scheduler

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/1003xuexue/mobile-ai-bench/internal/adb"
	"github.com/1003xuexue/mobile-ai-bench/internal/catalog"
	"github.com/1003xuexue/mobile-ai-bench/internal/model"
)

// HostMonitor captures host load alongside a run.
type HostMonitor interface {
	Snapshot(ctx context.Context) (*model.HostStats, error)
}

// LogSink hands out per-device writers so each device's live output lands in
// its own file instead of interleaving on a shared stream.
type LogSink interface {
	DeviceWriter(runID, serial string) (io.WriteCloser, error)
}

// Orchestrator fans one plan out across the fleet, one goroutine per device.
// Distinct devices never contend; the device lock serializes access per
// serial across processes.
type Orchestrator struct {
	registry *adb.Registry
	deps     Deps
	monitor  HostMonitor
	logger   *zap.Logger
}

// NewOrchestrator creates an orchestrator. monitor may be nil.
func NewOrchestrator(registry *adb.Registry, deps Deps, monitor HostMonitor, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		registry: registry,
		deps:     deps.withDefaults(),
		monitor:  monitor,
		logger:   logger.Named("orchestrator"),
	}
}

// Run executes the plan on every connected device matching targetSoCs and
// supporting params.ABI. Devices progress independently; a failed device
// never aborts the others. Within one device, jobs run in catalog order.
func (o *Orchestrator) Run(ctx context.Context, plan *catalog.Plan, params Params, targetSoCs []string) (*model.RunSummary, error) {
	if params.RunID == "" {
		params.RunID = uuid.New().String()
	}
	summary := &model.RunSummary{
		RunID:       params.RunID,
		JobsPlanned: len(plan.Jobs),
		StartedAt:   time.Now(),
	}

	if o.monitor != nil {
		stats, err := o.monitor.Snapshot(ctx)
		if err != nil {
			o.logger.Warn("Failed to capture host stats", zap.Error(err))
		} else {
			summary.Host = stats
		}
	}

	devices, err := o.registry.Select(ctx, targetSoCs)
	if err != nil {
		return nil, err
	}
	var eligible []*model.Device
	for _, dev := range devices {
		if !dev.SupportsABI(params.ABI) {
			o.logger.Warn("Device does not support target ABI, skipping",
				zap.String("serial", dev.Serial),
				zap.String("abi", params.ABI))
			continue
		}
		eligible = append(eligible, dev)
	}
	if len(eligible) == 0 {
		return nil, ErrNoDevices
	}

	o.logger.Info("Starting fleet run",
		zap.String("run_id", params.RunID),
		zap.Int("devices", len(eligible)),
		zap.Int("jobs", len(plan.Jobs)))

	results := make([]model.DeviceResult, len(eligible))
	var wg sync.WaitGroup
	for i, dev := range eligible {
		wg.Add(1)
		go func(i int, dev *model.Device) {
			defer wg.Done()
			deps := o.deps
			if o.deps.Logs != nil {
				w, err := o.deps.Logs.DeviceWriter(params.RunID, dev.Serial)
				if err != nil {
					o.logger.Warn("Failed to open device log, output goes to the shared stream only",
						zap.String("serial", dev.Serial),
						zap.Error(err))
				} else {
					defer w.Close()
					deps.Out = io.MultiWriter(deps.Out, w)
				}
			}
			res, err := NewDeviceRunner(deps).Run(ctx, dev, plan, params)
			if err != nil {
				o.logger.Error("Device run failed",
					zap.String("serial", dev.Serial),
					zap.Error(err))
			}
			results[i] = *res
		}(i, dev)
	}
	wg.Wait()

	summary.Devices = results
	summary.CompletedAt = time.Now()
	summary.Status = runStatus(results)

	o.deps.Observer.RunCompleted(context.WithoutCancel(ctx), *summary)
	o.logger.Info("Fleet run finished",
		zap.String("run_id", summary.RunID),
		zap.String("status", string(summary.Status)))
	return summary, nil
}

func runStatus(results []model.DeviceResult) model.RunStatus {
	failed := 0
	for _, r := range results {
		if r.Error != "" {
			failed++
		}
	}
	switch {
	case failed == 0:
		return model.RunStatusCompleted
	case failed == len(results):
		return model.RunStatusFailed
	default:
		return model.RunStatusPartial
	}
}

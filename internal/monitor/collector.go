// Package monitor samples orchestration host load. Benchmark numbers drift
// when the host is busy during adb transfers, so runs record the conditions
// they were measured under.
package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"

	"github.com/1003xuexue/mobile-ai-bench/internal/model"
	"github.com/1003xuexue/mobile-ai-bench/internal/scheduler"
)

const hostSubject = "bench.host"

// Collector samples host CPU and memory load. With a JetStream context it can
// additionally publish periodic samples for dashboards.
type Collector struct {
	logger   *zap.Logger
	js       nats.JetStreamContext
	interval time.Duration

	// sampleTime is how long one CPU usage measurement integrates over.
	sampleTime time.Duration

	stop     chan struct{}
	stopOnce sync.Once
}

var _ scheduler.HostMonitor = (*Collector)(nil)

// NewCollector creates a collector. js may be nil when live publishing is not
// wanted; Snapshot works either way.
func NewCollector(js nats.JetStreamContext, interval time.Duration, logger *zap.Logger) *Collector {
	return &Collector{
		logger:     logger.Named("monitor"),
		js:         js,
		interval:   interval,
		sampleTime: time.Second,
		stop:       make(chan struct{}),
	}
}

// Snapshot measures current host load.
func (c *Collector) Snapshot(ctx context.Context) (*model.HostStats, error) {
	cpuPercent, err := cpu.PercentWithContext(ctx, c.sampleTime, false)
	if err != nil {
		return nil, fmt.Errorf("failed to get CPU usage: %w", err)
	}
	memInfo, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get memory usage: %w", err)
	}
	info, err := host.InfoWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get host info: %w", err)
	}

	stats := &model.HostStats{
		Hostname:      info.Hostname,
		Platform:      info.Platform,
		KernelVersion: info.KernelVersion,
		MemoryUsage:   memInfo.UsedPercent,
		CollectedAt:   time.Now(),
	}
	if len(cpuPercent) > 0 {
		stats.CPUUsage = cpuPercent[0]
	}
	return stats, nil
}

// Start begins the periodic publish loop. It fails without a JetStream
// context.
func (c *Collector) Start(ctx context.Context) error {
	if c.js == nil {
		return fmt.Errorf("no JetStream context configured")
	}
	c.logger.Info("Starting host monitor", zap.Duration("interval", c.interval))
	go c.collectLoop(ctx)
	return nil
}

// Stop halts the publish loop.
func (c *Collector) Stop() {
	c.stopOnce.Do(func() {
		c.logger.Info("Stopping host monitor")
		close(c.stop)
	})
}

func (c *Collector) collectLoop(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stop:
			return
		case <-ticker.C:
			c.publishSample(ctx)
		}
	}
}

func (c *Collector) publishSample(ctx context.Context) {
	stats, err := c.Snapshot(ctx)
	if err != nil {
		c.logger.Error("Failed to sample host load", zap.Error(err))
		return
	}

	data, err := json.Marshal(stats)
	if err != nil {
		c.logger.Error("Failed to marshal host stats", zap.Error(err))
		return
	}
	if _, err := c.js.Publish(hostSubject, data); err != nil {
		c.logger.Error("Failed to publish host stats", zap.Error(err))
		return
	}

	c.logger.Debug("Host load sampled",
		zap.Float64("cpu_usage", stats.CPUUsage),
		zap.Float64("memory_usage", stats.MemoryUsage))
}

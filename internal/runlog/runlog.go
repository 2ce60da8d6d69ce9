// Package runlog persists each device's live benchmark output to its own log
// file, so a hung binary or a thermally throttled run can be diagnosed after
// the fleet has moved on.
package runlog

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/1003xuexue/mobile-ai-bench/internal/scheduler"
)

const pruneInterval = time.Hour

// Manager creates per-device log files under a root directory and prunes
// files older than maxAge in the background.
type Manager struct {
	logger *zap.Logger
	dir    string
	maxAge time.Duration

	stop     chan struct{}
	stopOnce sync.Once
}

var _ scheduler.LogSink = (*Manager)(nil)

// NewManager creates a manager rooted at dir. A maxAge of zero disables
// pruning.
func NewManager(dir string, maxAge time.Duration, logger *zap.Logger) (*Manager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	return &Manager{
		logger: logger.Named("runlog"),
		dir:    dir,
		maxAge: maxAge,
		stop:   make(chan struct{}),
	}, nil
}

// DeviceWriter opens an append-only log file for one device's share of run
// runID, under <dir>/<serial>/.
func (m *Manager) DeviceWriter(runID, serial string) (io.WriteCloser, error) {
	deviceDir := filepath.Join(m.dir, serial)
	if err := os.MkdirAll(deviceDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create device log directory: %w", err)
	}

	name := fmt.Sprintf("%s_%s.log", time.Now().Format("20060102-150405"), runID)
	file, err := os.OpenFile(filepath.Join(deviceDir, name), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to create device log file: %w", err)
	}
	return file, nil
}

// Start begins the background prune loop. It is a no-op when pruning is
// disabled.
func (m *Manager) Start() {
	if m.maxAge <= 0 {
		return
	}
	m.logger.Info("Starting log pruning", zap.Duration("max_age", m.maxAge))
	go m.pruneLoop()
}

// Stop halts the prune loop.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		close(m.stop)
	})
}

func (m *Manager) pruneLoop() {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()

	m.prune()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.prune()
		}
	}
}

// prune removes log files whose modification time has fallen behind maxAge.
// Empty device directories are left in place.
func (m *Manager) prune() {
	cutoff := time.Now().Add(-m.maxAge)

	err := filepath.Walk(m.dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(path); err != nil {
				m.logger.Error("Failed to remove old log file",
					zap.String("path", path),
					zap.Error(err))
			}
		}
		return nil
	})
	if err != nil {
		m.logger.Error("Failed to prune logs", zap.Error(err))
	}
}

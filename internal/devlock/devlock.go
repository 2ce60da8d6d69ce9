// Package devlock serializes access to attached devices across processes.
// Each device is guarded by a file lock derived from its serial, so several
// benchmark runs on one host can share a device pool without driving the
// same unit concurrently.
package devlock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"go.uber.org/zap"
)

// DefaultTimeout bounds how long an acquisition waits before giving up.
const DefaultTimeout = time.Hour

// retryInterval paces lock polling while another process holds the file.
const retryInterval = 100 * time.Millisecond

// ErrTimeout reports that the lock stayed held for the whole wait window.
var ErrTimeout = errors.New("timed out waiting for device lock")

// Manager issues device locks backed by files under a shared directory.
type Manager struct {
	dir    string
	logger *zap.Logger
}

// NewManager creates a manager placing lock files under dir.
func NewManager(dir string, logger *zap.Logger) *Manager {
	return &Manager{
		dir:    dir,
		logger: logger.Named("devlock"),
	}
}

// Lock is a held device lock. Release is safe to call more than once.
type Lock struct {
	fl     *flock.Flock
	serial string
	logger *zap.Logger

	mu       sync.Mutex
	released bool
}

// Acquire blocks until the lock for serial is obtained, the timeout elapses,
// or ctx is cancelled. A non-positive timeout falls back to DefaultTimeout.
func (m *Manager) Acquire(ctx context.Context, serial string, timeout time.Duration) (*Lock, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}

	path := filepath.Join(m.dir, "device-lock-"+serial)
	fl := flock.New(path)

	m.logger.Debug("Waiting for device lock",
		zap.String("serial", serial),
		zap.String("path", path),
		zap.Duration("timeout", timeout))

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ok, err := fl.TryLockContext(waitCtx, retryInterval)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("%w: device %s held for over %s", ErrTimeout, serial, timeout)
		}
		return nil, fmt.Errorf("failed to acquire device lock for %s: %w", serial, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: device %s", ErrTimeout, serial)
	}

	m.logger.Debug("Acquired device lock", zap.String("serial", serial))
	return &Lock{fl: fl, serial: serial, logger: m.logger}, nil
}

// Release drops the lock. Repeat calls are no-ops so deferred releases can
// coexist with explicit ones on the happy path.
func (l *Lock) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.released {
		return nil
	}
	l.released = true

	if err := l.fl.Unlock(); err != nil {
		return fmt.Errorf("failed to release device lock for %s: %w", l.serial, err)
	}
	l.logger.Debug("Released device lock", zap.String("serial", l.serial))
	return nil
}

// Serial returns the serial this lock guards.
func (l *Lock) Serial() string {
	return l.serial
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.fl.Path()
}

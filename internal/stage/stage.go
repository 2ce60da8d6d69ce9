// Package stage moves artifacts between the host and device working
// directories. Every file transfer is gated on an MD5 comparison against the
// remote copy, so re-running a benchmark pipeline only pushes what changed.
package stage

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/1003xuexue/mobile-ai-bench/internal/adb"
	"github.com/1003xuexue/mobile-ai-bench/internal/checksum"
	"github.com/1003xuexue/mobile-ai-bench/internal/command"
)

// Stager pushes and pulls files for a device working directory.
type Stager struct {
	bridge *adb.Client
	logger *zap.Logger
}

// NewStager creates a stager over the bridge client.
func NewStager(bridge *adb.Client, logger *zap.Logger) *Stager {
	return &Stager{
		bridge: bridge,
		logger: logger.Named("stage"),
	}
}

// PushFile transfers local into remoteDir unless the remote copy already has
// the same digest. A non-regular local path is skipped with a warning. Remote
// digest lookup failing with status 1 means the file is absent; any other
// failure is also treated as needs-transfer so a flaky probe cannot leave a
// stale artifact in place.
func (s *Stager) PushFile(ctx context.Context, serial, local, remoteDir string) error {
	info, err := os.Stat(local)
	if err != nil || !info.Mode().IsRegular() {
		s.logger.Warn("Not a regular file, skipping push",
			zap.String("path", local))
		return nil
	}

	localSum, err := checksum.Sum(local)
	if err != nil {
		return fmt.Errorf("failed to checksum %s: %w", local, err)
	}

	remote := path.Join(remoteDir, filepath.Base(local))
	res, err := s.bridge.Shell(ctx, serial, "md5sum "+remote)
	if err != nil {
		if command.ExitCode(err) != 1 {
			s.logger.Warn("Remote digest lookup failed, pushing anyway",
				zap.String("serial", serial),
				zap.String("remote", remote),
				zap.Error(err))
		}
		return s.transfer(ctx, serial, local, remoteDir)
	}

	if remoteSum := firstField(res.Stdout); remoteSum == localSum {
		s.logger.Debug("Checksums equal, skipping push",
			zap.String("local", local),
			zap.String("remote", remote))
		return nil
	}
	return s.transfer(ctx, serial, local, remoteDir)
}

// PushTree pushes local into remoteDir. A directory contributes its immediate
// children only; nested directories are skipped by PushFile's regular-file
// check.
func (s *Stager) PushTree(ctx context.Context, serial, local, remoteDir string) error {
	info, err := os.Stat(local)
	if err != nil || !info.IsDir() {
		return s.PushFile(ctx, serial, local, remoteDir)
	}

	entries, err := os.ReadDir(local)
	if err != nil {
		return fmt.Errorf("failed to read directory %s: %w", local, err)
	}
	for _, entry := range entries {
		if err := s.PushFile(ctx, serial, filepath.Join(local, entry.Name()), remoteDir); err != nil {
			return err
		}
	}
	return nil
}

// Pull retrieves remote to local, best effort. A failed pull is logged and
// swallowed; the caller discovers it by the file's absence.
func (s *Stager) Pull(ctx context.Context, serial, remote, local string) {
	s.logger.Info("Pulling file from device",
		zap.String("serial", serial),
		zap.String("remote", remote),
		zap.String("local", local))
	if err := s.bridge.Pull(ctx, serial, remote, local); err != nil {
		s.logger.Warn("Pull failed",
			zap.String("serial", serial),
			zap.String("remote", remote),
			zap.Error(err))
	}
}

func (s *Stager) transfer(ctx context.Context, serial, local, remoteDir string) error {
	s.logger.Info("Pushing file to device",
		zap.String("serial", serial),
		zap.String("local", local),
		zap.String("remote_dir", remoteDir))
	if err := s.bridge.Push(ctx, serial, local, remoteDir); err != nil {
		return fmt.Errorf("failed to push %s: %w", local, err)
	}
	return nil
}

func firstField(out string) string {
	fields := strings.Fields(out)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

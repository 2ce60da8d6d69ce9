// Package build invokes the build system that produces the device benchmark
// binary. The build graph itself is external; this package only assembles
// command lines, probes DSP applicability, and knows where outputs land.
package build

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/1003xuexue/mobile-ai-bench/internal/adb"
	"github.com/1003xuexue/mobile-ai-bench/internal/command"
	"github.com/1003xuexue/mobile-ai-bench/internal/devlock"
	"github.com/1003xuexue/mobile-ai-bench/internal/model"
)

// hexagonProbePath is the Qualcomm FastRPC library whose presence means the
// device can drive the Hexagon DSP.
const hexagonProbePath = "/system/lib/libcdsprpc.so"

// ABIHost builds for the host machine instead of an Android target.
const ABIHost = "host"

// TargetBinPath resolves a build-target label to the local output directory
// and binary name: //aibench/a/b:c yields built/aibench/a/b and c.
func TargetBinPath(target string) (dir, bin string, err error) {
	prefix, bin, ok := strings.Cut(target, ":")
	if !ok || bin == "" {
		return "", "", fmt.Errorf("malformed build target %q, want //package:binary", target)
	}
	prefix = strings.TrimPrefix(prefix, "//")
	return filepath.Join("built", prefix), bin, nil
}

// Options describes one build invocation.
type Options struct {
	Target      string
	ABI         string
	Executors   []model.ExecutorType
	DeviceTypes []model.DeviceType
	NDKHome     string
}

// BazelArgs assembles the command line for one build: android toolchain flags
// unless building for the host, one define per requested executor, the fixed
// acceleration defines, and the DSP defines when the probe allowed them.
func BazelArgs(opts Options, enableDSP bool) []string {
	args := []string{"build", opts.Target}
	if opts.ABI != ABIHost {
		args = append(args,
			"--config", "android",
			"--cpu="+opts.ABI,
			"--action_env=ANDROID_NDK_HOME="+opts.NDKHome,
		)
	}
	for _, e := range opts.Executors {
		args = append(args, "--define", strings.ToLower(e.String())+"=true")
	}
	args = append(args,
		"--define", "neon=true",
		"--define", "openmp=true",
		"--define", "opencl=true",
		"--define", "quantize=true",
	)
	if enableDSP {
		args = append(args, "--define", "dsp=true", "--define", "hexagon=true")
	}
	return args
}

// WantsDSP reports whether the build may need the Hexagon toolchain at all.
// The DSP libraries only exist for 32-bit ARM.
func WantsDSP(opts Options) bool {
	if opts.ABI != model.ABIArm32 {
		return false
	}
	for _, d := range opts.DeviceTypes {
		if d == model.DeviceDSP {
			return true
		}
	}
	return false
}

// BazelBuilder runs builds on the host through the command runner.
type BazelBuilder struct {
	runner command.Runner
	bridge *adb.Client
	locks  *devlock.Manager
	logger *zap.Logger
}

// NewBazelBuilder creates a host builder. The bridge and lock manager serve
// the DSP probe, which must not race a benchmark already holding the device.
func NewBazelBuilder(runner command.Runner, bridge *adb.Client, locks *devlock.Manager, logger *zap.Logger) *BazelBuilder {
	return &BazelBuilder{
		runner: runner,
		bridge: bridge,
		locks:  locks,
		logger: logger.Named("build"),
	}
}

// Build compiles the target for one device, streaming build output to out,
// and returns the local directory and name of the produced binary. An empty
// serial skips the DSP probe and leaves the DSP defines off.
func (b *BazelBuilder) Build(ctx context.Context, out io.Writer, serial string, opts Options) (string, string, error) {
	enableDSP := false
	if serial != "" && WantsDSP(opts) {
		ok, err := DeviceHasHexagon(ctx, b.bridge, b.locks, b.logger, serial)
		if err != nil {
			return "", "", err
		}
		enableDSP = ok
	}

	args := BazelArgs(opts, enableDSP)
	b.logger.Info("Building target",
		zap.String("target", opts.Target),
		zap.String("abi", opts.ABI),
		zap.Bool("dsp", enableDSP))

	if err := b.runner.Stream(ctx, out, "bazel", args...); err != nil {
		return "", "", fmt.Errorf("failed to build %s: %w", opts.Target, err)
	}
	b.logger.Info("Build done", zap.String("target", opts.Target))

	return TargetBinPath(opts.Target)
}

// DeviceHasHexagon checks for the FastRPC library on the device, under the
// device lock. A status-1 listing or a not-found message means the DSP path
// is unavailable and the build proceeds without it.
func DeviceHasHexagon(ctx context.Context, bridge *adb.Client, locks *devlock.Manager, logger *zap.Logger, serial string) (bool, error) {
	lock, err := locks.Acquire(ctx, serial, 0)
	if err != nil {
		return false, err
	}
	defer lock.Release()

	res, err := bridge.Shell(ctx, serial, "ls "+hexagonProbePath)
	if err != nil {
		if command.ExitCode(err) == 1 {
			logger.Info("Device has no FastRPC library, skipping DSP",
				zap.String("serial", serial))
			return false, nil
		}
		return false, fmt.Errorf("failed to probe %s on %s: %w", hexagonProbePath, serial, err)
	}
	if strings.Contains(res.Stdout, "No such file or directory") {
		logger.Info("Device has no FastRPC library, skipping DSP",
			zap.String("serial", serial))
		return false, nil
	}
	return true, nil
}

package build

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/1003xuexue/mobile-ai-bench/internal/adb"
	"github.com/1003xuexue/mobile-ai-bench/internal/command"
	"github.com/1003xuexue/mobile-ai-bench/internal/devlock"
	"github.com/1003xuexue/mobile-ai-bench/internal/model"
	"github.com/1003xuexue/mobile-ai-bench/internal/testutil"
)

func TestTargetBinPath(t *testing.T) {
	t.Run("Benchmark Target", func(t *testing.T) {
		dir, bin, err := TargetBinPath("//aibench/benchmark:model_benchmark")
		require.NoError(t, err)
		assert.Equal(t, "built/aibench/benchmark", dir)
		assert.Equal(t, "model_benchmark", bin)
	})

	t.Run("Nested Package", func(t *testing.T) {
		dir, bin, err := TargetBinPath("//aibench/a/b:c")
		require.NoError(t, err)
		assert.Equal(t, "built/aibench/a/b", dir)
		assert.Equal(t, "c", bin)
	})

	t.Run("Malformed", func(t *testing.T) {
		_, _, err := TargetBinPath("//aibench/benchmark")
		require.Error(t, err)
		_, _, err = TargetBinPath("//aibench/benchmark:")
		require.Error(t, err)
	})
}

func TestBazelArgs(t *testing.T) {
	opts := Options{
		Target:    "//aibench/benchmark:model_benchmark",
		ABI:       model.ABIArm32,
		Executors: []model.ExecutorType{model.ExecutorMACE, model.ExecutorSNPE},
		NDKHome:   "/opt/ndk",
	}

	t.Run("Android Target", func(t *testing.T) {
		line := strings.Join(BazelArgs(opts, false), " ")
		assert.Contains(t, line, "build //aibench/benchmark:model_benchmark")
		assert.Contains(t, line, "--config android")
		assert.Contains(t, line, "--cpu=armeabi-v7a")
		assert.Contains(t, line, "--action_env=ANDROID_NDK_HOME=/opt/ndk")
		assert.Contains(t, line, "--define mace=true")
		assert.Contains(t, line, "--define snpe=true")
		assert.Contains(t, line, "--define neon=true")
		assert.Contains(t, line, "--define openmp=true")
		assert.Contains(t, line, "--define opencl=true")
		assert.Contains(t, line, "--define quantize=true")
		assert.NotContains(t, line, "dsp=true")
		assert.NotContains(t, line, "hexagon=true")
	})

	t.Run("DSP Enabled", func(t *testing.T) {
		line := strings.Join(BazelArgs(opts, true), " ")
		assert.Contains(t, line, "--define dsp=true")
		assert.Contains(t, line, "--define hexagon=true")
	})

	t.Run("Host Build Omits Android Flags", func(t *testing.T) {
		host := opts
		host.ABI = ABIHost
		line := strings.Join(BazelArgs(host, false), " ")
		assert.NotContains(t, line, "--config android")
		assert.NotContains(t, line, "--cpu=")
		assert.NotContains(t, line, "ANDROID_NDK_HOME")
	})
}

func newBazelBuilder(t *testing.T, runner command.Runner) *BazelBuilder {
	t.Helper()
	logger := zaptest.NewLogger(t)
	bridge := adb.NewClient(runner, logger)
	locks := devlock.NewManager(t.TempDir(), logger)
	return NewBazelBuilder(runner, bridge, locks, logger)
}

func TestBazelBuilderBuild(t *testing.T) {
	opts := Options{
		Target:      "//aibench/benchmark:model_benchmark",
		ABI:         model.ABIArm32,
		Executors:   []model.ExecutorType{model.ExecutorMACE},
		DeviceTypes: []model.DeviceType{model.DeviceCPU, model.DeviceDSP},
		NDKHome:     "/opt/ndk",
	}

	t.Run("Probe Finds FastRPC", func(t *testing.T) {
		runner := (&testutil.FakeRunner{}).Script(testutil.FakeResponse{
			Match:  "ls /system/lib/libcdsprpc.so",
			Result: command.Result{Stdout: "/system/lib/libcdsprpc.so\n"},
		})

		dir, bin, err := newBazelBuilder(t, runner).Build(context.Background(), io.Discard, "serial-1", opts)
		require.NoError(t, err)
		assert.Equal(t, "built/aibench/benchmark", dir)
		assert.Equal(t, "model_benchmark", bin)

		builds := runner.CallsMatching("bazel build")
		require.Len(t, builds, 1)
		assert.Contains(t, builds[0], "--define dsp=true")
		assert.Contains(t, builds[0], "--define hexagon=true")
	})

	t.Run("Probe Status 1 Skips DSP", func(t *testing.T) {
		runner := (&testutil.FakeRunner{}).Script(testutil.FakeResponse{
			Match: "ls /system/lib/libcdsprpc.so",
			Err:   &command.ExitError{Cmd: "adb", Code: 1},
		})

		_, _, err := newBazelBuilder(t, runner).Build(context.Background(), io.Discard, "serial-1", opts)
		require.NoError(t, err)

		builds := runner.CallsMatching("bazel build")
		require.Len(t, builds, 1)
		assert.NotContains(t, builds[0], "dsp=true")
	})

	t.Run("Probe Not Found Message Skips DSP", func(t *testing.T) {
		runner := (&testutil.FakeRunner{}).Script(testutil.FakeResponse{
			Match:  "ls /system/lib/libcdsprpc.so",
			Result: command.Result{Stdout: "ls: /system/lib/libcdsprpc.so: No such file or directory\n"},
		})

		_, _, err := newBazelBuilder(t, runner).Build(context.Background(), io.Discard, "serial-1", opts)
		require.NoError(t, err)

		builds := runner.CallsMatching("bazel build")
		require.Len(t, builds, 1)
		assert.NotContains(t, builds[0], "dsp=true")
	})

	t.Run("No DSP Request Skips Probe", func(t *testing.T) {
		cpuOnly := opts
		cpuOnly.DeviceTypes = []model.DeviceType{model.DeviceCPU}

		runner := &testutil.FakeRunner{}
		_, _, err := newBazelBuilder(t, runner).Build(context.Background(), io.Discard, "serial-1", cpuOnly)
		require.NoError(t, err)
		assert.Empty(t, runner.CallsMatching("libcdsprpc"))
	})

	t.Run("Arm64 Skips Probe", func(t *testing.T) {
		arm64 := opts
		arm64.ABI = model.ABIArm64

		runner := &testutil.FakeRunner{}
		_, _, err := newBazelBuilder(t, runner).Build(context.Background(), io.Discard, "serial-1", arm64)
		require.NoError(t, err)
		assert.Empty(t, runner.CallsMatching("libcdsprpc"))
	})

	t.Run("Build Failure Propagates", func(t *testing.T) {
		runner := (&testutil.FakeRunner{}).Script(testutil.FakeResponse{
			Match: "bazel build",
			Err:   &command.ExitError{Cmd: "bazel", Code: 2},
		})
		cpuOnly := opts
		cpuOnly.DeviceTypes = []model.DeviceType{model.DeviceCPU}

		_, _, err := newBazelBuilder(t, runner).Build(context.Background(), io.Discard, "serial-1", cpuOnly)
		require.Error(t, err)
	})
}

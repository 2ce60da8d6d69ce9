package adb

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/1003xuexue/mobile-ai-bench/internal/command"
	"github.com/1003xuexue/mobile-ai-bench/internal/testutil"
)

const deviceListDump = `List of devices attached
8XV7N18A25001234	device
* daemon started successfully *
9YW8M20B41005678	device
0AB2C34D56007890	offline
4FG6H78J90001111	unauthorized
`

const propDump = `[ro.product.model]: [Mi 8]
[ro.board.platform]: [sdm845]
[ro.product.cpu.abilist]: [arm64-v8a, armeabi-v7a, armeabi]
this line is noise and must be skipped
[incomplete line]:
`

func newTestClient(t *testing.T, runner command.Runner) *Client {
	t.Helper()
	return NewClient(runner, zaptest.NewLogger(t))
}

func TestDevices(t *testing.T) {
	t.Run("Parses Device Lines Only", func(t *testing.T) {
		runner := (&testutil.FakeRunner{}).Script(testutil.FakeResponse{
			Match:  "adb devices",
			Result: command.Result{Stdout: deviceListDump},
		})

		serials, err := newTestClient(t, runner).Devices(context.Background())
		require.NoError(t, err)
		assert.Equal(t, []string{"8XV7N18A25001234", "9YW8M20B41005678"}, serials)
	})

	t.Run("Empty Output", func(t *testing.T) {
		runner := &testutil.FakeRunner{}
		serials, err := newTestClient(t, runner).Devices(context.Background())
		require.NoError(t, err)
		assert.Empty(t, serials)
	})

	t.Run("Bridge Failure", func(t *testing.T) {
		runner := (&testutil.FakeRunner{}).Script(testutil.FakeResponse{
			Match: "adb devices",
			Err:   &command.ExitError{Cmd: "adb", Code: 1},
		})

		_, err := newTestClient(t, runner).Devices(context.Background())
		require.Error(t, err)
	})
}

func TestProps(t *testing.T) {
	runner := (&testutil.FakeRunner{}).Script(testutil.FakeResponse{
		Match:  "shell getprop",
		Result: command.Result{Stdout: propDump},
	})

	props, err := newTestClient(t, runner).Props(context.Background(), "8XV7N18A25001234")
	require.NoError(t, err)

	assert.Equal(t, "Mi 8", props["ro.product.model"])
	assert.Equal(t, "sdm845", props["ro.board.platform"])
	assert.Len(t, props, 3, "malformed lines must be skipped, not fatal")
}

func TestSupportedABIs(t *testing.T) {
	runner := (&testutil.FakeRunner{}).Script(testutil.FakeResponse{
		Match:  "shell getprop",
		Result: command.Result{Stdout: propDump},
	})

	abis, err := newTestClient(t, runner).SupportedABIs(context.Background(), "8XV7N18A25001234")
	require.NoError(t, err)
	assert.Equal(t, []string{"arm64-v8a", "armeabi-v7a", "armeabi"}, abis)
}

func TestDescribe(t *testing.T) {
	runner := (&testutil.FakeRunner{}).Script(testutil.FakeResponse{
		Match:  "shell getprop",
		Result: command.Result{Stdout: propDump},
	})

	dev, err := newTestClient(t, runner).Describe(context.Background(), "8XV7N18A25001234")
	require.NoError(t, err)

	assert.Equal(t, "8XV7N18A25001234", dev.Serial)
	assert.Equal(t, "Mi 8", dev.Product)
	assert.Equal(t, "sdm845", dev.SoC)
	assert.True(t, dev.SupportsABI("armeabi-v7a"))
	assert.False(t, dev.SupportsABI("x86_64"))
}

func TestRegistry(t *testing.T) {
	t.Run("Caches Property Lookups", func(t *testing.T) {
		runner := (&testutil.FakeRunner{}).Script(testutil.FakeResponse{
			Match:  "shell getprop",
			Result: command.Result{Stdout: propDump},
		})
		reg := NewRegistry(newTestClient(t, runner), zaptest.NewLogger(t))

		_, err := reg.Device(context.Background(), "8XV7N18A25001234")
		require.NoError(t, err)
		_, err = reg.Device(context.Background(), "8XV7N18A25001234")
		require.NoError(t, err)

		assert.Equal(t, 1, runner.CountMatching("getprop"))
	})

	t.Run("Groups By Platform", func(t *testing.T) {
		runner := (&testutil.FakeRunner{}).
			Script(testutil.FakeResponse{
				Match:  "-s serial-a shell getprop",
				Result: command.Result{Stdout: "[ro.board.platform]: [sdm845]\n"},
			}).
			Script(testutil.FakeResponse{
				Match:  "-s serial-b shell getprop",
				Result: command.Result{Stdout: "[ro.board.platform]: [kirin970]\n"},
			}).
			Script(testutil.FakeResponse{
				Match:  "-s serial-c shell getprop",
				Result: command.Result{Stdout: "[ro.board.platform]: [sdm845]\n"},
			})
		reg := NewRegistry(newTestClient(t, runner), zaptest.NewLogger(t))

		groups, err := reg.GroupBySoC(context.Background(), []string{"serial-a", "serial-b", "serial-c"})
		require.NoError(t, err)
		assert.Equal(t, []string{"serial-a", "serial-c"}, groups["sdm845"])
		assert.Equal(t, []string{"serial-b"}, groups["kirin970"])
	})

	t.Run("Select Filters By Target SoC", func(t *testing.T) {
		runner := (&testutil.FakeRunner{}).
			Script(testutil.FakeResponse{
				Match:  "adb devices",
				Result: command.Result{Stdout: "seriala\tdevice\nserialb\tdevice\n"},
			}).
			Script(testutil.FakeResponse{
				Match:  "-s seriala shell getprop",
				Result: command.Result{Stdout: "[ro.board.platform]: [sdm845]\n"},
			}).
			Script(testutil.FakeResponse{
				Match:  "-s serialb shell getprop",
				Result: command.Result{Stdout: "[ro.board.platform]: [kirin970]\n"},
			})
		reg := NewRegistry(newTestClient(t, runner), zaptest.NewLogger(t))

		devices, err := reg.Select(context.Background(), []string{"sdm845"})
		require.NoError(t, err)
		require.Len(t, devices, 1)
		assert.Equal(t, "seriala", devices[0].Serial)
	})

	t.Run("Select Skips Vanished Device", func(t *testing.T) {
		runner := (&testutil.FakeRunner{}).
			Script(testutil.FakeResponse{
				Match:  "adb devices",
				Result: command.Result{Stdout: "seriala\tdevice\nserialb\tdevice\n"},
			}).
			Script(testutil.FakeResponse{
				Match: "-s seriala shell getprop",
				Err:   &command.ExitError{Cmd: "adb", Code: 1},
			}).
			Script(testutil.FakeResponse{
				Match:  "-s serialb shell getprop",
				Result: command.Result{Stdout: "[ro.board.platform]: [sdm845]\n"},
			})
		reg := NewRegistry(newTestClient(t, runner), zaptest.NewLogger(t))

		devices, err := reg.Select(context.Background(), nil)
		require.NoError(t, err)
		require.Len(t, devices, 1)
		assert.Equal(t, "serialb", devices[0].Serial)
	})
}

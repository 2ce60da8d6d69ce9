// Package adb drives the Android debug bridge through the narrow command
// runner. It depends only on the textual contracts of the bridge: the
// device-list format, the bracketed property dump, and exit statuses.
package adb

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/1003xuexue/mobile-ai-bench/internal/command"
	"github.com/1003xuexue/mobile-ai-bench/internal/model"
)

var (
	// deviceLineRe matches "<serial> device" entries; header, offline and
	// unauthorized lines fall through.
	deviceLineRe = regexp.MustCompile(`^(\w+)\s+device`)

	// propLineRe matches "[key]: [value]" property dump lines.
	propLineRe = regexp.MustCompile(`^\[(.+)\]: \[(.+)\]`)
)

// Client invokes the bridge binary. All methods tolerate the device
// disappearing between calls by returning the underlying command error.
type Client struct {
	runner command.Runner
	logger *zap.Logger
	bin    string
}

// NewClient creates a bridge client using the adb binary on PATH.
func NewClient(runner command.Runner, logger *zap.Logger) *Client {
	return &Client{
		runner: runner,
		logger: logger.Named("adb"),
		bin:    "adb",
	}
}

// Devices returns the serials currently in the "device" state, in the order
// the bridge reports them.
func (c *Client) Devices(ctx context.Context) ([]string, error) {
	res, err := c.runner.Run(ctx, c.bin, "devices")
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}

	var serials []string
	for _, line := range splitLines(res.Stdout) {
		if m := deviceLineRe.FindStringSubmatch(line); m != nil {
			serials = append(serials, m[1])
		}
	}
	return serials, nil
}

// Props dumps and parses the device properties. Malformed lines are skipped,
// not fatal.
func (c *Client) Props(ctx context.Context, serial string) (map[string]string, error) {
	res, err := c.Shell(ctx, serial, "getprop")
	if err != nil {
		return nil, fmt.Errorf("failed to read properties of %s: %w", serial, err)
	}

	props := make(map[string]string)
	for _, line := range splitLines(res.Stdout) {
		if m := propLineRe.FindStringSubmatch(line); m != nil {
			props[m[1]] = m[2]
		}
	}
	return props, nil
}

// SupportedABIs returns the ABI list the device advertises.
func (c *Client) SupportedABIs(ctx context.Context, serial string) ([]string, error) {
	props, err := c.Props(ctx, serial)
	if err != nil {
		return nil, err
	}
	list, ok := props[model.PropABIList]
	if !ok {
		return nil, fmt.Errorf("device %s reports no %s property", serial, model.PropABIList)
	}

	var abis []string
	for _, abi := range strings.Split(list, ",") {
		abis = append(abis, strings.TrimSpace(abi))
	}
	return abis, nil
}

// Describe reads the properties relevant to benchmarking into a Device.
func (c *Client) Describe(ctx context.Context, serial string) (*model.Device, error) {
	props, err := c.Props(ctx, serial)
	if err != nil {
		return nil, err
	}

	dev := &model.Device{
		Serial:  serial,
		Product: props[model.PropProductModel],
		SoC:     props[model.PropBoardPlatform],
	}
	for _, abi := range strings.Split(props[model.PropABIList], ",") {
		if abi = strings.TrimSpace(abi); abi != "" {
			dev.ABIs = append(dev.ABIs, abi)
		}
	}
	return dev, nil
}

// Shell runs a command on the device and captures its output.
func (c *Client) Shell(ctx context.Context, serial, cmd string) (command.Result, error) {
	return c.runner.Run(ctx, c.bin, "-s", serial, "shell", cmd)
}

// StreamShell runs a command on the device with output forwarded live.
func (c *Client) StreamShell(ctx context.Context, out io.Writer, serial, cmd string) error {
	return c.runner.Stream(ctx, out, c.bin, "-s", serial, "shell", cmd)
}

// Push transfers a local path to the device.
func (c *Client) Push(ctx context.Context, serial, local, remote string) error {
	if _, err := c.runner.Run(ctx, c.bin, "-s", serial, "push", local, remote); err != nil {
		return fmt.Errorf("failed to push %s to %s: %w", local, remote, err)
	}
	return nil
}

// Pull transfers a remote path from the device.
func (c *Client) Pull(ctx context.Context, serial, remote, local string) error {
	if _, err := c.runner.Run(ctx, c.bin, "-s", serial, "pull", remote, local); err != nil {
		return fmt.Errorf("failed to pull %s to %s: %w", remote, local, err)
	}
	return nil
}

// splitLines trims the output into non-empty lines, dropping any bytes that
// are not valid UTF-8.
func splitLines(s string) []string {
	s = strings.ToValidUTF8(s, "")
	var lines []string
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

package scheduler

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/1003xuexue/mobile-ai-bench/internal/adb"
)

// affinityMask derives the taskset mask pinning the benchmark to the fastest
// cores: every core whose maximum frequency equals the global maximum gets a
// set bit, cpu0 in the least significant position. Core discovery walks
// cpu0, cpu1, ... until a frequency file stops being readable.
func affinityMask(ctx context.Context, bridge *adb.Client, serial string) (string, error) {
	var freqs []int
	for cpu := 0; ; cpu++ {
		res, err := bridge.Shell(ctx, serial,
			fmt.Sprintf("cat /sys/devices/system/cpu/cpu%d/cpufreq/cpuinfo_max_freq", cpu))
		if err != nil {
			break
		}
		freq, err := strconv.Atoi(strings.TrimSpace(res.Stdout))
		if err != nil {
			break
		}
		freqs = append(freqs, freq)
	}
	if len(freqs) == 0 {
		return "", fmt.Errorf("%w on %s", ErrNoFrequencies, serial)
	}

	maxFreq := freqs[0]
	for _, f := range freqs[1:] {
		if f > maxFreq {
			maxFreq = f
		}
	}

	var mask uint64
	for i, f := range freqs {
		if f == maxFreq {
			mask |= 1 << uint(i)
		}
	}
	return strconv.FormatUint(mask, 16), nil
}

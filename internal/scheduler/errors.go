package scheduler

import "errors"

var (
	// ErrNoDevices is returned when device selection yields an empty fleet
	ErrNoDevices = errors.New("no matching devices connected")

	// ErrNoFrequencies is returned when a device exposes no per-core
	// frequency files to derive an affinity mask from
	ErrNoFrequencies = errors.New("no per-core frequencies readable")
)

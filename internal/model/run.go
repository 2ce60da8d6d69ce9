package model

import "time"

// RunStatus summarizes one full orchestration run across the fleet.
type RunStatus string

const (
	RunStatusCompleted RunStatus = "completed"
	RunStatusPartial   RunStatus = "partial"
	RunStatusFailed    RunStatus = "failed"
)

// DeviceResult is the outcome of one device's run: the pulled result file, or
// the error that aborted the device. A missing result path with no error means
// the pull failed; the file's absence is the signal, not an exception.
type DeviceResult struct {
	Serial     string `json:"serial"`
	Product    string `json:"product"`
	SoC        string `json:"soc"`
	ABI        string `json:"abi"`
	ResultPath string `json:"result_path,omitempty"`
	JobsRun    int    `json:"jobs_run"`
	Error      string `json:"error,omitempty"`
}

// RunSummary is published and stored once per orchestration run.
type RunSummary struct {
	RunID       string         `json:"run_id"`
	Status      RunStatus      `json:"status"`
	Devices     []DeviceResult `json:"devices"`
	JobsPlanned int            `json:"jobs_planned"`
	Host        *HostStats     `json:"host,omitempty"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt time.Time      `json:"completed_at"`
}

// HostStats is a snapshot of the orchestration host's load. Benchmarks are
// sensitive to host contention during adb transfers, so summaries carry it.
type HostStats struct {
	Hostname      string    `json:"hostname"`
	Platform      string    `json:"platform"`
	KernelVersion string    `json:"kernel_version"`
	CPUUsage      float64   `json:"cpu_usage"`
	MemoryUsage   float64   `json:"memory_usage"`
	CollectedAt   time.Time `json:"collected_at"`
}

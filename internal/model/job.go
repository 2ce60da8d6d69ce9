package model

import (
	"fmt"
	"strings"
	"time"
)

// ExecutorType identifies an inference engine under benchmark.
type ExecutorType int

const (
	ExecutorMACE ExecutorType = iota
	ExecutorSNPE
	ExecutorNCNN
	ExecutorTFLite
)

var executorNames = map[ExecutorType]string{
	ExecutorMACE:   "MACE",
	ExecutorSNPE:   "SNPE",
	ExecutorNCNN:   "NCNN",
	ExecutorTFLite: "TFLITE",
}

// String returns the catalog name of the executor.
func (e ExecutorType) String() string {
	if name, ok := executorNames[e]; ok {
		return name
	}
	return fmt.Sprintf("ExecutorType(%d)", int(e))
}

// AllExecutors returns every known executor in declaration order.
func AllExecutors() []ExecutorType {
	return []ExecutorType{ExecutorMACE, ExecutorSNPE, ExecutorNCNN, ExecutorTFLite}
}

// ParseExecutor resolves a catalog executor name.
func ParseExecutor(s string) (ExecutorType, error) {
	for e, name := range executorNames {
		if strings.EqualFold(s, name) {
			return e, nil
		}
	}
	return 0, fmt.Errorf("unknown executor: %q", s)
}

// DeviceType identifies the compute unit a job targets on the device.
type DeviceType int

const (
	DeviceCPU DeviceType = iota
	DeviceGPU
	DeviceDSP
	DeviceNPU
)

var deviceTypeNames = map[DeviceType]string{
	DeviceCPU: "CPU",
	DeviceGPU: "GPU",
	DeviceDSP: "DSP",
	DeviceNPU: "NPU",
}

// String returns the catalog name of the device type.
func (d DeviceType) String() string {
	if name, ok := deviceTypeNames[d]; ok {
		return name
	}
	return fmt.Sprintf("DeviceType(%d)", int(d))
}

// AllDeviceTypes returns every known device type in declaration order.
func AllDeviceTypes() []DeviceType {
	return []DeviceType{DeviceCPU, DeviceGPU, DeviceDSP, DeviceNPU}
}

// ParseDeviceType resolves a catalog device-type name.
func ParseDeviceType(s string) (DeviceType, error) {
	for d, name := range deviceTypeNames {
		if strings.EqualFold(s, name) {
			return d, nil
		}
	}
	return 0, fmt.Errorf("unknown device type: %q", s)
}

// ModelName identifies a network model in the benchmark catalog.
type ModelName int

const (
	ModelMobileNetV1 ModelName = iota
	ModelMobileNetV2
	ModelSqueezeNetV11
	ModelInceptionV3
	ModelVGG16
)

var modelNames = map[ModelName]string{
	ModelMobileNetV1:   "MobileNetV1",
	ModelMobileNetV2:   "MobileNetV2",
	ModelSqueezeNetV11: "SqueezeNetV11",
	ModelInceptionV3:   "InceptionV3",
	ModelVGG16:         "VGG16",
}

// String returns the catalog name of the model.
func (m ModelName) String() string {
	if name, ok := modelNames[m]; ok {
		return name
	}
	return fmt.Sprintf("ModelName(%d)", int(m))
}

// AllModels returns every known model in declaration order.
func AllModels() []ModelName {
	return []ModelName{ModelMobileNetV1, ModelMobileNetV2, ModelSqueezeNetV11, ModelInceptionV3, ModelVGG16}
}

// ParseModel resolves a catalog model name.
func ParseModel(s string) (ModelName, error) {
	for m, name := range modelNames {
		if strings.EqualFold(s, name) {
			return m, nil
		}
	}
	return 0, fmt.Errorf("unknown model: %q", s)
}

// BenchmarkOption selects the measurement mode of the device binary.
type BenchmarkOption int

const (
	OptionPerformance BenchmarkOption = iota
	OptionPrecision
)

// String returns the option name passed through configuration.
func (o BenchmarkOption) String() string {
	switch o {
	case OptionPerformance:
		return "Performance"
	case OptionPrecision:
		return "Precision"
	}
	return fmt.Sprintf("BenchmarkOption(%d)", int(o))
}

// ParseBenchmarkOption resolves a configured benchmark option name.
func ParseBenchmarkOption(s string) (BenchmarkOption, error) {
	switch {
	case strings.EqualFold(s, "Performance"):
		return OptionPerformance, nil
	case strings.EqualFold(s, "Precision"):
		return OptionPrecision, nil
	}
	return 0, fmt.Errorf("unknown benchmark option: %q", s)
}

// Job is a single benchmark invocation: one model run by one executor on one
// compute unit. Jobs are immutable once enumerated from the catalog and execute
// in catalog order on every device.
type Job struct {
	Executor   ExecutorType `json:"executor"`
	Model      ModelName    `json:"model"`
	DeviceType DeviceType   `json:"device_type"`
	Quantize   bool         `json:"quantize"`
}

// String renders the job the way run logs print it.
func (j Job) String() string {
	precision := "Float"
	if j.Quantize {
		precision = "Quantized"
	}
	return fmt.Sprintf("%s %s %s %s", j.Executor, j.Model, j.DeviceType, precision)
}

// JobStatus tracks one job execution in the run history.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusSkipped   JobStatus = "skipped"
)

// JobResult reports one job execution for history storage and live
// publishing. ID stays stable from the running record to the final one.
// Output holds the tail of the binary's live output, enough to read the
// reported latency or the failure message without the full device log.
type JobResult struct {
	ID         string        `json:"id"`
	RunID      string        `json:"run_id"`
	Serial     string        `json:"serial"`
	SoC        string        `json:"soc"`
	ABI        string        `json:"abi"`
	Executor   string        `json:"executor"`
	Model      string        `json:"model"`
	DeviceType string        `json:"device_type"`
	Quantize   bool          `json:"quantize"`
	Status     JobStatus     `json:"status"`
	Output     string        `json:"output,omitempty"`
	Error      string        `json:"error,omitempty"`
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration"`
}

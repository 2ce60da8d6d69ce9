// Package catalog loads the benchmark catalog: which models each executor
// runs, where their artifacts live, and which compute units they apply to.
// The catalog plus a filter set yields the run plan for a fleet run.
package catalog

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/1003xuexue/mobile-ai-bench/internal/model"
)

// FilterAll expands a filter to every known value of its enum.
const FilterAll = "all"

// Model is one catalog entry: a network model with its artifact locations.
type Model struct {
	Name           model.ModelName
	Path           string
	Checksum       string
	WeightPath     string
	WeightChecksum string
	DeviceTypes    []model.DeviceType
	Quantize       bool
}

// Benchmark groups the models one executor runs.
type Benchmark struct {
	Executor model.ExecutorType
	Models   []Model
}

// Catalog is the full benchmark catalog in file order.
type Catalog struct {
	Benchmarks []Benchmark
}

type rawModel struct {
	Name           string   `yaml:"name"`
	Path           string   `yaml:"path"`
	Checksum       string   `yaml:"checksum"`
	WeightPath     string   `yaml:"weight_path,omitempty"`
	WeightChecksum string   `yaml:"weight_checksum,omitempty"`
	DeviceTypes    []string `yaml:"device_types"`
	Quantize       bool     `yaml:"quantize,omitempty"`
}

type rawBenchmark struct {
	Executor string     `yaml:"executor"`
	Models   []rawModel `yaml:"models"`
}

type rawCatalog struct {
	Benchmarks []rawBenchmark `yaml:"benchmarks"`
}

// Load reads and validates the catalog file at path.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	return Parse(data)
}

// Parse validates catalog YAML into typed form. Unknown executor, model, or
// device-type names are errors; a silently dropped entry would skew a fleet
// run's coverage.
func Parse(data []byte) (*Catalog, error) {
	var raw rawCatalog
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	if len(raw.Benchmarks) == 0 {
		return nil, fmt.Errorf("catalog lists no benchmarks")
	}

	cat := &Catalog{}
	for _, rb := range raw.Benchmarks {
		executor, err := model.ParseExecutor(rb.Executor)
		if err != nil {
			return nil, fmt.Errorf("invalid catalog: %w", err)
		}
		bench := Benchmark{Executor: executor}

		for _, rm := range rb.Models {
			m, err := parseModel(rm)
			if err != nil {
				return nil, fmt.Errorf("invalid catalog entry under %s: %w", executor, err)
			}
			bench.Models = append(bench.Models, m)
		}
		cat.Benchmarks = append(cat.Benchmarks, bench)
	}
	return cat, nil
}

func parseModel(rm rawModel) (Model, error) {
	name, err := model.ParseModel(rm.Name)
	if err != nil {
		return Model{}, err
	}
	if rm.Path == "" {
		return Model{}, fmt.Errorf("model %s has no path", name)
	}
	if rm.Checksum == "" {
		return Model{}, fmt.Errorf("model %s has no checksum", name)
	}
	if rm.WeightPath != "" && rm.WeightChecksum == "" {
		return Model{}, fmt.Errorf("model %s has a weight path but no weight checksum", name)
	}
	if len(rm.DeviceTypes) == 0 {
		return Model{}, fmt.Errorf("model %s lists no device types", name)
	}

	m := Model{
		Name:           name,
		Path:           rm.Path,
		Checksum:       rm.Checksum,
		WeightPath:     rm.WeightPath,
		WeightChecksum: rm.WeightChecksum,
		Quantize:       rm.Quantize,
	}
	for _, rd := range rm.DeviceTypes {
		d, err := model.ParseDeviceType(rd)
		if err != nil {
			return Model{}, fmt.Errorf("model %s: %w", name, err)
		}
		m.DeviceTypes = append(m.DeviceTypes, d)
	}
	return m, nil
}

// WriteSnapshot serializes the catalog to path. The snapshot rides along in
// the push list so the device binary reads the same catalog the host planned
// from.
func (c *Catalog) WriteSnapshot(path string) error {
	raw := rawCatalog{}
	for _, b := range c.Benchmarks {
		rb := rawBenchmark{Executor: b.Executor.String()}
		for _, m := range b.Models {
			rm := rawModel{
				Name:           m.Name.String(),
				Path:           m.Path,
				Checksum:       m.Checksum,
				WeightPath:     m.WeightPath,
				WeightChecksum: m.WeightChecksum,
				Quantize:       m.Quantize,
			}
			for _, d := range m.DeviceTypes {
				rm.DeviceTypes = append(rm.DeviceTypes, d.String())
			}
			rb.Models = append(rb.Models, rm)
		}
		raw.Benchmarks = append(raw.Benchmarks, rb)
	}

	data, err := yaml.Marshal(&raw)
	if err != nil {
		return fmt.Errorf("failed to serialize catalog snapshot: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write catalog snapshot: %w", err)
	}
	return nil
}

// Filters restrict a fleet run to subsets of the catalog.
type Filters struct {
	Executors   []model.ExecutorType
	Models      []model.ModelName
	DeviceTypes []model.DeviceType
}

// ParseFilters expands the configured comma-separated sets. The literal "all"
// selects every known value.
func ParseFilters(executors, models, deviceTypes string) (Filters, error) {
	var f Filters

	if strings.EqualFold(executors, FilterAll) {
		f.Executors = model.AllExecutors()
	} else {
		for _, s := range splitSet(executors) {
			e, err := model.ParseExecutor(s)
			if err != nil {
				return Filters{}, err
			}
			f.Executors = append(f.Executors, e)
		}
	}

	if strings.EqualFold(models, FilterAll) {
		f.Models = model.AllModels()
	} else {
		for _, s := range splitSet(models) {
			m, err := model.ParseModel(s)
			if err != nil {
				return Filters{}, err
			}
			f.Models = append(f.Models, m)
		}
	}

	if strings.EqualFold(deviceTypes, FilterAll) {
		f.DeviceTypes = model.AllDeviceTypes()
	} else {
		for _, s := range splitSet(deviceTypes) {
			d, err := model.ParseDeviceType(s)
			if err != nil {
				return Filters{}, err
			}
			f.DeviceTypes = append(f.DeviceTypes, d)
		}
	}
	return f, nil
}

func splitSet(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

package catalog

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/1003xuexue/mobile-ai-bench/internal/model"
)

// SnapshotName is the catalog copy staged onto every device.
const SnapshotName = "benchmark.yaml"

// Fetcher retrieves one artifact and verifies it against the expected digest,
// returning the local path to push.
type Fetcher interface {
	Fetch(ctx context.Context, source, checksum string) (string, error)
}

// Plan is everything one fleet run stages and executes: the artifact push
// list and the job queue, both in catalog order.
type Plan struct {
	Jobs        []model.Job
	PushList    []string
	Executors   []model.ExecutorType
	DeviceTypes []model.DeviceType
}

// BuildPlan walks the catalog under the given filters. Each selected model's
// artifacts are fetched at most once no matter how many device types it runs
// on, and jobs are emitted in enumeration order, which fixes per-device
// execution order.
func BuildPlan(ctx context.Context, cat *Catalog, filters Filters, fetcher Fetcher, outDir string) (*Plan, error) {
	plan := &Plan{
		Executors:   filters.Executors,
		DeviceTypes: filters.DeviceTypes,
	}

	snapshot := filepath.Join(outDir, SnapshotName)
	if err := cat.WriteSnapshot(snapshot); err != nil {
		return nil, err
	}
	plan.PushList = append(plan.PushList, snapshot)

	wantExecutor := make(map[model.ExecutorType]bool, len(filters.Executors))
	for _, e := range filters.Executors {
		wantExecutor[e] = true
	}
	wantModel := make(map[model.ModelName]bool, len(filters.Models))
	for _, m := range filters.Models {
		wantModel[m] = true
	}
	wantDevice := make(map[model.DeviceType]bool, len(filters.DeviceTypes))
	for _, d := range filters.DeviceTypes {
		wantDevice[d] = true
	}

	for _, bench := range cat.Benchmarks {
		if !wantExecutor[bench.Executor] {
			continue
		}
		for _, m := range bench.Models {
			if !wantModel[m.Name] {
				continue
			}
			fetched := false
			for _, device := range m.DeviceTypes {
				if !wantDevice[device] {
					continue
				}
				if !fetched {
					if err := fetchModel(ctx, fetcher, m, plan); err != nil {
						return nil, err
					}
					fetched = true
				}
				plan.Jobs = append(plan.Jobs, model.Job{
					Executor:   bench.Executor,
					Model:      m.Name,
					DeviceType: device,
					Quantize:   m.Quantize,
				})
			}
		}
	}
	return plan, nil
}

func fetchModel(ctx context.Context, fetcher Fetcher, m Model, plan *Plan) error {
	local, err := fetcher.Fetch(ctx, m.Path, m.Checksum)
	if err != nil {
		return fmt.Errorf("failed to fetch model %s: %w", m.Name, err)
	}
	plan.PushList = append(plan.PushList, local)

	if m.WeightPath != "" {
		local, err = fetcher.Fetch(ctx, m.WeightPath, m.WeightChecksum)
		if err != nil {
			return fmt.Errorf("failed to fetch weights for %s: %w", m.Name, err)
		}
		plan.PushList = append(plan.PushList, local)
	}
	return nil
}

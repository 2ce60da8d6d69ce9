// Package scheduler drives benchmark execution across the device fleet. Each
// device's jobs run under its cross-process lock in time-boxed batches, with
// artifact staging repeated at the start of every hold so a device another
// pipeline wiped in between is restored before measuring.
package scheduler

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/1003xuexue/mobile-ai-bench/internal/adb"
	"github.com/1003xuexue/mobile-ai-bench/internal/catalog"
	"github.com/1003xuexue/mobile-ai-bench/internal/command"
	"github.com/1003xuexue/mobile-ai-bench/internal/devlock"
	"github.com/1003xuexue/mobile-ai-bench/internal/model"
	"github.com/1003xuexue/mobile-ai-bench/internal/stage"
)

// Observer receives job and run outcomes as they happen. Implementations must
// be safe for concurrent use; a fleet run drives several devices at once.
type Observer interface {
	JobStarted(ctx context.Context, res model.JobResult)
	JobFinished(ctx context.Context, res model.JobResult)
	RunCompleted(ctx context.Context, summary model.RunSummary)
}

// NopObserver discards everything.
type NopObserver struct{}

func (NopObserver) JobStarted(context.Context, model.JobResult)    {}
func (NopObserver) JobFinished(context.Context, model.JobResult)   {}
func (NopObserver) RunCompleted(context.Context, model.RunSummary) {}

// MultiObserver fans each observation out to every wrapped observer in order.
type MultiObserver []Observer

func (m MultiObserver) JobStarted(ctx context.Context, res model.JobResult) {
	for _, o := range m {
		o.JobStarted(ctx, res)
	}
}

func (m MultiObserver) JobFinished(ctx context.Context, res model.JobResult) {
	for _, o := range m {
		o.JobFinished(ctx, res)
	}
}

func (m MultiObserver) RunCompleted(ctx context.Context, summary model.RunSummary) {
	for _, o := range m {
		o.RunCompleted(ctx, summary)
	}
}

// Params carries the execution settings of one fleet run.
type Params struct {
	RunID          string
	ABI            string
	BinDir         string
	BinName        string
	Option         model.BenchmarkOption
	DatasetDir     string
	RunInterval    time.Duration
	NumThreads     int
	MaxTimePerLock time.Duration
	RemoteDir      string
	OutputDir      string
	LockTimeout    time.Duration
}

// Deps bundles the collaborators a device runner drives. Out receives live
// output from the power script and the benchmark binary; Logs, when set,
// additionally captures each device's output in its own file.
type Deps struct {
	Bridge   *adb.Client
	Stager   *stage.Stager
	Env      *stage.Environment
	Locks    *devlock.Manager
	Runner   command.Runner
	Observer Observer
	Out      io.Writer
	Logs     LogSink
	Logger   *zap.Logger
}

func (d Deps) withDefaults() Deps {
	if d.Observer == nil {
		d.Observer = NopObserver{}
	}
	if d.Out == nil {
		d.Out = os.Stdout
	}
	return d
}

// DeviceRunner drains one device's job queue: acquire the device lock, stage
// artifacts, run a time-boxed batch, release, sleep, repeat; finally pull the
// result file. Even an empty queue gets one trivial lock cycle, which leaves
// the device staged and the (empty) result retrievable.
type DeviceRunner struct {
	bridge   *adb.Client
	stager   *stage.Stager
	env      *stage.Environment
	locks    *devlock.Manager
	runner   command.Runner
	observer Observer
	out      io.Writer
	logger   *zap.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewDeviceRunner creates a runner over the given collaborators.
func NewDeviceRunner(deps Deps) *DeviceRunner {
	deps = deps.withDefaults()
	return &DeviceRunner{
		bridge:   deps.Bridge,
		stager:   deps.Stager,
		env:      deps.Env,
		locks:    deps.Locks,
		runner:   deps.Runner,
		observer: deps.Observer,
		out:      deps.Out,
		logger:   deps.Logger.Named("runner"),
		now:      time.Now,
		sleep:    sleepCtx,
	}
}

// Run processes every job in plan against device. The returned DeviceResult
// is populated with whatever progress was made even when an error aborts the
// device; other devices in the fleet are unaffected.
func (r *DeviceRunner) Run(ctx context.Context, device *model.Device, plan *catalog.Plan, params Params) (*model.DeviceResult, error) {
	result := &model.DeviceResult{
		Serial:  device.Serial,
		Product: device.Product,
		SoC:     device.SoC,
		ABI:     params.ABI,
	}
	logger := r.logger.With(zap.String("serial", device.Serial))

	remoteResult := path.Join(params.RemoteDir, resultFileName)
	if _, err := r.bridge.Shell(ctx, device.Serial, "rm -rf "+remoteResult); err != nil {
		result.Error = err.Error()
		return result, fmt.Errorf("failed to clear stale result on %s: %w", device.Serial, err)
	}

	jobs := plan.Jobs
	for first := true; first || len(jobs) > 0; first = false {
		var err error
		jobs, err = r.runHold(ctx, device, plan, params, jobs, result, logger)
		if err != nil {
			r.skipRemaining(ctx, device, jobs, params)
			result.Error = err.Error()
			return result, err
		}

		// Yield the device so other pipelines waiting on the lock get a
		// turn before the next hold.
		if len(jobs) > 0 {
			logger.Info("Yielding device between holds",
				zap.Duration("sleep", params.RunInterval),
				zap.Int("jobs_pending", len(jobs)))
			if err := r.sleep(ctx, params.RunInterval); err != nil {
				r.skipRemaining(ctx, device, jobs, params)
				result.Error = err.Error()
				return result, err
			}
		}
	}

	if err := os.MkdirAll(params.OutputDir, 0o755); err != nil {
		result.Error = err.Error()
		return result, fmt.Errorf("failed to create output directory: %w", err)
	}
	local := filepath.Join(params.OutputDir,
		fmt.Sprintf("%s_%s_%s_result.txt", device.Product, device.SoC, params.ABI))
	r.stager.Pull(ctx, device.Serial, remoteResult, local)
	result.ResultPath = local

	logger.Info("Device run finished",
		zap.Int("jobs_run", result.JobsRun),
		zap.String("result", local))
	return result, nil
}

// runHold is one lock acquisition: setup, then as many jobs as the time
// budget allows. The budget clock starts at acquisition, so staging time
// counts against the hold.
func (r *DeviceRunner) runHold(ctx context.Context, device *model.Device, plan *catalog.Plan, params Params, jobs []model.Job, result *model.DeviceResult, logger *zap.Logger) ([]model.Job, error) {
	logger.Info("Waiting for device lock", zap.Int("jobs_pending", len(jobs)))
	lock, err := r.locks.Acquire(ctx, device.Serial, params.LockTimeout)
	if err != nil {
		return jobs, err
	}
	defer lock.Release()

	start := r.now()
	logger.Info("Device locked",
		zap.String("product", device.Product),
		zap.String("soc", device.SoC))

	if err := r.setup(ctx, device, plan, params); err != nil {
		return jobs, err
	}

	mask, err := affinityMask(ctx, r.bridge, device.Serial)
	if err != nil {
		return jobs, err
	}
	baseCmd := fmt.Sprintf("cd %s; ADSP_LIBRARY_PATH='%s'; LD_LIBRARY_PATH=. taskset %s ./%s",
		params.RemoteDir, adspLibraryPath, mask, params.BinName)

	ran, remaining, err := runBatch(ctx, jobs, start, params.MaxTimePerLock, r.now,
		func(ctx context.Context, job model.Job) error {
			return r.runJob(ctx, device, baseCmd, job, params)
		})
	result.JobsRun += ran

	logger.Info("Lock hold finished",
		zap.Int("jobs_run", ran),
		zap.Duration("elapsed", r.now().Sub(start)))
	return remaining, err
}

// setup prepares the device working directory under the held lock. Another
// pipeline may have reshaped the directory since the last hold, so staging
// runs every time; the checksum gate keeps repeats cheap.
func (r *DeviceRunner) setup(ctx context.Context, device *model.Device, plan *catalog.Plan, params Params) error {
	serial := device.Serial

	// Power configuration is best-effort; a missing script or an unknown
	// platform must not block the run.
	if err := r.runner.Stream(ctx, r.out, "bash", powerScript, serial, device.SoC); err != nil {
		r.logger.Warn("Power configuration failed",
			zap.String("serial", serial),
			zap.Error(err))
	}

	if _, err := r.bridge.Shell(ctx, serial, "mkdir -p "+params.RemoteDir); err != nil {
		return fmt.Errorf("failed to create %s: %w", params.RemoteDir, err)
	}
	interior := path.Join(params.RemoteDir, interiorDirName)
	if _, err := r.bridge.Shell(ctx, serial, "rm -rf "+interior); err != nil {
		return fmt.Errorf("failed to clear %s: %w", interior, err)
	}
	if _, err := r.bridge.Shell(ctx, serial, "mkdir "+interior); err != nil {
		return fmt.Errorf("failed to create %s: %w", interior, err)
	}

	if err := r.env.Stage(ctx, serial, params.ABI, params.RemoteDir, plan.Executors); err != nil {
		return err
	}
	for _, artifact := range plan.PushList {
		if err := r.stager.PushTree(ctx, serial, artifact, params.RemoteDir); err != nil {
			return err
		}
	}
	if params.Option == model.OptionPrecision {
		if err := r.env.PushPrecisionFiles(ctx, serial, params.RemoteDir, params.DatasetDir); err != nil {
			return err
		}
	}
	return r.stager.PushTree(ctx, serial, filepath.Join(params.BinDir, params.BinName), params.RemoteDir)
}

// runJob invokes the benchmark binary for one job, streaming its output live.
// The tail of that output rides along on the job record.
func (r *DeviceRunner) runJob(ctx context.Context, device *model.Device, baseCmd string, job model.Job, params Params) error {
	r.logger.Info("Running benchmark",
		zap.String("serial", device.Serial),
		zap.String("job", job.String()))

	res := model.JobResult{
		ID:         uuid.New().String(),
		RunID:      params.RunID,
		Serial:     device.Serial,
		SoC:        device.SoC,
		ABI:        params.ABI,
		Executor:   job.Executor.String(),
		Model:      job.Model.String(),
		DeviceType: job.DeviceType.String(),
		Quantize:   job.Quantize,
		Status:     model.JobStatusRunning,
		StartedAt:  r.now(),
	}
	r.observer.JobStarted(ctx, res)

	args := fmt.Sprintf(
		"--run_interval=%d --num_threads=%d --benchmark_option=%d --executor=%d --device_type=%d --model_name=%d --quantize=%s",
		int(params.RunInterval.Seconds()),
		params.NumThreads,
		int(params.Option),
		int(job.Executor),
		int(job.DeviceType),
		int(job.Model),
		strconv.FormatBool(job.Quantize),
	)

	tail := newTailBuffer(outputTailBytes)
	err := r.bridge.StreamShell(ctx, io.MultiWriter(r.out, tail), device.Serial, baseCmd+" "+args)
	res.Duration = r.now().Sub(res.StartedAt)
	res.Output = tail.String()
	if err != nil {
		res.Status = model.JobStatusFailed
		res.Error = err.Error()
		r.observer.JobFinished(ctx, res)
		return err
	}

	res.Status = model.JobStatusCompleted
	r.observer.JobFinished(ctx, res)
	return nil
}

// skipRemaining records jobs that never ran because the device run aborted.
// The records must land even when the run context itself is gone.
func (r *DeviceRunner) skipRemaining(ctx context.Context, device *model.Device, jobs []model.Job, params Params) {
	ctx = context.WithoutCancel(ctx)
	for _, job := range jobs {
		r.observer.JobFinished(ctx, model.JobResult{
			ID:         uuid.New().String(),
			RunID:      params.RunID,
			Serial:     device.Serial,
			SoC:        device.SoC,
			ABI:        params.ABI,
			Executor:   job.Executor.String(),
			Model:      job.Model.String(),
			DeviceType: job.DeviceType.String(),
			Quantize:   job.Quantize,
			Status:     model.JobStatusSkipped,
			StartedAt:  r.now(),
		})
	}
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	buf []byte
	max int
}

func newTailBuffer(max int) *tailBuffer {
	return &tailBuffer{max: max}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.buf = append(t.buf, p...)
	if len(t.buf) > t.max {
		t.buf = t.buf[len(t.buf)-t.max:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	return string(t.buf)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/1003xuexue/mobile-ai-bench/internal/model"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(zaptest.NewLogger(t), filepath.Join(t.TempDir(), "bench.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func sampleJob(runID string, started time.Time) *model.JobResult {
	return &model.JobResult{
		ID:         uuid.New().String(),
		RunID:      runID,
		Serial:     "abc123",
		SoC:        "sdm845",
		ABI:        "armeabi-v7a",
		Executor:   "MACE",
		Model:      "MobileNetV1",
		DeviceType: "CPU",
		Status:     model.JobStatusRunning,
		StartedAt:  started,
	}
}

func TestStoreJobRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	job := sampleJob("run-1", time.Now())
	require.NoError(t, store.StoreJob(ctx, job))

	got, err := store.Job(ctx, job.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, "run-1", got.RunID)
	assert.Equal(t, "sdm845", got.SoC)
	assert.Equal(t, "armeabi-v7a", got.ABI)
	assert.Equal(t, "MACE", got.Executor)
	assert.Equal(t, model.JobStatusRunning, got.Status)
	assert.WithinDuration(t, job.StartedAt, got.StartedAt, time.Second)

	missing, err := store.Job(ctx, "no-such-id")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestUpdateJob(t *testing.T) {
	t.Run("Finalizes Running Job", func(t *testing.T) {
		store := newTestStore(t)
		ctx := context.Background()

		job := sampleJob("run-1", time.Now())
		require.NoError(t, store.StoreJob(ctx, job))

		job.Status = model.JobStatusFailed
		job.Output = "benchmark crashed: signal 9"
		job.Error = "exit status 137"
		job.Duration = 42 * time.Second
		require.NoError(t, store.UpdateJob(ctx, job))

		got, err := store.Job(ctx, job.ID)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, model.JobStatusFailed, got.Status)
		assert.Equal(t, "benchmark crashed: signal 9", got.Output)
		assert.Equal(t, "exit status 137", got.Error)
		assert.Equal(t, 42*time.Second, got.Duration)
	})

	t.Run("Inserts Job That Never Started", func(t *testing.T) {
		store := newTestStore(t)
		ctx := context.Background()

		// Skipped jobs report a final state without a prior start record.
		job := sampleJob("run-1", time.Now())
		job.Status = model.JobStatusSkipped
		require.NoError(t, store.UpdateJob(ctx, job))

		got, err := store.Job(ctx, job.ID)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, model.JobStatusSkipped, got.Status)
	})
}

func TestJobsFilterAndPage(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	for i := 0; i < 3; i++ {
		job := sampleJob("run-1", base.Add(time.Duration(i)*time.Minute))
		job.Status = model.JobStatusCompleted
		require.NoError(t, store.StoreJob(ctx, job))
	}
	other := sampleJob("run-2", base.Add(time.Hour))
	other.Serial = "def456"
	other.Status = model.JobStatusFailed
	require.NoError(t, store.StoreJob(ctx, other))

	t.Run("By Run", func(t *testing.T) {
		jobs, err := store.Jobs(ctx, JobFilter{RunID: "run-1"}, 0, 10)
		require.NoError(t, err)
		assert.Len(t, jobs, 3)
	})

	t.Run("By Status", func(t *testing.T) {
		jobs, err := store.Jobs(ctx, JobFilter{Status: model.JobStatusFailed}, 0, 10)
		require.NoError(t, err)
		require.Len(t, jobs, 1)
		assert.Equal(t, "def456", jobs[0].Serial)
	})

	t.Run("Newest First", func(t *testing.T) {
		jobs, err := store.Jobs(ctx, JobFilter{}, 0, 10)
		require.NoError(t, err)
		require.Len(t, jobs, 4)
		assert.Equal(t, "run-2", jobs[0].RunID)
		for i := 1; i < len(jobs); i++ {
			assert.False(t, jobs[i].StartedAt.After(jobs[i-1].StartedAt))
		}
	})

	t.Run("Paged", func(t *testing.T) {
		jobs, err := store.Jobs(ctx, JobFilter{}, 1, 2)
		require.NoError(t, err)
		assert.Len(t, jobs, 2)
	})

	t.Run("Counted", func(t *testing.T) {
		count, err := store.CountJobs(ctx, JobFilter{RunID: "run-1"})
		require.NoError(t, err)
		assert.Equal(t, 3, count)

		count, err = store.CountJobs(ctx, JobFilter{})
		require.NoError(t, err)
		assert.Equal(t, 4, count)
	})
}

func TestStoreRunRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	summary := &model.RunSummary{
		RunID:       "run-1",
		Status:      model.RunStatusPartial,
		JobsPlanned: 6,
		Devices: []model.DeviceResult{
			{Serial: "abc123", Product: "Mi8", SoC: "sdm845", ABI: "arm64-v8a", JobsRun: 6, ResultPath: "/out/Mi8_sdm845_arm64-v8a_result.txt"},
			{Serial: "def456", Product: "P20", SoC: "kirin970", ABI: "arm64-v8a", Error: "device lock timed out"},
		},
		Host:        &model.HostStats{Hostname: "bench-host", CPUUsage: 37.5, MemoryUsage: 61.2},
		StartedAt:   time.Now().Add(-10 * time.Minute),
		CompletedAt: time.Now(),
	}
	require.NoError(t, store.StoreRun(ctx, summary))

	got, err := store.Run(ctx, "run-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, model.RunStatusPartial, got.Status)
	assert.Equal(t, 6, got.JobsPlanned)
	require.Len(t, got.Devices, 2)
	assert.Equal(t, "Mi8", got.Devices[0].Product)
	assert.Equal(t, "device lock timed out", got.Devices[1].Error)
	require.NotNil(t, got.Host)
	assert.Equal(t, "bench-host", got.Host.Hostname)
	assert.InDelta(t, 37.5, got.Host.CPUUsage, 0.01)

	missing, err := store.Run(ctx, "no-such-run")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestRunsNewestFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	for i, id := range []string{"run-1", "run-2", "run-3"} {
		require.NoError(t, store.StoreRun(ctx, &model.RunSummary{
			RunID:       id,
			Status:      model.RunStatusCompleted,
			StartedAt:   base.Add(time.Duration(i) * time.Minute),
			CompletedAt: base.Add(time.Duration(i)*time.Minute + 30*time.Second),
		}))
	}

	runs, err := store.Runs(ctx, 0, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-3", runs[0].RunID)
	assert.Equal(t, "run-2", runs[1].RunID)
}

func TestDeleteBefore(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	old := sampleJob("run-old", time.Now().Add(-48*time.Hour))
	recent := sampleJob("run-new", time.Now())
	require.NoError(t, store.StoreJob(ctx, old))
	require.NoError(t, store.StoreJob(ctx, recent))
	require.NoError(t, store.StoreRun(ctx, &model.RunSummary{
		RunID: "run-old", Status: model.RunStatusCompleted,
		StartedAt: time.Now().Add(-48 * time.Hour), CompletedAt: time.Now().Add(-47 * time.Hour),
	}))

	require.NoError(t, store.DeleteBefore(ctx, time.Now().Add(-24*time.Hour)))

	gone, err := store.Job(ctx, old.ID)
	require.NoError(t, err)
	assert.Nil(t, gone)

	kept, err := store.Job(ctx, recent.ID)
	require.NoError(t, err)
	assert.NotNil(t, kept)

	goneRun, err := store.Run(ctx, "run-old")
	require.NoError(t, err)
	assert.Nil(t, goneRun)
}

func TestRecorder(t *testing.T) {
	store := newTestStore(t)
	recorder := NewRecorder(store, zaptest.NewLogger(t))
	ctx := context.Background()

	job := *sampleJob("run-1", time.Now())
	recorder.JobStarted(ctx, job)

	job.Status = model.JobStatusCompleted
	job.Duration = 3 * time.Second
	recorder.JobFinished(ctx, job)

	recorder.RunCompleted(ctx, model.RunSummary{
		RunID:       "run-1",
		Status:      model.RunStatusCompleted,
		JobsPlanned: 1,
		StartedAt:   time.Now().Add(-time.Minute),
		CompletedAt: time.Now(),
	})

	got, err := store.Job(ctx, job.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, model.JobStatusCompleted, got.Status)

	summary, err := store.Run(ctx, "run-1")
	require.NoError(t, err)
	require.NotNil(t, summary)
	assert.Equal(t, 1, summary.JobsPlanned)

	// A dead store must not panic the observer path.
	require.NoError(t, store.Close())
	recorder.JobStarted(ctx, *sampleJob("run-2", time.Now()))
}

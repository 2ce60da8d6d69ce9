package history

import (
	"context"

	"go.uber.org/zap"

	"github.com/1003xuexue/mobile-ai-bench/internal/model"
	"github.com/1003xuexue/mobile-ai-bench/internal/scheduler"
)

// Recorder mirrors scheduler observations into the store. Storage failures
// are logged and swallowed; a broken history database must never interfere
// with a benchmark in flight.
type Recorder struct {
	store  Store
	logger *zap.Logger
}

var _ scheduler.Observer = (*Recorder)(nil)

// NewRecorder creates a recorder writing to store.
func NewRecorder(store Store, logger *zap.Logger) *Recorder {
	return &Recorder{
		store:  store,
		logger: logger.Named("recorder"),
	}
}

func (r *Recorder) JobStarted(ctx context.Context, res model.JobResult) {
	if err := r.store.StoreJob(ctx, &res); err != nil {
		r.logger.Error("Failed to record job start",
			zap.String("id", res.ID),
			zap.Error(err))
	}
}

func (r *Recorder) JobFinished(ctx context.Context, res model.JobResult) {
	if err := r.store.UpdateJob(ctx, &res); err != nil {
		r.logger.Error("Failed to record job outcome",
			zap.String("id", res.ID),
			zap.Error(err))
	}
}

func (r *Recorder) RunCompleted(ctx context.Context, summary model.RunSummary) {
	if err := r.store.StoreRun(ctx, &summary); err != nil {
		r.logger.Error("Failed to record run summary",
			zap.String("run_id", summary.RunID),
			zap.Error(err))
	}
}

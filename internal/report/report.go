// Package report streams live benchmark outcomes over JetStream so dashboards
// can follow a fleet run without polling the history database.
package report

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/1003xuexue/mobile-ai-bench/internal/model"
	"github.com/1003xuexue/mobile-ai-bench/internal/scheduler"
)

const (
	benchStreamName  = "BENCH"
	jobSubjectPrefix = "bench.job."
	runSubjectPrefix = "bench.run."
	streamMaxAge     = 7 * 24 * time.Hour
	operationTimeout = 30 * time.Second
)

// Reporter publishes job results and run summaries as they happen. Publish
// failures are logged and swallowed; losing a live update must not disturb
// the benchmark itself.
type Reporter struct {
	js     nats.JetStreamContext
	logger *zap.Logger
}

var _ scheduler.Observer = (*Reporter)(nil)

// NewReporter creates a reporter and ensures the BENCH stream exists.
func NewReporter(js nats.JetStreamContext, logger *zap.Logger) (*Reporter, error) {
	r := &Reporter{
		js:     js,
		logger: logger.Named("report"),
	}

	ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
	defer cancel()

	if err := r.setupStream(ctx); err != nil {
		return nil, fmt.Errorf("failed to setup stream: %w", err)
	}
	return r, nil
}

func (r *Reporter) setupStream(ctx context.Context) error {
	_, err := r.js.AddStream(&nats.StreamConfig{
		Name:     benchStreamName,
		Subjects: []string{"bench.>"},
		Storage:  nats.FileStorage,
		MaxAge:   streamMaxAge,
	}, nats.Context(ctx))

	if err != nil {
		if err == nats.ErrStreamNameAlreadyInUse {
			r.logger.Info("Stream already exists", zap.String("stream", benchStreamName))
			return nil
		}
		return err
	}

	r.logger.Info("Stream created successfully", zap.String("stream", benchStreamName))
	return nil
}

func (r *Reporter) JobStarted(ctx context.Context, res model.JobResult) {
	r.publishJob(res)
}

func (r *Reporter) JobFinished(ctx context.Context, res model.JobResult) {
	r.publishJob(res)
}

func (r *Reporter) RunCompleted(ctx context.Context, summary model.RunSummary) {
	data, err := json.Marshal(summary)
	if err != nil {
		r.logger.Error("Failed to marshal run summary", zap.Error(err))
		return
	}
	if _, err := r.js.Publish(runSubjectPrefix+subjectToken(summary.RunID), data); err != nil {
		r.logger.Error("Failed to publish run summary",
			zap.String("run_id", summary.RunID),
			zap.Error(err))
	}
}

func (r *Reporter) publishJob(res model.JobResult) {
	data, err := json.Marshal(res)
	if err != nil {
		r.logger.Error("Failed to marshal job result", zap.Error(err))
		return
	}
	if _, err := r.js.Publish(jobSubjectPrefix+subjectToken(res.Serial), data); err != nil {
		r.logger.Error("Failed to publish job result",
			zap.String("id", res.ID),
			zap.String("serial", res.Serial),
			zap.Error(err))
	}
}

// SubscribeJobs delivers every published job result to handler until ctx is
// cancelled.
func (r *Reporter) SubscribeJobs(ctx context.Context, handler func(model.JobResult)) error {
	return r.subscribe(ctx, jobSubjectPrefix+">", func(data []byte) {
		var res model.JobResult
		if err := json.Unmarshal(data, &res); err != nil {
			r.logger.Error("Failed to unmarshal job result", zap.Error(err))
			return
		}
		handler(res)
	})
}

// SubscribeRuns delivers every published run summary to handler until ctx is
// cancelled.
func (r *Reporter) SubscribeRuns(ctx context.Context, handler func(model.RunSummary)) error {
	return r.subscribe(ctx, runSubjectPrefix+">", func(data []byte) {
		var summary model.RunSummary
		if err := json.Unmarshal(data, &summary); err != nil {
			r.logger.Error("Failed to unmarshal run summary", zap.Error(err))
			return
		}
		handler(summary)
	})
}

func (r *Reporter) subscribe(ctx context.Context, subject string, handle func([]byte)) error {
	sub, err := r.js.Subscribe(subject, func(msg *nats.Msg) {
		handle(msg.Data)
		msg.Ack()
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}

	go func() {
		<-ctx.Done()
		sub.Unsubscribe()
	}()
	return nil
}

// subjectToken makes an identifier safe for use as one NATS subject token.
// Network device serials like "192.168.1.5:5555" carry dots that would split
// the subject.
func subjectToken(s string) string {
	return strings.NewReplacer(".", "_", " ", "_", "*", "_", ">", "_").Replace(s)
}

package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// cronLogger adapts zap.Logger to cron.Logger
type cronLogger struct {
	logger *zap.Logger
}

func (l *cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Info(msg)
}

func (l *cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, zap.Error(err))
}

// PeriodicRunner repeats a fleet run on a cron expression (six fields, with
// seconds), for nightly benchmark sweeps.
type PeriodicRunner struct {
	cron   *cron.Cron
	logger *zap.Logger
}

// NewPeriodicRunner creates an idle periodic runner.
func NewPeriodicRunner(logger *zap.Logger) *PeriodicRunner {
	cl := &cronLogger{logger: logger.Named("cron")}
	return &PeriodicRunner{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithChain(cron.Recover(cl)),
		),
		logger: logger.Named("periodic"),
	}
}

// Schedule registers run under the given expression.
func (p *PeriodicRunner) Schedule(expression string, run func()) error {
	parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	spec, err := parser.Parse(expression)
	if err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}

	if _, err := p.cron.AddFunc(expression, run); err != nil {
		return fmt.Errorf("failed to add cron job: %w", err)
	}

	p.logger.Info("Scheduled periodic run",
		zap.String("expression", expression),
		zap.Time("next_run", spec.Next(time.Now())))
	return nil
}

// Start begins firing schedules.
func (p *PeriodicRunner) Start() {
	p.cron.Start()
}

// Stop halts scheduling and waits for a running invocation to finish.
func (p *PeriodicRunner) Stop() {
	ctx := p.cron.Stop()
	<-ctx.Done()
}

// Package schedule supplements the Rolling Frontier Manager's internal tick
// loop with external cron-driven triggers, adapted from
// services/orchestrator/scheduler.go's Scheduler: a seconds-precision
// robfig/cron/v3 scheduler, metrics on run/failure counts, and a traced
// execute path. Where the teacher's scheduler fires DAG workflow executions,
// this one fires named coordinator actions (full re-optimization passes,
// periodic persistence snapshots) that the tick loop doesn't cover on its
// own cadence.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Job is a named action the scheduler invokes on its own cron cadence.
type Job struct {
	Name     string
	CronExpr string
	Run      func(ctx context.Context) error
	Timeout  time.Duration
}

// Scheduler wraps a robfig/cron/v3 instance with metrics and tracing around
// each job execution.
type Scheduler struct {
	cron   *cron.Cron
	mu     sync.Mutex
	logger *slog.Logger

	runs   metric.Int64Counter
	fails  metric.Int64Counter
	tracer trace.Tracer
}

// New constructs a Scheduler with seconds precision, matching
// cron.WithSeconds() in the teacher's scheduler.
func New(meter metric.Meter, logger *slog.Logger) *Scheduler {
	runs, _ := meter.Int64Counter("wavecoord_schedule_runs_total")
	fails, _ := meter.Int64Counter("wavecoord_schedule_failures_total")

	if logger == nil {
		logger = slog.Default()
	}

	return &Scheduler{
		cron:   cron.New(cron.WithSeconds()),
		logger: logger,
		runs:   runs,
		fails:  fails,
		tracer: otel.Tracer("wavecoord-schedule"),
	}
}

// AddJob registers job on the cron schedule. The returned entry id can be
// used with cron.Cron.Remove if the caller needs to unregister it later.
func (s *Scheduler) AddJob(job Job) (cron.EntryID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.cron.AddFunc(job.CronExpr, func() {
		s.execute(context.Background(), job)
	})
	if err != nil {
		return 0, fmt.Errorf("add cron job %s: %w", job.Name, err)
	}
	return id, nil
}

// RemoveJob unregisters a previously added job.
func (s *Scheduler) RemoveJob(id cron.EntryID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cron.Remove(id)
}

// Start begins dispatching scheduled jobs.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("schedule started")
}

// Stop waits for in-flight jobs to finish or ctx to be done, whichever
// happens first.
func (s *Scheduler) Stop(ctx context.Context) error {
	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
		s.logger.Info("schedule stopped")
		return nil
	case <-ctx.Done():
		s.logger.Warn("schedule stop timed out")
		return ctx.Err()
	}
}

func (s *Scheduler) execute(ctx context.Context, job Job) {
	ctx, span := s.tracer.Start(ctx, "schedule.execute",
		trace.WithAttributes(attribute.String("job", job.Name)))
	defer span.End()

	if job.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, job.Timeout)
		defer cancel()
	}

	start := time.Now()
	if err := job.Run(ctx); err != nil {
		s.fails.Add(ctx, 1, metric.WithAttributes(attribute.String("job", job.Name)))
		s.logger.Error("scheduled job failed", "job", job.Name, "error", err, "duration_ms", time.Since(start).Milliseconds())
		return
	}
	s.runs.Add(ctx, 1, metric.WithAttributes(attribute.String("job", job.Name)))
	s.logger.Info("scheduled job completed", "job", job.Name, "duration_ms", time.Since(start).Milliseconds())
}

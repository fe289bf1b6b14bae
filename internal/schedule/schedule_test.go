package schedule

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel/metric/noop"
)

func TestAddJobRunsOnSchedule(t *testing.T) {
	s := New(noop.NewMeterProvider().Meter("test"), nil)

	done := make(chan struct{}, 1)
	_, err := s.AddJob(Job{
		Name:     "tick",
		CronExpr: "* * * * * *",
		Run: func(ctx context.Context) error {
			select {
			case done <- struct{}{}:
			default:
			}
			return nil
		},
	})
	if err != nil {
		t.Fatalf("AddJob: %v", err)
	}

	s.Start()
	defer s.Stop(context.Background())

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("job did not run within 3s")
	}
}

func TestAddJobRejectsInvalidExpr(t *testing.T) {
	s := New(noop.NewMeterProvider().Meter("test"), nil)
	_, err := s.AddJob(Job{Name: "bad", CronExpr: "not a cron expr", Run: func(ctx context.Context) error { return nil }})
	if err == nil {
		t.Fatal("expected error for invalid cron expression")
	}
}

func TestExecuteRecordsFailure(t *testing.T) {
	s := New(noop.NewMeterProvider().Meter("test"), nil)
	s.execute(context.Background(), Job{Name: "fails", Run: func(ctx context.Context) error {
		return errors.New("boom")
	}})
}

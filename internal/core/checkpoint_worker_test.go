package core

import (
	"context"
	"testing"
	"time"

	memory "github.com/i2kashif/CopperCore-sub002/internal/infra/persistence/memory"
)

func newWorkerFixture(t *testing.T) (*Service, *captureReporter) {
	t.Helper()
	recordedAt := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	store := memory.NewStore(NewDefaultRulesEngine())
	store.SetNowFunc(func() time.Time { return recordedAt })
	reporter := &captureReporter{}
	svc := NewService(store,
		WithClock(stubClock{t: recordedAt.AddDate(0, 0, 1)}),
		WithIntegrityReporter(reporter),
	)
	seedOrderWithUpdates(t, svc, 1)
	return svc, reporter
}

func TestCheckpointWorkerRunOnceSealsAndVerifies(t *testing.T) {
	svc, reporter := newWorkerFixture(t)
	worker := NewCheckpointWorker(svc, 0)
	ctx := context.Background()

	if err := worker.RunOnce(ctx); err != nil {
		t.Fatalf("run once: %v", err)
	}
	cps := svc.Checkpoints(ctx)
	if len(cps) != 1 || cps[0].Day != "2026-03-14" {
		t.Fatalf("expected previous day sealed, got %+v", cps)
	}
	if len(reporter.reports) != 1 || !reporter.reports[0].OK() {
		t.Fatalf("expected clean verification report, got %+v", reporter.reports)
	}
}

func TestCheckpointWorkerRunOnceIsIdempotent(t *testing.T) {
	svc, reporter := newWorkerFixture(t)
	worker := NewCheckpointWorker(svc, 0)
	ctx := context.Background()

	if err := worker.RunOnce(ctx); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if err := worker.RunOnce(ctx); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if cps := svc.Checkpoints(ctx); len(cps) != 1 {
		t.Fatalf("rerun must not seal a second checkpoint, got %d", len(cps))
	}
	// Every run re-verifies the sealed day.
	if len(reporter.reports) != 2 {
		t.Fatalf("expected a verification report per run, got %d", len(reporter.reports))
	}
}

func TestCheckpointWorkerRunStopsOnCancel(t *testing.T) {
	svc, _ := newWorkerFixture(t)
	worker := NewCheckpointWorker(svc, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		worker.Run(ctx)
		close(done)
	}()

	// Wait for the ticker to fire and seal, then stop the loop.
	deadline := time.Now().Add(2 * time.Second)
	for len(svc.Checkpoints(context.Background())) == 0 {
		if time.Now().After(deadline) {
			cancel()
			t.Fatalf("worker never sealed a checkpoint")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("worker did not stop after cancellation")
	}
}

package core

import (
	"context"
	"strings"
	"time"

	"github.com/i2kashif/CopperCore-sub002/internal/audit"
)

// CheckpointWorker seals the daily audit digest and re-verifies the sealed
// days on a schedule. Detected breaks flow to the service's integrity
// reporter; the worker never touches chain contents.
type CheckpointWorker struct {
	service  *Service
	interval time.Duration
}

// NewCheckpointWorker constructs a worker polling at the given interval.
// Non-positive intervals default to one hour; sealing stays idempotent per
// day no matter how often the worker fires.
func NewCheckpointWorker(service *Service, interval time.Duration) *CheckpointWorker {
	if interval <= 0 {
		interval = time.Hour
	}
	return &CheckpointWorker{service: service, interval: interval}
}

// RunOnce seals the last fully elapsed UTC day unless already sealed, then
// verifies the latest sealed checkpoint against the stored chains.
func (w *CheckpointWorker) RunOnce(ctx context.Context) error {
	day := audit.PreviousDay(w.service.clock.Now())
	if !w.hasCheckpoint(ctx, day) {
		if _, err := w.service.RunCheckpoint(ctx, day); err != nil {
			// A concurrent worker may have sealed the same day between the
			// existence check and the append.
			if !strings.Contains(err.Error(), "already exists") {
				return err
			}
		}
	}
	if _, err := w.service.VerifyCheckpoint(ctx, ""); err != nil {
		return err
	}
	return nil
}

// Run executes RunOnce at every tick until ctx is cancelled.
func (w *CheckpointWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.RunOnce(ctx); err != nil {
				w.service.logger.Error("checkpoint worker run failed", "error", err)
			}
		}
	}
}

func (w *CheckpointWorker) hasCheckpoint(ctx context.Context, day string) bool {
	for _, cp := range w.service.Checkpoints(ctx) {
		if cp.Day == day {
			return true
		}
	}
	return false
}

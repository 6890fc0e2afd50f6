package ingest

import (
	"context"
	"log/slog"

	"talk-archive/pkg/domain"
	"talk-archive/pkg/jobs"
)

// tracker reports progress for one run. Without a reporter every call is a
// no-op apart from remembering the current state for error messages.
type tracker struct {
	reporter Reporter
	id       int64
	state    domain.WorkflowState
	logger   *slog.Logger
}

func (t *tracker) enabled() bool { return t.reporter != nil && t.id != 0 }

func (t *tracker) advance(ctx context.Context, state domain.WorkflowState) error {
	t.state = state
	if !t.enabled() {
		return nil
	}
	return t.reporter.Advance(ctx, t.id, state)
}

// markStage failures are logged only; the timestamps are informational.
func (t *tracker) markStage(ctx context.Context, stage domain.WorkflowState) {
	if !t.enabled() {
		return
	}
	if err := t.reporter.MarkStage(ctx, t.id, stage); err != nil {
		t.logger.Warn("failed to stamp stage", "stage", stage, "error", err)
	}
}

func (t *tracker) applyEdits(ctx context.Context, info *domain.VideoInfo, phase jobs.Phase) error {
	if !t.enabled() {
		return nil
	}
	_, err := t.reporter.ApplyEdits(ctx, t.id, info, phase)
	return err
}

func (t *tracker) fail(ctx context.Context, cause error) {
	if !t.enabled() {
		return
	}
	if err := t.reporter.Advance(ctx, t.id, domain.StateFailed, jobs.WithError(cause.Error())); err != nil {
		t.logger.Error("failed to record job failure", "error", err)
	}
}

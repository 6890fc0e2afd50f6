package jobs

import (
	"context"
	"errors"
	"testing"

	"talk-archive/pkg/domain"
)

func TestAdvanceDerivesStatusAndTimestamps(t *testing.T) {
	e := newEnv(t)
	job := e.create(t, "https://example.com/a")

	e.advance(t, job.ID, domain.StateFetchingHTML)
	got := e.get(t, job.ID)
	if got.Status != domain.StatusRunning || got.StartedAt == nil {
		t.Fatalf("after fetching_html: %+v", got)
	}
	started := *got.StartedAt

	e.advance(t, job.ID, domain.StateHTMLFetched, domain.StateEditingMetadata)
	got = e.get(t, job.ID)
	if !got.StartedAt.Equal(started) {
		t.Errorf("started_at moved from %v to %v", started, got.StartedAt)
	}
	if got.CompletedAt != nil {
		t.Error("completed_at set before a terminal state")
	}

	e.advance(t, job.ID, domain.StateCompleted)
	got = e.get(t, job.ID)
	if got.Status != domain.StatusCompleted || got.CompletedAt == nil {
		t.Errorf("after completed: %+v", got)
	}
}

func TestAdvanceIsMonotonic(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	job := e.create(t, "https://example.com/a")

	attempts := []domain.WorkflowState{
		domain.StateFetchingHTML,
		domain.StateHTMLFetched,
		domain.StateFetchingHTML,
		domain.StateVideoFetched,
		domain.StateVideoFetched,
		domain.StateEditingMetadata,
		domain.StateGeneratingClips,
		domain.StatePending,
	}
	order := map[domain.WorkflowState]int{
		domain.StatePending: 0, domain.StateFetchingHTML: 1, domain.StateHTMLFetched: 2,
		domain.StateEditingMetadata: 3, domain.StateFetchingVideo: 4, domain.StateVideoFetched: 5,
		domain.StateGeneratingClips: 6, domain.StateCompleted: 7,
	}

	var recorded []domain.WorkflowState
	for _, s := range attempts {
		err := e.workflow.Advance(ctx, job.ID, s)
		if err != nil && !errors.Is(err, ErrStateRegression) {
			t.Fatalf("Advance(%s): unexpected error %v", s, err)
		}
		recorded = append(recorded, e.get(t, job.ID).WorkflowState)
	}
	for i := 1; i < len(recorded); i++ {
		if order[recorded[i]] < order[recorded[i-1]] {
			t.Fatalf("recorded states went backwards: %v", recorded)
		}
	}
	if last := recorded[len(recorded)-1]; last != domain.StateGeneratingClips {
		t.Errorf("final state %s", last)
	}

	if err := e.workflow.Advance(ctx, job.ID, domain.StateFailed, WithError("boom")); err != nil {
		t.Fatalf("failed should be reachable from any state: %v", err)
	}
	if err := e.workflow.Advance(ctx, job.ID, domain.StateCompleted); !errors.Is(err, ErrStateRegression) {
		t.Errorf("leaving failed should be rejected, got %v", err)
	}
}

func TestAdvanceUnknownJobAndState(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	if err := e.workflow.Advance(ctx, 77, domain.StateFetchingHTML); !domain.IsKind(err, domain.KindNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
	job := e.create(t, "https://example.com/a")
	if err := e.workflow.Advance(ctx, job.ID, "exploded"); !errors.Is(err, ErrInvalidState) {
		t.Errorf("expected invalid state, got %v", err)
	}
}

func TestErrorMessageIsKept(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	job := e.create(t, "https://example.com/a")

	if err := e.workflow.Fail(ctx, job.ID, "stage=fetching_html: timeout"); err != nil {
		t.Fatalf("Fail: %v", err)
	}
	if err := e.workflow.Advance(ctx, job.ID, domain.StateFailed); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	got := e.get(t, job.ID)
	if got.ErrorMessage != "stage=fetching_html: timeout" || got.Status != domain.StatusFailed || got.CompletedAt == nil {
		t.Errorf("after fail: %+v", got)
	}
}

func TestStatusOverrideAndReset(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	job := e.create(t, "https://example.com/a")
	e.advance(t, job.ID, domain.StateFetchingHTML)

	if err := e.workflow.Reset(ctx, job.ID); err == nil {
		t.Error("Reset should only accept failed jobs")
	}

	if err := e.workflow.Fail(ctx, job.ID, "boom"); err != nil {
		t.Fatal(err)
	}
	if err := e.workflow.Reset(ctx, job.ID); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	got := e.get(t, job.ID)
	if got.Status != domain.StatusPending || got.ErrorMessage != "" || got.StartedAt != nil {
		t.Errorf("after reset: %+v", got)
	}

	if err := e.workflow.Advance(ctx, job.ID, domain.StateCompleted, WithStatusOverride(domain.StatusDeleted)); err != nil {
		t.Fatalf("override: %v", err)
	}
	got = e.get(t, job.ID)
	if got.Status != domain.StatusDeleted || got.WorkflowState != domain.StateCompleted || got.CompletedAt == nil {
		t.Errorf("after override: %+v", got)
	}
}

func TestMarkStage(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	job := e.create(t, "https://example.com/a")

	if err := e.workflow.MarkStage(ctx, job.ID, domain.StateHTMLFetched); err != nil {
		t.Fatal(err)
	}
	if err := e.workflow.MarkStage(ctx, job.ID, domain.StateVideoFetched); err != nil {
		t.Fatal(err)
	}
	got := e.get(t, job.ID)
	if got.HTMLFetchedAt == nil || got.VideoFetchedAt == nil {
		t.Errorf("stage timestamps missing: %+v", got)
	}
	if err := e.workflow.MarkStage(ctx, job.ID, domain.StateCompleted); err == nil {
		t.Error("expected error for a stage without a timestamp")
	}
}

func TestApplyEdits(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	job := e.create(t, "https://example.com/a")
	info := &domain.VideoInfo{
		Metadata:   domain.VideoMetadata{Title: "Extracted", YoutubeID: "abc"},
		Transcript: []domain.TranscriptSegment{{Text: "original"}},
	}

	for _, phase := range []Phase{PhaseMetadata, PhaseTranscript} {
		applied, err := e.workflow.ApplyEdits(ctx, job.ID, info, phase)
		if err != nil || applied {
			t.Fatalf("ApplyEdits(%d) without overrides = %v, %v", phase, applied, err)
		}
	}
	if info.Metadata.Title != "Extracted" {
		t.Fatal("info changed without overrides")
	}

	err := e.workflow.UpdateMetadata(ctx, job.ID, domain.EditedMetadata{
		Title: "Fixed", Date: "2024-03-05", YoutubeID: "xyz", Source: "conference",
	})
	if err != nil {
		t.Fatalf("UpdateMetadata: %v", err)
	}
	err = e.workflow.UpdateTranscript(ctx, job.ID, []domain.EditedSegment{
		{Text: "late", Speaker: "Bob", StartTime: 30, EndTime: 50},
		{Text: "early", Speaker: "Alice", StartTime: 0, EndTime: 30},
	})
	if err != nil {
		t.Fatalf("UpdateTranscript: %v", err)
	}

	if applied, err := e.workflow.ApplyEdits(ctx, job.ID, info, PhaseMetadata); err != nil || !applied {
		t.Fatalf("ApplyEdits metadata = %v, %v", applied, err)
	}
	if info.Metadata.Title != "Fixed" || info.Metadata.YoutubeID != "xyz" {
		t.Errorf("metadata = %+v", info.Metadata)
	}
	if applied, err := e.workflow.ApplyEdits(ctx, job.ID, info, PhaseTranscript); err != nil || !applied {
		t.Fatalf("ApplyEdits transcript = %v, %v", applied, err)
	}
	if len(info.Transcript) != 2 || info.Transcript[0].Text != "early" || info.Transcript[1].Metadata.Speaker != "Bob" {
		t.Errorf("transcript = %+v", info.Transcript)
	}
	if e.get(t, job.ID).MetadataEditedAt == nil {
		t.Error("metadata_edited_at not stamped")
	}

	if err := e.workflow.UpdateMetadata(ctx, 404, domain.EditedMetadata{}); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestSoftDeleteByExternalID(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	done1 := e.create(t, "https://example.com/talk?v=vid42")
	done2 := e.create(t, "https://example.com/vid42/page")
	running := e.create(t, "https://example.com/vid42/running")
	other := e.create(t, "https://example.com/vid7")

	full := []domain.WorkflowState{domain.StateFetchingHTML, domain.StateCompleted}
	e.advance(t, done1.ID, full...)
	e.advance(t, done2.ID, full...)
	e.advance(t, other.ID, full...)
	e.advance(t, running.ID, domain.StateFetchingHTML)

	n, err := e.workflow.SoftDeleteByExternalID(ctx, "vid42")
	if err != nil || n != 2 {
		t.Fatalf("SoftDeleteByExternalID = %d, %v; want 2", n, err)
	}
	for _, id := range []int64{done1.ID, done2.ID} {
		if got := e.get(t, id); got.Status != domain.StatusDeleted || got.WorkflowState != domain.StateCompleted {
			t.Errorf("job %d: %+v", id, got)
		}
	}
	if got := e.get(t, running.ID); got.Status != domain.StatusRunning {
		t.Errorf("running job touched: %+v", got)
	}
	if got := e.get(t, other.ID); got.Status != domain.StatusCompleted {
		t.Errorf("unrelated job touched: %+v", got)
	}

	if n, err := e.workflow.SoftDeleteByExternalID(ctx, ""); n != 0 || err != nil {
		t.Errorf("empty id = %d, %v", n, err)
	}
}

func TestPurge(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	url := "https://example.com/talk/1"
	job := e.create(t, url)
	e.advance(t, job.ID, domain.StateFetchingHTML, domain.StateCompleted)

	if err := e.cache.WriteDocument(url, "<html></html>"); err != nil {
		t.Fatal(err)
	}
	if err := e.cache.WriteResult(url, &domain.VideoInfo{Metadata: domain.VideoMetadata{YoutubeID: "cached"}}); err != nil {
		t.Fatal(err)
	}
	if err := e.workflow.UpdateTranscript(ctx, job.ID, []domain.EditedSegment{{Text: "x"}}); err != nil {
		t.Fatal(err)
	}

	if err := e.workflow.Purge(ctx, job.ID); err != nil {
		t.Fatalf("Purge: %v", err)
	}
	if len(e.clips.prefixes) != 1 || e.clips.prefixes[0] != "cached_" {
		t.Errorf("clip prefixes = %v", e.clips.prefixes)
	}
	if len(e.transcripts.deleted) != 1 || e.transcripts.deleted[0] != "cached" {
		t.Errorf("transcripts deleted = %v", e.transcripts.deleted)
	}
	if _, err := e.cache.ReadDocument(url); err == nil {
		t.Error("cached document survived purge")
	}
	if segs, _ := e.store.Transcript(ctx, job.ID); len(segs) != 0 {
		t.Error("edited transcript survived purge")
	}
	if got := e.get(t, job.ID); got.Status != domain.StatusDeleted {
		t.Errorf("status = %s", got.Status)
	}
}

func TestPurgePrefersEditedVideoID(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	url := "https://example.com/talk/2"
	job := e.create(t, url)
	if err := e.cache.WriteResult(url, &domain.VideoInfo{Metadata: domain.VideoMetadata{YoutubeID: "cached"}}); err != nil {
		t.Fatal(err)
	}
	if err := e.workflow.UpdateMetadata(ctx, job.ID, domain.EditedMetadata{YoutubeID: "edited"}); err != nil {
		t.Fatal(err)
	}
	if err := e.workflow.Purge(ctx, job.ID); err != nil {
		t.Fatalf("Purge: %v", err)
	}
	if len(e.transcripts.deleted) != 1 || e.transcripts.deleted[0] != "edited" {
		t.Errorf("transcripts deleted = %v", e.transcripts.deleted)
	}
}

func TestPurgeArchive(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	completed := e.create(t, "https://example.com/completed")
	e.advance(t, completed.ID, domain.StateFetchingHTML, domain.StateCompleted)
	failed := e.create(t, "https://example.com/failed")
	if err := e.workflow.Fail(ctx, failed.ID, "boom"); err != nil {
		t.Fatal(err)
	}
	broken := e.create(t, "https://example.com/broken")
	e.advance(t, broken.ID, domain.StateFetchingHTML, domain.StateCompleted)
	if err := e.workflow.UpdateMetadata(ctx, broken.ID, domain.EditedMetadata{YoutubeID: "stuck"}); err != nil {
		t.Fatal(err)
	}
	pending := e.create(t, "https://example.com/pending")
	e.clips.failFor = "stuck"

	n, err := e.workflow.PurgeArchive(ctx)
	if err == nil {
		t.Fatal("expected the broken purge to be reported")
	}
	if n != 2 {
		t.Errorf("deleted %d rows, want 2", n)
	}

	left, _ := e.store.List(ctx, Filter{})
	ids := map[int64]bool{}
	for _, j := range left {
		ids[j.ID] = true
	}
	if len(left) != 2 || !ids[broken.ID] || !ids[pending.ID] {
		t.Errorf("remaining jobs = %+v", left)
	}
}

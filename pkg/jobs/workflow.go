package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	sq "github.com/Masterminds/squirrel"

	"talk-archive/pkg/cache"
	"talk-archive/pkg/domain"
	"talk-archive/pkg/logging"
)

var (
	// ErrStateRegression rejects a transition to a state ordered before the current one.
	ErrStateRegression = errors.New("workflow state cannot move backwards")
	// ErrConcurrentUpdate reports that the job changed between the read and the write.
	ErrConcurrentUpdate = errors.New("job changed concurrently")
	// ErrInvalidState rejects a state name outside the workflow ordering.
	ErrInvalidState = errors.New("unknown workflow state")
)

// Phase selects which edit override ApplyEdits uses.
type Phase int

const (
	PhaseMetadata Phase = iota
	PhaseTranscript
)

// TranscriptDeleter removes persisted transcript rows for a video.
type TranscriptDeleter interface {
	DeleteByVideo(ctx context.Context, videoID string) (int64, error)
}

// ClipDeleter removes stored clips by key prefix.
type ClipDeleter interface {
	DeleteByPrefix(ctx context.Context, prefix string) (int, error)
}

// ContentCache is the part of the content cache a purge touches.
type ContentCache interface {
	LoadResult(url string) (*domain.VideoInfo, error)
	Remove(url string) error
}

// Workflow drives job state transitions and the cleanup of job content.
type Workflow struct {
	store       *Store
	transcripts TranscriptDeleter
	clips       ClipDeleter
	cache       ContentCache
	logger      *slog.Logger
}

// NewWorkflow wires the collaborators a purge needs. Any of them may be nil,
// in which case that part of the cleanup is skipped.
func NewWorkflow(store *Store, transcripts TranscriptDeleter, clips ClipDeleter, cc ContentCache, logger *slog.Logger) *Workflow {
	return &Workflow{
		store:       store,
		transcripts: transcripts,
		clips:       clips,
		cache:       cc,
		logger:      logging.OrDefault(logger).With("component", "workflow"),
	}
}

// Store returns the underlying job store.
func (w *Workflow) Store() *Store { return w.store }

type advanceOptions struct {
	errMsg         string
	statusOverride domain.JobStatus
}

// AdvanceOption customizes a single Advance call.
type AdvanceOption func(*advanceOptions)

// WithError records msg in error_message. Without it the existing message is kept.
func WithError(msg string) AdvanceOption {
	return func(o *advanceOptions) { o.errMsg = msg }
}

// WithStatusOverride sets status directly instead of deriving it from the state.
// It also stamps completed_at and skips the ordering check.
func WithStatusOverride(status domain.JobStatus) AdvanceOption {
	return func(o *advanceOptions) { o.statusOverride = status }
}

// Advance moves a job to state in a single UPDATE. The status is derived from
// the state unless overridden; started_at is set on the first running state and
// completed_at on a terminal state or an override.
func (w *Workflow) Advance(ctx context.Context, id int64, state domain.WorkflowState, opts ...AdvanceOption) error {
	const op = "jobs.Advance"

	var o advanceOptions
	for _, opt := range opts {
		opt(&o)
	}
	if !state.Valid() {
		return domain.E(domain.KindFatal, op, fmt.Errorf("%w: %q", ErrInvalidState, state))
	}

	current, err := w.store.state(ctx, id)
	if err != nil {
		return err
	}
	if o.statusOverride == "" && !domain.CanAdvance(current, state) {
		return domain.E(domain.KindFatal, op, fmt.Errorf("job %d %s -> %s: %w", id, current, state, ErrStateRegression))
	}

	status := domain.DeriveStatus(state)
	if o.statusOverride != "" {
		status = o.statusOverride
	}
	now := w.store.now().UTC()

	upd := w.store.builder().Update("ingest_jobs").
		Set("workflow_state", state).
		Set("status", status).
		Where(sq.Eq{"id": id, "workflow_state": current})
	if o.errMsg != "" {
		upd = upd.Set("error_message", o.errMsg)
	}
	if state.Running() {
		upd = upd.Set("started_at", sq.Expr("COALESCE(started_at, ?)", now))
	}
	if state.Terminal() || o.statusOverride != "" {
		upd = upd.Set("completed_at", now)
	}

	res, err := upd.RunWith(w.store.db).ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.E(domain.KindTransient, op, fmt.Errorf("job %d: %w", id, ErrConcurrentUpdate))
	}
	w.logger.Debug("advanced job", "job_id", id, "from", current, "to", state, "status", status)
	return nil
}

// Fail moves a job to failed and records msg.
func (w *Workflow) Fail(ctx context.Context, id int64, msg string) error {
	return w.Advance(ctx, id, domain.StateFailed, WithError(msg))
}

// Reset returns a failed job to pending so it can be processed again.
func (w *Workflow) Reset(ctx context.Context, id int64) error {
	const op = "jobs.Reset"

	current, err := w.store.state(ctx, id)
	if err != nil {
		return err
	}
	if current != domain.StateFailed {
		return domain.E(domain.KindFatal, op, fmt.Errorf("job %d is %s, only failed jobs can be reset", id, current))
	}
	_, err = w.store.builder().Update("ingest_jobs").
		Set("workflow_state", domain.StatePending).
		Set("status", domain.StatusPending).
		Set("error_message", nil).
		Set("started_at", nil).
		Set("completed_at", nil).
		Where(sq.Eq{"id": id, "workflow_state": current}).
		RunWith(w.store.db).ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// SaveLog stores the job's captured log.
func (w *Workflow) SaveLog(ctx context.Context, id int64, log string) error {
	return w.store.SaveLog(ctx, id, log)
}

// MarkStage stamps the timestamp belonging to a completed fetch stage.
func (w *Workflow) MarkStage(ctx context.Context, id int64, stage domain.WorkflowState) error {
	switch stage {
	case domain.StateHTMLFetched:
		return w.store.stamp(ctx, w.store.db, id, "html_fetched_at")
	case domain.StateVideoFetched:
		return w.store.stamp(ctx, w.store.db, id, "video_fetched_at")
	default:
		return fmt.Errorf("jobs.MarkStage: no timestamp for stage %s", stage)
	}
}

// ApplyEdits overlays the job's edit override for phase onto info. It reports
// whether an override existed.
func (w *Workflow) ApplyEdits(ctx context.Context, id int64, info *domain.VideoInfo, phase Phase) (bool, error) {
	switch phase {
	case PhaseMetadata:
		m, err := w.store.Metadata(ctx, id)
		if err != nil || m == nil {
			return false, err
		}
		info.ApplyMetadata(*m)
		w.logger.Info("applied edited metadata", "job_id", id, "youtube_id", m.YoutubeID)
		return true, nil
	case PhaseTranscript:
		segs, err := w.store.Transcript(ctx, id)
		if err != nil || len(segs) == 0 {
			return false, err
		}
		info.ReplaceTranscript(segs)
		w.logger.Info("applied edited transcript", "job_id", id, "segments", len(segs))
		return true, nil
	default:
		return false, fmt.Errorf("jobs.ApplyEdits: unknown phase %d", phase)
	}
}

// UpdateMetadata stores a metadata override for an existing job.
func (w *Workflow) UpdateMetadata(ctx context.Context, id int64, m domain.EditedMetadata) error {
	if _, err := w.store.Get(ctx, id); err != nil {
		return err
	}
	m.JobID = id
	return w.store.UpsertMetadata(ctx, id, m)
}

// UpdateTranscript replaces the transcript override of an existing job.
func (w *Workflow) UpdateTranscript(ctx context.Context, id int64, segs []domain.EditedSegment) error {
	if _, err := w.store.Get(ctx, id); err != nil {
		return err
	}
	return w.store.ReplaceTranscript(ctx, id, segs)
}

// SoftDeleteByExternalID marks every completed job whose URL references
// videoID as deleted.
func (w *Workflow) SoftDeleteByExternalID(ctx context.Context, videoID string) (int, error) {
	if videoID == "" {
		return 0, nil
	}
	ids, err := w.store.ids(ctx, sq.And{
		sq.Like{"url": "%" + videoID + "%"},
		sq.Eq{"status": domain.StatusCompleted},
	})
	if err != nil {
		return 0, fmt.Errorf("jobs.SoftDeleteByExternalID: %w", err)
	}
	for i, id := range ids {
		if err := w.Advance(ctx, id, domain.StateCompleted, WithStatusOverride(domain.StatusDeleted)); err != nil {
			return i, err
		}
	}
	if len(ids) > 0 {
		w.logger.Info("marked jobs deleted", "youtube_id", videoID, "job_ids", ids)
	}
	return len(ids), nil
}

// videoIDFor finds the video a job produced: the edited metadata wins, then the cached result.
func (w *Workflow) videoIDFor(ctx context.Context, job *domain.Job) (string, error) {
	m, err := w.store.Metadata(ctx, job.ID)
	if err != nil {
		return "", err
	}
	if m != nil && m.YoutubeID != "" {
		return m.YoutubeID, nil
	}
	if w.cache == nil {
		return "", nil
	}
	info, err := w.cache.LoadResult(job.URL)
	if errors.Is(err, cache.ErrNotCached) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return info.Metadata.YoutubeID, nil
}

// Purge removes a job's clips, transcript rows, edit overrides and cache files,
// then marks it deleted.
func (w *Workflow) Purge(ctx context.Context, id int64) error {
	job, err := w.store.Get(ctx, id)
	if err != nil {
		return err
	}
	videoID, err := w.videoIDFor(ctx, job)
	if err != nil {
		return fmt.Errorf("resolve video for job %d: %w", id, err)
	}

	if videoID != "" {
		if w.clips != nil {
			n, err := w.clips.DeleteByPrefix(ctx, videoID+"_")
			if err != nil {
				return fmt.Errorf("delete clips of %s: %w", videoID, err)
			}
			w.logger.Info("deleted clips", "job_id", id, "youtube_id", videoID, "clips", n)
		}
		if w.transcripts != nil {
			if _, err := w.transcripts.DeleteByVideo(ctx, videoID); err != nil {
				return fmt.Errorf("delete transcripts of %s: %w", videoID, err)
			}
		}
	}
	if err := w.store.DeleteEdits(ctx, id); err != nil {
		return err
	}
	if w.cache != nil {
		if err := w.cache.Remove(job.URL); err != nil {
			return fmt.Errorf("remove cache files of job %d: %w", id, err)
		}
	}
	return w.Advance(ctx, id, domain.StateCompleted, WithStatusOverride(domain.StatusDeleted))
}

// PurgeArchive purges every completed, failed or deleted job and then removes
// deleted job rows. A failed purge is logged and does not stop the others.
func (w *Workflow) PurgeArchive(ctx context.Context) (int64, error) {
	ids, err := w.store.ids(ctx, sq.Eq{"status": []domain.JobStatus{
		domain.StatusCompleted, domain.StatusFailed, domain.StatusDeleted,
	}})
	if err != nil {
		return 0, fmt.Errorf("jobs.PurgeArchive: %w", err)
	}

	var errs []error
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if err := w.Purge(ctx, id); err != nil {
			w.logger.Error("failed to purge job", "job_id", id, "error", err)
			errs = append(errs, fmt.Errorf("job %d: %w", id, err))
		}
	}

	n, err := w.store.DeleteWithStatus(ctx, domain.StatusDeleted)
	if err != nil {
		errs = append(errs, err)
	}
	w.logger.Info("purged archive", "jobs", len(ids), "rows_deleted", n, "failures", len(errs))
	return n, errors.Join(errs...)
}

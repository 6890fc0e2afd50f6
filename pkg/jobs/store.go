// Package jobs tracks ingest jobs, their workflow state and human edit overrides.
package jobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"talk-archive/pkg/db"
	"talk-archive/pkg/domain"
)

// DefaultListLimit caps ListJobs when no limit is given.
const DefaultListLimit = 100

var jobColumns = []string{
	"id", "url", "status", "workflow_state", "created_at", "started_at", "completed_at",
	"error_message", "user_email", "html_fetched_at", "video_fetched_at",
	"metadata_edited_at", "transcript_edited_at",
}

// Filter narrows ListJobs. Zero fields match everything.
type Filter struct {
	UserEmail string
	Status    domain.JobStatus
	Limit     int
}

// Store is the SQL access layer for jobs and edit overrides.
type Store struct {
	db      *sql.DB
	dialect db.Dialect
	now     func() time.Time
}

// NewStore creates a Store. A nil now uses time.Now.
func NewStore(p db.DBProvider, now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{db: p.DB(), dialect: p.Dialect(), now: now}
}

func (s *Store) builder() sq.StatementBuilderType {
	return s.dialect.Builder()
}

// Create inserts a pending job.
func (s *Store) Create(ctx context.Context, url, email string) (*domain.Job, error) {
	const op = "jobs.Create"
	now := s.now().UTC()

	var id int64
	err := s.builder().Insert("ingest_jobs").
		Columns("url", "status", "workflow_state", "created_at", "user_email").
		Values(url, domain.StatusPending, domain.StatePending, now, email).
		Suffix("RETURNING id").
		RunWith(s.db).QueryRowContext(ctx).Scan(&id)
	if err != nil {
		return nil, db.Classify(op, err)
	}
	return &domain.Job{
		ID:            id,
		URL:           url,
		Status:        domain.StatusPending,
		WorkflowState: domain.StatePending,
		CreatedAt:     now,
		UserEmail:     email,
	}, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(r rowScanner) (*domain.Job, error) {
	var (
		j                                         domain.Job
		status, state                             string
		started, completed                        sql.NullTime
		htmlAt, videoAt, metadataAt, transcriptAt sql.NullTime
		errMsg                                    sql.NullString
	)
	if err := r.Scan(&j.ID, &j.URL, &status, &state, &j.CreatedAt, &started, &completed,
		&errMsg, &j.UserEmail, &htmlAt, &videoAt, &metadataAt, &transcriptAt); err != nil {
		return nil, err
	}
	j.Status = domain.JobStatus(status)
	j.WorkflowState = domain.WorkflowState(state)
	j.ErrorMessage = errMsg.String
	j.StartedAt = timePtr(started)
	j.CompletedAt = timePtr(completed)
	j.HTMLFetchedAt = timePtr(htmlAt)
	j.VideoFetchedAt = timePtr(videoAt)
	j.MetadataEditedAt = timePtr(metadataAt)
	j.TranscriptEditedAt = timePtr(transcriptAt)
	return &j, nil
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

// Get returns a job or an error of KindNotFound.
func (s *Store) Get(ctx context.Context, id int64) (*domain.Job, error) {
	row := s.builder().Select(jobColumns...).From("ingest_jobs").Where(sq.Eq{"id": id}).
		RunWith(s.db).QueryRowContext(ctx)
	j, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.E(domain.KindNotFound, "jobs.Get", fmt.Errorf("job %d: %w", id, domain.ErrNotFound))
		}
		return nil, fmt.Errorf("jobs.Get: %w", err)
	}
	return j, nil
}

// List returns jobs newest first.
func (s *Store) List(ctx context.Context, f Filter) ([]domain.Job, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	q := s.builder().Select(jobColumns...).From("ingest_jobs").
		OrderBy("created_at DESC", "id DESC").
		Limit(uint64(limit))
	if f.UserEmail != "" {
		q = q.Where(sq.Eq{"user_email": f.UserEmail})
	}
	if f.Status != "" {
		q = q.Where(sq.Eq{"status": f.Status})
	}

	rows, err := q.RunWith(s.db).QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("jobs.List: %w", err)
	}
	defer rows.Close()

	var out []domain.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("jobs.List: scan: %w", err)
		}
		out = append(out, *j)
	}
	return out, rows.Err()
}

// ids collects job ids matching pred. Rows are closed before returning so
// callers may issue further statements on a single-connection database.
func (s *Store) ids(ctx context.Context, pred sq.Sqlizer) ([]int64, error) {
	rows, err := s.builder().Select("id").From("ingest_jobs").Where(pred).OrderBy("id").
		RunWith(s.db).QueryContext(ctx)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) state(ctx context.Context, id int64) (domain.WorkflowState, error) {
	var state string
	err := s.builder().Select("workflow_state").From("ingest_jobs").Where(sq.Eq{"id": id}).
		RunWith(s.db).QueryRowContext(ctx).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return "", domain.E(domain.KindNotFound, "jobs.state", fmt.Errorf("job %d: %w", id, domain.ErrNotFound))
	}
	if err != nil {
		return "", fmt.Errorf("jobs.state: %w", err)
	}
	return domain.WorkflowState(state), nil
}

// stamp sets a timestamp column to now.
func (s *Store) stamp(ctx context.Context, runner sq.BaseRunner, id int64, column string) error {
	res, err := s.builder().Update("ingest_jobs").Set(column, s.now().UTC()).Where(sq.Eq{"id": id}).
		RunWith(runner).ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("stamp %s: %w", column, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.E(domain.KindNotFound, "jobs.stamp", fmt.Errorf("job %d: %w", id, domain.ErrNotFound))
	}
	return nil
}

// SaveLog stores the job-scoped log text.
func (s *Store) SaveLog(ctx context.Context, id int64, log string) error {
	res, err := s.builder().Update("ingest_jobs").Set("last_log", log).Where(sq.Eq{"id": id}).
		RunWith(s.db).ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("jobs.SaveLog: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.E(domain.KindNotFound, "jobs.SaveLog", fmt.Errorf("job %d: %w", id, domain.ErrNotFound))
	}
	return nil
}

// LatestLog returns the stored job log, "" when none was saved.
func (s *Store) LatestLog(ctx context.Context, id int64) (string, error) {
	var log sql.NullString
	err := s.builder().Select("last_log").From("ingest_jobs").Where(sq.Eq{"id": id}).
		RunWith(s.db).QueryRowContext(ctx).Scan(&log)
	if errors.Is(err, sql.ErrNoRows) {
		return "", domain.E(domain.KindNotFound, "jobs.LatestLog", fmt.Errorf("job %d: %w", id, domain.ErrNotFound))
	}
	if err != nil {
		return "", fmt.Errorf("jobs.LatestLog: %w", err)
	}
	return log.String, nil
}

// Metadata returns the edit override for a job, or nil when none exists.
func (s *Store) Metadata(ctx context.Context, id int64) (*domain.EditedMetadata, error) {
	var (
		m                              domain.EditedMetadata
		title, date, youtubeID, source sql.NullString
	)
	err := s.builder().Select("job_id", "title", "date", "youtube_id", "source", "created_at").
		From("edited_metadata").Where(sq.Eq{"job_id": id}).
		RunWith(s.db).QueryRowContext(ctx).
		Scan(&m.JobID, &title, &date, &youtubeID, &source, &m.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("jobs.Metadata: %w", err)
	}
	m.Title, m.Date, m.YoutubeID, m.Source = title.String, date.String, youtubeID.String, source.String
	return &m, nil
}

// UpsertMetadata replaces the job's metadata override and stamps metadata_edited_at.
func (s *Store) UpsertMetadata(ctx context.Context, id int64, m domain.EditedMetadata) error {
	const op = "jobs.UpsertMetadata"

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: begin: %w", op, err)
	}
	defer tx.Rollback()

	_, err = s.builder().Insert("edited_metadata").
		Columns("job_id", "title", "date", "youtube_id", "source", "created_at").
		Values(id, m.Title, m.Date, m.YoutubeID, m.Source, s.now().UTC()).
		Suffix(`ON CONFLICT (job_id) DO UPDATE SET
			title = excluded.title,
			date = excluded.date,
			youtube_id = excluded.youtube_id,
			source = excluded.source,
			created_at = excluded.created_at`).
		RunWith(tx).ExecContext(ctx)
	if err != nil {
		return db.Classify(op, err)
	}
	if err := s.stamp(ctx, tx, id, "metadata_edited_at"); err != nil {
		return err
	}
	return tx.Commit()
}

// Transcript returns the job's transcript override ordered by start time.
func (s *Store) Transcript(ctx context.Context, id int64) ([]domain.EditedSegment, error) {
	const op = "jobs.Transcript"

	rows, err := s.builder().
		Select("segment_hash", "text", "speaker", "company", "start_time", "end_time", "subjects", "created_at").
		From("edited_transcripts").Where(sq.Eq{"job_id": id}).
		OrderBy("start_time", "id").
		RunWith(s.db).QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var out []domain.EditedSegment
	for rows.Next() {
		var (
			seg                          domain.EditedSegment
			hash, text, speaker, company sql.NullString
		)
		if err := rows.Scan(&hash, &text, &speaker, &company, &seg.StartTime, &seg.EndTime,
			s.dialect.ScanStringArray(&seg.Subjects), &seg.CreatedAt); err != nil {
			return nil, fmt.Errorf("%s: scan: %w", op, err)
		}
		seg.SegmentHash, seg.Text, seg.Speaker, seg.Company = hash.String, text.String, speaker.String, company.String
		out = append(out, seg)
	}
	return out, rows.Err()
}

// ReplaceTranscript swaps the job's transcript override in one transaction and
// stamps transcript_edited_at.
func (s *Store) ReplaceTranscript(ctx context.Context, id int64, segs []domain.EditedSegment) error {
	const op = "jobs.ReplaceTranscript"
	now := s.now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: begin: %w", op, err)
	}
	defer tx.Rollback()

	if _, err := s.builder().Delete("edited_transcripts").Where(sq.Eq{"job_id": id}).
		RunWith(tx).ExecContext(ctx); err != nil {
		return fmt.Errorf("%s: clear: %w", op, err)
	}
	if len(segs) > 0 {
		ins := s.builder().Insert("edited_transcripts").
			Columns("job_id", "segment_hash", "text", "speaker", "company", "start_time", "end_time", "subjects", "created_at")
		for _, seg := range segs {
			ins = ins.Values(id, seg.SegmentHash, seg.Text, seg.Speaker, seg.Company,
				seg.StartTime, seg.EndTime, s.dialect.StringArray(seg.Subjects), now)
		}
		if _, err := ins.RunWith(tx).ExecContext(ctx); err != nil {
			return db.Classify(op, err)
		}
	}
	if err := s.stamp(ctx, tx, id, "transcript_edited_at"); err != nil {
		return err
	}
	return tx.Commit()
}

// DeleteEdits removes both edit overrides of a job.
func (s *Store) DeleteEdits(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("jobs.DeleteEdits: begin: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"edited_transcripts", "edited_metadata"} {
		if _, err := s.builder().Delete(table).Where(sq.Eq{"job_id": id}).RunWith(tx).ExecContext(ctx); err != nil {
			return fmt.Errorf("jobs.DeleteEdits: %s: %w", table, err)
		}
	}
	return tx.Commit()
}

// DeleteWithStatus physically removes jobs in the given status.
func (s *Store) DeleteWithStatus(ctx context.Context, status domain.JobStatus) (int64, error) {
	res, err := s.builder().Delete("ingest_jobs").Where(sq.Eq{"status": status}).
		RunWith(s.db).ExecContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("jobs.DeleteWithStatus: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

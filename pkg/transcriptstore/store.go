// Package transcriptstore persists transcript segments into the searchable
// transcripts relation.
package transcriptstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"talk-archive/pkg/content"
	"talk-archive/pkg/db"
	"talk-archive/pkg/domain"
	"talk-archive/pkg/embedding"
	"talk-archive/pkg/logging"
)

var dateLayouts = []string{"2006-01-02", "Jan 2, 2006", "Jan 02, 2006"}

var columns = []string{
	"segment_hash", "title", "date", "youtube_id", "source", "speaker", "company",
	"start_time", "end_time", "duration", "subjects", "download", "text", "text_vector",
}

// Row is one transcripts row.
type Row struct {
	SegmentHash string
	Title       string
	Date        *time.Time
	YoutubeID   string
	Source      string
	Speaker     string
	Company     string
	StartTime   int
	EndTime     int
	Duration    int
	Subjects    []string
	Download    string
	Text        string
	Vector      []float32
}

// Result counts the outcome of one write.
type Result struct {
	Inserted int
	Skipped  int
	Filtered int
}

// RawResultSaver keeps the raw JSON of an ingestion result.
type RawResultSaver interface {
	SaveRawResult(ctx context.Context, name string, raw []byte) error
}

// Superseder retires earlier jobs for a video that is being ingested again.
type Superseder interface {
	SoftDeleteByExternalID(ctx context.Context, videoID string) (int, error)
}

// Config wires optional collaborators into a Store.
type Config struct {
	// MinDuration drops segments shorter than this many seconds. Zero means content.MinDuration.
	MinDuration int
	Embedder    embedding.Embedder
	// RawSavers receive raw results in addition to the ingest_results table.
	RawSavers  []RawResultSaver
	Superseder Superseder
	Logger     *slog.Logger
	Now        func() time.Time
}

// Store is the persistence gateway for transcript segments.
type Store struct {
	db         *sql.DB
	dialect    db.Dialect
	minDur     int
	embedder   embedding.Embedder
	rawSavers  []RawResultSaver
	superseder Superseder
	logger     *slog.Logger
	now        func() time.Time
}

// New creates a Store on top of any SQL client.
func New(p db.DBProvider, cfg Config) *Store {
	s := &Store{
		db:         p.DB(),
		dialect:    p.Dialect(),
		minDur:     cfg.MinDuration,
		embedder:   cfg.Embedder,
		rawSavers:  cfg.RawSavers,
		superseder: cfg.Superseder,
		logger:     logging.OrDefault(cfg.Logger).With("component", "transcriptstore"),
		now:        cfg.Now,
	}
	if s.minDur <= 0 {
		s.minDur = content.MinDuration
	}
	if s.embedder == nil {
		s.embedder = embedding.Noop{}
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// SetSuperseder wires the job workflow in after construction. The job store
// depends on this store for purges, so one side has to be set late.
func (s *Store) SetSuperseder(sup Superseder) {
	s.superseder = sup
}

// ParseDate accepts the date formats seen on talk pages. ok is false for
// anything else, including the empty string.
func ParseDate(v string) (time.Time, bool) {
	v = strings.TrimSpace(v)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Rows converts a VideoInfo into rows, dropping segments shorter than the
// minimum duration. dropped counts the segments left out.
func (s *Store) Rows(info *domain.VideoInfo) (rows []Row, dropped int) {
	meta := info.Metadata

	var date *time.Time
	if meta.Date != "" {
		if t, ok := ParseDate(meta.Date); ok {
			date = &t
		} else {
			s.logger.Warn("could not parse date", "date", meta.Date, "youtube_id", meta.YoutubeID)
		}
	}

	for _, seg := range info.Transcript {
		dur := seg.Duration()
		if dur < s.minDur {
			s.logger.Info("skipping short segment", "start", seg.Metadata.StartTimestamp, "duration", dur)
			dropped++
			continue
		}
		subjects := seg.Metadata.Subjects
		if subjects == nil {
			subjects = []string{}
		}
		rows = append(rows, Row{
			SegmentHash: content.SegmentHash(seg, meta),
			Title:       meta.Title,
			Date:        date,
			YoutubeID:   meta.YoutubeID,
			Source:      meta.Source,
			Speaker:     seg.Metadata.Speaker,
			Company:     seg.Metadata.Company,
			StartTime:   seg.Metadata.StartTimestamp,
			EndTime:     seg.Metadata.EndTimestamp,
			Duration:    dur,
			Subjects:    subjects,
			Download:    seg.Metadata.Download,
			Text:        seg.Text,
		})
	}
	return rows, dropped
}

// ReplaceVideo deletes every stored row for the video and inserts the new
// segments in one transaction, so a failed insert leaves the earlier rows in
// place. Jobs that produced the old rows are retired after the commit.
func (s *Store) ReplaceVideo(ctx context.Context, info *domain.VideoInfo) (Result, error) {
	id := info.Metadata.YoutubeID
	rows, dropped := s.Rows(info)
	if len(rows) > 0 {
		s.embed(ctx, rows)
	}

	var deleted int64
	prepare := func(tx *sql.Tx) error {
		if id == "" {
			return nil
		}
		n, err := s.deleteVideo(ctx, tx, id)
		deleted = n
		return err
	}
	res, err := s.writeRows(ctx, rows, prepare)
	res.Filtered = dropped
	if err != nil {
		return res, err
	}

	if id != "" {
		s.logger.Info("replaced existing segments", "youtube_id", id, "rows", deleted)
		if s.superseder != nil {
			jobs, err := s.superseder.SoftDeleteByExternalID(ctx, id)
			if err != nil {
				return res, fmt.Errorf("supersede jobs for %s: %w", id, err)
			}
			if jobs > 0 {
				s.logger.Info("marked superseded jobs deleted", "youtube_id", id, "jobs", jobs)
			}
		}
	}
	s.logger.Info("stored transcript", "youtube_id", id,
		"inserted", res.Inserted, "skipped", res.Skipped, "filtered", res.Filtered)
	return res, nil
}

// UpsertBatch inserts rows in one statement. If any row already exists the
// batch is rolled back and rows are inserted one by one, skipping duplicates.
func (s *Store) UpsertBatch(ctx context.Context, rows []Row) (Result, error) {
	if len(rows) == 0 {
		return Result{}, nil
	}
	s.embed(ctx, rows)
	return s.writeRows(ctx, rows, nil)
}

// writeRows runs prepare and a multi-row insert in one transaction. On a
// duplicate key the transaction is rolled back and retried with prepare plus
// one insert per row, each behind a savepoint so duplicates are skipped.
// Any other error rolls everything back.
func (s *Store) writeRows(ctx context.Context, rows []Row, prepare func(*sql.Tx) error) (Result, error) {
	var res Result
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if prepare != nil {
			if err := prepare(tx); err != nil {
				return err
			}
		}
		if len(rows) == 0 {
			return nil
		}
		if err := s.insertBatch(ctx, tx, rows); err != nil {
			return err
		}
		res.Inserted = len(rows)
		return nil
	})
	if err == nil {
		return res, nil
	}
	if !domain.IsKind(err, domain.KindDuplicateKey) {
		return Result{}, err
	}

	s.logger.Info("batch hit existing segments, inserting one by one", "rows", len(rows))
	res = Result{}
	err = s.inTx(ctx, func(tx *sql.Tx) error {
		res = Result{}
		if prepare != nil {
			if err := prepare(tx); err != nil {
				return err
			}
		}
		for _, r := range rows {
			err := s.insertRow(ctx, tx, r)
			switch {
			case err == nil:
				res.Inserted++
			case domain.IsKind(err, domain.KindDuplicateKey):
				s.logger.Info("skipping duplicate segment", "segment_hash", r.SegmentHash)
				res.Skipped++
			default:
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	return res, nil
}

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	const op = "transcriptstore.tx"

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: begin: %w", op, err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return db.Classify(op, err)
	}
	return nil
}

func (s *Store) embed(ctx context.Context, rows []Row) {
	texts := make([]string, len(rows))
	for i, r := range rows {
		texts[i] = r.Text
	}
	vecs, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		s.logger.Warn("embedding failed, storing rows without vectors", "error", err)
		return
	}
	if len(vecs) != len(rows) {
		return
	}
	for i := range rows {
		rows[i].Vector = vecs[i]
	}
}

func (s *Store) values(r Row) []any {
	var date any
	if r.Date != nil {
		date = *r.Date
	}
	return []any{
		r.SegmentHash, r.Title, date, r.YoutubeID, r.Source, r.Speaker, r.Company,
		r.StartTime, r.EndTime, r.Duration, s.dialect.StringArray(r.Subjects), r.Download, r.Text,
		s.dialect.Vector(r.Vector),
	}
}

func (s *Store) insertBatch(ctx context.Context, tx *sql.Tx, rows []Row) error {
	ins := s.dialect.Builder().Insert("transcripts").Columns(columns...)
	for _, r := range rows {
		ins = ins.Values(s.values(r)...)
	}
	_, err := ins.RunWith(tx).ExecContext(ctx)
	return db.Classify("transcriptstore.insertBatch", err)
}

// insertRow inserts one row behind a savepoint. A failed row is rolled back to
// the savepoint, which keeps a Postgres transaction usable after a conflict.
func (s *Store) insertRow(ctx context.Context, tx *sql.Tx, r Row) error {
	const op = "transcriptstore.insertRow"

	if _, err := tx.ExecContext(ctx, "SAVEPOINT segment_row"); err != nil {
		return fmt.Errorf("%s: savepoint: %w", op, err)
	}
	ins := s.dialect.Builder().Insert("transcripts").Columns(columns...).Values(s.values(r)...)
	if _, err := ins.RunWith(tx).ExecContext(ctx); err != nil {
		if _, rbErr := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT segment_row"); rbErr != nil {
			return fmt.Errorf("%s: rollback to savepoint: %w", op, errors.Join(err, rbErr))
		}
		return db.Classify(op, err)
	}
	if _, err := tx.ExecContext(ctx, "RELEASE SAVEPOINT segment_row"); err != nil {
		return fmt.Errorf("%s: release savepoint: %w", op, err)
	}
	return nil
}

// DeleteByVideo removes every row of a video and reports how many went.
func (s *Store) DeleteByVideo(ctx context.Context, videoID string) (int64, error) {
	var n int64
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		n, err = s.deleteVideo(ctx, tx, videoID)
		return err
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (s *Store) deleteVideo(ctx context.Context, tx *sql.Tx, videoID string) (int64, error) {
	res, err := s.dialect.Builder().Delete("transcripts").Where("youtube_id = ?", videoID).RunWith(tx).ExecContext(ctx)
	if err != nil {
		return 0, db.Classify("transcriptstore.DeleteByVideo", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// CountByVideo returns the number of stored rows for a video.
func (s *Store) CountByVideo(ctx context.Context, videoID string) (int, error) {
	var n int
	err := s.dialect.Builder().Select("COUNT(*)").From("transcripts").
		Where("youtube_id = ?", videoID).
		RunWith(s.db).QueryRowContext(ctx).Scan(&n)
	if err != nil {
		return 0, db.Classify("transcriptstore.CountByVideo", err)
	}
	return n, nil
}

// ListByVideo returns a video's rows ordered by start time. Vectors are not read back.
func (s *Store) ListByVideo(ctx context.Context, videoID string) ([]Row, error) {
	const op = "transcriptstore.ListByVideo"

	q := s.dialect.Builder().
		Select("segment_hash", "title", "youtube_id", "source", "speaker", "company",
			"start_time", "end_time", "duration", "subjects", "download", "text").
		From("transcripts").
		Where("youtube_id = ?", videoID).
		OrderBy("start_time", "segment_hash")
	rs, err := q.RunWith(s.db).QueryContext(ctx)
	if err != nil {
		return nil, db.Classify(op, err)
	}
	defer rs.Close()

	var rows []Row
	for rs.Next() {
		var (
			r                       Row
			title, source, download sql.NullString
			speaker, company, text  sql.NullString
		)
		if err := rs.Scan(&r.SegmentHash, &title, &r.YoutubeID, &source, &speaker, &company,
			&r.StartTime, &r.EndTime, &r.Duration, s.dialect.ScanStringArray(&r.Subjects), &download, &text); err != nil {
			return nil, fmt.Errorf("%s: scan: %w", op, err)
		}
		r.Title, r.Source, r.Download = title.String, source.String, download.String
		r.Speaker, r.Company, r.Text = speaker.String, company.String, text.String
		rows = append(rows, r)
	}
	return rows, rs.Err()
}

// SaveRawResult upserts raw JSON into the ingest_results table.
func (s *Store) SaveRawResult(ctx context.Context, name string, raw []byte) error {
	ins := s.dialect.Builder().Insert("ingest_results").
		Columns("name", "content", "created_at").
		Values(name, string(raw), s.now().UTC()).
		Suffix("ON CONFLICT (name) DO UPDATE SET content = excluded.content, created_at = excluded.created_at")
	_, err := ins.RunWith(s.db).ExecContext(ctx)
	return db.Classify("transcriptstore.SaveRawResult", err)
}

// RawResult returns the stored JSON for name.
func (s *Store) RawResult(ctx context.Context, name string) ([]byte, error) {
	var raw string
	err := s.dialect.Builder().Select("content").From("ingest_results").Where("name = ?", name).
		RunWith(s.db).QueryRowContext(ctx).Scan(&raw)
	if err != nil {
		return nil, db.Classify("transcriptstore.RawResult", err)
	}
	return []byte(raw), nil
}

// RawResultNames returns the name of every stored raw result.
func (s *Store) RawResultNames(ctx context.Context) (map[string]bool, error) {
	rs, err := s.dialect.Builder().Select("name").From("ingest_results").
		RunWith(s.db).QueryContext(ctx)
	if err != nil {
		return nil, db.Classify("transcriptstore.RawResultNames", err)
	}
	defer rs.Close()

	names := make(map[string]bool)
	for rs.Next() {
		var name string
		if err := rs.Scan(&name); err != nil {
			return nil, err
		}
		names[name] = true
	}
	return names, rs.Err()
}

// StoreRawResult keeps the ingestion result in every configured raw store.
// Failures are logged and never returned.
func (s *Store) StoreRawResult(ctx context.Context, name string, info *domain.VideoInfo) {
	raw, err := json.Marshal(info)
	if err != nil {
		s.logger.Error("failed to encode raw result", "name", name, "error", err)
		return
	}

	savers := append([]RawResultSaver{s}, s.rawSavers...)
	var errs []error
	for _, saver := range savers {
		if err := saver.SaveRawResult(ctx, name, raw); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		s.logger.Error("failed to store raw result", "name", name, "error", err)
		return
	}
	s.logger.Info("stored raw result", "name", name)
}

// Package ingest runs the per-URL pipeline: fetch, extract, acquire video,
// cut and upload clips, then persist the result.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"talk-archive/pkg/cache"
	"talk-archive/pkg/content"
	"talk-archive/pkg/domain"
	"talk-archive/pkg/jobs"
	"talk-archive/pkg/logging"
	"talk-archive/pkg/media"
	"talk-archive/pkg/transcriptstore"
)

// DocumentFetcher renders a talk page.
type DocumentFetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// Extractor turns a rendered page into metadata and transcript segments.
type Extractor interface {
	Extract(html string) (*domain.VideoInfo, error)
}

// VideoAcquirer makes sure the source video is cached locally.
type VideoAcquirer interface {
	EnsureVideo(ctx context.Context, videoID string) (path string, downloaded bool, err error)
}

// ClipGenerator cuts per-segment clips and uploads them.
type ClipGenerator interface {
	GenerateAndUpload(ctx context.Context, srcDir string, info *domain.VideoInfo) (*domain.VideoInfo, error)
}

// TranscriptStore persists finished results.
type TranscriptStore interface {
	ReplaceVideo(ctx context.Context, info *domain.VideoInfo) (transcriptstore.Result, error)
	StoreRawResult(ctx context.Context, name string, info *domain.VideoInfo)
}

// Reporter records job progress. *jobs.Workflow implements it.
type Reporter interface {
	Advance(ctx context.Context, id int64, state domain.WorkflowState, opts ...jobs.AdvanceOption) error
	MarkStage(ctx context.Context, id int64, stage domain.WorkflowState) error
	ApplyEdits(ctx context.Context, id int64, info *domain.VideoInfo, phase jobs.Phase) (bool, error)
	SaveLog(ctx context.Context, id int64, log string) error
}

// Deps lists the collaborators of a Processor. Prober and Reporter are optional.
type Deps struct {
	Cache     *cache.Cache
	Fetcher   DocumentFetcher
	Extractor Extractor
	Acquirer  VideoAcquirer
	Clips     ClipGenerator
	Prober    media.Prober
	Store     TranscriptStore
	Reporter  Reporter

	LogDir      string
	LogRotation logging.Rotation
	Logger      *slog.Logger
}

// Processor runs ingestion for single URLs.
type Processor struct {
	cache     *cache.Cache
	fetcher   DocumentFetcher
	extractor Extractor
	acquirer  VideoAcquirer
	clips     ClipGenerator
	prober    media.Prober
	store     TranscriptStore
	reporter  Reporter
	logDir    string
	rotation  logging.Rotation
	logger    *slog.Logger
}

var _ jobs.Pipeline = (*Processor)(nil)

func New(d Deps) *Processor {
	return &Processor{
		cache:     d.Cache,
		fetcher:   d.Fetcher,
		extractor: d.Extractor,
		acquirer:  d.Acquirer,
		clips:     d.Clips,
		prober:    d.Prober,
		store:     d.Store,
		reporter:  d.Reporter,
		logDir:    d.LogDir,
		rotation:  d.LogRotation,
		logger:    logging.OrDefault(d.Logger).With("component", "ingest"),
	}
}

// ProcessURL ingests url. A non-zero jobID ties the run to a job: every stage
// is recorded, edit overrides are applied and the run's log is saved on the
// job whether it succeeds or not.
func (p *Processor) ProcessURL(ctx context.Context, url string, jobID int64) (*domain.VideoInfo, error) {
	t := &tracker{id: jobID, state: domain.StatePending}
	if jobID != 0 {
		t.reporter = p.reporter
	}

	logger := p.logger
	if t.enabled() && p.logDir != "" {
		jl, err := logging.OpenJobLog(p.logDir, jobID, p.logger, p.rotation)
		if err != nil {
			p.logger.Warn("job log unavailable", "job_id", jobID, "error", err)
		} else {
			logger = jl.Logger()
			defer p.saveJobLog(context.WithoutCancel(ctx), jobID, jl)
		}
	}
	logger = logger.With("url", url)
	t.logger = logger

	info, err := p.run(ctx, url, t, logger)
	if err != nil {
		err = fmt.Errorf("stage=%s: %w", t.state, err)
		logger.Error("failed to process url", "error", err)
		t.fail(context.WithoutCancel(ctx), err)
		return nil, err
	}
	logger.Info("processed url", "youtube_id", info.Metadata.YoutubeID, "segments", len(info.Transcript))
	return info, nil
}

func (p *Processor) run(ctx context.Context, url string, t *tracker, logger *slog.Logger) (*domain.VideoInfo, error) {
	if err := t.advance(ctx, domain.StateFetchingHTML); err != nil {
		return nil, err
	}
	doc, err := p.document(ctx, url, logger)
	if err != nil {
		return nil, err
	}
	t.markStage(ctx, domain.StateHTMLFetched)
	if err := t.advance(ctx, domain.StateHTMLFetched); err != nil {
		return nil, err
	}

	info, err := p.extractor.Extract(doc)
	if err != nil {
		return nil, err
	}
	if err := t.advance(ctx, domain.StateEditingMetadata); err != nil {
		return nil, err
	}
	if err := t.applyEdits(ctx, info, jobs.PhaseMetadata); err != nil {
		return nil, err
	}

	if videoID := info.Metadata.YoutubeID; videoID != "" {
		if info, err = p.clipVideo(ctx, t, info, logger); err != nil {
			return nil, err
		}
	}

	if err := p.cache.WriteResult(url, info); err != nil {
		return nil, fmt.Errorf("cache result: %w", err)
	}
	if _, err := p.store.ReplaceVideo(ctx, info); err != nil {
		return nil, err
	}
	_, resultPath := p.cache.Paths(url)
	p.store.StoreRawResult(ctx, filepath.Base(resultPath), info)

	if err := t.advance(ctx, domain.StateCompleted); err != nil {
		return nil, err
	}
	return info, nil
}

func (p *Processor) clipVideo(ctx context.Context, t *tracker, info *domain.VideoInfo, logger *slog.Logger) (*domain.VideoInfo, error) {
	videoID := info.Metadata.YoutubeID
	if err := t.advance(ctx, domain.StateFetchingVideo); err != nil {
		return nil, err
	}
	path, downloaded, err := p.acquirer.EnsureVideo(ctx, videoID)
	if err != nil {
		return nil, err
	}
	if downloaded {
		t.markStage(ctx, domain.StateVideoFetched)
	}
	if err := t.advance(ctx, domain.StateVideoFetched); err != nil {
		return nil, err
	}
	if err := t.applyEdits(ctx, info, jobs.PhaseTranscript); err != nil {
		return nil, err
	}
	p.reconcileTrailing(ctx, path, info, logger)

	if err := t.advance(ctx, domain.StateGeneratingClips); err != nil {
		return nil, err
	}
	if len(info.Transcript) == 0 {
		logger.Warn("no transcript segments, skipping clips", "youtube_id", videoID)
		return info, nil
	}
	return p.clips.GenerateAndUpload(ctx, filepath.Dir(path), info)
}

// document returns the cached page or fetches and caches it.
func (p *Processor) document(ctx context.Context, url string, logger *slog.Logger) (string, error) {
	doc, err := p.cache.ReadDocument(url)
	if err == nil {
		logger.Info("document already cached")
		return doc, nil
	}
	if !errors.Is(err, cache.ErrNotCached) {
		return "", err
	}

	logger.Info("fetching document")
	doc, err = p.fetcher.Fetch(ctx, url)
	if err != nil {
		return "", err
	}
	if err := p.cache.WriteDocument(url, doc); err != nil {
		return "", fmt.Errorf("cache document: %w", err)
	}
	return doc, nil
}

// reconcileTrailing closes the open trailing segment at the video's length.
func (p *Processor) reconcileTrailing(ctx context.Context, path string, info *domain.VideoInfo, logger *slog.Logger) {
	if p.prober == nil || len(info.Transcript) == 0 {
		return
	}
	if info.Transcript[len(info.Transcript)-1].Metadata.EndTimestamp != 0 {
		return
	}
	dur, err := p.prober.Duration(ctx, path)
	if err != nil {
		logger.Warn("cannot read video duration, trailing segment stays open", "error", err)
		return
	}
	info.Transcript = content.ReconcileTrailing(info.Transcript, dur)
}

func (p *Processor) saveJobLog(ctx context.Context, jobID int64, jl *logging.JobLog) {
	defer jl.Close()
	text, err := jl.Contents()
	if err != nil {
		p.logger.Error("failed to read job log", "job_id", jobID, "error", err)
		return
	}
	if err := p.reporter.SaveLog(ctx, jobID, text); err != nil {
		p.logger.Error("failed to update job log in database", "job_id", jobID, "error", err)
	}
}

// Ingest stores an already produced result, as read from an offline archive.
func (p *Processor) Ingest(ctx context.Context, name string, info *domain.VideoInfo) error {
	if _, err := p.store.ReplaceVideo(ctx, info); err != nil {
		return err
	}
	p.store.StoreRawResult(ctx, name, info)
	return nil
}

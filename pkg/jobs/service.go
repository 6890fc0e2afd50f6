package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-playground/validator/v10"

	"talk-archive/pkg/domain"
	"talk-archive/pkg/logging"
)

// ErrNoResult is recorded when the pipeline returns neither a result nor an error.
var ErrNoResult = errors.New("failed to process URL")

// Pipeline runs ingestion for one URL on behalf of a job.
type Pipeline interface {
	ProcessURL(ctx context.Context, url string, jobID int64) (*domain.VideoInfo, error)
}

type createRequest struct {
	URL   string `validate:"required,url"`
	Email string `validate:"required,email"`
}

// Service is the job API offered to outer layers.
type Service struct {
	workflow *Workflow
	store    *Store
	pipeline Pipeline
	notifier Notifier
	validate *validator.Validate
	logger   *slog.Logger

	wg sync.WaitGroup
}

// NewService creates a Service. A nil notifier logs notifications.
func NewService(w *Workflow, p Pipeline, n Notifier, logger *slog.Logger) *Service {
	logger = logging.OrDefault(logger).With("component", "jobs")
	if n == nil {
		n = LogNotifier{Logger: logger}
	}
	return &Service{
		workflow: w,
		store:    w.Store(),
		pipeline: p,
		notifier: n,
		validate: validator.New(),
		logger:   logger,
	}
}

// Workflow exposes the state machine the service drives.
func (s *Service) Workflow() *Workflow { return s.workflow }

// CreateJob validates the request and stores a pending job.
func (s *Service) CreateJob(ctx context.Context, url, email string) (*domain.Job, error) {
	if err := s.validate.Struct(createRequest{URL: url, Email: email}); err != nil {
		return nil, domain.E(domain.KindFatal, "jobs.CreateJob", fmt.Errorf("invalid job request: %w", err))
	}
	job, err := s.store.Create(ctx, url, email)
	if err != nil {
		return nil, err
	}
	s.logger.Info("created job", "job_id", job.ID, "url", url)
	return job, nil
}

func (s *Service) GetJob(ctx context.Context, id int64) (*domain.Job, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) ListJobs(ctx context.Context, f Filter) ([]domain.Job, error) {
	return s.store.List(ctx, f)
}

// ProcessJob starts the pipeline for a pending job in the background and
// returns at once. Use Wait to block until background runs finish.
func (s *Service) ProcessJob(ctx context.Context, id int64) error {
	if _, err := s.store.Get(ctx, id); err != nil {
		return err
	}
	runCtx := context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.RunJob(runCtx, id); err != nil {
			s.logger.Error("job failed", "job_id", id, "error", err)
		}
	}()
	return nil
}

// Wait blocks until every job started by ProcessJob has finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

// RunJob processes a pending job synchronously. Jobs in any other status are
// left alone.
func (s *Service) RunJob(ctx context.Context, id int64) (err error) {
	job, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if job.Status != domain.StatusPending {
		s.logger.Info("job is not pending, skipping", "job_id", id, "status", job.Status)
		return nil
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %d panicked: %v", id, r)
			s.fail(ctx, job, err)
		}
	}()

	info, err := s.pipeline.ProcessURL(ctx, job.URL, id)
	if err == nil && info == nil {
		err = ErrNoResult
	}
	if err != nil {
		s.fail(ctx, job, err)
		return err
	}

	if err := s.notifier.JobReady(ctx, job); err != nil {
		s.logger.Error("failed to send notification", "job_id", id, "error", err)
	}
	return nil
}

// fail records the failure unless the pipeline already did, then notifies.
func (s *Service) fail(ctx context.Context, job *domain.Job, cause error) {
	current, err := s.store.Get(ctx, job.ID)
	if err == nil && current.WorkflowState != domain.StateFailed {
		if err := s.workflow.Fail(ctx, job.ID, cause.Error()); err != nil {
			s.logger.Error("failed to record job failure", "job_id", job.ID, "error", err)
		}
	}
	if err := s.notifier.JobFailed(ctx, job, cause.Error()); err != nil {
		s.logger.Error("failed to send notification", "job_id", job.ID, "error", err)
	}
}

// RetryJob resets a failed job to pending and processes it again.
func (s *Service) RetryJob(ctx context.Context, id int64) error {
	if err := s.workflow.Reset(ctx, id); err != nil {
		return err
	}
	return s.ProcessJob(ctx, id)
}

// GetJobDetails returns the job with its edit overrides and latest log.
func (s *Service) GetJobDetails(ctx context.Context, id int64) (*domain.JobDetails, error) {
	job, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	meta, err := s.store.Metadata(ctx, id)
	if err != nil {
		return nil, err
	}
	transcript, err := s.store.Transcript(ctx, id)
	if err != nil {
		return nil, err
	}
	log, err := s.store.LatestLog(ctx, id)
	if err != nil {
		return nil, err
	}
	return &domain.JobDetails{
		Job:        *job,
		Metadata:   meta,
		Transcript: transcript,
		LatestLog:  log,
	}, nil
}

func (s *Service) UpdateMetadata(ctx context.Context, id int64, m domain.EditedMetadata) error {
	return s.workflow.UpdateMetadata(ctx, id, m)
}

func (s *Service) UpdateTranscript(ctx context.Context, id int64, segs []domain.EditedSegment) error {
	return s.workflow.UpdateTranscript(ctx, id, segs)
}

// DeleteContent purges everything a job produced and marks it deleted.
func (s *Service) DeleteContent(ctx context.Context, id int64) error {
	return s.workflow.Purge(ctx, id)
}

// DeleteArchive purges all finished jobs and drops deleted job rows.
func (s *Service) DeleteArchive(ctx context.Context) (int64, error) {
	return s.workflow.PurgeArchive(ctx)
}

func (s *Service) GetLatestLog(ctx context.Context, id int64) (string, error) {
	return s.store.LatestLog(ctx, id)
}

func (s *Service) SaveLog(ctx context.Context, id int64, log string) error {
	return s.store.SaveLog(ctx, id, log)
}

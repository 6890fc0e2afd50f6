package domain

import "time"

// JobStatus is the coarse lifecycle status of an ingest job.
type JobStatus string

const (
	StatusPending   JobStatus = "pending"
	StatusRunning   JobStatus = "running"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
	StatusDeleted   JobStatus = "deleted"
)

// Valid reports whether s is one of the known statuses.
func (s JobStatus) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusDeleted:
		return true
	}
	return false
}

// Archived reports whether a job in this status is eligible for archive cleanup.
func (s JobStatus) Archived() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusDeleted
}

// WorkflowState is the fine-grained progress marker of a job.
type WorkflowState string

const (
	StatePending         WorkflowState = "pending"
	StateFetchingHTML    WorkflowState = "fetching_html"
	StateHTMLFetched     WorkflowState = "html_fetched"
	StateEditingMetadata WorkflowState = "editing_metadata"
	StateFetchingVideo   WorkflowState = "fetching_video"
	StateVideoFetched    WorkflowState = "video_fetched"
	StateGeneratingClips WorkflowState = "generating_clips"
	StateCompleted       WorkflowState = "completed"
	StateFailed          WorkflowState = "failed"
)

// workflowOrder ranks the non-failed states. failed sits outside the order.
var workflowOrder = map[WorkflowState]int{
	StatePending:         0,
	StateFetchingHTML:    1,
	StateHTMLFetched:     2,
	StateEditingMetadata: 3,
	StateFetchingVideo:   4,
	StateVideoFetched:    5,
	StateGeneratingClips: 6,
	StateCompleted:       7,
}

// Valid reports whether s is a known workflow state.
func (s WorkflowState) Valid() bool {
	if s == StateFailed {
		return true
	}
	_, ok := workflowOrder[s]
	return ok
}

// Running reports whether s is an intermediate state (the job has started but not finished).
func (s WorkflowState) Running() bool {
	rank, ok := workflowOrder[s]
	return ok && rank > 0 && s != StateCompleted
}

// Terminal reports whether s ends the workflow.
func (s WorkflowState) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// CanAdvance reports whether moving from one state to another keeps the recorded
// sequence non-decreasing. Any state may move into failed; nothing leaves failed
// except failed itself.
func CanAdvance(from, to WorkflowState) bool {
	if !to.Valid() {
		return false
	}
	if to == StateFailed {
		return true
	}
	if from == StateFailed {
		return false
	}
	fromRank, ok := workflowOrder[from]
	if !ok {
		// Unknown or empty stored state: treat as pending.
		fromRank = 0
	}
	return workflowOrder[to] >= fromRank
}

// DeriveStatus maps a workflow state to its coarse job status.
func DeriveStatus(state WorkflowState) JobStatus {
	switch {
	case state == StateFailed:
		return StatusFailed
	case state == StateCompleted:
		return StatusCompleted
	case state.Running():
		return StatusRunning
	default:
		return StatusPending
	}
}

// Job is a single URL submitted for ingestion and its recorded progress.
type Job struct {
	ID            int64         `json:"id"`
	URL           string        `json:"url"`
	Status        JobStatus     `json:"status"`
	WorkflowState WorkflowState `json:"workflow_state"`
	CreatedAt     time.Time     `json:"created_at"`
	StartedAt     *time.Time    `json:"started_at,omitempty"`
	CompletedAt   *time.Time    `json:"completed_at,omitempty"`
	ErrorMessage  string        `json:"error_message,omitempty"`
	UserEmail     string        `json:"user_email"`

	HTMLFetchedAt      *time.Time `json:"html_fetched_at,omitempty"`
	VideoFetchedAt     *time.Time `json:"video_fetched_at,omitempty"`
	MetadataEditedAt   *time.Time `json:"metadata_edited_at,omitempty"`
	TranscriptEditedAt *time.Time `json:"transcript_edited_at,omitempty"`
}

// EditedMetadata holds human corrections to the extracted page metadata.
// At most one row exists per job.
type EditedMetadata struct {
	JobID     int64     `json:"job_id"`
	Title     string    `json:"title"`
	Date      string    `json:"date"`
	YoutubeID string    `json:"youtube_id"`
	Source    string    `json:"source"`
	CreatedAt time.Time `json:"created_at"`
}

// EditedSegment is one row of a human-supplied replacement transcript.
type EditedSegment struct {
	SegmentHash string    `json:"segment_hash"`
	Text        string    `json:"text"`
	Speaker     string    `json:"speaker"`
	Company     string    `json:"company"`
	StartTime   int       `json:"start_time"`
	EndTime     int       `json:"end_time"`
	Subjects    []string  `json:"subjects"`
	CreatedAt   time.Time `json:"created_at"`
}

// JobDetails is the review view of a job: the job row, its edit overrides and its last log.
type JobDetails struct {
	Job        Job             `json:"job"`
	Metadata   *EditedMetadata `json:"metadata"`
	Transcript []EditedSegment `json:"transcript"`
	LatestLog  string          `json:"latest_log"`
}

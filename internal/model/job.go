package model

import "time"

// JobStatus is the pipeline state of a job
type JobStatus string

const (
	JobStatusPending         JobStatus = "pending"
	JobStatusProcessing      JobStatus = "processing"
	JobStatusExtractingAudio JobStatus = "extracting_audio"
	JobStatusTranscribing    JobStatus = "transcribing"
	JobStatusAwaitingReview  JobStatus = "awaiting_review"
	JobStatusCompleted       JobStatus = "completed"
	JobStatusFailed          JobStatus = "failed"
)

var ValidJobStatuses = []JobStatus{
	JobStatusPending, JobStatusProcessing, JobStatusExtractingAudio, JobStatusTranscribing,
	JobStatusAwaitingReview, JobStatusCompleted, JobStatusFailed,
}

// Job is one video-to-document processing run
type Job struct {
	ID               string    `json:"id"`
	Status           JobStatus `json:"status"`
	SourceFilePath   string    `json:"sourceFilePath"`
	OriginalFilename string    `json:"originalFilename"`
	Title            string    `json:"title"`
	CategoryID       *string   `json:"categoryId,omitempty"`
	DocumentID       *string   `json:"documentId,omitempty"` // existing document to re-attach
	TrimStart        float64   `json:"trimStart"`
	TrimEnd          *float64  `json:"trimEnd,omitempty"`
	ProgressPercent  *int      `json:"progressPercent,omitempty"`
	ProgressMessage  string    `json:"progressMessage,omitempty"`
	ErrorMessage     string    `json:"errorMessage,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// IsTerminal reports whether no pipeline stage will run for the job again
// without an external trigger.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Valid reports whether s is a known status value.
func (s JobStatus) Valid() bool {
	for _, v := range ValidJobStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// CanTransition enforces the job state graph. Self transitions are allowed
// for transcribing (progress updates) and completed (re-finalize).
func CanTransition(from, to JobStatus) bool {
	if to == JobStatusFailed {
		return from != JobStatusFailed
	}

	switch from {
	case JobStatusPending:
		return to == JobStatusProcessing
	case JobStatusProcessing:
		return to == JobStatusExtractingAudio
	case JobStatusExtractingAudio:
		return to == JobStatusTranscribing
	case JobStatusTranscribing:
		return to == JobStatusTranscribing || to == JobStatusAwaitingReview
	case JobStatusAwaitingReview:
		return to == JobStatusCompleted
	case JobStatusCompleted:
		return to == JobStatusCompleted
	default:
		return false
	}
}

// AcceptsReview reports whether segments of a job in this state may be edited.
func (s JobStatus) AcceptsReview() bool {
	return s == JobStatusAwaitingReview || s == JobStatusCompleted
}

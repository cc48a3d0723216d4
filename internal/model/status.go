package model

// Status payload kinds
const (
	StatusKindProgress = "progress"
	StatusKindFailure  = "failure"
)

// Progress is transient progress of a non-failed job
type Progress struct {
	Percent *int   `json:"percent,omitempty"`
	Message string `json:"message"`
}

// Failure is the fatal reason of a failed job
type Failure struct {
	Reason string `json:"reason"`
}

// StatusReport is the poll-friendly view of a job. Exactly one of Progress
// or Failure is set.
type StatusReport struct {
	JobID      string    `json:"jobId"`
	Status     JobStatus `json:"status"`
	Progress   *Progress `json:"progress,omitempty"`
	Failure    *Failure  `json:"failure,omitempty"`
	DocumentID *string   `json:"documentId,omitempty"`
}

// Message returns the failure reason or the progress message.
func (r StatusReport) Message() string {
	if r.Failure != nil {
		return r.Failure.Reason
	}
	if r.Progress != nil {
		return r.Progress.Message
	}
	return ""
}

package service

import (
	"context"
	"fmt"

	"github.com/stepdocs/api/internal/model"
	"github.com/stepdocs/api/internal/store"
)

// StatusService maps job state to the poll payload
type StatusService struct {
	store *store.Store
}

func NewStatusService(st *store.Store) *StatusService {
	return &StatusService{store: st}
}

// GetStatus is a pure read of the job row.
func (s *StatusService) GetStatus(ctx context.Context, jobID string) (*model.StatusReport, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return ReportFor(job), nil
}

// ReportFor builds the tagged status of a job.
func ReportFor(job *model.Job) *model.StatusReport {
	report := &model.StatusReport{JobID: job.ID, Status: job.Status}

	if job.Status == model.JobStatusFailed {
		reason := job.ErrorMessage
		if reason == "" {
			reason = "unknown error"
		}
		report.Failure = &model.Failure{Reason: reason}
		return report
	}

	report.Progress = &model.Progress{Percent: job.ProgressPercent, Message: job.ProgressMessage}
	if job.Status == model.JobStatusAwaitingReview || job.Status == model.JobStatusCompleted {
		report.DocumentID = job.DocumentID
	}
	return report
}

// NewStatusResponse renders a report in the REST shape. The legacy error
// field carries the failure reason, or "<message> (<percent>%)" progress text.
func NewStatusResponse(r *model.StatusReport) model.StatusResponse {
	resp := model.StatusResponse{
		Status:          r.Status,
		DocumentationID: r.DocumentID,
		Progress:        r.Progress,
		Failure:         r.Failure,
	}

	var legacy string
	switch {
	case r.Failure != nil:
		resp.Kind = model.StatusKindFailure
		legacy = r.Failure.Reason
	case r.Progress != nil:
		resp.Kind = model.StatusKindProgress
		legacy = r.Progress.Message
		if legacy != "" && r.Progress.Percent != nil {
			legacy = fmt.Sprintf("%s (%d%%)", legacy, *r.Progress.Percent)
		}
	}
	if legacy != "" {
		resp.Error = &legacy
	}
	return resp
}

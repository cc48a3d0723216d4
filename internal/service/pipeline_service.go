package service

import (
	"context"
	"errors"
	"log"
	"strings"

	"github.com/google/uuid"

	"github.com/stepdocs/api/internal/media"
	"github.com/stepdocs/api/internal/model"
	"github.com/stepdocs/api/internal/store"
)

// Error codes pushed to subscribers on failure
const (
	CodeExtractionFailed    = "EXTRACTION_FAILED"
	CodeTranscriptionFailed = "TRANSCRIPTION_FAILED"
	CodeFinalizeFailed      = "FINALIZE_FAILED"
	CodeCancelled           = "CANCELLED"
	CodePipelineFailed      = "PIPELINE_FAILED"
)

const interruptedReason = "interrupted by restart"

// PipelineService runs a job from upload to awaiting_review
type PipelineService struct {
	store       *store.Store
	extractor   AudioExtractor
	transcriber Transcriber
	paths       Paths
	runs        *RunRegistry
	notifier    Notifier
}

// NewPipelineService creates a new pipeline service
func NewPipelineService(st *store.Store, extractor AudioExtractor, transcriber Transcriber, paths Paths, runs *RunRegistry, notifier Notifier) *PipelineService {
	return &PipelineService{
		store:       st,
		extractor:   extractor,
		transcriber: transcriber,
		paths:       paths,
		runs:        runs,
		notifier:    notifierOrNoop(notifier),
	}
}

// Run executes extraction and transcription for a pending job. Any stage
// failure marks the job failed; no stage is retried.
func (s *PipelineService) Run(ctx context.Context, jobID string) error {
	ctx, done := s.runs.Start(ctx, jobID)
	defer done()

	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}

	if _, err := s.advance(ctx, jobID, model.JobStatusProcessing, 0, "Processing upload"); err != nil {
		if errors.Is(err, model.ErrInvalidTransition) {
			// Cancelled or already handled while queued.
			log.Printf("Pipeline [%s]: skipping job in status %s", jobID, job.Status)
			return nil
		}
		return s.failJob(ctx, jobID, err)
	}

	if _, err := s.advance(ctx, jobID, model.JobStatusExtractingAudio, 5, "Extracting audio"); err != nil {
		return s.failJob(ctx, jobID, err)
	}

	window := media.Window{Start: job.TrimStart, End: job.TrimEnd}
	audioPath, err := s.extractor.ExtractAudio(ctx, job.SourceFilePath, s.paths.AudioPath(jobID), window)
	if err != nil {
		return s.failJob(ctx, jobID, err)
	}

	if _, err := s.advance(ctx, jobID, model.JobStatusTranscribing, 0, "Starting transcription"); err != nil {
		return s.failJob(ctx, jobID, err)
	}

	transcript, err := s.transcriber.Transcribe(ctx, audioPath, jobID, func(percent int, message string) {
		if _, err := s.advance(ctx, jobID, model.JobStatusTranscribing, percent, message); err != nil {
			log.Printf("Pipeline [%s]: progress update dropped: %v", jobID, err)
		}
	})
	if err != nil {
		return s.failJob(ctx, jobID, err)
	}
	if err := context.Cause(ctx); err != nil {
		return s.failJob(ctx, jobID, err)
	}

	segments := transcriptSegments(transcript)
	doc := &model.Document{Title: job.Title, CategoryID: job.CategoryID}
	if job.DocumentID != nil {
		doc.ID = *job.DocumentID
	} else {
		doc.ID = uuid.NewString()
	}

	upd := store.JobUpdate{ProgressPercent: intPtr(100), ProgressMessage: strPtr("Ready for review")}
	job, err = s.store.CompleteTranscription(ctx, jobID, segments, doc, upd)
	if err != nil {
		return s.failJob(ctx, jobID, err)
	}

	log.Printf("Pipeline [%s]: %d segments ready for review", jobID, len(segments))
	s.notifier.BroadcastComplete(jobID, job.Status, doc.ID)
	return nil
}

// Cancel stops a job that has not reached awaiting_review. The job ends
// failed with reason "cancelled".
func (s *PipelineService) Cancel(ctx context.Context, jobID string) (*model.Job, error) {
	job, err := s.store.CancelJob(ctx, jobID, model.ErrCancelled.Error())
	if err != nil {
		return nil, err
	}

	// The run sees the failed row and stops without recording anything.
	wasRunning := s.runs.Cancel(jobID)

	log.Printf("Pipeline [%s]: cancelled (running=%v)", jobID, wasRunning)
	s.notifier.BroadcastError(jobID, CodeCancelled, model.ErrCancelled.Error())
	return job, nil
}

// FailInterrupted fails jobs a previous process left mid-stage. No retry
// is ever scheduled for them, so they would otherwise never settle.
func (s *PipelineService) FailInterrupted(ctx context.Context) (int, error) {
	stuck, err := s.store.ListJobsByStatus(ctx,
		model.JobStatusProcessing,
		model.JobStatusExtractingAudio,
		model.JobStatusTranscribing,
	)
	if err != nil {
		return 0, err
	}

	failed := 0
	for _, job := range stuck {
		_, err := s.store.TransitionJob(ctx, job.ID, model.JobStatusFailed, store.JobUpdate{
			ErrorMessage: strPtr(interruptedReason),
		})
		if errors.Is(err, model.ErrInvalidTransition) {
			continue
		}
		if err != nil {
			return failed, err
		}
		failed++
		log.Printf("Pipeline [%s]: %s while %s", job.ID, interruptedReason, job.Status)
	}
	return failed, nil
}

// PendingJobs returns the ids of jobs still waiting for their first run,
// oldest first.
func (s *PipelineService) PendingJobs(ctx context.Context) ([]string, error) {
	pending, err := s.store.ListJobsByStatus(ctx, model.JobStatusPending)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(pending))
	for _, job := range pending {
		ids = append(ids, job.ID)
	}
	return ids, nil
}

func (s *PipelineService) advance(ctx context.Context, jobID string, to model.JobStatus, percent int, message string) (*model.Job, error) {
	job, err := s.store.TransitionJob(ctx, jobID, to, store.JobUpdate{
		ProgressPercent: intPtr(percent),
		ProgressMessage: strPtr(message),
	})
	if err != nil {
		return nil, err
	}
	s.notifier.BroadcastProgress(jobID, to, job.ProgressPercent, message)
	return job, nil
}

// failJob records cause on the job and returns it. The write uses a fresh
// context since ctx may be the reason for failing.
func (s *PipelineService) failJob(ctx context.Context, jobID string, cause error) error {
	reason, code := failureReason(ctx, cause)

	_, err := s.store.TransitionJob(context.WithoutCancel(ctx), jobID, model.JobStatusFailed, store.JobUpdate{
		ErrorMessage: &reason,
	})
	switch {
	case errors.Is(err, model.ErrInvalidTransition):
		// Already failed, e.g. by Cancel.
	case err != nil:
		log.Printf("Pipeline [%s]: failed to mark job as failed: %v", jobID, err)
	default:
		log.Printf("Pipeline [%s]: failed: %v", jobID, cause)
		s.notifier.BroadcastError(jobID, code, reason)
	}
	return cause
}

func failureReason(ctx context.Context, cause error) (string, string) {
	if errors.Is(context.Cause(ctx), model.ErrCancelled) || errors.Is(cause, model.ErrCancelled) {
		return model.ErrCancelled.Error(), CodeCancelled
	}

	var stageErr *model.StageError
	if errors.As(cause, &stageErr) {
		reason := stageErr.Message
		if tail := lastLine(stageErr.Stderr); tail != "" {
			reason += ": " + tail
		}
		switch {
		case errors.Is(cause, model.ErrExtractionFailed):
			return reason, CodeExtractionFailed
		case errors.Is(cause, model.ErrTranscriptionFailed):
			return reason, CodeTranscriptionFailed
		}
		return reason, CodePipelineFailed
	}
	return cause.Error(), CodePipelineFailed
}

// transcriptSegments applies the empty-transcript rule: a transcript with
// text but no segments becomes a single segment at 0.
func transcriptSegments(t *model.Transcript) []model.TranscriptSegment {
	if len(t.Segments) == 0 && strings.TrimSpace(t.Text) != "" {
		return []model.TranscriptSegment{{Start: 0, End: 0, Text: strings.TrimSpace(t.Text)}}
	}
	return t.Segments
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}

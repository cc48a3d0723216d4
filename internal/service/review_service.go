package service

import (
	"context"
	"fmt"
	"log"

	"github.com/stepdocs/api/internal/model"
	"github.com/stepdocs/api/internal/store"
)

// ReviewService is the review buffer between transcription and finalize
type ReviewService struct {
	store      *store.Store
	locks      *JobLocks
	dispatcher Dispatcher
	paths      Paths
}

// NewReviewService creates a new review service
func NewReviewService(st *store.Store, locks *JobLocks, dispatcher Dispatcher, paths Paths) *ReviewService {
	return &ReviewService{store: st, locks: locks, dispatcher: dispatcher, paths: paths}
}

// ListSegments returns a job's segments ordered by segment index
func (s *ReviewService) ListSegments(ctx context.Context, jobID string) ([]model.Segment, error) {
	return s.store.ListSegments(ctx, jobID)
}

// ReplaceSegments stores the reviewer's authoritative segment set and
// schedules a finalize run.
func (s *ReviewService) ReplaceSegments(ctx context.Context, jobID string, inputs []model.SegmentInput) ([]model.Segment, error) {
	unlock, err := s.locks.Lock(ctx, jobID)
	if err != nil {
		return nil, err
	}

	// Paths already stored on the job were checked when they were set.
	stored, err := s.store.ListSegments(ctx, jobID)
	if err != nil {
		unlock()
		return nil, err
	}
	known := make(map[string]bool, len(stored))
	for _, seg := range stored {
		if seg.ScreenshotPath != nil {
			known[*seg.ScreenshotPath] = true
		}
	}
	for i, in := range inputs {
		if err := s.checkInput(in, known); err != nil {
			unlock()
			return nil, fmt.Errorf("%w: segment %d: %v", model.ErrInvalidInput, i, err)
		}
	}

	segments, err := s.store.ReplaceSegments(ctx, jobID, inputs)
	unlock()
	if err != nil {
		return nil, err
	}

	if err := s.dispatcher.DispatchFinalize(ctx, jobID); err != nil {
		return nil, fmt.Errorf("schedule finalize: %w", err)
	}

	log.Printf("Review [%s]: replaced %d segments, finalize scheduled", jobID, len(segments))
	return segments, nil
}

// AppendSegment adds one segment after the existing ones. It does not
// trigger finalize.
func (s *ReviewService) AppendSegment(ctx context.Context, jobID string, in model.SegmentInput) (*model.Segment, error) {
	if err := s.checkInput(in, nil); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrInvalidInput, err)
	}

	unlock, err := s.locks.Lock(ctx, jobID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	return s.store.AppendSegment(ctx, jobID, in)
}

// SetScreenshot sets or clears the screenshot of one segment. An empty or
// nil path clears it.
func (s *ReviewService) SetScreenshot(ctx context.Context, jobID, segmentID string, path *string) (*model.Segment, error) {
	if path != nil && *path == "" {
		path = nil
	}
	if path != nil {
		if err := s.paths.checkImage(*path); err != nil {
			return nil, fmt.Errorf("%w: %v", model.ErrInvalidInput, err)
		}
	}

	unlock, err := s.locks.Lock(ctx, jobID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	return s.store.SetScreenshot(ctx, jobID, segmentID, path)
}

// checkInput validates one segment; screenshot paths in known are accepted
// without a filesystem check.
func (s *ReviewService) checkInput(in model.SegmentInput, known map[string]bool) error {
	if in.StartTime < 0 || in.EndTime < in.StartTime {
		return fmt.Errorf("invalid time range %.3f-%.3f", in.StartTime, in.EndTime)
	}
	if in.ScreenshotPath != nil && *in.ScreenshotPath != "" && !known[*in.ScreenshotPath] {
		return s.paths.checkImage(*in.ScreenshotPath)
	}
	return nil
}

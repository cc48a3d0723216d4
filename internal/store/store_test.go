package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/uuid"

	"github.com/stepdocs/api/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(filepath.Join(t.TempDir(), "test.sqlite"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func createJob(t *testing.T, s *Store, status model.JobStatus) *model.Job {
	t.Helper()

	job := &model.Job{
		ID:               uuid.NewString(),
		Status:           status,
		SourceFilePath:   "uploads/x/original/video.mp4",
		OriginalFilename: "video.mp4",
		Title:            "video",
	}
	if err := s.CreateJob(context.Background(), job); err != nil {
		t.Fatalf("create job: %v", err)
	}
	return job
}

// reviewJob creates a job in awaiting_review with the given transcript.
func reviewJob(t *testing.T, s *Store, segs ...model.TranscriptSegment) *model.Job {
	t.Helper()

	job := createJob(t, s, model.JobStatusTranscribing)
	doc := &model.Document{ID: uuid.NewString(), Title: job.Title}
	job, err := s.CompleteTranscription(context.Background(), job.ID, segs, doc, JobUpdate{})
	if err != nil {
		t.Fatalf("complete transcription: %v", err)
	}
	return job
}

func strPtr(s string) *string { return &s }

func TestCreateAndGetJob(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	end := 42.5
	job := &model.Job{
		ID:               uuid.NewString(),
		SourceFilePath:   "uploads/a/original/a.mp4",
		OriginalFilename: "a.mp4",
		Title:            "Setup guide",
		CategoryID:       strPtr("cat-1"),
		TrimStart:        5,
		TrimEnd:          &end,
	}
	if err := s.CreateJob(ctx, job); err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}

	got, err := s.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob() error = %v", err)
	}
	if got.Status != model.JobStatusPending {
		t.Errorf("status = %s, want pending", got.Status)
	}
	if got.TrimEnd == nil || *got.TrimEnd != 42.5 || got.TrimStart != 5 {
		t.Errorf("trim = %v/%v", got.TrimStart, got.TrimEnd)
	}
	if got.CategoryID == nil || *got.CategoryID != "cat-1" {
		t.Errorf("category = %v", got.CategoryID)
	}

	if _, err := s.GetJob(ctx, "missing"); !errors.Is(err, model.ErrJobNotFound) {
		t.Errorf("GetJob(missing) error = %v, want ErrJobNotFound", err)
	}
}

func TestTransitionJob(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	job := createJob(t, s, model.JobStatusPending)

	if _, err := s.TransitionJob(ctx, job.ID, model.JobStatusProcessing, JobUpdate{}); err != nil {
		t.Fatalf("pending -> processing: %v", err)
	}

	if _, err := s.TransitionJob(ctx, job.ID, model.JobStatusAwaitingReview, JobUpdate{}); !errors.Is(err, model.ErrInvalidTransition) {
		t.Fatalf("processing -> awaiting_review error = %v, want ErrInvalidTransition", err)
	}

	reason := "boom"
	got, err := s.TransitionJob(ctx, job.ID, model.JobStatusFailed, JobUpdate{ErrorMessage: &reason})
	if err != nil {
		t.Fatalf("processing -> failed: %v", err)
	}
	if got.ErrorMessage != "boom" {
		t.Errorf("error message = %q", got.ErrorMessage)
	}

	// A late progress event cannot overwrite the terminal status.
	p := 50
	_, err = s.TransitionJob(ctx, job.ID, model.JobStatusTranscribing, JobUpdate{ProgressPercent: &p})
	if !errors.Is(err, model.ErrInvalidTransition) {
		t.Fatalf("failed -> transcribing error = %v, want ErrInvalidTransition", err)
	}
	stored, _ := s.GetJob(ctx, job.ID)
	if stored.Status != model.JobStatusFailed || stored.ProgressPercent != nil {
		t.Errorf("stored job = %+v", stored)
	}
}

func TestCompleteTranscription(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	job := reviewJob(t, s,
		model.TranscriptSegment{Start: 0, End: 10, Text: "intro"},
		model.TranscriptSegment{Start: 10, End: 30, Text: "steps"},
	)

	if job.Status != model.JobStatusAwaitingReview {
		t.Fatalf("status = %s", job.Status)
	}

	segs, err := s.ListSegments(ctx, job.ID)
	if err != nil {
		t.Fatalf("ListSegments() error = %v", err)
	}
	if len(segs) != 2 {
		t.Fatalf("got %d segments, want 2", len(segs))
	}
	for i, seg := range segs {
		if seg.SegmentIndex != i || !seg.NeedsReview {
			t.Errorf("segment %d = %+v", i, seg)
		}
	}

	doc, err := s.GetDocumentByJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetDocumentByJob() error = %v", err)
	}
	if job.DocumentID == nil || *job.DocumentID != doc.ID {
		t.Errorf("job document id = %v, want %s", job.DocumentID, doc.ID)
	}
}

func TestCompleteTranscriptionReattachesDocument(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first := reviewJob(t, s, model.TranscriptSegment{Start: 0, End: 1, Text: "old"})
	docID := *first.DocumentID

	second := createJob(t, s, model.JobStatusTranscribing)
	doc := &model.Document{ID: docID}
	if _, err := s.CompleteTranscription(ctx, second.ID, nil, doc, JobUpdate{}); err != nil {
		t.Fatalf("re-attach: %v", err)
	}

	got, err := s.GetDocumentByJob(ctx, second.ID)
	if err != nil {
		t.Fatalf("GetDocumentByJob() error = %v", err)
	}
	if got.ID != docID || got.Title != "video" {
		t.Errorf("document = %+v", got)
	}
	if _, err := s.GetDocumentByJob(ctx, first.ID); !errors.Is(err, model.ErrDocumentNotFound) {
		t.Errorf("old job still owns the document: %v", err)
	}
}

func TestReplaceSegmentsRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	job := reviewJob(t, s,
		model.TranscriptSegment{Start: 0, End: 5, Text: "a"},
		model.TranscriptSegment{Start: 5, End: 9, Text: "b"},
		model.TranscriptSegment{Start: 9, End: 12, Text: "c"},
		model.TranscriptSegment{Start: 12, End: 20, Text: "d"},
	)
	before, _ := s.ListSegments(ctx, job.ID)

	one := 1
	inputs := []model.SegmentInput{
		{ID: &before[2].ID, Text: "c edited", StartTime: 9, EndTime: 12},
		{Text: "new", StartTime: 1, EndTime: 2, Title: strPtr("Added")},
		{ID: &before[0].ID, Text: "a", StartTime: 0, EndTime: 5, Order: &one},
	}

	if _, err := s.ReplaceSegments(ctx, job.ID, inputs); err != nil {
		t.Fatalf("ReplaceSegments() error = %v", err)
	}

	got, err := s.ListSegments(ctx, job.ID)
	if err != nil {
		t.Fatalf("ListSegments() error = %v", err)
	}
	if len(got) != len(inputs) {
		t.Fatalf("got %d segments, want %d", len(got), len(inputs))
	}
	for i, in := range inputs {
		seg := got[i]
		if seg.SegmentIndex != i || seg.Text != in.Text || seg.StartTime != in.StartTime || seg.EndTime != in.EndTime {
			t.Errorf("segment %d = %+v, want input %+v", i, seg, in)
		}
		if seg.NeedsReview {
			t.Errorf("segment %d still needs review", i)
		}
	}
	if got[0].ID != before[2].ID || got[2].ID != before[0].ID {
		t.Errorf("known ids not preserved: %s %s", got[0].ID, got[2].ID)
	}
	if got[2].Order == nil || *got[2].Order != 1 {
		t.Errorf("order = %v, want 1", got[2].Order)
	}
	if got[1].Title == nil || *got[1].Title != "Added" {
		t.Errorf("title = %v", got[1].Title)
	}
}

func TestReplaceSegmentsScreenshotSemantics(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	job := reviewJob(t, s,
		model.TranscriptSegment{Start: 0, End: 5, Text: "a"},
		model.TranscriptSegment{Start: 5, End: 9, Text: "b"},
	)
	segs, _ := s.ListSegments(ctx, job.ID)
	for _, seg := range segs {
		if _, err := s.SetScreenshot(ctx, job.ID, seg.ID, strPtr("/img/x/"+seg.Text+".jpg")); err != nil {
			t.Fatalf("SetScreenshot() error = %v", err)
		}
	}

	// nil keeps the stored path, empty string clears it.
	_, err := s.ReplaceSegments(ctx, job.ID, []model.SegmentInput{
		{ID: &segs[0].ID, Text: "a", StartTime: 0, EndTime: 5},
		{ID: &segs[1].ID, Text: "b", StartTime: 5, EndTime: 9, ScreenshotPath: strPtr("")},
	})
	if err != nil {
		t.Fatalf("ReplaceSegments() error = %v", err)
	}

	got, _ := s.ListSegments(ctx, job.ID)
	if got[0].ScreenshotPath == nil || *got[0].ScreenshotPath != "/img/x/a.jpg" {
		t.Errorf("kept screenshot = %v", got[0].ScreenshotPath)
	}
	if got[1].ScreenshotPath != nil {
		t.Errorf("cleared screenshot = %v", *got[1].ScreenshotPath)
	}
}

func TestReplaceSegmentsRejectsNonReviewableJob(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for _, status := range []model.JobStatus{model.JobStatusTranscribing, model.JobStatusFailed} {
		job := createJob(t, s, status)
		_, err := s.ReplaceSegments(ctx, job.ID, []model.SegmentInput{{Text: "x"}})
		if !errors.Is(err, model.ErrInvalidState) {
			t.Errorf("%s: error = %v, want ErrInvalidState", status, err)
		}
	}

	if _, err := s.ReplaceSegments(ctx, "missing", nil); !errors.Is(err, model.ErrJobNotFound) {
		t.Errorf("missing job error = %v, want ErrJobNotFound", err)
	}
}

func TestReplaceSegmentsEmptySet(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	job := reviewJob(t, s, model.TranscriptSegment{Start: 0, End: 5, Text: "a"})

	if _, err := s.ReplaceSegments(ctx, job.ID, nil); err != nil {
		t.Fatalf("ReplaceSegments() error = %v", err)
	}
	got, _ := s.ListSegments(ctx, job.ID)
	if len(got) != 0 {
		t.Fatalf("got %d segments, want 0", len(got))
	}
}

func TestAppendSegment(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	job := reviewJob(t, s,
		model.TranscriptSegment{Start: 0, End: 5, Text: "a"},
		model.TranscriptSegment{Start: 5, End: 9, Text: "b"},
	)

	seg, err := s.AppendSegment(ctx, job.ID, model.SegmentInput{Text: "c", StartTime: 9, EndTime: 11})
	if err != nil {
		t.Fatalf("AppendSegment() error = %v", err)
	}
	if seg.SegmentIndex != 2 {
		t.Errorf("index = %d, want 2", seg.SegmentIndex)
	}

	got, _ := s.ListSegments(ctx, job.ID)
	if len(got) != 3 || got[2].ID != seg.ID || got[0].Text != "a" {
		t.Fatalf("segments = %+v", got)
	}
}

func TestSetScreenshotUnknownSegment(t *testing.T) {
	s := openTestStore(t)
	job := reviewJob(t, s, model.TranscriptSegment{Start: 0, End: 5, Text: "a"})

	_, err := s.SetScreenshot(context.Background(), job.ID, "nope", strPtr("/img/x.jpg"))
	if !errors.Is(err, model.ErrSegmentNotFound) {
		t.Fatalf("error = %v, want ErrSegmentNotFound", err)
	}
}

func TestCompleteFinalize(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	job := reviewJob(t, s, model.TranscriptSegment{Start: 0, End: 5, Text: "a"})

	for i := 0; i < 2; i++ {
		got, err := s.CompleteFinalize(ctx, job.ID, "docs/generated/"+job.ID+"/index.md", JobUpdate{})
		if err != nil {
			t.Fatalf("run %d: CompleteFinalize() error = %v", i, err)
		}
		if got.Status != model.JobStatusCompleted {
			t.Fatalf("run %d: status = %s", i, got.Status)
		}
	}

	doc, _ := s.GetDocumentByJob(ctx, job.ID)
	if doc.Content != "docs/generated/"+job.ID+"/index.md" {
		t.Errorf("content = %q", doc.Content)
	}
}

func TestListJobsByStatus(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	a := createJob(t, s, model.JobStatusTranscribing)
	createJob(t, s, model.JobStatusCompleted)
	b := createJob(t, s, model.JobStatusProcessing)

	got, err := s.ListJobsByStatus(ctx, model.JobStatusProcessing, model.JobStatusTranscribing)
	if err != nil {
		t.Fatalf("ListJobsByStatus() error = %v", err)
	}
	ids := map[string]bool{}
	for _, j := range got {
		ids[j.ID] = true
	}
	if len(got) != 2 || !ids[a.ID] || !ids[b.ID] {
		t.Fatalf("jobs = %+v", got)
	}
}

func TestCreateJobRejectsUnknownStatus(t *testing.T) {
	s := openTestStore(t)

	job := &model.Job{ID: uuid.NewString(), Status: "archived", Title: "x"}
	if err := s.CreateJob(context.Background(), job); !errors.Is(err, model.ErrInvalidInput) {
		t.Fatalf("CreateJob() error = %v, want ErrInvalidInput", err)
	}
	if _, err := s.GetJob(context.Background(), job.ID); !errors.Is(err, model.ErrJobNotFound) {
		t.Errorf("job was stored: %v", err)
	}
}

func TestCancelJob(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for _, status := range []model.JobStatus{model.JobStatusPending, model.JobStatusTranscribing} {
		job := createJob(t, s, status)
		got, err := s.CancelJob(ctx, job.ID, "cancelled")
		if err != nil {
			t.Fatalf("CancelJob(%s) error = %v", status, err)
		}
		if got.Status != model.JobStatusFailed || got.ErrorMessage != "cancelled" {
			t.Errorf("CancelJob(%s) = %+v", status, got)
		}
	}

	if _, err := s.CancelJob(ctx, "missing", "cancelled"); !errors.Is(err, model.ErrJobNotFound) {
		t.Errorf("missing job error = %v", err)
	}
}

func TestCancelJobLeavesReviewableJob(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	reviewed := reviewJob(t, s, model.TranscriptSegment{Start: 0, End: 1, Text: "a"})
	if _, err := s.CancelJob(ctx, reviewed.ID, "cancelled"); !errors.Is(err, model.ErrInvalidState) {
		t.Fatalf("CancelJob() error = %v, want ErrInvalidState", err)
	}

	got, err := s.GetJob(ctx, reviewed.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != model.JobStatusAwaitingReview {
		t.Errorf("status = %s, want awaiting_review", got.Status)
	}
	if _, err := s.GetDocumentByJob(ctx, reviewed.ID); err != nil {
		t.Errorf("document gone: %v", err)
	}

	failed := createJob(t, s, model.JobStatusFailed)
	if _, err := s.CancelJob(ctx, failed.ID, "cancelled"); !errors.Is(err, model.ErrInvalidState) {
		t.Errorf("failed job error = %v, want ErrInvalidState", err)
	}
}

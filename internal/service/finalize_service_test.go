package service

import (
	"context"
	"errors"
	"os"
	"reflect"
	"strings"
	"testing"

	"github.com/stepdocs/api/internal/model"
)

func readArtifact(t *testing.T, env *testEnv, jobID string) string {
	t.Helper()
	data, err := os.ReadFile(env.paths.ArtifactPath(jobID))
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	return string(data)
}

func screenshotPaths(segs []model.Segment) []*string {
	out := make([]*string, len(segs))
	for i, s := range segs {
		out[i] = s.ScreenshotPath
	}
	return out
}

func TestFinalizeSkipsZeroStartSegments(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	job := env.reviewedJob(t, 0, model.TranscriptSegment{Start: 0, End: 1, Text: "placeholder"})

	_, err := env.review().ReplaceSegments(ctx, job.ID, []model.SegmentInput{
		{Text: "open settings", StartTime: 4, EndTime: 9},
		{Text: "intro", StartTime: 0, EndTime: 3},
		{Text: "save", StartTime: 12, EndTime: 15},
	})
	if err != nil {
		t.Fatalf("ReplaceSegments() error = %v", err)
	}
	if len(env.dispatcher.finalizes) != 1 {
		t.Fatalf("finalize dispatched %d times, want 1", len(env.dispatcher.finalizes))
	}

	if err := env.finalizer(nil).Finalize(ctx, job.ID); err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}

	if got := env.frames.captured(); !reflect.DeepEqual(got, []float64{4, 12}) {
		t.Errorf("captured timestamps = %v, want [4 12]", got)
	}

	segs, _ := env.store.ListSegments(ctx, job.ID)
	if segs[0].ScreenshotPath == nil || *segs[0].ScreenshotPath != "/img/"+job.ID+"/shot_000.jpg" {
		t.Errorf("segment 0 screenshot = %v", segs[0].ScreenshotPath)
	}
	if segs[1].ScreenshotPath != nil {
		t.Errorf("zero-start segment got screenshot %s", *segs[1].ScreenshotPath)
	}
	if segs[2].ScreenshotPath == nil || *segs[2].ScreenshotPath != "/img/"+job.ID+"/shot_002.jpg" {
		t.Errorf("segment 2 screenshot = %v", segs[2].ScreenshotPath)
	}
	if _, err := os.Stat(env.paths.ImageFile(job.ID, "shot_002.jpg")); err != nil {
		t.Errorf("static image missing: %v", err)
	}

	artifact := readArtifact(t, env, job.ID)
	if n := strings.Count(artifact, "\n### "); n != 3 {
		t.Errorf("artifact has %d subsections, want 3:\n%s", n, artifact)
	}

	got, _ := env.store.GetJob(ctx, job.ID)
	if got.Status != model.JobStatusCompleted {
		t.Errorf("status = %s, want completed", got.Status)
	}
	doc, _ := env.store.GetDocumentByJob(ctx, job.ID)
	if doc.Content != env.paths.ArtifactPath(job.ID) {
		t.Errorf("document content = %q", doc.Content)
	}
}

func TestFinalizeCaptureFailureDegradesOneSegment(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	job := env.reviewedJob(t, 0,
		model.TranscriptSegment{Start: 2, End: 4, Text: "a"},
		model.TranscriptSegment{Start: 4, End: 8, Text: "b"},
		model.TranscriptSegment{Start: 8, End: 9, Text: "c"},
	)
	env.frames.fail = map[int]bool{1: true}

	if err := env.finalizer(nil).Finalize(ctx, job.ID); err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}

	got, _ := env.store.GetJob(ctx, job.ID)
	if got.Status != model.JobStatusCompleted {
		t.Fatalf("status = %s, want completed", got.Status)
	}

	segs, _ := env.store.ListSegments(ctx, job.ID)
	var missing int
	for _, s := range segs {
		if s.ScreenshotPath == nil {
			missing++
		}
	}
	if missing != 1 || segs[1].ScreenshotPath != nil {
		t.Errorf("screenshots = %v, want only segment 1 empty", screenshotPaths(segs))
	}
}

func TestFinalizeIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	job := env.reviewedJob(t, 0,
		model.TranscriptSegment{Start: 0, End: 4, Text: "a"},
		model.TranscriptSegment{Start: 4, End: 8, Text: "b"},
	)
	fin := env.finalizer(nil)

	if err := fin.Finalize(ctx, job.ID); err != nil {
		t.Fatalf("first Finalize() error = %v", err)
	}
	first := readArtifact(t, env, job.ID)
	firstSegs, _ := env.store.ListSegments(ctx, job.ID)
	captures := len(env.frames.captured())

	if err := fin.Finalize(ctx, job.ID); err != nil {
		t.Fatalf("second Finalize() error = %v", err)
	}
	second := readArtifact(t, env, job.ID)
	secondSegs, _ := env.store.ListSegments(ctx, job.ID)

	if first != second {
		t.Errorf("artifact changed between runs:\n%s\n---\n%s", first, second)
	}
	if !reflect.DeepEqual(screenshotPaths(firstSegs), screenshotPaths(secondSegs)) {
		t.Errorf("screenshots changed: %v vs %v", screenshotPaths(firstSegs), screenshotPaths(secondSegs))
	}
	if n := len(env.frames.captured()); n != captures {
		t.Errorf("second run captured %d more frames", n-captures)
	}
}

func TestFinalizeOrderTakesPrecedence(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	job := env.reviewedJob(t, 0, model.TranscriptSegment{Start: 0, End: 1, Text: "x"})

	first, second := "First step", "Second step"
	zero, one := 0, 1
	_, err := env.review().ReplaceSegments(ctx, job.ID, []model.SegmentInput{
		{Title: &second, Text: "b", StartTime: 0, EndTime: 1, Order: &one},
		{Title: &first, Text: "a", StartTime: 0, EndTime: 1, Order: &zero},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := env.finalizer(nil).Finalize(ctx, job.ID); err != nil {
		t.Fatal(err)
	}

	artifact := readArtifact(t, env, job.ID)
	if strings.Index(artifact, "### First step") > strings.Index(artifact, "### Second step") {
		t.Errorf("order did not take precedence over segment index:\n%s", artifact)
	}

	// Listing stays in segment index order.
	segs, _ := env.store.ListSegments(ctx, job.ID)
	if *segs[0].Title != second {
		t.Errorf("ListSegments reordered: %s first", *segs[0].Title)
	}
}

func TestFinalizeAppliesTrimOffset(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	job := env.reviewedJob(t, 30, model.TranscriptSegment{Start: 5, End: 9, Text: "a"})

	if err := env.finalizer(nil).Finalize(ctx, job.ID); err != nil {
		t.Fatal(err)
	}

	if got := env.frames.captured(); !reflect.DeepEqual(got, []float64{35}) {
		t.Errorf("captured = %v, want [35]", got)
	}
	if artifact := readArtifact(t, env, job.ID); !strings.Contains(artifact, "### 00:35") {
		t.Errorf("heading not offset:\n%s", artifact)
	}
}

func TestFinalizeReplacesMissingAsset(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	job := env.reviewedJob(t, 0, model.TranscriptSegment{Start: 3, End: 6, Text: "a"})

	segs, _ := env.store.ListSegments(ctx, job.ID)
	gone := env.writeImage(t, job.ID, "custom.jpg")
	if _, err := env.store.SetScreenshot(ctx, job.ID, segs[0].ID, &gone); err != nil {
		t.Fatal(err)
	}
	os.Remove(env.paths.ImageFile(job.ID, "custom.jpg"))

	if err := env.finalizer(nil).Finalize(ctx, job.ID); err != nil {
		t.Fatal(err)
	}

	segs, _ = env.store.ListSegments(ctx, job.ID)
	if segs[0].ScreenshotPath == nil || *segs[0].ScreenshotPath != "/img/"+job.ID+"/shot_000.jpg" {
		t.Errorf("screenshot = %v, want recaptured shot_000", segs[0].ScreenshotPath)
	}
}

func TestFinalizeAvoidsNameCollision(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	job := env.reviewedJob(t, 0,
		model.TranscriptSegment{Start: 3, End: 6, Text: "a"},
		model.TranscriptSegment{Start: 6, End: 9, Text: "b"},
	)

	// Segment 0 reuses the name segment 1 would get.
	taken := env.writeImage(t, job.ID, "shot_001.jpg")
	segs, _ := env.store.ListSegments(ctx, job.ID)
	if _, err := env.store.SetScreenshot(ctx, job.ID, segs[0].ID, &taken); err != nil {
		t.Fatal(err)
	}

	if err := env.finalizer(nil).Finalize(ctx, job.ID); err != nil {
		t.Fatal(err)
	}

	segs, _ = env.store.ListSegments(ctx, job.ID)
	if *segs[0].ScreenshotPath != taken {
		t.Errorf("segment 0 screenshot changed to %s", *segs[0].ScreenshotPath)
	}
	if p := segs[1].ScreenshotPath; p == nil || *p == taken || !strings.HasPrefix(*p, "/img/"+job.ID+"/shot_001_") {
		t.Errorf("segment 1 screenshot = %v", p)
	}
}

func TestFinalizeRejectsFailedJob(t *testing.T) {
	env := newTestEnv(t)
	job := env.pendingJob(t, 0)
	reason := "boom"
	if _, err := env.store.TransitionJob(context.Background(), job.ID, model.JobStatusFailed, storeUpdate(&reason)); err != nil {
		t.Fatal(err)
	}

	err := env.finalizer(nil).Finalize(context.Background(), job.ID)
	if !errors.Is(err, model.ErrInvalidState) {
		t.Fatalf("Finalize() error = %v, want ErrInvalidState", err)
	}
}

func TestFinalizeMirrorsAssets(t *testing.T) {
	env := newTestEnv(t)
	job := env.reviewedJob(t, 0, model.TranscriptSegment{Start: 3, End: 6, Text: "a"})
	mirror := &fakeMirror{}

	if err := env.finalizer(mirror).Finalize(context.Background(), job.ID); err != nil {
		t.Fatal(err)
	}

	want := []string{"docs/" + job.ID + "/index.md", "img/" + job.ID + "/shot_000.jpg"}
	if !reflect.DeepEqual(mirror.keys, want) {
		t.Errorf("mirrored = %v, want %v", mirror.keys, want)
	}
}

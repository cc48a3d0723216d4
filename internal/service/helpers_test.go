package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/stepdocs/api/internal/media"
	"github.com/stepdocs/api/internal/model"
	"github.com/stepdocs/api/internal/store"
	"github.com/stepdocs/api/internal/transcribe"
)

type fakeDispatcher struct {
	mu        sync.Mutex
	pipelines []string
	finalizes []string
	err       error
}

func (d *fakeDispatcher) DispatchPipeline(ctx context.Context, jobID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.pipelines = append(d.pipelines, jobID)
	return nil
}

func (d *fakeDispatcher) DispatchFinalize(ctx context.Context, jobID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.finalizes = append(d.finalizes, jobID)
	return nil
}

type fakeExtractor struct {
	err    error
	window media.Window
}

func (f *fakeExtractor) ExtractAudio(ctx context.Context, in, out string, w media.Window) (string, error) {
	f.window = w
	if f.err != nil {
		return "", f.err
	}
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return "", err
	}
	return out, os.WriteFile(out, []byte("RIFF"), 0o644)
}

// fakeTranscriber returns transcript or err. With block set it waits for
// ctx to end instead.
type fakeTranscriber struct {
	transcript *model.Transcript
	err        error
	progress   []int
	block      bool
	started    chan struct{}
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, audioPath, jobID string, onProgress transcribe.ProgressFunc) (*model.Transcript, error) {
	for _, p := range f.progress {
		onProgress(p, "Transcribing")
	}
	if f.block {
		close(f.started)
		<-ctx.Done()
		return nil, &model.StageError{Stage: model.StageTranscribe, Kind: model.ErrTranscriptionFailed, Message: "killed", Err: ctx.Err()}
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.transcript, nil
}

// fakeFrames writes a small file per capture. Timestamps at indices in
// fail produce no image.
type fakeFrames struct {
	mu         sync.Mutex
	fail       map[int]bool
	timestamps []float64
	singles    []float64
}

func (f *fakeFrames) CaptureFrame(ctx context.Context, in string, ts float64, out string) error {
	f.mu.Lock()
	f.singles = append(f.singles, ts)
	f.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return err
	}
	return os.WriteFile(out, []byte(fmt.Sprintf("frame@%.3f", ts)), 0o644)
}

func (f *fakeFrames) CaptureFrames(ctx context.Context, in string, timestamps []float64, outDir string) []string {
	f.mu.Lock()
	f.timestamps = append(f.timestamps, timestamps...)
	f.mu.Unlock()

	out := make([]string, len(timestamps))
	for i, ts := range timestamps {
		if f.fail[i] {
			continue
		}
		p := filepath.Join(outDir, fmt.Sprintf("frame_%03d.jpg", i+1))
		if err := f.CaptureFrame(ctx, in, ts, p); err == nil {
			out[i] = p
		}
	}
	return out
}

func (f *fakeFrames) captured() []float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]float64(nil), f.timestamps...)
}

type fakeMirror struct {
	mu   sync.Mutex
	keys []string
}

func (m *fakeMirror) Upload(ctx context.Context, key string, body io.Reader, contentType string) (string, error) {
	var buf bytes.Buffer
	io.Copy(&buf, body)
	m.mu.Lock()
	m.keys = append(m.keys, key)
	m.mu.Unlock()
	return "https://cdn.example.com/" + key, nil
}

type testEnv struct {
	store      *store.Store
	paths      Paths
	locks      *JobLocks
	runs       *RunRegistry
	dispatcher *fakeDispatcher
	frames     *fakeFrames
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	root := t.TempDir()
	st, err := store.Open(filepath.Join(root, "db.sqlite"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	return &testEnv{
		store: st,
		paths: Paths{
			Uploads: filepath.Join(root, "uploads"),
			Static:  filepath.Join(root, "static"),
			Docs:    filepath.Join(root, "docs", "generated"),
		},
		locks:      NewJobLocks(),
		runs:       NewRunRegistry(),
		dispatcher: &fakeDispatcher{},
		frames:     &fakeFrames{},
	}
}

func (e *testEnv) pipeline(tr Transcriber) *PipelineService {
	return NewPipelineService(e.store, &fakeExtractor{}, tr, e.paths, e.runs, nil)
}

func (e *testEnv) finalizer(mirror AssetMirror) *FinalizeService {
	return NewFinalizeService(e.store, e.frames, e.locks, e.paths, mirror, nil)
}

func (e *testEnv) review() *ReviewService {
	return NewReviewService(e.store, e.locks, e.dispatcher, e.paths)
}

// pendingJob creates a pending job with a source file on disk.
func (e *testEnv) pendingJob(t *testing.T, trimStart float64) *model.Job {
	t.Helper()
	return e.pendingJobWith(t, func(j *model.Job) { j.TrimStart = trimStart })
}

func (e *testEnv) pendingJobWith(t *testing.T, mutate func(*model.Job)) *model.Job {
	t.Helper()

	id := uuid.NewString()
	src := e.paths.OriginalPath(id, "demo.mp4")
	if err := os.MkdirAll(filepath.Dir(src), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(src, []byte("video"), 0o644); err != nil {
		t.Fatal(err)
	}

	job := &model.Job{
		ID:               id,
		Status:           model.JobStatusPending,
		SourceFilePath:   src,
		OriginalFilename: "demo.mp4",
		Title:            "Demo",
	}
	if mutate != nil {
		mutate(job)
	}
	if err := e.store.CreateJob(context.Background(), job); err != nil {
		t.Fatalf("create job: %v", err)
	}
	return job
}

// reviewedJob runs the pipeline for a new job whose transcript has segs.
func (e *testEnv) reviewedJob(t *testing.T, trimStart float64, segs ...model.TranscriptSegment) *model.Job {
	t.Helper()

	job := e.pendingJob(t, trimStart)
	tr := &fakeTranscriber{transcript: &model.Transcript{Segments: segs}}
	if err := e.pipeline(tr).Run(context.Background(), job.ID); err != nil {
		t.Fatalf("run pipeline: %v", err)
	}
	got, err := e.store.GetJob(context.Background(), job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != model.JobStatusAwaitingReview {
		t.Fatalf("status = %s, want awaiting_review", got.Status)
	}
	return got
}

// writeImage places a static image for jobID and returns its web path.
func (e *testEnv) writeImage(t *testing.T, jobID, name string) string {
	t.Helper()

	p := e.paths.ImageFile(jobID, name)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte("img"), 0o644); err != nil {
		t.Fatal(err)
	}
	return e.paths.ImageURL(jobID, name)
}

func inputsFrom(segs []model.Segment) []model.SegmentInput {
	inputs := make([]model.SegmentInput, len(segs))
	for i, s := range segs {
		id := s.ID
		inputs[i] = model.SegmentInput{
			ID:             &id,
			Title:          s.Title,
			Text:           s.Text,
			StartTime:      s.StartTime,
			EndTime:        s.EndTime,
			ScreenshotPath: s.ScreenshotPath,
			Order:          s.Order,
		}
	}
	return inputs
}

func storeUpdate(errMsg *string) store.JobUpdate {
	return store.JobUpdate{ErrorMessage: errMsg}
}

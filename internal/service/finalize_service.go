package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/stepdocs/api/internal/model"
	"github.com/stepdocs/api/internal/render"
	"github.com/stepdocs/api/internal/store"
)

// FinalizeService fills in missing screenshots, renders the document
// artifact and completes the job.
type FinalizeService struct {
	store    *store.Store
	frames   FrameCapturer
	locks    *JobLocks
	paths    Paths
	mirror   AssetMirror
	notifier Notifier
}

// NewFinalizeService creates a new finalize service. mirror may be nil.
func NewFinalizeService(st *store.Store, frames FrameCapturer, locks *JobLocks, paths Paths, mirror AssetMirror, notifier Notifier) *FinalizeService {
	return &FinalizeService{
		store:    st,
		frames:   frames,
		locks:    locks,
		paths:    paths,
		mirror:   mirror,
		notifier: notifierOrNoop(notifier),
	}
}

// Finalize is safe to re-run: which segments need a screenshot is derived
// from current segment state only.
func (s *FinalizeService) Finalize(ctx context.Context, jobID string) error {
	unlock, err := s.locks.Lock(ctx, jobID)
	if err != nil {
		return err
	}
	defer unlock()

	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if !job.Status.AcceptsReview() {
		return fmt.Errorf("%w: cannot finalize job in status %s", model.ErrInvalidState, job.Status)
	}

	doc, err := s.store.GetDocumentByJob(ctx, jobID)
	if err != nil {
		return s.failJob(ctx, jobID, err)
	}

	segments, err := s.store.ListSegments(ctx, jobID)
	if err != nil {
		return s.failJob(ctx, jobID, err)
	}
	model.SortByEffectiveOrder(segments)

	if err := s.fillScreenshots(ctx, job, segments); err != nil {
		return s.failJob(ctx, jobID, err)
	}

	content, err := render.Markdown(render.Meta{
		Title:    doc.Title,
		Category: doc.CategoryID,
		Offset:   job.TrimStart,
	}, segments)
	if err != nil {
		return s.failJob(ctx, jobID, err)
	}

	artifact := s.paths.ArtifactPath(jobID)
	if err := render.WriteFile(artifact, content); err != nil {
		return s.failJob(ctx, jobID, err)
	}

	job, err = s.store.CompleteFinalize(ctx, jobID, artifact, store.JobUpdate{
		ProgressPercent: intPtr(100),
		ProgressMessage: strPtr("Document ready"),
		ErrorMessage:    strPtr(""),
	})
	if err != nil {
		return s.failJob(ctx, jobID, err)
	}

	s.mirrorAssets(ctx, jobID, artifact, segments)

	log.Printf("Finalize [%s]: rendered %d steps to %s", jobID, len(segments), artifact)
	s.notifier.BroadcastComplete(jobID, job.Status, doc.ID)
	return nil
}

// fillScreenshots captures frames for segments that have no screenshot and
// start after 0, updating segments in place. Capture and copy failures
// leave that segment without an image.
func (s *FinalizeService) fillScreenshots(ctx context.Context, job *model.Job, segments []model.Segment) error {
	used := make(map[string]bool, len(segments))
	for i := range segments {
		seg := &segments[i]
		if seg.ScreenshotPath == nil {
			continue
		}
		file, local := s.paths.ResolveImage(*seg.ScreenshotPath)
		if local && !fileExists(file) {
			log.Printf("Finalize [%s]: segment %d screenshot %s is missing, clearing", job.ID, seg.SegmentIndex, *seg.ScreenshotPath)
			if _, err := s.store.SetScreenshot(ctx, job.ID, seg.ID, nil); err != nil {
				return err
			}
			seg.ScreenshotPath = nil
			continue
		}
		used[*seg.ScreenshotPath] = true
	}

	var (
		targets    []int
		timestamps []float64
	)
	for i, seg := range segments {
		if seg.ScreenshotPath == nil && seg.StartTime > 0 {
			targets = append(targets, i)
			timestamps = append(timestamps, job.TrimStart+seg.StartTime)
		}
	}
	if len(targets) == 0 {
		return nil
	}

	frames := s.frames.CaptureFrames(ctx, job.SourceFilePath, timestamps, s.paths.ScreenshotsDir(job.ID))

	for n, i := range targets {
		seg := &segments[i]
		if n >= len(frames) || frames[n] == "" {
			continue
		}

		name := fmt.Sprintf("shot_%03d.jpg", seg.SegmentIndex)
		if used[s.paths.ImageURL(job.ID, name)] {
			name = fmt.Sprintf("shot_%03d_%s.jpg", seg.SegmentIndex, uuid.NewString()[:8])
		}

		if err := copyFile(frames[n], s.paths.ImageFile(job.ID, name)); err != nil {
			log.Printf("Finalize [%s]: segment %d: %v", job.ID, seg.SegmentIndex, err)
			continue
		}

		url := s.paths.ImageURL(job.ID, name)
		if _, err := s.store.SetScreenshot(ctx, job.ID, seg.ID, &url); err != nil {
			return err
		}
		seg.ScreenshotPath = &url
		used[url] = true
	}
	return nil
}

func (s *FinalizeService) mirrorAssets(ctx context.Context, jobID, artifact string, segments []model.Segment) {
	if s.mirror == nil {
		return
	}

	upload := func(key, path, contentType string) {
		f, err := os.Open(path)
		if err != nil {
			log.Printf("Finalize [%s]: mirror %s: %v", jobID, key, err)
			return
		}
		defer f.Close()
		if _, err := s.mirror.Upload(ctx, key, f, contentType); err != nil {
			log.Printf("Finalize [%s]: mirror %s: %v", jobID, key, err)
		}
	}

	upload("docs/"+jobID+"/index.md", artifact, "text/markdown; charset=utf-8")
	for _, seg := range segments {
		if seg.ScreenshotPath == nil {
			continue
		}
		if file, ok := s.paths.ResolveImage(*seg.ScreenshotPath); ok {
			upload("img/"+jobID+"/"+filepath.Base(file), file, "image/jpeg")
		}
	}
}

func (s *FinalizeService) failJob(ctx context.Context, jobID string, cause error) error {
	reason := cause.Error()
	_, err := s.store.TransitionJob(context.WithoutCancel(ctx), jobID, model.JobStatusFailed, store.JobUpdate{
		ErrorMessage: &reason,
	})
	if err != nil && !errors.Is(err, model.ErrInvalidTransition) {
		log.Printf("Finalize [%s]: failed to mark job as failed: %v", jobID, err)
	}
	log.Printf("Finalize [%s]: failed: %v", jobID, cause)
	s.notifier.BroadcastError(jobID, CodeFinalizeFailed, reason)
	return cause
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open frame: %w", err)
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create image dir: %w", err)
	}
	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create image: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copy frame: %w", err)
	}
	return out.Close()
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

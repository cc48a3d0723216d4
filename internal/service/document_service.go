package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/stepdocs/api/internal/model"
	"github.com/stepdocs/api/internal/store"
)

// DocumentService serves rendered documents and manual screenshots
type DocumentService struct {
	store  *store.Store
	frames FrameCapturer
	paths  Paths
	mirror AssetMirror
}

// NewDocumentService creates a new document service. mirror may be nil.
func NewDocumentService(st *store.Store, frames FrameCapturer, paths Paths, mirror AssetMirror) *DocumentService {
	return &DocumentService{store: st, frames: frames, paths: paths, mirror: mirror}
}

// GetDocument returns a job's document with its steps in effective order.
// Content is the rendered artifact text, empty until the first finalize.
func (s *DocumentService) GetDocument(ctx context.Context, jobID string) (*model.DocumentResponse, error) {
	doc, err := s.store.GetDocumentByJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	segments, err := s.store.ListSegments(ctx, jobID)
	if err != nil {
		return nil, err
	}
	model.SortByEffectiveOrder(segments)

	var content string
	if doc.Content != "" {
		data, err := os.ReadFile(doc.Content)
		switch {
		case err == nil:
			content = string(data)
		case errors.Is(err, os.ErrNotExist):
			log.Printf("Document [%s]: artifact %s missing", jobID, doc.Content)
		default:
			return nil, fmt.Errorf("read artifact: %w", err)
		}
	}

	return &model.DocumentResponse{
		Title:    doc.Title,
		Content:  content,
		Steps:    segments,
		Category: doc.CategoryID,
	}, nil
}

// CaptureScreenshot grabs one frame at timestamp from the video of
// videoID (jobID when empty) into the image directory of jobID and returns
// its web path.
func (s *DocumentService) CaptureScreenshot(ctx context.Context, jobID, videoID string, timestamp float64) (string, error) {
	if timestamp < 0 {
		return "", fmt.Errorf("%w: timestamp must not be negative", model.ErrInvalidInput)
	}
	if _, err := s.store.GetJob(ctx, jobID); err != nil {
		return "", err
	}

	if videoID == "" {
		videoID = jobID
	}
	source, err := s.store.GetJob(ctx, videoID)
	if err != nil {
		return "", err
	}

	name := fmt.Sprintf("manual_%d.jpg", int64(timestamp*1000))
	out := s.paths.ImageFile(jobID, name)
	if err := s.frames.CaptureFrame(ctx, source.SourceFilePath, timestamp, out); err != nil {
		return "", err
	}

	if s.mirror != nil {
		if f, err := os.Open(out); err == nil {
			if _, err := s.mirror.Upload(ctx, "img/"+jobID+"/"+filepath.Base(out), f, "image/jpeg"); err != nil {
				log.Printf("Document [%s]: mirror %s: %v", jobID, name, err)
			}
			f.Close()
		}
	}

	return s.paths.ImageURL(jobID, name), nil
}

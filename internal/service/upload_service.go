package service

import (
	"context"
	"fmt"
	"io"
	"log"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/stepdocs/api/internal/config"
	"github.com/stepdocs/api/internal/model"
	"github.com/stepdocs/api/internal/store"
)

// Upload is one incoming video file
type Upload struct {
	Filename    string
	ContentType string
	Size        int64
	Body        io.Reader
}

// UploadService accepts videos and starts their pipeline run
type UploadService struct {
	store        *store.Store
	dispatcher   Dispatcher
	paths        Paths
	maxBytes     int64
	allowedTypes map[string]bool
}

// NewUploadService creates a new upload service
func NewUploadService(st *store.Store, dispatcher Dispatcher, paths Paths, cfg *config.UploadConfig) *UploadService {
	allowed := make(map[string]bool, len(cfg.AllowedTypes))
	for _, t := range cfg.AllowedTypes {
		allowed[strings.ToLower(strings.TrimSpace(t))] = true
	}
	return &UploadService{
		store:        st,
		dispatcher:   dispatcher,
		paths:        paths,
		maxBytes:     int64(cfg.MaxSizeMB) << 20,
		allowedTypes: allowed,
	}
}

// Upload validates and stores the video, creates a pending job and
// schedules its pipeline run. Validation failures wrap ErrUploadRejected.
func (s *UploadService) Upload(ctx context.Context, up Upload, req model.UploadRequest) (*model.Job, error) {
	if err := s.validate(up, req); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrUploadRejected, err)
	}

	jobID := uuid.NewString()
	filename := sanitizeFilename(up.Filename)
	dst := s.paths.OriginalPath(jobID, filename)

	if err := saveFile(dst, up.Body, s.maxBytes); err != nil {
		os.RemoveAll(filepath.Join(s.paths.Uploads, jobID))
		return nil, err
	}

	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = strings.TrimSuffix(filename, filepath.Ext(filename))
	}

	job := &model.Job{
		ID:               jobID,
		Status:           model.JobStatusPending,
		SourceFilePath:   dst,
		OriginalFilename: up.Filename,
		Title:            title,
		CategoryID:       req.CategoryID,
		DocumentID:       req.DocumentID,
		TrimEnd:          req.EndTime,
	}
	if req.StartTime != nil {
		job.TrimStart = *req.StartTime
	}

	if err := s.store.CreateJob(ctx, job); err != nil {
		return nil, err
	}

	if err := s.dispatcher.DispatchPipeline(ctx, jobID); err != nil {
		reason := "failed to schedule pipeline: " + err.Error()
		if _, ferr := s.store.TransitionJob(context.WithoutCancel(ctx), jobID, model.JobStatusFailed, store.JobUpdate{ErrorMessage: &reason}); ferr != nil {
			log.Printf("Upload [%s]: failed to mark job as failed: %v", jobID, ferr)
		}
		return nil, fmt.Errorf("schedule pipeline: %w", err)
	}

	log.Printf("Upload [%s]: accepted %s (%d bytes)", jobID, up.Filename, up.Size)
	return job, nil
}

// IngestFile uploads a video that already sits on local disk.
func (s *UploadService) IngestFile(ctx context.Context, path string) (*model.Job, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}

	return s.Upload(ctx, Upload{
		Filename:    filepath.Base(path),
		ContentType: TypeByExtension(path),
		Size:        info.Size(),
		Body:        f,
	}, model.UploadRequest{})
}

func (s *UploadService) validate(up Upload, req model.UploadRequest) error {
	if up.Body == nil || up.Size <= 0 {
		return fmt.Errorf("empty file")
	}
	if s.maxBytes > 0 && up.Size > s.maxBytes {
		return fmt.Errorf("file exceeds %d MB", s.maxBytes>>20)
	}

	contentType := mediaType(up.ContentType)
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = TypeByExtension(up.Filename)
	}
	if len(s.allowedTypes) > 0 && !s.allowedTypes[contentType] {
		return fmt.Errorf("unsupported file type %q", contentType)
	}

	if req.StartTime != nil && *req.StartTime < 0 {
		return fmt.Errorf("startTime must not be negative")
	}
	if req.EndTime != nil {
		start := 0.0
		if req.StartTime != nil {
			start = *req.StartTime
		}
		if *req.EndTime <= start {
			return fmt.Errorf("endTime must be after startTime")
		}
	}
	return nil
}

// videoTypes covers video extensions missing from the builtin mime table.
var videoTypes = map[string]string{
	".mp4":  "video/mp4",
	".m4v":  "video/mp4",
	".mov":  "video/quicktime",
	".webm": "video/webm",
	".mkv":  "video/x-matroska",
	".avi":  "video/x-msvideo",
	".mpeg": "video/mpeg",
	".mpg":  "video/mpeg",
}

// TypeByExtension returns the media type of a video filename, or "".
func TypeByExtension(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if t, ok := videoTypes[ext]; ok {
		return t
	}
	return mediaType(mime.TypeByExtension(ext))
}

func mediaType(raw string) string {
	if raw == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(raw)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(raw))
	}
	return mt
}

func sanitizeFilename(name string) string {
	base := filepath.Base(filepath.Clean("/" + strings.ReplaceAll(name, "\\", "/")))
	if base == "/" || base == "." || base == "" {
		return "video"
	}
	return base
}

// saveFile copies at most limit bytes of r to dst.
func saveFile(dst string, r io.Reader, limit int64) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("%w: create upload dir: %v", model.ErrPersistenceFailed, err)
	}
	f, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("%w: create upload file: %v", model.ErrPersistenceFailed, err)
	}

	if limit > 0 {
		r = io.LimitReader(r, limit+1)
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("%w: write upload file: %v", model.ErrPersistenceFailed, err)
	}
	if limit > 0 && n > limit {
		return fmt.Errorf("%w: file exceeds %d MB", model.ErrUploadRejected, limit>>20)
	}
	return nil
}

// Package service implements the processing pipeline: upload, audio
// extraction and transcription, the review buffer, finalize and status.
package service

import (
	"context"
	"io"

	"github.com/stepdocs/api/internal/media"
	"github.com/stepdocs/api/internal/model"
	"github.com/stepdocs/api/internal/transcribe"
)

// Dispatcher schedules background runs on the bounded worker pool.
type Dispatcher interface {
	DispatchPipeline(ctx context.Context, jobID string) error
	DispatchFinalize(ctx context.Context, jobID string) error
}

// Notifier receives job lifecycle events for push delivery.
type Notifier interface {
	BroadcastProgress(jobID string, status model.JobStatus, percent *int, message string)
	BroadcastComplete(jobID string, status model.JobStatus, documentID string)
	BroadcastError(jobID, code, message string)
}

// AudioExtractor produces the mono 16 kHz track of a video.
type AudioExtractor interface {
	ExtractAudio(ctx context.Context, inputPath, outputPath string, window media.Window) (string, error)
}

// FrameCapturer grabs still frames from a video.
type FrameCapturer interface {
	CaptureFrame(ctx context.Context, inputPath string, ts float64, outPath string) error
	CaptureFrames(ctx context.Context, inputPath string, timestamps []float64, outDir string) []string
}

// Transcriber turns an audio file into timestamped segments.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath, jobID string, onProgress transcribe.ProgressFunc) (*model.Transcript, error)
}

// AssetMirror copies generated assets to object storage.
type AssetMirror interface {
	Upload(ctx context.Context, key string, body io.Reader, contentType string) (string, error)
}

type noopNotifier struct{}

func (noopNotifier) BroadcastProgress(string, model.JobStatus, *int, string) {}
func (noopNotifier) BroadcastComplete(string, model.JobStatus, string)       {}
func (noopNotifier) BroadcastError(string, string, string)                   {}

func notifierOrNoop(n Notifier) Notifier {
	if n == nil {
		return noopNotifier{}
	}
	return n
}

func intPtr(i int) *int { return &i }

func strPtr(s string) *string { return &s }

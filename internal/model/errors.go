package model

import (
	"errors"
	"fmt"
)

var (
	ErrJobNotFound      = errors.New("job not found")
	ErrDocumentNotFound = errors.New("document not found")
	ErrSegmentNotFound  = errors.New("segment not found")

	// ErrInvalidTransition is returned when a status change would leave the
	// job state graph.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrInvalidState is returned when an operation is not allowed in the
	// job's current status.
	ErrInvalidState = errors.New("operation not allowed in current job state")
	// ErrInvalidInput is returned for request values that fail semantic
	// checks, such as a screenshot path with no backing asset.
	ErrInvalidInput = errors.New("invalid input")
	// ErrCancelled is the cancellation cause of a pipeline run.
	ErrCancelled = errors.New("cancelled")

	ErrUploadRejected          = errors.New("upload rejected")
	ErrExtractionFailed        = errors.New("extraction failed")
	ErrTranscriptionFailed     = errors.New("transcription failed")
	ErrScreenshotCaptureFailed = errors.New("screenshot capture failed")
	ErrPersistenceFailed       = errors.New("persistence failed")
)

// Pipeline stages used in StageError.
const (
	StageExtract    = "extracting_audio"
	StageTranscribe = "transcribing"
	StageScreenshot = "screenshot"
)

// StageError is a stage-aware failure with optional subprocess context.
// Kind is one of the taxonomy sentinels above.
type StageError struct {
	Stage    string
	Kind     error
	Message  string
	Command  string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *StageError) Error() string {
	if e == nil {
		return ""
	}
	msg := fmt.Sprintf("%s: %s", e.Stage, e.Message)
	if e.Command != "" {
		msg = fmt.Sprintf("%s (cmd=%s exit=%d)", msg, e.Command, e.ExitCode)
	}
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

// Unwrap exposes both the taxonomy kind and the underlying cause.
func (e *StageError) Unwrap() []error {
	if e == nil {
		return nil
	}
	var errs []error
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

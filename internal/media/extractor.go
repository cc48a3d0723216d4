// Package media wraps ffmpeg for audio extraction and still-frame capture.
package media

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/stepdocs/api/internal/config"
	"github.com/stepdocs/api/internal/model"
	"github.com/stepdocs/api/pkg/executor"
)

// Window restricts extraction to part of the input. A zero Window means the
// whole file.
type Window struct {
	Start float64
	End   *float64
}

// Extractor runs ffmpeg through an executor
type Extractor struct {
	exec         executor.Executor
	ffmpegPath   string
	frameDelay   time.Duration
	frameQuality int
	stat         func(name string) (os.FileInfo, error)
	sleep        func(d time.Duration)
}

// NewExtractor creates an extractor from media config
func NewExtractor(exec executor.Executor, cfg *config.MediaConfig) *Extractor {
	return &Extractor{
		exec:         exec,
		ffmpegPath:   cfg.FFmpegPath,
		frameDelay:   time.Duration(cfg.FrameDelayMs) * time.Millisecond,
		frameQuality: cfg.FrameQuality,
		stat:         os.Stat,
		sleep:        time.Sleep,
	}
}

// ExtractAudio converts the input to mono 16 kHz PCM WAV at outputPath.
// Any failure is fatal for the job.
func (e *Extractor) ExtractAudio(ctx context.Context, inputPath, outputPath string, window Window) (string, error) {
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return "", &model.StageError{
			Stage:   model.StageExtract,
			Kind:    model.ErrExtractionFailed,
			Message: "cannot create audio directory",
			Err:     err,
		}
	}

	args := buildAudioArgs(inputPath, outputPath, window)
	res, err := e.exec.Execute(ctx, e.ffmpegPath, args...)
	if err != nil {
		return "", &model.StageError{
			Stage:    model.StageExtract,
			Kind:     model.ErrExtractionFailed,
			Message:  "ffmpeg audio conversion failed",
			Command:  e.ffmpegPath,
			ExitCode: res.ExitCode,
			Stderr:   res.Stderr,
			Err:      err,
		}
	}

	if _, err := e.stat(outputPath); err != nil {
		return "", &model.StageError{
			Stage:   model.StageExtract,
			Kind:    model.ErrExtractionFailed,
			Message: "ffmpeg completed but audio file is missing",
			Command: e.ffmpegPath,
			Err:     err,
		}
	}

	return outputPath, nil
}

// CaptureFrame writes the single frame at timestamp (seconds) to outPath.
func (e *Extractor) CaptureFrame(ctx context.Context, inputPath string, timestamp float64, outPath string) error {
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return &model.StageError{
			Stage:   model.StageScreenshot,
			Kind:    model.ErrScreenshotCaptureFailed,
			Message: "cannot create frame directory",
			Err:     err,
		}
	}

	args := buildFrameArgs(inputPath, timestamp, outPath, e.frameQuality)
	res, err := e.exec.Execute(ctx, e.ffmpegPath, args...)
	if err != nil {
		return &model.StageError{
			Stage:    model.StageScreenshot,
			Kind:     model.ErrScreenshotCaptureFailed,
			Message:  fmt.Sprintf("ffmpeg frame capture at %.3fs failed", timestamp),
			Command:  e.ffmpegPath,
			ExitCode: res.ExitCode,
			Stderr:   res.Stderr,
			Err:      err,
		}
	}

	if _, err := e.stat(outPath); err != nil {
		return &model.StageError{
			Stage:   model.StageScreenshot,
			Kind:    model.ErrScreenshotCaptureFailed,
			Message: fmt.Sprintf("ffmpeg produced no frame at %.3fs", timestamp),
			Command: e.ffmpegPath,
			Err:     err,
		}
	}
	return nil
}

// CaptureFrames captures one frame per timestamp into outDir, one ffmpeg
// process at a time with frameDelay between calls. The result has one entry
// per timestamp; a failed capture leaves "" in its slot and the batch
// continues.
func (e *Extractor) CaptureFrames(ctx context.Context, inputPath string, timestamps []float64, outDir string) []string {
	frames := make([]string, len(timestamps))

	for i, ts := range timestamps {
		if ctx.Err() != nil {
			log.Printf("Frame capture stopped after %d/%d: %v", i, len(timestamps), ctx.Err())
			break
		}
		if i > 0 && e.frameDelay > 0 {
			e.sleep(e.frameDelay)
		}

		outPath := filepath.Join(outDir, fmt.Sprintf("frame_%03d.jpg", i))
		if err := e.CaptureFrame(ctx, inputPath, ts, outPath); err != nil {
			log.Printf("Screenshot at %.3fs skipped: %v", ts, err)
			continue
		}
		frames[i] = outPath
	}

	return frames
}

// buildAudioArgs builds ffmpeg args for mono 16k PCM WAV output.
func buildAudioArgs(inputPath, outPath string, window Window) []string {
	args := []string{"-hide_banner", "-nostdin", "-y"}
	if window.Start > 0 {
		args = append(args, "-ss", formatSeconds(window.Start))
	}
	if window.End != nil && *window.End > window.Start {
		args = append(args, "-t", formatSeconds(*window.End-window.Start))
	}
	return append(args,
		"-i", inputPath,
		"-vn",
		"-ac", "1",
		"-ar", "16000",
		"-c:a", "pcm_s16le",
		outPath,
	)
}

// buildFrameArgs seeks first, then decodes exactly one frame.
func buildFrameArgs(inputPath string, timestamp float64, outPath string, quality int) []string {
	if quality <= 0 {
		quality = 2
	}
	return []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-ss", formatSeconds(timestamp),
		"-i", inputPath,
		"-frames:v", "1",
		"-q:v", strconv.Itoa(quality),
		outPath,
	}
}

func formatSeconds(s float64) string {
	return strconv.FormatFloat(s, 'f', 3, 64)
}

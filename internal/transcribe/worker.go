// Package transcribe runs the external speech-to-text engine and decodes its
// newline-delimited JSON event stream.
package transcribe

import (
	"context"
	"encoding/json"
	"log"
	"math"
	"strings"

	"github.com/stepdocs/api/internal/config"
	"github.com/stepdocs/api/internal/model"
	"github.com/stepdocs/api/pkg/executor"
)

// ProgressFunc receives progress events as they arrive.
type ProgressFunc func(percent int, message string)

// event is one stdout line of the engine. Exactly one of Progress or Result
// is expected per line.
type event struct {
	Progress *float64          `json:"progress"`
	Message  string            `json:"message"`
	Result   *model.Transcript `json:"result"`
	Error    string            `json:"error"`
}

// Worker spawns the transcription engine once per call
type Worker struct {
	exec     executor.Executor
	command  string
	args     []string
	model    string
	language string
}

// NewWorker creates a transcription worker from config
func NewWorker(exec executor.Executor, cfg *config.TranscriberConfig) *Worker {
	return &Worker{
		exec:     exec,
		command:  cfg.Command,
		args:     append([]string(nil), cfg.Args...),
		model:    cfg.Model,
		language: cfg.Language,
	}
}

// Transcribe runs the engine on audioPath. A non-zero exit, or an exit
// without a result event, is a TranscriptionFailed error; there is no retry.
func (w *Worker) Transcribe(ctx context.Context, audioPath, jobID string, onProgress ProgressFunc) (*model.Transcript, error) {
	var (
		result    *model.Transcript
		engineErr string
	)

	handle := func(line []byte) {
		line = []byte(strings.TrimSpace(string(line)))
		if len(line) == 0 {
			return
		}

		var ev event
		if err := json.Unmarshal(line, &ev); err != nil {
			log.Printf("Transcriber [%s]: ignoring non-JSON output: %.200s", jobID, line)
			return
		}

		switch {
		case ev.Result != nil:
			result = ev.Result
		case ev.Progress != nil:
			if onProgress != nil {
				onProgress(clampPercent(*ev.Progress), ev.Message)
			}
		case ev.Error != "":
			engineErr = ev.Error
		}
	}

	args := w.buildArgs(audioPath)
	res, err := w.exec.Stream(ctx, handle, w.command, args...)
	if err != nil {
		msg := "transcription engine exited with an error"
		if engineErr != "" {
			msg = engineErr
		}
		return nil, &model.StageError{
			Stage:    model.StageTranscribe,
			Kind:     model.ErrTranscriptionFailed,
			Message:  msg,
			Command:  w.command,
			ExitCode: res.ExitCode,
			Stderr:   res.Stderr,
			Err:      err,
		}
	}

	if result == nil {
		msg := "transcription engine exited without a result"
		if engineErr != "" {
			msg = engineErr
		}
		return nil, &model.StageError{
			Stage:    model.StageTranscribe,
			Kind:     model.ErrTranscriptionFailed,
			Message:  msg,
			Command:  w.command,
			ExitCode: res.ExitCode,
			Stderr:   res.Stderr,
		}
	}

	return normalize(result), nil
}

func (w *Worker) buildArgs(audioPath string) []string {
	args := append([]string(nil), w.args...)
	args = append(args, audioPath)
	if w.model != "" {
		args = append(args, "--model", w.model)
	}
	if lang := normalizeLanguage(w.language); lang != "" {
		args = append(args, "--language", lang)
	}
	return args
}

// normalize trims segment text, repairs inverted ranges and fills Text
// from segments when the engine omitted it.
func normalize(t *model.Transcript) *model.Transcript {
	out := &model.Transcript{Text: strings.TrimSpace(t.Text)}
	texts := make([]string, 0, len(t.Segments))

	for _, s := range t.Segments {
		seg := model.TranscriptSegment{
			Start: math.Max(0, s.Start),
			End:   math.Max(0, s.End),
			Text:  strings.TrimSpace(s.Text),
		}
		if seg.End < seg.Start {
			seg.End = seg.Start
		}
		out.Segments = append(out.Segments, seg)
		if seg.Text != "" {
			texts = append(texts, seg.Text)
		}
	}

	if out.Text == "" {
		out.Text = strings.Join(texts, " ")
	}
	return out
}

// normalizeLanguage maps "auto" and empty language to no CLI override.
func normalizeLanguage(raw string) string {
	lang := strings.TrimSpace(raw)
	if lang == "" || strings.EqualFold(lang, "auto") {
		return ""
	}
	return lang
}

func clampPercent(p float64) int {
	if math.IsNaN(p) {
		return 0
	}
	return int(math.Round(math.Min(100, math.Max(0, p))))
}

// Package render builds the document artifact for a finalized job.
package render

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/stepdocs/api/internal/model"
)

// Meta is the document header.
type Meta struct {
	Title    string
	Category *string
	// Offset is added to segment times when formatting headings, so headings
	// show the position in the source video rather than in the trimmed window.
	Offset float64
}

type frontmatter struct {
	Title    string `yaml:"title"`
	Category string `yaml:"category,omitempty"`
}

// Markdown renders frontmatter, the full transcript and one step
// subsection per segment. Segments are rendered in effective order.
func Markdown(meta Meta, segments []model.Segment) ([]byte, error) {
	ordered := append([]model.Segment(nil), segments...)
	model.SortByEffectiveOrder(ordered)

	fm := frontmatter{Title: meta.Title}
	if meta.Category != nil {
		fm.Category = *meta.Category
	}
	header, err := yaml.Marshal(fm)
	if err != nil {
		return nil, fmt.Errorf("marshal frontmatter: %w", err)
	}

	var b bytes.Buffer
	b.WriteString("---\n")
	b.Write(header)
	b.WriteString("---\n\n")

	texts := make([]string, 0, len(ordered))
	for _, s := range ordered {
		if t := strings.TrimSpace(s.Text); t != "" {
			texts = append(texts, t)
		}
	}
	b.WriteString("## Transcript\n\n")
	if len(texts) > 0 {
		b.WriteString(strings.Join(texts, " "))
		b.WriteString("\n")
	}
	b.WriteString("\n## Steps\n")

	for _, s := range ordered {
		heading := StepHeading(s, meta.Offset)
		fmt.Fprintf(&b, "\n### %s\n\n", heading)
		if t := strings.TrimSpace(s.Text); t != "" {
			b.WriteString(t)
			b.WriteString("\n")
		}
		if s.ScreenshotPath != nil && *s.ScreenshotPath != "" {
			fmt.Fprintf(&b, "\n![%s](%s)\n", heading, *s.ScreenshotPath)
		}
	}

	return b.Bytes(), nil
}

// StepHeading is the segment title, or its mm:ss position when untitled.
func StepHeading(s model.Segment, offset float64) string {
	if s.Title != nil {
		if t := strings.TrimSpace(*s.Title); t != "" {
			return t
		}
	}
	return FormatTimestamp(offset + s.StartTime)
}

// FormatTimestamp formats seconds as mm:ss, or hh:mm:ss past the first hour.
func FormatTimestamp(sec float64) string {
	if sec < 0 {
		sec = 0
	}
	d := time.Duration(sec*1000) * time.Millisecond
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	if h > 0 {
		return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}

// WriteFile writes data to path through a temp file and rename, so readers
// never observe a partially written artifact.
func WriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create artifact dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".index-*.md")
	if err != nil {
		return fmt.Errorf("create temp artifact: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close artifact: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename artifact: %w", err)
	}
	return nil
}

package service

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/stepdocs/api/internal/config"
)

// imageURLPrefix is the public prefix static images are served under.
const imageURLPrefix = "/img/"

// Paths resolves the on-disk layout of a job:
//
//	uploads/{jobId}/{original,audio,screenshots}/...
//	static/img/{jobId}/shot_*.jpg
//	docs/generated/{jobId}/index.md
type Paths struct {
	Uploads string
	Static  string
	Docs    string
}

// NewPaths builds Paths from storage config
func NewPaths(cfg *config.StorageConfig) Paths {
	return Paths{Uploads: cfg.UploadsDir, Static: cfg.StaticDir, Docs: cfg.DocsDir}
}

func (p Paths) OriginalPath(jobID, filename string) string {
	return filepath.Join(p.Uploads, jobID, "original", filename)
}

func (p Paths) AudioPath(jobID string) string {
	return filepath.Join(p.Uploads, jobID, "audio", "audio.wav")
}

func (p Paths) ScreenshotsDir(jobID string) string {
	return filepath.Join(p.Uploads, jobID, "screenshots")
}

// ImageDir is the directory served as /img/{jobId}
func (p Paths) ImageDir(jobID string) string {
	return filepath.Join(p.Static, "img", jobID)
}

func (p Paths) ImageFile(jobID, name string) string {
	return filepath.Join(p.ImageDir(jobID), name)
}

// ImageURL is the web path persisted on segments.
func (p Paths) ImageURL(jobID, name string) string {
	return imageURLPrefix + jobID + "/" + name
}

func (p Paths) ArtifactPath(jobID string) string {
	return filepath.Join(p.Docs, jobID, "index.md")
}

// ResolveImage maps a /img/... web path to its file under the static dir.
// It returns false for paths outside the static image tree.
func (p Paths) ResolveImage(webPath string) (string, bool) {
	if !strings.HasPrefix(webPath, imageURLPrefix) {
		return "", false
	}
	rel := filepath.Clean(filepath.FromSlash(strings.TrimPrefix(webPath, imageURLPrefix)))
	if rel == "." || strings.HasPrefix(rel, "..") || filepath.IsAbs(rel) {
		return "", false
	}
	return filepath.Join(p.Static, "img", rel), true
}

// checkImage verifies that webPath references an existing static asset.
func (p Paths) checkImage(webPath string) error {
	file, ok := p.ResolveImage(webPath)
	if !ok {
		return fmt.Errorf("screenshot path %q is not a static image path", webPath)
	}
	info, err := os.Stat(file)
	if err != nil || info.IsDir() {
		return fmt.Errorf("screenshot %q does not exist", webPath)
	}
	return nil
}

package model

import (
	"sort"
	"time"
)

// Segment is one timestamped chunk of transcript text
type Segment struct {
	ID             string    `json:"id"`
	JobID          string    `json:"job_id"`
	SegmentIndex   int       `json:"segment_index"`
	Order          *int      `json:"order"`
	Title          *string   `json:"title"`
	Text           string    `json:"text"`
	StartTime      float64   `json:"start_time"`
	EndTime        float64   `json:"end_time"`
	ScreenshotPath *string   `json:"screenshot_path"`
	NeedsReview    bool      `json:"needs_review"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// SegmentInput is one reviewed segment submitted by the external reviewer.
// A nil ScreenshotPath keeps the stored value of a known segment; an empty
// string clears it.
type SegmentInput struct {
	ID             *string `json:"id" validate:"omitempty,uuid"`
	Title          *string `json:"title" validate:"omitempty,max=200"`
	Text           string  `json:"text" validate:"max=20000"`
	StartTime      float64 `json:"start_time" validate:"min=0"`
	EndTime        float64 `json:"end_time" validate:"min=0,gtefield=StartTime"`
	ScreenshotPath *string `json:"screenshot_path" validate:"omitempty,max=500"`
	Order          *int    `json:"order" validate:"omitempty,min=0"`
}

// TranscriptSegment is a (start, end, text) triple produced by the
// transcription engine.
type TranscriptSegment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Transcript is the final result of a transcription run
type Transcript struct {
	Text     string              `json:"text"`
	Segments []TranscriptSegment `json:"segments"`
}

// EffectiveOrder is the display and finalize position: order when set,
// segmentIndex otherwise.
func (s Segment) EffectiveOrder() int {
	if s.Order != nil {
		return *s.Order
	}
	return s.SegmentIndex
}

// SortByEffectiveOrder orders segments by EffectiveOrder, breaking ties on
// segmentIndex.
func SortByEffectiveOrder(segments []Segment) {
	sort.SliceStable(segments, func(i, j int) bool {
		a, b := segments[i].EffectiveOrder(), segments[j].EffectiveOrder()
		if a != b {
			return a < b
		}
		return segments[i].SegmentIndex < segments[j].SegmentIndex
	})
}

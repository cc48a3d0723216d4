package model

// UploadResponse is returned by POST /api/upload
type UploadResponse struct {
	JobID string `json:"jobId"`
}

// UploadRequest carries the optional multipart fields of an upload
type UploadRequest struct {
	Title      string
	DocumentID *string
	CategoryID *string
	StartTime  *float64
	EndTime    *float64
}

// StatusResponse is returned by GET /api/status/:jobId. Error and
// DocumentationID keep the legacy field names; Kind, Progress and Failure
// carry the tagged form.
type StatusResponse struct {
	Status          JobStatus `json:"status"`
	Error           *string   `json:"error"`
	DocumentationID *string   `json:"documentationId"`
	Kind            string    `json:"kind"`
	Progress        *Progress `json:"progress,omitempty"`
	Failure         *Failure  `json:"failure,omitempty"`
}

// FinalizeSegmentsRequest is the body of POST /api/docs/:jobId/finalize-segments
type FinalizeSegmentsRequest struct {
	Segments []SegmentInput `json:"segments" validate:"required,dive"`
}

// AddSegmentRequest is the body of POST /api/docs/:jobId/segments
type AddSegmentRequest struct {
	Segment SegmentInput `json:"segment" validate:"required"`
}

// SetScreenshotRequest is the body of PUT /api/docs/:jobId/segments/:segmentId/screenshot
type SetScreenshotRequest struct {
	ScreenshotPath *string `json:"screenshot_path" validate:"omitempty,max=500"`
}

// SuccessResponse is the generic acknowledgement
type SuccessResponse struct {
	Success bool `json:"success"`
}

// VideoScreenshotRequest is the body of POST /api/docs/:jobId/video-screenshot
type VideoScreenshotRequest struct {
	VideoID   string  `json:"videoId" validate:"omitempty,uuid"`
	Timestamp float64 `json:"timestamp" validate:"min=0"`
}

// VideoScreenshotResponse is returned by the screenshot endpoint
type VideoScreenshotResponse struct {
	Success  bool   `json:"success"`
	ImageURL string `json:"imageUrl"`
}

// DocumentResponse is returned by GET /api/docs/:jobId
type DocumentResponse struct {
	Title    string    `json:"title"`
	Content  string    `json:"content"`
	Steps    []Segment `json:"steps"`
	Category *string   `json:"category"`
}

// CancelResponse is returned by POST /api/docs/:jobId/cancel
type CancelResponse struct {
	Success bool      `json:"success"`
	JobID   string    `json:"jobId"`
	Status  JobStatus `json:"status"`
}

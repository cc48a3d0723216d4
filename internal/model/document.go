package model

import "time"

// Document is the rendered artifact metadata for a job
type Document struct {
	ID         string    `json:"id"`
	JobID      string    `json:"jobId"`
	Title      string    `json:"title"`
	Content    string    `json:"content"` // path to the rendered artifact
	CategoryID *string   `json:"categoryId,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

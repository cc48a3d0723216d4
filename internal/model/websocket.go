package model

// WebSocket message types
const (
	WSMessageTypeProgress = "progress"
	WSMessageTypeComplete = "complete"
	WSMessageTypeError    = "error"
	WSMessageTypePing     = "ping"
	WSMessageTypePong     = "pong"
)

// WSMessage represents a generic WebSocket message
type WSMessage struct {
	Type string `json:"type"`
}

// WSProgressMessage represents a progress update
type WSProgressMessage struct {
	Type     string    `json:"type"`
	JobID    string    `json:"jobId"`
	Status   JobStatus `json:"status"`
	Progress *int      `json:"progress,omitempty"`
	Message  string    `json:"message,omitempty"`
}

// WSCompleteMessage represents a job reaching a resting state
type WSCompleteMessage struct {
	Type       string    `json:"type"`
	JobID      string    `json:"jobId"`
	Status     JobStatus `json:"status"`
	DocumentID string    `json:"documentId,omitempty"`
}

// WSErrorMessage represents a job failure
type WSErrorMessage struct {
	Type  string  `json:"type"`
	JobID string  `json:"jobId"`
	Error WSError `json:"error"`
}

// WSError represents error details
type WSError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

package model

// WebSocket message types
const (
	WSMessageTypeStatus = "status"
	WSMessageTypeResult = "result"
	WSMessageTypeError  = "error"
	WSMessageTypePing   = "ping"
	WSMessageTypePong   = "pong"
)

// WSMessage represents a generic WebSocket message
type WSMessage struct {
	Type string `json:"type"`
}

// WSStatusMessage announces a job status transition to subscribers.
type WSStatusMessage struct {
	Type   string    `json:"type"`
	JobID  string    `json:"jobId"`
	Status JobStatus `json:"status"`
}

// WSResultMessage carries the transcript once a job succeeds.
type WSResultMessage struct {
	Type   string      `json:"type"`
	JobID  string      `json:"jobId"`
	Result *Transcript `json:"result"`
}

// WSErrorMessage carries the failure cause once a job fails.
type WSErrorMessage struct {
	Type  string    `json:"type"`
	JobID string    `json:"jobId"`
	Error *JobError `json:"error"`
}

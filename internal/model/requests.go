package model

import "time"

// SubmitRequest is the body of POST /jobs. Exactly one of URL or Audio must
// be set; Audio carries inline bytes as base64.
type SubmitRequest struct {
	URL      string `json:"url,omitempty" validate:"omitempty,url"`
	Audio    string `json:"audio,omitempty" validate:"omitempty,base64"`
	Language string `json:"language,omitempty" validate:"omitempty,min=2,max=8"`
	Model    string `json:"model,omitempty" validate:"omitempty,oneof=tiny base small medium large"`
}

// SubmitResponse is returned when a job is accepted.
type SubmitResponse struct {
	ID        string    `json:"id"`
	Status    JobStatus `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

// StatusResponse describes a job without its payload.
type StatusResponse struct {
	ID         string     `json:"id"`
	Status     JobStatus  `json:"status"`
	Source     Source     `json:"source"`
	Params     Params     `json:"params"`
	CreatedAt  time.Time  `json:"createdAt"`
	StartedAt  *time.Time `json:"startedAt,omitempty"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
	Error      *JobError  `json:"error,omitempty"`
}

// StatusFromJob projects a job onto its status view.
func StatusFromJob(j *Job) *StatusResponse {
	return &StatusResponse{
		ID:         j.ID,
		Status:     j.Status,
		Source:     Source{Type: j.Source.Type, URL: j.Source.URL, Size: j.Source.Size},
		Params:     j.Params,
		CreatedAt:  j.CreatedAt,
		StartedAt:  j.StartedAt,
		FinishedAt: j.FinishedAt,
		Error:      j.Error,
	}
}

// ResultResponse is the body of GET /jobs/{id}/result for a terminal job.
type ResultResponse struct {
	ID     string      `json:"id"`
	Status JobStatus   `json:"status"`
	Result *Transcript `json:"result,omitempty"`
	Error  *JobError   `json:"error,omitempty"`
}

// PendingResponse is returned with 202 while a job is still in flight.
type PendingResponse struct {
	ID     string    `json:"id"`
	Status JobStatus `json:"status"`
}

// CancelResponse reports whether a cancellation took effect.
type CancelResponse struct {
	ID        string    `json:"id"`
	Status    JobStatus `json:"status"`
	Cancelled bool      `json:"cancelled"`
}

// ListResponse wraps GET /jobs.
type ListResponse struct {
	Jobs  []*StatusResponse `json:"jobs"`
	Count int               `json:"count"`
}

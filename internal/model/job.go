package model

import "time"

// Job represents one transcription request and its tracked lifecycle.
// The store owns the canonical record; workers only hold a working copy.
type Job struct {
	ID         string      `json:"id"`
	Status     JobStatus   `json:"status"`
	Source     Source      `json:"source"`
	Params     Params      `json:"params"`
	CreatedAt  time.Time   `json:"createdAt"`
	StartedAt  *time.Time  `json:"startedAt,omitempty"`
	FinishedAt *time.Time  `json:"finishedAt,omitempty"`
	Result     *Transcript `json:"result,omitempty"`
	Error      *JobError   `json:"error,omitempty"`
}

// Source points at the input audio. URL sources carry a remote URL; upload
// sources carry either a local spool Path or, when object storage is
// configured, the URL the bytes were persisted to.
type Source struct {
	Type SourceType `json:"type"`
	URL  string     `json:"url,omitempty"`
	Path string     `json:"path,omitempty"`
	Size int64      `json:"size,omitempty"`
}

// Params is the configuration snapshot taken at submission time.
type Params struct {
	Language string    `json:"language"`
	Model    ModelSize `json:"model"`
}

// JobError is the structured failure cause recorded on a failed job.
type JobError struct {
	Code    FailureCode `json:"code"`
	Message string      `json:"message"`
}

func (e *JobError) Error() string {
	return string(e.Code) + ": " + e.Message
}

// NewJobError builds a failure cause from a code and underlying error.
func NewJobError(code FailureCode, err error) *JobError {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return &JobError{Code: code, Message: msg}
}

// Terminal reports whether the job has reached a final state.
func (j *Job) Terminal() bool {
	return j.Status.Terminal()
}

// Clone returns a deep-enough copy so callers never alias the stored record.
func (j *Job) Clone() *Job {
	c := *j
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		c.FinishedAt = &t
	}
	if j.Result != nil {
		r := *j.Result
		r.Segments = append([]Segment(nil), j.Result.Segments...)
		c.Result = &r
	}
	if j.Error != nil {
		e := *j.Error
		c.Error = &e
	}
	return &c
}

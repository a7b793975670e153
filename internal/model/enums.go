package model

// Job status
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether the status is final.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusSucceeded, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// Valid reports whether the status is a known value.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusQueued, JobStatusRunning, JobStatusSucceeded, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// ValidTransition enforces the allowed state machine edges:
// queued -> running -> succeeded|failed, cancelled from queued or running only.
func ValidTransition(from, to JobStatus) bool {
	switch from {
	case JobStatusQueued:
		return to == JobStatusRunning || to == JobStatusFailed || to == JobStatusCancelled
	case JobStatusRunning:
		return to == JobStatusSucceeded || to == JobStatusFailed || to == JobStatusCancelled
	default:
		return false
	}
}

// Source types
type SourceType string

const (
	SourceTypeURL    SourceType = "url"
	SourceTypeUpload SourceType = "upload"
)

// Model variants, mirroring the Whisper model family
type ModelSize string

const (
	ModelTiny   ModelSize = "tiny"
	ModelBase   ModelSize = "base"
	ModelSmall  ModelSize = "small"
	ModelMedium ModelSize = "medium"
	ModelLarge  ModelSize = "large"
)

var ValidModelSizes = []ModelSize{
	ModelTiny, ModelBase, ModelSmall, ModelMedium, ModelLarge,
}

// Valid reports whether the model size is a known variant.
func (m ModelSize) Valid() bool {
	for _, v := range ValidModelSizes {
		if m == v {
			return true
		}
	}
	return false
}

// LanguageAuto asks the engine to detect the language itself.
const LanguageAuto = "auto"

// Failure causes recorded on failed jobs
type FailureCode string

const (
	FailureTooLarge    FailureCode = "too_large"
	FailureFetchError  FailureCode = "fetch_error"
	FailureDecodeError FailureCode = "decode_error"
	FailureEngineError FailureCode = "engine_error"
	FailureTimeout     FailureCode = "timeout"
	FailureCancelled   FailureCode = "cancelled"
)

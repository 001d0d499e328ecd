package domain

import (
	"encoding/json"
	"strings"
)

// JobKind enumerates the remote job categories.
type JobKind string

const (
	JobKindFinetune JobKind = "finetune"
	JobKindImage    JobKind = "image"
)

// JobStatus enumerates the normalized remote job lifecycle states.
type JobStatus string

const (
	JobStatusPending JobStatus = "Pending"
	JobStatusRunning JobStatus = "Running"
	JobStatusReady   JobStatus = "Ready"
	JobStatusError   JobStatus = "Error"
)

// Terminal reports whether no further transitions can occur.
func (s JobStatus) Terminal() bool {
	return s == JobStatusReady || s == JobStatusError
}

// RemoteJob is a snapshot of a job as last reported by the remote service. It
// is never mutated locally; a new snapshot replaces it on every status check.
type RemoteJob struct {
	ID           string
	Kind         JobKind
	Status       JobStatus
	RemoteStatus string
	Progress     *float64
	Result       json.RawMessage
	ErrorDetail  string
}

// ProgressPercent returns the progress as a percentage when the remote
// service reported a fraction.
func (j *RemoteJob) ProgressPercent() (float64, bool) {
	if j == nil || j.Progress == nil {
		return 0, false
	}
	p := *j.Progress
	if p < 0 || p > 1 {
		return 0, false
	}
	return p * 100, true
}

// ParseJobKind normalizes free-form input into a supported kind.
func ParseJobKind(kind string) (JobKind, bool) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case string(JobKindFinetune), "finetune_creation":
		return JobKindFinetune, true
	case string(JobKindImage), "image_generation":
		return JobKindImage, true
	default:
		return "", false
	}
}

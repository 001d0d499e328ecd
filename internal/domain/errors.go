package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrMissingAPIKey = errors.New("api key is required")
	ErrInvalidLabel  = errors.New("finetune label is required")
	ErrNotFound      = errors.New("not found")
)

// SubmissionError reports a rejected job submission.
type SubmissionError struct {
	Kind       JobKind
	StatusCode int
	Message    string
	Err        error
}

func (e *SubmissionError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("submit %s job: status %d: %s", e.Kind, e.StatusCode, msg)
	}
	return fmt.Sprintf("submit %s job: %s", e.Kind, msg)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// TransportError reports a network level failure talking to the remote
// service. Status checks failing this way may be retried.
type TransportError struct {
	JobID string
	Err   error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("job %s: transport: %v", e.JobID, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// NotFoundError reports a job id unknown to the remote service.
type NotFoundError struct {
	JobID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("job %s: not found by remote service", e.JobID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// TimeoutError reports that a job did not reach a terminal state in time.
type TimeoutError struct {
	JobID      string
	LastStatus JobStatus
	Waited     time.Duration
}

func (e *TimeoutError) Error() string {
	last := string(e.LastStatus)
	if last == "" {
		last = "unknown"
	}
	return fmt.Sprintf("job %s: no terminal status after %s (last status: %s)", e.JobID, e.Waited.Round(time.Millisecond), last)
}

// RemoteJobFailed reports a job that reached the Error terminal state.
type RemoteJobFailed struct {
	JobID  string
	Detail string
}

func (e *RemoteJobFailed) Error() string {
	detail := e.Detail
	if detail == "" {
		detail = "no detail reported"
	}
	return fmt.Sprintf("job %s failed: %s", e.JobID, detail)
}

// RegistryCorruptError reports persisted registry state that cannot be read.
type RegistryCorruptError struct {
	Path string
	Err  error
}

func (e *RegistryCorruptError) Error() string {
	return fmt.Sprintf("finetune registry %s is corrupt: %v", e.Path, e.Err)
}

func (e *RegistryCorruptError) Unwrap() error { return e.Err }

// ValidationError reports caller input rejected before any remote call.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// JobIDFromError extracts the job id carried by any error in the taxonomy.
func JobIDFromError(err error) string {
	var (
		transport *TransportError
		notFound  *NotFoundError
		timeout   *TimeoutError
		failed    *RemoteJobFailed
	)
	switch {
	case errors.As(err, &failed):
		return failed.JobID
	case errors.As(err, &timeout):
		return timeout.JobID
	case errors.As(err, &notFound):
		return notFound.JobID
	case errors.As(err, &transport):
		return transport.JobID
	}
	return ""
}

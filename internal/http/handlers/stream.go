package handlers

import (
	"encoding/json"
	"net/http"

	"fluxtune/internal/domain"
	"fluxtune/internal/polling"
)

const (
	eventSubmitted = "submitted"
	eventProgress  = "progress"
	eventDone      = "done"
	eventError     = "error"
)

type jobEvent struct {
	Type       string         `json:"type"`
	JobID      string         `json:"job_id,omitempty"`
	Status     string         `json:"status,omitempty"`
	Progress   *float64       `json:"progress,omitempty"`
	Attempt    int            `json:"attempt,omitempty"`
	ElapsedMS  int64          `json:"elapsed_ms,omitempty"`
	Label      string         `json:"label,omitempty"`
	FinetuneID string         `json:"finetune_id,omitempty"`
	Image      *imageResponse `json:"image,omitempty"`
	Error      *errorBody     `json:"error,omitempty"`
}

// eventStream writes newline delimited JSON events. The response header is
// only committed with the first event, so failures before submission can
// still be reported with a proper status code.
type eventStream struct {
	w       http.ResponseWriter
	enc     *json.Encoder
	started bool
	jobID   string
	// finetuneID is reported with a final error when the finetune itself
	// finished but a later step failed.
	finetuneID string
}

func newEventStream(w http.ResponseWriter) *eventStream {
	return &eventStream{w: w, enc: json.NewEncoder(w)}
}

func (s *eventStream) send(ev jobEvent) {
	if !s.started {
		s.w.Header().Set("Content-Type", "application/x-ndjson")
		s.w.Header().Set("Cache-Control", "no-store")
		s.w.WriteHeader(http.StatusOK)
		s.started = true
	}
	if ev.JobID == "" {
		ev.JobID = s.jobID
	}
	_ = s.enc.Encode(ev)
	if f, ok := s.w.(http.Flusher); ok {
		f.Flush()
	}
}

// progress adapts polling updates to stream events.
func (s *eventStream) progress(u polling.Update) {
	s.jobID = u.JobID
	ev := jobEvent{
		Type:      eventProgress,
		JobID:     u.JobID,
		Status:    string(u.Status),
		Progress:  u.Progress,
		Attempt:   u.Attempt,
		ElapsedMS: u.Elapsed.Milliseconds(),
	}
	if u.Attempt == 0 {
		ev.Type = eventSubmitted
	}
	s.send(ev)
}

// finish reports err either as a plain JSON error, when nothing was streamed
// yet, or as a final error event.
func (s *eventStream) finish(a *App, r *http.Request, err error) {
	if !s.started {
		a.fail(s.w, r, err)
		return
	}
	status, code := classify(err)
	a.logFailure(r, status, err)
	jobID := domain.JobIDFromError(err)
	if jobID == "" {
		jobID = s.jobID
	}
	s.send(jobEvent{
		Type:       eventError,
		JobID:      jobID,
		Status:     string(domain.JobStatusError),
		FinetuneID: s.finetuneID,
		Error:      &errorBody{Code: code, Message: err.Error(), JobID: jobID},
	})
}

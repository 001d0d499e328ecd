package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"fluxtune/internal/domain"
	"fluxtune/internal/infra"
	"fluxtune/internal/polling"
)

// JobService is the subset of the orchestrator the handlers drive.
type JobService interface {
	CreateFinetune(ctx context.Context, req domain.FinetuneRequest, label string, onProgress polling.ProgressFunc) (string, error)
	GenerateImage(ctx context.Context, req domain.ImageRequest, onProgress polling.ProgressFunc) (*domain.ImageResult, error)
	ListFinetunes(ctx context.Context) ([]domain.FinetuneRecord, error)
	ResolveFinetune(ctx context.Context, labelOrID string) (string, bool, error)
}

const defaultMaxUploadBytes = 200 << 20

type App struct {
	Jobs           JobService
	Logger         *infra.Logger
	MaxUploadBytes int64
}

func NewApp(jobs JobService, logger *infra.Logger) *App {
	if logger == nil {
		logger = infra.NopLogger()
	}
	return &App{Jobs: jobs, Logger: logger, MaxUploadBytes: defaultMaxUploadBytes}
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	JobID   string `json:"job_id,omitempty"`
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, status int, code, message string) {
	a.json(w, status, map[string]errorBody{"error": {Code: code, Message: message}})
}

// fail maps err to a status code and writes it as a JSON error.
func (a *App) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	a.logFailure(r, status, err)
	a.json(w, status, map[string]errorBody{"error": {Code: code, Message: err.Error(), JobID: domain.JobIDFromError(err)}})
}

func (a *App) logFailure(r *http.Request, status int, err error) {
	ev := a.Logger.Warn()
	if status >= http.StatusInternalServerError {
		ev = a.Logger.Error()
	}
	ev.Err(err).Str("path", r.URL.Path).Int("status", status).Msg("handlers: request failed")
}

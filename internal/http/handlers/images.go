package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"fluxtune/internal/domain"
)

// imageGenerateRequest decodes over the service defaults. Finetune may be a
// registry label or a raw finetune id.
type imageGenerateRequest struct {
	Finetune string `json:"finetune"`
	domain.ImageRequest
}

type imageResponse struct {
	JobID      string `json:"job_id"`
	URL        string `json:"url"`
	Format     string `json:"format,omitempty"`
	StorageKey string `json:"storage_key,omitempty"`
}

func (a *App) GenerateImage(w http.ResponseWriter, r *http.Request) {
	req := imageGenerateRequest{ImageRequest: domain.DefaultImageRequest()}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if ref := strings.TrimSpace(req.Finetune); ref != "" {
		id, _, err := a.Jobs.ResolveFinetune(r.Context(), ref)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		req.FinetuneID = id
	}

	stream := newEventStream(w)
	res, err := a.Jobs.GenerateImage(r.Context(), req.ImageRequest, stream.progress)
	if res == nil {
		if err == nil {
			err = errors.New("handlers: image job returned no result")
		}
		stream.finish(a, r, err)
		return
	}
	if err != nil {
		// The sample exists but could not be saved locally; the URL is still usable.
		a.Logger.Warn().Err(err).Str("job_id", res.JobID).Msg("handlers: image ready but not stored")
	}
	stream.send(jobEvent{
		Type:   eventDone,
		JobID:  res.JobID,
		Status: string(domain.JobStatusReady),
		Image:  &imageResponse{JobID: res.JobID, URL: res.URL, Format: res.Format, StorageKey: res.StorageKey},
	})
}

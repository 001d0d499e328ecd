package handlers

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"fluxtune/internal/domain"
	"fluxtune/pkg/zip"
)

type finetuneResponse struct {
	Label      string     `json:"label"`
	FinetuneID string     `json:"finetune_id"`
	CreatedAt  *time.Time `json:"created_at,omitempty"`
	UpdatedAt  *time.Time `json:"updated_at,omitempty"`
}

func (a *App) ListFinetunes(w http.ResponseWriter, r *http.Request) {
	records, err := a.Jobs.ListFinetunes(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	items := make([]finetuneResponse, 0, len(records))
	for _, rec := range records {
		item := finetuneResponse{Label: rec.Label, FinetuneID: rec.FinetuneID}
		if !rec.CreatedAt.IsZero() {
			created := rec.CreatedAt
			item.CreatedAt = &created
		}
		if !rec.UpdatedAt.IsZero() {
			updated := rec.UpdatedAt
			item.UpdatedAt = &updated
		}
		items = append(items, item)
	}
	a.json(w, http.StatusOK, map[string]any{"finetunes": items})
}

// CreateFinetune accepts a multipart upload with either a zip archive in
// "file" or individual training files in "images", plus the training options
// as form fields. Progress is streamed until the finetune is ready.
func (a *App) CreateFinetune(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, a.MaxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			a.error(w, http.StatusRequestEntityTooLarge, "too_large", "upload exceeds the size limit")
			return
		}
		a.error(w, http.StatusBadRequest, "bad_request", "invalid multipart payload")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	archive, err := archiveFromForm(r.MultipartForm)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	req, err := finetuneRequestFromForm(r.MultipartForm.Value)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	req.Archive = archive
	label := formValue(r.MultipartForm.Value, "label")

	stream := newEventStream(w)
	finetuneID, err := a.Jobs.CreateFinetune(r.Context(), req, label, stream.progress)
	if err != nil {
		stream.finetuneID = finetuneID
		stream.finish(a, r, err)
		return
	}
	if label == "" {
		label = req.Comment
	}
	stream.send(jobEvent{Type: eventDone, Status: string(domain.JobStatusReady), Label: strings.TrimSpace(label), FinetuneID: finetuneID})
}

func archiveFromForm(form *multipart.Form) ([]byte, error) {
	if files := form.File["file"]; len(files) > 0 {
		data, err := readPart(files[0])
		if err != nil {
			return nil, err
		}
		n, err := zip.CountImages(data)
		if err != nil {
			return nil, &domain.ValidationError{Field: "file", Message: "must be a zip archive"}
		}
		if n == 0 {
			return nil, zip.ErrNoImages
		}
		return data, nil
	}

	files := form.File["images"]
	if len(files) == 0 {
		return nil, &domain.ValidationError{Field: "file", Message: "a zip archive or training images are required"}
	}
	assets := make([]zip.Asset, 0, len(files))
	for _, fh := range files {
		if !zip.IsTrainingFile(fh.Filename) {
			return nil, &domain.ValidationError{Field: "images", Message: fmt.Sprintf("%s is not an image or caption file", fh.Filename)}
		}
		data, err := readPart(fh)
		if err != nil {
			return nil, err
		}
		assets = append(assets, zip.Asset{Filename: fh.Filename, MIME: fh.Header.Get("Content-Type"), Data: data})
	}
	data, err := zip.ArchiveAssets(assets)
	if err != nil {
		return nil, err
	}
	if n, _ := zip.CountImages(data); n == 0 {
		return nil, zip.ErrNoImages
	}
	return data, nil
}

func readPart(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("handlers: open upload %s: %w", fh.Filename, err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("handlers: read upload %s: %w", fh.Filename, err)
	}
	return data, nil
}

func finetuneRequestFromForm(values map[string][]string) (domain.FinetuneRequest, error) {
	req := domain.DefaultFinetuneRequest()
	if v := formValue(values, "comment"); v != "" {
		req.Comment = v
	}
	if v := formValue(values, "trigger_word"); v != "" {
		req.TriggerWord = v
	}
	if v := formValue(values, "mode"); v != "" {
		req.Mode = v
	}
	if v := formValue(values, "priority"); v != "" {
		req.Priority = v
	}
	if v := formValue(values, "finetune_type"); v != "" {
		req.FinetuneType = v
	}
	var err error
	if req.Iterations, err = formInt(values, "iterations", req.Iterations); err != nil {
		return req, err
	}
	if req.LoraRank, err = formInt(values, "lora_rank", req.LoraRank); err != nil {
		return req, err
	}
	if v := formValue(values, "learning_rate"); v != "" {
		lr, perr := strconv.ParseFloat(v, 64)
		if perr != nil {
			return req, &domain.ValidationError{Field: "learning_rate", Message: "must be a number"}
		}
		req.LearningRate = &lr
	}
	if v := formValue(values, "captioning"); v != "" {
		b, perr := strconv.ParseBool(v)
		if perr != nil {
			return req, &domain.ValidationError{Field: "captioning", Message: "must be true or false"}
		}
		req.Captioning = b
	}
	return req, nil
}

func formValue(values map[string][]string, key string) string {
	if vs := values[key]; len(vs) > 0 {
		return strings.TrimSpace(vs[0])
	}
	return ""
}

func formInt(values map[string][]string, key string, fallback int) (int, error) {
	v := formValue(values, key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, &domain.ValidationError{Field: key, Message: "must be an integer"}
	}
	return n, nil
}

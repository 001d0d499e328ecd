package handlers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"fluxtune/internal/domain"
	"fluxtune/internal/polling"
	"fluxtune/pkg/zip"
)

type fakeJobs struct {
	finetuneReq   domain.FinetuneRequest
	finetuneLabel string
	imageReq      domain.ImageRequest

	updates    []polling.Update
	finetuneID string
	image      *domain.ImageResult
	err        error
	listErr    error
	records    []domain.FinetuneRecord
	labels     map[string]string
}

func (f *fakeJobs) CreateFinetune(ctx context.Context, req domain.FinetuneRequest, label string, onProgress polling.ProgressFunc) (string, error) {
	f.finetuneReq = req
	f.finetuneLabel = label
	for _, u := range f.updates {
		onProgress(u)
	}
	return f.finetuneID, f.err
}

func (f *fakeJobs) GenerateImage(ctx context.Context, req domain.ImageRequest, onProgress polling.ProgressFunc) (*domain.ImageResult, error) {
	f.imageReq = req
	for _, u := range f.updates {
		onProgress(u)
	}
	return f.image, f.err
}

func (f *fakeJobs) ListFinetunes(ctx context.Context) ([]domain.FinetuneRecord, error) {
	return f.records, f.listErr
}

func (f *fakeJobs) ResolveFinetune(ctx context.Context, labelOrID string) (string, bool, error) {
	if id, ok := f.labels[labelOrID]; ok {
		return id, true, nil
	}
	return labelOrID, false, nil
}

func decodeEvents(t *testing.T, body *bytes.Buffer) []jobEvent {
	t.Helper()
	var events []jobEvent
	sc := bufio.NewScanner(body)
	for sc.Scan() {
		var ev jobEvent
		if err := json.Unmarshal(sc.Bytes(), &ev); err != nil {
			t.Fatalf("invalid event line %q: %v", sc.Text(), err)
		}
		events = append(events, ev)
	}
	return events
}

func trainingZip(t *testing.T) []byte {
	t.Helper()
	data, err := zip.ArchiveAssets([]zip.Asset{{Filename: "a.jpg", Data: []byte("jpg")}, {Filename: "a.txt", Data: []byte("TOK")}})
	if err != nil {
		t.Fatalf("ArchiveAssets error: %v", err)
	}
	return data
}

func multipartBody(t *testing.T, files map[string][]byte, fileField string, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	for name, data := range files {
		fw, err := mw.CreateFormFile(fileField, name)
		if err != nil {
			t.Fatalf("CreateFormFile: %v", err)
		}
		_, _ = fw.Write(data)
	}
	for k, v := range fields {
		_ = mw.WriteField(k, v)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	return body, mw.FormDataContentType()
}

func half() *float64 { v := 0.5; return &v }

func TestCreateFinetuneStreamsEvents(t *testing.T) {
	jobs := &fakeJobs{
		finetuneID: "ft-123",
		updates: []polling.Update{
			{JobID: "ft-123", Status: domain.JobStatusPending},
			{JobID: "ft-123", Status: domain.JobStatusRunning, Progress: half(), Attempt: 2, Elapsed: 2 * time.Second},
		},
	}
	app := NewApp(jobs, nil)
	body, contentType := multipartBody(t, map[string][]byte{"train.zip": trainingZip(t)}, "file", map[string]string{
		"label":      "my cat",
		"iterations": "500",
		"mode":       "product",
	})
	req := httptest.NewRequest(http.MethodPost, "/v1/finetunes", body)
	req.Header.Set("Content-Type", contentType)
	rr := httptest.NewRecorder()

	app.CreateFinetune(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/x-ndjson" {
		t.Fatalf("unexpected content type %q", ct)
	}
	events := decodeEvents(t, rr.Body)
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %+v", events)
	}
	if events[0].Type != eventSubmitted || events[1].Type != eventProgress || *events[1].Progress != 0.5 {
		t.Fatalf("unexpected progress events: %+v", events[:2])
	}
	done := events[2]
	if done.Type != eventDone || done.FinetuneID != "ft-123" || done.Label != "my cat" {
		t.Fatalf("unexpected done event: %+v", done)
	}
	if jobs.finetuneLabel != "my cat" || jobs.finetuneReq.Iterations != 500 || jobs.finetuneReq.Mode != "product" {
		t.Fatalf("form not mapped: %+v", jobs.finetuneReq)
	}
	if len(jobs.finetuneReq.Archive) == 0 {
		t.Fatalf("archive not forwarded")
	}
}

func TestCreateFinetuneReportsIDWhenRegistryWriteFails(t *testing.T) {
	jobs := &fakeJobs{
		finetuneID: "ft-9",
		err:        &domain.RegistryCorruptError{Path: "finetunes.json", Err: errors.New("unexpected end of JSON input")},
		updates: []polling.Update{
			{JobID: "ft-9", Status: domain.JobStatusPending},
			{JobID: "ft-9", Status: domain.JobStatusRunning, Attempt: 1},
		},
	}
	app := NewApp(jobs, nil)
	body, contentType := multipartBody(t, map[string][]byte{"train.zip": trainingZip(t)}, "file", map[string]string{"label": "my cat"})
	req := httptest.NewRequest(http.MethodPost, "/v1/finetunes", body)
	req.Header.Set("Content-Type", contentType)
	rr := httptest.NewRecorder()

	app.CreateFinetune(rr, req)

	events := decodeEvents(t, rr.Body)
	last := events[len(events)-1]
	if last.Type != eventError || last.Error == nil {
		t.Fatalf("expected final error event, got %+v", last)
	}
	if last.FinetuneID != "ft-9" || last.JobID != "ft-9" {
		t.Fatalf("error event should carry the finished finetune id: %+v", last)
	}
}

func TestCreateFinetuneBuildsArchiveFromImages(t *testing.T) {
	jobs := &fakeJobs{finetuneID: "ft-9"}
	app := NewApp(jobs, nil)
	body, contentType := multipartBody(t, map[string][]byte{"one.png": []byte("png"), "one.txt": []byte("TOK")}, "images", map[string]string{"label": "dog"})
	req := httptest.NewRequest(http.MethodPost, "/v1/finetunes", body)
	req.Header.Set("Content-Type", contentType)
	rr := httptest.NewRecorder()

	app.CreateFinetune(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rr.Code, rr.Body.String())
	}
	n, err := zip.CountImages(jobs.finetuneReq.Archive)
	if err != nil || n != 1 {
		t.Fatalf("expected archive with one image, got %d (%v)", n, err)
	}
}

func TestCreateFinetuneRejectsBadUploads(t *testing.T) {
	cases := []struct {
		name   string
		files  map[string][]byte
		field  string
		fields map[string]string
	}{
		{name: "missing file", fields: map[string]string{"label": "x"}},
		{name: "not a zip", files: map[string][]byte{"a.zip": []byte("nope")}, field: "file"},
		{name: "bad iterations", files: map[string][]byte{"a.zip": trainingZip(t)}, field: "file", fields: map[string]string{"iterations": "many"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			jobs := &fakeJobs{}
			app := NewApp(jobs, nil)
			body, contentType := multipartBody(t, tc.files, tc.field, tc.fields)
			req := httptest.NewRequest(http.MethodPost, "/v1/finetunes", body)
			req.Header.Set("Content-Type", contentType)
			rr := httptest.NewRecorder()

			app.CreateFinetune(rr, req)

			if rr.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d: %s", rr.Code, rr.Body.String())
			}
			if jobs.finetuneReq.Archive != nil {
				t.Fatalf("job must not be started")
			}
		})
	}
}

func TestGenerateImageFailureBeforeStreaming(t *testing.T) {
	jobs := &fakeJobs{err: &domain.SubmissionError{Kind: domain.JobKindImage, StatusCode: 422, Message: "bad finetune"}}
	app := NewApp(jobs, nil)
	req := httptest.NewRequest(http.MethodPost, "/v1/images", strings.NewReader(`{"finetune_id":"ft-1","prompt":"a TOK cat"}`))
	rr := httptest.NewRecorder()

	app.GenerateImage(rr, req)

	if rr.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rr.Code)
	}
	var payload map[string]errorBody
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("invalid error payload: %v", err)
	}
	if payload["error"].Code != "submission_failed" {
		t.Fatalf("unexpected error body: %+v", payload)
	}
}

func TestGenerateImageRemoteFailureStreamsErrorEvent(t *testing.T) {
	jobs := &fakeJobs{
		updates: []polling.Update{
			{JobID: "img-1", Status: domain.JobStatusPending},
			{JobID: "img-1", Status: domain.JobStatusRunning, Attempt: 1},
		},
		err: &domain.RemoteJobFailed{JobID: "img-1", Detail: "invalid prompt"},
	}
	app := NewApp(jobs, nil)
	req := httptest.NewRequest(http.MethodPost, "/v1/images", strings.NewReader(`{"finetune":"my cat","prompt":"a TOK cat"}`))
	rr := httptest.NewRecorder()

	app.GenerateImage(rr, req)

	events := decodeEvents(t, rr.Body)
	last := events[len(events)-1]
	if last.Type != eventError || last.Error == nil || last.Error.Code != "job_failed" || last.JobID != "img-1" {
		t.Fatalf("unexpected final event: %+v", last)
	}
	if !strings.Contains(last.Error.Message, "invalid prompt") {
		t.Fatalf("detail missing from %q", last.Error.Message)
	}
}

func TestGenerateImageResolvesLabelAndKeepsDefaults(t *testing.T) {
	jobs := &fakeJobs{
		labels: map[string]string{"my cat": "ft-123"},
		image:  &domain.ImageResult{JobID: "img-2", URL: "https://cdn.example.com/x.jpg", Format: "jpeg"},
	}
	app := NewApp(jobs, nil)
	req := httptest.NewRequest(http.MethodPost, "/v1/images", strings.NewReader(`{"finetune":"my cat","prompt":"a TOK cat","steps":20}`))
	rr := httptest.NewRecorder()

	app.GenerateImage(rr, req)

	if jobs.imageReq.FinetuneID != "ft-123" || jobs.imageReq.Steps != 20 || jobs.imageReq.Width != 512 || jobs.imageReq.Guidance != 2.5 {
		t.Fatalf("unexpected request: %+v", jobs.imageReq)
	}
	events := decodeEvents(t, rr.Body)
	if len(events) != 1 || events[0].Type != eventDone || events[0].Image.URL != "https://cdn.example.com/x.jpg" {
		t.Fatalf("unexpected events: %+v", events)
	}
}

func TestListFinetunesAndHealth(t *testing.T) {
	created := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	jobs := &fakeJobs{records: []domain.FinetuneRecord{
		{Label: "b", FinetuneID: "ft-b", CreatedAt: created, UpdatedAt: created},
		{Label: "a", FinetuneID: "ft-a"},
	}}
	app := NewApp(jobs, nil)

	rr := httptest.NewRecorder()
	app.ListFinetunes(rr, httptest.NewRequest(http.MethodGet, "/v1/finetunes", nil))
	var payload struct {
		Finetunes []finetuneResponse `json:"finetunes"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("invalid payload: %v", err)
	}
	if len(payload.Finetunes) != 2 || payload.Finetunes[0].Label != "b" || payload.Finetunes[1].CreatedAt != nil {
		t.Fatalf("unexpected list: %+v", payload.Finetunes)
	}

	rr = httptest.NewRecorder()
	app.Health(rr, httptest.NewRequest(http.MethodGet, "/v1/healthz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected healthy, got %d", rr.Code)
	}

	jobs.listErr = &domain.RegistryCorruptError{Path: "finetune_id.json", Err: errors.New("bad json")}
	rr = httptest.NewRecorder()
	app.Health(rr, httptest.NewRequest(http.MethodGet, "/v1/healthz", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	rr = httptest.NewRecorder()
	app.ListFinetunes(rr, httptest.NewRequest(http.MethodGet, "/v1/finetunes", nil))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 for corrupt registry, got %d", rr.Code)
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{&domain.ValidationError{Field: "steps", Message: "x"}, http.StatusBadRequest},
		{domain.ErrInvalidLabel, http.StatusBadRequest},
		{&domain.SubmissionError{StatusCode: 429}, http.StatusTooManyRequests},
		{&domain.NotFoundError{JobID: "j"}, http.StatusNotFound},
		{&domain.TimeoutError{JobID: "j"}, http.StatusGatewayTimeout},
		{&domain.TransportError{JobID: "j", Err: errors.New("eof")}, http.StatusBadGateway},
		{&domain.RemoteJobFailed{JobID: "j"}, http.StatusUnprocessableEntity},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got, _ := classify(tc.err); got != tc.status {
			t.Errorf("classify(%v) = %d, want %d", tc.err, got, tc.status)
		}
	}
}

func TestOpenAPIJSONHonorsETag(t *testing.T) {
	app := NewApp(&fakeJobs{}, nil)
	rr := httptest.NewRecorder()
	app.OpenAPIJSON(rr, httptest.NewRequest(http.MethodGet, "/v1/openapi.json", nil))
	if rr.Code != http.StatusOK || !json.Valid(rr.Body.Bytes()) {
		t.Fatalf("unexpected response %d", rr.Code)
	}
	etag := rr.Header().Get("ETag")

	req := httptest.NewRequest(http.MethodGet, "/v1/openapi.json", nil)
	req.Header.Set("If-None-Match", etag)
	rr = httptest.NewRecorder()
	app.OpenAPIJSON(rr, req)
	if rr.Code != http.StatusNotModified || rr.Body.Len() != 0 {
		t.Fatalf("expected 304, got %d", rr.Code)
	}
}

// Package orchestrator composes the BFL client, the poller and the finetune
// registry into the two end-to-end flows.
package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"fluxtune/internal/domain"
	"fluxtune/internal/infra"
	"fluxtune/internal/polling"
	"fluxtune/internal/registry"
	"fluxtune/internal/storage"
)

// JobClient submits jobs and reports their status.
type JobClient interface {
	Submit(ctx context.Context, req domain.JobRequest) (*domain.RemoteJob, error)
	Status(ctx context.Context, id string) (*domain.RemoteJob, error)
}

// Downloader fetches a generated sample by URL.
type Downloader interface {
	Download(ctx context.Context, url string) ([]byte, string, error)
}

// ImageStore persists downloaded images.
type ImageStore interface {
	Write(ctx context.Context, key string, data []byte) (string, error)
}

// Options wires the orchestrator dependencies. Downloader and Images are
// optional; without them GenerateImage only returns the sample URL.
type Options struct {
	Client         JobClient
	Registry       domain.FinetuneRepository
	FinetunePoller *polling.Engine
	ImagePoller    *polling.Engine
	Downloader     Downloader
	Images         ImageStore
	Logger         *infra.Logger
}

// Orchestrator holds no state between calls beyond the injected registry.
type Orchestrator struct {
	client         JobClient
	registry       domain.FinetuneRepository
	finetunePoller *polling.Engine
	imagePoller    *polling.Engine
	downloader     Downloader
	images         ImageStore
	logger         *infra.Logger
}

func New(opts Options) (*Orchestrator, error) {
	if opts.Client == nil {
		return nil, errors.New("orchestrator: job client is required")
	}
	if opts.Registry == nil {
		return nil, errors.New("orchestrator: registry is required")
	}
	o := &Orchestrator{
		client:         opts.Client,
		registry:       opts.Registry,
		finetunePoller: opts.FinetunePoller,
		imagePoller:    opts.ImagePoller,
		downloader:     opts.Downloader,
		images:         opts.Images,
		logger:         opts.Logger,
	}
	if o.finetunePoller == nil {
		o.finetunePoller = polling.New(polling.Config{Logger: opts.Logger})
	}
	if o.imagePoller == nil {
		o.imagePoller = polling.New(polling.Config{Logger: opts.Logger})
	}
	if o.logger == nil {
		o.logger = infra.NopLogger()
	}
	return o, nil
}

// CreateFinetune submits the training archive, waits for training to finish
// and records the new finetune under label. An empty label falls back to the
// request comment. onProgress first receives an Attempt 0 update right after
// submission, then one update per non-terminal status check.
func (o *Orchestrator) CreateFinetune(ctx context.Context, req domain.FinetuneRequest, label string, onProgress polling.ProgressFunc) (string, error) {
	if strings.TrimSpace(label) == "" {
		label = req.Comment
	}
	label, err := registry.NormalizeLabel(label)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(req.Comment) == "" {
		req.Comment = label
	}
	if err := req.Validate(); err != nil {
		return "", err
	}

	job, err := o.submit(ctx, req, onProgress)
	if err != nil {
		return "", err
	}
	final, err := o.finetunePoller.AwaitJob(ctx, o.client, job, onProgress)
	if err != nil {
		return "", err
	}
	if final.Status == domain.JobStatusError {
		return "", &domain.RemoteJobFailed{JobID: job.ID, Detail: final.ErrorDetail}
	}

	finetuneID := finetuneIDFromResult(final.Result, job.ID)
	res, err := o.registry.Add(ctx, label, finetuneID)
	if err != nil {
		return finetuneID, fmt.Errorf("orchestrator: finetune %s is ready but could not be recorded as %q: %w", finetuneID, label, err)
	}
	if res.Replaced && res.PreviousID != finetuneID {
		o.logger.Warn().
			Str("label", label).
			Str("previous_id", res.PreviousID).
			Str("finetune_id", finetuneID).
			Msg("orchestrator: label already existed, previous finetune id overwritten")
	}
	o.logger.Info().Str("label", label).Str("finetune_id", finetuneID).Msg("orchestrator: finetune ready")
	return finetuneID, nil
}

// GenerateImage submits a generation request against a finetune and waits for
// the sample. When an image store is configured the sample is downloaded and
// saved; a failed save still returns the result alongside the error.
func (o *Orchestrator) GenerateImage(ctx context.Context, req domain.ImageRequest, onProgress polling.ProgressFunc) (*domain.ImageResult, error) {
	req.FinetuneID = strings.TrimSpace(req.FinetuneID)
	if err := req.Validate(); err != nil {
		return nil, err
	}

	job, err := o.submit(ctx, req, onProgress)
	if err != nil {
		return nil, err
	}
	final, err := o.imagePoller.AwaitJob(ctx, o.client, job, onProgress)
	if err != nil {
		return nil, err
	}
	if final.Status == domain.JobStatusError {
		return nil, &domain.RemoteJobFailed{JobID: job.ID, Detail: final.ErrorDetail}
	}

	sample, err := sampleURL(final.Result)
	if err != nil {
		return nil, &domain.RemoteJobFailed{JobID: job.ID, Detail: err.Error()}
	}
	result := &domain.ImageResult{JobID: job.ID, URL: sample, Format: req.OutputFormat}
	o.logger.Info().Str("job_id", job.ID).Str("url", sample).Msg("orchestrator: image ready")

	if o.downloader == nil || o.images == nil {
		return result, nil
	}
	data, contentType, err := o.downloader.Download(ctx, sample)
	if err != nil {
		return result, fmt.Errorf("orchestrator: job %s: %w", job.ID, err)
	}
	key, err := o.images.Write(ctx, storage.ImageKey(job.ID, contentType, req.OutputFormat), data)
	if err != nil {
		return result, fmt.Errorf("orchestrator: job %s: %w", job.ID, err)
	}
	result.Data = data
	result.StorageKey = key
	if contentType != "" {
		result.Format = contentType
	}
	return result, nil
}

// ListFinetunes returns the registry in insertion order.
func (o *Orchestrator) ListFinetunes(ctx context.Context) ([]domain.FinetuneRecord, error) {
	return o.registry.List(ctx)
}

// ResolveFinetune maps a registry label to its finetune id. Values that are
// not registered labels are passed through as raw finetune ids.
func (o *Orchestrator) ResolveFinetune(ctx context.Context, labelOrID string) (string, bool, error) {
	value := strings.TrimSpace(labelOrID)
	if value == "" {
		return "", false, &domain.ValidationError{Field: "finetune", Message: "a label or finetune id is required"}
	}
	entries, err := o.registry.Load(ctx)
	if err != nil {
		return "", false, err
	}
	if label, err := registry.NormalizeLabel(value); err == nil {
		if id, ok := entries[label]; ok {
			return id, true, nil
		}
	}
	return value, false, nil
}

func (o *Orchestrator) submit(ctx context.Context, req domain.JobRequest, onProgress polling.ProgressFunc) (*domain.RemoteJob, error) {
	job, err := o.client.Submit(ctx, req)
	if err != nil {
		return nil, err
	}
	o.logger.Info().Str("kind", string(req.Kind())).Str("job_id", job.ID).Msg("orchestrator: job submitted")
	if onProgress != nil {
		onProgress(polling.Update{JobID: job.ID, Status: job.Status})
	}
	return job, nil
}

// finetuneIDFromResult accepts a bare string, an object (possibly JSON
// encoded in a string) carrying finetune_id, or nothing, in which case the job id doubles as the finetune id.
func finetuneIDFromResult(raw json.RawMessage, jobID string) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return jobID
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		s = strings.TrimSpace(s)
		if !strings.HasPrefix(s, "{") {
			if s == "" {
				return jobID
			}
			return s
		}
		raw = []byte(s)
	}
	var obj struct {
		FinetuneID string `json:"finetune_id"`
		ID         string `json:"id"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		if id := strings.TrimSpace(obj.FinetuneID); id != "" {
			return id
		}
		if id := strings.TrimSpace(obj.ID); id != "" {
			return id
		}
	}
	return jobID
}

// sampleURL reads result.sample. The service sometimes sends the result
// object JSON encoded inside a string.
func sampleURL(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", errors.New("ready result is empty")
	}
	var encoded string
	if err := json.Unmarshal(raw, &encoded); err == nil {
		raw = []byte(encoded)
	}
	var obj struct {
		Sample string `json:"sample"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return "", fmt.Errorf("unexpected result format: %s", strings.TrimSpace(string(raw)))
	}
	if strings.TrimSpace(obj.Sample) == "" {
		return "", errors.New("no image URL found in the result")
	}
	return strings.TrimSpace(obj.Sample), nil
}

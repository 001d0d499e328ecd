package bfl

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"fluxtune/internal/domain"
	"fluxtune/internal/infra"
)

const maxErrorBody = 4 << 10

// DefaultMaxDownloadBytes caps a single sample download.
const DefaultMaxDownloadBytes = 50 << 20

// Options configures the BFL API client.
type Options struct {
	APIKey         string
	BaseURL        string
	ImageModel     string
	HTTPClient     *http.Client
	Logger         *infra.Logger
	RequestTimeout time.Duration
	// MaxDownloadBytes caps Download; zero selects DefaultMaxDownloadBytes.
	MaxDownloadBytes int64
}

// Client performs single HTTP calls against the BFL API. It never retries;
// retry policy belongs to the poller.
type Client struct {
	apiKey      string
	baseURL     string
	imageModel  string
	httpClient  *http.Client
	logger      *infra.Logger
	maxDownload int64
}

// NewClient constructs a client with sane defaults and injected dependencies.
func NewClient(opts Options) (*Client, error) {
	apiKey := strings.TrimSpace(opts.APIKey)
	if apiKey == "" {
		return nil, domain.ErrMissingAPIKey
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 2 * time.Minute
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.us1.bfl.ai"
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("bfl: invalid base url: %w", err)
	}
	model := strings.Trim(strings.TrimSpace(opts.ImageModel), "/")
	if model == "" {
		model = "flux-pro-finetuned"
	}
	logger := opts.Logger
	if logger == nil {
		logger = infra.NopLogger()
	}
	maxDownload := opts.MaxDownloadBytes
	if maxDownload <= 0 {
		maxDownload = DefaultMaxDownloadBytes
	}
	return &Client{
		apiKey:      apiKey,
		baseURL:     baseURL,
		imageModel:  model,
		httpClient:  httpClient,
		logger:      logger,
		maxDownload: maxDownload,
	}, nil
}

// ImageModel returns the endpoint used for image generation.
func (c *Client) ImageModel() string {
	return c.imageModel
}

// Submit sends a job request and returns the freshly created job in the
// Pending state.
func (c *Client) Submit(ctx context.Context, req domain.JobRequest) (*domain.RemoteJob, error) {
	if req == nil {
		return nil, errors.New("bfl: nil job request")
	}
	kind := req.Kind()
	var (
		endpoint string
		payload  any
	)
	switch r := req.(type) {
	case domain.FinetuneRequest:
		endpoint = c.baseURL + "/v1/finetune"
		payload = finetunePayload{
			FinetuneComment: r.Comment,
			TriggerWord:     r.TriggerWord,
			FileData:        base64.StdEncoding.EncodeToString(r.Archive),
			Iterations:      r.Iterations,
			Mode:            r.Mode,
			Captioning:      r.Captioning,
			Priority:        r.Priority,
			LoraRank:        r.LoraRank,
			FinetuneType:    r.FinetuneType,
			LearningRate:    r.LearningRate,
		}
	case domain.ImageRequest:
		endpoint = c.baseURL + "/v1/" + c.imageModel
		payload = imagePayload{
			FinetuneID:       r.FinetuneID,
			FinetuneStrength: r.FinetuneStrength,
			Prompt:           r.Prompt,
			Steps:            r.Steps,
			Guidance:         r.Guidance,
			Width:            r.Width,
			Height:           r.Height,
			SafetyTolerance:  r.SafetyTolerance,
			OutputFormat:     r.OutputFormat,
			Seed:             r.Seed,
		}
	default:
		return nil, &domain.SubmissionError{Kind: kind, Message: fmt.Sprintf("unsupported request type %T", req)}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, &domain.SubmissionError{Kind: kind, Message: "encode request", Err: err}
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &domain.SubmissionError{Kind: kind, Message: "build request", Err: err}
	}
	c.setHeaders(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &domain.SubmissionError{Kind: kind, Message: "http request failed", Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &domain.SubmissionError{Kind: kind, StatusCode: resp.StatusCode, Message: "read response", Err: err}
	}
	if resp.StatusCode >= 300 {
		return nil, &domain.SubmissionError{Kind: kind, StatusCode: resp.StatusCode, Message: errorMessage(raw, resp.StatusCode)}
	}

	var decoded submitResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, &domain.SubmissionError{Kind: kind, StatusCode: resp.StatusCode, Message: "malformed response", Err: err}
	}
	id := strings.TrimSpace(decoded.ID)
	if kind == domain.JobKindFinetune && strings.TrimSpace(decoded.FinetuneID) != "" {
		id = strings.TrimSpace(decoded.FinetuneID)
	}
	if id == "" {
		return nil, &domain.SubmissionError{Kind: kind, StatusCode: resp.StatusCode, Message: "response carried no job id"}
	}

	c.logger.Debug().
		Str("kind", string(kind)).
		Str("job_id", id).
		Str("endpoint", endpoint).
		Msg("bfl: job submitted")
	return &domain.RemoteJob{ID: id, Kind: kind, Status: domain.JobStatusPending, RemoteStatus: "Pending"}, nil
}

// Status fetches the current state of a job.
func (c *Client) Status(ctx context.Context, id string) (*domain.RemoteJob, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, errors.New("bfl: job id is required")
	}
	endpoint := c.baseURL + "/v1/get_result?" + url.Values{"id": {id}}.Encode()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("bfl: build status request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &domain.TransportError{JobID: id, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &domain.TransportError{JobID: id, Err: fmt.Errorf("read response: %w", err)}
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, &domain.NotFoundError{JobID: id}
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, &domain.TransportError{JobID: id, Err: fmt.Errorf("status %d: %s", resp.StatusCode, errorMessage(raw, resp.StatusCode))}
	case resp.StatusCode >= 300:
		return nil, fmt.Errorf("bfl: job %s: status %d: %s", id, resp.StatusCode, errorMessage(raw, resp.StatusCode))
	}

	var decoded resultResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, &domain.TransportError{JobID: id, Err: fmt.Errorf("decode response: %w", err)}
	}
	status, notFound := normalizeStatus(decoded.Status, decoded.Progress)
	if notFound {
		return nil, &domain.NotFoundError{JobID: id}
	}
	job := &domain.RemoteJob{
		ID:           id,
		Status:       status,
		RemoteStatus: decoded.Status,
	}
	switch status {
	case domain.JobStatusReady:
		job.Result = decoded.Result
	case domain.JobStatusError:
		job.ErrorDetail = errorDetail(decoded)
	default:
		job.Progress = decoded.Progress
	}
	return job, nil
}

// Download fetches a generated sample. The returned format is the response
// content type.
func (c *Client) Download(ctx context.Context, sampleURL string) ([]byte, string, error) {
	parsed, err := url.Parse(strings.TrimSpace(sampleURL))
	if err != nil || parsed.Scheme == "" {
		return nil, "", fmt.Errorf("bfl: invalid sample url: %s", sampleURL)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return nil, "", fmt.Errorf("bfl: build download request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("bfl: download sample: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("bfl: download status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxDownload+1))
	if err != nil {
		return nil, "", fmt.Errorf("bfl: read sample: %w", err)
	}
	if int64(len(data)) > c.maxDownload {
		return nil, "", fmt.Errorf("bfl: sample exceeds %d bytes", c.maxDownload)
	}
	format := resp.Header.Get("Content-Type")
	if format == "" {
		format = http.DetectContentType(data)
	}
	return data, format, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Key", c.apiKey)
}

func errorMessage(raw []byte, statusCode int) string {
	var detail errorResponse
	if err := json.Unmarshal(raw, &detail); err == nil {
		if msg := detail.text(); msg != "" {
			return msg
		}
	}
	body := strings.TrimSpace(string(raw))
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	if body == "" {
		return http.StatusText(statusCode)
	}
	return body
}

func errorDetail(resp resultResponse) string {
	if detail := moderationDetail(resp.Status); detail != "" {
		return detail
	}
	if detail := rawText(resp.Details); detail != "" {
		return detail
	}
	if detail := rawText(resp.Result); detail != "" {
		return detail
	}
	return resp.Status
}

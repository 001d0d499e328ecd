package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"fluxtune/internal/domain"
	"fluxtune/internal/http/handlers"
	"fluxtune/internal/polling"
)

type stubJobs struct{}

func (stubJobs) CreateFinetune(ctx context.Context, req domain.FinetuneRequest, label string, onProgress polling.ProgressFunc) (string, error) {
	return "ft-1", nil
}

func (stubJobs) GenerateImage(ctx context.Context, req domain.ImageRequest, onProgress polling.ProgressFunc) (*domain.ImageResult, error) {
	return &domain.ImageResult{JobID: "img-1", URL: "https://cdn.example.com/1.jpg"}, nil
}

func (stubJobs) ListFinetunes(ctx context.Context) ([]domain.FinetuneRecord, error) {
	return nil, nil
}

func (stubJobs) ResolveFinetune(ctx context.Context, labelOrID string) (string, bool, error) {
	return labelOrID, false, nil
}

func TestRouterServesRoutes(t *testing.T) {
	router := NewRouter(handlers.NewApp(stubJobs{}, nil), RouterOptions{RateLimitPerMin: 1})

	for _, path := range []string{"/v1/healthz", "/v1/finetunes", "/v1/openapi.json"} {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("GET %s: got %d", path, rr.Code)
		}
		if rr.Header().Get("X-Request-ID") == "" {
			t.Fatalf("GET %s: missing request id", path)
		}
	}

	post := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/v1/images", strings.NewReader(`{"finetune_id":"ft-1","prompt":"TOK"}`))
		req.RemoteAddr = "203.0.113.9:4000"
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		return rr
	}
	if rr := post(); rr.Code != http.StatusOK {
		t.Fatalf("first image request: got %d", rr.Code)
	}
	if rr := post(); rr.Code != http.StatusTooManyRequests {
		t.Fatalf("second image request should be rate limited, got %d", rr.Code)
	}

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/nope", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("unknown route: got %d", rr.Code)
	}
}

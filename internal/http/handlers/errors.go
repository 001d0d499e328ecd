package handlers

import (
	"context"
	"errors"
	"net/http"

	"fluxtune/internal/domain"
	"fluxtune/pkg/zip"
)

// classify returns the HTTP status and error code for err.
func classify(err error) (int, string) {
	var (
		validation *domain.ValidationError
		submission *domain.SubmissionError
		transport  *domain.TransportError
		timeout    *domain.TimeoutError
		failed     *domain.RemoteJobFailed
		corrupt    *domain.RegistryCorruptError
	)
	switch {
	case errors.As(err, &validation), errors.Is(err, domain.ErrInvalidLabel), errors.Is(err, zip.ErrNoImages):
		return http.StatusBadRequest, "bad_request"
	case errors.As(err, &submission):
		if submission.StatusCode == http.StatusTooManyRequests {
			return http.StatusTooManyRequests, "upstream_rate_limited"
		}
		return http.StatusBadGateway, "submission_failed"
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "job_not_found"
	case errors.As(err, &timeout):
		return http.StatusGatewayTimeout, "timeout"
	case errors.As(err, &failed):
		return http.StatusUnprocessableEntity, "job_failed"
	case errors.As(err, &transport):
		return http.StatusBadGateway, "upstream_unavailable"
	case errors.As(err, &corrupt):
		return http.StatusInternalServerError, "registry_corrupt"
	case errors.Is(err, context.Canceled):
		return 499, "canceled"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

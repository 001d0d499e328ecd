package bfl

import (
	"strings"

	"fluxtune/internal/domain"
)

const (
	remoteTaskNotFound     = "task not found"
	remoteRequestModerated = "request moderated"
	remoteContentModerated = "content moderated"
)

// normalizeStatus maps the service's status strings onto the four job states.
// Unknown strings are treated as still running so the poller keeps going until
// its max wait runs out.
func normalizeStatus(remote string, progress *float64) (status domain.JobStatus, notFound bool) {
	switch strings.ToLower(strings.TrimSpace(remote)) {
	case "ready", "succeeded", "success":
		return domain.JobStatusReady, false
	case "error", "failed", remoteRequestModerated, remoteContentModerated:
		return domain.JobStatusError, false
	case remoteTaskNotFound:
		return "", true
	case "pending", "queued":
		if progress != nil {
			return domain.JobStatusRunning, false
		}
		return domain.JobStatusPending, false
	default:
		return domain.JobStatusRunning, false
	}
}

func moderationDetail(remote string) string {
	switch strings.ToLower(strings.TrimSpace(remote)) {
	case remoteRequestModerated:
		return "the request was flagged by moderation"
	case remoteContentModerated:
		return "the generated content was flagged by moderation"
	}
	return ""
}

// Package registry persists the mapping from human readable labels to remote
// finetune ids.
package registry

import (
	"strings"

	"golang.org/x/text/unicode/norm"

	"fluxtune/internal/domain"
)

// NormalizeLabel trims and NFC-normalizes a label so that visually identical
// labels typed on different platforms map to the same key.
func NormalizeLabel(label string) (string, error) {
	normalized := norm.NFC.String(strings.TrimSpace(label))
	if normalized == "" {
		return "", domain.ErrInvalidLabel
	}
	return normalized, nil
}

func normalizeEntry(label, finetuneID string) (string, string, error) {
	normalized, err := NormalizeLabel(label)
	if err != nil {
		return "", "", err
	}
	id := strings.TrimSpace(finetuneID)
	if id == "" {
		return "", "", &domain.ValidationError{Field: "finetune_id", Message: "must not be empty"}
	}
	return normalized, id, nil
}

func recordsToMap(records []domain.FinetuneRecord) map[string]string {
	out := make(map[string]string, len(records))
	for _, r := range records {
		out[r.Label] = r.FinetuneID
	}
	return out
}

package domain

import "context"

// AddResult describes the outcome of a registry write.
type AddResult struct {
	Record     FinetuneRecord
	Replaced   bool
	PreviousID string
}

// FinetuneRepository persists the label to finetune id mapping. Writes are
// insert-or-overwrite; List returns records in insertion order.
type FinetuneRepository interface {
	Load(ctx context.Context) (map[string]string, error)
	Add(ctx context.Context, label, finetuneID string) (AddResult, error)
	List(ctx context.Context) ([]FinetuneRecord, error)
}

package registry

import (
	"context"
	"sync"
	"time"

	"fluxtune/internal/domain"
)

// MemoryStore is a process-local registry used by tests and dry runs.
type MemoryStore struct {
	mu      sync.Mutex
	records []domain.FinetuneRecord
	now     func() time.Time
}

func NewMemoryStore(seed ...domain.FinetuneRecord) *MemoryStore {
	s := &MemoryStore{now: time.Now}
	for _, r := range seed {
		s.records = upsertRecord(s.records, r)
	}
	return s
}

func (s *MemoryStore) Load(ctx context.Context) (map[string]string, error) {
	records, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	return recordsToMap(records), nil
}

func (s *MemoryStore) List(ctx context.Context) ([]domain.FinetuneRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.FinetuneRecord{}, s.records...), nil
}

func (s *MemoryStore) Add(ctx context.Context, label, finetuneID string) (domain.AddResult, error) {
	label, finetuneID, err := normalizeEntry(label, finetuneID)
	if err != nil {
		return domain.AddResult{}, err
	}
	if err := ctx.Err(); err != nil {
		return domain.AddResult{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now().UTC()
	for i := range s.records {
		if s.records[i].Label == label {
			prev := s.records[i].FinetuneID
			s.records[i].FinetuneID = finetuneID
			s.records[i].UpdatedAt = now
			return domain.AddResult{Record: s.records[i], Replaced: true, PreviousID: prev}, nil
		}
	}
	rec := domain.FinetuneRecord{Label: label, FinetuneID: finetuneID, CreatedAt: now, UpdatedAt: now}
	s.records = append(s.records, rec)
	return domain.AddResult{Record: rec}, nil
}

var _ domain.FinetuneRepository = (*MemoryStore)(nil)

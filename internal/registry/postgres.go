package registry

import (
	"context"
	"fmt"

	"fluxtune/internal/domain"
	"fluxtune/internal/infra"
	"fluxtune/internal/sqlinline"
)

// PostgresStore keeps the registry in a finetunes table. Each Add is a single
// upsert statement, so a crash leaves either the old or the new row.
type PostgresStore struct {
	sql infra.SQLExecutor
}

func NewPostgresStore(sql infra.SQLExecutor) *PostgresStore {
	return &PostgresStore{sql: sql}
}

// EnsureSchema creates the finetunes table when it does not exist yet.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.sql.Exec(ctx, sqlinline.QEnsureFinetunesTable); err != nil {
		return fmt.Errorf("registry: ensure schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Load(ctx context.Context) (map[string]string, error) {
	records, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	return recordsToMap(records), nil
}

func (s *PostgresStore) List(ctx context.Context) ([]domain.FinetuneRecord, error) {
	rows, err := s.sql.Query(ctx, sqlinline.QListFinetunes)
	if err != nil {
		return nil, fmt.Errorf("registry: list finetunes: %w", err)
	}
	defer rows.Close()

	records := []domain.FinetuneRecord{}
	for rows.Next() {
		var r domain.FinetuneRecord
		if err := rows.Scan(&r.Label, &r.FinetuneID, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, &domain.RegistryCorruptError{Path: "finetunes", Err: err}
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("registry: list finetunes: %w", err)
	}
	return records, nil
}

func (s *PostgresStore) Add(ctx context.Context, label, finetuneID string) (domain.AddResult, error) {
	label, finetuneID, err := normalizeEntry(label, finetuneID)
	if err != nil {
		return domain.AddResult{}, err
	}
	var (
		rec  domain.FinetuneRecord
		prev string
	)
	row := s.sql.QueryRow(ctx, sqlinline.QUpsertFinetune, label, finetuneID)
	if err := row.Scan(&rec.Label, &rec.FinetuneID, &rec.CreatedAt, &rec.UpdatedAt, &prev); err != nil {
		return domain.AddResult{}, fmt.Errorf("registry: upsert finetune %q: %w", label, err)
	}
	return domain.AddResult{Record: rec, Replaced: prev != "", PreviousID: prev}, nil
}

var _ domain.FinetuneRepository = (*PostgresStore)(nil)

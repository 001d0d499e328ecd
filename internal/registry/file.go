package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"fluxtune/internal/domain"
	"fluxtune/internal/storage"
)

const (
	DefaultPath   = "finetune_id.json"
	schemaVersion = 1
)

type fileRecord struct {
	Label      string `json:"label"`
	FinetuneID string `json:"finetune_id"`
	CreatedAt  string `json:"created_at,omitempty"`
	UpdatedAt  string `json:"updated_at,omitempty"`
}

type fileDocument struct {
	SchemaVersion int               `json:"schema_version"`
	UpdatedAt     string            `json:"updated_at"`
	Finetunes     []json.RawMessage `json:"finetunes"`
}

var (
	documentKeys = []string{"schema_version", "updated_at", "finetunes"}
	recordKeys   = []string{"label", "finetune_id", "created_at", "updated_at"}
)

// fileState is the decoded registry plus any fields this version does not
// know about, so that a rewrite keeps them.
type fileState struct {
	records     []domain.FinetuneRecord
	extra       map[string]json.RawMessage
	recordExtra map[string]map[string]json.RawMessage
}

// FileStore keeps the registry in a JSON file. It also reads the legacy flat
// {"label": "finetune_id"} layout and rewrites it in the current layout on the
// next Add.
type FileStore struct {
	path      string
	mu        sync.Mutex
	now       func() time.Time
	writeFile func(path string, data []byte) error
}

// NewFileStore returns a store backed by path. The file is created on the
// first Add.
func NewFileStore(path string) *FileStore {
	if strings.TrimSpace(path) == "" {
		path = DefaultPath
	}
	return &FileStore{
		path: path,
		now:  time.Now,
		writeFile: func(path string, data []byte) error {
			return storage.WriteFileAtomic(path, data, 0o644)
		},
	}
}

// Path returns the backing file.
func (s *FileStore) Path() string { return s.path }

func (s *FileStore) Load(ctx context.Context) (map[string]string, error) {
	records, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	return recordsToMap(records), nil
}

func (s *FileStore) List(ctx context.Context) ([]domain.FinetuneRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	state, err := s.read()
	if err != nil {
		return nil, err
	}
	return state.records, nil
}

func (s *FileStore) Add(ctx context.Context, label, finetuneID string) (domain.AddResult, error) {
	label, finetuneID, err := normalizeEntry(label, finetuneID)
	if err != nil {
		return domain.AddResult{}, err
	}
	if err := ctx.Err(); err != nil {
		return domain.AddResult{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.read()
	if err != nil {
		return domain.AddResult{}, err
	}
	records := state.records
	now := s.now().UTC().Truncate(time.Second)
	result := domain.AddResult{}
	found := false
	for i := range records {
		if records[i].Label != label {
			continue
		}
		found = true
		result.Replaced = true
		result.PreviousID = records[i].FinetuneID
		records[i].FinetuneID = finetuneID
		records[i].UpdatedAt = now
		if records[i].CreatedAt.IsZero() {
			records[i].CreatedAt = now
		}
		result.Record = records[i]
		break
	}
	if !found {
		rec := domain.FinetuneRecord{Label: label, FinetuneID: finetuneID, CreatedAt: now, UpdatedAt: now}
		records = append(records, rec)
		result.Record = rec
	}
	state.records = records
	if err := s.write(state, now); err != nil {
		return domain.AddResult{}, err
	}
	return result, nil
}

func (s *FileStore) read() (*fileState, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &fileState{records: []domain.FinetuneRecord{}}, nil
		}
		return nil, fmt.Errorf("registry: read %s: %w", s.path, err)
	}
	state, err := decodeRegistry(data)
	if err != nil {
		return nil, &domain.RegistryCorruptError{Path: s.path, Err: err}
	}
	return state, nil
}

func (s *FileStore) write(state *fileState, now time.Time) error {
	doc := fileDocument{
		SchemaVersion: schemaVersion,
		UpdatedAt:     now.Format(time.RFC3339),
		Finetunes:     make([]json.RawMessage, 0, len(state.records)),
	}
	for _, r := range state.records {
		raw, err := withExtra(fileRecord{
			Label:      r.Label,
			FinetuneID: r.FinetuneID,
			CreatedAt:  formatTime(r.CreatedAt),
			UpdatedAt:  formatTime(r.UpdatedAt),
		}, state.recordExtra[r.Label])
		if err != nil {
			return fmt.Errorf("registry: encode %q: %w", r.Label, err)
		}
		doc.Finetunes = append(doc.Finetunes, raw)
	}
	raw, err := withExtra(doc, state.extra)
	if err != nil {
		return fmt.Errorf("registry: encode: %w", err)
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return fmt.Errorf("registry: encode: %w", err)
	}
	buf.WriteByte('\n')
	if err := s.writeFile(s.path, buf.Bytes()); err != nil {
		return fmt.Errorf("registry: persist %s: %w", s.path, err)
	}
	return nil
}

// withExtra marshals v and adds the extra fields that v does not already set.
func withExtra(v any, extra map[string]json.RawMessage) (json.RawMessage, error) {
	data, err := json.Marshal(v)
	if err != nil || len(extra) == 0 {
		return data, err
	}
	merged := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &merged); err != nil {
		return nil, err
	}
	for k, val := range extra {
		if _, ok := merged[k]; !ok {
			merged[k] = val
		}
	}
	return json.Marshal(merged)
}

// unknownFields returns the members of obj whose keys are not in known.
func unknownFields(obj map[string]json.RawMessage, known []string) map[string]json.RawMessage {
	var extra map[string]json.RawMessage
	for k, v := range obj {
		if slices.Contains(known, k) {
			continue
		}
		if extra == nil {
			extra = map[string]json.RawMessage{}
		}
		extra[k] = v
	}
	return extra
}

func decodeRegistry(data []byte) (*fileState, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, errors.New("empty file")
	}
	var top map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &top); err != nil {
		return nil, err
	}
	if isDocument(top) {
		return decodeDocument(top)
	}
	records, err := decodeLegacy(trimmed)
	if err != nil {
		return nil, err
	}
	return &fileState{records: records}, nil
}

// isDocument tells the current layout from a legacy file that merely has a
// label named like one of its keys: the current layout always carries a
// finetunes array or a numeric schema_version, while legacy values are
// strings.
func isDocument(top map[string]json.RawMessage) bool {
	if raw, ok := top["finetunes"]; ok && bytes.HasPrefix(bytes.TrimSpace(raw), []byte("[")) {
		return true
	}
	raw := bytes.TrimSpace(top["schema_version"])
	return len(raw) > 0 && (raw[0] == '-' || (raw[0] >= '0' && raw[0] <= '9'))
}

func decodeDocument(top map[string]json.RawMessage) (*fileState, error) {
	var doc fileDocument
	for key, dst := range map[string]any{
		"schema_version": &doc.SchemaVersion,
		"finetunes":      &doc.Finetunes,
	} {
		if raw, ok := top[key]; ok {
			if err := json.Unmarshal(raw, dst); err != nil {
				return nil, fmt.Errorf("%s: %w", key, err)
			}
		}
	}
	if doc.SchemaVersion > schemaVersion {
		return nil, fmt.Errorf("unsupported schema version %d", doc.SchemaVersion)
	}
	state := &fileState{
		records:     make([]domain.FinetuneRecord, 0, len(doc.Finetunes)),
		extra:       unknownFields(top, documentKeys),
		recordExtra: map[string]map[string]json.RawMessage{},
	}
	for i, raw := range doc.Finetunes {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(raw, &fields); err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		var r fileRecord
		if err := json.Unmarshal(raw, &r); err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		label, id, err := normalizeEntry(r.Label, r.FinetuneID)
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		state.records = upsertRecord(state.records, domain.FinetuneRecord{
			Label:      label,
			FinetuneID: id,
			CreatedAt:  parseTime(r.CreatedAt),
			UpdatedAt:  parseTime(r.UpdatedAt),
		})
		if extra := unknownFields(fields, recordKeys); extra != nil {
			state.recordExtra[label] = extra
		} else {
			delete(state.recordExtra, label)
		}
	}
	return state, nil
}

// decodeLegacy walks the flat object token by token so that key order, which
// is the insertion order, survives.
func decodeLegacy(data []byte) ([]domain.FinetuneRecord, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	if tok, err := dec.Token(); err != nil || tok != json.Delim('{') {
		return nil, errors.New("expected a JSON object")
	}
	records := []domain.FinetuneRecord{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, _ := tok.(string)
		var id string
		if err := dec.Decode(&id); err != nil {
			return nil, fmt.Errorf("entry %q: %w", key, err)
		}
		label, id, err := normalizeEntry(key, id)
		if err != nil {
			return nil, fmt.Errorf("entry %q: %w", key, err)
		}
		records = upsertRecord(records, domain.FinetuneRecord{Label: label, FinetuneID: id})
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.New("trailing data after registry object")
	}
	return records, nil
}

// upsertRecord applies last-write-wins while keeping the first position.
func upsertRecord(records []domain.FinetuneRecord, rec domain.FinetuneRecord) []domain.FinetuneRecord {
	for i := range records {
		if records[i].Label == rec.Label {
			records[i] = rec
			return records
		}
	}
	return append(records, rec)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}
	}
	return t
}

var _ domain.FinetuneRepository = (*FileStore)(nil)

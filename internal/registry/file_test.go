package registry

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"fluxtune/internal/domain"
)

func newTestStore(t *testing.T) *FileStore {
	t.Helper()
	return NewFileStore(filepath.Join(t.TempDir(), "finetune_id.json"))
}

func TestFileStoreLoadMissingFileIsEmpty(t *testing.T) {
	store := newTestStore(t)
	got, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty registry, got %v", got)
	}
}

func TestFileStoreAddSurvivesFreshProcess(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	if _, err := store.Add(ctx, "my cat", "ft-123"); err != nil {
		t.Fatalf("Add error: %v", err)
	}

	reopened := NewFileStore(store.Path())
	got, err := reopened.Load(ctx)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if got["my cat"] != "ft-123" || len(got) != 1 {
		t.Fatalf("unexpected registry: %v", got)
	}
}

func TestFileStoreOverwriteKeepsOthersAndPosition(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	for _, e := range [][2]string{{"a", "ft-1"}, {"b", "ft-2"}, {"c", "ft-3"}} {
		if _, err := store.Add(ctx, e[0], e[1]); err != nil {
			t.Fatalf("Add(%s) error: %v", e[0], err)
		}
	}
	res, err := store.Add(ctx, "b", "ft-9")
	if err != nil {
		t.Fatalf("Add error: %v", err)
	}
	if !res.Replaced || res.PreviousID != "ft-2" {
		t.Fatalf("unexpected add result: %+v", res)
	}

	list, err := NewFileStore(store.Path()).List(ctx)
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	want := []domain.FinetuneRecord{{Label: "a", FinetuneID: "ft-1"}, {Label: "b", FinetuneID: "ft-9"}, {Label: "c", FinetuneID: "ft-3"}}
	if len(list) != len(want) {
		t.Fatalf("unexpected list: %+v", list)
	}
	for i := range want {
		if list[i].Label != want[i].Label || list[i].FinetuneID != want[i].FinetuneID {
			t.Fatalf("entry %d = %+v, want %+v", i, list[i], want[i])
		}
	}
}

func TestFileStoreNormalizesLabels(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	// "é" precomposed vs "e" + combining acute accent
	if _, err := store.Add(ctx, "  caf\u00e9 ", "ft-1"); err != nil {
		t.Fatalf("Add error: %v", err)
	}
	res, err := store.Add(ctx, "cafe\u0301", "ft-2")
	if err != nil {
		t.Fatalf("Add error: %v", err)
	}
	if !res.Replaced {
		t.Fatalf("expected normalized labels to collide")
	}
	if _, err := store.Add(ctx, "   ", "ft-3"); !errors.Is(err, domain.ErrInvalidLabel) {
		t.Fatalf("expected ErrInvalidLabel, got %v", err)
	}
}

func TestFileStoreReadsLegacyLayoutInOrder(t *testing.T) {
	store := newTestStore(t)
	legacy := `{
  "zebra": "ft-z",
  "apple": "ft-a",
  "mango": "ft-m"
}`
	if err := os.WriteFile(store.Path(), []byte(legacy), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}
	list, err := store.List(context.Background())
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	labels := make([]string, 0, len(list))
	for _, r := range list {
		labels = append(labels, r.Label)
	}
	if strings.Join(labels, ",") != "zebra,apple,mango" {
		t.Fatalf("insertion order lost: %v", labels)
	}

	if _, err := store.Add(context.Background(), "kiwi", "ft-k"); err != nil {
		t.Fatalf("Add error: %v", err)
	}
	data, _ := os.ReadFile(store.Path())
	if !strings.Contains(string(data), `"schema_version": 1`) {
		t.Fatalf("expected upgrade to current layout, got %s", data)
	}
}

func TestFileStoreReadsLegacyLabelsNamedLikeDocumentKeys(t *testing.T) {
	for name, legacy := range map[string]string{
		"finetunes":      `{"my cat":"ft-1","finetunes":"ft-2"}`,
		"schema_version": `{"my cat":"ft-1","schema_version":"ft-2"}`,
	} {
		t.Run(name, func(t *testing.T) {
			store := newTestStore(t)
			if err := os.WriteFile(store.Path(), []byte(legacy), 0o644); err != nil {
				t.Fatalf("seed: %v", err)
			}
			list, err := store.List(context.Background())
			if err != nil {
				t.Fatalf("List error: %v", err)
			}
			if len(list) != 2 || list[0].Label != "my cat" || list[1].Label != name || list[1].FinetuneID != "ft-2" {
				t.Fatalf("unexpected legacy records: %+v", list)
			}
			if _, err := store.Add(context.Background(), "dog", "ft-3"); err != nil {
				t.Fatalf("Add error: %v", err)
			}
			got, err := store.Load(context.Background())
			if err != nil {
				t.Fatalf("Load after upgrade: %v", err)
			}
			if len(got) != 3 || got[name] != "ft-2" || got["dog"] != "ft-3" {
				t.Fatalf("unexpected registry after upgrade: %v", got)
			}
		})
	}
}

func TestFileStoreKeepsUnknownFields(t *testing.T) {
	store := newTestStore(t)
	doc := `{"schema_version":1,"owner":"ops","finetunes":[{"label":"a","finetune_id":"ft-1","tags":["pets"]}]}`
	if err := os.WriteFile(store.Path(), []byte(doc), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}
	got, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if got["a"] != "ft-1" {
		t.Fatalf("unexpected registry: %v", got)
	}

	if _, err := store.Add(context.Background(), "b", "ft-2"); err != nil {
		t.Fatalf("Add error: %v", err)
	}
	if _, err := store.Add(context.Background(), "a", "ft-3"); err != nil {
		t.Fatalf("Add error: %v", err)
	}
	var written struct {
		Owner     string `json:"owner"`
		Finetunes []struct {
			Label      string   `json:"label"`
			FinetuneID string   `json:"finetune_id"`
			Tags       []string `json:"tags"`
		} `json:"finetunes"`
	}
	data, _ := os.ReadFile(store.Path())
	if err := json.Unmarshal(data, &written); err != nil {
		t.Fatalf("decode rewritten file: %v", err)
	}
	if written.Owner != "ops" {
		t.Fatalf("top-level field lost: %s", data)
	}
	if len(written.Finetunes) != 2 || written.Finetunes[0].FinetuneID != "ft-3" || len(written.Finetunes[0].Tags) != 1 || written.Finetunes[0].Tags[0] != "pets" {
		t.Fatalf("record field lost: %s", data)
	}
	if written.Finetunes[1].Tags != nil {
		t.Fatalf("record fields leaked to another entry: %s", data)
	}
}

func TestFileStoreCorruptState(t *testing.T) {
	tests := map[string]string{
		"empty":         "",
		"truncated":     `{"schema_version":1,"finetunes":[{"label":"a","fine`,
		"not object":    `["a","b"]`,
		"non string":    `{"a": 42}`,
		"missing id":    `{"finetunes":[{"label":"a"}]}`,
		"future schema": `{"schema_version":99,"finetunes":[]}`,
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			store := newTestStore(t)
			if err := os.WriteFile(store.Path(), []byte(content), 0o644); err != nil {
				t.Fatalf("seed: %v", err)
			}
			_, err := store.Load(context.Background())
			var corrupt *domain.RegistryCorruptError
			if !errors.As(err, &corrupt) {
				t.Fatalf("expected RegistryCorruptError, got %v", err)
			}
			if _, err := store.Add(context.Background(), "b", "ft-2"); !errors.As(err, &corrupt) {
				t.Fatalf("Add must refuse to overwrite corrupt state, got %v", err)
			}
		})
	}
}

func TestFileStoreCrashMidWriteLeavesPreviousState(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	if _, err := store.Add(ctx, "a", "ft-1"); err != nil {
		t.Fatalf("Add error: %v", err)
	}

	// The process dies after writing half of the temp file: the rename never
	// happens and the partial file is left behind.
	store.writeFile = func(path string, data []byte) error {
		partial := filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+".tmp-crash")
		if err := os.WriteFile(partial, data[:len(data)/2], 0o644); err != nil {
			return err
		}
		return errors.New("killed")
	}
	if _, err := store.Add(ctx, "b", "ft-2"); err == nil {
		t.Fatalf("expected simulated crash to surface")
	}

	got, err := NewFileStore(store.Path()).Load(ctx)
	if err != nil {
		t.Fatalf("Load after crash error: %v", err)
	}
	if len(got) != 1 || got["a"] != "ft-1" {
		t.Fatalf("expected pre-write state, got %v", got)
	}
}

func TestFileStoreRecordsTimestamps(t *testing.T) {
	store := newTestStore(t)
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return fixed }
	res, err := store.Add(context.Background(), "a", "ft-1")
	if err != nil {
		t.Fatalf("Add error: %v", err)
	}
	if !res.Record.CreatedAt.Equal(fixed) {
		t.Fatalf("unexpected created_at: %s", res.Record.CreatedAt)
	}
	list, err := store.List(context.Background())
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if !list[0].UpdatedAt.Equal(fixed) {
		t.Fatalf("timestamps not persisted: %+v", list[0])
	}
}

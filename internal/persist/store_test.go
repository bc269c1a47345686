package persist

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/ameyarj/pica-testing-sub000/internal/errors"
)

func newTestStore(t *testing.T) *FileStore {
	t.Helper()
	fs, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	return fs
}

func TestFileStore_SaveLoad(t *testing.T) {
	ctx := context.Background()
	fs := newTestStore(t)

	if err := fs.Save(ctx, "docs/history.json", []byte(`{"a":1}`)); err != nil {
		t.Fatalf("Save: %v", err)
	}
	data, err := fs.Load(ctx, "docs/history.json")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if string(data) != `{"a":1}` {
		t.Errorf("Load = %s", data)
	}

	if err := fs.Save(ctx, "docs/history.json", []byte(`{"a":2}`)); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	data, _ = fs.Load(ctx, "docs/history.json")
	if string(data) != `{"a":2}` {
		t.Errorf("after overwrite Load = %s", data)
	}

	entries, _ := os.ReadDir(filepath.Join(fs.BaseDir(), "docs"))
	if len(entries) != 1 {
		t.Errorf("temp files left behind: %v", entries)
	}
}

func TestFileStore_NotFound(t *testing.T) {
	ctx := context.Background()
	fs := newTestStore(t)

	if _, err := fs.Load(ctx, "missing.json"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Load missing err = %v", err)
	}
	if err := fs.Delete(ctx, "missing.json"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Delete missing err = %v", err)
	}
	ok, err := fs.Exists(ctx, "missing.json")
	if err != nil || ok {
		t.Errorf("Exists = %v, %v", ok, err)
	}
}

func TestFileStore_RejectsEscapingKeys(t *testing.T) {
	ctx := context.Background()
	fs := newTestStore(t)

	for _, key := range []string{"", "../outside.json", "a/../../b", "."} {
		if err := fs.Save(ctx, key, []byte("x")); !errors.Is(err, errors.ErrInvalidInput) {
			t.Errorf("Save(%q) err = %v, want invalid input", key, err)
		}
	}
}

func TestFileStore_List(t *testing.T) {
	ctx := context.Background()
	fs := newTestStore(t)

	keys := []string{
		"docs/context/batch-0001.json",
		"docs/context/batch-0002.compact.json",
		"docs/checkpoints/batch-0003/action-0001.json",
		"docs-v2/history.json",
	}
	for _, k := range keys {
		if err := fs.Save(ctx, k, []byte("{}")); err != nil {
			t.Fatal(err)
		}
	}

	got, err := fs.List(ctx, "docs/")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	slices.Sort(got)
	want := []string{
		"docs/checkpoints/batch-0003/action-0001.json",
		"docs/context/batch-0001.json",
		"docs/context/batch-0002.compact.json",
	}
	if !slices.Equal(got, want) {
		t.Errorf("List(docs/) = %v, want %v", got, want)
	}

	got, _ = fs.List(ctx, "docs/context/batch-0002")
	if !slices.Equal(got, []string{"docs/context/batch-0002.compact.json"}) {
		t.Errorf("partial prefix List = %v", got)
	}

	got, _ = fs.List(ctx, "nothing/here/")
	if len(got) != 0 {
		t.Errorf("List on missing dir = %v", got)
	}
}

func TestFileStore_DeletePrunesEmptyDirs(t *testing.T) {
	ctx := context.Background()
	fs := newTestStore(t)

	key := "docs/checkpoints/batch-0001/action-0000.json"
	if err := fs.Save(ctx, key, []byte("{}")); err != nil {
		t.Fatal(err)
	}
	if err := fs.Delete(ctx, key); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := os.Stat(filepath.Join(fs.BaseDir(), "docs")); !os.IsNotExist(err) {
		t.Error("empty parent directories should be removed")
	}
	if _, err := os.Stat(fs.BaseDir()); err != nil {
		t.Error("base directory must survive pruning")
	}
}

func TestFileStore_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	fs := newTestStore(t)
	if err := fs.Save(ctx, "a.json", nil); !errors.Is(err, context.Canceled) {
		t.Errorf("Save with canceled ctx = %v", err)
	}
}

// ABOUTME: Tests for usage record stores
// ABOUTME: Covers the JSON file store and memory store isolation
package usage

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFileStoreMissingFile(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "nested", "usage.json"))

	rec, err := store.Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if rec.UsesCount != 0 || rec.BlockedSince != nil {
		t.Errorf("expected empty record, got %+v", rec)
	}
}

func TestFileStoreSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "usage.json")
	store := NewFileStore(path)

	since := int64(1740830400000)
	if err := store.Save(Record{UsesCount: 5, BlockedSince: &since}); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if !strings.Contains(string(data), `"blocked_since_ms": 1740830400000`) {
		t.Errorf("unexpected file contents: %s", data)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file left behind")
	}

	rec, err := NewFileStore(path).Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if rec.UsesCount != 5 || rec.BlockedSince == nil || *rec.BlockedSince != since {
		t.Errorf("unexpected record %+v", rec)
	}
}

func TestFileStoreOmitsMarker(t *testing.T) {
	path := filepath.Join(t.TempDir(), "usage.json")
	if err := NewFileStore(path).Save(Record{UsesCount: 2}); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	data, _ := os.ReadFile(path)
	if strings.Contains(string(data), "blocked_since_ms") {
		t.Errorf("marker written without a cooldown: %s", data)
	}
}

func TestFileStoreCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "usage.json")
	os.WriteFile(path, []byte("{not json"), 0644)

	if _, err := NewFileStore(path).Load(); err == nil {
		t.Error("expected parse error")
	}
}

func TestFileStoreDefaultPath(t *testing.T) {
	store := NewFileStore("")
	if !strings.HasSuffix(store.Path(), filepath.Join("mentor-go", "usage.json")) {
		t.Errorf("unexpected default path %s", store.Path())
	}
}

func TestMemoryStoreCopies(t *testing.T) {
	since := int64(10)
	store := NewMemoryStore(Record{UsesCount: 1, BlockedSince: &since})

	since = 99
	rec, _ := store.Load()
	if *rec.BlockedSince != 10 {
		t.Errorf("store shares caller memory: %d", *rec.BlockedSince)
	}

	*rec.BlockedSince = 50
	again, _ := store.Load()
	if *again.BlockedSince != 10 {
		t.Errorf("load returned shared memory: %d", *again.BlockedSince)
	}
}

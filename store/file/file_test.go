package file

import (
	"bytes"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
)

func TestPutAndGet(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	meta, err := store.Put("report.pdf", []byte{0x00, 0x01, 0xff})
	if err != nil {
		t.Fatalf("failed to put file: %v", err)
	}
	if meta.Index != 1 || meta.FileName != "report.pdf" || meta.Size != 3 {
		t.Errorf("unexpected meta %+v", meta)
	}

	got, content, err := store.Get(meta.Index)
	if err != nil {
		t.Fatalf("expected to find file after storing it: %v", err)
	}
	if got != meta {
		t.Errorf("expected %+v, got %+v", meta, got)
	}
	if !bytes.Equal(content, []byte{0x00, 0x01, 0xff}) {
		t.Errorf("content corrupted: %v", content)
	}
}

func TestPersistenceAcrossRestart(t *testing.T) {
	dir := t.TempDir()

	store1, err := New(dir)
	if err != nil {
		t.Fatalf("failed to create store1: %v", err)
	}
	first, _ := store1.Put("a.txt", []byte("alpha"))
	store1.Put("b.txt", []byte("beta"))

	if err := store1.Flush(); err != nil {
		t.Fatalf("flush failed: %v", err)
	}

	// simulate restart
	store2, err := New(dir)
	if err != nil {
		t.Fatalf("failed to create store2: %v", err)
	}
	if store2.Count() != 2 {
		t.Errorf("expected count 2 after reload, got %d", store2.Count())
	}

	got, content, err := store2.Get(first.Index)
	if err != nil {
		t.Fatalf("expected file to survive restart: %v", err)
	}
	if got.FileName != "a.txt" || string(content) != "alpha" {
		t.Errorf("unexpected file after restart: %+v %q", got, content)
	}
}

func TestIndicesContinueAfterRestart(t *testing.T) {
	dir := t.TempDir()

	store1, _ := New(dir)
	store1.Put("a", nil)
	last, _ := store1.Put("b", nil)

	store2, _ := New(dir)
	next, err := store2.Put("c", nil)
	if err != nil {
		t.Fatalf("put after restart failed: %v", err)
	}
	if next.Index <= last.Index {
		t.Errorf("index went backwards across restart: %d then %d", last.Index, next.Index)
	}
}

func TestGetUnknown(t *testing.T) {
	store, _ := New(t.TempDir())

	_, _, err := store.Get(7)
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("expected fs.ErrNotExist, got %v", err)
	}
}

func TestEmptyDirOnFreshStart(t *testing.T) {
	store, err := New(filepath.Join(t.TempDir(), "nested", "files"))
	if err != nil {
		t.Fatalf("unexpected error on fresh start: %v", err)
	}
	if store.Count() != 0 {
		t.Errorf("expected empty store on fresh start, got %d", store.Count())
	}
}

func TestCorruptIndexFailsToLoad(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, indexName), []byte("{not json"), 0o644)

	if _, err := New(dir); err == nil {
		t.Error("expected an error loading a corrupt index")
	}
}

func TestNoTempFilesLeftBehind(t *testing.T) {
	dir := t.TempDir()
	store, _ := New(dir)
	store.Put("a", []byte("x"))

	matches, _ := filepath.Glob(filepath.Join(dir, "*.tmp"))
	if len(matches) != 0 {
		t.Errorf("expected no temp files, found %v", matches)
	}
}

package dcragent

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestArtifactKey(t *testing.T) {
	if got := ArtifactKey("7"); got != "report-7.json" {
		t.Fatalf("ArtifactKey(7) = %q", got)
	}
	if got := ArtifactKey("43/12 a"); got != "report-43_12_a.json" {
		t.Fatalf("sanitized key = %q", got)
	}
	if ArtifactKey("7") != ArtifactKey("7") {
		t.Fatal("key derivation must be deterministic")
	}
}

func TestFileStore_PutIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	fs, err := NewFileStore(dir)
	if err != nil {
		t.Fatal(err)
	}

	key := ArtifactKey("7")
	content := []byte(`{"report_id":"7"}`)
	if err := fs.Put(key, content); err != nil {
		t.Fatal(err)
	}
	if err := fs.Put(key, content); err != nil {
		t.Fatal(err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("files in archive = %d, want 1", len(entries))
	}
	b, err := os.ReadFile(filepath.Join(dir, key))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(b, content) {
		t.Fatalf("stored artifact = %q", b)
	}
}

func TestFileStore_PutReplacesWholeArtifact(t *testing.T) {
	dir := t.TempDir()
	fs, err := NewFileStore(dir)
	if err != nil {
		t.Fatal(err)
	}

	key := ArtifactKey("9")
	if err := fs.Put(key, []byte("first")); err != nil {
		t.Fatal(err)
	}
	if err := fs.Put(key, []byte("second")); err != nil {
		t.Fatal(err)
	}
	b, err := os.ReadFile(filepath.Join(dir, key))
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "second" {
		t.Fatalf("stored artifact = %q, want %q", b, "second")
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Fatalf("files in archive = %d, want 1 (no temp leftovers)", len(entries))
	}
}

package genbuild

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/opencoff/staticdb/internal/dbformat"
	"github.com/opencoff/staticdb/internal/mmapfile"
	"github.com/opencoff/staticdb/internal/store"
)

func writeManifest(t *testing.T, dir string, lines []string) string {
	t.Helper()
	path := filepath.Join(dir, "manifest.tsv")
	content := ""
	for _, l := range lines {
		content += l + "\n"
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	return path
}

func TestBuildScenarioOne(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "file-a"), []byte("hello"), 0644); err != nil {
		t.Fatalf("write file-a: %v", err)
	}
	manifest := writeManifest(t, dir, []string{
		"/a\t" + filepath.Join(dir, "file-a") + "\tContent-Type: text/plain",
	})

	out := filepath.Join(dir, "db")
	if err := Build(Config{Src: manifest, DB: out}); err != nil {
		t.Fatalf("Build: %v", err)
	}

	db, err := store.Open(out)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	defer db.Close()

	got, ok := db.Lookup([]byte("/a"))
	if !ok {
		t.Fatalf("lookup /a: miss")
	}
	want := "Content-Type: text/plain\r\n\r\nhello"
	if string(got) != want {
		t.Fatalf("payload = %q, want %q", got, want)
	}
}

func TestBuildWithDedup(t *testing.T) {
	dir := t.TempDir()
	same := []byte("identical bytes")
	if err := os.WriteFile(filepath.Join(dir, "f1"), same, 0644); err != nil {
		t.Fatalf("write f1: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "f2"), same, 0644); err != nil {
		t.Fatalf("write f2: %v", err)
	}
	manifest := writeManifest(t, dir, []string{
		"/one\t" + filepath.Join(dir, "f1"),
		"/two\t" + filepath.Join(dir, "f2"),
	})

	out := filepath.Join(dir, "db")
	if err := Build(Config{Src: manifest, DB: out, Dedup: true}); err != nil {
		t.Fatalf("Build: %v", err)
	}

	db, err := store.Open(out)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	defer db.Close()

	a, ok := db.Lookup([]byte("/one"))
	if !ok {
		t.Fatalf("lookup /one: miss")
	}
	b, ok := db.Lookup([]byte("/two"))
	if !ok {
		t.Fatalf("lookup /two: miss")
	}
	if string(a) != string(b) {
		t.Fatalf("deduped payloads differ: %q vs %q", a, b)
	}

	// The two lookups returning equal content isn't enough -- confirm
	// they actually share one (off,len) and that data.part0 holds a
	// single copy of the assembled payload (headerless body, so just a
	// leading "\r\n" plus the file bytes), not two.
	dataFile, err := mmapfile.Open(filepath.Join(out, store.DataFile))
	if err != nil {
		t.Fatalf("open data.part0: %v", err)
	}
	defer dataFile.Close()
	if got, want := len(dataFile.Payload()), len(a); got != want {
		t.Fatalf("data.part0 size = %d bytes, want %d (dedup should emit one copy)", got, want)
	}

	idxFile, err := mmapfile.Open(filepath.Join(out, store.IdxFile))
	if err != nil {
		t.Fatalf("open idx.part0: %v", err)
	}
	defer idxFile.Close()
	recs := dbformat.NewRecords(idxFile.Payload(), int(idxFile.Header.Records))
	if recs.Len() != 2 {
		t.Fatalf("records = %d, want 2", recs.Len())
	}
	r0, r1 := recs.At(0), recs.At(1)
	if r0.Off != r1.Off || r0.Len != r1.Len {
		t.Fatalf("records do not share (off,len): %+v vs %+v", r0, r1)
	}
}

func TestBuildEmptyManifest(t *testing.T) {
	dir := t.TempDir()
	manifest := writeManifest(t, dir, nil)
	out := filepath.Join(dir, "db")
	if err := Build(Config{Src: manifest, DB: out}); err != nil {
		t.Fatalf("Build: %v", err)
	}

	db, err := store.Open(out)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	defer db.Close()
	if db.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", db.Len())
	}
}

func TestBuildDuplicateNameFails(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "f1"), []byte("x"), 0644); err != nil {
		t.Fatalf("write f1: %v", err)
	}
	manifest := writeManifest(t, dir, []string{
		"/a\t" + filepath.Join(dir, "f1"),
		"/a\t" + filepath.Join(dir, "f1"),
	})
	out := filepath.Join(dir, "db")
	if err := Build(Config{Src: manifest, DB: out}); err == nil {
		t.Fatalf("expected error for duplicate manifest name")
	}
}

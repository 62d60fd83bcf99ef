package store

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/opencoff/staticdb/internal/dberr"
)

func buildDataset(t *testing.T, entries []Entry) (*Database, string) {
	t.Helper()
	dir := t.TempDir()
	w := NewWriter(dir)
	for _, e := range entries {
		if err := w.Add(e); err != nil {
			t.Fatalf("Add(%q): %v", e.Name, err)
		}
	}
	if err := w.Finish(0.85); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	db, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return db, dir
}

func TestRoundTripLookup(t *testing.T) {
	entries := make([]Entry, 0, 100)
	for i := 0; i < 100; i++ {
		entries = append(entries, Entry{
			Name:    []byte(fmt.Sprintf("/item-%03d", i)),
			Payload: []byte(fmt.Sprintf("Content-Type: text/plain\r\n\r\nbody-%03d", i)),
		})
	}
	db, _ := buildDataset(t, entries)
	defer db.Close()

	if db.Len() != len(entries) {
		t.Fatalf("Len() = %d, want %d", db.Len(), len(entries))
	}

	for _, e := range entries {
		got, ok := db.Lookup(e.Name)
		if !ok {
			t.Fatalf("Lookup(%q): miss", e.Name)
		}
		if string(got) != string(e.Payload) {
			t.Fatalf("Lookup(%q) = %q, want %q", e.Name, got, e.Payload)
		}
	}
}

func TestLookupMissForUnknownKey(t *testing.T) {
	db, _ := buildDataset(t, []Entry{{Name: []byte("/a"), Payload: []byte("hello")}})
	defer db.Close()

	if _, ok := db.Lookup([]byte("/does-not-exist")); ok {
		t.Fatalf("expected miss for unknown key")
	}
}

func TestEmptyDataset(t *testing.T) {
	db, _ := buildDataset(t, nil)
	defer db.Close()

	if db.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", db.Len())
	}
	if _, ok := db.Lookup([]byte("/anything")); ok {
		t.Fatalf("expected miss on empty dataset")
	}
}

func TestZeroBytePayload(t *testing.T) {
	db, _ := buildDataset(t, []Entry{{Name: []byte("/empty"), Payload: nil}})
	defer db.Close()

	got, ok := db.Lookup([]byte("/empty"))
	if !ok {
		t.Fatalf("expected hit for zero-byte payload")
	}
	if len(got) != 0 {
		t.Fatalf("payload = %q, want empty", got)
	}
}

func TestSingleByteKey(t *testing.T) {
	db, _ := buildDataset(t, []Entry{{Name: []byte("a"), Payload: []byte("x")}})
	defer db.Close()

	got, ok := db.Lookup([]byte("a"))
	if !ok || string(got) != "x" {
		t.Fatalf("Lookup(a) = %q, %v, want x, true", got, ok)
	}
}

func TestDuplicateNameRejected(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir)
	if err := w.Add(Entry{Name: []byte("/a"), Payload: []byte("1")}); err != nil {
		t.Fatalf("first Add: %v", err)
	}
	if err := w.Add(Entry{Name: []byte("/a"), Payload: []byte("2")}); err == nil {
		t.Fatalf("expected error adding duplicate name")
	}
}

func TestReopenAfterClose(t *testing.T) {
	db, dir := buildDataset(t, []Entry{{Name: []byte("/x"), Payload: []byte("y")}})
	db.Close()

	db2, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db2.Close()

	got, ok := db2.Lookup([]byte("/x"))
	if !ok || string(got) != "y" {
		t.Fatalf("Lookup after reopen = %q, %v", got, ok)
	}
}

func TestDedupSharesOffsetAndShrinksData(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir)
	same := []byte("identical payload bytes")
	if err := w.Add(Entry{Name: []byte("/one"), Payload: same, Dedup: true}); err != nil {
		t.Fatalf("Add /one: %v", err)
	}
	if err := w.Add(Entry{Name: []byte("/two"), Payload: append([]byte(nil), same...), Dedup: true}); err != nil {
		t.Fatalf("Add /two: %v", err)
	}
	if len(w.data) != len(same) {
		t.Fatalf("data.part0 payload staged at %d bytes, want %d (dedup should collapse to one copy)", len(w.data), len(same))
	}
	if w.records[0].Off != w.records[1].Off || w.records[0].Len != w.records[1].Len {
		t.Fatalf("records do not share (off,len): %+v vs %+v", w.records[0], w.records[1])
	}

	if err := w.Finish(0.85); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	db, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	if got := len(db.data.Payload()); got != len(same) {
		t.Fatalf("data.part0 on disk = %d bytes, want %d", got, len(same))
	}
}

func TestNoDedupKeepsSeparateCopies(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir)
	same := []byte("identical payload bytes")
	if err := w.Add(Entry{Name: []byte("/one"), Payload: same}); err != nil {
		t.Fatalf("Add /one: %v", err)
	}
	if err := w.Add(Entry{Name: []byte("/two"), Payload: append([]byte(nil), same...)}); err != nil {
		t.Fatalf("Add /two: %v", err)
	}
	if len(w.data) != 2*len(same) {
		t.Fatalf("data.part0 payload staged at %d bytes, want %d (no dedup requested)", len(w.data), 2*len(same))
	}
}

func TestTamperedDataFailsBadHash(t *testing.T) {
	db, dir := buildDataset(t, []Entry{{Name: []byte("/a"), Payload: []byte("hello world")}})
	db.Close()

	path := filepath.Join(dir, DataFile)
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		t.Fatalf("open data file: %v", err)
	}
	// flip one byte inside the payload region, past the 52-byte header
	if _, err := f.WriteAt([]byte{0xff}, 60); err != nil {
		t.Fatalf("tamper write: %v", err)
	}
	f.Close()

	if _, err := Open(dir); !dberr.Is(err, dberr.BadHash) {
		t.Fatalf("Open after tampering with data.part0: err = %v, want BadHash", err)
	}
}

package mmapfile

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/opencoff/staticdb/internal/dberr"
	"github.com/opencoff/staticdb/internal/dbformat"
)

func TestCreateWriteSealOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f.part0")
	id := uuid.New()
	payload := []byte("the quick brown fox")

	w, err := Create(path, uint64(len(payload)))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	copy(w.Payload(), payload)

	h := dbformat.NewHeader(dbformat.MagicData, id, 1, time.Unix(0, 0))
	h.Size = uint64(len(payload))
	h.Hash = dbformat.XXH3(payload)
	w.WriteHeader(h)

	if err := w.Seal(); err != nil {
		t.Fatalf("Seal: %v", err)
	}

	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	if string(r.Payload()) != string(payload) {
		t.Fatalf("Payload = %q, want %q", r.Payload(), payload)
	}
	if r.Header.UUID != id {
		t.Fatalf("UUID mismatch")
	}
}

func TestCreateRefusesExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f.part0")
	w, err := Create(path, 4)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := Create(path, 4); !dberr.Is(err, dberr.AlreadyExists) {
		t.Fatalf("Create over an existing file: err = %v, want AlreadyExists", err)
	}
	w.Abort()

	if _, err := Create(path, 4); err != nil {
		t.Fatalf("Create after Abort should succeed, got: %v", err)
	}
}

func TestOpenEmptyPayloadSucceeds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "short")
	w, err := Create(path, 0)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	h := dbformat.NewHeader(dbformat.MagicData, uuid.New(), 0, time.Unix(0, 0))
	h.Hash = dbformat.XXH3(nil)
	w.WriteHeader(h)
	if err := w.Seal(); err != nil {
		t.Fatalf("Seal: %v", err)
	}

	if _, err := Open(path); err != nil {
		t.Fatalf("Open of a valid empty-payload file should succeed: %v", err)
	}
}

func TestOpenTooShortFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "garbage")
	if err := os.WriteFile(path, []byte("too short"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := Open(path); err == nil {
		t.Fatalf("expected error opening a file shorter than the header")
	}
}

func TestTruncateShrinksPayload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f.part0")
	w, err := Create(path, 100)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	copy(w.Payload(), []byte("0123456789"))

	if err := w.Truncate(10); err != nil {
		t.Fatalf("Truncate: %v", err)
	}
	if len(w.Payload()) != 10 {
		t.Fatalf("Payload len = %d, want 10", len(w.Payload()))
	}

	h := dbformat.NewHeader(dbformat.MagicData, uuid.New(), 1, time.Unix(0, 0))
	h.Size = 10
	h.Hash = dbformat.XXH3(w.Payload())
	w.WriteHeader(h)
	if err := w.Seal(); err != nil {
		t.Fatalf("Seal: %v", err)
	}

	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()
	if string(r.Payload()) != "0123456789" {
		t.Fatalf("Payload = %q", r.Payload())
	}
}

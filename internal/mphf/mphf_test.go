package mphf

import (
	"bytes"
	"fmt"
	"testing"
)

func buildKeys(n int) [][]byte {
	keys := make([][]byte, n)
	for i := range keys {
		keys[i] = []byte(fmt.Sprintf("/path/to/key-%04d", i))
	}
	return keys
}

func TestMPHFBuildAndLookup(t *testing.T) {
	keys := buildKeys(500)

	b := NewBuilder()
	for _, k := range keys {
		if err := b.Add(k); err != nil {
			t.Fatalf("Add(%q): %v", k, err)
		}
	}

	m, err := b.Freeze(0.85)
	if err != nil {
		t.Fatalf("Freeze: %v", err)
	}
	if m.Len() != len(keys) {
		t.Fatalf("Len() = %d, want %d", m.Len(), len(keys))
	}

	seen := make(map[uint64]bool)
	for _, k := range keys {
		slot := m.Lookup(k)
		if slot >= uint64(m.Len()) {
			t.Fatalf("Lookup(%q) = %d out of range [0,%d)", k, slot, m.Len())
		}
		if seen[slot] {
			t.Fatalf("Lookup(%q) = %d, slot already used by another key", k, slot)
		}
		seen[slot] = true
	}
}

func TestMPHFDuplicateKeyRejected(t *testing.T) {
	b := NewBuilder()
	if err := b.Add([]byte("dup")); err != nil {
		t.Fatalf("first Add: %v", err)
	}
	if err := b.Add([]byte("dup")); err == nil {
		t.Fatalf("expected error adding duplicate key")
	}
}

func TestMPHFMarshalRoundTrip(t *testing.T) {
	keys := buildKeys(200)
	b := NewBuilder()
	for _, k := range keys {
		if err := b.Add(k); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	m, err := b.Freeze(0.8)
	if err != nil {
		t.Fatalf("Freeze: %v", err)
	}

	var buf bytes.Buffer
	if _, err := m.MarshalBinary(&buf); err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}

	m2, err := Unmarshal(buf.Bytes())
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if m2.Len() != m.Len() {
		t.Fatalf("Len mismatch after round-trip: %d != %d", m2.Len(), m.Len())
	}
	for _, k := range keys {
		if m.Lookup(k) != m2.Lookup(k) {
			t.Fatalf("Lookup(%q) mismatch after round-trip", k)
		}
	}
}

func TestMPHFEmptyBuilder(t *testing.T) {
	b := NewBuilder()
	m, err := b.Freeze(0.85)
	if err != nil {
		t.Fatalf("Freeze of empty builder: %v", err)
	}
	if b.Len() != 0 {
		t.Fatalf("builder Len() = %d, want 0", b.Len())
	}
	if m == nil {
		t.Fatalf("Freeze of empty builder returned nil MPHF")
	}
}

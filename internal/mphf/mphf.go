// Package mphf implements a minimum perfect hash function over byte-string
// keys (component 4.B of the spec). It wraps the uint64-domain CHD engine
// in chd.go -- grounded on opencoff/go-chd -- with the same key-folding
// trick opencoff's own example tooling uses: github.com/opencoff/go-fasthash
// maps each key into the uint64 domain CHD actually builds over (see
// opencoff-go-chd/example/text.go's makeRecord, and the *_test.go files of
// both opencoff-go-chd and opencoff-go-mph, which all use
// fasthash.Hash64(salt, key) for exactly this purpose).
//
// lookup(MPHF, bytes) on an input outside the build set returns an
// arbitrary slot -- per the spec's contract in §4.B, callers MUST confirm
// the hit by comparing against the canonical name stored out-of-band
// (done by internal/store's lookup engine, not here).
package mphf

import (
	"fmt"
	"io"

	"github.com/opencoff/go-fasthash"
)

// Builder accumulates distinct byte-string keys before Freeze produces
// an immutable MPHF.
type Builder struct {
	salt   uint64
	core   *chdBuilder
	seen   map[uint64]struct{}
	frozen bool
}

// NewBuilder creates an empty MPHF builder with a fresh random salt.
func NewBuilder() *Builder {
	salt := rand64()
	return &Builder{
		salt: salt,
		core: newCHDBuilder(rand64()),
		seen: make(map[uint64]struct{}),
	}
}

// Add registers 'key' with the builder. Returns an error if 'key' folds
// to the same uint64 domain value as a previously added key -- per
// spec §4.D this is surfaced to callers as a DuplicateKey condition,
// whether from a true duplicate name or (astronomically unlikely) a
// fasthash collision between two distinct names.
func (b *Builder) Add(key []byte) error {
	if b.frozen {
		return fmt.Errorf("mphf: builder already frozen")
	}
	h := fasthash.Hash64(b.salt, key)
	if _, dup := b.seen[h]; dup {
		return fmt.Errorf("mphf: duplicate key %q", key)
	}
	b.seen[h] = struct{}{}
	b.core.add(h)
	return nil
}

// Len returns the number of distinct keys added so far.
func (b *Builder) Len() int { return len(b.seen) }

// Freeze builds the perfect hash table at the given load factor
// (0 < load <= 1; 0.75-0.9 is the sweet spot per the CHD paper and
// opencoff/go-chd's own doc comments).
func (b *Builder) Freeze(load float64) (*MPHF, error) {
	if b.frozen {
		return nil, fmt.Errorf("mphf: builder already frozen")
	}
	c, err := b.core.freeze(load)
	if err != nil {
		return nil, err
	}
	b.frozen = true
	return &MPHF{salt: b.salt, core: c}, nil
}

// MPHF is an immutable minimum perfect hash function over a fixed set of
// byte-string keys.
type MPHF struct {
	salt uint64
	core *chd
}

// Len returns the number of keys (== the size of the codomain [0,Len())).
func (m *MPHF) Len() int { return m.core.Len() }

// Lookup returns a slot in [0, Len()) for 'key'. For keys outside the
// build set the return value is meaningless and MUST be confirmed by the
// caller against the canonical key storage.
func (m *MPHF) Lookup(key []byte) uint64 {
	h := fasthash.Hash64(m.salt, key)
	return m.core.find(h)
}

// mphfHeaderSize: 8 bytes of fold salt, followed by the chd's own header.
const mphfHeaderSize = 8

// MarshalBinary serializes the MPHF (fold salt + CHD displacement table)
// to 'w'.
func (m *MPHF) MarshalBinary(w io.Writer) (int, error) {
	var salt [mphfHeaderSize]byte
	for i := 0; i < 8; i++ {
		salt[i] = byte(m.salt >> (8 * i))
	}
	nw, err := writeAll(w, salt[:])
	if err != nil {
		return nw, err
	}
	n, err := m.core.marshalBinary(w)
	return nw + n, err
}

// Unmarshal reconstructs an MPHF from a fully-read, heap-resident byte
// slice (per spec §4.C, the hash file is never kept mmapped at runtime:
// it is opened, read past its 52-byte file header, deserialized here,
// then closed).
func Unmarshal(buf []byte) (*MPHF, error) {
	if len(buf) < mphfHeaderSize {
		return nil, fmt.Errorf("mphf: truncated header")
	}
	var salt uint64
	for i := 0; i < 8; i++ {
		salt |= uint64(buf[i]) << (8 * i)
	}
	c, err := unmarshalCHDMmap(buf[mphfHeaderSize:])
	if err != nil {
		return nil, err
	}
	return &MPHF{salt: salt, core: c}, nil
}

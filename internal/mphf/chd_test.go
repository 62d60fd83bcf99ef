package mphf

import "testing"

func TestCHDFreezeIsMinimal(t *testing.T) {
	b := newCHDBuilder(rand64())
	const n = 1000
	for i := uint64(0); i < n; i++ {
		b.add(mix(i + 1)) // spread out uint64 keys, avoid the trivial 0/1/2...
	}

	c, err := b.freeze(0.85)
	if err != nil {
		t.Fatalf("freeze: %v", err)
	}
	if c.Len() != n {
		t.Fatalf("Len() = %d, want %d (codomain must be exactly n, not the padded bucket width)", c.Len(), n)
	}
}

func TestCHDFindDistinctSlots(t *testing.T) {
	b := newCHDBuilder(rand64())
	keys := make([]uint64, 300)
	for i := range keys {
		keys[i] = mix(uint64(i) + 1)
		b.add(keys[i])
	}
	c, err := b.freeze(0.8)
	if err != nil {
		t.Fatalf("freeze: %v", err)
	}

	seen := make(map[uint64]bool)
	for _, k := range keys {
		s := c.find(k)
		if s >= uint64(c.Len()) {
			t.Fatalf("find(%x) = %d out of range [0,%d)", k, s, c.Len())
		}
		if seen[s] {
			t.Fatalf("find(%x) = %d, slot reused", k, s)
		}
		seen[s] = true
	}
}

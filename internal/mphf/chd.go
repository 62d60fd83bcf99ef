// chd.go -- minimal perfect hashing over a uint64 key domain using the
// Compress-Hash-Displace algorithm (http://cmph.sourceforge.net/papers/esa09.pdf).
//
// (c) Sudhi Herle 2018 -- adapted from opencoff/go-chd's chd.go. The
// bucket-sort-then-greedy-seed-search core is unchanged; the public
// surface is re-shaped as an unexported engine wrapped by MPHF (mphf.go)
// so that the package's public domain is byte strings, not uint64.
//
// One addition beyond the teacher: the teacher's own Chd.Len() returns
// the padded bucket-table width m = nextpow2(n/load) rather than the
// key count n, so raw CHD output is a perfect but not minimal hash --
// its codomain can exceed n. The spec's invariant 3 requires
// MPHF(K) in [0, records), so this implementation ranks the occupancy
// bitvector built during Freeze down to a dense [0, n) codomain, the
// same compaction classic CHD/BDZ implementations perform.
package mphf

import (
	"encoding/binary"
	"fmt"
	"io"
	"math/bits"
	"sort"
)

// number of displacement seeds to try per bucket before giving up
const maxSeedTries uint32 = 65536 * 2

type chdBuilder struct {
	keys []uint64
	salt uint64
}

func newCHDBuilder(salt uint64) *chdBuilder {
	return &chdBuilder{keys: make([]uint64, 0, 1024), salt: salt}
}

func (c *chdBuilder) add(key uint64) {
	c.keys = append(c.keys, key)
}

type bucket struct {
	slot uint64
	keys []uint64
}
type buckets []bucket

func (b buckets) Len() int           { return len(b) }
func (b buckets) Less(i, j int) bool { return len(b[i].keys) > len(b[j].keys) }
func (b buckets) Swap(i, j int)      { b[i], b[j] = b[j], b[i] }

// freeze builds the displacement table for load factor 'load' (0 < load <= 1),
// then compacts the m-wide raw codomain down to exactly len(c.keys) via rank.
func (c *chdBuilder) freeze(load float64) (*chd, error) {
	if load <= 0 || load > 1 {
		return nil, fmt.Errorf("mphf: invalid load factor %f", load)
	}

	n := uint64(len(c.keys))
	m := uint64(float64(len(c.keys)) / load)
	if m < 1 {
		m = 1
	}
	m = nextpow2(m)

	bs := make(buckets, m)
	seeds := make([]uint32, m)
	for i := range bs {
		bs[i].slot = uint64(i)
	}

	for _, key := range c.keys {
		j := rhash(0, key, m, c.salt)
		b := &bs[j]
		b.keys = append(b.keys, key)
	}

	occ := newBitVector(m)
	bOcc := newBitVector(m)

	sort.Sort(bs)

	tries := 0
	var maxseed uint32
	for i := range bs {
		b := &bs[i]
		if len(b.keys) == 0 {
			continue
		}
		found := false
		for s := uint32(1); s < maxSeedTries; s++ {
			bOcc.Reset()
			ok := true
			for _, key := range b.keys {
				h := rhash(s, key, m, c.salt)
				if occ.IsSet(h) || bOcc.IsSet(h) {
					ok = false
					break
				}
				bOcc.Set(h)
			}
			if !ok {
				tries++
				continue
			}
			occ.Merge(bOcc)
			seeds[b.slot] = s
			if s > maxseed {
				maxseed = s
			}
			found = true
			break
		}
		if !found {
			return nil, fmt.Errorf("mphf: no perfect hash found after %d tries", maxSeedTries)
		}
	}

	return &chd{
		seed:  makeSeeds(seeds, maxseed),
		salt:  c.salt,
		tries: tries,
		n:     n,
		rank:  newRank(occ),
	}, nil
}

func makeSeeds(s []uint32, max uint32) seeder {
	switch {
	case max < 256:
		return newU8(s)
	case max < 65536:
		return newU16(s)
	default:
		return newU32(s)
	}
}

// rank compacts a sparse occupancy bitvector of width m into a dense
// [0, popcount) codomain via a word-level prefix-sum table.
type rank struct {
	occ    *bitVector
	prefix []uint32 // prefix[i] = popcount of all bits in words [0,i)
}

func newRank(occ *bitVector) *rank {
	prefix := make([]uint32, len(occ.v)+1)
	var sum uint32
	for i, w := range occ.v {
		prefix[i] = sum
		sum += uint32(bits.OnesCount64(w))
	}
	prefix[len(occ.v)] = sum
	return &rank{occ: occ, prefix: prefix}
}

// count returns the number of set bits in the occupancy vector.
func (r *rank) count() int { return int(r.prefix[len(r.prefix)-1]) }

// of returns the dense rank (number of set bits strictly before 'pos')
// of bit 'pos', which must itself be set.
func (r *rank) of(pos uint64) uint64 {
	word := pos / 64
	bit := pos % 64
	low := r.occ.v[word] & (uint64(1)<<bit - 1)
	return uint64(r.prefix[word]) + uint64(bits.OnesCount64(low))
}

func (r *rank) marshal(w io.Writer) (int, error) {
	buf := u64sToBytes(r.occ.v)
	return writeAll(w, buf)
}

func unmarshalRank(words int, buf []byte) (*rank, []byte, error) {
	need := words * 8
	if len(buf) < need {
		return nil, nil, fmt.Errorf("mphf: truncated occupancy bitvector")
	}
	occ := &bitVector{v: bytesToU64s(buf[:need])}
	return newRank(occ), buf[need:], nil
}

// chd is a frozen perfect hash table over the uint64 domain, compacted
// to a minimal [0, n) codomain.
type chd struct {
	seed  seeder
	salt  uint64
	tries int
	n     uint64
	rank  *rank
}

func (c *chd) Len() int { return int(c.n) }

// find returns an index in [0, Len()) for key 'k'. Meaningful only for
// keys from the original build set -- callers must confirm the hit.
func (c *chd) find(k uint64) uint64 {
	m := uint64(c.seed.length())
	h := rhash(0, k, m, c.salt)
	raw := rhash(c.seed.seed(h), k, m, c.salt)
	if raw >= m || !c.rank.occ.IsSet(raw) {
		return c.n // guaranteed out of [0,n): a safe "miss" sentinel
	}
	return c.rank.of(raw)
}

const chdHeaderSize = 24 // version(1) + seedsize(1) + resv(6) + salt(8) + n(8)

func (c *chd) marshalBinary(w io.Writer) (int, error) {
	var hdr [chdHeaderSize]byte
	hdr[0] = 1
	hdr[1] = c.seed.seedsize()
	binary.LittleEndian.PutUint64(hdr[8:16], c.salt)
	binary.LittleEndian.PutUint64(hdr[16:24], c.n)

	nw, err := writeAll(w, hdr[:])
	if err != nil {
		return nw, err
	}

	var wordsBuf [8]byte
	binary.LittleEndian.PutUint64(wordsBuf[:], uint64(len(c.rank.occ.v)))
	n2, err := writeAll(w, wordsBuf[:])
	nw += n2
	if err != nil {
		return nw, err
	}

	rn, err := c.rank.marshal(w)
	nw += rn
	if err != nil {
		return nw, err
	}
	m, err := c.seed.marshal(w)
	return nw + m, err
}

func unmarshalCHDMmap(buf []byte) (*chd, error) {
	if len(buf) < chdHeaderSize {
		return nil, fmt.Errorf("mphf: truncated chd header")
	}
	hdr := buf[:chdHeaderSize]
	if hdr[0] != 1 {
		return nil, fmt.Errorf("mphf: unsupported chd version %d", hdr[0])
	}

	size := hdr[1]
	salt := binary.LittleEndian.Uint64(hdr[8:16])
	n := binary.LittleEndian.Uint64(hdr[16:24])
	rest := buf[chdHeaderSize:]

	// seed table length (number of buckets m) is recoverable only once
	// the occupancy bitvector is known; its word count is encoded by
	// its own length, which we infer from the seed table's declared
	// element count after reading it back-to-front is impractical, so
	// the occupancy bitvector is stored with an explicit word count.
	if len(rest) < 8 {
		return nil, fmt.Errorf("mphf: truncated occupancy length")
	}
	words := int(binary.LittleEndian.Uint64(rest[:8]))
	rest = rest[8:]

	r, rest, err := unmarshalRank(words, rest)
	if err != nil {
		return nil, err
	}

	vals := rest
	var s seeder
	switch size {
	case 1:
		u := &u8Seeder{}
		if err := u.unmarshal(vals); err != nil {
			return nil, err
		}
		s = u
	case 2:
		if len(vals)%2 != 0 {
			return nil, fmt.Errorf("mphf: truncated 16-bit seed table")
		}
		u := &u16Seeder{}
		if err := u.unmarshal(vals); err != nil {
			return nil, err
		}
		s = u
	case 4:
		if len(vals)%4 != 0 {
			return nil, fmt.Errorf("mphf: truncated 32-bit seed table")
		}
		u := &u32Seeder{}
		if err := u.unmarshal(vals); err != nil {
			return nil, err
		}
		s = u
	default:
		return nil, fmt.Errorf("mphf: unknown seed size %d", size)
	}

	return &chd{seed: s, salt: salt, n: n, rank: r}, nil
}

// seeder abstracts the per-bucket displacement seed table at its
// compressed width (1, 2 or 4 bytes per seed, chosen by the largest
// seed value actually produced during Freeze).
type seeder interface {
	seed(uint64) uint32
	marshal(w io.Writer) (int, error)
	unmarshal(b []byte) error
	seedsize() byte
	length() int
}

var (
	_ seeder = &u8Seeder{}
	_ seeder = &u16Seeder{}
	_ seeder = &u32Seeder{}
)

type u8Seeder struct{ seeds []uint8 }

func newU8(v []uint32) seeder {
	bs := make([]byte, len(v))
	for i, a := range v {
		bs[i] = byte(a & 0xff)
	}
	return &u8Seeder{seeds: bs}
}
func (u *u8Seeder) seed(v uint64) uint32            { return uint32(u.seeds[v]) }
func (u *u8Seeder) length() int                     { return len(u.seeds) }
func (u *u8Seeder) seedsize() byte                  { return 1 }
func (u *u8Seeder) marshal(w io.Writer) (int, error) { return writeAll(w, u.seeds) }
func (u *u8Seeder) unmarshal(b []byte) error {
	u.seeds = b
	return nil
}

type u16Seeder struct{ seeds []uint16 }

func newU16(v []uint32) seeder {
	us := make([]uint16, len(v))
	for i, a := range v {
		us[i] = uint16(a & 0xffff)
	}
	return &u16Seeder{seeds: us}
}
func (u *u16Seeder) seed(v uint64) uint32 { return uint32(u.seeds[v]) }
func (u *u16Seeder) length() int          { return len(u.seeds) }
func (u *u16Seeder) seedsize() byte       { return 2 }
func (u *u16Seeder) marshal(w io.Writer) (int, error) {
	return writeAll(w, u16sToBytes(u.seeds))
}
func (u *u16Seeder) unmarshal(b []byte) error {
	u.seeds = bytesToU16s(b)
	return nil
}

type u32Seeder struct{ seeds []uint32 }

func newU32(v []uint32) seeder { return &u32Seeder{seeds: v} }
func (u *u32Seeder) seed(v uint64) uint32 { return u.seeds[v] }
func (u *u32Seeder) length() int          { return len(u.seeds) }
func (u *u32Seeder) seedsize() byte       { return 4 }
func (u *u32Seeder) marshal(w io.Writer) (int, error) {
	return writeAll(w, u32sToBytes(u.seeds))
}
func (u *u32Seeder) unmarshal(b []byte) error {
	u.seeds = bytesToU32s(b)
	return nil
}

func u16sToBytes(v []uint16) []byte {
	b := make([]byte, len(v)*2)
	for i, x := range v {
		binary.LittleEndian.PutUint16(b[i*2:], x)
	}
	return b
}

func bytesToU16s(b []byte) []uint16 {
	n := len(b) / 2
	v := make([]uint16, n)
	for i := 0; i < n; i++ {
		v[i] = binary.LittleEndian.Uint16(b[i*2:])
	}
	return v
}

func u32sToBytes(v []uint32) []byte {
	b := make([]byte, len(v)*4)
	for i, x := range v {
		binary.LittleEndian.PutUint32(b[i*4:], x)
	}
	return b
}

func bytesToU32s(b []byte) []uint32 {
	n := len(b) / 4
	v := make([]uint32, n)
	for i := 0; i < n; i++ {
		v[i] = binary.LittleEndian.Uint32(b[i*4:])
	}
	return v
}

func u64sToBytes(v []uint64) []byte {
	b := make([]byte, len(v)*8)
	for i, x := range v {
		binary.LittleEndian.PutUint64(b[i*8:], x)
	}
	return b
}

func bytesToU64s(b []byte) []uint64 {
	n := len(b) / 8
	v := make([]uint64, n)
	for i := 0; i < n; i++ {
		v[i] = binary.LittleEndian.Uint64(b[i*8:])
	}
	return v
}

// mix is Zi Long Tan's superfast-hash compression function.
func mix(h uint64) uint64 {
	h ^= h >> 23
	h *= 0x2127599bf4325c37
	h ^= h >> 47
	return h
}

// rhash hashes 'key' with displacement seed 'seed' and reduces modulo
// 'sz' (a power of 2, so the reduction is a mask).
func rhash(seed uint32, key, sz, salt uint64) uint64 {
	const m uint64 = 0x880355f21e6d1965
	h := key

	h *= m
	h ^= mix(salt)
	h *= m
	h ^= mix(uint64(seed))
	h *= m
	return mix(h) & (sz - 1)
}

func nextpow2(n uint64) uint64 {
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	return n + 1
}

func writeAll(w io.Writer, buf []byte) (int, error) {
	n, err := w.Write(buf)
	if err != nil {
		return n, err
	}
	if n != len(buf) {
		return n, fmt.Errorf("mphf: short write (wrote %d of %d)", n, len(buf))
	}
	return n, nil
}

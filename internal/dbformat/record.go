package dbformat

import "encoding/binary"

// RecordSize is the fixed width of one idx.part0 record:
// off(8) + noff(8) + len(4) + nlen(2) = 22 bytes, matching the "≈22
// bytes" sizing in spec §4.C. See SPEC_FULL.md's "Index record widths"
// Open Question writeup for the chosen field widths and their implied
// limits (payload <= 2^32-1 bytes, name <= 2^16-1 bytes).
const RecordSize = 8 + 8 + 4 + 2

// MaxPayloadLen is the largest payload length representable by Len.
const MaxPayloadLen = 1<<32 - 1

// MaxNameLen is the largest canonical-name length (including the
// trailing NUL) representable by NLen.
const MaxNameLen = 1<<16 - 1

// Record is one idx.part0 entry: off/len locate the payload inside
// data.part0, noff/nlen locate the canonical key (with trailing NUL)
// inside names.part0.
type Record struct {
	Off  uint64
	NOff uint64
	Len  uint32
	NLen uint16
}

// Encode writes the record into 'b', which must be at least RecordSize
// bytes.
func (r Record) Encode(b []byte) {
	le := binary.LittleEndian
	le.PutUint64(b[0:8], r.Off)
	le.PutUint64(b[8:16], r.NOff)
	le.PutUint32(b[16:20], r.Len)
	le.PutUint16(b[20:22], r.NLen)
}

// DecodeRecord parses a RecordSize-byte slice.
func DecodeRecord(b []byte) Record {
	le := binary.LittleEndian
	return Record{
		Off:  le.Uint64(b[0:8]),
		NOff: le.Uint64(b[8:16]),
		Len:  le.Uint32(b[16:20]),
		NLen: le.Uint16(b[20:22]),
	}
}

// Records views a raw idx payload slice as a sequence of Record values
// without copying -- used by the lookup engine directly against the
// mmap'd idx file.
type Records struct {
	buf []byte
	n   int
}

// NewRecords wraps 'buf' (the idx.part0 payload, HeaderSize bytes already
// stripped) as a view of 'n' fixed-width records.
func NewRecords(buf []byte, n int) Records {
	return Records{buf: buf, n: n}
}

// Len returns the number of records in the view.
func (r Records) Len() int { return r.n }

// At decodes record 'i'. Callers must ensure 0 <= i < Len().
func (r Records) At(i int) Record {
	off := i * RecordSize
	return DecodeRecord(r.buf[off : off+RecordSize])
}

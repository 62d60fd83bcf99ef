// Package store implements component 4.C/4.F of the spec: the four-file
// dataset layout built on internal/mmapfile and internal/dbformat, and
// the lookup engine that ties the MPHF, the index, the names file and
// the data file together into a single name -> payload operation.
//
// Grounded on opencoff-go-chd/dbwriter.go (sequential offset-tracking
// writer building toward a final sealed file) and dbreader.go (open +
// verify + serve), generalized from the single offset-table file those
// types manage to the four-file layout db.c's db_build/db_open use.
package store

import (
	"bytes"
	"time"

	"github.com/google/uuid"

	"github.com/opencoff/staticdb/internal/dberr"
	"github.com/opencoff/staticdb/internal/dbformat"
	"github.com/opencoff/staticdb/internal/mmapfile"
	"github.com/opencoff/staticdb/internal/mphf"
)

// File names of the four parts, relative to a dataset directory.
const (
	HashFile  = "hash.part0"
	IdxFile   = "idx.part0"
	DataFile  = "data.part0"
	NamesFile = "names.part0"
)

// Entry is one record a builder accumulates before Finish: a canonical
// name (without the trailing NUL -- Writer appends it) and its payload
// bytes. Dedup, when set, tells Add to check whether an identical
// payload has already been written and, if so, reuse its (off, len)
// in data.part0 instead of appending a fresh copy -- the single place
// both internal/genbuild's content-hash dedup and internal/tilebuild's
// structural data_id dedup bottom out.
type Entry struct {
	Name    []byte
	Payload []byte
	Dedup   bool
}

// dataRef records where a previously-written payload landed, so a later
// Dedup hit can point its record at the same bytes instead of
// re-appending them.
type dataRef struct {
	off uint64
	len uint32
}

// Writer accumulates (name, payload) pairs and produces a sealed,
// immutable four-file dataset.
type Writer struct {
	dir string
	id  uuid.UUID

	names   []byte // names.part0 payload being assembled
	data    []byte // data.part0 payload being assembled
	records []dbformat.Record

	dataIndex map[uint64]dataRef // xxh3(payload) -> where it landed, for Dedup entries

	mphfB *mphf.Builder
}

// NewWriter begins a new dataset under 'dir', which must not yet
// contain any of the four part files.
func NewWriter(dir string) *Writer {
	return &Writer{
		dir:       dir,
		id:        uuid.New(),
		mphfB:     mphf.NewBuilder(),
		dataIndex: make(map[uint64]dataRef),
	}
}

// Add appends one record to the dataset being built. No MPHF slot is
// assigned here: Finish places each record at its slot once the MPHF is
// frozen, so callers must not rely on slot indices before Finish returns.
func (w *Writer) Add(e Entry) error {
	if err := w.mphfB.Add(e.Name); err != nil {
		return dberr.Wrap(dberr.DuplicateKey, string(e.Name), err)
	}

	noff := uint64(len(w.names))
	w.names = append(w.names, e.Name...)
	w.names = append(w.names, 0)
	nlen := len(e.Name) + 1
	if nlen > dbformat.MaxNameLen {
		return dberr.New(dberr.SourceFormat, "name exceeds maximum length")
	}

	if len(e.Payload) > dbformat.MaxPayloadLen {
		return dberr.New(dberr.SourceFormat, "payload exceeds maximum length")
	}
	off, plen := w.addPayload(e)

	w.records = append(w.records, dbformat.Record{
		Off:  off,
		NOff: noff,
		Len:  plen,
		NLen: uint16(nlen),
	})
	return nil
}

// addPayload returns the (off, len) of e.Payload within data.part0,
// reusing a prior identical payload's bytes when e.Dedup is set and a
// content match is found.
func (w *Writer) addPayload(e Entry) (uint64, uint32) {
	if e.Dedup {
		h := dbformat.XXH3(e.Payload)
		if ref, hit := w.dataIndex[h]; hit {
			if bytes.Equal(w.data[ref.off:ref.off+uint64(ref.len)], e.Payload) {
				return ref.off, ref.len
			}
		}
		off := uint64(len(w.data))
		plen := uint32(len(e.Payload))
		w.data = append(w.data, e.Payload...)
		w.dataIndex[h] = dataRef{off: off, len: plen}
		return off, plen
	}

	off := uint64(len(w.data))
	plen := uint32(len(e.Payload))
	w.data = append(w.data, e.Payload...)
	return off, plen
}

// Len returns the number of records added so far.
func (w *Writer) Len() int { return len(w.records) }

// Finish freezes the MPHF, writes all four files (idx.part0 reordered
// into MPHF slot order) and seals them. load is the CHD build load
// factor (see mphf.Builder.Freeze).
func (w *Writer) Finish(load float64) error {
	m, err := w.mphfB.Freeze(load)
	if err != nil {
		return dberr.Wrap(dberr.MphfBuild, w.dir, err)
	}

	n := len(w.records)
	slotted := make([]dbformat.Record, n)
	for i, rec := range w.records {
		slot := m.Lookup(nameOf(w.names, rec))
		slotted[slot] = rec
	}

	created := time.Now()

	if err := w.writeIdx(slotted, created); err != nil {
		return err
	}
	if err := w.writeData(created); err != nil {
		return err
	}
	if err := w.writeNames(created); err != nil {
		return err
	}
	if err := w.writeHash(m, uint32(n), created); err != nil {
		return err
	}
	return nil
}

func nameOf(names []byte, rec dbformat.Record) []byte {
	end := rec.NOff + uint64(rec.NLen) - 1 // drop trailing NUL
	return names[rec.NOff:end]
}

func (w *Writer) writeIdx(recs []dbformat.Record, created time.Time) error {
	payloadSize := uint64(len(recs)) * dbformat.RecordSize
	f, err := mmapfile.Create(w.path(IdxFile), payloadSize)
	if err != nil {
		return err
	}
	buf := f.Payload()
	for i, r := range recs {
		r.Encode(buf[i*dbformat.RecordSize : (i+1)*dbformat.RecordSize])
	}
	return w.seal(f, dbformat.MagicIndex, uint32(len(recs)), created)
}

func (w *Writer) writeData(created time.Time) error {
	f, err := mmapfile.Create(w.path(DataFile), uint64(len(w.data)))
	if err != nil {
		return err
	}
	copy(f.Payload(), w.data)
	return w.seal(f, dbformat.MagicData, uint32(len(w.records)), created)
}

func (w *Writer) writeNames(created time.Time) error {
	f, err := mmapfile.Create(w.path(NamesFile), uint64(len(w.names)))
	if err != nil {
		return err
	}
	copy(f.Payload(), w.names)
	return w.seal(f, dbformat.MagicNames, uint32(len(w.records)), created)
}

func (w *Writer) writeHash(m *mphf.MPHF, records uint32, created time.Time) error {
	var buf bytes.Buffer
	if _, err := m.MarshalBinary(&buf); err != nil {
		return dberr.Wrap(dberr.MphfBuild, w.dir, err)
	}

	f, err := mmapfile.Create(w.path(HashFile), uint64(buf.Len()))
	if err != nil {
		return err
	}
	copy(f.Payload(), buf.Bytes())
	return w.seal(f, dbformat.MagicHash, records, created)
}

func (w *Writer) seal(f *mmapfile.Writable, magic uint32, records uint32, created time.Time) error {
	payload := f.Payload()
	h := dbformat.NewHeader(magic, w.id, records, created)
	h.Size = uint64(len(payload))
	h.Hash = dbformat.XXH3(payload)
	f.WriteHeader(h)
	if err := f.Seal(); err != nil {
		return err
	}
	return nil
}

func (w *Writer) path(name string) string {
	return w.dir + "/" + name
}

package store

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"

	"github.com/opencoff/staticdb/internal/dberr"
	"github.com/opencoff/staticdb/internal/dbformat"
	"github.com/opencoff/staticdb/internal/mmapfile"
	"github.com/opencoff/staticdb/internal/mphf"
)

// Database is an opened, verified, immutable dataset: idx.part0 and
// data.part0 stay mmap'd for the life of the Database (component 4.A's
// zero-copy contract); hash.part0 is read once into a heap-resident
// MPHF per spec §4.C and then closed.
type Database struct {
	idx   *mmapfile.ReadOnly
	data  *mmapfile.ReadOnly
	names *mmapfile.ReadOnly

	recs dbformat.Records
	m    *mphf.MPHF

	id      uuid.UUID
	records uint32
}

// Open verifies and maps all four files of the dataset rooted at 'dir',
// checking the cross-file invariants from spec §3 (I-1..I-4): identical
// UUID, identical record count, MPHF domain size equal to the record
// count, and (implicitly, via mmapfile.Open) a verified whole-file hash
// per file.
func Open(dir string) (*Database, error) {
	idx, err := mmapfile.Open(dir + "/" + IdxFile)
	if err != nil {
		return nil, err
	}
	data, err := mmapfile.Open(dir + "/" + DataFile)
	if err != nil {
		idx.Close()
		return nil, err
	}
	names, err := mmapfile.Open(dir + "/" + NamesFile)
	if err != nil {
		idx.Close()
		data.Close()
		return nil, err
	}
	hash, err := mmapfile.Open(dir + "/" + HashFile)
	if err != nil {
		idx.Close()
		data.Close()
		names.Close()
		return nil, err
	}

	db := &Database{idx: idx, data: data, names: names}

	if err := db.checkInvariants(idx, data, names, hash); err != nil {
		hash.Close()
		db.Close()
		return nil, err
	}

	hashBuf := make([]byte, len(hash.Payload()))
	copy(hashBuf, hash.Payload())
	if err := hash.Close(); err != nil {
		db.Close()
		return nil, err
	}

	m, err := mphf.Unmarshal(hashBuf)
	if err != nil {
		db.Close()
		return nil, dberr.Wrap(dberr.MphfLoad, dir, err)
	}
	if uint64(m.Len()) != uint64(idx.Header.Records) {
		db.Close()
		return nil, &dberr.Error{Kind: dberr.RecordCountMismatch, Path: dir}
	}

	db.m = m
	db.recs = dbformat.NewRecords(idx.Payload(), int(idx.Header.Records))
	db.id = idx.Header.UUID
	db.records = idx.Header.Records

	slog.Info("dataset opened",
		"dir", dir,
		"uuid", idx.Header.UUID.String(),
		"records", db.records)

	return db, nil
}

func (db *Database) checkInvariants(idx, data, names, hash *mmapfile.ReadOnly) error {
	parts := []*mmapfile.ReadOnly{idx, data, names, hash}
	for _, p := range parts[1:] {
		if p.Header.UUID != idx.Header.UUID {
			return &dberr.Error{Kind: dberr.UuidMismatch}
		}
	}
	for _, p := range parts {
		if p.Header.Records != idx.Header.Records {
			return &dberr.Error{Kind: dberr.RecordCountMismatch}
		}
	}
	if idx.Header.Records > 0 {
		want := uint64(idx.Header.Records) * dbformat.RecordSize
		if uint64(len(idx.Payload())) != want {
			return &dberr.Error{Kind: dberr.SizeMismatch, Path: "idx.part0"}
		}
	}
	return nil
}

// Len returns the number of records in the dataset.
func (db *Database) Len() int { return int(db.records) }

// UUID returns the dataset's identity, shared across its four files.
func (db *Database) UUID() uuid.UUID { return db.id }

// Close unmaps idx.part0, data.part0 and names.part0.
func (db *Database) Close() error {
	var first error
	if db.names != nil {
		if err := db.names.Close(); err != nil && first == nil {
			first = err
		}
	}
	if db.data != nil {
		if err := db.data.Close(); err != nil && first == nil {
			first = err
		}
	}
	if db.idx != nil {
		if err := db.idx.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Lookup implements the 5-step algorithm of spec §4.F: fold the key
// through the MPHF, fetch the candidate index record, compare the
// stored canonical name against 'key' to reject false positives
// (required because MPHF membership is not itself verified), and
// return the payload as a zero-copy slice borrowed from the mmap.
//
// The returned slice aliases the Database's mapping and is valid until
// Close.
func (db *Database) Lookup(key []byte) ([]byte, bool) {
	if db.records == 0 {
		return nil, false
	}
	slot := db.m.Lookup(key)
	if slot >= uint64(db.recs.Len()) {
		return nil, false
	}
	rec := db.recs.At(int(slot))

	namesBuf := db.names.Payload()
	end := rec.NOff + uint64(rec.NLen)
	if end > uint64(len(namesBuf)) || rec.NLen == 0 {
		return nil, false
	}
	stored := namesBuf[rec.NOff : end-1] // drop trailing NUL
	if !bytes.Equal(stored, key) {
		return nil, false
	}

	dataBuf := db.data.Payload()
	off := rec.Off
	dend := off + uint64(rec.Len)
	if dend > uint64(len(dataBuf)) {
		return nil, false
	}
	return dataBuf[off:dend], true
}

// WriteVerifyReport writes a human-readable diagnostic summary of the
// opened dataset to w -- the supplemented "-V" verify mode's output.
func (db *Database) WriteVerifyReport(w io.Writer) error {
	_, err := fmt.Fprintf(w, "uuid: %s\nrecords: %d\nidx bytes: %d\ndata bytes: %d\nnames bytes: %d\n",
		db.id, db.records, len(db.idx.Payload()), len(db.data.Payload()), len(db.names.Payload()))
	return err
}

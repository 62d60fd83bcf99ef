// Package mmapfile implements component 4.A of the spec: a file with a
// fixed 52-byte integrity header, opened either for fresh read-write
// creation or for verified read-only mapping.
//
// Grounded on opencoff-go-chd/dbreader.go, which mmaps its offset table
// directly via syscall.Mmap/Munmap; this package uses the more modern
// golang.org/x/sys/unix equivalents (as rpcpool-yellowstone-faithful and
// distr1-distri do throughout their trees) and extends the pattern to the
// read-write creation path, which the spec requires (§4.A "create") but
// none of the Go examples implement -- only original_source/src/db.c's
// db_file_create (posix_fallocate + mmap MAP_SHARED) does. That C function
// is this file's create() grounding.
package mmapfile

import (
	"os"

	"golang.org/x/sys/unix"

	"github.com/opencoff/staticdb/internal/dbformat"
	"github.com/opencoff/staticdb/internal/dberr"
)

// Writable is a freshly created file, mapped read-write, whose payload
// the caller fills in before Seal().
type Writable struct {
	fd   *os.File
	data []byte
	path string
}

// Create pre-allocates a fresh file of dbformat.HeaderSize+size bytes at
// 'path' and maps it read-write. It fails with dberr.AlreadyExists if the
// path exists, matching the spec's "builder refuses to overwrite existing
// files" lifecycle rule.
func Create(path string, size uint64) (*Writable, error) {
	if _, err := os.Stat(path); err == nil {
		return nil, &dberr.Error{Kind: dberr.AlreadyExists, Path: path}
	}

	fd, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0660)
	if err != nil {
		if os.IsExist(err) {
			return nil, &dberr.Error{Kind: dberr.AlreadyExists, Path: path}
		}
		return nil, dberr.Wrap(dberr.DiskSpace, path, err)
	}

	total := int64(dbformat.HeaderSize) + int64(size)
	if err := unix.Fallocate(int(fd.Fd()), 0, 0, total); err != nil {
		fd.Close()
		os.Remove(path)
		return nil, dberr.Wrap(dberr.DiskSpace, path, err)
	}

	data, err := unix.Mmap(int(fd.Fd()), 0, int(total), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		fd.Close()
		os.Remove(path)
		return nil, dberr.Wrap(dberr.MapFailed, path, err)
	}
	_ = unix.Madvise(data, unix.MADV_RANDOM|unix.MADV_WILLNEED)

	return &Writable{fd: fd, data: data, path: path}, nil
}

// Payload returns the mutable region after the header, exactly 'size'
// bytes as requested in Create.
func (w *Writable) Payload() []byte { return w.data[dbformat.HeaderSize:] }

// WriteHeader writes the 52-byte header in place at offset 0. Callers
// call this once, after the payload has been fully written and its
// content hash computed.
func (w *Writable) WriteHeader(h dbformat.Header) {
	h.Encode(w.data[:dbformat.HeaderSize])
}

// Truncate shrinks the backing file (and the mapping) to
// dbformat.HeaderSize+newPayloadSize bytes, for a caller whose final
// payload size is known only after the payload has been written.
func (w *Writable) Truncate(newPayloadSize uint64) error {
	total := int64(dbformat.HeaderSize) + int64(newPayloadSize)
	if err := unix.Munmap(w.data); err != nil {
		return dberr.Wrap(dberr.MapFailed, w.path, err)
	}
	if err := w.fd.Truncate(total); err != nil {
		return dberr.Wrap(dberr.DiskSpace, w.path, err)
	}
	data, err := unix.Mmap(int(w.fd.Fd()), 0, int(total), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return dberr.Wrap(dberr.MapFailed, w.path, err)
	}
	w.data = data
	return nil
}

// Seal flushes the mapping to disk, unmaps it and closes the file.
func (w *Writable) Seal() error {
	if err := unix.Msync(w.data, unix.MS_SYNC); err != nil {
		return dberr.Wrap(dberr.WriteError, w.path, err)
	}
	if err := unix.Munmap(w.data); err != nil {
		return dberr.Wrap(dberr.MapFailed, w.path, err)
	}
	return w.fd.Close()
}

// Abort discards a partially-built file: unmap, close, remove.
func (w *Writable) Abort() {
	unix.Munmap(w.data)
	w.fd.Close()
	os.Remove(w.path)
}

// ReadOnly is a verified, read-only mapped file.
type ReadOnly struct {
	fd     *os.File
	data   []byte
	Header dbformat.Header
	path   string
}

// Open maps 'path' read-only and verifies the header: magic, size
// consistency and XXH3-64 content hash (spec §4.A "open").
func Open(path string) (*ReadOnly, error) {
	fd, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &dberr.Error{Kind: dberr.NotAFile, Path: path, Err: err}
		}
		return nil, dberr.Wrap(dberr.NotAFile, path, err)
	}

	st, err := fd.Stat()
	if err != nil {
		fd.Close()
		return nil, dberr.Wrap(dberr.NotAFile, path, err)
	}
	if !st.Mode().IsRegular() {
		fd.Close()
		return nil, &dberr.Error{Kind: dberr.NotAFile, Path: path}
	}
	if st.Size() < int64(dbformat.HeaderSize) {
		fd.Close()
		return nil, &dberr.Error{Kind: dberr.TooSmall, Path: path}
	}

	data, err := unix.Mmap(int(fd.Fd()), 0, int(st.Size()), unix.PROT_READ, unix.MAP_PRIVATE)
	if err != nil {
		fd.Close()
		return nil, dberr.Wrap(dberr.MapFailed, path, err)
	}
	_ = unix.Madvise(data, unix.MADV_RANDOM|unix.MADV_WILLNEED)

	hdr, err := dbformat.DecodeHeader(data[:dbformat.HeaderSize])
	if err != nil {
		unix.Munmap(data)
		fd.Close()
		return nil, dberr.Wrap(dberr.BadMagic, path, err)
	}

	payload := data[dbformat.HeaderSize:]
	if uint64(len(payload)) != hdr.Size {
		unix.Munmap(data)
		fd.Close()
		return nil, &dberr.Error{Kind: dberr.SizeMismatch, Path: path}
	}

	if dbformat.XXH3(payload) != hdr.Hash {
		unix.Munmap(data)
		fd.Close()
		return nil, &dberr.Error{Kind: dberr.BadHash, Path: path}
	}

	return &ReadOnly{fd: fd, data: data, Header: hdr, path: path}, nil
}

// Payload returns the verified payload region (everything after the
// header), borrowed from the mmap for the lifetime of this ReadOnly.
func (r *ReadOnly) Payload() []byte { return r.data[dbformat.HeaderSize:] }

// Close unmaps and closes the file.
func (r *ReadOnly) Close() error {
	if err := unix.Munmap(r.data); err != nil {
		return dberr.Wrap(dberr.MapFailed, r.path, err)
	}
	return r.fd.Close()
}

// Package tilebuild implements component 4.E of the spec: a builder
// that ingests an MBTiles-shaped SQLite database and produces the same
// four-file dataset format as internal/genbuild, with structural
// (foreign-key) deduplication: every shallow row is grouped by its
// data_id before being handed to store.Writer with Dedup set, so all
// rows sharing a data_id resolve to the one (off, len) that blob's
// first occurrence wrote.
//
// No repo in the reference pack reads SQLite directly; this package's
// use of database/sql + github.com/mattn/go-sqlite3 is grounded
// instead in the spec's own external-interface mandate (component E's
// input is explicitly a relational store) and is the de facto standard
// pure-Go-callable SQLite driver. The TMS<->XYZ row flip and the
// dedup-by-data_id emission strategy are grounded on
// original_source/src/tile.c, resolved per SPEC_FULL.md's "Tile
// builder key/value flow" Open Question writeup: this implementation
// replaces the source's tangled last/next bookkeeping with a plain map
// keyed by data_id, which expresses the same "all shallow rows sharing
// a data_id point at one emitted range" semantics cleanly.
package tilebuild

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/opencoff/staticdb/internal/dberr"
	"github.com/opencoff/staticdb/internal/dbformat"
	"github.com/opencoff/staticdb/internal/store"
)

// Config mirrors the tile-build external interface: the MBTiles source
// file and the output dataset directory.
type Config struct {
	Src string
	DB  string
}

type shallowRow struct {
	zoom, col, row int64
	dataID         int64
}

// Build reads cfg.Src (an MBTiles SQLite file with tiles_shallow and
// tiles_data tables) and seals a new dataset at cfg.DB.
func Build(cfg Config) error {
	start := time.Now()

	db, err := sql.Open("sqlite3", cfg.Src+"?mode=ro")
	if err != nil {
		return dberr.Wrap(dberr.SourceMissing, cfg.Src, err)
	}
	defer db.Close()

	if err := os.MkdirAll(cfg.DB, 0770); err != nil {
		return dberr.Wrap(dberr.DiskSpace, cfg.DB, err)
	}

	w := store.NewWriter(cfg.DB)

	// Build each distinct blob's payload exactly once, keyed by data_id.
	// Every shallow row referencing it hands the Writer the same bytes
	// with Dedup set, so they all land on one (off, len).
	blobRows, err := db.Query(`SELECT data_id, blob FROM tiles_data ORDER BY data_id`)
	if err != nil {
		return dberr.Wrap(dberr.SourceFormat, cfg.Src, err)
	}

	type payloadRef struct {
		payload []byte
	}
	refs := make(map[int64]payloadRef)

	for blobRows.Next() {
		var id int64
		var blob []byte
		if err := blobRows.Scan(&id, &blob); err != nil {
			blobRows.Close()
			return dberr.Wrap(dberr.SourceFormat, cfg.Src, err)
		}
		refs[id] = payloadRef{payload: tilePayload(blob)}
	}
	if err := blobRows.Err(); err != nil {
		blobRows.Close()
		return dberr.Wrap(dberr.SourceFormat, cfg.Src, err)
	}
	blobRows.Close()

	shallowRows, err := db.Query(`SELECT zoom, col, row, data_id FROM tiles_shallow ORDER BY data_id, zoom, col, row`)
	if err != nil {
		return dberr.Wrap(dberr.SourceFormat, cfg.Src, err)
	}
	defer shallowRows.Close()

	n := 0
	for shallowRows.Next() {
		var r shallowRow
		if err := shallowRows.Scan(&r.zoom, &r.col, &r.row, &r.dataID); err != nil {
			return dberr.Wrap(dberr.SourceFormat, cfg.Src, err)
		}
		ref, ok := refs[r.dataID]
		if !ok {
			return dberr.New(dberr.SourceFormat, fmt.Sprintf("tiles_shallow references unknown data_id %d", r.dataID))
		}
		key := tileKey(r.zoom, r.col, r.row)
		if err := w.Add(store.Entry{Name: []byte(key), Payload: ref.payload, Dedup: true}); err != nil {
			return err
		}
		n++
	}
	if err := shallowRows.Err(); err != nil {
		return dberr.Wrap(dberr.SourceFormat, cfg.Src, err)
	}

	if err := w.Finish(0.85); err != nil {
		return err
	}

	slog.Info("tile build complete",
		"src", cfg.Src,
		"db", cfg.DB,
		"records", n,
		"blobs", len(refs),
		"elapsed", time.Since(start))
	return nil
}

// tileKey synthesizes the server-facing path for a shallow row,
// flipping TMS row numbering (origin bottom-left) to XYZ (origin
// top-left): y = (2^zoom - 1) - row.
func tileKey(zoom, col, row int64) string {
	y := (int64(1)<<uint(zoom) - 1) - row
	return fmt.Sprintf("/%d/%d/%d.mvt", zoom, col, y)
}

// tilePayload assembles the response payload for one blob: a small
// header block (Content-Length, ETag) followed by the raw MVT bytes.
func tilePayload(blob []byte) []byte {
	etag := dbformat.XXH3(blob)
	hdr := fmt.Sprintf("Content-Length: %d\r\nETag: mvt-%x\r\n\r\n", len(blob), etag)
	out := make([]byte, 0, len(hdr)+len(blob))
	out = append(out, hdr...)
	out = append(out, blob...)
	return out
}

// Package config loads the JSON build/server configuration documents
// named by the spec's external interfaces, using stdlib encoding/json
// as the spec itself specifies configuration as a JSON document with no
// further schema library implied by any example repo.
//
// The headers/h404 CRLF-joining logic is grounded on original_source's
// cfg.c hjoin() helper, which prefixes the status line and joins the
// remaining lines with CRLF.
package config

import (
	"encoding/json"
	"os"

	"github.com/opencoff/staticdb/internal/dberr"
)

// Build is the "-b"/"-t" build-config document: { "src", "db", "dedup" }.
type Build struct {
	Src   string `json:"src"`
	DB    string `json:"db"`
	Dedup bool   `json:"dedup"`
}

// Server is the "-s" server-config document.
type Server struct {
	DB       string   `json:"db"`
	Socket   string   `json:"socket"`
	Port     int      `json:"port"`
	Threads  int      `json:"threads"`
	Backlog  int      `json:"backlog"`
	InBuffer int      `json:"inbuffer"`
	Headers  []string `json:"headers"`
	H404     []string `json:"h404"`
}

// LoadBuild reads and parses a build-config document from path.
func LoadBuild(path string) (Build, error) {
	var c Build
	if err := loadJSON(path, &c); err != nil {
		return c, err
	}
	if c.Src == "" || c.DB == "" {
		return c, dberr.New(dberr.ConfigInvalid, path+": \"src\" and \"db\" are required")
	}
	return c, nil
}

// LoadServer reads and parses a server-config document from path,
// applying the defaults original_source's cfg.c falls back to when a
// field is omitted.
func LoadServer(path string) (Server, error) {
	var c Server
	if err := loadJSON(path, &c); err != nil {
		return c, err
	}
	if c.DB == "" {
		return c, dberr.New(dberr.ConfigInvalid, path+": \"db\" is required")
	}
	if c.Threads <= 0 {
		c.Threads = 1
	}
	if c.Backlog <= 0 {
		c.Backlog = 128
	}
	if c.InBuffer <= 0 {
		c.InBuffer = 4096
	}
	return c, nil
}

func loadJSON(path string, v interface{}) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return dberr.Wrap(dberr.ConfigInvalid, path, err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return dberr.Wrap(dberr.ConfigInvalid, path, err)
	}
	return nil
}

// JoinOK builds the 200-OK header block: "HTTP/1.1 200 OK\r\n" followed
// by each of 'headers' CRLF-joined, with no trailing blank line -- the
// per-record payload (built with its own leading headers‖"\r\n\r\n") is
// what terminates the header section on the wire.
func JoinOK(headers []string) []byte {
	return hjoin("HTTP/1.1 200 OK\r\n", headers, 0)
}

// JoinNotFound builds the complete 404 response: "HTTP/1.1 404 Not
// Found\r\n" followed by each of 'h404' CRLF-joined, plus a trailing
// blank line -- the whole thing is emitted verbatim with no body.
func JoinNotFound(h404 []string) []byte {
	return hjoin("HTTP/1.1 404 Not Found\r\n", h404, 1)
}

func hjoin(status string, lines []string, tail int) []byte {
	out := make([]byte, 0, len(status)+64)
	out = append(out, status...)
	for _, l := range lines {
		out = append(out, l...)
		out = append(out, '\r', '\n')
	}
	if tail != 0 {
		out = append(out, '\r', '\n')
	}
	return out
}

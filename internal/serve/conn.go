package serve

import (
	"golang.org/x/sys/unix"
)

type connState int

const (
	stateRecv connState = iota
	stateSend
	stateClose
)

// conn is one accepted connection's state, grounded on
// original_source/src/server.c's conn_t: a fixed-size input buffer
// accumulated across non-blocking reads, and header/body regions handed
// out by the lookup step and drained across non-blocking writes.
type conn struct {
	fd    int
	state connState

	in    []byte
	inLen int

	hdr     []byte
	hdrSent int

	body     []byte
	bodySent int
}

func newConn(fd int, inbuf int) *conn {
	return &conn{fd: fd, state: stateRecv, in: make([]byte, inbuf)}
}

// handleIn drains available bytes into c.in until a CRLF-terminated
// request line appears, then resolves the request and arms the
// connection for SEND. Returns true if the connection should close
// (EOF, a hard read error, or a request line that never arrives before
// the buffer fills).
func (c *conn) handleIn(s *Server) bool {
	for {
		if c.inLen >= len(c.in) {
			return true // request line too large
		}
		n, err := unix.Read(c.fd, c.in[c.inLen:])
		if n == 0 && err == nil {
			return true // EOF
		}
		if err != nil {
			if err == unix.EAGAIN {
				return false
			}
			return true
		}
		c.inLen += n

		eol := findCRLF(c.in, c.inLen)
		if eol < 0 {
			continue
		}

		method, path, ok := parseRequestLine(c.in[:eol])
		var payload []byte
		var hit bool
		if ok && (isGET(method) || isHEAD(method)) {
			payload, hit = s.db.Lookup(path)
		}

		if hit {
			c.hdr = s.okHeader
			c.body = payload
			if ok && isHEAD(method) {
				if end := findHeaderEnd(payload); end >= 0 {
					c.body = payload[:end]
				}
			}
		} else {
			c.hdr = s.notFoundHeader
			c.body = nil
		}
		c.hdrSent = 0
		c.bodySent = 0
		c.state = stateSend
		return false
	}
}

// handleOut drains c.hdr then c.body with non-blocking writes,
// respecting short writes. Returns true if the connection should close
// (send complete, or a hard write error).
func (c *conn) handleOut() bool {
	for c.hdrSent < len(c.hdr) {
		n, err := unix.Write(c.fd, c.hdr[c.hdrSent:])
		if err != nil {
			if err == unix.EAGAIN {
				return false
			}
			return true
		}
		c.hdrSent += n
	}
	for c.bodySent < len(c.body) {
		n, err := unix.Write(c.fd, c.body[c.bodySent:])
		if err != nil {
			if err == unix.EAGAIN {
				return false
			}
			return true
		}
		c.bodySent += n
	}
	return true
}

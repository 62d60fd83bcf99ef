package serve

// parseRequestLine hand-parses "METHOD␣PATH␣HTTP/x.y" from the first
// line of a request buffer, matching spec §4.G / §9's explicit design
// note that a hand-written parser (method token, whitespace, path
// token, whitespace, "HTTP/") is sufficient and a regex dependency is
// unwarranted. Returns the method and path tokens and whether the line
// was well-formed enough to proceed to a lookup.
func parseRequestLine(line []byte) (method, path []byte, ok bool) {
	i := 0
	n := len(line)

	start := i
	for i < n && !isSpace(line[i]) {
		i++
	}
	if i == start || i == n {
		return nil, nil, false
	}
	method = line[start:i]

	for i < n && isSpace(line[i]) {
		i++
	}
	if i == n {
		return nil, nil, false
	}

	start = i
	for i < n && !isSpace(line[i]) {
		i++
	}
	if i == start {
		return nil, nil, false
	}
	path = line[start:i]

	for i < n && isSpace(line[i]) {
		i++
	}
	if i+5 > n || !hasHTTPPrefix(line[i:]) {
		return nil, nil, false
	}

	return method, path, true
}

func isSpace(c byte) bool { return c == ' ' || c == '\t' }

func hasHTTPPrefix(b []byte) bool {
	const want = "HTTP/"
	if len(b) < len(want) {
		return false
	}
	for i := 0; i < len(want); i++ {
		c := b[i]
		if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		if c != want[i] {
			return false
		}
	}
	return true
}

func isGET(method []byte) bool  { return equalFold(method, "GET") }
func isHEAD(method []byte) bool { return equalFold(method, "HEAD") }

func equalFold(b []byte, s string) bool {
	if len(b) != len(s) {
		return false
	}
	for i := 0; i < len(b); i++ {
		c := b[i]
		if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		if c != s[i] {
			return false
		}
	}
	return true
}

// findCRLF returns the index of the first "\r\n" in buf[:n], or -1.
func findCRLF(buf []byte, n int) int {
	for i := 0; i+1 < n; i++ {
		if buf[i] == '\r' && buf[i+1] == '\n' {
			return i
		}
	}
	return -1
}

// findHeaderEnd returns the index just past the first "\r\n\r\n" in buf,
// or -1 -- used to truncate a HEAD response body to the stored header
// block per spec §4.G.
func findHeaderEnd(buf []byte) int {
	for i := 0; i+3 < len(buf); i++ {
		if buf[i] == '\r' && buf[i+1] == '\n' && buf[i+2] == '\r' && buf[i+3] == '\n' {
			return i + 4
		}
	}
	return -1
}

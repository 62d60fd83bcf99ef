package serve

import (
	"os"

	"golang.org/x/sys/unix"

	"github.com/opencoff/staticdb/internal/dberr"
)

const defaultBacklog = 1024

// listenTCP4 opens a non-blocking, close-on-exec IPv4 TCP listening
// socket, grounded on original_source/src/server.c's listen_tcp4: empty
// or "*" binds INADDR_ANY, SO_REUSEADDR is set before bind.
func listenTCP4(ip string, port int, backlog int) (int, error) {
	if backlog <= 0 {
		backlog = defaultBacklog
	}

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return -1, dberr.Wrap(dberr.BindFailed, ip, err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, dberr.Wrap(dberr.BindFailed, ip, err)
	}

	var addr unix.SockaddrInet4
	addr.Port = port
	if ip == "" || ip == "*" {
		// zero address == INADDR_ANY
	} else {
		if err := parseIPv4Into(&addr.Addr, ip); err != nil {
			unix.Close(fd)
			return -1, dberr.Wrap(dberr.BindFailed, ip, err)
		}
	}

	if err := unix.Bind(fd, &addr); err != nil {
		unix.Close(fd)
		return -1, dberr.Wrap(dberr.BindFailed, ip, err)
	}
	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return -1, dberr.Wrap(dberr.BindFailed, ip, err)
	}
	return fd, nil
}

// listenUnix opens a non-blocking, close-on-exec AF_UNIX stream
// listening socket at 'path', unlinking any pre-existing path first and
// setting world-read/write permissions after bind, per
// original_source/src/server.c's listen_unix.
func listenUnix(path string, backlog int) (int, error) {
	if path == "" {
		return -1, dberr.New(dberr.ConfigInvalid, "empty unix socket path")
	}
	if backlog <= 0 {
		backlog = defaultBacklog
	}

	os.Remove(path)

	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, dberr.Wrap(dberr.BindFailed, path, err)
	}

	if err := unix.Bind(fd, &unix.SockaddrUnix{Name: path}); err != nil {
		unix.Close(fd)
		return -1, dberr.Wrap(dberr.BindFailed, path, err)
	}
	if err := os.Chmod(path, 0666); err != nil {
		unix.Close(fd)
		return -1, dberr.Wrap(dberr.BindFailed, path, err)
	}
	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return -1, dberr.Wrap(dberr.BindFailed, path, err)
	}
	return fd, nil
}

// parseIPv4Into parses a dotted-quad string into a 4-byte address
// array without pulling in net.ParseIP's IPv6-capable machinery, since
// the listen address here is always IPv4.
func parseIPv4Into(out *[4]byte, s string) error {
	var octet, idx int
	seen := false
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == '.' {
			if !seen || idx > 3 || octet > 255 {
				return dberr.New(dberr.ConfigInvalid, "bad IPv4 address "+s)
			}
			out[idx] = byte(octet)
			idx++
			octet = 0
			seen = false
			continue
		}
		c := s[i]
		if c < '0' || c > '9' {
			return dberr.New(dberr.ConfigInvalid, "bad IPv4 address "+s)
		}
		octet = octet*10 + int(c-'0')
		seen = true
	}
	if idx != 4 {
		return dberr.New(dberr.ConfigInvalid, "bad IPv4 address "+s)
	}
	return nil
}

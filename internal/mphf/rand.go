// rand.go -- salt generation
//
// Adapted from opencoff/go-chd's rand.go.
package mphf

import (
	"crypto/rand"
	"encoding/binary"
	"io"
)

func rand64() uint64 {
	var b [8]byte
	if _, err := io.ReadFull(rand.Reader, b[:]); err != nil {
		panic("mphf: can't read crypto/rand: " + err.Error())
	}
	return binary.BigEndian.Uint64(b[:])
}

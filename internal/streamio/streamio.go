// Package streamio provides the small wire-level helpers shared by the
// header codec and keystream generator: big-endian u16 framing, exact-length
// reads, and pattern fills.
package streamio

import (
	"encoding/binary"
	"io"
	"strconv"

	apperrors "github.com/secure-encrypt-go/internal/errors"
)

// ReadU16BE reads exactly 2 bytes and decodes them big-endian
func ReadU16BE(r io.Reader) (uint16, error) {
	var buf [2]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, apperrors.NewWireWithCause("unable to read 2 bytes", err)
	}
	return binary.BigEndian.Uint16(buf[:]), nil
}

// WriteU16BE writes v as 2 big-endian bytes
func WriteU16BE(w io.Writer, v uint16) error {
	var buf [2]byte
	binary.BigEndian.PutUint16(buf[:], v)
	if _, err := w.Write(buf[:]); err != nil {
		return apperrors.NewIOWithCause("unable to write 2 bytes", err)
	}
	return nil
}

// ReadExact reads exactly n bytes from r
func ReadExact(r io.Reader, n int) ([]byte, error) {
	if n < 0 {
		return nil, apperrors.NewArgumentf("invalid read length %d", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, apperrors.NewWireWithCause("unable to read "+strconv.Itoa(n)+" bytes", err)
	}
	return buf, nil
}

// Fill tiles pattern across dst. When pattern is shorter than dst the
// already-written prefix doubles as the copy source, so the result is a
// periodic repetition of pattern; when longer, only its prefix is used.
func Fill(dst, pattern []byte) {
	if len(dst) == 0 || len(pattern) == 0 {
		return
	}
	n := copy(dst, pattern)
	for n < len(dst) {
		n += copy(dst[n:], dst[:n])
	}
}

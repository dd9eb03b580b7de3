package encryption

import (
	"io"

	apperrors "github.com/secure-encrypt-go/internal/errors"
	"github.com/secure-encrypt-go/internal/streamio"
)

// headerOverhead is the two u16 length fields counted inside headerLength
const headerOverhead = 4

// maxHeaderLength bounds headerLength to what its u16 field can carry
const maxHeaderLength = 0xFFFF

// Header layout, all integers big-endian:
//
//	offset  size  field
//	0       2     headerLength = headerOverhead + N + S
//	2       2     nonceLength (N)
//	4       N     nonce
//	4+N     2     saltLength (S)
//	6+N     S     salt

// writeHeader frames nonce and salt onto w
func writeHeader(w io.Writer, nonce, salt []byte) error {
	total := headerOverhead + len(nonce) + len(salt)
	if total > maxHeaderLength {
		return apperrors.NewArgumentf("salt too large: header would be %d bytes, at most %d allowed", total, maxHeaderLength)
	}
	if err := streamio.WriteU16BE(w, uint16(total)); err != nil {
		return err
	}
	if err := streamio.WriteU16BE(w, uint16(len(nonce))); err != nil {
		return err
	}
	if _, err := w.Write(nonce); err != nil {
		return apperrors.NewIOWithCause("failed to write nonce", err)
	}
	if err := streamio.WriteU16BE(w, uint16(len(salt))); err != nil {
		return err
	}
	if _, err := w.Write(salt); err != nil {
		return apperrors.NewIOWithCause("failed to write salt", err)
	}
	return nil
}

// readHeader parses and validates the header for a cipher with the given
// block size, returning the nonce and salt it carries
func readHeader(r io.Reader, blockSize int) (nonce, salt []byte, err error) {
	headerLength, err := streamio.ReadU16BE(r)
	if err != nil {
		return nil, nil, err
	}
	if int(headerLength) < headerOverhead+blockSize/2 {
		return nil, nil, apperrors.NewWiref("header length %d is too small", headerLength)
	}

	nonceLength, err := streamio.ReadU16BE(r)
	if err != nil {
		return nil, nil, err
	}
	if headerOverhead/2+int(nonceLength) > int(headerLength) {
		return nil, nil, apperrors.NewWiref("nonce length %d is inconsistent with header length %d", nonceLength, headerLength)
	}
	if int(nonceLength) < blockSize/2 || int(nonceLength) > blockSize {
		return nil, nil, apperrors.NewWiref("nonce length %d is outside [%d, %d]", nonceLength, blockSize/2, blockSize)
	}
	nonce, err = streamio.ReadExact(r, int(nonceLength))
	if err != nil {
		return nil, nil, err
	}

	saltLength, err := streamio.ReadU16BE(r)
	if err != nil {
		return nil, nil, err
	}
	if headerOverhead+int(nonceLength)+int(saltLength) != int(headerLength) {
		return nil, nil, apperrors.NewWiref("salt length %d is inconsistent with header length %d", saltLength, headerLength)
	}
	salt, err = streamio.ReadExact(r, int(saltLength))
	if err != nil {
		return nil, nil, err
	}
	return nonce, salt, nil
}

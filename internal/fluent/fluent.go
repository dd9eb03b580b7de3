// Package fluent provides staged one-shot entry points over the cipher
// stream: pick a source, supply the password, name the destination. Each
// stage returns a value exposing only the next stage's operations.
package fluent

import (
	"bufio"
	"bytes"
	"io"
	"os"

	"github.com/secure-encrypt-go/internal/encryption"
	apperrors "github.com/secure-encrypt-go/internal/errors"
)

type sourceKind int

const (
	sourceFile sourceKind = iota
	sourceBytes
)

// source is either a file path or an in-memory buffer; strings enter as
// their UTF-8 bytes
type source struct {
	kind sourceKind
	path string
	data []byte
}

func (s source) open() (io.ReadCloser, error) {
	switch s.kind {
	case sourceFile:
		f, err := os.Open(s.path)
		if err != nil {
			return nil, apperrors.NewIOWithCause("failed to open input file", err)
		}
		return f, nil
	default:
		return io.NopCloser(bytes.NewReader(s.data)), nil
	}
}

// Encryption is the source stage of an encrypt chain
type Encryption struct {
	src source
}

// EncryptFile starts an encrypt chain reading from the file at path
func EncryptFile(path string) Encryption {
	return Encryption{src: source{kind: sourceFile, path: path}}
}

// EncryptBytes starts an encrypt chain over b
func EncryptBytes(b []byte) Encryption {
	return Encryption{src: source{kind: sourceBytes, data: b}}
}

// EncryptString starts an encrypt chain over the UTF-8 bytes of s
func EncryptString(s string) Encryption {
	return EncryptBytes([]byte(s))
}

// WithPassword supplies the password and yields the destination stage
func (e Encryption) WithPassword(password string) EncryptionTarget {
	return EncryptionTarget{src: e.src, password: password}
}

// EncryptionTarget is the destination stage of an encrypt chain
type EncryptionTarget struct {
	src      source
	password string
}

// IntoFile encrypts the source into the file at path
func (e EncryptionTarget) IntoFile(path string) error {
	in, err := e.src.open()
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(path)
	if err != nil {
		return apperrors.NewIOWithCause("failed to create output file", err)
	}
	bw := bufio.NewWriter(out)
	if err := encryptCopy(bw, in, e.password); err != nil {
		out.Close()
		os.Remove(path)
		return err
	}
	if err := bw.Flush(); err != nil {
		out.Close()
		return apperrors.NewIOWithCause("failed to flush output file", err)
	}
	if err := out.Close(); err != nil {
		return apperrors.NewIOWithCause("failed to close output file", err)
	}
	return nil
}

// IntoBytes encrypts the source and returns the ciphertext, header included
func (e EncryptionTarget) IntoBytes() ([]byte, error) {
	in, err := e.src.open()
	if err != nil {
		return nil, err
	}
	defer in.Close()

	var buf bytes.Buffer
	if err := encryptCopy(&buf, in, e.password); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encryptCopy(dst io.Writer, src io.Reader, password string) error {
	stream, err := encryption.CreateWithPassword(dst, password)
	if err != nil {
		return err
	}
	defer stream.Close()
	if _, err := io.Copy(stream, src); err != nil {
		return err
	}
	return stream.Flush()
}

// Decryption is the source stage of a decrypt chain
type Decryption struct {
	src source
}

// DecryptFile starts a decrypt chain reading from the file at path
func DecryptFile(path string) Decryption {
	return Decryption{src: source{kind: sourceFile, path: path}}
}

// DecryptBytes starts a decrypt chain over ciphertext b
func DecryptBytes(b []byte) Decryption {
	return Decryption{src: source{kind: sourceBytes, data: b}}
}

// WithPassword supplies the password and yields the destination stage
func (d Decryption) WithPassword(password string) DecryptionTarget {
	return DecryptionTarget{src: d.src, password: password}
}

// DecryptionTarget is the destination stage of a decrypt chain
type DecryptionTarget struct {
	src      source
	password string
}

// IntoFile decrypts the source into the file at path
func (d DecryptionTarget) IntoFile(path string) error {
	in, err := d.src.open()
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(path)
	if err != nil {
		return apperrors.NewIOWithCause("failed to create output file", err)
	}
	bw := bufio.NewWriter(out)
	if err := decryptCopy(bw, in, d.password); err != nil {
		out.Close()
		os.Remove(path)
		return err
	}
	if err := bw.Flush(); err != nil {
		out.Close()
		return apperrors.NewIOWithCause("failed to flush output file", err)
	}
	if err := out.Close(); err != nil {
		return apperrors.NewIOWithCause("failed to close output file", err)
	}
	return nil
}

// IntoBytes decrypts the source and returns the plaintext
func (d DecryptionTarget) IntoBytes() ([]byte, error) {
	in, err := d.src.open()
	if err != nil {
		return nil, err
	}
	defer in.Close()

	var buf bytes.Buffer
	if err := decryptCopy(&buf, in, d.password); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// IntoString decrypts the source and returns the plaintext as UTF-8
func (d DecryptionTarget) IntoString() (string, error) {
	b, err := d.IntoBytes()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decryptCopy(dst io.Writer, src io.Reader, password string) error {
	stream, err := encryption.OpenWithPassword(bufio.NewReader(src), password)
	if err != nil {
		return err
	}
	defer stream.Close()
	_, err = io.Copy(dst, stream)
	return err
}

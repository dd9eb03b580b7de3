package encryption

import (
	"bytes"
	"crypto/aes"
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/secure-encrypt-go/internal/errors"
	"github.com/secure-encrypt-go/internal/keystretch"
)

const testPassword = "MyPassword123"

func encryptBytes(t *testing.T, plaintext []byte, password string, opts ...Option) []byte {
	t.Helper()
	var buf bytes.Buffer
	stream, err := CreateWithPassword(&buf, password, opts...)
	require.NoError(t, err)
	_, err = stream.Write(plaintext)
	require.NoError(t, err)
	require.NoError(t, stream.Close())
	return buf.Bytes()
}

func decryptBytes(t *testing.T, ciphertext []byte, password string) []byte {
	t.Helper()
	stream, err := OpenWithPassword(bytes.NewReader(ciphertext), password)
	require.NoError(t, err)
	plaintext, err := io.ReadAll(stream)
	require.NoError(t, err)
	require.NoError(t, stream.Close())
	return plaintext
}

func TestRoundTrip(t *testing.T) {
	testCases := []struct {
		name      string
		plaintext string
	}{
		{"text with specials", "The quick brown fox jumped over the lazy dog. 1234567890 -=_+ !@#$%^&*() {}|\\][ \"';: <>,./?"},
		{"empty", ""},
		{"single space", " "},
		{"crlf fixture", "The quick brown fox jumped over the lazy dog.\r\n"},
		{"block sized", string(bytes.Repeat([]byte{'x'}, aes.BlockSize))},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ciphertext := encryptBytes(t, []byte(tc.plaintext), testPassword)
			plaintext := decryptBytes(t, ciphertext, testPassword)
			assert.Equal(t, tc.plaintext, string(plaintext))
		})
	}
}

func TestRoundTripLarge(t *testing.T) {
	plaintext := make([]byte, 100*1024)
	for i := range plaintext {
		plaintext[i] = byte(i * 7 % 256)
	}
	ciphertext := encryptBytes(t, plaintext, testPassword)
	assert.Equal(t, plaintext, decryptBytes(t, ciphertext, testPassword))
}

func TestEmptyInputStillCarriesHeader(t *testing.T) {
	ciphertext := encryptBytes(t, nil, testPassword)
	// two length fields, at least a half-block nonce and an 8-byte salt
	assert.GreaterOrEqual(t, len(ciphertext), headerOverhead+aes.BlockSize/2+keystretch.MinSaltLength)
	assert.Empty(t, decryptBytes(t, ciphertext, testPassword))
}

func TestHeaderSelfConsistency(t *testing.T) {
	ciphertext := encryptBytes(t, []byte("hello"), testPassword)

	headerLength := binary.BigEndian.Uint16(ciphertext[0:])
	nonceLength := binary.BigEndian.Uint16(ciphertext[2:])
	saltLength := binary.BigEndian.Uint16(ciphertext[4+nonceLength:])

	assert.Equal(t, int(headerLength), headerOverhead+int(nonceLength)+int(saltLength))
	assert.GreaterOrEqual(t, int(nonceLength), aes.BlockSize/2)
	assert.LessOrEqual(t, int(nonceLength), aes.BlockSize)
	assert.GreaterOrEqual(t, int(saltLength), keystretch.MinSaltLength)
}

func TestNonceUniqueness(t *testing.T) {
	first := encryptBytes(t, []byte("hello"), testPassword)
	second := encryptBytes(t, []byte("hello"), testPassword)

	assert.NotEqual(t, first, second, "two encryptions reused nonce or salt")
	assert.Equal(t, "hello", string(decryptBytes(t, first, testPassword)))
	assert.Equal(t, "hello", string(decryptBytes(t, second, testPassword)))
}

func TestWrongPasswordYieldsGarbageWithoutError(t *testing.T) {
	plaintext := make([]byte, 4096)
	for i := range plaintext {
		plaintext[i] = byte(i)
	}
	ciphertext := encryptBytes(t, plaintext, testPassword)

	got := decryptBytes(t, ciphertext, "NotThePassword")
	require.Len(t, got, len(plaintext))
	assert.NotEqual(t, plaintext, got)
}

func TestDeterministicWithFixedParameters(t *testing.T) {
	nonce := []byte{0xD0, 0xD1, 0xD2, 0xD3, 0xD4, 0xD5, 0xD6, 0xD7, 0xD8, 0xD9, 0xDA, 0xDB, 0xDC, 0xDD, 0xDE, 0xDF}
	salt := []byte("fixedsalt0123456")
	plaintext := []byte("The quick brown fox jumped over the lazy dog.\r\n")

	first := encryptBytes(t, plaintext, "Password99", WithNonce(nonce), WithSalt(salt))
	second := encryptBytes(t, plaintext, "Password99", WithNonce(nonce), WithSalt(salt))
	assert.Equal(t, first, second, "fixed parameters must give a stable wire image")

	assert.Equal(t, plaintext, decryptBytes(t, first, "Password99"))
}

func TestPositionIndependentWrites(t *testing.T) {
	nonce := bytes.Repeat([]byte{0x3C}, 16)
	salt := []byte("fixedsalt0123456")
	plaintext := make([]byte, 9000)
	for i := range plaintext {
		plaintext[i] = byte(i % 253)
	}

	whole := encryptBytes(t, plaintext, testPassword, WithNonce(nonce), WithSalt(salt))

	var buf bytes.Buffer
	stream, err := CreateWithPassword(&buf, testPassword, WithNonce(nonce), WithSalt(salt))
	require.NoError(t, err)
	for _, end := range []int{1, 15, 16, 4096, 4100, 9000} {
		start := int(stream.Position())
		_, err = stream.Write(plaintext[start:end])
		require.NoError(t, err)
	}
	require.NoError(t, stream.Close())

	assert.Equal(t, whole, buf.Bytes())
}

func TestWritePreservesCallerBuffer(t *testing.T) {
	var buf bytes.Buffer
	stream, err := CreateWithPassword(&buf, testPassword)
	require.NoError(t, err)
	defer stream.Close()

	data := []byte("do not touch")
	want := append([]byte(nil), data...)
	_, err = stream.Write(data)
	require.NoError(t, err)
	assert.Equal(t, want, data)
}

func TestSeekMatchesSequentialRead(t *testing.T) {
	plaintext := make([]byte, 2000)
	for i := range plaintext {
		plaintext[i] = byte(255 - i%256)
	}
	path := filepath.Join(t.TempDir(), "data.secure")

	out, err := os.Create(path)
	require.NoError(t, err)
	stream, err := CreateWithPassword(out, testPassword)
	require.NoError(t, err)
	_, err = stream.Write(plaintext)
	require.NoError(t, err)
	require.NoError(t, stream.Close())

	offset := int64(5*aes.BlockSize + 3)

	seeked, err := os.Open(path)
	require.NoError(t, err)
	sa, err := OpenWithPassword(seeked, testPassword)
	require.NoError(t, err)
	pos, err := sa.Seek(offset, io.SeekStart)
	require.NoError(t, err)
	require.Equal(t, offset, pos)
	bufA := make([]byte, 10)
	_, err = io.ReadFull(sa, bufA)
	require.NoError(t, err)
	require.NoError(t, sa.Close())

	sequential, err := os.Open(path)
	require.NoError(t, err)
	sb, err := OpenWithPassword(sequential, testPassword)
	require.NoError(t, err)
	_, err = io.CopyN(io.Discard, sb, offset)
	require.NoError(t, err)
	bufB := make([]byte, 10)
	_, err = io.ReadFull(sb, bufB)
	require.NoError(t, err)
	require.NoError(t, sb.Close())

	assert.Equal(t, bufB, bufA)
	assert.Equal(t, plaintext[offset:offset+10], bufA)
}

func TestSeekClampsAtPlaintextOrigin(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.secure")
	out, err := os.Create(path)
	require.NoError(t, err)
	stream, err := CreateWithPassword(out, testPassword)
	require.NoError(t, err)
	_, err = stream.Write([]byte("0123456789"))
	require.NoError(t, err)

	pos, err := stream.Seek(-100, io.SeekStart)
	require.NoError(t, err)
	assert.Equal(t, int64(0), pos)
	assert.Equal(t, int64(0), stream.Position())
	require.NoError(t, stream.Close())
}

func TestSizeAndTruncate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.secure")
	out, err := os.Create(path)
	require.NoError(t, err)
	stream, err := CreateWithPassword(out, testPassword)
	require.NoError(t, err)
	_, err = stream.Write(make([]byte, 100))
	require.NoError(t, err)

	size, err := stream.Size()
	require.NoError(t, err)
	assert.Equal(t, int64(100), size)

	require.NoError(t, stream.Truncate(40))
	size, err = stream.Size()
	require.NoError(t, err)
	assert.Equal(t, int64(40), size)

	require.NoError(t, stream.Close())
}

func TestOpenRestoresPositionOnBadHeader(t *testing.T) {
	garbage := make([]byte, 64)
	binary.BigEndian.PutUint16(garbage[0:], 3) // below the minimum header length
	reader := bytes.NewReader(garbage)

	_, err := OpenWithPassword(reader, testPassword)
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeWire), "got %v", err)

	pos, err := reader.Seek(0, io.SeekCurrent)
	require.NoError(t, err)
	assert.Equal(t, int64(0), pos, "underlying position not restored")
}

func TestOpenTruncatedCiphertext(t *testing.T) {
	ciphertext := encryptBytes(t, []byte("hello"), testPassword)
	headerLength := int(binary.BigEndian.Uint16(ciphertext[0:]))

	for n := 0; n < headerLength; n++ {
		_, err := OpenWithPassword(bytes.NewReader(ciphertext[:n]), testPassword)
		assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeWire), "prefix %d: got %v", n, err)
	}
}

func TestCreateArgumentErrors(t *testing.T) {
	testCases := []struct {
		name string
		opts []Option
	}{
		{"nonce too short", []Option{WithNonce(make([]byte, aes.BlockSize/2-1))}},
		{"nonce too long", []Option{WithNonce(make([]byte, aes.BlockSize+1))}},
		{"salt too short", []Option{WithSalt([]byte("tiny"))}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			_, err := CreateWithPassword(&buf, testPassword, tc.opts...)
			assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeArgument), "got %v", err)
		})
	}
}

func TestEmptyPasswordRejected(t *testing.T) {
	var buf bytes.Buffer
	_, err := CreateWithPassword(&buf, "")
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeArgument), "got %v", err)
}

func TestClosedStreamOperationsFail(t *testing.T) {
	var buf bytes.Buffer
	stream, err := CreateWithPassword(&buf, testPassword)
	require.NoError(t, err)
	require.NoError(t, stream.Close())
	require.NoError(t, stream.Close(), "double close must be idempotent")

	_, err = stream.Write([]byte("x"))
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeState), "got %v", err)
	_, err = stream.Read(make([]byte, 1))
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeState), "got %v", err)
	_, err = stream.Seek(0, io.SeekStart)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeState), "got %v", err)
}

func TestSeekOnNonSeekableUnderlying(t *testing.T) {
	var buf bytes.Buffer
	stream, err := CreateWithPassword(&buf, testPassword)
	require.NoError(t, err)
	defer stream.Close()

	_, err = stream.Seek(0, io.SeekStart)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeState), "got %v", err)
}

func TestAccessorsReturnCopies(t *testing.T) {
	var buf bytes.Buffer
	stream, err := CreateWithPassword(&buf, testPassword)
	require.NoError(t, err)
	defer stream.Close()

	nonce := stream.Nonce()
	nonce[0] = ^nonce[0]
	assert.NotEqual(t, nonce[0], stream.Nonce()[0])

	salt := stream.PasswordSalt()
	salt[0] = ^salt[0]
	assert.NotEqual(t, salt[0], stream.PasswordSalt()[0])

	assert.Equal(t, aes.BlockSize, stream.BlockLength())
	assert.Equal(t, aes.BlockSize/2, stream.MinNonceLength())
	assert.Equal(t, aes.BlockSize, stream.MaxNonceLength())
}

func TestExplicitStretcherSharedAcrossStreams(t *testing.T) {
	stretcher, err := keystretch.New(testPassword)
	require.NoError(t, err)

	var buf bytes.Buffer
	enc, err := Create(&buf, stretcher)
	require.NoError(t, err)
	_, err = enc.Write([]byte("shared stretcher"))
	require.NoError(t, err)
	require.NoError(t, enc.Close())

	dec, err := Open(bytes.NewReader(buf.Bytes()), stretcher)
	require.NoError(t, err)
	plaintext, err := io.ReadAll(dec)
	require.NoError(t, err)
	assert.Equal(t, "shared stretcher", string(plaintext))
	require.NoError(t, dec.Close())
}

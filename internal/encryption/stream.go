// Package encryption implements the password-based cipher stream: a filter
// over an arbitrary byte stream that encrypts on write and decrypts on read
// using a seekable CTR keystream, framed by a self-describing header that
// carries the nonce and password salt.
package encryption

import (
	"crypto/rand"
	"io"
	"sync"

	"github.com/secure-encrypt-go/internal/cipherkit"
	apperrors "github.com/secure-encrypt-go/internal/errors"
	"github.com/secure-encrypt-go/internal/keystretch"
)

// streamBufferPool backs the copy made on each Write of up to 64 KiB so the
// caller's buffer is never modified
var streamBufferPool = sync.Pool{
	New: func() interface{} {
		buf := make([]byte, 64*1024)
		return &buf
	},
}

// Stream is a cipher filter stream. Positions, lengths and seek offsets are
// plaintext-addressed: offset zero is the first byte after the header.
type Stream struct {
	r      io.Reader
	w      io.Writer
	s      io.Seeker
	closer io.Closer

	factory    *cipherkit.Factory
	stretcher  *keystretch.Stretcher
	ownStretch bool
	maxKeyBits int

	ctr   *ctrTransformer
	nonce []byte
	salt  []byte
	start int64
	pos   int64

	closed bool
}

// Option configures stream construction
type Option func(*Stream) error

// WithFactory selects the cipher/hash factory; the default is AES + SHA-256
func WithFactory(f *cipherkit.Factory) Option {
	return func(st *Stream) error {
		if f == nil {
			return apperrors.NewArgument("factory must not be nil")
		}
		st.factory = f
		return nil
	}
}

// WithNonce supplies the nonce instead of generating one. Its length must
// lie between half the cipher's block size and the full block size.
func WithNonce(nonce []byte) Option {
	return func(st *Stream) error {
		st.nonce = append([]byte(nil), nonce...)
		return nil
	}
}

// WithSalt supplies the password salt instead of the stretcher's own
func WithSalt(salt []byte) Option {
	return func(st *Stream) error {
		return st.stretcher.SetSalt(salt)
	}
}

// WithMaxKeyBits caps the derived key size in bits; zero means no cap
func WithMaxKeyBits(bits int) Option {
	return func(st *Stream) error {
		st.maxKeyBits = bits
		return nil
	}
}

// Create starts an encrypting stream over underlying, writing the parameter
// header at the current position. The nonce and salt are generated unless
// supplied through options. underlying must be writable; seek-dependent
// operations additionally need it to be an io.Seeker.
func Create(underlying interface{}, stretcher *keystretch.Stretcher, opts ...Option) (*Stream, error) {
	st, err := newStream(underlying, stretcher, opts)
	if err != nil {
		return nil, err
	}
	if st.w == nil {
		return nil, apperrors.NewState("underlying stream is not writable")
	}

	if st.salt == nil {
		st.salt = st.stretcher.Salt()
	}
	if st.nonce == nil {
		if err := st.generateNonce(); err != nil {
			return nil, err
		}
	} else if len(st.nonce) < st.MinNonceLength() || len(st.nonce) > st.MaxNonceLength() {
		return nil, apperrors.NewArgumentf("nonce must be %d to %d bytes, got %d",
			st.MinNonceLength(), st.MaxNonceLength(), len(st.nonce))
	}

	if err := writeHeader(st.w, st.nonce, st.salt); err != nil {
		return nil, err
	}
	if st.s != nil {
		start, err := st.s.Seek(0, io.SeekCurrent)
		if err != nil {
			return nil, apperrors.NewIOWithCause("failed to record stream start", err)
		}
		st.start = start
	}
	return st, nil
}

// CreateWithPassword is Create with a stretcher built from password using
// the default iteration count
func CreateWithPassword(underlying interface{}, password string, opts ...Option) (*Stream, error) {
	stretcher, err := keystretch.New(password)
	if err != nil {
		return nil, err
	}
	st, err := Create(underlying, stretcher, opts...)
	if err != nil {
		stretcher.Destroy()
		return nil, err
	}
	st.ownStretch = true
	return st, nil
}

// Open starts a decrypting stream over underlying, reading and validating
// the parameter header at the current position. On a malformed header the
// underlying position is restored when it is seekable, and the wire error
// is surfaced.
func Open(underlying interface{}, stretcher *keystretch.Stretcher, opts ...Option) (*Stream, error) {
	st, err := newStream(underlying, stretcher, opts)
	if err != nil {
		return nil, err
	}
	if st.r == nil {
		return nil, apperrors.NewState("underlying stream is not readable")
	}

	var origin int64
	if st.s != nil {
		origin, err = st.s.Seek(0, io.SeekCurrent)
		if err != nil {
			return nil, apperrors.NewIOWithCause("failed to record stream start", err)
		}
	}

	nonce, salt, err := readHeader(st.r, st.factory.BlockSize())
	if err == nil {
		err = st.stretcher.SetSalt(salt)
	}
	if err != nil {
		if st.s != nil {
			st.s.Seek(origin, io.SeekStart)
		}
		return nil, err
	}

	st.nonce = nonce
	st.salt = salt
	if st.s != nil {
		start, err := st.s.Seek(0, io.SeekCurrent)
		if err != nil {
			return nil, apperrors.NewIOWithCause("failed to record stream start", err)
		}
		st.start = start
	}
	return st, nil
}

// OpenWithPassword is Open with a stretcher built from password using the
// default iteration count
func OpenWithPassword(underlying interface{}, password string, opts ...Option) (*Stream, error) {
	stretcher, err := keystretch.New(password)
	if err != nil {
		return nil, err
	}
	st, err := Open(underlying, stretcher, opts...)
	if err != nil {
		stretcher.Destroy()
		return nil, err
	}
	st.ownStretch = true
	return st, nil
}

func newStream(underlying interface{}, stretcher *keystretch.Stretcher, opts []Option) (*Stream, error) {
	if underlying == nil {
		return nil, apperrors.NewArgument("underlying stream must not be nil")
	}
	if stretcher == nil {
		return nil, apperrors.NewArgument("key stretcher must not be nil")
	}
	st := &Stream{
		factory:   cipherkit.Default(),
		stretcher: stretcher,
	}
	st.r, _ = underlying.(io.Reader)
	st.w, _ = underlying.(io.Writer)
	st.s, _ = underlying.(io.Seeker)
	st.closer, _ = underlying.(io.Closer)
	for _, opt := range opts {
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	return st, nil
}

// generateNonce fills a random nonce of the largest length the header can
// still carry alongside the salt, capped at the block size
func (st *Stream) generateNonce() error {
	n := maxHeaderLength - (len(st.salt) + headerOverhead)
	if b := st.factory.BlockSize(); n > b {
		n = b
	}
	if n < st.MinNonceLength() {
		return apperrors.NewArgumentf("salt too large: %d bytes leave no room for a nonce", len(st.salt))
	}
	nonce := make([]byte, n)
	if _, err := rand.Read(nonce); err != nil {
		return apperrors.NewIOWithCause("failed to generate nonce", err)
	}
	st.nonce = nonce
	return nil
}

func (st *Stream) transformer() (*ctrTransformer, error) {
	if st.ctr != nil {
		return st.ctr, nil
	}
	key, err := st.stretcher.Key(st.factory, st.maxKeyBits)
	if err != nil {
		return nil, err
	}
	ctr, err := newCTRTransformer(st.factory, key, st.nonce, st.salt)
	zero(key)
	if err != nil {
		return nil, err
	}
	st.ctr = ctr
	return ctr, nil
}

// Read reads up to len(p) ciphertext bytes from the underlying stream and
// decrypts them in place
func (st *Stream) Read(p []byte) (int, error) {
	if st.closed {
		return 0, apperrors.NewState("cipher stream is closed")
	}
	if st.r == nil {
		return 0, apperrors.NewState("underlying stream is not readable")
	}
	n, err := st.r.Read(p)
	if n > 0 {
		ctr, terr := st.transformer()
		if terr != nil {
			return 0, terr
		}
		if terr := ctr.XORKeyStream(st.pos, p[:n]); terr != nil {
			return 0, terr
		}
		st.pos += int64(n)
	}
	return n, err
}

// Write encrypts p into the underlying stream. The caller's buffer is left
// untouched; encryption happens on a copy, pooled for writes of up to
// 64 KiB and freshly allocated for larger ones.
func (st *Stream) Write(p []byte) (int, error) {
	if st.closed {
		return 0, apperrors.NewState("cipher stream is closed")
	}
	if st.w == nil {
		return 0, apperrors.NewState("underlying stream is not writable")
	}
	ctr, err := st.transformer()
	if err != nil {
		return 0, err
	}

	var encrypted []byte
	if len(p) <= 64*1024 {
		bufPtr := streamBufferPool.Get().(*[]byte)
		defer streamBufferPool.Put(bufPtr)
		encrypted = (*bufPtr)[:len(p)]
	} else {
		encrypted = make([]byte, len(p))
	}
	copy(encrypted, p)
	if err := ctr.XORKeyStream(st.pos, encrypted); err != nil {
		return 0, err
	}

	n, err := st.w.Write(encrypted)
	st.pos += int64(n)
	if err != nil {
		return n, apperrors.NewIOWithCause("failed to write encrypted bytes", err)
	}
	return n, nil
}

// Seek moves the plaintext position. io.SeekStart offsets are relative to
// the first byte after the header; the result is clamped so the underlying
// position never lands inside the header.
func (st *Stream) Seek(offset int64, whence int) (int64, error) {
	if st.closed {
		return 0, apperrors.NewState("cipher stream is closed")
	}
	if st.s == nil {
		return 0, apperrors.NewState("underlying stream is not seekable")
	}
	if whence == io.SeekStart {
		offset += st.start
		if offset < st.start {
			offset = st.start
		}
	}
	abs, err := st.s.Seek(offset, whence)
	if err != nil {
		return 0, apperrors.NewIOWithCause("seek failed", err)
	}
	if abs < st.start {
		abs, err = st.s.Seek(st.start, io.SeekStart)
		if err != nil {
			return 0, apperrors.NewIOWithCause("seek failed", err)
		}
	}
	st.pos = abs - st.start
	return st.pos, nil
}

// Position returns the plaintext position
func (st *Stream) Position() int64 {
	return st.pos
}

// SetPosition seeks to the plaintext position v
func (st *Stream) SetPosition(v int64) error {
	_, err := st.Seek(v, io.SeekStart)
	return err
}

// Size returns the plaintext length: the underlying length minus the header
func (st *Stream) Size() (int64, error) {
	if st.closed {
		return 0, apperrors.NewState("cipher stream is closed")
	}
	if st.s == nil {
		return 0, apperrors.NewState("underlying stream is not seekable")
	}
	cur, err := st.s.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, apperrors.NewIOWithCause("seek failed", err)
	}
	end, err := st.s.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, apperrors.NewIOWithCause("seek failed", err)
	}
	if _, err := st.s.Seek(cur, io.SeekStart); err != nil {
		return 0, apperrors.NewIOWithCause("seek failed", err)
	}
	return end - st.start, nil
}

// Truncate sets the plaintext length to v
func (st *Stream) Truncate(v int64) error {
	if st.closed {
		return apperrors.NewState("cipher stream is closed")
	}
	if v < 0 {
		return apperrors.NewArgumentf("length must not be negative, got %d", v)
	}
	tr, ok := st.w.(interface{ Truncate(int64) error })
	if !ok {
		return apperrors.NewState("underlying stream does not support truncation")
	}
	if err := tr.Truncate(st.start + v); err != nil {
		return apperrors.NewIOWithCause("truncate failed", err)
	}
	return nil
}

// Flush pushes buffered bytes to the underlying sink when it supports it
func (st *Stream) Flush() error {
	if st.closed {
		return apperrors.NewState("cipher stream is closed")
	}
	switch f := st.w.(type) {
	case interface{ Flush() error }:
		return f.Flush()
	case interface{ Sync() error }:
		return f.Sync()
	}
	return nil
}

// Nonce returns a copy of the nonce
func (st *Stream) Nonce() []byte {
	return append([]byte(nil), st.nonce...)
}

// PasswordSalt returns a copy of the password salt
func (st *Stream) PasswordSalt() []byte {
	return append([]byte(nil), st.salt...)
}

// BlockLength returns the cipher block size in bytes
func (st *Stream) BlockLength() int {
	return st.factory.BlockSize()
}

// MinNonceLength returns the smallest accepted nonce length
func (st *Stream) MinNonceLength() int {
	return st.factory.BlockSize() / 2
}

// MaxNonceLength returns the largest accepted nonce length
func (st *Stream) MaxNonceLength() int {
	return st.factory.BlockSize()
}

// Close zeroes the keystream state and closes the underlying stream when it
// is an io.Closer
func (st *Stream) Close() error {
	if st.closed {
		return nil
	}
	st.closed = true
	if st.ctr != nil {
		st.ctr.Close()
		st.ctr = nil
	}
	if st.ownStretch {
		st.stretcher.Destroy()
	}
	if st.closer != nil {
		if err := st.closer.Close(); err != nil {
			return apperrors.NewIOWithCause("failed to close underlying stream", err)
		}
	}
	return nil
}

// Package keystretch derives cipher keys from passwords with PBKDF2
// (RFC 2898). The salt is generated here on encrypt and captured from the
// file header on decrypt.
package keystretch

import (
	"crypto/rand"
	"crypto/sha1"
	"hash"

	"golang.org/x/crypto/pbkdf2"

	"github.com/secure-encrypt-go/internal/cipherkit"
	apperrors "github.com/secure-encrypt-go/internal/errors"
)

const (
	// DefaultIterations is the PBKDF2 iteration count used when none is configured
	DefaultIterations = 10000
	// DefaultSaltLength is the generated salt length in bytes
	DefaultSaltLength = 16
	// MinSaltLength is the smallest salt accepted, per RFC 2898 guidance
	MinSaltLength = 8
)

// Stretcher derives keys of cipher-appropriate sizes from one password and
// salt pair
type Stretcher struct {
	password   []byte
	salt       []byte
	iterations int
	prf        func() hash.Hash
}

// Option configures a Stretcher
type Option func(*Stretcher) error

// WithSalt sets an explicit salt instead of generating one
func WithSalt(salt []byte) Option {
	return func(s *Stretcher) error {
		return s.SetSalt(salt)
	}
}

// WithSaltLength sets the generated salt length in bytes
func WithSaltLength(n int) Option {
	return func(s *Stretcher) error {
		if n < MinSaltLength {
			return apperrors.NewArgumentf("salt length %d is below the minimum of %d bytes", n, MinSaltLength)
		}
		salt := make([]byte, n)
		if _, err := rand.Read(salt); err != nil {
			return apperrors.NewIOWithCause("failed to generate salt", err)
		}
		s.salt = salt
		return nil
	}
}

// WithIterations sets the PBKDF2 iteration count
func WithIterations(n int) Option {
	return func(s *Stretcher) error {
		if n <= 0 {
			return apperrors.NewArgumentf("iteration count must be positive, got %d", n)
		}
		s.iterations = n
		return nil
	}
}

// WithPRF sets the HMAC hash family used by PBKDF2. The default is SHA-1,
// the RFC 2898 baseline; files written with one PRF must be opened with the
// same PRF.
func WithPRF(h func() hash.Hash) Option {
	return func(s *Stretcher) error {
		if h == nil {
			return apperrors.NewArgument("prf must not be nil")
		}
		s.prf = h
		return nil
	}
}

// New creates a Stretcher from a UTF-8 password. A random salt of
// DefaultSaltLength bytes is generated unless WithSalt or WithSaltLength
// overrides it.
func New(password string, opts ...Option) (*Stretcher, error) {
	return NewFromBytes([]byte(password), opts...)
}

// NewFromBytes creates a Stretcher from raw password bytes
func NewFromBytes(password []byte, opts ...Option) (*Stretcher, error) {
	if len(password) == 0 {
		return nil, apperrors.NewArgument("password must not be empty")
	}
	s := &Stretcher{
		password:   append([]byte(nil), password...),
		iterations: DefaultIterations,
		prf:        sha1.New,
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	if s.salt == nil {
		salt := make([]byte, DefaultSaltLength)
		if _, err := rand.Read(salt); err != nil {
			return nil, apperrors.NewIOWithCause("failed to generate salt", err)
		}
		s.salt = salt
	}
	return s, nil
}

// Salt returns a copy of the salt
func (s *Stretcher) Salt() []byte {
	return append([]byte(nil), s.salt...)
}

// SetSalt replaces the salt, as when it is read back from a file header
func (s *Stretcher) SetSalt(salt []byte) error {
	if len(salt) < MinSaltLength {
		return apperrors.NewArgumentf("salt must be at least %d bytes, got %d", MinSaltLength, len(salt))
	}
	s.salt = append([]byte(nil), salt...)
	return nil
}

// Iterations returns the PBKDF2 iteration count
func (s *Stretcher) Iterations() int {
	return s.iterations
}

// Key derives a key for the given factory's cipher. The key size is the
// largest legal size on the cipher's ladder that does not exceed maxBits;
// maxBits of zero means no cap.
func (s *Stretcher) Key(f *cipherkit.Factory, maxBits int) ([]byte, error) {
	sizes := f.KeySizes()
	bits := sizes.Max
	if maxBits > 0 {
		step := sizes.Skip
		if step == 0 {
			step = 8
		}
		for bits > maxBits && bits > sizes.Min {
			bits -= step
		}
		if bits > maxBits {
			return nil, apperrors.NewArgumentf("no legal key size of at most %d bits for %s", maxBits, f.Name())
		}
	}
	if bits%8 != 0 {
		return nil, apperrors.NewArgumentf("key size %d is not a multiple of 8 bits", bits)
	}
	return pbkdf2.Key(s.password, s.salt, s.iterations, bits/8, s.prf), nil
}

// Destroy zeroes the retained password material
func (s *Stretcher) Destroy() {
	for i := range s.password {
		s.password[i] = 0
	}
	s.password = s.password[:0]
}

package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

// HashAlgorithm selects the format produced by Hasher.Hash.
type HashAlgorithm string

const (
	HashBcrypt   HashAlgorithm = "bcrypt"
	HashArgon2id HashAlgorithm = "argon2id"
)

const (
	bcryptMaxPasswordBytes = 72
	argon2Prefix           = "$argon2id$"
	argon2MaxMemoryKiB     = 4 * 1024 * 1024
)

// Argon2Params tunes argon2id hashing. Memory is in KiB.
type Argon2Params struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	KeyLength   uint32
	SaltLength  uint32
}

// DefaultArgon2Params mirrors the parameters the service has always stored.
var DefaultArgon2Params = Argon2Params{
	Memory:      64 * 1024,
	Iterations:  2,
	Parallelism: 1,
	KeyLength:   32,
	SaltLength:  16,
}

// Hasher produces salted, self-describing password hashes and verifies them.
// Verification dispatches on the stored prefix, so bcrypt and argon2id hashes
// both verify whatever algorithm currently produces new hashes.
type Hasher struct {
	algorithm  HashAlgorithm
	bcryptCost int
	argon      Argon2Params
}

// HasherOption configures Hasher behavior.
type HasherOption func(*Hasher) error

// WithHashAlgorithm selects the algorithm used for new hashes.
func WithHashAlgorithm(alg HashAlgorithm) HasherOption {
	return func(h *Hasher) error {
		switch alg {
		case "":
			return nil
		case HashBcrypt, HashArgon2id:
			h.algorithm = alg
			return nil
		default:
			return fmt.Errorf("auth: unsupported hash algorithm %q", alg)
		}
	}
}

// WithBcryptCost overrides the bcrypt work factor.
func WithBcryptCost(cost int) HasherOption {
	return func(h *Hasher) error {
		if cost == 0 {
			return nil
		}
		if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
			return fmt.Errorf("auth: bcrypt cost %d out of range [%d,%d]", cost, bcrypt.MinCost, bcrypt.MaxCost)
		}
		h.bcryptCost = cost
		return nil
	}
}

// WithArgon2Params overrides argon2id parameters.
func WithArgon2Params(p Argon2Params) HasherOption {
	return func(h *Hasher) error {
		if p.Memory == 0 || p.Iterations == 0 || p.Parallelism == 0 || p.KeyLength == 0 || p.SaltLength == 0 {
			return fmt.Errorf("auth: argon2 parameters must be positive")
		}
		h.argon = p
		return nil
	}
}

// NewHasher constructs a Hasher. bcrypt at the default cost is used unless overridden.
func NewHasher(opts ...HasherOption) (*Hasher, error) {
	h := &Hasher{
		algorithm:  HashBcrypt,
		bcryptCost: bcrypt.DefaultCost,
		argon:      DefaultArgon2Params,
	}
	for _, opt := range opts {
		if err := opt(h); err != nil {
			return nil, err
		}
	}
	return h, nil
}

// Algorithm reports which format new hashes use.
func (h *Hasher) Algorithm() HashAlgorithm { return h.algorithm }

// Hash returns a salted hash of plaintext. Two calls with the same input
// never return the same string.
func (h *Hasher) Hash(plaintext string) (string, error) {
	if plaintext == "" {
		return "", fmt.Errorf("%w: password is empty", ErrInvalidInput)
	}
	if h.algorithm == HashArgon2id {
		return h.hashArgon2(plaintext)
	}
	if len(plaintext) > bcryptMaxPasswordBytes {
		return "", fmt.Errorf("%w: password exceeds %d bytes", ErrInvalidInput, bcryptMaxPasswordBytes)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), h.bcryptCost)
	if err != nil {
		return "", fmt.Errorf("auth: hash password: %w", err)
	}
	return string(hash), nil
}

// Verify reports whether plaintext matches hash. Malformed or unknown hashes
// never match. bcrypt only reads the first 72 bytes, so longer input can never
// match a bcrypt hash; Hash refuses to produce one for it.
func (h *Hasher) Verify(plaintext, hash string) bool {
	switch {
	case strings.HasPrefix(hash, argon2Prefix):
		return verifyArgon2(plaintext, hash)
	case strings.HasPrefix(hash, "$2a$"), strings.HasPrefix(hash, "$2b$"), strings.HasPrefix(hash, "$2y$"):
		if len(plaintext) > bcryptMaxPasswordBytes {
			return false
		}
		return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext)) == nil
	default:
		return false
	}
}

func (h *Hasher) hashArgon2(plaintext string) (string, error) {
	p := h.argon
	salt := make([]byte, p.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	key := argon2.IDKey([]byte(plaintext), salt, p.Iterations, p.Memory, p.Parallelism, p.KeyLength)

	return fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		p.Memory,
		p.Iterations,
		p.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

func verifyArgon2(plaintext, encoded string) bool {
	// "", "argon2id", "v=19", "m=..,t=..,p=..", salt, key
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 {
		return false
	}
	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return false
	}
	var (
		memory, iterations uint32
		parallelism        uint8
	)
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &parallelism); err != nil {
		return false
	}
	if memory == 0 || memory > argon2MaxMemoryKiB || iterations == 0 || parallelism == 0 {
		return false
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil || len(salt) == 0 {
		return false
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(want) == 0 {
		return false
	}
	got := argon2.IDKey([]byte(plaintext), salt, iterations, memory, parallelism, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1
}

package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/crypto/argon2"
)

const (
	minMemoryKB    uint32 = 8 * 1024
	minTimeCost    uint32 = 1
	minParallelism uint8  = 1
	minSaltLength  uint32 = 16
	minKeyLength   uint32 = 16
	algorithmID           = "argon2id"
)

// ErrMalformedHash is returned when a stored hash is not a supported PHC string.
var ErrMalformedHash = errors.New("malformed password hash")

// Params are the argon2id cost parameters used for new hashes.
type Params struct {
	Memory      uint32 // KiB
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultParams returns the production cost parameters.
func DefaultParams() Params {
	return Params{
		Memory:      64 * 1024,
		Time:        3,
		Parallelism: 2,
		SaltLength:  16,
		KeyLength:   32,
	}
}

// Hasher hashes and verifies passwords with argon2id.
type Hasher struct {
	params Params

	dummyOnce sync.Once
	dummy     string
}

type phc struct {
	memory      uint32
	time        uint32
	parallelism uint8
	salt        []byte
	key         []byte
}

// NewHasher validates p and returns a [Hasher].
func NewHasher(p Params) (*Hasher, error) {
	switch {
	case p.Memory < minMemoryKB:
		return nil, errors.New("password memory must be >= 8192 KB")
	case p.Time < minTimeCost:
		return nil, errors.New("password time must be >= 1")
	case p.Parallelism < minParallelism:
		return nil, errors.New("password parallelism must be >= 1")
	case p.SaltLength < minSaltLength:
		return nil, errors.New("password salt length must be >= 16")
	case p.KeyLength < minKeyLength:
		return nil, errors.New("password key length must be >= 16")
	}

	return &Hasher{params: p}, nil
}

// Hash returns the PHC encoding of password under a fresh random salt.
// Passwords are hashed byte-for-byte with no Unicode normalization.
func (h *Hasher) Hash(password string) (string, error) {
	salt := make([]byte, h.params.SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", err
	}

	key := argon2.IDKey([]byte(password), salt, h.params.Time, h.params.Memory, h.params.Parallelism, h.params.KeyLength)

	return fmt.Sprintf(
		"$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		algorithmID,
		argon2.Version,
		h.params.Memory,
		h.params.Time,
		h.params.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify reports whether password matches encoded. A malformed encoding
// returns [ErrMalformedHash].
func (h *Hasher) Verify(password, encoded string) (bool, error) {
	p, err := decodePHC(encoded)
	if err != nil {
		return false, err
	}

	key := argon2.IDKey([]byte(password), p.salt, p.time, p.memory, p.parallelism, uint32(len(p.key)))
	return subtle.ConstantTimeCompare(key, p.key) == 1, nil
}

// VerifyDummy spends the same work as a real verification against a fixed
// hash. It is used when no account exists so response timing does not reveal it.
func (h *Hasher) VerifyDummy(password string) {
	h.dummyOnce.Do(func() {
		h.dummy, _ = h.Hash("dummy-password-for-timing")
	})
	if h.dummy != "" {
		_, _ = h.Verify(password, h.dummy)
	}
}

// NeedsRehash reports whether encoded was produced with weaker parameters than
// the hasher's current ones.
func (h *Hasher) NeedsRehash(encoded string) (bool, error) {
	p, err := decodePHC(encoded)
	if err != nil {
		return false, err
	}

	return h.params.Memory > p.memory ||
		h.params.Time > p.time ||
		h.params.Parallelism > p.parallelism ||
		h.params.KeyLength != uint32(len(p.key)), nil
}

func decodePHC(encoded string) (*phc, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != algorithmID {
		return nil, fmt.Errorf("%w: format", ErrMalformedHash)
	}

	version, err := strconv.Atoi(strings.TrimPrefix(parts[2], "v="))
	if err != nil || !strings.HasPrefix(parts[2], "v=") || version != argon2.Version {
		return nil, fmt.Errorf("%w: version", ErrMalformedHash)
	}

	p := &phc{}
	if err := p.decodeParams(parts[3]); err != nil {
		return nil, err
	}

	if p.salt, err = decodeB64(parts[4]); err != nil || len(p.salt) < int(minSaltLength) {
		return nil, fmt.Errorf("%w: salt", ErrMalformedHash)
	}
	if p.key, err = decodeB64(parts[5]); err != nil || len(p.key) < int(minKeyLength) {
		return nil, fmt.Errorf("%w: key", ErrMalformedHash)
	}

	return p, nil
}

func (p *phc) decodeParams(part string) error {
	var seen int
	for _, pair := range strings.Split(part, ",") {
		name, value, ok := strings.Cut(pair, "=")
		if !ok {
			return fmt.Errorf("%w: params", ErrMalformedHash)
		}

		switch name {
		case "m":
			v, err := strconv.ParseUint(value, 10, 32)
			if err != nil || v < uint64(minMemoryKB) {
				return fmt.Errorf("%w: memory", ErrMalformedHash)
			}
			p.memory = uint32(v)
		case "t":
			v, err := strconv.ParseUint(value, 10, 32)
			if err != nil || v < uint64(minTimeCost) {
				return fmt.Errorf("%w: time", ErrMalformedHash)
			}
			p.time = uint32(v)
		case "p":
			v, err := strconv.ParseUint(value, 10, 8)
			if err != nil || v < uint64(minParallelism) {
				return fmt.Errorf("%w: parallelism", ErrMalformedHash)
			}
			p.parallelism = uint8(v)
		default:
			return fmt.Errorf("%w: unknown param %q", ErrMalformedHash, name)
		}
		seen++
	}
	if seen != 3 || p.memory == 0 || p.time == 0 || p.parallelism == 0 {
		return fmt.Errorf("%w: params", ErrMalformedHash)
	}
	return nil
}

// Hashes from other encoders may carry padding.
func decodeB64(s string) ([]byte, error) {
	if strings.HasSuffix(s, "=") {
		return base64.StdEncoding.DecodeString(s)
	}
	return base64.RawStdEncoding.DecodeString(s)
}

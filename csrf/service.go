package csrf

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultTTL is how long an issued token stays valid.
	DefaultTTL = 24 * time.Hour
	// MinSecretLength is the minimum accepted HMAC secret size in bytes.
	MinSecretLength = 32

	randomSize = 32
	macHexLen  = sha256.Size * 2
)

// Config holds the signing secret and token lifetime.
type Config struct {
	Secret []byte
	TTL    time.Duration
	Now    func() time.Time
	Rand   io.Reader
}

// Service issues and validates tokens. It is safe for concurrent use.
type Service struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
	rand   io.Reader
}

// New validates cfg and returns a [Service].
func New(cfg Config) (*Service, error) {
	if len(cfg.Secret) < MinSecretLength {
		return nil, fmt.Errorf("csrf secret must be at least %d bytes", MinSecretLength)
	}
	if cfg.TTL < 0 {
		return nil, errors.New("csrf TTL must be >= 0")
	}
	if cfg.TTL == 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.Reader
	}

	secret := make([]byte, len(cfg.Secret))
	copy(secret, cfg.Secret)

	return &Service{secret: secret, ttl: cfg.TTL, now: cfg.Now, rand: cfg.Rand}, nil
}

// Issue returns a new token stamped with the current time.
func (s *Service) Issue() (string, error) {
	var buf [randomSize]byte
	if _, err := io.ReadFull(s.rand, buf[:]); err != nil {
		return "", fmt.Errorf("csrf random: %w", err)
	}

	random := hex.EncodeToString(buf[:])
	ts := strconv.FormatInt(s.now().UnixMilli(), 10)
	return random + "." + ts + "." + s.sign(random, ts), nil
}

// Validate reports whether token was issued with this secret and is not
// older than the configured TTL.
func (s *Service) Validate(token string) bool {
	random, ts, mac, ok := split(token)
	if !ok {
		return false
	}

	issuedMs, err := strconv.ParseInt(ts, 10, 64)
	if err != nil || issuedMs < 0 {
		return false
	}

	expected := s.sign(random, ts)
	if !hmac.Equal([]byte(expected), []byte(mac)) {
		return false
	}

	age := s.now().UnixMilli() - issuedMs
	return age <= s.ttl.Milliseconds()
}

func (s *Service) sign(random, ts string) string {
	m := hmac.New(sha256.New, s.secret)
	m.Write([]byte(random))
	m.Write([]byte{'.'})
	m.Write([]byte(ts))
	return hex.EncodeToString(m.Sum(nil))
}

func split(token string) (random, ts, mac string, ok bool) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return "", "", "", false
	}
	random, ts, mac = parts[0], parts[1], parts[2]
	if len(random) != randomSize*2 || !isLowerHex(random) {
		return "", "", "", false
	}
	if len(mac) != macHexLen || !isLowerHex(mac) {
		return "", "", "", false
	}
	if ts == "" || len(ts) > 19 || !isDigits(ts) {
		return "", "", "", false
	}
	return random, ts, mac, true
}

func isLowerHex(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

package token

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Kind distinguishes the two credential kinds. It is part of the signed payload.
type Kind string

const (
	// Access is the short-lived credential presented on every request.
	Access Kind = "access"
	// Refresh is the long-lived credential exchanged for new access tokens.
	Refresh Kind = "refresh"
)

// MinKeyLength is the minimum accepted HMAC key size in bytes.
const MinKeyLength = 32

// ErrInvalid is the single outcome of any failed verification.
var ErrInvalid = errors.New("invalid token")

// InvalidError carries the server-side reason a token was rejected.
// It unwraps to [ErrInvalid]; Reason must never be sent to clients.
type InvalidError struct {
	Reason string
}

func (e *InvalidError) Error() string { return ErrInvalid.Error() }

// Unwrap returns [ErrInvalid].
func (e *InvalidError) Unwrap() error { return ErrInvalid }

// Reason extracts the audit reason from a verification error, or "" if err
// did not come from [Codec.Verify].
func Reason(err error) string {
	var ie *InvalidError
	if errors.As(err, &ie) {
		return ie.Reason
	}
	return ""
}

// Config holds codec keys and lifetimes. It is copied on construction.
type Config struct {
	AccessKey  []byte
	RefreshKey []byte
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Issuer     string
	// Now is the clock used for both issuance and expiry checks. Defaults to time.Now.
	Now func() time.Time
}

// Claims is the verified content of a credential.
type Claims struct {
	Subject   string
	Role      string
	Kind      Kind
	ID        string
	Version   uint32
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// IssueInput describes a credential to mint. Version is only embedded in
// refresh tokens.
type IssueInput struct {
	Subject string
	Role    string
	Kind    Kind
	Version uint32
}

// Codec signs and verifies credentials.
type Codec struct {
	config Config
}

// wireClaims is the exact payload schema. Unknown members are rejected.
type wireClaims struct {
	Role    string  `json:"role"`
	Kind    Kind    `json:"knd"`
	Version *uint32 `json:"ver,omitempty"`
	jwt.RegisteredClaims
}

func (c *wireClaims) UnmarshalJSON(data []byte) error {
	type plain wireClaims
	var p plain
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return err
	}
	*c = wireClaims(p)
	return nil
}

// NewCodec validates cfg and returns a ready [Codec].
func NewCodec(cfg Config) (*Codec, error) {
	if len(cfg.AccessKey) < MinKeyLength {
		return nil, fmt.Errorf("access key must be at least %d bytes", MinKeyLength)
	}
	if len(cfg.RefreshKey) < MinKeyLength {
		return nil, fmt.Errorf("refresh key must be at least %d bytes", MinKeyLength)
	}
	if bytes.Equal(cfg.AccessKey, cfg.RefreshKey) {
		return nil, errors.New("access and refresh keys must differ")
	}
	if cfg.AccessTTL <= 0 {
		return nil, errors.New("invalid access TTL")
	}
	if cfg.RefreshTTL <= cfg.AccessTTL {
		return nil, errors.New("refresh TTL must exceed access TTL")
	}
	cfg.Issuer = strings.TrimSpace(cfg.Issuer)
	cfg.AccessKey = bytes.Clone(cfg.AccessKey)
	cfg.RefreshKey = bytes.Clone(cfg.RefreshKey)
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Codec{config: cfg}, nil
}

// TTL returns the configured lifetime of kind.
func (c *Codec) TTL(kind Kind) time.Duration {
	if kind == Refresh {
		return c.config.RefreshTTL
	}
	return c.config.AccessTTL
}

// Issue signs a new credential and returns it together with its claims.
func (c *Codec) Issue(in IssueInput) (string, Claims, error) {
	key, ok := c.key(in.Kind)
	if !ok {
		return "", Claims{}, fmt.Errorf("unknown token kind %q", in.Kind)
	}
	if in.Subject == "" || in.Role == "" {
		return "", Claims{}, errors.New("subject and role are required")
	}

	now := c.config.Now()
	wc := wireClaims{
		Role: in.Role,
		Kind: in.Kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   in.Subject,
			Issuer:    c.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.TTL(in.Kind))),
		},
	}
	if in.Kind == Refresh {
		v := in.Version
		wc.Version = &v
		wc.ID = uuid.NewString()
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, wc).SignedString(key)
	if err != nil {
		return "", Claims{}, err
	}

	return signed, toClaims(&wc), nil
}

// Verify checks signature, kind and expiry. Every failure returns an error
// wrapping [ErrInvalid].
func (c *Codec) Verify(tokenStr string, expected Kind) (Claims, error) {
	key, ok := c.key(expected)
	if !ok {
		return Claims{}, &InvalidError{Reason: "unknown expected kind"}
	}
	if tokenStr == "" {
		return Claims{}, &InvalidError{Reason: "empty"}
	}

	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(c.config.Now),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	}
	if c.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(c.config.Issuer))
	}

	wc := &wireClaims{}
	parsed, err := jwt.NewParser(options...).ParseWithClaims(tokenStr, wc, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
		}
		return key, nil
	})
	if err != nil {
		return Claims{}, &InvalidError{Reason: parseReason(err)}
	}
	if !parsed.Valid {
		return Claims{}, &InvalidError{Reason: "invalid"}
	}

	if wc.Kind != expected {
		return Claims{}, &InvalidError{Reason: "wrong kind"}
	}
	if wc.Subject == "" || wc.Role == "" {
		return Claims{}, &InvalidError{Reason: "missing claims"}
	}
	if wc.IssuedAt == nil || !wc.ExpiresAt.After(wc.IssuedAt.Time) {
		return Claims{}, &InvalidError{Reason: "bad lifetime"}
	}
	switch expected {
	case Refresh:
		if wc.ID == "" || wc.Version == nil {
			return Claims{}, &InvalidError{Reason: "missing refresh claims"}
		}
	case Access:
		if wc.Version != nil || wc.ID != "" {
			return Claims{}, &InvalidError{Reason: "unexpected claims"}
		}
	}

	return toClaims(wc), nil
}

func (c *Codec) key(kind Kind) ([]byte, bool) {
	switch kind {
	case Access:
		return c.config.AccessKey, true
	case Refresh:
		return c.config.RefreshKey, true
	default:
		return nil, false
	}
}

func toClaims(wc *wireClaims) Claims {
	cl := Claims{
		Subject: wc.Subject,
		Role:    wc.Role,
		Kind:    wc.Kind,
		ID:      wc.ID,
	}
	if wc.Version != nil {
		cl.Version = *wc.Version
	}
	if wc.IssuedAt != nil {
		cl.IssuedAt = wc.IssuedAt.Time
	}
	if wc.ExpiresAt != nil {
		cl.ExpiresAt = wc.ExpiresAt.Time
	}
	return cl
}

func parseReason(err error) string {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return "expired"
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return "bad signature"
	case errors.Is(err, jwt.ErrTokenUnverifiable):
		return "unverifiable"
	case errors.Is(err, jwt.ErrTokenMalformed):
		return "malformed"
	case errors.Is(err, jwt.ErrTokenUsedBeforeIssued):
		return "issued in the future"
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return "wrong issuer"
	case errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return "missing claims"
	default:
		return "invalid claims"
	}
}

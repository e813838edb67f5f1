package authcore

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ledgerwise/authcore/csrf"
	"github.com/ledgerwise/authcore/token"
)

// Config is the complete engine configuration. Build one at process start,
// pass it to [Builder.WithConfig] and treat it as immutable afterwards.
type Config struct {
	Token     TokenConfig
	Cookie    CookieConfig
	CSRF      CSRFConfig
	RateLimit RateLimitConfig
	Password  PasswordConfig
	Account   AccountConfig
	Audit     AuditConfig
	Metrics   MetricsConfig
	Security  SecurityConfig
}

/*
====================================
TOKEN CONFIG
====================================
*/

// TokenConfig holds the signing keys and lifetimes of bearer credentials.
// AccessSecret and RefreshSecret must differ.
type TokenConfig struct {
	AccessSecret  []byte
	RefreshSecret []byte
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	Issuer        string
}

/*
====================================
COOKIE CONFIG
====================================
*/

// CookieConfig names the credential cookies. Cookies are always Secure in
// ProductionMode; Secure forces the attribute elsewhere.
type CookieConfig struct {
	AccessName  string
	RefreshName string
	Domain      string
	Path        string
	Secure      bool
}

/*
====================================
CSRF CONFIG
====================================
*/

// CSRFConfig holds the anti-forgery token secret and lifetime.
type CSRFConfig struct {
	Secret []byte
	TTL    time.Duration
}

/*
====================================
RATE LIMIT CONFIG
====================================
*/

// RateLimitRule is a fixed-window attempt budget.
type RateLimitRule struct {
	MaxAttempts int
	Window      time.Duration
}

// RateLimitConfig holds the budgets enforced on credential endpoints.
// LoginIP, Register and Refresh are applied per client address by the HTTP
// guard; LoginAccount is applied per email by [Engine.Login].
type RateLimitConfig struct {
	Prefix       string
	OpTimeout    time.Duration
	LoginIP      RateLimitRule
	LoginAccount RateLimitRule
	Register     RateLimitRule
	Refresh      RateLimitRule
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig holds argon2id cost parameters and the new-password policy.
type PasswordConfig struct {
	Memory         uint32 // in KB
	Time           uint32
	Parallelism    uint8
	SaltLength     uint32
	KeyLength      uint32
	UpgradeOnLogin bool

	MinLength        int
	MaxLength        int
	MinStrengthScore int
}

/*
====================================
ACCOUNT CONFIG
====================================
*/

// AccountConfig controls self-service registration.
type AccountConfig struct {
	AllowRegistration bool
	DefaultRole       string
}

/*
====================================
AUDIT CONFIG
====================================
*/

// AuditConfig controls the asynchronous audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

/*
====================================
METRICS CONFIG
====================================
*/

// MetricsConfig controls in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
SECURITY CONFIG
====================================
*/

// SecurityConfig holds cross-cutting policy switches.
type SecurityConfig struct {
	// ProductionMode marks cookies Secure and enforces production-grade secrets.
	ProductionMode bool
	// RotateRefreshTokens issues a new refresh token on every refresh and
	// rejects reuse of the old one.
	RotateRefreshTokens bool
	RevocationPrefix    string
}

/*
====================================
DEFAULTS
====================================
*/

// DefaultConfig returns a configuration with every policy default filled in.
// Secrets are left empty and must be supplied.
func DefaultConfig() Config {
	return Config{
		Token: TokenConfig{
			AccessTTL:  15 * time.Minute,
			RefreshTTL: 7 * 24 * time.Hour,
			Issuer:     "authcore",
		},
		Cookie: CookieConfig{
			AccessName:  "accessToken",
			RefreshName: "refreshToken",
			Path:        "/",
		},
		CSRF: CSRFConfig{
			TTL: csrf.DefaultTTL,
		},
		RateLimit: RateLimitConfig{
			Prefix:       "rl",
			OpTimeout:    2 * time.Second,
			LoginIP:      RateLimitRule{MaxAttempts: 5, Window: 15 * time.Minute},
			LoginAccount: RateLimitRule{MaxAttempts: 10, Window: 15 * time.Minute},
			Register:     RateLimitRule{MaxAttempts: 5, Window: time.Hour},
			Refresh:      RateLimitRule{MaxAttempts: 20, Window: time.Minute},
		},
		Password: PasswordConfig{
			Memory:           65536,
			Time:             3,
			Parallelism:      2,
			SaltLength:       16,
			KeyLength:        32,
			UpgradeOnLogin:   true,
			MinLength:        10,
			MaxLength:        128,
			MinStrengthScore: 2,
		},
		Account: AccountConfig{
			AllowRegistration: true,
			DefaultRole:       "user",
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		Security: SecurityConfig{
			ProductionMode:      false,
			RotateRefreshTokens: true,
			RevocationPrefix:    "rtd",
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Token.AccessSecret = bytes.Clone(cfg.Token.AccessSecret)
	out.Token.RefreshSecret = bytes.Clone(cfg.Token.RefreshSecret)
	out.CSRF.Secret = bytes.Clone(cfg.CSRF.Secret)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first configuration error found.
func (c *Config) Validate() error {
	// Token
	if len(c.Token.AccessSecret) < token.MinKeyLength {
		return fmt.Errorf("Token AccessSecret must be at least %d bytes", token.MinKeyLength)
	}
	if len(c.Token.RefreshSecret) < token.MinKeyLength {
		return fmt.Errorf("Token RefreshSecret must be at least %d bytes", token.MinKeyLength)
	}
	if bytes.Equal(c.Token.AccessSecret, c.Token.RefreshSecret) {
		return errors.New("Token AccessSecret and RefreshSecret must differ")
	}
	if c.Token.AccessTTL < time.Minute || c.Token.AccessTTL > time.Hour {
		return errors.New("Token AccessTTL must be between 1m and 1h")
	}
	if c.Token.RefreshTTL < 24*time.Hour || c.Token.RefreshTTL > 90*24*time.Hour {
		return errors.New("Token RefreshTTL must be between 24h and 90d")
	}

	// Cookie
	if strings.TrimSpace(c.Cookie.AccessName) == "" || strings.TrimSpace(c.Cookie.RefreshName) == "" {
		return errors.New("Cookie names must be set")
	}
	if c.Cookie.AccessName == c.Cookie.RefreshName {
		return errors.New("Cookie AccessName and RefreshName must differ")
	}

	// CSRF
	if len(c.CSRF.Secret) < csrf.MinSecretLength {
		return fmt.Errorf("CSRF Secret must be at least %d bytes", csrf.MinSecretLength)
	}
	if bytes.Equal(c.CSRF.Secret, c.Token.AccessSecret) || bytes.Equal(c.CSRF.Secret, c.Token.RefreshSecret) {
		return errors.New("CSRF Secret must differ from token secrets")
	}
	if c.CSRF.TTL <= 0 {
		return errors.New("CSRF TTL must be > 0")
	}

	// Rate limit
	rules := map[string]RateLimitRule{
		"LoginIP":      c.RateLimit.LoginIP,
		"LoginAccount": c.RateLimit.LoginAccount,
		"Register":     c.RateLimit.Register,
		"Refresh":      c.RateLimit.Refresh,
	}
	for name, r := range rules {
		if r.MaxAttempts <= 0 || r.Window < time.Second {
			return fmt.Errorf("RateLimit %s must have MaxAttempts > 0 and Window >= 1s", name)
		}
	}
	if c.RateLimit.OpTimeout <= 0 {
		return errors.New("RateLimit OpTimeout must be > 0")
	}

	// Password
	if c.Password.Memory < 8*1024 {
		return errors.New("Password Memory must be >= 8192 KB")
	}
	if c.Password.Time < 1 {
		return errors.New("Password Time must be >= 1")
	}
	if c.Password.Parallelism < 1 {
		return errors.New("Password Parallelism must be >= 1")
	}
	if c.Password.SaltLength < 16 {
		return errors.New("Password SaltLength must be >= 16")
	}
	if c.Password.KeyLength < 16 {
		return errors.New("Password KeyLength must be >= 16")
	}
	if c.Password.MinLength < 8 {
		return errors.New("Password MinLength must be >= 8")
	}
	if c.Password.MaxLength < c.Password.MinLength {
		return errors.New("Password MaxLength must be >= MinLength")
	}
	if c.Password.MinStrengthScore < 0 || c.Password.MinStrengthScore > 4 {
		return errors.New("Password MinStrengthScore must be between 0 and 4")
	}

	// Account
	if strings.TrimSpace(c.Account.DefaultRole) == "" {
		return errors.New("Account DefaultRole must be set")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0")
	}

	// Production
	if c.Security.ProductionMode {
		if c.Password.Memory < 64*1024 || c.Password.Time < 2 {
			return errors.New("ProductionMode requires Password Memory >= 65536 KB and Time >= 2")
		}
		if c.Password.MinStrengthScore < 2 {
			return errors.New("ProductionMode requires Password MinStrengthScore >= 2")
		}
	}

	return nil
}

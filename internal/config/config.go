package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/ledgerwise/authcore"
	"github.com/spf13/viper"
)

const envPrefix = "AUTHCORE"

type AppConfig struct {
	App       AppSettings       `mapstructure:"app"`
	Redis     RedisSettings     `mapstructure:"redis"`
	Store     StoreSettings     `mapstructure:"store"`
	Auth      AuthSettings      `mapstructure:"auth"`
	RateLimit RateLimitSettings `mapstructure:"rate_limit"`
	Argon2    Argon2Settings    `mapstructure:"argon2"`
}

type AppSettings struct {
	Name            string        `mapstructure:"name"`
	Env             string        `mapstructure:"env"`
	Addr            string        `mapstructure:"addr"`
	LogLevel        string        `mapstructure:"log_level"`
	TrustProxy      bool          `mapstructure:"trust_proxy"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// RedisSettings configures the shared counter store. Embedded starts an
// in-process miniredis for local runs.
type RedisSettings struct {
	Addr       string `mapstructure:"addr"`
	Password   string `mapstructure:"password"`
	DB         int    `mapstructure:"db"`
	TLSEnabled bool   `mapstructure:"tls_enabled"`
	Embedded   bool   `mapstructure:"embedded"`
}

// StoreSettings selects the user store: "sqlite" or "memory".
type StoreSettings struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

type AuthSettings struct {
	AccessSecret        string        `mapstructure:"access_secret"`
	RefreshSecret       string        `mapstructure:"refresh_secret"`
	CSRFSecret          string        `mapstructure:"csrf_secret"`
	AccessTTL           time.Duration `mapstructure:"access_ttl"`
	RefreshTTL          time.Duration `mapstructure:"refresh_ttl"`
	CSRFTTL             time.Duration `mapstructure:"csrf_ttl"`
	Issuer              string        `mapstructure:"issuer"`
	CookieDomain        string        `mapstructure:"cookie_domain"`
	CookieSecure        bool          `mapstructure:"cookie_secure"`
	RotateRefreshTokens bool          `mapstructure:"rotate_refresh_tokens"`
	AllowRegistration   bool          `mapstructure:"allow_registration"`
	DefaultRole         string        `mapstructure:"default_role"`
	ProductionMode      bool          `mapstructure:"production_mode"`
}

// RateLimitSettings holds the per-endpoint attempt budgets.
type RateLimitSettings struct {
	Prefix             string        `mapstructure:"prefix"`
	OpTimeout          time.Duration `mapstructure:"op_timeout"`
	LoginIPMax         int           `mapstructure:"login_ip_max"`
	LoginIPWindow      time.Duration `mapstructure:"login_ip_window"`
	LoginAccountMax    int           `mapstructure:"login_account_max"`
	LoginAccountWindow time.Duration `mapstructure:"login_account_window"`
	RegisterMax        int           `mapstructure:"register_max"`
	RegisterWindow     time.Duration `mapstructure:"register_window"`
	RefreshMax         int           `mapstructure:"refresh_max"`
	RefreshWindow      time.Duration `mapstructure:"refresh_window"`
}

// Argon2Settings configures Argon2id password hashing parameters
type Argon2Settings struct {
	Memory      uint32 `mapstructure:"memory"`
	Iterations  uint32 `mapstructure:"iterations"`
	Parallelism uint8  `mapstructure:"parallelism"`
	SaltLength  uint32 `mapstructure:"salt_length"`
	KeyLength   uint32 `mapstructure:"key_length"`
}

var envKeys = []string{
	"app.name",
	"app.env",
	"app.addr",
	"app.log_level",
	"app.trust_proxy",
	"app.shutdown_timeout",
	"redis.addr",
	"redis.password",
	"redis.db",
	"redis.tls_enabled",
	"redis.embedded",
	"store.driver",
	"store.dsn",
	"auth.access_secret",
	"auth.refresh_secret",
	"auth.csrf_secret",
	"auth.access_ttl",
	"auth.refresh_ttl",
	"auth.csrf_ttl",
	"auth.issuer",
	"auth.cookie_domain",
	"auth.cookie_secure",
	"auth.rotate_refresh_tokens",
	"auth.allow_registration",
	"auth.default_role",
	"auth.production_mode",
	"rate_limit.prefix",
	"rate_limit.op_timeout",
	"rate_limit.login_ip_max",
	"rate_limit.login_ip_window",
	"rate_limit.login_account_max",
	"rate_limit.login_account_window",
	"rate_limit.register_max",
	"rate_limit.register_window",
	"rate_limit.refresh_max",
	"rate_limit.refresh_window",
	"argon2.memory",
	"argon2.iterations",
	"argon2.parallelism",
	"argon2.salt_length",
	"argon2.key_length",
}

// Load reads defaults, then the optional YAML file at path, then the
// environment (AUTHCORE_ prefixed, with a .env file loaded first if present).
func Load(path string) (*AppConfig, error) {
	loadEnvFile()

	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix(envPrefix)

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	if err := bindEnvs(v, envKeys); err != nil {
		return nil, err
	}
	v.AutomaticEnv()

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks process-level settings. Engine settings are validated by
// authcore.Config.Validate.
func (c *AppConfig) Validate() error {
	if c.App.Addr == "" {
		return errors.New("app.addr is required")
	}
	switch c.Store.Driver {
	case "memory":
	case "sqlite":
		if c.Store.DSN == "" {
			return errors.New("store.dsn is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("unknown store.driver %q", c.Store.Driver)
	}
	if !c.Redis.Embedded && c.Redis.Addr == "" {
		return errors.New("redis.addr is required unless redis.embedded is set")
	}
	if c.App.Env == "production" && c.Redis.Embedded {
		return errors.New("redis.embedded is not allowed in production")
	}
	return nil
}

// EngineConfig maps the settings onto an authcore.Config.
func (c *AppConfig) EngineConfig() authcore.Config {
	cfg := authcore.DefaultConfig()

	cfg.Token.AccessSecret = []byte(c.Auth.AccessSecret)
	cfg.Token.RefreshSecret = []byte(c.Auth.RefreshSecret)
	cfg.Token.AccessTTL = c.Auth.AccessTTL
	cfg.Token.RefreshTTL = c.Auth.RefreshTTL
	cfg.Token.Issuer = c.Auth.Issuer
	cfg.Cookie.Domain = c.Auth.CookieDomain
	cfg.Cookie.Secure = c.Auth.CookieSecure
	cfg.CSRF.Secret = []byte(c.Auth.CSRFSecret)
	cfg.CSRF.TTL = c.Auth.CSRFTTL

	cfg.RateLimit.Prefix = c.RateLimit.Prefix
	cfg.RateLimit.OpTimeout = c.RateLimit.OpTimeout
	cfg.RateLimit.LoginIP = authcore.RateLimitRule{MaxAttempts: c.RateLimit.LoginIPMax, Window: c.RateLimit.LoginIPWindow}
	cfg.RateLimit.LoginAccount = authcore.RateLimitRule{MaxAttempts: c.RateLimit.LoginAccountMax, Window: c.RateLimit.LoginAccountWindow}
	cfg.RateLimit.Register = authcore.RateLimitRule{MaxAttempts: c.RateLimit.RegisterMax, Window: c.RateLimit.RegisterWindow}
	cfg.RateLimit.Refresh = authcore.RateLimitRule{MaxAttempts: c.RateLimit.RefreshMax, Window: c.RateLimit.RefreshWindow}

	cfg.Password.Memory = c.Argon2.Memory
	cfg.Password.Time = c.Argon2.Iterations
	cfg.Password.Parallelism = c.Argon2.Parallelism
	cfg.Password.SaltLength = c.Argon2.SaltLength
	cfg.Password.KeyLength = c.Argon2.KeyLength

	cfg.Account.AllowRegistration = c.Auth.AllowRegistration
	cfg.Account.DefaultRole = c.Auth.DefaultRole
	cfg.Security.ProductionMode = c.Auth.ProductionMode
	cfg.Security.RotateRefreshTokens = c.Auth.RotateRefreshTokens

	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "authcore")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.addr", ":8080")
	v.SetDefault("app.log_level", "")
	v.SetDefault("app.trust_proxy", false)
	v.SetDefault("app.shutdown_timeout", "10s")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.tls_enabled", false)
	v.SetDefault("redis.embedded", false)

	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.dsn", "file:authcore.db?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")

	v.SetDefault("auth.access_ttl", "15m")
	v.SetDefault("auth.refresh_ttl", "168h")
	v.SetDefault("auth.csrf_ttl", "24h")
	v.SetDefault("auth.issuer", "authcore")
	v.SetDefault("auth.cookie_domain", "")
	v.SetDefault("auth.cookie_secure", false)
	v.SetDefault("auth.rotate_refresh_tokens", true)
	v.SetDefault("auth.allow_registration", true)
	v.SetDefault("auth.default_role", "user")
	v.SetDefault("auth.production_mode", false)

	v.SetDefault("rate_limit.prefix", "rl")
	v.SetDefault("rate_limit.op_timeout", "2s")
	v.SetDefault("rate_limit.login_ip_max", 5)
	v.SetDefault("rate_limit.login_ip_window", "15m")
	v.SetDefault("rate_limit.login_account_max", 10)
	v.SetDefault("rate_limit.login_account_window", "15m")
	v.SetDefault("rate_limit.register_max", 5)
	v.SetDefault("rate_limit.register_window", "1h")
	v.SetDefault("rate_limit.refresh_max", 20)
	v.SetDefault("rate_limit.refresh_window", "1m")

	v.SetDefault("argon2.memory", 65536) // 64 MB
	v.SetDefault("argon2.iterations", 3)
	v.SetDefault("argon2.parallelism", 2)
	v.SetDefault("argon2.salt_length", 16)
	v.SetDefault("argon2.key_length", 32)
}

func bindEnvs(v *viper.Viper, keys []string) error {
	for _, key := range keys {
		envKey := strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, envPrefix+"_"+envKey); err != nil {
			return fmt.Errorf("bind env for %s: %w", key, err)
		}
	}
	return nil
}

// loadEnvFile loads .env from the working directory or its parent. Existing
// environment variables win.
func loadEnvFile() {
	if err := godotenv.Load(".env"); err == nil {
		return
	}

	cwd, err := os.Getwd()
	if err != nil {
		return
	}
	parent := filepath.Dir(cwd)
	if parent == "" || parent == cwd {
		return
	}
	_ = godotenv.Load(filepath.Join(parent, ".env"))
}

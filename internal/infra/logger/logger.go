package logger

import (
	"regexp"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns a JSON production logger for env "production" and a colored
// development logger otherwise.
func New(env, level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if env != "production" {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	if level != "" {
		lvl, err := zapcore.ParseLevel(level)
		if err != nil {
			return nil, err
		}
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}

	return cfg.Build()
}

var emailRegex = regexp.MustCompile(`^([^@]{1,3})[^@]*(@.+)$`)

// MaskEmail keeps the first three characters and the domain:
// john.doe@example.com -> joh***@example.com
func MaskEmail(email string) string {
	if email == "" {
		return ""
	}

	if m := emailRegex.FindStringSubmatch(email); len(m) == 3 {
		return m[1] + "***" + m[2]
	}
	if _, domain, ok := strings.Cut(email, "@"); ok {
		return "***@" + domain
	}
	return "***"
}

// MaskIP keeps the first two IPv4 octets or the first four IPv6 groups:
// 192.168.1.100 -> 192.168.*.*
func MaskIP(ip string) string {
	if ip == "" {
		return ""
	}

	if strings.Contains(ip, ".") {
		if parts := strings.Split(ip, "."); len(parts) == 4 {
			return parts[0] + "." + parts[1] + ".*.*"
		}
	}
	if strings.Contains(ip, ":") {
		if parts := strings.Split(ip, ":"); len(parts) >= 4 {
			return strings.Join(parts[:4], ":") + ":*:*:*:*"
		}
	}
	return "***"
}

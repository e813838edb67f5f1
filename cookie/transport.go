package cookie

import (
	"errors"
	"net/http"
	"strings"
	"time"
)

const (
	// DefaultAccessName is the access-token cookie name.
	DefaultAccessName = "accessToken"
	// DefaultRefreshName is the refresh-token cookie name.
	DefaultRefreshName = "refreshToken"
)

// Config controls cookie names and attributes. AccessTTL and RefreshTTL must be
// the lifetimes the token codec embeds in each credential.
type Config struct {
	AccessName  string
	RefreshName string
	Path        string
	Domain      string
	Secure      bool
	AccessTTL   time.Duration
	RefreshTTL  time.Duration
}

// Transport attaches, clears and extracts credential cookies.
type Transport struct {
	config Config
}

// New returns a [Transport] with defaults applied to empty names and path.
func New(cfg Config) (*Transport, error) {
	if cfg.AccessName == "" {
		cfg.AccessName = DefaultAccessName
	}
	if cfg.RefreshName == "" {
		cfg.RefreshName = DefaultRefreshName
	}
	if cfg.AccessName == cfg.RefreshName {
		return nil, errors.New("access and refresh cookie names must differ")
	}
	if cfg.Path == "" {
		cfg.Path = "/"
	}
	if cfg.AccessTTL < time.Second || cfg.RefreshTTL < time.Second {
		return nil, errors.New("cookie TTLs must be at least one second")
	}
	return &Transport{config: cfg}, nil
}

// Attach sets both credential cookies. An empty refresh value leaves the
// client's refresh cookie untouched.
func (t *Transport) Attach(w http.ResponseWriter, access, refresh string) {
	if access != "" {
		http.SetCookie(w, t.cookie(t.config.AccessName, access, t.config.AccessTTL))
	}
	if refresh != "" {
		http.SetCookie(w, t.cookie(t.config.RefreshName, refresh, t.config.RefreshTTL))
	}
}

// Clear expires both credential cookies with Max-Age=0.
func (t *Transport) Clear(w http.ResponseWriter) {
	for _, name := range []string{t.config.AccessName, t.config.RefreshName} {
		c := t.cookie(name, "", 0)
		// net/http renders MaxAge<0 as "Max-Age=0".
		c.MaxAge = -1
		http.SetCookie(w, c)
	}
}

// ExtractAccess returns the access token from the access cookie, falling back
// to an Authorization bearer header.
func (t *Transport) ExtractAccess(r *http.Request) (string, bool) {
	if c, err := r.Cookie(t.config.AccessName); err == nil && c.Value != "" {
		return c.Value, true
	}
	return BearerToken(r.Header.Get("Authorization"))
}

// ExtractRefresh returns the refresh token from its cookie.
func (t *Transport) ExtractRefresh(r *http.Request) (string, bool) {
	if c, err := r.Cookie(t.config.RefreshName); err == nil && c.Value != "" {
		return c.Value, true
	}
	return "", false
}

// BearerToken parses an "Authorization: Bearer <token>" header value.
func BearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}

func (t *Transport) cookie(name, value string, ttl time.Duration) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     t.config.Path,
		Domain:   t.config.Domain,
		MaxAge:   int(ttl / time.Second),
		HttpOnly: true,
		Secure:   t.config.Secure,
		SameSite: http.SameSiteStrictMode,
	}
}

package middleware

import (
	"context"
	"net/http"

	"github.com/ledgerwise/authcore"
	"github.com/ledgerwise/authcore/cookie"
	"github.com/ledgerwise/authcore/internal/httpx"
)

type principalContextKey struct{}

// Authenticator verifies access tokens. *authcore.Engine implements it.
type Authenticator interface {
	Authenticate(accessToken string) (authcore.Principal, error)
}

// PrincipalFromContext returns the principal stored by [Authenticate].
func PrincipalFromContext(ctx context.Context) (authcore.Principal, bool) {
	p, ok := ctx.Value(principalContextKey{}).(authcore.Principal)
	return p, ok
}

// WithPrincipal returns a copy of ctx carrying p.
func WithPrincipal(ctx context.Context, p authcore.Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// Authenticate extracts the access token from the cookie (or an
// Authorization: Bearer header) and rejects the request with 401
// UNAUTHENTICATED unless it verifies.
func Authenticate(auth Authenticator, transport *cookie.Transport) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if auth == nil || transport == nil {
				httpx.WriteError(w, authcore.ErrUnauthenticated)
				return
			}

			token, ok := transport.ExtractAccess(r)
			if !ok {
				httpx.WriteError(w, authcore.ErrUnauthenticated)
				return
			}

			p, err := auth.Authenticate(token)
			if err != nil {
				httpx.WriteError(w, authcore.ErrUnauthenticated)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}

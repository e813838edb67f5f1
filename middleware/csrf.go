package middleware

import (
	"context"
	"net/http"

	"github.com/ledgerwise/authcore"
	"github.com/ledgerwise/authcore/internal/httpx"
)

// CSRFHeader carries the anti-forgery token on state-changing requests.
const CSRFHeader = "X-CSRF-Token"

// CSRFChecker validates header values. *authcore.Engine implements it and
// returns authcore.ErrCSRFTokenMissing or authcore.ErrCSRFTokenInvalid.
type CSRFChecker interface {
	CheckCSRF(ctx context.Context, headerValue string) error
}

// CSRF lets GET, HEAD and OPTIONS through and requires a valid
// X-CSRF-Token header on everything else.
func CSRF(checker CSRFChecker) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isSafeMethod(r.Method) {
				next.ServeHTTP(w, r)
				return
			}
			if checker == nil {
				httpx.WriteError(w, authcore.ErrCSRFTokenInvalid)
				return
			}

			if err := checker.CheckCSRF(r.Context(), r.Header.Get(CSRFHeader)); err != nil {
				httpx.WriteError(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	default:
		return false
	}
}

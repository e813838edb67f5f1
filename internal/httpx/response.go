package httpx

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/ledgerwise/authcore"
)

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error      string            `json:"error"`
	Message    string            `json:"message"`
	Fields     map[string]string `json:"fields,omitempty"`
	RetryAfter int               `json:"retryAfter,omitempty"`
	ResetAt    *time.Time        `json:"resetAt,omitempty"`
}

var kindStatus = map[authcore.Kind]int{
	authcore.KindValidationFailed:       http.StatusBadRequest,
	authcore.KindSamePassword:           http.StatusBadRequest,
	authcore.KindEmailTaken:             http.StatusConflict,
	authcore.KindInvalidCredentials:     http.StatusUnauthorized,
	authcore.KindInvalidCurrentPassword: http.StatusUnauthorized,
	authcore.KindInvalidRefreshToken:    http.StatusUnauthorized,
	authcore.KindUnauthenticated:        http.StatusUnauthorized,
	authcore.KindAccountInactive:        http.StatusForbidden,
	authcore.KindCSRFTokenMissing:       http.StatusForbidden,
	authcore.KindCSRFTokenInvalid:       http.StatusForbidden,
	authcore.KindRegistrationDisabled:   http.StatusForbidden,
	authcore.KindRateLimited:            http.StatusTooManyRequests,
	authcore.KindServiceUnavailable:     http.StatusServiceUnavailable,
	authcore.KindInternal:               http.StatusInternalServerError,
}

// StatusFor returns the HTTP status of kind.
func StatusFor(kind authcore.Kind) int {
	if status, ok := kindStatus[kind]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// WriteJSON writes v with status code and no-cache headers.
func WriteJSON(w http.ResponseWriter, code int, v any) {
	NoCache(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// NoCache marks the response as not storable.
func NoCache(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
}

// WriteError classifies err and writes the matching error body. Only the
// client-safe message of the kind is exposed; err itself never is.
func WriteError(w http.ResponseWriter, err error) {
	kind := authcore.KindOf(err)
	body := ErrorBody{
		Error:   string(kind),
		Message: kind.Message(),
	}

	var verr *authcore.ValidationError
	if errors.As(err, &verr) {
		body.Fields = verr.Fields
	}

	var rerr *authcore.RateLimitError
	if errors.As(err, &rerr) {
		secs := int(rerr.RetryAfter / time.Second)
		if secs < 1 {
			secs = 1
		}
		resetAt := rerr.ResetAt.UTC()
		body.RetryAfter = secs
		body.ResetAt = &resetAt
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}

	WriteJSON(w, StatusFor(kind), body)
}

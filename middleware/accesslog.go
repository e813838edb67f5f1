package middleware

import (
	"net/http"
	"time"

	"github.com/ledgerwise/authcore"
	"github.com/ledgerwise/authcore/internal/infra/logger"
	"go.uber.org/zap"
)

// AccessLog writes one entry per request. Client addresses are masked.
func AccessLog(log *zap.Logger) func(http.Handler) http.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("http")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rw, r)

			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", rw.status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", authcore.RequestIDFromContext(r.Context())),
				zap.String("ip", logger.MaskIP(authcore.ClientIPFromContext(r.Context()))),
			}
			if rw.status >= http.StatusInternalServerError {
				log.Error("http_request", fields...)
				return
			}
			log.Info("http_request", fields...)
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter

	status int
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

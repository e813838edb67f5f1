package authcore

import (
	"context"

	"github.com/ledgerwise/authcore/token"
	"go.uber.org/zap"
)

// Logout revokes the presented refresh token when it verifies. It is
// idempotent and never fails: a missing, invalid or already revoked token is
// not an error, and a store fault is only logged. Clearing cookies is the
// transport's job.
func (e *Engine) Logout(ctx context.Context, refreshToken string) error {
	if e == nil || e.codec == nil {
		return nil
	}

	var userID string
	if refreshToken != "" {
		claims, err := e.codec.Verify(refreshToken, token.Refresh)
		if err == nil {
			userID = claims.Subject
			if err := e.denylist.Revoke(ctx, claims.ID, claims.ExpiresAt.Sub(e.now())); err != nil {
				e.log.Warn("refresh token revocation failed", zap.String("user_id", userID), zap.Error(err))
			}
		}
	}

	e.metricInc(MetricLogout)
	e.emitAudit(ctx, auditEventLogout, true, userID, nil, nil)
	return nil
}

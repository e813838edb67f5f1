package internaldefs

import (
	"github.com/ledgerwise/authcore"
)

// CounterDef names one engine counter for exporters.
type CounterDef struct {
	ID   authcore.MetricID
	Name string
	Help string
}

// HistogramDef names one engine latency histogram for exporters.
type HistogramDef struct {
	ID   authcore.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in exposition order.
var CounterDefs = []CounterDef{
	{ID: authcore.MetricRegisterSuccess, Name: "authcore_register_success_total", Help: "Successful registrations."},
	{ID: authcore.MetricRegisterDuplicate, Name: "authcore_register_duplicate_total", Help: "Registrations rejected because the email is taken."},
	{ID: authcore.MetricRegisterRejected, Name: "authcore_register_rejected_total", Help: "Registrations rejected by validation or policy."},
	{ID: authcore.MetricLoginSuccess, Name: "authcore_login_success_total", Help: "Successful login attempts."},
	{ID: authcore.MetricLoginFailure, Name: "authcore_login_failure_total", Help: "Failed login attempts."},
	{ID: authcore.MetricLoginRateLimited, Name: "authcore_login_rate_limited_total", Help: "Login attempts denied by the per-account budget."},
	{ID: authcore.MetricAccountInactive, Name: "authcore_account_inactive_total", Help: "Correct credentials presented for an inactive account."},
	{ID: authcore.MetricRefreshSuccess, Name: "authcore_refresh_success_total", Help: "Successful refresh operations."},
	{ID: authcore.MetricRefreshFailure, Name: "authcore_refresh_failure_total", Help: "Failed refresh operations."},
	{ID: authcore.MetricRefreshReuseDetected, Name: "authcore_refresh_reuse_detected_total", Help: "Rotated refresh tokens presented again."},
	{ID: authcore.MetricLogout, Name: "authcore_logout_total", Help: "Logout operations."},
	{ID: authcore.MetricPasswordChangeSuccess, Name: "authcore_password_change_success_total", Help: "Successful password changes."},
	{ID: authcore.MetricPasswordChangeInvalidOld, Name: "authcore_password_change_invalid_old_total", Help: "Password changes with a wrong current password."},
	{ID: authcore.MetricPasswordChangeReuseRejected, Name: "authcore_password_change_reuse_rejected_total", Help: "Password changes rejected for reusing the current password."},
	{ID: authcore.MetricAccountStatusChanged, Name: "authcore_account_status_changed_total", Help: "Account status transitions."},
	{ID: authcore.MetricAuthenticateFailure, Name: "authcore_authenticate_failure_total", Help: "Rejected access tokens."},
	{ID: authcore.MetricCSRFIssued, Name: "authcore_csrf_issued_total", Help: "Issued CSRF tokens."},
	{ID: authcore.MetricCSRFRejected, Name: "authcore_csrf_rejected_total", Help: "Requests rejected by the CSRF guard."},
	{ID: authcore.MetricRateLimitHit, Name: "authcore_rate_limit_hit_total", Help: "Rate-limit checks that denied requests."},
	{ID: authcore.MetricStoreUnavailable, Name: "authcore_store_unavailable_total", Help: "Counter-store faults."},
}

// HistogramDefs lists every exported histogram.
var HistogramDefs = []HistogramDef{
	{ID: authcore.MetricAuthenticateLatency, Name: "authcore_authenticate_latency_seconds", Help: "Access token verification latency."},
}

// HistogramBounds are the upper bounds in seconds of the first seven engine
// buckets. The eighth bucket is +Inf.
var HistogramBounds = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

// NormalizeBuckets pads or truncates raw to the engine's eight buckets.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets converts per-bucket counts to running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}

package internaldefs

import (
	"github.com/statlane/authsession"
)

// CounterDef names one authenticator counter.
type CounterDef struct {
	ID   authsession.MetricID
	Name string
	Help string
}

// HistogramDef names one authenticator latency histogram.
type HistogramDef struct {
	ID   authsession.MetricID
	Name string
	Help string
}

var CounterDefs = []CounterDef{
	{ID: authsession.MetricAuthenticateAccessValid, Name: "authsession_access_valid_total", Help: "Requests authenticated by a valid access token."},
	{ID: authsession.MetricAuthenticateRejected, Name: "authsession_rejected_total", Help: "Requests rejected and requiring re-authentication."},
	{ID: authsession.MetricRefreshSuccess, Name: "authsession_refresh_success_total", Help: "Successful token pair rotations."},
	{ID: authsession.MetricRefreshFailure, Name: "authsession_refresh_failure_total", Help: "Failed refresh attempts."},
	{ID: authsession.MetricSignatureInvalid, Name: "authsession_signature_invalid_total", Help: "Access tokens rejected for an invalid signature."},
	{ID: authsession.MetricRefreshMissing, Name: "authsession_refresh_missing_total", Help: "Refresh attempts without a refresh cookie."},
	{ID: authsession.MetricRefreshMismatch, Name: "authsession_refresh_mismatch_total", Help: "Refresh values that did not match the stored digest."},
	{ID: authsession.MetricReplayDetected, Name: "authsession_replay_detected_total", Help: "Refresh values presented after rotation."},
	{ID: authsession.MetricRefreshRateLimited, Name: "authsession_refresh_rate_limited_total", Help: "Refresh attempts denied by the throttle."},
	{ID: authsession.MetricUserNotFound, Name: "authsession_user_not_found_total", Help: "Refresh attempts for users that no longer exist."},
	{ID: authsession.MetricStoreFailure, Name: "authsession_store_failure_total", Help: "Refresh store or throttle backend failures."},
	{ID: authsession.MetricLoginSuccess, Name: "authsession_login_success_total", Help: "Token pairs issued at login."},
	{ID: authsession.MetricLoginFailure, Name: "authsession_login_failure_total", Help: "Failed logins."},
	{ID: authsession.MetricLogout, Name: "authsession_logout_total", Help: "Refresh records revoked by logout."},
}

var HistogramDefs = []HistogramDef{
	{ID: authsession.MetricAuthenticateLatency, Name: "authsession_authenticate_latency_seconds", Help: "Authenticate latency histogram."},
}

// HistogramBounds are the upper bounds, in seconds, of the eight latency
// buckets. The last bucket is unbounded.
var HistogramBounds = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

// HistogramBoundSuffix names each bucket for exporters without native
// histogram support.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets copies raw into a fixed eight-bucket array, padding with zeroes.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets converts per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}

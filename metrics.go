package authsession

import internalmetrics "github.com/statlane/authsession/internal/metrics"

// MetricID identifies one counter or histogram exposed by the authenticator.
type MetricID = internalmetrics.MetricID

const (
	MetricAuthenticateAccessValid = internalmetrics.AuthenticateAccessValid
	MetricAuthenticateRejected    = internalmetrics.AuthenticateRejected
	MetricRefreshSuccess          = internalmetrics.RefreshSuccess
	MetricRefreshFailure          = internalmetrics.RefreshFailure
	MetricSignatureInvalid        = internalmetrics.SignatureInvalid
	MetricRefreshMissing          = internalmetrics.RefreshMissing
	MetricRefreshMismatch         = internalmetrics.RefreshMismatch
	MetricReplayDetected          = internalmetrics.ReplayDetected
	MetricRefreshRateLimited      = internalmetrics.RefreshRateLimited
	MetricUserNotFound            = internalmetrics.UserNotFound
	MetricStoreFailure            = internalmetrics.StoreFailure
	MetricLoginSuccess            = internalmetrics.LoginSuccess
	MetricLoginFailure            = internalmetrics.LoginFailure
	MetricLogout                  = internalmetrics.Logout
	MetricAuthenticateLatency     = internalmetrics.AuthenticateLatency
)

// Metrics is the lock-free counter set owned by an [Authenticator].
type Metrics = internalmetrics.Metrics

// MetricsSnapshot is a point-in-time copy of [Metrics].
type MetricsSnapshot = internalmetrics.Snapshot

func NewMetrics(cfg MetricsConfig) *Metrics {
	return internalmetrics.New(internalmetrics.Config{
		Enabled:                 cfg.Enabled,
		EnableLatencyHistograms: cfg.EnableLatencyHistograms,
	})
}

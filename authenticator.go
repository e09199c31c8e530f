package authsession

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/statlane/authsession/cookie"
	internalaudit "github.com/statlane/authsession/internal/audit"
	"github.com/statlane/authsession/internal/flows"
	"github.com/statlane/authsession/internal/rate"
	"github.com/statlane/authsession/jwt"
	"github.com/statlane/authsession/refresh"
	"go.uber.org/zap"
)

// Authenticator validates request credentials and rotates token pairs. It is
// safe for concurrent use once built.
type Authenticator struct {
	config    Config
	codec     *jwt.Codec
	values    *refresh.Codec
	store     RefreshTokenStore
	issuer    *TokenIssuer
	extractor *cookie.Extractor
	cookies   *cookie.Writer
	users     UserLookup
	limiter   *rate.Limiter
	audit     *internalaudit.Dispatcher
	metrics   *Metrics
	log       *zap.Logger
	now       func() time.Time
	flows     flows.Service
}

// Close flushes pending audit events, waiting at most Audit.DrainTimeout.
func (a *Authenticator) Close() {
	if a == nil {
		return
	}
	if a.audit != nil {
		a.audit.Close()
	}
}

// AuditDropped reports audit events dropped under backpressure or left
// undelivered when Close gave up.
func (a *Authenticator) AuditDropped() uint64 {
	if a == nil || a.audit == nil {
		return 0
	}
	return a.audit.Dropped()
}

// MetricsSnapshot returns a copy of the authenticator counters.
func (a *Authenticator) MetricsSnapshot() MetricsSnapshot {
	if a == nil || a.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return a.metrics.Snapshot()
}

func (a *Authenticator) metricInc(id MetricID) {
	if a == nil || a.metrics == nil {
		return
	}
	a.metrics.Inc(id)
}

// Issuer exposes the token issuer used for login and rotation.
func (a *Authenticator) Issuer() *TokenIssuer {
	return a.issuer
}

// CookieWriter returns the writer that emits the refresh cookie.
func (a *Authenticator) CookieWriter() *cookie.Writer {
	return a.cookies
}

// CookieExtractor returns the reader for the refresh cookie.
func (a *Authenticator) CookieExtractor() *cookie.Extractor {
	return a.extractor
}

// AccessTokenHeader is the response header that carries a rotated access token.
func (a *Authenticator) AccessTokenHeader() string {
	return a.config.Transport.AccessTokenHeader
}

// Now returns the authenticator clock.
func (a *Authenticator) Now() time.Time {
	return a.now()
}

// VerifyAccess checks a single access token without touching refresh state.
// Expiry returns the claims together with ErrExpiredToken.
func (a *Authenticator) VerifyAccess(token string) (*jwt.AccessClaims, error) {
	if a == nil || a.codec == nil {
		return nil, ErrNotReady
	}
	claims, err := a.codec.Verify(token, a.now())
	switch {
	case err == nil:
		return claims, nil
	case errors.Is(err, jwt.ErrExpired):
		return claims, newAuthError(KindExpired, claims.UID, err)
	default:
		return nil, newAuthError(KindSignatureInvalid, 0, err)
	}
}

// Authenticate runs one request through the session state machine.
//
// A valid access token ends in StateAccessValid. An expired or absent access
// token falls through to the refresh cookie; a matching refresh token is
// rotated and the new pair is returned in AuthResult.Tokens with
// StateRefreshed. Every other outcome is StateRejected with an error; the
// returned result is never nil.
//
// A refresh token that does not match the stored one revokes the stored
// token, so the user has to log in again. A value whose MAC does not verify
// names no user and revokes nothing.
//
// Two requests racing to rotate the same refresh token count as a replay:
// the loser revokes the record the winner just stored, so the winner's new
// refresh token is already dead. Clients that refresh in parallel will be
// sent back to login; serialize refreshes per client.
func (a *Authenticator) Authenticate(ctx context.Context, req Request) (*AuthResult, error) {
	if a == nil || !a.flows.Initialized() {
		return &AuthResult{State: StateRejected}, ErrNotReady
	}

	start := a.now()
	res := a.flows.Authenticate(ctx, flows.AuthenticateInput{
		AccessToken: req.AccessToken,
		Cookies:     req.Cookies,
	})
	if a.metrics.LatencyEnabled() {
		a.metrics.Observe(MetricAuthenticateLatency, latencySince(start, a.now()))
	}

	out := &AuthResult{
		State:  State(res.State),
		UserID: res.UserID,
		Claims: res.Claims,
	}
	if res.User != nil {
		out.User = &User{ID: res.User.ID, Nickname: res.User.Nickname}
	}

	switch res.State {
	case flows.StateAccessValid:
		a.metricInc(MetricAuthenticateAccessValid)
		return out, nil
	case flows.StateRefreshed:
		out.Tokens = pairFromIssued(res.Pair)
		a.metricInc(MetricRefreshSuccess)
		a.log.Debug("refresh token rotated",
			zap.Int64("user_id", res.UserID),
			zap.String("jti", out.Tokens.AccessTokenID),
			zap.Bool("access_presented", res.AccessPresented),
		)
		a.emitAudit(ctx, auditEventRefreshSuccess, true, res.UserID, nil, nil)
		return out, nil
	}

	a.metricInc(MetricAuthenticateRejected)
	return out, a.rejection(ctx, res)
}

func (a *Authenticator) rejection(ctx context.Context, res flows.AuthenticateResult) error {
	uid := res.UserID

	switch res.Failure {
	case flows.AuthenticateFailureSignature:
		err := newAuthError(KindSignatureInvalid, 0, res.Err)
		a.metricInc(MetricSignatureInvalid)
		a.log.Warn("access token failed verification",
			zap.String("ip", clientIPFromContext(ctx)),
			zap.Error(res.Err),
		)
		a.emitAudit(ctx, auditEventSignatureInvalid, false, 0, err, nil)
		return err

	case flows.AuthenticateFailureRefreshMissing:
		err := newAuthError(KindRefreshNotFound, uid, res.Err)
		a.metricInc(MetricRefreshMissing)
		a.emitAudit(ctx, auditEventRefreshMissing, false, uid, err, nil)
		return err

	case flows.AuthenticateFailureRateLimited:
		a.metricInc(MetricRefreshRateLimited)
		a.emitAudit(ctx, auditEventRefreshRateLimited, false, uid, ErrRefreshRateLimited, nil)
		if errors.Is(res.Err, rate.ErrRateLimited) {
			return ErrRefreshRateLimited
		}
		a.log.Error("refresh throttle unavailable", zap.Int64("user_id", uid), zap.Error(res.Err))
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, res.Err)

	case flows.AuthenticateFailureMismatch:
		err := newAuthError(KindRefreshMismatch, uid, res.Err)
		a.metricInc(MetricRefreshMismatch)
		a.metricInc(MetricRefreshFailure)
		if uid == 0 {
			a.undecodableRefresh(ctx, auditEventRefreshInvalid, err, res.Err)
			return err
		}
		a.metricInc(MetricReplayDetected)
		a.log.Warn("refresh token replay detected",
			zap.Int64("user_id", uid),
			zap.Bool("revoked", res.Revoked),
			zap.String("ip", clientIPFromContext(ctx)),
		)
		if !res.Revoked && res.Err != nil {
			a.log.Error("refresh token revoke failed", zap.Int64("user_id", uid), zap.Error(res.Err))
		}
		a.emitAudit(ctx, auditEventRefreshReuseDetected, false, uid, err, func() map[string]string {
			if res.Revoked {
				return map[string]string{"revoked": "true"}
			}
			return map[string]string{"revoked": "false"}
		})
		return err

	case flows.AuthenticateFailureUserNotFound:
		err := newAuthError(KindUserNotFound, uid, res.Err)
		a.metricInc(MetricUserNotFound)
		a.metricInc(MetricRefreshFailure)
		a.emitAudit(ctx, auditEventRefreshInvalid, false, uid, err, reasonMetadata("user_not_found"))
		return err

	case flows.AuthenticateFailureStore:
		a.metricInc(MetricStoreFailure)
		a.metricInc(MetricRefreshFailure)
		a.log.Error("refresh token store failed", zap.Int64("user_id", uid), zap.Error(res.Err))
		err := fmt.Errorf("%w: %v", ErrStoreUnavailable, res.Err)
		a.emitAudit(ctx, auditEventRefreshInvalid, false, uid, err, reasonMetadata("store_failed"))
		return err

	case flows.AuthenticateFailureLookup:
		a.metricInc(MetricRefreshFailure)
		a.log.Error("user lookup failed", zap.Int64("user_id", uid), zap.Error(res.Err))
		a.emitAudit(ctx, auditEventRefreshInvalid, false, uid, res.Err, reasonMetadata("lookup_failed"))
		return fmt.Errorf("user lookup: %w", res.Err)

	case flows.AuthenticateFailureIssue:
		a.metricInc(MetricRefreshFailure)
		if errors.Is(res.Err, ErrStoreUnavailable) {
			a.metricInc(MetricStoreFailure)
		}
		a.log.Error("token rotation failed", zap.Int64("user_id", uid), zap.Error(res.Err))
		a.emitAudit(ctx, auditEventRefreshInvalid, false, uid, res.Err, reasonMetadata("rotate_failed"))
		return res.Err

	default:
		return fmt.Errorf("authsession: unexpected authenticate failure %d", res.Failure)
	}
}

// Login issues a fresh pair for userID after the caller has proven the
// user's identity by other means. Any previous refresh token of the user is
// superseded.
func (a *Authenticator) Login(ctx context.Context, userID int64) (*TokenPair, error) {
	if a == nil || !a.flows.Initialized() {
		return nil, ErrNotReady
	}

	res := a.flows.Login(ctx, userID)
	if res.NotFound {
		err := newAuthError(KindUserNotFound, userID, res.Err)
		a.metricInc(MetricLoginFailure)
		a.metricInc(MetricUserNotFound)
		a.emitAudit(ctx, auditEventLoginFailure, false, userID, err, nil)
		return nil, err
	}
	if res.Err != nil {
		a.metricInc(MetricLoginFailure)
		a.log.Error("login issuance failed", zap.Int64("user_id", userID), zap.Error(res.Err))
		a.emitAudit(ctx, auditEventLoginFailure, false, userID, res.Err, nil)
		return nil, res.Err
	}

	pair := pairFromIssued(res.Pair)
	a.metricInc(MetricLoginSuccess)
	a.emitAudit(ctx, auditEventLoginSuccess, true, userID, nil, nil)
	return pair, nil
}

// Logout revokes the refresh token of userID. Revoking an absent token is
// not an error.
func (a *Authenticator) Logout(ctx context.Context, userID int64) error {
	if a == nil || !a.flows.Initialized() {
		return ErrNotReady
	}

	if err := a.flows.Logout(ctx, userID); err != nil {
		a.metricInc(MetricStoreFailure)
		a.log.Error("logout revoke failed", zap.Int64("user_id", userID), zap.Error(err))
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	a.metricInc(MetricLogout)
	a.emitAudit(ctx, auditEventLogout, true, userID, nil, nil)
	return nil
}

// LogoutByRefreshToken revokes the session that value belongs to. The stored
// token is revoked even when value is stale; in that case the
// ErrRefreshTokenMismatch result tells the caller a superseded token was
// replayed.
func (a *Authenticator) LogoutByRefreshToken(ctx context.Context, value string) error {
	if a == nil || !a.flows.Initialized() {
		return ErrNotReady
	}

	res := a.flows.LogoutByRefreshToken(ctx, value)
	switch {
	case res.UserID == 0:
		err := newAuthError(KindRefreshMismatch, 0, res.Err)
		a.undecodableRefresh(ctx, auditEventLogout, err, res.Err)
		return err
	case res.Err != nil:
		a.metricInc(MetricStoreFailure)
		a.log.Error("logout revoke failed", zap.Int64("user_id", res.UserID), zap.Error(res.Err))
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, res.Err)
	case res.Mismatch:
		err := newAuthError(KindRefreshMismatch, res.UserID, nil)
		a.metricInc(MetricLogout)
		a.metricInc(MetricReplayDetected)
		a.log.Warn("stale refresh token presented on logout", zap.Int64("user_id", res.UserID))
		a.emitAudit(ctx, auditEventRefreshReuseDetected, false, res.UserID, err, reasonMetadata("logout"))
		return err
	}

	a.metricInc(MetricLogout)
	a.emitAudit(ctx, auditEventLogout, true, res.UserID, nil, nil)
	return nil
}

// undecodableRefresh records a refresh value that names no user. A value that
// is well formed but fails its MAC is a forgery attempt and is logged as one.
func (a *Authenticator) undecodableRefresh(ctx context.Context, event string, err, cause error) {
	reason := "decode_failed"
	if errors.Is(cause, refresh.ErrInvalidMAC) {
		reason = "invalid_mac"
		a.log.Warn("refresh value failed mac check",
			zap.String("ip", clientIPFromContext(ctx)),
		)
	}
	a.emitAudit(ctx, event, false, 0, err, reasonMetadata(reason))
}

// SetRefreshCookie writes pair's refresh token cookie and access token header.
func (a *Authenticator) SetRefreshCookie(w http.ResponseWriter, pair *TokenPair) {
	if pair == nil {
		return
	}
	w.Header().Set(a.config.Transport.AccessTokenHeader, pair.AccessToken)
	a.cookies.Set(w, pair.RefreshToken, pair.RefreshExpiresAt, a.now())
}

// ClearRefreshCookie expires the refresh cookie on the client.
func (a *Authenticator) ClearRefreshCookie(w http.ResponseWriter) {
	a.cookies.Clear(w)
}

func (a *Authenticator) flowDeps() flows.Deps {
	hash := func(value string) [32]byte {
		return refresh.HashValue(value)
	}

	lookup := func(ctx context.Context, userID int64) (*flows.AuthUser, error) {
		u, err := a.users.UserByID(ctx, userID)
		if err != nil || u == nil {
			return nil, err
		}
		return &flows.AuthUser{ID: u.ID, Nickname: u.Nickname}, nil
	}
	isNotFound := func(err error) bool {
		return errors.Is(err, ErrUserNotFound)
	}

	var checkRate func(ctx context.Context, userID int64) error
	if a.limiter != nil {
		checkRate = a.limiter.CheckRefresh
	}

	var trackReplay func(ctx context.Context, userID int64)
	if tracker, ok := a.store.(ReplayTracker); ok && a.config.Security.EnableReplayTracking {
		ttl := a.config.Refresh.TTL
		trackReplay = func(ctx context.Context, userID int64) {
			if err := tracker.TrackReplayAnomaly(ctx, userID, ttl); err != nil {
				a.log.Warn("replay anomaly tracking failed", zap.Int64("user_id", userID), zap.Error(err))
			}
		}
	}

	return flows.Deps{
		Authenticate: flows.AuthenticateDeps{
			Now:              a.now,
			VerifyAccess:     a.codec.Verify,
			ExtractRefresh:   a.extractor.Extract,
			RefreshSubject:   a.values.UserIDOf,
			HashRefresh:      hash,
			CheckRefreshRate: checkRate,
			Store:            a.store,
			LookupUser:       lookup,
			IsUserNotFound:   isNotFound,
			Rotate: func(ctx context.Context, user flows.AuthUser, presented [32]byte, now time.Time) (*flows.IssuedPair, error) {
				return a.issuer.rotate(ctx, user.ID, presented, now)
			},
			IsRotateConflict: func(err error) bool {
				return errors.Is(err, ErrRefreshTokenMismatch)
			},
			TrackReplay: trackReplay,
		},
		Login: flows.LoginDeps{
			Now:            a.now,
			LookupUser:     lookup,
			IsUserNotFound: isNotFound,
			Issue: func(ctx context.Context, user flows.AuthUser, now time.Time) (*flows.IssuedPair, error) {
				return a.issuer.issue(ctx, user.ID, now)
			},
			UserNotFound: ErrUserNotFound,
		},
		Logout: flows.LogoutDeps{
			RefreshSubject: a.values.UserIDOf,
			HashRefresh:    hash,
			Store:          a.store,
		},
	}
}

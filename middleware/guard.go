package middleware

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/statlane/authsession"
)

type authResultContextKey struct{}

// AuthResultFromContext returns the result stored by a guard.
func AuthResultFromContext(ctx context.Context) (*authsession.AuthResult, bool) {
	res, ok := ctx.Value(authResultContextKey{}).(*authsession.AuthResult)
	return res, ok
}

func withAuthResult(ctx context.Context, res *authsession.AuthResult) context.Context {
	return context.WithValue(ctx, authResultContextKey{}, res)
}

// Guard authenticates every request and refreshes expired access tokens.
// A refreshed pair is written as the refresh cookie and the access token
// response header before next runs.
//
// Browsers only send the refresh cookie to paths under its configured Path
// ("/auth" by default). Outside that prefix Guard sees the access token
// alone, and an expired one is rejected with 401 instead of refreshed.
func Guard(auth *authsession.Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if auth == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := requestContext(r, clientIP(r))
			res, err := auth.Authenticate(ctx, authsession.RequestFromHTTP(r))
			if err != nil {
				reject(w, auth, err)
				return
			}
			if res.Tokens != nil {
				auth.SetRefreshCookie(w, res.Tokens)
			}

			next.ServeHTTP(w, r.WithContext(withAuthResult(ctx, res)))
		})
	}
}

func requestContext(r *http.Request, ip string) context.Context {
	ctx := authsession.WithClientIP(r.Context(), ip)
	return authsession.WithUserAgent(ctx, r.UserAgent())
}

// clientIP is the peer address. Forwarding headers are client controlled and
// ignored; behind a proxy use GinGuard with gin's trusted proxies, or rewrite
// RemoteAddr before Guard runs.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// StatusFor maps an authentication error to its HTTP status.
func StatusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, authsession.ErrRefreshRateLimited):
		return http.StatusTooManyRequests
	case authsession.RequiresReauthentication(err):
		return http.StatusUnauthorized
	case errors.Is(err, authsession.ErrStoreUnavailable), errors.Is(err, authsession.ErrNotReady):
		return http.StatusServiceUnavailable
	default:
		return http.StatusUnauthorized
	}
}

// clearsCookie reports whether the presented refresh cookie can never
// succeed again.
func clearsCookie(err error) bool {
	switch authsession.KindOf(err) {
	case authsession.KindRefreshMismatch, authsession.KindUserNotFound:
		return true
	}
	return false
}

func reject(w http.ResponseWriter, auth *authsession.Authenticator, err error) {
	if clearsCookie(err) {
		auth.ClearRefreshCookie(w)
	}
	status := StatusFor(err)
	http.Error(w, http.StatusText(status), status)
}

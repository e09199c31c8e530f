package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/statlane/authsession"
)

type refreshResponse struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// RefreshHandler rotates the pair named by the refresh cookie. Any access
// token on the request is ignored.
func RefreshHandler(auth *authsession.Authenticator) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
			return
		}
		if auth == nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		res, err := auth.Authenticate(requestContext(r, clientIP(r)), authsession.Request{Cookies: r.Cookies()})
		if err != nil {
			reject(w, auth, err)
			return
		}
		if res.Tokens == nil {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		auth.SetRefreshCookie(w, res.Tokens)
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		_ = json.NewEncoder(w).Encode(refreshResponse{
			AccessToken: res.Tokens.AccessToken,
			ExpiresAt:   res.Tokens.AccessExpiresAt,
		})
	})
}

// LogoutHandler revokes the session named by the refresh cookie and clears
// the cookie. A missing or stale cookie still answers 204.
func LogoutHandler(auth *authsession.Authenticator) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
			return
		}
		if auth == nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		value, err := auth.CookieExtractor().FromRequest(r)
		if err == nil {
			err = auth.LogoutByRefreshToken(requestContext(r, clientIP(r)), value)
		}
		if err != nil && !errors.Is(err, authsession.ErrRefreshTokenNotFound) && !errors.Is(err, authsession.ErrRefreshTokenMismatch) {
			status := StatusFor(err)
			http.Error(w, http.StatusText(status), status)
			return
		}

		auth.ClearRefreshCookie(w)
		w.WriteHeader(http.StatusNoContent)
	})
}

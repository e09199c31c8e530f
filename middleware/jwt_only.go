package middleware

import (
	"net/http"

	"github.com/statlane/authsession"
)

// RequireAccessOnly accepts only a currently valid access token. Expired
// tokens are rejected with 401 and the refresh cookie is ignored, so the
// wrapped handler never causes a rotation.
func RequireAccessOnly(auth *authsession.Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if auth == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			token := authsession.BearerToken(r.Header.Get("Authorization"))
			if token == "" {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			claims, err := auth.VerifyAccess(token)
			if err != nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			res := &authsession.AuthResult{
				State:  authsession.StateAccessValid,
				UserID: claims.UID,
				Claims: claims,
			}
			next.ServeHTTP(w, r.WithContext(withAuthResult(r.Context(), res)))
		})
	}
}

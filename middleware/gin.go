package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/statlane/authsession"
)

const (
	ginAuthResultKey = "auth_result"
	ginUserIDKey     = "user_id"
)

// GinGuard is [Guard] for gin. On success it stores the result under
// "auth_result" and the user id under "user_id". The client IP recorded for
// audit comes from c.ClientIP, so forwarding headers count only from the
// engine's trusted proxies. The cookie path limit of [Guard] applies.
func GinGuard(auth *authsession.Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if auth == nil {
			abortUnauthorized(c, http.StatusUnauthorized, "UNAUTHORIZED")
			return
		}

		ctx := requestContext(c.Request, c.ClientIP())
		res, err := auth.Authenticate(ctx, authsession.RequestFromHTTP(c.Request))
		if err != nil {
			if clearsCookie(err) {
				auth.ClearRefreshCookie(c.Writer)
			}
			status := StatusFor(err)
			abortUnauthorized(c, status, errorCode(status))
			return
		}
		if res.Tokens != nil {
			auth.SetRefreshCookie(c.Writer, res.Tokens)
		}

		c.Request = c.Request.WithContext(withAuthResult(ctx, res))
		c.Set(ginAuthResultKey, res)
		c.Set(ginUserIDKey, res.UserID)
		c.Next()
	}
}

// GinAuthResult returns the result stored by [GinGuard].
func GinAuthResult(c *gin.Context) (*authsession.AuthResult, bool) {
	v, ok := c.Get(ginAuthResultKey)
	if !ok {
		return nil, false
	}
	res, ok := v.(*authsession.AuthResult)
	return res, ok
}

func errorCode(status int) string {
	switch status {
	case http.StatusTooManyRequests:
		return "RATE_LIMITED"
	case http.StatusServiceUnavailable:
		return "UNAVAILABLE"
	default:
		return "UNAUTHORIZED"
	}
}

func abortUnauthorized(c *gin.Context, status int, code string) {
	c.AbortWithStatusJSON(status, gin.H{
		"success": false,
		"error":   gin.H{"code": code, "message": http.StatusText(status)},
	})
}

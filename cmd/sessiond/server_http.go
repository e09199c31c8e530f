package main

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/statlane/authsession"
	"github.com/statlane/authsession/middleware"
	"go.uber.org/zap"
)

type loginRequest struct {
	UserID int64 `json:"user_id" binding:"required"`
}

// newRouter mounts every route under /auth, the default refresh cookie path,
// so the guarded /auth/me can fall back to the refresh cookie. Forwarded
// client addresses are believed only from trustedProxies.
func newRouter(auth *authsession.Authenticator, users authsession.UserLookup, internalToken string, trustedProxies []string, logger *zap.Logger) (*gin.Engine, error) {
	r := gin.New()
	if err := r.SetTrustedProxies(trustedProxies); err != nil {
		return nil, err
	}
	r.Use(gin.Recovery(), requestLogger(logger))

	authGroup := r.Group("/auth")
	authGroup.POST("/login", internalTokenAuth(internalToken), loginHandler(auth))
	authGroup.POST("/refresh", gin.WrapH(middleware.RefreshHandler(auth)))
	authGroup.POST("/logout", gin.WrapH(middleware.LogoutHandler(auth)))
	authGroup.GET("/me", middleware.GinGuard(auth), meHandler(users))
	return r, nil
}

// loginHandler issues a pair for a user whose identity the internal caller
// already verified.
func loginHandler(auth *authsession.Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req loginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "user_id is required")
			return
		}

		pair, err := auth.Login(c.Request.Context(), req.UserID)
		if err != nil {
			if errors.Is(err, authsession.ErrUserNotFound) {
				writeError(c, http.StatusNotFound, "USER_NOT_FOUND", "User not found")
				return
			}
			status := middleware.StatusFor(err)
			writeError(c, status, "LOGIN_FAILED", http.StatusText(status))
			return
		}

		auth.SetRefreshCookie(c.Writer, pair)
		c.Header("Cache-Control", "no-store")
		c.JSON(http.StatusOK, gin.H{
			"access_token": pair.AccessToken,
			"expires_at":   pair.AccessExpiresAt,
		})
	}
}

func meHandler(users authsession.UserLookup) gin.HandlerFunc {
	return func(c *gin.Context) {
		res, ok := middleware.GinAuthResult(c)
		if !ok {
			writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required")
			return
		}

		user := res.User
		if user == nil {
			u, err := users.UserByID(c.Request.Context(), res.UserID)
			if err != nil {
				if errors.Is(err, authsession.ErrUserNotFound) {
					writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required")
					return
				}
				_ = c.Error(err)
				writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Lookup failed")
				return
			}
			user = u
		}

		c.JSON(http.StatusOK, gin.H{
			"user_id":  user.ID,
			"nickname": user.Nickname,
			"state":    res.State.String(),
		})
	}
}

// internalTokenAuth admits callers presenting the configured bearer token.
// An empty token disables the endpoint.
func internalTokenAuth(expected string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if expected == "" {
			writeError(c, http.StatusForbidden, "AUTH_INVALID", "Internal login disabled")
			c.Abort()
			return
		}

		parts := strings.SplitN(c.GetHeader("Authorization"), " ", 2)
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			writeError(c, http.StatusUnauthorized, "AUTH_MISSING", "Authorization header must be 'Bearer <token>'")
			c.Abort()
			return
		}
		if subtle.ConstantTimeCompare([]byte(parts[1]), []byte(expected)) != 1 {
			writeError(c, http.StatusForbidden, "AUTH_INVALID", "Invalid internal token")
			c.Abort()
			return
		}

		c.Next()
	}
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.Int("status", c.Writer.Status()),
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.String("client_ip", c.ClientIP()),
			zap.Duration("latency", time.Since(start)),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			logger.Error("request", fields...)
			return
		}
		logger.Debug("request", fields...)
	}
}

func writeError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, gin.H{
		"success": false,
		"error":   gin.H{"code": code, "message": message},
	})
}

package middleware

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/statlane/authsession"
	"github.com/statlane/authsession/refresh"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	auth  *authsession.Authenticator
	clock *clock
	mr    *miniredis.Miniredis
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWith(t, nil)
}

func newFixtureWith(t *testing.T, mutate func(*authsession.Config, *authsession.Builder)) *fixture {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	cfg := authsession.DefaultConfig()
	cfg.JWT.PrivateKey = priv
	cfg.JWT.PublicKey = pub
	cfg.Cookie.Path = "/"

	clk := &clock{now: time.Unix(1_700_000_000, 0)}
	users := authsession.UserLookupFunc(func(_ context.Context, id int64) (*authsession.User, error) {
		if id != 42 {
			return nil, authsession.ErrUserNotFound
		}
		return &authsession.User{ID: 42, Nickname: "ada"}, nil
	})

	b := authsession.New().
		WithRedis(rdb).
		WithUserLookup(users).
		WithClock(clk.Now)
	if mutate != nil {
		mutate(&cfg, b)
	}
	auth, err := b.WithConfig(cfg).Build()
	require.NoError(t, err)
	t.Cleanup(auth.Close)

	return &fixture{auth: auth, clock: clk, mr: mr}
}

func (f *fixture) login(t *testing.T) *authsession.TokenPair {
	t.Helper()
	pair, err := f.auth.Login(context.Background(), 42)
	require.NoError(t, err)
	return pair
}

func (f *fixture) refreshCookie(value string) *http.Cookie {
	return &http.Cookie{Name: f.auth.CookieExtractor().Name(), Value: value}
}

// forgedCookie is a well-formed refresh value for user 42 under a key the
// server does not hold.
func (f *fixture) forgedCookie(t *testing.T) *http.Cookie {
	t.Helper()
	values, err := refresh.NewCodec(bytes.Repeat([]byte{0x7f}, refresh.MinKeySize))
	require.NoError(t, err)
	return f.refreshCookie(values.Encode(42, [32]byte{}))
}

// stillRefreshes reports whether pair's refresh token still rotates.
func (f *fixture) stillRefreshes(t *testing.T, pair *authsession.TokenPair) bool {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/auth/refresh", nil)
	req.AddCookie(f.refreshCookie(pair.RefreshToken))
	rec := httptest.NewRecorder()
	RefreshHandler(f.auth).ServeHTTP(rec, req)
	return rec.Code == http.StatusOK
}

func auditIPs(t *testing.T, sink *authsession.ChannelSink, eventType string) []string {
	t.Helper()
	var ips []string
	for {
		select {
		case ev := <-sink.Events():
			if ev.EventType == eventType {
				ips = append(ips, ev.IP)
			}
			continue
		case <-time.After(100 * time.Millisecond):
		}
		return ips
	}
}

func findCookie(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func protected(t *testing.T, seen **authsession.AuthResult) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		res, ok := AuthResultFromContext(r.Context())
		require.True(t, ok)
		*seen = res
		w.WriteHeader(http.StatusOK)
	})
}

func TestGuard_ValidAccessToken(t *testing.T) {
	f := newFixture(t)
	pair := f.login(t)

	var seen *authsession.AuthResult
	h := Guard(f.auth)(protected(t, &seen))

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	req.Header.Set("Authorization", "Bearer "+pair.AccessToken)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, seen)
	assert.Equal(t, authsession.StateAccessValid, seen.State)
	assert.Equal(t, int64(42), seen.UserID)
	assert.Nil(t, findCookie(rec, "refresh_token"))
}

func TestGuard_ExpiredAccessTokenRotates(t *testing.T) {
	f := newFixture(t)
	pair := f.login(t)
	f.clock.Advance(16 * time.Minute)

	var seen *authsession.AuthResult
	h := Guard(f.auth)(protected(t, &seen))

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	req.Header.Set("Authorization", "Bearer "+pair.AccessToken)
	req.AddCookie(f.refreshCookie(pair.RefreshToken))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, seen)
	assert.Equal(t, authsession.StateRefreshed, seen.State)

	rotated := findCookie(rec, "refresh_token")
	require.NotNil(t, rotated)
	assert.NotEqual(t, pair.RefreshToken, rotated.Value)
	assert.True(t, rotated.HttpOnly)
	assert.Equal(t, seen.Tokens.AccessToken, rec.Header().Get("X-Access-Token"))
}

func TestGuard_NoCredentials(t *testing.T) {
	f := newFixture(t)

	h := Guard(f.auth)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGuard_ReplayedCookieClearsAndRejects(t *testing.T) {
	f := newFixture(t)
	pair := f.login(t)
	f.clock.Advance(16 * time.Minute)

	var seen *authsession.AuthResult
	h := Guard(f.auth)(protected(t, &seen))

	first := httptest.NewRequest(http.MethodGet, "/stats", nil)
	first.AddCookie(f.refreshCookie(pair.RefreshToken))
	h.ServeHTTP(httptest.NewRecorder(), first)
	require.NotNil(t, seen)

	replay := httptest.NewRequest(http.MethodGet, "/stats", nil)
	replay.AddCookie(f.refreshCookie(pair.RefreshToken))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, replay)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	cleared := findCookie(rec, "refresh_token")
	require.NotNil(t, cleared)
	assert.Less(t, cleared.MaxAge, 0)
}

func TestGuard_RejectionBodyDoesNotLeakKind(t *testing.T) {
	f := newFixture(t)
	pair := f.login(t)
	f.clock.Advance(16 * time.Minute)
	h := Guard(f.auth)(http.NotFoundHandler())

	missing := httptest.NewRecorder()
	h.ServeHTTP(missing, httptest.NewRequest(http.MethodGet, "/stats", nil))

	garbage := httptest.NewRequest(http.MethodGet, "/stats", nil)
	garbage.Header.Set("Authorization", "Bearer "+pair.AccessToken)
	garbage.AddCookie(f.refreshCookie("not-a-refresh-token"))
	mismatch := httptest.NewRecorder()
	h.ServeHTTP(mismatch, garbage)

	assert.Equal(t, http.StatusUnauthorized, missing.Code)
	assert.Equal(t, http.StatusUnauthorized, mismatch.Code)
	assert.Equal(t, missing.Body.String(), mismatch.Body.String())
}

func TestGuard_StoreUnavailable(t *testing.T) {
	f := newFixture(t)
	pair := f.login(t)
	f.clock.Advance(16 * time.Minute)
	f.mr.SetError("boom")

	h := Guard(f.auth)(http.NotFoundHandler())
	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	req.AddCookie(f.refreshCookie(pair.RefreshToken))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Nil(t, findCookie(rec, "refresh_token"))
}

func TestRequireAccessOnly(t *testing.T) {
	f := newFixture(t)
	pair := f.login(t)

	var seen *authsession.AuthResult
	h := RequireAccessOnly(f.auth)(protected(t, &seen))

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	req.Header.Set("Authorization", "Bearer "+pair.AccessToken)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, seen)
	assert.Equal(t, int64(42), seen.UserID)

	f.clock.Advance(16 * time.Minute)
	expired := httptest.NewRequest(http.MethodGet, "/stats", nil)
	expired.Header.Set("Authorization", "Bearer "+pair.AccessToken)
	expired.AddCookie(f.refreshCookie(pair.RefreshToken))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, expired)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Nil(t, findCookie(rec, "refresh_token"))
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusOK, StatusFor(nil))
	assert.Equal(t, http.StatusUnauthorized, StatusFor(authsession.ErrRefreshTokenMismatch))
	assert.Equal(t, http.StatusUnauthorized, StatusFor(authsession.ErrUserNotFound))
	assert.Equal(t, http.StatusTooManyRequests, StatusFor(authsession.ErrRefreshRateLimited))
	assert.Equal(t, http.StatusServiceUnavailable, StatusFor(authsession.ErrStoreUnavailable))
}

func TestRefreshHandler(t *testing.T) {
	f := newFixture(t)
	pair := f.login(t)
	h := RefreshHandler(f.auth)

	req := httptest.NewRequest(http.MethodPost, "/auth/refresh", nil)
	req.AddCookie(f.refreshCookie(pair.RefreshToken))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body refreshResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotEmpty(t, body.AccessToken)
	assert.NotEqual(t, pair.AccessToken, body.AccessToken)
	require.NotNil(t, findCookie(rec, "refresh_token"))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/auth/refresh", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestLogoutHandler(t *testing.T) {
	f := newFixture(t)
	pair := f.login(t)

	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	req.AddCookie(f.refreshCookie(pair.RefreshToken))
	rec := httptest.NewRecorder()
	LogoutHandler(f.auth).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	cleared := findCookie(rec, "refresh_token")
	require.NotNil(t, cleared)
	assert.Less(t, cleared.MaxAge, 0)

	again := httptest.NewRequest(http.MethodPost, "/auth/refresh", nil)
	again.AddCookie(f.refreshCookie(pair.RefreshToken))
	rec = httptest.NewRecorder()
	RefreshHandler(f.auth).ServeHTTP(rec, again)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	LogoutHandler(f.auth).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/auth/logout", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestLogoutHandler_ForgedCookieRevokesNothing(t *testing.T) {
	f := newFixture(t)
	victim := f.login(t)

	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	req.AddCookie(f.forgedCookie(t))
	rec := httptest.NewRecorder()
	LogoutHandler(f.auth).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.True(t, f.mr.Exists("rt:42"), "forged logout must leave the stored record")
	assert.True(t, f.stillRefreshes(t, victim))
}

func TestGuard_ForgedCookieRevokesNothing(t *testing.T) {
	f := newFixture(t)
	victim := f.login(t)

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	req.AddCookie(f.forgedCookie(t))
	rec := httptest.NewRecorder()
	var seen *authsession.AuthResult
	Guard(f.auth)(protected(t, &seen)).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Nil(t, seen)
	assert.True(t, f.stillRefreshes(t, victim))
}

func TestClientIPIgnoresForwardingHeaders(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.10:5555"
	req.Header.Set("X-Real-IP", "10.9.9.9")
	req.Header.Set("X-Forwarded-For", "10.9.9.9")
	assert.Equal(t, "192.0.2.10", clientIP(req))

	req.RemoteAddr = "pipe"
	assert.Equal(t, "pipe", clientIP(req))
}

func TestGuard_AuditRecordsPeerAddress(t *testing.T) {
	sink := authsession.NewChannelSink(16)
	f := newFixtureWith(t, func(cfg *authsession.Config, b *authsession.Builder) {
		cfg.Audit.Enabled = true
		b.WithAuditSink(sink)
	})

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	req.RemoteAddr = "192.0.2.10:5555"
	req.Header.Set("X-Real-IP", "10.9.9.9")
	req.Header.Set("Authorization", "Bearer not.a.jwt")
	rec := httptest.NewRecorder()
	var seen *authsession.AuthResult
	Guard(f.auth)(protected(t, &seen)).ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	f.auth.Close()
	assert.Equal(t, []string{"192.0.2.10"}, auditIPs(t, sink, "access_signature_invalid"))
}

func TestGinGuard_ClientIPHonoursTrustedProxies(t *testing.T) {
	gin.SetMode(gin.TestMode)
	sink := authsession.NewChannelSink(16)
	f := newFixtureWith(t, func(cfg *authsession.Config, b *authsession.Builder) {
		cfg.Audit.Enabled = true
		b.WithAuditSink(sink)
	})

	untrusted := gin.New()
	require.NoError(t, untrusted.SetTrustedProxies(nil))
	untrusted.Use(GinGuard(f.auth))
	untrusted.GET("/stats", func(c *gin.Context) { c.Status(http.StatusOK) })

	trusted := gin.New()
	require.NoError(t, trusted.SetTrustedProxies([]string{"192.0.2.0/24"}))
	trusted.Use(GinGuard(f.auth))
	trusted.GET("/stats", func(c *gin.Context) { c.Status(http.StatusOK) })

	for _, router := range []*gin.Engine{untrusted, trusted} {
		req := httptest.NewRequest(http.MethodGet, "/stats", nil)
		req.RemoteAddr = "192.0.2.10:5555"
		req.Header.Set("X-Forwarded-For", "198.51.100.7")
		req.Header.Set("Authorization", "Bearer not.a.jwt")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		require.Equal(t, http.StatusUnauthorized, w.Code)
	}

	f.auth.Close()
	assert.Equal(t, []string{"192.0.2.10", "198.51.100.7"}, auditIPs(t, sink, "access_signature_invalid"))
}

func TestGinGuard(t *testing.T) {
	gin.SetMode(gin.TestMode)
	f := newFixture(t)
	pair := f.login(t)

	router := gin.New()
	router.Use(GinGuard(f.auth))
	router.GET("/stats", func(c *gin.Context) {
		res, ok := GinAuthResult(c)
		require.True(t, ok)
		c.JSON(http.StatusOK, gin.H{"user_id": c.GetInt64("user_id"), "state": res.State.String()})
	})

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	req.Header.Set("Authorization", "Bearer "+pair.AccessToken)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "42")
	assert.Contains(t, w.Body.String(), "access_valid")

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/stats", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "UNAUTHORIZED")
}

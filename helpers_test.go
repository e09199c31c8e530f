package authsession

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/statlane/authsession/refresh"
	"github.com/statlane/authsession/session"
	"go.uber.org/zap"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type userTable struct {
	mu    sync.Mutex
	users map[int64]*User
	calls int
}

func newUserTable(users ...User) *userTable {
	t := &userTable{users: make(map[int64]*User, len(users))}
	for i := range users {
		u := users[i]
		t.users[u.ID] = &u
	}
	return t
}

func (t *userTable) UserByID(_ context.Context, id int64) (*User, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls++
	u, ok := t.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (t *userTable) remove(id int64) {
	t.mu.Lock()
	delete(t.users, id)
	t.mu.Unlock()
}

func testConfig(t testing.TB) Config {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	cfg := DefaultConfig()
	cfg.JWT.PrivateKey = priv
	cfg.JWT.PublicKey = pub
	cfg.JWT.Audience = "stats"
	cfg.Cookie.Path = "/"
	return cfg
}

type testEnv struct {
	auth  *Authenticator
	store *session.Store
	rdb   *redis.Client
	mr    *miniredis.Miniredis
	clock *testClock
	users *userTable
}

func newTestEnv(t *testing.T, mutate func(*Config, *Builder)) *testEnv {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	clock := newTestClock()
	users := newUserTable(User{ID: 42, Nickname: "ada"}, User{ID: 7, Nickname: "grace"})
	cfg := testConfig(t)

	b := New().
		WithRedis(rdb).
		WithUserLookup(users).
		WithClock(clock.Now).
		WithLogger(zap.NewNop())
	if mutate != nil {
		mutate(&cfg, b)
	}
	b.WithConfig(cfg)

	auth, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	t.Cleanup(func() {
		auth.Close()
		_ = rdb.Close()
		mr.Close()
	})

	return &testEnv{
		auth:  auth,
		store: session.NewStore(rdb, cfg.Refresh.RedisPrefix, session.WithClock(clock.Now)),
		rdb:   rdb,
		mr:    mr,
		clock: clock,
		users: users,
	}
}

func (e *testEnv) login(t *testing.T, userID int64) *TokenPair {
	t.Helper()
	pair, err := e.auth.Login(context.Background(), userID)
	if err != nil {
		t.Fatalf("Login(%d): %v", userID, err)
	}
	return pair
}

func (e *testEnv) refreshCookie(value string) *http.Cookie {
	return &http.Cookie{Name: e.auth.config.Cookie.Name, Value: value}
}

func (e *testEnv) matches(t *testing.T, userID int64, value string) bool {
	t.Helper()
	ok, err := e.store.Matches(context.Background(), userID, refresh.HashValue(value))
	if err != nil {
		t.Fatalf("Matches: %v", err)
	}
	return ok
}

func newMemoryStoreForTest(clock *testClock) *session.MemoryStore {
	return session.NewMemoryStore(clock.Now)
}

func testRefreshCodec(t testing.TB, cfg Config) *refresh.Codec {
	t.Helper()
	values, err := refresh.NewCodec(refresh.DeriveKey(cfg.JWT.PrivateKey))
	if err != nil {
		t.Fatalf("refresh.NewCodec: %v", err)
	}
	return values
}

// forge builds a well-formed refresh value for userID under a key the
// authenticator never saw.
func forge(t testing.TB, userID int64) string {
	t.Helper()
	values, err := refresh.NewCodec([]byte("an attacker's guess at the process key"))
	if err != nil {
		t.Fatalf("refresh.NewCodec: %v", err)
	}
	return values.Encode(userID, [32]byte{})
}

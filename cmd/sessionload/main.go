// Command sessionload drives an Authenticator backed by Redis with login,
// refresh and attack traffic. It exits non-zero when a contested refresh
// produces two winners or a forged refresh value revokes a live session.
package main

import (
	"context"
	"crypto/rand"
	"errors"
	"flag"
	"fmt"
	mrand "math/rand"
	"net/http"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/statlane/authsession"
	"github.com/statlane/authsession/refresh"
	"github.com/statlane/authsession/userstore"
	"go.uber.org/zap"
)

// client is one simulated browser. Its refreshes are serialized, as a real
// client's should be.
type client struct {
	userID  int64
	mu      sync.Mutex
	refresh string
}

func main() {
	var (
		users       = flag.Int("users", 10000, "number of users to log in")
		concurrency = flag.Int("concurrency", 128, "number of concurrent workers")
		ops         = flag.Int("ops", 50000, "refreshes and forged attempts per phase")
		contested   = flag.Int("contested", 1000, "contested refreshes (two racers each)")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		prefix      = flag.String("prefix", "rt", "refresh key prefix")
	)
	flag.Parse()

	if *users <= 0 || *concurrency <= 0 || *ops <= 0 || *contested < 0 {
		fmt.Fprintln(os.Stderr, "users, concurrency, and ops must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var (
		cleanup func()
		rdb     redis.UniversalClient
	)
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		addr = mr.Addr()
		rdb = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		cleanup = func() {
			_ = rdb.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		rdb = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		cleanup = func() { _ = rdb.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	repo := userstore.NewMemoryRepository()
	for i := 1; i <= *users; i++ {
		repo.Put(authsession.User{ID: int64(i), Nickname: fmt.Sprintf("load-%d", i)})
	}

	auth, err := buildAuthenticator(rdb, repo, *prefix)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build authenticator: %v\n", err)
		os.Exit(1)
	}
	defer auth.Close()

	clients := make([]client, *users)
	loginStats := runPhase(ctx, *users, *concurrency, func(ctx context.Context, i int, _ *mrand.Rand) error {
		clients[i].userID = int64(i + 1)
		return relogin(ctx, auth, &clients[i])
	})

	refreshStats := runPhase(ctx, *ops, *concurrency, func(ctx context.Context, _ int, r *mrand.Rand) error {
		return refreshOnce(ctx, auth, &clients[r.Intn(len(clients))])
	})

	forgedStats, revoked := runForgedPhase(ctx, auth, clients, *ops, *concurrency)
	doubleWins := runContestedPhase(ctx, auth, clients, *contested)

	fmt.Println("---- results ----")
	printStats("login", loginStats)
	printStats("refresh", refreshStats)
	printStats("forged", forgedStats)
	fmt.Printf("forged: sessions_revoked=%d\n", revoked)
	fmt.Printf("contested: rounds=%d double_wins=%d\n", min(*contested, len(clients)), doubleWins)

	snap := auth.MetricsSnapshot()
	fmt.Printf("counters: refresh_success=%d refresh_mismatch=%d replay_detected=%d\n",
		snap.Counters[authsession.MetricRefreshSuccess],
		snap.Counters[authsession.MetricRefreshMismatch],
		snap.Counters[authsession.MetricReplayDetected],
	)

	if doubleWins > 0 || revoked > 0 {
		os.Exit(1)
	}
}

func buildAuthenticator(rdb redis.UniversalClient, users authsession.UserLookup, prefix string) (*authsession.Authenticator, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}

	cfg := authsession.DefaultConfig()
	cfg.JWT.SigningMethod = "hs256"
	cfg.JWT.PrivateKey = key
	cfg.Refresh.RedisPrefix = prefix

	return authsession.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithUserLookup(users).
		WithLogger(zap.NewNop()).
		WithMetricsEnabled(true).
		WithLatencyHistograms(true).
		Build()
}

func refreshCookie(auth *authsession.Authenticator, value string) []*http.Cookie {
	return []*http.Cookie{{Name: auth.CookieExtractor().Name(), Value: value}}
}

func relogin(ctx context.Context, auth *authsession.Authenticator, c *client) error {
	pair, err := auth.Login(ctx, c.userID)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.refresh = pair.RefreshToken
	c.mu.Unlock()
	return nil
}

func refreshOnce(ctx context.Context, auth *authsession.Authenticator, c *client) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	res, err := auth.Authenticate(ctx, authsession.Request{Cookies: refreshCookie(auth, c.refresh)})
	if err != nil {
		return err
	}
	c.refresh = res.Tokens.RefreshToken
	return nil
}

// runForgedPhase presents well-formed refresh values minted under an unknown
// key for random users, then checks that every client can still refresh.
func runForgedPhase(ctx context.Context, auth *authsession.Authenticator, clients []client, ops, concurrency int) (phaseStats, int64) {
	key := make([]byte, refresh.MinKeySize)
	if _, err := rand.Read(key); err != nil {
		fmt.Fprintf(os.Stderr, "forger key: %v\n", err)
		os.Exit(1)
	}
	forger, err := refresh.NewCodec(key)
	if err != nil {
		fmt.Fprintf(os.Stderr, "forger codec: %v\n", err)
		os.Exit(1)
	}

	stats := runPhase(ctx, ops, concurrency, func(ctx context.Context, _ int, r *mrand.Rand) error {
		victim := clients[r.Intn(len(clients))].userID
		_, err := auth.Authenticate(ctx, authsession.Request{
			Cookies: refreshCookie(auth, forger.Encode(victim, [32]byte{})),
		})
		if errors.Is(err, authsession.ErrRefreshTokenMismatch) {
			return nil
		}
		return fmt.Errorf("forged value for user %d: %v", victim, err)
	})

	var revoked int64
	runPhase(ctx, len(clients), concurrency, func(ctx context.Context, i int, _ *mrand.Rand) error {
		if err := refreshOnce(ctx, auth, &clients[i]); err != nil {
			atomic.AddInt64(&revoked, 1)
			return err
		}
		return nil
	})
	return stats, revoked
}

// runContestedPhase races two refreshes of the same cookie per client and
// counts rounds where both won. Losing a race revokes the session, so each
// client logs in again afterwards.
func runContestedPhase(ctx context.Context, auth *authsession.Authenticator, clients []client, rounds int) int64 {
	var doubleWins int64
	for i := 0; i < rounds && i < len(clients); i++ {
		c := &clients[i]
		cookies := refreshCookie(auth, c.refresh)

		var wins int64
		var wg sync.WaitGroup
		for racer := 0; racer < 2; racer++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				res, err := auth.Authenticate(ctx, authsession.Request{Cookies: cookies})
				if err == nil && res.State == authsession.StateRefreshed {
					atomic.AddInt64(&wins, 1)
				}
			}()
		}
		wg.Wait()
		if wins > 1 {
			doubleWins++
		}
		if err := relogin(ctx, auth, c); err != nil {
			fmt.Fprintf(os.Stderr, "relogin %d: %v\n", c.userID, err)
			os.Exit(1)
		}
	}
	return doubleWins
}

// runPhase spreads ops calls of op over concurrency workers and records the
// latency of each.
func runPhase(ctx context.Context, ops, concurrency int, op func(ctx context.Context, i int, r *mrand.Rand) error) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, ops)
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := mrand.New(mrand.NewSource(time.Now().UnixNano() + int64(worker)*7919))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				t0 := time.Now()
				if err := op(ctx, i, r); err != nil {
					atomic.AddInt64(&failures, 1)
				}
				latencies[i] = time.Since(t0)
			}
		}(w)
	}
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures)
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      samples[(len(samples)-1)*50/100],
		p99:      samples[(len(samples)-1)*99/100],
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}

package authsession

import (
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/statlane/authsession/cookie"
	internalaudit "github.com/statlane/authsession/internal/audit"
	"github.com/statlane/authsession/internal/flows"
	"github.com/statlane/authsession/internal/rate"
	"github.com/statlane/authsession/jwt"
	"github.com/statlane/authsession/refresh"
	"github.com/statlane/authsession/session"
	"go.uber.org/zap"
)

// Builder assembles an [Authenticator]. It is single-use.
type Builder struct {
	config Config
	redis  redis.UniversalClient
	store  RefreshTokenStore
	users  UserLookup
	log    *zap.Logger
	now    func() time.Time

	auditSink AuditSink

	built bool
}

// New starts a builder from the default configuration.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis backs the refresh store and refresh throttle with client.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithRefreshStore overrides the refresh store. It takes precedence over
// WithRedis for refresh state.
func (b *Builder) WithRefreshStore(store RefreshTokenStore) *Builder {
	b.store = store
	return b
}

func (b *Builder) WithUserLookup(users UserLookup) *Builder {
	b.users = users
	return b
}

func (b *Builder) WithLogger(log *zap.Logger) *Builder {
	b.log = log
	return b
}

// WithClock injects the time source used for issuing and verifying tokens.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires every component.
func (b *Builder) Build() (*Authenticator, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if b.users == nil {
		return nil, errors.New("user lookup required")
	}
	if b.redis == nil && b.store == nil {
		return nil, errors.New("redis client or refresh store required")
	}
	if cfg.Security.EnableRefreshThrottle && b.redis == nil {
		return nil, errors.New("refresh throttle requires redis client")
	}

	now := b.now
	if now == nil {
		now = time.Now
	}
	log := b.log
	if log == nil {
		log = zap.NewNop()
	}

	// -------- TOKEN CODEC --------
	codec, err := jwt.NewCodec(jwt.Config{
		AccessTTL:     cfg.JWT.AccessTTL,
		SigningMethod: jwt.SigningMethod(cfg.JWT.SigningMethod),
		PrivateKey:    cloneBytes(cfg.JWT.PrivateKey),
		PublicKey:     cloneBytes(cfg.JWT.PublicKey),
		Issuer:        cfg.JWT.Issuer,
		Audience:      cfg.JWT.Audience,
		MaxFutureIAT:  cfg.JWT.MaxFutureIAT,
		KeyID:         cfg.JWT.KeyID,
		VerifyKeys:    cfg.JWT.VerifyKeys,
	})
	if err != nil {
		return nil, err
	}

	// -------- REFRESH STORE --------
	store := b.store
	if store == nil {
		store = session.NewStore(b.redis, cfg.Refresh.RedisPrefix, session.WithClock(now))
	}

	macKey := cloneBytes(cfg.Refresh.MACKey)
	if len(macKey) == 0 {
		macKey = refresh.DeriveKey(cfg.JWT.PrivateKey)
	}
	values, err := refresh.NewCodec(macKey)
	if err != nil {
		return nil, err
	}

	issuer, err := NewTokenIssuer(codec, values, store, cfg.Refresh.TTL)
	if err != nil {
		return nil, err
	}

	// -------- COOKIE --------
	writer, err := cookie.NewWriter(cookie.Config{
		Name:     cfg.Cookie.Name,
		Path:     cfg.Cookie.Path,
		Domain:   cfg.Cookie.Domain,
		Secure:   cfg.Cookie.Secure,
		SameSite: cfg.Cookie.SameSite,
	})
	if err != nil {
		return nil, err
	}

	a := &Authenticator{
		config:    cloneConfig(cfg),
		codec:     codec,
		values:    values,
		store:     store,
		issuer:    issuer,
		extractor: cookie.NewExtractor(cfg.Cookie.Name),
		cookies:   writer,
		users:     b.users,
		log:       log.Named("authsession"),
		now:       now,
	}

	if cfg.Security.EnableRefreshThrottle {
		a.limiter = rate.New(b.redis, rate.Config{
			Enabled:                 true,
			Prefix:                  cfg.Security.ThrottleRedisPrefix,
			MaxRefreshAttempts:      cfg.Security.MaxRefreshAttempts,
			RefreshCooldownDuration: cfg.Security.RefreshCooldownDuration,
		})
	}
	a.audit = internalaudit.NewDispatcher(internalaudit.Config{
		Enabled:      cfg.Audit.Enabled,
		BufferSize:   cfg.Audit.BufferSize,
		DropIfFull:   cfg.Audit.DropIfFull,
		DrainTimeout: cfg.Audit.DrainTimeout,
	}, b.auditSink)
	a.metrics = NewMetrics(cfg.Metrics)
	a.flows = flows.New(a.flowDeps())

	b.built = true

	return a, nil
}

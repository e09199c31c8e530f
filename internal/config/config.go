// Package config loads the sessiond service configuration with viper.
package config

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/statlane/authsession"
	"github.com/statlane/authsession/internal/obs"
	"github.com/statlane/authsession/userstore"
)

type App struct {
	Name    string `mapstructure:"name"`
	Env     string `mapstructure:"env"`
	Version string `mapstructure:"version"`
}

type Server struct {
	HTTPAddr        string        `mapstructure:"http_addr"`
	MetricsAddr     string        `mapstructure:"metrics_addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	GracefulTimeout time.Duration `mapstructure:"graceful_timeout"`
	// TrustedProxies lists the CIDRs whose forwarding headers gin believes.
	// Empty trusts none.
	TrustedProxies []string `mapstructure:"trusted_proxies"`
}

type Redis struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type DB struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	Migrate         bool          `mapstructure:"migrate"`
}

func (d *DB) AsPoolConfig() userstore.PoolConfig {
	return userstore.PoolConfig{
		MaxOpenConns:    d.MaxOpenConns,
		MaxIdleConns:    d.MaxIdleConns,
		ConnMaxLifetime: d.ConnMaxLifetime,
	}
}

type Log struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

func (lc *Log) AsLoggerConfig(app App) obs.LogConfig {
	return obs.LogConfig{
		Level:  lc.Level,
		Pretty: lc.Pretty,
		App:    app.Name,
		Env:    app.Env,
		Ver:    app.Version,
	}
}

// Auth mirrors [authsession.Config]. SigningKey is the raw secret for hs256
// and a base64 encoded 32-byte seed for ed25519. RefreshMACKey is base64 and
// optional; when empty the key is derived from SigningKey.
type Auth struct {
	AccessTTL         time.Duration `mapstructure:"access_ttl"`
	RefreshTTL        time.Duration `mapstructure:"refresh_ttl"`
	SigningMethod     string        `mapstructure:"signing_method"`
	SigningKey        string        `mapstructure:"signing_key"`
	KeyID             string        `mapstructure:"key_id"`
	Issuer            string        `mapstructure:"issuer"`
	Audience          string        `mapstructure:"audience"`
	RedisPrefix       string        `mapstructure:"redis_prefix"`
	RefreshMACKey     string        `mapstructure:"refresh_mac_key"`
	CookieName        string        `mapstructure:"cookie_name"`
	CookieDomain      string        `mapstructure:"cookie_domain"`
	CookiePath        string        `mapstructure:"cookie_path"`
	CookieSecure      bool          `mapstructure:"cookie_secure"`
	CookieSameSite    string        `mapstructure:"cookie_same_site"`
	AccessTokenHeader string        `mapstructure:"access_token_header"`
	ProductionMode    bool          `mapstructure:"production_mode"`
	RefreshThrottle   bool          `mapstructure:"refresh_throttle"`
	MaxRefreshPerMin  int           `mapstructure:"max_refresh_attempts"`
	RefreshCooldown   time.Duration `mapstructure:"refresh_cooldown"`
	ReplayTracking    bool          `mapstructure:"replay_tracking"`
	InternalToken     string        `mapstructure:"internal_token"`
}

type Metrics struct {
	Enabled bool `mapstructure:"enabled"`
	Latency bool `mapstructure:"latency"`
}

type Audit struct {
	Enabled      bool          `mapstructure:"enabled"`
	DrainTimeout time.Duration `mapstructure:"drain_timeout"`
}

type Config struct {
	App     App     `mapstructure:"app"`
	Server  Server  `mapstructure:"server"`
	Redis   Redis   `mapstructure:"redis"`
	DB      DB      `mapstructure:"db"`
	Log     Log     `mapstructure:"log"`
	Auth    Auth    `mapstructure:"auth"`
	Metrics Metrics `mapstructure:"metrics"`
	Audit   Audit   `mapstructure:"audit"`
}

type ErrConfig string

func (e ErrConfig) Error() string { return string(e) }

const (
	ErrNoDSN        ErrConfig = "db.dsn is required"
	ErrNoSigningKey ErrConfig = "auth.signing_key is required"
)

// AuthConfig converts the loaded section into an [authsession.Config]. The
// result still has to pass [authsession.Config.Validate].
func (c *Config) AuthConfig() (authsession.Config, error) {
	a := c.Auth
	out := authsession.DefaultConfig()

	out.JWT.AccessTTL = a.AccessTTL
	out.JWT.SigningMethod = strings.ToLower(a.SigningMethod)
	out.JWT.KeyID = a.KeyID
	out.JWT.Issuer = a.Issuer
	out.JWT.Audience = a.Audience

	if a.SigningKey == "" {
		return out, ErrNoSigningKey
	}
	switch out.JWT.SigningMethod {
	case "hs256":
		out.JWT.PrivateKey = []byte(a.SigningKey)
	case "ed25519":
		seed, err := base64.StdEncoding.DecodeString(a.SigningKey)
		if err != nil {
			return out, fmt.Errorf("auth.signing_key: %w", err)
		}
		if len(seed) != ed25519.SeedSize {
			return out, fmt.Errorf("auth.signing_key: ed25519 seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
		}
		priv := ed25519.NewKeyFromSeed(seed)
		out.JWT.PrivateKey = priv
		out.JWT.PublicKey = priv.Public().(ed25519.PublicKey)
	default:
		return out, fmt.Errorf("auth.signing_method: unsupported %q", a.SigningMethod)
	}

	out.Refresh.TTL = a.RefreshTTL
	out.Refresh.RedisPrefix = a.RedisPrefix
	if a.RefreshMACKey != "" {
		key, err := base64.StdEncoding.DecodeString(a.RefreshMACKey)
		if err != nil {
			return out, fmt.Errorf("auth.refresh_mac_key: %w", err)
		}
		out.Refresh.MACKey = key
	}

	out.Cookie.Name = a.CookieName
	out.Cookie.Domain = a.CookieDomain
	out.Cookie.Path = a.CookiePath
	out.Cookie.Secure = a.CookieSecure
	out.Cookie.SameSite = a.CookieSameSite
	out.Transport.AccessTokenHeader = a.AccessTokenHeader

	out.Security.ProductionMode = a.ProductionMode
	out.Security.EnableRefreshThrottle = a.RefreshThrottle
	out.Security.MaxRefreshAttempts = a.MaxRefreshPerMin
	out.Security.RefreshCooldownDuration = a.RefreshCooldown
	out.Security.EnableReplayTracking = a.ReplayTracking

	out.Metrics.Enabled = c.Metrics.Enabled
	out.Metrics.EnableLatencyHistograms = c.Metrics.Latency
	out.Audit.Enabled = c.Audit.Enabled
	out.Audit.DrainTimeout = c.Audit.DrainTimeout

	return out, nil
}

package authsession

import (
	"errors"
	"strings"
	"time"

	"github.com/statlane/authsession/refresh"
)

// Config holds every tunable of an [Authenticator]. Build clones it, so the
// caller may reuse or mutate its copy afterwards.
type Config struct {
	JWT       JWTConfig
	Refresh   RefreshConfig
	Cookie    CookieConfig
	Transport TransportConfig
	Audit     AuditConfig
	Metrics   MetricsConfig
	Security  SecurityConfig
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig configures access-token signing. PrivateKey and PublicKey are
// raw Ed25519 keys (or PKCS8/PKIX DER); for hs256 PrivateKey is the shared
// secret.
type JWTConfig struct {
	AccessTTL     time.Duration
	SigningMethod string // "ed25519" (default), "hs256" optional
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	KeyID         string
	// VerifyKeys holds retired keys by kid so tokens signed before a
	// rotation keep verifying until they expire.
	VerifyKeys   map[string][]byte
	MaxFutureIAT time.Duration
}

/*
====================================
REFRESH CONFIG
====================================
*/

// RefreshConfig controls refresh-token lifetime and storage. MACKey binds
// each value to its user id; when empty it is derived from JWT.PrivateKey, so
// every instance sharing a signing key accepts the same refresh values.
type RefreshConfig struct {
	TTL         time.Duration
	RedisPrefix string
	MACKey      []byte
}

/*
====================================
COOKIE CONFIG
====================================
*/

// CookieConfig controls the refresh-token cookie.
type CookieConfig struct {
	Name     string
	Path     string
	Domain   string
	Secure   bool
	SameSite string // "lax" (default), "strict", "none"
}

/*
====================================
TRANSPORT CONFIG
====================================
*/

// TransportConfig names the response header that carries a rotated access
// token. Inbound access tokens are read from the Authorization bearer header.
type TransportConfig struct {
	AccessTokenHeader string
}

/*
====================================
AUDIT CONFIG
====================================
*/

// AuditConfig controls the asynchronous audit pipeline. DrainTimeout bounds
// how long Close keeps delivering buffered events; zero waits for all.
type AuditConfig struct {
	Enabled      bool
	BufferSize   int
	DropIfFull   bool
	DrainTimeout time.Duration
}

/*
====================================
METRICS CONFIG
====================================
*/

type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
SECURITY CONFIG
====================================
*/

// SecurityConfig groups hardening switches.
type SecurityConfig struct {
	ProductionMode          bool
	EnableRefreshThrottle   bool
	MaxRefreshAttempts      int
	RefreshCooldownDuration time.Duration
	ThrottleRedisPrefix     string
	EnableReplayTracking    bool
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns the baseline configuration. Signing keys are left
// empty and must be supplied.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL:     15 * time.Minute,
			SigningMethod: "ed25519",
			Issuer:        "authsession",
			MaxFutureIAT:  time.Minute,
		},
		Refresh: RefreshConfig{
			TTL:         720 * time.Hour,
			RedisPrefix: "rt",
		},
		Cookie: CookieConfig{
			Name:     "refresh_token",
			Path:     "/auth",
			Secure:   true,
			SameSite: "lax",
		},
		Transport: TransportConfig{
			AccessTokenHeader: "X-Access-Token",
		},
		Audit: AuditConfig{
			Enabled:      false,
			BufferSize:   1024,
			DropIfFull:   true,
			DrainTimeout: 5 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
		Security: SecurityConfig{
			ProductionMode:          false,
			EnableRefreshThrottle:   false,
			MaxRefreshAttempts:      20,
			RefreshCooldownDuration: time.Minute,
			ThrottleRedisPrefix:     "ar",
			EnableReplayTracking:    true,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	out.Refresh.MACKey = cloneBytes(cfg.Refresh.MACKey)
	if cfg.JWT.VerifyKeys != nil {
		out.JWT.VerifyKeys = make(map[string][]byte, len(cfg.JWT.VerifyKeys))
		for kid, key := range cfg.JWT.VerifyKeys {
			out.JWT.VerifyKeys[kid] = cloneBytes(key)
		}
	}
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first invalid or unsafe setting.
func (c *Config) Validate() error {
	// JWT
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT AccessTTL must be > 0")
	}
	if c.JWT.SigningMethod != "ed25519" && c.JWT.SigningMethod != "hs256" {
		return errors.New("unsupported JWT signing method")
	}
	if c.JWT.SigningMethod == "ed25519" && len(c.JWT.PrivateKey) == 0 {
		return errors.New("ed25519 requires PrivateKey")
	}
	if c.JWT.SigningMethod == "ed25519" && len(c.JWT.PublicKey) == 0 && len(c.JWT.VerifyKeys) == 0 {
		return errors.New("ed25519 requires PublicKey or VerifyKeys")
	}
	if c.JWT.SigningMethod == "hs256" && len(c.JWT.PrivateKey) < 32 {
		return errors.New("hs256 requires a PrivateKey of at least 32 bytes")
	}
	if c.JWT.MaxFutureIAT < 0 {
		return errors.New("JWT MaxFutureIAT must be >= 0")
	}

	// Refresh
	if c.Refresh.TTL <= 0 {
		return errors.New("Refresh TTL must be > 0")
	}
	if c.Refresh.TTL <= c.JWT.AccessTTL {
		return errors.New("Refresh TTL must exceed JWT AccessTTL")
	}
	if strings.TrimSpace(c.Refresh.RedisPrefix) == "" {
		return errors.New("Refresh RedisPrefix must be set")
	}
	if len(c.Refresh.MACKey) > 0 && len(c.Refresh.MACKey) < refresh.MinKeySize {
		return errors.New("Refresh MACKey must be at least 32 bytes")
	}

	// Cookie
	if strings.TrimSpace(c.Cookie.Name) == "" {
		return errors.New("Cookie Name must be set")
	}
	if !strings.HasPrefix(c.Cookie.Path, "/") {
		return errors.New("Cookie Path must start with /")
	}
	switch strings.ToLower(c.Cookie.SameSite) {
	case "lax", "strict":
	case "none":
		if !c.Cookie.Secure {
			return errors.New("Cookie SameSite=none requires Secure")
		}
	default:
		return errors.New("Cookie SameSite must be lax, strict or none")
	}

	if strings.TrimSpace(c.Transport.AccessTokenHeader) == "" {
		return errors.New("Transport AccessTokenHeader must be set")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}
	if c.Audit.DrainTimeout < 0 {
		return errors.New("Audit DrainTimeout must be >= 0")
	}

	// Security
	if c.Security.EnableRefreshThrottle {
		if c.Security.MaxRefreshAttempts <= 0 {
			return errors.New("Security MaxRefreshAttempts must be > 0")
		}
		if c.Security.RefreshCooldownDuration <= 0 {
			return errors.New("Security RefreshCooldownDuration must be > 0")
		}
	}
	if c.Security.ProductionMode {
		if !c.Cookie.Secure {
			return errors.New("ProductionMode requires a Secure refresh cookie")
		}
		if c.JWT.SigningMethod == "hs256" && len(c.JWT.PrivateKey) < 64 {
			return errors.New("ProductionMode hs256 requires a PrivateKey of at least 64 bytes")
		}
	}

	return nil
}

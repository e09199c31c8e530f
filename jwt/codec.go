package jwt

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	gjwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// SigningMethod selects the access-token signature algorithm.
type SigningMethod string

const (
	// MethodEd25519 signs with an Ed25519 key pair (EdDSA).
	MethodEd25519 SigningMethod = "ed25519"
	// MethodHS256 signs with a shared HMAC-SHA256 secret.
	MethodHS256 SigningMethod = "hs256"
)

var (
	// ErrSignatureInvalid is returned when a token's content does not match its
	// signature, or the token is malformed or signed for another issuer/audience.
	ErrSignatureInvalid = errors.New("access token signature invalid")
	// ErrExpired is returned, together with the verified claims, when a token
	// carries a valid signature but now is past its expiry.
	ErrExpired = errors.New("access token expired")
)

// Config carries the process-wide signing material and token policy.
type Config struct {
	AccessTTL     time.Duration
	SigningMethod SigningMethod
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	MaxFutureIAT  time.Duration
	KeyID         string
	VerifyKeys    map[string][]byte
}

// Codec issues and verifies access tokens. It holds no mutable state and is safe
// for concurrent use.
type Codec struct {
	config Config
}

// AccessClaims is the signed claim set of an access token.
type AccessClaims struct {
	UID int64 `json:"uid"`
	gjwt.RegisteredClaims
}

// AccessToken is an issued, signed access token together with the claims it was
// built from. It is never persisted server-side.
type AccessToken struct {
	Value         string
	ID            string
	SubjectUserID int64
	IssuedAt      time.Time
	ExpiresAt     time.Time
}

// NewCodec validates cfg and returns a ready Codec.
func NewCodec(cfg Config) (*Codec, error) {
	if cfg.AccessTTL <= 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	if cfg.MaxFutureIAT == 0 {
		cfg.MaxFutureIAT = time.Minute
	}
	if cfg.MaxFutureIAT < 0 || cfg.MaxFutureIAT > 24*time.Hour {
		return nil, errors.New("invalid MaxFutureIAT configuration")
	}
	cfg.KeyID = strings.TrimSpace(cfg.KeyID)
	switch cfg.SigningMethod {
	case MethodHS256:
		if len(cfg.PrivateKey) == 0 {
			return nil, errors.New("hs256 requires private key")
		}
	case MethodEd25519:
		if len(cfg.PrivateKey) > 0 {
			if _, err := parseEdPrivateKey(cfg.PrivateKey); err != nil {
				return nil, err
			}
		}
		if len(cfg.PublicKey) > 0 {
			if _, err := parseEdPublicKey(cfg.PublicKey); err != nil {
				return nil, err
			}
		}
		if len(cfg.VerifyKeys) == 0 && len(cfg.PublicKey) == 0 {
			return nil, errors.New("ed25519 requires public key or verify key set")
		}
		for kid, key := range cfg.VerifyKeys {
			if strings.TrimSpace(kid) == "" {
				return nil, errors.New("verify key map contains empty kid")
			}
			if _, err := parseEdPublicKey(key); err != nil {
				return nil, fmt.Errorf("invalid ed25519 verify key for kid %q: %w", kid, err)
			}
		}
	default:
		return nil, errors.New("unsupported signing method")
	}
	if cfg.KeyID != "" && len(cfg.VerifyKeys) > 0 {
		if _, ok := cfg.VerifyKeys[cfg.KeyID]; !ok {
			return nil, errors.New("KeyID is not present in VerifyKeys")
		}
	}

	return &Codec{config: cfg}, nil
}

// AccessTTL reports the configured access-token lifetime.
func (c *Codec) AccessTTL() time.Duration {
	return c.config.AccessTTL
}

// Issue builds and signs an access token for subjectUserID with iat=now and
// exp=now+AccessTTL.
func (c *Codec) Issue(subjectUserID int64, now time.Time) (AccessToken, error) {
	if subjectUserID <= 0 {
		return AccessToken{}, errors.New("invalid subject user id")
	}

	claims := AccessClaims{
		UID: subjectUserID,
		RegisteredClaims: gjwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   strconv.FormatInt(subjectUserID, 10),
			Issuer:    c.config.Issuer,
			IssuedAt:  gjwt.NewNumericDate(now),
			ExpiresAt: gjwt.NewNumericDate(now.Add(c.config.AccessTTL)),
		},
	}
	if c.config.Audience != "" {
		claims.Audience = gjwt.ClaimStrings{c.config.Audience}
	}

	token := gjwt.NewWithClaims(c.method(), claims)
	if c.config.KeyID != "" {
		token.Header["kid"] = c.config.KeyID
	}

	signKey, err := c.signKey()
	if err != nil {
		return AccessToken{}, err
	}
	signed, err := token.SignedString(signKey)
	if err != nil {
		return AccessToken{}, err
	}

	return AccessToken{
		Value:         signed,
		ID:            claims.ID,
		SubjectUserID: subjectUserID,
		IssuedAt:      claims.IssuedAt.Time,
		ExpiresAt:     claims.ExpiresAt.Time,
	}, nil
}

// Verify checks tokenStr against the process key and the clock value now.
//
// On a valid signature with now past the expiry, Verify returns the claims AND
// [ErrExpired]. Any other failure returns nil claims and an error wrapping
// [ErrSignatureInvalid].
func (c *Codec) Verify(tokenStr string, now time.Time) (*AccessClaims, error) {
	parser := gjwt.NewParser(
		gjwt.WithValidMethods([]string{c.method().Alg()}),
		gjwt.WithoutClaimsValidation(),
	)

	claims := &AccessClaims{}
	token, err := parser.ParseWithClaims(tokenStr, claims, c.keyFunc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}
	if !token.Valid {
		return nil, ErrSignatureInvalid
	}

	if err := c.checkClaims(claims, now); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}

	if now.After(claims.ExpiresAt.Time) {
		return claims, ErrExpired
	}

	return claims, nil
}

func (c *Codec) checkClaims(claims *AccessClaims, now time.Time) error {
	if claims.ExpiresAt == nil {
		return errors.New("missing exp")
	}
	if claims.UID <= 0 {
		return errors.New("missing subject")
	}
	if claims.Subject != "" && claims.Subject != strconv.FormatInt(claims.UID, 10) {
		return errors.New("subject mismatch")
	}
	if c.config.Issuer != "" && claims.Issuer != c.config.Issuer {
		return errors.New("unexpected issuer")
	}
	if c.config.Audience != "" && !slices.Contains(claims.Audience, c.config.Audience) {
		return errors.New("unexpected audience")
	}
	if claims.IssuedAt != nil && c.config.MaxFutureIAT > 0 {
		if claims.IssuedAt.Time.After(now.Add(c.config.MaxFutureIAT)) {
			return errors.New("token iat too far in the future")
		}
	}
	return nil
}

func (c *Codec) keyFunc(t *gjwt.Token) (interface{}, error) {
	if t.Method.Alg() != c.method().Alg() {
		return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
	}

	if len(c.config.VerifyKeys) > 0 {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("missing kid")
		}
		key, ok := c.config.VerifyKeys[kid]
		if !ok {
			return nil, errors.New("unknown kid")
		}
		return c.keyBytesToVerifyKey(key)
	}

	if c.config.KeyID != "" {
		kid, _ := t.Header["kid"].(string)
		if kid != c.config.KeyID {
			return nil, errors.New("unknown kid")
		}
	}

	return c.verifyKey()
}

func (c *Codec) method() gjwt.SigningMethod {
	switch c.config.SigningMethod {
	case MethodHS256:
		return gjwt.SigningMethodHS256
	default:
		return gjwt.SigningMethodEdDSA
	}
}

func (c *Codec) signKey() (interface{}, error) {
	switch c.config.SigningMethod {
	case MethodHS256:
		return c.config.PrivateKey, nil
	default:
		return parseEdPrivateKey(c.config.PrivateKey)
	}
}

func (c *Codec) verifyKey() (interface{}, error) {
	switch c.config.SigningMethod {
	case MethodHS256:
		return c.config.PrivateKey, nil
	default:
		return parseEdPublicKey(c.config.PublicKey)
	}
}

func (c *Codec) keyBytesToVerifyKey(key []byte) (interface{}, error) {
	switch c.config.SigningMethod {
	case MethodHS256:
		return key, nil
	default:
		return parseEdPublicKey(key)
	}
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := gjwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 private key")
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("invalid ed25519 private key type")
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := gjwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("invalid ed25519 public key type")
	}
	return edKey, nil
}

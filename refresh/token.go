package refresh

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

const (
	userIDSize   = 8
	secretSize   = 32
	macSize      = sha256.Size
	bodySize     = userIDSize + secretSize
	tokenRawSize = bodySize + macSize

	// MinKeySize is the shortest MAC key NewCodec accepts.
	MinKeySize = 32
)

var (
	// ErrMalformed is returned when a presented value is not a structurally valid
	// refresh token.
	ErrMalformed = errors.New("malformed refresh token")
	// ErrInvalidMAC is returned when the value was not minted with this codec's
	// key. It wraps ErrMalformed.
	ErrInvalidMAC = fmt.Errorf("%w: invalid mac", ErrMalformed)
)

// Hash is the SHA-256 digest of a refresh-token value.
type Hash [32]byte

// Token is an issued refresh credential. Value is delivered to the client once and
// is never persisted server-side.
type Token struct {
	Value     string
	UserID    int64
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Codec mints and parses refresh values. The embedded user id is bound to the
// secret with an HMAC, so a client cannot name another subject.
type Codec struct {
	key []byte
}

// NewCodec returns a codec keyed with key, which must hold at least MinKeySize
// bytes. The key is copied.
func NewCodec(key []byte) (*Codec, error) {
	if len(key) < MinKeySize {
		return nil, fmt.Errorf("refresh mac key must be at least %d bytes", MinKeySize)
	}
	k := make([]byte, len(key))
	copy(k, key)
	return &Codec{key: k}, nil
}

// DeriveKey derives a MAC key from seed, for deployments that configure only a
// signing key.
func DeriveKey(seed []byte) []byte {
	m := hmac.New(sha256.New, seed)
	m.Write([]byte("authsession refresh mac v1"))
	return m.Sum(nil)
}

// New generates a fresh high-entropy token for userID valid for ttl from now.
func (c *Codec) New(userID int64, now time.Time, ttl time.Duration) (Token, error) {
	if userID <= 0 {
		return Token{}, errors.New("invalid user id")
	}
	if ttl <= 0 {
		return Token{}, errors.New("invalid refresh ttl")
	}

	var secret [secretSize]byte
	if _, err := rand.Read(secret[:]); err != nil {
		return Token{}, err
	}

	return Token{
		Value:     c.Encode(userID, secret),
		UserID:    userID,
		IssuedAt:  now,
		ExpiresAt: now.Add(ttl),
	}, nil
}

// Hash returns the digest stored server-side for t.
func (t Token) Hash() Hash {
	return HashValue(t.Value)
}

// Encode builds the wire value for userID and secret.
func (c *Codec) Encode(userID int64, secret [secretSize]byte) string {
	var raw [tokenRawSize]byte
	binary.BigEndian.PutUint64(raw[:userIDSize], uint64(userID))
	copy(raw[userIDSize:bodySize], secret[:])
	copy(raw[bodySize:], c.mac(raw[:bodySize]))
	return base64.RawURLEncoding.EncodeToString(raw[:])
}

// Decode authenticates value and splits it into the embedded user id and secret.
// The user id is only returned once the MAC has been checked.
func (c *Codec) Decode(value string) (int64, [secretSize]byte, error) {
	var secret [secretSize]byte

	raw, err := base64.RawURLEncoding.DecodeString(value)
	if err != nil {
		return 0, secret, ErrMalformed
	}
	if len(raw) != tokenRawSize {
		return 0, secret, ErrMalformed
	}
	if !hmac.Equal(raw[bodySize:], c.mac(raw[:bodySize])) {
		return 0, secret, ErrInvalidMAC
	}

	userID := int64(binary.BigEndian.Uint64(raw[:userIDSize]))
	if userID <= 0 {
		return 0, secret, ErrMalformed
	}
	copy(secret[:], raw[userIDSize:bodySize])

	return userID, secret, nil
}

// UserIDOf returns the authenticated subject encoded in value.
func (c *Codec) UserIDOf(value string) (int64, error) {
	userID, _, err := c.Decode(value)
	return userID, err
}

func (c *Codec) mac(body []byte) []byte {
	m := hmac.New(sha256.New, c.key)
	m.Write(body)
	return m.Sum(nil)
}

// HashValue digests a presented value. It never fails; malformed input simply
// produces a digest that matches nothing.
func HashValue(value string) Hash {
	return sha256.Sum256([]byte(value))
}

// Equal compares two digests in constant time.
func Equal(a, b Hash) bool {
	return subtle.ConstantTimeCompare(a[:], b[:]) == 1
}

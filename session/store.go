package session

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrNotFound is returned when the user has no active refresh record.
	ErrNotFound = errors.New("refresh record not found")
	// ErrRecordExpired is joined with ErrNotFound when the record exists but is past its expiry.
	ErrRecordExpired = errors.New("refresh record expired")
	// ErrHashMismatch is returned by Rotate when the presented digest differs from the
	// stored one. The stored record has already been deleted when this is returned.
	ErrHashMismatch = errors.New("refresh hash mismatch")
	// ErrRecordCorrupt is returned when the stored blob cannot be decoded.
	ErrRecordCorrupt = errors.New("refresh record corrupt")
	// ErrRedisUnavailable wraps every backend failure.
	ErrRedisUnavailable = errors.New("redis unavailable")
)

const (
	rotateStatusNotFound    int64 = 0
	rotateStatusExpired     int64 = 1
	rotateStatusMismatch    int64 = 2
	rotateStatusRotated     int64 = 3
	rotateStatusInvalidBlob int64 = 4
)

// Offsets are 1-based Lua string positions inside the Encode layout.
const rotateRefreshScript = `
local function read_be64(s, i)
  local n = 0
  for k = 0, 7 do
    local b = string.byte(s, i + k)
    if not b then
      return nil
    end
    n = n * 256 + b
  end
  return n
end

local key = KEYS[1]
local provided_hash = ARGV[1]
local next_blob = ARGV[2]
local now_unix = tonumber(ARGV[3])
local ttl_ms = tonumber(ARGV[4])

local data = redis.call("GET", key)
if not data then
  return {0}
end

if #data ~= 57 or string.byte(data, 1) ~= 1 then
  redis.call("DEL", key)
  return {4}
end

local stored_hash = string.sub(data, 10, 41)
local expires_at = read_be64(data, 50)
if not expires_at or expires_at <= now_unix then
  redis.call("DEL", key)
  return {1}
end

if stored_hash ~= provided_hash then
  redis.call("DEL", key)
  return {2}
end

redis.call("SET", key, next_blob, "PX", ttl_ms)
return {3}
`

var rotateRefreshLua = redis.NewScript(rotateRefreshScript)

// Store is a Redis-backed refresh-record store holding one key per user.
type Store struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

// Option customizes a [Store].
type Option func(*Store)

// WithClock overrides the time source used for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStore creates a [Store] backed by the given Redis client. prefix sets the
// key namespace.
func NewStore(client redis.UniversalClient, prefix string, opts ...Option) *Store {
	if prefix == "" {
		prefix = "rt"
	}
	s := &Store{
		redis:  client,
		prefix: prefix,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) key(userID int64) string {
	return s.prefix + ":" + strconv.FormatInt(userID, 10)
}

func (s *Store) replayKey(userID int64) string {
	return s.prefix + ":replay:" + strconv.FormatInt(userID, 10)
}

// Put stores rec as the user's only active record, replacing any previous one.
//
//	Performance: 1 Redis SET.
func (s *Store) Put(ctx context.Context, rec Record) error {
	data, err := Encode(&rec)
	if err != nil {
		return err
	}
	ttl := rec.ttl()
	if ttl <= 0 {
		return errors.New("refresh record already expired")
	}

	if err := s.redis.Set(ctx, s.key(rec.UserID), data, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Get returns the user's active record or ErrNotFound.
func (s *Store) Get(ctx context.Context, userID int64) (*Record, error) {
	data, err := s.redis.Get(ctx, s.key(userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	rec, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRecordCorrupt, err)
	}
	if rec.ExpiredAt(s.now()) {
		return nil, errors.Join(ErrNotFound, ErrRecordExpired)
	}
	return rec, nil
}

// Matches reports whether the user has an active record whose digest equals
// presented. It never mutates state.
func (s *Store) Matches(ctx context.Context, userID int64, presented [32]byte) (bool, error) {
	rec, err := s.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrRecordCorrupt) {
			return false, nil
		}
		return false, err
	}
	return subtle.ConstantTimeCompare(rec.Hash[:], presented[:]) == 1, nil
}

// Revoke deletes the user's record. Deleting a missing record is not an error.
func (s *Store) Revoke(ctx context.Context, userID int64) error {
	if err := s.redis.Del(ctx, s.key(userID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Rotate atomically replaces the user's record with next, provided the stored
// digest equals presented.
//
//	Performance: 1 Lua EVALSHA (atomic compare-and-swap).
//	Security: a mismatch deletes the stored record before returning ErrHashMismatch.
func (s *Store) Rotate(ctx context.Context, userID int64, presented [32]byte, next Record) error {
	if next.UserID != userID {
		return errors.New("rotation record belongs to another user")
	}
	blob, err := Encode(&next)
	if err != nil {
		return err
	}
	ttl := next.ttl()
	if ttl <= 0 {
		return errors.New("refresh record already expired")
	}

	result, err := rotateRefreshLua.Run(
		ctx,
		s.redis,
		[]string{s.key(userID)},
		presented[:],
		blob,
		next.IssuedAt,
		ttl.Milliseconds(),
	).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	parts, ok := result.([]interface{})
	if !ok || len(parts) == 0 {
		return fmt.Errorf("%w: invalid rotate script response", ErrRedisUnavailable)
	}
	code, ok := parts[0].(int64)
	if !ok {
		return fmt.Errorf("%w: invalid rotate script status", ErrRedisUnavailable)
	}

	switch code {
	case rotateStatusRotated:
		return nil
	case rotateStatusNotFound:
		return ErrNotFound
	case rotateStatusExpired:
		return errors.Join(ErrNotFound, ErrRecordExpired)
	case rotateStatusMismatch:
		return ErrHashMismatch
	case rotateStatusInvalidBlob:
		return errors.Join(ErrNotFound, ErrRecordCorrupt)
	default:
		return fmt.Errorf("%w: unknown rotate script status", ErrRedisUnavailable)
	}
}

// TrackReplayAnomaly increments the replay counter for a user. The counter
// expires ttl after the first increment.
func (s *Store) TrackReplayAnomaly(ctx context.Context, userID int64, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	key := s.replayKey(userID)
	count, err := s.redis.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count == 1 {
		if err := s.redis.Expire(ctx, key, ttl).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}
	return nil
}

// ReplayCount returns the current replay counter for a user.
func (s *Store) ReplayCount(ctx context.Context, userID int64) (int64, error) {
	n, err := s.redis.Get(ctx, s.replayKey(userID)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return n, nil
}

// Ping returns a point-in-time Redis availability check and latency.
func (s *Store) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return time.Since(start), fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return time.Since(start), nil
}

package authsession

import (
	"context"
	"io"
	"net/http"
	"time"

	internalaudit "github.com/statlane/authsession/internal/audit"
	"github.com/statlane/authsession/jwt"
	"github.com/statlane/authsession/session"
	"go.uber.org/zap"
)

// User is the identity aggregate resolved for a token subject. The
// authenticator holds it only for the duration of one request.
type User struct {
	ID       int64
	Nickname string
}

// UserLookup resolves a user id. Implementations return ErrUserNotFound (or
// a nil user) when the id has no backing user. It is read-only and must not
// cache in a way that hides nickname changes.
type UserLookup interface {
	UserByID(ctx context.Context, id int64) (*User, error)
}

// UserLookupFunc adapts a function to [UserLookup].
type UserLookupFunc func(ctx context.Context, id int64) (*User, error)

func (f UserLookupFunc) UserByID(ctx context.Context, id int64) (*User, error) {
	return f(ctx, id)
}

// RefreshTokenStore persists the single active refresh record per user.
// [session.Store] and [session.MemoryStore] implement it.
type RefreshTokenStore interface {
	Put(ctx context.Context, rec session.Record) error
	Get(ctx context.Context, userID int64) (*session.Record, error)
	Matches(ctx context.Context, userID int64, presented [32]byte) (bool, error)
	Revoke(ctx context.Context, userID int64) error
	Rotate(ctx context.Context, userID int64, presented [32]byte, next session.Record) error
}

// ReplayTracker is implemented by stores that count detected replays.
type ReplayTracker interface {
	TrackReplayAnomaly(ctx context.Context, userID int64, ttl time.Duration) error
}

// TokenPair is a freshly issued access/refresh pair ready for the response.
type TokenPair struct {
	AccessToken      string
	AccessTokenID    string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}

// Request carries the credentials presented by one inbound request.
type Request struct {
	// AccessToken is the raw bearer token, empty when absent.
	AccessToken string
	Cookies     []*http.Cookie
}

// RequestFromHTTP reads the bearer token and cookies of r.
func RequestFromHTTP(r *http.Request) Request {
	return Request{
		AccessToken: BearerToken(r.Header.Get("Authorization")),
		Cookies:     r.Cookies(),
	}
}

// State is the terminal position of one request in the authentication
// state machine.
type State uint8

const (
	StateUnauthenticated State = iota
	StateAccessValid
	StateAccessExpired
	StateRefreshed
	StateRejected
)

func (s State) String() string {
	switch s {
	case StateAccessValid:
		return "access_valid"
	case StateAccessExpired:
		return "access_expired"
	case StateRefreshed:
		return "refreshed"
	case StateRejected:
		return "rejected"
	default:
		return "unauthenticated"
	}
}

// AuthResult is returned by [Authenticator.Authenticate]. Tokens is set only
// when State is StateRefreshed, and the caller must deliver both tokens in
// the response.
type AuthResult struct {
	State  State
	UserID int64
	User   *User
	Claims *jwt.AccessClaims
	Tokens *TokenPair
}

// Authenticated reports whether the request may proceed.
func (r *AuthResult) Authenticated() bool {
	return r != nil && (r.State == StateAccessValid || r.State == StateRefreshed)
}

// AuditEvent is one audit record emitted by the authenticator.
type AuditEvent = internalaudit.Event

// AuditSink receives audit events.
type AuditSink = internalaudit.Sink

// NoOpSink discards audit events.
type NoOpSink = internalaudit.NoOpSink

// ChannelSink forwards audit events to a buffered channel.
type ChannelSink = internalaudit.ChannelSink

// JSONWriterSink writes audit events as JSON lines.
type JSONWriterSink = internalaudit.JSONWriterSink

// ZapSink writes audit events through a zap logger.
type ZapSink = internalaudit.ZapSink

func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}

func NewZapSink(log *zap.Logger) *ZapSink {
	return internalaudit.NewZapSink(log)
}

package flows

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/statlane/authsession/jwt"
	"github.com/statlane/authsession/refresh"
)

// AuthState is the per-request position in the authentication state machine.
type AuthState int

const (
	StateUnauthenticated AuthState = iota
	StateAccessValid
	StateAccessExpired
	StateRefreshed
	StateRejected
)

// AuthenticateFailureKind classifies authenticate flow failures for root-level mapping.
type AuthenticateFailureKind int

const (
	AuthenticateFailureNone AuthenticateFailureKind = iota
	AuthenticateFailureSignature
	AuthenticateFailureRefreshMissing
	AuthenticateFailureRateLimited
	AuthenticateFailureMismatch
	AuthenticateFailureUserNotFound
	AuthenticateFailureStore
	AuthenticateFailureLookup
	AuthenticateFailureIssue
)

// AuthUser is the flow-local view of a resolved user.
type AuthUser struct {
	ID       int64
	Nickname string
}

// IssuedPair is a freshly minted access/refresh pair.
type IssuedPair struct {
	Access  jwt.AccessToken
	Refresh refresh.Token
}

// AuthenticateInput is the credential material carried by one request.
type AuthenticateInput struct {
	AccessToken string
	Cookies     []*http.Cookie
}

// AuthenticateResult carries the terminal state plus failure metadata.
type AuthenticateResult struct {
	State   AuthState
	Failure AuthenticateFailureKind
	Err     error
	UserID  int64
	Claims  *jwt.AccessClaims
	User    *AuthUser
	Pair    *IssuedPair
	// AccessPresented is false when the request carried no access token at all.
	AccessPresented bool
	// Revoked is true when the stored refresh record was cleared as part of the rejection.
	Revoked bool
}

type AuthenticateStore interface {
	Matches(ctx context.Context, userID int64, presented [32]byte) (bool, error)
	Revoke(ctx context.Context, userID int64) error
}

// AuthenticateDeps captures authenticate flow dependencies.
type AuthenticateDeps struct {
	Now            func() time.Time
	VerifyAccess   func(token string, now time.Time) (*jwt.AccessClaims, error)
	ExtractRefresh func(cookies []*http.Cookie) (string, error)
	// RefreshSubject must authenticate the value before naming a subject. An
	// error leaves the request without a subject, so nothing is throttled,
	// revoked or tracked.
	RefreshSubject func(value string) (int64, error)
	HashRefresh    func(value string) [32]byte
	// CheckRefreshRate is optional.
	CheckRefreshRate func(ctx context.Context, userID int64) error
	Store            AuthenticateStore
	// LookupUser returns (nil, nil) when the user does not exist.
	LookupUser     func(ctx context.Context, userID int64) (*AuthUser, error)
	IsUserNotFound func(error) bool
	Rotate         func(ctx context.Context, user AuthUser, presented [32]byte, now time.Time) (*IssuedPair, error)
	// IsRotateConflict reports a compare-and-swap loss inside Rotate.
	IsRotateConflict func(error) bool
	// TrackReplay is optional and best-effort.
	TrackReplay func(ctx context.Context, userID int64)
}

// RunAuthenticate drives one request through
// Unauthenticated -> AccessValid | AccessExpired -> Refreshed | Rejected.
// Nothing is retried; every rejection is terminal for the request.
func RunAuthenticate(ctx context.Context, in AuthenticateInput, deps AuthenticateDeps) AuthenticateResult {
	now := deps.Now()
	accessPresented := in.AccessToken != ""

	var subject int64
	if accessPresented {
		claims, err := deps.VerifyAccess(in.AccessToken, now)
		switch {
		case err == nil:
			return AuthenticateResult{
				State:           StateAccessValid,
				UserID:          claims.UID,
				Claims:          claims,
				AccessPresented: true,
			}
		case errors.Is(err, jwt.ErrExpired) && claims != nil:
			subject = claims.UID
		default:
			return AuthenticateResult{
				State:           StateRejected,
				Failure:         AuthenticateFailureSignature,
				Err:             err,
				AccessPresented: true,
			}
		}
	}

	rejected := func(kind AuthenticateFailureKind, err error, userID int64) AuthenticateResult {
		return AuthenticateResult{
			State:           StateRejected,
			Failure:         kind,
			Err:             err,
			UserID:          userID,
			AccessPresented: accessPresented,
		}
	}

	presented, err := deps.ExtractRefresh(in.Cookies)
	if err != nil {
		return rejected(AuthenticateFailureRefreshMissing, err, subject)
	}

	if subject == 0 {
		uid, err := deps.RefreshSubject(presented)
		if err != nil {
			// Unsigned or forged values name nobody; touching the embedded id
			// would let any client revoke any user.
			return rejected(AuthenticateFailureMismatch, err, 0)
		}
		subject = uid
	}

	if deps.CheckRefreshRate != nil {
		if err := deps.CheckRefreshRate(ctx, subject); err != nil {
			return rejected(AuthenticateFailureRateLimited, err, subject)
		}
	}

	presentedHash := deps.HashRefresh(presented)
	ok, err := deps.Store.Matches(ctx, subject, presentedHash)
	if err != nil {
		return rejected(AuthenticateFailureStore, err, subject)
	}
	if !ok {
		res := rejected(AuthenticateFailureMismatch, nil, subject)
		if err := deps.Store.Revoke(ctx, subject); err != nil {
			res.Err = err
		} else {
			res.Revoked = true
		}
		if deps.TrackReplay != nil {
			deps.TrackReplay(ctx, subject)
		}
		return res
	}

	user, err := deps.LookupUser(ctx, subject)
	if err != nil {
		if deps.IsUserNotFound != nil && deps.IsUserNotFound(err) {
			return rejected(AuthenticateFailureUserNotFound, err, subject)
		}
		return rejected(AuthenticateFailureLookup, err, subject)
	}
	if user == nil {
		return rejected(AuthenticateFailureUserNotFound, nil, subject)
	}

	pair, err := deps.Rotate(ctx, *user, presentedHash, now)
	if err != nil {
		if deps.IsRotateConflict != nil && deps.IsRotateConflict(err) {
			res := rejected(AuthenticateFailureMismatch, err, subject)
			res.Revoked = true
			if deps.TrackReplay != nil {
				deps.TrackReplay(ctx, subject)
			}
			return res
		}
		return rejected(AuthenticateFailureIssue, err, subject)
	}

	return AuthenticateResult{
		State:           StateRefreshed,
		UserID:          subject,
		User:            user,
		Pair:            pair,
		AccessPresented: accessPresented,
	}
}

package authsession

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/statlane/authsession/internal/flows"
	"github.com/statlane/authsession/jwt"
	"github.com/statlane/authsession/refresh"
	"github.com/statlane/authsession/session"
)

// TokenIssuer mints access/refresh pairs. It is the only writer of refresh
// state: login goes through IssueFor, every rotation through Rotate.
type TokenIssuer struct {
	codec      *jwt.Codec
	values     *refresh.Codec
	store      RefreshTokenStore
	refreshTTL time.Duration
}

// NewTokenIssuer wires the access and refresh codecs and the store.
// refreshTTL bounds the lifetime of every refresh token it mints.
func NewTokenIssuer(codec *jwt.Codec, values *refresh.Codec, store RefreshTokenStore, refreshTTL time.Duration) (*TokenIssuer, error) {
	if codec == nil {
		return nil, errors.New("token codec required")
	}
	if values == nil {
		return nil, errors.New("refresh codec required")
	}
	if store == nil {
		return nil, errors.New("refresh token store required")
	}
	if refreshTTL <= 0 {
		return nil, errors.New("refresh TTL must be > 0")
	}
	return &TokenIssuer{codec: codec, values: values, store: store, refreshTTL: refreshTTL}, nil
}

// IssueFor mints a new pair for user and replaces any stored refresh token.
// The previous refresh token stops matching as soon as this returns.
func (i *TokenIssuer) IssueFor(ctx context.Context, user User, now time.Time) (*TokenPair, error) {
	pair, err := i.issue(ctx, user.ID, now)
	if err != nil {
		return nil, err
	}
	return pairFromIssued(pair), nil
}

// Rotate mints a new pair for user and swaps it in only if presented is the
// digest of the active refresh token. A lost swap yields
// ErrRefreshTokenMismatch and leaves no active token for the user.
//
// The access token is signed before the store is touched, so a signing
// failure never consumes the presented refresh token.
func (i *TokenIssuer) Rotate(ctx context.Context, user User, presented [32]byte, now time.Time) (*TokenPair, error) {
	pair, err := i.rotate(ctx, user.ID, presented, now)
	if err != nil {
		return nil, err
	}
	return pairFromIssued(pair), nil
}

func (i *TokenIssuer) mint(userID int64, now time.Time) (*flows.IssuedPair, error) {
	access, err := i.codec.Issue(userID, now)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenIssue, err)
	}
	rt, err := i.values.New(userID, now, i.refreshTTL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenIssue, err)
	}
	return &flows.IssuedPair{Access: access, Refresh: rt}, nil
}

func (i *TokenIssuer) issue(ctx context.Context, userID int64, now time.Time) (*flows.IssuedPair, error) {
	pair, err := i.mint(userID, now)
	if err != nil {
		return nil, err
	}

	rec := session.NewRecord(userID, pair.Refresh.Hash(), pair.Refresh.IssuedAt, pair.Refresh.ExpiresAt)
	if err := i.store.Put(ctx, rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return pair, nil
}

func (i *TokenIssuer) rotate(ctx context.Context, userID int64, presented [32]byte, now time.Time) (*flows.IssuedPair, error) {
	pair, err := i.mint(userID, now)
	if err != nil {
		return nil, err
	}

	next := session.NewRecord(userID, pair.Refresh.Hash(), pair.Refresh.IssuedAt, pair.Refresh.ExpiresAt)
	if err := i.store.Rotate(ctx, userID, presented, next); err != nil {
		switch {
		case errors.Is(err, session.ErrHashMismatch), errors.Is(err, session.ErrNotFound):
			return nil, newAuthError(KindRefreshMismatch, userID, err)
		default:
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	}
	return pair, nil
}

func pairFromIssued(p *flows.IssuedPair) *TokenPair {
	if p == nil {
		return nil
	}
	return &TokenPair{
		AccessToken:      p.Access.Value,
		AccessTokenID:    p.Access.ID,
		AccessExpiresAt:  p.Access.ExpiresAt,
		RefreshToken:     p.Refresh.Value,
		RefreshExpiresAt: p.Refresh.ExpiresAt,
	}
}

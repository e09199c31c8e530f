package flows

import (
	"context"
	"time"
)

// LoginDeps captures login issuance dependencies. Identity proof happens before
// this flow runs.
type LoginDeps struct {
	Now            func() time.Time
	LookupUser     func(ctx context.Context, userID int64) (*AuthUser, error)
	IsUserNotFound func(error) bool
	Issue          func(ctx context.Context, user AuthUser, now time.Time) (*IssuedPair, error)
	UserNotFound   error
}

type LoginResult struct {
	User *AuthUser
	Pair *IssuedPair
	// NotFound distinguishes a missing user from an issuance failure.
	NotFound bool
	Err      error
}

func RunLogin(ctx context.Context, userID int64, deps LoginDeps) LoginResult {
	user, err := deps.LookupUser(ctx, userID)
	if err != nil {
		if deps.IsUserNotFound != nil && deps.IsUserNotFound(err) {
			return LoginResult{NotFound: true, Err: err}
		}
		return LoginResult{Err: err}
	}
	if user == nil {
		return LoginResult{NotFound: true, Err: deps.UserNotFound}
	}

	pair, err := deps.Issue(ctx, *user, deps.Now())
	if err != nil {
		return LoginResult{User: user, Err: err}
	}
	return LoginResult{User: user, Pair: pair}
}

package flows

import "context"

type LogoutStore interface {
	Matches(ctx context.Context, userID int64, presented [32]byte) (bool, error)
	Revoke(ctx context.Context, userID int64) error
}

// LogoutDeps captures logout flow dependencies.
type LogoutDeps struct {
	// RefreshSubject must authenticate the value; see AuthenticateDeps.
	RefreshSubject func(value string) (int64, error)
	HashRefresh    func(value string) [32]byte
	Store          LogoutStore
}

type LogoutByRefreshResult struct {
	UserID int64
	// Mismatch is set when the presented value was not the active one. The record is
	// revoked either way.
	Mismatch bool
	Err      error
}

func RunLogout(ctx context.Context, userID int64, deps LogoutDeps) error {
	return deps.Store.Revoke(ctx, userID)
}

func RunLogoutByRefreshToken(ctx context.Context, value string, deps LogoutDeps) LogoutByRefreshResult {
	userID, err := deps.RefreshSubject(value)
	if err != nil {
		return LogoutByRefreshResult{Mismatch: true, Err: err}
	}

	ok, err := deps.Store.Matches(ctx, userID, deps.HashRefresh(value))
	if err != nil {
		return LogoutByRefreshResult{UserID: userID, Err: err}
	}

	if err := deps.Store.Revoke(ctx, userID); err != nil {
		return LogoutByRefreshResult{UserID: userID, Mismatch: !ok, Err: err}
	}
	return LogoutByRefreshResult{UserID: userID, Mismatch: !ok}
}

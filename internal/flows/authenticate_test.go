package flows

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/statlane/authsession/jwt"
)

var errTestNotFound = errors.New("not found")

type fakeStore struct {
	matches  bool
	err      error
	revoked  []int64
	matchErr error
}

func (s *fakeStore) Matches(context.Context, int64, [32]byte) (bool, error) {
	return s.matches, s.matchErr
}

func (s *fakeStore) Revoke(_ context.Context, userID int64) error {
	s.revoked = append(s.revoked, userID)
	return s.err
}

type depsRecorder struct {
	store        *fakeStore
	rotateCalled bool
	replays      int
}

func newTestDeps(r *depsRecorder) AuthenticateDeps {
	now := time.Unix(1_700_000_000, 0)
	return AuthenticateDeps{
		Now: func() time.Time { return now },
		VerifyAccess: func(token string, _ time.Time) (*jwt.AccessClaims, error) {
			switch token {
			case "valid":
				return &jwt.AccessClaims{UID: 7}, nil
			case "expired":
				return &jwt.AccessClaims{UID: 7}, jwt.ErrExpired
			default:
				return nil, jwt.ErrSignatureInvalid
			}
		},
		ExtractRefresh: func(cookies []*http.Cookie) (string, error) {
			for _, c := range cookies {
				if c.Name == "rt" && c.Value != "" {
					return c.Value, nil
				}
			}
			return "", errors.New("missing")
		},
		RefreshSubject: func(v string) (int64, error) {
			if v == "garbage" {
				return 0, errors.New("malformed")
			}
			return 7, nil
		},
		HashRefresh: func(string) [32]byte { return [32]byte{1} },
		Store:       r.store,
		LookupUser: func(_ context.Context, id int64) (*AuthUser, error) {
			if id != 7 {
				return nil, errTestNotFound
			}
			return &AuthUser{ID: 7, Nickname: "ada"}, nil
		},
		IsUserNotFound: func(err error) bool { return errors.Is(err, errTestNotFound) },
		Rotate: func(_ context.Context, user AuthUser, _ [32]byte, _ time.Time) (*IssuedPair, error) {
			r.rotateCalled = true
			return &IssuedPair{Access: jwt.AccessToken{SubjectUserID: user.ID}}, nil
		},
		IsRotateConflict: func(error) bool { return false },
		TrackReplay:      func(context.Context, int64) { r.replays++ },
	}
}

func refreshCookie(v string) []*http.Cookie {
	return []*http.Cookie{{Name: "rt", Value: v}}
}

func TestRunAuthenticateAccessValid(t *testing.T) {
	r := &depsRecorder{store: &fakeStore{}}
	res := RunAuthenticate(context.Background(), AuthenticateInput{AccessToken: "valid"}, newTestDeps(r))
	if res.State != StateAccessValid || res.UserID != 7 {
		t.Fatalf("unexpected result %+v", res)
	}
	if r.rotateCalled {
		t.Fatal("valid access token must not trigger rotation")
	}
}

func TestRunAuthenticateSignatureInvalidSkipsRefresh(t *testing.T) {
	r := &depsRecorder{store: &fakeStore{matches: true}}
	res := RunAuthenticate(context.Background(), AuthenticateInput{
		AccessToken: "forged",
		Cookies:     refreshCookie("value"),
	}, newTestDeps(r))

	if res.State != StateRejected || res.Failure != AuthenticateFailureSignature {
		t.Fatalf("unexpected result %+v", res)
	}
	if r.rotateCalled || len(r.store.revoked) != 0 {
		t.Fatal("signature failure must not touch refresh state")
	}
}

func TestRunAuthenticateExpiredRefreshes(t *testing.T) {
	r := &depsRecorder{store: &fakeStore{matches: true}}
	res := RunAuthenticate(context.Background(), AuthenticateInput{
		AccessToken: "expired",
		Cookies:     refreshCookie("value"),
	}, newTestDeps(r))

	if res.State != StateRefreshed || res.Pair == nil || res.User == nil {
		t.Fatalf("unexpected result %+v", res)
	}
	if !res.AccessPresented {
		t.Fatal("expected AccessPresented")
	}
}

func TestRunAuthenticateNoCredentials(t *testing.T) {
	r := &depsRecorder{store: &fakeStore{}}
	deps := newTestDeps(r)
	for i := 0; i < 2; i++ {
		res := RunAuthenticate(context.Background(), AuthenticateInput{}, deps)
		if res.Failure != AuthenticateFailureRefreshMissing {
			t.Fatalf("attempt %d: expected refresh missing, got %+v", i, res)
		}
		if res.AccessPresented {
			t.Fatal("AccessPresented must be false")
		}
	}
}

func TestRunAuthenticateMismatchRevokes(t *testing.T) {
	r := &depsRecorder{store: &fakeStore{matches: false}}
	res := RunAuthenticate(context.Background(), AuthenticateInput{
		AccessToken: "expired",
		Cookies:     refreshCookie("stale"),
	}, newTestDeps(r))

	if res.Failure != AuthenticateFailureMismatch || !res.Revoked {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(r.store.revoked) != 1 || r.store.revoked[0] != 7 {
		t.Fatalf("expected revoke of user 7, got %v", r.store.revoked)
	}
	if r.replays != 1 {
		t.Fatalf("expected replay tracking, got %d", r.replays)
	}
	if r.rotateCalled {
		t.Fatal("mismatch must not rotate")
	}
}

func TestRunAuthenticateUndecodableRefresh(t *testing.T) {
	r := &depsRecorder{store: &fakeStore{matches: true}}
	res := RunAuthenticate(context.Background(), AuthenticateInput{Cookies: refreshCookie("garbage")}, newTestDeps(r))
	if res.Failure != AuthenticateFailureMismatch {
		t.Fatalf("expected mismatch, got %+v", res)
	}
	if len(r.store.revoked) != 0 {
		t.Fatal("no subject means nothing to revoke")
	}
}

func TestRunAuthenticateUnverifiedSubjectIsNeverTouched(t *testing.T) {
	r := &depsRecorder{store: &fakeStore{matches: false}}
	deps := newTestDeps(r)
	rateChecked := false
	deps.CheckRefreshRate = func(context.Context, int64) error {
		rateChecked = true
		return nil
	}

	res := RunAuthenticate(context.Background(), AuthenticateInput{Cookies: refreshCookie("garbage")}, deps)
	if res.Failure != AuthenticateFailureMismatch || res.Revoked || res.UserID != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
	if rateChecked {
		t.Fatal("rate budget must not be spent on an unverified subject")
	}
	if len(r.store.revoked) != 0 || r.replays != 0 {
		t.Fatalf("unverified subject touched: revoked=%v replays=%d", r.store.revoked, r.replays)
	}
}

func TestRunAuthenticateUserNotFound(t *testing.T) {
	r := &depsRecorder{store: &fakeStore{matches: true}}
	deps := newTestDeps(r)
	deps.RefreshSubject = func(string) (int64, error) { return 99, nil }

	res := RunAuthenticate(context.Background(), AuthenticateInput{Cookies: refreshCookie("v")}, deps)
	if res.Failure != AuthenticateFailureUserNotFound || res.UserID != 99 {
		t.Fatalf("unexpected result %+v", res)
	}
	if r.rotateCalled {
		t.Fatal("unknown user must not rotate")
	}
}

func TestRunAuthenticateRateLimited(t *testing.T) {
	r := &depsRecorder{store: &fakeStore{matches: true}}
	deps := newTestDeps(r)
	limited := errors.New("limited")
	deps.CheckRefreshRate = func(context.Context, int64) error { return limited }

	res := RunAuthenticate(context.Background(), AuthenticateInput{Cookies: refreshCookie("v")}, deps)
	if res.Failure != AuthenticateFailureRateLimited || !errors.Is(res.Err, limited) {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestRunAuthenticateStoreError(t *testing.T) {
	down := errors.New("down")
	r := &depsRecorder{store: &fakeStore{matchErr: down}}
	res := RunAuthenticate(context.Background(), AuthenticateInput{Cookies: refreshCookie("v")}, newTestDeps(r))
	if res.Failure != AuthenticateFailureStore || !errors.Is(res.Err, down) {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(r.store.revoked) != 0 {
		t.Fatal("store outage must not be treated as mismatch")
	}
}

func TestRunAuthenticateRotateConflict(t *testing.T) {
	r := &depsRecorder{store: &fakeStore{matches: true}}
	conflict := errors.New("cas lost")
	deps := newTestDeps(r)
	deps.Rotate = func(context.Context, AuthUser, [32]byte, time.Time) (*IssuedPair, error) {
		return nil, conflict
	}
	deps.IsRotateConflict = func(err error) bool { return errors.Is(err, conflict) }

	res := RunAuthenticate(context.Background(), AuthenticateInput{Cookies: refreshCookie("v")}, deps)
	if res.Failure != AuthenticateFailureMismatch || !res.Revoked {
		t.Fatalf("unexpected result %+v", res)
	}
	if r.replays != 1 {
		t.Fatalf("expected replay tracking on CAS loss, got %d", r.replays)
	}
}

func TestRunLogoutByRefreshToken(t *testing.T) {
	store := &fakeStore{matches: false}
	deps := LogoutDeps{
		RefreshSubject: func(string) (int64, error) { return 3, nil },
		HashRefresh:    func(string) [32]byte { return [32]byte{} },
		Store:          store,
	}

	res := RunLogoutByRefreshToken(context.Background(), "stale", deps)
	if !res.Mismatch || res.UserID != 3 || res.Err != nil {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(store.revoked) != 1 {
		t.Fatal("logout must revoke even on mismatch")
	}
}

func TestRunLogoutByUnverifiedRefreshTokenRevokesNothing(t *testing.T) {
	store := &fakeStore{matches: true}
	deps := LogoutDeps{
		RefreshSubject: func(string) (int64, error) { return 0, errors.New("invalid mac") },
		HashRefresh:    func(string) [32]byte { return [32]byte{} },
		Store:          store,
	}

	res := RunLogoutByRefreshToken(context.Background(), "forged", deps)
	if !res.Mismatch || res.UserID != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(store.revoked) != 0 {
		t.Fatalf("unverified value revoked %v", store.revoked)
	}
}

func TestRunLoginUserMissing(t *testing.T) {
	sentinel := errors.New("user not found")
	res := RunLogin(context.Background(), 1, LoginDeps{
		Now:          time.Now,
		LookupUser:   func(context.Context, int64) (*AuthUser, error) { return nil, nil },
		UserNotFound: sentinel,
		Issue: func(context.Context, AuthUser, time.Time) (*IssuedPair, error) {
			t.Fatal("issue must not run for a missing user")
			return nil, nil
		},
	})
	if !res.NotFound || !errors.Is(res.Err, sentinel) {
		t.Fatalf("unexpected result %+v", res)
	}
}

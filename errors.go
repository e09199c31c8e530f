package authsession

import (
	"errors"
	"strconv"
)

// Kind enumerates the closed set of authentication failures.
type Kind uint8

const (
	// KindExpired is an access token past its expiry. It is the only
	// recoverable kind: the authenticator falls through to refresh.
	KindExpired Kind = iota + 1
	// KindSignatureInvalid covers any token whose content does not verify.
	KindSignatureInvalid
	// KindRefreshNotFound is a refresh attempt without the refresh cookie.
	KindRefreshNotFound
	// KindRefreshMismatch is a presented refresh value that is not the active one.
	KindRefreshMismatch
	// KindUserNotFound is a verified subject without a backing user.
	KindUserNotFound
)

func (k Kind) String() string {
	switch k {
	case KindExpired:
		return "expired"
	case KindSignatureInvalid:
		return "signature_invalid"
	case KindRefreshNotFound:
		return "refresh_not_found"
	case KindRefreshMismatch:
		return "refresh_mismatch"
	case KindUserNotFound:
		return "user_not_found"
	default:
		return "unknown"
	}
}

var (
	// ErrExpiredToken is returned when an access token is past its expiry.
	ErrExpiredToken = errors.New("access token expired")
	// ErrInvalidSignature is returned when a token does not verify.
	ErrInvalidSignature = errors.New("token signature invalid")
	// ErrRefreshTokenNotFound is returned when the refresh cookie is absent or empty.
	ErrRefreshTokenNotFound = errors.New("refresh token not found")
	// ErrRefreshTokenMismatch is returned when the presented refresh token is not
	// the active one for the user. The stored token is revoked.
	ErrRefreshTokenMismatch = errors.New("refresh token mismatch")
	// ErrUserNotFound is returned when the token subject has no backing user.
	ErrUserNotFound = errors.New("user not found")

	// ErrProjectNotFound and ErrReviewNotFound are domain lookup failures.
	// They are never produced by, or mapped to, authentication.
	ErrProjectNotFound = errors.New("project not found")
	ErrReviewNotFound  = errors.New("review not found")

	ErrStoreUnavailable   = errors.New("refresh token store unavailable")
	ErrRefreshRateLimited = errors.New("refresh rate limited")
	ErrNotReady           = errors.New("authenticator not initialized")
	ErrTokenIssue         = errors.New("token issuance failed")
)

var kindSentinels = map[Kind]error{
	KindExpired:          ErrExpiredToken,
	KindSignatureInvalid: ErrInvalidSignature,
	KindRefreshNotFound:  ErrRefreshTokenNotFound,
	KindRefreshMismatch:  ErrRefreshTokenMismatch,
	KindUserNotFound:     ErrUserNotFound,
}

// AuthError is the tagged authentication failure. errors.Is matches both the
// kind sentinel and the wrapped cause.
type AuthError struct {
	Kind   Kind
	UserID int64
	Err    error
}

func newAuthError(kind Kind, userID int64, cause error) *AuthError {
	return &AuthError{Kind: kind, UserID: userID, Err: cause}
}

func (e *AuthError) Error() string {
	msg := "authsession: " + e.Kind.String()
	if s, ok := kindSentinels[e.Kind]; ok {
		msg = s.Error()
	}
	if e.UserID != 0 {
		msg += " (user " + strconv.FormatInt(e.UserID, 10) + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

func (e *AuthError) Is(target error) bool {
	s, ok := kindSentinels[e.Kind]
	return ok && s == target
}

// KindOf extracts the failure kind from err, or 0 when err is not an
// authentication failure.
func KindOf(err error) Kind {
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return 0
}

// RequiresReauthentication reports whether err is a fatal authentication
// failure. All such failures map to the same external outcome.
func RequiresReauthentication(err error) bool {
	switch KindOf(err) {
	case KindSignatureInvalid, KindRefreshNotFound, KindRefreshMismatch, KindUserNotFound:
		return true
	default:
		return false
	}
}

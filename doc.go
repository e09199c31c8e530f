// Package authsession keeps an end user's session alive with a short-lived
// signed access token and a long-lived refresh token delivered in an HttpOnly
// cookie.
//
// [Authenticator] is the entry point. Build it once with [New] and the With*
// builder methods, then call [Authenticator.Authenticate] per request. An
// expired access token is not a failure by itself: the refresh cookie is
// checked against the single stored refresh token of the user and, if it
// matches, both tokens are rotated atomically.
//
// # Architecture boundaries
//
// authsession is the public surface. It exposes [Authenticator], [Builder],
// [TokenIssuer], [Config] and value types. The request state machine lives in
// internal/flows; token encoding lives in jwt/ and refresh/; refresh state
// lives in session/. HTTP adapters are in middleware/ and the Postgres user
// lookup is in userstore/.
//
// # What this package must NOT do
//
//   - Accept an access token once its expiry has passed, whatever its signature.
//   - Store raw refresh token values; only their SHA-256 digest is persisted.
//   - Retry a rejected request or fold distinct failure kinds together before
//     they reach logs, metrics and audit events.
//   - Map domain lookups such as [ErrProjectNotFound] to authentication failures.
package authsession

// Package middleware adapts [authsession.Authenticator] to net/http and gin.
//
// # Guards
//
//   - [Guard]: full session check. An expired access token is refreshed from
//     the refresh cookie and the rotated pair is written to the response.
//   - [RequireAccessOnly]: access token only, never touches refresh state.
//   - [GinGuard]: [Guard] for gin routers.
//
// [RefreshHandler] and [LogoutHandler] serve the cookie-only endpoints
// mounted under the refresh cookie path.
//
// The refresh fallback of [Guard] and [GinGuard] only works for routes under
// the cookie path, since the browser sends the refresh cookie nowhere else.
// Mount refresh-capable routes there, or widen CookieConfig.Path.
//
// Every rejection that requires re-authentication maps to 401 with the same
// body, whatever the underlying kind. Store failures map to 503 and the
// refresh throttle to 429.
//
// # What this package must NOT do
//
//   - Parse or sign tokens directly.
//   - Access Redis.
//   - Decide authentication outcomes beyond mapping them to HTTP.
package middleware

// Package httpapi mounts the /auth routes of an authcore.Engine on a
// net/http ServeMux.
//
// Guards run in a fixed order on every route that has them: rate limit, then
// CSRF, then access-token verification. Bearer tokens only ever travel in
// cookies; JSON bodies carry the user profile and the CSRF token.
package httpapi

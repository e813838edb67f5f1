// Package authcore provides cookie-based session authentication: short-lived
// HS256 access tokens, refresh tokens with optional rotation, double-submit
// style CSRF tokens and a shared fixed-window rate limiter.
//
// Engine methods are safe to call from multiple goroutines after
// initialization through [Builder.Build].
//
// # Architecture boundaries
//
// authcore is the public surface. It exposes [Engine], [Builder], [Config] and
// value types ([SessionResult], [Profile], [Principal]). Token encoding lives in
// token, CSRF tokens in csrf, cookie handling in cookie and password hashing in
// password. Counter-store access (rate limiting and refresh token revocation)
// lives under internal/ and is never exported.
//
// # Counter store ownership
//
// The redis client passed to [Builder.WithRedis] is borrowed. The engine
// attaches a passive error observer to it and never connects, reconnects or
// closes it; [Engine.Close] only flushes the audit dispatcher.
//
// # Performance contract
//
// Authenticate is the hot path and performs no store round trip. Login,
// Refresh and Register perform at most two counter-store round trips plus the
// user store calls they need.
package authcore

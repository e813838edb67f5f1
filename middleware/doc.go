// Package middleware adapts an authcore.Engine to net/http.
//
// # Guards
//
//   - [RateLimit]: counts the attempt in the shared store and rejects over-budget callers.
//   - [CSRF]: requires a valid X-CSRF-Token header on state-changing methods.
//   - [Authenticate]: verifies the access token and stores the [authcore.Principal].
//
// Guards are applied in exactly that order: a request rejected by the rate
// limiter never reaches CSRF validation or token verification.
//
// # Request context
//
//   - [RequestID] assigns a ULID request id (or keeps a sane incoming one).
//   - [ClientContext] records the caller address and user agent for audit.
//   - [AccessLog] writes one zap entry per request.
//
// # What this package must NOT do
//
//   - Parse or sign tokens directly (delegates to the Engine).
//   - Access the counter store (the Engine owns that I/O).
package middleware

// Package csrf issues and validates stateless anti-forgery tokens.
//
// A token has three dot-separated fields: 32 random bytes in hex, the issue time
// in Unix milliseconds, and the hex HMAC-SHA256 of "random.timestamp" under the
// configured secret. Validation recomputes the MAC from the token itself; no
// server-side state is kept.
package csrf

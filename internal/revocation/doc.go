// Package revocation records refresh token IDs that may no longer be exchanged.
//
// Entries expire with the token they describe, so the set never outgrows the
// number of live refresh tokens. Like the rate limiter, the store client is
// borrowed and never closed here.
package revocation

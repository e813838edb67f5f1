// Package token issues and verifies the signed access and refresh credentials.
//
// Both kinds are HS256 JWTs signed with distinct keys. The kind is carried in the
// signed payload (claim "knd") and checked on every verification, so a refresh token
// is never accepted where an access token is expected and vice versa.
//
// Verification fails closed: every failure surfaces as [ErrInvalid]. The concrete
// reason is available through [InvalidError] for server-side audit logging only.
package token

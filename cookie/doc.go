// Package cookie moves access and refresh credentials between HTTP messages and
// the auth core.
//
// Credentials are written as HttpOnly, SameSite=Strict cookies whose Max-Age equals
// the credential lifetime. Access tokens are read cookie-first with an
// "Authorization: Bearer" fallback for non-browser clients.
package cookie

// Package httpx holds the JSON response helpers shared by the middleware and
// the HTTP API: error taxonomy to status mapping, no-cache headers and client
// address extraction.
package httpx

// Package app assembles the auth server: logger, counter store, user store,
// engine and HTTP routes, and owns their shutdown order.
package app
